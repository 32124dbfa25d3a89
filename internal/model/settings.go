package model

// Settings carries the generation parameters consumed by the reply
// pipeline. The pipeline reads them but never mutates them.
type Settings struct {
	Username       string  `json:"username"`
	APIKey         string  `json:"api_key"`
	Model          string  `json:"model"`
	SystemPrompt   string  `json:"system_prompt"`
	FollowUpPrompt string  `json:"follow_up_prompt"`
	Temperature    float64 `json:"temperature"`

	// EnablePipeline selects the three-stage draft/critique/polish reply
	// pipeline; when false every reply is a single polishing pass.
	EnablePipeline bool `json:"enable_pipeline"`

	RecommendedQuestions []string `json:"recommended_questions"`
}

// SettingsPatch is a partial update applied to the stored settings.
type SettingsPatch struct {
	Username             *string  `json:"username,omitempty"`
	APIKey               *string  `json:"api_key,omitempty"`
	Model                *string  `json:"model,omitempty"`
	SystemPrompt         *string  `json:"system_prompt,omitempty"`
	FollowUpPrompt       *string  `json:"follow_up_prompt,omitempty"`
	Temperature          *float64 `json:"temperature,omitempty"`
	EnablePipeline       *bool    `json:"enable_pipeline,omitempty"`
	RecommendedQuestions []string `json:"recommended_questions,omitempty"`
}

const defaultSystemPrompt = `You are an insightful AI assistant. When answering:
1. Think deeply about the essence of the question
2. Offer unique and valuable perspectives
3. Express yourself in clear, concise language
4. Use Markdown formatting where it helps`

const defaultFollowUpPrompt = `Based on the conversation so far, generate three short follow-up questions:
1. One that challenges your answer and invites reflection
2. One that digs deeper into a specific point
3. One related question from a different angle

Output only the three questions, one per line, with no numbering or extra text.`

var defaultRecommendedQuestions = []string{
	"Give me one thing worth pausing to think about for a minute today.",
	"Share an idea that could widen my perspective, on any topic.",
	"Tell me an insight that would make me say \"I never thought of it that way\".",
	"Offer a reminder that would do me good to hear right now.",
	"Give me a small spark that might change how I think for the next few hours.",
	"Show me a more interesting way of thinking about something, at random.",
	"Give me a thought that nudges me gently in an unknown direction.",
	"Tell me a small truth you think I most need to know right now.",
	"Sketch a low-cost product idea for me, any domain.",
}

// DefaultSettings returns the settings a fresh installation starts with.
func DefaultSettings() Settings {
	return Settings{
		Username:             "",
		APIKey:               "",
		Model:                "anthropic/claude-3.5-sonnet",
		SystemPrompt:         defaultSystemPrompt,
		FollowUpPrompt:       defaultFollowUpPrompt,
		Temperature:          0.7,
		EnablePipeline:       true,
		RecommendedQuestions: defaultRecommendedQuestions,
	}
}
