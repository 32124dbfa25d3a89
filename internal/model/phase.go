package model

// Phase is one state of the multi-step reply pipeline.
//
// drafting, questioning and polishing are nominal pipeline stages (in
// single-pass mode polishing is the only nominal stage). thinking is an
// overlay that may interrupt any nominal stage while the model emits
// reasoning tokens. complete is terminal.
type Phase string

const (
	PhaseDrafting    Phase = "drafting"
	PhaseThinking    Phase = "thinking"
	PhaseQuestioning Phase = "questioning"
	PhasePolishing   Phase = "polishing"
	PhaseComplete    Phase = "complete"
)

// Valid reports whether p is a member of the closed phase set.
func (p Phase) Valid() bool {
	switch p {
	case PhaseDrafting, PhaseThinking, PhaseQuestioning, PhasePolishing, PhaseComplete:
		return true
	}
	return false
}

// Nominal reports whether p is a nominal pipeline stage, as opposed to the
// thinking overlay or the terminal state.
func (p Phase) Nominal() bool {
	switch p {
	case PhaseDrafting, PhaseQuestioning, PhasePolishing:
		return true
	}
	return false
}

// Terminal reports whether p is the terminal state.
func (p Phase) Terminal() bool {
	return p == PhaseComplete
}

// PipelinePhases returns the ordered nominal stages for a reply.
func PipelinePhases(pipelineMode bool) []Phase {
	if pipelineMode {
		return []Phase{PhaseDrafting, PhaseQuestioning, PhasePolishing}
	}
	return []Phase{PhasePolishing}
}
