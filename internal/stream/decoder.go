// Package stream decodes the line-oriented generation wire format.
//
// The generation service responds with a byte stream of newline-delimited
// frames. Each frame starts with a two-character marker:
//
//	0:<json-string>  content delta
//	g:<opaque-json>  reasoning signal
//
// Chunks arrive at producer-controlled boundaries and may split a frame (or
// a multi-byte character) anywhere, so a partial trailing line is buffered
// and completed by the next chunk before it is parsed.
package stream

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
)

// FrameKind classifies a decoded frame.
type FrameKind int

const (
	// FrameContent is a content delta carrying decoded text.
	FrameContent FrameKind = iota
	// FrameReasoning signals that the model is emitting reasoning tokens.
	// Its payload is not interpreted.
	FrameReasoning
)

// Frame is one decoded unit of the generation stream.
type Frame struct {
	Kind FrameKind
	Text string
}

// Decoder turns a response body into an ordered sequence of frames.
// One Decoder is used per HTTP response; it keeps no state across responses.
type Decoder struct {
	r   *bufio.Reader
	eof bool
}

// NewDecoder creates a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Next returns the next frame in arrival order. It returns io.EOF once the
// underlying stream is exhausted. Lines with an unknown marker, and content
// frames whose payload fails to decode, are skipped silently.
func (d *Decoder) Next() (Frame, error) {
	for {
		if d.eof {
			return Frame{}, io.EOF
		}

		line, err := d.r.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				return Frame{}, err
			}
			// A final frame may arrive without a trailing newline; parse
			// whatever was buffered before reporting EOF.
			d.eof = true
			if line == "" {
				return Frame{}, io.EOF
			}
		}

		frame, ok := parseLine(strings.TrimSuffix(line, "\n"))
		if ok {
			return frame, nil
		}
	}
}

func parseLine(line string) (Frame, bool) {
	if len(line) < 2 {
		return Frame{}, false
	}
	switch line[:2] {
	case "0:":
		var text string
		if err := json.Unmarshal([]byte(line[2:]), &text); err != nil {
			return Frame{}, false
		}
		return Frame{Kind: FrameContent, Text: text}, true
	case "g:":
		return Frame{Kind: FrameReasoning}, true
	}
	return Frame{}, false
}
