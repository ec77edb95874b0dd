package transcribe

import (
	"strings"
	"time"
)

// Segment is one unit of transcription output. Partial segments exist only
// to drive live display; only final segments belong in a transcript.
type Segment struct {
	Text      string    `json:"text"`
	IsFinal   bool      `json:"is_final"`
	Timestamp time.Time `json:"timestamp"`
}

// UtteranceBuffer accumulates finalized text across multiple is_final
// results until the engine signals the utterance is complete.
type UtteranceBuffer struct {
	parts []string
}

func NewUtteranceBuffer() *UtteranceBuffer {
	return &UtteranceBuffer{}
}

// Add appends one finalized piece of text to the buffer.
func (b *UtteranceBuffer) Add(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	b.parts = append(b.parts, text)
}

// Flush returns the accumulated utterance and resets the buffer. Returns
// the empty string if nothing accumulated.
func (b *UtteranceBuffer) Flush() string {
	if len(b.parts) == 0 {
		return ""
	}
	out := strings.Join(b.parts, " ")
	b.parts = nil
	return out
}

// Len returns the number of buffered pieces.
func (b *UtteranceBuffer) Len() int {
	return len(b.parts)
}
