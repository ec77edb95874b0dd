package message

import (
	"encoding/json"
	"fmt"
	"time"
)

// Wire tags for the closed message union. The tag determines routing;
// anything else is rejected at decode time.
const (
	TagOffer             = "offer"
	TagAnswer            = "answer"
	TagICECandidate      = "ice_candidate"
	TagPing              = "ping"
	TagPong              = "pong"
	TagTranscription     = "transcription"
	TagAIResult          = "ai_result"
	TagCatchup           = "catchup"
	TagProjectMetadata   = "project_metadata"
	TagDismissAIAnalysis = "dismiss_ai_analysis"
	TagError             = "error"
)

// Message is one member of the closed wire union. Values are immutable
// once constructed.
type Message interface {
	Tag() string
}

// Envelope is the single-field wrapper every wire frame uses:
// {"message": {"type": <tag>, ...}}.
type Envelope struct {
	Message Message `json:"message"`
}

// AnalysisRow is one insight from the reasoning service, keyed by a stable
// server-assigned id. Dismissal is a flag, not removal, so catch-up replay
// stays idempotent.
type AnalysisRow struct {
	AnalysisID  string `json:"analysis_id"`
	Text        string `json:"text"`
	Span        string `json:"span,omitempty"`
	IsDismissed bool   `json:"is_dismissed"`
}

// SDP carries a session description for offer/answer signaling.
type SDP struct {
	SDP  string `json:"sdp"`
	Type string `json:"type"`
}

// ICECandidateData mirrors the browser's RTCIceCandidate JSON shape.
type ICECandidateData struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex"`
}

type Offer struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      struct {
		SDP SDP `json:"sdp"`
	} `json:"data"`
}

func (Offer) Tag() string { return TagOffer }

type Answer struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      struct {
		SDP SDP `json:"sdp"`
	} `json:"data"`
}

func (Answer) Tag() string { return TagAnswer }

// NewAnswer builds an answer message from a local session description.
func NewAnswer(sdp string) Answer {
	var m Answer
	m.Type = TagAnswer
	m.Timestamp = time.Now().UTC()
	m.Data.SDP = SDP{SDP: sdp, Type: "answer"}
	return m
}

type ICECandidate struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      struct {
		Candidate ICECandidateData `json:"candidate"`
	} `json:"data"`
}

func (ICECandidate) Tag() string { return TagICECandidate }

type Ping struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

func (Ping) Tag() string { return TagPing }

type Pong struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

func (Pong) Tag() string { return TagPong }

// NewPong is the liveness reply to an inbound ping; it echoes the ping's
// timestamp so the client can measure round-trip time.
func NewPong(ts time.Time) Pong {
	return Pong{Type: TagPong, Timestamp: ts}
}

type Transcription struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Text      string    `json:"text"`
	IsPartial bool      `json:"is_partial"`
}

func (Transcription) Tag() string { return TagTranscription }

// NewTranscription builds a transcription message. Partial segments drive
// live display only and are never part of the session transcript.
func NewTranscription(text string, partial bool) Transcription {
	return Transcription{
		Type:      TagTranscription,
		Timestamp: time.Now().UTC(),
		Text:      text,
		IsPartial: partial,
	}
}

type AIResult struct {
	Type      string        `json:"type"`
	Timestamp time.Time     `json:"timestamp"`
	Insights  []AnalysisRow `json:"insights"`
}

func (AIResult) Tag() string { return TagAIResult }

// NewAIResult carries the full current insight set; clients merge by
// analysis_id.
func NewAIResult(insights []AnalysisRow) AIResult {
	return AIResult{
		Type:      TagAIResult,
		Timestamp: time.Now().UTC(),
		Insights:  insights,
	}
}

type Catchup struct {
	Type       string        `json:"type"`
	Timestamp  time.Time     `json:"timestamp"`
	Transcript string        `json:"transcript"`
	Insights   []AnalysisRow `json:"insights"`
}

func (Catchup) Tag() string { return TagCatchup }

// NewCatchup replays accumulated state to a (re)connecting client. The
// insight set includes dismissed rows so the client can render them.
func NewCatchup(transcript string, insights []AnalysisRow) Catchup {
	return Catchup{
		Type:       TagCatchup,
		Timestamp:  time.Now().UTC(),
		Transcript: transcript,
		Insights:   insights,
	}
}

type ProjectMetadata struct {
	Type        string    `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	ProjectID   string    `json:"project_id"`
	ProjectName string    `json:"project_name"`
}

func (ProjectMetadata) Tag() string { return TagProjectMetadata }

func NewProjectMetadata(projectID, projectName string) ProjectMetadata {
	return ProjectMetadata{
		Type:        TagProjectMetadata,
		Timestamp:   time.Now().UTC(),
		ProjectID:   projectID,
		ProjectName: projectName,
	}
}

type DismissAIAnalysis struct {
	Type       string `json:"type"`
	AnalysisID string `json:"analysis_id"`
}

func (DismissAIAnalysis) Tag() string { return TagDismissAIAnalysis }

// Error is outbound only; inbound error frames are rejected as unknown.
type Error struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	ErrorCode string    `json:"error_code"`
	Message   string    `json:"message"`
}

func (Error) Tag() string { return TagError }

func NewError(code, msg string) Error {
	return Error{
		Type:      TagError,
		Timestamp: time.Now().UTC(),
		ErrorCode: code,
		Message:   msg,
	}
}

// Encode wraps a message in the wire envelope.
func Encode(m Message) ([]byte, error) {
	payload, err := json.Marshal(Envelope{Message: m})
	if err != nil {
		return nil, fmt.Errorf("encode %s message: %w", m.Tag(), err)
	}
	return payload, nil
}

// Decode parses a wire frame into its typed message. Unknown tags fail with
// ErrUnknownTag; malformed frames fail with a wrapped unmarshal error.
func Decode(raw []byte) (Message, error) {
	var env struct {
		Message json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if len(env.Message) == 0 {
		return nil, fmt.Errorf("decode envelope: %w", ErrEmptyEnvelope)
	}

	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(env.Message, &head); err != nil {
		return nil, fmt.Errorf("decode message tag: %w", err)
	}

	switch head.Type {
	case TagOffer:
		return unmarshalAs[Offer](env.Message, head.Type)
	case TagAnswer:
		return unmarshalAs[Answer](env.Message, head.Type)
	case TagICECandidate:
		return unmarshalAs[ICECandidate](env.Message, head.Type)
	case TagPing:
		return unmarshalAs[Ping](env.Message, head.Type)
	case TagPong:
		return unmarshalAs[Pong](env.Message, head.Type)
	case TagTranscription:
		return unmarshalAs[Transcription](env.Message, head.Type)
	case TagAIResult:
		return unmarshalAs[AIResult](env.Message, head.Type)
	case TagCatchup:
		return unmarshalAs[Catchup](env.Message, head.Type)
	case TagProjectMetadata:
		return unmarshalAs[ProjectMetadata](env.Message, head.Type)
	case TagDismissAIAnalysis:
		return unmarshalAs[DismissAIAnalysis](env.Message, head.Type)
	default:
		return nil, fmt.Errorf("tag %q: %w", head.Type, ErrUnknownTag)
	}
}

func unmarshalAs[T Message](raw []byte, tag string) (Message, error) {
	var m T
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode %s message: %w", tag, err)
	}
	return m, nil
}
