// Package pipeline turns decoded audio frames into transcript text and
// periodic insight extraction, with idempotent, replayable state.
package pipeline

import (
	"context"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"interviewhelper/internal/analysis"
	"interviewhelper/internal/message"
	"interviewhelper/internal/transcribe"
)

// Frame is one decoded audio frame from the peer transport.
type Frame []byte

// Transcriber is the streaming transcription collaborator. It yields a
// lazy, unbounded sequence of partial and final segments.
type Transcriber interface {
	WriteFrame(frame []byte) error
	Segments() <-chan transcribe.Segment
	Close() error
}

// Analyzer is the reasoning collaborator.
type Analyzer interface {
	Analyze(ctx context.Context, transcript string) ([]analysis.Insight, error)
}

// Sender delivers outbound messages for this session.
type Sender interface {
	Send(m message.Message) error
}

// Persister mirrors state changes into durable storage so catch-up
// survives process restarts. May be nil for in-memory operation.
type Persister interface {
	AppendTranscript(projectID, text string, ts time.Time) error
	UpsertInsight(projectID string, row message.AnalysisRow) error
	DismissInsight(projectID, analysisID string) error
}

// Config holds pipeline tunables. The analysis cadence is a policy, not a
// correctness requirement.
type Config struct {
	FrameQueueSize        int
	AnalysisMinChars      int
	AnalysisMinInterval   time.Duration
	AnalysisTimeout       time.Duration
	TranscriptWindowBytes int
}

func (c *Config) applyDefaults() {
	if c.FrameQueueSize <= 0 {
		c.FrameQueueSize = 512
	}
	if c.AnalysisMinChars <= 0 {
		c.AnalysisMinChars = 200
	}
	if c.AnalysisMinInterval <= 0 {
		c.AnalysisMinInterval = 15 * time.Second
	}
	if c.AnalysisTimeout <= 0 {
		c.AnalysisTimeout = 60 * time.Second
	}
	if c.TranscriptWindowBytes <= 0 {
		c.TranscriptWindowBytes = 32 * 1024
	}
}

// Pipeline owns one session's transcript and insight state. All state
// mutation happens under mu; no blocking collaborator call is made while
// it is held.
type Pipeline struct {
	cfg         Config
	projectID   string
	sender      Sender
	transcriber Transcriber
	analyzer    Analyzer
	store       Persister

	frames  chan Frame
	dropped atomic.Uint64

	audioActive atomic.Bool

	mu           sync.Mutex
	segments     []string
	insights     map[string]*message.AnalysisRow
	insightOrder []string
	pendingChars int
	lastAnalysis time.Time
	analysisBusy bool

	now func() time.Time
}

func New(projectID string, sender Sender, transcriber Transcriber, analyzer Analyzer, store Persister, cfg Config) *Pipeline {
	cfg.applyDefaults()
	return &Pipeline{
		cfg:         cfg,
		projectID:   projectID,
		sender:      sender,
		transcriber: transcriber,
		analyzer:    analyzer,
		store:       store,
		frames:      make(chan Frame, cfg.FrameQueueSize),
		insights:    make(map[string]*message.AnalysisRow),
		now:         time.Now,
	}
}

// Run consumes frames and transcription segments until ctx is cancelled.
// It blocks; the session manager runs it as one of the session's tasks.
func (p *Pipeline) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		p.frameLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		p.segmentLoop(ctx)
	}()
	wg.Wait()
}

// SetAudioActive gates frame consumption. Signaling turns it on when the
// peer transport reports connected and off on disconnect/failure.
func (p *Pipeline) SetAudioActive(active bool) {
	p.audioActive.Store(active)
}

// IngestFrame places a frame into the bounded queue without ever blocking
// the caller. When the queue is full the oldest frame is dropped so live
// behavior wins over completeness.
func (p *Pipeline) IngestFrame(f Frame) {
	select {
	case p.frames <- f:
		return
	default:
	}

	// Queue full: evict the oldest frame and retry once.
	select {
	case <-p.frames:
	default:
	}

	n := p.dropped.Add(1)
	if n%100 == 0 {
		log.Printf("pipeline: dropped %d audio frames (project %s)", n, p.projectID)
	}

	select {
	case p.frames <- f:
	default:
	}
}

func (p *Pipeline) frameLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-p.frames:
			if !p.audioActive.Load() {
				continue
			}
			if err := p.transcriber.WriteFrame(f); err != nil {
				log.Printf("pipeline: transcriber write: %v", err)
			}
		}
	}
}

func (p *Pipeline) segmentLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case seg, ok := <-p.transcriber.Segments():
			if !ok {
				return
			}
			p.handleSegment(ctx, seg)
		}
	}
}

func (p *Pipeline) handleSegment(ctx context.Context, seg transcribe.Segment) {
	text := strings.TrimSpace(seg.Text)
	if text == "" {
		return
	}

	if !seg.IsFinal {
		// Partial segments drive live display only; never persisted.
		if err := p.sender.Send(message.NewTranscription(text, true)); err != nil {
			log.Printf("pipeline: send partial transcription: %v", err)
		}
		return
	}

	p.mu.Lock()
	p.segments = append(p.segments, text)
	p.pendingChars += len(text)
	trigger := p.shouldAnalyzeLocked()
	window := ""
	consumed := 0
	if trigger {
		p.analysisBusy = true
		p.lastAnalysis = p.now()
		consumed = p.pendingChars
		p.pendingChars = 0
		window = p.transcriptWindowLocked()
	}
	p.mu.Unlock()

	if err := p.sender.Send(message.NewTranscription(text, false)); err != nil {
		log.Printf("pipeline: send transcription: %v", err)
	}

	if p.store != nil {
		if err := p.store.AppendTranscript(p.projectID, text, seg.Timestamp); err != nil {
			log.Printf("pipeline: persist transcript segment: %v", err)
		}
	}

	if trigger {
		go p.runAnalysis(ctx, window, consumed)
	}
}

// shouldAnalyzeLocked applies the cadence policy: enough new finalized
// text and a minimum spacing between cycles. Caller holds mu.
func (p *Pipeline) shouldAnalyzeLocked() bool {
	if p.analysisBusy {
		return false
	}
	if p.pendingChars < p.cfg.AnalysisMinChars {
		return false
	}
	return p.now().Sub(p.lastAnalysis) >= p.cfg.AnalysisMinInterval
}

// transcriptWindowLocked returns a bounded trailing window of the
// transcript to cap reasoning cost. Caller holds mu.
func (p *Pipeline) transcriptWindowLocked() string {
	full := strings.Join(p.segments, " ")
	if len(full) <= p.cfg.TranscriptWindowBytes {
		return full
	}
	return full[len(full)-p.cfg.TranscriptWindowBytes:]
}

func (p *Pipeline) runAnalysis(ctx context.Context, window string, consumed int) {
	defer func() {
		p.mu.Lock()
		p.analysisBusy = false
		p.mu.Unlock()
	}()

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.AnalysisTimeout)
	defer cancel()

	insights, err := p.analyzer.Analyze(callCtx, window)
	if err != nil {
		// Skip this cycle; restoring the counter lets the next segment
		// trigger a retry.
		log.Printf("pipeline: analysis cycle failed: %v", err)
		p.mu.Lock()
		p.pendingChars += consumed
		p.mu.Unlock()
		return
	}
	if len(insights) == 0 {
		return
	}

	p.mu.Lock()
	for _, in := range insights {
		p.applyInsightLocked(in)
	}
	rows := p.insightRowsLocked()
	p.mu.Unlock()

	if p.store != nil {
		for _, row := range rows {
			if err := p.store.UpsertInsight(p.projectID, row); err != nil {
				log.Printf("pipeline: persist insight %s: %v", row.AnalysisID, err)
			}
		}
	}

	if err := p.sender.Send(message.NewAIResult(rows)); err != nil {
		log.Printf("pipeline: send ai_result: %v", err)
	}
}

// applyInsightLocked upserts one insight by stable id. A recurring id is a
// replacement, not a duplicate; the dismissed flag is user state and
// survives replacement. Caller holds mu.
func (p *Pipeline) applyInsightLocked(in analysis.Insight) {
	id := in.ID
	if id == "" {
		// No provider id: reuse the id of an existing row with the same
		// text so retries stay idempotent, otherwise mint one.
		for _, row := range p.insights {
			if row.Text == in.Text {
				id = row.AnalysisID
				break
			}
		}
		if id == "" {
			id = uuid.NewString()
		}
	}

	if row, ok := p.insights[id]; ok {
		row.Text = in.Text
		row.Span = in.Span
		return
	}

	row := &message.AnalysisRow{AnalysisID: id, Text: in.Text, Span: in.Span}
	p.insights[id] = row
	p.insightOrder = append(p.insightOrder, id)
}

// Dismiss flags an insight as dismissed. Unknown ids are ignored; the row
// may have been superseded.
func (p *Pipeline) Dismiss(analysisID string) {
	p.mu.Lock()
	row, ok := p.insights[analysisID]
	if ok {
		row.IsDismissed = true
	}
	p.mu.Unlock()

	if !ok {
		return
	}
	if p.store != nil {
		if err := p.store.DismissInsight(p.projectID, analysisID); err != nil {
			log.Printf("pipeline: persist dismissal %s: %v", analysisID, err)
		}
	}
}

// Seed merges prior project state (from storage or an earlier session)
// into the pipeline. Merge is by analysis_id, so applying the same payload
// twice leaves exactly one row per id with the latest content.
func (p *Pipeline) Seed(transcript string, rows []message.AnalysisRow) {
	p.mu.Lock()
	defer p.mu.Unlock()

	transcript = strings.TrimSpace(transcript)
	if transcript != "" && len(p.segments) == 0 {
		p.segments = append(p.segments, transcript)
	}

	for _, in := range rows {
		if existing, ok := p.insights[in.AnalysisID]; ok {
			existing.Text = in.Text
			existing.Span = in.Span
			existing.IsDismissed = existing.IsDismissed || in.IsDismissed
			continue
		}
		row := in
		p.insights[in.AnalysisID] = &row
		p.insightOrder = append(p.insightOrder, in.AnalysisID)
	}
}

// Snapshot returns a consistent point-in-time view of the transcript and
// the full insight set, dismissed rows included.
func (p *Pipeline) Snapshot() (string, []message.AnalysisRow) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return strings.Join(p.segments, " "), p.insightRowsLocked()
}

// SendCatchup replays the current state to the client. Safe to apply more
// than once on the receiving side.
func (p *Pipeline) SendCatchup() error {
	transcript, rows := p.Snapshot()
	return p.sender.Send(message.NewCatchup(transcript, rows))
}

// insightRowsLocked copies the insight set in first-seen order. Caller
// holds mu.
func (p *Pipeline) insightRowsLocked() []message.AnalysisRow {
	rows := make([]message.AnalysisRow, 0, len(p.insightOrder))
	for _, id := range p.insightOrder {
		rows = append(rows, *p.insights[id])
	}
	return rows
}

// DroppedFrames reports how many frames were evicted from the queue.
func (p *Pipeline) DroppedFrames() uint64 {
	return p.dropped.Load()
}

// Close releases the transcription stream. Idempotent via the
// transcriber's own close handling.
func (p *Pipeline) Close() {
	if err := p.transcriber.Close(); err != nil {
		log.Printf("pipeline: close transcriber: %v", err)
	}
}
