package transcribe

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
)

const segmentBuffer = 64

// DeepgramOptions configures the live transcription stream.
type DeepgramOptions struct {
	APIKey     string
	Model      string
	Language   string
	Encoding   string
	SampleRate int
	Channels   int
}

func (o *DeepgramOptions) applyDefaults() {
	if o.Model == "" {
		o.Model = "nova-2"
	}
	if o.Language == "" {
		o.Language = "en-US"
	}
	if o.Encoding == "" {
		o.Encoding = "opus"
	}
	if o.SampleRate == 0 {
		o.SampleRate = 48000
	}
	if o.Channels == 0 {
		o.Channels = 1
	}
}

// Deepgram streams audio to the Deepgram live API and yields partial and
// final segments on a channel. One instance serves one session.
type Deepgram struct {
	writer io.Writer
	stop   func()

	// mu guards closed against the SDK's callback goroutine; the segment
	// channel itself is never closed because a callback may still be in
	// flight when Close runs.
	mu       sync.Mutex
	closed   bool
	segments chan Segment
}

// NewDeepgram connects a live transcription stream. The returned
// transcriber is ready to accept frames via WriteFrame.
func NewDeepgram(ctx context.Context, opts DeepgramOptions) (*Deepgram, error) {
	opts.applyDefaults()

	d := &Deepgram{segments: make(chan Segment, segmentBuffer)}

	cOptions := &interfaces.ClientOptions{APIKey: opts.APIKey, EnableKeepAlive: true}
	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:       opts.Model,
		Language:    opts.Language,
		Punctuate:   true,
		SmartFormat: true,
		Encoding:    opts.Encoding,
		SampleRate:  opts.SampleRate,
		Channels:    opts.Channels,
	}

	dgClient, err := client.NewWSUsingCallback(ctx, "", cOptions, tOptions, &deepgramCallback{out: d})
	if err != nil {
		return nil, fmt.Errorf("create deepgram client: %w", err)
	}
	if ok := dgClient.Connect(); !ok {
		return nil, fmt.Errorf("deepgram connect failed")
	}

	d.writer = dgClient
	d.stop = func() { dgClient.Stop() }
	return d, nil
}

// WriteFrame forwards one audio frame to the transcription stream.
func (d *Deepgram) WriteFrame(frame []byte) error {
	if _, err := d.writer.Write(frame); err != nil {
		return fmt.Errorf("write audio frame: %w", err)
	}
	return nil
}

// Segments yields partial and final transcription results as they arrive.
// The channel stays open for the transcriber's lifetime; consumers stop
// via their own context.
func (d *Deepgram) Segments() <-chan Segment {
	return d.segments
}

// Close stops the stream. Safe to call more than once.
func (d *Deepgram) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	if d.stop != nil {
		d.stop()
	}
	return nil
}

// emit delivers a segment without blocking the Deepgram callback. If the
// consumer is saturated the segment is dropped and logged; after Close
// segments are silently discarded.
func (d *Deepgram) emit(seg Segment) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	select {
	case d.segments <- seg:
	default:
		log.Printf("transcribe: segment channel full, dropped %q", seg.Text)
	}
}

// deepgramCallback adapts Deepgram's event callbacks to the segment
// channel. Finalized pieces buffer until speech_final or utterance end.
type deepgramCallback struct {
	mu     sync.Mutex
	buffer UtteranceBuffer
	out    *Deepgram
}

func (c *deepgramCallback) Message(mr *api.MessageResponse) error {
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	text := mr.Channel.Alternatives[0].Transcript
	if text == "" {
		return nil
	}

	if !mr.IsFinal {
		c.out.emit(Segment{Text: text, IsFinal: false, Timestamp: time.Now().UTC()})
		return nil
	}

	c.mu.Lock()
	c.buffer.Add(text)
	flush := ""
	if mr.SpeechFinal {
		flush = c.buffer.Flush()
	}
	c.mu.Unlock()

	if flush != "" {
		c.out.emit(Segment{Text: flush, IsFinal: true, Timestamp: time.Now().UTC()})
	}
	return nil
}

func (c *deepgramCallback) UtteranceEnd(*api.UtteranceEndResponse) error {
	c.mu.Lock()
	flush := c.buffer.Flush()
	c.mu.Unlock()

	if flush != "" {
		c.out.emit(Segment{Text: flush, IsFinal: true, Timestamp: time.Now().UTC()})
	}
	return nil
}

func (c *deepgramCallback) Open(*api.OpenResponse) error {
	log.Println("transcribe: connected to Deepgram")
	return nil
}

func (c *deepgramCallback) Close(*api.CloseResponse) error {
	log.Println("transcribe: disconnected from Deepgram")
	return nil
}

func (c *deepgramCallback) Error(er *api.ErrorResponse) error {
	log.Printf("transcribe: deepgram error %s: %s", er.ErrCode, er.Description)
	return nil
}

func (c *deepgramCallback) Metadata(*api.MetadataResponse) error { return nil }

func (c *deepgramCallback) SpeechStarted(*api.SpeechStartedResponse) error { return nil }

func (c *deepgramCallback) UnhandledEvent([]byte) error { return nil }
