package transcribe

import "testing"

func TestUtteranceBufferAccumulates(t *testing.T) {
	var b UtteranceBuffer

	b.Add("hello there,")
	b.Add("  how are you  ")
	b.Add("")

	if b.Len() != 2 {
		t.Fatalf("expected 2 buffered pieces, got %d", b.Len())
	}

	got := b.Flush()
	want := "hello there, how are you"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestUtteranceBufferFlushResets(t *testing.T) {
	var b UtteranceBuffer

	b.Add("first utterance")
	if got := b.Flush(); got != "first utterance" {
		t.Fatalf("unexpected flush: %q", got)
	}

	if got := b.Flush(); got != "" {
		t.Fatalf("expected empty flush after reset, got %q", got)
	}
	if b.Len() != 0 {
		t.Fatalf("expected empty buffer, got %d pieces", b.Len())
	}

	b.Add("second utterance")
	if got := b.Flush(); got != "second utterance" {
		t.Fatalf("expected buffer usable after flush, got %q", got)
	}
}

func TestUtteranceBufferEmptyFlush(t *testing.T) {
	b := NewUtteranceBuffer()
	if got := b.Flush(); got != "" {
		t.Fatalf("expected empty string, got %q", got)
	}
}
