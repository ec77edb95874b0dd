package storage

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"interviewhelper/internal/message"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestProjectCRUD(t *testing.T) {
	store := newTestStore(t)

	if err := store.CreateProject("proj-1", "Hiring Loop", "user-1"); err != nil {
		t.Fatalf("CreateProject failed: %v", err)
	}

	p, err := store.GetProject("proj-1")
	if err != nil {
		t.Fatalf("GetProject failed: %v", err)
	}
	if p.Name != "Hiring Loop" || p.OwnerID != "user-1" {
		t.Fatalf("unexpected project: %+v", p)
	}
	if p.CreatedAt.IsZero() {
		t.Fatal("expected created_at to be set")
	}

	if _, err := store.GetProject("missing"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows for missing project, got %v", err)
	}

	if err := store.CreateProject("proj-2", "Second", "user-1"); err != nil {
		t.Fatalf("CreateProject failed: %v", err)
	}
	projects, err := store.ListProjects()
	if err != nil {
		t.Fatalf("ListProjects failed: %v", err)
	}
	if len(projects) != 2 {
		t.Fatalf("expected 2 projects, got %d", len(projects))
	}
}

func TestCreateProjectValidation(t *testing.T) {
	store := newTestStore(t)

	if err := store.CreateProject("", "name", ""); err == nil {
		t.Fatal("expected error for empty id")
	}
	if err := store.CreateProject("id", "  ", ""); err == nil {
		t.Fatal("expected error for empty name")
	}
	if err := store.CreateProject("dup", "name", ""); err != nil {
		t.Fatalf("CreateProject failed: %v", err)
	}
	if err := store.CreateProject("dup", "name", ""); err == nil {
		t.Fatal("expected error for duplicate id")
	}
}

func TestTranscriptAppendAndSnapshot(t *testing.T) {
	store := newTestStore(t)
	if err := store.CreateProject("proj-1", "P", ""); err != nil {
		t.Fatalf("CreateProject failed: %v", err)
	}

	now := time.Now().UTC()
	if err := store.AppendTranscript("proj-1", "first sentence.", now); err != nil {
		t.Fatalf("AppendTranscript failed: %v", err)
	}
	if err := store.AppendTranscript("proj-1", "  second sentence.  ", now.Add(time.Second)); err != nil {
		t.Fatalf("AppendTranscript failed: %v", err)
	}

	transcript, insights, err := store.ProjectSnapshot("proj-1")
	if err != nil {
		t.Fatalf("ProjectSnapshot failed: %v", err)
	}
	if transcript != "first sentence. second sentence." {
		t.Fatalf("unexpected transcript: %q", transcript)
	}
	if len(insights) != 0 {
		t.Fatalf("expected no insights, got %d", len(insights))
	}
}

func TestInsightUpsertReplaces(t *testing.T) {
	store := newTestStore(t)
	if err := store.CreateProject("proj-1", "P", ""); err != nil {
		t.Fatalf("CreateProject failed: %v", err)
	}

	if err := store.UpsertInsight("proj-1", message.AnalysisRow{AnalysisID: "a1", Text: "Why?", Span: "it failed"}); err != nil {
		t.Fatalf("UpsertInsight failed: %v", err)
	}
	if err := store.UpsertInsight("proj-1", message.AnalysisRow{AnalysisID: "a1", Text: "Why exactly?", Span: "it failed badly"}); err != nil {
		t.Fatalf("UpsertInsight failed: %v", err)
	}

	_, insights, err := store.ProjectSnapshot("proj-1")
	if err != nil {
		t.Fatalf("ProjectSnapshot failed: %v", err)
	}
	if len(insights) != 1 {
		t.Fatalf("expected 1 row after replacement, got %d", len(insights))
	}
	if insights[0].Text != "Why exactly?" || insights[0].Span != "it failed badly" {
		t.Fatalf("unexpected row: %+v", insights[0])
	}
}

func TestDismissalSurvivesReplacement(t *testing.T) {
	store := newTestStore(t)
	if err := store.CreateProject("proj-1", "P", ""); err != nil {
		t.Fatalf("CreateProject failed: %v", err)
	}

	if err := store.UpsertInsight("proj-1", message.AnalysisRow{AnalysisID: "a1", Text: "Why?"}); err != nil {
		t.Fatalf("UpsertInsight failed: %v", err)
	}
	if err := store.DismissInsight("proj-1", "a1"); err != nil {
		t.Fatalf("DismissInsight failed: %v", err)
	}

	// A later cycle re-emitting the row without the flag must not undo the
	// user's dismissal.
	if err := store.UpsertInsight("proj-1", message.AnalysisRow{AnalysisID: "a1", Text: "Why though?"}); err != nil {
		t.Fatalf("UpsertInsight failed: %v", err)
	}

	_, insights, err := store.ProjectSnapshot("proj-1")
	if err != nil {
		t.Fatalf("ProjectSnapshot failed: %v", err)
	}
	if len(insights) != 1 || !insights[0].IsDismissed {
		t.Fatalf("expected dismissed row preserved, got %+v", insights)
	}
	if insights[0].Text != "Why though?" {
		t.Fatalf("expected replaced text, got %q", insights[0].Text)
	}
}

func TestDismissUnknownIsNoop(t *testing.T) {
	store := newTestStore(t)
	if err := store.CreateProject("proj-1", "P", ""); err != nil {
		t.Fatalf("CreateProject failed: %v", err)
	}
	if err := store.DismissInsight("proj-1", "missing"); err != nil {
		t.Fatalf("expected no error for unknown insight, got %v", err)
	}
}

func TestSnapshotIsolatedPerProject(t *testing.T) {
	store := newTestStore(t)
	for _, id := range []string{"proj-1", "proj-2"} {
		if err := store.CreateProject(id, "P", ""); err != nil {
			t.Fatalf("CreateProject failed: %v", err)
		}
	}

	if err := store.AppendTranscript("proj-1", "only in one", time.Now().UTC()); err != nil {
		t.Fatalf("AppendTranscript failed: %v", err)
	}
	if err := store.UpsertInsight("proj-2", message.AnalysisRow{AnalysisID: "b1", Text: "Other"}); err != nil {
		t.Fatalf("UpsertInsight failed: %v", err)
	}

	transcript, insights, err := store.ProjectSnapshot("proj-1")
	if err != nil {
		t.Fatalf("ProjectSnapshot failed: %v", err)
	}
	if transcript != "only in one" || len(insights) != 0 {
		t.Fatalf("unexpected snapshot: %q %v", transcript, insights)
	}

	transcript, insights, err = store.ProjectSnapshot("proj-2")
	if err != nil {
		t.Fatalf("ProjectSnapshot failed: %v", err)
	}
	if transcript != "" || len(insights) != 1 {
		t.Fatalf("unexpected snapshot: %q %v", transcript, insights)
	}
}
