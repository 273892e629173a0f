package sessions

import (
	"context"
	"strings"
	"testing"

	"github.com/forgehq/engine/internal/providers"
	"github.com/forgehq/engine/pkg/models"
)

type triggerAdapter struct {
	api     string
	summary string
	calls   int
}

func (a *triggerAdapter) API() string { return a.api }

func (a *triggerAdapter) Stream(ctx context.Context, model models.Model, reqCtx models.Context, opts providers.Options) (*providers.Stream, error) {
	return a.StreamSimple(ctx, model, reqCtx, opts)
}

func (a *triggerAdapter) StreamSimple(ctx context.Context, model models.Model, reqCtx models.Context, opts providers.Options) (*providers.Stream, error) {
	a.calls++
	ch := make(chan providers.Event, 1)
	ch <- providers.Event{
		Type: providers.EventDone,
		Message: &models.Message{
			Role:    models.RoleAssistant,
			Content: []models.ContentBlock{models.TextBlock(a.summary)},
		},
	}
	close(ch)
	return providers.NewStream(ch, func() {}), nil
}

func fillSession(t *testing.T, sess *Session, n int, body string) {
	t.Helper()
	for i := 0; i < n; i++ {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		msg := models.Message{Role: role, Content: []models.ContentBlock{models.TextBlock(body)}}
		if role == models.RoleAssistant {
			msg.StopReason = models.StopStop
		}
		if err := sess.Append(models.NewMessageEntry(msg)); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
}

func TestMaybeCompact_BelowThresholdDoesNothing(t *testing.T) {
	store := NewStore(t.TempDir())
	sess, err := store.Create(t.TempDir())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	defer sess.Close()

	fillSession(t, sess, 4, "hi")

	model := models.Model{ID: "m1", Provider: "test", API: "trigger-below", ContextWindow: 100000}
	ran, err := MaybeCompact(context.Background(), sess, model, DefaultCompactionConfig())
	if err != nil {
		t.Fatalf("MaybeCompact() error = %v", err)
	}
	if ran {
		t.Fatal("expected MaybeCompact to be a no-op below threshold")
	}
}

func TestMaybeCompact_AboveThresholdCompactsSingleShot(t *testing.T) {
	api := "trigger-single"
	adapter := &triggerAdapter{api: api, summary: "condensed history"}
	providers.RegisterAPIProvider(providers.Registration{API: api, Stream: adapter.Stream, StreamSimple: adapter.StreamSimple})

	store := NewStore(t.TempDir())
	sess, err := store.Create(t.TempDir())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	defer sess.Close()

	fillSession(t, sess, 20, strings.Repeat("x", 400))

	model := models.Model{ID: "m1", Provider: "test", API: api, ContextWindow: 2000}
	cfg := DefaultCompactionConfig()
	cfg.ChunkedAboveTokens = 1 << 20

	ran, err := MaybeCompact(context.Background(), sess, model, cfg)
	if err != nil {
		t.Fatalf("MaybeCompact() error = %v", err)
	}
	if !ran {
		t.Fatal("expected MaybeCompact to compact above threshold")
	}
	if adapter.calls != 1 {
		t.Fatalf("expected exactly one single-shot summarization call, got %d", adapter.calls)
	}

	found := false
	for _, e := range sess.Entries() {
		if e.Type == models.EntryCompaction && e.Compaction != nil && e.Compaction.Summary == "condensed history" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a compaction entry recording the summary")
	}
}

func TestMaybeCompact_AboveThresholdUsesChunkedSummarization(t *testing.T) {
	api := "trigger-chunked"
	adapter := &triggerAdapter{api: api, summary: "chunk summary"}
	providers.RegisterAPIProvider(providers.Registration{API: api, Stream: adapter.Stream, StreamSimple: adapter.StreamSimple})

	store := NewStore(t.TempDir())
	sess, err := store.Create(t.TempDir())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	defer sess.Close()

	fillSession(t, sess, 20, strings.Repeat("x", 400))

	model := models.Model{ID: "m1", Provider: "test", API: api, ContextWindow: 2000}
	cfg := DefaultCompactionConfig()
	cfg.ChunkedAboveTokens = 1

	ran, err := MaybeCompact(context.Background(), sess, model, cfg)
	if err != nil {
		t.Fatalf("MaybeCompact() error = %v", err)
	}
	if !ran {
		t.Fatal("expected MaybeCompact to compact above threshold")
	}
	if adapter.calls < 2 {
		t.Fatalf("expected chunked summarization to issue multiple provider calls, got %d", adapter.calls)
	}
}
