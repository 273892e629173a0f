package sessions

import (
	"context"
	"fmt"
	"time"

	"github.com/forgehq/engine/internal/providers"
	"github.com/forgehq/engine/pkg/models"
)

const compactionInstruction = "Summarize the conversation above in a few dense paragraphs, preserving every decision, file path, and unresolved question a continuation would need. Do not add commentary about the summarization itself."

// Compact triggers §4.2.5: it projects entries[0:firstKeptEntryIndex],
// asks model to summarize that prefix, and appends a compaction entry to
// sess recording the result. firstKeptEntryIndex and tokensBefore are
// caller policy (spec does not mandate a heuristic); a typical caller picks
// firstKeptEntryIndex so the suffix comfortably fits model.ContextWindow.
//
// On summarization failure, no entry is appended and the error is returned
// unwrapped-but-annotated; sess remains usable at its previous state
// (§4.2.5's non-fatal failure policy, §7's "session persistence" taxonomy).
func Compact(ctx context.Context, sess *Session, model models.Model, firstKeptEntryIndex, tokensBefore int) error {
	entries := sess.Entries()
	if firstKeptEntryIndex < 0 || firstKeptEntryIndex > len(entries) {
		return fmt.Errorf("sessions: compact index %d out of range [0,%d]", firstKeptEntryIndex, len(entries))
	}

	prefix := Project(entries[:firstKeptEntryIndex])

	reqCtx := models.Context{
		SystemPrompt: compactionInstruction,
		Messages:     prefix.Messages,
	}

	stream, err := providers.StreamFor(ctx, model, reqCtx, providers.Options{Signal: ctx}, true)
	if err != nil {
		return fmt.Errorf("sessions: compaction stream: %w", err)
	}

	msg, done := providers.Collect(stream)
	if !done || msg == nil {
		if msg != nil && msg.ErrorMessage != "" {
			return fmt.Errorf("sessions: compaction summarization failed: %s", msg.ErrorMessage)
		}
		return fmt.Errorf("sessions: compaction summarization did not complete")
	}

	summary := blocksToPlainText(msg.Content)
	if summary == "" {
		return fmt.Errorf("sessions: compaction summarization returned empty summary")
	}

	entry := models.SessionEntry{
		Type:         models.EntryCompaction,
		TimestampISO: time.Now().UTC().Format(time.RFC3339Nano),
		Compaction: &models.Compaction{
			Summary:             summary,
			FirstKeptEntryIndex: firstKeptEntryIndex,
			TokensBefore:        tokensBefore,
		},
	}
	return sess.Append(entry)
}

func blocksToPlainText(blocks []models.ContentBlock) string {
	var out string
	for _, b := range blocks {
		if b.Type == models.BlockText {
			out += b.Text
		}
	}
	return out
}
