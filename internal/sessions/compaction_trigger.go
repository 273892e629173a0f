package sessions

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/forgehq/engine/internal/compaction"
	"github.com/forgehq/engine/internal/providers"
	"github.com/forgehq/engine/pkg/models"
)

// CompactionConfig is the policy a caller (typically cmd/forge, sourced from
// config.SessionConfig.Compaction) feeds to MaybeCompact. §4.2.5 leaves the
// trigger heuristic to the host; this is forge's.
type CompactionConfig struct {
	// ThresholdPercent triggers compaction once the projected history's
	// estimated tokens cross this fraction of the model's context window.
	ThresholdPercent int

	// MaxHistoryShare bounds how much of the context window the kept
	// (post-compaction) suffix may occupy; compaction.PruneHistoryForContextShare's
	// maxHistoryShare.
	MaxHistoryShare float64

	// Parts is the number of parallel chunks used once a prefix is large
	// enough to need compaction.SummarizeInStages rather than a single
	// summarization call.
	Parts int

	// ChunkedAboveTokens selects compaction.SummarizeInStages over the
	// single-call Compact path once the prefix being summarized is
	// estimated to exceed this many tokens.
	ChunkedAboveTokens int
}

// DefaultCompactionConfig matches spec.md §9's default 80% threshold.
func DefaultCompactionConfig() CompactionConfig {
	return CompactionConfig{
		ThresholdPercent:   80,
		MaxHistoryShare:    0.5,
		Parts:              compaction.DefaultParts,
		ChunkedAboveTokens: 20000,
	}
}

// MaybeCompact inspects sess's current entries against model's context
// window and cfg's policy, and runs compaction if warranted. It reports
// whether compaction ran.
//
// Unlike Compact (a single provider call over the whole prefix),
// MaybeCompact routes large prefixes through compaction.SummarizeInStages so
// a prefix that would itself blow the model's context window is split,
// summarized in parallelizable parts, and merged — following the same
// split/chunk/merge shape compaction.go exposes for exactly this case.
func MaybeCompact(ctx context.Context, sess *Session, model models.Model, cfg CompactionConfig) (bool, error) {
	entries := sess.Entries()
	if len(entries) == 0 {
		return false, nil
	}

	contextWindow := compaction.ResolveContextWindowTokens(model.ContextWindow, compaction.DefaultContextWindow)
	thresholdTokens := int(float64(contextWindow) * float64(cfg.ThresholdPercent) / 100)

	msgs := make([]*compaction.Message, 0, len(entries))
	entryIdx := make([]int, 0, len(entries))
	for i, e := range entries {
		if e.Type != models.EntryMessage || e.Message == nil {
			continue
		}
		msgs = append(msgs, toCompactionMessage(*e.Message))
		entryIdx = append(entryIdx, i)
	}
	if len(msgs) == 0 {
		return false, nil
	}

	tokensBefore := compaction.EstimateMessagesTokens(msgs)
	if tokensBefore < thresholdTokens {
		return false, nil
	}

	pruned := compaction.PruneHistoryForContextShare(msgs, contextWindow, cfg.MaxHistoryShare, cfg.Parts)
	if pruned.DroppedMessages == 0 {
		return false, nil
	}

	firstKeptMessageIndex := len(msgs) - len(pruned.Messages)
	firstKeptEntryIndex := entryIdx[firstKeptMessageIndex]
	prefix := msgs[:firstKeptMessageIndex]

	if pruned.DroppedTokens <= cfg.ChunkedAboveTokens {
		return true, Compact(ctx, sess, model, firstKeptEntryIndex, tokensBefore)
	}

	summary, err := summarizeChunked(ctx, model, prefix, contextWindow, cfg)
	if err != nil {
		return false, fmt.Errorf("sessions: chunked compaction: %w", err)
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
	return true, sess.Append(entry)
}

// summarizeChunked drives compaction.SummarizeInStages over prefix, using
// ComputeAdaptiveChunkRatio to size chunks to the prefix's own message
// sizes rather than a fixed fraction of the context window.
func summarizeChunked(ctx context.Context, model models.Model, prefix []*compaction.Message, contextWindow int, cfg CompactionConfig) (string, error) {
	ratio := compaction.ComputeAdaptiveChunkRatio(prefix, contextWindow)
	sconfig := &compaction.SummarizationConfig{
		Model:               model.ID,
		ContextWindow:       contextWindow,
		MaxChunkTokens:      int(float64(contextWindow) * ratio),
		Parts:               cfg.Parts,
		MinMessagesForSplit: compaction.DefaultMinMessagesForSplit,
		CustomInstructions:  compactionInstruction,
	}
	return compaction.SummarizeInStages(ctx, prefix, &providerSummarizer{model: model}, sconfig)
}

// providerSummarizer adapts providers.StreamFor into compaction.Summarizer,
// letting compaction's chunk/merge machinery drive an arbitrary number of
// provider calls instead of Compact's single shot.
type providerSummarizer struct {
	model models.Model
}

func (s *providerSummarizer) GenerateSummary(ctx context.Context, messages []*compaction.Message, config *compaction.SummarizationConfig) (string, error) {
	instruction := compactionInstruction
	if config != nil && config.CustomInstructions != "" {
		instruction = config.CustomInstructions
	}

	reqCtx := models.Context{
		SystemPrompt: instruction,
		Messages: []models.Message{{
			Role:    models.RoleUser,
			Content: []models.ContentBlock{models.TextBlock(compaction.FormatMessagesForSummary(messages))},
		}},
	}

	stream, err := providers.StreamFor(ctx, s.model, reqCtx, providers.Options{Signal: ctx}, true)
	if err != nil {
		return "", fmt.Errorf("sessions: chunk summarization stream: %w", err)
	}

	msg, done := providers.Collect(stream)
	if !done || msg == nil {
		return "", fmt.Errorf("sessions: chunk summarization did not complete")
	}
	if msg.ErrorMessage != "" {
		return "", fmt.Errorf("sessions: chunk summarization failed: %s", msg.ErrorMessage)
	}

	summary := blocksToPlainText(msg.Content)
	if summary == "" {
		return "", fmt.Errorf("sessions: chunk summarization returned empty summary")
	}
	return summary, nil
}

// toCompactionMessage flattens a models.Message into the plain-text shape
// compaction's token estimator and formatters operate on.
func toCompactionMessage(m models.Message) *compaction.Message {
	cm := &compaction.Message{
		Role:      string(m.Role),
		Content:   blocksToPlainText(m.Content),
		Timestamp: m.TimestampMS / 1000,
	}

	var calls []models.ContentBlock
	for _, b := range m.Content {
		if b.Type == models.BlockToolCall {
			calls = append(calls, b)
		}
	}
	if len(calls) > 0 {
		if b, err := json.Marshal(calls); err == nil {
			cm.ToolCalls = string(b)
		}
	}
	if m.ToolResult != nil {
		if b, err := json.Marshal(m.ToolResult); err == nil {
			cm.ToolResults = string(b)
		}
	}
	return cm
}
