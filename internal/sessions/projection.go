package sessions

import (
	"time"

	"github.com/forgehq/engine/pkg/models"
)

// summaryPrefix and summarySuffix frame a compaction summary so the model
// understands it is reading compacted history rather than a normal user
// turn (§4.2.4).
const (
	summaryPrefix = "The conversation so far was summarized to stay within the model's context window. Summary of the earlier conversation:\n\n"
	summarySuffix = "\n\nContinue the conversation from here, using the summary above for any earlier context you need."
)

// Context is the projection the LLM actually sees: {messages,
// thinkingLevel, model} (§4.2.4). SessionEntry is never handed to an
// adapter directly.
type Context struct {
	Messages      []models.Message
	ThinkingLevel models.ThinkingLevel
	Model         string
}

// Project derives a Context from a session's entries. It is a pure
// function of entries: walk left-to-right tracking thinkingLevel and
// model, then splice in the latest compaction's summary (if any) ahead of
// the entries it kept (§4.2.4).
func Project(entries []models.SessionEntry) Context {
	var ctx Context
	compactionIdx := -1

	for i, e := range entries {
		switch e.Type {
		case models.EntryThinkingLevelChange:
			ctx.ThinkingLevel = e.ThinkingLevel
		case models.EntryModelChange:
			ctx.Model = e.Model
		case models.EntryMessage:
			if e.Message != nil && e.Message.Role == models.RoleAssistant && e.Message.Model != "" {
				ctx.Model = e.Message.Model
			}
		case models.EntryCompaction:
			compactionIdx = i
		}
	}

	if compactionIdx == -1 {
		ctx.Messages = messagesOf(entries)
		return ctx
	}

	c := entries[compactionIdx].Compaction
	messages := []models.Message{summaryMessage(c.Summary)}
	if c.FirstKeptEntryIndex >= 0 && c.FirstKeptEntryIndex <= len(entries) {
		messages = append(messages, messagesOf(entries[c.FirstKeptEntryIndex:])...)
	}
	ctx.Messages = messages
	return ctx
}

func messagesOf(entries []models.SessionEntry) []models.Message {
	var out []models.Message
	for _, e := range entries {
		if e.Type == models.EntryMessage && e.Message != nil {
			out = append(out, *e.Message)
		}
	}
	return out
}

// summaryMessage builds the synthetic user-role message that stands in for
// compacted history during projection (§4.2.4).
func summaryMessage(summary string) models.Message {
	return models.Message{
		Role:        models.RoleUser,
		Content:     []models.ContentBlock{models.TextBlock(summaryPrefix + summary + summarySuffix)},
		TimestampMS: time.Now().UnixMilli(),
	}
}
