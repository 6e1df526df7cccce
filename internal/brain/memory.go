package brain

import (
	"context"
	"fmt"
	"os"
	"strings"

	"synapse/internal/logging"
	"synapse/internal/session"
	"synapse/internal/vector"
)

// buildMemoryBlock retrieves semantic memories relevant to the user's input
// and formats them into a bounded context block. Turns already present in
// the session are excluded by their archival ids so the model never sees
// the same exchange twice.
func (b *Brain) buildMemoryBlock(ctx context.Context, sess *session.Session, userContent string) string {
	topK := b.cfg.Limits.RetrievalTopK
	if topK <= 0 {
		return ""
	}

	exclude := make([]string, 0, len(sess.Exchanges))
	for _, ex := range sess.Exchanges {
		if ex.ArchivalID != nil {
			exclude = append(exclude, fmt.Sprintf("conversation_log_%d", *ex.ArchivalID))
		}
	}

	matches, err := b.archive.Read(ctx, []string{userContent}, topK, &vector.MetaFilter{
		ExcludeIDs: exclude,
	})
	if err != nil {
		logging.Get(logging.CategoryBrain).Warn("Memory retrieval failed, continuing without: %v", err)
		return ""
	}
	if len(matches) == 0 {
		return ""
	}

	budget := b.cfg.Limits.MemoryBlockBudget
	var bld strings.Builder
	bld.WriteString("Relevant memories:\n")
	for _, m := range matches {
		line := fmt.Sprintf("- [relevance %.2f] %s\n", 1-m.Distance, strings.TrimSpace(m.Document))
		if budget > 0 && bld.Len()+len(line) > budget {
			break
		}
		bld.WriteString(line)
	}

	logging.BrainDebug("Memory block: %d matches, %d bytes", len(matches), bld.Len())
	return bld.String()
}

// composePrompt builds the structured user content for this turn: the raw
// input, any referenced files inlined, and the memory block. This composed
// form is what gets archived as the turn's user_content.
func (b *Brain) composePrompt(userContent, memoryBlock string, refs []string) string {
	var bld strings.Builder

	if memoryBlock != "" {
		bld.WriteString(memoryBlock)
		bld.WriteString("\n")
	}
	bld.WriteString(userContent)

	for _, ref := range refs {
		data, err := os.ReadFile(ref)
		if err != nil {
			logging.Get(logging.CategoryBrain).Warn("Failed to read reference %s: %v", ref, err)
			fmt.Fprintf(&bld, "\n\n[referenced file %s could not be read]", ref)
			continue
		}
		fmt.Fprintf(&bld, "\n\n--- %s ---\n%s", ref, string(data))
	}
	return bld.String()
}
