package brain

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"synapse/internal/backend"
	"synapse/internal/logging"
	"synapse/internal/session"
	"synapse/internal/store"
	"synapse/internal/tools"
	"synapse/internal/types"
)

// toolLimitMessage is what an over-cap tool request receives instead of
// being executed.
const toolLimitMessage = "Tool call limit reached for this turn. Answer with the information gathered so far."

// RunTurn resolves one conversational turn and streams its progress. The
// returned channel is closed after the terminal done event. The turn holds
// the brain lock end to end, so concurrent turns queue.
func (b *Brain) RunTurn(ctx context.Context, sessionID, actorID, userContent string, refs []string) <-chan types.TurnEvent {
	events := make(chan types.TurnEvent, 64)
	go func() {
		defer close(events)
		b.mu.Lock()
		defer b.mu.Unlock()
		b.runTurn(ctx, sessionID, actorID, userContent, refs, events)
	}()
	return events
}

func (b *Brain) runTurn(ctx context.Context, sessionID, actorID, userContent string, refs []string, events chan<- types.TurnEvent) {
	timer := logging.StartTimer(logging.CategoryBrain, "RunTurn")
	defer timer.Stop()

	// Correlation id for tracing one turn across log categories.
	turnID := uuid.NewString()[:8]
	logging.Get(logging.CategoryBrain).Info("Turn %s started (session=%s, actor=%s)", turnID, sessionID, actorID)

	events <- types.StatusEvent("preparing context")

	sess := b.sessions.GetOrCreate(sessionID)
	if evicted := b.sessions.EnforceTokenBudget(sessionID, b.cfg.Limits.SessionTokenLimit); evicted > 0 {
		logging.BrainDebug("Evicted %d exchanges from %s before turn", evicted, sessionID)
	}

	events <- types.StatusEvent("recalling memories")
	memoryBlock := b.buildMemoryBlock(ctx, sess, userContent)
	prompt := b.composePrompt(userContent, memoryBlock, refs)

	client := b.clientFor(sessionID)
	gencfg, cacheHandle := b.generateConfig(ctx, client)

	messages := b.historyMessages(sess)
	messages = append(messages, backend.Message{Role: backend.RoleUser, Text: prompt})

	tc := &tools.ToolContext{
		ActorID:   actorID,
		SessionID: sessionID,
		Sessions:  b.sessions,
		Archive:   b.archive,
	}

	var (
		answer      strings.Builder
		thoughts    strings.Builder
		toolRecords []types.ToolCallRecord
		usage       backend.Usage
		executed    int
		failed      bool
	)

	events <- types.StatusEvent("thinking")
	for {
		chunks := make(chan backend.StreamChunk, 16)
		errc := make(chan error, 1)
		go func() {
			errc <- client.GenerateStream(ctx, messages, gencfg, chunks)
			close(chunks)
		}()

		var genText strings.Builder
		var calls []backend.ToolCallRequest
		var stepUsage *backend.Usage
		for ch := range chunks {
			if ch.Thought != "" {
				thoughts.WriteString(ch.Thought)
				events <- types.ThoughtEvent(ch.Thought)
			}
			if ch.Text != "" {
				genText.WriteString(ch.Text)
				events <- types.TokenEvent(ch.Text)
			}
			calls = append(calls, ch.ToolCalls...)
			if ch.Usage != nil {
				// Chunks report cumulative usage for the generation, so only
				// the last one counts.
				u := *ch.Usage
				stepUsage = &u
			}
		}
		if stepUsage != nil {
			usage.InputTokens += stepUsage.InputTokens
			usage.OutputTokens += stepUsage.OutputTokens
			usage.TotalTokens += stepUsage.TotalTokens
		}
		if err := <-errc; err != nil {
			logging.Get(logging.CategoryBrain).Error("Generation failed for %s: %v", sessionID, err)
			events <- types.ErrorEvent("generation failed: " + err.Error())
			failed = true
			break
		}

		answer.WriteString(genText.String())
		if len(calls) == 0 {
			break
		}

		messages = append(messages, backend.Message{
			Role:      backend.RoleAssistant,
			Text:      genText.String(),
			ToolCalls: calls,
		})

		for _, call := range calls {
			record, result := b.executeToolCall(ctx, tc, call, &executed)
			toolRecords = append(toolRecords, record)
			messages = append(messages, backend.Message{
				Role:         backend.RoleTool,
				ToolResponse: &backend.ToolResponse{Name: call.Name, Content: result},
			})
			events <- types.StatusEvent("ran tool " + call.Name)
		}
	}

	// A generation that only ever produced reasoning still owes the user an
	// answer; promote the thought text.
	final := answer.String()
	if strings.TrimSpace(final) == "" && strings.TrimSpace(thoughts.String()) != "" {
		final = thoughts.String()
		logging.BrainDebug("Promoted thought output to answer for %s", sessionID)
	}

	b.finalize(ctx, sessionID, actorID, prompt, final, toolRecords, usage, cacheHandle, failed, events)
}

// executeToolCall runs one requested tool, or synthesizes the limit answer
// once the per-turn cap is spent. The returned result string is exactly
// what goes back to the backend.
func (b *Brain) executeToolCall(ctx context.Context, tc *tools.ToolContext, call backend.ToolCallRequest, executed *int) (types.ToolCallRecord, string) {
	if *executed >= b.cfg.Limits.ToolCallCap {
		logging.Get(logging.CategoryTools).Warn("Tool call cap (%d) reached, refusing %s", b.cfg.Limits.ToolCallCap, call.Name)
		return types.ToolCallRecord{
			Name:      call.Name,
			Args:      call.Args,
			Result:    toolLimitMessage,
			IsError:   true,
			Synthetic: true,
		}, toolLimitMessage
	}
	res, err := b.registry.Execute(ctx, tc, call.Name, call.Args)
	if res == nil {
		// Unknown tool. Nothing ran, so the cap is untouched. The model gets
		// a plain statement, not an excuse to retry with the same name.
		result := "tool not found: " + call.Name
		return types.ToolCallRecord{Name: call.Name, Args: call.Args, Result: result, IsError: true}, result
	}

	// Only invocations of a registered tool count against the cap.
	*executed++
	if err != nil {
		result := "tool error: " + err.Error()
		return types.ToolCallRecord{Name: call.Name, Args: call.Args, Result: result, IsError: true}, result
	}
	return types.ToolCallRecord{Name: call.Name, Args: call.Args, Result: res.Result}, res.Result
}

// generateConfig assembles the backend config for this turn, preferring the
// remote cache and falling back to inline instructions when the cache is
// unsupported or unavailable.
func (b *Brain) generateConfig(ctx context.Context, client backend.Client) (backend.GenerateConfig, string) {
	cfg := backend.GenerateConfig{
		Tools:           b.registry.Specs(),
		MaxOutputTokens: b.cfg.LLM.MaxOutputTokens,
		Temperature:     b.cfg.LLM.Temperature,
		IncludeThoughts: true,
	}

	if b.caches != nil && b.caches.Supported() {
		if _, ok := client.(backend.CacheClient); ok {
			handle, err := b.caches.GetOrCreate(ctx)
			if err == nil {
				cfg.CacheHandle = handle
				return cfg, handle
			}
			logging.Get(logging.CategoryBrain).Warn("Cache unavailable, sending instructions inline: %v", err)
		}
	}

	text, err := b.instructions()
	if err != nil {
		logging.Get(logging.CategoryBrain).Error("Failed to load instructions: %v", err)
		text = ""
	}
	cfg.SystemInstruction = text
	return cfg, ""
}

// historyMessages replays a session's exchanges as alternating user and
// assistant messages. Tool activity inside past turns is already folded
// into the archived content and is not replayed.
func (b *Brain) historyMessages(sess *session.Session) []backend.Message {
	messages := make([]backend.Message, 0, len(sess.Exchanges)*2+1)
	for _, ex := range sess.Exchanges {
		messages = append(messages,
			backend.Message{Role: backend.RoleUser, Text: ex.UserContent},
			backend.Message{Role: backend.RoleAssistant, Text: ex.ModelContent},
		)
	}
	return messages
}

// finalize archives the turn, appends it to the session and emits the
// terminal events. Called for failed turns too, even ones that produced
// nothing, so the session always keeps a persisted trace of the attempt.
func (b *Brain) finalize(ctx context.Context, sessionID, actorID, prompt, answer string, toolRecords []types.ToolCallRecord, usage backend.Usage, cacheHandle string, failed bool, events chan<- types.TurnEvent) {
	exchange := types.Exchange{
		UserContent:  prompt,
		ToolCalls:    toolRecords,
		ModelContent: answer,
		TokenCost:    usage.TotalTokens,
		CreatedAt:    time.Now().UTC(),
	}

	data := store.Row{
		"session_id":    sessionID,
		"user_name":     actorID,
		"user_content":  prompt,
		"model_content": answer,
		"token_cost":    usage.TotalTokens,
	}
	if len(toolRecords) > 0 {
		if raw, err := json.Marshal(toolRecords); err == nil {
			data["tool_calls_json"] = string(raw)
		}
	}

	res, err := b.archive.Write(ctx, "conversation_log", store.VerbInsert, actorID, data, nil)
	if err != nil {
		logging.Get(logging.CategoryBrain).Error("Archival failed for %s, exchange kept in session only: %v", sessionID, err)
	} else {
		exchange.ArchivalID = res.ArchivalID
	}

	b.sessions.Append(sessionID, exchange)

	if cacheHandle != "" && !failed {
		b.caches.UpdateTTL(ctx, cacheHandle)
	}

	events <- types.TurnEvent{Kind: types.EventUsage, TokenCount: usage.TotalTokens, RestartPending: b.restartPending}
	events <- types.TurnEvent{Kind: types.EventFullResponse, Text: answer, TokenCount: usage.OutputTokens, RestartPending: b.restartPending}
	events <- types.TurnEvent{Kind: types.EventDone}
}
