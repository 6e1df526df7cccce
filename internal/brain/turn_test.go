package brain

import (
	"context"
	"errors"
	"hash/fnv"
	"path/filepath"
	"testing"

	"go.uber.org/goleak"

	"synapse/internal/archive"
	"synapse/internal/backend"
	"synapse/internal/config"
	"synapse/internal/session"
	"synapse/internal/store"
	"synapse/internal/tools"
	"synapse/internal/types"
	"synapse/internal/vector"
)

func TestMain(m *testing.M) {
	// The genai SDK's opencensus dependency starts a permanent worker at
	// package init.
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

// hashEngine is a deterministic offline embedding engine.
type hashEngine struct{ dims int }

func (e *hashEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	h := fnv.New32a()
	h.Write([]byte(text))
	seed := h.Sum32()
	vec := make([]float32, e.dims)
	for i := range vec {
		seed = seed*1664525 + 1013904223
		vec[i] = float32(seed%1000)/1000.0 - 0.5
	}
	return vec, nil
}

func (e *hashEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, _ := e.Embed(ctx, t)
		out[i] = v
	}
	return out, nil
}

func (e *hashEngine) Dimensions() int { return e.dims }
func (e *hashEngine) Name() string    { return "hash" }

// scriptedStep is one generation's worth of backend output. usages, when
// set, is emitted as a sequence of cumulative usage chunks the way a real
// streaming backend reports them.
type scriptedStep struct {
	thought string
	text    string
	calls   []backend.ToolCallRequest
	usages  []backend.Usage
	err     error
}

// scriptedBackend replays a fixed script, one step per generation. Past the
// end of the script it repeats the final step.
type scriptedBackend struct {
	steps       []scriptedStep
	generations int
}

func (b *scriptedBackend) Name() string { return "ollama" }

func (b *scriptedBackend) Generate(ctx context.Context, messages []backend.Message, cfg backend.GenerateConfig) (*backend.GenerateResult, error) {
	step := b.step()
	if step.err != nil {
		return nil, step.err
	}
	return &backend.GenerateResult{Text: step.text, Thought: step.thought, ToolCalls: step.calls}, nil
}

func (b *scriptedBackend) GenerateStream(ctx context.Context, messages []backend.Message, cfg backend.GenerateConfig, out chan<- backend.StreamChunk) error {
	step := b.step()
	if step.err != nil {
		return step.err
	}
	if step.thought != "" {
		out <- backend.StreamChunk{Thought: step.thought}
	}
	if step.text != "" {
		out <- backend.StreamChunk{Text: step.text}
	}
	if len(step.calls) > 0 {
		out <- backend.StreamChunk{ToolCalls: step.calls}
	}
	if len(step.usages) > 0 {
		for i := range step.usages {
			out <- backend.StreamChunk{Usage: &step.usages[i]}
		}
	} else {
		out <- backend.StreamChunk{Usage: &backend.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}}
	}
	return nil
}

func (b *scriptedBackend) step() scriptedStep {
	i := b.generations
	if i >= len(b.steps) {
		i = len(b.steps) - 1
	}
	b.generations++
	return b.steps[i]
}

func testBrain(t *testing.T, bc backend.Client, registry *tools.Registry) *Brain {
	t.Helper()
	dir := t.TempDir()

	records, err := store.NewRecordStore(filepath.Join(dir, "records.db"), "operator")
	if err != nil {
		t.Fatalf("failed to open record store: %v", err)
	}
	t.Cleanup(func() { records.Close() })

	vectors, err := vector.NewVectorStore(filepath.Join(dir, "vectors.db"), &hashEngine{dims: 8}, "operator")
	if err != nil {
		t.Fatalf("failed to open vector store: %v", err)
	}
	t.Cleanup(func() { vectors.Close() })

	cfg := config.DefaultConfig()
	cfg.LLM.Provider = "ollama"

	if registry == nil {
		registry = tools.NewRegistry()
	}

	br, err := New(cfg,
		session.NewStore(records),
		archive.NewOrchestrator(records, vectors),
		nil,
		registry,
		map[string]backend.Client{"ollama": bc},
		func() (string, error) { return "you are a helpful assistant", nil },
	)
	if err != nil {
		t.Fatalf("failed to build brain: %v", err)
	}
	return br
}

func drain(events <-chan types.TurnEvent) []types.TurnEvent {
	var out []types.TurnEvent
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

func eventsOfKind(events []types.TurnEvent, kind types.EventKind) []types.TurnEvent {
	var out []types.TurnEvent
	for _, ev := range events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func TestSimpleTurn(t *testing.T) {
	bc := &scriptedBackend{steps: []scriptedStep{{text: "hello there"}}}
	br := testBrain(t, bc, nil)

	events := drain(br.RunTurn(context.Background(), "chat", "operator", "hi", nil))

	if len(events) == 0 || events[len(events)-1].Kind != types.EventDone {
		t.Fatal("stream did not terminate with a done event")
	}
	full := eventsOfKind(events, types.EventFullResponse)
	if len(full) != 1 || full[0].Text != "hello there" {
		t.Fatalf("full_response = %+v, want one with %q", full, "hello there")
	}
	usage := eventsOfKind(events, types.EventUsage)
	if len(usage) != 1 || usage[0].TokenCount != 15 {
		t.Errorf("usage events = %+v, want one with 15 tokens", usage)
	}

	sessions := br.ListSessions()
	if len(sessions) != 1 || sessions[0].Exchanges != 1 {
		t.Fatalf("sessions after turn: %+v", sessions)
	}

	rows, err := br.archive.Records().Read("SELECT session_id, model_content FROM conversation_log")
	if err != nil {
		t.Fatalf("archive read failed: %v", err)
	}
	if len(rows) != 1 || rows[0]["model_content"] != "hello there" {
		t.Errorf("archived rows: %+v", rows)
	}
}

func TestToolLoopCap(t *testing.T) {
	executions := 0
	registry := tools.NewRegistry()
	registry.MustRegister(&tools.Tool{
		Name:        "probe",
		Description: "counts calls",
		Execute: func(ctx context.Context, tc *tools.ToolContext, args map[string]any) (string, error) {
			executions++
			return "probed", nil
		},
	})

	// Six generations each request one tool call, the seventh answers.
	steps := make([]scriptedStep, 0, 7)
	for i := 0; i < 6; i++ {
		steps = append(steps, scriptedStep{calls: []backend.ToolCallRequest{{Name: "probe"}}})
	}
	steps = append(steps, scriptedStep{text: "done probing"})

	bc := &scriptedBackend{steps: steps}
	br := testBrain(t, bc, registry)

	drain(br.RunTurn(context.Background(), "chat", "operator", "go", nil))

	if executions != 5 {
		t.Errorf("real executions = %d, want exactly 5", executions)
	}

	sess := br.sessions.GetOrCreate("chat")
	if len(sess.Exchanges) != 1 {
		t.Fatalf("expected one exchange, got %d", len(sess.Exchanges))
	}
	records := sess.Exchanges[0].ToolCalls
	if len(records) != 6 {
		t.Fatalf("tool records = %d, want 6", len(records))
	}
	last := records[5]
	if !last.Synthetic || !last.IsError || last.Result != toolLimitMessage {
		t.Errorf("sixth record not the synthetic limit answer: %+v", last)
	}
	for i := 0; i < 5; i++ {
		if records[i].Synthetic {
			t.Errorf("record %d marked synthetic but was executed", i)
		}
	}
}

func TestUnknownToolBecomesResult(t *testing.T) {
	bc := &scriptedBackend{steps: []scriptedStep{
		{calls: []backend.ToolCallRequest{{Name: "nonexistent"}}},
		{text: "recovered"},
	}}
	br := testBrain(t, bc, nil)

	drain(br.RunTurn(context.Background(), "chat", "operator", "try it", nil))

	sess := br.sessions.GetOrCreate("chat")
	records := sess.Exchanges[0].ToolCalls
	if len(records) != 1 {
		t.Fatalf("tool records = %d, want 1", len(records))
	}
	if !records[0].IsError || records[0].Result != "tool not found: nonexistent" {
		t.Errorf("unknown tool record = %+v", records[0])
	}
	if sess.Exchanges[0].ModelContent != "recovered" {
		t.Errorf("final answer = %q, want %q", sess.Exchanges[0].ModelContent, "recovered")
	}
}

func TestThoughtPromotion(t *testing.T) {
	bc := &scriptedBackend{steps: []scriptedStep{{thought: "reasoning only, no answer"}}}
	br := testBrain(t, bc, nil)

	events := drain(br.RunTurn(context.Background(), "chat", "operator", "think", nil))

	full := eventsOfKind(events, types.EventFullResponse)
	if len(full) != 1 || full[0].Text != "reasoning only, no answer" {
		t.Errorf("thought was not promoted to the answer: %+v", full)
	}
}

func TestBackendFailureEmitsSingleError(t *testing.T) {
	bc := &scriptedBackend{steps: []scriptedStep{{err: errors.New("backend down")}}}
	br := testBrain(t, bc, nil)

	events := drain(br.RunTurn(context.Background(), "chat", "operator", "hi", nil))

	errs := eventsOfKind(events, types.EventError)
	if len(errs) != 1 {
		t.Fatalf("error events = %d, want 1", len(errs))
	}
	if events[len(events)-1].Kind != types.EventDone {
		t.Error("stream after failure did not terminate with done")
	}

	// Even an empty failed turn finalizes, so the session keeps a trace of
	// the attempt.
	sess := br.sessions.GetOrCreate("chat")
	if len(sess.Exchanges) != 1 {
		t.Fatalf("failed turn left %d exchanges, want 1", len(sess.Exchanges))
	}
	if sess.Exchanges[0].ModelContent != "" {
		t.Errorf("failed turn answer = %q, want empty", sess.Exchanges[0].ModelContent)
	}

	rows, err := br.archive.Records().Read("SELECT user_content FROM conversation_log")
	if err != nil {
		t.Fatalf("archive read failed: %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("failed turn archived %d rows, want 1", len(rows))
	}
}

func TestUnknownToolsDoNotConsumeCap(t *testing.T) {
	executions := 0
	registry := tools.NewRegistry()
	registry.MustRegister(&tools.Tool{
		Name:        "probe",
		Description: "counts calls",
		Execute: func(ctx context.Context, tc *tools.ToolContext, args map[string]any) (string, error) {
			executions++
			return "probed", nil
		},
	})

	// Three hallucinated names, then six real requests, then the answer.
	// Only registered-tool invocations spend the budget.
	steps := make([]scriptedStep, 0, 10)
	for i := 0; i < 3; i++ {
		steps = append(steps, scriptedStep{calls: []backend.ToolCallRequest{{Name: "ghost"}}})
	}
	for i := 0; i < 6; i++ {
		steps = append(steps, scriptedStep{calls: []backend.ToolCallRequest{{Name: "probe"}}})
	}
	steps = append(steps, scriptedStep{text: "done"})

	bc := &scriptedBackend{steps: steps}
	br := testBrain(t, bc, registry)

	drain(br.RunTurn(context.Background(), "chat", "operator", "go", nil))

	if executions != 5 {
		t.Errorf("real executions = %d, want exactly 5", executions)
	}

	records := br.sessions.GetOrCreate("chat").Exchanges[0].ToolCalls
	if len(records) != 9 {
		t.Fatalf("tool records = %d, want 9", len(records))
	}
	for i := 0; i < 3; i++ {
		if records[i].Result != "tool not found: ghost" || records[i].Synthetic {
			t.Errorf("record %d should be a plain not-found result: %+v", i, records[i])
		}
	}
	last := records[8]
	if !last.Synthetic || last.Result != toolLimitMessage {
		t.Errorf("final record not the synthetic limit answer: %+v", last)
	}
}

func TestCumulativeUsageChunksCountOnce(t *testing.T) {
	// One generation streams two cumulative usage reports; only the final
	// one is the step's cost.
	bc := &scriptedBackend{steps: []scriptedStep{{
		text: "ok",
		usages: []backend.Usage{
			{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
			{InputTokens: 20, OutputTokens: 10, TotalTokens: 30},
		},
	}}}
	br := testBrain(t, bc, nil)

	events := drain(br.RunTurn(context.Background(), "chat", "operator", "hi", nil))

	usage := eventsOfKind(events, types.EventUsage)
	if len(usage) != 1 || usage[0].TokenCount != 30 {
		t.Errorf("usage events = %+v, want one with 30 tokens", usage)
	}
	if cost := br.sessions.GetOrCreate("chat").Exchanges[0].TokenCost; cost != 30 {
		t.Errorf("token cost = %d, want 30", cost)
	}
}

func TestRestartPendingCarriedOnTerminalEvents(t *testing.T) {
	bc := &scriptedBackend{steps: []scriptedStep{{text: "ok"}}}
	br := testBrain(t, bc, nil)

	events := drain(br.RunTurn(context.Background(), "chat", "operator", "one", nil))
	for _, ev := range eventsOfKind(events, types.EventFullResponse) {
		if ev.RestartPending {
			t.Error("restart pending before any snapshot was saved")
		}
	}

	if !br.SaveStateForRestart() {
		t.Fatal("restart snapshot failed")
	}

	events = drain(br.RunTurn(context.Background(), "chat", "operator", "two", nil))
	for _, kind := range []types.EventKind{types.EventUsage, types.EventFullResponse} {
		evs := eventsOfKind(events, kind)
		if len(evs) != 1 || !evs[0].RestartPending {
			t.Errorf("%s event after snapshot = %+v, want restart pending", kind, evs)
		}
	}
}

func TestTurnsSerializeAcrossSessions(t *testing.T) {
	bc := &scriptedBackend{steps: []scriptedStep{{text: "ok"}}}
	br := testBrain(t, bc, nil)

	// Two concurrent turns on different sessions queue on the brain lock;
	// both must complete.
	first := br.RunTurn(context.Background(), "a", "operator", "one", nil)
	second := br.RunTurn(context.Background(), "b", "operator", "two", nil)
	drain(first)
	drain(second)

	if got := len(br.ListSessions()); got != 2 {
		t.Errorf("sessions = %d, want 2", got)
	}
}

func TestSetModeRejectsUnknownBackend(t *testing.T) {
	bc := &scriptedBackend{steps: []scriptedStep{{text: "ok"}}}
	br := testBrain(t, bc, nil)

	if err := br.SetMode("chat", "gemini"); err == nil {
		t.Error("SetMode accepted an unregistered mode")
	}
	if err := br.SetMode("chat", ""); err != nil {
		t.Errorf("SetMode rejected the default mode: %v", err)
	}
}
