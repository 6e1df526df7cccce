package tools

import (
	"context"
	"errors"
	"testing"
)

func TestNewRegistry(t *testing.T) {
	reg := NewRegistry()
	if reg == nil {
		t.Fatal("NewRegistry returned nil")
	}
	if reg.Count() != 0 {
		t.Errorf("new registry should be empty, got %d tools", reg.Count())
	}
}

func TestRegisterAndGet(t *testing.T) {
	reg := NewRegistry()

	tool := &Tool{
		Name:        "test_tool",
		Description: "A test tool",
		Execute: func(ctx context.Context, tc *ToolContext, args map[string]any) (string, error) {
			return "success", nil
		},
	}

	if err := reg.Register(tool); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	got := reg.Get("test_tool")
	if got == nil {
		t.Fatal("Get returned nil for registered tool")
	}
	if got.Name != "test_tool" {
		t.Errorf("got name %q, want %q", got.Name, "test_tool")
	}
}

func TestRegisterDuplicate(t *testing.T) {
	reg := NewRegistry()

	tool := &Tool{
		Name: "dupe",
		Execute: func(ctx context.Context, tc *ToolContext, args map[string]any) (string, error) {
			return "", nil
		},
	}

	if err := reg.Register(tool); err != nil {
		t.Fatalf("first Register failed: %v", err)
	}
	if err := reg.Register(tool); !errors.Is(err, ErrToolAlreadyRegistered) {
		t.Errorf("duplicate Register: got %v, want ErrToolAlreadyRegistered", err)
	}
}

func TestRegisterInvalid(t *testing.T) {
	reg := NewRegistry()

	if err := reg.Register(&Tool{Name: ""}); !errors.Is(err, ErrToolNameEmpty) {
		t.Errorf("nameless tool: got %v, want ErrToolNameEmpty", err)
	}
	if err := reg.Register(&Tool{Name: "no_exec"}); !errors.Is(err, ErrToolExecuteNil) {
		t.Errorf("tool without Execute: got %v, want ErrToolExecuteNil", err)
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	reg := NewRegistry()

	_, err := reg.Execute(context.Background(), nil, "ghost", nil)
	if !errors.Is(err, ErrToolNotFound) {
		t.Errorf("got %v, want ErrToolNotFound", err)
	}
}

func TestExecuteMissingRequiredArg(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(&Tool{
		Name: "needs_arg",
		Schema: ToolSchema{
			Required:   []string{"query"},
			Properties: map[string]Property{"query": {Type: "string"}},
		},
		Execute: func(ctx context.Context, tc *ToolContext, args map[string]any) (string, error) {
			return "ok", nil
		},
	})

	res, err := reg.Execute(context.Background(), nil, "needs_arg", map[string]any{})
	if !errors.Is(err, ErrMissingRequiredArg) {
		t.Fatalf("got %v, want ErrMissingRequiredArg", err)
	}
	if res == nil || res.IsSuccess() {
		t.Error("expected a failed ToolResult")
	}
}

func TestExecuteRequiresContext(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(&Tool{
		Name:            "ctx_tool",
		RequiresContext: true,
		Execute: func(ctx context.Context, tc *ToolContext, args map[string]any) (string, error) {
			return "ok", nil
		},
	})

	if _, err := reg.Execute(context.Background(), nil, "ctx_tool", nil); !errors.Is(err, ErrMissingContext) {
		t.Errorf("got %v, want ErrMissingContext", err)
	}

	res, err := reg.Execute(context.Background(), &ToolContext{ActorID: "u1"}, "ctx_tool", nil)
	if err != nil {
		t.Fatalf("Execute with context failed: %v", err)
	}
	if res.Result != "ok" {
		t.Errorf("got result %q, want %q", res.Result, "ok")
	}
}

func TestSpecsOrderedAndComplete(t *testing.T) {
	reg := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		reg.MustRegister(&Tool{
			Name: name,
			Schema: ToolSchema{
				Required:   []string{"q"},
				Properties: map[string]Property{"q": {Type: "string", Description: "query"}},
			},
			Execute: func(ctx context.Context, tc *ToolContext, args map[string]any) (string, error) {
				return "", nil
			},
		})
	}

	specs := reg.Specs()
	if len(specs) != 3 {
		t.Fatalf("got %d specs, want 3", len(specs))
	}
	want := []string{"alpha", "mid", "zeta"}
	for i, spec := range specs {
		if spec.Name != want[i] {
			t.Errorf("spec %d: got %q, want %q", i, spec.Name, want[i])
		}
		if spec.Properties["q"].Type != "string" {
			t.Errorf("spec %d: property type not carried over", i)
		}
	}
}

func TestBuiltinsRegister(t *testing.T) {
	reg := NewRegistry()
	RegisterBuiltins(reg)

	for _, name := range []string{"memory_search", "memory_save", "memory_forget", "profile_update", "protocol_lookup"} {
		if !reg.Has(name) {
			t.Errorf("builtin %s not registered", name)
		}
	}
}
