package tool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/CairnAI/cairn-engine/engine/domain"
)

type fakeTool struct {
	name string
}

func (f *fakeTool) Spec() Spec {
	return Spec{Name: f.name, Cacheable: true, CacheTTL: time.Minute, Idempotent: true}
}

func (f *fakeTool) Execute(context.Context, Input) (any, error) { return f.name, nil }

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&fakeTool{name: "a"}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(&fakeTool{name: "b"}); err != nil {
		t.Fatal(err)
	}
	r.Freeze()

	got, err := r.Get("a")
	if err != nil {
		t.Fatal(err)
	}
	if got.Spec().Name != "a" {
		t.Errorf("wrong tool: %s", got.Spec().Name)
	}

	names := r.Names()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("names not sorted: %v", names)
	}
}

func TestRegistry_UnknownTool(t *testing.T) {
	r := NewRegistry()
	r.Freeze()
	_, err := r.Get("missing")
	if !errors.Is(err, domain.ErrToolNotFound) {
		t.Fatalf("expected ErrToolNotFound, got %v", err)
	}
}

func TestRegistry_DuplicateRejected(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&fakeTool{name: "a"}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(&fakeTool{name: "a"}); err == nil {
		t.Fatal("duplicate registration must fail")
	}
}

func TestRegistry_FrozenRejectsRegister(t *testing.T) {
	r := NewRegistry()
	r.Freeze()
	if err := r.Register(&fakeTool{name: "late"}); err == nil {
		t.Fatal("post-freeze registration must fail")
	}
}

func TestInputSchema_Validate(t *testing.T) {
	cases := []struct {
		name   string
		schema InputSchema
		in     Input
		want   error
	}{
		{
			name:   "zero schema accepts anything",
			schema: InputSchema{},
			in:     Input{},
		},
		{
			name:   "required arg missing",
			schema: InputSchema{Args: map[string]ArgSpec{"url": {Type: "string", Required: true}}},
			in:     Input{Query: "get this"},
			want:   domain.ErrArgMissing,
		},
		{
			name:   "required arg blank",
			schema: InputSchema{Args: map[string]ArgSpec{"url": {Type: "string", Required: true}}},
			in:     Input{Args: map[string]any{"url": "   "}},
			want:   domain.ErrArgMissing,
		},
		{
			name:   "wrong type",
			schema: InputSchema{Args: map[string]ArgSpec{"url": {Type: "string", Required: true}}},
			in:     Input{Args: map[string]any{"url": 42}},
			want:   domain.ErrArgInvalid,
		},
		{
			name:   "optional arg absent",
			schema: InputSchema{Args: map[string]ArgSpec{"expression": {Type: "string"}}},
			in:     Input{Query: "2 + 2"},
		},
		{
			name:   "optional arg wrong type still rejected",
			schema: InputSchema{Args: map[string]ArgSpec{"expression": {Type: "string"}}},
			in:     Input{Args: map[string]any{"expression": true}},
			want:   domain.ErrArgInvalid,
		},
		{
			name:   "query required",
			schema: InputSchema{RequireQuery: true},
			in:     Input{Query: "  "},
			want:   domain.ErrQueryEmpty,
		},
		{
			name:   "undeclared args pass through",
			schema: InputSchema{Args: map[string]ArgSpec{"url": {Type: "string", Required: true}}},
			in:     Input{Args: map[string]any{"url": "https://example.com", "extra": 1}},
		},
		{
			name:   "untyped arg accepts any value",
			schema: InputSchema{Args: map[string]ArgSpec{"payload": {Required: true}}},
			in:     Input{Args: map[string]any{"payload": map[string]any{"k": "v"}}},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.schema.Validate(tc.in)
			if tc.want == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			var ve *domain.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %T", err)
			}
		})
	}
}

func TestToolSchemas_DeclareRequiredArgs(t *testing.T) {
	f := NewFetch(FetchOptions{})
	if err := f.Spec().InputSchema.Validate(Input{Query: "get this"}); !errors.Is(err, domain.ErrArgMissing) {
		t.Fatalf("fetch without url must fail schema validation, got %v", err)
	}
	if err := f.Spec().InputSchema.Validate(Input{Args: map[string]any{"url": "https://example.com"}}); err != nil {
		t.Fatalf("valid fetch input rejected: %v", err)
	}

	c := NewCalculator()
	if err := c.Spec().InputSchema.Validate(Input{Query: "2 + 2"}); err != nil {
		t.Fatalf("calculator must accept query-only input: %v", err)
	}
}
