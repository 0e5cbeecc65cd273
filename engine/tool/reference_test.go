package tool

import (
	"context"
	"errors"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/CairnAI/cairn-engine/engine/domain"
)

type fakeGraphResult struct {
	records []*neo4j.Record
	pos     int
	err     error
}

func (f *fakeGraphResult) Next(context.Context) bool {
	if f.pos >= len(f.records) {
		return false
	}
	f.pos++
	return true
}

func (f *fakeGraphResult) Record() *neo4j.Record { return f.records[f.pos-1] }
func (f *fakeGraphResult) Err() error            { return f.err }

type fakeGraphRunner struct {
	result    *fakeGraphResult
	runErr    error
	gotCypher string
	gotParams map[string]any
	closed    bool
}

func (f *fakeGraphRunner) Run(_ context.Context, cypher string, params map[string]any) (graphResult, error) {
	f.gotCypher = cypher
	f.gotParams = params
	if f.runErr != nil {
		return nil, f.runErr
	}
	return f.result, nil
}

func (f *fakeGraphRunner) Close(context.Context) error {
	f.closed = true
	return nil
}

func referenceWithRunner(r *fakeGraphRunner) *ReferenceTool {
	t := NewReference(nil, 0)
	t.newSession = func(context.Context) graphRunner { return r }
	return t
}

func entityRecord(name, kind string, related []any) *neo4j.Record {
	return &neo4j.Record{
		Keys:   []string{"name", "kind", "props", "related"},
		Values: []any{name, kind, map[string]any{"name": name}, related},
	}
}

func TestReference_Lookup(t *testing.T) {
	runner := &fakeGraphRunner{result: &fakeGraphResult{records: []*neo4j.Record{
		entityRecord("alternator", "component", []any{
			map[string]any{"relation": "PART_OF", "target": "charging system"},
		}),
	}}}

	out, err := referenceWithRunner(runner).Execute(context.Background(), Input{Query: "alternator"})
	if err != nil {
		t.Fatal(err)
	}
	entries := out.([]ReferenceEntry)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Name != "alternator" || e.Kind != "component" {
		t.Errorf("bad entry: %+v", e)
	}
	if len(e.Related) != 1 || e.Related[0].Relation != "PART_OF" {
		t.Errorf("relations not mapped: %+v", e.Related)
	}
	if runner.gotParams["term"] != "alternator" {
		t.Errorf("term param: %v", runner.gotParams)
	}
	if !runner.closed {
		t.Error("session not closed")
	}
}

func TestReference_TermFromArgs(t *testing.T) {
	runner := &fakeGraphRunner{result: &fakeGraphResult{}}
	_, err := referenceWithRunner(runner).Execute(context.Background(), Input{
		Query: "what is an alternator",
		Args:  map[string]any{"term": "alternator"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if runner.gotParams["term"] != "alternator" {
		t.Errorf("extracted term not used: %v", runner.gotParams)
	}
}

func TestReference_QueryFailureIsSourceUnavailable(t *testing.T) {
	runner := &fakeGraphRunner{runErr: errors.New("connection refused")}
	_, err := referenceWithRunner(runner).Execute(context.Background(), Input{Query: "x"})
	if !errors.Is(err, domain.ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable, got %v", err)
	}
}

func TestReference_EmptyTerm(t *testing.T) {
	runner := &fakeGraphRunner{result: &fakeGraphResult{}}
	if _, err := referenceWithRunner(runner).Execute(context.Background(), Input{Query: "   "}); err == nil {
		t.Fatal("blank term must be rejected")
	}
}

func TestReference_NoMatches(t *testing.T) {
	runner := &fakeGraphRunner{result: &fakeGraphResult{}}
	out, err := referenceWithRunner(runner).Execute(context.Background(), Input{Query: "nothing"})
	if err != nil {
		t.Fatal(err)
	}
	if entries := out.([]ReferenceEntry); len(entries) != 0 {
		t.Fatalf("expected no entries, got %v", entries)
	}
}
