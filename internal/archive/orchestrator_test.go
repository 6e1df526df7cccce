package archive

import (
	"context"
	"hash/fnv"
	"path/filepath"
	"testing"

	"synapse/internal/store"
	"synapse/internal/vector"
)

// hashEngine is a deterministic offline embedding engine. Texts with the
// same content always land on the same vector.
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
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *hashEngine) Dimensions() int { return e.dims }
func (e *hashEngine) Name() string    { return "hash" }

func testOrchestrator(t *testing.T) (*Orchestrator, *vector.VectorStore) {
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

	return NewOrchestrator(records, vectors), vectors
}

func TestWriteInsertSyncsBothStores(t *testing.T) {
	o, vectors := testOrchestrator(t)
	ctx := context.Background()

	res, err := o.Write(ctx, "deep_memory", store.VerbInsert, "operator", store.Row{
		"owner": "operator", "title": "sqlite tips", "category": "tech", "content": "use WAL mode",
	}, nil)
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if res.ArchivalID == nil || *res.ArchivalID != 1 {
		t.Fatalf("archival id = %v, want 1", res.ArchivalID)
	}
	if !res.SemanticSynced {
		t.Error("semantic store not synced")
	}
	if res.VectorID != "deep_memory_1" {
		t.Errorf("vector id %q, want deep_memory_1", res.VectorID)
	}

	n, err := vectors.Count()
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 1 {
		t.Errorf("vector count %d, want 1", n)
	}
}

func TestWriteUpdateReplacesDocumentInPlace(t *testing.T) {
	o, vectors := testOrchestrator(t)
	ctx := context.Background()

	if _, err := o.Write(ctx, "deep_memory", store.VerbInsert, "operator", store.Row{
		"owner": "operator", "title": "note", "content": "v1",
	}, nil); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	res, err := o.Write(ctx, "deep_memory", store.VerbUpdate, "operator",
		store.Row{"content": "v2"}, store.Row{"id": 1})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if !res.SemanticSynced {
		t.Error("update not mirrored semantically")
	}

	// Deterministic id means replace, never duplicate.
	n, _ := vectors.Count()
	if n != 1 {
		t.Errorf("vector count %d after update, want 1", n)
	}

	matches, err := o.Read(ctx, []string{"note"}, 5, nil)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("got %d matches, want 1", len(matches))
	}
	if got := matches[0].Document; got != "note (general): v2" {
		t.Errorf("document %q, want the updated rendering", got)
	}
}

func TestWriteDeleteRemovesDocument(t *testing.T) {
	o, vectors := testOrchestrator(t)
	ctx := context.Background()

	if _, err := o.Write(ctx, "deep_memory", store.VerbInsert, "operator", store.Row{
		"owner": "operator", "title": "temp", "content": "gone soon",
	}, nil); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	res, err := o.Write(ctx, "deep_memory", store.VerbDelete, "operator", nil, store.Row{"id": 1})
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if !res.SemanticSynced {
		t.Error("delete not mirrored semantically")
	}

	n, _ := vectors.Count()
	if n != 0 {
		t.Errorf("vector count %d after delete, want 0", n)
	}
}

func TestSemanticFailureDoesNotFailTheWrite(t *testing.T) {
	o, vectors := testOrchestrator(t)
	ctx := context.Background()

	// Kill the semantic store; the record write must still stand.
	vectors.Close()

	res, err := o.Write(ctx, "deep_memory", store.VerbInsert, "operator", store.Row{
		"owner": "operator", "title": "survivor", "content": "written anyway",
	}, nil)
	if err != nil {
		t.Fatalf("Write failed despite only the semantic half being down: %v", err)
	}
	if res.SemanticSynced {
		t.Error("SemanticSynced reported true for a dead vector store")
	}
	if res.ArchivalID == nil {
		t.Error("archival id missing")
	}

	rows, err := o.Records().Read("SELECT title FROM deep_memory")
	if err != nil {
		t.Fatalf("read-back failed: %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("record store has %d rows, want 1", len(rows))
	}
}

func TestRecordFailureIsFatal(t *testing.T) {
	o, _ := testOrchestrator(t)

	// Non-primary delete is rejected before anything touches either store.
	_, err := o.Write(context.Background(), "deep_memory", store.VerbDelete, "visitor", nil, store.Row{"id": 1})
	if err == nil {
		t.Fatal("expected authorization error")
	}
}

func TestVectorIDDerivation(t *testing.T) {
	row := store.Row{"id": int64(42), "title": "x"}
	if got := VectorID("deep_memory", row); got != "deep_memory_42" {
		t.Errorf("got %q, want deep_memory_42", got)
	}

	// Missing key falls back to a content hash, still stable.
	anon := store.Row{"title": "x"}
	first := VectorID("deep_memory", anon)
	second := VectorID("deep_memory", anon)
	if first != second {
		t.Error("hash fallback is not deterministic")
	}
	if first == "deep_memory_" {
		t.Error("fallback produced an empty suffix")
	}
}

func TestReindexIsIdempotent(t *testing.T) {
	o, vectors := testOrchestrator(t)
	ctx := context.Background()

	for _, title := range []string{"one", "two", "three"} {
		if _, err := o.Write(ctx, "deep_memory", store.VerbInsert, "operator", store.Row{
			"owner": "operator", "title": title, "content": "c",
		}, nil); err != nil {
			t.Fatalf("insert failed: %v", err)
		}
	}

	n, err := o.Reindex(ctx, "operator")
	if err != nil {
		t.Fatalf("Reindex failed: %v", err)
	}
	if n != 3 {
		t.Errorf("reindexed %d documents, want 3", n)
	}

	// Running it again must not duplicate anything.
	if _, err := o.Reindex(ctx, "operator"); err != nil {
		t.Fatalf("second Reindex failed: %v", err)
	}
	count, _ := vectors.Count()
	if count != 3 {
		t.Errorf("vector count %d after double reindex, want 3", count)
	}
}

func TestReindexRequiresPrimary(t *testing.T) {
	o, _ := testOrchestrator(t)

	if _, err := o.Reindex(context.Background(), "visitor"); err == nil {
		t.Fatal("reindex by non-primary succeeded")
	}
}
