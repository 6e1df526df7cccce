// Package archive keeps the record store and the semantic store in step. A
// logical write lands in the record store first; the canonical row is then
// read back, rendered by the table's document factory and upserted into the
// semantic store under a deterministic id. The stores are eventually
// consistent, not transactional: a semantic failure after a successful
// record write is logged and tolerated, never rolled back.
package archive

import (
	"context"

	"synapse/internal/logging"
	"synapse/internal/store"
	"synapse/internal/vector"
)

// Result reports the outcome of one synchronized write.
type Result struct {
	// RowsAffected is the record-store outcome; it is valid even when the
	// semantic store failed afterwards.
	RowsAffected int64

	// ArchivalID is the canonical row id for inserts, nil otherwise.
	ArchivalID *int64

	// VectorID is the semantic document id touched by this write, if any.
	VectorID string

	// SemanticSynced is false when the semantic-store half failed or was
	// skipped; the record-store write stands regardless.
	SemanticSynced bool
}

// Orchestrator is the synchronized dual-store writer and the retrieval
// entry point.
type Orchestrator struct {
	records *store.RecordStore
	vectors *vector.VectorStore
}

// NewOrchestrator wires the two stores together.
func NewOrchestrator(records *store.RecordStore, vectors *vector.VectorStore) *Orchestrator {
	return &Orchestrator{records: records, vectors: vectors}
}

// Records exposes the underlying record store for read-only callers.
func (o *Orchestrator) Records() *store.RecordStore { return o.records }

// Write performs the record-store write, reads back the canonical row and
// mirrors it into the semantic store. Record-store failures are fatal to
// the call; semantic failures are logged and absorbed.
func (o *Orchestrator) Write(ctx context.Context, table string, verb store.Verb, actorID string, data, where store.Row) (*Result, error) {
	timer := logging.StartTimer(logging.CategoryArchive, "Write")
	defer timer.Stop()

	wres, err := o.records.Write(verb, table, actorID, data, where)
	if err != nil {
		return nil, err
	}
	result := &Result{RowsAffected: wres.RowsAffected}

	switch verb {
	case store.VerbInsert, store.VerbUpdate:
		var row store.Row
		var readErr error
		if verb == store.VerbInsert {
			row, readErr = o.records.NewestRow(table)
		} else {
			row, readErr = o.records.RowByKey(table, where)
		}
		if readErr != nil {
			logging.Get(logging.CategoryArchive).Warn(
				"Record write on %s succeeded but read-back failed, stores may diverge: %v", table, readErr)
			return result, nil
		}

		if verb == store.VerbInsert {
			if key, ok := store.PrimaryKey(table); ok {
				if id, ok := rowInt64(row, key); ok {
					result.ArchivalID = &id
				}
			}
		}

		doc, err := deriveDocument(table, row)
		if err != nil {
			logging.Get(logging.CategoryArchive).Warn("Skipping semantic sync for %s: %v", table, err)
			return result, nil
		}
		vectorID := VectorID(table, row)
		result.VectorID = vectorID

		if err := o.vectors.Upsert(ctx, actorID, []string{vectorID}, []string{doc.Text}, []map[string]any{doc.Metadata}); err != nil {
			// The record write stands; the divergence is the accepted
			// cost of the eventually-consistent design.
			logging.Get(logging.CategoryArchive).Error(
				"Semantic upsert failed for %s after successful record write, stores diverge: %v", vectorID, err)
			return result, nil
		}
		result.SemanticSynced = true

	case store.VerbDelete:
		vectorID, ok := vectorIDFromWhere(table, where)
		if !ok {
			logging.Get(logging.CategoryArchive).Warn(
				"Semantic delete skipped for %s: id not reconstructable from where clause", table)
			return result, nil
		}
		result.VectorID = vectorID
		if err := o.vectors.Delete(ctx, actorID, []string{vectorID}); err != nil {
			logging.Get(logging.CategoryArchive).Error(
				"Semantic delete failed for %s after successful record delete, stores diverge: %v", vectorID, err)
			return result, nil
		}
		result.SemanticSynced = true
	}

	logging.ArchiveDebug("Synchronized %s on %s (vector_id=%s, synced=%v)",
		verb, table, result.VectorID, result.SemanticSynced)
	return result, nil
}

// Read runs a similarity query against the semantic store. Distance is
// returned raw; callers convert to a relevance score as 1 - distance.
func (o *Orchestrator) Read(ctx context.Context, texts []string, topK int, filter *vector.MetaFilter) ([]vector.Match, error) {
	return o.vectors.Query(ctx, texts, topK, filter)
}

func rowInt64(row store.Row, col string) (int64, bool) {
	switch v := row[col].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}
