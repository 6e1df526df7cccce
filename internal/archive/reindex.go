package archive

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"synapse/internal/logging"
	"synapse/internal/store"
)

// Reindex rebuilds the semantic store from the canonical rows, one table at
// a time in parallel. Deterministic vector ids make this idempotent: rows
// already mirrored are overwritten in place, never duplicated. Requires the
// primary operator because existing documents get replaced.
func (o *Orchestrator) Reindex(ctx context.Context, actorID string) (int, error) {
	timer := logging.StartTimer(logging.CategoryArchive, "Reindex")
	defer timer.Stop()

	if actorID != o.records.PrimaryOperator() {
		return 0, fmt.Errorf("%w: reindex requires the primary operator", store.ErrNotAuthorized)
	}

	g, gctx := errgroup.WithContext(ctx)
	counts := make([]int, len(factoryTables()))

	for i, table := range factoryTables() {
		g.Go(func() error {
			n, err := o.reindexTable(gctx, actorID, table)
			if err != nil {
				return fmt.Errorf("reindex of %s failed: %w", table, err)
			}
			counts[i] = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	total := 0
	for _, n := range counts {
		total += n
	}
	logging.Get(logging.CategoryArchive).Info("Reindexed %d documents across %d tables", total, len(counts))
	return total, nil
}

func (o *Orchestrator) reindexTable(ctx context.Context, actorID, table string) (int, error) {
	rows, err := o.records.Read(fmt.Sprintf("SELECT * FROM %s", table))
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	ids := make([]string, 0, len(rows))
	docs := make([]string, 0, len(rows))
	metas := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		doc, err := deriveDocument(table, row)
		if err != nil {
			return 0, err
		}
		ids = append(ids, VectorID(table, row))
		docs = append(docs, doc.Text)
		metas = append(metas, doc.Metadata)
	}

	if err := o.vectors.Upsert(ctx, actorID, ids, docs, metas); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// factoryTables lists tables with a document factory, in a stable order.
func factoryTables() []string {
	return []string{"conversation_log", "deep_memory", "user_profiles", "protocols"}
}
