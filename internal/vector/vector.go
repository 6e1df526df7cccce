// Package vector implements the semantic half of the brain's memory: a
// sqlite-vec backed store of derived documents searched by embedding
// similarity and filtered by metadata, with add/update/delete authorization
// tiers.
package vector

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"synapse/internal/embedding"
	"synapse/internal/logging"
)

// Match is one similarity-search result. Distance is cosine distance;
// callers convert to a relevance score as 1 - distance.
type Match struct {
	VectorID string
	Document string
	Metadata map[string]any
	Distance float64
}

// MetaFilter restricts a similarity search.
type MetaFilter struct {
	// Equals constrains indexed metadata columns (source_table, owner,
	// category) to exact values.
	Equals map[string]string

	// ExcludeIDs drops documents by vector id, so a memory lookup never
	// re-surfaces the turn it is part of.
	ExcludeIDs []string
}

// filterColumns are the metadata fields Equals may constrain.
var filterColumns = map[string]bool{
	"source_table": true,
	"owner":        true,
	"category":     true,
}

// VectorStore executes similarity queries and authorized upserts/deletes
// against the sqlite-vec store.
type VectorStore struct {
	db      *sql.DB
	mu      sync.RWMutex
	engine  embedding.Engine
	primary string
	dims    int
}

// NewVectorStore opens (and migrates) the semantic store at the given path.
// The vec0 table is declared with the engine's dimensionality and cannot
// change afterwards.
func NewVectorStore(path string, engine embedding.Engine, primaryOperator string) (*VectorStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector database: %w", err)
	}

	s := &VectorStore{
		db:      db,
		engine:  engine,
		primary: primaryOperator,
		dims:    engine.Dimensions(),
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	logging.Get(logging.CategoryVector).Info("Vector store opened: %s (dims=%d, engine=%s)", path, s.dims, engine.Name())
	return s, nil
}

func (s *VectorStore) migrate() error {
	docsTable := `
	CREATE TABLE IF NOT EXISTS memory_docs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		vector_id TEXT NOT NULL UNIQUE,
		document TEXT NOT NULL,
		metadata TEXT NOT NULL,
		owner TEXT DEFAULT '',
		source_table TEXT DEFAULT '',
		source_id TEXT DEFAULT '',
		category TEXT DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_memory_docs_source ON memory_docs(source_table, source_id);
	CREATE INDEX IF NOT EXISTS idx_memory_docs_owner ON memory_docs(owner);
	`
	if _, err := s.db.Exec(docsTable); err != nil {
		return fmt.Errorf("failed to create memory_docs: %w", err)
	}

	vecTable := fmt.Sprintf("CREATE VIRTUAL TABLE IF NOT EXISTS vec_memory USING vec0(embedding float[%d])", s.dims)
	if _, err := s.db.Exec(vecTable); err != nil {
		return fmt.Errorf("failed to create vec_memory (is sqlite-vec loaded?): %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *VectorStore) Close() error {
	return s.db.Close()
}

// Query embeds each query text and returns the topK nearest documents per
// text, merged and deduplicated by vector id (best distance wins).
func (s *VectorStore) Query(ctx context.Context, texts []string, topK int, filter *MetaFilter) ([]Match, error) {
	timer := logging.StartTimer(logging.CategoryVector, "Query")
	defer timer.Stop()

	if len(texts) == 0 {
		return nil, nil
	}
	if topK <= 0 {
		topK = 5
	}

	embeddings, err := s.engine.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("query embedding failed: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]int) // vector_id -> index into out
	var out []Match
	for _, emb := range embeddings {
		matches, err := s.queryOne(emb, topK, filter)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			if idx, ok := seen[m.VectorID]; ok {
				if m.Distance < out[idx].Distance {
					out[idx] = m
				}
				continue
			}
			seen[m.VectorID] = len(out)
			out = append(out, m)
		}
	}

	logging.VectorDebug("Query returned %d matches (texts=%d, topK=%d)", len(out), len(texts), topK)
	return out, nil
}

func (s *VectorStore) queryOne(emb []float32, topK int, filter *MetaFilter) ([]Match, error) {
	query := `
		SELECT d.vector_id, d.document, d.metadata,
		       vec_distance_cosine(v.embedding, ?) AS distance
		FROM vec_memory v
		JOIN memory_docs d ON d.id = v.rowid
	`
	params := []any{encodeFloat32SliceToBlob(emb)}

	var conds []string
	if filter != nil {
		for col, val := range filter.Equals {
			if !filterColumns[col] {
				return nil, fmt.Errorf("unsupported filter column: %s", col)
			}
			conds = append(conds, fmt.Sprintf("d.%s = ?", col))
			params = append(params, val)
		}
		if len(filter.ExcludeIDs) > 0 {
			placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(filter.ExcludeIDs)), ", ")
			conds = append(conds, fmt.Sprintf("d.vector_id NOT IN (%s)", placeholders))
			for _, id := range filter.ExcludeIDs {
				params = append(params, id)
			}
		}
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY distance ASC LIMIT ?"
	params = append(params, topK)

	rows, err := s.db.Query(query, params...)
	if err != nil {
		logging.Get(logging.CategoryVector).Error("Similarity query failed: %v", err)
		return nil, fmt.Errorf("similarity query failed: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		var metaJSON string
		if err := rows.Scan(&m.VectorID, &m.Document, &metaJSON, &m.Distance); err != nil {
			logging.Get(logging.CategoryVector).Warn("Failed to scan match row: %v", err)
			continue
		}
		if metaJSON != "" {
			_ = json.Unmarshal([]byte(metaJSON), &m.Metadata)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating matches: %w", err)
	}
	return matches, nil
}

// Upsert embeds and stores documents under the given vector ids. Adding a
// new document is open to any actor; replacing an existing one requires the
// primary operator or verified ownership of every targeted document.
func (s *VectorStore) Upsert(ctx context.Context, actorID string, ids, documents []string, metadatas []map[string]any) error {
	timer := logging.StartTimer(logging.CategoryVector, "Upsert")
	defer timer.Stop()

	if len(ids) != len(documents) || len(ids) != len(metadatas) {
		return fmt.Errorf("mismatched upsert lengths: %d ids, %d documents, %d metadatas",
			len(ids), len(documents), len(metadatas))
	}
	if len(ids) == 0 {
		return nil
	}

	if err := s.authorizeUpsert(actorID, ids); err != nil {
		logging.Get(logging.CategoryVector).Warn("Rejected upsert by %s: %v", actorID, err)
		return err
	}

	embeddings, err := s.engine.EmbedBatch(ctx, documents)
	if err != nil {
		return fmt.Errorf("document embedding failed: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin upsert: %w", err)
	}
	defer tx.Rollback()

	for i, id := range ids {
		meta := metadatas[i]
		metaJSON, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata for %s: %w", id, err)
		}

		_, err = tx.Exec(
			`INSERT INTO memory_docs (vector_id, document, metadata, owner, source_table, source_id, category)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(vector_id) DO UPDATE SET
			   document = excluded.document,
			   metadata = excluded.metadata,
			   owner = excluded.owner,
			   source_table = excluded.source_table,
			   source_id = excluded.source_id,
			   category = excluded.category`,
			id, documents[i], string(metaJSON),
			metaString(meta, "owner"), metaString(meta, "source_table"),
			metaString(meta, "source_id"), metaString(meta, "category"),
		)
		if err != nil {
			return fmt.Errorf("failed to upsert document %s: %w", id, err)
		}

		// Resolve the docs rowid; LastInsertId is unreliable after an
		// ON CONFLICT update, so read it back.
		var rowid int64
		if err := tx.QueryRow("SELECT id FROM memory_docs WHERE vector_id = ?", id).Scan(&rowid); err != nil {
			return fmt.Errorf("failed to resolve rowid for %s: %w", id, err)
		}

		if _, err := tx.Exec("DELETE FROM vec_memory WHERE rowid = ?", rowid); err != nil {
			return fmt.Errorf("failed to clear embedding for %s: %w", id, err)
		}
		if _, err := tx.Exec(
			"INSERT INTO vec_memory (rowid, embedding) VALUES (?, ?)",
			rowid, encodeFloat32SliceToBlob(embeddings[i]),
		); err != nil {
			return fmt.Errorf("failed to store embedding for %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit upsert: %w", err)
	}

	logging.VectorDebug("Upserted %d documents (actor=%s)", len(ids), actorID)
	return nil
}

// Delete removes documents by vector id. Primary operator only.
func (s *VectorStore) Delete(ctx context.Context, actorID string, ids []string) error {
	if actorID != s.primary {
		return fmt.Errorf("%w: semantic delete requires the primary operator", ErrNotAuthorized)
	}
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin delete: %w", err)
	}
	defer tx.Rollback()

	for _, id := range ids {
		var rowid int64
		err := tx.QueryRow("SELECT id FROM memory_docs WHERE vector_id = ?", id).Scan(&rowid)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to resolve %s for delete: %w", id, err)
		}
		if _, err := tx.Exec("DELETE FROM vec_memory WHERE rowid = ?", rowid); err != nil {
			return fmt.Errorf("failed to delete embedding %s: %w", id, err)
		}
		if _, err := tx.Exec("DELETE FROM memory_docs WHERE id = ?", rowid); err != nil {
			return fmt.Errorf("failed to delete document %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}

	logging.VectorDebug("Deleted %d documents (actor=%s)", len(ids), actorID)
	return nil
}

// Count returns the number of stored documents.
func (s *VectorStore) Count() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM memory_docs").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return n, nil
}

// authorizeUpsert classifies the batch: ids that already exist make this an
// update, which requires the primary operator or ownership of every
// targeted existing document. Pure adds are open.
func (s *VectorStore) authorizeUpsert(actorID string, ids []string) error {
	if actorID == s.primary {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, id := range ids {
		var owner string
		err := s.db.QueryRow("SELECT owner FROM memory_docs WHERE vector_id = ?", id).Scan(&owner)
		if errors.Is(err, sql.ErrNoRows) {
			continue // new document, add is open
		}
		if err != nil {
			return fmt.Errorf("ownership check failed for %s: %w", id, err)
		}
		if owner != actorID {
			return fmt.Errorf("%w: document %s is owned by %q", ErrNotAuthorized, id, owner)
		}
	}
	return nil
}

func metaString(meta map[string]any, key string) string {
	if meta == nil {
		return ""
	}
	if v, ok := meta[key]; ok {
		return fmt.Sprintf("%v", v)
	}
	return ""
}
