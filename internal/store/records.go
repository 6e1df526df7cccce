// Package store implements the structured half of the brain's memory: a
// SQLite record store executing parameterized reads and writes under a
// three-tier authorization policy, plus the restart-state and cache-record
// tables the session store and cache manager persist into.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"synapse/internal/logging"
)

// Verb classifies a write for authorization.
type Verb string

const (
	VerbInsert Verb = "insert"
	VerbUpdate Verb = "update"
	VerbDelete Verb = "delete"
)

// Row is one record-store row, keyed by column name.
type Row map[string]any

// WriteResult reports the outcome of a successful write.
type WriteResult struct {
	RowsAffected int64
	LastInsertID int64
}

// RecordStore executes parameterized statements against the relational
// store. Writes are classified by SQL verb: inserts are open, updates and
// deletes are restricted to the primary operator (with the self-profile
// exception), and schema changes are primary-operator only.
type RecordStore struct {
	db      *sql.DB
	mu      sync.RWMutex
	dbPath  string
	primary string
}

// NewRecordStore opens (and migrates) the SQLite database at the given path.
func NewRecordStore(path, primaryOperator string) (*RecordStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &RecordStore{db: db, dbPath: path, primary: primaryOperator}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	logging.Get(logging.CategoryStore).Info("Record store opened: %s", path)
	return s, nil
}

// Close closes the database connection.
func (s *RecordStore) Close() error {
	return s.db.Close()
}

// PrimaryOperator returns the configured primary operator id.
func (s *RecordStore) PrimaryOperator() string { return s.primary }

// Read executes a parameterized query and returns all rows as generic maps.
func (s *RecordStore) Read(query string, params ...any) ([]Row, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Read")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(query, params...)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Read failed: %v", err)
		return nil, fmt.Errorf("read failed: %w", err)
	}
	defer rows.Close()

	return scanRows(rows)
}

// Write builds and executes a parameterized INSERT, UPDATE or DELETE against
// an allowlisted table, after the authorization check for the acting user.
func (s *RecordStore) Write(verb Verb, table, actorID string, data Row, where Row) (*WriteResult, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Write")
	defer timer.Stop()

	if _, ok := tableKeys[table]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	if err := s.authorizeWrite(verb, table, actorID, where); err != nil {
		logging.Get(logging.CategoryStore).Warn("Rejected %s on %s by %s: %v", verb, table, actorID, err)
		return nil, err
	}

	query, params, err := buildStatement(verb, table, data, where)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	logging.StoreDebug("Executing %s on %s (actor=%s)", verb, table, actorID)
	res, err := s.db.Exec(query, params...)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Write failed on %s: %v", table, err)
		return nil, fmt.Errorf("write failed: %w", err)
	}

	affected, _ := res.RowsAffected()
	lastID, _ := res.LastInsertId()
	return &WriteResult{RowsAffected: affected, LastInsertID: lastID}, nil
}

// DDL executes a schema-changing script. Primary operator only.
func (s *RecordStore) DDL(actorID, script string) error {
	if actorID != s.primary {
		return fmt.Errorf("%w: schema changes require the primary operator", ErrNotAuthorized)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(script); err != nil {
		return fmt.Errorf("ddl failed: %w", err)
	}
	return nil
}

// NewestRow returns the most recently inserted row of a table, used to read
// back the canonical row right after an insert.
func (s *RecordStore) NewestRow(table string) (Row, error) {
	key, ok := tableKeys[table]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	rows, err := s.Read(fmt.Sprintf("SELECT * FROM %s ORDER BY %s DESC LIMIT 1", table, key))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, sql.ErrNoRows
	}
	return rows[0], nil
}

// RowByKey returns the canonical row matching the given where clause.
func (s *RecordStore) RowByKey(table string, where Row) (Row, error) {
	if _, ok := tableKeys[table]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	clause, params, err := whereClause(where)
	if err != nil {
		return nil, err
	}
	rows, err := s.Read(fmt.Sprintf("SELECT * FROM %s WHERE %s LIMIT 1", table, clause), params...)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, sql.ErrNoRows
	}
	return rows[0], nil
}

// authorizeWrite enforces the three-tier policy: open inserts, primary-only
// updates/deletes with the self-targeted profile exception.
func (s *RecordStore) authorizeWrite(verb Verb, table, actorID string, where Row) error {
	switch verb {
	case VerbInsert:
		return nil
	case VerbUpdate:
		if actorID == s.primary {
			return nil
		}
		if table == "user_profiles" && where != nil {
			if target, ok := where["user_id"].(string); ok && target == actorID {
				return nil
			}
		}
		return fmt.Errorf("%w: %s on %s requires the primary operator", ErrNotAuthorized, verb, table)
	case VerbDelete:
		if actorID == s.primary {
			return nil
		}
		return fmt.Errorf("%w: delete on %s requires the primary operator", ErrNotAuthorized, table)
	default:
		return fmt.Errorf("unknown write verb: %s", verb)
	}
}

// buildStatement renders the parameterized SQL for a write. Column order is
// sorted so statements are deterministic and testable.
func buildStatement(verb Verb, table string, data Row, where Row) (string, []any, error) {
	switch verb {
	case VerbInsert:
		if len(data) == 0 {
			return "", nil, ErrEmptyData
		}
		cols := sortedKeys(data)
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
		params := make([]any, 0, len(cols))
		for _, c := range cols {
			params = append(params, data[c])
		}
		query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ", "), placeholders)
		return query, params, nil

	case VerbUpdate:
		if len(data) == 0 {
			return "", nil, ErrEmptyData
		}
		clause, whereParams, err := whereClause(where)
		if err != nil {
			return "", nil, err
		}
		cols := sortedKeys(data)
		sets := make([]string, 0, len(cols))
		params := make([]any, 0, len(cols)+len(whereParams))
		for _, c := range cols {
			sets = append(sets, c+" = ?")
			params = append(params, data[c])
		}
		params = append(params, whereParams...)
		query := fmt.Sprintf("UPDATE %s SET %s WHERE %s", table, strings.Join(sets, ", "), clause)
		return query, params, nil

	case VerbDelete:
		clause, params, err := whereClause(where)
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("DELETE FROM %s WHERE %s", table, clause), params, nil

	default:
		return "", nil, fmt.Errorf("unknown write verb: %s", verb)
	}
}

// whereClause renders "a = ? AND b = ?" for the given keys, sorted.
func whereClause(where Row) (string, []any, error) {
	if len(where) == 0 {
		return "", nil, ErrEmptyWhere
	}
	keys := sortedKeys(where)
	conds := make([]string, 0, len(keys))
	params := make([]any, 0, len(keys))
	for _, k := range keys {
		conds = append(conds, k+" = ?")
		params = append(params, where[k])
	}
	return strings.Join(conds, " AND "), params, nil
}

func sortedKeys(m Row) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// scanRows converts a result set into generic rows.
func scanRows(rows *sql.Rows) ([]Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	var out []Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		row := make(Row, len(cols))
		for i, c := range cols {
			// Normalize byte slices so callers always see strings.
			if b, ok := values[i].([]byte); ok {
				row[c] = string(b)
			} else {
				row[c] = values[i]
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return out, nil
}
