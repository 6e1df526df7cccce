package store

import (
	"errors"
	"path/filepath"
	"testing"
)

func testRecordStore(t *testing.T) *RecordStore {
	t.Helper()
	s, err := NewRecordStore(filepath.Join(t.TempDir(), "records.db"), "operator")
	if err != nil {
		t.Fatalf("failed to open record store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInsertIsOpenToAnyActor(t *testing.T) {
	s := testRecordStore(t)

	res, err := s.Write(VerbInsert, "deep_memory", "visitor", Row{
		"owner": "visitor", "title": "note", "content": "hello",
	}, nil)
	if err != nil {
		t.Fatalf("insert by non-primary actor failed: %v", err)
	}
	if res.RowsAffected != 1 {
		t.Errorf("rows affected %d, want 1", res.RowsAffected)
	}
}

func TestUpdateAndDeleteArePrimaryOnly(t *testing.T) {
	s := testRecordStore(t)

	if _, err := s.Write(VerbInsert, "deep_memory", "u1", Row{
		"owner": "u1", "title": "note", "content": "hello",
	}, nil); err != nil {
		t.Fatalf("seed insert failed: %v", err)
	}

	// Another user, and even the row's author, cannot update or delete.
	for _, actor := range []string{"u1", "u2"} {
		if _, err := s.Write(VerbUpdate, "deep_memory", actor, Row{"content": "edited"}, Row{"id": 1}); !errors.Is(err, ErrNotAuthorized) {
			t.Errorf("update by %s: got %v, want ErrNotAuthorized", actor, err)
		}
		if _, err := s.Write(VerbDelete, "deep_memory", actor, nil, Row{"id": 1}); !errors.Is(err, ErrNotAuthorized) {
			t.Errorf("delete by %s: got %v, want ErrNotAuthorized", actor, err)
		}
	}

	if _, err := s.Write(VerbUpdate, "deep_memory", "operator", Row{"content": "edited"}, Row{"id": 1}); err != nil {
		t.Errorf("update by primary failed: %v", err)
	}
	if _, err := s.Write(VerbDelete, "deep_memory", "operator", nil, Row{"id": 1}); err != nil {
		t.Errorf("delete by primary failed: %v", err)
	}
}

func TestProfileSelfUpdateException(t *testing.T) {
	s := testRecordStore(t)

	for _, uid := range []string{"alice", "bob"} {
		if _, err := s.Write(VerbInsert, "user_profiles", uid, Row{"user_id": uid, "notes": "new"}, nil); err != nil {
			t.Fatalf("profile insert for %s failed: %v", uid, err)
		}
	}

	// A user may update their own profile row.
	if _, err := s.Write(VerbUpdate, "user_profiles", "alice", Row{"notes": "updated"}, Row{"user_id": "alice"}); err != nil {
		t.Errorf("self-targeted profile update failed: %v", err)
	}

	// But nobody else's.
	if _, err := s.Write(VerbUpdate, "user_profiles", "alice", Row{"notes": "hijacked"}, Row{"user_id": "bob"}); !errors.Is(err, ErrNotAuthorized) {
		t.Errorf("cross-user profile update: got %v, want ErrNotAuthorized", err)
	}

	// And the exception never extends to delete.
	if _, err := s.Write(VerbDelete, "user_profiles", "alice", nil, Row{"user_id": "alice"}); !errors.Is(err, ErrNotAuthorized) {
		t.Errorf("self-targeted profile delete: got %v, want ErrNotAuthorized", err)
	}
}

func TestWriteValidation(t *testing.T) {
	s := testRecordStore(t)

	if _, err := s.Write(VerbInsert, "no_such_table", "operator", Row{"a": 1}, nil); !errors.Is(err, ErrUnknownTable) {
		t.Errorf("unknown table: got %v, want ErrUnknownTable", err)
	}
	if _, err := s.Write(VerbInsert, "deep_memory", "operator", Row{}, nil); !errors.Is(err, ErrEmptyData) {
		t.Errorf("empty insert: got %v, want ErrEmptyData", err)
	}
	if _, err := s.Write(VerbUpdate, "deep_memory", "operator", Row{"content": "x"}, Row{}); !errors.Is(err, ErrEmptyWhere) {
		t.Errorf("update without where: got %v, want ErrEmptyWhere", err)
	}
	if _, err := s.Write(VerbDelete, "deep_memory", "operator", nil, nil); !errors.Is(err, ErrEmptyWhere) {
		t.Errorf("delete without where: got %v, want ErrEmptyWhere", err)
	}
}

func TestDDLIsPrimaryOnly(t *testing.T) {
	s := testRecordStore(t)

	script := "CREATE TABLE IF NOT EXISTS scratch (id INTEGER PRIMARY KEY)"
	if err := s.DDL("visitor", script); !errors.Is(err, ErrNotAuthorized) {
		t.Errorf("DDL by non-primary: got %v, want ErrNotAuthorized", err)
	}
	if err := s.DDL("operator", script); err != nil {
		t.Errorf("DDL by primary failed: %v", err)
	}
}

func TestReadAndNewestRow(t *testing.T) {
	s := testRecordStore(t)

	for _, title := range []string{"first", "second", "third"} {
		if _, err := s.Write(VerbInsert, "deep_memory", "operator", Row{
			"owner": "operator", "title": title, "content": "c",
		}, nil); err != nil {
			t.Fatalf("insert failed: %v", err)
		}
	}

	rows, err := s.Read("SELECT title FROM deep_memory ORDER BY id")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(rows))
	}
	if rows[0]["title"] != "first" {
		t.Errorf("first row title %v, want %q", rows[0]["title"], "first")
	}

	newest, err := s.NewestRow("deep_memory")
	if err != nil {
		t.Fatalf("NewestRow failed: %v", err)
	}
	if newest["title"] != "third" {
		t.Errorf("newest title %v, want %q", newest["title"], "third")
	}
}

func TestRestartStateIsConsumedOnce(t *testing.T) {
	s := testRecordStore(t)

	if err := s.SaveRestartState("chat", []byte(`{"id":"chat"}`)); err != nil {
		t.Fatalf("SaveRestartState failed: %v", err)
	}

	state, err := s.LoadAndClearRestartState()
	if err != nil {
		t.Fatalf("LoadAndClearRestartState failed: %v", err)
	}
	if len(state) != 1 || string(state["chat"]) != `{"id":"chat"}` {
		t.Errorf("unexpected state: %v", state)
	}

	again, err := s.LoadAndClearRestartState()
	if err != nil {
		t.Fatalf("second load failed: %v", err)
	}
	if len(again) != 0 {
		t.Error("restart state survived its first load")
	}
}

func TestCacheRecordRoundTrip(t *testing.T) {
	s := testRecordStore(t)

	rec, err := s.GetCacheRecord("default", "model-a")
	if err != nil {
		t.Fatalf("GetCacheRecord failed: %v", err)
	}
	if rec != nil {
		t.Fatal("expected nil record before any Put")
	}

	if err := s.PutCacheRecord(&CacheRecord{
		Persona: "default", Model: "model-a", CacheHandle: "caches/x", InstructionHash: "abc",
	}); err != nil {
		t.Fatalf("PutCacheRecord failed: %v", err)
	}

	rec, err = s.GetCacheRecord("default", "model-a")
	if err != nil {
		t.Fatalf("GetCacheRecord failed: %v", err)
	}
	if rec == nil || rec.CacheHandle != "caches/x" {
		t.Fatalf("unexpected record: %+v", rec)
	}

	// Replacement is the only mutation.
	if err := s.PutCacheRecord(&CacheRecord{
		Persona: "default", Model: "model-a", CacheHandle: "caches/y", InstructionHash: "def",
	}); err != nil {
		t.Fatalf("replacement Put failed: %v", err)
	}
	rec, _ = s.GetCacheRecord("default", "model-a")
	if rec.CacheHandle != "caches/y" {
		t.Errorf("handle not replaced, got %s", rec.CacheHandle)
	}
}
