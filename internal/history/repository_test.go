package history

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// testDB creates a temporary SQLite database with the state_history
// schema applied. The database file is cleaned up when the test completes.
func testDB(t *testing.T) *sql.DB {
	t.Helper()

	f, err := os.CreateTemp("", "history-test-*.db")
	if err != nil {
		t.Fatalf("creating temp db: %v", err)
	}
	dbPath := f.Name()
	f.Close()
	t.Cleanup(func() { os.Remove(dbPath) })

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	schema := `
		CREATE TABLE state_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			device_id TEXT NOT NULL,
			channel TEXT NOT NULL,
			channel_group INTEGER NOT NULL DEFAULT 0,
			value TEXT NOT NULL,
			recorded_at TEXT NOT NULL
		);
		CREATE INDEX idx_state_history_device ON state_history (device_id, recorded_at DESC);
	`
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("applying schema: %v", err)
	}

	return db
}

func TestRecord_AssignsIDAndTimestamp(t *testing.T) {
	repo := NewSQLiteRepository(testDB(t))

	entry := &Entry{
		DeviceID: "1a2b3c",
		Channel:  "on_off_switch",
		Group:    1,
		Value:    "255",
	}
	if err := repo.Record(context.Background(), entry); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	if entry.ID == 0 {
		t.Error("Record() did not assign ID")
	}
	if entry.RecordedAt.IsZero() {
		t.Error("Record() did not assign RecordedAt")
	}
}

func TestList_FiltersAndPagination(t *testing.T) {
	repo := NewSQLiteRepository(testDB(t))
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	seed := []Entry{
		{DeviceID: "1a2b3c", Channel: "level", Group: 1, Value: "128", RecordedAt: base},
		{DeviceID: "1a2b3c", Channel: "on_off_switch", Group: 1, Value: "255", RecordedAt: base.Add(time.Minute)},
		{DeviceID: "4d5e6f", Channel: "on_off_switch", Group: 1, Value: "0", RecordedAt: base.Add(2 * time.Minute)},
		{DeviceID: "1a2b3c", Channel: "level", Group: 1, Value: "64", RecordedAt: base.Add(3 * time.Minute)},
	}
	for i := range seed {
		if err := repo.Record(context.Background(), &seed[i]); err != nil {
			t.Fatalf("seeding entry %d: %v", i, err)
		}
	}

	t.Run("by device", func(t *testing.T) {
		res, err := repo.List(context.Background(), Filter{DeviceID: "1a2b3c"})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if res.Total != 3 {
			t.Errorf("Total = %d, want 3", res.Total)
		}
		// Newest first.
		if res.Entries[0].Value != "64" {
			t.Errorf("Entries[0].Value = %q, want %q", res.Entries[0].Value, "64")
		}
	})

	t.Run("by channel", func(t *testing.T) {
		res, err := repo.List(context.Background(), Filter{DeviceID: "1a2b3c", Channel: "level"})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if res.Total != 2 {
			t.Errorf("Total = %d, want 2", res.Total)
		}
	})

	t.Run("time range", func(t *testing.T) {
		res, err := repo.List(context.Background(), Filter{
			Since: base.Add(time.Minute),
			Until: base.Add(3 * time.Minute),
		})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if res.Total != 2 {
			t.Errorf("Total = %d, want 2", res.Total)
		}
	})

	t.Run("pagination", func(t *testing.T) {
		res, err := repo.List(context.Background(), Filter{Limit: 2, Offset: 2})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if res.Total != 4 {
			t.Errorf("Total = %d, want 4", res.Total)
		}
		if len(res.Entries) != 2 {
			t.Errorf("len(Entries) = %d, want 2", len(res.Entries))
		}
	})

	t.Run("no matches returns empty slice", func(t *testing.T) {
		res, err := repo.List(context.Background(), Filter{DeviceID: "zz9999"})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if res.Entries == nil {
			t.Error("Entries = nil, want empty slice")
		}
		if res.Total != 0 {
			t.Errorf("Total = %d, want 0", res.Total)
		}
	})
}

func TestPrune(t *testing.T) {
	repo := NewSQLiteRepository(testDB(t))
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		entry := Entry{
			DeviceID:   "1a2b3c",
			Channel:    "level",
			Value:      "1",
			RecordedAt: base.AddDate(0, 0, i),
		}
		if err := repo.Record(context.Background(), &entry); err != nil {
			t.Fatalf("seeding: %v", err)
		}
	}

	n, err := repo.Prune(context.Background(), base.AddDate(0, 0, 3))
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if n != 3 {
		t.Errorf("Prune() removed %d rows, want 3", n)
	}

	res, err := repo.List(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Total != 2 {
		t.Errorf("Total after prune = %d, want 2", res.Total)
	}
}
