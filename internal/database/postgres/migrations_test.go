package postgres

import (
	"strings"
	"testing"
	"testing/fstest"
)

func TestLoadMigrations_Embedded(t *testing.T) {
	migrations, err := loadMigrations(migrationFiles)
	if err != nil {
		t.Fatalf("loadMigrations failed: %v", err)
	}
	if len(migrations) == 0 {
		t.Fatal("no embedded migrations")
	}
	if migrations[0].version != 1 || migrations[0].name != "001_fingerprint_cache.sql" {
		t.Errorf("first migration = %d %s; want 1 001_fingerprint_cache.sql", migrations[0].version, migrations[0].name)
	}
	if !strings.Contains(migrations[0].sql, "fingerprint_faces") {
		t.Error("first migration does not create fingerprint_faces")
	}
}

func TestLoadMigrations_OrderedByVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/010_later.sql":  {Data: []byte("SELECT 10")},
		"migrations/002_second.sql": {Data: []byte("SELECT 2")},
		"migrations/001_first.sql":  {Data: []byte("SELECT 1")},
		"migrations/README.md":      {Data: []byte("ignored")},
	}

	migrations, err := loadMigrations(fsys)
	if err != nil {
		t.Fatalf("loadMigrations failed: %v", err)
	}
	want := []int{1, 2, 10}
	if len(migrations) != len(want) {
		t.Fatalf("got %d migrations; want %d", len(migrations), len(want))
	}
	for i, v := range want {
		if migrations[i].version != v {
			t.Errorf("migrations[%d].version = %d; want %d", i, migrations[i].version, v)
		}
	}
	if migrations[2].sql != "SELECT 10" {
		t.Errorf("migrations[2].sql = %q; want SELECT 10", migrations[2].sql)
	}
}

func TestLoadMigrations_Errors(t *testing.T) {
	tests := []struct {
		name string
		fsys fstest.MapFS
	}{
		{"no version", fstest.MapFS{"migrations/init.sql": {Data: []byte("")}}},
		{"zero version", fstest.MapFS{"migrations/000_init.sql": {Data: []byte("")}}},
		{"duplicate version", fstest.MapFS{
			"migrations/001_a.sql":  {Data: []byte("")},
			"migrations/0001_b.sql": {Data: []byte("")},
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := loadMigrations(tc.fsys); err == nil {
				t.Error("expected error")
			}
		})
	}
}
