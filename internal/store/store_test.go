package store

import (
	"path/filepath"
	"testing"

	"github.com/dgraph-io/badger/v4"
)

func TestOpen_InMemory(t *testing.T) {
	db, err := Open(InMemoryConfig())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()

	err = db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte("k"), []byte("v"))
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
}

func TestOpen_Persistent(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")

	db, err := Open(DefaultConfig(dir))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte("k"), []byte("v"))
	}); err != nil {
		t.Fatal(err)
	}
	db.Close()

	db, err = Open(DefaultConfig(dir))
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer db.Close()
	err = db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte("k"))
		if err != nil {
			return err
		}
		v, err := item.ValueCopy(nil)
		if string(v) != "v" {
			t.Errorf("value = %q, want v", v)
		}
		return err
	})
	if err != nil {
		t.Errorf("View() error = %v", err)
	}
}

func TestOpen_RequiresPath(t *testing.T) {
	if _, err := Open(Config{}); err == nil {
		t.Error("Open() with empty path should fail")
	}
}
