package mvkv

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
)

// newTestEnv opens a fresh environment in a temp directory.
func newTestEnv(t *testing.T, flags uint32) *Env {
	t.Helper()
	env, err := NewEnv()
	if err != nil {
		t.Fatalf("NewEnv failed: %v", err)
	}
	if err := env.Open(t.TempDir(), flags, 0644); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(env.Close)
	return env
}

// put stores key/val in a single write transaction.
func put(t *testing.T, env *Env, h DbHandle, key, val []byte) {
	t.Helper()
	err := env.Update(func(txn *Txn) error {
		return txn.Bind(h).Set(key, val)
	})
	if err != nil {
		t.Fatalf("put %q failed: %v", key, err)
	}
}

// get reads key in a single read transaction and returns a copy.
func get(t *testing.T, env *Env, h DbHandle, key []byte) ([]byte, error) {
	t.Helper()
	var out []byte
	err := env.View(func(txn *Txn) error {
		v, err := txn.Bind(h).Get(key)
		if err != nil {
			return err
		}
		out, err = v.BytesCopy()
		return err
	})
	return out, err
}

func TestNewEnv(t *testing.T) {
	env, err := NewEnv()
	if err != nil {
		t.Fatalf("NewEnv failed: %v", err)
	}
	if env == nil {
		t.Fatal("NewEnv returned nil")
	}
	if !env.valid() {
		t.Fatal("environment is not valid")
	}
}

func TestOpenCloseNoSubdir(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	env, err := NewEnv()
	if err != nil {
		t.Fatalf("NewEnv failed: %v", err)
	}
	if err := env.Open(dbPath, NoSubdir, 0644); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if env.Path() != dbPath {
		t.Errorf("Path mismatch: got %q, want %q", env.Path(), dbPath)
	}
	env.Close()

	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("data file missing: %v", err)
	}
	if _, err := os.Stat(dbPath + LockSuffix); err != nil {
		t.Errorf("lock file missing: %v", err)
	}
}

func TestOpenInvalidFlags(t *testing.T) {
	env, err := NewEnv()
	if err != nil {
		t.Fatalf("NewEnv failed: %v", err)
	}
	if err := env.Open(t.TempDir(), 0xdeadbeef, 0644); Code(err) != ErrInvalidConfig {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestReopenPersistence(t *testing.T) {
	dir := t.TempDir()

	env, err := NewEnv()
	if err != nil {
		t.Fatalf("NewEnv failed: %v", err)
	}
	if err := env.Open(dir, 0, 0644); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	h, err := env.GetDefaultDB(0)
	if err != nil {
		t.Fatalf("GetDefaultDB failed: %v", err)
	}
	put(t, env, h, []byte("alpha"), []byte("1"))
	put(t, env, h, []byte("beta"), []byte("2"))
	env.Close()

	env, err = NewEnv()
	if err != nil {
		t.Fatalf("NewEnv failed: %v", err)
	}
	if err := env.Open(dir, 0, 0644); err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer env.Close()

	h, err = env.GetDefaultDB(0)
	if err != nil {
		t.Fatalf("GetDefaultDB after reopen failed: %v", err)
	}
	v, err := get(t, env, h, []byte("alpha"))
	if err != nil {
		t.Fatalf("get after reopen failed: %v", err)
	}
	if string(v) != "1" {
		t.Errorf("got %q, want %q", v, "1")
	}
}

func TestReadOnlyEnv(t *testing.T) {
	dir := t.TempDir()

	env, err := NewEnv()
	if err != nil {
		t.Fatalf("NewEnv failed: %v", err)
	}
	if err := env.Open(dir, 0, 0644); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	h, err := env.GetDefaultDB(0)
	if err != nil {
		t.Fatalf("GetDefaultDB failed: %v", err)
	}
	put(t, env, h, []byte("k"), []byte("v"))
	env.Close()

	env, err = NewEnv()
	if err != nil {
		t.Fatalf("NewEnv failed: %v", err)
	}
	if err := env.Open(dir, ReadOnly, 0644); err != nil {
		t.Fatalf("read-only open failed: %v", err)
	}
	defer env.Close()

	if _, err := env.NewTransaction(); Code(err) != ErrReadOnly {
		t.Errorf("expected ErrReadOnly, got %v", err)
	}

	h, err = env.GetDefaultDB(0)
	if err != nil {
		t.Fatalf("GetDefaultDB failed: %v", err)
	}
	v, err := get(t, env, h, []byte("k"))
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(v) != "v" {
		t.Errorf("got %q, want %q", v, "v")
	}
}

func TestEnvStat(t *testing.T) {
	env := newTestEnv(t, 0)

	h, err := env.GetDefaultDB(0)
	if err != nil {
		t.Fatalf("GetDefaultDB failed: %v", err)
	}
	put(t, env, h, []byte("a"), []byte("1"))
	put(t, env, h, []byte("b"), []byte("2"))

	if _, err := env.CreateDB("named", 0); err != nil {
		t.Fatalf("CreateDB failed: %v", err)
	}

	st, err := env.Stat()
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if st.DBs != 1 {
		t.Errorf("DBs: got %d, want 1", st.DBs)
	}
	if st.Entries != 3 {
		t.Errorf("Entries: got %d, want 3", st.Entries)
	}
	if st.MapSize != DefaultMapSize {
		t.Errorf("MapSize: got %d, want %d", st.MapSize, DefaultMapSize)
	}
	if st.LastTxnID == 0 {
		t.Error("LastTxnID should be nonzero after commits")
	}
}

func TestSetMapSizeBusy(t *testing.T) {
	env := newTestEnv(t, 0)

	txn, err := env.GetReader()
	if err != nil {
		t.Fatalf("GetReader failed: %v", err)
	}
	if err := env.SetMapSize(DefaultMapSize * 2); !IsBusy(err) {
		t.Errorf("expected ErrBusy with an active reader, got %v", err)
	}
	txn.Abort()

	if err := env.SetMapSize(DefaultMapSize * 2); err != nil {
		t.Fatalf("SetMapSize failed: %v", err)
	}
	st, err := env.Stat()
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if st.MapSize != DefaultMapSize*2 {
		t.Errorf("MapSize: got %d, want %d", st.MapSize, DefaultMapSize*2)
	}
}

func TestMapFullThenResize(t *testing.T) {
	env, err := NewEnv()
	if err != nil {
		t.Fatalf("NewEnv failed: %v", err)
	}
	if err := env.SetMapSize(0x1000); err != nil {
		t.Fatalf("SetMapSize failed: %v", err)
	}
	if err := env.Open(t.TempDir(), 0, 0644); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer env.Close()

	h, err := env.GetDefaultDB(0)
	if err != nil {
		t.Fatalf("GetDefaultDB failed: %v", err)
	}

	val := make([]byte, 256)
	fill := func() error {
		txn, err := env.NewTransaction()
		if err != nil {
			return err
		}
		db := txn.Bind(h)
		for i := byte(0); i < 64; i++ {
			if err := db.Set([]byte{'k', i}, val); err != nil {
				txn.Abort()
				return err
			}
		}
		return txn.Commit()
	}

	if err := fill(); !IsMapFull(err) {
		t.Fatalf("expected ErrMapFull on a 4 KiB map, got %v", err)
	}
	if err := env.SetMapSize(1 << 20); err != nil {
		t.Fatalf("resize failed: %v", err)
	}
	if err := fill(); err != nil {
		t.Fatalf("fill after resize failed: %v", err)
	}
	if _, err := get(t, env, h, []byte{'k', 63}); err != nil {
		t.Errorf("read after resize failed: %v", err)
	}
}

func TestMaxDBsLimit(t *testing.T) {
	env, err := NewEnv()
	if err != nil {
		t.Fatalf("NewEnv failed: %v", err)
	}
	if err := env.SetMaxDBs(1); err != nil {
		t.Fatalf("SetMaxDBs failed: %v", err)
	}
	if err := env.Open(t.TempDir(), 0, 0644); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer env.Close()

	if _, err := env.CreateDB("one", 0); err != nil {
		t.Fatalf("CreateDB failed: %v", err)
	}
	if _, err := env.CreateDB("two", 0); Code(err) != ErrDBsFull {
		t.Errorf("expected ErrDBsFull, got %v", err)
	}
	// Reopening an existing database does not count against the limit.
	if _, err := env.CreateDB("one", 0); err != nil {
		t.Errorf("reopening existing database failed: %v", err)
	}
}

func TestDBFlagsMismatch(t *testing.T) {
	env := newTestEnv(t, 0)

	if _, err := env.CreateDB("dup", DupSort); err != nil {
		t.Fatalf("CreateDB failed: %v", err)
	}
	if _, err := env.CreateDB("dup", 0); Code(err) != ErrIncompatible {
		t.Errorf("expected ErrIncompatible, got %v", err)
	}
	if _, err := env.CreateDB("dup", DupSort); err != nil {
		t.Errorf("matching flags should reopen: %v", err)
	}
}

func TestReaderSlotLimit(t *testing.T) {
	env, err := NewEnv()
	if err != nil {
		t.Fatalf("NewEnv failed: %v", err)
	}
	if err := env.SetMaxReaders(2); err != nil {
		t.Fatalf("SetMaxReaders failed: %v", err)
	}
	if err := env.Open(t.TempDir(), 0, 0644); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer env.Close()

	r1, err := env.GetReader()
	if err != nil {
		t.Fatalf("first reader failed: %v", err)
	}
	r2, err := env.GetReader()
	if err != nil {
		t.Fatalf("second reader failed: %v", err)
	}
	if _, err := env.GetReader(); Code(err) != ErrReadersFull {
		t.Errorf("expected ErrReadersFull, got %v", err)
	}
	r1.Abort()
	r3, err := env.GetReader()
	if err != nil {
		t.Fatalf("reader after release failed: %v", err)
	}
	r3.Abort()
	r2.Abort()
}

func TestReaderSlotLimitBeforeFirstCommit(t *testing.T) {
	env, err := NewEnv()
	if err != nil {
		t.Fatalf("NewEnv failed: %v", err)
	}
	if err := env.SetMaxReaders(1); err != nil {
		t.Fatalf("SetMaxReaders failed: %v", err)
	}
	if err := env.Open(t.TempDir(), 0, 0644); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer env.Close()

	// Readers of transaction id 0 must still hold their slot.
	r1, err := env.GetReader()
	if err != nil {
		t.Fatalf("first reader failed: %v", err)
	}
	if _, err := env.GetReader(); Code(err) != ErrReadersFull {
		t.Errorf("expected ErrReadersFull, got %v", err)
	}
	r1.Abort()
	r2, err := env.GetReader()
	if err != nil {
		t.Fatalf("reader after release failed: %v", err)
	}
	r2.Abort()
}

func TestConcurrentReadersAndWriter(t *testing.T) {
	env := newTestEnv(t, 0)

	h, err := env.GetDefaultDB(0)
	if err != nil {
		t.Fatalf("GetDefaultDB failed: %v", err)
	}
	put(t, env, h, []byte("shared"), U64BE(0))

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				err := env.View(func(txn *Txn) error {
					v, err := txn.Bind(h).Get([]byte("shared"))
					if err != nil {
						return err
					}
					_, err = v.Uint64()
					return err
				})
				if err != nil {
					t.Errorf("reader failed: %v", err)
					return
				}
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := uint64(1); i <= 50; i++ {
			err := env.Update(func(txn *Txn) error {
				return txn.Bind(h).Set([]byte("shared"), U64BE(i))
			})
			if err != nil {
				t.Errorf("writer failed: %v", err)
				return
			}
		}
	}()

	wg.Wait()

	v, err := get(t, env, h, []byte("shared"))
	if err != nil {
		t.Fatalf("final read failed: %v", err)
	}
	if len(v) != 8 {
		t.Fatalf("final value has length %d", len(v))
	}
}

func TestEnvFlags(t *testing.T) {
	env := newTestEnv(t, NoSync)

	flags, err := env.GetFlags()
	if err != nil {
		t.Fatalf("GetFlags failed: %v", err)
	}
	if flags&NoSync == 0 {
		t.Error("NoSync should be set")
	}
	if err := env.SetFlags(NoMetaSync); err != nil {
		t.Fatalf("SetFlags failed: %v", err)
	}
	if err := env.UnsetFlags(NoSync); err != nil {
		t.Fatalf("UnsetFlags failed: %v", err)
	}
	flags, _ = env.GetFlags()
	if flags&NoSync != 0 || flags&NoMetaSync == 0 {
		t.Errorf("unexpected flags %#x", flags)
	}
}

func TestEnvFlagsConcurrent(t *testing.T) {
	env := newTestEnv(t, 0)
	h, err := env.GetDefaultDB(0)
	if err != nil {
		t.Fatalf("GetDefaultDB failed: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			env.SetFlags(NoMetaSync)
			env.UnsetFlags(NoMetaSync)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			err := env.Update(func(txn *Txn) error {
				return txn.Bind(h).Set([]byte("k"), []byte("v"))
			})
			if err != nil {
				t.Errorf("Update failed: %v", err)
				return
			}
		}
	}()
	wg.Wait()
}

func TestEnvSync(t *testing.T) {
	env := newTestEnv(t, NoSync)
	h, err := env.GetDefaultDB(0)
	if err != nil {
		t.Fatalf("GetDefaultDB failed: %v", err)
	}
	put(t, env, h, []byte("k"), []byte("v"))
	if err := env.Sync(true); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
}

func TestUseAfterClose(t *testing.T) {
	env, err := NewEnv()
	if err != nil {
		t.Fatalf("NewEnv failed: %v", err)
	}
	if err := env.Open(t.TempDir(), 0, 0644); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	env.Close()

	if _, err := env.GetReader(); Code(err) != ErrEnvClosed {
		t.Errorf("expected ErrEnvClosed, got %v", err)
	}
	if _, err := env.NewTransaction(); Code(err) != ErrEnvClosed {
		t.Errorf("expected ErrEnvClosed, got %v", err)
	}
	// Close is idempotent.
	env.Close()
}
