package mvkv

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/Giulio2002/mvkv/internal/store"
)

// envSignature is the magic number for valid environments
const envSignature uint32 = 0x454E564B // "ENVK"

// LockSuffix is appended to the data file path for the lock file when the
// environment is opened with NoSubdir.
const LockSuffix = "-lock"

// Env represents a database environment: one data file, its lock file and
// the transaction machinery over them.
type Env struct {
	signature uint32
	flags     uint32
	path      string
	mu        sync.RWMutex

	st *store.Store

	// Configuration, settable before Open
	mapSize    int64
	maxDBs     int
	maxReaders int

	// Transaction state
	writeTxn *Txn       // Current write transaction (if any)
	txnMu    sync.Mutex // Protects write transaction
	txnCond  *sync.Cond // Condition variable for waiting on write txn

	// Transaction tracking for safe Close() and resize
	txnWg      sync.WaitGroup
	activeTxns atomic.Int64
}

// NewEnv creates a new environment handle.
// The environment must be opened with Open before use.
func NewEnv() (*Env, error) {
	e := &Env{
		signature:  envSignature,
		mapSize:    DefaultMapSize,
		maxDBs:     DefaultMaxDBs,
		maxReaders: DefaultMaxReaders,
	}
	e.txnCond = sync.NewCond(&e.txnMu)
	return e, nil
}

// valid returns true if the environment is valid.
func (e *Env) valid() bool {
	return e != nil && e.signature == envSignature
}

// SetMapSize sets the data file mapping size. Before Open it configures the
// initial size. After Open it resizes the data file and mapping, which
// requires zero active transactions and fails with ErrBusy otherwise.
func (e *Env) SetMapSize(size int64) error {
	if !e.valid() {
		return ErrEnvClosedError
	}
	if size <= 0 {
		return ErrInvalidConfigError
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.st == nil {
		e.mapSize = size
		return nil
	}

	if e.activeTxns.Load() != 0 {
		return ErrBusyError
	}
	if err := e.st.SetMapSize(size); err != nil {
		return fromStore(err)
	}
	e.mapSize = size
	logAt(LogLvlVerbose, "mvkv: resized map", "path", e.path, "size", size)
	return nil
}

// SetMaxDBs sets the maximum number of named databases.
// Must be called before Open.
func (e *Env) SetMaxDBs(dbs int) error {
	if !e.valid() {
		return ErrEnvClosedError
	}
	if dbs < 0 {
		return ErrInvalidConfigError
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.st != nil {
		return ErrInvalidConfigError // Already open
	}
	e.maxDBs = dbs
	return nil
}

// SetMaxReaders sets the maximum number of reader slots.
// Must be called before Open.
func (e *Env) SetMaxReaders(readers int) error {
	if !e.valid() {
		return ErrEnvClosedError
	}
	if readers <= 0 {
		return ErrInvalidConfigError
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.st != nil {
		return ErrInvalidConfigError // Already open
	}
	e.maxReaders = readers
	return nil
}

// Open opens the environment at the given path. Unless NoSubdir is set the
// path names a directory holding the data and lock files.
func (e *Env) Open(path string, flags uint32, mode os.FileMode) error {
	if !e.valid() {
		return ErrEnvClosedError
	}
	if flags&^envFlagsMask != 0 {
		return ErrInvalidConfigError
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.st != nil {
		return ErrInvalidConfigError // Already open
	}

	e.flags = flags
	e.path = path

	var dataPath, lockPath string
	if flags&NoSubdir != 0 {
		dataPath = path
		lockPath = path + LockSuffix
	} else {
		if flags&ReadOnly == 0 {
			if err := os.MkdirAll(path, mode|0700); err != nil {
				return WrapError(ErrIO, err)
			}
		}
		dataPath = filepath.Join(path, DataFileName)
		lockPath = filepath.Join(path, LockFileName)
	}

	syncMode := store.SyncDurable
	switch {
	case flags&NoSync != 0:
		syncMode = store.SyncNone
	case flags&NoMetaSync != 0:
		syncMode = store.SyncNoMeta
	}

	st, err := store.Open(dataPath, lockPath, store.Options{
		MapSize:    e.mapSize,
		MaxDBs:     e.maxDBs,
		MaxReaders: e.maxReaders,
		ReadOnly:   flags&ReadOnly != 0,
		SyncMode:   syncMode,
		FileMode:   mode,
	})
	if err != nil {
		return fromStore(err)
	}
	e.st = st
	logAt(LogLvlDebug, "mvkv: opened environment", "path", path, "flags", flags)
	return nil
}

// NewTransaction starts a read-write transaction. It blocks while another
// write transaction is active. Fails with ErrReadOnly on a read-only
// environment.
func (e *Env) NewTransaction() (*Txn, error) {
	if !e.valid() {
		return nil, ErrEnvClosedError
	}
	if e.getFlags()&ReadOnly != 0 {
		return nil, ErrReadOnlyError
	}

	e.txnMu.Lock()
	for e.writeTxn != nil {
		e.txnCond.Wait()
	}

	e.mu.RLock()
	st := e.st
	e.mu.RUnlock()
	if st == nil || !e.valid() {
		e.txnMu.Unlock()
		return nil, ErrEnvClosedError
	}

	w, err := st.Begin()
	if err != nil {
		e.txnMu.Unlock()
		return nil, fromStore(err)
	}

	txn := &Txn{
		signature: txnSignature,
		env:       e,
		w:         w,
	}
	e.writeTxn = txn
	e.txnMu.Unlock()

	e.txnWg.Add(1)
	e.activeTxns.Add(1)
	return txn, nil
}

// GetReader starts a read-only transaction against the current committed
// snapshot. Fails with ErrReadersFull when all reader slots are taken.
func (e *Env) GetReader() (*Txn, error) {
	if !e.valid() {
		return nil, ErrEnvClosedError
	}

	e.mu.RLock()
	st := e.st
	e.mu.RUnlock()
	if st == nil {
		return nil, ErrEnvClosedError
	}

	sn, err := st.Snapshot()
	if err != nil {
		return nil, fromStore(err)
	}

	txn := &Txn{
		signature: txnSignature,
		env:       e,
		readonly:  true,
		sn:        sn,
	}
	e.txnWg.Add(1)
	e.activeTxns.Add(1)
	return txn, nil
}

// finishWriteTxn releases the write slot held by a top-level write txn.
func (e *Env) finishWriteTxn(txn *Txn) {
	e.txnMu.Lock()
	if e.writeTxn == txn {
		e.writeTxn = nil
	}
	e.txnCond.Signal()
	e.txnMu.Unlock()

	e.activeTxns.Add(-1)
	e.txnWg.Done()
}

// finishReadTxn releases the reader slot of a read-only txn.
func (e *Env) finishReadTxn(txn *Txn) {
	txn.sn.Release()
	e.activeTxns.Add(-1)
	e.txnWg.Done()
}

// waitNoWriter blocks until no write transaction is active, then runs fn
// while holding the write slot closed.
func (e *Env) waitNoWriter(fn func() error) error {
	e.txnMu.Lock()
	for e.writeTxn != nil {
		e.txnCond.Wait()
	}
	err := fn()
	e.txnCond.Signal()
	e.txnMu.Unlock()
	return err
}

// CreateDB opens the named database, creating it if needed. The name must
// not be empty. Opening an existing database with different flags fails
// with ErrIncompatible; creating one past maxDBs fails with ErrDBsFull.
func (e *Env) CreateDB(name string, flags uint32) (DbHandle, error) {
	if !e.valid() {
		return DbHandle{}, ErrEnvClosedError
	}
	if name == "" {
		return DbHandle{}, ErrInvalidConfigError
	}
	return e.openDB(name, flags, e.getFlags()&ReadOnly == 0)
}

// GetDefaultDB returns the unnamed database. Flags may be set while the
// database is still empty; afterwards they must match.
func (e *Env) GetDefaultDB(flags uint32) (DbHandle, error) {
	if !e.valid() {
		return DbHandle{}, ErrEnvClosedError
	}
	return e.openDB("", flags, e.getFlags()&ReadOnly == 0)
}

func (e *Env) openDB(name string, flags uint32, create bool) (DbHandle, error) {
	e.mu.RLock()
	st := e.st
	e.mu.RUnlock()
	if st == nil {
		return DbHandle{}, ErrEnvClosedError
	}

	var dbi uint32
	err := e.waitNoWriter(func() error {
		var err error
		dbi, err = st.OpenDBI(name, flags, create)
		return err
	})
	if err != nil {
		return DbHandle{}, fromStore(err)
	}
	return DbHandle{dbi: dbi, name: name}, nil
}

// SetCompare installs a custom key comparator for a database. It waits for
// the current write transaction to finish and rebuilds the committed index;
// subsequent transactions observe the new order. Comparators are not
// persisted and must be registered again after reopening the environment.
func (e *Env) SetCompare(h DbHandle, cmp CmpFunc) error {
	return e.setCmp(h, cmp, nil)
}

// SetDupCompare installs a custom duplicate comparator for a DupSort
// database. Same contract as SetCompare.
func (e *Env) SetDupCompare(h DbHandle, dcmp CmpFunc) error {
	return e.setCmp(h, nil, dcmp)
}

func (e *Env) setCmp(h DbHandle, cmp, dcmp CmpFunc) error {
	if !e.valid() {
		return ErrEnvClosedError
	}
	e.mu.RLock()
	st := e.st
	e.mu.RUnlock()
	if st == nil {
		return ErrEnvClosedError
	}
	return fromStore(e.waitNoWriter(func() error {
		if cmp != nil {
			return st.SetCompare(h.dbi, store.Cmp(cmp))
		}
		return st.SetDupCompare(h.dbi, store.Cmp(dcmp))
	}))
}

// Stat holds environment statistics.
type Stat struct {
	Entries    uint64 // Entries in the default database plus named databases
	DBs        uint32 // Number of named databases
	MapSize    int64  // Current mapping size
	LastTxnID  uint64 // Last committed transaction id
	MaxReaders uint32 // Reader slot capacity
	NumReaders uint32 // Reader slots in use
}

// Stat returns statistics about the environment. Entries counts the default
// database's entries plus one per named database, mirroring how the default
// database doubles as the catalog.
func (e *Env) Stat() (*Stat, error) {
	if !e.valid() {
		return nil, ErrEnvClosedError
	}
	e.mu.RLock()
	st := e.st
	e.mu.RUnlock()
	if st == nil {
		return nil, ErrEnvClosedError
	}

	defaultLen, err := st.EntriesLen(0)
	if err != nil {
		return nil, fromStore(err)
	}
	named := st.DBICount()
	return &Stat{
		Entries:    uint64(defaultLen + named),
		DBs:        uint32(named),
		MapSize:    st.MapSize(),
		LastTxnID:  st.LastTxnID(),
		MaxReaders: uint32(st.MaxReaders()),
		NumReaders: uint32(st.ActiveReaders()),
	}, nil
}

// getFlags reads the environment flags under the lock.
func (e *Env) getFlags() uint32 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.flags
}

// GetFlags returns the environment flags.
func (e *Env) GetFlags() (uint32, error) {
	if !e.valid() {
		return 0, ErrEnvClosedError
	}
	return e.getFlags(), nil
}

// SetFlags sets flags in the environment.
func (e *Env) SetFlags(flags uint32) error {
	if !e.valid() {
		return ErrEnvClosedError
	}
	if flags&^envFlagsMask != 0 {
		return ErrInvalidConfigError
	}
	e.mu.Lock()
	e.flags |= flags
	e.mu.Unlock()
	return nil
}

// UnsetFlags clears flags in the environment.
func (e *Env) UnsetFlags(flags uint32) error {
	if !e.valid() {
		return ErrEnvClosedError
	}
	e.mu.Lock()
	e.flags &^= flags
	e.mu.Unlock()
	return nil
}

// Path returns the environment path.
func (e *Env) Path() string {
	return e.path
}

// MaxDBs returns the named database limit.
func (e *Env) MaxDBs() int {
	return e.maxDBs
}

// MaxReaders returns the reader slot capacity.
func (e *Env) MaxReaders() int {
	return e.maxReaders
}

// Sync flushes the environment to disk. If force is true the flush is
// synchronous.
func (e *Env) Sync(force bool) error {
	if !e.valid() {
		return ErrEnvClosedError
	}
	e.mu.RLock()
	st := e.st
	e.mu.RUnlock()
	if st == nil {
		return ErrEnvClosedError
	}
	return fromStore(st.Sync(!force))
}

// ReaderCheck clears reader slots left behind by dead processes.
// Returns the number of stale readers cleared.
func (e *Env) ReaderCheck() (int, error) {
	if !e.valid() {
		return 0, ErrEnvClosedError
	}
	e.mu.RLock()
	st := e.st
	e.mu.RUnlock()
	if st == nil {
		return 0, ErrEnvClosedError
	}
	n := st.CleanStaleReaders()
	if n > 0 {
		logAt(LogLvlNotice, "mvkv: cleared stale readers", "count", n)
	}
	return n, nil
}

// Close closes the environment and releases resources.
// Waits for all active transactions to finish before unmapping.
func (e *Env) Close() {
	if !e.valid() {
		return
	}

	// Mark as closing first to prevent new transactions
	e.mu.Lock()
	e.signature = 0
	e.mu.Unlock()

	// Wait for all active transactions to finish
	e.txnWg.Wait()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.st != nil {
		if err := e.st.Close(); err != nil {
			logAt(LogLvlError, "mvkv: close failed", "path", e.path, "err", err)
		}
		e.st = nil
	}
}
