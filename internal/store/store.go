// Package store implements the persistence engine behind mvkv environments.
//
// The data file is a memory-mapped append-only record log. A 64 byte header
// tracks the committed watermark and the last committed transaction id; the
// records after it describe puts, deletes and database creations. On open the
// log is replayed into per-database copy-on-write btrees, which afterwards
// serve every snapshot: readers share the committed trees, writers work on
// O(1) clones and publish them at commit, after the new records have been
// synced to disk.
package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"
	"unsafe"

	"github.com/Giulio2002/mvkv/mmap"
	"github.com/google/btree"
)

// Database flag bits, persisted with each database record.
const (
	DBReverseKey uint32 = 0x02
	DBDupSort    uint32 = 0x04
	DBIntegerKey uint32 = 0x08
	DBDupFixed   uint32 = 0x10
	DBIntegerDup uint32 = 0x20
	DBReverseDup uint32 = 0x40

	dbFlagsMask = DBReverseKey | DBDupSort | DBIntegerKey | DBDupFixed | DBIntegerDup | DBReverseDup
)

// Put flag bits.
const (
	PutNoOverwrite uint32 = 0x10
	PutNoDupData   uint32 = 0x20
	PutAppend      uint32 = 0x20000
	PutAppendDup   uint32 = 0x40000
)

// SyncMode controls how much of the commit is flushed to disk.
type SyncMode int

const (
	// SyncDurable flushes records and header synchronously at every commit.
	SyncDurable SyncMode = iota
	// SyncNoMeta flushes the records but lets the header reach disk lazily.
	SyncNoMeta
	// SyncNone leaves flushing entirely to the OS.
	SyncNone
)

// Engine errors. The public package translates these into coded errors.
var (
	ErrNotFound      = errors.New("store: key not found")
	ErrKeyExists     = errors.New("store: key exists")
	ErrMapFull       = errors.New("store: map full")
	ErrDBsFull       = errors.New("store: max databases reached")
	ErrFlagsMismatch = errors.New("store: database flags mismatch")
	ErrReadersFull   = errors.New("store: reader slots exhausted")
	ErrReadOnly      = errors.New("store: read-only")
	ErrCorrupted     = errors.New("store: data file corrupted")
	ErrInvalid       = errors.New("store: invalid argument")
	ErrLocked        = errors.New("store: data file locked by another process")
	ErrClosed        = errors.New("store: closed")
)

// Data file header layout (64 bytes).
//
//	Offset  Size  Field
//	0       4     magic
//	4       4     format version
//	8       8     committed watermark (end offset of committed records)
//	16      8     last committed transaction id
//	24      40    reserved
const (
	storeMagic   uint32 = 0x6D766B76 // "mvkv"
	storeVersion uint32 = 1

	headerSize = 64

	offMagic        = 0
	offVersion      = 4
	offCommittedEnd = 8
	offLastTxnID    = 16
)

// Record layout: 1 byte kind, then little-endian dbi id, key length and
// value length, then the key and value bytes.
const (
	recHeaderSize = 13

	recPut    byte = 1
	recDel    byte = 2
	recDelDup byte = 3
	recDBI    byte = 4
)

// maxKeySize bounds key length, matching common mmap KV stores.
const maxKeySize = 511

// pageSize is the msync alignment granularity.
const pageSize = 4096

// Options configures a Store.
type Options struct {
	MapSize    int64
	MaxDBs     int
	MaxReaders int
	ReadOnly   bool
	SyncMode   SyncMode
	FileMode   os.FileMode
}

// Store is a single data file with its mapping, lock file and indexes.
type Store struct {
	opts     Options
	dataPath string

	file *os.File
	mm   *mmap.Map
	lock *lockFile

	// wmu serializes writers with database creation, comparator changes
	// and resizes.
	wmu sync.Mutex

	// mu protects the fields below.
	mu           sync.Mutex
	closed       bool
	committedEnd int64
	lastTxnID    uint64
	dbis         []*dbiState
	byName       map[string]uint32
	trees        []*btree.BTreeG[Entry]
}

// Open opens or creates the data file at dataPath, replaying its records.
// lockPath is the lock file used for reader slots and the cross-process
// writer lock.
func Open(dataPath, lockPath string, opts Options) (*Store, error) {
	if opts.MapSize < headerSize {
		return nil, fmt.Errorf("%w: map size %d too small", ErrInvalid, opts.MapSize)
	}
	if opts.FileMode == 0 {
		opts.FileMode = 0644
	}

	flag := os.O_RDWR | os.O_CREATE
	if opts.ReadOnly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(dataPath, flag, opts.FileMode)
	if err != nil {
		return nil, err
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	fileSize := fi.Size()

	mapSize := opts.MapSize
	if fileSize > mapSize {
		mapSize = fileSize
	}
	if !opts.ReadOnly && fileSize < mapSize {
		if err := f.Truncate(mapSize); err != nil {
			f.Close()
			return nil, err
		}
	}
	if opts.ReadOnly && fileSize < headerSize {
		f.Close()
		return nil, fmt.Errorf("%w: file too small", ErrCorrupted)
	}

	mm, err := mmap.New(int(f.Fd()), 0, int(mapSize), !opts.ReadOnly)
	if err != nil {
		f.Close()
		return nil, err
	}
	mm.AdviseRandom()

	lf, err := openLockFile(lockPath, opts.MaxReaders, !opts.ReadOnly)
	if err != nil {
		mm.Close()
		f.Close()
		return nil, err
	}
	if !opts.ReadOnly {
		ok, err := lf.tryLockWriter()
		if err == nil && !ok {
			err = ErrLocked
		}
		if err != nil {
			lf.close()
			mm.Close()
			f.Close()
			return nil, err
		}
	}

	s := &Store{
		opts:     opts,
		dataPath: dataPath,
		file:     f,
		mm:       mm,
		lock:     lf,
		byName:   make(map[string]uint32),
	}

	data := mm.Data()
	if fileSize < headerSize || binary.LittleEndian.Uint32(data[offMagic:]) == 0 {
		if opts.ReadOnly {
			// The mapping is not writable, so an uninitialized or torn
			// file cannot be repaired here.
			s.Close()
			return nil, fmt.Errorf("%w: uninitialized data file", ErrCorrupted)
		}
		// Fresh file
		s.committedEnd = headerSize
		s.lastTxnID = 0
		s.registerDBI("", 0)
		binary.LittleEndian.PutUint32(data[offMagic:], storeMagic)
		binary.LittleEndian.PutUint32(data[offVersion:], storeVersion)
		s.writeHeader()
		if err := s.syncHeader(); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	}

	if binary.LittleEndian.Uint32(data[offMagic:]) != storeMagic {
		s.Close()
		return nil, fmt.Errorf("%w: bad magic", ErrCorrupted)
	}
	if v := binary.LittleEndian.Uint32(data[offVersion:]); v != storeVersion {
		s.Close()
		return nil, fmt.Errorf("%w: unsupported format version %d", ErrCorrupted, v)
	}

	s.committedEnd = int64(binary.LittleEndian.Uint64(data[offCommittedEnd:]))
	s.lastTxnID = binary.LittleEndian.Uint64(data[offLastTxnID:])
	if s.committedEnd < headerSize || s.committedEnd > mm.Size() {
		s.Close()
		return nil, fmt.Errorf("%w: watermark %d out of range", ErrCorrupted, s.committedEnd)
	}

	s.registerDBI("", 0)
	if err := s.replay(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// registerDBI appends a new database state with flag-derived comparators and
// an empty tree. Caller holds mu or runs before the store is shared.
func (s *Store) registerDBI(name string, flags uint32) *dbiState {
	db := &dbiState{
		id:    uint32(len(s.dbis)),
		name:  name,
		flags: flags,
		cmp:   defaultKeyCmp(flags),
		dcmp:  defaultDupCmp(flags),
	}
	s.dbis = append(s.dbis, db)
	s.trees = append(s.trees, db.newTree())
	s.byName[name] = db.id
	return db
}

// replay rebuilds all indexes from the committed records.
func (s *Store) replay() error {
	data := s.mm.Data()
	off := int64(headerSize)
	for off < s.committedEnd {
		if off+recHeaderSize > s.committedEnd {
			return fmt.Errorf("%w: truncated record at %d", ErrCorrupted, off)
		}
		kind := data[off]
		dbi := binary.LittleEndian.Uint32(data[off+1:])
		klen := int64(binary.LittleEndian.Uint32(data[off+5:]))
		vlen := int64(binary.LittleEndian.Uint32(data[off+9:]))
		if off+recHeaderSize+klen+vlen > s.committedEnd {
			return fmt.Errorf("%w: truncated record at %d", ErrCorrupted, off)
		}
		key := data[off+recHeaderSize : off+recHeaderSize+klen : off+recHeaderSize+klen]
		val := data[off+recHeaderSize+klen : off+recHeaderSize+klen+vlen : off+recHeaderSize+klen+vlen]
		if vlen == 0 {
			val = nil
		}

		switch kind {
		case recDBI:
			flags := binary.LittleEndian.Uint32(val)
			if dbi == 0 {
				db := s.dbis[0]
				db.flags = flags
				db.cmp = defaultKeyCmp(flags)
				db.dcmp = defaultDupCmp(flags)
				s.trees[0] = db.newTree()
			} else if int(dbi) == len(s.dbis) {
				s.registerDBI(string(key), flags)
			} else {
				return fmt.Errorf("%w: database record out of order at %d", ErrCorrupted, off)
			}
		case recPut:
			if int(dbi) >= len(s.dbis) {
				return fmt.Errorf("%w: unknown database %d at %d", ErrCorrupted, dbi, off)
			}
			db := s.dbis[dbi]
			tree := s.trees[dbi]
			e := Entry{Key: key, Val: val}
			if !db.dupSort() {
				tree.ReplaceOrInsert(e)
			} else if _, dup := tree.Get(e); !dup {
				tree.ReplaceOrInsert(e)
			}
		case recDel:
			if int(dbi) >= len(s.dbis) {
				return fmt.Errorf("%w: unknown database %d at %d", ErrCorrupted, dbi, off)
			}
			deleteKey(s.trees[dbi], s.dbis[dbi], key)
		case recDelDup:
			if int(dbi) >= len(s.dbis) {
				return fmt.Errorf("%w: unknown database %d at %d", ErrCorrupted, dbi, off)
			}
			s.trees[dbi].Delete(Entry{Key: key, Val: val})
		default:
			return fmt.Errorf("%w: unknown record kind %d at %d", ErrCorrupted, kind, off)
		}
		off += recHeaderSize + klen + vlen
	}
	return nil
}

// deleteKey removes every entry stored under key.
func deleteKey(tree *btree.BTreeG[Entry], db *dbiState, key []byte) int {
	var doomed []Entry
	tree.AscendGreaterOrEqual(keyFloor(key), func(e Entry) bool {
		if db.cmp(e.Key, key) != 0 {
			return false
		}
		doomed = append(doomed, e)
		return true
	})
	for _, e := range doomed {
		tree.Delete(e)
	}
	return len(doomed)
}

// writeHeader stores the committed watermark and txn id into the mapping.
// Caller holds mu.
func (s *Store) writeHeader() {
	s.stageHeader(s.committedEnd, s.lastTxnID)
}

// stageHeader writes a watermark and txn id into the mapping without
// touching the in-memory committed state. Commit stages and syncs the
// header first so a failed sync leaves nothing published. Caller holds wmu.
func (s *Store) stageHeader(end int64, txnID uint64) {
	data := s.mm.Data()
	binary.LittleEndian.PutUint64(data[offCommittedEnd:], uint64(end))
	binary.LittleEndian.PutUint64(data[offLastTxnID:], txnID)
}

func (s *Store) syncHeader() error {
	return s.mm.SyncRange(0, pageSize)
}

// syncRecords flushes the byte range [from, to) of the mapping, widened to
// page boundaries as msync requires.
func (s *Store) syncRecords(from, to int64) error {
	start := from &^ (pageSize - 1)
	end := (to + pageSize - 1) &^ (pageSize - 1)
	if end > s.mm.Size() {
		end = s.mm.Size()
	}
	return s.mm.SyncRange(start, end-start)
}

// OpenDBI returns the id of the named database, creating it when create is
// set. Opening an existing database with different flags fails. The unnamed
// database always exists; opening it with flags while it is empty rewrites
// its flags.
func (s *Store) OpenDBI(name string, flags uint32, create bool) (uint32, error) {
	if flags&^dbFlagsMask != 0 {
		return 0, fmt.Errorf("%w: unknown database flags %#x", ErrInvalid, flags)
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}

	if id, ok := s.byName[name]; ok {
		db := s.dbis[id]
		if db.flags == flags {
			return id, nil
		}
		if name == "" && s.trees[0].Len() == 0 {
			// The unnamed database adopts new flags while empty.
			if !s.opts.ReadOnly {
				if err := s.appendDBIRecordLocked(0, "", flags); err != nil {
					return 0, err
				}
			}
			nd := *db
			nd.flags = flags
			nd.cmp = defaultKeyCmp(flags)
			nd.dcmp = defaultDupCmp(flags)
			s.dbis[0] = &nd
			s.trees[0] = nd.newTree()
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %q has flags %#x, requested %#x", ErrFlagsMismatch, name, db.flags, flags)
	}

	if !create {
		return 0, ErrNotFound
	}
	if s.opts.ReadOnly {
		return 0, ErrReadOnly
	}
	// The unnamed database does not count against the limit.
	if s.opts.MaxDBs > 0 && len(s.dbis)-1 >= s.opts.MaxDBs {
		return 0, ErrDBsFull
	}

	id := uint32(len(s.dbis))
	if err := s.appendDBIRecordLocked(id, name, flags); err != nil {
		return 0, err
	}
	s.registerDBI(name, flags)
	return id, nil
}

// appendDBIRecordLocked durably appends a database record and advances the
// committed watermark. Caller holds wmu and mu.
func (s *Store) appendDBIRecordLocked(id uint32, name string, flags uint32) error {
	var fb [4]byte
	binary.LittleEndian.PutUint32(fb[:], flags)
	end, err := appendRecord(s.mm, s.committedEnd, recDBI, id, []byte(name), fb[:])
	if err != nil {
		return err
	}
	if s.opts.SyncMode != SyncNone {
		if err := s.syncRecords(s.committedEnd, end); err != nil {
			return err
		}
	}
	s.stageHeader(end, s.lastTxnID)
	if s.opts.SyncMode == SyncDurable {
		if err := s.syncHeader(); err != nil {
			s.stageHeader(s.committedEnd, s.lastTxnID)
			return err
		}
	}
	s.committedEnd = end
	return nil
}

// appendRecord copies one record into the mapping at off and returns the new
// end offset.
func appendRecord(mm *mmap.Map, off int64, kind byte, dbi uint32, key, val []byte) (int64, error) {
	need := int64(recHeaderSize + len(key) + len(val))
	if off+need > mm.Size() {
		return 0, ErrMapFull
	}
	data := mm.Data()
	data[off] = kind
	binary.LittleEndian.PutUint32(data[off+1:], dbi)
	binary.LittleEndian.PutUint32(data[off+5:], uint32(len(key)))
	binary.LittleEndian.PutUint32(data[off+9:], uint32(len(val)))
	copy(data[off+recHeaderSize:], key)
	copy(data[off+recHeaderSize+int64(len(key)):], val)
	return off + need, nil
}

// mappedEntry rebuilds an entry whose Key and Val alias the mapping, given
// the record offset its bytes were written at.
func (s *Store) mappedEntry(off int64, klen, vlen int) Entry {
	data := s.mm.Data()
	ko := off + recHeaderSize
	vo := ko + int64(klen)
	e := Entry{Key: data[ko : vo : vo]}
	if vlen > 0 {
		e.Val = data[vo : vo+int64(vlen) : vo+int64(vlen)]
	}
	return e
}

// DBIByName looks up a database id without creating it.
func (s *Store) DBIByName(name string) (uint32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byName[name]
	return id, ok
}

// DBICount returns the number of named databases.
func (s *Store) DBICount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.dbis) - 1
}

// DBIFlags returns the flag bits of a database.
func (s *Store) DBIFlags(dbi uint32) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if int(dbi) >= len(s.dbis) {
		return 0, ErrInvalid
	}
	return s.dbis[dbi].flags, nil
}

// SetCompare installs a custom key comparator for a database and rebuilds
// its index in the new order. It must not run concurrently with any
// transaction.
func (s *Store) SetCompare(dbi uint32, cmp Cmp) error {
	return s.setCmp(dbi, cmp, nil)
}

// SetDupCompare installs a custom duplicate comparator for a DupSort
// database. Same concurrency contract as SetCompare.
func (s *Store) SetDupCompare(dbi uint32, dcmp Cmp) error {
	return s.setCmp(dbi, nil, dcmp)
}

func (s *Store) setCmp(dbi uint32, cmp, dcmp Cmp) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if int(dbi) >= len(s.dbis) {
		return ErrInvalid
	}
	db := s.dbis[dbi]
	if dcmp != nil && !db.dupSort() {
		return fmt.Errorf("%w: duplicate comparator on non-DupSort database", ErrInvalid)
	}
	nd := db.withCmp(cmp, dcmp)
	old := s.trees[dbi]
	fresh := nd.newTree()
	old.Ascend(func(e Entry) bool {
		fresh.ReplaceOrInsert(e)
		return true
	})
	s.dbis[dbi] = nd
	s.trees[dbi] = fresh
	return nil
}

// SetMapSize resizes the data file and its mapping. The caller must
// guarantee that no snapshot or writer is alive; entries aliasing the old
// mapping are rebased onto the new one.
func (s *Store) SetMapSize(newSize int64) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.opts.ReadOnly {
		return ErrReadOnly
	}
	if newSize < s.committedEnd {
		return fmt.Errorf("%w: map size %d below committed data %d", ErrInvalid, newSize, s.committedEnd)
	}
	if newSize == s.mm.Size() {
		return nil
	}

	oldData := s.mm.Data()
	oldBase := uintptr(unsafe.Pointer(&oldData[0]))

	if err := s.file.Truncate(newSize); err != nil {
		return err
	}
	if err := s.mm.Remap(newSize); err != nil {
		return err
	}
	s.opts.MapSize = newSize

	newData := s.mm.Data()
	if uintptr(unsafe.Pointer(&newData[0])) == oldBase {
		return nil
	}
	for i, db := range s.dbis {
		old := s.trees[i]
		fresh := db.newTree()
		old.Ascend(func(e Entry) bool {
			fresh.ReplaceOrInsert(Entry{
				Key: rebaseSlice(e.Key, oldBase, newData),
				Val: rebaseSlice(e.Val, oldBase, newData),
			})
			return true
		})
		s.trees[i] = fresh
	}
	return nil
}

// rebaseSlice translates a slice aliasing the old mapping into the
// equivalent slice of the new one.
func rebaseSlice(b []byte, oldBase uintptr, newData []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	off := uintptr(unsafe.Pointer(&b[0])) - oldBase
	return newData[off : off+uintptr(len(b)) : off+uintptr(len(b))]
}

// MapSize returns the current mapping size.
func (s *Store) MapSize() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mm.Size()
}

// LastTxnID returns the id of the most recently committed transaction.
func (s *Store) LastTxnID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTxnID
}

// EntriesLen returns the number of entries in a database.
func (s *Store) EntriesLen(dbi uint32) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if int(dbi) >= len(s.dbis) {
		return 0, ErrInvalid
	}
	return s.trees[dbi].Len(), nil
}

// ActiveReaders returns the number of reader slots in use.
func (s *Store) ActiveReaders() int {
	return s.lock.numActiveReaders()
}

// MaxReaders returns the reader slot capacity.
func (s *Store) MaxReaders() int {
	return s.lock.maxReaders
}

// OldestReader returns the transaction id of the oldest active reader, or
// the maximum uint64 when none are active.
func (s *Store) OldestReader() uint64 {
	return s.lock.oldestReader()
}

// CleanStaleReaders frees reader slots held by dead processes and returns
// how many were reclaimed.
func (s *Store) CleanStaleReaders() int {
	return s.lock.cleanupStaleReaders()
}

// Sync forces the mapping to disk regardless of the sync mode.
func (s *Store) Sync(async bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.opts.ReadOnly {
		return nil
	}
	if async {
		return s.mm.SyncAsync()
	}
	return s.mm.Sync()
}

// Close flushes and releases the mapping and lock file. Pending snapshots
// must be released first.
func (s *Store) Close() error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var firstErr error
	if !s.opts.ReadOnly && s.opts.SyncMode != SyncNone {
		if err := s.mm.Sync(); err != nil {
			firstErr = err
		}
	}
	if err := s.mm.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.lock.close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.file.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Snapshot pins the current committed state for a reader. Release must be
// called when done.
func (s *Store) Snapshot() (*Snapshot, error) {
	slot, idx, err := s.lock.acquireReaderSlot(cachedPID, 0)
	if err != nil {
		return nil, ErrReadersFull
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.lock.releaseReaderSlot(slot, idx)
		return nil, ErrClosed
	}
	sn := &Snapshot{
		s:       s,
		txnID:   s.lastTxnID,
		dbis:    append([]*dbiState(nil), s.dbis...),
		trees:   append([]*btree.BTreeG[Entry](nil), s.trees...),
		slot:    slot,
		slotIdx: idx,
	}
	s.mu.Unlock()

	s.lock.setReaderTxnid(slot, sn.txnID)
	return sn, nil
}

// Snapshot is a fixed read view of the whole store.
type Snapshot struct {
	s       *Store
	txnID   uint64
	dbis    []*dbiState
	trees   []*btree.BTreeG[Entry]
	slot    *readerSlot
	slotIdx int

	released bool
}

// TxnID returns the transaction id this snapshot observes.
func (sn *Snapshot) TxnID() uint64 {
	return sn.txnID
}

// Tree returns the read view over one database.
func (sn *Snapshot) Tree(dbi uint32) (*Tree, error) {
	if int(dbi) >= len(sn.dbis) {
		return nil, ErrInvalid
	}
	return &Tree{bt: sn.trees[dbi], db: sn.dbis[dbi]}, nil
}

// SetCompare installs a key comparator for this snapshot only, rebuilding
// its local view of the database.
func (sn *Snapshot) SetCompare(dbi uint32, cmp Cmp) error {
	return sn.setCmp(dbi, cmp, nil)
}

// SetDupCompare installs a duplicate comparator for this snapshot only.
func (sn *Snapshot) SetDupCompare(dbi uint32, dcmp Cmp) error {
	return sn.setCmp(dbi, nil, dcmp)
}

func (sn *Snapshot) setCmp(dbi uint32, cmp, dcmp Cmp) error {
	if int(dbi) >= len(sn.dbis) {
		return ErrInvalid
	}
	db := sn.dbis[dbi]
	if dcmp != nil && !db.dupSort() {
		return fmt.Errorf("%w: duplicate comparator on non-DupSort database", ErrInvalid)
	}
	nd := db.withCmp(cmp, dcmp)
	fresh := nd.newTree()
	sn.trees[dbi].Ascend(func(e Entry) bool {
		fresh.ReplaceOrInsert(e)
		return true
	})
	sn.dbis[dbi] = nd
	sn.trees[dbi] = fresh
	return nil
}

// Release frees the reader slot. Safe to call more than once.
func (sn *Snapshot) Release() {
	if sn.released {
		return
	}
	sn.released = true
	sn.s.lock.releaseReaderSlot(sn.slot, sn.slotIdx)
}
