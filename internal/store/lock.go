//go:build unix

package store

import (
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"unsafe"
)

// cachedPID is the process ID, cached at init to avoid syscall overhead
var cachedPID = uint32(os.Getpid())

const (
	// lockMagic validates the lock file format
	lockMagic uint64 = 0x6D766B764C434B00 + 1 // "mvkvLCK" + version

	defaultMaxReaders = 126

	readerSlotSize = 24
	lockHeaderSize = 64
)

// readerSlot represents a reader in the lock file.
//
// Memory layout:
//
//	Offset  Size  Field
//	0       8     txnid (atomic)
//	8       8     tid (atomic)
//	16      4     pid (atomic)
//	20      4     padding
type readerSlot struct {
	txnid uint64 // Observed transaction id + 1, 0 means free (atomic)
	tid   uint64 // Owner tag, unused in-process (atomic)
	pid   uint32 // Process ID (atomic)
	_     uint32
}

// lockHeader is the lock file header.
//
//	Offset  Size  Field
//	0       8     magic + version
//	8       4     maxReaders
//	12      4     padding
//	16      8     cachedOldest
//	24      40    padding to 64
type lockHeader struct {
	magicAndVersion uint64
	maxReaders      uint32
	_               uint32
	cachedOldest    uint64
	_               [40]byte
}

// lockFile manages the lock file and reader slots.
type lockFile struct {
	file       *os.File
	data       []byte // Memory-mapped lock file
	header     *lockHeader
	slots      []readerSlot
	maxReaders int
	writerLock bool
	lockless   bool // In-memory slots for read-only access

	// Slot freelist for fast acquisition (LIFO stack)
	freeSlots []int32
	freeMu    sync.Mutex
}

// openLockFile opens or creates a lock file.
func openLockFile(path string, maxReaders int, create bool) (*lockFile, error) {
	if maxReaders <= 0 {
		maxReaders = defaultMaxReaders
	}

	flag := os.O_RDWR
	if create {
		flag |= os.O_CREATE
	}

	f, err := os.OpenFile(path, flag, 0644)
	if err != nil {
		if !create {
			return openLockFileReadOnly(maxReaders), nil
		}
		return nil, err
	}

	lf := &lockFile{
		file:       f,
		maxReaders: maxReaders,
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	size := fi.Size()
	expectedSize := int64(lockHeaderSize + maxReaders*readerSlotSize)

	if size == 0 && create {
		if err := lf.initialize(expectedSize); err != nil {
			f.Close()
			return nil, err
		}
	} else if size < expectedSize {
		if !create {
			// Foreign or undersized lock file, fall back to in-memory slots
			f.Close()
			return openLockFileReadOnly(maxReaders), nil
		}
		// Grow the file to hold the larger reader table. Truncate extends
		// with zeroes, so registered slots survive and new ones are free.
		if err := lf.initialize(expectedSize); err != nil {
			f.Close()
			return nil, err
		}
	}

	if err := lf.mmap(); err != nil {
		f.Close()
		return nil, err
	}

	if lf.header.magicAndVersion != lockMagic {
		lf.close()
		return nil, errLockInvalidFile
	}

	lf.cleanupStaleReaders()
	return lf, nil
}

// openLockFileReadOnly builds an in-memory lock table. Used for read-only
// access when the lock file is missing or unusable.
func openLockFileReadOnly(maxReaders int) *lockFile {
	if maxReaders <= 0 {
		maxReaders = defaultMaxReaders
	}
	return &lockFile{
		maxReaders: maxReaders,
		lockless:   true,
		slots:      make([]readerSlot, maxReaders),
		header:     &lockHeader{magicAndVersion: lockMagic, maxReaders: uint32(maxReaders)},
	}
}

// initialize creates a new lock file.
func (lf *lockFile) initialize(size int64) error {
	if err := lf.file.Truncate(size); err != nil {
		return err
	}

	header := lockHeader{
		magicAndVersion: lockMagic,
		maxReaders:      uint32(lf.maxReaders),
	}

	headerBytes := (*[lockHeaderSize]byte)(unsafe.Pointer(&header))[:]
	if _, err := lf.file.WriteAt(headerBytes, 0); err != nil {
		return err
	}

	return lf.file.Sync()
}

// mmap memory-maps the lock file.
func (lf *lockFile) mmap() error {
	fi, err := lf.file.Stat()
	if err != nil {
		return err
	}

	size := int(fi.Size())
	data, err := syscall.Mmap(int(lf.file.Fd()), 0, size,
		syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		return err
	}

	lf.data = data
	lf.header = (*lockHeader)(unsafe.Pointer(&data[0]))

	slotData := data[lockHeaderSize:]
	numSlots := min(len(slotData)/readerSlotSize, lf.maxReaders)
	lf.slots = unsafe.Slice((*readerSlot)(unsafe.Pointer(&slotData[0])), numSlots)

	return nil
}

// close closes the lock file.
func (lf *lockFile) close() error {
	if lf.data != nil {
		if err := syscall.Munmap(lf.data); err != nil {
			return err
		}
		lf.data = nil
	}

	if lf.writerLock {
		lf.unlockWriter()
	}

	if lf.file != nil {
		return lf.file.Close()
	}

	return nil
}

// tryLockWriter attempts to acquire the cross-process writer lock without
// blocking.
func (lf *lockFile) tryLockWriter() (bool, error) {
	if lf.lockless || lf.file == nil {
		return true, nil
	}
	err := syscall.Flock(int(lf.file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
	if err != nil {
		if err == syscall.EWOULDBLOCK {
			return false, nil
		}
		return false, &lockError{"try writer lock", err}
	}
	lf.writerLock = true
	return true, nil
}

// unlockWriter releases the writer lock.
func (lf *lockFile) unlockWriter() error {
	if !lf.writerLock {
		return nil
	}
	err := syscall.Flock(int(lf.file.Fd()), syscall.LOCK_UN)
	if err != nil {
		return &lockError{"release writer lock", err}
	}
	lf.writerLock = false
	return nil
}

// acquireReaderSlot finds and acquires a free reader slot.
// Uses a LIFO freelist for O(1) acquisition in the common case.
func (lf *lockFile) acquireReaderSlot(pid uint32, tid uint64) (*readerSlot, int, error) {
	// Fast path: try to pop from freelist
	lf.freeMu.Lock()
	if len(lf.freeSlots) > 0 {
		idx := lf.freeSlots[len(lf.freeSlots)-1]
		lf.freeSlots = lf.freeSlots[:len(lf.freeSlots)-1]
		lf.freeMu.Unlock()

		slot := &lf.slots[idx]
		if atomic.CompareAndSwapUint64(&slot.txnid, 0, ^uint64(0)) {
			atomic.StoreUint32(&slot.pid, pid)
			atomic.StoreUint64(&slot.tid, tid)
			return slot, int(idx), nil
		}
		// Slot was taken (race), fall through to slow path
	} else {
		lf.freeMu.Unlock()
	}

	// Slow path: scan for free slot
	for i := range lf.slots {
		slot := &lf.slots[i]
		if atomic.LoadUint64(&slot.txnid) == 0 {
			if atomic.CompareAndSwapUint64(&slot.txnid, 0, ^uint64(0)) {
				atomic.StoreUint32(&slot.pid, pid)
				atomic.StoreUint64(&slot.tid, tid)
				return slot, i, nil
			}
		}
	}

	return nil, -1, errLockReadersFull
}

// releaseReaderSlot releases a reader slot and adds it to the freelist.
func (lf *lockFile) releaseReaderSlot(slot *readerSlot, slotIdx int) {
	atomic.StoreUint64(&slot.txnid, 0)
	atomic.StoreUint64(&slot.tid, 0)
	atomic.StoreUint32(&slot.pid, 0)

	lf.freeMu.Lock()
	lf.freeSlots = append(lf.freeSlots, int32(slotIdx))
	lf.freeMu.Unlock()
}

// setReaderTxnid records the transaction ID observed by a reader slot.
// Slots store txnid+1 so that a reader of transaction 0 is still
// distinguishable from a free slot.
func (lf *lockFile) setReaderTxnid(slot *readerSlot, txnid uint64) {
	atomic.StoreUint64(&slot.txnid, txnid+1)
}

// oldestReader returns the oldest active reader's transaction ID.
func (lf *lockFile) oldestReader() uint64 {
	oldest := ^uint64(0)

	for i := range lf.slots {
		v := atomic.LoadUint64(&lf.slots[i].txnid)
		if v == 0 || v == ^uint64(0) {
			continue
		}
		if v-1 < oldest {
			oldest = v - 1
		}
	}

	atomic.StoreUint64(&lf.header.cachedOldest, oldest)
	return oldest
}

// numActiveReaders returns the count of active readers.
func (lf *lockFile) numActiveReaders() int {
	count := 0
	for i := range lf.slots {
		txnid := atomic.LoadUint64(&lf.slots[i].txnid)
		if txnid > 0 && txnid != ^uint64(0) {
			count++
		}
	}
	return count
}

// cleanupStaleReaders removes readers left behind by dead processes.
func (lf *lockFile) cleanupStaleReaders() int {
	cleaned := 0
	for i := range lf.slots {
		slot := &lf.slots[i]
		txnid := atomic.LoadUint64(&slot.txnid)
		if txnid == 0 {
			continue
		}

		pid := atomic.LoadUint32(&slot.pid)
		if pid == 0 || pid == cachedPID {
			continue
		}

		if !processExists(int(pid)) {
			atomic.StoreUint64(&slot.txnid, 0)
			cleaned++
		}
	}
	return cleaned
}

// processExists checks if a process exists.
func processExists(pid int) bool {
	err := syscall.Kill(pid, 0)
	return err == nil || err == syscall.EPERM
}

// Lock file errors
var (
	errLockInvalidFile = &lockError{"invalid lock file", nil}
	errLockReadersFull = &lockError{"reader slots full", nil}
)

type lockError struct {
	op  string
	err error
}

func (e *lockError) Error() string {
	if e.err != nil {
		return "lock: " + e.op + ": " + e.err.Error()
	}
	return "lock: " + e.op
}

func (e *lockError) Unwrap() error {
	return e.err
}
