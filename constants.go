package mvkv

import "github.com/Giulio2002/mvkv/internal/store"

// Environment open flags
const (
	// NoSubdir stores the data file at the given path itself instead of
	// inside a directory
	NoSubdir uint32 = 0x4000

	// NoSync skips flushing to disk at commit, trading durability for speed
	NoSync uint32 = 0x10000

	// ReadOnly opens the environment without write access
	ReadOnly uint32 = 0x20000

	// NoMetaSync flushes the data records at commit but lets the header
	// reach disk lazily
	NoMetaSync uint32 = 0x40000

	// NoMemInit is accepted for compatibility. Go zeroes fresh memory, so
	// it has no effect here.
	NoMemInit uint32 = 0x01000000

	// Durable is the default mode: records and header are flushed at
	// every commit
	Durable uint32 = 0

	envFlagsMask = NoSubdir | NoSync | ReadOnly | NoMetaSync | NoMemInit
)

// Database flags
const (
	// ReverseKey compares keys back to front
	ReverseKey = store.DBReverseKey

	// DupSort keeps sorted duplicate values per key
	DupSort = store.DBDupSort

	// IntegerKey compares keys as native-endian unsigned integers
	IntegerKey = store.DBIntegerKey

	// DupFixed marks all duplicates as equally sized
	DupFixed = store.DBDupFixed

	// IntegerDup compares duplicate values as native-endian unsigned integers
	IntegerDup = store.DBIntegerDup

	// ReverseDup compares duplicate values back to front
	ReverseDup = store.DBReverseDup
)

// Put flags
const (
	// NoOverwrite fails the store when the key already exists
	NoOverwrite = store.PutNoOverwrite

	// NoDupData fails the store when the exact key/value pair already
	// exists in a DupSort database
	NoDupData = store.PutNoDupData

	// Append requires the key to sort after every existing key
	Append = store.PutAppend

	// AppendDup requires the value to sort after every duplicate of its key
	AppendDup = store.PutAppendDup
)

// Environment defaults
const (
	// DefaultMapSize is the initial data file mapping size
	DefaultMapSize int64 = 1 << 24 // 16 MiB

	// DefaultMaxReaders is the default reader slot count
	DefaultMaxReaders = 126

	// DefaultMaxDBs is the default named database limit
	DefaultMaxDBs = 16

	// MaxTxnNesting bounds the depth of nested write transactions
	MaxTxnNesting = 32
)

// File names used inside an environment directory
const (
	// DataFileName is the data file inside an environment directory
	DataFileName = "data.mv"

	// LockFileName is the lock file inside an environment directory
	LockFileName = "lock.mv"
)
