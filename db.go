package mvkv

import (
	"github.com/Giulio2002/mvkv/internal/store"
)

// DbHandle identifies an open database inside an environment. Handles are
// cheap values, shareable across transactions of the same environment.
type DbHandle struct {
	dbi  uint32
	name string
}

// Name returns the database name, empty for the default database.
func (h DbHandle) Name() string {
	return h.name
}

// Database is a handle bound to a transaction. All reads observe the
// transaction's snapshot; all writes require a read-write transaction.
type Database struct {
	txn *Txn
	h   DbHandle
}

// Handle returns the bound database handle.
func (db Database) Handle() DbHandle {
	return db.h
}

// Get returns the value stored under key. For DupSort databases this is the
// lowest duplicate. Fails with ErrNotFound when the key is absent.
func (db Database) Get(key []byte) (Value, error) {
	tr, err := db.txn.tree(db.h)
	if err != nil {
		return Value{}, err
	}
	e, ok := tr.SeekExact(key)
	if !ok {
		return Value{}, ErrNotFoundError
	}
	return Value{txn: db.txn, data: e.Val}, nil
}

// Set stores key/val. A plain database replaces the existing value; a
// DupSort database adds one more duplicate, ignoring an exact pair that is
// already present.
func (db Database) Set(key, val []byte) error {
	w, err := db.txn.writer()
	if err != nil {
		return err
	}
	_, err = w.Put(db.h.dbi, key, val, 0)
	return fromStore(err)
}

// Insert stores key/val only when the key is absent, failing with
// ErrKeyExist otherwise.
func (db Database) Insert(key, val []byte) error {
	w, err := db.txn.writer()
	if err != nil {
		return err
	}
	_, err = w.Put(db.h.dbi, key, val, NoOverwrite)
	return fromStore(err)
}

// Append stores key/val, requiring key to sort after every existing key.
// Fails with ErrKeyExist when the order would be violated.
func (db Database) Append(key, val []byte) error {
	w, err := db.txn.writer()
	if err != nil {
		return err
	}
	_, err = w.Put(db.h.dbi, key, val, Append)
	return fromStore(err)
}

// AppendDup stores one more duplicate for key in a DupSort database,
// requiring val to sort after the key's highest duplicate.
func (db Database) AppendDup(key, val []byte) error {
	w, err := db.txn.writer()
	if err != nil {
		return err
	}
	tr, err := db.txn.tree(db.h)
	if err != nil {
		return err
	}
	if !tr.DupSort() {
		return ErrIncompatibleError
	}
	_, err = w.Put(db.h.dbi, key, val, AppendDup)
	return fromStore(err)
}

// Del removes key and, for DupSort databases, all of its duplicates.
// Fails with ErrNotFound when the key is absent.
func (db Database) Del(key []byte) error {
	w, err := db.txn.writer()
	if err != nil {
		return err
	}
	return fromStore(w.Del(db.h.dbi, key))
}

// DelItem removes the exact key/val pair from a DupSort database. On a
// plain database the value is ignored and the key is removed.
func (db Database) DelItem(key, val []byte) error {
	w, err := db.txn.writer()
	if err != nil {
		return err
	}
	tr, err := db.txn.tree(db.h)
	if err != nil {
		return err
	}
	if !tr.DupSort() {
		return fromStore(w.Del(db.h.dbi, key))
	}
	return fromStore(w.DelDup(db.h.dbi, key, val))
}

// DbStat holds per-database statistics.
type DbStat struct {
	Entries uint64 // Stored entries, counting each duplicate
	Flags   uint32 // Database flags
}

// Stat returns statistics for this database as seen by the transaction.
func (db Database) Stat() (*DbStat, error) {
	tr, err := db.txn.tree(db.h)
	if err != nil {
		return nil, err
	}
	return &DbStat{
		Entries: uint64(tr.Len()),
		Flags:   tr.Flags(),
	}, nil
}

// SetCompare installs a custom key comparator for this transaction's view
// of the database and rebuilds it in the new order. A write transaction
// publishes the comparator to the environment at commit; a read-only
// transaction keeps it local. Comparators are never persisted.
func (db Database) SetCompare(cmp CmpFunc) error {
	return db.setCmp(cmp, nil)
}

// SetDupSort installs a custom duplicate comparator for a DupSort database.
// Same scope rules as SetCompare.
func (db Database) SetDupSort(dcmp CmpFunc) error {
	return db.setCmp(nil, dcmp)
}

func (db Database) setCmp(cmp, dcmp CmpFunc) error {
	if !db.txn.valid() {
		return ErrBadTxnError
	}
	var err error
	if db.txn.readonly {
		if cmp != nil {
			err = db.txn.sn.SetCompare(db.h.dbi, store.Cmp(cmp))
		} else {
			err = db.txn.sn.SetDupCompare(db.h.dbi, store.Cmp(dcmp))
		}
	} else {
		if cmp != nil {
			err = db.txn.w.SetCompare(db.h.dbi, store.Cmp(cmp))
		} else {
			err = db.txn.w.SetDupCompare(db.h.dbi, store.Cmp(dcmp))
		}
	}
	return fromStore(err)
}

// NewCursor returns a cursor over this database, initially unpositioned.
func (db Database) NewCursor() (*Cursor, error) {
	if !db.txn.valid() {
		return nil, ErrBadTxnError
	}
	if _, err := db.txn.tree(db.h); err != nil {
		return nil, err
	}
	return &Cursor{
		signature: cursorSignature,
		txn:       db.txn,
		h:         db.h,
	}, nil
}
