package mvkv

import (
	"github.com/Giulio2002/mvkv/internal/store"
)

// Iter walks keys of a database in order, optionally bounded. Use it in the
// scanner style:
//
//	it, err := db.KeyrangeFrom(lower)
//	for it.Next() {
//		_ = it.Key()
//	}
//	if err := it.Err(); err != nil { ... }
type Iter struct {
	txn *Txn
	h   DbHandle

	lower, upper []byte
	hasLower     bool
	hasUpper     bool
	upperIncl    bool

	started bool
	cur     store.Entry
	valid   bool
	err     error
}

// Iter returns an iterator over every entry of the database.
func (db Database) Iter() (*Iter, error) {
	return db.newIter(nil, false, nil, false, false)
}

// KeyrangeFrom iterates entries with key >= lower.
func (db Database) KeyrangeFrom(lower []byte) (*Iter, error) {
	return db.newIter(lower, true, nil, false, false)
}

// KeyrangeTo iterates entries with key < upper, from the start.
func (db Database) KeyrangeTo(upper []byte) (*Iter, error) {
	return db.newIter(nil, false, upper, true, false)
}

// Keyrange iterates entries with lower <= key <= upper.
func (db Database) Keyrange(lower, upper []byte) (*Iter, error) {
	return db.newIter(lower, true, upper, true, true)
}

// KeyrangeFromTo iterates entries with lower <= key < upper.
func (db Database) KeyrangeFromTo(lower, upper []byte) (*Iter, error) {
	return db.newIter(lower, true, upper, true, false)
}

func (db Database) newIter(lower []byte, hasLower bool, upper []byte, hasUpper, upperIncl bool) (*Iter, error) {
	if _, err := db.txn.tree(db.h); err != nil {
		return nil, err
	}
	return &Iter{
		txn:       db.txn,
		h:         db.h,
		lower:     lower,
		upper:     upper,
		hasLower:  hasLower,
		hasUpper:  hasUpper,
		upperIncl: upperIncl,
	}, nil
}

// Next advances to the next in-range entry. It returns false at the end of
// the range or on error; check Err afterwards.
func (it *Iter) Next() bool {
	it.valid = false
	tr, err := it.txn.tree(it.h)
	if err != nil {
		it.err = err
		return false
	}

	var (
		e  store.Entry
		ok bool
	)
	if !it.started {
		it.started = true
		if it.hasLower {
			e, ok = tr.Seek(it.lower)
		} else {
			e, ok = tr.First()
		}
	} else {
		e, ok = tr.Next(it.cur)
	}
	if !ok {
		return false
	}

	if it.hasUpper {
		c := tr.CmpKeys(e.Key, it.upper)
		if c > 0 || (c == 0 && !it.upperIncl) {
			return false
		}
	}

	it.cur = e
	it.valid = true
	return true
}

// Key returns the key of the current entry. Valid only after Next returned
// true; the bytes stay valid while the transaction lives.
func (it *Iter) Key() []byte {
	if !it.valid {
		return nil
	}
	return it.cur.Key
}

// Value returns the value of the current entry.
func (it *Iter) Value() Value {
	if !it.valid {
		return Value{}
	}
	return Value{txn: it.txn, data: it.cur.Val}
}

// Err returns the first error the iterator hit, if any.
func (it *Iter) Err() error {
	return it.err
}

// ItemIter walks the duplicates of a single key in duplicate order. An
// absent key yields no items and no error.
type ItemIter struct {
	txn *Txn
	h   DbHandle
	key []byte

	started bool
	cur     store.Entry
	valid   bool
	err     error
}

// ItemIter returns an iterator over the duplicates stored under key.
func (db Database) ItemIter(key []byte) (*ItemIter, error) {
	if _, err := db.txn.tree(db.h); err != nil {
		return nil, err
	}
	return &ItemIter{txn: db.txn, h: db.h, key: key}, nil
}

// Next advances to the next duplicate.
func (it *ItemIter) Next() bool {
	it.valid = false
	tr, err := it.txn.tree(it.h)
	if err != nil {
		it.err = err
		return false
	}

	var (
		e  store.Entry
		ok bool
	)
	if !it.started {
		it.started = true
		e, ok = tr.SeekExact(it.key)
	} else {
		e, ok = tr.NextDup(it.cur)
	}
	if !ok {
		return false
	}
	it.cur = e
	it.valid = true
	return true
}

// Value returns the current duplicate.
func (it *ItemIter) Value() Value {
	if !it.valid {
		return Value{}
	}
	return Value{txn: it.txn, data: it.cur.Val}
}

// Err returns the first error the iterator hit, if any.
func (it *ItemIter) Err() error {
	return it.err
}
