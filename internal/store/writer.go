package store

import (
	"fmt"

	"github.com/google/btree"
)

// Writer is an exclusive mutation view. It appends records into the mapping
// past the committed watermark and mutates clones of the committed trees;
// Commit publishes both, Abort discards them and lets later writers reuse
// the appended bytes.
type Writer struct {
	s      *Store
	parent *Writer
	txnID  uint64
	dbis   []*dbiState
	trees  []*btree.BTreeG[Entry]
	start  int64
	end    int64
	dirty  bool
	newCmp bool
	done   bool
}

// Begin starts a write transaction, blocking until any current writer
// finishes.
func (s *Store) Begin() (*Writer, error) {
	if s.opts.ReadOnly {
		return nil, ErrReadOnly
	}
	s.wmu.Lock()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.wmu.Unlock()
		return nil, ErrClosed
	}
	w := &Writer{
		s:     s,
		txnID: s.lastTxnID + 1,
		dbis:  append([]*dbiState(nil), s.dbis...),
		trees: make([]*btree.BTreeG[Entry], len(s.trees)),
		start: s.committedEnd,
		end:   s.committedEnd,
	}
	for i, t := range s.trees {
		w.trees[i] = t.Clone()
	}
	s.mu.Unlock()
	return w, nil
}

// Child starts a nested transaction over this writer's pending state.
func (w *Writer) Child() (*Writer, error) {
	if w.done {
		return nil, ErrInvalid
	}
	c := &Writer{
		s:      w.s,
		parent: w,
		txnID:  w.txnID,
		dbis:   w.dbis,
		trees:  make([]*btree.BTreeG[Entry], len(w.trees)),
		start:  w.end,
		end:    w.end,
	}
	for i, t := range w.trees {
		c.trees[i] = t.Clone()
	}
	return c, nil
}

// TxnID returns the id this transaction will commit as.
func (w *Writer) TxnID() uint64 {
	return w.txnID
}

// Tree returns the mutable view's read interface for one database.
func (w *Writer) Tree(dbi uint32) (*Tree, error) {
	if int(dbi) >= len(w.dbis) {
		return nil, ErrInvalid
	}
	return &Tree{bt: w.trees[dbi], db: w.dbis[dbi]}, nil
}

// SetCompare installs a key comparator for this transaction, rebuilding its
// view of the database. The change is published to the environment when the
// transaction commits.
func (w *Writer) SetCompare(dbi uint32, cmp Cmp) error {
	return w.setCmp(dbi, cmp, nil)
}

// SetDupCompare installs a duplicate comparator for a DupSort database.
func (w *Writer) SetDupCompare(dbi uint32, dcmp Cmp) error {
	return w.setCmp(dbi, nil, dcmp)
}

func (w *Writer) setCmp(dbi uint32, cmp, dcmp Cmp) error {
	if w.done {
		return ErrInvalid
	}
	if int(dbi) >= len(w.dbis) {
		return ErrInvalid
	}
	db := w.dbis[dbi]
	if dcmp != nil && !db.dupSort() {
		return fmt.Errorf("%w: duplicate comparator on non-DupSort database", ErrInvalid)
	}
	nd := db.withCmp(cmp, dcmp)
	fresh := nd.newTree()
	w.trees[dbi].Ascend(func(e Entry) bool {
		fresh.ReplaceOrInsert(e)
		return true
	})
	w.dbis[dbi] = nd
	w.trees[dbi] = fresh
	w.newCmp = true
	return nil
}

// Put stores key/val in a database and returns the stored entry, aliasing
// the mapping. Behavior under flags:
//
//   - PutNoOverwrite fails with ErrKeyExists when the key is already present.
//   - PutNoDupData (DupSort) fails with ErrKeyExists when the exact pair is
//     already present.
//   - PutAppend requires key to sort after every existing key.
//   - PutAppendDup (DupSort) additionally allows key to equal the highest
//     key when val sorts after its highest duplicate.
//
// Without flags, a plain database replaces the existing value and a DupSort
// database adds one more duplicate; storing an already present duplicate is
// a no-op.
func (w *Writer) Put(dbi uint32, key, val []byte, flags uint32) (Entry, error) {
	if w.done {
		return Entry{}, ErrInvalid
	}
	if int(dbi) >= len(w.dbis) {
		return Entry{}, ErrInvalid
	}
	if len(key) == 0 || len(key) > maxKeySize {
		return Entry{}, fmt.Errorf("%w: key size %d", ErrInvalid, len(key))
	}
	db := w.dbis[dbi]
	tree := w.trees[dbi]
	view := Tree{bt: tree, db: db}

	if flags&(PutAppend|PutAppendDup) != 0 {
		if max, ok := tree.Max(); ok {
			c := db.cmp(key, max.Key)
			switch {
			case c < 0:
				return Entry{}, ErrKeyExists
			case c == 0:
				if flags&PutAppendDup == 0 || !db.dupSort() {
					return Entry{}, ErrKeyExists
				}
				if db.dcmp(val, max.Val) <= 0 {
					return Entry{}, ErrKeyExists
				}
			}
		}
	}

	if flags&PutNoOverwrite != 0 {
		if e, ok := view.SeekExact(key); ok {
			return e, ErrKeyExists
		}
	}
	if db.dupSort() {
		if e, ok := view.SeekPair(key, val); ok {
			if flags&PutNoDupData != 0 {
				return e, ErrKeyExists
			}
			return e, nil
		}
	}

	end, err := appendRecord(w.s.mm, w.end, recPut, dbi, key, val)
	if err != nil {
		return Entry{}, err
	}
	e := w.s.mappedEntry(w.end, len(key), len(val))
	w.end = end
	w.dirty = true
	tree.ReplaceOrInsert(e)
	return e, nil
}

// Del removes key and, for DupSort databases, every one of its duplicates.
func (w *Writer) Del(dbi uint32, key []byte) error {
	if w.done {
		return ErrInvalid
	}
	if int(dbi) >= len(w.dbis) {
		return ErrInvalid
	}
	tree := w.trees[dbi]
	found := false
	tree.AscendGreaterOrEqual(keyFloor(key), func(e Entry) bool {
		found = w.dbis[dbi].cmp(e.Key, key) == 0
		return false
	})
	if !found {
		return ErrNotFound
	}
	end, err := appendRecord(w.s.mm, w.end, recDel, dbi, key, nil)
	if err != nil {
		return err
	}
	deleteKey(tree, w.dbis[dbi], key)
	w.end = end
	w.dirty = true
	return nil
}

// DelDup removes the exact key/val pair from a DupSort database.
func (w *Writer) DelDup(dbi uint32, key, val []byte) error {
	if w.done {
		return ErrInvalid
	}
	if int(dbi) >= len(w.dbis) {
		return ErrInvalid
	}
	tree := w.trees[dbi]
	if _, ok := tree.Get(Entry{Key: key, Val: val}); !ok {
		return ErrNotFound
	}
	end, err := appendRecord(w.s.mm, w.end, recDelDup, dbi, key, val)
	if err != nil {
		return err
	}
	tree.Delete(Entry{Key: key, Val: val})
	w.end = end
	w.dirty = true
	return nil
}

// Commit makes the transaction's changes durable and visible. A nested
// transaction folds its state into its parent instead.
func (w *Writer) Commit() error {
	if w.done {
		return ErrInvalid
	}
	w.done = true

	if w.parent != nil {
		if w.dirty || w.newCmp {
			w.parent.trees = w.trees
			w.parent.dbis = w.dbis
			w.parent.end = w.end
			w.parent.dirty = w.parent.dirty || w.dirty
			w.parent.newCmp = w.parent.newCmp || w.newCmp
		}
		return nil
	}

	s := w.s
	defer s.wmu.Unlock()

	if !w.dirty && !w.newCmp {
		return nil
	}

	if w.dirty && s.opts.SyncMode != SyncNone {
		if err := s.syncRecords(w.start, w.end); err != nil {
			return err
		}
	}

	if w.dirty {
		s.stageHeader(w.end, w.txnID)
		if s.opts.SyncMode == SyncDurable {
			if err := s.syncHeader(); err != nil {
				s.stageHeader(s.committedEnd, s.lastTxnID)
				return err
			}
		}
	}

	s.mu.Lock()
	if w.dirty {
		s.committedEnd = w.end
		s.lastTxnID = w.txnID
	}
	s.trees = w.trees
	s.dbis = w.dbis
	s.mu.Unlock()
	return nil
}

// Abort discards the transaction's changes.
func (w *Writer) Abort() {
	if w.done {
		return
	}
	w.done = true
	if w.parent == nil {
		w.s.wmu.Unlock()
	}
}
