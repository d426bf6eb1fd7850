package mvkv

import (
	"github.com/Giulio2002/mvkv/internal/store"
)

// cursorSignature is the magic number for live cursors
const cursorSignature uint32 = 0x43555253 // "CURS"

// Cursor walks one database inside a transaction. It starts unpositioned;
// positioning operations report ErrNotFound when no entry matches and leave
// the prior position untouched. A cursor stays on the goroutine of its
// transaction and becomes unusable when the transaction ends.
type Cursor struct {
	signature uint32
	txn       *Txn
	h         DbHandle

	cur        store.Entry
	positioned bool
}

// valid returns true while the cursor and its transaction are live.
func (c *Cursor) valid() bool {
	return c != nil && c.signature == cursorSignature && c.txn.valid()
}

// tree fetches the transaction's current view of the database.
func (c *Cursor) tree() (*store.Tree, error) {
	if c == nil || c.signature != cursorSignature {
		return nil, ErrBadCursorError
	}
	return c.txn.tree(c.h)
}

// ToFirst positions at the lowest entry.
func (c *Cursor) ToFirst() error {
	tr, err := c.tree()
	if err != nil {
		return err
	}
	e, ok := tr.First()
	if !ok {
		return ErrNotFoundError
	}
	c.cur, c.positioned = e, true
	return nil
}

// ToLast positions at the highest entry.
func (c *Cursor) ToLast() error {
	tr, err := c.tree()
	if err != nil {
		return err
	}
	e, ok := tr.Last()
	if !ok {
		return ErrNotFoundError
	}
	c.cur, c.positioned = e, true
	return nil
}

// ToKey positions at key, on its lowest duplicate for DupSort databases.
func (c *Cursor) ToKey(key []byte) error {
	tr, err := c.tree()
	if err != nil {
		return err
	}
	e, ok := tr.SeekExact(key)
	if !ok {
		return ErrNotFoundError
	}
	c.cur, c.positioned = e, true
	return nil
}

// ToRange positions at the first entry whose key is >= key.
func (c *Cursor) ToRange(key []byte) error {
	tr, err := c.tree()
	if err != nil {
		return err
	}
	e, ok := tr.Seek(key)
	if !ok {
		return ErrNotFoundError
	}
	c.cur, c.positioned = e, true
	return nil
}

// ToItem positions at the exact key/val pair of a DupSort database.
func (c *Cursor) ToItem(key, val []byte) error {
	tr, err := c.tree()
	if err != nil {
		return err
	}
	e, ok := tr.SeekPair(key, val)
	if !ok {
		return ErrNotFoundError
	}
	c.cur, c.positioned = e, true
	return nil
}

// Next moves to the following entry, crossing key boundaries. On an
// unpositioned cursor it behaves like ToFirst.
func (c *Cursor) Next() error {
	tr, err := c.tree()
	if err != nil {
		return err
	}
	if !c.positioned {
		return c.ToFirst()
	}
	e, ok := tr.Next(c.cur)
	if !ok {
		return ErrNotFoundError
	}
	c.cur = e
	return nil
}

// Prev moves to the preceding entry. On an unpositioned cursor it behaves
// like ToLast.
func (c *Cursor) Prev() error {
	tr, err := c.tree()
	if err != nil {
		return err
	}
	if !c.positioned {
		return c.ToLast()
	}
	e, ok := tr.Prev(c.cur)
	if !ok {
		return ErrNotFoundError
	}
	c.cur = e
	return nil
}

// NextItem moves to the next duplicate of the current key.
func (c *Cursor) NextItem() error {
	tr, err := c.tree()
	if err != nil {
		return err
	}
	if !c.positioned {
		return ErrBadCursorError
	}
	e, ok := tr.NextDup(c.cur)
	if !ok {
		return ErrNotFoundError
	}
	c.cur = e
	return nil
}

// PrevItem moves to the previous duplicate of the current key.
func (c *Cursor) PrevItem() error {
	tr, err := c.tree()
	if err != nil {
		return err
	}
	if !c.positioned {
		return ErrBadCursorError
	}
	e, ok := tr.PrevDup(c.cur)
	if !ok {
		return ErrNotFoundError
	}
	c.cur = e
	return nil
}

// NextKey moves to the lowest entry of the key following the current one.
func (c *Cursor) NextKey() error {
	tr, err := c.tree()
	if err != nil {
		return err
	}
	if !c.positioned {
		return c.ToFirst()
	}
	e, ok := tr.NextNoDup(c.cur)
	if !ok {
		return ErrNotFoundError
	}
	c.cur = e
	return nil
}

// PrevKey moves to the highest entry of the key preceding the current one.
func (c *Cursor) PrevKey() error {
	tr, err := c.tree()
	if err != nil {
		return err
	}
	if !c.positioned {
		return c.ToLast()
	}
	e, ok := tr.PrevNoDup(c.cur)
	if !ok {
		return ErrNotFoundError
	}
	c.cur = e
	return nil
}

// ToFirstItem positions at the lowest duplicate of the current key.
func (c *Cursor) ToFirstItem() error {
	if !c.positioned {
		return ErrBadCursorError
	}
	return c.ToKey(c.cur.Key)
}

// ToLastItem positions at the highest duplicate of the current key.
func (c *Cursor) ToLastItem() error {
	tr, err := c.tree()
	if err != nil {
		return err
	}
	if !c.positioned {
		return ErrBadCursorError
	}
	e, ok := tr.LastDup(c.cur.Key)
	if !ok {
		return ErrNotFoundError
	}
	c.cur = e
	return nil
}

// Get returns the key and value at the cursor position.
func (c *Cursor) Get() (Value, Value, error) {
	if !c.valid() {
		return Value{}, Value{}, ErrBadCursorError
	}
	if !c.positioned {
		return Value{}, Value{}, ErrBadCursorError
	}
	return Value{txn: c.txn, data: c.cur.Key}, Value{txn: c.txn, data: c.cur.Val}, nil
}

// GetKey returns the key at the cursor position.
func (c *Cursor) GetKey() (Value, error) {
	k, _, err := c.Get()
	return k, err
}

// GetValue returns the value at the cursor position.
func (c *Cursor) GetValue() (Value, error) {
	_, v, err := c.Get()
	return v, err
}

// ItemCount returns the number of duplicates stored under the current key.
func (c *Cursor) ItemCount() (uint64, error) {
	tr, err := c.tree()
	if err != nil {
		return 0, err
	}
	if !c.positioned {
		return 0, ErrBadCursorError
	}
	return uint64(tr.CountDup(c.cur.Key)), nil
}

// AddItem stores one more duplicate under the current key and positions the
// cursor on it.
func (c *Cursor) AddItem(val []byte) error {
	w, err := c.writeReady()
	if err != nil {
		return err
	}
	e, err := w.Put(c.h.dbi, c.cur.Key, val, 0)
	if err != nil {
		return fromStore(err)
	}
	c.cur = e
	return nil
}

// Replace substitutes the current entry's value and positions the cursor on
// the new entry. In a DupSort database the old duplicate is removed and the
// new value inserted in duplicate order.
func (c *Cursor) Replace(val []byte) error {
	w, err := c.writeReady()
	if err != nil {
		return err
	}
	tr, err := c.tree()
	if err != nil {
		return err
	}
	if tr.DupSort() {
		if err := w.DelDup(c.h.dbi, c.cur.Key, c.cur.Val); err != nil {
			return fromStore(err)
		}
	}
	e, err := w.Put(c.h.dbi, c.cur.Key, val, 0)
	if err != nil {
		return fromStore(err)
	}
	c.cur = e
	return nil
}

// DelItem removes the entry at the cursor position. The cursor keeps its
// key so ItemCount and key-relative moves remain usable.
func (c *Cursor) DelItem() error {
	w, err := c.writeReady()
	if err != nil {
		return err
	}
	tr, err := c.tree()
	if err != nil {
		return err
	}
	if tr.DupSort() {
		return fromStore(w.DelDup(c.h.dbi, c.cur.Key, c.cur.Val))
	}
	return fromStore(w.Del(c.h.dbi, c.cur.Key))
}

// DelAll removes the current key with all of its duplicates.
func (c *Cursor) DelAll() error {
	w, err := c.writeReady()
	if err != nil {
		return err
	}
	return fromStore(w.Del(c.h.dbi, c.cur.Key))
}

// writeReady validates the cursor for a positioned write operation.
func (c *Cursor) writeReady() (*store.Writer, error) {
	if c == nil || c.signature != cursorSignature {
		return nil, ErrBadCursorError
	}
	w, err := c.txn.writer()
	if err != nil {
		return nil, err
	}
	if !c.positioned {
		return nil, ErrBadCursorError
	}
	return w, nil
}

// Close invalidates the cursor.
func (c *Cursor) Close() {
	if c == nil {
		return
	}
	c.signature = 0
	c.positioned = false
}
