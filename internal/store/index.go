package store

import (
	"bytes"
	"encoding/binary"

	"github.com/google/btree"
)

// Cmp compares two byte strings and returns a negative value, zero, or a
// positive value, in the manner of bytes.Compare.
type Cmp func(a, b []byte) int

// Entry is a single key/value pair held by a database index. Key and Val
// reference the memory-mapped data file directly; they stay valid only while
// the mapping that produced them is alive.
//
// The pivot field is a sort tiebreaker used to build synthetic bounds: an
// entry with pivot -1 sorts before every stored duplicate of its key, and
// pivot +1 sorts after every one. Stored entries always have pivot 0.
type Entry struct {
	Key []byte
	Val []byte

	pivot int8
}

// keyFloor returns a synthetic entry sorting before all entries of key.
func keyFloor(key []byte) Entry {
	return Entry{Key: key, pivot: -1}
}

// keyCeil returns a synthetic entry sorting after all entries of key.
func keyCeil(key []byte) Entry {
	return Entry{Key: key, pivot: 1}
}

// btreeDegree is the branching factor for in-memory indexes.
const btreeDegree = 32

// cmpBytes is the default key and duplicate ordering.
func cmpBytes(a, b []byte) int {
	return bytes.Compare(a, b)
}

// cmpReverse orders byte strings back to front.
func cmpReverse(a, b []byte) int {
	i, j := len(a)-1, len(b)-1
	for i >= 0 && j >= 0 {
		if a[i] != b[j] {
			if a[i] < b[j] {
				return -1
			}
			return 1
		}
		i--
		j--
	}
	switch {
	case i >= 0:
		return 1
	case j >= 0:
		return -1
	}
	return 0
}

// cmpInteger orders 4 or 8 byte native-endian unsigned integers. Mixed or
// unexpected lengths fall back to length order then byte order.
func cmpInteger(a, b []byte) int {
	if len(a) != len(b) {
		return len(a) - len(b)
	}
	switch len(a) {
	case 4:
		x, y := binary.NativeEndian.Uint32(a), binary.NativeEndian.Uint32(b)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	case 8:
		x, y := binary.NativeEndian.Uint64(a), binary.NativeEndian.Uint64(b)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	}
	return bytes.Compare(a, b)
}

// defaultKeyCmp picks the key comparator implied by database flags.
func defaultKeyCmp(flags uint32) Cmp {
	switch {
	case flags&DBIntegerKey != 0:
		return cmpInteger
	case flags&DBReverseKey != 0:
		return cmpReverse
	}
	return cmpBytes
}

// defaultDupCmp picks the duplicate comparator implied by database flags.
func defaultDupCmp(flags uint32) Cmp {
	switch {
	case flags&DBIntegerDup != 0:
		return cmpInteger
	case flags&DBReverseDup != 0:
		return cmpReverse
	}
	return cmpBytes
}

// dbiState holds the per-database metadata shared by every snapshot.
type dbiState struct {
	id    uint32
	name  string
	flags uint32
	cmp   Cmp
	dcmp  Cmp
}

// withCmp returns a copy of the state with replaced comparators. States are
// never mutated in place: live trees capture their state's comparators, so
// a change always pairs a fresh state with a rebuilt tree.
func (d *dbiState) withCmp(cmp, dcmp Cmp) *dbiState {
	nd := *d
	if cmp != nil {
		nd.cmp = cmp
	}
	if dcmp != nil {
		nd.dcmp = dcmp
	}
	return &nd
}

func (d *dbiState) dupSort() bool {
	return d.flags&DBDupSort != 0
}

// less is the strict ordering used by this database's btrees. Keys order
// first, then synthetic pivots, then duplicate values for DupSort databases.
func (d *dbiState) less(a, b Entry) bool {
	if c := d.cmp(a.Key, b.Key); c != 0 {
		return c < 0
	}
	if a.pivot != b.pivot {
		return a.pivot < b.pivot
	}
	if d.dupSort() && a.pivot == 0 {
		return d.dcmp(a.Val, b.Val) < 0
	}
	return false
}

func (d *dbiState) newTree() *btree.BTreeG[Entry] {
	return btree.NewG(btreeDegree, d.less)
}

// Tree is a read view over one database index at a fixed point in time.
// Cursors and iterators drive their positioning through it.
type Tree struct {
	bt *btree.BTreeG[Entry]
	db *dbiState
}

// DupSort reports whether the underlying database keeps sorted duplicates.
func (t *Tree) DupSort() bool {
	return t.db.dupSort()
}

// Flags returns the database flag bits.
func (t *Tree) Flags() uint32 {
	return t.db.flags
}

// Len returns the number of stored entries, counting each duplicate.
func (t *Tree) Len() int {
	return t.bt.Len()
}

// CmpKeys compares two keys with the database's key comparator.
func (t *Tree) CmpKeys(a, b []byte) int {
	return t.db.cmp(a, b)
}

// CmpDups compares two values with the database's duplicate comparator.
func (t *Tree) CmpDups(a, b []byte) int {
	return t.db.dcmp(a, b)
}

// First returns the lowest entry.
func (t *Tree) First() (Entry, bool) {
	return t.bt.Min()
}

// Last returns the highest entry.
func (t *Tree) Last() (Entry, bool) {
	return t.bt.Max()
}

// Seek returns the first entry whose key is >= key.
func (t *Tree) Seek(key []byte) (Entry, bool) {
	return t.itemGE(keyFloor(key))
}

// SeekExact returns the first entry stored under exactly key. For DupSort
// databases this is the lowest duplicate.
func (t *Tree) SeekExact(key []byte) (Entry, bool) {
	e, ok := t.itemGE(keyFloor(key))
	if !ok || t.db.cmp(e.Key, key) != 0 {
		return Entry{}, false
	}
	return e, true
}

// SeekPair returns the entry matching both key and val exactly.
func (t *Tree) SeekPair(key, val []byte) (Entry, bool) {
	if !t.db.dupSort() {
		e, ok := t.SeekExact(key)
		if !ok || !bytes.Equal(e.Val, val) {
			return Entry{}, false
		}
		return e, true
	}
	e, ok := t.itemGE(Entry{Key: key, Val: val})
	if !ok || t.db.cmp(e.Key, key) != 0 || t.db.dcmp(e.Val, val) != 0 {
		return Entry{}, false
	}
	return e, true
}

// SeekPairRange returns the first duplicate of key whose value is >= val.
func (t *Tree) SeekPairRange(key, val []byte) (Entry, bool) {
	e, ok := t.itemGE(Entry{Key: key, Val: val})
	if !ok || t.db.cmp(e.Key, key) != 0 {
		return Entry{}, false
	}
	return e, true
}

// Next returns the entry immediately after cur, crossing key boundaries.
func (t *Tree) Next(cur Entry) (Entry, bool) {
	return t.itemGT(cur)
}

// Prev returns the entry immediately before cur.
func (t *Tree) Prev(cur Entry) (Entry, bool) {
	return t.itemLT(cur)
}

// NextDup returns the next duplicate of cur's key, if any.
func (t *Tree) NextDup(cur Entry) (Entry, bool) {
	e, ok := t.itemGT(cur)
	if !ok || t.db.cmp(e.Key, cur.Key) != 0 {
		return Entry{}, false
	}
	return e, true
}

// PrevDup returns the previous duplicate of cur's key, if any.
func (t *Tree) PrevDup(cur Entry) (Entry, bool) {
	e, ok := t.itemLT(cur)
	if !ok || t.db.cmp(e.Key, cur.Key) != 0 {
		return Entry{}, false
	}
	return e, true
}

// NextNoDup returns the first entry of the key following cur's key.
func (t *Tree) NextNoDup(cur Entry) (Entry, bool) {
	return t.itemGE(keyCeil(cur.Key))
}

// PrevNoDup returns the last entry of the key preceding cur's key.
func (t *Tree) PrevNoDup(cur Entry) (Entry, bool) {
	return t.itemLT(keyFloor(cur.Key))
}

// LastDup returns the highest duplicate stored under key.
func (t *Tree) LastDup(key []byte) (Entry, bool) {
	e, ok := t.itemLT(keyCeil(key))
	if !ok || t.db.cmp(e.Key, key) != 0 {
		return Entry{}, false
	}
	return e, true
}

// CountDup returns the number of entries stored under key.
func (t *Tree) CountDup(key []byte) int {
	n := 0
	t.bt.AscendGreaterOrEqual(keyFloor(key), func(e Entry) bool {
		if t.db.cmp(e.Key, key) != 0 {
			return false
		}
		n++
		return true
	})
	return n
}

// itemGE returns the first entry not ordered before pivot.
func (t *Tree) itemGE(pivot Entry) (Entry, bool) {
	var out Entry
	found := false
	t.bt.AscendGreaterOrEqual(pivot, func(e Entry) bool {
		out = e
		found = true
		return false
	})
	return out, found
}

// itemGT returns the first entry ordered strictly after pivot.
func (t *Tree) itemGT(pivot Entry) (Entry, bool) {
	var out Entry
	found := false
	t.bt.AscendGreaterOrEqual(pivot, func(e Entry) bool {
		if !t.db.less(pivot, e) {
			return true // equal to pivot, keep going
		}
		out = e
		found = true
		return false
	})
	return out, found
}

// itemLT returns the last entry ordered strictly before pivot.
func (t *Tree) itemLT(pivot Entry) (Entry, bool) {
	var out Entry
	found := false
	t.bt.DescendLessOrEqual(pivot, func(e Entry) bool {
		if !t.db.less(e, pivot) {
			return true
		}
		out = e
		found = true
		return false
	})
	return out, found
}
