package mvkv

import (
	"github.com/Giulio2002/mvkv/internal/store"
)

// txnSignature is the magic number for live transactions
const txnSignature uint32 = 0x54584E4B // "TXNK"

// TxnOp is a function that operates on a transaction.
// This is the callback type for View, Update, and RunTxn.
type TxnOp func(txn *Txn) error

// CmpFunc is a comparison function for keys or duplicate values. It returns
// a negative value, zero, or a positive value, in the manner of
// bytes.Compare.
type CmpFunc = func(a, b []byte) int

// Txn is a transaction: either a read-write transaction holding the single
// writer slot, or a read-only transaction pinned to a committed snapshot.
// A Txn and everything bound to it stay on the goroutine that created it.
type Txn struct {
	signature uint32
	env       *Env
	readonly  bool

	w  *store.Writer   // write transactions
	sn *store.Snapshot // read transactions

	parent *Txn
	depth  int
}

// valid returns true while the transaction has not ended.
func (t *Txn) valid() bool {
	return t != nil && t.signature == txnSignature
}

// ReadOnly reports whether this is a read-only transaction.
func (t *Txn) ReadOnly() bool {
	return t.readonly
}

// ID returns the transaction id: the snapshot's id for readers, the id the
// transaction will commit as for writers.
func (t *Txn) ID() uint64 {
	if t.readonly {
		return t.sn.TxnID()
	}
	return t.w.TxnID()
}

// Bind associates a database handle with this transaction for data access.
func (t *Txn) Bind(h DbHandle) Database {
	return Database{txn: t, h: h}
}

// NewChild starts a nested transaction. Only write transactions nest; the
// child must commit or abort before the parent is used again. Depth is
// bounded by MaxTxnNesting.
func (t *Txn) NewChild() (*Txn, error) {
	if !t.valid() {
		return nil, ErrBadTxnError
	}
	if t.readonly {
		return nil, ErrReadOnlyError
	}
	if t.depth+1 >= MaxTxnNesting {
		return nil, ErrTxnFullError
	}
	cw, err := t.w.Child()
	if err != nil {
		return nil, fromStore(err)
	}
	return &Txn{
		signature: txnSignature,
		env:       t.env,
		w:         cw,
		parent:    t,
		depth:     t.depth + 1,
	}, nil
}

// Commit makes the transaction's changes durable and visible. For read-only
// transactions it releases the reader slot. A nested transaction folds its
// changes into its parent. Using the transaction afterwards fails with
// ErrBadTxn.
func (t *Txn) Commit() error {
	if !t.valid() {
		return ErrBadTxnError
	}
	t.signature = 0

	if t.readonly {
		t.env.finishReadTxn(t)
		return nil
	}

	err := t.w.Commit()
	if t.parent == nil {
		t.env.finishWriteTxn(t)
	}
	if err != nil {
		logAt(LogLvlError, "mvkv: commit failed", "txn", t.w.TxnID(), "err", err)
		return WrapError(ErrTxnFail, err)
	}
	return nil
}

// Abort discards the transaction's changes. Safe to call after Commit or a
// second time; later data access still fails with ErrBadTxn.
func (t *Txn) Abort() {
	if !t.valid() {
		return
	}
	t.signature = 0

	if t.readonly {
		t.env.finishReadTxn(t)
		return
	}

	t.w.Abort()
	if t.parent == nil {
		t.env.finishWriteTxn(t)
	}
}

// tree returns the transaction's view over one database.
func (t *Txn) tree(h DbHandle) (*store.Tree, error) {
	if !t.valid() {
		return nil, ErrBadTxnError
	}
	var (
		tr  *store.Tree
		err error
	)
	if t.readonly {
		tr, err = t.sn.Tree(h.dbi)
	} else {
		tr, err = t.w.Tree(h.dbi)
	}
	if err != nil {
		return nil, WrapError(ErrBadDBI, err)
	}
	return tr, nil
}

// writer returns the store writer, rejecting read-only and ended txns.
func (t *Txn) writer() (*store.Writer, error) {
	if !t.valid() {
		return nil, ErrBadTxnError
	}
	if t.readonly {
		return nil, ErrReadOnlyError
	}
	return t.w, nil
}
