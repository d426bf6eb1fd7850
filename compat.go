package mvkv

// View executes fn inside a read-only transaction. The transaction is
// committed when fn returns nil and aborted when it returns an error.
func (e *Env) View(fn TxnOp) error {
	txn, err := e.GetReader()
	if err != nil {
		return err
	}
	return RunTxn(txn, fn)
}

// Update executes fn inside a read-write transaction. The transaction is
// committed when fn returns nil and aborted when it returns an error.
func (e *Env) Update(fn TxnOp) error {
	txn, err := e.NewTransaction()
	if err != nil {
		return err
	}
	return RunTxn(txn, fn)
}

// RunTxn drives an already begun transaction through fn, aborting on error
// and committing otherwise.
func RunTxn(txn *Txn, fn TxnOp) error {
	if err := fn(txn); err != nil {
		txn.Abort()
		return err
	}
	return txn.Commit()
}
