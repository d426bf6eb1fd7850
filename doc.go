// Package mvkv is an embedded transactional key-value store built on a
// memory-mapped, copy-on-write record log.
//
// Key features:
//   - MVCC (Multi-Version Concurrency Control) for concurrent reads
//   - Single writer, multiple readers concurrency model
//   - Memory-mapped I/O with zero-copy, transaction-bound value views
//   - Named sub-databases with optional sorted duplicates (DupSort)
//   - Pluggable key and duplicate comparators
//   - Nested write transactions
//
// Basic usage:
//
//	env, err := mvkv.NewEnv()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := env.Open("/path/to/db", 0, 0644); err != nil {
//	    log.Fatal(err)
//	}
//	defer env.Close()
//
//	h, err := env.GetDefaultDB(0)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	err = env.Update(func(txn *mvkv.Txn) error {
//	    db := txn.Bind(h)
//	    return db.Set([]byte("key"), []byte("value"))
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	err = env.View(func(txn *mvkv.Txn) error {
//	    v, err := txn.Bind(h).Get([]byte("key"))
//	    if err != nil {
//	        return err
//	    }
//	    s, err := v.Str()
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Println(s)
//	    return nil
//	})
package mvkv
