package benchmarks

import (
	"encoding/binary"
	"fmt"
	"runtime"
	"testing"

	mdbxgo "github.com/erigontech/mdbx-go/mdbx"
)

// BenchmarkWriteOps measures Put throughput against pre-populated databases.
// The transaction is opened once outside the timed loop.
func BenchmarkWriteOps(b *testing.B) {
	sizes := []int{10_000, 100_000}

	for _, size := range sizes {
		sizeName := formatSize(size)

		b.Run(fmt.Sprintf("SeqPut_%s/mvkv", sizeName), func(b *testing.B) {
			benchSeqPutMvkv(b, size)
		})
		b.Run(fmt.Sprintf("SeqPut_%s/mdbx", sizeName), func(b *testing.B) {
			benchSeqPutMdbx(b, size)
		})
		b.Run(fmt.Sprintf("SeqPut_%s/bolt", sizeName), func(b *testing.B) {
			benchSeqPutBolt(b, size)
		})
		b.Run(fmt.Sprintf("SeqPut_%s/rocksdb", sizeName), func(b *testing.B) {
			benchSeqPutRocks(b, size)
		})

		b.Run(fmt.Sprintf("RandPut_%s/mvkv", sizeName), func(b *testing.B) {
			benchRandPutMvkv(b, size)
		})
		b.Run(fmt.Sprintf("RandPut_%s/mdbx", sizeName), func(b *testing.B) {
			benchRandPutMdbx(b, size)
		})
		b.Run(fmt.Sprintf("RandPut_%s/bolt", sizeName), func(b *testing.B) {
			benchRandPutBolt(b, size)
		})
		b.Run(fmt.Sprintf("RandPut_%s/rocksdb", sizeName), func(b *testing.B) {
			benchRandPutRocks(b, size)
		})
	}
}

// shuffledOrder returns a deterministic permutation of [0, n).
func shuffledOrder(n int) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	for i := len(order) - 1; i > 0; i-- {
		j := int(uint64(i*17+31) % uint64(i+1))
		order[i], order[j] = order[j], order[i]
	}
	return order
}

func benchSeqPutMvkv(b *testing.B, numKeys int) {
	env, _, _ := getCachedPlainDB(b, numKeys)

	h, err := env.CreateDB(benchDBName, 0)
	if err != nil {
		b.Fatal(err)
	}
	txn, err := env.NewTransaction()
	if err != nil {
		b.Fatal(err)
	}
	defer txn.Abort()
	db := txn.Bind(h)

	key := make([]byte, 8)
	val := make([]byte, 32)

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		binary.BigEndian.PutUint64(key, uint64(i%numKeys))
		binary.BigEndian.PutUint64(val, uint64(i))
		if err := db.Set(key, val); err != nil {
			b.Fatal(err)
		}
	}
}

func benchRandPutMvkv(b *testing.B, numKeys int) {
	env, _, _ := getCachedPlainDB(b, numKeys)

	h, err := env.CreateDB(benchDBName, 0)
	if err != nil {
		b.Fatal(err)
	}
	txn, err := env.NewTransaction()
	if err != nil {
		b.Fatal(err)
	}
	defer txn.Abort()
	db := txn.Bind(h)

	order := shuffledOrder(numKeys)
	key := make([]byte, 8)
	val := make([]byte, 32)

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		binary.BigEndian.PutUint64(key, uint64(order[i%numKeys]))
		binary.BigEndian.PutUint64(val, uint64(i))
		if err := db.Set(key, val); err != nil {
			b.Fatal(err)
		}
	}
}

func benchSeqPutMdbx(b *testing.B, numKeys int) {
	_, menv, _ := getCachedPlainDB(b, numKeys)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	txn, err := menv.BeginTxn(nil, 0)
	if err != nil {
		b.Fatal(err)
	}
	defer txn.Abort()

	dbi, err := txn.OpenDBI(benchDBName, 0, nil, nil)
	if err != nil {
		b.Fatal(err)
	}

	key := make([]byte, 8)
	val := make([]byte, 32)

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		binary.BigEndian.PutUint64(key, uint64(i%numKeys))
		binary.BigEndian.PutUint64(val, uint64(i))
		if err := txn.Put(dbi, key, val, mdbxgo.Upsert); err != nil {
			b.Fatal(err)
		}
	}
}

func benchRandPutMdbx(b *testing.B, numKeys int) {
	_, menv, _ := getCachedPlainDB(b, numKeys)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	txn, err := menv.BeginTxn(nil, 0)
	if err != nil {
		b.Fatal(err)
	}
	defer txn.Abort()

	dbi, err := txn.OpenDBI(benchDBName, 0, nil, nil)
	if err != nil {
		b.Fatal(err)
	}

	order := shuffledOrder(numKeys)
	key := make([]byte, 8)
	val := make([]byte, 32)

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		binary.BigEndian.PutUint64(key, uint64(order[i%numKeys]))
		binary.BigEndian.PutUint64(val, uint64(i))
		if err := txn.Put(dbi, key, val, mdbxgo.Upsert); err != nil {
			b.Fatal(err)
		}
	}
}

func benchSeqPutBolt(b *testing.B, numKeys int) {
	db := getCachedBoltDB(b, numKeys)

	tx, err := db.Begin(true)
	if err != nil {
		b.Fatal(err)
	}
	defer tx.Rollback()

	bucket := tx.Bucket([]byte(benchDBName))
	if bucket == nil {
		b.Fatal("bucket not found")
	}

	key := make([]byte, 8)
	val := make([]byte, 32)

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		binary.BigEndian.PutUint64(key, uint64(i%numKeys))
		binary.BigEndian.PutUint64(val, uint64(i))
		if err := bucket.Put(key, val); err != nil {
			b.Fatal(err)
		}
	}
}

func benchRandPutBolt(b *testing.B, numKeys int) {
	db := getCachedBoltDB(b, numKeys)

	tx, err := db.Begin(true)
	if err != nil {
		b.Fatal(err)
	}
	defer tx.Rollback()

	bucket := tx.Bucket([]byte(benchDBName))
	if bucket == nil {
		b.Fatal("bucket not found")
	}

	order := shuffledOrder(numKeys)
	key := make([]byte, 8)
	val := make([]byte, 32)

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		binary.BigEndian.PutUint64(key, uint64(order[i%numKeys]))
		binary.BigEndian.PutUint64(val, uint64(i))
		if err := bucket.Put(key, val); err != nil {
			b.Fatal(err)
		}
	}
}

func benchSeqPutRocks(b *testing.B, numKeys int) {
	db := getCachedRocksDB(b, numKeys)

	wo := newRocksWriteOpts()
	defer wo.Destroy()

	key := make([]byte, 8)
	val := make([]byte, 32)

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		binary.BigEndian.PutUint64(key, uint64(i%numKeys))
		binary.BigEndian.PutUint64(val, uint64(i))
		if err := db.Put(wo, key, val); err != nil {
			b.Fatal(err)
		}
	}
}

func benchRandPutRocks(b *testing.B, numKeys int) {
	db := getCachedRocksDB(b, numKeys)

	wo := newRocksWriteOpts()
	defer wo.Destroy()

	order := shuffledOrder(numKeys)
	key := make([]byte, 8)
	val := make([]byte, 32)

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		binary.BigEndian.PutUint64(key, uint64(order[i%numKeys]))
		binary.BigEndian.PutUint64(val, uint64(i))
		if err := db.Put(wo, key, val); err != nil {
			b.Fatal(err)
		}
	}
}
