package benchmarks

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"

	"github.com/Giulio2002/mvkv"
	mdbxgo "github.com/erigontech/mdbx-go/mdbx"
	"github.com/tecbot/gorocksdb"
	bolt "go.etcd.io/bbolt"
)

// Cached benchmark database directory
const benchCacheDir = "testdata/benchdb"

const benchDBName = "bench"

var (
	cacheMu     sync.Mutex
	mvkvEnvs    = make(map[string]*mvkv.Env)
	mdbxEnvs    = make(map[string]*mdbxgo.Env)
	boltDBs     = make(map[string]*bolt.DB)
	rocksDBs    = make(map[string]*gorocksdb.DB)
	sampleCache = make(map[string][][]byte)
)

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// getCachedPlainDB returns cached plain mvkv and mdbx databases with the
// same contents, creating them if needed.
func getCachedPlainDB(b *testing.B, size int) (*mvkv.Env, *mdbxgo.Env, [][]byte) {
	cacheMu.Lock()
	defer cacheMu.Unlock()

	key := fmt.Sprintf("plain_%d", size)
	mvkvPath := filepath.Join(benchCacheDir, fmt.Sprintf("plain_%d_mvkv.db", size))
	mdbxPath := filepath.Join(benchCacheDir, fmt.Sprintf("plain_%d_mdbx.db", size))

	if env, ok := mvkvEnvs[key]; ok {
		return env, mdbxEnvs[key], sampleCache[key]
	}

	if err := os.MkdirAll(benchCacheDir, 0755); err != nil {
		b.Fatal(err)
	}

	mvkvExists := fileExists(mvkvPath)
	mdbxExists := fileExists(mdbxPath)

	env, err := mvkv.NewEnv()
	if err != nil {
		b.Fatal(err)
	}
	env.SetMaxDBs(10)
	env.SetMapSize(1 << 30)
	if err := env.Open(mvkvPath, mvkv.NoSubdir|mvkv.NoSync, 0644); err != nil {
		b.Fatal(err)
	}

	runtime.LockOSThread()
	menv, err := mdbxgo.NewEnv(mdbxgo.Label("bench"))
	if err != nil {
		env.Close()
		b.Fatal(err)
	}
	menv.SetOption(mdbxgo.OptMaxDB, 10)
	menv.SetGeometry(-1, -1, 1<<32, -1, -1, 4096)
	if err := menv.Open(mdbxPath, mdbxgo.NoSubdir|mdbxgo.NoMetaSync|mdbxgo.WriteMap, 0644); err != nil {
		env.Close()
		b.Fatal(err)
	}
	runtime.UnlockOSThread()

	if !mvkvExists {
		b.Logf("Creating cached mvkv plain DB with %d keys...", size)
		populatePlainMvkv(b, env, size)
	} else {
		b.Logf("Using cached mvkv plain DB with %d keys", size)
	}

	if !mdbxExists {
		b.Logf("Creating cached mdbx plain DB with %d keys...", size)
		populatePlainMdbx(b, menv, size)
	} else {
		b.Logf("Using cached mdbx plain DB with %d keys", size)
	}

	samples := collectSampleKeys(b, env, size)

	mvkvEnvs[key] = env
	mdbxEnvs[key] = menv
	sampleCache[key] = samples

	return env, menv, samples
}

// getCachedDupSortDB returns a cached DupSort mvkv database and its mdbx
// counterpart, creating them if needed.
func getCachedDupSortDB(b *testing.B, numKeys, valsPerKey int) (*mvkv.Env, *mdbxgo.Env) {
	cacheMu.Lock()
	defer cacheMu.Unlock()

	total := numKeys * valsPerKey
	key := fmt.Sprintf("dupsort_%d", total)
	mvkvPath := filepath.Join(benchCacheDir, fmt.Sprintf("dupsort_%d_mvkv.db", total))
	mdbxPath := filepath.Join(benchCacheDir, fmt.Sprintf("dupsort_%d_mdbx.db", total))

	if env, ok := mvkvEnvs[key]; ok {
		return env, mdbxEnvs[key]
	}

	if err := os.MkdirAll(benchCacheDir, 0755); err != nil {
		b.Fatal(err)
	}

	mvkvExists := fileExists(mvkvPath)
	mdbxExists := fileExists(mdbxPath)

	env, err := mvkv.NewEnv()
	if err != nil {
		b.Fatal(err)
	}
	env.SetMaxDBs(10)
	env.SetMapSize(1 << 30)
	if err := env.Open(mvkvPath, mvkv.NoSubdir|mvkv.NoSync, 0644); err != nil {
		b.Fatal(err)
	}

	runtime.LockOSThread()
	menv, err := mdbxgo.NewEnv(mdbxgo.Label("bench"))
	if err != nil {
		env.Close()
		b.Fatal(err)
	}
	menv.SetOption(mdbxgo.OptMaxDB, 10)
	menv.SetGeometry(-1, -1, 1<<32, -1, -1, 4096)
	if err := menv.Open(mdbxPath, mdbxgo.NoSubdir|mdbxgo.NoMetaSync|mdbxgo.WriteMap, 0644); err != nil {
		env.Close()
		b.Fatal(err)
	}
	runtime.UnlockOSThread()

	if !mvkvExists {
		b.Logf("Creating cached mvkv dupsort DB with %d keys x %d vals...", numKeys, valsPerKey)
		populateDupSortMvkv(b, env, numKeys, valsPerKey)
	}
	if !mdbxExists {
		b.Logf("Creating cached mdbx dupsort DB with %d keys x %d vals...", numKeys, valsPerKey)
		populateDupSortMdbx(b, menv, numKeys, valsPerKey)
	}

	mvkvEnvs[key] = env
	mdbxEnvs[key] = menv

	return env, menv
}

func populatePlainMvkv(b *testing.B, env *mvkv.Env, numKeys int) {
	h, err := env.CreateDB(benchDBName, 0)
	if err != nil {
		b.Fatal(err)
	}

	batchSize := 100_000
	key := make([]byte, 8)
	val := make([]byte, 32)

	txn, err := env.NewTransaction()
	if err != nil {
		b.Fatal(err)
	}
	db := txn.Bind(h)

	for i := 0; i < numKeys; i++ {
		binary.BigEndian.PutUint64(key, uint64(i))
		binary.BigEndian.PutUint64(val, uint64(i))

		if err := db.Set(key, val); err != nil {
			b.Fatal(err)
		}

		if (i+1)%batchSize == 0 {
			if err := txn.Commit(); err != nil {
				b.Fatal(err)
			}
			txn, err = env.NewTransaction()
			if err != nil {
				b.Fatal(err)
			}
			db = txn.Bind(h)
		}
	}
	if err := txn.Commit(); err != nil {
		b.Fatal(err)
	}
}

func populateDupSortMvkv(b *testing.B, env *mvkv.Env, numKeys, valsPerKey int) {
	h, err := env.CreateDB(benchDBName, mvkv.DupSort)
	if err != nil {
		b.Fatal(err)
	}

	key := make([]byte, 8)
	val := make([]byte, 32)

	txn, err := env.NewTransaction()
	if err != nil {
		b.Fatal(err)
	}
	db := txn.Bind(h)

	for i := 0; i < numKeys; i++ {
		binary.BigEndian.PutUint64(key, uint64(i))
		for j := 0; j < valsPerKey; j++ {
			binary.BigEndian.PutUint64(val, uint64(j))
			if err := db.AppendDup(key, val); err != nil {
				b.Fatal(err)
			}
		}
	}
	if err := txn.Commit(); err != nil {
		b.Fatal(err)
	}
}

func populatePlainMdbx(b *testing.B, env *mdbxgo.Env, numKeys int) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	txn, err := env.BeginTxn(nil, 0)
	if err != nil {
		b.Fatal(err)
	}
	dbi, err := txn.OpenDBI(benchDBName, mdbxgo.Create, nil, nil)
	if err != nil {
		b.Fatal(err)
	}

	batchSize := 100_000
	key := make([]byte, 8)
	val := make([]byte, 32)

	for i := 0; i < numKeys; i++ {
		binary.BigEndian.PutUint64(key, uint64(i))
		binary.BigEndian.PutUint64(val, uint64(i))

		if err := txn.Put(dbi, key, val, mdbxgo.Upsert); err != nil {
			b.Fatal(err)
		}

		if (i+1)%batchSize == 0 {
			if _, err := txn.Commit(); err != nil {
				b.Fatal(err)
			}
			txn, err = env.BeginTxn(nil, 0)
			if err != nil {
				b.Fatal(err)
			}
		}
	}
	if _, err := txn.Commit(); err != nil {
		b.Fatal(err)
	}
}

func populateDupSortMdbx(b *testing.B, env *mdbxgo.Env, numKeys, valsPerKey int) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	txn, err := env.BeginTxn(nil, 0)
	if err != nil {
		b.Fatal(err)
	}
	dbi, err := txn.OpenDBI(benchDBName, mdbxgo.Create|mdbxgo.DupSort, nil, nil)
	if err != nil {
		b.Fatal(err)
	}

	key := make([]byte, 8)
	val := make([]byte, 32)

	for i := 0; i < numKeys; i++ {
		binary.BigEndian.PutUint64(key, uint64(i))
		for j := 0; j < valsPerKey; j++ {
			binary.BigEndian.PutUint64(val, uint64(j))
			if err := txn.Put(dbi, key, val, mdbxgo.Upsert); err != nil {
				b.Fatal(err)
			}
		}
	}
	if _, err := txn.Commit(); err != nil {
		b.Fatal(err)
	}
}

// collectSampleKeys picks evenly spaced keys for random access benchmarks.
func collectSampleKeys(b *testing.B, env *mvkv.Env, numKeys int) [][]byte {
	sampleCount := 10_000
	if sampleCount > numKeys {
		sampleCount = numKeys
	}
	step := numKeys / sampleCount

	samples := make([][]byte, 0, sampleCount)
	for i := 0; i < sampleCount; i++ {
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, uint64(i*step))
		samples = append(samples, key)
	}
	return samples
}

// getCachedBoltDB returns a cached BoltDB database, creating it if needed.
func getCachedBoltDB(b *testing.B, size int) *bolt.DB {
	cacheMu.Lock()
	defer cacheMu.Unlock()

	key := fmt.Sprintf("bolt_%d", size)
	boltPath := filepath.Join(benchCacheDir, fmt.Sprintf("plain_%d_bolt.db", size))

	if db, ok := boltDBs[key]; ok {
		return db
	}

	if err := os.MkdirAll(benchCacheDir, 0755); err != nil {
		b.Fatal(err)
	}

	boltExists := fileExists(boltPath)

	db, err := bolt.Open(boltPath, 0644, &bolt.Options{
		NoSync:         true,
		NoFreelistSync: true,
	})
	if err != nil {
		b.Fatal(err)
	}

	if !boltExists {
		b.Logf("Creating cached BoltDB with %d keys...", size)
		populateBolt(b, db, size)
	} else {
		b.Logf("Using cached BoltDB with %d keys", size)
	}

	boltDBs[key] = db
	return db
}

func populateBolt(b *testing.B, db *bolt.DB, numKeys int) {
	batchSize := 100_000
	key := make([]byte, 8)
	val := make([]byte, 32)

	for written := 0; written < numKeys; written += batchSize {
		batchEnd := written + batchSize
		if batchEnd > numKeys {
			batchEnd = numKeys
		}
		err := db.Update(func(tx *bolt.Tx) error {
			bucket, err := tx.CreateBucketIfNotExists([]byte(benchDBName))
			if err != nil {
				return err
			}
			for i := written; i < batchEnd; i++ {
				binary.BigEndian.PutUint64(key, uint64(i))
				binary.BigEndian.PutUint64(val, uint64(i))
				if err := bucket.Put(key, val); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			b.Fatal(err)
		}
	}
}

// getCachedRocksDB returns a cached RocksDB database, creating it if needed.
func getCachedRocksDB(b *testing.B, size int) *gorocksdb.DB {
	cacheMu.Lock()
	defer cacheMu.Unlock()

	key := fmt.Sprintf("rocks_%d", size)
	rocksPath := filepath.Join(benchCacheDir, fmt.Sprintf("plain_%d_rocks.db", size))

	if db, ok := rocksDBs[key]; ok {
		return db
	}

	if err := os.MkdirAll(benchCacheDir, 0755); err != nil {
		b.Fatal(err)
	}

	rocksExists := fileExists(rocksPath)

	opts := gorocksdb.NewDefaultOptions()
	opts.SetCreateIfMissing(true)
	opts.SetWriteBufferSize(64 * 1024 * 1024)
	opts.SetMaxWriteBufferNumber(3)
	opts.SetTargetFileSizeBase(64 * 1024 * 1024)

	db, err := gorocksdb.OpenDb(opts, rocksPath)
	if err != nil {
		b.Fatal(err)
	}

	if !rocksExists {
		b.Logf("Creating cached RocksDB with %d keys...", size)
		populateRocks(b, db, size)
	} else {
		b.Logf("Using cached RocksDB with %d keys", size)
	}

	rocksDBs[key] = db
	return db
}

func populateRocks(b *testing.B, db *gorocksdb.DB, numKeys int) {
	wo := gorocksdb.NewDefaultWriteOptions()
	defer wo.Destroy()

	batch := gorocksdb.NewWriteBatch()
	defer batch.Destroy()

	batchSize := 100_000
	key := make([]byte, 8)
	val := make([]byte, 32)

	for i := 0; i < numKeys; i++ {
		binary.BigEndian.PutUint64(key, uint64(i))
		binary.BigEndian.PutUint64(val, uint64(i))
		batch.Put(key, val)

		if (i+1)%batchSize == 0 {
			if err := db.Write(wo, batch); err != nil {
				b.Fatal(err)
			}
			batch.Clear()
		}
	}
	if batch.Count() > 0 {
		if err := db.Write(wo, batch); err != nil {
			b.Fatal(err)
		}
	}
}

func newRocksWriteOpts() *gorocksdb.WriteOptions {
	wo := gorocksdb.NewDefaultWriteOptions()
	wo.DisableWAL(true) // others do not sync either
	return wo
}

func formatSize(size int) string {
	switch {
	case size >= 1_000_000:
		return fmt.Sprintf("%dM", size/1_000_000)
	case size >= 1_000:
		return fmt.Sprintf("%dK", size/1_000)
	}
	return fmt.Sprintf("%d", size)
}
