package mvkv

import (
	"testing"
)

// collect drains the iterator into key and value strings.
func collect(t *testing.T, it *Iter) (keys, vals []string) {
	t.Helper()
	for it.Next() {
		keys = append(keys, string(it.Key()))
		v, err := it.Value().BytesCopy()
		if err != nil {
			t.Fatalf("Value failed: %v", err)
		}
		vals = append(vals, string(v))
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iterator failed: %v", err)
	}
	return keys, vals
}

func checkStrings(t *testing.T, what string, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s: got %v, want %v", what, got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("%s[%d]: got %q, want %q", what, i, got[i], want[i])
		}
	}
}

func TestIterFullScan(t *testing.T) {
	env := newTestEnv(t, 0)
	h, err := env.GetDefaultDB(0)
	if err != nil {
		t.Fatalf("GetDefaultDB failed: %v", err)
	}
	fillDB(t, env, h, [][2]string{{"c", "3"}, {"a", "1"}, {"b", "2"}})

	err = env.View(func(txn *Txn) error {
		it, err := txn.Bind(h).Iter()
		if err != nil {
			return err
		}
		keys, vals := collect(t, it)
		checkStrings(t, "keys", keys, []string{"a", "b", "c"})
		checkStrings(t, "vals", vals, []string{"1", "2", "3"})
		return nil
	})
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}
}

func TestIterEmptyDB(t *testing.T) {
	env := newTestEnv(t, 0)
	h, err := env.GetDefaultDB(0)
	if err != nil {
		t.Fatalf("GetDefaultDB failed: %v", err)
	}
	err = env.View(func(txn *Txn) error {
		it, err := txn.Bind(h).Iter()
		if err != nil {
			return err
		}
		if it.Next() {
			t.Error("Next on empty database returned true")
		}
		return it.Err()
	})
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}
}

func TestKeyrangeVariants(t *testing.T) {
	env := newTestEnv(t, 0)
	h, err := env.GetDefaultDB(0)
	if err != nil {
		t.Fatalf("GetDefaultDB failed: %v", err)
	}

	// Keys 1..3 as big-endian integers, values 4..6.
	err = env.Update(func(txn *Txn) error {
		db := txn.Bind(h)
		for i := uint32(1); i <= 3; i++ {
			if err := db.Set(U32BE(i), U32BE(i+3)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	readVals := func(it *Iter, err error) []uint32 {
		t.Helper()
		if err != nil {
			t.Fatalf("iterator construction failed: %v", err)
		}
		var out []uint32
		for it.Next() {
			n, err := it.Value().Uint32()
			if err != nil {
				t.Fatalf("Uint32 failed: %v", err)
			}
			out = append(out, n)
		}
		if err := it.Err(); err != nil {
			t.Fatalf("iterator failed: %v", err)
		}
		return out
	}
	checkVals := func(what string, got, want []uint32) {
		t.Helper()
		if len(got) != len(want) {
			t.Fatalf("%s: got %v, want %v", what, got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("%s[%d]: got %d, want %d", what, i, got[i], want[i])
			}
		}
	}

	err = env.View(func(txn *Txn) error {
		db := txn.Bind(h)

		// Upper bound is exclusive.
		checkVals("KeyrangeTo", readVals(db.KeyrangeTo(U32BE(3))), []uint32{4, 5})
		// Lower bound is inclusive.
		checkVals("KeyrangeFrom", readVals(db.KeyrangeFrom(U32BE(2))), []uint32{5, 6})
		// Both bounds inclusive.
		checkVals("Keyrange", readVals(db.Keyrange(U32BE(1), U32BE(2))), []uint32{4, 5})
		// Half-open: lower inclusive, upper exclusive.
		checkVals("KeyrangeFromTo", readVals(db.KeyrangeFromTo(U32BE(1), U32BE(2))), []uint32{4})
		// Bounds need not exist as keys.
		checkVals("KeyrangeFrom absent", readVals(db.KeyrangeFrom(U32BE(0))), []uint32{4, 5, 6})
		// An empty range yields nothing.
		checkVals("Keyrange empty", readVals(db.Keyrange(U32BE(7), U32BE(9))), nil)
		return nil
	})
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}
}

func TestKeyrangeWithDuplicates(t *testing.T) {
	env := newTestEnv(t, 0)
	h, err := env.CreateDB("dups", DupSort)
	if err != nil {
		t.Fatalf("CreateDB failed: %v", err)
	}
	fillDB(t, env, h, [][2]string{
		{"a", "1"}, {"a", "2"},
		{"b", "3"},
	})

	err = env.View(func(txn *Txn) error {
		it, err := txn.Bind(h).KeyrangeFrom([]byte("a"))
		if err != nil {
			return err
		}
		keys, vals := collect(t, it)
		checkStrings(t, "keys", keys, []string{"a", "a", "b"})
		checkStrings(t, "vals", vals, []string{"1", "2", "3"})
		return nil
	})
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}
}

func TestItemIter(t *testing.T) {
	env := newTestEnv(t, 0)
	h, err := env.CreateDB("dups", DupSort)
	if err != nil {
		t.Fatalf("CreateDB failed: %v", err)
	}
	fillDB(t, env, h, [][2]string{
		{"a", "2"}, {"a", "1"}, {"a", "3"},
		{"b", "9"},
	})

	err = env.View(func(txn *Txn) error {
		it, err := txn.Bind(h).ItemIter([]byte("a"))
		if err != nil {
			return err
		}
		var vals []string
		for it.Next() {
			v, err := it.Value().BytesCopy()
			if err != nil {
				return err
			}
			vals = append(vals, string(v))
		}
		if err := it.Err(); err != nil {
			return err
		}
		checkStrings(t, "dups", vals, []string{"1", "2", "3"})

		// An absent key iterates nothing without error.
		it, err = txn.Bind(h).ItemIter([]byte("zzz"))
		if err != nil {
			return err
		}
		if it.Next() {
			t.Error("ItemIter on absent key returned an item")
		}
		return it.Err()
	})
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}
}

func TestIterObservesTxnWrites(t *testing.T) {
	env := newTestEnv(t, 0)
	h, err := env.GetDefaultDB(0)
	if err != nil {
		t.Fatalf("GetDefaultDB failed: %v", err)
	}
	fillDB(t, env, h, [][2]string{{"a", "1"}})

	err = env.Update(func(txn *Txn) error {
		db := txn.Bind(h)
		it, err := db.Iter()
		if err != nil {
			return err
		}
		if !it.Next() {
			t.Fatal("expected first entry")
		}
		// A write made mid-iteration lands in the same view.
		if err := db.Set([]byte("b"), []byte("2")); err != nil {
			return err
		}
		if !it.Next() {
			t.Fatal("expected the pending write to be visible")
		}
		if string(it.Key()) != "b" {
			t.Errorf("got %q, want %q", it.Key(), "b")
		}
		return it.Err()
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
}
