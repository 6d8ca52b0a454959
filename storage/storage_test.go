package storage

import (
	"path/filepath"
	"testing"

	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testKey []byte

func (k testKey) Bytes() []byte { return k }

type record struct {
	Name  string
	Count uint64
	Value *uint256.Int
}

func backends(t *testing.T) map[string]Store {
	t.Helper()

	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func TestStoreBasics(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get([]byte("missing"))
			require.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.Put([]byte("a"), []byte("1")))
			v, err := s.Get([]byte("a"))
			require.NoError(t, err)
			assert.Equal(t, []byte("1"), v)

			ok, err := s.Has([]byte("a"))
			require.NoError(t, err)
			assert.True(t, ok)

			require.NoError(t, s.Put([]byte("a"), []byte("2")))
			v, err = s.Get([]byte("a"))
			require.NoError(t, err)
			assert.Equal(t, []byte("2"), v)

			require.NoError(t, s.Delete([]byte("a")))
			require.NoError(t, s.Delete([]byte("a")))
			ok, err = s.Has([]byte("a"))
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestStoreIterateOrderAndPrefix(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for _, k := range []string{"p/c", "p/a", "q/a", "p/b", "p\xff"} {
				require.NoError(t, s.Put([]byte(k), []byte(k)))
			}

			var keys []string
			require.NoError(t, s.Iterate([]byte("p/"), func(k, _ []byte) error {
				keys = append(keys, string(k))
				return nil
			}))
			assert.Equal(t, []string{"p/a", "p/b", "p/c"}, keys)

			keys = nil
			require.NoError(t, s.Iterate([]byte("p/"), func(k, _ []byte) error {
				keys = append(keys, string(k))
				return ErrStopIteration
			}))
			assert.Equal(t, []string{"p/a"}, keys)

			// mutation inside the callback sees a stable snapshot
			require.NoError(t, s.Iterate([]byte("p/"), func(k, _ []byte) error {
				return s.Delete(k)
			}))

			keys = nil
			require.NoError(t, s.Iterate(nil, func(k, _ []byte) error {
				keys = append(keys, string(k))
				return nil
			}))
			assert.Equal(t, []string{"p\xff", "q/a"}, keys)

			require.NoError(t, s.DeletePrefix([]byte("q/")))
			ok, err := s.Has([]byte("q/a"))
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func keys(t *testing.T, s Store, prefix string) []string {
	t.Helper()
	var out []string
	require.NoError(t, s.Iterate([]byte(prefix), func(k, _ []byte) error {
		out = append(out, string(k))
		return nil
	}))
	return out
}

func TestTransactions(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Put([]byte("t/a"), []byte("1")))
			require.NoError(t, s.Put([]byte("t/b"), []byte("2")))

			require.NoError(t, s.Begin())
			require.ErrorIs(t, s.Begin(), ErrTxnActive)
			require.NoError(t, s.Put([]byte("t/c"), []byte("3")))
			require.NoError(t, s.Delete([]byte("t/a")))
			require.NoError(t, s.Put([]byte("t/b"), []byte("20")))

			v, err := s.Get([]byte("t/b"))
			require.NoError(t, err)
			assert.Equal(t, []byte("20"), v, "reads see own writes")
			assert.Equal(t, []string{"t/b", "t/c"}, keys(t, s, "t/"))

			require.NoError(t, s.Rollback())
			assert.Equal(t, []string{"t/a", "t/b"}, keys(t, s, "t/"))
			v, err = s.Get([]byte("t/b"))
			require.NoError(t, err)
			assert.Equal(t, []byte("2"), v)

			require.NoError(t, s.Begin())
			require.NoError(t, s.DeletePrefix([]byte("t/")))
			require.NoError(t, s.Put([]byte("t/z"), []byte("9")))
			assert.Equal(t, []string{"t/z"}, keys(t, s, "t/"))
			require.NoError(t, s.Commit())
			assert.Equal(t, []string{"t/z"}, keys(t, s, "t/"))

			require.ErrorIs(t, s.Commit(), ErrNoTxn)
			require.ErrorIs(t, s.Rollback(), ErrNoTxn)
		})
	}
}

func TestAtomic(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			boom := errors.New("boom")
			err := Atomic(s, func() error {
				require.NoError(t, s.Put([]byte("k"), []byte("lost")))
				return boom
			})
			require.ErrorIs(t, err, boom)
			ok, err := s.Has([]byte("k"))
			require.NoError(t, err)
			assert.False(t, ok)

			assert.Panics(t, func() {
				_ = Atomic(s, func() error {
					_ = s.Put([]byte("k"), []byte("lost"))
					panic("halt")
				})
			})
			ok, err = s.Has([]byte("k"))
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, Atomic(s, func() error {
				return s.Put([]byte("k"), []byte("kept"))
			}))
			v, err := s.Get([]byte("k"))
			require.NoError(t, err)
			assert.Equal(t, []byte("kept"), v)
		})
	}
}

func TestSQLiteRollbackSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	s, err := NewSQLiteStore(path)
	require.NoError(t, err)

	require.NoError(t, Atomic(s, func() error { return s.Put([]byte("committed"), []byte("1")) }))
	require.NoError(t, s.Begin())
	require.NoError(t, s.Put([]byte("pending"), []byte("1")))
	require.NoError(t, s.Close(), "close discards the open transaction")

	s, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, []string{"committed"}, keys(t, s, ""))
}

func TestPrefixEnd(t *testing.T) {
	assert.Equal(t, []byte("b"), prefixEnd([]byte("a")))
	assert.Equal(t, []byte{0x02}, prefixEnd([]byte{0x01, 0xff}))
	assert.Nil(t, prefixEnd([]byte{0xff, 0xff}))
	assert.Nil(t, prefixEnd(nil))
}

func TestValue(t *testing.T) {
	s := NewMemoryStore()
	v := NewValue[record](s, "rec")

	_, ok, err := v.Get()
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, v.Put(record{Name: "x", Count: 3, Value: uint256.NewInt(9)}))
	got, ok, err := v.Get()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "x", got.Name)
	assert.Equal(t, uint64(3), got.Count)
	assert.Equal(t, uint64(9), got.Value.Uint64())

	got, ok, err = v.Take()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "x", got.Name)

	exists, err := v.Exists()
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMapAndDoubleMap(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			m := NewMap[testKey, uint64](s, "m/")
			require.NoError(t, m.Insert(testKey("b"), 2))
			require.NoError(t, m.Insert(testKey("a"), 1))

			var seen []uint64
			require.NoError(t, m.Iter(func(k []byte, v uint64) error {
				seen = append(seen, v)
				return nil
			}))
			assert.Equal(t, []uint64{1, 2}, seen)

			n, err := m.Count()
			require.NoError(t, err)
			assert.Equal(t, uint64(2), n)

			v, ok, err := m.Take(testKey("a"))
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, uint64(1), v)
			require.NoError(t, m.Clear())
			n, err = m.Count()
			require.NoError(t, err)
			assert.Zero(t, n)

			dm := NewDoubleMap[testKey, testKey, string](s, "dm/")
			require.NoError(t, dm.Insert(testKey("u1"), testKey("2"), "u1-2"))
			require.NoError(t, dm.Insert(testKey("u1"), testKey("1"), "u1-1"))
			require.NoError(t, dm.Insert(testKey("u2"), testKey("1"), "u2-1"))

			c, err := dm.CountPrefix(testKey("u1"))
			require.NoError(t, err)
			assert.Equal(t, uint64(2), c)

			drained, err := dm.DrainPrefix(testKey("u1"))
			require.NoError(t, err)
			assert.Equal(t, []string{"u1-1", "u1-2"}, drained)

			total, err := dm.Count()
			require.NoError(t, err)
			assert.Equal(t, uint64(1), total)

			ok, err = dm.Contains(testKey("u2"), testKey("1"))
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestCounterAndToggle(t *testing.T) {
	s := NewMemoryStore()
	c := NewCounter(s, "counter")

	n, err := c.Get()
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, c.Decrease())
	n, _ = c.Get()
	assert.Zero(t, n, "decrease saturates at zero")

	require.NoError(t, c.Increase())
	require.NoError(t, c.Increase())
	n, _ = c.Get()
	assert.Equal(t, uint32(2), n)

	require.NoError(t, c.Reset())
	n, _ = c.Get()
	assert.Zero(t, n)

	tg := NewToggle(s, "toggle")
	allowed, err := tg.Allowed()
	require.NoError(t, err)
	assert.True(t, allowed, "absent toggle reads allowed")

	require.NoError(t, tg.Deny())
	allowed, _ = tg.Allowed()
	assert.False(t, allowed)

	require.NoError(t, tg.Allow())
	allowed, _ = tg.Allowed()
	assert.True(t, allowed)
}

func TestOpen(t *testing.T) {
	s, err := Open("memory", "")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Open("bolt", "")
	require.ErrorIs(t, err, ErrUnknownBackend)
}
