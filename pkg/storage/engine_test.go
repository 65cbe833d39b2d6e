package storage

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// engineUnderTest runs the same contract suite against every Engine
// implementation.
type engineUnderTest struct {
	name string
	open func(t *testing.T) Engine
}

func engines() []engineUnderTest {
	return []engineUnderTest{
		{
			name: "memory",
			open: func(t *testing.T) Engine {
				return NewMemoryEngine()
			},
		},
		{
			name: "badger",
			open: func(t *testing.T) Engine {
				engine, err := NewBadgerEngineInMemory()
				require.NoError(t, err)
				return engine
			},
		},
	}
}

func TestEngine_PutGetDelete(t *testing.T) {
	for _, e := range engines() {
		t.Run(e.name, func(t *testing.T) {
			engine := e.open(t)
			defer engine.Close()

			require.NoError(t, engine.Put(CFDefault, []byte("k"), []byte("v")))

			v, ok, err := engine.Get(CFDefault, []byte("k"))
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, []byte("v"), v)

			require.NoError(t, engine.Delete(CFDefault, []byte("k")))

			_, ok, err = engine.Get(CFDefault, []byte("k"))
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestEngine_GetAbsentIsNotAnError(t *testing.T) {
	for _, e := range engines() {
		t.Run(e.name, func(t *testing.T) {
			engine := e.open(t)
			defer engine.Close()

			v, ok, err := engine.Get(CFDefault, []byte("missing"))
			require.NoError(t, err)
			assert.False(t, ok)
			assert.Nil(t, v)
		})
	}
}

func TestEngine_DeleteAbsentSucceeds(t *testing.T) {
	for _, e := range engines() {
		t.Run(e.name, func(t *testing.T) {
			engine := e.open(t)
			defer engine.Close()

			assert.NoError(t, engine.Delete(CFDefault, []byte("missing")))
		})
	}
}

func TestEngine_ColumnFamilyIsolation(t *testing.T) {
	for _, e := range engines() {
		t.Run(e.name, func(t *testing.T) {
			engine := e.open(t)
			defer engine.Close()

			require.NoError(t, engine.Put(CFDefault, []byte("k"), []byte("default")))
			require.NoError(t, engine.Put(CFRecords, []byte("k"), []byte("records")))

			v, ok, err := engine.Get(CFDefault, []byte("k"))
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, []byte("default"), v)

			v, ok, err = engine.Get(CFRecords, []byte("k"))
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, []byte("records"), v)

			// Deleting in one family leaves the other untouched.
			require.NoError(t, engine.Delete(CFDefault, []byte("k")))
			_, ok, err = engine.Get(CFRecords, []byte("k"))
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestEngine_UnknownColumnFamily(t *testing.T) {
	for _, e := range engines() {
		t.Run(e.name, func(t *testing.T) {
			engine := e.open(t)
			defer engine.Close()

			_, _, err := engine.Get("bogus", []byte("k"))
			assert.ErrorIs(t, err, ErrUnknownCF)

			err = engine.Put("bogus", []byte("k"), []byte("v"))
			assert.ErrorIs(t, err, ErrUnknownCF)
		})
	}
}

func TestEngine_ScanPrefix(t *testing.T) {
	for _, e := range engines() {
		t.Run(e.name, func(t *testing.T) {
			engine := e.open(t)
			defer engine.Close()

			require.NoError(t, engine.Put(CFDefault, []byte("user:2"), []byte("b")))
			require.NoError(t, engine.Put(CFDefault, []byte("user:1"), []byte("a")))
			require.NoError(t, engine.Put(CFDefault, []byte("user:3"), []byte("c")))
			require.NoError(t, engine.Put(CFDefault, []byte("other"), []byte("x")))

			pairs, err := engine.ScanPrefix(CFDefault, []byte("user:"))
			require.NoError(t, err)
			require.Len(t, pairs, 3)

			// Lexicographic key order.
			assert.Equal(t, []byte("user:1"), pairs[0].Key)
			assert.Equal(t, []byte("user:2"), pairs[1].Key)
			assert.Equal(t, []byte("user:3"), pairs[2].Key)
			assert.Equal(t, []byte("a"), pairs[0].Value)
		})
	}
}

func TestEngine_ScanEmptyPrefixReturnsWholeFamily(t *testing.T) {
	for _, e := range engines() {
		t.Run(e.name, func(t *testing.T) {
			engine := e.open(t)
			defer engine.Close()

			for i := 0; i < 5; i++ {
				key := fmt.Sprintf("k%d", i)
				require.NoError(t, engine.Put(CFDefault, []byte(key), []byte("v")))
			}
			require.NoError(t, engine.Put(CFRecords, []byte("elsewhere"), []byte("v")))

			pairs, err := engine.ScanPrefix(CFDefault, nil)
			require.NoError(t, err)
			assert.Len(t, pairs, 5)
		})
	}
}

func TestEngine_TransactionCommitVisibility(t *testing.T) {
	for _, e := range engines() {
		t.Run(e.name, func(t *testing.T) {
			engine := e.open(t)
			defer engine.Close()

			tx, err := engine.Begin()
			require.NoError(t, err)
			require.NoError(t, tx.Put(CFDefault, []byte("k"), []byte("buffered")))

			// Invisible before commit.
			_, ok, err := engine.Get(CFDefault, []byte("k"))
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, tx.Commit())

			v, ok, err := engine.Get(CFDefault, []byte("k"))
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, []byte("buffered"), v)
		})
	}
}

func TestEngine_TransactionReadYourWrites(t *testing.T) {
	for _, e := range engines() {
		t.Run(e.name, func(t *testing.T) {
			engine := e.open(t)
			defer engine.Close()

			require.NoError(t, engine.Put(CFDefault, []byte("k"), []byte("old")))

			tx, err := engine.Begin()
			require.NoError(t, err)
			defer tx.Discard()

			require.NoError(t, tx.Put(CFDefault, []byte("k"), []byte("new")))
			v, ok, err := tx.Get(CFDefault, []byte("k"))
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, []byte("new"), v)

			// A buffered delete reads as absent (tombstone).
			require.NoError(t, tx.Delete(CFDefault, []byte("k")))
			_, ok, err = tx.Get(CFDefault, []byte("k"))
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestEngine_TransactionSnapshotReads(t *testing.T) {
	for _, e := range engines() {
		t.Run(e.name, func(t *testing.T) {
			engine := e.open(t)
			defer engine.Close()

			require.NoError(t, engine.Put(CFDefault, []byte("k"), []byte("v1")))

			tx, err := engine.Begin()
			require.NoError(t, err)
			defer tx.Discard()

			// A write after Begin is invisible to the transaction.
			require.NoError(t, engine.Put(CFDefault, []byte("k"), []byte("v2")))

			v, ok, err := tx.Get(CFDefault, []byte("k"))
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, []byte("v1"), v)
		})
	}
}

func TestEngine_TransactionConflict(t *testing.T) {
	for _, e := range engines() {
		t.Run(e.name, func(t *testing.T) {
			engine := e.open(t)
			defer engine.Close()

			tx, err := engine.Begin()
			require.NoError(t, err)
			require.NoError(t, tx.Put(CFDefault, []byte("k"), []byte("1")))

			// A non-transactional write to the same key lands first.
			require.NoError(t, engine.Put(CFDefault, []byte("k"), []byte("2")))

			err = tx.Commit()
			assert.ErrorIs(t, err, ErrConflict)

			// The direct write survives.
			v, ok, err := engine.Get(CFDefault, []byte("k"))
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, []byte("2"), v)
		})
	}
}

func TestEngine_TransactionDiscard(t *testing.T) {
	for _, e := range engines() {
		t.Run(e.name, func(t *testing.T) {
			engine := e.open(t)
			defer engine.Close()

			tx, err := engine.Begin()
			require.NoError(t, err)
			require.NoError(t, tx.Put(CFDefault, []byte("k"), []byte("v")))
			tx.Discard()

			_, ok, err := engine.Get(CFDefault, []byte("k"))
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestEngine_TransactionUseAfterCommit(t *testing.T) {
	for _, e := range engines() {
		t.Run(e.name, func(t *testing.T) {
			engine := e.open(t)
			defer engine.Close()

			tx, err := engine.Begin()
			require.NoError(t, err)
			require.NoError(t, tx.Commit())

			err = tx.Put(CFDefault, []byte("k"), []byte("v"))
			assert.ErrorIs(t, err, ErrTxClosed)
			_, _, err = tx.Get(CFDefault, []byte("k"))
			assert.ErrorIs(t, err, ErrTxClosed)
			err = tx.Commit()
			assert.ErrorIs(t, err, ErrTxClosed)
		})
	}
}

func TestEngine_Snapshot(t *testing.T) {
	for _, e := range engines() {
		t.Run(e.name, func(t *testing.T) {
			engine := e.open(t)
			defer engine.Close()

			require.NoError(t, engine.Put(CFDefault, []byte("k"), []byte("v1")))

			snap, err := engine.Snapshot()
			require.NoError(t, err)
			defer snap.Close()

			require.NoError(t, engine.Put(CFDefault, []byte("k"), []byte("v2")))
			require.NoError(t, engine.Put(CFDefault, []byte("new"), []byte("x")))

			v, ok, err := snap.Get(CFDefault, []byte("k"))
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, []byte("v1"), v)

			_, ok, err = snap.Get(CFDefault, []byte("new"))
			require.NoError(t, err)
			assert.False(t, ok)

			pairs, err := snap.ScanPrefix(CFDefault, nil)
			require.NoError(t, err)
			assert.Len(t, pairs, 1)
		})
	}
}

func TestEngine_ClosedOperationsFail(t *testing.T) {
	for _, e := range engines() {
		t.Run(e.name, func(t *testing.T) {
			engine := e.open(t)
			require.NoError(t, engine.Close())

			_, _, err := engine.Get(CFDefault, []byte("k"))
			assert.ErrorIs(t, err, ErrClosed)
			err = engine.Put(CFDefault, []byte("k"), []byte("v"))
			assert.ErrorIs(t, err, ErrClosed)
			_, err = engine.Begin()
			assert.ErrorIs(t, err, ErrClosed)

			// Double close is a no-op.
			assert.NoError(t, engine.Close())
		})
	}
}

func TestEngine_Flush(t *testing.T) {
	for _, e := range engines() {
		t.Run(e.name, func(t *testing.T) {
			engine := e.open(t)
			defer engine.Close()

			require.NoError(t, engine.Put(CFDefault, []byte("k"), []byte("v")))
			assert.NoError(t, engine.Flush())
		})
	}
}

func TestBadgerEngine_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	engine, err := NewBadgerEngine(dir)
	require.NoError(t, err)
	require.NoError(t, engine.Put(CFRecords, []byte("m1"), []byte("payload")))
	require.NoError(t, engine.Close())

	engine, err = NewBadgerEngine(dir)
	require.NoError(t, err)
	defer engine.Close()

	v, ok, err := engine.Get(CFRecords, []byte("m1"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("payload"), v)
}
