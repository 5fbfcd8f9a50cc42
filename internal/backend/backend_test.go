package backend

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kerrors "github.com/kvlat/kvlat/internal/errors"
	"github.com/kvlat/kvlat/internal/payload"
)

func TestNames_Registered(t *testing.T) {
	assert.Equal(t, []string{LevelDBName, MemoryName, SQLiteName}, Names())

	caps, ok := Describe(MemoryName)
	require.True(t, ok)
	assert.False(t, caps.Durable)
	assert.False(t, caps.Persistent)

	caps, ok = Describe(LevelDBName)
	require.True(t, ok)
	assert.True(t, caps.Durable)
	assert.True(t, caps.Persistent)

	_, ok = Describe("rocksdb")
	assert.False(t, ok)
}

func TestRegister_DuplicatePanics(t *testing.T) {
	assert.Panics(t, func() {
		Register(MemoryName, Capabilities{}, func(Options) (Backend, error) { return NewMemory(), nil })
	})
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open("rocksdb", Options{})
	require.Error(t, err)
	assert.Equal(t, kerrors.CodeUnknownBackend, kerrors.GetCode(err))
}

func TestOpen_MemoryRejectsDurability(t *testing.T) {
	b, err := Open(MemoryName, Options{Durable: true})
	assert.Nil(t, b)
	assert.True(t, errors.Is(err, kerrors.ErrDurabilityUnsupported))
}

func TestOpen_PersistentRequiresPath(t *testing.T) {
	for _, name := range []string{LevelDBName, SQLiteName} {
		_, err := Open(name, Options{Durable: true})
		assert.True(t, errors.Is(err, kerrors.ErrInvalidConfiguration), name)
	}
}

func TestMemory_PutGet(t *testing.T) {
	m := NewMemory()
	defer m.Close()

	val := []byte("alpha")
	require.NoError(t, m.Put([]byte("a"), val))
	val[0] = 'X'

	got, err := m.Get([]byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("alpha"), got, "Put must copy the value")

	require.NoError(t, m.Put([]byte("a"), []byte("beta")))
	got, err = m.Get([]byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("beta"), got)
	assert.Equal(t, 1, m.Len())

	_, err = m.Get([]byte("missing"))
	assert.True(t, errors.Is(err, kerrors.ErrKeyNotFound))
	assert.Equal(t, kerrors.ErrCategoryBackend, kerrors.GetCategory(err))
}

func TestMemory_UseAfterClose(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Put([]byte("a"), []byte("alpha")))
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	err := m.Put([]byte("b"), []byte("beta"))
	assert.True(t, errors.Is(err, kerrors.ErrBackendClosed))

	_, err = m.Get([]byte("a"))
	assert.True(t, errors.Is(err, kerrors.ErrBackendClosed))
	assert.False(t, errors.Is(err, kerrors.ErrKeyNotFound))
	assert.Equal(t, 0, m.Len())
}

func diskVariants() []struct {
	name        string
	compression bool
} {
	return []struct {
		name        string
		compression bool
	}{
		{LevelDBName, false},
		{LevelDBName, true},
		{SQLiteName, false},
		{SQLiteName, true},
	}
}

// TestDisk_DurableSurvivesReopen simulates a restart: pairs written in
// durable mode must read back byte for byte after close and reopen.
func TestDisk_DurableSurvivesReopen(t *testing.T) {
	for _, v := range diskVariants() {
		t.Run(fmt.Sprintf("%s/compression=%v", v.name, v.compression), func(t *testing.T) {
			dir := t.TempDir()
			opts := Options{Path: dir, Durable: true, Compression: v.compression}
			gen := payload.NewSeededGenerator(11, 13)

			b, err := Open(v.name, opts)
			require.NoError(t, err)

			want := make(map[string][]byte)
			for i := 0; i < 50; i++ {
				k, _ := gen.Generate(16)
				val, _ := gen.Generate(100)
				require.NoError(t, b.Put(k, val))
				want[string(k)] = val
			}
			require.NoError(t, b.Close())

			reopened, err := Open(v.name, opts)
			require.NoError(t, err)
			defer reopened.Close()

			for k, val := range want {
				got, err := reopened.Get([]byte(k))
				require.NoError(t, err)
				assert.True(t, bytes.Equal(val, got), "value mismatch after reopen")
			}

			_, err = reopened.Get([]byte("never-written"))
			assert.True(t, errors.Is(err, kerrors.ErrKeyNotFound))
		})
	}
}

func TestDisk_BufferedPutGet(t *testing.T) {
	for _, v := range diskVariants() {
		t.Run(fmt.Sprintf("%s/compression=%v", v.name, v.compression), func(t *testing.T) {
			b, err := Open(v.name, Options{Path: t.TempDir(), Compression: v.compression})
			require.NoError(t, err)
			defer b.Close()

			require.NoError(t, b.Put([]byte("k"), []byte("one")))
			require.NoError(t, b.Put([]byte("k"), []byte("two")))
			got, err := b.Get([]byte("k"))
			require.NoError(t, err)
			assert.Equal(t, []byte("two"), got)
		})
	}
}

func TestSQLite_CodecMismatch(t *testing.T) {
	dir := t.TempDir()

	b, err := Open(SQLiteName, Options{Path: dir, Compression: true})
	require.NoError(t, err)
	require.NoError(t, b.Put([]byte("k"), []byte("v")))
	require.NoError(t, b.Close())

	_, err = Open(SQLiteName, Options{Path: dir, Compression: false})
	require.Error(t, err)
	assert.Equal(t, kerrors.CodeOpenFailed, kerrors.GetCode(err))
}
