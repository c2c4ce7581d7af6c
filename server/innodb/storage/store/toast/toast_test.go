package toast

import (
	"bytes"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/storage/store/logs"
	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/storage/store/tuple"
)

func randomBytes(n int) []byte {
	b := make([]byte, n)
	rand.New(rand.NewSource(int64(n))).Read(b)
	return b
}

func plainAttrs(t *testing.T, values ...[]byte) []tuple.Varlena {
	attrs := make([]tuple.Varlena, len(values))
	for i, v := range values {
		a, err := tuple.EncodePlain(v)
		require.NoError(t, err)
		attrs[i] = a
	}
	return attrs
}

func openStore(t *testing.T, sink logs.Sink, logged bool) *FileStore {
	store, err := OpenStore(filepath.Join(t.TempDir(), "base"), 16390, sink, logged)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestDefaultThreshold(t *testing.T) {
	assert.Equal(t, 2032, DefaultThreshold(8192))
	assert.Equal(t, 1008, DefaultThreshold(4096))
}

func TestSmallTupleUntouched(t *testing.T) {
	toaster := NewToaster(openStore(t, nil, false), DefaultThreshold(8192))
	tup, err := toaster.Toast(3, plainAttrs(t, []byte("id"), []byte("name")))
	require.NoError(t, err)
	assert.False(t, tup.HasExternal())
	values, err := tup.Deform()
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("id"), []byte("name")}, values)
}

func TestCompressibleValueStaysInline(t *testing.T) {
	store := openStore(t, nil, false)
	toaster := NewToaster(store, DefaultThreshold(8192))
	big := bytes.Repeat([]byte("abcdefgh"), 1000)

	tup, err := toaster.Toast(3, plainAttrs(t, []byte("k"), big))
	require.NoError(t, err)
	assert.LessOrEqual(t, len(tup), toaster.Threshold())
	assert.False(t, tup.HasExternal())
	assert.Equal(t, int64(0), store.Size())

	attrs, err := tup.Attrs()
	require.NoError(t, err)
	assert.True(t, attrs[1].IsCompressed())

	values, err := DetoastTuple(store, tup)
	require.NoError(t, err)
	assert.Equal(t, big, values[1])
}

func TestIncompressibleValueMovesOutOfLine(t *testing.T) {
	store := openStore(t, nil, false)
	toaster := NewToaster(store, DefaultThreshold(8192))
	big := randomBytes(10000)

	tup, err := toaster.Toast(3, plainAttrs(t, []byte("k"), big))
	require.NoError(t, err)
	assert.LessOrEqual(t, len(tup), toaster.Threshold())
	assert.True(t, tup.HasExternal())

	attrs, err := tup.Attrs()
	require.NoError(t, err)
	require.True(t, attrs[1].IsExternal())
	ptr := attrs[1].ToastPointer()
	assert.Equal(t, uint32(10000), ptr.RawSize)
	assert.Equal(t, uint32(16390), ptr.ToastRelID)

	values, err := DetoastTuple(store, tup)
	require.NoError(t, err)
	assert.Equal(t, []byte("k"), values[0])
	assert.Equal(t, big, values[1])
}

func TestLargestColumnsMovedFirst(t *testing.T) {
	store := openStore(t, nil, false)
	toaster := NewToaster(store, DefaultThreshold(8192))
	small := randomBytes(500)
	large := randomBytes(3000)

	tup, err := toaster.Toast(3, plainAttrs(t, small, large))
	require.NoError(t, err)
	attrs, err := tup.Attrs()
	require.NoError(t, err)
	assert.False(t, attrs[0].IsExternal())
	assert.True(t, attrs[1].IsExternal())
}

func TestLoggedStoreWritesWal(t *testing.T) {
	sink, err := logs.NewFileSink(t.TempDir(), logs.CompressionNone)
	require.NoError(t, err)
	defer sink.Close()

	store := openStore(t, sink, true)
	toaster := NewToaster(store, DefaultThreshold(8192))
	_, err = toaster.Toast(8, plainAttrs(t, randomBytes(5000)))
	require.NoError(t, err)
	require.NoError(t, sink.Close())

	recs, err := logs.ReadAll(sink.Path())
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, logs.RecordToastValue, recs[0].Type)
	assert.Equal(t, basic.TransactionID(8), recs[0].Xid)
	assert.Equal(t, uint32(16390), recs[0].Toast.RelFileNode)
	assert.Len(t, recs[0].Toast.Data, 5000)
}

func TestFetchDetectsCorruption(t *testing.T) {
	store := openStore(t, nil, false)
	ptr, err := store.Save(3, []byte("hello toast"))
	require.NoError(t, err)
	require.NoError(t, store.Sync())

	data, err := os.ReadFile(store.path)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xFF
	require.NoError(t, os.WriteFile(store.path, data, 0600))

	_, err = store.Fetch(ptr)
	assert.True(t, basic.IsCorruption(err))

	ptr.ValueID = 1 << 20
	_, err = store.Fetch(ptr)
	assert.Error(t, err)
}

func TestTruncateDiscardsValues(t *testing.T) {
	store := openStore(t, nil, false)
	_, err := store.Save(3, []byte("keep"))
	require.NoError(t, err)
	mark := store.Size()
	_, err = store.Save(3, []byte("drop"))
	require.NoError(t, err)

	require.NoError(t, store.Truncate(mark))
	assert.Equal(t, mark, store.Size())
}

func TestTruncateAfterClose(t *testing.T) {
	store := openStore(t, nil, false)
	_, err := store.Save(3, []byte("keep"))
	require.NoError(t, err)
	mark := store.Size()
	_, err = store.Save(3, []byte("drop"))
	require.NoError(t, err)

	require.NoError(t, store.Close())
	assert.True(t, store.Closed())
	require.NoError(t, store.Truncate(mark))

	info, err := os.Stat(store.path)
	require.NoError(t, err)
	assert.Equal(t, mark, info.Size())
}
