package tuple

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/basic"
)

func TestFormWithoutNulls(t *testing.T) {
	tup, err := FormValues([][]byte{[]byte("abc"), []byte("defgh")})
	require.NoError(t, err)

	assert.Equal(t, 2, tup.Natts())
	assert.Equal(t, 24, tup.Hoff())
	assert.Equal(t, uint16(HeapHasVarWidth), tup.Infomask())
	// 24 + 7, 对齐到32后 + 9
	assert.Len(t, tup, 41)

	values, err := tup.Deform()
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("abc"), []byte("defgh")}, values)
}

func TestFormWithNulls(t *testing.T) {
	tup, err := FormValues([][]byte{nil, []byte("x"), nil})
	require.NoError(t, err)

	assert.NotZero(t, tup.Infomask()&HeapHasNull)
	assert.Equal(t, 24, tup.Hoff())

	values, err := tup.Deform()
	require.NoError(t, err)
	require.Len(t, values, 3)
	assert.Nil(t, values[0])
	assert.Equal(t, []byte("x"), values[1])
	assert.Nil(t, values[2])
}

func TestStampInsertAndSelf(t *testing.T) {
	tup, err := FormValues([][]byte{[]byte("row")})
	require.NoError(t, err)

	tup.StampInsert(42, 3)
	tup.SetSelf(basic.ItemPointer{Block: 7, Offset: 12})

	assert.Equal(t, basic.TransactionID(42), tup.Xmin())
	assert.Equal(t, basic.TransactionID(0), tup.Xmax())
	assert.Equal(t, basic.CommandID(3), tup.Cid())
	assert.NotZero(t, tup.Infomask()&HeapXmaxInvalid)
	assert.True(t, tup.Visible())
	assert.Equal(t, basic.ItemPointer{Block: 7, Offset: 12}, tup.Self())
	assert.Equal(t, 1, tup.Natts(), "stamping keeps the attribute count")
}

func TestToastedAttrsKeepTheirEncoding(t *testing.T) {
	ptr := ToastPointer{RawSize: 10000, StoredSize: 10000, ValueID: 5, ToastRelID: 16390}
	ext := EncodeExternal(ptr)
	cmp := EncodeCompressed(3000, []byte{1, 2, 3, 4, 5})
	plain, err := EncodePlain([]byte("k"))
	require.NoError(t, err)

	tup, err := Form([]Varlena{plain, ext, cmp})
	require.NoError(t, err)
	assert.True(t, tup.HasExternal())

	attrs, err := tup.Attrs()
	require.NoError(t, err)
	assert.False(t, attrs[0].IsExternal())
	assert.True(t, attrs[1].IsExternal())
	assert.Equal(t, ptr, attrs[1].ToastPointer())
	assert.Equal(t, 10000, attrs[1].RawSize())
	assert.True(t, attrs[2].IsCompressed())
	assert.Equal(t, 3000, attrs[2].RawSize())
	assert.Equal(t, []byte{1, 2, 3, 4, 5}, attrs[2].CompressedBlock())
}

func TestAttrsRejectsTruncatedTuple(t *testing.T) {
	tup, err := FormValues([][]byte{[]byte("abcdefgh")})
	require.NoError(t, err)
	_, err = tup[:len(tup)-3].Attrs()
	assert.True(t, basic.IsCorruption(err))
}
