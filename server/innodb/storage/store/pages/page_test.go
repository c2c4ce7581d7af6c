package pages

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/basic"
)

func newPage(t *testing.T) Page {
	p := Page(make([]byte, 8192))
	p.Init(0)
	require.NoError(t, p.Verify())
	return p
}

func TestPageInit(t *testing.T) {
	raw := Page(make([]byte, 8192))
	assert.True(t, raw.IsNew())
	assert.Equal(t, 0, raw.ItemCount())

	p := newPage(t)
	assert.False(t, p.IsNew())
	assert.True(t, p.IsEmpty())
	assert.Equal(t, PageHeaderSize, p.Lower())
	assert.Equal(t, 8192, p.Upper())
	assert.Equal(t, 8192, p.Special())
	assert.Equal(t, 8192, p.PageSizeField())
	assert.Equal(t, LayoutVersion, p.Version())
	assert.Equal(t, 8192-PageHeaderSize-ItemIDSize, p.FreeSpace())
	assert.Equal(t, 8160, MaxHeapTupleSize(8192))
}

func TestAddItem(t *testing.T) {
	p := newPage(t)

	first, err := p.AddItem([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, basic.OffsetNumber(1), first)

	second, err := p.AddItem([]byte("world!!!!"))
	require.NoError(t, err)
	assert.Equal(t, basic.OffsetNumber(2), second)

	assert.Equal(t, 2, p.ItemCount())
	assert.False(t, p.IsEmpty())
	// 元组按8字节对齐
	assert.Equal(t, 8192-8-16, p.Upper())

	item, err := p.Item(1)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), item)
	item, err = p.Item(2)
	require.NoError(t, err)
	assert.Equal(t, []byte("world!!!!"), item)

	_, err = p.Item(3)
	assert.True(t, errors.Is(err, ErrInvalidItem))
}

func TestAddItemUntilFull(t *testing.T) {
	p := newPage(t)
	row := make([]byte, 100)
	n := 0
	for {
		_, err := p.AddItem(row)
		if err != nil {
			assert.True(t, errors.Is(err, ErrPageFull))
			break
		}
		n++
	}
	// (8192-24) / (104+4)
	assert.Equal(t, 75, n)
	assert.Equal(t, n, p.ItemCount())
	assert.Less(t, p.FreeSpace(), 104)
}

func TestAddItemOnNewPage(t *testing.T) {
	p := Page(make([]byte, 1024))
	_, err := p.AddItem([]byte("x"))
	assert.Equal(t, ErrNotInitialized, err)
}

func TestChecksum(t *testing.T) {
	p := newPage(t)
	_, err := p.AddItem([]byte("payload"))
	require.NoError(t, err)
	p.SetLSN(4096)
	p.SetChecksum(7)

	assert.NotZero(t, p.Checksum())
	assert.True(t, p.VerifyChecksum(7))
	assert.False(t, p.VerifyChecksum(8), "checksum is bound to the block number")

	p[5000] ^= 0xFF
	assert.False(t, p.VerifyChecksum(7))

	assert.True(t, Page(make([]byte, 8192)).VerifyChecksum(3))
}

func TestVerifyRejectsGarbage(t *testing.T) {
	p := newPage(t)
	p.putU16(offLower, 9000)
	err := p.Verify()
	assert.True(t, basic.IsCorruption(err))
}
