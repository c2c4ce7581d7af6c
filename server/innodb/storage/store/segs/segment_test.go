package segs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/basic"
)

const testPageSize = 1024

func testSpace(t *testing.T, segPages uint32) Space {
	return Space{Dir: filepath.Join(t.TempDir(), "base"), RelFileNode: 16384, PageSize: testPageSize, SegmentPages: segPages}
}

func pagesOf(start byte, n int) []byte {
	buf := make([]byte, n*testPageSize)
	for i := 0; i < n; i++ {
		for j := 0; j < testPageSize; j++ {
			buf[i*testPageSize+j] = start + byte(i)
		}
	}
	return buf
}

func TestSpaceLayout(t *testing.T) {
	s := Space{Dir: "/data/base", RelFileNode: 16384, PageSize: 8192, SegmentPages: 4}

	assert.Equal(t, "/data/base/16384", s.SegmentPath(0))
	assert.Equal(t, "/data/base/16384.2", s.SegmentPath(2))

	segno, off := s.Locate(9)
	assert.Equal(t, uint32(2), segno)
	assert.Equal(t, int64(8192), off)

	assert.Equal(t, 3, s.RunLength(1, 10))
	assert.Equal(t, 2, s.RunLength(4, 2))
	assert.Equal(t, 4, s.RunLength(8, 4))
}

func TestWriterAcrossSegments(t *testing.T) {
	s := testSpace(t, 4)
	w := NewWriter(s)

	// 块0-3写入段0, 块4-5写入段1
	require.NoError(t, w.Write(0, pagesOf(0, 4), 4))
	require.NoError(t, w.Write(4, pagesOf(4, 2), 2))
	segno, open := w.CurrentSegment()
	assert.True(t, open)
	assert.Equal(t, uint32(1), segno)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	n, err := NumberOfBlocks(s)
	require.NoError(t, err)
	assert.Equal(t, basic.BlockNumber(6), n)

	info, err := os.Stat(s.SegmentPath(0))
	require.NoError(t, err)
	assert.Equal(t, int64(4*testPageSize), info.Size())
	info, err = os.Stat(s.SegmentPath(1))
	require.NoError(t, err)
	assert.Equal(t, int64(2*testPageSize), info.Size())

	buf := make([]byte, testPageSize)
	for b := 0; b < 6; b++ {
		require.NoError(t, ReadBlock(s, basic.BlockNumber(b), buf))
		assert.Equal(t, byte(b), buf[0])
		assert.Equal(t, byte(b), buf[testPageSize-1])
	}

	err = ReadBlock(s, 6, buf)
	assert.True(t, basic.IsIOError(err))
}

func TestWriterRejectsCrossingRun(t *testing.T) {
	w := NewWriter(testSpace(t, 4))
	err := w.Write(3, pagesOf(0, 2), 2)
	assert.True(t, basic.IsProtocolError(err))

	err = w.Write(0, make([]byte, testPageSize), 2)
	assert.True(t, basic.IsProtocolError(err))
}

func TestNumberOfBlocksEmpty(t *testing.T) {
	n, err := NumberOfBlocks(testSpace(t, 4))
	require.NoError(t, err)
	assert.Equal(t, basic.BlockNumber(0), n)
}

func TestTruncate(t *testing.T) {
	s := testSpace(t, 4)
	w := NewWriter(s)
	require.NoError(t, w.Write(0, pagesOf(0, 4), 4))
	require.NoError(t, w.Write(4, pagesOf(4, 4), 4))
	require.NoError(t, w.Write(8, pagesOf(8, 1), 1))
	require.NoError(t, w.Close())

	require.NoError(t, Truncate(s, 5))
	n, err := NumberOfBlocks(s)
	require.NoError(t, err)
	assert.Equal(t, basic.BlockNumber(5), n)
	_, err = os.Stat(s.SegmentPath(2))
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, Truncate(s, 0))
	n, err = NumberOfBlocks(s)
	require.NoError(t, err)
	assert.Equal(t, basic.BlockNumber(0), n)
	_, err = os.Stat(s.SegmentPath(0))
	assert.NoError(t, err, "segment 0 is kept empty")
}
