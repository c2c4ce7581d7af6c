/*
Segment（段）是关系数据在磁盘上的物理分片

物理结构：
- 关系的数据按块号连续排列, 每个段文件最多容纳 SegmentPages 个块
- 段0的路径为 <dir>/<relfilenode>, 后续段为 <dir>/<relfilenode>.<segno>
- 块B位于段 B / SegmentPages, 段内偏移 (B mod SegmentPages) * PageSize
- 只有最后一个段可以不满
*/

package segs

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/basic"
)

// Space 描述一个关系分支的段文件集合
type Space struct {
	Dir          string // 段文件所在目录, 通常为 <data_dir>/base
	RelFileNode  uint32
	PageSize     int
	SegmentPages uint32
}

// SegmentPath 返回第segno个段文件的路径
func (s Space) SegmentPath(segno uint32) string {
	name := fmt.Sprintf("%d", s.RelFileNode)
	if segno > 0 {
		name = fmt.Sprintf("%d.%d", s.RelFileNode, segno)
	}
	return filepath.Join(s.Dir, name)
}

// Locate maps a block to its segment number and byte offset within it.
func (s Space) Locate(block basic.BlockNumber) (segno uint32, offset int64) {
	segno = uint32(block) / s.SegmentPages
	offset = int64(uint32(block)%s.SegmentPages) * int64(s.PageSize)
	return segno, offset
}

// RunLength 从block开始最多能连续写入同一个段的页数
func (s Space) RunLength(block basic.BlockNumber, n int) int {
	room := int(s.SegmentPages - uint32(block)%s.SegmentPages)
	if n < room {
		return n
	}
	return room
}

func (s Space) segmentSize() int64 {
	return int64(s.SegmentPages) * int64(s.PageSize)
}

// NumberOfBlocks counts the blocks of the relation by walking its segments.
func NumberOfBlocks(s Space) (basic.BlockNumber, error) {
	var total uint64
	for segno := uint32(0); ; segno++ {
		info, err := os.Stat(s.SegmentPath(segno))
		if os.IsNotExist(err) {
			break
		}
		if err != nil {
			return 0, basic.IOError.Wrap(errors.Wrapf(err, "could not stat file %s", s.SegmentPath(segno)))
		}
		blocks := uint64(info.Size() / int64(s.PageSize))
		total += blocks
		if info.Size() < s.segmentSize() {
			break
		}
	}
	if total >= uint64(basic.InvalidBlockNumber) {
		return 0, basic.LimitError.New("relation %d has too many blocks", s.RelFileNode)
	}
	return basic.BlockNumber(total), nil
}

// ReadBlock reads one block into buf, which must be PageSize long.
func ReadBlock(s Space, block basic.BlockNumber, buf []byte) error {
	segno, offset := s.Locate(block)
	path := s.SegmentPath(segno)
	f, err := os.Open(path)
	if err != nil {
		return basic.IOError.Wrap(errors.Wrapf(err, "could not open file %s", path))
	}
	defer f.Close()

	if _, err := f.ReadAt(buf[:s.PageSize], offset); err != nil {
		if err == io.EOF {
			return basic.IOError.Wrap(errors.Errorf("could not read block %d in file %s: read only part of page", block, path))
		}
		return basic.IOError.Wrap(errors.Wrapf(err, "could not read block %d in file %s", block, path))
	}
	return nil
}

// Truncate 将关系截断为nblocks个块, 删除多余的段文件
func Truncate(s Space, nblocks basic.BlockNumber) error {
	keepSeg, keepOff := s.Locate(nblocks)
	for segno := keepSeg; ; segno++ {
		path := s.SegmentPath(segno)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil
		}
		var err error
		if segno == keepSeg && (keepOff > 0 || segno == 0) {
			err = os.Truncate(path, keepOff)
		} else {
			err = os.Remove(path)
		}
		if err != nil {
			return basic.IOError.Wrap(errors.Wrapf(err, "could not truncate file %s", path))
		}
	}
}
