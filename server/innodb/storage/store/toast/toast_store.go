package toast

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/storage/store/logs"
	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/storage/store/tuple"
	"github.com/zhukovaskychina/xmysql-directpath/util"
)

// 每个值的存储格式: len u32 | xxhash32 u32 | data, 值ID即为该条目在文件中的偏移
const entryHeaderSize = 8

// Store 行外值存储
type Store interface {
	Save(xid basic.TransactionID, data []byte) (tuple.ToastPointer, error)
	Fetch(ptr tuple.ToastPointer) ([]byte, error)
}

// FileStore keeps the out-of-line values of one relation in an append-only file.
type FileStore struct {
	mu     sync.Mutex
	file   *os.File
	path   string
	relID  uint32
	end    int64
	sink   logs.Sink
	logged bool
}

var _ Store = (*FileStore)(nil)

// StorePath 返回toast文件路径
func StorePath(dir string, relID uint32) string {
	return filepath.Join(dir, fmt.Sprintf("%d_toast", relID))
}

// OpenStore 打开toast文件; logged为true时每个值都会写一条WAL记录
func OpenStore(dir string, relID uint32, sink logs.Sink, logged bool) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, basic.IOError.Wrap(errors.Wrapf(err, "could not create directory %s", dir))
	}
	path := StorePath(dir, relID)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, basic.IOError.Wrap(errors.Wrapf(err, "could not open file %s", path))
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, basic.IOError.Wrap(errors.Wrapf(err, "could not stat file %s", path))
	}
	return &FileStore{file: file, path: path, relID: relID, end: info.Size(), sink: sink, logged: logged && sink != nil}, nil
}

func (s *FileStore) RelID() uint32 {
	return s.relID
}

// Size 当前文件长度, 中止时可截断回该位置
func (s *FileStore) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.end
}

// Save appends a value and returns a pointer whose RawSize equals the
// stored size; callers storing compressed data overwrite RawSize.
func (s *FileStore) Save(xid basic.TransactionID, data []byte) (tuple.ToastPointer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return tuple.ToastPointer{}, basic.ProtocolError.New("toast store %s is closed", s.path)
	}
	valueID := uint64(s.end)
	if s.logged {
		rec := &logs.Record{
			Type:  logs.RecordToastValue,
			Xid:   xid,
			Toast: &logs.ToastValue{RelFileNode: s.relID, ValueID: valueID, Data: data},
		}
		if _, err := s.sink.Insert(rec); err != nil {
			return tuple.ToastPointer{}, err
		}
	}

	entry := make([]byte, entryHeaderSize+len(data))
	binary.LittleEndian.PutUint32(entry[0:], uint32(len(data)))
	binary.LittleEndian.PutUint32(entry[4:], util.FrameChecksum(data))
	copy(entry[entryHeaderSize:], data)
	if _, err := s.file.WriteAt(entry, s.end); err != nil {
		return tuple.ToastPointer{}, basic.IOError.Wrap(errors.Wrapf(err, "could not write to file %s", s.path))
	}
	s.end += int64(len(entry))
	return tuple.ToastPointer{
		RawSize:    uint32(len(data)),
		StoredSize: uint32(len(data)),
		ValueID:    valueID,
		ToastRelID: s.relID,
	}, nil
}

// Fetch 读取行外值的存储形式(可能是压缩的)
func (s *FileStore) Fetch(ptr tuple.ToastPointer) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil, basic.ProtocolError.New("toast store %s is closed", s.path)
	}
	if ptr.ToastRelID != s.relID {
		return nil, basic.CorruptionError.New("toast pointer for relation %d read from %d", ptr.ToastRelID, s.relID)
	}
	var header [entryHeaderSize]byte
	if _, err := s.file.ReadAt(header[:], int64(ptr.ValueID)); err != nil {
		return nil, s.readErr(err, ptr)
	}
	length := binary.LittleEndian.Uint32(header[0:])
	if length != ptr.StoredSize {
		return nil, basic.CorruptionError.New("toast value %d has length %d, pointer says %d", ptr.ValueID, length, ptr.StoredSize)
	}
	data := make([]byte, length)
	if _, err := s.file.ReadAt(data, int64(ptr.ValueID)+entryHeaderSize); err != nil {
		return nil, s.readErr(err, ptr)
	}
	if util.FrameChecksum(data) != binary.LittleEndian.Uint32(header[4:]) {
		return nil, basic.CorruptionError.New("toast value %d in %s fails checksum", ptr.ValueID, s.path)
	}
	return data, nil
}

func (s *FileStore) readErr(err error, ptr tuple.ToastPointer) error {
	if err == io.EOF {
		return basic.CorruptionError.New("missing toast value %d in %s", ptr.ValueID, s.path)
	}
	return basic.IOError.Wrap(errors.Wrapf(err, "could not read file %s", s.path))
}

// Truncate 丢弃size之后写入的值
func (s *FileStore) Truncate(size int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		// 已关闭: 直接按路径截断
		if info, err := os.Stat(s.path); err != nil || info.Size() <= size {
			return nil
		}
		if err := os.Truncate(s.path, size); err != nil {
			return basic.IOError.Wrap(errors.Wrapf(err, "could not truncate file %s", s.path))
		}
		s.end = size
		return nil
	}
	if size >= s.end {
		return nil
	}
	if err := s.file.Truncate(size); err != nil {
		return basic.IOError.Wrap(errors.Wrapf(err, "could not truncate file %s", s.path))
	}
	s.end = size
	return nil
}

// Closed 文件句柄是否已关闭
func (s *FileStore) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file == nil
}

func (s *FileStore) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	if err := s.file.Sync(); err != nil {
		return basic.IOError.Wrap(errors.Wrapf(err, "could not fsync file %s", s.path))
	}
	return nil
}

func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	f := s.file
	s.file = nil
	syncErr := f.Sync()
	if err := f.Close(); err != nil {
		return basic.IOError.Wrap(errors.Wrapf(err, "could not close file %s", s.path))
	}
	if syncErr != nil {
		return basic.IOError.Wrap(errors.Wrapf(syncErr, "could not fsync file %s", s.path))
	}
	return nil
}
