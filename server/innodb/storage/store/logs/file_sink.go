package logs

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"

	gxbytes "github.com/dubbogo/gost/bytes"
	"github.com/pkg/errors"

	"github.com/zhukovaskychina/xmysql-directpath/logger"
	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-directpath/util"
)

// WalFileName WAL文件名
const WalFileName = "xdirect.wal"

// Sink 接收WAL记录的日志设施
type Sink interface {
	// Insert 追加一条记录, 返回记录结束位置的LSN
	Insert(rec *Record) (basic.LSN, error)
	// Flush 保证LSN之前的记录已经落盘
	Flush(lsn basic.LSN) error
}

// FlushSink 能报告当前插入位置的WAL; 提交和批量加载结束时刷新到该位置
type FlushSink interface {
	Sink
	InsertLSN() basic.LSN
}

// FileSink 基于单个追加文件的WAL
type FileSink struct {
	mu          sync.Mutex
	file        *os.File
	path        string
	compression Compression
	insertLSN   basic.LSN // 下一条记录的起始位置
	flushedLSN  basic.LSN
	records     uint64
}

var _ FlushSink = (*FileSink)(nil)

// NewFileSink 打开(或创建)WAL文件, LSN从文件末尾继续
func NewFileSink(dir string, compression Compression) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, basic.IOError.Wrap(errors.Wrapf(err, "could not create directory %s", dir))
	}
	path := filepath.Join(dir, WalFileName)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, basic.IOError.Wrap(errors.Wrapf(err, "could not open file %s", path))
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, basic.IOError.Wrap(errors.Wrapf(err, "could not stat file %s", path))
	}
	end := basic.LSN(info.Size())
	return &FileSink{
		file:        file,
		path:        path,
		compression: compression,
		insertLSN:   end,
		flushedLSN:  end,
	}, nil
}

func (s *FileSink) Path() string {
	return s.path
}

// Insert 序列化并追加一条记录
func (s *FileSink) Insert(rec *Record) (basic.LSN, error) {
	buf := gxbytes.GetBytesBuffer()
	defer gxbytes.PutBytesBuffer(buf)
	buf.Reset()

	// 帧头占位
	buf.Write(make([]byte, frameHeaderSize))
	if err := encodePayload(buf, rec, s.compression); err != nil {
		return basic.InvalidLSN, err
	}
	frame := buf.Bytes()
	payload := frame[frameHeaderSize:]
	binary.LittleEndian.PutUint32(frame[0:], uint32(len(payload)))
	binary.LittleEndian.PutUint32(frame[4:], util.FrameChecksum(payload))

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return basic.InvalidLSN, basic.ProtocolError.New("wal %s is closed", s.path)
	}
	for data := frame; len(data) > 0; {
		n, err := s.file.Write(data)
		if err != nil {
			return basic.InvalidLSN, basic.IOError.Wrap(errors.Wrapf(err, "could not write to file %s", s.path))
		}
		data = data[n:]
	}
	s.insertLSN += basic.LSN(len(frame))
	s.records++
	return s.insertLSN, nil
}

// Flush fsyncs the WAL if lsn is beyond what is already durable.
func (s *FileSink) Flush(lsn basic.LSN) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked(lsn)
}

func (s *FileSink) flushLocked(lsn basic.LSN) error {
	if s.file == nil || lsn <= s.flushedLSN {
		return nil
	}
	if err := s.file.Sync(); err != nil {
		return basic.IOError.Wrap(errors.Wrapf(err, "could not fsync file %s", s.path))
	}
	s.flushedLSN = s.insertLSN
	return nil
}

// InsertLSN 当前写入位置
func (s *FileSink) InsertLSN() basic.LSN {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLSN
}

// Records 本次打开以来写入的记录数
func (s *FileSink) Records() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records
}

// Close 刷新并关闭WAL文件
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	if err := s.flushLocked(s.insertLSN); err != nil {
		logger.Warnf("%v", err)
	}
	err := s.file.Close()
	s.file = nil
	if err != nil {
		return basic.IOError.Wrap(errors.Wrapf(err, "could not close file %s", s.path))
	}
	return nil
}
