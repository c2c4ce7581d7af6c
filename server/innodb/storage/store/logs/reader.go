package logs

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-directpath/util"
)

// Reader iterates over the records of a WAL file.
type Reader struct {
	file *os.File
	r    *bufio.Reader
	pos  basic.LSN
}

func NewReader(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, basic.IOError.Wrap(errors.Wrapf(err, "could not open file %s", path))
	}
	return &Reader{file: file, r: bufio.NewReader(file)}, nil
}

// Next 读取下一条记录; 日志结束(包括末尾不完整的帧)时返回 nil
func (r *Reader) Next() (*Record, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(r.r, header[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, nil
		}
		return nil, basic.IOError.Wrap(errors.Wrap(err, "could not read wal"))
	}
	length := binary.LittleEndian.Uint32(header[0:])
	sum := binary.LittleEndian.Uint32(header[4:])
	payload := make([]byte, length)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, nil
		}
		return nil, basic.IOError.Wrap(errors.Wrap(err, "could not read wal"))
	}
	if util.FrameChecksum(payload) != sum {
		return nil, basic.CorruptionError.New("incorrect wal frame checksum at %d", r.pos)
	}
	rec, err := decodePayload(payload)
	if err != nil {
		return nil, errors.Wrapf(err, "wal record at %d", r.pos)
	}
	r.pos += basic.LSN(frameHeaderSize + int(length))
	rec.LSN = r.pos
	return rec, nil
}

func (r *Reader) Close() error {
	return r.file.Close()
}

// ReadAll 读取WAL文件中的全部记录
func ReadAll(path string) ([]*Record, error) {
	r, err := NewReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	var out []*Record
	for {
		rec, err := r.Next()
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return out, nil
		}
		out = append(out, rec)
	}
}
