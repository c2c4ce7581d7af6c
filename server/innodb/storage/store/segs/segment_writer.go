package segs

import (
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/zhukovaskychina/xmysql-directpath/logger"
	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/basic"
)

// Writer writes runs of pages straight to segment files, bypassing any
// shared page cache. At most one segment is open at a time.
type Writer struct {
	space Space
	file  *os.File
	segno uint32
	path  string
}

func NewWriter(space Space) *Writer {
	return &Writer{space: space}
}

func (w *Writer) Space() Space {
	return w.space
}

// CurrentSegment 当前打开的段号
func (w *Writer) CurrentSegment() (uint32, bool) {
	return w.segno, w.file != nil
}

func (w *Writer) open(segno uint32) error {
	if w.file != nil {
		if w.segno == segno {
			return nil
		}
		if err := w.Close(); err != nil {
			logger.Warnf("could not close file %s: %v", w.path, err)
		}
	}
	if err := os.MkdirAll(w.space.Dir, 0755); err != nil {
		return basic.IOError.Wrap(errors.Wrapf(err, "could not create directory %s", w.space.Dir))
	}
	path := w.space.SegmentPath(segno)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return basic.IOError.Wrap(errors.Wrapf(err, "could not open file %s", path))
	}
	logger.Debugf("opened segment %s", path)
	w.file, w.segno, w.path = f, segno, path
	return nil
}

// Write writes npages pages from buf starting at block start. The run must
// not cross a segment boundary.
func (w *Writer) Write(start basic.BlockNumber, buf []byte, npages int) error {
	if npages == 0 {
		return nil
	}
	if len(buf) < npages*w.space.PageSize {
		return basic.ProtocolError.New("write of %d pages with a %d byte buffer", npages, len(buf))
	}
	if w.space.RunLength(start, npages) != npages {
		return basic.ProtocolError.New("write of %d pages at block %d crosses a segment boundary", npages, start)
	}
	segno, offset := w.space.Locate(start)
	if err := w.open(segno); err != nil {
		return err
	}
	if _, err := w.file.Seek(offset, io.SeekStart); err != nil {
		return basic.IOError.Wrap(errors.Wrapf(err, "could not seek to block %d in file %s", start, w.path))
	}
	data := buf[:npages*w.space.PageSize]
	for len(data) > 0 {
		n, err := w.file.Write(data)
		if err != nil {
			return basic.IOError.Wrap(errors.Wrapf(err, "could not write to file %s", w.path))
		}
		data = data[n:]
	}
	return nil
}

// Sync fsyncs the open segment.
func (w *Writer) Sync() error {
	if w.file == nil {
		return nil
	}
	if err := w.file.Sync(); err != nil {
		return basic.IOError.Wrap(errors.Wrapf(err, "could not fsync file %s", w.path))
	}
	return nil
}

// Close 同步并关闭当前段文件; 重复调用无副作用
func (w *Writer) Close() error {
	if w.file == nil {
		return nil
	}
	f, path := w.file, w.path
	w.file = nil
	syncErr := f.Sync()
	closeErr := f.Close()
	if syncErr != nil {
		return basic.IOError.Wrap(errors.Wrapf(syncErr, "could not fsync file %s", path))
	}
	if closeErr != nil {
		return basic.IOError.Wrap(errors.Wrapf(closeErr, "could not close file %s", path))
	}
	return nil
}
