package logs

import (
	"bytes"
	"encoding/binary"
	"strings"

	gxbytes "github.com/dubbogo/gost/bytes"
	"github.com/golang/snappy"
	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"

	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/basic"
)

// RecordType WAL记录类型
type RecordType uint8

const (
	// RecordFullPageImage 一组页面的完整镜像
	RecordFullPageImage RecordType = 1
	// RecordToastValue 写入toast存储的行外值
	RecordToastValue RecordType = 2
)

func (t RecordType) String() string {
	switch t {
	case RecordFullPageImage:
		return "FPI"
	case RecordToastValue:
		return "TOAST_VALUE"
	default:
		return "UNKNOWN"
	}
}

// MaxBlockRefsLimit nblocks 字段只有一个字节
const MaxBlockRefsLimit = 255

// 帧头: len u32 | xxhash32 u32
const frameHeaderSize = 8

// Compression 页面镜像压缩方式
type Compression uint8

const (
	CompressionNone   Compression = 0
	CompressionSnappy Compression = 1
	CompressionLZ4    Compression = 2
)

// ParseCompression maps a wal_compression setting to a Compression.
func ParseCompression(name string) (Compression, error) {
	switch strings.ToLower(name) {
	case "", "off", "none":
		return CompressionNone, nil
	case "snappy":
		return CompressionSnappy, nil
	case "lz4":
		return CompressionLZ4, nil
	}
	return CompressionNone, errors.Errorf("unknown wal compression %q", name)
}

// BlockImage 一个块引用: 关系/分支/块号 + 页面镜像
type BlockImage struct {
	RelFileNode uint32
	Fork        basic.ForkNumber
	Block       basic.BlockNumber
	Image       []byte
}

// ToastValue is the payload of a RecordToastValue record.
type ToastValue struct {
	RelFileNode uint32
	ValueID     uint64
	Data        []byte
}

// Record 一条WAL记录
type Record struct {
	Type   RecordType
	Xid    basic.TransactionID
	Blocks []BlockImage
	Toast  *ToastValue

	// LSN 读取时填充: 记录结束位置
	LSN basic.LSN
}

func compressImage(c Compression, image []byte) (Compression, []byte) {
	switch c {
	case CompressionSnappy:
		out := snappy.Encode(nil, image)
		if len(out) < len(image) {
			return CompressionSnappy, out
		}
	case CompressionLZ4:
		scratch := gxbytes.GetBytes(lz4.CompressBlockBound(len(image)))
		defer gxbytes.PutBytes(scratch)
		n, err := lz4.CompressBlock(image, *scratch, nil)
		if err == nil && n > 0 && n < len(image) {
			return CompressionLZ4, append([]byte(nil), (*scratch)[:n]...)
		}
	}
	return CompressionNone, image
}

func decompressImage(c Compression, data []byte, rawLen int) ([]byte, error) {
	switch c {
	case CompressionNone:
		return data, nil
	case CompressionSnappy:
		out, err := snappy.Decode(nil, data)
		if err != nil {
			return nil, basic.CorruptionError.Wrap(errors.Wrap(err, "snappy image"))
		}
		return out, nil
	case CompressionLZ4:
		out := make([]byte, rawLen)
		n, err := lz4.UncompressBlock(data, out)
		if err != nil || n != rawLen {
			return nil, basic.CorruptionError.New("lz4 image: decoded %d of %d bytes: %v", n, rawLen, err)
		}
		return out, nil
	}
	return nil, basic.CorruptionError.New("unknown image compression %d", c)
}

// encodePayload 序列化记录负载:
//
//	type u8 | xid u32 | nblocks u8 | block refs...
//	block ref: relfilenode u32 | fork u8 | block u32 | compression u8 | rawlen u32 | imglen u32 | image
//	toast: relfilenode u32 | valueid u64 | len u32 | data
func encodePayload(buf *bytes.Buffer, rec *Record, c Compression) error {
	if len(rec.Blocks) > MaxBlockRefsLimit {
		return basic.ProtocolError.New("record carries %d block references, limit is %d", len(rec.Blocks), MaxBlockRefsLimit)
	}
	le := binary.LittleEndian
	buf.WriteByte(byte(rec.Type))
	binary.Write(buf, le, uint32(rec.Xid))
	buf.WriteByte(byte(len(rec.Blocks)))
	for _, b := range rec.Blocks {
		method, image := compressImage(c, b.Image)
		binary.Write(buf, le, b.RelFileNode)
		buf.WriteByte(byte(b.Fork))
		binary.Write(buf, le, uint32(b.Block))
		buf.WriteByte(byte(method))
		binary.Write(buf, le, uint32(len(b.Image)))
		binary.Write(buf, le, uint32(len(image)))
		buf.Write(image)
	}
	if rec.Type == RecordToastValue {
		if rec.Toast == nil {
			return basic.ProtocolError.New("toast value record without payload")
		}
		binary.Write(buf, le, rec.Toast.RelFileNode)
		binary.Write(buf, le, rec.Toast.ValueID)
		binary.Write(buf, le, uint32(len(rec.Toast.Data)))
		buf.Write(rec.Toast.Data)
	}
	return nil
}

type payloadReader struct {
	data []byte
	err  error
}

func (r *payloadReader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || len(r.data) < n {
		r.err = basic.CorruptionError.New("record payload truncated")
		return nil
	}
	out := r.data[:n]
	r.data = r.data[n:]
	return out
}

func (r *payloadReader) u8() uint8 {
	if b := r.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *payloadReader) u32() uint32 {
	if b := r.take(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (r *payloadReader) u64() uint64 {
	if b := r.take(8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

func decodePayload(payload []byte) (*Record, error) {
	r := &payloadReader{data: payload}
	rec := &Record{
		Type: RecordType(r.u8()),
		Xid:  basic.TransactionID(r.u32()),
	}
	nblocks := int(r.u8())
	for i := 0; i < nblocks && r.err == nil; i++ {
		b := BlockImage{
			RelFileNode: r.u32(),
			Fork:        basic.ForkNumber(r.u8()),
			Block:       basic.BlockNumber(r.u32()),
		}
		method := Compression(r.u8())
		rawLen := int(r.u32())
		data := r.take(int(r.u32()))
		if r.err != nil {
			break
		}
		image, err := decompressImage(method, data, rawLen)
		if err != nil {
			return nil, err
		}
		b.Image = append([]byte(nil), image...)
		rec.Blocks = append(rec.Blocks, b)
	}
	if rec.Type == RecordToastValue && r.err == nil {
		rec.Toast = &ToastValue{RelFileNode: r.u32(), ValueID: r.u64()}
		rec.Toast.Data = append([]byte(nil), r.take(int(r.u32()))...)
	}
	if r.err != nil {
		return nil, r.err
	}
	switch rec.Type {
	case RecordFullPageImage, RecordToastValue:
	default:
		return nil, basic.CorruptionError.New("unknown record type %d", rec.Type)
	}
	return rec, nil
}
