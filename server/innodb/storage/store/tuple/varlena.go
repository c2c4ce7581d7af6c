package tuple

import (
	"encoding/binary"

	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/basic"
)

// varlena 头部: 低30位为包含头部的总长度, 第30位表示行内压缩, 第31位表示行外存储
const (
	VarHeaderSize = 4

	varFlagCompressed = 1 << 30
	varFlagExternal   = 1 << 31
	varLengthMask     = 1<<30 - 1

	// ToastPointerSize 行外指针负载: rawsize u32, stored u32, valueid u64, toastrelid u32
	ToastPointerSize = 20

	MaxVarlenaSize = varLengthMask
)

// Varlena is one encoded column value, header included. A nil Varlena is SQL NULL.
type Varlena []byte

// ToastPointer locates a value moved to the toast store.
type ToastPointer struct {
	RawSize    uint32
	StoredSize uint32
	ValueID    uint64
	ToastRelID uint32
}

func (v Varlena) header() uint32 {
	return binary.LittleEndian.Uint32(v)
}

func (v Varlena) IsCompressed() bool {
	return v.header()&varFlagCompressed != 0
}

func (v Varlena) IsExternal() bool {
	return v.header()&varFlagExternal != 0
}

// Size 编码后的总长度
func (v Varlena) Size() int {
	return int(v.header() & varLengthMask)
}

// Payload returns the bytes after the header. For a plain value this is the
// column data itself.
func (v Varlena) Payload() []byte {
	return v[VarHeaderSize:v.Size()]
}

// RawSize 原始(未压缩)数据长度
func (v Varlena) RawSize() int {
	switch {
	case v.IsExternal():
		return int(binary.LittleEndian.Uint32(v[VarHeaderSize:]))
	case v.IsCompressed():
		return int(binary.LittleEndian.Uint32(v[VarHeaderSize:]))
	default:
		return v.Size() - VarHeaderSize
	}
}

// CompressedBlock returns the compressed block of an inline-compressed value.
func (v Varlena) CompressedBlock() []byte {
	return v[VarHeaderSize+4 : v.Size()]
}

func (v Varlena) ToastPointer() ToastPointer {
	p := v[VarHeaderSize:]
	return ToastPointer{
		RawSize:    binary.LittleEndian.Uint32(p[0:]),
		StoredSize: binary.LittleEndian.Uint32(p[4:]),
		ValueID:    binary.LittleEndian.Uint64(p[8:]),
		ToastRelID: binary.LittleEndian.Uint32(p[16:]),
	}
}

// EncodePlain wraps raw column data in a varlena header.
func EncodePlain(data []byte) (Varlena, error) {
	if data == nil {
		return nil, nil
	}
	total := len(data) + VarHeaderSize
	if total > MaxVarlenaSize {
		return nil, basic.LimitError.New("value too large: %d bytes", len(data))
	}
	v := make(Varlena, total)
	binary.LittleEndian.PutUint32(v, uint32(total))
	copy(v[VarHeaderSize:], data)
	return v, nil
}

// EncodeCompressed 构造行内压缩值: 头部 + 原始长度 + 压缩块
func EncodeCompressed(rawSize int, block []byte) Varlena {
	total := VarHeaderSize + 4 + len(block)
	v := make(Varlena, total)
	binary.LittleEndian.PutUint32(v, uint32(total)|varFlagCompressed)
	binary.LittleEndian.PutUint32(v[VarHeaderSize:], uint32(rawSize))
	copy(v[VarHeaderSize+4:], block)
	return v
}

// EncodeExternal 构造行外指针
func EncodeExternal(ptr ToastPointer) Varlena {
	total := VarHeaderSize + ToastPointerSize
	v := make(Varlena, total)
	binary.LittleEndian.PutUint32(v, uint32(total)|varFlagExternal)
	p := v[VarHeaderSize:]
	binary.LittleEndian.PutUint32(p[0:], ptr.RawSize)
	binary.LittleEndian.PutUint32(p[4:], ptr.StoredSize)
	binary.LittleEndian.PutUint64(p[8:], ptr.ValueID)
	binary.LittleEndian.PutUint32(p[16:], ptr.ToastRelID)
	return v
}
