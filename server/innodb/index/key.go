package index

import (
	"bytes"
	"encoding/binary"

	"github.com/shopspring/decimal"

	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/storage/store/table"
)

// Entry 索引项: 键列的值 + 堆元组位置
type Entry struct {
	Key [][]byte
	TID basic.ItemPointer
}

// Comparator 按列类型比较键, NULL 排在最后
type Comparator struct {
	types []string
}

// NewComparator builds the comparator for the key columns of idx.
func NewComparator(desc *table.Descriptor, idx *table.IndexDescriptor) Comparator {
	types := make([]string, len(idx.Columns))
	for i, name := range idx.Columns {
		if pos := desc.ColumnIndex(name); pos >= 0 {
			types[i] = desc.Columns[pos].Type
		}
	}
	return Comparator{types: types}
}

func compareInt(a, b []byte) int {
	if len(a) != 8 || len(b) != 8 {
		return bytes.Compare(a, b)
	}
	x, y := int64(binary.LittleEndian.Uint64(a)), int64(binary.LittleEndian.Uint64(b))
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

func compareNumeric(a, b []byte) int {
	x, errA := decimal.NewFromString(string(a))
	y, errB := decimal.NewFromString(string(b))
	if errA != nil || errB != nil {
		return bytes.Compare(a, b)
	}
	return x.Cmp(y)
}

func (c Comparator) compareColumn(i int, a, b []byte) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	switch c.types[i] {
	case table.TypeInt:
		return compareInt(a, b)
	case table.TypeNumeric:
		return compareNumeric(a, b)
	default:
		return bytes.Compare(a, b)
	}
}

// CompareKeys 比较两个键
func (c Comparator) CompareKeys(a, b [][]byte) int {
	for i := range c.types {
		if r := c.compareColumn(i, a[i], b[i]); r != 0 {
			return r
		}
	}
	return 0
}

// Compare orders entries by key, then by TID.
func (c Comparator) Compare(a, b Entry) int {
	if r := c.CompareKeys(a.Key, b.Key); r != 0 {
		return r
	}
	return a.TID.Compare(b.TID)
}

// HasNull 含NULL的键不参与唯一性检查
func HasNull(key [][]byte) bool {
	for _, k := range key {
		if k == nil {
			return true
		}
	}
	return false
}

// KeyFromRow 从行中取出索引列
func KeyFromRow(desc *table.Descriptor, idx *table.IndexDescriptor, row basic.Row) ([][]byte, error) {
	key := make([][]byte, len(idx.Columns))
	for i, name := range idx.Columns {
		pos := desc.ColumnIndex(name)
		if pos < 0 || pos >= len(row) {
			return nil, basic.ProtocolError.New("index %s column %s missing from row", idx.Name, name)
		}
		key[i] = row[pos]
	}
	return key, nil
}

// 键编码: 每列 null u8 | len u16 | data
func encodeKey(key [][]byte) []byte {
	size := 0
	for _, k := range key {
		size += 3 + len(k)
	}
	out := make([]byte, 0, size)
	for _, k := range key {
		if k == nil {
			out = append(out, 1, 0, 0)
			continue
		}
		out = append(out, 0, byte(len(k)), byte(len(k)>>8))
		out = append(out, k...)
	}
	return out
}

func decodeKey(data []byte, ncols int) ([][]byte, error) {
	key := make([][]byte, ncols)
	for i := 0; i < ncols; i++ {
		if len(data) < 3 {
			return nil, basic.CorruptionError.New("index key truncated")
		}
		isNull, n := data[0], int(binary.LittleEndian.Uint16(data[1:]))
		data = data[3:]
		if isNull == 1 {
			continue
		}
		if len(data) < n {
			return nil, basic.CorruptionError.New("index key truncated")
		}
		key[i] = append([]byte{}, data[:n]...)
		data = data[n:]
	}
	return key, nil
}
