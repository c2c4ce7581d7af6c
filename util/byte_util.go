package util

// MaximumAlignOf 最大对齐字节数
const MaximumAlignOf = 8

// MaxAlign rounds n up to the next multiple of MaximumAlignOf.
func MaxAlign(n int) int {
	return (n + MaximumAlignOf - 1) &^ (MaximumAlignOf - 1)
}

// MaxAlignDown rounds n down to a multiple of MaximumAlignOf.
func MaxAlignDown(n int) int {
	return n &^ (MaximumAlignOf - 1)
}

// IntAlign rounds n up to a multiple of 4.
func IntAlign(n int) int {
	return (n + 3) &^ 3
}

func AppendByte(size int) []byte {
	return make([]byte, size)
}
