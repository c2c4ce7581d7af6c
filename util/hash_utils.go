package util

import (
	"github.com/OneOfOne/xxhash"
)

// 将一个键进行Hash
func HashCode(key []byte) uint64 {
	h := xxhash.New64()
	h.Write(key)
	return h.Sum64()
}

// PageChecksum computes the 16-bit checksum of a page. The checksum field
// itself (bytes [off, off+2)) is treated as zero and the block number is
// used as the seed, so a page copied to the wrong block fails verification.
// The result is never zero, zero meaning "no checksum".
func PageChecksum(page []byte, off int, blockNo uint32) uint16 {
	saved0, saved1 := page[off], page[off+1]
	page[off], page[off+1] = 0, 0
	sum := xxhash.Checksum64S(page, uint64(blockNo))
	page[off], page[off+1] = saved0, saved1

	folded := uint32(sum>>32) ^ uint32(sum)
	return uint16(folded%65535) + 1
}

// FrameChecksum is the checksum stored in front of every WAL frame.
func FrameChecksum(payload []byte) uint32 {
	return xxhash.Checksum32(payload)
}
