package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHash(t *testing.T) {
	assert.Equal(t, HashCode([]byte("788788")), HashCode([]byte("788788")))
	assert.NotEqual(t, HashCode([]byte("788788")), HashCode([]byte("788789")))
}

func TestPageChecksum(t *testing.T) {
	page := make([]byte, 8192)
	for i := range page {
		page[i] = byte(i * 7)
	}
	sum := PageChecksum(page, 8, 3)
	assert.NotZero(t, sum)

	// the stored checksum does not take part in the computation
	page[8], page[9] = byte(sum), byte(sum>>8)
	assert.Equal(t, sum, PageChecksum(page, 8, 3))

	// same bytes on another block give another checksum
	assert.NotEqual(t, sum, PageChecksum(page, 8, 4))

	page[100] ^= 0xFF
	assert.NotEqual(t, sum, PageChecksum(page, 8, 3))
}

func TestFrameChecksum(t *testing.T) {
	assert.Equal(t, FrameChecksum([]byte("frame")), FrameChecksum([]byte("frame")))
	assert.NotEqual(t, FrameChecksum([]byte("frame")), FrameChecksum([]byte("framf")))
}
