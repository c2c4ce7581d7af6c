package conf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeIni(t *testing.T, content string) string {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(content), 0644))
	return dir
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := NewCfg().Load(&CommandLineArgs{ConfigPath: t.TempDir()})
	require.NoError(t, err)

	assert.Equal(t, 8192, cfg.PageSize)
	assert.Equal(t, uint32(131072), cfg.SegmentPages)
	assert.True(t, cfg.DataChecksums)
	assert.Equal(t, WalCompressionOff, cfg.WalCompression)
	assert.Equal(t, 1024, cfg.DirectPath.RingPages)
	assert.Equal(t, 32, cfg.DirectPath.MaxBlockRefs)
	assert.Equal(t, 100, cfg.DirectPath.DefaultFillFactor)
	assert.Equal(t, "/*+ APPEND */", cfg.DirectPath.AppendHint)
	assert.Equal(t, filepath.Join("data", "wal"), cfg.WalPath())
}

func TestLoadSections(t *testing.T) {
	dir := writeIni(t, `
[storage]
data_dir = /srv/xdirect
wal_dir = /srv/wal
page_size = 16384
segment_pages = 4
data_checksums = false
wal_compression = LZ4

[directpath]
ring_pages = 8
max_block_refs = 4
default_fill_factor = 90

[logs]
log_level = DEBUG
`)
	cfg, err := NewCfg().Load(&CommandLineArgs{ConfigPath: dir})
	require.NoError(t, err)

	assert.Equal(t, "/srv/xdirect", cfg.DataDir)
	assert.Equal(t, "/srv/wal", cfg.WalPath())
	assert.Equal(t, 16384, cfg.PageSize)
	assert.Equal(t, uint32(4), cfg.SegmentPages)
	assert.False(t, cfg.DataChecksums)
	assert.Equal(t, WalCompressionLZ4, cfg.WalCompression)
	assert.Equal(t, 8, cfg.DirectPath.RingPages)
	assert.Equal(t, 4, cfg.DirectPath.MaxBlockRefs)
	assert.Equal(t, 90, cfg.DirectPath.DefaultFillFactor)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"page size not power of two": "[storage]\npage_size = 5000\n",
		"unknown compression":        "[storage]\nwal_compression = zstd\n",
		"fill factor out of range":   "[directpath]\ndefault_fill_factor = 5\n",
		"non numeric ring":           "[directpath]\nring_pages = many\n",
		"block refs too large":       "[directpath]\nmax_block_refs = 300\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewCfg().Load(&CommandLineArgs{ConfigPath: writeIni(t, content)})
			assert.Error(t, err)
		})
	}
}

func TestInvalidLogLevelFallsBackToInfo(t *testing.T) {
	cfg, err := NewCfg().Load(&CommandLineArgs{ConfigPath: writeIni(t, "[logs]\nlog_level = loud\n")})
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.LogLevel)
}
