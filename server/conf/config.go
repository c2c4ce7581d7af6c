package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zhukovaskychina/xmysql-directpath/logger"

	"gopkg.in/ini.v1"
)

// ConfigFileName 默认配置文件名
const ConfigFileName = "xdirect.ini"

// WAL页面镜像压缩方式
const (
	WalCompressionOff    = "off"
	WalCompressionSnappy = "snappy"
	WalCompressionLZ4    = "lz4"
)

type CommandLineArgs struct {
	// ConfigPath 配置目录或者配置文件路径
	ConfigPath string
}

/*
[storage]
data_dir        = data
wal_dir         = wal
page_size       = 8192
segment_pages   = 131072
data_checksums  = true
wal_compression = off

[directpath]
ring_pages          = 1024
max_block_refs      = 32
default_fill_factor = 100
append_hint         = /*+ APPEND * /

[logs]
log_error =
log_infos =
log_level = info
*/
type Cfg struct {
	Raw *ini.File

	// storage
	DataDir        string `default:"data" yaml:"data_dir" json:"data_dir,omitempty"`
	WalDir         string `default:"wal" yaml:"wal_dir" json:"wal_dir,omitempty"`
	PageSize       int    `default:"8192" yaml:"page_size" json:"page_size,omitempty"`
	SegmentPages   uint32 `default:"131072" yaml:"segment_pages" json:"segment_pages,omitempty"`
	DataChecksums  bool   `default:"true" yaml:"data_checksums" json:"data_checksums,omitempty"`
	WalCompression string `default:"off" yaml:"wal_compression" json:"wal_compression,omitempty"`

	// directpath
	DirectPath DirectPathParam `yaml:"directpath" json:"directpath,omitempty"`

	// logs
	LogError string `default:"" yaml:"log_error" json:"log_error,omitempty"`
	LogInfos string `default:"" yaml:"log_infos" json:"log_infos,omitempty"`
	LogLevel string `default:"info" yaml:"log_level" json:"log_level,omitempty"`
}

type DirectPathParam struct {
	RingPages         int    `default:"1024" yaml:"ring_pages" json:"ring_pages,omitempty"`
	MaxBlockRefs      int    `default:"32" yaml:"max_block_refs" json:"max_block_refs,omitempty"`
	DefaultFillFactor int    `default:"100" yaml:"default_fill_factor" json:"default_fill_factor,omitempty"`
	AppendHint        string `default:"/*+ APPEND */" yaml:"append_hint" json:"append_hint,omitempty"`
}

func NewCfg() *Cfg {
	return &Cfg{
		Raw:            ini.Empty(),
		DataDir:        "data",
		WalDir:         "wal",
		PageSize:       8192,
		SegmentPages:   131072, // 1GB / 8KB
		DataChecksums:  true,
		WalCompression: WalCompressionOff,
		DirectPath: DirectPathParam{
			RingPages:         1024,
			MaxBlockRefs:      32,
			DefaultFillFactor: 100,
			AppendHint:        "/*+ APPEND */",
		},
		LogLevel: "info",
	}
}

// Load 读取配置文件; 文件不存在时使用默认配置
func (cfg *Cfg) Load(args *CommandLineArgs) (*Cfg, error) {
	iniFile, err := loadConfiguration(args)
	if err != nil {
		return nil, err
	}
	cfg.Raw = iniFile

	if err := cfg.parseStorageCfg(cfg.Raw.Section("storage")); err != nil {
		return nil, err
	}
	if err := cfg.parseDirectPathCfg(cfg.Raw.Section("directpath")); err != nil {
		return nil, err
	}
	cfg.parseLogsCfg(cfg.Raw.Section("logs"))
	return cfg, nil
}

func loadConfiguration(args *CommandLineArgs) (*ini.File, error) {
	if args == nil || args.ConfigPath == "" {
		return ini.Empty(), nil
	}
	configFile := args.ConfigPath
	if info, err := os.Stat(configFile); err == nil && info.IsDir() {
		configFile = filepath.Join(configFile, ConfigFileName)
	}
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		logger.Debugf("配置文件不存在: %s, 使用默认配置", configFile)
		return ini.Empty(), nil
	}
	parsedFile, err := ini.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("解析配置文件失败 %s: %v", configFile, err)
	}
	logger.Debugf("成功加载配置文件: %s", configFile)
	return parsedFile, nil
}

func (cfg *Cfg) parseStorageCfg(section *ini.Section) error {
	if section == nil {
		return nil
	}
	cfg.DataDir = valueAsString(section, "data_dir", cfg.DataDir)
	cfg.WalDir = valueAsString(section, "wal_dir", cfg.WalDir)

	pageSize, err := valueAsInt(section, "page_size", cfg.PageSize)
	if err != nil {
		return err
	}
	if pageSize < 1024 || pageSize > 32768 || pageSize&(pageSize-1) != 0 {
		return fmt.Errorf("storage.page_size must be a power of two between 1024 and 32768, got %d", pageSize)
	}
	cfg.PageSize = pageSize

	segmentPages, err := valueAsInt(section, "segment_pages", int(cfg.SegmentPages))
	if err != nil {
		return err
	}
	if segmentPages <= 0 {
		return fmt.Errorf("storage.segment_pages must be positive, got %d", segmentPages)
	}
	cfg.SegmentPages = uint32(segmentPages)

	checksums, err := valueAsBool(section, "data_checksums", cfg.DataChecksums)
	if err != nil {
		return err
	}
	cfg.DataChecksums = checksums

	compression := strings.ToLower(valueAsString(section, "wal_compression", cfg.WalCompression))
	switch compression {
	case WalCompressionOff, WalCompressionSnappy, WalCompressionLZ4:
		cfg.WalCompression = compression
	default:
		return fmt.Errorf("storage.wal_compression must be one of off, snappy, lz4, got %q", compression)
	}
	return nil
}

func (cfg *Cfg) parseDirectPathCfg(section *ini.Section) error {
	if section == nil {
		return nil
	}
	ringPages, err := valueAsInt(section, "ring_pages", cfg.DirectPath.RingPages)
	if err != nil {
		return err
	}
	if ringPages <= 0 {
		return fmt.Errorf("directpath.ring_pages must be positive, got %d", ringPages)
	}
	cfg.DirectPath.RingPages = ringPages

	maxBlockRefs, err := valueAsInt(section, "max_block_refs", cfg.DirectPath.MaxBlockRefs)
	if err != nil {
		return err
	}
	if maxBlockRefs <= 0 || maxBlockRefs > 255 {
		return fmt.Errorf("directpath.max_block_refs must be between 1 and 255, got %d", maxBlockRefs)
	}
	cfg.DirectPath.MaxBlockRefs = maxBlockRefs

	fillFactor, err := valueAsInt(section, "default_fill_factor", cfg.DirectPath.DefaultFillFactor)
	if err != nil {
		return err
	}
	if fillFactor < 10 || fillFactor > 100 {
		return fmt.Errorf("directpath.default_fill_factor must be between 10 and 100, got %d", fillFactor)
	}
	cfg.DirectPath.DefaultFillFactor = fillFactor

	cfg.DirectPath.AppendHint = valueAsString(section, "append_hint", cfg.DirectPath.AppendHint)
	return nil
}

func (cfg *Cfg) parseLogsCfg(section *ini.Section) {
	if section == nil {
		return
	}
	cfg.LogError = valueAsString(section, "log_error", cfg.LogError)
	cfg.LogInfos = valueAsString(section, "log_infos", cfg.LogInfos)

	logLevel := strings.ToLower(valueAsString(section, "log_level", cfg.LogLevel))
	switch logLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
		cfg.LogLevel = logLevel
	default:
		logger.Debugf("警告: 无效的日志级别 '%s', 使用默认级别 'info'", logLevel)
		cfg.LogLevel = "info"
	}
}

// WalPath 返回WAL目录; 相对路径基于数据目录
func (cfg *Cfg) WalPath() string {
	if filepath.IsAbs(cfg.WalDir) {
		return cfg.WalDir
	}
	return filepath.Join(cfg.DataDir, cfg.WalDir)
}

func valueAsString(section *ini.Section, keyName string, defaultValue string) string {
	if !section.HasKey(keyName) {
		return defaultValue
	}
	value := strings.TrimSpace(section.Key(keyName).String())
	if value == "" {
		return defaultValue
	}
	return value
}

func valueAsInt(section *ini.Section, keyName string, defaultValue int) (int, error) {
	if !section.HasKey(keyName) {
		return defaultValue, nil
	}
	value, err := section.Key(keyName).Int()
	if err != nil {
		return 0, fmt.Errorf("%s.%s: %v", section.Name(), keyName, err)
	}
	return value, nil
}

func valueAsBool(section *ini.Section, keyName string, defaultValue bool) (bool, error) {
	if !section.HasKey(keyName) {
		return defaultValue, nil
	}
	value, err := section.Key(keyName).Bool()
	if err != nil {
		return false, fmt.Errorf("%s.%s: %v", section.Name(), keyName, err)
	}
	return value, nil
}
