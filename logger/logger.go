package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

var (
	// Logger 调试/警告日志实例
	Logger *logrus.Logger
	// InfoLogger 信息日志实例
	InfoLogger *logrus.Logger
	// ErrorLogger 错误日志实例
	ErrorLogger *logrus.Logger
)

// LogConfig 日志配置
type LogConfig struct {
	ErrorLogPath string
	InfoLogPath  string
	LogLevel     string
}

const timestampFormat = "15:04:05 MST 2006/01/02"

// LoadFormatter 加载器日志格式: [时间] [级别] (调用者) 消息
type LoadFormatter struct {
	TimestampFormat string
}

// Format 实现 logrus.Formatter 接口
func (f *LoadFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	layout := f.TimestampFormat
	if layout == "" {
		layout = timestampFormat
	}
	level := strings.ToUpper(entry.Level.String())
	if len(level) > 4 {
		level = level[:4]
	}
	msg := strings.TrimSuffix(entry.Message, "\n")
	return []byte(fmt.Sprintf("[%s] [%s] (%s) %s\n", entry.Time.Format(layout), level, caller(), msg)), nil
}

// caller 跳过logrus和本包的栈帧, 返回 file:func:line
func caller() string {
	for i := 2; i < 20; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		if strings.Contains(file, "sirupsen") || strings.HasSuffix(file, "logger/logger.go") {
			continue
		}
		return fmt.Sprintf("%s:%s:%d", filepath.Base(file), runtime.FuncForPC(pc).Name(), line)
	}
	return "unknown:unknown:0"
}

// ParseLevel 解析日志级别, 未知级别返回 info
func ParseLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.InfoLevel
	}
}

// InitLogger 初始化三个日志器; 日志文件打开失败时退回标准输出
func InitLogger(config LogConfig) error {
	formatter := &LoadFormatter{TimestampFormat: timestampFormat}
	level := ParseLevel(config.LogLevel)

	newLogger := func() *logrus.Logger {
		l := logrus.New()
		l.SetFormatter(formatter)
		l.SetLevel(level)
		return l
	}
	Logger = newLogger()
	InfoLogger = newLogger()
	ErrorLogger = newLogger()

	InfoLogger.SetOutput(teeTo(os.Stdout, config.InfoLogPath, InfoLogger))
	ErrorLogger.SetOutput(teeTo(os.Stderr, config.ErrorLogPath, ErrorLogger))
	Logger.SetOutput(InfoLogger.Out)
	return nil
}

// SetOutput 将所有日志器重定向到同一个writer, 测试时使用
func SetOutput(w io.Writer, level string) {
	formatter := &LoadFormatter{TimestampFormat: timestampFormat}
	for _, l := range []**logrus.Logger{&Logger, &InfoLogger, &ErrorLogger} {
		*l = logrus.New()
		(*l).SetFormatter(formatter)
		(*l).SetLevel(ParseLevel(level))
		(*l).SetOutput(w)
	}
}

func teeTo(std io.Writer, path string, l *logrus.Logger) io.Writer {
	if path == "" {
		return std
	}
	f, err := openLogFile(path)
	if err != nil {
		l.SetOutput(std)
		l.Warnf("failed to open log file %s, fallback to std stream: %v", path, err)
		return std
	}
	return io.MultiWriter(std, f)
}

func openLogFile(logPath string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
}

// Info 记录信息日志
func Info(args ...interface{}) {
	if InfoLogger != nil {
		InfoLogger.Info(args...)
	}
}

// Infof 记录格式化信息日志
func Infof(format string, args ...interface{}) {
	if InfoLogger != nil {
		InfoLogger.Infof(format, args...)
	}
}

// Debug 记录调试日志
func Debug(args ...interface{}) {
	if Logger != nil {
		Logger.Debug(args...)
	}
}

// Debugf 记录格式化调试日志
func Debugf(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Debugf(format, args...)
	}
}

// Warn 记录警告日志
func Warn(args ...interface{}) {
	if Logger != nil {
		Logger.Warn(args...)
	}
}

// Warnf 记录格式化警告日志
func Warnf(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Warnf(format, args...)
	}
}

// Error 记录错误日志
func Error(args ...interface{}) {
	if ErrorLogger != nil {
		ErrorLogger.Error(args...)
	}
}

// Errorf 记录格式化错误日志
func Errorf(format string, args ...interface{}) {
	if ErrorLogger != nil {
		ErrorLogger.Errorf(format, args...)
	}
}

// Printf 兼容 fmt.Printf, 日志未初始化时直接输出
func Printf(format string, args ...interface{}) {
	if InfoLogger != nil {
		InfoLogger.Infof(format, args...)
		return
	}
	fmt.Printf(format, args...)
}
