package basic

import (
	"github.com/zeebo/errs"
)

// 错误分类
var (
	// IOError 段文件/WAL/toast/索引文件的打开、定位、写入、同步失败, 加载中止
	IOError = errs.Class("could not access file")
	// LimitError 行在行外存储之后仍然超过页面限制
	LimitError = errs.Class("program limit exceeded")
	// ProtocolError 内部一致性错误: 不支持的命令、重复执行、重扫描
	ProtocolError = errs.Class("internal consistency failure")
	// CorruptionError 读回时页面校验和或WAL帧校验失败
	CorruptionError = errs.Class("data corrupted")
)

func IsIOError(err error) bool {
	return hasClass(err, &IOError)
}

func IsLimitError(err error) bool {
	return hasClass(err, &LimitError)
}

func IsProtocolError(err error) bool {
	return hasClass(err, &ProtocolError)
}

func IsCorruption(err error) bool {
	return hasClass(err, &CorruptionError)
}

// hasClass walks juju (Underlying), stdlib (Unwrap) and pkg/errors (Cause)
// wrappers looking for an error of class c.
func hasClass(err error, c *errs.Class) bool {
	for err != nil {
		if c.Has(err) {
			return true
		}
		switch e := err.(type) {
		case interface{ Underlying() error }:
			err = e.Underlying()
		case interface{ Unwrap() error }:
			err = e.Unwrap()
		case interface{ Cause() error }:
			next := e.Cause()
			if next == err {
				return false
			}
			err = next
		default:
			return false
		}
	}
	return false
}
