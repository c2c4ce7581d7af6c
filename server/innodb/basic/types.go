package basic

import (
	"context"
	"fmt"
)

// BlockNumber 表内全局块号, 跨越所有段文件
type BlockNumber uint32

// OffsetNumber 页内行指针编号, 从1开始
type OffsetNumber uint16

// LSN WAL日志序列号(记录结束位置的字节偏移)
type LSN uint64

type TransactionID uint32

type CommandID uint32

// ForkNumber 关系的物理分支, 目前只有主分支
type ForkNumber uint8

const (
	InvalidBlockNumber  BlockNumber  = 0xFFFFFFFF
	InvalidOffsetNumber OffsetNumber = 0
	FirstOffsetNumber   OffsetNumber = 1

	InvalidTransactionID     TransactionID = 0
	FirstNormalTransactionID TransactionID = 3

	InvalidLSN LSN = 0

	ForkMain ForkNumber = 0
)

// ItemPointer 行的物理位置 (块号, 行指针编号)
type ItemPointer struct {
	Block  BlockNumber
	Offset OffsetNumber
}

func (p ItemPointer) String() string {
	return fmt.Sprintf("(%d,%d)", p.Block, p.Offset)
}

// Compare orders item pointers by block then offset.
func (p ItemPointer) Compare(o ItemPointer) int {
	switch {
	case p.Block < o.Block:
		return -1
	case p.Block > o.Block:
		return 1
	case p.Offset < o.Offset:
		return -1
	case p.Offset > o.Offset:
		return 1
	}
	return 0
}

// Row 上游产生的一行, 每列为已物化的字节; nil 表示 NULL
type Row [][]byte

// RowSource 拉取式行源; 返回 nil 行表示输入结束
type RowSource interface {
	Next(ctx context.Context) (Row, error)
}

// RowSourceFunc adapts a function to RowSource.
type RowSourceFunc func(ctx context.Context) (Row, error)

func (f RowSourceFunc) Next(ctx context.Context) (Row, error) {
	return f(ctx)
}

// CommandType 语句类型
type CommandType int

const (
	CmdUnknown CommandType = iota
	CmdSelect
	CmdInsert
	CmdUpdate
	CmdDelete
)

func (c CommandType) String() string {
	switch c {
	case CmdSelect:
		return "SELECT"
	case CmdInsert:
		return "INSERT"
	case CmdUpdate:
		return "UPDATE"
	case CmdDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// Transaction 加载器运行所在的事务上下文
type Transaction interface {
	ID() TransactionID
	// CommandID 当前命令号
	CommandID() CommandID
	// CommandCounterIncrement 使之前命令的修改对后续命令可见
	CommandCounterIncrement()
	// RegisterCleanup 注册事务中止时执行的清理函数
	RegisterCleanup(name string, fn func() error)
	// RegisterEndAction 注册事务结束(提交或回滚)时执行的动作, 回滚时在清理函数之后执行
	RegisterEndAction(name string, fn func())
}
