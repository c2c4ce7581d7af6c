package directpath

import (
	"github.com/zhukovaskychina/xmysql-directpath/server/conf"
	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/storage/heap"
	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/storage/store/logs"
	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/storage/store/table"
	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/storage/store/tuple"
)

// EngineCapability 隔离不同存储引擎版本之间的差异
type EngineCapability interface {
	// MaxBlockRefs 单条WAL记录最多携带的页面镜像数
	MaxBlockRefs() int
	// StampVisibility 把元组标记为由(xid, cid)插入
	StampVisibility(tup tuple.HeapTuple, xid basic.TransactionID, cid basic.CommandID)
	// ToastThreshold 超过该长度的元组需要toast
	ToastThreshold(rel *table.Relation) int
}

// DefaultCapability is the capability of the current storage format.
type DefaultCapability struct {
	BlockRefs int
}

var _ EngineCapability = DefaultCapability{}

// NewCapability 从配置构造
func NewCapability(cfg *conf.Cfg) DefaultCapability {
	return DefaultCapability{BlockRefs: cfg.DirectPath.MaxBlockRefs}
}

func (c DefaultCapability) MaxBlockRefs() int {
	if c.BlockRefs <= 0 || c.BlockRefs > logs.MaxBlockRefsLimit {
		return 32
	}
	return c.BlockRefs
}

func (c DefaultCapability) StampVisibility(tup tuple.HeapTuple, xid basic.TransactionID, cid basic.CommandID) {
	tup.StampInsert(xid, cid)
}

func (c DefaultCapability) ToastThreshold(rel *table.Relation) int {
	return heap.ToastThreshold(rel)
}
