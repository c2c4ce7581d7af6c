package table

import (
	"fmt"
	"path/filepath"

	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/storage/store/logs"
	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/storage/store/segs"
	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/storage/store/toast"
)

// 关系类型
const (
	KindOrdinary    = "ordinary"
	KindPartitioned = "partitioned"
	KindView        = "view"
	KindForeign     = "foreign"
)

// 持久化方式
const (
	PersistencePermanent = "permanent"
	PersistenceUnlogged  = "unlogged"
	PersistenceTemp      = "temp"
)

// 列类型
const (
	TypeInt     = "int"
	TypeText    = "text"
	TypeNumeric = "numeric"
	TypeBytea   = "bytea"
)

type Column struct {
	Name string
	Type string
}

type IndexDescriptor struct {
	Name        string
	RelFileNode uint32
	Columns     []string
	Unique      bool
}

// Descriptor 表定义
type Descriptor struct {
	Name             string
	RelFileNode      uint32
	ToastRelFileNode uint32
	Kind             string
	Persistence      string
	// FillFactor 0 表示使用配置的默认值
	FillFactor int
	// ToastTupleTarget 0 表示按页面大小计算
	ToastTupleTarget int
	Columns          []Column
	Indexes          []IndexDescriptor
}

// ColumnIndex 返回列的位置, 不存在时返回-1
func (d *Descriptor) ColumnIndex(name string) int {
	for i, c := range d.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

func (d *Descriptor) HasStorage() bool {
	return d.Kind == KindOrdinary
}

// StorageOptions 存储参数, 来自配置
type StorageOptions struct {
	DataDir           string
	PageSize          int
	SegmentPages      uint32
	Checksums         bool
	DefaultFillFactor int
}

// Relation 打开的表句柄, 持有表锁直到 Close
type Relation struct {
	desc    *Descriptor
	opts    StorageOptions
	mode    LockMode
	release func()
}

var _ logs.Relation = (*Relation)(nil)

// NewRelation builds a handle without taking a lock; used by tests and by
// callers that manage locking themselves.
func NewRelation(desc *Descriptor, opts StorageOptions) *Relation {
	return &Relation{desc: desc, opts: opts}
}

func (r *Relation) Descriptor() *Descriptor { return r.desc }
func (r *Relation) Name() string            { return r.desc.Name }
func (r *Relation) RelFileNode() uint32     { return r.desc.RelFileNode }
func (r *Relation) Kind() string            { return r.desc.Kind }
func (r *Relation) Persistence() string     { return r.desc.Persistence }
func (r *Relation) PageSize() int           { return r.opts.PageSize }
func (r *Relation) SegmentPages() uint32    { return r.opts.SegmentPages }
func (r *Relation) Checksums() bool         { return r.opts.Checksums }
func (r *Relation) LockMode() LockMode      { return r.mode }

// NeedsWAL unlogged和临时表不写WAL
func (r *Relation) NeedsWAL() bool {
	return r.desc.Persistence == PersistencePermanent
}

func (r *Relation) FillFactor() int {
	if r.desc.FillFactor > 0 {
		return r.desc.FillFactor
	}
	if r.opts.DefaultFillFactor > 0 {
		return r.opts.DefaultFillFactor
	}
	return 100
}

// BaseDir 段文件目录
func (r *Relation) BaseDir() string {
	return filepath.Join(r.opts.DataDir, "base")
}

// Space 主分支的段集合
func (r *Relation) Space() segs.Space {
	return segs.Space{
		Dir:          r.BaseDir(),
		RelFileNode:  r.desc.RelFileNode,
		PageSize:     r.opts.PageSize,
		SegmentPages: r.opts.SegmentPages,
	}
}

func (r *Relation) NumberOfBlocks() (basic.BlockNumber, error) {
	return segs.NumberOfBlocks(r.Space())
}

// IndexPath 索引文件路径
func (r *Relation) IndexPath(idx *IndexDescriptor) string {
	return filepath.Join(r.BaseDir(), fmt.Sprintf("%d", idx.RelFileNode))
}

// IndexRelation 索引以与表相同的持久化方式记录WAL
func (r *Relation) IndexRelation(idx *IndexDescriptor) logs.Relation {
	return indexRelation{node: idx.RelFileNode, logged: r.NeedsWAL()}
}

// OpenToast 打开表的toast存储
func (r *Relation) OpenToast(sink logs.Sink) (*toast.FileStore, error) {
	return toast.OpenStore(r.BaseDir(), r.desc.ToastRelFileNode, sink, r.NeedsWAL())
}

// Close 释放表锁; 可重复调用
func (r *Relation) Close() {
	if r.release != nil {
		r.release()
		r.release = nil
	}
}

type indexRelation struct {
	node   uint32
	logged bool
}

func (i indexRelation) RelFileNode() uint32 { return i.node }
func (i indexRelation) NeedsWAL() bool      { return i.logged }
