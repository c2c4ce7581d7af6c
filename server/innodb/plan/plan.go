package plan

import (
	"fmt"

	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-directpath/server/innodb/storage/store/table"
)

// 计划访问类型
const (
	AccessInsert       = "insert"
	AccessDirectInsert = "direct insert"
	AccessSource       = "source"
)

type Plan interface {
	GetPlanId() int

	//获取读取的预估行数, 未知时为-1
	GetEstimateRows() int64

	ToString() string

	GetPlanAccessType() string

	Children() []Plan
}

type BasePlan struct {
	id       int
	children []Plan
}

func (p *BasePlan) GetPlanId() int {
	return p.id
}

func (p *BasePlan) Children() []Plan {
	return p.children
}

func (p *BasePlan) GetEstimateRows() int64 {
	if len(p.children) == 0 {
		return -1
	}
	return p.children[0].GetEstimateRows()
}

// SourcePlan 插入语句的行来源
type SourcePlan struct {
	BasePlan
	Name   string
	Source basic.RowSource
	Rows   int64
}

func (p *SourcePlan) GetEstimateRows() int64 {
	if p.Rows <= 0 {
		return -1
	}
	return p.Rows
}

func (p *SourcePlan) ToString() string {
	return p.Name
}

func (p *SourcePlan) GetPlanAccessType() string {
	return AccessSource
}

// InsertPlan is the ordinary row-at-a-time insert.
type InsertPlan struct {
	BasePlan
	Table *table.Descriptor
}

func (p *InsertPlan) Source() *SourcePlan {
	return p.children[0].(*SourcePlan)
}

func (p *InsertPlan) ToString() string {
	return fmt.Sprintf("Insert on %s", p.Table.Name)
}

func (p *InsertPlan) GetPlanAccessType() string {
	return AccessInsert
}

// DirectInsertPlan 包装普通插入计划, 执行时走直接路径
type DirectInsertPlan struct {
	BasePlan
}

func NewDirectInsertPlan(insert *InsertPlan) *DirectInsertPlan {
	return &DirectInsertPlan{BasePlan{id: insert.id + 1, children: []Plan{insert}}}
}

// Insert 被包装的原计划
func (p *DirectInsertPlan) Insert() *InsertPlan {
	return p.children[0].(*InsertPlan)
}

func (p *DirectInsertPlan) ToString() string {
	return "INSERT APPEND"
}

func (p *DirectInsertPlan) GetPlanAccessType() string {
	return AccessDirectInsert
}
