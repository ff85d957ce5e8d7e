// Package rdb 目标关系库的建表、结构变更和批量读写
package rdb

import (
	"context"

	"github.com/pkg/errors"
)

var (
	ErrUnsupportedDriver = errors.New("unsupported driver")
	ErrInvalidBatch      = errors.New("invalid batch")
)

// Outcome 结构变更的结果，冲突不作为错误返回
type Outcome int

const (
	OutcomeCreated Outcome = iota + 1
	OutcomeAlreadyExists
	OutcomeDropped
	OutcomeMissing
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeAlreadyExists:
		return "already_exists"
	case OutcomeDropped:
		return "dropped"
	case OutcomeMissing:
		return "missing"
	default:
		return "unknown"
	}
}

// Applied 结构变更确实生效
func (o Outcome) Applied() bool {
	return o == OutcomeCreated || o == OutcomeDropped
}

// Table 表名，Schema 在不支持命名空间的方言中忽略
type Table struct {
	Schema string `cfg:"schema" def:"internal_demo" env:"PGSCHEMA"`
	Name   string `cfg:"name" def:"sales" validate:"required"`
}

func (t Table) String() string {
	if t.Schema == "" {
		return t.Name
	}
	return t.Schema + "." + t.Name
}

// FieldType 字段的语义类型
type FieldType string

const (
	FieldTypeUUID      FieldType = "uuid"
	FieldTypeText      FieldType = "text"
	FieldTypeInteger   FieldType = "integer"
	FieldTypeFloat     FieldType = "float"
	FieldTypeBoolean   FieldType = "boolean"
	FieldTypeTimestamp FieldType = "timestamp"
)

// FieldDefinition 字段定义
type FieldDefinition struct {
	Name     string
	Type     FieldType
	Required bool
}

// TableModel 表模型定义
type TableModel struct {
	Table      Table
	Fields     []FieldDefinition
	PrimaryKey []string
}

// Update 将 ID 对应行的 Column 改为 Value
type Update struct {
	ID     any
	Column string
	Value  any
}

// Assignment 附加到每条更新语句中的赋值，用于刷新修改时间
type Assignment struct {
	Column string
	Value  any
}

// Store 目标库访问接口。每个方法是一个原子操作：批量方法在单个事务中执行
type Store interface {
	// Driver 方言名称：mysql, sqlite3, postgres, sqlserver
	Driver() string

	// EnsureSchema 创建命名空间，不支持命名空间的方言返回 OutcomeAlreadyExists
	EnsureSchema(ctx context.Context, schema string) (Outcome, error)

	CreateTable(ctx context.Context, model *TableModel) (Outcome, error)
	DropTable(ctx context.Context, table Table) (Outcome, error)

	// AddColumn 新增列总是可为空，已有行无需回填
	AddColumn(ctx context.Context, table Table, field FieldDefinition) (Outcome, error)
	DropColumn(ctx context.Context, table Table, column string) (Outcome, error)

	// BatchInsert 多行插入，超过方言参数上限时拆成多条语句，仍在同一事务内
	BatchInsert(ctx context.Context, table Table, columns []string, rows [][]any) (int64, error)

	// BatchUpdate 每个 Update 一条语句，touch.Column 非空时同一语句内一并赋值
	BatchUpdate(ctx context.Context, table Table, key string, updates []Update, touch Assignment) (int64, error)

	// BatchDelete 按主键集合删除
	BatchDelete(ctx context.Context, table Table, key string, ids []any) (int64, error)

	Count(ctx context.Context, table Table) (int64, error)

	// Columns 表上实际存在的列
	Columns(ctx context.Context, table Table) ([]string, error)

	Close() error
}

// NewStoreWithOptions 按 Backend 选择 database/sql 或 gorm 实现
func NewStoreWithOptions(options *SQLOptions) (Store, error) {
	if options == nil {
		return nil, errors.New("options cannot be nil")
	}
	switch options.Backend {
	case "", "sql":
		return NewSQLWithOptions(options)
	case "gorm":
		return NewGORMWithOptions(options)
	default:
		return nil, errors.Wrapf(ErrUnsupportedDriver, "backend %s", options.Backend)
	}
}
