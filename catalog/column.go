package catalog

import (
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

// ColumnType 语义类型，由存储层映射为具体方言的 SQL 类型
type ColumnType string

const (
	TypeUUID      ColumnType = "uuid"
	TypeText      ColumnType = "text"
	TypeInteger   ColumnType = "integer"
	TypeFloat     ColumnType = "float"
	TypeBoolean   ColumnType = "boolean"
	TypeTimestamp ColumnType = "timestamp"
)

// ColumnRole 标记主键和审计列
type ColumnRole string

const (
	RoleNone     ColumnRole = ""
	RoleIdentity ColumnRole = "identity"
	RoleCreated  ColumnRole = "created"
	RoleModified ColumnRole = "modified"
)

var columnNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// ColumnDefinition 列定义，创建后不再修改
type ColumnDefinition struct {
	Name      string        `json:"name" yaml:"name"`
	Type      ColumnType    `json:"type" yaml:"type"`
	Generator GeneratorSpec `json:"generator" yaml:"generator"`
	Protected bool          `json:"protected,omitempty" yaml:"protected,omitempty"`
	Required  bool          `json:"required,omitempty" yaml:"required,omitempty"`
	Role      ColumnRole    `json:"role,omitempty" yaml:"role,omitempty"`
}

// PrimaryKey 主键即 identity 列
func (c *ColumnDefinition) PrimaryKey() bool {
	return c.Role == RoleIdentity
}

// Audit 审计时间列不参与随机更新
func (c *ColumnDefinition) Audit() bool {
	return c.Role == RoleCreated || c.Role == RoleModified
}

// Mutable 可以被随机更新选中
func (c *ColumnDefinition) Mutable() bool {
	return !c.Protected && c.Role == RoleNone
}

// Constraints 约束的文本形式，用于报告
func (c *ColumnDefinition) Constraints() string {
	var parts []string
	if c.PrimaryKey() {
		parts = append(parts, "PRIMARY KEY")
	}
	if c.Required && !c.PrimaryKey() {
		parts = append(parts, "NOT NULL")
	}
	return strings.Join(parts, " ")
}

func (c *ColumnDefinition) validate() error {
	if !columnNamePattern.MatchString(c.Name) {
		return errors.Wrapf(ErrInvalidColumn, "column name %q", c.Name)
	}
	switch c.Type {
	case TypeUUID, TypeText, TypeInteger, TypeFloat, TypeBoolean, TypeTimestamp:
	default:
		return errors.Wrapf(ErrInvalidColumn, "column %s: unknown type %q", c.Name, c.Type)
	}
	switch c.Role {
	case RoleNone:
	case RoleIdentity:
		if c.Type != TypeUUID {
			return errors.Wrapf(ErrInvalidColumn, "identity column %s must be uuid", c.Name)
		}
	case RoleCreated, RoleModified:
		if c.Type != TypeTimestamp {
			return errors.Wrapf(ErrInvalidColumn, "audit column %s must be timestamp", c.Name)
		}
	default:
		return errors.Wrapf(ErrInvalidColumn, "column %s: unknown role %q", c.Name, c.Role)
	}
	if c.Role != RoleNone && !c.Protected {
		return errors.Wrapf(ErrInvalidColumn, "column %s with role %s must be protected", c.Name, c.Role)
	}
	if err := c.Generator.validate(c.Type); err != nil {
		return errors.WithMessagef(err, "column %s", c.Name)
	}
	return nil
}

// ColumnOptions 通过配置追加到列池的列
type ColumnOptions struct {
	Name      string        `cfg:"name" validate:"required"`
	Type      ColumnType    `cfg:"type" validate:"required,oneof=uuid text integer float boolean timestamp"`
	Required  bool          `cfg:"required"`
	Generator GeneratorSpec `cfg:"generator"`
}

func (o *ColumnOptions) Definition() ColumnDefinition {
	return ColumnDefinition{
		Name:      o.Name,
		Type:      o.Type,
		Generator: o.Generator,
		Required:  o.Required,
	}
}
