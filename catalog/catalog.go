// Package catalog 定义可用列：始终存在的基础列和可在演进中加入的列池
package catalog

import (
	"github.com/pkg/errors"
)

var (
	ErrDuplicateColumn  = errors.New("duplicate column")
	ErrEmptyCatalog     = errors.New("empty catalog")
	ErrInvalidColumn    = errors.New("invalid column")
	ErrInvalidGenerator = errors.New("invalid generator")
)

// Catalog 基础列和列池两个互不相交的集合
type Catalog struct {
	base   []*ColumnDefinition
	pool   []*ColumnDefinition
	byName map[string]*ColumnDefinition

	identity *ColumnDefinition
	created  *ColumnDefinition
	modified *ColumnDefinition
}

// New 校验并构建目录。基础列必须包含唯一的 identity 列；受保护列和审计列只能出现在基础列中
func New(base []ColumnDefinition, pool []ColumnDefinition) (*Catalog, error) {
	if len(base) == 0 {
		return nil, errors.Wrap(ErrEmptyCatalog, "no base columns")
	}

	c := &Catalog{byName: map[string]*ColumnDefinition{}}

	add := func(def ColumnDefinition, inPool bool) error {
		if err := def.validate(); err != nil {
			return err
		}
		if _, ok := c.byName[def.Name]; ok {
			return errors.Wrapf(ErrDuplicateColumn, "column %s", def.Name)
		}
		d := def
		c.byName[d.Name] = &d
		if inPool {
			if d.Protected || d.Role != RoleNone {
				return errors.Wrapf(ErrInvalidColumn, "protected column %s cannot be in the pool", d.Name)
			}
			c.pool = append(c.pool, &d)
			return nil
		}
		c.base = append(c.base, &d)
		return c.assignRole(&d)
	}

	for _, def := range base {
		if err := add(def, false); err != nil {
			return nil, err
		}
	}
	for _, def := range pool {
		if err := add(def, true); err != nil {
			return nil, err
		}
	}

	if c.identity == nil {
		return nil, errors.Wrap(ErrInvalidColumn, "base columns have no identity column")
	}
	return c, nil
}

func (c *Catalog) assignRole(d *ColumnDefinition) error {
	var slot **ColumnDefinition
	switch d.Role {
	case RoleIdentity:
		slot = &c.identity
	case RoleCreated:
		slot = &c.created
	case RoleModified:
		slot = &c.modified
	default:
		return nil
	}
	if *slot != nil {
		return errors.Wrapf(ErrInvalidColumn, "columns %s and %s both have role %s", (*slot).Name, d.Name, d.Role)
	}
	*slot = d
	return nil
}

// Base 基础列，按定义顺序
func (c *Catalog) Base() []*ColumnDefinition {
	return append([]*ColumnDefinition(nil), c.base...)
}

// Pool 列池，按定义顺序，未打乱
func (c *Catalog) Pool() []*ColumnDefinition {
	return append([]*ColumnDefinition(nil), c.pool...)
}

func (c *Catalog) Lookup(name string) (*ColumnDefinition, bool) {
	d, ok := c.byName[name]
	return d, ok
}

func (c *Catalog) Identity() *ColumnDefinition {
	return c.identity
}

// CreatedColumn 可能为 nil
func (c *Catalog) CreatedColumn() *ColumnDefinition {
	return c.created
}

// ModifiedColumn 可能为 nil
func (c *Catalog) ModifiedColumn() *ColumnDefinition {
	return c.modified
}

// Protected 返回所有受保护列名
func (c *Catalog) Protected() []string {
	var names []string
	for _, d := range c.base {
		if d.Protected {
			names = append(names, d.Name)
		}
	}
	return names
}
