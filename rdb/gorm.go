package rdb

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// GORM 基于 gorm 的 Store 实现，语句由方言构造，事务和批量插入交给 gorm
type GORM struct {
	db      *gorm.DB
	dialect *dialect
}

func NewGORMWithOptions(options *SQLOptions) (*GORM, error) {
	d, err := lookupDialect(options.Driver)
	if err != nil {
		return nil, err
	}
	dsn, err := BuildDSN(options)
	if err != nil {
		return nil, err
	}

	var dialector gorm.Dialector
	switch d.name {
	case "mysql":
		dialector = mysql.Open(dsn)
	case "sqlite3":
		dialector = sqlite.Open(dsn)
	default:
		return nil, errors.Wrapf(ErrUnsupportedDriver, "gorm backend does not support %s", d.name)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "gorm.Open %s failed", d.name)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "db.DB failed")
	}
	sqlDB.SetMaxOpenConns(options.MaxConns)
	sqlDB.SetMaxIdleConns(options.MaxIdle)
	if d.name == "sqlite3" {
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
	}

	return &GORM{db: db, dialect: d}, nil
}

func (g *GORM) Driver() string {
	return g.dialect.name
}

func (g *GORM) exec(ctx context.Context, stmt string, args ...any) (int64, error) {
	result := g.db.WithContext(ctx).Exec(stmt, args...)
	return result.RowsAffected, result.Error
}

func (g *GORM) outcome(err error, ok Outcome, expected conflict, onConflict Outcome, action string) (Outcome, error) {
	if err == nil {
		return ok, nil
	}
	if g.dialect.classify(err) == expected {
		return onConflict, nil
	}
	return 0, errors.Wrapf(err, "%s failed", action)
}

// EnsureSchema gorm 支持的方言都没有独立命名空间
func (g *GORM) EnsureSchema(ctx context.Context, schema string) (Outcome, error) {
	return OutcomeAlreadyExists, nil
}

func (g *GORM) CreateTable(ctx context.Context, model *TableModel) (Outcome, error) {
	stmt, err := g.dialect.buildCreateTableSQL(model)
	if err != nil {
		return 0, err
	}
	_, err = g.exec(ctx, stmt)
	return g.outcome(err, OutcomeCreated, conflictDuplicateTable, OutcomeAlreadyExists, "create table "+model.Table.String())
}

func (g *GORM) DropTable(ctx context.Context, table Table) (Outcome, error) {
	_, err := g.exec(ctx, "DROP TABLE "+g.dialect.table(table))
	return g.outcome(err, OutcomeDropped, conflictUndefinedTable, OutcomeMissing, "drop table "+table.String())
}

func (g *GORM) AddColumn(ctx context.Context, table Table, field FieldDefinition) (Outcome, error) {
	stmt, err := g.dialect.buildAddColumnSQL(table, field)
	if err != nil {
		return 0, err
	}
	_, err = g.exec(ctx, stmt)
	return g.outcome(err, OutcomeCreated, conflictDuplicateColumn, OutcomeAlreadyExists, "add column "+field.Name)
}

func (g *GORM) DropColumn(ctx context.Context, table Table, column string) (Outcome, error) {
	_, err := g.exec(ctx, g.dialect.buildDropColumnSQL(table, column))
	return g.outcome(err, OutcomeDropped, conflictUndefinedColumn, OutcomeMissing, "drop column "+column)
}

func (g *GORM) BatchInsert(ctx context.Context, table Table, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(columns) == 0 {
		return 0, errors.Wrap(ErrInvalidBatch, "no columns")
	}

	records := make([]map[string]any, len(rows))
	for i, row := range rows {
		if len(row) != len(columns) {
			return 0, errors.Wrapf(ErrInvalidBatch, "row %d has %d values, want %d", i, len(row), len(columns))
		}
		record := make(map[string]any, len(columns))
		for j, c := range columns {
			record[c] = row[j]
		}
		records[i] = record
	}

	var total int64
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Table(table.Name).CreateInBatches(records, g.dialect.rowsPerStatement(len(columns)))
		if result.Error != nil {
			return errors.Wrapf(result.Error, "insert into %s failed", table)
		}
		total = result.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (g *GORM) BatchUpdate(ctx context.Context, table Table, key string, updates []Update, touch Assignment) (int64, error) {
	if len(updates) == 0 {
		return 0, nil
	}

	var total int64
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, u := range updates {
			args := []any{u.Value}
			if touch.Column != "" {
				args = append(args, touch.Value)
			}
			args = append(args, u.ID)
			result := tx.Exec(g.dialect.buildUpdateSQL(table, key, u.Column, touch.Column), args...)
			if result.Error != nil {
				return errors.Wrapf(result.Error, "update %s.%s failed", table, u.Column)
			}
			total += result.RowsAffected
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (g *GORM) BatchDelete(ctx context.Context, table Table, key string, ids []any) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	var total int64
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Exec(g.dialect.buildDeleteSQL(table, key, len(ids)), ids...)
		if result.Error != nil {
			return errors.Wrapf(result.Error, "delete from %s failed", table)
		}
		total = result.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (g *GORM) Count(ctx context.Context, table Table) (int64, error) {
	var n int64
	if err := g.db.WithContext(ctx).Table(table.Name).Count(&n).Error; err != nil {
		return 0, errors.Wrapf(err, "count %s failed", table)
	}
	return n, nil
}

func (g *GORM) Columns(ctx context.Context, table Table) ([]string, error) {
	rows, err := g.db.WithContext(ctx).Raw("SELECT * FROM " + g.dialect.table(table) + " WHERE 1 = 0").Rows()
	if err != nil {
		return nil, errors.Wrapf(err, "query %s failed", table)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, errors.Wrap(err, "rows.Columns failed")
	}
	return columns, nil
}

func (g *GORM) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return errors.Wrap(err, "db.DB failed")
	}
	return sqlDB.Close()
}
