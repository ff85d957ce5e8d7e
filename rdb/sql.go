package rdb

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	_ "github.com/microsoft/go-mssqldb"
	"github.com/pkg/errors"
)

type SQLOptions struct {
	// 驱动：postgres, mysql, sqlite3, sqlserver
	Driver string `cfg:"driver" def:"postgres" validate:"oneof=postgres mysql sqlite3 sqlserver"`
	// 实现：sql 直接使用 database/sql，gorm 使用 gorm（仅 mysql 和 sqlite3）
	Backend string `cfg:"backend" def:"sql" validate:"oneof=sql gorm"`

	// 设置后忽略下面的连接参数
	DSN      string `cfg:"dsn"`
	Host     string `cfg:"host" def:"localhost" env:"PGHOST"`
	Port     string `cfg:"port" env:"PGPORT"`
	Database string `cfg:"database" def:"postgres" env:"PGDATABASE"`
	Username string `cfg:"username" def:"postgres" env:"PGUSER"`
	Password string `cfg:"password" def:"postgres" env:"PGPASSWORD"`
	// postgres sslmode，为空时使用驱动默认
	SSLMode  string `cfg:"sslMode"`
	MaxConns int    `cfg:"maxConns" def:"4"`
	MaxIdle  int    `cfg:"maxIdle" def:"2"`
}

// BuildDSN 根据连接参数拼接各驱动的 DSN
func BuildDSN(options *SQLOptions) (string, error) {
	if options.DSN != "" {
		return options.DSN, nil
	}

	port := options.Port
	switch options.Driver {
	case "mysql":
		if port == "" {
			port = "3306"
		}
		// clientFoundRows 让 RowsAffected 统计匹配行而不是实际变化的行
		return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=true&loc=UTC&clientFoundRows=true",
			options.Username, options.Password, options.Host, port, options.Database), nil
	case "sqlite3":
		return options.Database, nil
	case "postgres":
		if port == "" {
			port = "5432"
		}
		u := url.URL{
			Scheme: "postgres",
			User:   url.UserPassword(options.Username, options.Password),
			Host:   options.Host + ":" + port,
			Path:   "/" + options.Database,
		}
		if options.SSLMode != "" {
			u.RawQuery = url.Values{"sslmode": {options.SSLMode}}.Encode()
		}
		return u.String(), nil
	case "sqlserver":
		if port == "" {
			port = "1433"
		}
		u := url.URL{
			Scheme:   "sqlserver",
			User:     url.UserPassword(options.Username, options.Password),
			Host:     options.Host + ":" + port,
			RawQuery: url.Values{"database": {options.Database}}.Encode(),
		}
		return u.String(), nil
	default:
		return "", errors.Wrapf(ErrUnsupportedDriver, "driver %s", options.Driver)
	}
}

type SQL struct {
	db      *sql.DB
	dialect *dialect
}

func NewSQLWithOptions(options *SQLOptions) (*SQL, error) {
	d, err := lookupDialect(options.Driver)
	if err != nil {
		return nil, err
	}
	dsn, err := BuildDSN(options)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(d.sqlDriver, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "sql.Open %s failed", options.Driver)
	}

	db.SetMaxOpenConns(options.MaxConns)
	db.SetMaxIdleConns(options.MaxIdle)
	// sqlite 单连接，:memory: 库在多个连接间不共享
	if d.name == "sqlite3" {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(err, "ping %s failed", options.Driver)
	}

	return &SQL{db: db, dialect: d}, nil
}

func (s *SQL) Driver() string {
	return s.dialect.name
}

func (s *SQL) EnsureSchema(ctx context.Context, schema string) (Outcome, error) {
	if !s.dialect.schemas || schema == "" {
		return OutcomeAlreadyExists, nil
	}
	_, err := s.db.ExecContext(ctx, s.dialect.buildCreateSchemaSQL(schema))
	return s.outcome(err, OutcomeCreated, conflictDuplicateSchema, OutcomeAlreadyExists, "create schema "+schema)
}

func (s *SQL) CreateTable(ctx context.Context, model *TableModel) (Outcome, error) {
	stmt, err := s.dialect.buildCreateTableSQL(model)
	if err != nil {
		return 0, err
	}
	_, err = s.db.ExecContext(ctx, stmt)
	return s.outcome(err, OutcomeCreated, conflictDuplicateTable, OutcomeAlreadyExists, "create table "+model.Table.String())
}

func (s *SQL) DropTable(ctx context.Context, table Table) (Outcome, error) {
	_, err := s.db.ExecContext(ctx, "DROP TABLE "+s.dialect.table(table))
	return s.outcome(err, OutcomeDropped, conflictUndefinedTable, OutcomeMissing, "drop table "+table.String())
}

func (s *SQL) AddColumn(ctx context.Context, table Table, field FieldDefinition) (Outcome, error) {
	stmt, err := s.dialect.buildAddColumnSQL(table, field)
	if err != nil {
		return 0, err
	}
	_, err = s.db.ExecContext(ctx, stmt)
	return s.outcome(err, OutcomeCreated, conflictDuplicateColumn, OutcomeAlreadyExists, "add column "+field.Name)
}

func (s *SQL) DropColumn(ctx context.Context, table Table, column string) (Outcome, error) {
	_, err := s.db.ExecContext(ctx, s.dialect.buildDropColumnSQL(table, column))
	return s.outcome(err, OutcomeDropped, conflictUndefinedColumn, OutcomeMissing, "drop column "+column)
}

// outcome 将预期的冲突转换为结果值，其余错误原样返回
func (s *SQL) outcome(err error, ok Outcome, expected conflict, onConflict Outcome, action string) (Outcome, error) {
	if err == nil {
		return ok, nil
	}
	if s.dialect.classify(err) == expected {
		return onConflict, nil
	}
	return 0, errors.Wrapf(err, "%s failed", action)
}

func (s *SQL) BatchInsert(ctx context.Context, table Table, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(columns) == 0 {
		return 0, errors.Wrap(ErrInvalidBatch, "no columns")
	}
	for i, row := range rows {
		if len(row) != len(columns) {
			return 0, errors.Wrapf(ErrInvalidBatch, "row %d has %d values, want %d", i, len(row), len(columns))
		}
	}

	var total int64
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		step := s.dialect.rowsPerStatement(len(columns))
		for start := 0; start < len(rows); start += step {
			end := start + step
			if end > len(rows) {
				end = len(rows)
			}
			args := make([]any, 0, (end-start)*len(columns))
			for _, row := range rows[start:end] {
				args = append(args, row...)
			}
			result, err := tx.ExecContext(ctx, s.dialect.buildInsertSQL(table, columns, end-start), args...)
			if err != nil {
				return errors.Wrapf(err, "insert into %s failed", table)
			}
			n, err := result.RowsAffected()
			if err != nil {
				return errors.Wrap(err, "RowsAffected failed")
			}
			total += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (s *SQL) BatchUpdate(ctx context.Context, table Table, key string, updates []Update, touch Assignment) (int64, error) {
	if len(updates) == 0 {
		return 0, nil
	}

	var total int64
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		for _, u := range updates {
			args := []any{u.Value}
			if touch.Column != "" {
				args = append(args, touch.Value)
			}
			args = append(args, u.ID)
			result, err := tx.ExecContext(ctx, s.dialect.buildUpdateSQL(table, key, u.Column, touch.Column), args...)
			if err != nil {
				return errors.Wrapf(err, "update %s.%s failed", table, u.Column)
			}
			n, err := result.RowsAffected()
			if err != nil {
				return errors.Wrap(err, "RowsAffected failed")
			}
			total += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (s *SQL) BatchDelete(ctx context.Context, table Table, key string, ids []any) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	var total int64
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		step := s.dialect.maxParams
		for start := 0; start < len(ids); start += step {
			end := start + step
			if end > len(ids) {
				end = len(ids)
			}
			result, err := tx.ExecContext(ctx, s.dialect.buildDeleteSQL(table, key, end-start), ids[start:end]...)
			if err != nil {
				return errors.Wrapf(err, "delete from %s failed", table)
			}
			n, err := result.RowsAffected()
			if err != nil {
				return errors.Wrap(err, "RowsAffected failed")
			}
			total += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (s *SQL) Count(ctx context.Context, table Table) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+s.dialect.table(table)).Scan(&n); err != nil {
		return 0, errors.Wrapf(err, "count %s failed", table)
	}
	return n, nil
}

func (s *SQL) Columns(ctx context.Context, table Table) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT * FROM "+s.dialect.table(table)+" WHERE 1 = 0")
	if err != nil {
		return nil, errors.Wrapf(err, "query %s failed", table)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, errors.Wrap(err, "rows.Columns failed")
	}
	for i := range columns {
		columns[i] = strings.TrimSpace(columns[i])
	}
	return columns, nil
}

// WithTx 在事务中执行，fn 返回错误或 panic 时回滚
func (s *SQL) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction failed")
	}

	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit failed")
	}
	return nil
}

func (s *SQL) Close() error {
	return s.db.Close()
}
