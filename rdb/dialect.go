package rdb

import (
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	mssql "github.com/microsoft/go-mssqldb"
	"github.com/pkg/errors"
)

// conflict 结构变更冲突的分类
type conflict int

const (
	conflictNone conflict = iota
	conflictDuplicateTable
	conflictUndefinedTable
	conflictDuplicateColumn
	conflictUndefinedColumn
	conflictDuplicateSchema
)

type dialect struct {
	name        string
	sqlDriver   string
	schemas     bool
	maxParams   int
	maxRows     int
	types       map[FieldType]string
	quoteFunc   func(string) string
	placeholder func(n int) string
	classify    func(err error) conflict
}

func (d *dialect) quote(ident string) string {
	return d.quoteFunc(ident)
}

func (d *dialect) table(t Table) string {
	if d.schemas && t.Schema != "" {
		return d.quote(t.Schema) + "." + d.quote(t.Name)
	}
	return d.quote(t.Name)
}

func (d *dialect) columnType(t FieldType) (string, error) {
	sqlType, ok := d.types[t]
	if !ok {
		return "", errors.Errorf("field type %q is not supported by %s", t, d.name)
	}
	return sqlType, nil
}

// placeholders 生成从 start 开始的 n 个占位符
func (d *dialect) placeholders(start, n int) string {
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = d.placeholder(start + i)
	}
	return strings.Join(parts, ", ")
}

// rowsPerStatement 单条 INSERT 可容纳的行数
func (d *dialect) rowsPerStatement(columns int) int {
	if columns <= 0 {
		return 1
	}
	n := d.maxParams / columns
	if d.maxRows > 0 && n > d.maxRows {
		n = d.maxRows
	}
	if n < 1 {
		n = 1
	}
	return n
}

func (d *dialect) buildCreateTableSQL(model *TableModel) (string, error) {
	var columns []string
	for _, field := range model.Fields {
		def, err := d.buildColumnDefinition(field, true)
		if err != nil {
			return "", err
		}
		columns = append(columns, def)
	}
	if len(model.PrimaryKey) > 0 {
		keys := make([]string, len(model.PrimaryKey))
		for i, k := range model.PrimaryKey {
			keys[i] = d.quote(k)
		}
		columns = append(columns, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(keys, ", ")))
	}
	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", d.table(model.Table), strings.Join(columns, ",\n  ")), nil
}

func (d *dialect) buildColumnDefinition(field FieldDefinition, withConstraints bool) (string, error) {
	sqlType, err := d.columnType(field.Type)
	if err != nil {
		return "", err
	}
	def := d.quote(field.Name) + " " + sqlType
	if withConstraints && field.Required {
		def += " NOT NULL"
	}
	return def, nil
}

func (d *dialect) buildAddColumnSQL(t Table, field FieldDefinition) (string, error) {
	def, err := d.buildColumnDefinition(field, false)
	if err != nil {
		return "", err
	}
	if d.name == "sqlserver" {
		return fmt.Sprintf("ALTER TABLE %s ADD %s", d.table(t), def), nil
	}
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", d.table(t), def), nil
}

func (d *dialect) buildDropColumnSQL(t Table, column string) string {
	return fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", d.table(t), d.quote(column))
}

func (d *dialect) buildInsertSQL(t Table, columns []string, rows int) string {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = d.quote(c)
	}
	tuples := make([]string, rows)
	for i := 0; i < rows; i++ {
		tuples[i] = "(" + d.placeholders(i*len(columns)+1, len(columns)) + ")"
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", d.table(t), strings.Join(quoted, ", "), strings.Join(tuples, ", "))
}

func (d *dialect) buildUpdateSQL(t Table, key string, column string, touch string) string {
	sets := d.quote(column) + " = " + d.placeholder(1)
	next := 2
	if touch != "" {
		sets += ", " + d.quote(touch) + " = " + d.placeholder(next)
		next++
	}
	return fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s", d.table(t), sets, d.quote(key), d.placeholder(next))
}

func (d *dialect) buildDeleteSQL(t Table, key string, n int) string {
	return fmt.Sprintf("DELETE FROM %s WHERE %s IN (%s)", d.table(t), d.quote(key), d.placeholders(1, n))
}

func (d *dialect) buildCreateSchemaSQL(schema string) string {
	return "CREATE SCHEMA " + d.quote(schema)
}

func quoteWith(open, close string) func(string) string {
	return func(ident string) string {
		return open + strings.ReplaceAll(ident, close, close+close) + close
	}
}

func questionMark(int) string { return "?" }

var dialects = map[string]*dialect{
	"mysql": {
		name:        "mysql",
		sqlDriver:   "mysql",
		maxParams:   65535,
		quoteFunc:   quoteWith("`", "`"),
		placeholder: questionMark,
		classify:    classifyMySQL,
		types: map[FieldType]string{
			FieldTypeUUID:      "CHAR(36)",
			FieldTypeText:      "VARCHAR(255)",
			FieldTypeInteger:   "INT",
			FieldTypeFloat:     "DOUBLE",
			FieldTypeBoolean:   "BOOLEAN",
			FieldTypeTimestamp: "DATETIME(6)",
		},
	},
	"sqlite3": {
		name:        "sqlite3",
		sqlDriver:   "sqlite3",
		maxParams:   32766,
		quoteFunc:   quoteWith(`"`, `"`),
		placeholder: questionMark,
		classify:    classifySQLite,
		types: map[FieldType]string{
			FieldTypeUUID:      "TEXT",
			FieldTypeText:      "TEXT",
			FieldTypeInteger:   "INTEGER",
			FieldTypeFloat:     "REAL",
			FieldTypeBoolean:   "BOOLEAN",
			FieldTypeTimestamp: "TIMESTAMP",
		},
	},
	"postgres": {
		name:        "postgres",
		sqlDriver:   "pgx",
		schemas:     true,
		maxParams:   65535,
		quoteFunc:   quoteWith(`"`, `"`),
		placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
		classify:    classifyPostgres,
		types: map[FieldType]string{
			FieldTypeUUID:      "UUID",
			FieldTypeText:      "TEXT",
			FieldTypeInteger:   "INTEGER",
			FieldTypeFloat:     "DOUBLE PRECISION",
			FieldTypeBoolean:   "BOOLEAN",
			FieldTypeTimestamp: "TIMESTAMP WITHOUT TIME ZONE",
		},
	},
	"sqlserver": {
		name:        "sqlserver",
		sqlDriver:   "sqlserver",
		schemas:     true,
		maxParams:   2000,
		maxRows:     1000,
		quoteFunc:   quoteWith("[", "]"),
		placeholder: func(n int) string { return fmt.Sprintf("@p%d", n) },
		classify:    classifySQLServer,
		types: map[FieldType]string{
			FieldTypeUUID:      "UNIQUEIDENTIFIER",
			FieldTypeText:      "NVARCHAR(255)",
			FieldTypeInteger:   "INT",
			FieldTypeFloat:     "FLOAT",
			FieldTypeBoolean:   "BIT",
			FieldTypeTimestamp: "DATETIME2",
		},
	},
}

func lookupDialect(driver string) (*dialect, error) {
	d, ok := dialects[driver]
	if !ok {
		return nil, errors.Wrapf(ErrUnsupportedDriver, "driver %s", driver)
	}
	return d, nil
}

func classifyMySQL(err error) conflict {
	var e *mysql.MySQLError
	if !errors.As(err, &e) {
		return conflictNone
	}
	switch e.Number {
	case 1050:
		return conflictDuplicateTable
	case 1051, 1146:
		return conflictUndefinedTable
	case 1060:
		return conflictDuplicateColumn
	case 1091:
		return conflictUndefinedColumn
	}
	return conflictNone
}

func classifyPostgres(err error) conflict {
	var e *pgconn.PgError
	if !errors.As(err, &e) {
		return conflictNone
	}
	switch e.Code {
	case "42P07":
		return conflictDuplicateTable
	case "42P01":
		return conflictUndefinedTable
	case "42701":
		return conflictDuplicateColumn
	case "42703":
		return conflictUndefinedColumn
	case "42P06":
		return conflictDuplicateSchema
	}
	return conflictNone
}

func classifySQLServer(err error) conflict {
	var e mssql.Error
	if !errors.As(err, &e) {
		return conflictNone
	}
	switch e.Number {
	case 2714:
		return conflictDuplicateTable
	case 3701:
		return conflictUndefinedTable
	case 2705:
		return conflictDuplicateColumn
	case 4924:
		return conflictUndefinedColumn
	}
	return conflictNone
}

// classifySQLite sqlite 对这些冲突只给出通用错误码，按消息区分
func classifySQLite(err error) conflict {
	var e sqlite3.Error
	if !errors.As(err, &e) {
		return conflictNone
	}
	msg := strings.ToLower(e.Error())
	switch {
	case strings.Contains(msg, "duplicate column name"):
		return conflictDuplicateColumn
	case strings.Contains(msg, "no such column"):
		return conflictUndefinedColumn
	case strings.Contains(msg, "no such table"):
		return conflictUndefinedTable
	case strings.Contains(msg, "already exists"):
		return conflictDuplicateTable
	}
	return conflictNone
}
