package catalog

import (
	"time"
)

const day = 24 * time.Hour

var firstNames = []string{
	"James", "Mary", "Robert", "Patricia", "John", "Jennifer", "Michael", "Linda", "David", "Elizabeth",
	"William", "Barbara", "Richard", "Susan", "Joseph", "Jessica", "Thomas", "Sarah", "Carlos", "Mei",
	"Aisha", "Kenji", "Olga", "Mateo", "Priya", "Lukas", "Fatima", "Noah", "Ingrid", "Tariq",
}

var lastNames = []string{
	"Smith", "Johnson", "Williams", "Brown", "Jones", "Garcia", "Miller", "Davis", "Rodriguez", "Martinez",
	"Hernandez", "Lopez", "Gonzalez", "Wilson", "Anderson", "Thomas", "Taylor", "Moore", "Jackson", "Martin",
	"Nguyen", "Kim", "Müller", "Rossi", "Novak", "Tanaka", "Okafor", "Silva", "Kowalski", "Haddad",
}

// FirstNames 和 LastNames 供 name 生成器组合姓名
func FirstNames() []string { return firstNames }

func LastNames() []string { return lastNames }

// SalesBase 销售表的基础列
func SalesBase() []ColumnDefinition {
	return []ColumnDefinition{
		{Name: "id", Type: TypeUUID, Generator: UUID(), Protected: true, Required: true, Role: RoleIdentity},
		{Name: "customer_name", Type: TypeText, Generator: PersonName(), Required: true},
		{Name: "item_id", Type: TypeInteger, Generator: IntRange(1, 10000), Required: true},
		{Name: "quantity", Type: TypeInteger, Generator: IntRange(1, 10), Required: true},
		{Name: "total_amount", Type: TypeFloat, Generator: FloatRange(5.0, 10000.0, 2), Required: true},
		{Name: "purchased_at", Type: TypeTimestamp, Generator: TimestampWithin(730 * day), Required: true},
		{Name: "created_at", Type: TypeTimestamp, Generator: Now(), Protected: true, Required: true, Role: RoleCreated},
		{Name: "updated_at", Type: TypeTimestamp, Generator: Now(), Protected: true, Required: true, Role: RoleModified},
	}
}

// SalesPool 销售表的可演进列
func SalesPool() []ColumnDefinition {
	return []ColumnDefinition{
		{Name: "promo_code", Type: TypeText, Generator: Text(5, true)},
		{Name: "discount_rate", Type: TypeFloat, Generator: FloatRange(10, 1000, 2)},
		{Name: "is_gift", Type: TypeBoolean, Generator: Bool()},
		{Name: "shipped_at", Type: TypeTimestamp, Generator: TimestampWithin(1000 * day)},
		{Name: "sales_channel", Type: TypeText, Generator: Choice("web", "mobile", "store")},
		{Name: "region", Type: TypeText, Generator: Choice("NA", "EU", "APAC")},
	}
}

// NewSales 销售表目录，extra 追加到列池末尾
func NewSales(extra ...ColumnOptions) (*Catalog, error) {
	pool := SalesPool()
	for i := range extra {
		pool = append(pool, extra[i].Definition())
	}
	return New(SalesBase(), pool)
}
