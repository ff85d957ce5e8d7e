package rdb

import (
	"context"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

var testTable = Table{Name: "sales"}

var testModel = &TableModel{
	Table: testTable,
	Fields: []FieldDefinition{
		{Name: "id", Type: FieldTypeUUID, Required: true},
		{Name: "customer_name", Type: FieldTypeText, Required: true},
		{Name: "quantity", Type: FieldTypeInteger, Required: true},
		{Name: "updated_at", Type: FieldTypeTimestamp, Required: true},
	},
	PrimaryKey: []string{"id"},
}

func newTestStores(t *testing.T) map[string]Store {
	stores := map[string]Store{}
	for _, backend := range []string{"sql", "gorm"} {
		store, err := NewStoreWithOptions(&SQLOptions{Driver: "sqlite3", Backend: backend, Database: ":memory:", MaxConns: 1, MaxIdle: 1})
		if err != nil {
			t.Fatalf("open %s store: %v", backend, err)
		}
		t.Cleanup(func() { _ = store.Close() })
		stores[backend] = store
	}
	return stores
}

func TestStoreStructure(t *testing.T) {
	for backend, store := range newTestStores(t) {
		Convey("测试结构变更 "+backend, t, func() {
			ctx := context.Background()
			So(store.Driver(), ShouldEqual, "sqlite3")

			outcome, err := store.EnsureSchema(ctx, "internal_demo")
			So(err, ShouldBeNil)
			So(outcome, ShouldEqual, OutcomeAlreadyExists)

			outcome, err = store.CreateTable(ctx, testModel)
			So(err, ShouldBeNil)
			So(outcome, ShouldEqual, OutcomeCreated)

			Convey("重复建表返回 AlreadyExists", func() {
				outcome, err := store.CreateTable(ctx, testModel)
				So(err, ShouldBeNil)
				So(outcome, ShouldEqual, OutcomeAlreadyExists)
			})

			Convey("加列和删列", func() {
				outcome, err := store.AddColumn(ctx, testTable, FieldDefinition{Name: "region", Type: FieldTypeText, Required: true})
				So(err, ShouldBeNil)
				So(outcome, ShouldEqual, OutcomeCreated)

				columns, err := store.Columns(ctx, testTable)
				So(err, ShouldBeNil)
				So(columns, ShouldResemble, []string{"id", "customer_name", "quantity", "updated_at", "region"})

				outcome, err = store.AddColumn(ctx, testTable, FieldDefinition{Name: "region", Type: FieldTypeText})
				So(err, ShouldBeNil)
				So(outcome, ShouldEqual, OutcomeAlreadyExists)

				outcome, err = store.DropColumn(ctx, testTable, "region")
				So(err, ShouldBeNil)
				So(outcome, ShouldEqual, OutcomeDropped)

				outcome, err = store.DropColumn(ctx, testTable, "region")
				So(err, ShouldBeNil)
				So(outcome, ShouldEqual, OutcomeMissing)

				columns, err = store.Columns(ctx, testTable)
				So(err, ShouldBeNil)
				So(columns, ShouldNotContain, "region")
			})

			Convey("删表", func() {
				outcome, err := store.DropTable(ctx, testTable)
				So(err, ShouldBeNil)
				So(outcome, ShouldEqual, OutcomeDropped)

				outcome, err = store.DropTable(ctx, testTable)
				So(err, ShouldBeNil)
				So(outcome, ShouldEqual, OutcomeMissing)
			})

			Reset(func() {
				_, _ = store.DropTable(ctx, testTable)
			})
		})
	}
}

func TestStoreData(t *testing.T) {
	for backend, store := range newTestStores(t) {
		Convey("测试批量读写 "+backend, t, func() {
			ctx := context.Background()
			_, err := store.CreateTable(ctx, testModel)
			So(err, ShouldBeNil)

			now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
			columns := []string{"id", "customer_name", "quantity", "updated_at"}
			rows := [][]any{
				{"id-1", "Mary Smith", 1, now},
				{"id-2", "John Kim", 2, now},
				{"id-3", "Aisha Silva", 3, now},
			}

			n, err := store.BatchInsert(ctx, testTable, columns, rows)
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 3)

			count, err := store.Count(ctx, testTable)
			So(err, ShouldBeNil)
			So(count, ShouldEqual, 3)

			Convey("空批次不执行", func() {
				n, err := store.BatchInsert(ctx, testTable, columns, nil)
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 0)
			})

			Convey("行长度不一致", func() {
				_, err := store.BatchInsert(ctx, testTable, columns, [][]any{{"id-9"}})
				So(err, ShouldNotBeNil)
			})

			Convey("主键冲突时整批回滚", func() {
				_, err := store.BatchInsert(ctx, testTable, columns, [][]any{
					{"id-4", "New Row", 4, now},
					{"id-1", "Duplicate", 1, now},
				})
				So(err, ShouldNotBeNil)
				count, err := store.Count(ctx, testTable)
				So(err, ShouldBeNil)
				So(count, ShouldEqual, 3)
			})

			Convey("更新同时刷新修改时间", func() {
				later := now.Add(time.Hour)
				n, err := store.BatchUpdate(ctx, testTable, "id", []Update{
					{ID: "id-1", Column: "quantity", Value: 9},
					{ID: "id-2", Column: "customer_name", Value: "Olga Novak"},
				}, Assignment{Column: "updated_at", Value: later})
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 2)
			})

			Convey("更新不存在的列时整批回滚", func() {
				_, err := store.BatchUpdate(ctx, testTable, "id", []Update{
					{ID: "id-1", Column: "quantity", Value: 9},
					{ID: "id-2", Column: "missing", Value: 1},
				}, Assignment{})
				So(err, ShouldNotBeNil)
			})

			Convey("按主键集合删除", func() {
				n, err := store.BatchDelete(ctx, testTable, "id", []any{"id-1", "id-3", "id-404"})
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 2)
				count, err := store.Count(ctx, testTable)
				So(err, ShouldBeNil)
				So(count, ShouldEqual, 1)
			})

			Reset(func() {
				_, _ = store.DropTable(ctx, testTable)
			})
		})
	}
}

func TestNewStoreWithOptions(t *testing.T) {
	Convey("测试创建 Store", t, func() {
		Convey("未知后端", func() {
			_, err := NewStoreWithOptions(&SQLOptions{Driver: "sqlite3", Backend: "ent", Database: ":memory:"})
			So(err, ShouldNotBeNil)
		})

		Convey("未知驱动", func() {
			_, err := NewStoreWithOptions(&SQLOptions{Driver: "oracle", Database: ":memory:"})
			So(err, ShouldNotBeNil)
		})

		Convey("gorm 不支持 postgres", func() {
			_, err := NewGORMWithOptions(&SQLOptions{Driver: "postgres", Host: "localhost"})
			So(err, ShouldNotBeNil)
		})

		Convey("nil 配置", func() {
			_, err := NewStoreWithOptions(nil)
			So(err, ShouldNotBeNil)
		})
	})
}
