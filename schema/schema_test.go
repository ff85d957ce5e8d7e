package schema

import (
	"context"
	"math/rand"
	"testing"

	"github.com/hatlonely/cdcgen/catalog"
	"github.com/hatlonely/cdcgen/log"
	"github.com/hatlonely/cdcgen/rdb"
	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
	"github.com/stretchr/testify/require"
)

// faultyStore 在结构变更时返回指定的错误或结果
type faultyStore struct {
	rdb.Store
	addErr     error
	dropErr    error
	addOutcome rdb.Outcome
	dropResult rdb.Outcome
}

func (f *faultyStore) AddColumn(ctx context.Context, table rdb.Table, field rdb.FieldDefinition) (rdb.Outcome, error) {
	if f.addErr != nil {
		return 0, f.addErr
	}
	if f.addOutcome != 0 {
		return f.addOutcome, nil
	}
	return f.Store.AddColumn(ctx, table, field)
}

func (f *faultyStore) DropColumn(ctx context.Context, table rdb.Table, column string) (rdb.Outcome, error) {
	if f.dropErr != nil {
		return 0, f.dropErr
	}
	if f.dropResult != 0 {
		return f.dropResult, nil
	}
	return f.Store.DropColumn(ctx, table, column)
}

func newTestStore(t *testing.T) rdb.Store {
	store, err := rdb.NewStoreWithOptions(&rdb.SQLOptions{Driver: "sqlite3", Database: ":memory:", MaxConns: 1, MaxIdle: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestState(t *testing.T, store rdb.Store, seed int64) *State {
	c, err := catalog.NewSales()
	require.NoError(t, err)
	s, err := NewStateWithOptions(&Options{
		Store:   store,
		Table:   rdb.Table{Name: "sales"},
		Catalog: c,
		Rand:    rand.New(rand.NewSource(seed)),
		Logger:  log.Discard(),
	})
	require.NoError(t, err)
	outcome, err := s.CreateTable(context.Background())
	require.NoError(t, err)
	require.Equal(t, rdb.OutcomeCreated, outcome)
	return s
}

var protected = []string{"id", "created_at", "updated_at"}

func TestAddColumn(t *testing.T) {
	Convey("测试加列", t, func() {
		ctx := context.Background()
		store := newTestStore(t)
		s := newTestState(t, store, 7)
		order := s.Pool()
		So(order, ShouldHaveLength, 6)

		Convey("按打乱后的固定顺序消耗列池", func() {
			for i, expected := range order {
				name, ok, err := s.AddColumn(ctx)
				So(err, ShouldBeNil)
				So(ok, ShouldBeTrue)
				So(name, ShouldEqual, expected)
				So(s.Pool(), ShouldResemble, order[i+1:])
			}

			name, ok, err := s.AddColumn(ctx)
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)
			So(name, ShouldBeEmpty)

			columns, err := store.Columns(ctx, rdb.Table{Name: "sales"})
			So(err, ShouldBeNil)
			So(columns, ShouldResemble, s.ActiveColumns().Names())

			history := s.History()
			So(history, ShouldHaveLength, 6)
			for i, entry := range history {
				So(entry.Action, ShouldEqual, ActionAdd)
				So(entry.Column, ShouldEqual, order[i])
			}
		})

		Convey("删除的列不会回到列池", func() {
			_, _, err := s.AddColumn(ctx)
			So(err, ShouldBeNil)
			dropped, ok, err := s.DropColumn(ctx)
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
			So(dropped, ShouldEqual, order[0])
			So(s.Pool(), ShouldResemble, order[1:])
			So(s.Pool(), ShouldNotContain, dropped)
		})

		Convey("结构变更失败时状态不变", func() {
			before := s.ActiveColumns()
			s.store = &faultyStore{Store: store, addErr: errors.New("connection reset")}

			_, ok, err := s.AddColumn(ctx)
			So(err, ShouldNotBeNil)
			So(ok, ShouldBeFalse)
			So(s.ActiveColumns(), ShouldEqual, before)
			So(s.Pool(), ShouldResemble, order)
			So(s.History(), ShouldBeEmpty)
		})

		Convey("列已存在时同步内存结构但不记历史", func() {
			s.store = &faultyStore{Store: store, addOutcome: rdb.OutcomeAlreadyExists}

			name, ok, err := s.AddColumn(ctx)
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)
			So(name, ShouldEqual, order[0])
			So(s.ActiveColumns().Has(order[0]), ShouldBeTrue)
			So(s.Pool(), ShouldResemble, order[1:])
			So(s.History(), ShouldBeEmpty)
		})
	})
}

func TestDropColumn(t *testing.T) {
	Convey("测试删列", t, func() {
		ctx := context.Background()
		store := newTestStore(t)
		s := newTestState(t, store, 11)

		Convey("反复删除直到只剩保护列，之后为空操作", func() {
			for i := 0; i < 3; i++ {
				_, ok, err := s.AddColumn(ctx)
				So(err, ShouldBeNil)
				So(ok, ShouldBeTrue)
			}

			drops := 0
			for {
				name, ok, err := s.DropColumn(ctx)
				So(err, ShouldBeNil)
				if !ok {
					So(name, ShouldBeEmpty)
					break
				}
				So(protected, ShouldNotContain, name)
				drops++
				So(drops, ShouldBeLessThanOrEqualTo, 8)
			}
			So(drops, ShouldEqual, 8)
			So(s.ActiveColumns().Names(), ShouldResemble, protected)

			for i := 0; i < 3; i++ {
				name, ok, err := s.DropColumn(ctx)
				So(err, ShouldBeNil)
				So(ok, ShouldBeFalse)
				So(name, ShouldBeEmpty)
			}

			columns, err := store.Columns(ctx, rdb.Table{Name: "sales"})
			So(err, ShouldBeNil)
			So(columns, ShouldResemble, protected)
		})

		Convey("列已不存在时从当前列移除但不记历史", func() {
			s.store = &faultyStore{Store: store, dropResult: rdb.OutcomeMissing}
			name, ok, err := s.DropColumn(ctx)
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)
			So(s.ActiveColumns().Has(name), ShouldBeFalse)
			So(s.History(), ShouldBeEmpty)
		})

		Convey("删除失败时状态不变", func() {
			before := s.ActiveColumns()
			s.store = &faultyStore{Store: store, dropErr: errors.New("lock timeout")}
			_, ok, err := s.DropColumn(ctx)
			So(err, ShouldNotBeNil)
			So(ok, ShouldBeFalse)
			So(s.ActiveColumns(), ShouldEqual, before)
		})
	})
}

func TestDropColumnUniform(t *testing.T) {
	Convey("测试删除候选列的分布均匀", t, func() {
		c, err := catalog.NewSales()
		So(err, ShouldBeNil)
		rng := rand.New(rand.NewSource(5))

		counts := map[string]int{}
		trials := 5000
		for i := 0; i < trials; i++ {
			store := &countingStore{}
			s, err := NewStateWithOptions(&Options{Store: store, Catalog: c, Rand: rng, Logger: log.Discard()})
			So(err, ShouldBeNil)
			name, ok, err := s.DropColumn(context.Background())
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
			counts[name]++
		}

		So(counts, ShouldHaveLength, 5)
		for name, n := range counts {
			So(protected, ShouldNotContain, name)
			So(n, ShouldBeBetween, trials/5-150, trials/5+150)
		}
	})
}

// countingStore 只响应结构变更的内存实现
type countingStore struct {
	rdb.Store
}

func (s *countingStore) DropColumn(ctx context.Context, table rdb.Table, column string) (rdb.Outcome, error) {
	return rdb.OutcomeDropped, nil
}

func TestSync(t *testing.T) {
	Convey("测试接管已存在的表", t, func() {
		ctx := context.Background()
		store := newTestStore(t)
		first := newTestState(t, store, 3)
		added, ok, err := first.AddColumn(ctx)
		So(err, ShouldBeNil)
		So(ok, ShouldBeTrue)

		c, err := catalog.NewSales()
		So(err, ShouldBeNil)
		second, err := NewStateWithOptions(&Options{
			Store: store, Table: rdb.Table{Name: "sales"}, Catalog: c, Rand: rand.New(rand.NewSource(4)), Logger: log.Discard(),
		})
		So(err, ShouldBeNil)
		outcome, err := second.CreateTable(ctx)
		So(err, ShouldBeNil)
		So(outcome, ShouldEqual, rdb.OutcomeAlreadyExists)

		So(second.Sync(ctx), ShouldBeNil)
		So(second.ActiveColumns().Has(added), ShouldBeTrue)
		So(second.Pool(), ShouldNotContain, added)
		So(second.Pool(), ShouldHaveLength, 5)
		So(second.History(), ShouldBeEmpty)

		Convey("基础列已被删除", func() {
			_, err := store.DropColumn(ctx, rdb.Table{Name: "sales"}, "quantity")
			So(err, ShouldBeNil)
			So(second.Sync(ctx), ShouldBeNil)
			So(second.ActiveColumns().Has("quantity"), ShouldBeFalse)
			So(second.ActiveColumns().Len(), ShouldEqual, 8)
		})

		Convey("缺少保护列", func() {
			_, err := store.DropColumn(ctx, rdb.Table{Name: "sales"}, "updated_at")
			So(err, ShouldBeNil)
			err = second.Sync(ctx)
			So(errors.Is(err, ErrSchemaMismatch), ShouldBeTrue)
		})

		Convey("表上有目录外的列", func() {
			_, err := store.AddColumn(ctx, rdb.Table{Name: "sales"}, rdb.FieldDefinition{Name: "legacy", Type: rdb.FieldTypeText})
			So(err, ShouldBeNil)
			err = second.Sync(ctx)
			So(errors.Is(err, ErrSchemaMismatch), ShouldBeTrue)
		})
	})
}

func TestActiveColumnsIdempotent(t *testing.T) {
	s := newTestState(t, newTestStore(t), 9)
	a := s.ActiveColumns()
	b := s.ActiveColumns()
	require.True(t, a.Equal(b))
	require.Equal(t, a.Map(), b.Map())
	for _, name := range protected {
		require.True(t, a.Has(name))
	}
	require.Equal(t, "id", s.TableModel().PrimaryKey[0])
}
