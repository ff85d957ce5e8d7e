package simulation

import (
	"bytes"
	"context"
	"encoding/json"
	"math/rand"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/hatlonely/cdcgen/catalog"
	"github.com/hatlonely/cdcgen/evolution"
	"github.com/hatlonely/cdcgen/lock"
	"github.com/hatlonely/cdcgen/log"
	"github.com/hatlonely/cdcgen/mutation"
	"github.com/hatlonely/cdcgen/rdb"
	"github.com/hatlonely/cdcgen/schema"
	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
	"github.com/stretchr/testify/require"
)

var table = rdb.Table{Name: "sales"}

// failingStore 第 failAt 次插入时返回错误
type failingStore struct {
	rdb.Store
	inserts int
	failAt  int
}

func (s *failingStore) BatchInsert(ctx context.Context, t rdb.Table, columns []string, rows [][]any) (int64, error) {
	s.inserts++
	if s.inserts == s.failAt {
		return 0, errors.New("connection reset by peer")
	}
	return s.Store.BatchInsert(ctx, t, columns, rows)
}

type spyRecorder struct {
	mu       sync.Mutex
	batches  int
	inserted int64
	changes  []string
	active   int
	onBatch  func(n int)
}

func (r *spyRecorder) ObserveBatch(inserted, updated, deleted int64, duration time.Duration) {
	r.mu.Lock()
	r.batches++
	r.inserted += inserted
	n := r.batches
	r.mu.Unlock()
	if r.onBatch != nil {
		r.onBatch(n)
	}
}

func (r *spyRecorder) ObserveSchemaChange(action string, activeColumns int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = activeColumns
	if action != "" {
		r.changes = append(r.changes, action)
	}
}

type fakeLocker struct {
	acquireErr error
	acquired   int
	released   int
	lost       chan struct{}
}

func (l *fakeLocker) Acquire(ctx context.Context) error {
	if l.acquireErr != nil {
		return l.acquireErr
	}
	l.acquired++
	return nil
}

func (l *fakeLocker) Release(ctx context.Context) error {
	l.released++
	return nil
}

func (l *fakeLocker) Lost() <-chan struct{} {
	return l.lost
}

// racingStore 模拟另一个进程抢先完成了同样的结构变更
type racingStore struct {
	rdb.Store
}

func (s *racingStore) AddColumn(ctx context.Context, t rdb.Table, field rdb.FieldDefinition) (rdb.Outcome, error) {
	if _, err := s.Store.AddColumn(ctx, t, field); err != nil {
		return 0, err
	}
	return s.Store.AddColumn(ctx, t, field)
}

func (s *racingStore) DropColumn(ctx context.Context, t rdb.Table, column string) (rdb.Outcome, error) {
	if _, err := s.Store.DropColumn(ctx, t, column); err != nil {
		return 0, err
	}
	return s.Store.DropColumn(ctx, t, column)
}

func newStore(t *testing.T) rdb.Store {
	store, err := rdb.NewStoreWithOptions(&rdb.SQLOptions{Driver: "sqlite3", Database: ":memory:", MaxConns: 1, MaxIdle: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newDriver(t *testing.T, store rdb.Store, options *Options, opts ...DriverOption) *Driver {
	c, err := catalog.NewSales()
	require.NoError(t, err)

	opts = append([]DriverOption{
		WithRand(rand.New(rand.NewSource(7))),
		WithLogger(log.Discard()),
	}, opts...)
	d, err := NewDriverWithOptions(options, store, table, c, opts...)
	require.NoError(t, err)

	_, err = d.CreateTable(context.Background())
	require.NoError(t, err)
	return d
}

func TestRun(t *testing.T) {
	Convey("测试完整运行", t, func() {
		ctx := context.Background()
		store := newStore(t)
		recorder := &spyRecorder{}
		d := newDriver(t, store, &Options{TotalRecords: 5000, BatchSize: 500, ProgressEvery: 2, EnableEvolution: true},
			WithRecorder(recorder),
			WithMutation(&mutation.Options{Probability: 1, UpdateProbability: 0.5}),
		)
		So(d.State(), ShouldEqual, StateNotStarted)

		So(d.Run(ctx), ShouldBeNil)
		So(d.State(), ShouldEqual, StateCompleted)

		report := d.Report()
		So(report.State, ShouldEqual, StateCompleted)
		So(report.Batches, ShouldEqual, 10)
		So(report.Totals.Inserts, ShouldEqual, 5000)
		So(report.Totals.Updates+report.Totals.Deletes, ShouldBeGreaterThan, 0)
		So(report.Error, ShouldBeEmpty)
		So(recorder.batches, ShouldEqual, 10)
		So(recorder.inserted, ShouldEqual, 5000)

		count, err := store.Count(ctx, table)
		So(err, ShouldBeNil)
		So(count, ShouldEqual, report.Totals.Inserts-report.Totals.Deletes)

		Convey("不能重复运行", func() {
			So(d.Run(ctx), ShouldEqual, ErrAlreadyStarted)
			So(d.State(), ShouldEqual, StateCompleted)
		})
	})
}

func TestRunEvolution(t *testing.T) {
	Convey("26 批后恰好新增一列", t, func() {
		ctx := context.Background()
		store := newStore(t)
		recorder := &spyRecorder{}
		d := newDriver(t, store, &Options{TotalRecords: 26 * 20, BatchSize: 20, ProgressEvery: 10, EnableEvolution: true},
			WithRecorder(recorder),
			WithEvolution(&evolution.Options{Interval: 25, Probability: 1.0, AddProbability: 0.7, MaxAdditions: 2, MaxDrops: 0}),
		)

		So(d.Run(ctx), ShouldBeNil)

		report := d.Report()
		So(report.SchemaChanges, ShouldHaveLength, 1)
		So(report.SchemaChanges[0].Action, ShouldEqual, schema.ActionAdd)
		So(report.Evolution.TotalAdds, ShouldEqual, 1)
		So(report.Evolution.TotalDrops, ShouldEqual, 0)
		So(report.OriginalSchema, ShouldHaveLength, 8)
		So(report.FinalSchema, ShouldHaveLength, 9)
		So(recorder.changes, ShouldResemble, []string{"add"})

		// 内存中的列与表上的列一致
		columns, err := store.Columns(ctx, table)
		So(err, ShouldBeNil)
		names := d.Schema().ActiveColumns().Names()
		sort.Strings(columns)
		sort.Strings(names)
		So(columns, ShouldResemble, names)
	})

	Convey("关闭演进时结构不变", t, func() {
		d := newDriver(t, newStore(t), &Options{TotalRecords: 100 * 10, BatchSize: 10, ProgressEvery: 10, EnableEvolution: false},
			WithEvolution(&evolution.Options{Interval: 1, Probability: 1.0, AddProbability: 0.5, MaxAdditions: 7, MaxDrops: 3}),
		)

		So(d.Run(context.Background()), ShouldBeNil)
		report := d.Report()
		So(report.SchemaChanges, ShouldBeEmpty)
		So(report.FinalSchema, ShouldResemble, report.OriginalSchema)
		So(report.Evolution.TotalAdds+report.Evolution.TotalDrops, ShouldEqual, 0)
	})

	Convey("未发生演进时也上报当前列数", t, func() {
		recorder := &spyRecorder{}
		d := newDriver(t, newStore(t), &Options{TotalRecords: 100, BatchSize: 10, ProgressEvery: 10, EnableEvolution: false}, WithRecorder(recorder))

		So(d.Run(context.Background()), ShouldBeNil)
		So(recorder.active, ShouldEqual, 8)
		So(recorder.changes, ShouldBeEmpty)
	})

	Convey("长时间运行预算不超限", t, func() {
		d := newDriver(t, newStore(t), &Options{TotalRecords: 200 * 5, BatchSize: 5, ProgressEvery: 50, EnableEvolution: true},
			WithEvolution(&evolution.Options{Interval: 1, Probability: 1.0, AddProbability: 0.7, MaxAdditions: 7, MaxDrops: 3}),
		)

		So(d.Run(context.Background()), ShouldBeNil)
		report := d.Report()
		// 列池只有 6 列，之后的新增都是空操作，不计入预算
		So(report.Evolution.TotalAdds, ShouldEqual, 6)
		So(report.Evolution.TotalDrops, ShouldEqual, 3)
		So(report.SchemaChanges, ShouldHaveLength, 9)
		for _, name := range []string{"id", "created_at", "updated_at"} {
			So(d.Schema().ActiveColumns().Has(name), ShouldBeTrue)
		}
	})
}

func TestRunConflict(t *testing.T) {
	sameColumns := func(ctx context.Context, store rdb.Store, d *Driver) {
		columns, err := store.Columns(ctx, table)
		So(err, ShouldBeNil)
		names := d.Schema().ActiveColumns().Names()
		sort.Strings(columns)
		sort.Strings(names)
		So(columns, ShouldResemble, names)
		So(d.generator.Schema().Equal(d.Schema().ActiveColumns()), ShouldBeTrue)
	}

	Convey("删除列冲突后继续运行", t, func() {
		ctx := context.Background()
		store := &racingStore{Store: newStore(t)}
		recorder := &spyRecorder{}
		d := newDriver(t, store, &Options{TotalRecords: 100, BatchSize: 10, ProgressEvery: 10, EnableEvolution: true},
			WithRecorder(recorder),
			WithEvolution(&evolution.Options{Interval: 1, Probability: 1.0, AddProbability: 0.7, MaxAdditions: 0, MaxDrops: 3}),
		)

		So(d.Run(ctx), ShouldBeNil)
		So(d.State(), ShouldEqual, StateCompleted)

		report := d.Report()
		So(report.Totals.Inserts, ShouldEqual, 100)
		So(report.SchemaChanges, ShouldBeEmpty)
		So(report.Evolution.TotalDrops, ShouldEqual, 0)
		So(recorder.changes, ShouldBeEmpty)
		// 冲突不占预算，非保护列最终都被删除
		So(d.Schema().ActiveColumns().Names(), ShouldResemble, []string{"id", "created_at", "updated_at"})
		sameColumns(ctx, store, d)
	})

	Convey("新增列冲突后生成器包含该列", t, func() {
		ctx := context.Background()
		store := &racingStore{Store: newStore(t)}
		d := newDriver(t, store, &Options{TotalRecords: 100, BatchSize: 10, ProgressEvery: 10, EnableEvolution: true},
			WithEvolution(&evolution.Options{Interval: 1, Probability: 1.0, AddProbability: 0.7, MaxAdditions: 3, MaxDrops: 0}),
		)

		So(d.Run(ctx), ShouldBeNil)
		So(d.State(), ShouldEqual, StateCompleted)

		report := d.Report()
		So(report.SchemaChanges, ShouldBeEmpty)
		So(report.Evolution.TotalAdds, ShouldEqual, 0)
		So(d.Schema().Pool(), ShouldBeEmpty)
		So(d.Schema().ActiveColumns().Len(), ShouldEqual, 14)
		sameColumns(ctx, store, d)

		row, err := d.generator.Generate(d.generator.Schema())
		So(err, ShouldBeNil)
		So(row, ShouldContainKey, "region")
	})
}

func TestRunInterrupted(t *testing.T) {
	Convey("测试中断", t, func() {
		Convey("运行前取消", func() {
			d := newDriver(t, newStore(t), &Options{TotalRecords: 1000, BatchSize: 100, ProgressEvery: 10})
			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			err := d.Run(ctx)
			So(errors.Is(err, context.Canceled), ShouldBeTrue)
			So(d.State(), ShouldEqual, StateInterrupted)
			So(d.Report().Batches, ShouldEqual, 0)
			So(d.Report().Totals.Inserts, ShouldEqual, 0)
		})

		Convey("批次之间取消，保留已完成的计数", func() {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			store := newStore(t)
			recorder := &spyRecorder{onBatch: func(n int) {
				if n == 3 {
					cancel()
				}
			}}
			d := newDriver(t, store, &Options{TotalRecords: 1000, BatchSize: 100, ProgressEvery: 10}, WithRecorder(recorder))

			err := d.Run(ctx)
			So(errors.Is(err, context.Canceled), ShouldBeTrue)

			report := d.Report()
			So(report.State, ShouldEqual, StateInterrupted)
			So(report.Batches, ShouldEqual, 3)
			So(report.Totals.Inserts, ShouldEqual, 300)
			So(report.Error, ShouldNotBeEmpty)

			count, err := store.Count(context.Background(), table)
			So(err, ShouldBeNil)
			So(count, ShouldEqual, report.Totals.Inserts-report.Totals.Deletes)
		})

		Convey("持久化失败中止运行", func() {
			store := &failingStore{Store: newStore(t), failAt: 3}
			d := newDriver(t, store, &Options{TotalRecords: 1000, BatchSize: 100, ProgressEvery: 10})

			err := d.Run(context.Background())
			So(err, ShouldNotBeNil)

			report := d.Report()
			So(report.State, ShouldEqual, StateInterrupted)
			So(report.Batches, ShouldEqual, 2)
			So(report.Totals.Inserts, ShouldEqual, 200)
			So(report.Error, ShouldContainSubstring, "connection reset by peer")
		})
	})
}

func TestRunLocker(t *testing.T) {
	Convey("测试单写者锁", t, func() {
		Convey("运行期间持有锁", func() {
			locker := &fakeLocker{}
			d := newDriver(t, newStore(t), &Options{TotalRecords: 100, BatchSize: 50, ProgressEvery: 10}, WithLocker(locker))

			So(d.Run(context.Background()), ShouldBeNil)
			So(locker.acquired, ShouldEqual, 1)
			So(locker.released, ShouldEqual, 1)
		})

		Convey("锁丢失后停止写入", func() {
			locker := &fakeLocker{lost: make(chan struct{})}
			recorder := &spyRecorder{onBatch: func(n int) {
				if n == 3 {
					close(locker.lost)
				}
			}}
			d := newDriver(t, newStore(t), &Options{TotalRecords: 500, BatchSize: 50, ProgressEvery: 10}, WithLocker(locker), WithRecorder(recorder))

			err := d.Run(context.Background())
			So(errors.Is(err, lock.ErrLost), ShouldBeTrue)
			So(d.State(), ShouldEqual, StateInterrupted)
			So(d.Report().Batches, ShouldEqual, 3)
			So(d.Report().Totals.Inserts, ShouldEqual, 150)
			So(locker.released, ShouldEqual, 1)
		})

		Convey("加锁失败不执行任何批次", func() {
			locker := &fakeLocker{acquireErr: errors.New("lock not acquired")}
			d := newDriver(t, newStore(t), &Options{TotalRecords: 100, BatchSize: 50, ProgressEvery: 10}, WithLocker(locker))

			So(d.Run(context.Background()), ShouldNotBeNil)
			So(d.State(), ShouldEqual, StateInterrupted)
			So(d.Report().Totals.Inserts, ShouldEqual, 0)
			So(locker.released, ShouldEqual, 0)
		})
	})
}

func TestSetup(t *testing.T) {
	Convey("测试初始化流程", t, func() {
		ctx := context.Background()
		store := newStore(t)
		d := newDriver(t, store, &Options{TotalRecords: 0, BatchSize: 500, SnapshotBatchSize: 1000, ProgressEvery: 10})

		outcome, err := d.EnsureSchema(ctx)
		So(err, ShouldBeNil)
		So(outcome, ShouldEqual, rdb.OutcomeAlreadyExists)

		n, err := d.LoadSnapshot(ctx)
		So(err, ShouldBeNil)
		So(n, ShouldEqual, 1000)

		count, err := store.Count(ctx, table)
		So(err, ShouldBeNil)
		So(count, ShouldEqual, 1000)
		So(d.Report().SnapshotRows, ShouldEqual, 1000)

		Convey("表已存在时接管", func() {
			outcome, err := d.CreateTable(ctx)
			So(err, ShouldBeNil)
			So(outcome, ShouldEqual, rdb.OutcomeAlreadyExists)
		})

		Convey("接管有演进列的表", func() {
			_, ok, err := d.Schema().AddColumn(ctx)
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)

			c, err := catalog.NewSales()
			So(err, ShouldBeNil)
			other, err := NewDriverWithOptions(&Options{TotalRecords: 100, BatchSize: 50, ProgressEvery: 10}, store, table, c, WithLogger(log.Discard()))
			So(err, ShouldBeNil)
			So(other.Sync(ctx), ShouldBeNil)
			So(other.Schema().ActiveColumns().Len(), ShouldEqual, 9)
			So(other.Report().OriginalSchema, ShouldHaveLength, 9)

			// 新增的列参与生成
			So(other.Run(ctx), ShouldBeNil)
			So(other.Report().Totals.Inserts, ShouldEqual, 100)
		})

		Convey("删除表", func() {
			outcome, err := d.DropTable(ctx)
			So(err, ShouldBeNil)
			So(outcome, ShouldEqual, rdb.OutcomeDropped)
			outcome, err = d.DropTable(ctx)
			So(err, ShouldBeNil)
			So(outcome, ShouldEqual, rdb.OutcomeMissing)
		})
	})
}

func TestNewDriverWithOptions(t *testing.T) {
	Convey("测试参数校验", t, func() {
		c, err := catalog.NewSales()
		So(err, ShouldBeNil)
		store := newStore(t)

		_, err = NewDriverWithOptions(nil, store, table, c)
		So(err, ShouldNotBeNil)
		_, err = NewDriverWithOptions(&Options{BatchSize: 10}, nil, table, c)
		So(err, ShouldNotBeNil)
		_, err = NewDriverWithOptions(&Options{BatchSize: 0}, store, table, c)
		So(err, ShouldNotBeNil)

		d, err := NewDriverWithOptions(&Options{BatchSize: 10}, store, table, c, WithRunID("run-1"), WithLogger(log.Discard()))
		So(err, ShouldBeNil)
		So(d.RunID(), ShouldEqual, "run-1")
		So(d.Controller().Summary().MaxAdds, ShouldEqual, 7)
		So(d.Controller().Summary().MaxDrops, ShouldEqual, 3)
	})

	Convey("测试限速", t, func() {
		d := newDriver(t, newStore(t), &Options{TotalRecords: 50, BatchSize: 10, BatchesPerSecond: 20})
		So(d.limiter, ShouldNotBeNil)

		start := time.Now()
		So(d.Run(context.Background()), ShouldBeNil)
		// 突发为 1，5 个批次至少等待 4 个间隔
		So(time.Since(start), ShouldBeGreaterThanOrEqualTo, 150*time.Millisecond)
		So(d.Report().Batches, ShouldEqual, 5)
	})
}

func TestReport(t *testing.T) {
	Convey("测试报告输出", t, func() {
		report := &Report{
			RunID:          "run-1",
			Table:          "internal_demo.sales",
			State:          StateInterrupted,
			Error:          "context canceled",
			Batches:        12,
			Totals:         mutation.Counters{Inserts: 6000, Updates: 310, Deletes: 120},
			OriginalSchema: []Column{{Name: "id", Type: catalog.TypeUUID}},
			SchemaChanges: []schema.HistoryEntry{
				{Action: schema.ActionAdd, Column: "region", Type: catalog.TypeText},
				{Action: schema.ActionDrop, Column: "quantity", Type: catalog.TypeInteger},
			},
			FinalSchema: []Column{{Name: "id", Type: catalog.TypeUUID}, {Name: "region", Type: catalog.TypeText}},
			Evolution:   evolution.Summary{TotalAdds: 1, TotalDrops: 1, MaxAdds: 7, MaxDrops: 3},
		}

		Convey("文本", func() {
			var buf bytes.Buffer
			So(report.Write(&buf, "text"), ShouldBeNil)
			text := buf.String()
			So(text, ShouldContainSubstring, "CDC simulation interrupted")
			So(text, ShouldContainSubstring, " - inserts: 6000")
			So(text, ShouldContainSubstring, " - ADD: region")
			So(text, ShouldContainSubstring, " - DROP: quantity")
			So(text, ShouldContainSubstring, " - region: text")
			So(text, ShouldContainSubstring, " - adds: 1/7")
			So(text, ShouldContainSubstring, "Error: context canceled")
		})

		Convey("JSON", func() {
			var buf bytes.Buffer
			So(report.Write(&buf, "json"), ShouldBeNil)

			var got Report
			So(json.Unmarshal(buf.Bytes(), &got), ShouldBeNil)
			So(got.State, ShouldEqual, StateInterrupted)
			So(got.Totals, ShouldResemble, report.Totals)
			So(got.SchemaChanges, ShouldResemble, report.SchemaChanges)
		})

		Convey("不支持的格式", func() {
			So(report.Write(&bytes.Buffer{}, "xml"), ShouldNotBeNil)
		})
	})
}
