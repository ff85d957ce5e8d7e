// Package simulation 按批次驱动插入、变更和结构演进，直到完成或被中断
package simulation

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hatlonely/cdcgen/catalog"
	"github.com/hatlonely/cdcgen/cfg"
	"github.com/hatlonely/cdcgen/evolution"
	"github.com/hatlonely/cdcgen/generator"
	"github.com/hatlonely/cdcgen/lock"
	"github.com/hatlonely/cdcgen/log"
	"github.com/hatlonely/cdcgen/log/logger"
	"github.com/hatlonely/cdcgen/metrics"
	"github.com/hatlonely/cdcgen/mutation"
	"github.com/hatlonely/cdcgen/rdb"
	"github.com/hatlonely/cdcgen/schema"
	"github.com/hatlonely/cdcgen/uid"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

var (
	ErrAlreadyStarted = errors.New("simulation already started")
)

// State 运行状态，只能 NotStarted -> Running -> Completed | Interrupted
type State string

const (
	StateNotStarted  State = "not_started"
	StateRunning     State = "running"
	StateCompleted   State = "completed"
	StateInterrupted State = "interrupted"
)

type Options struct {
	TotalRecords int `cfg:"totalRecords" def:"1000000" validate:"gte=0"`
	BatchSize    int `cfg:"batchSize" def:"500" validate:"gte=1"`
	// SnapshotBatchSize 初始快照加载的行数
	SnapshotBatchSize int `cfg:"snapshotBatchSize" def:"1000" validate:"gte=0"`
	// ProgressEvery 每隔多少批输出一次进度
	ProgressEvery int `cfg:"progressEvery" def:"10" validate:"gte=1"`
	// BatchesPerSecond 限速，0 表示不限速
	BatchesPerSecond float64 `cfg:"batchesPerSecond" def:"0" validate:"gte=0"`
	EnableEvolution  bool    `cfg:"enableEvolution" def:"true" env:"ENABLE_EVOLUTION"`
}

type driverOptions struct {
	rand      *rand.Rand
	logger    logger.Logger
	locker    lock.Locker
	recorder  metrics.Recorder
	evolution *evolution.Options
	mutation  *mutation.Options
	uuid      *uid.UUIDOptions
	runID     string
}

type DriverOption func(*driverOptions)

// WithRand 所有组件共用的随机源，相同种子得到相同的运行
func WithRand(rng *rand.Rand) DriverOption {
	return func(o *driverOptions) { o.rand = rng }
}

func WithLogger(l logger.Logger) DriverOption {
	return func(o *driverOptions) { o.logger = l }
}

// WithLocker 运行期间持有的单写者锁
func WithLocker(l lock.Locker) DriverOption {
	return func(o *driverOptions) { o.locker = l }
}

func WithRecorder(r metrics.Recorder) DriverOption {
	return func(o *driverOptions) { o.recorder = r }
}

func WithEvolution(options *evolution.Options) DriverOption {
	return func(o *driverOptions) { o.evolution = options }
}

func WithMutation(options *mutation.Options) DriverOption {
	return func(o *driverOptions) { o.mutation = options }
}

func WithUUID(options *uid.UUIDOptions) DriverOption {
	return func(o *driverOptions) { o.uuid = options }
}

func WithRunID(runID string) DriverOption {
	return func(o *driverOptions) { o.runID = runID }
}

// Driver 单线程批次循环。结构变更和数据变更不会并发执行
type Driver struct {
	options  Options
	runID    string
	store    rdb.Store
	table    rdb.Table
	catalog  *catalog.Catalog
	logger   logger.Logger
	locker   lock.Locker
	recorder metrics.Recorder
	limiter  *rate.Limiter
	tracer   trace.Tracer

	schema     *schema.State
	controller *evolution.Controller
	generator  *generator.Generator
	engine     *mutation.Engine

	mu         sync.Mutex
	state      State
	original   *catalog.ActiveSchema
	batches    int
	snapshot   int
	err        error
	startedAt  time.Time
	finishedAt time.Time
}

func NewDriverWithOptions(options *Options, store rdb.Store, table rdb.Table, c *catalog.Catalog, opts ...DriverOption) (*Driver, error) {
	if options == nil {
		return nil, errors.New("options cannot be nil")
	}
	if store == nil || c == nil {
		return nil, errors.New("store and catalog are required")
	}
	if options.BatchSize <= 0 {
		return nil, errors.Errorf("batch size must be positive, got %d", options.BatchSize)
	}

	o := &driverOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if o.rand == nil {
		o.rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if o.logger == nil {
		o.logger = log.Default()
	}
	if o.recorder == nil {
		o.recorder = metrics.Nop{}
	}
	if o.evolution == nil {
		o.evolution = &evolution.Options{}
		if err := cfg.SetDefaults(o.evolution); err != nil {
			return nil, errors.WithMessage(err, "set evolution defaults failed")
		}
	}
	if o.mutation == nil {
		o.mutation = &mutation.Options{}
		if err := cfg.SetDefaults(o.mutation); err != nil {
			return nil, errors.WithMessage(err, "set mutation defaults failed")
		}
	}
	if o.runID == "" {
		o.runID = uuid.NewString()
	}

	ids, err := uid.NewUUIDGeneratorWithOptions(o.uuid, o.rand)
	if err != nil {
		return nil, errors.WithMessage(err, "create id generator failed")
	}

	state, err := schema.NewStateWithOptions(&schema.Options{
		Store:   store,
		Table:   table,
		Catalog: c,
		Rand:    o.rand,
		Logger:  o.logger,
	})
	if err != nil {
		return nil, errors.WithMessage(err, "create schema state failed")
	}
	g, err := generator.New(c, state.ActiveColumns(), &generator.Options{Rand: o.rand, IDs: ids})
	if err != nil {
		return nil, errors.WithMessage(err, "create generator failed")
	}
	controller, err := evolution.NewControllerWithOptions(o.evolution, o.rand, o.logger)
	if err != nil {
		return nil, errors.WithMessage(err, "create evolution controller failed")
	}
	engine, err := mutation.NewEngineWithOptions(o.mutation, store, table, c, g, o.rand, o.logger)
	if err != nil {
		return nil, errors.WithMessage(err, "create mutation engine failed")
	}

	var limiter *rate.Limiter
	if options.BatchesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(options.BatchesPerSecond), 1)
	}

	return &Driver{
		options:    *options,
		runID:      o.runID,
		store:      store,
		table:      table,
		catalog:    c,
		logger:     o.logger.With("run", o.runID),
		locker:     o.locker,
		recorder:   o.recorder,
		limiter:    limiter,
		tracer:     otel.Tracer("cdcgen/simulation"),
		schema:     state,
		controller: controller,
		generator:  g,
		engine:     engine,
		state:      StateNotStarted,
	}, nil
}

func (d *Driver) RunID() string {
	return d.runID
}

func (d *Driver) Table() rdb.Table {
	return d.table
}

func (d *Driver) Schema() *schema.State {
	return d.schema
}

func (d *Driver) Engine() *mutation.Engine {
	return d.engine
}

func (d *Driver) Controller() *evolution.Controller {
	return d.controller
}

func (d *Driver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// EnsureSchema 创建表所在的命名空间
func (d *Driver) EnsureSchema(ctx context.Context) (rdb.Outcome, error) {
	outcome, err := d.store.EnsureSchema(ctx, d.table.Schema)
	if err != nil {
		return 0, errors.WithMessagef(err, "ensure schema %s failed", d.table.Schema)
	}
	return outcome, nil
}

// CreateTable 按基础列建表，并记录原始结构。表已存在时以表上的列为准
func (d *Driver) CreateTable(ctx context.Context) (rdb.Outcome, error) {
	outcome, err := d.schema.CreateTable(ctx)
	if err != nil {
		return 0, err
	}
	if outcome == rdb.OutcomeAlreadyExists {
		if err := d.Sync(ctx); err != nil {
			return 0, err
		}
		return outcome, nil
	}
	d.captureOriginal()
	return outcome, nil
}

// Sync 接管已存在的表，跳过建表时使用
func (d *Driver) Sync(ctx context.Context) error {
	if err := d.schema.Sync(ctx); err != nil {
		return err
	}
	if err := d.generator.Refresh(d.schema.ActiveColumns()); err != nil {
		return err
	}
	d.captureOriginal()
	return nil
}

func (d *Driver) captureOriginal() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.original = d.schema.ActiveColumns()
}

// LoadSnapshot 插入 SnapshotBatchSize 行作为下游的初始快照，返回插入的行数
func (d *Driver) LoadSnapshot(ctx context.Context) (int, error) {
	if d.options.SnapshotBatchSize == 0 {
		return 0, nil
	}
	rows, err := d.generator.GenerateBatch(d.generator.Schema(), d.options.SnapshotBatchSize)
	if err != nil {
		return 0, errors.WithMessage(err, "generate snapshot failed")
	}
	ids, err := d.engine.InsertBatch(ctx, rows)
	if err != nil {
		return 0, errors.WithMessage(err, "load snapshot failed")
	}

	d.mu.Lock()
	d.snapshot += len(ids)
	d.mu.Unlock()
	d.logger.InfoContext(ctx, "snapshot loaded", "table", d.table.String(), "rows", len(ids))
	return len(ids), nil
}

// DropTable 删除模拟表
func (d *Driver) DropTable(ctx context.Context) (rdb.Outcome, error) {
	outcome, err := d.store.DropTable(ctx, d.table)
	if err != nil {
		return 0, errors.WithMessagef(err, "drop table %s failed", d.table.String())
	}
	d.logger.InfoContext(ctx, "drop table", "table", d.table.String(), "outcome", outcome.String())
	return outcome, nil
}

// Run 执行 TotalRecords/BatchSize 个批次。取消只在批次之间生效，已提交的变更不回滚。
// 正常结束时状态为 Completed，取消或出错时为 Interrupted，计数和历史都保留用于报告
func (d *Driver) Run(ctx context.Context) error {
	d.mu.Lock()
	if d.state != StateNotStarted {
		d.mu.Unlock()
		return ErrAlreadyStarted
	}
	d.state = StateRunning
	d.startedAt = time.Now()
	if d.original == nil {
		d.original = d.schema.ActiveColumns()
	}
	d.mu.Unlock()

	err := d.run(ctx)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.finishedAt = time.Now()
	if err != nil {
		d.state = StateInterrupted
		d.err = err
		return err
	}
	d.state = StateCompleted
	return nil
}

func (d *Driver) run(ctx context.Context) error {
	var lost <-chan struct{}
	if d.locker != nil {
		if err := d.locker.Acquire(ctx); err != nil {
			return errors.WithMessage(err, "acquire table lock failed")
		}
		defer func() {
			if err := d.locker.Release(context.WithoutCancel(ctx)); err != nil {
				d.logger.WarnContext(ctx, "release table lock failed", "error", err)
			}
		}()
		lost = d.locker.Lost()
	}

	d.recorder.ObserveSchemaChange("", d.schema.ActiveColumns().Len())

	total := d.options.TotalRecords / d.options.BatchSize
	d.logger.InfoContext(ctx, "simulation started",
		"table", d.table.String(),
		"totalRecords", d.options.TotalRecords,
		"batches", total,
		"evolution", d.options.EnableEvolution,
	)

	for batch := 1; batch <= total; batch++ {
		if err := ctx.Err(); err != nil {
			d.logger.WarnContext(ctx, "simulation interrupted", "batch", batch-1)
			return err
		}
		select {
		case <-lost:
			d.logger.ErrorContext(ctx, "table lock lost, stop writing", "batch", batch-1)
			return errors.Wrapf(lock.ErrLost, "before batch %d", batch)
		default:
		}
		if d.limiter != nil {
			if err := d.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		// 批次内的事务不响应取消，保证表处于一致状态
		if err := d.runBatch(context.WithoutCancel(ctx), batch); err != nil {
			d.logger.ErrorContext(ctx, "batch failed", "batch", batch, "error", err)
			return err
		}
	}

	counters := d.engine.Counters()
	d.logger.InfoContext(ctx, "simulation completed",
		"batches", total,
		"inserts", counters.Inserts,
		"updates", counters.Updates,
		"deletes", counters.Deletes,
	)
	return nil
}

func (d *Driver) runBatch(ctx context.Context, batch int) (err error) {
	ctx, span := d.tracer.Start(ctx, "simulation.batch", trace.WithAttributes(attribute.Int("batch", batch)))
	defer func() {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			span.RecordError(err)
		}
		span.End()
	}()

	start := time.Now()
	rows, err := d.generator.GenerateBatch(d.generator.Schema(), d.options.BatchSize)
	if err != nil {
		return errors.WithMessagef(err, "generate batch %d failed", batch)
	}
	ids, err := d.engine.InsertBatch(ctx, rows)
	if err != nil {
		return errors.WithMessagef(err, "batch %d", batch)
	}
	result, err := d.engine.MaybeMutate(ctx, ids)
	if err != nil {
		return errors.WithMessagef(err, "batch %d", batch)
	}

	if d.options.EnableEvolution {
		action, _, err := d.controller.Step(ctx, batch, d.schema)
		if err != nil {
			return err
		}
		// 冲突也会改变当前列，只要与生成器不一致就刷新
		active := d.schema.ActiveColumns()
		if !active.Equal(d.generator.Schema()) {
			if err := d.generator.Refresh(active); err != nil {
				return errors.WithMessagef(err, "refresh generator at batch %d failed", batch)
			}
		}
		if action != schema.ActionNone {
			d.recorder.ObserveSchemaChange(string(action), active.Len())
		}
	} else if batch == 1 {
		d.logger.InfoContext(ctx, "schema evolution disabled, only inserts, updates and deletes will be simulated")
	}

	d.recorder.ObserveBatch(int64(len(ids)), result.Updated, result.Deleted, time.Since(start))
	span.SetAttributes(
		attribute.Int("inserted", len(ids)),
		attribute.Int64("updated", result.Updated),
		attribute.Int64("deleted", result.Deleted),
	)

	d.mu.Lock()
	d.batches = batch
	d.mu.Unlock()

	if batch%d.options.ProgressEvery == 0 {
		counters := d.engine.Counters()
		d.logger.InfoContext(ctx, "progress",
			"batch", batch,
			"inserts", counters.Inserts,
			"updates", counters.Updates,
			"deletes", counters.Deletes,
		)
	}
	return nil
}

// Report 当前状态的只读快照，运行中、结束后和中断后都可以调用
func (d *Driver) Report() *Report {
	d.mu.Lock()
	defer d.mu.Unlock()

	original := d.original
	if original == nil {
		original = catalog.NewActiveSchema(d.catalog.Base())
	}
	r := &Report{
		RunID:          d.runID,
		Table:          d.table.String(),
		State:          d.state,
		StartedAt:      d.startedAt,
		FinishedAt:     d.finishedAt,
		Batches:        d.batches,
		SnapshotRows:   d.snapshot,
		Totals:         d.engine.Counters(),
		OriginalSchema: columnsOf(original),
		SchemaChanges:  d.schema.History(),
		FinalSchema:    columnsOf(d.schema.ActiveColumns()),
		Evolution:      d.controller.Summary(),
	}
	if d.err != nil {
		r.Error = d.err.Error()
	}
	return r
}
