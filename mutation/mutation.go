// Package mutation 插入生成的行，并按概率更新或删除刚插入的行
package mutation

import (
	"context"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/hatlonely/cdcgen/catalog"
	"github.com/hatlonely/cdcgen/generator"
	"github.com/hatlonely/cdcgen/log"
	"github.com/hatlonely/cdcgen/log/logger"
	"github.com/hatlonely/cdcgen/rdb"
	"github.com/pkg/errors"
)

type Options struct {
	// Probability 每批插入后进行更新或删除的概率
	Probability float64 `cfg:"probability" def:"0.5" validate:"gte=0,lte=1"`
	// UpdateProbability 进行变更时选择更新而不是删除的概率
	UpdateProbability float64 `cfg:"updateProbability" def:"0.5" validate:"gte=0,lte=1"`
}

// Counters 累计计数，运行期间只增不减
type Counters struct {
	Inserts int64 `json:"inserts" msgpack:"inserts"`
	Updates int64 `json:"updates" msgpack:"updates"`
	Deletes int64 `json:"deletes" msgpack:"deletes"`
}

// Result 一次 MaybeMutate 影响的行数
type Result struct {
	Updated int64
	Deleted int64
}

type Engine struct {
	store     rdb.Store
	table     rdb.Table
	catalog   *catalog.Catalog
	generator *generator.Generator
	rand      *rand.Rand
	logger    logger.Logger
	options   Options

	mu       sync.RWMutex
	counters Counters
}

func NewEngineWithOptions(options *Options, store rdb.Store, table rdb.Table, c *catalog.Catalog, g *generator.Generator, rng *rand.Rand, l logger.Logger) (*Engine, error) {
	if options == nil {
		return nil, errors.New("options cannot be nil")
	}
	if store == nil || c == nil || g == nil {
		return nil, errors.New("store, catalog and generator are required")
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if l == nil {
		l = log.Default()
	}

	return &Engine{
		store:     store,
		table:     table,
		catalog:   c,
		generator: g,
		rand:      rng,
		logger:    l.WithGroup("mutation"),
		options:   *options,
	}, nil
}

// InsertBatch 在一个事务中插入所有行，按输入顺序返回主键
func (e *Engine) InsertBatch(ctx context.Context, rows []generator.Row) ([]any, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	columns := make([]string, 0, len(rows[0]))
	for name := range rows[0] {
		columns = append(columns, name)
	}
	sort.Strings(columns)

	key := e.catalog.Identity().Name
	ids := make([]any, len(rows))
	values := make([][]any, len(rows))
	for i, row := range rows {
		if len(row) != len(columns) {
			return nil, errors.Wrapf(rdb.ErrInvalidBatch, "row %d has %d columns, want %d", i, len(row), len(columns))
		}
		tuple := make([]any, len(columns))
		for j, name := range columns {
			v, ok := row[name]
			if !ok {
				return nil, errors.Wrapf(rdb.ErrInvalidBatch, "row %d has no column %s", i, name)
			}
			tuple[j] = v
		}
		id, ok := row[key]
		if !ok {
			return nil, errors.Wrapf(rdb.ErrInvalidBatch, "row %d has no identity column %s", i, key)
		}
		ids[i] = id
		values[i] = tuple
	}

	if _, err := e.store.BatchInsert(ctx, e.table, columns, values); err != nil {
		return nil, errors.WithMessage(err, "insert batch failed")
	}

	e.mu.Lock()
	e.counters.Inserts += int64(len(rows))
	e.mu.Unlock()
	return ids, nil
}

// MaybeMutate 以 Probability 的概率对 ids 的随机子集执行更新或删除。
// 子集大小在 [1, max(1, len(ids)/2)] 内，不放回抽取
func (e *Engine) MaybeMutate(ctx context.Context, ids []any) (Result, error) {
	if len(ids) == 0 {
		return Result{}, nil
	}
	if e.rand.Float64() >= e.options.Probability {
		return Result{}, nil
	}

	update := e.rand.Float64() < e.options.UpdateProbability
	subset := e.sample(ids)

	if update {
		n, err := e.update(ctx, subset)
		if err != nil {
			return Result{}, err
		}
		return Result{Updated: n}, nil
	}
	n, err := e.delete(ctx, subset)
	if err != nil {
		return Result{}, err
	}
	return Result{Deleted: n}, nil
}

func (e *Engine) sample(ids []any) []any {
	limit := len(ids) / 2
	if limit < 1 {
		limit = 1
	}
	k := 1 + e.rand.Intn(limit)
	perm := e.rand.Perm(len(ids))
	subset := make([]any, k)
	for i := 0; i < k; i++ {
		subset[i] = ids[perm[i]]
	}
	return subset
}

// mutableColumns 当前结构中可以被随机更新的列
func (e *Engine) mutableColumns() []string {
	var names []string
	for _, c := range e.generator.Schema().Columns() {
		if c.Mutable() {
			names = append(names, c.Name)
		}
	}
	return names
}

func (e *Engine) update(ctx context.Context, ids []any) (int64, error) {
	columns := e.mutableColumns()
	if len(columns) == 0 {
		e.logger.DebugContext(ctx, "no mutable columns, skip update")
		return 0, nil
	}

	updates := make([]rdb.Update, 0, len(ids))
	for _, id := range ids {
		column := columns[e.rand.Intn(len(columns))]
		v, err := e.generator.GenerateValue(column)
		if err != nil {
			return 0, err
		}
		updates = append(updates, rdb.Update{ID: id, Column: column, Value: v})
	}

	var touch rdb.Assignment
	if modified := e.catalog.ModifiedColumn(); modified != nil && e.generator.Schema().Has(modified.Name) {
		touch = rdb.Assignment{Column: modified.Name, Value: e.generator.Now()}
	}

	n, err := e.store.BatchUpdate(ctx, e.table, e.catalog.Identity().Name, updates, touch)
	if err != nil {
		return 0, errors.WithMessage(err, "update batch failed")
	}
	if e.logger.Enabled(ctx, slog.LevelDebug) {
		touched := make(map[string]int, len(columns))
		for _, u := range updates {
			touched[u.Column]++
		}
		e.logger.DebugContext(ctx, "update batch", "rows", n, "columns", touched)
	}

	e.mu.Lock()
	e.counters.Updates += n
	e.mu.Unlock()
	return n, nil
}

func (e *Engine) delete(ctx context.Context, ids []any) (int64, error) {
	n, err := e.store.BatchDelete(ctx, e.table, e.catalog.Identity().Name, ids)
	if err != nil {
		return 0, errors.WithMessage(err, "delete batch failed")
	}

	e.mu.Lock()
	e.counters.Deletes += n
	e.mu.Unlock()
	return n, nil
}

func (e *Engine) Counters() Counters {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.counters
}
