// Package schema 维护表上实际存在的列、未使用的列池和结构变更历史
package schema

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/hatlonely/cdcgen/catalog"
	"github.com/hatlonely/cdcgen/log"
	"github.com/hatlonely/cdcgen/log/logger"
	"github.com/hatlonely/cdcgen/rdb"
	"github.com/pkg/errors"
)

var (
	ErrSchemaMismatch = errors.New("schema mismatch")
)

// Action 结构变更动作
type Action string

const (
	ActionNone Action = ""
	ActionAdd  Action = "add"
	ActionDrop Action = "drop"
)

// HistoryEntry 一次已确认的结构变更
type HistoryEntry struct {
	Action Action             `json:"action" msgpack:"action"`
	Column string             `json:"column" msgpack:"column"`
	Type   catalog.ColumnType `json:"type" msgpack:"type"`
}

type Options struct {
	Store   rdb.Store
	Table   rdb.Table
	Catalog *catalog.Catalog
	Rand    *rand.Rand
	Logger  logger.Logger
}

// State 结构状态。列池在创建时打乱一次，之后只减不增；历史只追加
type State struct {
	store   rdb.Store
	table   rdb.Table
	catalog *catalog.Catalog
	rand    *rand.Rand
	logger  logger.Logger

	mu      sync.RWMutex
	active  *catalog.ActiveSchema
	pool    []*catalog.ColumnDefinition
	history []HistoryEntry
}

func NewStateWithOptions(options *Options) (*State, error) {
	if options == nil {
		return nil, errors.New("options cannot be nil")
	}
	if options.Store == nil {
		return nil, errors.New("store cannot be nil")
	}
	if options.Catalog == nil {
		return nil, errors.New("catalog cannot be nil")
	}

	s := &State{
		store:   options.Store,
		table:   options.Table,
		catalog: options.Catalog,
		rand:    options.Rand,
		logger:  options.Logger,
		active:  catalog.NewActiveSchema(options.Catalog.Base()),
		pool:    options.Catalog.Pool(),
	}
	if s.rand == nil {
		s.rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if s.logger == nil {
		s.logger = log.Default()
	}
	s.logger = s.logger.WithGroup("schema")

	s.rand.Shuffle(len(s.pool), func(i, j int) {
		s.pool[i], s.pool[j] = s.pool[j], s.pool[i]
	})

	return s, nil
}

// TableModel 由基础列构造的建表模型
func (s *State) TableModel() *rdb.TableModel {
	model := &rdb.TableModel{Table: s.table}
	for _, c := range s.catalog.Base() {
		model.Fields = append(model.Fields, rdb.FieldDefinition{
			Name:     c.Name,
			Type:     rdb.FieldType(c.Type),
			Required: c.Required,
		})
		if c.PrimaryKey() {
			model.PrimaryKey = append(model.PrimaryKey, c.Name)
		}
	}
	return model
}

// CreateTable 按基础列建表，表已存在时返回 OutcomeAlreadyExists
func (s *State) CreateTable(ctx context.Context) (rdb.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	outcome, err := s.store.CreateTable(ctx, s.TableModel())
	if err != nil {
		return 0, err
	}
	s.logger.InfoContext(ctx, "create table", "table", s.table.String(), "outcome", outcome.String())
	return outcome, nil
}

// Sync 以表上实际存在的列为准校准当前列，用于接管已存在的表。
// 表上已有的列池列从列池移除，不写入历史；缺少保护列或出现目录外的列时返回 ErrSchemaMismatch
func (s *State) Sync(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	columns, err := s.store.Columns(ctx, s.table)
	if err != nil {
		return errors.WithMessage(err, "store.Columns failed")
	}
	present := make(map[string]bool, len(columns))
	for _, name := range columns {
		present[name] = true
		if _, ok := s.catalog.Lookup(name); !ok {
			return errors.Wrapf(ErrSchemaMismatch, "column %s is not in the catalog", name)
		}
	}
	for _, name := range s.catalog.Protected() {
		if !present[name] {
			return errors.Wrapf(ErrSchemaMismatch, "protected column %s is missing", name)
		}
	}

	// 基础列按目录顺序，之前被删除的基础列不再出现
	var kept []*catalog.ColumnDefinition
	for _, c := range s.catalog.Base() {
		if present[c.Name] {
			kept = append(kept, c)
		}
	}
	active := catalog.NewActiveSchema(kept)
	for _, name := range columns {
		c, _ := s.catalog.Lookup(name)
		active = active.With(c)
	}
	var pool []*catalog.ColumnDefinition
	for _, c := range s.pool {
		if !active.Has(c.Name) {
			pool = append(pool, c)
		}
	}
	s.active = active
	s.pool = pool

	s.logger.InfoContext(ctx, "sync schema", "columns", active.Names(), "pool", len(pool))
	return nil
}

// ActiveColumns 当前列的只读快照
func (s *State) ActiveColumns() *catalog.ActiveSchema {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// History 结构变更历史的副本
func (s *State) History() []HistoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]HistoryEntry(nil), s.history...)
}

// Pool 剩余列池，按加入顺序
func (s *State) Pool() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, len(s.pool))
	for i, c := range s.pool {
		names[i] = c.Name
	}
	return names
}

// AddColumn 取列池中的下一列加到表上。
// 列池为空时 ok 为 false；结构变更失败时内存状态不变。
// 列已存在属于冲突：列从列池移除并同步到当前列，不记历史，ok 为 false
func (s *State) AddColumn(ctx context.Context) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pool) == 0 {
		return "", false, nil
	}
	def := s.pool[0]

	outcome, err := s.store.AddColumn(ctx, s.table, rdb.FieldDefinition{
		Name: def.Name,
		Type: rdb.FieldType(def.Type),
	})
	if err != nil {
		return "", false, errors.WithMessagef(err, "add column %s", def.Name)
	}

	s.pool = s.pool[1:]
	s.active = s.active.With(def)
	if outcome != rdb.OutcomeCreated {
		s.logger.WarnContext(ctx, "add column conflict", "column", def.Name, "outcome", outcome.String())
		return def.Name, false, nil
	}

	s.history = append(s.history, HistoryEntry{Action: ActionAdd, Column: def.Name, Type: def.Type})
	s.logger.InfoContext(ctx, "add column", "column", def.Name, "type", string(def.Type))
	return def.Name, true, nil
}

// DropColumn 在当前非保护列中均匀随机选一列删除。
// 没有可删的列时 ok 为 false；结构变更失败时内存状态不变。
// 列已不存在属于冲突：从当前列移除，不记历史，ok 为 false
func (s *State) DropColumn(ctx context.Context) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []*catalog.ColumnDefinition
	for _, c := range s.active.Columns() {
		if !c.Protected {
			candidates = append(candidates, c)
		}
	}
	if len(candidates) == 0 {
		return "", false, nil
	}
	def := candidates[s.rand.Intn(len(candidates))]

	outcome, err := s.store.DropColumn(ctx, s.table, def.Name)
	if err != nil {
		return "", false, errors.WithMessagef(err, "drop column %s", def.Name)
	}

	s.active = s.active.Without(def.Name)
	if outcome != rdb.OutcomeDropped {
		s.logger.WarnContext(ctx, "drop column conflict", "column", def.Name, "outcome", outcome.String())
		return def.Name, false, nil
	}

	s.history = append(s.history, HistoryEntry{Action: ActionDrop, Column: def.Name, Type: def.Type})
	s.logger.InfoContext(ctx, "drop column", "column", def.Name)
	return def.Name, true, nil
}
