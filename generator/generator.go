// Package generator 按当前表结构生成模拟数据
package generator

import (
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/hatlonely/cdcgen/catalog"
	"github.com/hatlonely/cdcgen/uid"
	"github.com/pkg/errors"
)

// ErrUnknownColumn 表结构中出现了目录里没有的列，说明结构状态与目录不一致
var ErrUnknownColumn = errors.New("unknown column")

// Row 列名到值的映射
type Row map[string]any

type Options struct {
	// Rand 随机源，为空时使用当前时间作为种子
	Rand *rand.Rand
	// IDs uuid 生成器，为空时基于 Rand 生成 v4
	IDs uid.Generator
	// Now 时钟，为空时使用 time.Now
	Now func() time.Time
}

type Generator struct {
	catalog *catalog.Catalog
	rand    *rand.Rand
	ids     uid.Generator
	now     func() time.Time

	mu     sync.RWMutex
	schema *catalog.ActiveSchema
}

func New(c *catalog.Catalog, schema *catalog.ActiveSchema, options *Options) (*Generator, error) {
	if c == nil {
		return nil, errors.New("catalog cannot be nil")
	}
	if options == nil {
		options = &Options{}
	}

	g := &Generator{
		catalog: c,
		rand:    options.Rand,
		ids:     options.IDs,
		now:     options.Now,
	}
	if g.rand == nil {
		g.rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if g.now == nil {
		g.now = time.Now
	}
	if g.ids == nil {
		ids, err := uid.NewUUIDGeneratorWithOptions(&uid.UUIDOptions{Version: "v4"}, g.rand)
		if err != nil {
			return nil, errors.WithMessage(err, "uid.NewUUIDGeneratorWithOptions failed")
		}
		g.ids = ids
	}
	if schema == nil {
		schema = catalog.NewActiveSchema(c.Base())
	}
	if err := g.Refresh(schema); err != nil {
		return nil, err
	}
	return g, nil
}

// Refresh 替换生成器持有的表结构，结构变更确认后立即调用
func (g *Generator) Refresh(schema *catalog.ActiveSchema) error {
	if err := g.check(schema); err != nil {
		return err
	}
	g.mu.Lock()
	g.schema = schema
	g.mu.Unlock()
	return nil
}

// Schema 最近一次 Refresh 的表结构
func (g *Generator) Schema() *catalog.ActiveSchema {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.schema
}

func (g *Generator) check(schema *catalog.ActiveSchema) error {
	if schema == nil {
		return errors.New("schema cannot be nil")
	}
	for _, name := range schema.Names() {
		if _, ok := g.catalog.Lookup(name); !ok {
			return errors.Wrapf(ErrUnknownColumn, "column %s", name)
		}
	}
	return nil
}

// Generate 为 schema 中的每一列生成一个值。同一行内的 now 列取同一时刻
func (g *Generator) Generate(schema *catalog.ActiveSchema) (Row, error) {
	now := g.timestamp()
	row := make(Row, schema.Len())
	for _, name := range schema.Names() {
		def, ok := g.catalog.Lookup(name)
		if !ok {
			return nil, errors.Wrapf(ErrUnknownColumn, "column %s", name)
		}
		v, err := g.value(def, now)
		if err != nil {
			return nil, err
		}
		row[name] = v
	}
	return row, nil
}

// GenerateBatch 生成 n 行
func (g *Generator) GenerateBatch(schema *catalog.ActiveSchema, n int) ([]Row, error) {
	rows := make([]Row, 0, n)
	for i := 0; i < n; i++ {
		row, err := g.Generate(schema)
		if err != nil {
			return nil, errors.WithMessagef(err, "row %d", i)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// GenerateValue 为单列生成新值，用于随机更新
func (g *Generator) GenerateValue(column string) (any, error) {
	def, ok := g.catalog.Lookup(column)
	if !ok {
		return nil, errors.Wrapf(ErrUnknownColumn, "column %s", column)
	}
	return g.value(def, g.timestamp())
}

// Now 当前时刻，精度截断到微秒，和大多数数据库的时间精度一致
func (g *Generator) Now() time.Time {
	return g.timestamp()
}

func (g *Generator) timestamp() time.Time {
	return g.now().UTC().Truncate(time.Microsecond)
}

func (g *Generator) value(def *catalog.ColumnDefinition, now time.Time) (any, error) {
	spec := def.Generator
	switch spec.Kind {
	case catalog.KindUUID:
		id, err := g.ids.Generate()
		if err != nil {
			return nil, errors.WithMessagef(err, "column %s", def.Name)
		}
		return id, nil
	case catalog.KindChoice:
		return spec.Choices[g.rand.Intn(len(spec.Choices))], nil
	case catalog.KindIntRange:
		return g.between(toInt64(spec.Min), toInt64(spec.Max)), nil
	case catalog.KindFloatRange:
		v := spec.Min + g.rand.Float64()*(spec.Max-spec.Min)
		scale := math.Pow(10, float64(spec.Precision))
		return math.Round(v*scale) / scale, nil
	case catalog.KindBool:
		return g.rand.Intn(2) == 1, nil
	case catalog.KindTimestamp:
		offset := time.Duration(g.between(0, int64(spec.Window)))
		return now.Add(-offset).Truncate(time.Microsecond), nil
	case catalog.KindNow:
		return now, nil
	case catalog.KindText:
		return g.text(spec), nil
	case catalog.KindName:
		first := catalog.FirstNames()
		last := catalog.LastNames()
		return first[g.rand.Intn(len(first))] + " " + last[g.rand.Intn(len(last))], nil
	default:
		return nil, errors.Wrapf(catalog.ErrInvalidGenerator, "column %s: unknown kind %q", def.Name, spec.Kind)
	}
}

// between 在 [lo, hi] 内均匀取整数，区间宽度超过 int64 时也不会溢出
func (g *Generator) between(lo, hi int64) int64 {
	span := uint64(hi - lo)
	switch {
	case span < math.MaxInt64:
		return lo + g.rand.Int63n(int64(span)+1)
	case span == math.MaxUint64:
		return int64(g.rand.Uint64())
	default:
		return lo + int64(g.rand.Uint64()%(span+1))
	}
}

// toInt64 float64 表示的 2^63 超出 int64，按最大值处理
func toInt64(f float64) int64 {
	if f >= math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(f)
}

func (g *Generator) text(spec catalog.GeneratorSpec) string {
	alphabet := []rune(spec.Alphabet)
	if len(alphabet) == 0 {
		alphabet = []rune(catalog.DefaultAlphabet)
	}
	var sb strings.Builder
	for i := 0; i < spec.Length; i++ {
		sb.WriteRune(alphabet[g.rand.Intn(len(alphabet))])
	}
	if spec.Upper {
		return strings.ToUpper(sb.String())
	}
	return sb.String()
}
