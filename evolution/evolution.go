// Package evolution 决定何时以及如何变更表结构，加列和删列各有上限
package evolution

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/hatlonely/cdcgen/log"
	"github.com/hatlonely/cdcgen/log/logger"
	"github.com/hatlonely/cdcgen/schema"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var ErrBudgetExhausted = errors.New("evolution budget exhausted")

type Options struct {
	// Interval 每隔多少个批次检查一次
	Interval int `cfg:"interval" def:"25" validate:"gte=1"`
	// Probability 到达检查点时发生变更的概率
	Probability float64 `cfg:"probability" def:"0.2" validate:"gte=0,lte=1"`
	// AddProbability 加删都有余量时选择加列的概率
	AddProbability float64 `cfg:"addProbability" def:"0.7" validate:"gte=0,lte=1"`
	MaxAdditions   int     `cfg:"maxAdditions" def:"7" validate:"gte=0"`
	MaxDrops       int     `cfg:"maxDrops" def:"3" validate:"gte=0"`
}

// Summary 演进预算的使用情况
type Summary struct {
	TotalAdds  int `json:"totalAdds" msgpack:"totalAdds"`
	TotalDrops int `json:"totalDrops" msgpack:"totalDrops"`
	MaxAdds    int `json:"maxAdds" msgpack:"maxAdds"`
	MaxDrops   int `json:"maxDrops" msgpack:"maxDrops"`
}

// Schema 执行结构变更，ok 表示变更已确认
type Schema interface {
	AddColumn(ctx context.Context) (string, bool, error)
	DropColumn(ctx context.Context) (string, bool, error)
}

// Controller 计数只在结构变更确认后增加，且不超过上限
type Controller struct {
	options *Options
	rand    *rand.Rand
	logger  logger.Logger
	tracer  trace.Tracer

	mu       sync.Mutex
	numAdds  int
	numDrops int
}

func NewControllerWithOptions(options *Options, rng *rand.Rand, l logger.Logger) (*Controller, error) {
	if options == nil {
		return nil, errors.New("options cannot be nil")
	}
	if options.Interval < 1 {
		return nil, errors.Errorf("interval must be positive, got %d", options.Interval)
	}
	if options.MaxAdditions < 0 || options.MaxDrops < 0 {
		return nil, errors.New("budgets cannot be negative")
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if l == nil {
		l = log.Default()
	}

	return &Controller{
		options: options,
		rand:    rng,
		logger:  l.WithGroup("evolution"),
		tracer:  otel.Tracer("cdcgen/evolution"),
	}, nil
}

// ShouldEvolve 批次号是间隔的整数倍且随机值小于概率。不在检查点时不消耗随机数
func (c *Controller) ShouldEvolve(batch int) bool {
	if batch%c.options.Interval != 0 {
		return false
	}
	return c.rand.Float64() < c.options.Probability
}

// ChooseAction 先看预算是否耗尽，再按概率选择
func (c *Controller) ChooseAction() schema.Action {
	c.mu.Lock()
	canAdd := c.numAdds < c.options.MaxAdditions
	canDrop := c.numDrops < c.options.MaxDrops
	c.mu.Unlock()

	switch {
	case !canAdd && !canDrop:
		return schema.ActionNone
	case !canDrop:
		return schema.ActionAdd
	case !canAdd:
		return schema.ActionDrop
	}
	if c.rand.Float64() <= c.options.AddProbability {
		return schema.ActionAdd
	}
	return schema.ActionDrop
}

// RecordAction 记录一次已确认的变更
func (c *Controller) RecordAction(action schema.Action) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch action {
	case schema.ActionAdd:
		if c.numAdds >= c.options.MaxAdditions {
			return errors.Wrapf(ErrBudgetExhausted, "additions %d/%d", c.numAdds, c.options.MaxAdditions)
		}
		c.numAdds++
	case schema.ActionDrop:
		if c.numDrops >= c.options.MaxDrops {
			return errors.Wrapf(ErrBudgetExhausted, "drops %d/%d", c.numDrops, c.options.MaxDrops)
		}
		c.numDrops++
	default:
		return errors.Errorf("unknown action %q", action)
	}
	return nil
}

func (c *Controller) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Summary{
		TotalAdds:  c.numAdds,
		TotalDrops: c.numDrops,
		MaxAdds:    c.options.MaxAdditions,
		MaxDrops:   c.options.MaxDrops,
	}
}

// Step 在批次 batch 上执行一次演进判断。返回已确认的动作和列名，未发生变更时动作为 ActionNone
func (c *Controller) Step(ctx context.Context, batch int, s Schema) (schema.Action, string, error) {
	if !c.ShouldEvolve(batch) {
		return schema.ActionNone, "", nil
	}
	action := c.ChooseAction()
	if action == schema.ActionNone {
		c.logger.DebugContext(ctx, "evolution budget exhausted", "batch", batch)
		return schema.ActionNone, "", nil
	}

	ctx, span := c.tracer.Start(ctx, "evolution.step", trace.WithAttributes(
		attribute.Int("batch", batch),
		attribute.String("action", string(action)),
	))
	defer span.End()

	var name string
	var ok bool
	var err error
	if action == schema.ActionAdd {
		name, ok, err = s.AddColumn(ctx)
	} else {
		name, ok, err = s.DropColumn(ctx)
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		return schema.ActionNone, "", errors.WithMessagef(err, "evolution %s at batch %d", action, batch)
	}
	span.SetAttributes(attribute.String("column", name), attribute.Bool("applied", ok))
	if !ok {
		c.logger.InfoContext(ctx, "no eligible column", "batch", batch, "action", string(action))
		return schema.ActionNone, "", nil
	}

	if err := c.RecordAction(action); err != nil {
		return schema.ActionNone, "", err
	}
	span.SetStatus(codes.Ok, "")
	c.logger.InfoContext(ctx, "schema evolved", "batch", batch, "action", string(action), "column", name)
	return action, name, nil
}
