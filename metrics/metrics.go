// Package metrics 模拟运行的 prometheus 指标
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Recorder 模拟驱动上报运行状态
type Recorder interface {
	ObserveBatch(inserted, updated, deleted int64, duration time.Duration)
	// action 为空时只更新当前列数
	ObserveSchemaChange(action string, activeColumns int)
}

// Nop 不记录任何指标
type Nop struct{}

func (Nop) ObserveBatch(inserted, updated, deleted int64, duration time.Duration) {}

func (Nop) ObserveSchemaChange(action string, activeColumns int) {}

type Options struct {
	// Namespace 指标名前缀
	Namespace string `cfg:"namespace" def:"cdcgen"`
	// Listen 非空时在该地址上暴露 /metrics
	Listen string `cfg:"listen"`
	// PushGateway 非空时在运行结束后推送指标
	PushGateway string `cfg:"pushGateway"`
	Job         string `cfg:"job" def:"cdcgen"`
	// ConstLabels 附加到所有指标上的标签，例如表名
	ConstLabels map[string]string `cfg:"constLabels"`
}

// Prometheus 指标注册在独立的 Registry 上，同一进程可以创建多个实例
type Prometheus struct {
	options  *Options
	registry *prometheus.Registry

	rows          *prometheus.CounterVec
	batches       prometheus.Counter
	batchDuration prometheus.Histogram
	schemaChanges *prometheus.CounterVec
	activeColumns prometheus.Gauge
}

func NewPrometheusWithOptions(options *Options) (*Prometheus, error) {
	if options == nil {
		return nil, errors.New("options cannot be nil")
	}
	labels := prometheus.Labels(options.ConstLabels)

	p := &Prometheus{
		options:  options,
		registry: prometheus.NewRegistry(),
		rows: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   options.Namespace,
				Name:        "rows_total",
				Help:        "Total number of rows changed by operation",
				ConstLabels: labels,
			},
			[]string{"operation"},
		),
		batches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   options.Namespace,
			Name:        "batches_total",
			Help:        "Total number of processed batches",
			ConstLabels: labels,
		}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   options.Namespace,
			Name:        "batch_duration_seconds",
			Help:        "Duration of a batch including insert and mutation",
			Buckets:     []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
			ConstLabels: labels,
		}),
		schemaChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   options.Namespace,
				Name:        "schema_changes_total",
				Help:        "Total number of confirmed schema changes by action",
				ConstLabels: labels,
			},
			[]string{"action"},
		),
		activeColumns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   options.Namespace,
			Name:        "active_columns",
			Help:        "Number of columns currently present on the table",
			ConstLabels: labels,
		}),
	}

	if err := p.registry.Register(p.rows); err != nil {
		return nil, errors.Wrap(err, "register rows_total failed")
	}
	for _, c := range []prometheus.Collector{p.batches, p.batchDuration, p.schemaChanges, p.activeColumns} {
		if err := p.registry.Register(c); err != nil {
			return nil, errors.Wrap(err, "register collector failed")
		}
	}

	return p, nil
}

func (p *Prometheus) ObserveBatch(inserted, updated, deleted int64, duration time.Duration) {
	p.batches.Inc()
	p.rows.WithLabelValues("insert").Add(float64(inserted))
	p.rows.WithLabelValues("update").Add(float64(updated))
	p.rows.WithLabelValues("delete").Add(float64(deleted))
	p.batchDuration.Observe(duration.Seconds())
}

func (p *Prometheus) ObserveSchemaChange(action string, activeColumns int) {
	if action != "" {
		p.schemaChanges.WithLabelValues(action).Inc()
	}
	p.activeColumns.Set(float64(activeColumns))
}

func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

// Serve 在 Listen 上暴露 /metrics，直到 ctx 结束。Listen 为空时立即返回
func (p *Prometheus) Serve(ctx context.Context) error {
	if p.options.Listen == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", p.Handler())
	server := &http.Server{Addr: p.options.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return errors.Wrapf(err, "listen %s failed", p.options.Listen)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "shutdown metrics server failed")
		}
		return nil
	}
}

// Push 推送到 PushGateway，未配置时为空操作
func (p *Prometheus) Push(ctx context.Context) error {
	if p.options.PushGateway == "" {
		return nil
	}
	if err := push.New(p.options.PushGateway, p.options.Job).Gatherer(p.registry).PushContext(ctx); err != nil {
		return errors.Wrapf(err, "push to %s failed", p.options.PushGateway)
	}
	return nil
}
