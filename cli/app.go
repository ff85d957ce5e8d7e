package cli

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"time"

	"github.com/hatlonely/cdcgen/catalog"
	"github.com/hatlonely/cdcgen/kv"
	"github.com/hatlonely/cdcgen/lock"
	"github.com/hatlonely/cdcgen/log"
	"github.com/hatlonely/cdcgen/log/logger"
	"github.com/hatlonely/cdcgen/metrics"
	"github.com/hatlonely/cdcgen/rdb"
	"github.com/hatlonely/cdcgen/simulation"
	"github.com/pkg/errors"
)

const latestReport = "latest"

// app 一次命令执行用到的全部组件
type app struct {
	config   *Config
	out      io.Writer
	prompter *Prompter
	logger   logger.Logger
	store    rdb.Store
	metrics  *metrics.Prometheus
	locker   *lock.RedisLock
	driver   *simulation.Driver
}

func newApp(config *Config, prompter *Prompter, out io.Writer) (*app, error) {
	l, err := logger.NewSLogWithOptions(&config.Log)
	if err != nil {
		return nil, errors.WithMessage(err, "create logger failed")
	}
	log.SetDefault(l)

	c, err := catalog.NewSales(config.Catalog.ExtraColumns...)
	if err != nil {
		return nil, errors.WithMessage(err, "create catalog failed")
	}

	store, err := rdb.NewStoreWithOptions(&config.Database)
	if err != nil {
		return nil, errors.WithMessage(err, "connect database failed")
	}

	a := &app{
		config:   config,
		out:      out,
		prompter: prompter,
		logger:   l,
		store:    store,
	}

	a.metrics, err = metrics.NewPrometheusWithOptions(&config.Metrics)
	if err != nil {
		a.Close()
		return nil, errors.WithMessage(err, "create metrics failed")
	}

	if config.Lock.Endpoint != "" {
		lockOptions := config.Lock
		if lockOptions.Key == "" {
			lockOptions.Key = "cdcgen:lock:" + config.Table.String()
		}
		a.locker, err = lock.NewRedisLockWithOptions(&lockOptions, l)
		if err != nil {
			a.Close()
			return nil, errors.WithMessage(err, "create table lock failed")
		}
	}

	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	opts := []simulation.DriverOption{
		simulation.WithRand(rand.New(rand.NewSource(seed))),
		simulation.WithLogger(l),
		simulation.WithRecorder(a.metrics),
		simulation.WithEvolution(&config.Evolution),
		simulation.WithMutation(&config.Mutation),
		simulation.WithUUID(&config.UUID),
	}
	if a.locker != nil {
		opts = append(opts, simulation.WithLocker(a.locker))
	}
	a.driver, err = simulation.NewDriverWithOptions(&config.Simulation, store, config.Table, c, opts...)
	if err != nil {
		a.Close()
		return nil, errors.WithMessage(err, "create simulation failed")
	}
	l.Info("cdcgen initialized", "run", a.driver.RunID(), "driver", store.Driver(), "table", config.Table.String(), "seed", seed)

	return a, nil
}

func (a *app) Close() {
	if a.locker != nil {
		if err := a.locker.Close(); err != nil {
			a.logger.Warn("close lock failed", "error", err)
		}
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("close database failed", "error", err)
	}
}

// setup 建表和快照加载，每一步都先确认
func (a *app) setup(ctx context.Context) error {
	table := a.config.Table.String()
	fmt.Fprintf(a.out, "Starting setup for %s\n", table)

	if a.prompter.Confirm(fmt.Sprintf("Create table '%s'?", table), true) {
		outcome, err := a.driver.EnsureSchema(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Schema '%s' %s\n", a.config.Table.Schema, outcome)

		outcome, err = a.driver.CreateTable(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Table '%s' %s\n", table, outcome)
	} else if err := a.driver.Sync(ctx); err != nil {
		return errors.WithMessagef(err, "take over table %s failed", table)
	}

	n := a.config.Simulation.SnapshotBatchSize
	if n > 0 && a.prompter.Confirm(fmt.Sprintf("Perform snapshot load (initial %d rows)?", n), true) {
		rows, err := a.driver.LoadSnapshot(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Inserted %d rows for snapshotting\n", rows)
	}

	fmt.Fprintf(a.out, "Setup summary:\n - table: %s\n - columns: %v\n", table, a.driver.Schema().ActiveColumns().Names())
	return nil
}

// saveReport 按运行 ID 和 latest 各保存一份
func (a *app) saveReport(ctx context.Context, report *simulation.Report) error {
	if !a.config.Report.Save {
		return nil
	}
	reports, err := kv.NewStoreWithOptions[string, simulation.Report](&a.config.Report.Store)
	if err != nil {
		return errors.WithMessage(err, "open report store failed")
	}
	defer reports.Close()

	for _, key := range []string{report.RunID, latestReport} {
		if err := reports.Set(ctx, key, *report); err != nil {
			return errors.WithMessagef(err, "save report %s failed", key)
		}
	}
	return nil
}

func loadReport(ctx context.Context, options *kv.Options, runID string) (*simulation.Report, error) {
	reports, err := kv.NewStoreWithOptions[string, simulation.Report](options)
	if err != nil {
		return nil, errors.WithMessage(err, "open report store failed")
	}
	defer reports.Close()

	report, err := reports.Get(ctx, runID)
	if errors.Is(err, kv.ErrKeyNotFound) {
		return nil, errors.Errorf("report %s not found", runID)
	}
	if err != nil {
		return nil, err
	}
	return &report, nil
}
