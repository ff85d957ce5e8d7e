package cli

import (
	"github.com/hatlonely/cdcgen/catalog"
	"github.com/hatlonely/cdcgen/cfg"
	"github.com/hatlonely/cdcgen/evolution"
	"github.com/hatlonely/cdcgen/kv"
	"github.com/hatlonely/cdcgen/lock"
	"github.com/hatlonely/cdcgen/log/logger"
	"github.com/hatlonely/cdcgen/metrics"
	"github.com/hatlonely/cdcgen/mutation"
	"github.com/hatlonely/cdcgen/rdb"
	"github.com/hatlonely/cdcgen/simulation"
	"github.com/hatlonely/cdcgen/uid"
	"github.com/pkg/errors"
)

const envPrefix = "CDCGEN"

type CatalogOptions struct {
	// ExtraColumns 追加到列池的列
	ExtraColumns []catalog.ColumnOptions `cfg:"extraColumns" validate:"dive"`
}

type ReportOptions struct {
	// Format 报告格式：text, json
	Format string `cfg:"format" def:"text" validate:"oneof=text json"`
	// Save 是否保存报告，保存后可以用 report 命令查看
	Save  bool       `cfg:"save" def:"true"`
	Store kv.Options `cfg:"store"`
}

// Config 命令行的全部配置
type Config struct {
	Database   rdb.SQLOptions     `cfg:"database"`
	Table      rdb.Table          `cfg:"table"`
	Simulation simulation.Options `cfg:"simulation"`
	Evolution  evolution.Options  `cfg:"evolution"`
	Mutation   mutation.Options   `cfg:"mutation"`
	Catalog    CatalogOptions     `cfg:"catalog"`
	UUID       uid.UUIDOptions    `cfg:"uuid"`

	// SkipSetup 跳过建表和快照加载，直接接管已存在的表
	SkipSetup bool `cfg:"skipSetup" env:"SKIP_SETUP"`
	// AssumeYes 默认为是的确认直接通过
	AssumeYes bool `cfg:"assumeYes"`
	// Seed 随机种子，0 表示使用当前时间
	Seed int64 `cfg:"seed"`

	Log     logger.SLogOptions    `cfg:"log"`
	Lock    lock.RedisLockOptions `cfg:"lock"`
	Metrics metrics.Options       `cfg:"metrics"`
	Report  ReportOptions         `cfg:"report"`
}

// LoadConfig 依次叠加默认值、配置文件、环境变量和 --set 参数
func LoadConfig(file string, sets []string, environ func() []string) (*Config, error) {
	config := &Config{}
	if err := cfg.Load(&cfg.Options{
		File:      file,
		EnvPrefix: envPrefix,
		Args:      sets,
		Environ:   environ,
	}, config); err != nil {
		return nil, errors.WithMessage(err, "load config failed")
	}
	return config, nil
}
