package cfg

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

type testDatabase struct {
	Driver   string `cfg:"driver" def:"postgres" validate:"oneof=postgres mysql sqlite3"`
	Host     string `cfg:"host" def:"localhost" env:"PGHOST"`
	Port     int    `cfg:"port" def:"5432" env:"PGPORT"`
	MaxConns int    `cfg:"maxConns" def:"10"`
}

type testColumn struct {
	Name     string   `cfg:"name" validate:"required"`
	Required bool     `cfg:"required"`
	Kind     string   `cfg:"kind" def:"text"`
	Choices  []string `cfg:"choices"`
}

type testConfig struct {
	Database     testDatabase      `cfg:"database"`
	TotalRecords int               `cfg:"totalRecords" def:"1000000"`
	Probability  float64           `cfg:"probability" def:"0.2" validate:"gte=0,lte=1"`
	Enabled      bool              `cfg:"enabled" def:"true" env:"ENABLE_EVOLUTION"`
	Timeout      time.Duration     `cfg:"timeout" def:"5s"`
	Tags         []string          `cfg:"tags" def:"a,b"`
	Labels       map[string]string `cfg:"labels"`
	Columns      []testColumn      `cfg:"columns" validate:"dive"`
	Optional     *testDatabase     `cfg:"optional"`
}

func writeFile(t *testing.T, name, content string) string {
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func noEnv() []string { return nil }

func TestLoadDefaults(t *testing.T) {
	Convey("测试默认值", t, func() {
		var c testConfig
		So(Load(&Options{Environ: noEnv}, &c), ShouldBeNil)
		So(c.Database.Driver, ShouldEqual, "postgres")
		So(c.Database.Port, ShouldEqual, 5432)
		So(c.TotalRecords, ShouldEqual, 1000000)
		So(c.Probability, ShouldEqual, 0.2)
		So(c.Enabled, ShouldBeTrue)
		So(c.Timeout, ShouldEqual, 5*time.Second)
		So(c.Tags, ShouldResemble, []string{"a", "b"})
		So(c.Optional, ShouldBeNil)
	})
}

func TestLoadLayers(t *testing.T) {
	Convey("测试配置分层覆盖", t, func() {
		file := writeFile(t, "config.yaml", `
database:
  host: db.internal
  max_conns: 20
probability: 0
enabled: false
timeout: 1m
labels:
  team: data
columns:
  - name: coupon
    choices: [A, B]
optional:
  host: replica
`)
		var c testConfig
		err := Load(&Options{
			File:      file,
			EnvPrefix: "CDCGEN",
			Args:      []string{"database.port=6543"},
			Environ: func() []string {
				return []string{"CDCGEN_TOTAL_RECORDS=5000", "PGHOST=ignored-by-prefix", "CDCGEN_DATABASE_HOST=env-host", "CDCGEN_DATABASE_PORT=1"}
			},
		}, &c)
		So(err, ShouldBeNil)

		Convey("文件覆盖默认值，显式零值保留", func() {
			So(c.Database.MaxConns, ShouldEqual, 20)
			So(c.Probability, ShouldEqual, 0)
			So(c.Enabled, ShouldBeFalse)
			So(c.Timeout, ShouldEqual, time.Minute)
			So(c.Labels, ShouldResemble, map[string]string{"team": "data"})
		})

		Convey("环境变量覆盖文件，前缀名优先于别名", func() {
			So(c.TotalRecords, ShouldEqual, 5000)
			So(c.Database.Host, ShouldEqual, "env-host")
		})

		Convey("命令行覆盖环境变量", func() {
			So(c.Database.Port, ShouldEqual, 6543)
		})

		Convey("数组元素和指针结构体应用默认值", func() {
			So(c.Columns, ShouldHaveLength, 1)
			So(c.Columns[0].Name, ShouldEqual, "coupon")
			So(c.Columns[0].Kind, ShouldEqual, "text")
			So(c.Columns[0].Choices, ShouldResemble, []string{"A", "B"})
			So(c.Optional, ShouldNotBeNil)
			So(c.Optional.Host, ShouldEqual, "replica")
			So(c.Optional.Driver, ShouldEqual, "postgres")
		})
	})
}

func TestLoadEnvAlias(t *testing.T) {
	Convey("测试环境变量别名", t, func() {
		var c testConfig
		err := Load(&Options{Environ: func() []string {
			return []string{"PGHOST=pg.example", "PGPORT=15432", "ENABLE_EVOLUTION=false"}
		}}, &c)
		So(err, ShouldBeNil)
		So(c.Database.Host, ShouldEqual, "pg.example")
		So(c.Database.Port, ShouldEqual, 15432)
		So(c.Enabled, ShouldBeFalse)
	})
}

func TestLoadFormats(t *testing.T) {
	Convey("测试多种文件格式", t, func() {
		cases := map[string]string{
			"config.toml": "totalRecords = 42\n[database]\nhost = \"toml-host\"\n",
			"config.json": `{"totalRecords": 42, "database": {"host": "json-host"}}`,
			"config.ini":  "totalRecords = 42\n[database]\nhost = ini-host\n",
			"config.env":  "# comment\ntotalRecords=42\ndatabase.host=\"env-host\"\n",
		}
		for name, content := range cases {
			var c testConfig
			So(Load(&Options{File: writeFile(t, name, content), Environ: noEnv}, &c), ShouldBeNil)
			So(c.TotalRecords, ShouldEqual, 42)
			So(c.Database.Host, ShouldEndWith, "-host")
		}
	})
}

func TestLoadErrors(t *testing.T) {
	Convey("测试错误处理", t, func() {
		Convey("校验失败", func() {
			var c testConfig
			err := Load(&Options{Args: []string{"probability=1.5"}, Environ: noEnv}, &c)
			So(err, ShouldNotBeNil)
		})

		Convey("枚举校验失败", func() {
			var c testConfig
			err := Load(&Options{Args: []string{"database.driver=oracle"}, Environ: noEnv}, &c)
			So(err, ShouldNotBeNil)
		})

		Convey("类型错误", func() {
			var c testConfig
			err := Load(&Options{Args: []string{"totalRecords=many"}, Environ: noEnv}, &c)
			So(err, ShouldNotBeNil)
		})

		Convey("覆盖项格式错误", func() {
			var c testConfig
			err := Load(&Options{Args: []string{"totalRecords"}, Environ: noEnv}, &c)
			So(err, ShouldNotBeNil)
		})

		Convey("不支持的格式", func() {
			var c testConfig
			err := Load(&Options{File: writeFile(t, "config.xml", "<a/>"), Environ: noEnv}, &c)
			So(err, ShouldNotBeNil)
		})

		Convey("文件不存在", func() {
			var c testConfig
			err := Load(&Options{File: "/nonexistent/config.yaml", Environ: noEnv}, &c)
			So(err, ShouldNotBeNil)
		})
	})
}

func TestUpperSnake(t *testing.T) {
	Convey("测试环境变量名推导", t, func() {
		So(envName("cdcgen", []string{"simulation", "batchesPerSecond"}), ShouldEqual, "CDCGEN_SIMULATION_BATCHES_PER_SECOND")
		So(envName("CDCGEN", []string{"database", "dsn"}), ShouldEqual, "CDCGEN_DATABASE_DSN")
		So(upperSnake("maxIdle"), ShouldEqual, "MAX_IDLE")
		So(upperSnake("DBPath"), ShouldEqual, "DB_PATH")
	})
}
