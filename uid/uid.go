// Package uid 生成客户端主键，插入前即可知道行标识
package uid

import (
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Generator 字符串主键生成器
type Generator interface {
	Generate() (string, error)
}

type UUIDOptions struct {
	// v4 从随机源读取，相同种子得到相同序列；v7 带时间前缀，不可重放
	Version string `cfg:"version" def:"v4" validate:"omitempty,oneof=v4 v7"`
}

type UUIDGenerator struct {
	version string
	reader  io.Reader
	mu      sync.Mutex
}

// NewUUIDGeneratorWithOptions reader 为 nil 时使用 crypto/rand
func NewUUIDGeneratorWithOptions(options *UUIDOptions, reader io.Reader) (*UUIDGenerator, error) {
	version := "v4"
	if options != nil && options.Version != "" {
		version = options.Version
	}
	if version != "v4" && version != "v7" {
		return nil, errors.Errorf("unsupported uuid version: %s", version)
	}

	return &UUIDGenerator{version: version, reader: reader}, nil
}

func (g *UUIDGenerator) Generate() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var u uuid.UUID
	var err error
	switch {
	case g.version == "v7":
		u, err = uuid.NewV7()
	case g.reader != nil:
		u, err = uuid.NewRandomFromReader(g.reader)
	default:
		u, err = uuid.NewRandom()
	}
	if err != nil {
		return "", errors.Wrap(err, "generate uuid failed")
	}
	return u.String(), nil
}
