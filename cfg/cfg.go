// Package cfg 分层加载配置：def 默认值 < 配置文件 < 环境变量 < 命令行参数，最后按 validate 规则校验
package cfg

import (
	"os"
	"strings"

	"github.com/pkg/errors"
)

// Options 配置加载选项
type Options struct {
	// 配置文件路径，按扩展名选择解码器：.yaml .yml .toml .ini .json .env
	File string

	// 环境变量前缀，如 CDCGEN 对应 CDCGEN_SIMULATION_BATCH_SIZE，为空时只识别 env 标签声明的别名
	EnvPrefix string

	// 命令行覆盖项，格式 key.path=value
	Args []string

	// 环境变量来源，默认 os.Environ
	Environ func() []string
}

// Load 将配置加载到 v 指向的结构体
func Load(options *Options, v any) error {
	if options == nil {
		options = &Options{}
	}

	if err := SetDefaults(v); err != nil {
		return errors.WithMessage(err, "set defaults failed")
	}

	tree := map[string]any{}

	if options.File != "" {
		data, err := os.ReadFile(options.File)
		if err != nil {
			return errors.Wrapf(err, "read config file %s failed", options.File)
		}
		fileTree, err := Decode(options.File, data)
		if err != nil {
			return errors.WithMessagef(err, "decode config file %s failed", options.File)
		}
		merge(tree, fileTree)
	}

	environ := options.Environ
	if environ == nil {
		environ = os.Environ
	}
	envTree, err := envOverlay(v, options.EnvPrefix, environ())
	if err != nil {
		return errors.WithMessage(err, "read environment failed")
	}
	merge(tree, envTree)

	argTree, err := argOverlay(options.Args)
	if err != nil {
		return err
	}
	merge(tree, argTree)

	if err := Bind(tree, v); err != nil {
		return errors.WithMessage(err, "bind config failed")
	}

	if err := ValidateStruct(v); err != nil {
		return errors.WithMessage(err, "validate config failed")
	}

	return nil
}

// argOverlay 解析 key.path=value 形式的覆盖项
func argOverlay(args []string) (map[string]any, error) {
	tree := map[string]any{}
	for _, arg := range args {
		idx := strings.Index(arg, "=")
		if idx <= 0 {
			return nil, errors.Errorf("invalid override %q, want key=value", arg)
		}
		setPath(tree, strings.Split(arg[:idx], "."), arg[idx+1:])
	}
	return tree, nil
}

// normalizeKey 键名比较时忽略大小写以及 _ 和 -
func normalizeKey(key string) string {
	key = strings.ToLower(key)
	key = strings.ReplaceAll(key, "_", "")
	return strings.ReplaceAll(key, "-", "")
}

// setPath 在树中按路径写入值，中间节点不存在时创建
func setPath(tree map[string]any, path []string, value any) {
	node := tree
	for i, segment := range path {
		key := normalizeKey(segment)
		if i == len(path)-1 {
			node[key] = value
			return
		}
		child, ok := node[key].(map[string]any)
		if !ok {
			child = map[string]any{}
			node[key] = child
		}
		node = child
	}
}

// merge 将 src 合并到 dst，同名 map 递归合并，其余直接覆盖
func merge(dst, src map[string]any) {
	for k, v := range src {
		key := normalizeKey(k)
		if sm, ok := v.(map[string]any); ok {
			dm, ok := dst[key].(map[string]any)
			if !ok {
				dm = map[string]any{}
				dst[key] = dm
			}
			merge(dm, sm)
			continue
		}
		dst[key] = normalizeValue(v)
	}
}

// normalizeValue 递归规范化数组中嵌套 map 的键名
func normalizeValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := map[string]any{}
		merge(out, val)
		return out
	case []any:
		out := make([]any, len(val))
		for i := range val {
			out[i] = normalizeValue(val[i])
		}
		return out
	case []map[string]any:
		out := make([]any, len(val))
		for i := range val {
			out[i] = normalizeValue(val[i])
		}
		return out
	default:
		return v
	}
}
