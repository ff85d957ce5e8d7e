package cfg

import (
	"bufio"
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"
)

// Decode 按文件扩展名将配置内容解码为键名规范化后的树
func Decode(filename string, data []byte) (map[string]any, error) {
	raw := map[string]any{}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, errors.Wrap(err, "yaml.Unmarshal failed")
		}
	case ".toml":
		if err := toml.Unmarshal(data, &raw); err != nil {
			return nil, errors.Wrap(err, "toml.Unmarshal failed")
		}
	case ".json":
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, errors.Wrap(err, "json.Unmarshal failed")
		}
	case ".ini":
		tree, err := decodeINI(data)
		if err != nil {
			return nil, err
		}
		raw = tree
	case ".env":
		tree, err := decodeDotEnv(data)
		if err != nil {
			return nil, err
		}
		raw = tree
	default:
		return nil, errors.Errorf("unsupported config format: %s", filepath.Ext(filename))
	}

	tree := map[string]any{}
	merge(tree, raw)
	return tree, nil
}

// decodeINI 分区名按 . 拆成嵌套路径，默认分区的键放在顶层
func decodeINI(data []byte) (map[string]any, error) {
	file, err := ini.Load(data)
	if err != nil {
		return nil, errors.Wrap(err, "ini.Load failed")
	}

	tree := map[string]any{}
	for _, section := range file.Sections() {
		var prefix []string
		if section.Name() != ini.DefaultSection {
			prefix = strings.Split(section.Name(), ".")
		}
		for _, key := range section.Keys() {
			path := append(append([]string{}, prefix...), strings.Split(key.Name(), ".")...)
			setPath(tree, path, key.Value())
		}
	}
	return tree, nil
}

// decodeDotEnv 解析 key.path=value 行，支持 # 注释和引号
func decodeDotEnv(data []byte) (map[string]any, error) {
	tree := map[string]any{}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		idx := strings.Index(line, "=")
		if idx <= 0 {
			return nil, errors.Errorf("invalid format at line %d: missing '=' separator", lineNum)
		}
		key := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		if len(value) >= 2 && (value[0] == '"' || value[0] == '\'') && value[len(value)-1] == value[0] {
			value = value[1 : len(value)-1]
		}
		setPath(tree, strings.Split(key, "."), value)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "scan .env data failed")
	}
	return tree, nil
}
