package cfg

import (
	"reflect"
	"strings"
	"unicode"

	"github.com/pkg/errors"
)

// envOverlay 按结构体的 cfg 标签推导环境变量名，收集存在的变量。
// 前缀变量名为 PREFIX_SECTION_FIELD_NAME，env 标签声明的别名优先级低于前缀变量名
func envOverlay(v any, prefix string, environ []string) (map[string]any, error) {
	rt := reflect.TypeOf(v)
	if rt == nil || rt.Kind() != reflect.Ptr || rt.Elem().Kind() != reflect.Struct {
		return nil, errors.New("object must be a pointer to struct")
	}

	env := map[string]string{}
	for _, kv := range environ {
		if idx := strings.Index(kv, "="); idx > 0 {
			env[kv[:idx]] = kv[idx+1:]
		}
	}

	tree := map[string]any{}
	collectEnv(rt.Elem(), nil, prefix, env, tree)
	return tree, nil
}

func collectEnv(rt reflect.Type, path []string, prefix string, env map[string]string, tree map[string]any) {
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}
		name := fieldKey(field)
		if name == "-" {
			continue
		}
		fieldPath := append(append([]string{}, path...), name)

		ft := field.Type
		if ft.Kind() == reflect.Ptr {
			ft = ft.Elem()
		}
		if ft.Kind() == reflect.Struct && !isLeafStruct(ft) {
			collectEnv(ft, fieldPath, prefix, env, tree)
			continue
		}
		// 结构体数组和 map 只能通过配置文件设置
		if (ft.Kind() == reflect.Slice && indirectKind(ft.Elem()) == reflect.Struct) || ft.Kind() == reflect.Map {
			continue
		}

		if prefix != "" {
			if value, ok := env[envName(prefix, fieldPath)]; ok {
				setPath(tree, fieldPath, value)
				continue
			}
		}
		for _, alias := range strings.Split(field.Tag.Get("env"), ",") {
			alias = strings.TrimSpace(alias)
			if alias == "" {
				continue
			}
			if value, ok := env[alias]; ok {
				setPath(tree, fieldPath, value)
				break
			}
		}
	}
}

// envName 路径中每段驼峰名转成大写下划线
func envName(prefix string, path []string) string {
	parts := make([]string, 0, len(path)+1)
	parts = append(parts, strings.ToUpper(prefix))
	for _, segment := range path {
		parts = append(parts, upperSnake(segment))
	}
	return strings.Join(parts, "_")
}

func upperSnake(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if unicode.IsUpper(r) && i > 0 && (unicode.IsLower(runes[i-1]) || (i+1 < len(runes) && unicode.IsLower(runes[i+1]))) {
			b.WriteByte('_')
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}

// fieldKey 取 cfg 标签，没有时用字段名
func fieldKey(field reflect.StructField) string {
	tag := field.Tag.Get("cfg")
	if idx := strings.Index(tag, ","); idx != -1 {
		tag = tag[:idx]
	}
	if tag == "" {
		return field.Name
	}
	return tag
}

func indirectKind(rt reflect.Type) reflect.Kind {
	for rt.Kind() == reflect.Ptr {
		rt = rt.Elem()
	}
	return rt.Kind()
}
