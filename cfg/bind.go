package cfg

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

var (
	durationType = reflect.TypeOf(time.Duration(0))
	timeType     = reflect.TypeOf(time.Time{})
)

// Bind 将配置树写入结构体，树中不存在的字段保持原值
func Bind(tree map[string]any, v any) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return errors.New("object must be a non-nil pointer")
	}
	return bindValue(tree, rv.Elem(), "")
}

func isLeafStruct(rt reflect.Type) bool {
	return rt == timeType
}

func bindValue(src any, rv reflect.Value, path string) error {
	if src == nil {
		return nil
	}

	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			rv.Set(reflect.New(rv.Type().Elem()))
			if err := setDefaults(rv.Elem()); err != nil {
				return errors.WithMessagef(err, "field %s", path)
			}
		}
		return bindValue(src, rv.Elem(), path)
	}

	switch {
	case rv.Type() == durationType:
		d, err := toDuration(src)
		if err != nil {
			return errors.WithMessagef(err, "field %s", path)
		}
		rv.SetInt(int64(d))
		return nil
	case rv.Type() == timeType:
		t, err := toTime(src)
		if err != nil {
			return errors.WithMessagef(err, "field %s", path)
		}
		rv.Set(reflect.ValueOf(t))
		return nil
	}

	switch rv.Kind() {
	case reflect.Struct:
		m, ok := src.(map[string]any)
		if !ok {
			return errors.Errorf("field %s: expect object, got %T", path, src)
		}
		rt := rv.Type()
		for i := 0; i < rt.NumField(); i++ {
			field := rt.Field(i)
			if !field.IsExported() {
				continue
			}
			key := fieldKey(field)
			if key == "-" {
				continue
			}
			value, ok := m[normalizeKey(key)]
			if !ok {
				continue
			}
			if err := bindValue(value, rv.Field(i), joinPath(path, key)); err != nil {
				return err
			}
		}
		return nil

	case reflect.Slice:
		items, err := toSlice(src)
		if err != nil {
			return errors.WithMessagef(err, "field %s", path)
		}
		slice := reflect.MakeSlice(rv.Type(), len(items), len(items))
		for i, item := range items {
			if err := setDefaults(slice.Index(i)); err != nil {
				return errors.WithMessagef(err, "field %s[%d]", path, i)
			}
			if err := bindValue(item, slice.Index(i), fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
		rv.Set(slice)
		return nil

	case reflect.Map:
		m, ok := src.(map[string]any)
		if !ok {
			return errors.Errorf("field %s: expect object, got %T", path, src)
		}
		if rv.Type().Key().Kind() != reflect.String {
			return errors.Errorf("field %s: map key must be string", path)
		}
		out := reflect.MakeMapWithSize(rv.Type(), len(m))
		for k, item := range m {
			elem := reflect.New(rv.Type().Elem()).Elem()
			if err := bindValue(item, elem, joinPath(path, k)); err != nil {
				return err
			}
			out.SetMapIndex(reflect.ValueOf(k).Convert(rv.Type().Key()), elem)
		}
		rv.Set(out)
		return nil

	case reflect.Interface:
		rv.Set(reflect.ValueOf(src))
		return nil

	case reflect.String:
		switch val := src.(type) {
		case map[string]any, []any:
			return errors.Errorf("field %s: expect scalar, got %T", path, src)
		case string:
			rv.SetString(val)
		default:
			rv.SetString(fmt.Sprint(val))
		}
		return nil

	case reflect.Bool:
		b, err := toBool(src)
		if err != nil {
			return errors.WithMessagef(err, "field %s", path)
		}
		rv.SetBool(b)
		return nil

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := toInt(src, rv.Type().Bits())
		if err != nil {
			return errors.WithMessagef(err, "field %s", path)
		}
		rv.SetInt(n)
		return nil

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := toInt(src, 64)
		if err != nil || n < 0 {
			return errors.Errorf("field %s: invalid unsigned value %v", path, src)
		}
		rv.SetUint(uint64(n))
		return nil

	case reflect.Float32, reflect.Float64:
		f, err := toFloat(src)
		if err != nil {
			return errors.WithMessagef(err, "field %s", path)
		}
		rv.SetFloat(f)
		return nil
	}

	return errors.Errorf("field %s: unsupported kind %s", path, rv.Kind())
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func toSlice(src any) ([]any, error) {
	switch val := src.(type) {
	case []any:
		return val, nil
	case string:
		if strings.TrimSpace(val) == "" {
			return []any{}, nil
		}
		parts := strings.Split(val, ",")
		items := make([]any, len(parts))
		for i, part := range parts {
			items[i] = strings.TrimSpace(part)
		}
		return items, nil
	default:
		return nil, errors.Errorf("expect array, got %T", src)
	}
}

func toBool(src any) (bool, error) {
	switch val := src.(type) {
	case bool:
		return val, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(val))
		if err != nil {
			return false, errors.Errorf("invalid bool value %q", val)
		}
		return b, nil
	default:
		return false, errors.Errorf("expect bool, got %T", src)
	}
}

func toInt(src any, bits int) (int64, error) {
	switch val := src.(type) {
	case int:
		return int64(val), nil
	case int64:
		return val, nil
	case uint64:
		if val > math.MaxInt64 {
			return 0, errors.Errorf("value %d overflows int64", val)
		}
		return int64(val), nil
	case float64:
		if val != math.Trunc(val) {
			return 0, errors.Errorf("expect integer, got %v", val)
		}
		return int64(val), nil
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(val), "_", "")
		n, err := strconv.ParseInt(s, 0, bits)
		if err != nil {
			return 0, errors.Errorf("invalid integer value %q", val)
		}
		return n, nil
	default:
		return 0, errors.Errorf("expect integer, got %T", src)
	}
}

func toFloat(src any) (float64, error) {
	switch val := src.(type) {
	case float64:
		return val, nil
	case int:
		return float64(val), nil
	case int64:
		return float64(val), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0, errors.Errorf("invalid float value %q", val)
		}
		return f, nil
	default:
		return 0, errors.Errorf("expect number, got %T", src)
	}
}

// toDuration 字符串按 time.ParseDuration 解析，数字按秒处理
func toDuration(src any) (time.Duration, error) {
	switch val := src.(type) {
	case string:
		d, err := time.ParseDuration(strings.TrimSpace(val))
		if err != nil {
			return 0, errors.Errorf("invalid duration value %q", val)
		}
		return d, nil
	case int, int64, float64:
		f, _ := toFloat(val)
		return time.Duration(f * float64(time.Second)), nil
	default:
		return 0, errors.Errorf("expect duration, got %T", src)
	}
}

func toTime(src any) (time.Time, error) {
	switch val := src.(type) {
	case time.Time:
		return val, nil
	case string:
		t, err := time.Parse(time.RFC3339, strings.TrimSpace(val))
		if err != nil {
			return time.Time{}, errors.Errorf("invalid time value %q", val)
		}
		return t, nil
	default:
		return time.Time{}, errors.Errorf("expect time, got %T", src)
	}
}
