// Package serializer 键值存储使用的字节序列化
package serializer

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

type Serializer[F, T any] interface {
	Serialize(from F) (T, error)
	Deserialize(to T) (F, error)
}

// NewByteSerializer 按名称创建序列化器，名称为空时使用 msgpack
func NewByteSerializer[T any](name string) (Serializer[T, []byte], error) {
	switch name {
	case "", "msgpack":
		return NewMsgPackSerializer[T](), nil
	case "json":
		return NewJSONSerializer[T](), nil
	default:
		return nil, errors.Errorf("unsupported serializer: %s", name)
	}
}

// ByteSerializer 由一对编解码函数构成
type ByteSerializer[T any] struct {
	name      string
	marshal   func(v any) ([]byte, error)
	unmarshal func(data []byte, v any) error
}

func NewJSONSerializer[T any]() *ByteSerializer[T] {
	return &ByteSerializer[T]{name: "json", marshal: json.Marshal, unmarshal: json.Unmarshal}
}

func NewMsgPackSerializer[T any]() *ByteSerializer[T] {
	return &ByteSerializer[T]{name: "msgpack", marshal: msgpack.Marshal, unmarshal: msgpack.Unmarshal}
}

func (s *ByteSerializer[T]) Name() string {
	return s.name
}

func (s *ByteSerializer[T]) Serialize(from T) ([]byte, error) {
	data, err := s.marshal(from)
	if err != nil {
		return nil, errors.Wrapf(err, "%s marshal failed", s.name)
	}
	return data, nil
}

func (s *ByteSerializer[T]) Deserialize(to []byte) (T, error) {
	var result T
	if err := s.unmarshal(to, &result); err != nil {
		return result, errors.Wrapf(err, "%s unmarshal failed", s.name)
	}
	return result, nil
}
