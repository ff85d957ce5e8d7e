package kv

import (
	"github.com/hatlonely/cdcgen/kv/serializer"
	"github.com/hatlonely/cdcgen/kv/store"
	"github.com/pkg/errors"
)

var (
	ErrKeyNotFound     = store.ErrKeyNotFound
	ErrConditionFailed = store.ErrConditionFailed
)

type Store[K, V any] = store.Store[K, V]

type Options struct {
	// Type 存储后端：map | freecache | redis | bolt | leveldb | pebble
	Type       string `cfg:"type" def:"bolt" validate:"oneof=map freecache redis bolt leveldb pebble"`
	Serializer string `cfg:"serializer" def:"json" validate:"oneof=json msgpack"`

	FreeCache store.FreeCacheStoreOptions `cfg:"freecache"`
	Redis     store.RedisStoreOptions     `cfg:"redis"`
	Bolt      store.BoltDBStoreOptions    `cfg:"bolt"`
	LevelDB   store.LevelDBStoreOptions   `cfg:"leveldb"`
	Pebble    store.PebbleStoreOptions    `cfg:"pebble"`
}

// NewStoreWithOptions 按 Type 创建存储，键值使用同一种序列化方式
func NewStoreWithOptions[K comparable, V any](options *Options) (Store[K, V], error) {
	if options == nil {
		return nil, errors.New("kv options is nil")
	}

	keySerializer, err := serializer.NewByteSerializer[K](options.Serializer)
	if err != nil {
		return nil, errors.WithMessage(err, "create key serializer failed")
	}
	valSerializer, err := serializer.NewByteSerializer[V](options.Serializer)
	if err != nil {
		return nil, errors.WithMessage(err, "create value serializer failed")
	}

	switch options.Type {
	case "map":
		return store.NewMapStore[K, V](), nil
	case "freecache":
		return store.NewFreeCacheStoreWithOptions[K, V](&options.FreeCache, keySerializer, valSerializer)
	case "redis":
		return store.NewRedisStoreWithOptions[K, V](&options.Redis, keySerializer, valSerializer)
	case "", "bolt":
		return store.NewBoltDBStoreWithOptions[K, V](&options.Bolt, keySerializer, valSerializer)
	case "leveldb":
		return store.NewLevelDBStoreWithOptions[K, V](&options.LevelDB, keySerializer, valSerializer)
	case "pebble":
		return store.NewPebbleStoreWithOptions[K, V](&options.Pebble, keySerializer, valSerializer)
	default:
		return nil, errors.Errorf("unsupported kv store type: %s", options.Type)
	}
}
