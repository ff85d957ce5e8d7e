package store

import (
	"context"
	"sync"

	"github.com/cockroachdb/fifo"
	"github.com/cockroachdb/pebble"
	"github.com/hatlonely/cdcgen/kv/serializer"
	"github.com/pkg/errors"
)

type PebbleStoreOptions struct {
	// DBPath 是数据库目录，不存在时自动创建。
	DBPath string `cfg:"dbPath"`

	// 写入时不同步到磁盘。
	SetWithoutSync bool `cfg:"setWithoutSync"`

	// CacheSize 缓存 sstable 未压缩块的字节数，0 使用默认的 8MB。
	CacheSize int64 `cfg:"cacheSize"`

	// LoadBlockSema 限制并行从文件系统加载的块数，0 表示不限制。
	LoadBlockSema int64 `cfg:"loadBlockSema"`

	// DisableWAL 禁用预写日志，崩溃后数据不可恢复。
	DisableWAL bool `cfg:"disableWAL"`

	// MaxOpenFiles 是可以由 DB 使用的打开文件的软限制。
	//
	// 默认值为 1000。
	MaxOpenFiles int `cfg:"maxOpenFiles"`
}

type PebbleStore[K, V any] struct {
	db            *pebble.DB
	keyMarshaller serializer.Serializer[K, []byte]
	valMarshaller serializer.Serializer[V, []byte]
	setOptions    *pebble.WriteOptions

	// IfNotExist 需要先读后写
	mu sync.Mutex
}

func NewPebbleStoreWithOptions[K, V any](options *PebbleStoreOptions, keySerializer serializer.Serializer[K, []byte], valSerializer serializer.Serializer[V, []byte]) (*PebbleStore[K, V], error) {
	if options == nil || options.DBPath == "" {
		return nil, errors.New("dbPath is required")
	}

	pebbleOptions := &pebble.Options{
		DisableWAL:   options.DisableWAL,
		MaxOpenFiles: options.MaxOpenFiles,
	}
	if options.CacheSize > 0 {
		cache := pebble.NewCache(options.CacheSize)
		defer cache.Unref()
		pebbleOptions.Cache = cache
	}
	if options.LoadBlockSema > 0 {
		pebbleOptions.LoadBlockSema = fifo.NewSemaphore(options.LoadBlockSema)
	}

	db, err := pebble.Open(options.DBPath, pebbleOptions)
	if err != nil {
		return nil, errors.Wrap(err, "pebble.Open failed")
	}

	setOptions := pebble.Sync
	if options.SetWithoutSync {
		setOptions = pebble.NoSync
	}

	return &PebbleStore[K, V]{
		db:            db,
		keyMarshaller: keySerializer,
		valMarshaller: valSerializer,
		setOptions:    setOptions,
	}, nil
}

func (s *PebbleStore[K, V]) Set(ctx context.Context, key K, value V, opts ...setOption) error {
	options := applySetOptions(opts)

	keyBytes, err := s.keyMarshaller.Serialize(key)
	if err != nil {
		return errors.Wrap(err, "serialize key failed")
	}
	valBytes, err := s.valMarshaller.Serialize(value)
	if err != nil {
		return errors.Wrap(err, "serialize value failed")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if options.IfNotExist {
		_, closer, err := s.db.Get(keyBytes)
		if err == nil {
			_ = closer.Close()
			return ErrConditionFailed
		}
		if !errors.Is(err, pebble.ErrNotFound) {
			return errors.Wrap(err, "pebble.Get failed")
		}
	}
	if err := s.db.Set(keyBytes, valBytes, s.setOptions); err != nil {
		return errors.Wrap(err, "pebble.Set failed")
	}
	return nil
}

func (s *PebbleStore[K, V]) Get(ctx context.Context, key K) (V, error) {
	var zero V

	keyBytes, err := s.keyMarshaller.Serialize(key)
	if err != nil {
		return zero, errors.Wrap(err, "serialize key failed")
	}
	value, closer, err := s.db.Get(keyBytes)
	if errors.Is(err, pebble.ErrNotFound) {
		return zero, ErrKeyNotFound
	}
	if err != nil {
		return zero, errors.Wrap(err, "pebble.Get failed")
	}
	// value 只在 closer 关闭前有效
	valBytes := append([]byte(nil), value...)
	if err := closer.Close(); err != nil {
		return zero, errors.Wrap(err, "closer.Close failed")
	}
	return s.valMarshaller.Deserialize(valBytes)
}

func (s *PebbleStore[K, V]) Del(ctx context.Context, key K) error {
	keyBytes, err := s.keyMarshaller.Serialize(key)
	if err != nil {
		return errors.Wrap(err, "serialize key failed")
	}
	if err := s.db.Delete(keyBytes, s.setOptions); err != nil {
		return errors.Wrap(err, "pebble.Delete failed")
	}
	return nil
}

func (s *PebbleStore[K, V]) Close() error {
	return s.db.Close()
}
