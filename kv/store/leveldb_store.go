package store

import (
	"context"
	"sync"

	"github.com/hatlonely/cdcgen/kv/serializer"
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

type LevelDBStoreOptions struct {
	// DBPath 是数据库目录，不存在时自动创建。
	DBPath string `cfg:"dbPath"`

	// BlockCacheCapacity 定义 'sorted table' 块缓存的容量。
	//
	// 默认值是 8MiB。
	BlockCacheCapacity int `cfg:"blockCacheCapacity"`

	// WriteBuffer 定义内存表的大小，超过后写入磁盘。
	//
	// 默认值是 4MiB。
	WriteBuffer int `cfg:"writeBuffer"`

	// Sync 每次写入后是否 fsync。
	Sync bool `cfg:"sync" def:"true"`
}

type LevelDBStore[K, V any] struct {
	db            *leveldb.DB
	keySerializer serializer.Serializer[K, []byte]
	valSerializer serializer.Serializer[V, []byte]
	writeOptions  *opt.WriteOptions

	// IfNotExist 需要先读后写
	mu sync.Mutex
}

func NewLevelDBStoreWithOptions[K, V any](options *LevelDBStoreOptions, keySerializer serializer.Serializer[K, []byte], valSerializer serializer.Serializer[V, []byte]) (*LevelDBStore[K, V], error) {
	if options == nil || options.DBPath == "" {
		return nil, errors.New("dbPath is required")
	}

	db, err := leveldb.OpenFile(options.DBPath, &opt.Options{
		BlockCacheCapacity: options.BlockCacheCapacity,
		WriteBuffer:        options.WriteBuffer,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "leveldb.OpenFile failed. dbPath: %s", options.DBPath)
	}

	return &LevelDBStore[K, V]{
		db:            db,
		keySerializer: keySerializer,
		valSerializer: valSerializer,
		writeOptions:  &opt.WriteOptions{Sync: options.Sync},
	}, nil
}

func (s *LevelDBStore[K, V]) Set(ctx context.Context, key K, value V, opts ...setOption) error {
	options := applySetOptions(opts)

	keyBytes, err := s.keySerializer.Serialize(key)
	if err != nil {
		return errors.Wrap(err, "serialize key failed")
	}
	valBytes, err := s.valSerializer.Serialize(value)
	if err != nil {
		return errors.Wrap(err, "serialize value failed")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if options.IfNotExist {
		exists, err := s.db.Has(keyBytes, nil)
		if err != nil {
			return errors.Wrap(err, "leveldb.Has failed")
		}
		if exists {
			return ErrConditionFailed
		}
	}
	if err := s.db.Put(keyBytes, valBytes, s.writeOptions); err != nil {
		return errors.Wrap(err, "leveldb.Put failed")
	}
	return nil
}

func (s *LevelDBStore[K, V]) Get(ctx context.Context, key K) (V, error) {
	var zero V

	keyBytes, err := s.keySerializer.Serialize(key)
	if err != nil {
		return zero, errors.Wrap(err, "serialize key failed")
	}
	valBytes, err := s.db.Get(keyBytes, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return zero, ErrKeyNotFound
	}
	if err != nil {
		return zero, errors.Wrap(err, "leveldb.Get failed")
	}
	return s.valSerializer.Deserialize(valBytes)
}

func (s *LevelDBStore[K, V]) Del(ctx context.Context, key K) error {
	keyBytes, err := s.keySerializer.Serialize(key)
	if err != nil {
		return errors.Wrap(err, "serialize key failed")
	}
	if err := s.db.Delete(keyBytes, s.writeOptions); err != nil {
		return errors.Wrap(err, "leveldb.Delete failed")
	}
	return nil
}

func (s *LevelDBStore[K, V]) Close() error {
	return s.db.Close()
}
