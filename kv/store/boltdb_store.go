package store

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/hatlonely/cdcgen/kv/serializer"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

type BoltDBStoreOptions struct {
	// DBPath 是数据库文件的路径，不存在时自动创建。
	DBPath string `cfg:"dbPath" def:"cdcgen/reports.db"`

	// Timeout 是获取文件锁的等待时间。
	// 设置为零时将无限期等待。此选项仅在 Darwin 和 Linux 上可用。
	Timeout time.Duration `cfg:"timeout" def:"1s"`

	// 不将 freelist 同步到磁盘。
	NoFreelistSync bool `cfg:"noFreelistSync"`

	// NoSync 跳过每次提交后的 fsync。
	NoSync bool `cfg:"noSync"`

	// 桶名称
	BucketName string `cfg:"bucketName" def:"reports"`
}

type BoltDBStore[K, V any] struct {
	db            *bolt.DB
	keySerializer serializer.Serializer[K, []byte]
	valSerializer serializer.Serializer[V, []byte]
	bucketName    []byte
}

func NewBoltDBStoreWithOptions[K, V any](options *BoltDBStoreOptions, keySerializer serializer.Serializer[K, []byte], valSerializer serializer.Serializer[V, []byte]) (*BoltDBStore[K, V], error) {
	if options == nil || options.DBPath == "" {
		return nil, errors.New("dbPath is required")
	}

	directory := filepath.Dir(options.DBPath)
	if err := os.MkdirAll(directory, 0755); err != nil {
		return nil, errors.Wrapf(err, "os.MkdirAll failed. directory: %s", directory)
	}

	db, err := bolt.Open(options.DBPath, 0600, &bolt.Options{
		Timeout:        options.Timeout,
		NoFreelistSync: options.NoFreelistSync,
		NoSync:         options.NoSync,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "bolt.Open failed. dbPath: %s", options.DBPath)
	}

	bucketName := options.BucketName
	if bucketName == "" {
		bucketName = "reports"
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	}); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "CreateBucketIfNotExists failed")
	}

	return &BoltDBStore[K, V]{
		db:            db,
		keySerializer: keySerializer,
		valSerializer: valSerializer,
		bucketName:    []byte(bucketName),
	}, nil
}

func (s *BoltDBStore[K, V]) Set(ctx context.Context, key K, value V, opts ...setOption) error {
	options := applySetOptions(opts)

	keyBytes, err := s.keySerializer.Serialize(key)
	if err != nil {
		return errors.Wrap(err, "serialize key failed")
	}
	valBytes, err := s.valSerializer.Serialize(value)
	if err != nil {
		return errors.Wrap(err, "serialize value failed")
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(s.bucketName)
		if options.IfNotExist && bucket.Get(keyBytes) != nil {
			return ErrConditionFailed
		}
		return bucket.Put(keyBytes, valBytes)
	})
}

func (s *BoltDBStore[K, V]) Get(ctx context.Context, key K) (V, error) {
	var zero V

	keyBytes, err := s.keySerializer.Serialize(key)
	if err != nil {
		return zero, errors.Wrap(err, "serialize key failed")
	}

	var valBytes []byte
	if err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(s.bucketName).Get(keyBytes)
		if v == nil {
			return ErrKeyNotFound
		}
		// bolt 返回的切片只在事务内有效
		valBytes = append([]byte(nil), v...)
		return nil
	}); err != nil {
		return zero, err
	}
	return s.valSerializer.Deserialize(valBytes)
}

func (s *BoltDBStore[K, V]) Del(ctx context.Context, key K) error {
	keyBytes, err := s.keySerializer.Serialize(key)
	if err != nil {
		return errors.Wrap(err, "serialize key failed")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucketName).Delete(keyBytes)
	})
}

func (s *BoltDBStore[K, V]) Close() error {
	return s.db.Close()
}
