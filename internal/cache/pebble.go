package cache

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

// expiryPrefix 是值前缀，保存过期时间的 unix 纳秒
const expiryPrefix = 8

// PebbleStore 是本地缓存，过期条目在读取时惰性删除。
type PebbleStore struct {
	db  *pebble.DB
	now func() time.Time
}

// OpenPebble 打开本地缓存目录；dir 为空时使用内存文件系统。
func OpenPebble(dir string) (*PebbleStore, error) {
	opts := &pebble.Options{}
	if dir == "" {
		opts.FS = vfs.NewMem()
	} else if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}
	return &PebbleStore{db: db, now: time.Now}, nil
}

func (s *PebbleStore) Get(_ context.Context, key string) ([]byte, error) {
	raw, closer, err := s.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	if len(raw) < expiryPrefix {
		return nil, ErrMiss
	}
	expires := int64(binary.BigEndian.Uint64(raw[:expiryPrefix]))
	if s.now().UnixNano() >= expires {
		_ = s.db.Delete([]byte(key), pebble.NoSync)
		return nil, ErrMiss
	}

	out := make([]byte, len(raw)-expiryPrefix)
	copy(out, raw[expiryPrefix:])
	return out, nil
}

func (s *PebbleStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	buf := make([]byte, expiryPrefix+len(value))
	binary.BigEndian.PutUint64(buf[:expiryPrefix], uint64(s.now().Add(ttl).UnixNano()))
	copy(buf[expiryPrefix:], value)
	return s.db.Set([]byte(key), buf, pebble.NoSync)
}

func (s *PebbleStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
