package objectstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Factory builds a store for one bucket of a scheme.
type Factory func(bucket string) (Store, error)

const defaultResolverCacheSize = 64

// Resolver maps destination URIs to stores, keeping one store per scheme and
// bucket in an LRU cache.
type Resolver struct {
	mu        sync.RWMutex
	factories map[string]Factory
	cache     *lru.Cache[string, Store]
}

// NewResolver registers the s3 scheme with the given credentials and a
// process-local memory scheme.
func NewResolver(s3 S3Config) (*Resolver, error) {
	cache, err := lru.New[string, Store](defaultResolverCacheSize)
	if err != nil {
		return nil, err
	}
	r := &Resolver{
		factories: make(map[string]Factory),
		cache:     cache,
	}
	r.Register("s3", func(bucket string) (Store, error) {
		cfg := s3
		cfg.Bucket = bucket
		return NewS3Store(cfg)
	})
	memory := newMemoryBuckets()
	r.Register("memory", memory.bucket)
	return r, nil
}

// Register installs or replaces the factory for a scheme.
func (r *Resolver) Register(scheme string, f Factory) {
	scheme = strings.ToLower(strings.TrimSpace(scheme))
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[scheme] = f
	for _, key := range r.cache.Keys() {
		if strings.HasPrefix(key, scheme+"://") {
			r.cache.Remove(key)
		}
	}
}

// MaybeCreate returns the store for uri, or nil when uri is a local path.
func (r *Resolver) MaybeCreate(uri string) (Store, error) {
	scheme, bucket, _, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	if scheme == "" {
		return nil, nil
	}
	if bucket == "" {
		return nil, fmt.Errorf("destination %q has no bucket", uri)
	}
	key := scheme + "://" + bucket
	if s, ok := r.cache.Get(key); ok {
		return s, nil
	}
	r.mu.RLock()
	f, ok := r.factories[scheme]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, scheme)
	}
	s, err := f(bucket)
	if err != nil {
		return nil, fmt.Errorf("create %s store: %w", key, err)
	}
	r.cache.Add(key, s)
	return s, nil
}

// Write relocates src to destination: an upload when destination names an
// object store, otherwise a local copy.
func Write(ctx context.Context, r *Resolver, destination, src string) error {
	store, err := r.MaybeCreate(destination)
	if err != nil {
		return err
	}
	_, _, path, err := ParseURI(destination)
	if err != nil {
		return err
	}
	if store != nil {
		return store.UploadObject(ctx, path, src)
	}
	return copyFile(src, path)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	if dir := filepath.Dir(dst); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy %s to %s: %w", src, dst, err)
	}
	return out.Close()
}

type memoryBuckets struct {
	mu      sync.Mutex
	buckets map[string]*MemoryStore
}

func newMemoryBuckets() *memoryBuckets {
	return &memoryBuckets{buckets: make(map[string]*MemoryStore)}
}

func (m *memoryBuckets) bucket(name string) (Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.buckets[name]
	if !ok {
		s = NewMemoryStore()
		m.buckets[name] = s
	}
	return s, nil
}
