package objectstore

import (
	"context"
	"errors"
)

var (
	ErrNotFound          = errors.New("object not found")
	ErrUnsupportedScheme = errors.New("unsupported object store scheme")
)

// Store uploads local files to a bucket.
type Store interface {
	UploadObject(ctx context.Context, objectName, filename string) error
}

// ObjectReader is implemented by stores that can read objects back.
type ObjectReader interface {
	Get(ctx context.Context, objectName string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
}
