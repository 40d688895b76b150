// Package storage keeps filter backups in a local directory or an S3 bucket.
package storage

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("backup object not found")

type Store interface {
	Put(ctx context.Context, key string, contentType string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	// List returns the keys under prefix in ascending order.
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) error
}
