// Package storage abstracts the object store that holds embedding snapshots.
package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"
)

var ErrObjectNotFound = errors.New("object not found")

type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
	Metadata     map[string]string
}

// Meta looks up a user metadata value. S3 services canonicalize header
// names, so keys compare case-insensitively.
func (o ObjectInfo) Meta(key string) string {
	if value, ok := o.Metadata[key]; ok {
		return value
	}
	for k, value := range o.Metadata {
		if strings.EqualFold(k, key) {
			return value
		}
	}
	return ""
}

type PutOptions struct {
	ContentType string
	// Metadata is stored as user metadata next to the object.
	Metadata map[string]string
}

type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, opts PutOptions) (ObjectInfo, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	Delete(ctx context.Context, key string) error
	// List returns the objects under prefix ordered by key.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}
