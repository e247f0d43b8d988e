// Package objstore defines the object storage used for narration audio.
package objstore

import "context"

// Object is a stored blob with its metadata.
type Object struct {
	Key         string
	ContentType string
	Data        []byte
}

// Store puts and gets whole objects. Put overwrites, so writing the same key
// twice is harmless.
type Store interface {
	// Put stores data under key and returns the storage key.
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)

	// Get returns ok=false when the key does not exist.
	Get(ctx context.Context, key string) (*Object, bool, error)
}
