// Package diskv implements an orchestrator storage backend using the diskv key-value store.
package diskv

import (
	"path/filepath"

	"github.com/micromdm/nanorpa/engine/storage/kv"

	nanokv "github.com/micromdm/nanolib/storage/kv"
	"github.com/micromdm/nanolib/storage/kv/kvdiskv"
	"github.com/peterbourgon/diskv/v3"
)

// Diskv is a a diskv-backed orchestrator storage backend.
type Diskv struct {
	*kv.KV
}

func newBucket(path, name string) nanokv.KeysPrefixTraversingBucket {
	return kvdiskv.New(diskv.New(diskv.Options{
		BasePath:     filepath.Join(path, "engine", name),
		Transform:    kvdiskv.FlatTransform,
		CacheSizeMax: 1024 * 1024,
	}))
}

// New creates a new orchestrator store on disk at path.
func New(path string) *Diskv {
	return &Diskv{KV: kv.New(
		newBucket(path, "bot"),
		newBucket(path, "workflow"),
		newBucket(path, "task"),
	)}
}
