package diskv

import (
	"testing"

	"github.com/micromdm/nanorpa/engine/storage"
	"github.com/micromdm/nanorpa/engine/storage/test"
)

func TestDiskv(t *testing.T) {
	test.TestStorage(t, func() storage.AllStorage { return New(t.TempDir()) })
}
