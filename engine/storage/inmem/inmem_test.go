package inmem

import (
	"testing"

	"github.com/micromdm/nanorpa/engine/storage"
	"github.com/micromdm/nanorpa/engine/storage/test"
)

func TestInmemStorage(t *testing.T) {
	test.TestStorage(t, func() storage.AllStorage { return New() })
}
