package runtime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// emptyModule is the minimal valid WebAssembly binary: just the magic
// number and version, with no sections. It exports nothing and can't
// be invoked, but compiling it exercises Runtime's wazero wiring and
// its shared compilation cache without needing a real guest binary on
// disk.
var emptyModule = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

func TestRuntimeValidateAcceptsWellFormedModule(t *testing.T) {
	rt := New()
	defer rt.Close(context.Background())

	err := rt.Validate(context.Background(), emptyModule)
	assert.NoError(t, err)
}

func TestRuntimeValidateRejectsGarbage(t *testing.T) {
	rt := New()
	defer rt.Close(context.Background())

	err := rt.Validate(context.Background(), []byte("not wasm"))
	require.Error(t, err)
}
