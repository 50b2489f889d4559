package testhelper_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cryptorand "crypto/rand"
	mathrand "math/rand"

	"github.com/kalbasit/actionlock/testhelper"
)

func TestRandChars(t *testing.T) {
	t.Run("validate length", func(t *testing.T) {
		t.Parallel()

		s, err := testhelper.RandChars(5, testhelper.AllChars, cryptorand.Reader)
		require.NoError(t, err)

		assert.Len(t, s, 5)
	})

	t.Run("validate value based on deterministic source", func(t *testing.T) {
		t.Parallel()

		src := mathrand.NewSource(123)

		//nolint:gosec
		s, err := testhelper.RandChars(5, testhelper.AllChars, mathrand.New(src))
		require.NoError(t, err)

		assert.Equal(t, "a2lzq", s)
	})
}

func TestRandBoundary(t *testing.T) {
	t.Parallel()

	b1 := testhelper.RandBoundary()
	b2 := testhelper.RandBoundary()

	assert.True(t, strings.HasPrefix(b1.String(), "boundary-"))
	assert.NotEqual(t, b1, b2)
}

func TestRandStrategyID(t *testing.T) {
	t.Parallel()

	id := testhelper.RandStrategyID("priority")

	assert.True(t, strings.HasPrefix(id.String(), "priority-"))
	assert.Len(t, id.String(), len("priority-")+8)
}
