package sink

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModeFor(t *testing.T) {
	m, err := ModeFor(false, false)
	require.NoError(t, err)
	assert.Equal(t, ModeAppend, m)

	m, err = ModeFor(true, false)
	require.NoError(t, err)
	assert.Equal(t, ModeResume, m)

	m, err = ModeFor(false, true)
	require.NoError(t, err)
	assert.Equal(t, ModeOverwrite, m)
	assert.Equal(t, "overwrite", m.String())

	_, err = ModeFor(true, true)
	assert.Error(t, err)

	assert.Equal(t, "unknown", Mode(42).String())
}
