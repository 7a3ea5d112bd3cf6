package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMustParseFloat(t *testing.T) {
	assert.Equal(t, 13.5, mustParseFloat("battery-capacity-kwh", "13.5"))
	assert.Equal(t, -33.8688, mustParseFloat("site-latitude", "-33.8688"))
	assert.Equal(t, 5.0, mustParseFloat("battery-max-charge-kw", "5"))

	assert.Panics(t, func() {
		mustParseFloat("battery-capacity-kwh", "lots")
	})
}

func TestFloat64FlagRegisters(t *testing.T) {
	// resolution happens at configure time; registration alone must not parse
	v := Float64Flag("float64-flag-test-value", 2.5, "test flag")
	require.NotNil(t, v)
	assert.Equal(t, 0.0, *v)
}
