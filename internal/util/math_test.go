package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPercent(t *testing.T) {
	assert.Equal(t, 0.0, Percent(0, 0))
	assert.Equal(t, 0.0, Percent(3, 0))
	assert.InDelta(t, 75.0, Percent(3, 4), 1e-9)
}

func TestClampNonNegative(t *testing.T) {
	assert.Equal(t, 0, ClampNonNegative(-4))
	assert.Equal(t, 7, ClampNonNegative(7))
}

func TestPtr(t *testing.T) {
	p := Ptr("summary")
	assert.Equal(t, "summary", *p)
}
