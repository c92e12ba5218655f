package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInfo(t *testing.T) {
	info := Info{CommitHash: "0123456789abcdef", BuildTime: "2026-10-01T12:00:00Z", Version: "v1.2.0"}

	assert.Equal(t, "0123456", info.Short())
	assert.Equal(t, "accessai v1.2.0 (commit 0123456, built 2026-10-01T12:00:00Z)", info.String())
	assert.Contains(t, info.LogFields(), "0123456")

	assert.Equal(t, "dev", Info{CommitHash: "dev"}.Short())
	assert.NotEmpty(t, Get().Platform)
}
