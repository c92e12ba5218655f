package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robertclapp/accessai-sub004/errors"
)

func TestParseSchedule(t *testing.T) {
	from := time.Date(2026, 5, 4, 10, 7, 30, 0, time.UTC)

	tests := []struct {
		expr string
		want time.Time
	}{
		{"*/15 * * * *", time.Date(2026, 5, 4, 10, 15, 0, 0, time.UTC)},
		{"0 3 * * *", time.Date(2026, 5, 5, 3, 0, 0, 0, time.UTC)},
		{"@hourly", time.Date(2026, 5, 4, 11, 0, 0, 0, time.UTC)},
		{"@every 10m", from.Add(10 * time.Minute)},
		{"30 * * * * *", time.Date(2026, 5, 4, 10, 8, 30, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			sched, err := ParseSchedule(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, sched.Next(from))
		})
	}
}

func TestParseSchedule_Invalid(t *testing.T) {
	for _, expr := range []string{"", "every minute", "61 * * * *", "* * *"} {
		t.Run(expr, func(t *testing.T) {
			_, err := ParseSchedule(expr)
			require.Error(t, err)
			assert.True(t, errors.IsInvalidRequestError(err))
		})
	}

	_, err := ParseSchedule("bogus")
	assert.NotEmpty(t, errors.GetAllHints(err))
}
