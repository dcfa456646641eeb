package database

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRebind(t *testing.T) {
	query := "UPDATE subscriptions SET status = ? WHERE id = ? AND note = '?' AND revision = ?"

	assert.Equal(t, query, Rebind(DriverSQLite, query))
	assert.Equal(t,
		"UPDATE subscriptions SET status = $1 WHERE id = $2 AND note = '?' AND revision = $3",
		Rebind(DriverPostgres, query),
	)
}

func TestTimestamp_Scan(t *testing.T) {
	want := time.Date(2026, 2, 28, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		src  any
	}{
		{name: "time value", src: want},
		{name: "sqlite text", src: TimeArg(DriverSQLite, want)},
		{name: "rfc3339 bytes", src: []byte(want.Format(time.RFC3339))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ts Timestamp
			require.NoError(t, ts.Scan(tt.src))
			assert.True(t, ts.Valid)
			assert.True(t, want.Equal(ts.Time))
		})
	}

	t.Run("null", func(t *testing.T) {
		var ts Timestamp
		require.NoError(t, ts.Scan(nil))
		assert.Nil(t, ts.Ptr())
	})

	t.Run("garbage", func(t *testing.T) {
		var ts Timestamp
		assert.Error(t, ts.Scan("yesterday"))
	})
}

func TestTimeArg_SQLiteSortsChronologically(t *testing.T) {
	early := TimeArg(DriverSQLite, time.Date(2026, 1, 9, 0, 0, 0, 0, time.UTC)).(string)
	late := TimeArg(DriverSQLite, time.Date(2026, 1, 10, 0, 0, 0, 5, time.UTC)).(string)

	assert.Less(t, early, late)
	assert.IsType(t, time.Time{}, TimeArg(DriverPostgres, time.Now()))
}
