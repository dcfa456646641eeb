package database

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// timestampLayout is how SQLite stores times: sortable UTC text.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// TimeArg converts t into a bind argument for the driver.
// PostgreSQL takes time.Time natively; SQLite stores fixed-width UTC text so
// that lexical comparison in WHERE clauses matches chronological order.
func TimeArg(d Driver, t time.Time) any {
	if d == DriverSQLite {
		return t.UTC().Format(timestampLayout)
	}
	return t.UTC()
}

// NullTimeArg is TimeArg for optional times.
func NullTimeArg(d Driver, t *time.Time) any {
	if t == nil {
		return nil
	}
	return TimeArg(d, *t)
}

// Timestamp scans a time from either driver's representation.
type Timestamp struct {
	Time  time.Time
	Valid bool
}

// Scan implements sql.Scanner.
func (ts *Timestamp) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		ts.Time, ts.Valid = time.Time{}, false
		return nil
	case time.Time:
		ts.Time, ts.Valid = v.UTC(), true
		return nil
	case string:
		return ts.parse(v)
	case []byte:
		return ts.parse(string(v))
	default:
		return fmt.Errorf("cannot scan %T into Timestamp", src)
	}
}

// Value implements driver.Valuer.
func (ts Timestamp) Value() (driver.Value, error) {
	if !ts.Valid {
		return nil, nil
	}
	return ts.Time.UTC(), nil
}

// Ptr returns nil for NULL timestamps.
func (ts Timestamp) Ptr() *time.Time {
	if !ts.Valid {
		return nil
	}
	t := ts.Time
	return &t
}

func (ts *Timestamp) parse(s string) error {
	for _, layout := range []string{timestampLayout, time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			ts.Time, ts.Valid = t.UTC(), true
			return nil
		}
	}
	return fmt.Errorf("unrecognised timestamp %q", s)
}
