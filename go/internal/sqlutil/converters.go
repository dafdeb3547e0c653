package sqlutil

import (
	"database/sql"
	"time"
)

// Helper functions for converting between Go types and sql.Null* types

// ToSqlString converts a Go string pointer to sql.NullString
func ToSqlString(val *string) sql.NullString {
	if val == nil {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: *val, Valid: true}
}

// FromSqlStringPtr converts sql.NullString to Go string pointer
func FromSqlStringPtr(val sql.NullString) *string {
	if !val.Valid {
		return nil
	}
	return &val.String
}

// ToMillis converts a time to Unix milliseconds in UTC
func ToMillis(val time.Time) int64 {
	return val.UTC().UnixMilli()
}

// FromMillis converts Unix milliseconds to a UTC time
func FromMillis(val int64) time.Time {
	return time.UnixMilli(val).UTC()
}
