package store

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRow struct {
	values []any
}

func (r *fakeRow) Scan(dest ...any) error {
	if len(dest) != len(r.values) {
		return fmt.Errorf("scan targets %d, row has %d values", len(dest), len(r.values))
	}
	for i, v := range r.values {
		switch d := dest[i].(type) {
		case *string:
			*d = v.(string)
		case *map[string]string:
			*d = v.(map[string]string)
		case *time.Time:
			*d = v.(time.Time)
		default:
			return fmt.Errorf("unexpected scan target %T at %d", dest[i], i)
		}
	}
	return nil
}

func TestScanAwardRoundTripsMetadata(t *testing.T) {
	now := time.Now()
	row := &fakeRow{values: []any{
		"A1", "DE-0001", "Fusion Reactor Controls", "DOE", "MIT", "Jane Doe", "Bob Lee",
		"active", "an abstract", "https://example.org/a", "https://example.org/a/abs",
		"2024-01-02",
		map[string]string{"cfda_number": "81.049", "topic_code": "FES-01"},
		"abc123", now,
	}}

	a, err := scanAward(row)
	require.NoError(t, err)
	assert.Equal(t, "A1", a.AwardID)
	assert.Equal(t, "Fusion Reactor Controls", a.Title)
	assert.Equal(t, map[string]string{
		"cfda_number": "81.049",
		"topic_code":  "FES-01",
	}, a.Metadata)
	assert.Equal(t, "abc123", a.IndexedHash)
}

type countingRow struct {
	n int
}

func (r *countingRow) Scan(dest ...any) error {
	r.n = len(dest)
	return nil
}

// Guards against the column list and the scan targets drifting apart.
func TestScanAwardTargetsMatchColumnList(t *testing.T) {
	var r countingRow
	_, err := scanAward(&r)
	require.NoError(t, err)
	assert.Equal(t, strings.Count(awardColumns, ",")+1, r.n)
}
