package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahsantfw/Vector-search-awards/pkg/models"
)

type captureUpserter struct {
	awards []models.Award
}

func (c *captureUpserter) UpsertAward(_ context.Context, a models.Award) error {
	c.awards = append(c.awards, a)
	return nil
}

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "awards.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFileMapsAliasesAndKeepsExtraColumns(t *testing.T) {
	path := writeCSV(t, "Award ID,Award Title,Principal Investigator,CFDA Number,Topic Code\n"+
		"A1,Plasma Confinement,Jane Doe,81.049,FES-01\n")

	var up captureUpserter
	loaded, skipped, err := loadFile(context.Background(), &up, path)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded)
	assert.Equal(t, 0, skipped)

	require.Len(t, up.awards, 1)
	a := up.awards[0]
	assert.Equal(t, "A1", a.AwardID)
	assert.Equal(t, "Plasma Confinement", a.Title)
	assert.Equal(t, "Jane Doe", a.PI)
	assert.Equal(t, map[string]string{
		"cfda_number": "81.049",
		"topic_code":  "FES-01",
	}, a.Metadata)
}

func TestLoadFileWithoutExtraColumnsLeavesMetadataNil(t *testing.T) {
	path := writeCSV(t, "award_id,title,agency\nA1,Alpha,DOE\n")

	var up captureUpserter
	_, _, err := loadFile(context.Background(), &up, path)
	require.NoError(t, err)
	require.Len(t, up.awards, 1)
	assert.Nil(t, up.awards[0].Metadata)
}

func TestLoadFileSkipsRowsMissingRequiredFields(t *testing.T) {
	path := writeCSV(t, "award_id,title\nA1,Alpha\n,Missing ID\nA3,\n")

	var up captureUpserter
	loaded, skipped, err := loadFile(context.Background(), &up, path)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded)
	assert.Equal(t, 2, skipped)
}

func TestNormalizeHeader(t *testing.T) {
	assert.Equal(t, "award_id", normalizeHeader(" Award ID "))
	assert.Equal(t, "cfda_number", normalizeHeader("CFDA-Number"))
}
