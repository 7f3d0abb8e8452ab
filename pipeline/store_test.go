package pipeline

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aluiziolira/go-scrape-policies/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readPolicies(t *testing.T, path string) []models.PolicyRecord {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var records []models.PolicyRecord
	require.NoError(t, json.Unmarshal(data, &records))
	return records
}

func TestSnapshotRewritesWholeCollection(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "output")
	store := NewJSONStore(dir, "airline_policies.json", "policy_scrape_log.json", "logos")

	var records []models.Record
	for i, name := range []string{"Air Canada", "Delta", "KLM"} {
		records = append(records, &models.PolicyRecord{AirlineName: name})
		require.NoError(t, store.Snapshot(records))

		got := readPolicies(t, store.RecordsPath())
		require.Len(t, got, i+1)
		assert.Equal(t, name, got[i].AirlineName)
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestSnapshotKeepsEmptyFields(t *testing.T) {
	store := NewJSONStore(t.TempDir(), "records.json", "log.json", "logos")
	require.NoError(t, store.Snapshot([]models.Record{&models.PolicyRecord{AirlineName: "Delta"}}))

	data, err := os.ReadFile(store.RecordsPath())
	require.NoError(t, err)
	var raw []map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	require.Len(t, raw, 1)
	for _, field := range []string{"website_link", "phone_number", "pets_in_cargo", "other_restrictions"} {
		assert.Equal(t, "", raw[0][field], field)
	}
	assert.NotContains(t, raw[0], "error")
}

func TestSnapshotEmptyCollection(t *testing.T) {
	store := NewJSONStore(t.TempDir(), "records.json", "log.json", "logos")
	require.NoError(t, store.Snapshot(nil))

	data, err := os.ReadFile(store.RecordsPath())
	require.NoError(t, err)
	assert.JSONEq(t, "[]", string(data))
}

func TestAppendRunLog(t *testing.T) {
	store := NewJSONStore(t.TempDir(), "records.json", "scrape_log.json", "logos")

	entries, err := store.LoadRunLog()
	require.NoError(t, err)
	assert.Empty(t, entries)

	start := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, store.AppendRunLog(models.RunLogEntry{
			RunID:          string(rune('a' + i)),
			Mode:           "policies",
			Start:          start,
			End:            start.Add(time.Minute),
			RuntimeSeconds: 60,
			Items:          []string{"Delta"},
			Debug:          map[string]any{"rate_limit_count": i},
		}))
	}

	entries, err = store.LoadRunLog()
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "a", entries[0].RunID)
	assert.Equal(t, "c", entries[2].RunID)
	assert.True(t, entries[1].Start.Equal(start))
	assert.EqualValues(t, 2, entries[2].Debug["rate_limit_count"])

	data, err := os.ReadFile(store.RunLogPath())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"date"`)
	assert.Contains(t, string(data), `"debug_info"`)
}

func TestAppendRunLogRejectsCorruptLog(t *testing.T) {
	dir := t.TempDir()
	store := NewJSONStore(dir, "records.json", "log.json", "logos")
	require.NoError(t, os.WriteFile(store.RunLogPath(), []byte("{not json"), 0o644))

	err := store.AppendRunLog(models.RunLogEntry{RunID: "x"})
	require.Error(t, err)

	data, readErr := os.ReadFile(store.RunLogPath())
	require.NoError(t, readErr)
	assert.Equal(t, "{not json", string(data), "corrupt log must be left untouched")
}

func TestSnapshotFailsWhenDirectoryCannotBeCreated(t *testing.T) {
	base := t.TempDir()
	blocker := filepath.Join(base, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("file"), 0o644))

	store := NewJSONStore(filepath.Join(blocker, "output"), "records.json", "log.json", "logos")
	assert.Error(t, store.Snapshot([]models.Record{&models.PolicyRecord{AirlineName: "Delta"}}))
	assert.Error(t, store.AppendRunLog(models.RunLogEntry{RunID: "x"}))
}

func TestWriteAsset(t *testing.T) {
	dir := t.TempDir()
	store := NewJSONStore(dir, "logos.json", "scrape_log.json", "logos")

	path, err := store.WriteAsset("air_canada.jpg", []byte("JPEG"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "logos", "air_canada.jpg"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "JPEG", string(data))
}

func TestAbsolutePathsAreKept(t *testing.T) {
	abs := filepath.Join(t.TempDir(), "elsewhere.json")
	store := NewJSONStore("output", abs, "log.json", "logos")
	assert.Equal(t, abs, store.RecordsPath())
	assert.Equal(t, filepath.Join("output", "log.json"), store.RunLogPath())
}

func TestSaveURLs(t *testing.T) {
	dir := t.TempDir()
	store := NewJSONStore(dir, "records.json", "url_scrape_log.json", "logos")
	urls := []string{
		"https://www.bringfido.com/travel/airline/air_canada/",
		"https://www.bringfido.com/travel/airline/delta/",
	}

	require.NoError(t, store.SaveURLs("urls.json", urls))
	assert.Equal(t, filepath.Join(dir, "urls.json"), store.URLsPath("urls.json"))

	data, err := os.ReadFile(store.URLsPath("urls.json"))
	require.NoError(t, err)
	var got []string
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, urls, got)

	require.NoError(t, store.SaveURLs("urls.json", nil))
	data, err = os.ReadFile(store.URLsPath("urls.json"))
	require.NoError(t, err)
	assert.JSONEq(t, "[]", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}
