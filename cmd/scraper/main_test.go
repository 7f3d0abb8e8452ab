package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aluiziolira/go-scrape-policies/pipeline"
	"github.com/aluiziolira/go-scrape-policies/scraper"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCommand(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "test"}
	bindFlags(cmd.Flags())
	require.NoError(t, cmd.ParseFlags(args))
	return cmd
}

func TestLoadConfigLogosDefaults(t *testing.T) {
	t.Setenv("FIRECRAWL_API_KEY", "")

	cfg, err := loadConfig(newTestCommand(t), modeLogos)
	require.NoError(t, err)
	assert.Equal(t, "logos.json", cfg.RecordsFile)
	assert.Equal(t, "scrape_log.json", cfg.RunLogFile)
	assert.Equal(t, time.Second, cfg.ItemDelayMax)
	assert.Zero(t, cfg.BatchCooldown)
}

func TestLoadConfigPoliciesNeedsAPIKey(t *testing.T) {
	t.Setenv("FIRECRAWL_API_KEY", "")
	_, err := loadConfig(newTestCommand(t), modePolicies)
	require.Error(t, err)

	t.Setenv("FIRECRAWL_API_KEY", "fc-test")
	cfg, err := loadConfig(newTestCommand(t), modePolicies)
	require.NoError(t, err)
	assert.Equal(t, "fc-test", cfg.APIKey)
	assert.Equal(t, "airline_policies.json", cfg.RecordsFile)
}

func TestLoadConfigPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scraper.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workers: 2\nbatch_size: 3\noutput_dir: from-file\n"), 0o644))
	t.Setenv("FIRECRAWL_API_KEY", "fc-test")
	t.Setenv("SCRAPER_BATCH_SIZE", "4")

	cfg, err := loadConfig(newTestCommand(t, "--config", path, "--workers", "3"), modePolicies)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Workers, "flag overrides file")
	assert.Equal(t, 4, cfg.BatchSize, "env overrides file")
	assert.Equal(t, "from-file", cfg.OutputDir)
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	t.Setenv("FIRECRAWL_API_KEY", "fc-test")

	_, err := loadConfig(newTestCommand(t, "--workers", "5"), modePolicies)
	assert.Error(t, err)

	_, err = loadConfig(newTestCommand(t, "--config", filepath.Join(t.TempDir(), "missing.yaml")), modePolicies)
	assert.Error(t, err)
}

func TestLoadConfigURLsMode(t *testing.T) {
	t.Setenv("FIRECRAWL_API_KEY", "")

	cfg, err := loadConfig(newTestCommand(t), modeURLs)
	require.NoError(t, err)
	assert.Equal(t, "urls.json", cfg.URLsFile)
	assert.Equal(t, "url_scrape_log.json", cfg.RunLogFile)
}

func TestBuildRunPerMode(t *testing.T) {
	t.Setenv("FIRECRAWL_API_KEY", "fc-test")
	dir := t.TempDir()

	for _, mode := range []string{modePolicies, modeLogos, modeURLs} {
		t.Run(mode, func(t *testing.T) {
			cfg, err := loadConfig(newTestCommand(t, "--output-dir", dir), mode)
			require.NoError(t, err)
			store := pipeline.NewJSONStore(cfg.OutputDir, cfg.RecordsFile, cfg.RunLogFile, cfg.AssetsDir)
			state := scraper.NewRunState()

			r, err := buildRun(cfg, mode, store, state, scraper.NewBackoff(cfg, state, nil), nil)
			require.NoError(t, err)
			assert.Equal(t, mode, r.Mode)
			assert.NotNil(t, r.Discoverer)

			if mode == modeURLs {
				assert.Nil(t, r.Scheduler)
				assert.Equal(t, "urls.json", r.URLsFile)
				assert.Same(t, store, r.URLs)
			} else {
				assert.NotNil(t, r.Scheduler)
				assert.Empty(t, r.URLsFile)
			}
		})
	}
}
