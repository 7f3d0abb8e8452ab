package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvString returns the trimmed value of key and whether it was set.
func EnvString(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}

// EnvInt parses key as an integer.
func EnvInt(key string) (int, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return value, true, nil
}

// EnvDuration parses key with time.ParseDuration.
func EnvDuration(key string) (time.Duration, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return value, true, nil
}

// ApplyEnv overlays SCRAPER_* variables and FIRECRAWL_API_KEY onto c.
func (c *Config) ApplyEnv() error {
	strs := map[string]*string{
		"SCRAPER_LISTING_URL":  &c.ListingURL,
		"SCRAPER_PROVIDER_URL": &c.ProviderURL,
		"SCRAPER_OUTPUT_DIR":   &c.OutputDir,
		"SCRAPER_RECORDS_FILE": &c.RecordsFile,
		"SCRAPER_RUN_LOG_FILE": &c.RunLogFile,
		"SCRAPER_ASSETS_DIR":   &c.AssetsDir,
		"SCRAPER_URLS_FILE":    &c.URLsFile,
		"SCRAPER_CSV_FILE":     &c.CSVFile,
		"SCRAPER_METRICS_ADDR": &c.MetricsAddr,
		"SCRAPER_USER_AGENT":   &c.UserAgent,
		"FIRECRAWL_API_KEY":    &c.APIKey,
	}
	for key, dst := range strs {
		if value, ok := EnvString(key); ok {
			*dst = value
		}
	}

	ints := map[string]*int{
		"SCRAPER_PAGES":        &c.MaxPages,
		"SCRAPER_MAX_ATTEMPTS": &c.MaxAttempts,
		"SCRAPER_BATCH_SIZE":   &c.BatchSize,
		"SCRAPER_WORKERS":      &c.Workers,
	}
	for key, dst := range ints {
		value, ok, err := EnvInt(key)
		if err != nil {
			return err
		}
		if ok {
			*dst = value
		}
	}

	durations := map[string]*time.Duration{
		"SCRAPER_PAGE_DELAY":     &c.PageDelay,
		"SCRAPER_TIMEOUT":        &c.Timeout,
		"SCRAPER_BATCH_COOLDOWN": &c.BatchCooldown,
	}
	for key, dst := range durations {
		value, ok, err := EnvDuration(key)
		if err != nil {
			return err
		}
		if ok {
			*dst = value
		}
	}
	return nil
}
