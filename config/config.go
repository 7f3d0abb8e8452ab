package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds scraper configuration.
type Config struct {
	ListingURL      string        `yaml:"listing_url"`
	MaxPages        int           `yaml:"max_pages"`
	PageDelay       time.Duration `yaml:"page_delay"`
	Timeout         time.Duration `yaml:"timeout"`
	UserAgent       string        `yaml:"user_agent"`
	SeenPagesCache  int           `yaml:"seen_pages_cache"`
	ProviderURL     string        `yaml:"provider_url"`
	APIKey          string        `yaml:"-"`
	ProviderTimeout time.Duration `yaml:"provider_timeout"`
	ExtractPrompt   string        `yaml:"extract_prompt"`
	MaxAttempts     int           `yaml:"max_attempts"`

	BackoffMin        time.Duration `yaml:"backoff_min"`
	BackoffMax        time.Duration `yaml:"backoff_max"`
	ItemDelayMin      time.Duration `yaml:"item_delay_min"`
	ItemDelayMax      time.Duration `yaml:"item_delay_max"`
	PressureDelayMin  time.Duration `yaml:"pressure_delay_min"`
	PressureDelayMax  time.Duration `yaml:"pressure_delay_max"`
	PressureThreshold int64         `yaml:"pressure_threshold"`
	BatchSize         int           `yaml:"batch_size"`
	BatchCooldown     time.Duration `yaml:"batch_cooldown"`
	Workers           int           `yaml:"workers"`

	OutputDir   string `yaml:"output_dir"`
	RecordsFile string `yaml:"records_file"`
	RunLogFile  string `yaml:"run_log_file"`
	AssetsDir   string `yaml:"assets_dir"`
	URLsFile    string `yaml:"urls_file"`
	CSVFile     string `yaml:"csv_file"`
	MetricsAddr string `yaml:"metrics_addr"`
	Verbose     bool   `yaml:"verbose"`
}

// DefaultPrompt is the extraction instruction sent with every policy page.
const DefaultPrompt = "Extract airline pet policy details including the airline name, website link, phone number, " +
	"and specific sections: 'Pets in the Cabin', 'Pets in Checked Baggage', 'Pets in Cargo', " +
	"'Carrier Guidelines', and 'Other Restrictions' from the page. Ignore reviews for now."

// DefaultConfig returns conservative defaults matching the remote service's limits.
func DefaultConfig() *Config {
	return &Config{
		ListingURL:        "https://www.bringfido.com/travel/",
		MaxPages:          200,
		PageDelay:         time.Second,
		Timeout:           30 * time.Second,
		UserAgent:         "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		SeenPagesCache:    64,
		ProviderURL:       "https://api.firecrawl.dev/v0/extract",
		ProviderTimeout:   30 * time.Second,
		ExtractPrompt:     DefaultPrompt,
		MaxAttempts:       5,
		BackoffMin:        10 * time.Second,
		BackoffMax:        20 * time.Second,
		ItemDelayMin:      10 * time.Second,
		ItemDelayMax:      20 * time.Second,
		PressureDelayMin:  20 * time.Second,
		PressureDelayMax:  30 * time.Second,
		PressureThreshold: 5,
		BatchSize:         5,
		BatchCooldown:     120 * time.Second,
		Workers:           1,
		OutputDir:         "output",
		RecordsFile:       "airline_policies.json",
		RunLogFile:        "policy_scrape_log.json",
		AssetsDir:         "logos",
		URLsFile:          "urls.json",
	}
}

// LoadFile overlays the YAML document at path onto c. Keys absent from the
// file keep their current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.ListingURL == "" {
		return fmt.Errorf("listing URL cannot be empty")
	}
	parsedURL, err := url.Parse(c.ListingURL)
	if err != nil {
		return fmt.Errorf("invalid listing URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("listing URL must include a host")
	}

	if c.MaxPages <= 0 {
		return fmt.Errorf("max pages must be positive")
	}
	if c.PageDelay < 0 {
		return fmt.Errorf("page delay cannot be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.SeenPagesCache <= 0 {
		return fmt.Errorf("seen pages cache must be positive")
	}
	if c.ProviderTimeout <= 0 {
		return fmt.Errorf("provider timeout must be positive")
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive")
	}
	if c.BackoffMin <= 0 {
		return fmt.Errorf("backoff min must be positive")
	}
	// Keeps consecutive backoff windows from overlapping once doubled.
	if c.BackoffMax < c.BackoffMin || c.BackoffMax > 2*c.BackoffMin {
		return fmt.Errorf("backoff max (%s) must be between backoff min and twice backoff min (%s)", c.BackoffMax, c.BackoffMin)
	}
	if c.ItemDelayMin < 0 || c.ItemDelayMax < c.ItemDelayMin {
		return fmt.Errorf("item delay range [%s, %s] is invalid", c.ItemDelayMin, c.ItemDelayMax)
	}
	if c.PressureDelayMin < 0 || c.PressureDelayMax < c.PressureDelayMin {
		return fmt.Errorf("pressure delay range [%s, %s] is invalid", c.PressureDelayMin, c.PressureDelayMax)
	}
	if c.PressureThreshold <= 0 {
		return fmt.Errorf("pressure threshold must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.BatchCooldown < 0 {
		return fmt.Errorf("batch cooldown cannot be negative")
	}
	if c.Workers < 1 || c.Workers > 3 {
		return fmt.Errorf("workers must be between 1 and 3")
	}
	if c.OutputDir == "" {
		return fmt.Errorf("output dir cannot be empty")
	}
	if c.RecordsFile == "" || c.RunLogFile == "" {
		return fmt.Errorf("records file and run log file cannot be empty")
	}
	if c.URLsFile == "" {
		return fmt.Errorf("urls file cannot be empty")
	}

	return nil
}

// ValidateProvider checks the settings only policy runs need.
func (c *Config) ValidateProvider() error {
	if c.APIKey == "" {
		return fmt.Errorf("api key required: set FIRECRAWL_API_KEY")
	}
	parsed, err := url.Parse(c.ProviderURL)
	if err != nil || parsed.Host == "" {
		return fmt.Errorf("invalid provider URL %q", c.ProviderURL)
	}
	return nil
}
