package config

import (
	"fmt"
	"net/url"
	"time"
)

// Config holds crawler configuration.
type Config struct {
	BaseURL       string
	Lists         map[string]string // list name -> menu URL
	DefaultList   string
	PollInterval  time.Duration
	Workers       int
	MaxAttempts   int
	Timeout       time.Duration
	ProbeTimeout  time.Duration
	ProxyListURL  string
	ProxyTestURL  string
	DisableProxy  bool
	UserAgent     string
	ItemCacheTTL  time.Duration
	ItemCacheSize int
	MetricsAddr   string
	OutputFile    string
	OutputFormat  string // csv or json
	Verbose       bool
}

// DefaultConfig returns conservative defaults for the menu target.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:       "https://untappd.com",
		Lists:         map[string]string{},
		PollInterval:  5 * time.Minute,
		Workers:       10,
		MaxAttempts:   3,
		Timeout:       15 * time.Second,
		ProbeTimeout:  5 * time.Second,
		ProxyListURL:  "https://api.proxyscrape.com/v2/?request=getproxies&protocol=http&timeout=5000&country=all",
		ProxyTestURL:  "https://api.ipify.org",
		UserAgent:     "Mozilla/5.0",
		ItemCacheTTL:  0,
		ItemCacheSize: 512,
		MetricsAddr:   ":9090",
		OutputFile:    "output/menu.json",
		OutputFormat:  "json",
		Verbose:       false,
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}
	if err := requireHost(c.BaseURL); err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}

	for name, raw := range c.Lists {
		if name == "" {
			return fmt.Errorf("list name cannot be empty")
		}
		abs, err := c.ResolveURL(raw)
		if err == nil {
			err = requireHost(abs)
		}
		if err != nil {
			return fmt.Errorf("invalid URL for list %q: %w", name, err)
		}
	}
	if c.DefaultList != "" {
		if _, ok := c.Lists[c.DefaultList]; !ok {
			return fmt.Errorf("default list %q is not configured", c.DefaultList)
		}
	}

	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if !c.DisableProxy {
		if c.ProbeTimeout <= 0 {
			return fmt.Errorf("probe timeout must be positive")
		}
		if err := requireHost(c.ProxyListURL); err != nil {
			return fmt.Errorf("invalid proxy list URL: %w", err)
		}
		if err := requireHost(c.ProxyTestURL); err != nil {
			return fmt.Errorf("invalid proxy test URL: %w", err)
		}
	}
	if c.ItemCacheTTL < 0 {
		return fmt.Errorf("item cache ttl cannot be negative")
	}
	if c.ItemCacheTTL > 0 && c.ItemCacheSize <= 0 {
		return fmt.Errorf("item cache size must be positive when caching is enabled")
	}
	if c.OutputFormat != "csv" && c.OutputFormat != "json" {
		return fmt.Errorf("output format must be csv or json")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}

	return nil
}

// ResolveURL resolves raw against BaseURL, so list entries may be given as
// paths on the target site. Absolute URLs are returned unchanged.
func (c *Config) ResolveURL(raw string) (string, error) {
	base, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(ref).String(), nil
}

func requireHost(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Host == "" {
		return fmt.Errorf("url %q must include a host", raw)
	}
	return nil
}
