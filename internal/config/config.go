package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

var ErrMissingRequiredValue = errors.New("missing required value")
var ErrInvalidValue = errors.New("invalid value")

const (
	defaultPort          = "8123"
	defaultRefreshPeriod = 1 * time.Minute
	defaultIdleTTL       = 30 * time.Minute
)

type environment string

const (
	production  environment = "production"
	staging     environment = "staging"
	development environment = "development"
)

// Source is an upstream that is served through a refreshing cache
type Source struct {
	Name string
	URL  string
}

type Config struct {
	port          string
	sentryDSN     string
	sources       []Source
	refreshPeriod time.Duration
	idleTTL       time.Duration
	otelEnabled   bool
	env           environment
}

func (c *Config) Port() string {
	return c.port
}

func (c *Config) SentryDSN() string {
	return c.sentryDSN
}

func (c *Config) Sources() []Source {
	return append([]Source{}, c.sources...)
}

func (c *Config) RefreshPeriod() time.Duration {
	return c.refreshPeriod
}

func (c *Config) IdleTTL() time.Duration {
	return c.idleTTL
}

func (c *Config) OTelEnabled() bool {
	return c.otelEnabled
}

func (c *Config) IsProduction() bool {
	return c.env == production
}

func (c *Config) IsStaging() bool {
	return c.env == staging
}

func (c *Config) IsDevelopment() bool {
	return c.env == development
}

// Return a string representation suitable for logging etc
func (c *Config) NonSensitiveString() string {
	names := make([]string, len(c.sources))
	for i, source := range c.sources {
		names[i] = source.Name
	}
	return fmt.Sprintf(
		"Config{env: %s, port: %s, sources: [%s], refreshPeriod: %s, idleTTL: %s, otelEnabled: %t, ...}",
		string(c.env), c.port, strings.Join(names, ","), c.refreshPeriod, c.idleTTL, c.otelEnabled,
	)
}

// Parse "name=url,name2=url2"
func parseSources(raw string) ([]Source, error) {
	sources := []Source{}
	seen := map[string]bool{}

	for pair := range strings.SplitSeq(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		name, rawURL, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		rawURL = strings.TrimSpace(rawURL)
		if !ok || name == "" || rawURL == "" {
			return nil, fmt.Errorf("%w: REFRESHER_SOURCES (malformed pair %q)", ErrInvalidValue, pair)
		}

		if seen[name] {
			return nil, fmt.Errorf("%w: REFRESHER_SOURCES (duplicate name %q)", ErrInvalidValue, name)
		}
		seen[name] = true

		parsed, err := url.Parse(rawURL)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			return nil, fmt.Errorf("%w: REFRESHER_SOURCES (bad url for %q)", ErrInvalidValue, name)
		}

		sources = append(sources, Source{Name: name, URL: rawURL})
	}

	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: REFRESHER_SOURCES", ErrMissingRequiredValue)
	}

	return sources, nil
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}

	duration, err := time.ParseDuration(raw)
	if err != nil || duration <= 0 {
		return 0, fmt.Errorf("%w: %s (%s)", ErrInvalidValue, key, raw)
	}
	return duration, nil
}

func ConfigFromEnv() (Config, error) {
	missingKey := func(key string) (Config, error) {
		return Config{}, fmt.Errorf("%w: %s", ErrMissingRequiredValue, key)
	}

	var env environment
	rawEnv, ok := os.LookupEnv("REFRESHER_ENVIRONMENT")
	if !ok {
		return missingKey("REFRESHER_ENVIRONMENT")
	}
	switch rawEnv {
	case "production":
		env = production
	case "staging":
		env = staging
	case "development":
		env = development
	default:
		return Config{}, fmt.Errorf("%w: REFRESHER_ENVIRONMENT (%s)", ErrInvalidValue, rawEnv)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}
	if _, err := strconv.ParseUint(port, 10, 16); err != nil {
		return Config{}, fmt.Errorf("%w: PORT (%s)", ErrInvalidValue, port)
	}

	sentryDSN := os.Getenv("SENTRY_DSN")
	if env != development && sentryDSN == "" {
		return missingKey("SENTRY_DSN")
	}

	rawSources, ok := os.LookupEnv("REFRESHER_SOURCES")
	if !ok {
		return missingKey("REFRESHER_SOURCES")
	}
	sources, err := parseSources(rawSources)
	if err != nil {
		return Config{}, err
	}

	refreshPeriod, err := durationFromEnv("REFRESHER_REFRESH_PERIOD", defaultRefreshPeriod)
	if err != nil {
		return Config{}, err
	}

	idleTTL, err := durationFromEnv("REFRESHER_IDLE_TTL", defaultIdleTTL)
	if err != nil {
		return Config{}, err
	}

	otelEnabled := false
	if rawOTel := os.Getenv("OTEL_ENABLED"); rawOTel != "" {
		otelEnabled, err = strconv.ParseBool(rawOTel)
		if err != nil {
			return Config{}, fmt.Errorf("%w: OTEL_ENABLED (%s)", ErrInvalidValue, rawOTel)
		}
	}

	return Config{
		port:          port,
		sentryDSN:     sentryDSN,
		sources:       sources,
		refreshPeriod: refreshPeriod,
		idleTTL:       idleTTL,
		otelEnabled:   otelEnabled,
		env:           env,
	}, nil
}
