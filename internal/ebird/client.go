package ebird

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/CKRainbow/commonBird/internal/conf"
	"github.com/CKRainbow/commonBird/internal/errors"
	"github.com/CKRainbow/commonBird/internal/logging"
)

// Package-level logger specific to the ebird service
var (
	logger          *slog.Logger
	serviceLevelVar = new(slog.LevelVar)
	closeLogger     func() error
)

func init() {
	var err error
	logFilePath := filepath.Join("logs", "ebird.log")
	serviceLevelVar.Set(slog.LevelDebug)

	logger, closeLogger, err = logging.NewFileLogger(logFilePath, "ebird", serviceLevelVar)
	if err != nil {
		log.Printf("FATAL: Failed to initialize ebird file logger at %s: %v. Service logging disabled.", logFilePath, err)
		fbHandler := slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: serviceLevelVar})
		logger = slog.New(fbHandler).With("service", "ebird")
		closeLogger = func() error { return nil }
	}
}

// Client provides methods for the eBird API reference endpoints.
type Client struct {
	config      Config
	httpClient  *http.Client
	cache       *cache.Cache
	rateLimiter *time.Ticker
	mu          sync.Mutex
	debug       bool
}

// NewClient creates an eBird API client.
func NewClient(config Config) (*Client, error) {
	if config.APIKey == "" {
		return nil, errors.Newf("eBird API key is required").
			Category(errors.CategoryConfiguration).
			Component("ebird").
			Build()
	}

	defaults := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = defaults.BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = defaults.Timeout
	}
	if config.CacheTTL == 0 {
		config.CacheTTL = defaults.CacheTTL
	}
	if config.RateLimitMS == 0 {
		config.RateLimitMS = defaults.RateLimitMS
	}
	if config.Locale == "" {
		config.Locale = defaults.Locale
	}
	config.BaseURL = strings.TrimSuffix(config.BaseURL, "/")

	settings := conf.GetSettings()
	debug := settings != nil && settings.Debug

	client := &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		cache:       cache.New(config.CacheTTL, config.CacheTTL*2),
		rateLimiter: time.NewTicker(time.Duration(config.RateLimitMS) * time.Millisecond),
		debug:       debug,
	}

	logger.Info("eBird client initialized",
		"base_url", config.BaseURL,
		"cache_ttl", config.CacheTTL,
		"rate_limit_ms", config.RateLimitMS,
		"locale", config.Locale)

	return client, nil
}

// Close releases client resources.
func (c *Client) Close() {
	c.rateLimiter.Stop()
	if closeLogger != nil {
		if err := closeLogger(); err != nil {
			log.Printf("Error closing eBird logger: %v", err)
		}
	}
}

// GetHotspots returns all hotspots in a region (country, subnational1 or
// subnational2 code).
func (c *Client) GetHotspots(ctx context.Context, regionCode string) ([]Hotspot, error) {
	cacheKey := "hotspots:" + regionCode
	if cached, found := c.cache.Get(cacheKey); found {
		if hotspots, ok := cached.([]Hotspot); ok {
			logger.Debug("hotspot cache hit", "region", regionCode, "count", len(hotspots))
			return hotspots, nil
		}
	}

	url := fmt.Sprintf("%s/ref/hotspot/%s?fmt=json", c.config.BaseURL, regionCode)

	var hotspots []Hotspot
	if err := c.doRequestWithRetry(ctx, url, &hotspots); err != nil {
		return nil, err
	}

	c.cache.Set(cacheKey, hotspots, cache.DefaultExpiration)
	logger.Debug("hotspots fetched", "region", regionCode, "count", len(hotspots))
	return hotspots, nil
}

// GetSubRegions returns the child regions of a parent region.
// regionType is "subnational1" or "subnational2".
func (c *Client) GetSubRegions(ctx context.Context, regionType, parentCode string) ([]Region, error) {
	cacheKey := "regions:" + regionType + ":" + parentCode
	if cached, found := c.cache.Get(cacheKey); found {
		if regions, ok := cached.([]Region); ok {
			return regions, nil
		}
	}

	url := fmt.Sprintf("%s/ref/region/list/%s/%s?fmt=json", c.config.BaseURL, regionType, parentCode)

	var regions []Region
	if err := c.doRequestWithRetry(ctx, url, &regions); err != nil {
		return nil, err
	}

	c.cache.Set(cacheKey, regions, cache.DefaultExpiration)
	return regions, nil
}

// GetTaxonomy returns the eBird taxonomy in the configured locale.
func (c *Client) GetTaxonomy(ctx context.Context) ([]TaxonomyEntry, error) {
	cacheKey := "taxonomy:" + c.config.Locale
	if cached, found := c.cache.Get(cacheKey); found {
		if taxonomy, ok := cached.([]TaxonomyEntry); ok {
			return taxonomy, nil
		}
	}

	url := fmt.Sprintf("%s/ref/taxonomy/ebird?fmt=json", c.config.BaseURL)
	if c.config.Locale != "" {
		url += "&locale=" + c.config.Locale
	}

	var taxonomy []TaxonomyEntry
	if err := c.doRequestWithRetry(ctx, url, &taxonomy); err != nil {
		return nil, err
	}

	c.cache.Set(cacheKey, taxonomy, cache.DefaultExpiration)
	return taxonomy, nil
}

// ClearCache drops all cached API responses.
func (c *Client) ClearCache() {
	c.cache.Flush()
}

// doRequest performs a single HTTP GET with rate limiting and auth.
func (c *Client) doRequest(ctx context.Context, url string, result any) error {
	c.mu.Lock()
	<-c.rateLimiter.C
	c.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.New(err).
			Category(errors.CategoryNetwork).
			Context("url", url).
			Component("ebird").
			Build()
	}

	req.Header.Set("X-eBirdApiToken", c.config.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Error("eBird request failed", "url", url, "error", err)
		return errors.New(err).
			Category(errors.CategoryNetwork).
			Context("url", url).
			Component("ebird").
			Build()
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.New(err).
			Category(errors.CategoryNetwork).
			Context("url", url).
			Context("status_code", resp.StatusCode).
			Component("ebird").
			Build()
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		logger.Error("eBird authentication failed",
			"status_code", resp.StatusCode,
			"url", url,
			"api_key_configured", c.config.APIKey != "")
		return errors.Newf("eBird authentication rejected (status %d), check the API key", resp.StatusCode).
			Category(errors.CategoryAuthentication).
			Context("status_code", resp.StatusCode).
			Context("url", url).
			Component("ebird").
			Build()
	case resp.StatusCode >= 500:
		return errors.Newf("eBird server error (status %d)", resp.StatusCode).
			Category(errors.CategoryServer).
			Context("status_code", resp.StatusCode).
			Context("url", url).
			Component("ebird").
			Build()
	case resp.StatusCode >= 400:
		var apiErr Error
		detail := string(bodyBytes)
		if err := json.Unmarshal(bodyBytes, &apiErr); err == nil && apiErr.Detail != "" {
			detail = apiErr.Detail
		}
		return errors.Newf("eBird API error (status %d): %s", resp.StatusCode, detail).
			Category(errors.CategoryAPI).
			Context("status_code", resp.StatusCode).
			Context("url", url).
			Component("ebird").
			Build()
	}

	if result != nil {
		if err := json.Unmarshal(bodyBytes, result); err != nil {
			return errors.Newf("failed to parse eBird response: %w", err).
				Category(errors.CategoryAPI).
				Context("url", url).
				Context("response_size", len(bodyBytes)).
				Component("ebird").
				Build()
		}
	}

	return nil
}

// doRequestWithRetry retries transient failures with linear backoff. GET
// requests have no body, so re-issuing them is always safe.
func (c *Client) doRequestWithRetry(ctx context.Context, url string, result any) error {
	const maxRetries = 3
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		err := c.doRequest(ctx, url, result)
		if err == nil {
			return nil
		}
		if !errors.IsRetryable(err) {
			return err
		}
		lastErr = err
		if ctx.Err() != nil {
			return lastErr
		}

		if attempt < maxRetries-1 {
			delay := time.Duration(attempt+1) * 500 * time.Millisecond
			logger.Warn("eBird request failed, retrying",
				"attempt", attempt+1,
				"delay_ms", delay.Milliseconds(),
				"url", url,
				"error", err.Error())
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return lastErr
			}
		}
	}

	return lastErr
}
