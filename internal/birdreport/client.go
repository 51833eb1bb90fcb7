package birdreport

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/CKRainbow/commonBird/internal/conf"
	"github.com/CKRainbow/commonBird/internal/errors"
	"github.com/CKRainbow/commonBird/internal/logging"
)

// Package-level logger specific to the birdreport service
var (
	logger          *slog.Logger
	serviceLevelVar = new(slog.LevelVar)
	closeLogger     func() error
)

func init() {
	var err error
	logFilePath := filepath.Join("logs", "birdreport.log")
	serviceLevelVar.Set(slog.LevelDebug)

	logger, closeLogger, err = logging.NewFileLogger(logFilePath, "birdreport", serviceLevelVar)
	if err != nil {
		log.Printf("FATAL: Failed to initialize birdreport file logger at %s: %v. Service logging disabled.", logFilePath, err)
		fbHandler := slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: serviceLevelVar})
		logger = slog.New(fbHandler).With("service", "birdreport")
		closeLogger = func() error { return nil }
	}
}

// API endpoint paths. The member family needs a session token; the front
// family needs the signed/encrypted request protocol instead.
const (
	userGetPath           = "/member/system/user/get"
	memberSearchPath      = "/member/system/activity/search"
	handySearchPath       = "/member/system/handy/search"
	recordExcelPath       = "/member/system/record/excel"
	handyExcelPath        = "/member/system/handy/excel"
	activityDetailPath    = "/member/system/activity/get"
	taxonStatPath         = "/member/system/record/groupTaxon"
	taxonListPath         = "/member/system/taxon/list"
	pointHotsPath         = "/member/system/point/hots"
	frontSearchPath       = "/front/record/activity/search"
	frontActivityGetPath  = "/front/activity/get"
	frontActivityTaxFPath = "/front/record/activity/taxon"
)

// Config holds client configuration.
type Config struct {
	Token      string        // X-Auth-Token session token, empty for front endpoints only
	BaseURL    string        // API base URL
	Timeout    time.Duration // HTTP timeout
	RetryLimit int           // attempts per request for transient failures
	PageSize   int           // page size used by paginated searches
	UserAgent  string        // browser user agent string sent with all requests
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL:    "https://api.birdreport.cn",
		Timeout:    30 * time.Second,
		RetryLimit: 3,
		PageSize:   200,
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
			"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	}
}

// Client talks to the BirdReport API.
type Client struct {
	config     Config
	httpClient *http.Client
	debug      bool

	// now is swappable so signed-request timestamps are deterministic in tests.
	now func() time.Time

	// retryBaseDelay scales the linear backoff between attempts.
	retryBaseDelay time.Duration
}

// NewClient creates a BirdReport API client.
func NewClient(config Config) (*Client, error) {
	if config.BaseURL == "" {
		config.BaseURL = DefaultConfig().BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if config.RetryLimit == 0 {
		config.RetryLimit = DefaultConfig().RetryLimit
	}
	if config.PageSize == 0 {
		config.PageSize = DefaultConfig().PageSize
	}
	if config.UserAgent == "" {
		config.UserAgent = DefaultConfig().UserAgent
	}
	config.BaseURL = strings.TrimSuffix(config.BaseURL, "/")

	settings := conf.GetSettings()
	debug := settings != nil && settings.Debug

	client := &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		debug:          debug,
		now:            time.Now,
		retryBaseDelay: 500 * time.Millisecond,
	}

	logger.Info("birdreport client initialized",
		"base_url", config.BaseURL,
		"retry_limit", config.RetryLimit,
		"page_size", config.PageSize,
		"token_configured", config.Token != "",
		"debug", debug)

	return client, nil
}

// Close releases client resources.
func (c *Client) Close() {
	if closeLogger != nil {
		if err := closeLogger(); err != nil {
			log.Printf("Error closing birdreport logger: %v", err)
		}
	}
}

// PageSize returns the configured page size for paginated searches.
func (c *Client) PageSize() int {
	return c.config.PageSize
}

// callOptions selects the request and response framing of one endpoint.
type callOptions struct {
	signed    bool // encrypt and sign the request body (front endpoint family)
	encrypted bool // response data field is base64 ciphertext
}

// envelope is the common {code, data} response wrapper.
type envelope struct {
	Code int             `json:"code"`
	Data json.RawMessage `json:"data"`
}

// call posts params to path and returns the payload of the data field. The
// request is built once so retries re-issue it byte for byte, signature and
// all. Transport failures and 5xx responses are retried up to the configured
// attempt budget; authentication failures and malformed success bodies fail
// immediately.
func (c *Client) call(ctx context.Context, path string, params map[string]string, opts callOptions) (json.RawMessage, error) {
	url := c.config.BaseURL + path

	var body string
	var contentType string
	var sig *requestSignature

	if opts.signed {
		var err error
		sig, err = signRequest(params, c.now())
		if err != nil {
			return nil, err
		}
		body = sig.Ciphertext
		contentType = "application/x-www-form-urlencoded"
	} else {
		formatted, err := canonicalJSON(params)
		if err != nil {
			return nil, err
		}
		body = formatted
		contentType = "application/json"
	}

	var lastErr error
	for attempt := 1; attempt <= c.config.RetryLimit; attempt++ {
		payload, retryable, err := c.doCall(ctx, url, body, contentType, sig, opts)
		if err == nil {
			return payload, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, lastErr
		}
		if attempt < c.config.RetryLimit {
			delay := time.Duration(attempt) * c.retryBaseDelay
			logger.Warn("birdreport request failed, retrying",
				"attempt", attempt,
				"max_attempts", c.config.RetryLimit,
				"delay_ms", delay.Milliseconds(),
				"path", path,
				"error", err.Error())
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, lastErr
			}
		}
	}

	return nil, lastErr
}

// doCall performs a single request attempt. The second return value reports
// whether the failure is worth retrying.
func (c *Client) doCall(ctx context.Context, url, body, contentType string, sig *requestSignature, opts callOptions) (json.RawMessage, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		return nil, false, errors.New(err).
			Category(errors.CategoryNetwork).
			Context("url", url).
			Build()
	}

	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("User-Agent", c.config.UserAgent)
	if c.config.Token != "" {
		req.Header.Set("X-Auth-Token", c.config.Token)
	}
	if sig != nil {
		req.Header.Set("requestId", sig.RequestID)
		req.Header.Set("timestamp", sig.Timestamp)
		req.Header.Set("sign", sig.Sign)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Error("birdreport request failed",
			"url", url,
			"error", err)
		return nil, true, errors.New(err).
			Category(errors.CategoryNetwork).
			Context("url", url).
			Build()
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, errors.New(err).
			Category(errors.CategoryNetwork).
			Context("url", url).
			Context("status_code", resp.StatusCode).
			Build()
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		logger.Error("birdreport authentication failed",
			"status_code", resp.StatusCode,
			"url", url,
			"token_configured", c.config.Token != "")
		return nil, false, errors.Newf("authentication rejected (status %d), token missing or expired", resp.StatusCode).
			Category(errors.CategoryAuthentication).
			Context("status_code", resp.StatusCode).
			Context("url", url).
			Build()
	case resp.StatusCode >= 500:
		return nil, true, errors.Newf("server error (status %d)", resp.StatusCode).
			Category(errors.CategoryServer).
			Context("status_code", resp.StatusCode).
			Context("url", url).
			Build()
	case resp.StatusCode >= 400:
		return nil, false, errors.Newf("unexpected response (status %d)", resp.StatusCode).
			Category(errors.CategoryAPI).
			Context("status_code", resp.StatusCode).
			Context("url", url).
			Build()
	}

	var env envelope
	if err := json.Unmarshal(bodyBytes, &env); err != nil {
		preview := string(bodyBytes)
		if len(preview) > 200 {
			preview = preview[:200] + "..."
		}
		logger.Error("birdreport returned non-JSON body",
			"url", url,
			"status_code", resp.StatusCode,
			"body_preview", preview)
		return nil, false, errors.Newf("response is not valid JSON: %v", err).
			Category(errors.CategoryAPI).
			Context("url", url).
			Context("status_code", resp.StatusCode).
			Build()
	}

	data := env.Data
	if opts.encrypted {
		var encoded string
		if err := json.Unmarshal(env.Data, &encoded); err != nil {
			return nil, false, errors.Newf("expected encrypted data field: %v", err).
				Category(errors.CategoryAPI).
				Context("url", url).
				Build()
		}
		plaintext, err := decryptPayload(encoded)
		if err != nil {
			return nil, false, err
		}
		data = plaintext
	}

	if c.debug {
		logger.Debug("birdreport request ok",
			"url", url,
			"duration_ms", time.Since(start).Milliseconds(),
			"response_size", len(bodyBytes))
	}

	return data, false, nil
}

// GetUser returns the authenticated member's account information. It doubles
// as a token validity probe.
func (c *Client) GetUser(ctx context.Context) (*User, error) {
	data, err := c.call(ctx, userGetPath, map[string]string{}, callOptions{})
	if err != nil {
		return nil, err
	}
	var user User
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryAPI).
			Context("operation", "get_user").
			Build()
	}
	return &user, nil
}

// MemberSearch returns one page of the member's point-based reports.
func (c *Client) MemberSearch(ctx context.Context, page, limit int, query *MemberSearchQuery) ([]Report, error) {
	data, err := c.call(ctx, memberSearchPath, query.params(page, limit), callOptions{encrypted: true})
	if err != nil {
		return nil, err
	}
	return unmarshalReports(data, CategoryPoint)
}

// HandySearch returns one page of the member's casual reports.
func (c *Client) HandySearch(ctx context.Context, page, limit int, query *HandySearchQuery) ([]Report, error) {
	data, err := c.call(ctx, handySearchPath, query.params(page, limit), callOptions{encrypted: true})
	if err != nil {
		return nil, err
	}
	return unmarshalReports(data, CategoryCasual)
}

// GetRecordExcel returns all observation entries for the given point report
// ids in a single call.
func (c *Client) GetRecordExcel(ctx context.Context, ids []int64) ([]Observation, error) {
	return c.getExcel(ctx, recordExcelPath, ids)
}

// GetHandyExcel returns all observation entries for the given casual report
// ids in a single call.
func (c *Client) GetHandyExcel(ctx context.Context, ids []int64) ([]Observation, error) {
	return c.getExcel(ctx, handyExcelPath, ids)
}

func (c *Client) getExcel(ctx context.Context, path string, ids []int64) ([]Observation, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	joined := make([]string, 0, len(ids))
	for _, id := range ids {
		joined = append(joined, strconv.FormatInt(id, 10))
	}
	params := map[string]string{"ids": strings.Join(joined, ",")}

	data, err := c.call(ctx, path, params, callOptions{})
	if err != nil {
		return nil, err
	}
	var obs []Observation
	if err := json.Unmarshal(data, &obs); err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryAPI).
			Context("operation", "record_excel").
			Build()
	}
	return obs, nil
}

// GetActivityDetail returns the full detail of one member report.
func (c *Client) GetActivityDetail(ctx context.Context, id int64) (*Report, error) {
	params := map[string]string{"activity_id": strconv.FormatInt(id, 10)}
	data, err := c.call(ctx, activityDetailPath, params, callOptions{})
	if err != nil {
		return nil, err
	}
	var report Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryAPI).
			Context("operation", "activity_detail").
			Context("activity_id", id).
			Build()
	}
	return &report, nil
}

// GetTaxonStat returns the grouped species entries of one member report.
func (c *Client) GetTaxonStat(ctx context.Context, id int64) ([]Observation, error) {
	params := map[string]string{"activity_id": strconv.FormatInt(id, 10)}
	data, err := c.call(ctx, taxonStatPath, params, callOptions{encrypted: true})
	if err != nil {
		return nil, err
	}
	var obs []Observation
	if err := json.Unmarshal(data, &obs); err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryAPI).
			Context("operation", "taxon_stat").
			Context("activity_id", id).
			Build()
	}
	return obs, nil
}

// GetTaxonList returns the platform taxonomy list for the current generation.
func (c *Client) GetTaxonList(ctx context.Context) ([]TaxonInfo, error) {
	data, err := c.call(ctx, taxonListPath, map[string]string{}, callOptions{})
	if err != nil {
		return nil, err
	}
	var taxa []TaxonInfo
	if err := json.Unmarshal(data, &taxa); err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryAPI).
			Context("operation", "taxon_list").
			Build()
	}
	return taxa, nil
}

// SearchHotspotsByName returns platform points matching a name fragment.
func (c *Client) SearchHotspotsByName(ctx context.Context, name string) ([]PointHotspot, error) {
	params := map[string]string{"point_name": name}
	data, err := c.call(ctx, pointHotsPath, params, callOptions{})
	if err != nil {
		return nil, err
	}
	var points []PointHotspot
	if err := json.Unmarshal(data, &points); err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryAPI).
			Context("operation", "point_hots").
			Build()
	}
	return points, nil
}

// FrontSearch returns one page of public reports via the signed endpoint
// family. No session token is needed.
func (c *Client) FrontSearch(ctx context.Context, page, limit int, query *FrontSearchQuery) ([]Report, error) {
	data, err := c.call(ctx, frontSearchPath, query.params(page, limit), callOptions{signed: true, encrypted: true})
	if err != nil {
		return nil, err
	}
	return unmarshalReports(data, CategoryPoint)
}

// FrontActivityDetail returns the public detail of one report.
func (c *Client) FrontActivityDetail(ctx context.Context, id int64) (*Report, error) {
	params := map[string]string{"activityid": strconv.FormatInt(id, 10)}
	data, err := c.call(ctx, frontActivityGetPath, params, callOptions{signed: true, encrypted: true})
	if err != nil {
		return nil, err
	}
	var report Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryAPI).
			Context("operation", "front_activity_detail").
			Context("activity_id", id).
			Build()
	}
	return &report, nil
}

// FrontActivityTaxa returns the public species entries of one report.
func (c *Client) FrontActivityTaxa(ctx context.Context, id int64, page, limit int) ([]Observation, error) {
	params := map[string]string{
		"activityid": strconv.FormatInt(id, 10),
		"page":       strconv.Itoa(page),
		"limit":      strconv.Itoa(limit),
	}
	data, err := c.call(ctx, frontActivityTaxFPath, params, callOptions{signed: true, encrypted: true})
	if err != nil {
		return nil, err
	}
	var obs []Observation
	if err := json.Unmarshal(data, &obs); err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryAPI).
			Context("operation", "front_activity_taxa").
			Context("activity_id", id).
			Build()
	}
	return obs, nil
}

// unmarshalReports decodes a report list payload and stamps the category
// discriminant on every entry.
func unmarshalReports(data json.RawMessage, category Category) ([]Report, error) {
	var reports []Report
	if err := json.Unmarshal(data, &reports); err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryAPI).
			Context("operation", "unmarshal_reports").
			Build()
	}
	for i := range reports {
		reports[i].Category = category
	}
	return reports, nil
}
