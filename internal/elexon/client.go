// Package elexon fetches actual generation output from the Elexon Insights
// API and normalizes it into generation records.
package elexon

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/gridscope/elexon-pipeline/internal/model"
	"github.com/gridscope/elexon-pipeline/internal/resilience"
)

// DefaultBaseURL is the Elexon Insights API root.
const DefaultBaseURL = "https://data.elexon.co.uk/bmrs/api/v1"

// generationPath serves actual per-type wind and solar generation (AGWS).
const generationPath = "/generation/actual/per-type/wind-and-solar"

const dateLayout = "2006-01-02"

// Options configures the API client.
type Options struct {
	BaseURL           string
	UserAgent         string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	Retry             resilience.RetryConfig
}

// Client calls the Elexon Insights API with rate limiting and retries.
type Client struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	limiter    *rate.Limiter
	retry      resilience.RetryConfig
}

// NewClient creates a Client with the given options. Zero-valued options
// fall back to defaults suitable for the public API.
func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "elexon-pipeline/1.0"
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 5
	}
	if opts.Burst <= 0 {
		opts.Burst = 5
	}
	retry := opts.Retry
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("elexon", "fetch_window")
	}

	transport := &http.Transport{
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Client{
		httpClient: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		baseURL:   strings.TrimSuffix(opts.BaseURL, "/"),
		userAgent: opts.UserAgent,
		limiter:   rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.Burst),
		retry:     retry,
	}
}

// Result holds the normalized records from one window fetch. Dropped counts
// raw records discarded for missing a PSR type or start time.
type Result struct {
	Records []model.GenerationRecord
	Dropped int
}

type apiRecord struct {
	PublishTime      string   `json:"publishTime"`
	BusinessType     string   `json:"businessType"`
	PSRType          string   `json:"psrType"`
	Quantity         *float64 `json:"quantity"`
	StartTime        string   `json:"startTime"`
	SettlementDate   string   `json:"settlementDate"`
	SettlementPeriod int      `json:"settlementPeriod"`
}

type apiResponse struct {
	Data     []apiRecord `json:"data"`
	Metadata struct {
		Datasets []string `json:"datasets"`
	} `json:"metadata"`
}

// FetchWindow retrieves all generation records covering w. The API takes
// inclusive dates, so the request ends one day before w.End. Transient
// failures (429, 5xx, network) are retried; 4xx and malformed bodies fail
// immediately.
func (c *Client) FetchWindow(ctx context.Context, w model.Window) (*Result, error) {
	reqURL := c.windowURL(w)
	log := zap.L().With(zap.String("window", w.String()))

	payload, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*apiResponse, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "rate limiter wait")
		}
		return c.fetchOnce(ctx, reqURL)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "fetch window %s", w)
	}

	records, dropped := normalize(payload)
	if dropped > 0 {
		log.Warn("dropped malformed records", zap.Int("dropped", dropped))
	}
	log.Debug("window fetched",
		zap.Int("records", len(records)),
		zap.Strings("datasets", payload.Metadata.Datasets),
	)

	return &Result{Records: records, Dropped: dropped}, nil
}

func (c *Client) windowURL(w model.Window) string {
	q := url.Values{}
	q.Set("from", w.Start.Format(dateLayout))
	q.Set("to", w.End.AddDate(0, 0, -1).Format(dateLayout))
	q.Set("format", "json")
	return c.baseURL + generationPath + "?" + q.Encode()
}

func (c *Client) fetchOnce(ctx context.Context, reqURL string) (*apiResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "create request")
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		cause := eris.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(cause, resp.StatusCode)
		}
		return nil, resilience.NewPermanentError(cause, resp.StatusCode)
	}

	var payload apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, resilience.NewPermanentError(eris.Wrap(err, "decode response"), resp.StatusCode)
	}
	return &payload, nil
}

func normalize(payload *apiResponse) ([]model.GenerationRecord, int) {
	records := make([]model.GenerationRecord, 0, len(payload.Data))
	index := make(map[model.RecordKey]int, len(payload.Data))
	dropped := 0

	for _, raw := range payload.Data {
		if raw.PSRType == "" || raw.StartTime == "" {
			dropped++
			continue
		}
		start, err := time.Parse(time.RFC3339, raw.StartTime)
		if err != nil {
			dropped++
			continue
		}

		rec := model.GenerationRecord{
			BusinessType:     raw.BusinessType,
			PSRType:          raw.PSRType,
			StartTime:        start.UTC(),
			SettlementDate:   raw.SettlementDate,
			SettlementPeriod: raw.SettlementPeriod,
		}
		if raw.PublishTime != "" {
			if ts, perr := time.Parse(time.RFC3339, raw.PublishTime); perr == nil {
				rec.PublishTime = ts.UTC()
			}
		}
		if raw.Quantity != nil {
			rec.Quantity = *raw.Quantity
		} else {
			rec.QuantityMissing = true
		}

		// The API occasionally repeats a (psrType, startTime) pair within
		// one response; the later entry wins.
		if i, ok := index[rec.Key()]; ok {
			records[i] = rec
			continue
		}
		index[rec.Key()] = len(records)
		records = append(records, rec)
	}

	return records, dropped
}
