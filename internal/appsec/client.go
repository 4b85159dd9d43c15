package appsec

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/CZERTAINLY/scangate/internal/model"
)

const (
	apiKeyHeader     = "X-Api-Key"
	defaultUserAgent = "scangate"
	defaultPageSize  = 1000
	defaultWorkers   = 4
	maxErrorBody     = 4 << 10
)

// Options configure a Client. BaseURL wins over Region when both are set.
type Options struct {
	BaseURL     model.URL
	Region      string
	APIKey      string
	Timeout     time.Duration
	RateLimit   float64 // requests per second, 0 disables limiting
	Burst       int
	UserAgent   string
	PageSize    int
	PageWorkers int
	HTTPClient  *http.Client
}

// Client talks to the application security REST API. One Client is built
// per run; it is safe for concurrent use by the paged search.
type Client struct {
	baseURL     *url.URL
	apiKey      string
	client      *http.Client
	limiter     *rate.Limiter
	userAgent   string
	pageSize    int
	pageWorkers int
}

func New(opts Options) (*Client, error) {
	var base *url.URL
	switch {
	case !opts.BaseURL.IsZero():
		base = opts.BaseURL.Join()
	case opts.Region != "":
		var err error
		base, err = ResolveRegion(opts.Region)
		if err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("appsec: base url or region is required")
	}
	if opts.APIKey == "" {
		return nil, errors.New("appsec: api key is empty")
	}

	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport.(*http.Transport).Clone()),
			Timeout:   opts.Timeout,
		}
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	c := &Client{
		baseURL:     base,
		apiKey:      opts.APIKey,
		client:      hc,
		limiter:     limiter,
		userAgent:   opts.UserAgent,
		pageSize:    opts.PageSize,
		pageWorkers: opts.PageWorkers,
	}
	if c.userAgent == "" {
		c.userAgent = defaultUserAgent
	}
	if c.pageSize <= 0 {
		c.pageSize = defaultPageSize
	}
	if c.pageWorkers <= 0 {
		c.pageWorkers = defaultWorkers
	}
	return c, nil
}

// BaseURL returns the versioned API root requests are sent to.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

type submitScanRequest struct {
	ScanConfig model.Ref `json:"scan_config"`
}

// SubmitScan starts a scan of the given scan config. The service answers
// 201 with the new scan in the Location header.
func (c *Client) SubmitScan(ctx context.Context, scanConfigID string) (model.ScanID, error) {
	const op = "submit scan"
	resp, err := c.do(ctx, http.MethodPost, "scans", nil, submitScanRequest{ScanConfig: model.Ref{ID: scanConfigID}})
	if err != nil {
		return "", &model.Error{Kind: model.KindSubmission, Op: op, Err: err}
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusCreated {
		return "", &model.Error{Kind: model.KindSubmission, Op: op, StatusCode: resp.StatusCode, Err: responseError(resp)}
	}
	id, err := scanIDFromLocation(resp.Header.Get("Location"))
	if err != nil {
		return "", &model.Error{Kind: model.KindSubmission, Op: op, StatusCode: resp.StatusCode, Err: err}
	}
	slog.DebugContext(ctx, "scan created", "scan_id", id, "location", resp.Header.Get("Location"))
	return id, nil
}

func scanIDFromLocation(location string) (model.ScanID, error) {
	if location == "" {
		return "", errors.New("response has no Location header")
	}
	u, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("parsing Location header: %w", err)
	}
	id := path.Base(strings.TrimRight(u.Path, "/"))
	if id == "" || id == "." || id == "/" {
		return "", fmt.Errorf("no scan id in Location %q", location)
	}
	return model.ScanID(id), nil
}

func (c *Client) GetScan(ctx context.Context, id model.ScanID) (model.Scan, error) {
	var scan model.Scan
	err := c.getJSON(ctx, "get scan", id, &scan, "scans", string(id))
	if err != nil {
		return model.Scan{}, err
	}
	if scan.Status == "" {
		scan.Status = model.StatusUnknown
	}
	return scan, nil
}

func (c *Client) GetExecutionDetails(ctx context.Context, id model.ScanID) (model.ScanExecutionDetails, error) {
	var details model.ScanExecutionDetails
	err := c.getJSON(ctx, "get execution details", id, &details, "scans", string(id), "execution-details")
	return details, err
}

type scanActionRequest struct {
	Action model.ScanAction `json:"action"`
}

// SubmitScanAction sends STOP or CANCEL. Only 200 counts as accepted.
func (c *Client) SubmitScanAction(ctx context.Context, id model.ScanID, action model.ScanAction) error {
	op := "submit " + strings.ToLower(string(action)) + " action"
	resp, err := c.do(ctx, http.MethodPut, path.Join("scans", string(id), "action"), nil, scanActionRequest{Action: action})
	if err != nil {
		return &model.Error{Kind: model.KindAction, Op: op, ScanID: id, Err: err}
	}
	defer drain(resp)
	if resp.StatusCode != http.StatusOK {
		return &model.Error{Kind: model.KindAction, Op: op, ScanID: id, StatusCode: resp.StatusCode, Err: responseError(resp)}
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, op string, id model.ScanID, out any, elem ...string) error {
	resp, err := c.do(ctx, http.MethodGet, path.Join(elem...), nil, nil)
	if err != nil {
		return &model.Error{Kind: model.KindRetrieval, Op: op, ScanID: id, Err: err}
	}
	defer drain(resp)
	if resp.StatusCode != http.StatusOK {
		return &model.Error{Kind: model.KindRetrieval, Op: op, ScanID: id, StatusCode: resp.StatusCode, Err: responseError(resp)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &model.Error{Kind: model.KindRetrieval, Op: op, ScanID: id, Err: fmt.Errorf("decoding json response failed: %w", err)}
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, p string, query url.Values, body any) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	u := c.baseURL.JoinPath(p)
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set(apiKeyHeader, c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.client.Do(req)
}

// responseError turns an unexpected response into an error carrying the
// service message when there is one.
func responseError(resp *http.Response) error {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	ct, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if ct == "application/json" || ct == "application/problem+json" {
		var detail struct {
			Message string `json:"message"`
			Detail  string `json:"detail"`
		}
		if json.Unmarshal(raw, &detail) == nil {
			if detail.Message != "" {
				return fmt.Errorf("unexpected status %s: %s", resp.Status, detail.Message)
			}
			if detail.Detail != "" {
				return fmt.Errorf("unexpected status %s: %s", resp.Status, detail.Detail)
			}
		}
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return fmt.Errorf("unexpected status %s: %s", resp.Status, text)
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	_ = resp.Body.Close()
}
