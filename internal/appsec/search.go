package appsec

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/CZERTAINLY/scangate/internal/model"
)

// SearchType selects the resource kind a search query runs against.
type SearchType string

const (
	SearchVulnerability SearchType = "VULNERABILITY"
	SearchScanConfig    SearchType = "SCAN_CONFIG"
)

// SearchRequest is the body of POST /search.
type SearchRequest struct {
	Type  SearchType `json:"type"`
	Query string     `json:"query"`
}

type pageMetadata struct {
	Index      int `json:"index"`
	Size       int `json:"size"`
	TotalData  int `json:"total_data"`
	TotalPages int `json:"total_pages"`
	// some deployments answer in camelCase
	TotalPagesCamel int `json:"totalPages"`
}

func (m pageMetadata) pages() int {
	return max(m.TotalPages, m.TotalPagesCamel)
}

type page[T any] struct {
	Metadata pageMetadata `json:"metadata"`
	Data     []T          `json:"data"`
}

// QueryAll runs a search and collects every page in page order. Page 0 is
// fetched first to learn the page count; the remaining pages are fetched
// concurrently into fixed slots. The first failing page fails the search.
func QueryAll[T any](ctx context.Context, c *Client, req SearchRequest) ([]T, error) {
	first, err := fetchPage[T](ctx, c, req, 0)
	if err != nil {
		return nil, err
	}
	total := first.Metadata.pages()
	if total == 0 || len(first.Data) == 0 {
		return []T{}, nil
	}

	pages := make([][]T, total)
	pages[0] = first.Data

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.pageWorkers)
	for i := 1; i < total; i++ {
		g.Go(func() error {
			p, err := fetchPage[T](gctx, c, req, i)
			if err != nil {
				return err
			}
			pages[i] = p.Data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	n := 0
	for _, p := range pages {
		n += len(p)
	}
	ret := make([]T, 0, n)
	for _, p := range pages {
		ret = append(ret, p...)
	}
	return ret, nil
}

func fetchPage[T any](ctx context.Context, c *Client, req SearchRequest, index int) (page[T], error) {
	op := fmt.Sprintf("search %s page %d", req.Type, index)
	query := url.Values{
		"size":  []string{strconv.Itoa(c.pageSize)},
		"index": []string{strconv.Itoa(index)},
	}
	resp, err := c.do(ctx, http.MethodPost, "search", query, req)
	if err != nil {
		return page[T]{}, &model.Error{Kind: model.KindRetrieval, Op: op, Err: err}
	}
	defer drain(resp)
	if resp.StatusCode != http.StatusOK {
		return page[T]{}, &model.Error{Kind: model.KindRetrieval, Op: op, StatusCode: resp.StatusCode, Err: responseError(resp)}
	}
	var p page[T]
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return page[T]{}, &model.Error{Kind: model.KindRetrieval, Op: op, Err: fmt.Errorf("decoding json response failed: %w", err)}
	}
	return p, nil
}

// SearchVulnerabilities returns every vulnerability matching query.
func (c *Client) SearchVulnerabilities(ctx context.Context, query string) ([]model.Vulnerability, error) {
	return QueryAll[model.Vulnerability](ctx, c, SearchRequest{Type: SearchVulnerability, Query: query})
}

func (c *Client) SearchScanConfigs(ctx context.Context, query string) ([]model.ScanConfig, error) {
	return QueryAll[model.ScanConfig](ctx, c, SearchRequest{Type: SearchScanConfig, Query: query})
}
