package report

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

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/CZERTAINLY/scangate/internal/model"
)

const uploadPath = "api/v1/bom"

// RepositorySink posts the CycloneDX report to a BOM repository
// regardless of the configured output format.
type RepositorySink struct {
	requestURL *url.URL
	client     *http.Client
}

func NewRepositorySink(serverURL model.URL, client *http.Client) (*RepositorySink, error) {
	if serverURL.IsZero() {
		return nil, errors.New("repository url is empty")
	}
	if serverURL.Path != "" {
		return nil, errors.New("please define the repository url with a scheme and without path, e.g. `http://some-url.com`")
	}
	if client == nil {
		client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	return &RepositorySink{
		requestURL: serverURL.Join(uploadPath),
		client:     client,
	}, nil
}

func (s *RepositorySink) Publish(ctx context.Context, doc *Document) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.requestURL.String(), bytes.NewReader(doc.CycloneDX.Data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", doc.CycloneDX.ContentType)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("uploading report: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	created, err := decodeUploadResponse(resp)
	if err != nil {
		return fmt.Errorf("uploading report: %w", err)
	}
	slog.DebugContext(ctx, "BOM uploaded successfully.",
		slog.String("urn", created.SerialNumber),
		slog.Int("version", created.Version))
	return nil
}

type bomCreateResponse struct {
	SerialNumber string `json:"serialNumber"`
	Version      int    `json:"version"`
}

func decodeUploadResponse(resp *http.Response) (bomCreateResponse, error) {
	contentType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil && resp.StatusCode == http.StatusCreated {
		return bomCreateResponse{}, fmt.Errorf("failed to parse response content type header: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusCreated:
		if contentType != "application/json" {
			return bomCreateResponse{}, fmt.Errorf("expected `application/json` content type, got: %s", contentType)
		}
		var bc bomCreateResponse
		if err := json.NewDecoder(resp.Body).Decode(&bc); err != nil {
			return bomCreateResponse{}, fmt.Errorf("decoding json response failed: %w", err)
		}
		if bc.SerialNumber == "" || bc.Version == 0 {
			return bomCreateResponse{}, errors.New("received unexpected body")
		}
		return bc, nil

	case http.StatusBadRequest, http.StatusConflict, http.StatusUnsupportedMediaType:
		if contentType != "application/problem+json" {
			return bomCreateResponse{}, fmt.Errorf("expected `application/problem+json` content type, got: %s", contentType)
		}
		var problemDetail struct {
			Detail string `json:"detail"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&problemDetail); err != nil {
			return bomCreateResponse{}, fmt.Errorf("decoding json response failed: %w", err)
		}
		return bomCreateResponse{}, fmt.Errorf("status code: %d, detail: %s", resp.StatusCode, problemDetail.Detail)
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	if err != nil {
		return bomCreateResponse{}, err
	}
	return bomCreateResponse{}, fmt.Errorf("unknown error, status: %d, body: %s", resp.StatusCode, string(respBody))
}
