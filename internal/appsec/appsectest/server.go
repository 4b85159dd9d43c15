// Package appsectest provides an in-process fake of the application
// security API for tests.
package appsectest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/CZERTAINLY/scangate/internal/model"
)

const (
	APIKey   = "test-api-key"
	basePath = "/ias/v1"
)

type step struct {
	status model.ScanStatus
	code   int
}

// Server answers scan, action and search calls. GET /scans/{id} walks a
// scripted list of steps; the last step repeats once the script runs out.
type Server struct {
	*httptest.Server

	mu              sync.Mutex
	script          []step
	polls           int
	submitCode      int
	actionCode      int
	searchFailPage  int
	scanID          string
	details         model.ScanExecutionDetails
	vulnerabilities []model.Vulnerability
	scanConfigs     []model.ScanConfig
	actions         []model.ScanAction
	queries         []string
	searchTypes     []string
	searches        int
}

// New starts a fake server closed by t.Cleanup.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		submitCode:     http.StatusCreated,
		actionCode:     http.StatusOK,
		searchFailPage: -1,
		scanID:         "11111111-2222-3333-4444-555555555555",
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+basePath+"/scans", s.submit)
	mux.HandleFunc("GET "+basePath+"/scans/{id}", s.getScan)
	mux.HandleFunc("GET "+basePath+"/scans/{id}/execution-details", s.getDetails)
	mux.HandleFunc("PUT "+basePath+"/scans/{id}/action", s.action)
	mux.HandleFunc("POST "+basePath+"/search", s.search)
	s.Server = httptest.NewServer(requireKey(mux))
	t.Cleanup(s.Close)
	return s
}

// BaseURL is the API root to configure clients with.
func (s *Server) BaseURL() model.URL {
	u, err := model.ParseURL(s.URL + basePath)
	if err != nil {
		panic(err)
	}
	return u
}

func (s *Server) ScanID() model.ScanID {
	return model.ScanID(s.scanID)
}

// Statuses appends status observations to the poll script.
func (s *Server) Statuses(statuses ...model.ScanStatus) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range statuses {
		s.script = append(s.script, step{status: st, code: http.StatusOK})
	}
	return s
}

// Failures appends n failing polls answered with 503.
func (s *Server) Failures(n int) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	for range n {
		s.script = append(s.script, step{code: http.StatusServiceUnavailable})
	}
	return s
}

func (s *Server) SubmitCode(code int) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitCode = code
	return s
}

func (s *Server) ActionCode(code int) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actionCode = code
	return s
}

// FailSearchPage makes the given search page index answer 500.
func (s *Server) FailSearchPage(index int) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.searchFailPage = index
	return s
}

func (s *Server) Details(d model.ScanExecutionDetails) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.details = d
	return s
}

func (s *Server) Vulnerabilities(v ...model.Vulnerability) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vulnerabilities = append(s.vulnerabilities, v...)
	return s
}

func (s *Server) ScanConfigs(c ...model.ScanConfig) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scanConfigs = append(s.scanConfigs, c...)
	return s
}

// Actions returns the scan actions received so far.
func (s *Server) Actions() []model.ScanAction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.ScanAction(nil), s.actions...)
}

// Queries returns the search queries received so far, one per page.
func (s *Server) Queries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.queries...)
}

func (s *Server) Polls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.polls
}

func (s *Server) Searches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.searches
}

// SearchTypes returns the type of every search request, in arrival order.
func (s *Server) SearchTypes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.searchTypes...)
}

func requireKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != APIKey {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "invalid api key"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ScanConfig model.Ref `json:"scan_config"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ScanConfig.ID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "scan_config.id is required"})
		return
	}
	s.mu.Lock()
	code := s.submitCode
	s.mu.Unlock()
	if code != http.StatusCreated {
		writeJSON(w, code, map[string]string{"message": "submission rejected"})
		return
	}
	w.Header().Set("Location", s.URL+basePath+"/scans/"+s.scanID)
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) getScan(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	var st step
	switch {
	case len(s.script) == 0:
		st = step{status: model.StatusPending, code: http.StatusOK}
	case s.polls < len(s.script):
		st = s.script[s.polls]
	default:
		st = s.script[len(s.script)-1]
	}
	s.polls++
	s.mu.Unlock()

	if st.code != http.StatusOK {
		writeJSON(w, st.code, map[string]string{"message": "temporarily unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":          r.PathValue("id"),
		"scan_config": map[string]string{"id": "config"},
		"status":      st.status,
	})
}

func (s *Server) getDetails(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	d := s.details
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) action(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Action model.ScanAction `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}
	s.mu.Lock()
	s.actions = append(s.actions, body.Action)
	code := s.actionCode
	s.mu.Unlock()
	if code != http.StatusOK {
		writeJSON(w, code, map[string]string{"message": "action rejected"})
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Type  string `json:"type"`
		Query string `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}
	size, err1 := strconv.Atoi(r.URL.Query().Get("size"))
	index, err2 := strconv.Atoi(r.URL.Query().Get("index"))
	if err1 != nil || err2 != nil || size <= 0 || index < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "bad paging"})
		return
	}

	s.mu.Lock()
	s.searches++
	s.queries = append(s.queries, body.Query)
	s.searchTypes = append(s.searchTypes, body.Type)
	fail := s.searchFailPage == index
	var data []any
	switch body.Type {
	case "VULNERABILITY":
		for _, v := range s.vulnerabilities {
			data = append(data, v)
		}
	case "SCAN_CONFIG":
		for _, c := range s.scanConfigs {
			data = append(data, c)
		}
	default:
		s.mu.Unlock()
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": fmt.Sprintf("unsupported search type %q", body.Type)})
		return
	}
	s.mu.Unlock()

	if fail {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": fmt.Sprintf("page %d failed", index)})
		return
	}

	total := (len(data) + size - 1) / size
	from := min(index*size, len(data))
	to := min(from+size, len(data))
	writeJSON(w, http.StatusOK, map[string]any{
		"data": data[from:to],
		"metadata": map[string]int{
			"index":       index,
			"size":        size,
			"total_data":  len(data),
			"total_pages": total,
		},
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
