package appsec_test

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/CZERTAINLY/scangate/internal/appsec"
	"github.com/CZERTAINLY/scangate/internal/appsec/appsectest"
	"github.com/CZERTAINLY/scangate/internal/model"

	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T, srv *appsectest.Server, opts ...func(*appsec.Options)) *appsec.Client {
	t.Helper()
	o := appsec.Options{
		BaseURL: srv.BaseURL(),
		APIKey:  appsectest.APIKey,
	}
	for _, fn := range opts {
		fn(&o)
	}
	c, err := appsec.New(o)
	require.NoError(t, err)
	return c
}

func vulns(n int) []model.Vulnerability {
	ret := make([]model.Vulnerability, n)
	for i := range ret {
		ret[i] = model.Vulnerability{ID: fmt.Sprintf("v-%04d", i), Severity: "LOW"}
	}
	return ret
}

func TestNew(t *testing.T) {
	t.Parallel()

	_, err := appsec.New(appsec.Options{APIKey: "k"})
	require.Error(t, err)

	_, err = appsec.New(appsec.Options{Region: "us"})
	require.Error(t, err)

	_, err = appsec.New(appsec.Options{Region: "mars", APIKey: "k"})
	require.ErrorIs(t, err, model.ErrUnrecognized)

	c, err := appsec.New(appsec.Options{Region: "EU", APIKey: "k"})
	require.NoError(t, err)
	require.Equal(t, "https://eu.api.insight.rapid7.com/ias/v1", c.BaseURL())
}

func TestRegions(t *testing.T) {
	t.Parallel()

	t.Run("known", func(t *testing.T) {
		t.Parallel()
		regions := appsec.Regions()
		require.Len(t, regions, 7)
		require.Equal(t, "ap", regions[0].Code)
		for _, r := range regions {
			u, err := appsec.ResolveRegion(r.Code)
			require.NoError(t, err)
			require.Equal(t, r.URL, u.String())
		}
		u, err := appsec.ResolveRegion(" US2 ")
		require.NoError(t, err)
		require.Equal(t, "https://us2.api.insight.rapid7.com/ias/v1", u.String())
	})

	t.Run("unknown", func(t *testing.T) {
		t.Parallel()
		_, err := appsec.ResolveRegion("mars")
		require.ErrorIs(t, err, model.ErrUnrecognized)
		require.Equal(t, model.KindUnrecognized, model.KindOf(err))
		require.ErrorContains(t, err, `unknown region "mars", expected one of ap, au, ca, eu, us, us2, us3`)
	})
}

func TestSubmitScan(t *testing.T) {
	t.Parallel()

	t.Run("created", func(t *testing.T) {
		srv := appsectest.New(t)
		id, err := newClient(t, srv).SubmitScan(t.Context(), "config-1")
		require.NoError(t, err)
		require.Equal(t, srv.ScanID(), id)
	})

	t.Run("rejected", func(t *testing.T) {
		srv := appsectest.New(t).SubmitCode(http.StatusBadRequest)
		_, err := newClient(t, srv).SubmitScan(t.Context(), "config-1")
		require.ErrorIs(t, err, model.ErrSubmission)
		require.Contains(t, err.Error(), "submission rejected")
		var merr *model.Error
		require.ErrorAs(t, err, &merr)
		require.Equal(t, http.StatusBadRequest, merr.StatusCode)
	})

	t.Run("bad api key", func(t *testing.T) {
		srv := appsectest.New(t)
		c, err := appsec.New(appsec.Options{BaseURL: srv.BaseURL(), APIKey: "wrong"})
		require.NoError(t, err)
		_, err = c.SubmitScan(t.Context(), "config-1")
		require.ErrorIs(t, err, model.ErrSubmission)
		require.Equal(t, model.KindSubmission, model.KindOf(err))
	})
}

func TestGetScan(t *testing.T) {
	t.Parallel()
	srv := appsectest.New(t).Statuses(model.StatusRunning, "SOMETHING_NEW").Failures(1)
	c := newClient(t, srv)

	scan, err := c.GetScan(t.Context(), srv.ScanID())
	require.NoError(t, err)
	require.Equal(t, srv.ScanID(), scan.ID)
	require.Equal(t, model.StatusRunning, scan.Status)

	scan, err = c.GetScan(t.Context(), srv.ScanID())
	require.NoError(t, err)
	require.Equal(t, model.StatusUnknown, scan.Status)

	_, err = c.GetScan(t.Context(), srv.ScanID())
	require.ErrorIs(t, err, model.ErrRetrieval)
}

func TestGetExecutionDetails(t *testing.T) {
	t.Parallel()
	want := model.ScanExecutionDetails{LinksCrawled: 12, Attacked: 3, Requests: 400, FailedRequests: 1}
	srv := appsectest.New(t).Details(want)

	got, err := newClient(t, srv).GetExecutionDetails(t.Context(), srv.ScanID())
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestSubmitScanAction(t *testing.T) {
	t.Parallel()

	srv := appsectest.New(t)
	err := newClient(t, srv).SubmitScanAction(t.Context(), srv.ScanID(), model.ActionStop)
	require.NoError(t, err)
	require.Equal(t, []model.ScanAction{model.ActionStop}, srv.Actions())

	srv = appsectest.New(t).ActionCode(http.StatusConflict)
	err = newClient(t, srv).SubmitScanAction(t.Context(), srv.ScanID(), model.ActionCancel)
	require.ErrorIs(t, err, model.ErrAction)
	require.Equal(t, []model.ScanAction{model.ActionCancel}, srv.Actions())
}

func TestQueryAll(t *testing.T) {
	t.Parallel()
	pageSize := func(o *appsec.Options) { o.PageSize = 10 }

	t.Run("pages in order", func(t *testing.T) {
		want := vulns(25)
		srv := appsectest.New(t).Vulnerabilities(want...)
		got, err := newClient(t, srv, pageSize).SearchVulnerabilities(t.Context(), "vulnerability.severity='LOW'")
		require.NoError(t, err)
		require.Equal(t, want, got)
		require.Equal(t, 3, srv.Searches())
		for _, q := range srv.Queries() {
			require.Equal(t, "vulnerability.severity='LOW'", q)
		}
	})

	t.Run("exact page boundary", func(t *testing.T) {
		srv := appsectest.New(t).Vulnerabilities(vulns(20)...)
		got, err := newClient(t, srv, pageSize).SearchVulnerabilities(t.Context(), "q")
		require.NoError(t, err)
		require.Len(t, got, 20)
		require.Equal(t, 2, srv.Searches())
	})

	t.Run("empty", func(t *testing.T) {
		srv := appsectest.New(t)
		got, err := newClient(t, srv, pageSize).SearchVulnerabilities(t.Context(), "q")
		require.NoError(t, err)
		require.NotNil(t, got)
		require.Empty(t, got)
		require.Equal(t, 1, srv.Searches())
	})

	t.Run("failing page", func(t *testing.T) {
		srv := appsectest.New(t).Vulnerabilities(vulns(35)...).FailSearchPage(2)
		got, err := newClient(t, srv, pageSize).SearchVulnerabilities(t.Context(), "q")
		require.ErrorIs(t, err, model.ErrRetrieval)
		require.Nil(t, got)
	})

	t.Run("scan configs", func(t *testing.T) {
		srv := appsectest.New(t).ScanConfigs(model.ScanConfig{ID: "c1", Name: "nightly"})
		got, err := newClient(t, srv).SearchScanConfigs(t.Context(), "scanconfig.id='c1'")
		require.NoError(t, err)
		require.Equal(t, []model.ScanConfig{{ID: "c1", Name: "nightly"}}, got)
		require.Equal(t, []string{string(appsec.SearchScanConfig)}, srv.SearchTypes())
	})

	t.Run("search types", func(t *testing.T) {
		srv := appsectest.New(t).Vulnerabilities(vulns(1)...)
		c := newClient(t, srv)
		_, err := c.SearchVulnerabilities(t.Context(), "q")
		require.NoError(t, err)
		_, err = c.SearchScanConfigs(t.Context(), "q")
		require.NoError(t, err)
		require.Equal(t, []string{
			string(appsec.SearchVulnerability),
			string(appsec.SearchScanConfig),
		}, srv.SearchTypes())
	})
}
