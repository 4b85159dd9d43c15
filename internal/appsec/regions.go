package appsec

import (
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/CZERTAINLY/scangate/internal/model"
)

const apiVersionPath = "/ias/v1"

var regions = map[string]string{
	"us":  "us.api.insight.rapid7.com",
	"us2": "us2.api.insight.rapid7.com",
	"us3": "us3.api.insight.rapid7.com",
	"eu":  "eu.api.insight.rapid7.com",
	"ca":  "ca.api.insight.rapid7.com",
	"au":  "au.api.insight.rapid7.com",
	"ap":  "ap.api.insight.rapid7.com",
}

// Region is a named deployment of the service.
type Region struct {
	Code string
	URL  string
}

// Regions lists the known regions sorted by code.
func Regions() []Region {
	ret := make([]Region, 0, len(regions))
	for code := range regions {
		u, _ := ResolveRegion(code)
		ret = append(ret, Region{Code: code, URL: u.String()})
	}
	slices.SortFunc(ret, func(a, b Region) int {
		return strings.Compare(a.Code, b.Code)
	})
	return ret
}

// ResolveRegion maps a region code to the versioned API root.
func ResolveRegion(code string) (*url.URL, error) {
	host, ok := regions[strings.ToLower(strings.TrimSpace(code))]
	if !ok {
		known := make([]string, 0, len(regions))
		for k := range regions {
			known = append(known, k)
		}
		slices.Sort(known)
		return nil, &model.Error{
			Kind: model.KindUnrecognized,
			Op:   "resolve region",
			Err:  fmt.Errorf("unknown region %q, expected one of %s", code, strings.Join(known, ", ")),
		}
	}
	return &url.URL{Scheme: "https", Host: host, Path: apiVersionPath}, nil
}
