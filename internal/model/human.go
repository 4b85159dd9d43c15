// human readable and writable stdlib types
// which can be used inside config file
package model

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
)

// URL is an absolute http(s) URL. Environment variables in the text form
// are expanded, so secrets and hosts can come from the CI environment.
type URL struct {
	*url.URL
}

func ParseURL(s string) (URL, error) {
	var u URL
	err := u.UnmarshalText([]byte(s))
	return u, err
}

func (u URL) IsZero() bool {
	return u.URL == nil
}

// Join returns a copy of u with elem appended to the path.
func (u URL) Join(elem ...string) *url.URL {
	if u.URL == nil {
		return nil
	}
	return u.URL.JoinPath(elem...)
}

func (u *URL) UnmarshalText(text []byte) error {
	if u == nil {
		return errors.New("can't unmarshal to nil")
	}
	raw := strings.TrimSpace(os.ExpandEnv(string(text)))
	if raw == "" {
		u.URL = nil
		return nil
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("url %q: scheme must be http or https", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("url %q: missing host", raw)
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/")
	u.URL = parsed
	return nil
}

func (u URL) MarshalText() ([]byte, error) {
	if u.URL == nil {
		return []byte{}, nil
	}
	return []byte(u.String()), nil
}
