// Package credentials resolves the API key a run authenticates with.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

var ErrNotFound = errors.New("api key not found")

// Store looks up an API key by region and credentials id. Both may be
// empty, which selects the default key.
type Store interface {
	APIKey(ctx context.Context, region, id string) (string, error)
}

const envPrefix = "SCANGATE_API_KEY"

// EnvStore reads keys from the environment, most specific name first:
//
//	SCANGATE_API_KEY_<REGION>_<ID>
//	SCANGATE_API_KEY_<ID>
//	SCANGATE_API_KEY
type EnvStore struct {
	// Lookup defaults to os.LookupEnv.
	Lookup func(string) (string, bool)
}

func (s EnvStore) APIKey(_ context.Context, region, id string) (string, error) {
	lookup := s.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	var names []string
	if id != "" {
		if region != "" {
			names = append(names, envPrefix+"_"+envName(region)+"_"+envName(id))
		}
		names = append(names, envPrefix+"_"+envName(id))
	}
	names = append(names, envPrefix)

	for _, name := range names {
		if v, ok := lookup(name); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v), nil
		}
	}
	return "", fmt.Errorf("%w: set one of %s", ErrNotFound, strings.Join(names, ", "))
}

func envName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		}
		return '_'
	}, s)
}

// File is the on-disk layout of a credentials file:
//
//	default: <key>
//	regions:
//	  us:
//	    default: <key>
//	    nightly: <key>
type File struct {
	Default string                       `yaml:"default,omitempty"`
	Regions map[string]map[string]string `yaml:"regions,omitempty"`
}

// FileStore reads keys from a YAML credentials file.
type FileStore struct {
	path string
	file File
}

func NewFileStore(path string) (*FileStore, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening credentials file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	var file File
	if err := yaml.NewDecoder(f).Decode(&file); err != nil {
		return nil, fmt.Errorf("decoding credentials file %s: %w", path, err)
	}
	return &FileStore{path: path, file: file}, nil
}

func (s *FileStore) APIKey(_ context.Context, region, id string) (string, error) {
	if keys, ok := s.file.Regions[strings.ToLower(region)]; ok {
		if id != "" {
			if key := keys[id]; key != "" {
				return key, nil
			}
		} else if key := keys["default"]; key != "" {
			return key, nil
		}
	}
	if id == "" && s.file.Default != "" {
		return s.file.Default, nil
	}
	return "", fmt.Errorf("%w: no key for region %q id %q in %s", ErrNotFound, region, id, s.path)
}

// Chain asks each store in turn and returns the first key found. Errors
// other than ErrNotFound stop the lookup.
type Chain []Store

func (c Chain) APIKey(ctx context.Context, region, id string) (string, error) {
	var errs []error
	for _, s := range c {
		key, err := s.APIKey(ctx, region, id)
		switch {
		case err == nil:
			return key, nil
		case errors.Is(err, ErrNotFound):
			errs = append(errs, err)
		default:
			return "", err
		}
	}
	if len(errs) == 0 {
		return "", ErrNotFound
	}
	return "", errors.Join(errs...)
}
