package report

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/CZERTAINLY/scangate/internal/model"
)

// FromConfig builds the sinks selected by the output configuration. stdout
// is used when nothing else is configured.
func FromConfig(ctx context.Context, cfg model.Output, stdout io.Writer) ([]Sink, error) {
	var sinks []Sink
	if cfg.Stdout {
		sinks = append(sinks, NewWriteSink(stdout))
	}
	if cfg.Dir != "" {
		s, err := NewDirSink(cfg.Dir)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if cfg.Artifacts != nil && cfg.Artifacts.Enabled {
		s, err := NewArtifactSink(ctx, *cfg.Artifacts)
		if err != nil {
			Close(ctx, sinks...)
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if cfg.Repository != nil && cfg.Repository.Enabled {
		s, err := NewRepositorySink(cfg.Repository.URL, nil)
		if err != nil {
			Close(ctx, sinks...)
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if len(sinks) == 0 {
		sinks = append(sinks, NewWriteSink(stdout))
	}
	return sinks, nil
}

// WriteSink writes the selected files to w one after another.
type WriteSink struct {
	w io.Writer
}

func NewWriteSink(w io.Writer) WriteSink {
	return WriteSink{w: w}
}

func (s WriteSink) Publish(_ context.Context, doc *Document) error {
	if s.w == nil {
		s.w = os.Stdout
	}
	for _, f := range doc.Files() {
		if _, err := s.w.Write(f.Data); err != nil {
			return fmt.Errorf("writing %s: %w", f.Name, err)
		}
	}
	return nil
}

// DirSink stores the selected files in a directory. Writes cannot escape it.
type DirSink struct {
	root *os.Root
}

func NewDirSink(path string) (*DirSink, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("creating output dir: %w", err)
	}
	root, err := os.OpenRoot(path)
	if err != nil {
		return nil, err
	}
	return &DirSink{root: root}, nil
}

func (s *DirSink) Publish(ctx context.Context, doc *Document) error {
	if s.root == nil {
		return errors.New("root already closed")
	}
	for _, file := range doc.Files() {
		f, err := s.root.Create(file.Name)
		if err != nil {
			return fmt.Errorf("creating scangate results: %w", err)
		}
		_, err = f.Write(file.Data)
		if err != nil {
			_ = f.Close()
			return fmt.Errorf("writing scangate results: %w", err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("closing scangate results: %w", err)
		}
		slog.DebugContext(ctx, "report stored", "dir", s.root.Name(), "file", file.Name)
	}
	return nil
}

func (s *DirSink) Close() error {
	if s.root == nil {
		return nil
	}
	err := s.root.Close()
	s.root = nil
	return err
}
