package credential

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// StaticSource hands out a pre-configured token.
type StaticSource struct{ token string }

func NewStaticSource(token string) *StaticSource { return &StaticSource{token: strings.TrimSpace(token)} }

func (s *StaticSource) Name() string { return "static" }

func (s *StaticSource) Acquire(context.Context) (string, error) {
	if s.token == "" {
		return "", errors.New("static token not configured")
	}
	return s.token, nil
}

// FallbackSource tries each source in order and returns the first token.
type FallbackSource struct{ sources []Source }

func NewFallbackSource(sources ...Source) *FallbackSource {
	return &FallbackSource{sources: sources}
}

func (f *FallbackSource) Name() string {
	names := make([]string, 0, len(f.sources))
	for _, s := range f.sources {
		names = append(names, s.Name())
	}
	return strings.Join(names, ">")
}

func (f *FallbackSource) Acquire(ctx context.Context) (string, error) {
	var errs []error
	for _, s := range f.sources {
		token, err := s.Acquire(ctx)
		if err == nil && token != "" {
			return token, nil
		}
		if err == nil {
			err = errors.New("empty token")
		}
		errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		if ctx.Err() != nil {
			break
		}
	}
	if len(errs) == 0 {
		return "", errors.New("no credential sources configured")
	}
	return "", errors.Join(errs...)
}
