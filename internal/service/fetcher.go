package service

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/spiffcs/testdeck/internal/model"
	"github.com/spiffcs/testdeck/internal/query"
	"golang.org/x/sync/errgroup"
)

// ProgressFunc is called as prefetch sources complete.
type ProgressFunc func(completed, total int)

// PrefetchResult holds the first page of every top-level collection.
type PrefetchResult struct {
	Files   *model.Page
	Reports *model.Page
}

// Prefetch warms the cache with the first page of files and reports in
// parallel. Unfinished jobs on those pages are tracked.
func (s *Session) Prefetch(ctx context.Context, onProgress ProgressFunc) (*PrefetchResult, error) {
	report := func(completed, total int) {
		if onProgress != nil {
			onProgress(completed, total)
		}
	}

	type source struct {
		name string
		key  query.Key
		load query.Loader
		out  **model.Page
	}
	limit := s.opts.PageSize
	result := &PrefetchResult{}
	sources := []source{
		{
			name: "test files",
			key:  FilesKey(1, limit),
			load: func(ctx context.Context) (*model.Page, error) { return s.api.ListTestFiles(ctx, 1, limit) },
			out:  &result.Files,
		},
		{
			name: "reports",
			key:  ReportsKey(1, limit),
			load: func(ctx context.Context) (*model.Page, error) { return s.api.ListReports(ctx, 1, limit) },
			out:  &result.Reports,
		},
	}

	var completed atomic.Int32
	report(0, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	for _, src := range sources {
		g.Go(func() error {
			defer func() { report(int(completed.Add(1)), len(sources)) }()
			p, err := s.cache.Ensure(gctx, src.key, src.load)
			if err != nil {
				return fmt.Errorf("%s: %w", src.name, err)
			}
			*src.out = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s.Track(result.Files)
	s.Track(result.Reports)
	return result, nil
}
