package service

import (
	"context"
	"net/url"

	"github.com/spiffcs/testdeck/internal/model"
	"github.com/spiffcs/testdeck/internal/pager"
	"github.com/spiffcs/testdeck/internal/query"
)

// Cache keys of every query the session issues.

func FilesKey(page, limit int) query.Key {
	return query.PageKey(model.KindTestFiles, page, limit)
}

func TestcasesKey(fileID string, page, limit int) query.Key {
	return query.PageKey(model.KindTestcases, page, limit, "file_id", fileID)
}

func ReportsKey(page, limit int) query.Key {
	return query.PageKey(model.KindReports, page, limit)
}

func ReportDetailsKey(reportID string, page, limit int) query.Key {
	return query.PageKey(model.KindReportDetails, page, limit, "id", reportID)
}

func detailKey(kind, id string) query.Key {
	return query.NewKey(kind, url.Values{"id": {id}})
}

// Files pages through uploaded test files.
func (s *Session) Files(opts ...pager.Option) *pager.Pager[model.TestFile] {
	return pager.New[model.TestFile](s.cache, FilesKey, s.api.ListTestFiles, s.pagerOptions(opts)...)
}

// Testcases pages through the testcases of one file.
func (s *Session) Testcases(fileID string, opts ...pager.Option) *pager.Pager[model.Testcase] {
	return pager.New[model.Testcase](s.cache,
		func(page, limit int) query.Key { return TestcasesKey(fileID, page, limit) },
		func(ctx context.Context, page, limit int) (*model.Page, error) {
			return s.api.ListTestcases(ctx, fileID, page, limit)
		},
		s.pagerOptions(opts)...)
}

// Reports pages through reports.
func (s *Session) Reports(opts ...pager.Option) *pager.Pager[model.Report] {
	return pager.New[model.Report](s.cache, ReportsKey, s.api.ListReports, s.pagerOptions(opts)...)
}

// ReportDetails pages through the per-testcase results of one report.
func (s *Session) ReportDetails(reportID string, opts ...pager.Option) *pager.Pager[model.ReportDetail] {
	return pager.New[model.ReportDetail](s.cache,
		func(page, limit int) query.Key { return ReportDetailsKey(reportID, page, limit) },
		func(ctx context.Context, page, limit int) (*model.Page, error) {
			return s.api.ListReportDetails(ctx, reportID, page, limit)
		},
		s.pagerOptions(opts)...)
}

func (s *Session) pagerOptions(opts []pager.Option) []pager.Option {
	return append([]pager.Option{pager.WithPageSize(s.opts.PageSize)}, opts...)
}

// TestFile reads one test file through the cache.
func (s *Session) TestFile(ctx context.Context, id string) (model.TestFile, error) {
	return detail[model.TestFile](ctx, s, model.KindTestFile, id, func(ctx context.Context) (model.Resource, error) {
		return s.api.GetTestFile(ctx, id)
	})
}

// Report reads one report through the cache.
func (s *Session) Report(ctx context.Context, id string) (model.Report, error) {
	return detail[model.Report](ctx, s, model.KindReport, id, func(ctx context.Context) (model.Resource, error) {
		return s.api.GetReport(ctx, id)
	})
}

// MarkStale marks the cached detail reads of ids stale so the next TestFile
// or Report call for them asks the server.
func (s *Session) MarkStale(ids ...string) {
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	s.cache.Invalidate(func(k query.Key) bool {
		if k.Kind != model.KindTestFile && k.Kind != model.KindReport {
			return false
		}
		_, ok := want[k.Param("id")]
		return ok
	})
}

// detail caches a single resource as a one-item page, so progress events
// patch it like any list entry.
func detail[T model.Resource](ctx context.Context, s *Session, kind, id string, get func(context.Context) (model.Resource, error)) (T, error) {
	var zero T
	p, err := s.cache.Ensure(ctx, detailKey(kind, id), func(ctx context.Context) (*model.Page, error) {
		r, err := get(ctx)
		if err != nil {
			return nil, err
		}
		return model.SinglePage(r), nil
	})
	if err != nil {
		return zero, err
	}
	if p == nil || len(p.Items) == 0 {
		return zero, nil
	}
	v, _ := p.Items[0].(T)
	return v, nil
}
