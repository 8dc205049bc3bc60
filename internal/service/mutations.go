package service

import (
	"context"
	"io"

	"github.com/google/uuid"
	"github.com/spiffcs/testdeck/internal/api"
	"github.com/spiffcs/testdeck/internal/model"
	"github.com/spiffcs/testdeck/internal/mutation"
	"github.com/spiffcs/testdeck/internal/query"
)

// Mutation names reported by IsPending.
const (
	OpUpload = "upload"
	OpDelete = "delete"
	OpRun    = "run"
)

// IsPlaceholder reports whether id belongs to an optimistic item.
func IsPlaceholder(id string) bool {
	return model.IsPlaceholder(id)
}

// laterPages selects list pages other than the first. Inserting at the
// top shifts their windows by an item the client does not have.
func laterPages(kind string) query.Predicate {
	return query.And(query.KindIs(kind), query.Not(query.HasParam("page", "1")))
}

// Upload sends a test file. A placeholder is shown at the top of the first
// page until the server answers; the new file is then tracked until its
// processing finishes.
func (s *Session) Upload(ctx context.Context, name, filename string, content io.Reader) (model.TestFile, error) {
	placeholder := model.TestFile{
		ID:     model.PlaceholderID(uuid.NewString()),
		Name:   name,
		Status: model.StatusProcessing,
	}
	files := query.KindIs(model.KindTestFiles)

	created, err := mutation.Execute(ctx, s.executor, mutation.Operation[model.TestFile]{
		Name:       OpUpload,
		Optimistic: []query.Edit{{Match: files, Apply: model.InsertFirst(placeholder)}},
		Call: func(ctx context.Context) (model.TestFile, error) {
			id, err := s.api.UploadTestFile(ctx, name, filename, content)
			if err != nil {
				return model.TestFile{}, err
			}
			return model.TestFile{ID: id, Name: name, Status: model.StatusProcessing}, nil
		},
		Confirm: func(f model.TestFile) []query.Edit {
			return []query.Edit{{Match: files, Apply: model.InsertFirst(f)}}
		},
		Invalidate: func(model.TestFile) query.Predicate {
			return laterPages(model.KindTestFiles)
		},
	})
	if err != nil {
		return model.TestFile{}, err
	}
	s.track(created.ID)
	return created, nil
}

// Delete removes a test file. It disappears from every cached page at
// once and comes back if the server refuses.
func (s *Session) Delete(ctx context.Context, id string) error {
	files := query.KindIs(model.KindTestFiles)
	remove := model.RemoveByID(id)

	_, err := mutation.Execute(ctx, s.executor, mutation.Operation[struct{}]{
		Name:       OpDelete,
		Optimistic: []query.Edit{{Match: files, Apply: remove}},
		Call: func(ctx context.Context) (struct{}, error) {
			return struct{}{}, s.api.DeleteTestFile(ctx, id)
		},
		Confirm: func(struct{}) []query.Edit {
			return []query.Edit{{Match: files, Apply: remove}}
		},
		Invalidate: func(struct{}) query.Predicate {
			// Later pages pull an item forward; the file's own reads are gone.
			return func(k query.Key) bool {
				switch k.Kind {
				case model.KindTestFiles:
					return true
				case model.KindTestFile:
					return k.Param("id") == id
				case model.KindTestcases:
					return k.Param("file_id") == id
				}
				return false
			}
		},
	})
	if err != nil {
		return err
	}
	s.untrack(id)
	return nil
}

// RunTestcase starts a run that writes into a new report. The report is
// shown as running at the top of the first reports page and tracked until
// it finishes.
func (s *Session) RunTestcase(ctx context.Context, testcaseID, reportName string) (api.RunResult, error) {
	placeholder := model.Report{
		ID:     model.PlaceholderID(uuid.NewString()),
		Name:   reportName,
		Status: model.StatusRunning,
	}
	reports := query.KindIs(model.KindReports)

	res, err := mutation.Execute(ctx, s.executor, mutation.Operation[api.RunResult]{
		Name:       OpRun,
		Optimistic: []query.Edit{{Match: reports, Apply: model.InsertFirst(placeholder)}},
		Call: func(ctx context.Context) (api.RunResult, error) {
			return s.api.RunTestcase(ctx, testcaseID, reportName)
		},
		Confirm: func(res api.RunResult) []query.Edit {
			if res.ReportID == "" {
				return nil
			}
			r := model.Report{ID: res.ReportID, Name: reportName, Status: model.StatusRunning}
			return []query.Edit{{Match: reports, Apply: model.InsertFirst(r)}}
		},
		Invalidate: func(res api.RunResult) query.Predicate {
			if res.ReportID == "" {
				// No id to place; read the lists back.
				return reports
			}
			return laterPages(model.KindReports)
		},
	})
	if err != nil {
		return api.RunResult{}, err
	}
	s.track(res.ReportID)
	return res, nil
}
