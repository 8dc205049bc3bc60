package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"

	"github.com/spiffcs/testdeck/internal/model"
)

type listData[T model.Resource] struct {
	Total int `json:"total"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Data  []T `json:"data"`
}

func pageQuery(page, limit int, extra ...string) string {
	v := url.Values{}
	v.Set("page", strconv.Itoa(page))
	v.Set("limit", strconv.Itoa(limit))
	for i := 0; i+1 < len(extra); i += 2 {
		v.Set(extra[i], extra[i+1])
	}
	return v.Encode()
}

func getList[T model.Resource](ctx context.Context, c *Client, op, path string, page, limit int, extra ...string) (*model.Page, error) {
	env, _, err := c.call(ctx, request{
		op:     op,
		method: http.MethodGet,
		path:   path + "?" + pageQuery(page, limit, extra...),
	})
	if err != nil {
		return nil, err
	}
	var data listData[T]
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil, &ServerRejected{Op: op, StatusCode: http.StatusOK, Message: "malformed list: " + err.Error()}
		}
	}

	p := &model.Page{
		Items: make([]model.Resource, 0, len(data.Data)),
		Total: data.Total,
		Page:  page,
		Limit: limit,
	}
	for _, item := range data.Data {
		p.Items = append(p.Items, item)
	}
	if len(p.Items) > limit {
		p.Items = p.Items[:limit]
	}
	return p, nil
}

// getOne decodes a detail response, which is either the resource itself or
// the resource wrapped in the envelope's data field.
func getOne[T any](ctx context.Context, c *Client, op, path string) (T, error) {
	var out T
	env, payload, err := c.call(ctx, request{op: op, method: http.MethodGet, path: path})
	if err != nil {
		return out, err
	}
	raw := json.RawMessage(payload)
	if len(env.Data) > 0 && string(env.Data) != "null" {
		raw = env.Data
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, &ServerRejected{Op: op, StatusCode: http.StatusOK, Message: "malformed resource: " + err.Error()}
	}
	return out, nil
}

// ListTestFiles reads one page of test files, newest first.
func (c *Client) ListTestFiles(ctx context.Context, page, limit int) (*model.Page, error) {
	return getList[model.TestFile](ctx, c, "list test files", "/test-files", page, limit)
}

// GetTestFile reads a single test file.
func (c *Client) GetTestFile(ctx context.Context, id string) (model.TestFile, error) {
	return getOne[model.TestFile](ctx, c, "get test file", "/test-files/"+url.PathEscape(id))
}

// UploadTestFile sends the spreadsheet read from content and returns the
// id the server assigned. Processing continues on the server and is
// reported over the realtime channel.
func (c *Client) UploadTestFile(ctx context.Context, name, filename string, content io.Reader) (string, error) {
	const op = "upload test file"
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return "", fmt.Errorf("%s: reading %s: %w", op, filename, err)
	}
	if err := mw.WriteField("test_file_name", name); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	env, _, err := c.call(ctx, request{
		op:          op,
		method:      http.MethodPost,
		path:        "/test-files/upload",
		body:        buf.Bytes(),
		contentType: mw.FormDataContentType(),
	})
	if err != nil {
		return "", err
	}
	if env.FileID == "" {
		return "", &ServerRejected{Op: op, StatusCode: http.StatusOK, Message: "response has no file_id"}
	}
	return env.FileID, nil
}

// DeleteTestFile removes a test file and its testcases.
func (c *Client) DeleteTestFile(ctx context.Context, id string) error {
	_, _, err := c.call(ctx, request{
		op:     "delete test file",
		method: http.MethodDelete,
		path:   "/test-files/" + url.PathEscape(id),
	})
	return err
}

// ListTestcases reads one page of the testcases parsed from a file.
func (c *Client) ListTestcases(ctx context.Context, fileID string, page, limit int) (*model.Page, error) {
	return getList[model.Testcase](ctx, c, "list testcases", "/test-files/testcases", page, limit, "file_id", fileID)
}

// RunResult is the server's answer to a run request.
type RunResult struct {
	ReportID string
	Message  string
}

// RunTestcase starts executing a testcase. The returned report tracks the
// run's progress.
func (c *Client) RunTestcase(ctx context.Context, id, reportName string) (RunResult, error) {
	const op = "run testcase"
	body, err := json.Marshal(map[string]string{"report_name": reportName})
	if err != nil {
		return RunResult{}, fmt.Errorf("%s: %w", op, err)
	}
	env, _, err := c.call(ctx, request{
		op:          op,
		method:      http.MethodPost,
		path:        "/executor/run/testcase/" + url.PathEscape(id),
		body:        body,
		contentType: "application/json",
	})
	if err != nil {
		return RunResult{}, err
	}
	return RunResult{ReportID: env.ReportID, Message: env.Message}, nil
}

// ListReports reads one page of reports, newest first.
func (c *Client) ListReports(ctx context.Context, page, limit int) (*model.Page, error) {
	return getList[model.Report](ctx, c, "list reports", "/reports", page, limit)
}

// GetReport reads a single report.
func (c *Client) GetReport(ctx context.Context, id string) (model.Report, error) {
	return getOne[model.Report](ctx, c, "get report", "/reports/"+url.PathEscape(id))
}

// ListReportDetails reads one page of per-testcase results of a report.
func (c *Client) ListReportDetails(ctx context.Context, reportID string, page, limit int) (*model.Page, error) {
	return getList[model.ReportDetail](ctx, c, "list report results", "/reports/testcases/"+url.PathEscape(reportID), page, limit)
}
