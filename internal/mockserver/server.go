// Package mockserver is an in-memory implementation of the test management
// API and its progress socket. It backs package tests and the mock-server
// command.
package mockserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/spiffcs/testdeck/internal/log"
	"github.com/spiffcs/testdeck/internal/model"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Route names used by Requests.
const (
	RouteListFiles     = "list-files"
	RouteGetFile       = "get-file"
	RouteUpload        = "upload"
	RouteDelete        = "delete"
	RouteListTestcases = "list-testcases"
	RouteRun           = "run"
	RouteListReports   = "list-reports"
	RouteGetReport     = "get-report"
	RouteReportDetails = "report-details"
	RouteSocket        = "socket"
)

type frame struct {
	Type string          `json:"type"`
	Room string          `json:"room,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

type client struct {
	conn  *websocket.Conn
	rooms map[string]bool
}

// Server holds the fake collections. The zero value is not usable; call New.
type Server struct {
	// Step is the progress increment of simulated jobs; 0 disables
	// simulation and progress is only sent through Push.
	Step     int
	Interval time.Duration

	mu        sync.Mutex
	files     []model.TestFile
	testcases map[string][]model.Testcase
	reports   []model.Report
	details   map[string][]model.ReportDetail
	clients   map[*client]struct{}
	requests  map[string]int
	failures  map[string]int
	joined    chan string
}

// New creates an empty server.
func New() *Server {
	return &Server{
		Interval:  200 * time.Millisecond,
		testcases: make(map[string][]model.Testcase),
		details:   make(map[string][]model.ReportDetail),
		clients:   make(map[*client]struct{}),
		requests:  make(map[string]int),
		failures:  make(map[string]int),
		joined:    make(chan string, 64),
	}
}

// Handler routes the API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/test-files", s.counted(RouteListFiles, s.listFiles))
	r.Post("/test-files/upload", s.counted(RouteUpload, s.upload))
	r.Get("/test-files/testcases", s.counted(RouteListTestcases, s.listTestcases))
	r.Get("/test-files/{id}", s.counted(RouteGetFile, s.getFile))
	r.Delete("/test-files/{id}", s.counted(RouteDelete, s.deleteFile))
	r.Post("/executor/run/testcase/{id}", s.counted(RouteRun, s.run))
	r.Get("/reports", s.counted(RouteListReports, s.listReports))
	r.Get("/reports/{id}", s.counted(RouteGetReport, s.getReport))
	r.Get("/reports/testcases/{id}", s.counted(RouteReportDetails, s.listReportDetails))
	r.Get("/ws", s.counted(RouteSocket, s.socket))
	return r
}

// AddFiles appends files in server order.
func (s *Server) AddFiles(files ...model.TestFile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files = append(s.files, files...)
}

// AddTestcases attaches testcases to their files.
func (s *Server) AddTestcases(cases ...model.Testcase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range cases {
		s.testcases[c.FileID] = append(s.testcases[c.FileID], c)
	}
}

// AddReports appends reports in server order.
func (s *Server) AddReports(reports ...model.Report) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, reports...)
}

// AddReportDetails attaches per-testcase results to a report.
func (s *Server) AddReportDetails(reportID string, details ...model.ReportDetail) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.details[reportID] = append(s.details[reportID], details...)
}

// RemoveFile deletes a file behind the client's back.
func (s *Server) RemoveFile(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeFileLocked(id)
}

// File returns the stored file.
func (s *Server) File(id string) (model.TestFile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.files {
		if f.ID == id {
			return f, true
		}
	}
	return model.TestFile{}, false
}

// FailNext makes the next n requests to route answer 500.
func (s *Server) FailNext(route string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[route] = n
}

// Requests counts handled requests to route.
func (s *Server) Requests(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[route]
}

// Joined receives room ids as clients join them.
func (s *Server) Joined() <-chan string {
	return s.joined
}

// Members counts connections joined to room.
func (s *Server) Members(room string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for c := range s.clients {
		if c.rooms[room] {
			n++
		}
	}
	return n
}

// Push updates the stored resource and sends ev to every connection in
// the resource's room.
func (s *Server) Push(ev model.ProgressEvent) {
	ev = ev.Normalize()
	s.mu.Lock()
	s.applyLocked(ev)
	var targets []*websocket.Conn
	for c := range s.clients {
		if c.rooms[ev.ResourceID] {
			targets = append(targets, c.conn)
		}
	}
	s.mu.Unlock()

	data, _ := json.Marshal(ev)
	f := frame{Type: "progress", Room: ev.ResourceID, Data: data}
	for _, conn := range targets {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := wsjson.Write(ctx, conn, f); err != nil {
			log.Debug("mock push failed", "room", ev.ResourceID, "error", err)
		}
		cancel()
	}
}

// DropConnections closes every socket, as a network blip would.
func (s *Server) DropConnections() {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.clients))
	for c := range s.clients {
		conns = append(conns, c.conn)
	}
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.Close(websocket.StatusGoingAway, "restart")
	}
}

func (s *Server) applyLocked(ev model.ProgressEvent) {
	for i, f := range s.files {
		if f.ID == ev.ResourceID {
			s.files[i] = f.WithProgress(ev).(model.TestFile)
			return
		}
	}
	for i, r := range s.reports {
		if r.ID == ev.ResourceID {
			s.reports[i] = r.WithProgress(ev).(model.Report)
			return
		}
	}
}

func (s *Server) removeFileLocked(id string) bool {
	for i, f := range s.files {
		if f.ID == id {
			s.files = append(s.files[:i:i], s.files[i+1:]...)
			delete(s.testcases, id)
			return true
		}
	}
	return false
}

func (s *Server) counted(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests[route]++
		fail := s.failures[route] > 0
		if fail {
			s.failures[route]--
		}
		s.mu.Unlock()
		if fail {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"isSuccess": false, "message": "injected failure"})
			return
		}
		h(w, r)
	}
}

func (s *Server) listFiles(w http.ResponseWriter, r *http.Request) {
	page, limit := pageParams(r)
	s.mu.Lock()
	items := window(s.files, page, limit)
	total := len(s.files)
	s.mu.Unlock()
	writeList(w, items, total, page, limit)
}

func (s *Server) getFile(w http.ResponseWriter, r *http.Request) {
	f, ok := s.File(chi.URLParam(r, "id"))
	if !ok {
		writeRejected(w, http.StatusNotFound, "test file not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"isSuccess": true, "data": f})
}

func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeRejected(w, http.StatusBadRequest, "invalid upload: "+err.Error())
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeRejected(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()
	if _, err := io.Copy(io.Discard, file); err != nil {
		writeRejected(w, http.StatusBadRequest, "reading upload: "+err.Error())
		return
	}
	name := r.FormValue("test_file_name")
	if name == "" {
		name = header.Filename
	}
	if name == "" {
		writeJSON(w, http.StatusOK, map[string]any{"isSuccess": false, "message": "test_file_name is required"})
		return
	}

	f := model.TestFile{
		ID:     uuid.NewString(),
		Name:   name,
		URL:    "/uploads/" + header.Filename,
		Status: model.StatusProcessing,
	}
	s.mu.Lock()
	s.files = append([]model.TestFile{f}, s.files...)
	s.mu.Unlock()

	s.simulate(f.ID, func() {
		s.AddTestcases(
			model.Testcase{ID: uuid.NewString(), FileID: f.ID, RowIndex: 1, Data: map[string]any{"item_no": "1", "step_confirm": "page loads"}},
			model.Testcase{ID: uuid.NewString(), FileID: f.ID, RowIndex: 2, Data: map[string]any{"item_no": "2", "step_confirm": "form submits"}},
		)
	})
	writeJSON(w, http.StatusOK, map[string]any{"isSuccess": true, "file_id": f.ID})
}

func (s *Server) deleteFile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	ok := s.removeFileLocked(id)
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"isSuccess": false, "message": "test file not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"isSuccess": true, "message": "deleted"})
}

func (s *Server) listTestcases(w http.ResponseWriter, r *http.Request) {
	page, limit := pageParams(r)
	fileID := r.URL.Query().Get("file_id")
	s.mu.Lock()
	all := s.testcases[fileID]
	items := window(all, page, limit)
	s.mu.Unlock()
	writeList(w, items, len(all), page, limit)
}

func (s *Server) run(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body struct {
		ReportName string `json:"report_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ReportName == "" {
		writeJSON(w, http.StatusOK, map[string]any{"isSuccess": false, "message": "report_name is required"})
		return
	}

	s.mu.Lock()
	var cases []model.Testcase
	for _, cs := range s.testcases {
		for _, c := range cs {
			if c.ID == id || c.FileID == id {
				cases = append(cases, c)
			}
		}
	}
	if len(cases) == 0 {
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"isSuccess": false, "message": "testcase not found"})
		return
	}
	rep := model.Report{ID: uuid.NewString(), Name: body.ReportName, Status: model.StatusRunning}
	s.reports = append([]model.Report{rep}, s.reports...)
	s.mu.Unlock()

	s.simulate(rep.ID, func() {
		for _, c := range cases {
			s.AddReportDetails(rep.ID, model.ReportDetail{
				ID:       uuid.NewString(),
				Testcase: model.TestcaseRef{ID: c.ID, Data: c.Data},
				Status:   model.StatusSuccess,
				Steps:    []model.StepResult{{Step: "1", IsSuccess: true, Description: "executed"}},
			})
		}
	})
	writeJSON(w, http.StatusOK, map[string]any{"isSuccess": true, "report_id": rep.ID, "message": "execution started"})
}

func (s *Server) listReports(w http.ResponseWriter, r *http.Request) {
	page, limit := pageParams(r)
	s.mu.Lock()
	items := window(s.reports, page, limit)
	total := len(s.reports)
	s.mu.Unlock()
	writeList(w, items, total, page, limit)
}

func (s *Server) getReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rep := range s.reports {
		if rep.ID == id {
			writeJSON(w, http.StatusOK, map[string]any{"isSuccess": true, "data": rep})
			return
		}
	}
	writeRejected(w, http.StatusNotFound, "report not found")
}

func (s *Server) listReportDetails(w http.ResponseWriter, r *http.Request) {
	page, limit := pageParams(r)
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	all := s.details[id]
	items := window(all, page, limit)
	s.mu.Unlock()
	writeList(w, items, len(all), page, limit)
}

func (s *Server) socket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	c := &client{conn: conn, rooms: make(map[string]bool)}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}()

	ctx := r.Context()
	for {
		var f frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			return
		}
		switch f.Type {
		case "joinRoom":
			s.mu.Lock()
			c.rooms[f.Room] = true
			s.mu.Unlock()
			select {
			case s.joined <- f.Room:
			default:
			}
		case "leaveRoom":
			s.mu.Lock()
			delete(c.rooms, f.Room)
			s.mu.Unlock()
		}
	}
}

// simulate pushes progress for id until it completes, then runs finish.
func (s *Server) simulate(id string, finish func()) {
	if s.Step <= 0 {
		finish()
		return
	}
	go func() {
		for p := s.Step; ; p += s.Step {
			time.Sleep(s.Interval)
			if p >= 100 {
				finish()
				s.Push(model.ProgressEvent{ResourceID: id, Progress: 100, Status: model.StatusSuccess})
				return
			}
			s.Push(model.ProgressEvent{ResourceID: id, Progress: p})
		}
	}()
}

func pageParams(r *http.Request) (page, limit int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}
	return page, limit
}

func window[T any](all []T, page, limit int) []T {
	start := (page - 1) * limit
	if start >= len(all) {
		return []T{}
	}
	end := min(start+limit, len(all))
	out := make([]T, end-start)
	copy(out, all[start:end])
	return out
}

func writeList[T any](w http.ResponseWriter, items []T, total, page, limit int) {
	writeJSON(w, http.StatusOK, map[string]any{
		"isSuccess": true,
		"data": map[string]any{
			"total": total,
			"page":  page,
			"limit": limit,
			"data":  items,
		},
	})
}

func writeRejected(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"isSuccess": false, "message": msg})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Debug("mock response write failed", "error", fmt.Sprint(err))
	}
}
