package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/a-h/templ"
	"go.uber.org/zap"

	"peer-review-matrix/backend"
	"peer-review-matrix/loader"
	"peer-review-matrix/matrix"
	"peer-review-matrix/templates"
)

type server struct {
	loader *loader.Loader
	logger *zap.Logger
}

func newServer(l *loader.Loader, logger *zap.Logger) *server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &server{loader: l, logger: logger.Named("http")}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /courses/{courseID}/matrix", s.matrixPageHandler)
	mux.HandleFunc("GET /api/courses/{courseID}/assignments/{index}/matrix", s.matrixAPIHandler)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	return s.logRequests(mux)
}

func (s *server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", sw.status),
			zap.Duration("elapsed", time.Since(start)))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// requestToken returns the caller's bearer token from the Authorization
// header or the jwt_token cookie.
func requestToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if c, err := r.Cookie("jwt_token"); err == nil {
		return c.Value
	}
	return ""
}

func (s *server) matrixPageHandler(w http.ResponseWriter, r *http.Request) {
	index := 1
	if v := r.URL.Query().Get("assignment"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, "assignment must be a positive integer", http.StatusBadRequest)
			return
		}
		index = n
	}

	ctx := backend.WithToken(r.Context(), requestToken(r))
	res, err := s.loader.Load(ctx, loader.Request{CourseID: r.PathValue("courseID"), AssignmentIndex: index})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	status := http.StatusOK
	if !res.Ready() {
		status = statusFor(res.Matrix.Err)
	}
	templ.Handler(templates.MatrixPage(pageData(res)), templ.WithStatus(status)).ServeHTTP(w, r)
}

func (s *server) matrixAPIHandler(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil || index < 1 {
		s.writeJSONError(w, http.StatusBadRequest, "assignment index must be a positive integer")
		return
	}

	ctx := backend.WithToken(r.Context(), requestToken(r))
	res, err := s.loader.Load(ctx, loader.Request{CourseID: r.PathValue("courseID"), AssignmentIndex: index})
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !res.Ready() {
		s.writeJSONError(w, statusFor(res.Matrix.Err), res.Matrix.Err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, newMatrixResponse(res))
}

// statusFor maps a failed matrix fetch to the status returned to the browser.
func statusFor(err error) int {
	switch {
	case errors.Is(err, backend.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, backend.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusBadGateway
	}
}

// writeJSON encodes v before writing the header so an encoding failure can
// still be reported as a 500.
func (s *server) writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("encode response", zap.Error(err))
		status = http.StatusInternalServerError
		body, _ = json.Marshal(map[string]string{"error": "could not encode response"})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body = append(body, '\n')
	if _, err := w.Write(body); err != nil {
		s.logger.Debug("write response", zap.Error(err))
	}
}

func (s *server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

type matrixResponse struct {
	CourseID        string                       `json:"course_id"`
	AssignmentIndex int                          `json:"assignment_index"`
	Assignments     []templates.AssignmentOption `json:"assignments"`
	Grid            *matrix.Grid                 `json:"grid"`
	Stale           bool                         `json:"stale"`
	FetchedAt       time.Time                    `json:"fetched_at"`
	Error           string                       `json:"error,omitempty"`
}

func newMatrixResponse(res *loader.Result) matrixResponse {
	resp := matrixResponse{
		CourseID:        res.Request.CourseID,
		AssignmentIndex: res.Request.AssignmentIndex,
		Assignments:     assignmentOptions(res),
		Grid:            res.Grid,
		Stale:           res.Matrix.Stale,
		FetchedAt:       res.Matrix.FetchedAt,
	}
	if res.Matrix.Err != nil {
		resp.Error = res.Matrix.Err.Error()
	}
	return resp
}

func assignmentOptions(res *loader.Result) []templates.AssignmentOption {
	opts := make([]templates.AssignmentOption, 0, len(res.Assignments.Assignments))
	for _, a := range res.Assignments.Assignments {
		opts = append(opts, templates.AssignmentOption{
			Index:    a.Index,
			Name:     a.Name,
			Selected: a.Index == res.Request.AssignmentIndex,
		})
	}
	return opts
}

func pageData(res *loader.Result) templates.MatrixPageData {
	data := templates.MatrixPageData{
		CourseID:        res.Request.CourseID,
		AssignmentIndex: res.Request.AssignmentIndex,
		Assignments:     assignmentOptions(res),
		Grid:            res.Grid,
		Stale:           res.Matrix.Stale,
		FetchedAt:       res.Matrix.FetchedAt,
	}
	if a, ok := res.Assignment(); ok {
		data.AssignmentName = a.Name
	}
	if res.Matrix.Err != nil {
		data.Error = res.Matrix.Err.Error()
	}
	if res.Assignments.Err != nil {
		data.AssignmentError = res.Assignments.Err.Error()
	}
	return data
}
