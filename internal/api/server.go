package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/banshee-data/couple.report/internal/config"
	"github.com/banshee-data/couple.report/internal/db"
	"github.com/banshee-data/couple.report/internal/events"
	"github.com/banshee-data/couple.report/internal/export"
	"github.com/banshee-data/couple.report/internal/httputil"
	"github.com/banshee-data/couple.report/internal/monitoring"
	"github.com/banshee-data/couple.report/internal/report"
	"github.com/banshee-data/couple.report/internal/trajectory"
	"github.com/banshee-data/couple.report/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// DefaultMaxUpload bounds the size of an uploaded trajectory file.
const DefaultMaxUpload = 256 << 20

type Server struct {
	runs      *db.RunStore
	cfg       *config.DetectionConfig
	maxUpload int64
}

func NewServer(database *db.DB, cfg *config.DetectionConfig) *Server {
	if cfg == nil {
		cfg = config.DefaultDetectionConfig()
	}
	return &Server{
		runs:      db.NewRunStore(database),
		cfg:       cfg,
		maxUpload: DefaultMaxUpload,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/detect", s.detect)
	mux.HandleFunc("GET /api/runs", s.listRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.getRun)
	mux.HandleFunc("DELETE /api/runs/{id}", s.deleteRun)
	mux.HandleFunc("GET /api/runs/{id}/export.csv", s.exportRun)
	mux.HandleFunc("GET /api/runs/{id}/charts", s.runCharts)
	mux.HandleFunc("GET /api/config", s.showConfig)
	mux.HandleFunc("GET /api/version", s.showVersion)
	return mux
}

// requestConfig overlays query parameters on the server configuration.
func (s *Server) requestConfig(r *http.Request) (*config.DetectionConfig, error) {
	q := r.URL.Query()
	override := &config.DetectionConfig{}
	floats := []struct {
		name string
		dst  **float64
	}{
		{"interaction_distance", &override.InteractionDistance},
		{"fusion_distance", &override.FusionDistance},
		{"time_gap_threshold", &override.TimeGapThreshold},
		{"min_duration", &override.MinDuration},
		{"time_step", &override.TimeStep},
	}
	for _, f := range floats {
		v := q.Get(f.name)
		if v == "" {
			continue
		}
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid '%s' parameter", f.name)
		}
		*f.dst = &parsed
	}
	if v := q.Get("delimiter"); v != "" {
		override.Delimiter = &v
	}
	cfg := s.cfg.Merge(override)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// upload returns the trajectory file from a multipart "file" field or the
// raw request body, with a source name for the run.
func (s *Server) upload(r *http.Request) (io.Reader, string, error) {
	source := r.URL.Query().Get("source")
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		if source == "" {
			source = "upload"
		}
		return r.Body, source, nil
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return nil, "", fmt.Errorf("invalid multipart upload: %w", err)
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		return nil, "", fmt.Errorf("multipart upload has no 'file' field")
	}
	defer f.Close()
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, f); err != nil {
		return nil, "", err
	}
	if source == "" {
		source = filepath.Base(hdr.Filename)
	}
	return &buf, source, nil
}

// tooLarge writes 413 when err comes from exceeding the upload limit.
func tooLarge(w http.ResponseWriter, err error) bool {
	var mbe *http.MaxBytesError
	if !errors.As(err, &mbe) {
		return false
	}
	httputil.WriteJSONError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", mbe.Limit))
	return true
}

func (s *Server) detect(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)

	cfg, err := s.requestConfig(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	body, source, err := s.upload(r)
	if tooLarge(w, err) {
		return
	}
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	tbl, stats, err := trajectory.ReadCSV(body, cfg.LoadOptions())
	var inErr *trajectory.InvalidInputError
	switch {
	case errors.As(err, &inErr):
		httputil.BadRequest(w, inErr.Error())
		return
	case tooLarge(w, err):
		return
	case err != nil:
		httputil.BadRequest(w, fmt.Sprintf("failed to read trajectory: %v", err))
		return
	}

	det := events.NewDetector(cfg.Params(), events.WithWorkers(cfg.GetWorkers()))
	res, err := det.Run(r.Context(), tbl)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("detection failed: %v", err))
		return
	}

	run := &db.Run{
		Source:  source,
		Samples: tbl.Len(),
		Objects: stats.Objects,
		Frames:  stats.Frames,
		Result:  res,
	}
	if err := s.runs.SaveRun(run); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to save run: %v", err))
		return
	}
	start, end, _ := tbl.TimeRange()
	monitoring.Logf("run %s: %s, %d rows over [%g, %g] (%d dropped, %d duplicates, %d missing positions)",
		run.RunID, source, stats.Rows, start, end, stats.DroppedRows, stats.Duplicates, stats.MissingPositions)
	httputil.WriteJSON(w, http.StatusCreated, run)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			httputil.BadRequest(w, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}
	runs, err := s.runs.ListRuns(limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to list runs: %v", err))
		return
	}
	httputil.WriteJSONOK(w, runs)
}

// loadRun writes the error response itself and returns nil when the run
// cannot be served.
func (s *Server) loadRun(w http.ResponseWriter, r *http.Request) *db.Run {
	run, err := s.runs.GetRun(r.PathValue("id"))
	if errors.Is(err, db.ErrRunNotFound) {
		httputil.NotFound(w, err.Error())
		return nil
	}
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return nil
	}
	return run
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	if run := s.loadRun(w, r); run != nil {
		httputil.WriteJSONOK(w, run)
	}
}

func (s *Server) deleteRun(w http.ResponseWriter, r *http.Request) {
	err := s.runs.DeleteRun(r.PathValue("id"))
	if errors.Is(err, db.ErrRunNotFound) {
		httputil.NotFound(w, err.Error())
		return
	}
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) exportRun(w http.ResponseWriter, r *http.Request) {
	run := s.loadRun(w, r)
	if run == nil {
		return
	}
	var buf bytes.Buffer
	if err := export.WriteCombinedCSV(&buf, run.Result); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to export run: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=couples-%s.csv", run.RunID))
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) runCharts(w http.ResponseWriter, r *http.Request) {
	run := s.loadRun(w, r)
	if run == nil {
		return
	}
	var buf bytes.Buffer
	title := fmt.Sprintf("%s (%s)", run.Source, run.RunID)
	if err := report.RenderCharts(&buf, title, report.SummariseResult(run.Result)); err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, s.cfg)
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, version.Get())
}
