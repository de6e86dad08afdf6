package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/couple.report/internal/config"
	"github.com/banshee-data/couple.report/internal/db"
	"github.com/banshee-data/couple.report/internal/events"
	"github.com/banshee-data/couple.report/internal/export"
	"github.com/banshee-data/couple.report/internal/httputil"
	"github.com/banshee-data/couple.report/internal/testutil"
	"github.com/banshee-data/couple.report/internal/trajectory"
)

// fusionCSV: object 5 ends beside 9, object 12 starts beside 9 one frame later.
func fusionCSV() string {
	var samples []trajectory.Sample
	samples = append(samples, testutil.Track("5", 145,
		r3.Vec{X: 0.90, Y: 1, Z: 1},
		r3.Vec{X: 0.92, Y: 1, Z: 1},
		r3.Vec{X: 0.94, Y: 1, Z: 1},
		r3.Vec{X: 0.96, Y: 1, Z: 1},
		r3.Vec{X: 0.98, Y: 1, Z: 1},
		r3.Vec{X: 1.00, Y: 1, Z: 1},
	)...)
	samples = append(samples, testutil.Stationary("9", 145, 160, r3.Vec{X: 1.01, Y: 1, Z: 1})...)
	samples = append(samples, testutil.Track("12", 151,
		r3.Vec{X: 1.02, Y: 1, Z: 1},
		r3.Vec{X: 1.03, Y: 1, Z: 1},
		r3.Vec{X: 1.04, Y: 1, Z: 1},
		r3.Vec{X: 1.05, Y: 1, Z: 1},
		r3.Vec{X: 1.06, Y: 1, Z: 1},
		r3.Vec{X: 1.07, Y: 1, Z: 1},
	)...)
	return testutil.CSV(samples)
}

func setupTestServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()
	database, err := db.NewDB(filepath.Join(t.TempDir(), "couples.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	s := NewServer(database, config.DefaultDetectionConfig())
	return s, LoggingMiddleware(s.ServeMux())
}

func postRun(t *testing.T, h http.Handler, query string) *db.Run {
	t.Helper()
	w := testutil.NewTestRecorder()
	h.ServeHTTP(w, testutil.NewCSVRequest("/api/detect"+query, fusionCSV()))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var run db.Run
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &run))
	return &run
}

func TestDetect(t *testing.T) {
	_, h := setupTestServer(t)

	run := postRun(t, h, "?source=scene.csv")
	assert.NotEmpty(t, run.RunID)
	assert.Equal(t, "scene.csv", run.Source)
	assert.Equal(t, 3, run.Objects)
	assert.Equal(t, 16, run.Frames)
	assert.Equal(t, 1, run.Counts[events.TypeFusion])
	assert.Equal(t, 1, run.Counts[events.TypeRupture])
	assert.Equal(t, 1, run.Counts[events.TypeCoupleFusionToRupture])
	assert.Equal(t, 0, run.Counts[events.TypeInteraction], "default min duration drops short contacts")
	require.NotNil(t, run.Result)
	require.Len(t, run.Result.Merges, 1)
	assert.Equal(t, "5-9", run.Result.Merges[0].ID)
	assert.Equal(t, events.DefaultParams(), run.Params)
}

func TestDetectQueryOverrides(t *testing.T) {
	_, h := setupTestServer(t)

	run := postRun(t, h, "?min_duration=0")
	assert.Equal(t, 0.0, run.Params.MinDuration)
	assert.Equal(t, 2, run.Counts[events.TypeInteraction])
	assert.Equal(t, "upload", run.Source)
}

func TestDetectMultipart(t *testing.T) {
	_, h := setupTestServer(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "recordings/session-1.csv")
	require.NoError(t, err)
	_, err = fw.Write([]byte(fusionCSV()))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := testutil.NewTestRequest(http.MethodPost, "/api/detect", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := testutil.NewTestRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var run db.Run
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &run))
	assert.Equal(t, "session-1.csv", run.Source)
}

func TestDetectRejectsBadInput(t *testing.T) {
	_, h := setupTestServer(t)

	tests := []struct {
		name  string
		query string
		csv   string
		want  string
	}{
		{"missing column", "", "time;object;x;y\n0;1;0;0\n", "missing-column"},
		{"bad position", "", "time;object;x;y;z\n0;1;0;zero;0\n", "bad-value"},
		{"unparsable threshold", "?fusion_distance=near", fusionCSV(), "fusion_distance"},
		{"negative threshold", "?interaction_distance=-1", fusionCSV(), "interaction_distance"},
		{"long delimiter", "?delimiter=%3B%3B", fusionCSV(), "delimiter"},
		{"off-grid times with step", "?time_step=0.02", "time;object;x;y;z\n0.01;1;0;0;0\n0.02;1;0;0;0\n", "time-collision"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := testutil.NewTestRecorder()
			h.ServeHTTP(w, testutil.NewCSVRequest("/api/detect"+tt.query, tt.csv))
			testutil.AssertStatusCode(t, w.Code, http.StatusBadRequest)
			assert.Contains(t, w.Body.String(), tt.want)
		})
	}
}

func TestDetectUploadTooLarge(t *testing.T) {
	s, h := setupTestServer(t)
	s.maxUpload = 256

	w := testutil.NewTestRecorder()
	h.ServeHTTP(w, testutil.NewCSVRequest("/api/detect", fusionCSV()))
	testutil.AssertStatusCode(t, w.Code, http.StatusRequestEntityTooLarge)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "scene.csv")
	require.NoError(t, err)
	_, err = fw.Write([]byte(fusionCSV()))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := testutil.NewTestRequest(http.MethodPost, "/api/detect", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w = testutil.NewTestRecorder()
	h.ServeHTTP(w, req)
	testutil.AssertStatusCode(t, w.Code, http.StatusRequestEntityTooLarge)
	assert.Contains(t, w.Body.String(), "upload exceeds 256 bytes")
}

func TestRunLifecycle(t *testing.T) {
	_, h := setupTestServer(t)
	first := postRun(t, h, "?source=a")
	second := postRun(t, h, "?source=b")

	w := testutil.NewTestRecorder()
	h.ServeHTTP(w, testutil.NewTestRequest(http.MethodGet, "/api/runs?limit=1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var runs []*db.Run
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, second.RunID, runs[0].RunID)
	assert.Nil(t, runs[0].Result)

	w = testutil.NewTestRecorder()
	h.ServeHTTP(w, testutil.NewTestRequest(http.MethodGet, "/api/runs/"+first.RunID, nil))
	require.Equal(t, http.StatusOK, w.Code)
	var got db.Run
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "a", got.Source)
	require.NotNil(t, got.Result)
	assert.Len(t, got.Result.Splits, 1)

	w = testutil.NewTestRecorder()
	h.ServeHTTP(w, testutil.NewTestRequest(http.MethodDelete, "/api/runs/"+first.RunID, nil))
	testutil.AssertStatusCode(t, w.Code, http.StatusNoContent)

	w = testutil.NewTestRecorder()
	h.ServeHTTP(w, testutil.NewTestRequest(http.MethodDelete, "/api/runs/"+first.RunID, nil))
	testutil.AssertStatusCode(t, w.Code, http.StatusNotFound)

	w = testutil.NewTestRecorder()
	h.ServeHTTP(w, testutil.NewTestRequest(http.MethodGet, "/api/runs/"+first.RunID, nil))
	testutil.AssertStatusCode(t, w.Code, http.StatusNotFound)
}

func TestListRunsInvalidLimit(t *testing.T) {
	_, h := setupTestServer(t)
	for _, l := range []string{"0", "-3", "many"} {
		w := testutil.NewTestRecorder()
		h.ServeHTTP(w, testutil.NewTestRequest(http.MethodGet, "/api/runs?limit="+l, nil))
		testutil.AssertStatusCode(t, w.Code, http.StatusBadRequest)
	}
}

func TestExportRun(t *testing.T) {
	_, h := setupTestServer(t)
	run := postRun(t, h, "")

	w := testutil.NewTestRecorder()
	h.ServeHTTP(w, testutil.NewTestRequest(http.MethodGet, "/api/runs/"+run.RunID+"/export.csv", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), run.RunID)

	rows, err := export.ReadCombinedCSV(w.Body)
	require.NoError(t, err)
	types := map[string]int{}
	for _, r := range rows {
		types[string(r.Type)]++
	}
	assert.Equal(t, map[string]int{"fusion": 1, "rupture": 1, "couple_fusion_to_rupture": 1}, types)
}

func TestRunCharts(t *testing.T) {
	_, h := setupTestServer(t)
	run := postRun(t, h, "?source=charted")

	w := testutil.NewTestRecorder()
	h.ServeHTTP(w, testutil.NewTestRequest(http.MethodGet, "/api/runs/"+run.RunID+"/charts", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/html"))
	assert.Contains(t, w.Body.String(), "charted")

	w = testutil.NewTestRecorder()
	h.ServeHTTP(w, testutil.NewTestRequest(http.MethodGet, "/api/runs/missing/charts", nil))
	testutil.AssertStatusCode(t, w.Code, http.StatusNotFound)
}

func TestConfigAndVersion(t *testing.T) {
	_, h := setupTestServer(t)

	w := testutil.NewTestRecorder()
	h.ServeHTTP(w, testutil.NewTestRequest(http.MethodGet, "/api/config", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var cfg config.DetectionConfig
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cfg))
	assert.Equal(t, 0.055, cfg.GetInteractionDistance())

	w = testutil.NewTestRecorder()
	h.ServeHTTP(w, testutil.NewTestRequest(http.MethodGet, "/api/version", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"version":"dev"`)
}

func TestMethodNotAllowed(t *testing.T) {
	_, h := setupTestServer(t)
	w := testutil.NewTestRecorder()
	h.ServeHTTP(w, testutil.NewTestRequest(http.MethodGet, "/api/detect", nil))
	testutil.AssertStatusCode(t, w.Code, http.StatusMethodNotAllowed)
}

func TestStatusCodeColor(t *testing.T) {
	assert.Equal(t, colorBoldGreen+"200"+colorReset, statusCodeColor(200))
	assert.Equal(t, colorYellow+"304"+colorReset, statusCodeColor(304))
	assert.Equal(t, colorBoldRed+"404"+colorReset, statusCodeColor(404))
	assert.Equal(t, "101", statusCodeColor(101))
}

func TestClientAgainstServer(t *testing.T) {
	_, h := setupTestServer(t)
	ts := httptest.NewServer(h)
	defer ts.Close()

	ctx := context.Background()
	c := NewClient(ts.URL+"/", ts.Client())

	run, err := c.Detect(ctx, strings.NewReader(fusionCSV()), url.Values{"source": {"remote"}, "min_duration": {"0"}})
	require.NoError(t, err)
	assert.Equal(t, "remote", run.Source)
	assert.Equal(t, 2, run.Counts[events.TypeInteraction])

	runs, err := c.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	got, err := c.GetRun(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, run.Result, got.Result)

	var buf bytes.Buffer
	require.NoError(t, c.ExportCSV(ctx, run.RunID, &buf))
	assert.True(t, strings.HasPrefix(buf.String(), "type,"))

	require.NoError(t, c.DeleteRun(ctx, run.RunID))
	_, err = c.GetRun(ctx, run.RunID)
	var se *httputil.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.StatusCode)
	assert.Equal(t, db.ErrRunNotFound.Error(), se.Message)
}

func TestClientWithMock(t *testing.T) {
	mock := httputil.NewMockHTTPClient().
		AddResponse(http.StatusBadRequest, `{"error":"invalid input (missing-column): z"}`).
		AddErrorResponse(errors.New("connection refused"))
	c := NewClient("http://couples.local", mock)
	ctx := context.Background()

	_, err := c.Detect(ctx, strings.NewReader("time;object;x;y\n"), nil)
	var se *httputil.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "invalid input (missing-column): z", se.Message)

	_, err = c.ListRuns(ctx, 5)
	assert.ErrorContains(t, err, "connection refused")

	require.Equal(t, 2, mock.RequestCount())
	assert.Equal(t, "http://couples.local/api/detect", mock.Requests[0].URL.String())
	assert.Equal(t, "text/csv", mock.Requests[0].Header.Get("Content-Type"))
	assert.Equal(t, "time;object;x;y\n", mock.Bodies[0])
	assert.Equal(t, "/api/runs", mock.Requests[1].URL.Path)
	assert.Equal(t, "5", mock.Requests[1].URL.Query().Get("limit"))
}
