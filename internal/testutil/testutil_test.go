package testutil

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/couple.report/internal/trajectory"
)

func TestTick(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0.0, Tick(0))
	assert.Equal(t, 0.98, Tick(49))
	assert.Equal(t, 3.02, Tick(151))
}

func TestStationaryAndTable(t *testing.T) {
	t.Parallel()

	tbl := Table(
		Stationary("1", 0, 4, r3.Vec{}),
		Track("2", 2, r3.Vec{X: 1}, r3.Vec{X: 2}),
	)
	assert.Equal(t, 7, tbl.Len())
	assert.Equal(t, 5, tbl.NumFrames())
	assert.Equal(t, []trajectory.ObjectID{"1", "2"}, tbl.Objects())
	track := tbl.Track("2")
	require.Len(t, track, 2)
	assert.Equal(t, 0.06, track[1].Time)
}

func TestCSVRoundTrip(t *testing.T) {
	t.Parallel()

	samples := Track("7", 1, r3.Vec{X: 0.5, Y: -1, Z: 2})
	tbl, stats, err := trajectory.ReadCSV(strings.NewReader(CSV(samples)), trajectory.DefaultLoadOptions())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Rows)
	assert.Equal(t, samples, tbl.Track("7"))
}

func TestHTTPHelpers(t *testing.T) {
	t.Parallel()

	req := NewCSVRequest("/api/detect", "time;object;x;y;z\n")
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "text/csv", req.Header.Get("Content-Type"))

	rec := NewTestRecorder()
	rec.WriteHeader(http.StatusAccepted)
	AssertStatusCode(t, rec.Code, http.StatusAccepted)
	AssertNoError(t, nil)
	assert.Equal(t, "/x", NewTestRequest(http.MethodGet, "/x", nil).URL.Path)
}
