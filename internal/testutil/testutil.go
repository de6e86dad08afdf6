// Package testutil provides shared test utilities and fixtures.
//
// Trajectory fixtures build samples on a fixed time grid so tests can state
// expected timestamps as literals.
package testutil

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/couple.report/internal/trajectory"
)

// Step is the frame period used by the fixtures.
const Step = 0.02

// Tick returns the quantised timestamp of frame i.
func Tick(i int) float64 {
	return trajectory.Quantize(float64(i)*Step, Step)
}

// Track returns one sample per position for object, starting at frame first.
func Track(object string, first int, positions ...r3.Vec) []trajectory.Sample {
	out := make([]trajectory.Sample, len(positions))
	for k, p := range positions {
		out[k] = trajectory.Sample{
			Object:   trajectory.ObjectID(object),
			Time:     Tick(first + k),
			Position: p,
		}
	}
	return out
}

// Stationary returns samples for object at pos on frames first..last inclusive.
func Stationary(object string, first, last int, pos r3.Vec) []trajectory.Sample {
	positions := make([]r3.Vec, 0, last-first+1)
	for i := first; i <= last; i++ {
		positions = append(positions, pos)
	}
	return Track(object, first, positions...)
}

// Table builds a trajectory table from several sample groups.
func Table(groups ...[]trajectory.Sample) *trajectory.Table {
	var all []trajectory.Sample
	for _, g := range groups {
		all = append(all, g...)
	}
	return trajectory.NewTable(all)
}

// CSV renders samples in the semicolon-separated tracking export layout.
func CSV(samples []trajectory.Sample) string {
	var b strings.Builder
	b.WriteString("time;object;x;y;z\n")
	f := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	for _, s := range samples {
		fmt.Fprintf(&b, "%s;%s;%s;%s;%s\n", f(s.Time), s.Object, f(s.Position.X), f(s.Position.Y), f(s.Position.Z))
	}
	return b.String()
}

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// NewTestRequest creates a test HTTP request with an optional body.
func NewTestRequest(method, path string, body io.Reader) *http.Request {
	return httptest.NewRequest(method, path, body)
}

// NewCSVRequest creates a POST request carrying a CSV upload.
func NewCSVRequest(path, csv string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(csv))
	req.Header.Set("Content-Type", "text/csv")
	return req
}

// NewTestRecorder creates a test response recorder.
func NewTestRecorder() *httptest.ResponseRecorder {
	return httptest.NewRecorder()
}
