package runs

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_ListRuns(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/users/7/runs", r.URL.Path)
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"id":1,"distance_miles":5.2,"duration_minutes":45,"pace_per_mile":"8:39","notes":"easy","run_date":"2026-10-15T07:00:00"}]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", time.Second)
	got, err := c.ListRuns(context.Background(), "7", 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, Run{ID: 1, DistanceMiles: 5.2, DurationMinutes: 45, PacePerMile: "8:39", Notes: "easy", RunDate: "2026-10-15T07:00:00"}, got[0])

	d, err := got[0].Date()
	require.NoError(t, err)
	assert.Equal(t, 15, d.Day())
}

func TestClient_ListGoals(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/users/7/goals", r.URL.Path)
		w.Write([]byte(`[{"id":3,"race_name":"City Marathon","race_date":"2026-12-01","target_time":"3:45:00","distance_miles":26.2}]`))
	}))
	defer srv.Close()

	got, err := NewClient(srv.URL, 0).ListGoals(context.Background(), "7")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "City Marathon", got[0].RaceName)
	assert.Equal(t, 26.2, got[0].DistanceMiles)
}

func TestClient_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "user not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second).ListRuns(context.Background(), "9", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestClient_BadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"not":"a list"`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second).ListRuns(context.Background(), "9", 0)
	assert.Error(t, err)
}

func TestSummarizeWeek(t *testing.T) {
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	runs := []Run{
		{DistanceMiles: 5, DurationMinutes: 45, RunDate: "2026-10-15T07:00:00"},
		{DistanceMiles: 3, DurationMinutes: 30, RunDate: "2026-10-12"},
		{DistanceMiles: 10, DurationMinutes: 95, RunDate: "2026-10-01"},
		{DistanceMiles: 1, DurationMinutes: 10, RunDate: "garbage"},
	}
	s := SummarizeWeek(runs, now)
	assert.Equal(t, 2, s.Runs)
	assert.Equal(t, 8.0, s.Miles)
	assert.Equal(t, 75.0, s.Minutes)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "45m", FormatDuration(45))
	assert.Equal(t, "1h 15m", FormatDuration(75))
	assert.Equal(t, "0m", FormatDuration(0))
}
