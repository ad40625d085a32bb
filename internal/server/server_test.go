package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/aevon-lab/matchstats/internal/cache"
	"github.com/stretchr/testify/require"
)

type stubCache struct {
	enabled bool
	state   cache.State
}

func (s stubCache) Enabled() bool      { return s.enabled }
func (s stubCache) State() cache.State { return s.state }

func TestHealth(t *testing.T) {
	tests := []struct {
		name           string
		pingErr        error
		cacheStatus    CacheStatus
		expectedStatus int
		expectedCache  string
	}{
		{
			name:           "healthy with cache available",
			cacheStatus:    stubCache{enabled: true, state: cache.StateAvailable},
			expectedStatus: http.StatusOK,
			expectedCache:  "available",
		},
		{
			name:           "cache outage stays healthy",
			cacheStatus:    stubCache{enabled: true, state: cache.StateGivenUp},
			expectedStatus: http.StatusOK,
			expectedCache:  "given_up",
		},
		{
			name:           "cache disabled",
			expectedStatus: http.StatusOK,
			expectedCache:  "disabled",
		},
		{
			name:           "database down is unhealthy",
			pingErr:        errors.New("connection refused"),
			cacheStatus:    stubCache{enabled: true, state: cache.StateAvailable},
			expectedStatus: http.StatusServiceUnavailable,
			expectedCache:  "available",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
			require.NoError(t, err)
			defer db.Close()

			ping := mock.ExpectPing()
			if tt.pingErr != nil {
				ping.WillReturnError(tt.pingErr)
			}

			s := New(":0", db, "release", tt.cacheStatus)

			rec := httptest.NewRecorder()
			s.Engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
			require.Equal(t, tt.expectedStatus, rec.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			require.Equal(t, tt.expectedCache, body["cache"])
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := New(":0", nil, "release", nil)

	rec := httptest.NewRecorder()
	s.Engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "go_goroutines"))
}
