package main

import (
	"context"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/live-presence/internal/auth"
	"github.com/ukydev/live-presence/internal/client"
	"github.com/ukydev/live-presence/internal/config"
	"github.com/ukydev/live-presence/internal/db"
	"github.com/ukydev/live-presence/internal/handlers"
	"github.com/ukydev/live-presence/internal/hub"
	"github.com/ukydev/live-presence/internal/middleware"
	"github.com/ukydev/live-presence/internal/models"
	"github.com/ukydev/live-presence/internal/presence"
)

type countingSink struct {
	mu       sync.Mutex
	samples  int
	inactive map[string]int
}

func (s *countingSink) SubmitPosition(_ context.Context, _ models.PositionSample) error {
	s.mu.Lock()
	s.samples++
	s.mu.Unlock()
	return nil
}

func (s *countingSink) MarkInactive(_ context.Context, userID string) error {
	s.mu.Lock()
	if s.inactive == nil {
		s.inactive = map[string]int{}
	}
	s.inactive[userID]++
	s.mu.Unlock()
	return nil
}

func TestNewIdentity(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	now := time.UnixMilli(1700000000000)
	id := newIdentity(rng, now)

	assert.Regexp(t, regexp.MustCompile(`^user_[0-9a-f]{8}_1700000000000$`), id.UserID)
	assert.Contains(t, names, id.UserName)
	assert.Contains(t, colors, id.Color)
	assert.NotEqual(t, id.UserID, newIdentity(rng, now).UserID)
}

func TestLoadSettings(t *testing.T) {
	t.Setenv("FLEET_SIZE", "")
	t.Setenv("SIM_COUNT", "")
	t.Setenv("API_BASE_URL", "")
	t.Setenv("SIM_POLL_SECONDS", "")
	t.Setenv("SIM_FAILURE_RATE", "")
	t.Setenv("SIM_WATCH_MIN_SECONDS", "")
	t.Setenv("SIM_WATCH_MAX_SECONDS", "")
	s := loadSettings()
	assert.Equal(t, 10, s.Count)
	assert.Equal(t, "http://localhost:8081/api", s.APIURL)
	assert.Equal(t, 10*time.Second, s.PollInterval)
	assert.Zero(t, s.WatchMin)
	assert.Zero(t, s.WatchMax)

	t.Setenv("SIM_COUNT", "3")
	t.Setenv("API_BASE_URL", "http://presence:8081/api")
	t.Setenv("SIM_POLL_SECONDS", "2")
	t.Setenv("SIM_FAILURE_RATE", "0.25")
	t.Setenv("SIM_WATCH_MIN_SECONDS", "4")
	t.Setenv("SIM_WATCH_MAX_SECONDS", "2")
	s = loadSettings()
	assert.Equal(t, 3, s.Count)
	assert.Equal(t, "http://presence:8081/api", s.APIURL)
	assert.Equal(t, 2*time.Second, s.PollInterval)
	assert.Equal(t, 0.25, s.FailureRate)
	assert.Equal(t, 4*time.Second, s.WatchMin)
	assert.Equal(t, 4*time.Second, s.WatchMax)

	t.Setenv("SIM_COUNT", "-1")
	assert.Equal(t, 10, loadSettings().Count)
}

func TestFleet_StopSendsOneInactivePerUser(t *testing.T) {
	sink := &countingSink{}
	fleet := startFleet(context.Background(), settings{Count: 4, PollInterval: time.Hour}, sink, 42)
	require.Len(t, fleet, 4)
	for _, smp := range fleet {
		assert.True(t, smp.Running())
	}

	stopFleet(fleet)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Len(t, sink.inactive, 4)
	for id, n := range sink.inactive {
		assert.True(t, strings.HasPrefix(id, "user_"))
		assert.Equal(t, 1, n)
	}
}

func TestFleet_SubmitsOverHTTP(t *testing.T) {
	var positions, inactive atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sim-token", r.Header.Get("Authorization"))
		switch {
		case r.URL.Path == "/api/presence":
			positions.Add(1)
		case strings.HasSuffix(r.URL.Path, "/inactive"):
			inactive.Add(1)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	fleet := startFleet(ctx, settings{Count: 2, PollInterval: 50 * time.Millisecond}, client.New(srv.URL+"/api", "sim-token"), 7)
	require.Len(t, fleet, 2)

	assert.Eventually(t, func() bool { return positions.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	for _, smp := range fleet {
		<-smp.Done()
	}
	assert.Equal(t, int32(2), inactive.Load())
}

// Ten simulated users share one client address; the server defaults must not
// throttle them.
func TestFleet_DefaultServerDoesNotThrottleFleet(t *testing.T) {
	store := presence.NewStore(db.NewMemoryPresenceCollection(), db.NewMemoryHistoryCollection())
	liveHub := hub.New(store)
	store.AddListener(liveHub)
	hubCtx, stopHub := context.WithCancel(context.Background())
	go liveHub.Run(hubCtx)
	defer func() {
		stopHub()
		<-liveHub.Done()
	}()

	router := handlers.NewRouter(handlers.RouterConfig{
		Store:              store,
		Hub:                liveHub,
		Auth:               middleware.NewAuthMiddleware(auth.NewService("fleet-test-secret", time.Hour)),
		RateLimitPerMinute: config.Defaults().RateLimitPerMinute,
	})
	var total, throttled atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, r)
		total.Add(1)
		if rec.Code == http.StatusTooManyRequests {
			throttled.Add(1)
		}
		for k, v := range rec.Header() {
			w.Header()[k] = v
		}
		w.WriteHeader(rec.Code)
		w.Write(rec.Body.Bytes())
	}))
	defer srv.Close()

	s := settings{
		Count:        10,
		PollInterval: 20 * time.Millisecond,
		WatchMin:     5 * time.Millisecond,
		WatchMax:     15 * time.Millisecond,
	}
	fleet := startFleet(context.Background(), s, client.New(srv.URL+"/api", ""), 11)
	require.Len(t, fleet, 10)

	limit := int32(config.Defaults().RateLimitPerMinute)
	assert.Eventually(t, func() bool { return total.Load() > limit+80 }, 10*time.Second, 10*time.Millisecond)
	stopFleet(fleet)

	assert.Zero(t, throttled.Load())
	rows, err := store.ListAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, rows, 10)
}
