package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/live-presence/internal/client"
	"github.com/ukydev/live-presence/internal/logging"
	"github.com/ukydev/live-presence/internal/sampler"
)

// Palette shared with the map UI.
var colors = []string{
	"#00d4ff", "#ff6b6b", "#51cf66", "#ffd43b",
	"#cc5de8", "#ff922b", "#20c997", "#748ffc",
	"#f783ac", "#69db7c", "#9775fa", "#ffa94d",
}

var names = []string{
	"Ana", "Ben", "Chloe", "Dev", "Elif", "Farid", "Grace", "Hugo",
	"Ines", "Jonas", "Kemal", "Lina", "Mateo", "Nora", "Omar", "Priya",
}

// newIdentity returns a random user_<8 chars>_<unix ms> identity with a name
// and a palette color.
func newIdentity(rng *rand.Rand, now time.Time) sampler.Identity {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return sampler.Identity{
		UserID:   fmt.Sprintf("user_%s_%d", suffix, now.UnixMilli()),
		UserName: names[rng.Intn(len(names))],
		Color:    colors[rng.Intn(len(colors))],
	}
}

// settings is the simulator's environment.
type settings struct {
	Count        int
	APIURL       string
	Token        string
	PollInterval time.Duration
	// WatchMin and WatchMax bound the gap between watch fixes; zero keeps
	// the device default.
	WatchMin    time.Duration
	WatchMax    time.Duration
	FailureRate float64
}

func loadSettings() settings {
	s := settings{
		Count:        10,
		APIURL:       "http://localhost:8081/api",
		Token:        os.Getenv("SIM_AUTH_TOKEN"),
		PollInterval: 10 * time.Second,
	}
	for _, key := range []string{"FLEET_SIZE", "SIM_COUNT"} {
		if n, err := strconv.Atoi(os.Getenv(key)); err == nil && n > 0 {
			s.Count = n
		}
	}
	if v := os.Getenv("API_BASE_URL"); v != "" {
		s.APIURL = v
	}
	if n, err := strconv.Atoi(os.Getenv("SIM_POLL_SECONDS")); err == nil && n >= 1 {
		s.PollInterval = time.Duration(n) * time.Second
	}
	if n, err := strconv.Atoi(os.Getenv("SIM_WATCH_MIN_SECONDS")); err == nil && n >= 1 {
		s.WatchMin = time.Duration(n) * time.Second
	}
	if n, err := strconv.Atoi(os.Getenv("SIM_WATCH_MAX_SECONDS")); err == nil && n >= 1 {
		s.WatchMax = time.Duration(n) * time.Second
	}
	if s.WatchMax > 0 && s.WatchMax < s.WatchMin {
		s.WatchMax = s.WatchMin
	}
	if f, err := strconv.ParseFloat(os.Getenv("SIM_FAILURE_RATE"), 64); err == nil && f >= 0 && f < 1 {
		s.FailureRate = f
	}
	return s
}

// startFleet starts one sampler per simulated user. Samplers stop when ctx
// is done.
func startFleet(ctx context.Context, s settings, sink sampler.Sink, seed int64) []*sampler.Sampler {
	rng := rand.New(rand.NewSource(seed))
	fleet := make([]*sampler.Sampler, 0, s.Count)
	for i := 0; i < s.Count; i++ {
		home := sampler.JitterPoint(rng, sampler.Cities[rng.Intn(len(sampler.Cities))], 500)
		dev := sampler.NewSimulatedDevice(home, seed+int64(i)+1)
		dev.FailureRate = s.FailureRate
		if s.WatchMin > 0 {
			dev.MinInterval = s.WatchMin
		}
		if s.WatchMax > 0 {
			dev.MaxInterval = s.WatchMax
		}

		id := newIdentity(rng, time.Now())
		smp := sampler.New(dev, sink, sampler.Config{Identity: id, PollInterval: s.PollInterval})
		if err := smp.Start(ctx); err != nil {
			log.WithError(err).WithField("user_id", id.UserID).Error("Failed to start simulated user")
			continue
		}
		log.WithFields(log.Fields{
			"user_id":   id.UserID,
			"user_name": id.UserName,
			"lat":       home.Lat,
			"lon":       home.Lon,
		}).Info("Simulated user sharing location")
		fleet = append(fleet, smp)
	}
	return fleet
}

// stopFleet stops every sampler; each sends its own inactive signal.
func stopFleet(fleet []*sampler.Sampler) {
	var wg sync.WaitGroup
	for _, smp := range fleet {
		wg.Add(1)
		go func(smp *sampler.Sampler) {
			defer wg.Done()
			_ = smp.Stop()
		}(smp)
	}
	wg.Wait()
}

func main() {
	logging.Setup(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
	s := loadSettings()

	log.WithFields(log.Fields{
		"count":         s.Count,
		"api_url":       s.APIURL,
		"poll_interval": s.PollInterval,
		"watch_min":     s.WatchMin,
		"watch_max":     s.WatchMax,
	}).Info("Starting presence simulation")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fleet := startFleet(ctx, s, client.New(s.APIURL, s.Token), time.Now().UnixNano())
	if len(fleet) == 0 {
		log.Error("No simulated users started. Exiting.")
		return
	}

	<-ctx.Done()
	log.Info("Stopping simulation")
	stopFleet(fleet)
}
