package sampler

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"
)

// Point is a latitude/longitude pair in degrees.
type Point struct {
	Lat float64
	Lon float64
}

// Cities for realistic starting points
var Cities = []Point{
	{Lat: 31.7683, Lon: 35.2137},   // Jerusalem
	{Lat: 32.0853, Lon: 34.7818},   // Tel Aviv
	{Lat: 51.5074, Lon: -0.1278},   // London
	{Lat: 40.7128, Lon: -74.0060},  // New York
	{Lat: 48.8566, Lon: 2.3522},    // Paris
	{Lat: 41.0082, Lon: 28.9784},   // Istanbul
	{Lat: 35.6762, Lon: 139.6503},  // Tokyo
	{Lat: -33.8688, Lon: 151.2093}, // Sydney
	{Lat: 1.3521, Lon: 103.8198},   // Singapore
	{Lat: -23.5505, Lon: -46.6333}, // São Paulo
}

// JitterPoint moves base by up to meters in each axis.
func JitterPoint(rng *rand.Rand, base Point, meters float64) Point {
	latMetersPerDeg := 111320.0
	lonMetersPerDeg := 111320.0 * math.Cos(base.Lat*math.Pi/180)
	dLat := (rng.Float64()*2 - 1) * (meters / latMetersPerDeg)
	dLon := (rng.Float64()*2 - 1) * (meters / lonMetersPerDeg)
	return Point{Lat: base.Lat + dLat, Lon: base.Lon + dLon}
}

// HaversineMeters is the great-circle distance between a and b.
func HaversineMeters(a, b Point) float64 {
	const r = 6371000.0
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	s := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return r * 2 * math.Atan2(math.Sqrt(s), math.Sqrt(1-s))
}

func bearing(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180
	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	deg := math.Atan2(y, x) * 180 / math.Pi
	return math.Mod(deg+360, 360)
}

func lerp(a, b Point, t float64) Point {
	return Point{Lat: a.Lat + (b.Lat-a.Lat)*t, Lon: a.Lon + (b.Lon-a.Lon)*t}
}

// SimulatedDevice walks around a home point at walking-to-driving speed and
// reports fixes at irregular intervals, like a phone GPS.
type SimulatedDevice struct {
	Home         Point
	RadiusMeters float64
	SpeedMps     float64
	MinInterval  time.Duration
	MaxInterval  time.Duration
	// FailureRate is the fraction of watch fixes replaced by a transient error.
	FailureRate float64
	Unsupported bool
	Denied      bool

	mu       sync.Mutex
	rng      *rand.Rand
	pos      Point
	target   Point
	lastFix  Reading
	lastStep time.Time
	now      func() time.Time
}

// NewSimulatedDevice creates a device starting at home.
func NewSimulatedDevice(home Point, seed int64) *SimulatedDevice {
	rng := rand.New(rand.NewSource(seed))
	return &SimulatedDevice{
		Home:         home,
		RadiusMeters: 1500,
		SpeedMps:     1.4 + rng.Float64()*12,
		MinInterval:  time.Second,
		MaxInterval:  5 * time.Second,
		rng:          rng,
		pos:          home,
		target:       JitterPoint(rng, home, 1500),
		now:          time.Now,
	}
}

func (d *SimulatedDevice) capabilityErr() error {
	if d.Unsupported {
		return ErrUnsupported
	}
	if d.Denied {
		return ErrPermissionDenied
	}
	return nil
}

// Watch implements Device.
func (d *SimulatedDevice) Watch(ctx context.Context, opts ReadOptions) (<-chan Event, error) {
	if d.Unsupported {
		return nil, ErrUnsupported
	}
	out := make(chan Event, 1)
	go func() {
		defer close(out)
		if d.Denied {
			select {
			case out <- Event{Err: ErrPermissionDenied}:
			case <-ctx.Done():
			}
			return
		}
		for {
			timer := time.NewTimer(d.nextInterval())
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}

			ev := Event{}
			if d.failNow() {
				ev.Err = ErrTimeout
			} else {
				ev.Reading = d.fix()
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Current implements Device. A fix younger than opts.MaximumAge is reused.
func (d *SimulatedDevice) Current(ctx context.Context, opts ReadOptions) (Reading, error) {
	if err := d.capabilityErr(); err != nil {
		return Reading{}, err
	}
	if err := ctx.Err(); err != nil {
		return Reading{}, err
	}
	d.mu.Lock()
	cached := d.lastFix
	now := d.now()
	d.mu.Unlock()
	if !cached.Timestamp.IsZero() && now.Sub(cached.Timestamp) <= opts.MaximumAge {
		return cached, nil
	}
	return d.fix(), nil
}

func (d *SimulatedDevice) nextInterval() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	spread := d.MaxInterval - d.MinInterval
	if spread <= 0 {
		return d.MinInterval
	}
	return d.MinInterval + time.Duration(d.rng.Int63n(int64(spread)))
}

func (d *SimulatedDevice) failNow() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.FailureRate > 0 && d.rng.Float64() < d.FailureRate
}

// fix advances the walk to now and records a reading.
func (d *SimulatedDevice) fix() Reading {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if d.lastStep.IsZero() {
		d.lastStep = now
	}
	remaining := d.SpeedMps * now.Sub(d.lastStep).Seconds()
	d.lastStep = now
	for remaining > 0 {
		left := HaversineMeters(d.pos, d.target)
		if remaining >= left {
			d.pos = d.target
			d.target = JitterPoint(d.rng, d.Home, d.RadiusMeters)
			remaining -= left
			continue
		}
		d.pos = lerp(d.pos, d.target, remaining/left)
		remaining = 0
	}

	accuracy := 5 + d.rng.Float64()*15
	speed := d.SpeedMps
	heading := bearing(d.pos, d.target)
	d.lastFix = Reading{
		Latitude:  d.pos.Lat,
		Longitude: d.pos.Lon,
		Accuracy:  &accuracy,
		Speed:     &speed,
		Heading:   &heading,
		Timestamp: now,
	}
	return d.lastFix
}
