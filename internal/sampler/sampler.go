// Package sampler turns a location device into a stream of position
// submissions for one identity: a continuous watch plus a periodic fallback
// poll, both feeding the same sink.
package sampler

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/live-presence/internal/models"
)

// ErrAlreadyRunning is returned by Start while a run is in progress.
var ErrAlreadyRunning = errors.New("sampler already running")

// Status is the user-visible GPS state.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusRequesting Status = "requesting"
	StatusActive     Status = "active"
	StatusError      Status = "error"
)

// Identity is the self-asserted producer identity.
type Identity struct {
	UserID   string
	UserName string
	Color    string
}

// Sink receives samples and the final inactive signal.
type Sink interface {
	SubmitPosition(ctx context.Context, sample models.PositionSample) error
	MarkInactive(ctx context.Context, userID string) error
}

// Config holds the sampler's timing. Zero fields take the defaults.
type Config struct {
	Identity     Identity
	Watch        ReadOptions
	PollInterval time.Duration
	Poll         ReadOptions
	SendTimeout  time.Duration
	// OnError receives capability errors; defaults to logging them.
	OnError func(error)
}

func (c *Config) applyDefaults() {
	if c.Watch == (ReadOptions{}) {
		c.Watch = ReadOptions{HighAccuracy: true, Timeout: 15 * time.Second, MaximumAge: 0}
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Second
	}
	if c.Poll == (ReadOptions{}) {
		c.Poll = ReadOptions{HighAccuracy: true, Timeout: 10 * time.Second, MaximumAge: 5 * time.Second}
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	if c.OnError == nil {
		c.OnError = func(err error) {
			log.WithError(err).Warn("Location error")
		}
	}
}

// Sampler runs one identity's sampling. It can be started again after it
// stops.
type Sampler struct {
	device Device
	sink   Sink
	cfg    Config

	mu      sync.Mutex
	status  Status
	current *run
}

type run struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
	err    error
	done   chan struct{}
	// terminal is set by the watch loop before it cancels the run.
	terminal bool
}

// New creates a sampler.
func New(device Device, sink Sink, cfg Config) *Sampler {
	cfg.applyDefaults()
	return &Sampler{device: device, sink: sink, cfg: cfg, status: StatusIdle}
}

// Status returns the current GPS state.
func (s *Sampler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Running reports whether a sampling run is in progress.
func (s *Sampler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

func (s *Sampler) setStatus(st Status) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

// Start begins sampling. Cancelling ctx has the same effect as Stop: both
// emission sources end and one inactive signal is sent.
func (s *Sampler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.current != nil {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	// Watch only registers the listener, so the lock is held across it to
	// keep Stop from seeing a half-started run.
	runCtx, cancel := context.WithCancel(ctx)
	events, err := s.device.Watch(runCtx, s.cfg.Watch)
	if err != nil {
		s.status = StatusError
		s.mu.Unlock()
		cancel()
		s.cfg.OnError(err)
		return err
	}
	r := &run{cancel: cancel, done: make(chan struct{})}
	r.wg.Add(2)
	s.current = r
	s.status = StatusRequesting
	s.mu.Unlock()

	go s.watchLoop(runCtx, r, events)
	go s.pollLoop(runCtx, r)
	go func() {
		<-runCtx.Done()
		s.finish(r)
	}()

	log.WithField("user_id", s.cfg.Identity.UserID).Info("Location sharing started")
	return nil
}

// Stop ends sampling and returns the result of the inactive signal. Calling
// Stop when not running does nothing.
func (s *Sampler) Stop() error {
	s.mu.Lock()
	r := s.current
	s.mu.Unlock()
	if r == nil {
		return nil
	}
	s.finish(r)
	return r.err
}

// Done is closed when the current run has fully stopped. It returns a
// closed channel when not running.
func (s *Sampler) Done() <-chan struct{} {
	s.mu.Lock()
	r := s.current
	s.mu.Unlock()
	if r == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return r.done
}

func (s *Sampler) finish(r *run) {
	r.once.Do(func() {
		r.cancel()
		r.wg.Wait()

		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SendTimeout)
		r.err = s.sink.MarkInactive(ctx, s.cfg.Identity.UserID)
		cancel()
		if r.err != nil {
			// Not retried: the row ages out of the active set on its own.
			log.WithError(r.err).WithField("user_id", s.cfg.Identity.UserID).Warn("Failed to mark inactive")
		}

		s.mu.Lock()
		if s.current == r {
			s.current = nil
		}
		if r.terminal {
			s.status = StatusError
		} else {
			s.status = StatusIdle
		}
		s.mu.Unlock()
		close(r.done)
		log.WithField("user_id", s.cfg.Identity.UserID).Info("Location sharing stopped")
	})
}

func (s *Sampler) watchLoop(ctx context.Context, r *run, events <-chan Event) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Err != nil {
				s.setStatus(StatusError)
				s.cfg.OnError(ev.Err)
				if IsTerminal(ev.Err) {
					r.terminal = true
					r.cancel()
					return
				}
				continue
			}
			s.send(ctx, ev.Reading)
		}
	}
}

func (s *Sampler) pollLoop(ctx context.Context, r *run) {
	defer r.wg.Done()
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reading, err := s.device.Current(ctx, s.cfg.Poll)
			if err != nil {
				log.WithError(err).Debug("Periodic location read failed")
				continue
			}
			s.send(ctx, reading)
		}
	}
}

func (s *Sampler) send(ctx context.Context, reading Reading) {
	sample := models.PositionSample{
		UserID:    s.cfg.Identity.UserID,
		UserName:  s.cfg.Identity.UserName,
		Latitude:  reading.Latitude,
		Longitude: reading.Longitude,
		Accuracy:  reading.Accuracy,
		Speed:     reading.Speed,
		Heading:   reading.Heading,
		Color:     s.cfg.Identity.Color,
	}
	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	defer cancel()
	if err := s.sink.SubmitPosition(sendCtx, sample); err != nil {
		// The next poll retries within one interval.
		log.WithError(err).WithField("user_id", sample.UserID).Error("Error sending location")
		return
	}
	s.setStatus(StatusActive)
}
