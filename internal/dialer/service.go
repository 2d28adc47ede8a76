package dialer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// e164ish accepts international numbers in loose E.164 shape. Strict vendor
// validation happens remotely; this only rejects obvious garbage up front.
var e164ish = regexp.MustCompile(`^\+[1-9]\d{6,14}$`)

const statusCacheTTL = 5 * time.Second

// Service orchestrates operator-initiated phone-network calls: dial, local
// duration ticking, termination, and status polling.
//
// The per-call ticker is a scoped resource: acquired on StartCall, stopped
// on EndCall and on Close, never left to garbage collection.
type Service struct {
	api   API
	cache *redis.Client
	log   *slog.Logger

	clock     func() time.Time
	newTicker func() (<-chan time.Time, func())

	mu      sync.Mutex
	records map[string]*Record
	stops   map[string]chan struct{}
}

func NewService(api API, cache *redis.Client, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		api:   api,
		cache: cache,
		log:   log,
		clock: time.Now,
		newTicker: func() (<-chan time.Time, func()) {
			t := time.NewTicker(time.Second)
			return t.C, t.Stop
		},
		records: make(map[string]*Record),
		stops:   make(map[string]chan struct{}),
	}
}

// StartCall dials to from the selected registry number and begins ticking
// the call's duration once per second.
func (s *Service) StartCall(ctx context.Context, from, to string) (Record, error) {
	if from == "" {
		return Record{}, &DialError{Message: "from number is required"}
	}
	if !e164ish.MatchString(to) {
		return Record{}, &DialError{Message: "to number must be E.164, e.g. +15550001234"}
	}

	callID, err := s.api.Dial(ctx, from, to)
	if err != nil {
		return Record{}, err
	}

	rec := &Record{
		CallID:    callID,
		From:      from,
		To:        to,
		Status:    StatusStarted,
		StartedAt: s.clock().UTC(),
	}
	stop := make(chan struct{})

	s.mu.Lock()
	s.records[callID] = rec
	s.stops[callID] = stop
	s.mu.Unlock()

	go s.tickDuration(callID, stop)

	s.log.Info("outbound call started", "call_id", callID, "from", from, "to", to)
	return *rec, nil
}

// EndCall requests remote termination and stops the local ticker. A call the
// platform has already forgotten still ends locally.
func (s *Service) EndCall(ctx context.Context, callID string) (Record, error) {
	if err := s.api.End(ctx, callID); err != nil && !errors.Is(err, ErrCallGone) {
		return Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[callID]
	if !ok {
		return Record{}, &DialError{Message: "unknown call " + callID}
	}
	if stop, ok := s.stops[callID]; ok {
		close(stop)
		delete(s.stops, callID)
	}
	if rec.Status != StatusEnded {
		rec.Status = StatusEnded
		now := s.clock().UTC()
		rec.EndedAt = &now
	}
	s.log.Info("outbound call ended", "call_id", callID, "duration_s", rec.DurationSeconds)
	return *rec, nil
}

// PollStatus fetches the remote status snapshot, read through a short-TTL
// redis cache so list views polling every second do not hammer the vendor.
func (s *Service) PollStatus(ctx context.Context, callID string) (StatusSnapshot, error) {
	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, statusKey(callID)).Bytes(); err == nil {
			var snap StatusSnapshot
			if json.Unmarshal(raw, &snap) == nil {
				return snap, nil
			}
		}
	}

	snap, err := s.api.Status(ctx, callID)
	if err != nil {
		return StatusSnapshot{}, err
	}

	if s.cache != nil {
		if raw, err := json.Marshal(snap); err == nil {
			if err := s.cache.Set(ctx, statusKey(callID), raw, statusCacheTTL).Err(); err != nil {
				s.log.Warn("status cache write failed", "call_id", callID, "err", err)
			}
		}
	}
	return snap, nil
}

// ListNumbers returns the registry of dialable "from" numbers.
func (s *Service) ListNumbers(ctx context.Context) ([]Number, error) {
	return s.api.ListNumbers(ctx)
}

// Get returns the local record for one call.
func (s *Service) Get(callID string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[callID]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// List returns copies of all local records.
func (s *Service) List() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, *rec)
	}
	return out
}

// Overview summarizes all local records.
func (s *Service) Overview() Summary {
	return Summarize(s.List())
}

// Close stops every live ticker. Called on component teardown so no
// interval outlives the service.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, stop := range s.stops {
		close(stop)
		delete(s.stops, id)
	}
}

func (s *Service) tickDuration(callID string, stop chan struct{}) {
	ticks, cancel := s.newTicker()
	defer cancel()

	for {
		select {
		case <-stop:
			return
		case <-ticks:
			s.mu.Lock()
			if rec, ok := s.records[callID]; ok && rec.Status == StatusStarted {
				rec.DurationSeconds++
			}
			s.mu.Unlock()
		}
	}
}

func statusKey(callID string) string { return "dial_status:" + callID }
