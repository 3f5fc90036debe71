package service

import "sync"

// Stats accumulates processing counters across cycles. Cycles run one at a
// time on the receiver context, but the status endpoint reads concurrently,
// so access goes through a mutex.
type Stats struct {
	mu sync.Mutex

	connected      bool
	cycles         int64
	decodeFailures int64
	engineFailures int64
	detections     int64
	published      int64
	filtered       int64
	publishErrors  int64
	lastRatio      float64
}

// Snapshot is a point-in-time copy of the counters, shaped for the status
// endpoint.
type Snapshot struct {
	Connected      bool    `json:"connected"`
	Cycles         int64   `json:"cycles"`
	DecodeFailures int64   `json:"decode_failures"`
	EngineFailures int64   `json:"engine_failures"`
	Detections     int64   `json:"detections"`
	Published      int64   `json:"published"`
	Filtered       int64   `json:"filtered"`
	PublishErrors  int64   `json:"publish_errors"`
	LastRatio      float64 `json:"last_compression_ratio"`
}

func (s *Stats) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}

func (s *Stats) cycleStarted() {
	s.mu.Lock()
	s.cycles++
	s.mu.Unlock()
}

func (s *Stats) decodeFailure() {
	s.mu.Lock()
	s.decodeFailures++
	s.mu.Unlock()
}

func (s *Stats) engineFailure() {
	s.mu.Lock()
	s.engineFailures++
	s.mu.Unlock()
}

func (s *Stats) publishError() {
	s.mu.Lock()
	s.publishErrors++
	s.mu.Unlock()
}

func (s *Stats) cycleFinished(detections, published, filtered int, ratio float64) {
	s.mu.Lock()
	s.detections += int64(detections)
	s.published += int64(published)
	s.filtered += int64(filtered)
	if ratio > 0 {
		s.lastRatio = ratio
	}
	s.mu.Unlock()
}

// Snapshot returns a consistent copy of all counters.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Connected:      s.connected,
		Cycles:         s.cycles,
		DecodeFailures: s.decodeFailures,
		EngineFailures: s.engineFailures,
		Detections:     s.detections,
		Published:      s.published,
		Filtered:       s.filtered,
		PublishErrors:  s.publishErrors,
		LastRatio:      s.lastRatio,
	}
}
