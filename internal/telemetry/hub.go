package telemetry

import (
	"sync"
	"time"

	"github.com/openoct/GoOCT/internal/logging"
)

const defaultHistoryLimit = 32

// Stats is a snapshot of hub activity.
type Stats struct {
	Processed   int       `json:"processed"`
	Dropped     int       `json:"dropped"`
	LastSeq     int       `json:"lastSeq"`
	LastUpdate  time.Time `json:"lastUpdate"`
	HistoryLen  int       `json:"historyLen"`
	Subscribers int       `json:"subscribers"`
}

// Hub keeps a bounded frame history and fans live frames out to
// subscribers. Subscriber channels are written non-blocking so one stuck
// viewer cannot stall the pipeline.
type Hub struct {
	mu           sync.RWMutex
	log          logging.Logger
	history      []Frame
	historyLimit int
	subscribers  map[chan Frame]struct{}
	stats        Stats
}

// NewHub builds a hub keeping up to historyLimit frames. Zero means the
// default.
func NewHub(historyLimit int, log logging.Logger) *Hub {
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}
	if log == nil {
		log = logging.Default()
	}
	return &Hub{
		log:          log,
		historyLimit: historyLimit,
		subscribers:  make(map[chan Frame]struct{}),
	}
}

// Report implements Reporter.
func (h *Hub) Report(f Frame) {
	if f.Timestamp.IsZero() {
		f.Timestamp = time.Now()
	}

	h.mu.Lock()
	h.history = append(h.history, f)
	if len(h.history) > h.historyLimit {
		h.history = h.history[len(h.history)-h.historyLimit:]
	}
	h.stats.Processed = f.Processed
	h.stats.Dropped = f.Dropped
	h.stats.LastSeq = f.Seq
	h.stats.LastUpdate = f.Timestamp
	h.stats.HistoryLen = len(h.history)
	for ch := range h.subscribers {
		select {
		case ch <- f:
		default:
		}
	}
	h.mu.Unlock()
}

// History returns a copy of the stored frames, oldest first.
func (h *Hub) History() []Frame {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Frame, len(h.history))
	copy(out, h.history)
	return out
}

// StatsSnapshot returns current hub counters.
func (h *Hub) StatsSnapshot() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s := h.stats
	s.Subscribers = len(h.subscribers)
	return s
}

// Subscribe registers a listener for live frames. The returned cancel
// removes the subscription and closes the channel.
func (h *Hub) Subscribe() (chan Frame, func()) {
	ch := make(chan Frame, 4)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()
	cancel := func() {
		h.mu.Lock()
		if _, ok := h.subscribers[ch]; ok {
			delete(h.subscribers, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}
