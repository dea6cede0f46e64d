package typewriter

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Sink receives revealed text for a node, in arrival order.
type Sink interface {
	Reveal(nodeID, text string)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(nodeID, text string)

// Reveal calls f(nodeID, text).
func (f SinkFunc) Reveal(nodeID, text string) {
	f(nodeID, text)
}

// Config holds the pacing parameters of a Throttle.
type Config struct {
	// Interval is the time between ticks
	Interval time.Duration

	// DrainTicks is the number of ticks in which any backlog drains
	DrainTicks int
}

// DefaultConfig returns the standard pacing: 30ms ticks, 40 ticks to drain.
func DefaultConfig() Config {
	return Config{
		Interval:   30 * time.Millisecond,
		DrainTicks: 40,
	}
}

// Throttle buffers text per node and reveals it at a steady pace through a
// Sink. One ticker goroutine serves all nodes. It starts on the first Append
// and exits once every buffer is empty and the in-flight probe reports that
// no generation is running.
type Throttle struct {
	sink     Sink
	inFlight func() bool
	config   Config
	logger   *slog.Logger

	mu      sync.Mutex
	buffers map[string][]rune
	running bool
	closed  bool
	stop    chan struct{}
	done    chan struct{}
}

// New creates a Throttle. inFlight may be nil, in which case the ticker
// stops as soon as the buffers are empty.
func New(sink Sink, inFlight func() bool, config Config, logger *slog.Logger) *Throttle {
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	if config.DrainTicks <= 0 {
		config.DrainTicks = DefaultConfig().DrainTicks
	}
	if inFlight == nil {
		inFlight = func() bool { return false }
	}

	return &Throttle{
		sink:     sink,
		inFlight: inFlight,
		config:   config,
		logger:   logger.With("component", "typewriter"),
		buffers:  make(map[string][]rune),
	}
}

// Append queues text for nodeID and starts the ticker if it is not running.
func (t *Throttle) Append(nodeID, text string) {
	if text == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		t.logger.Debug("append after close ignored", "node_id", nodeID)
		return
	}

	t.buffers[nodeID] = append(t.buffers[nodeID], []rune(text)...)
	if !t.running {
		t.start()
	}
}

// start launches the ticker goroutine. Caller holds t.mu.
func (t *Throttle) start() {
	t.running = true
	t.stop = make(chan struct{})
	t.done = make(chan struct{})
	go t.loop(t.stop, t.done)
}

func (t *Throttle) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(t.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !t.tick(stop) {
				return
			}
		}
	}
}

type reveal struct {
	nodeID string
	text   string
}

// tick releases one step of every backlog and reports whether the ticker
// should keep running.
func (t *Throttle) tick(stop <-chan struct{}) bool {
	// The probe may take other locks, so it runs before t.mu is held.
	generating := t.inFlight()

	t.mu.Lock()
	select {
	case <-stop:
		t.mu.Unlock()
		return false
	default:
	}

	ids := make([]string, 0, len(t.buffers))
	for id := range t.buffers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	reveals := make([]reveal, 0, len(ids))
	for _, id := range ids {
		buf := t.buffers[id]
		n := stepSize(len(buf), t.config.DrainTicks)
		reveals = append(reveals, reveal{nodeID: id, text: string(buf[:n])})
		if n == len(buf) {
			delete(t.buffers, id)
		} else {
			t.buffers[id] = buf[n:]
		}
	}

	keepRunning := len(t.buffers) > 0 || generating
	if !keepRunning {
		t.running = false
	}
	t.mu.Unlock()

	for _, r := range reveals {
		t.sink.Reveal(r.nodeID, r.text)
	}
	return keepRunning
}

// stepSize is max(1, ceil(backlog/drainTicks)).
func stepSize(backlog, drainTicks int) int {
	n := (backlog + drainTicks - 1) / drainTicks
	if n < 1 {
		n = 1
	}
	if n > backlog {
		n = backlog
	}
	return n
}

// Stop discards every buffer and halts the ticker immediately. Text that was
// queued but not yet revealed is dropped.
func (t *Throttle) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
}

func (t *Throttle) stopLocked() {
	dropped := 0
	for _, buf := range t.buffers {
		dropped += len(buf)
	}
	t.buffers = make(map[string][]rune)

	if t.running {
		close(t.stop)
		t.running = false
	}
	if dropped > 0 {
		t.logger.Debug("typewriter stopped", "dropped_runes", dropped)
	}
}

// Close stops the throttle and waits for the ticker goroutine to exit. Later
// Appends are ignored. Close is safe to call more than once.
func (t *Throttle) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.stopLocked()
	done := t.done
	t.mu.Unlock()

	if done != nil {
		<-done
	}
}

// Pending returns the number of runes queued for nodeID.
func (t *Throttle) Pending(nodeID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.buffers[nodeID])
}

// Running reports whether the ticker goroutine is active.
func (t *Throttle) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}
