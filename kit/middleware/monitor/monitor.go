/*
Package monitor records every request a Dispatcher handles, including
ones that never reach a handler, and serves them to operators: a GET
to the monitor endpoint returns the most recent events as JSON, and a
websocket connection to it receives the same backlog followed by a live
stream.

Register the Monitor as a DispatcherOptions observer and mount it in
front of the dispatcher. It is not meant to be routed through the
dispatcher itself, since websocket upgrades need the raw connection.
*/
package monitor

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/panther-now/panther/kit/colorlog"
	"github.com/panther-now/panther/kit/mux"
	"github.com/panther-now/panther/kit/netutil"
	"github.com/panther-now/panther/kit/response"
)

var Log = colorlog.New("monitor")

const (
	DefaultSize  = 256
	subscriberCh = 64
	writeWait    = 5 * time.Second
)

type Event struct {
	Time       time.Time `json:"time"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	Pattern    string    `json:"pattern,omitempty"`
	Status     int       `json:"status"`
	Kind       string    `json:"kind,omitempty"`
	DurationMS float64   `json:"duration_ms"`
	ClientIP   string    `json:"client_ip"`
	RequestID  string    `json:"request_id,omitempty"`
	Trace      string    `json:"trace"`
}

type Options struct {
	// Number of events kept for the backlog. Defaults to DefaultSize.
	Size int

	// Decides which origins may open a websocket. Defaults to
	// same-origin only.
	CheckOrigin func(r *http.Request) bool
}

type Monitor struct {
	mu    sync.Mutex
	ring  []Event
	next  int
	count int
	subs  map[chan Event]struct{}

	upgrader websocket.Upgrader
}

func New(opts Options) *Monitor {
	if opts.Size <= 0 {
		opts.Size = DefaultSize
	}
	return &Monitor{
		ring:     make([]Event, opts.Size),
		subs:     make(map[chan Event]struct{}),
		upgrader: websocket.Upgrader{CheckOrigin: opts.CheckOrigin},
	}
}

// Observe implements mux.Observer.
func (m *Monitor) Observe(o *mux.Outcome) {
	ev := Event{
		Time:       o.Start,
		Method:     o.Method,
		Path:       o.Path,
		Pattern:    o.Pattern,
		Status:     o.Status,
		DurationMS: float64(o.Duration.Microseconds()) / 1000,
		ClientIP:   netutil.StripPort(o.RemoteAddr),
		RequestID:  o.RequestID,
		Trace:      o.Trace(),
	}
	if o.Err != nil {
		ev.Kind = mux.AsHTTPError(o.Err).Kind()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.ring[m.next] = ev
	m.next = (m.next + 1) % len(m.ring)
	if m.count < len(m.ring) {
		m.count++
	}
	for ch := range m.subs {
		select {
		case ch <- ev:
		default:
			// Slow subscribers miss events rather than slow requests down.
		}
	}
}

// Recent returns the buffered events, oldest first.
func (m *Monitor) Recent() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recentLocked()
}

func (m *Monitor) recentLocked() []Event {
	out := make([]Event, 0, m.count)
	start := (m.next - m.count + len(m.ring)) % len(m.ring)
	for i := 0; i < m.count; i++ {
		out = append(out, m.ring[(start+i)%len(m.ring)])
	}
	return out
}

// subscribe returns the current backlog and a channel receiving every
// later event, atomically, so no event is missed or repeated.
func (m *Monitor) subscribe() ([]Event, chan Event) {
	ch := make(chan Event, subscriberCh)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[ch] = struct{}{}
	return m.recentLocked(), ch
}

func (m *Monitor) unsubscribe(ch chan Event) {
	m.mu.Lock()
	delete(m.subs, ch)
	m.mu.Unlock()
}

func (m *Monitor) Subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

func (m *Monitor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		m.stream(w, r)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		res := response.Error(http.StatusMethodNotAllowed, "method_not_allowed", nil).WithHeader("Allow", "GET, HEAD")
		res.Write(w, false)
		return
	}
	res, err := response.JSON(http.StatusOK, m.Recent())
	if err != nil {
		Log.Error("Error encoding events", "error", err)
		response.Error(http.StatusInternalServerError, "internal_error", nil).Write(w, false)
		return
	}
	res.Header.Set("Cache-Control", "no-store")
	res.Write(w, r.Method == http.MethodHead)
}

func (m *Monitor) stream(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the client.
		Log.Warn("Websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	backlog, ch := m.subscribe()
	defer m.unsubscribe(ch)

	// The client sends nothing; reading detects when it goes away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for _, ev := range backlog {
		if err := writeEvent(conn, ev); err != nil {
			return
		}
	}
	for {
		select {
		case <-closed:
			return
		case ev := <-ch:
			if err := writeEvent(conn, ev); err != nil {
				return
			}
		}
	}
}

func writeEvent(conn *websocket.Conn, ev Event) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(ev)
}
