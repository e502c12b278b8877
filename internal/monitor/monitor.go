// Package monitor exposes a run's log stream and progress over HTTP and
// websockets so an operator can watch a print without the console.
package monitor

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/lee-lab-skku/dynamic-clip-software/internal/engine"
)

const logRingSize = 256

// State is the shared view of the running print. Writers are the engine
// callbacks; readers are the HTTP handlers and websocket clients.
type State struct {
	mu sync.RWMutex

	Port      string
	ImageDir  string
	Driver    string
	startTime time.Time

	progress engine.Progress
	logRing  []string
	logHead  int
	logCount int

	logClients      map[*websocket.Conn]bool
	progressClients map[*websocket.Conn]bool
}

func NewState(port, imageDir, driver string) *State {
	return &State{
		Port:            port,
		ImageDir:        imageDir,
		Driver:          driver,
		startTime:       time.Now(),
		logRing:         make([]string, logRingSize),
		logClients:      map[*websocket.Conn]bool{},
		progressClients: map[*websocket.Conn]bool{},
	}
}

// AppendLog records a log line and pushes it to connected clients.
func (s *State) AppendLog(line string) {
	s.mu.Lock()
	s.logRing[s.logHead] = line
	s.logHead = (s.logHead + 1) % logRingSize
	if s.logCount < logRingSize {
		s.logCount++
	}
	s.mu.Unlock()

	s.broadcast(s.logClients, map[string]any{
		"t":    time.Now().UnixNano(),
		"line": line,
	})
}

// SetProgress records the run's latest progress and pushes it to
// connected clients.
func (s *State) SetProgress(p engine.Progress) {
	s.mu.Lock()
	s.progress = p
	s.mu.Unlock()

	s.broadcast(s.progressClients, map[string]any{
		"t":           time.Now().UnixNano(),
		"mode":        p.Mode,
		"phase":       p.Phase,
		"layer":       p.Layer,
		"image_index": p.ImageIndex,
		"image_count": p.ImageCount,
	})
}

// RecentLogs returns the buffered log lines, oldest first.
func (s *State) RecentLogs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, s.logCount)
	start := s.logHead - s.logCount
	if start < 0 {
		start += logRingSize
	}
	for i := 0; i < s.logCount; i++ {
		out = append(out, s.logRing[(start+i)%logRingSize])
	}
	return out
}

// Progress returns the latest recorded progress.
func (s *State) Progress() engine.Progress {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.progress
}

func (s *State) HandleLogWS(w http.ResponseWriter, r *http.Request) {
	up := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	// Replay the buffer so a late client sees the run so far.
	for _, line := range s.RecentLogs() {
		b, _ := json.Marshal(map[string]any{"line": line})
		if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
			conn.Close()
			return
		}
	}

	s.mu.Lock()
	s.logClients[conn] = true
	s.mu.Unlock()

	go s.drain(conn, s.logClients)
}

func (s *State) HandleProgressWS(w http.ResponseWriter, r *http.Request) {
	up := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.progressClients[conn] = true
	s.mu.Unlock()

	go s.drain(conn, s.progressClients)
}

func (s *State) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	resp := map[string]any{
		"uptime_s":    time.Since(s.startTime).Seconds(),
		"port":        s.Port,
		"image_dir":   s.ImageDir,
		"driver":      s.Driver,
		"mode":        s.progress.Mode,
		"phase":       s.progress.Phase,
		"layer":       s.progress.Layer,
		"image_index": s.progress.ImageIndex,
		"image_count": s.progress.ImageCount,
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// drain discards inbound messages and removes the client on error.
func (s *State) drain(conn *websocket.Conn, set map[*websocket.Conn]bool) {
	defer func() {
		s.mu.Lock()
		delete(set, conn)
		s.mu.Unlock()
		conn.Close()
	}()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *State) broadcast(set map[*websocket.Conn]bool, msg map[string]any) {
	b, _ := json.Marshal(msg)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for c := range set {
		c.SetWriteDeadline(time.Now().Add(200 * time.Millisecond))
		if err := c.WriteMessage(websocket.TextMessage, b); err != nil {
			log.Debug().Err(err).Msg("write monitor message")
		}
	}
}
