package daemon

import (
	"errors"
	"log"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jcdickinson/implindex/internal/index"
	"github.com/jcdickinson/implindex/internal/rpc"
)

const watchWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The socket is only reachable by the owning user.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWatch streams the panel for ?page=&name=&format= over a websocket.
// The full panel is pushed once on connect and again after every change that
// touches the watched unit. An empty name watches the whole page.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, name, format := q.Get("page"), q.Get("name"), q.Get("format")
	if page == "" {
		writeError(w, http.StatusBadRequest, "missing page")
		return
	}
	if _, err := newPanelTarget(page, format); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("daemon: watch upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	s.metrics.watchers.Inc()
	defer s.metrics.watchers.Dec()

	ix, _ := s.pages.get(page, true)

	var (
		mu      sync.Mutex
		touched []string
	)
	changed := make(chan struct{}, 1)
	unsubscribe := ix.State.Subscribe(func(names []string) {
		if name != "" && !slices.Contains(names, name) {
			return
		}
		mu.Lock()
		touched = append(touched, names...)
		mu.Unlock()
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	// The read loop only exists to notice the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	push := func(units []string) bool {
		msg := s.watchMessage(ix, page, name, format)
		msg.Units = units
		conn.SetWriteDeadline(time.Now().Add(watchWriteTimeout))
		if err := conn.WriteJSON(msg); err != nil {
			log.Printf("daemon: watch client gone: %v", err)
			return false
		}
		return true
	}

	if !push(nil) {
		return
	}
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case <-changed:
			mu.Lock()
			units := dedupeSorted(touched)
			touched = nil
			mu.Unlock()
			s.resetExpiration()
			if !push(units) {
				return
			}
		}
	}
}

func (s *Server) watchMessage(ix *index.Index, page, name, format string) rpc.WatchMessage {
	msg := rpc.WatchMessage{Page: page}
	target, err := newPanelTarget(page, format)
	if err != nil {
		msg.Error = err.Error()
		return msg
	}
	resp, err := expandPanel(ix, name, target)
	if err != nil {
		if !errors.Is(err, index.ErrNotFound) {
			log.Printf("daemon: watch render %s: %v", page, err)
		}
		msg.Error = err.Error()
		return msg
	}
	msg.Entries = resp.Entries
	msg.Rendered = resp.Rendered
	return msg
}

func dedupeSorted(names []string) []string {
	out := slices.Clone(names)
	slices.Sort(out)
	return slices.Compact(out)
}
