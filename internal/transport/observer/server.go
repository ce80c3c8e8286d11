package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"hearthwork.ai/internal/observerproto"
	"hearthwork.ai/internal/sim/project"
)

// Server streams lifecycle events to loopback observers. It is a
// project.EventSink; Emit is called from the simulation goroutine and never
// blocks on a slow client.
type Server struct {
	runID string
	log   *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64

	mu       sync.Mutex
	step     uint64
	status   map[string]*observerproto.ProjectStatus
	sessions map[string]*session
}

type session struct {
	out      chan []byte
	projects map[string]bool
	kinds    map[project.EventKind]bool
	dropped  int
}

func (s *session) wants(ev project.Event) bool {
	if len(s.projects) > 0 && !s.projects[ev.Project] {
		return false
	}
	if len(s.kinds) > 0 && !s.kinds[ev.Kind] {
		return false
	}
	return true
}

func NewServer(runID string, logger *log.Logger) *Server {
	return &Server{
		runID:    runID,
		log:      logger,
		status:   map[string]*observerproto.ProjectStatus{},
		sessions: map[string]*session{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // loopback only, see isLoopbackRemote
		},
	}
}

func (s *Server) Emit(ev project.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev.Step > s.step {
		s.step = ev.Step
	}
	s.track(ev)
	if len(s.sessions) == 0 {
		return
	}

	var plain []byte
	for sid, sess := range s.sessions {
		if !sess.wants(ev) {
			continue
		}
		var b []byte
		if sess.dropped > 0 {
			b = s.eventBytes(ev, sess.dropped)
		} else {
			if plain == nil {
				plain = s.eventBytes(ev, 0)
			}
			b = plain
		}
		select {
		case sess.out <- b:
			sess.dropped = 0
		default:
			sess.dropped++
			if sess.dropped == 1 && s.log != nil {
				s.log.Printf("observer %s: falling behind, dropping events", sid)
			}
		}
	}
}

func (s *Server) eventBytes(ev project.Event, dropped int) []byte {
	b, _ := json.Marshal(observerproto.EventMsg{
		Type:            "EVENT",
		ProtocolVersion: observerproto.Version,
		RunID:           s.runID,
		Event:           ev,
		Dropped:         dropped,
	})
	return b
}

// track folds ev into the per-project status shown to new subscribers.
func (s *Server) track(ev project.Event) {
	st := s.status[ev.Project]
	switch ev.Kind {
	case project.EventCreated:
		s.status[ev.Project] = &observerproto.ProjectStatus{
			ID: ev.Project, Kind: ev.ProjectKind, Phase: project.Recruiting.String(),
		}
		return
	case project.EventCompleted, project.EventCancelled:
		delete(s.status, ev.Project)
		return
	}
	if st == nil {
		return
	}
	switch ev.Kind {
	case project.EventPhase:
		st.Phase = ev.Phase
	case project.EventJoined:
		st.Workers++
	case project.EventLeft:
		if st.Workers > 0 {
			st.Workers--
		}
	case project.EventHaulStarted:
		st.Hauls++
	case project.EventHaulDelivered, project.EventHaulCancelled:
		if st.Hauls > 0 {
			st.Hauls--
		}
	case project.EventReset:
		st.Hauls = 0
	}
}

func (s *Server) snapshotLocked() (uint64, []observerproto.ProjectStatus) {
	out := make([]observerproto.ProjectStatus, 0, len(s.status))
	for _, st := range s.status {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i].ID) != len(out[j].ID) {
			return len(out[i].ID) < len(out[j].ID)
		}
		return out[i].ID < out[j].ID
	})
	return s.step, out
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		s.mu.Lock()
		step, projects := s.snapshotLocked()
		s.mu.Unlock()

		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(observerproto.BootstrapResponse{
			ProtocolVersion: observerproto.Version,
			RunID:           s.runID,
			Step:            step,
			Projects:        projects,
		})
	}
}

func parseSubscribe(msg []byte) (observerproto.SubscribeMsg, error) {
	var sub observerproto.SubscribeMsg
	if err := json.Unmarshal(msg, &sub); err != nil {
		return sub, err
	}
	if sub.Type != "SUBSCRIBE" || sub.ProtocolVersion != observerproto.Version {
		return sub, fmt.Errorf("expected SUBSCRIBE %s", observerproto.Version)
	}
	return sub, nil
}

// subscribe installs sub for sid and queues a STATUS message in the same
// critical section so no event can slip between the two.
func (s *Server) subscribe(sid string, out chan []byte, sub observerproto.SubscribeMsg) {
	sess := &session{out: out}
	if len(sub.Projects) > 0 {
		sess.projects = map[string]bool{}
		for _, p := range sub.Projects {
			sess.projects[p] = true
		}
	}
	if len(sub.Kinds) > 0 {
		sess.kinds = map[project.EventKind]bool{}
		for _, k := range sub.Kinds {
			sess.kinds[project.EventKind(k)] = true
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	step, projects := s.snapshotLocked()
	b, _ := json.Marshal(observerproto.StatusMsg{
		Type:            "STATUS",
		ProtocolVersion: observerproto.Version,
		RunID:           s.runID,
		Step:            step,
		Projects:        projects,
	})
	select {
	case out <- b:
	default:
	}
	if old := s.sessions[sid]; old != nil {
		sess.dropped = old.dropped
	}
	s.sessions[sid] = sess
}

func (s *Server) leave(sid string) {
	s.mu.Lock()
	delete(s.sessions, sid)
	s.mu.Unlock()
}

func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		sub, err := parseSubscribe(msg)
		if err != nil {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()), time.Now().Add(time.Second))
			return
		}

		sid := fmt.Sprintf("O%d", s.nextID.Add(1))
		out := make(chan []byte, 1024)
		s.subscribe(sid, out, sub)
		defer s.leave(sid)
		if s.log != nil {
			s.log.Printf("observer %s joined from %s", sid, r.RemoteAddr)
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Reader loop: SUBSCRIBE again replaces the filter.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			sub, err := parseSubscribe(msg)
			if err != nil {
				continue
			}
			s.subscribe(sid, out, sub)
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// Handler mounts the bootstrap and stream endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/observer/bootstrap", s.BootstrapHandler())
	mux.HandleFunc("/observer/ws", s.WSHandler())
	return mux
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
