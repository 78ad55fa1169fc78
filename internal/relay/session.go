package relay

import (
	"math"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxlate/voxlate/internal/quota"
)

// State is the lifecycle phase of a live session.
type State int

const (
	StateConnecting State = iota
	StateActive
	StateClosing
	StateClosed
)

// Session owns the two sockets and the mutable per-session state. The close
// path runs under the settled flag so that teardown and settlement happen
// exactly once no matter which side disconnects or errors first.
type Session struct {
	caller   *websocket.Conn
	upstream *websocket.Conn

	userID    string
	tier      quota.Tier
	model     string
	startedAt time.Time

	usage accumulator

	mu      sync.Mutex
	state   State
	settled bool
}

func newSession(caller, upstream *websocket.Conn, userID string, tier quota.Tier, model string, startedAt time.Time) *Session {
	return &Session{
		caller:    caller,
		upstream:  upstream,
		userID:    userID,
		tier:      tier,
		model:     model,
		startedAt: startedAt,
		state:     StateConnecting,
	}
}

func (s *Session) activate() {
	s.mu.Lock()
	if s.state == StateConnecting {
		s.state = StateActive
	}
	s.mu.Unlock()
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// pumpCallerToUpstream forwards caller frames verbatim, dropping any
// setup-shaped frame. Returns when either socket fails.
func (s *Session) pumpCallerToUpstream() error {
	for {
		msgType, frame, err := s.caller.ReadMessage()
		if err != nil {
			return err
		}
		if isSetupFrame(frame) {
			continue
		}
		if err := s.upstream.WriteMessage(msgType, frame); err != nil {
			return err
		}
	}
}

// pumpUpstreamToCaller forwards upstream frames verbatim and feeds every
// frame to the usage accumulator.
func (s *Session) pumpUpstreamToCaller() error {
	for {
		msgType, frame, err := s.upstream.ReadMessage()
		if err != nil {
			return err
		}
		s.usage.Observe(frame)
		if err := s.caller.WriteMessage(msgType, frame); err != nil {
			return err
		}
	}
}

// shutdown closes both sockets and returns the aggregated usage and the
// billable wall-clock duration. Only the first caller wins; later calls
// report ok=false.
func (s *Session) shutdown(now time.Time) (agg ModalityTokens, durationSeconds int64, ok bool) {
	s.mu.Lock()
	if s.settled {
		s.mu.Unlock()
		return ModalityTokens{}, 0, false
	}
	s.settled = true
	s.state = StateClosing
	s.mu.Unlock()

	// Either socket may already be gone.
	_ = s.caller.Close()
	_ = s.upstream.Close()

	agg = s.usage.Aggregate()
	durationSeconds = ceilSeconds(now.Sub(s.startedAt))

	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
	return agg, durationSeconds, true
}

func ceilSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(math.Ceil(d.Seconds()))
}
