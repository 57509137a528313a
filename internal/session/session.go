// Package session holds the per-call monitoring state shared by the capture,
// streaming and alerting components.
package session

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// UnknownNumber is used when the telephony source did not report a caller.
const UnknownNumber = "Unknown"

// State is the lifecycle state of a CallSession.
type State int32

const (
	Idle State = iota
	Starting
	Streaming
	Stopping
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Streaming:
		return "streaming"
	case Stopping:
		return "stopping"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Active reports whether the session still owns capture or network resources
// that a new start request must not duplicate.
func (s State) Active() bool {
	return s == Starting || s == Streaming
}

// transitions lists the allowed moves of the state machine. Any state may
// move to Stopping on a fatal capture error; Stopping only ends in Closed.
var transitions = map[State][]State{
	Idle:      {Starting, Stopping},
	Starting:  {Streaming, Stopping},
	Streaming: {Stopping},
	Stopping:  {Closed},
}

// CallSession is the bounded monitoring lifetime of one phone call.
type CallSession struct {
	ID        string
	StartedAt time.Time

	state       atomic.Int32
	alertRaised atomic.Bool

	mu          sync.Mutex
	phoneNumber string
	callerName  string
	logRecordID int64
}

// New creates a session in the Idle state.
func New(phoneNumber string) *CallSession {
	if phoneNumber == "" {
		phoneNumber = UnknownNumber
	}
	return &CallSession{
		ID:          uuid.New().String(),
		StartedAt:   time.Now().UTC(),
		phoneNumber: phoneNumber,
	}
}

// State returns the current lifecycle state.
func (s *CallSession) State() State {
	return State(s.state.Load())
}

// Transition moves the session to next if that move is allowed from the
// current state. It returns false and leaves the state untouched otherwise.
func (s *CallSession) Transition(next State) bool {
	for {
		cur := s.State()
		if !allowed(cur, next) {
			return false
		}
		if s.state.CompareAndSwap(int32(cur), int32(next)) {
			return true
		}
	}
}

func allowed(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// MarkAlertRaised latches the alert flag. Exactly one caller per session
// observes true; every later call returns false.
func (s *CallSession) MarkAlertRaised() bool {
	return s.alertRaised.CompareAndSwap(false, true)
}

// AlertRaised reports whether the fan-out already ran for this session.
func (s *CallSession) AlertRaised() bool {
	return s.alertRaised.Load()
}

func (s *CallSession) PhoneNumber() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phoneNumber
}

func (s *CallSession) CallerName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callerName
}

// RefineCaller replaces the phone number (and optionally the caller name)
// once the telephony source learns more about the call. Empty values are
// ignored. It reports whether anything changed.
func (s *CallSession) RefineCaller(phoneNumber, callerName string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := false
	if phoneNumber != "" && phoneNumber != s.phoneNumber {
		s.phoneNumber = phoneNumber
		changed = true
	}
	if callerName != "" && callerName != s.callerName {
		s.callerName = callerName
		changed = true
	}
	return changed
}

// LogRecordID returns the call-log reference, or 0 when the store has not
// acknowledged the record yet.
func (s *CallSession) LogRecordID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logRecordID
}

// SetLogRecordID records the call-log reference. It is set at most once.
func (s *CallSession) SetLogRecordID(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.logRecordID == 0 {
		s.logRecordID = id
	}
}
