package conversation

import (
	"encoding/json"
	"time"
)

// DefaultMaxTurnHistory caps a session's retained turns; oldest are evicted
// first.
const DefaultMaxTurnHistory = 20

// Turn is one completed user/assistant exchange.
type Turn struct {
	UserText      string    `json:"user_text"`
	AssistantText string    `json:"assistant_text"`
	StartedAt     time.Time `json:"started_at"`
	EndedAt       time.Time `json:"ended_at"`
}

// CallSession is the central aggregate for one active call. It is owned
// exclusively by its orchestrator; nothing else mutates it.
type CallSession struct {
	SessionID string
	Vendor    string
	StreamID  string
	CallSID   string
	From      string

	fsm               *FSM
	maxTurns          int
	turnHistory       []Turn
	transferTriggered bool
	startedAt         time.Time
}

func NewCallSession(sessionID, vendor, streamID, callSID, from string, maxTurns int) *CallSession {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurnHistory
	}
	return &CallSession{
		SessionID: sessionID,
		Vendor:    vendor,
		StreamID:  streamID,
		CallSID:   callSID,
		From:      from,
		fsm:       NewFSM(),
		maxTurns:  maxTurns,
		startedAt: time.Now(),
	}
}

func (s *CallSession) State() State             { return s.fsm.State() }
func (s *CallSession) Transition(to State) error { return s.fsm.Transition(to) }
func (s *CallSession) TransferTriggered() bool  { return s.transferTriggered }
func (s *CallSession) MarkTransferred()         { s.transferTriggered = true }
func (s *CallSession) StartedAt() time.Time     { return s.startedAt }

// AppendTurn records a completed exchange, evicting the oldest once the cap
// is reached.
func (s *CallSession) AppendTurn(t Turn) {
	s.turnHistory = append(s.turnHistory, t)
	if len(s.turnHistory) > s.maxTurns {
		s.turnHistory = s.turnHistory[len(s.turnHistory)-s.maxTurns:]
	}
}

// History returns a copy of the retained turns, oldest first.
func (s *CallSession) History() []Turn {
	return append([]Turn(nil), s.turnHistory...)
}

type sessionSnapshot struct {
	SessionID         string `json:"session_id"`
	Vendor            string `json:"vendor"`
	StreamID          string `json:"stream_id"`
	CallSID           string `json:"call_sid"`
	From              string `json:"from"`
	State             State  `json:"state"`
	TurnHistory       []Turn `json:"turn_history"`
	UnknownStreak     int    `json:"unknown_streak"`
	TransferTriggered bool   `json:"transfer_triggered"`
}

// Snapshot serializes the session for the external store so a replica can
// pick the call up after a reconnect.
func (s *CallSession) Snapshot(unknownStreak int) ([]byte, error) {
	return json.Marshal(sessionSnapshot{
		SessionID:         s.SessionID,
		Vendor:            s.Vendor,
		StreamID:          s.StreamID,
		CallSID:           s.CallSID,
		From:              s.From,
		State:             s.fsm.State(),
		TurnHistory:       s.turnHistory,
		UnknownStreak:     unknownStreak,
		TransferTriggered: s.transferTriggered,
	})
}

// RestoreSnapshot rehydrates history and flags from a stored snapshot. The
// returned value is the persisted unknown-response streak.
func (s *CallSession) RestoreSnapshot(data []byte) (int, error) {
	var snap sessionSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return 0, err
	}
	s.turnHistory = snap.TurnHistory
	s.transferTriggered = snap.TransferTriggered
	if snap.State != "" {
		s.fsm.Restore(snap.State)
	}
	return snap.UnknownStreak, nil
}
