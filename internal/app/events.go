package app

import (
	"encoding/json"
	"slices"
	"sync"
	"time"

	"github.com/PCL-Community/PCL.Core-sub001/internal/mesh"
	"github.com/PCL-Community/PCL.Core-sub001/internal/player"
)

// EventKind names a controller notification.
type EventKind string

const (
	EventStateChanged   EventKind = "state_changed"
	EventPlayersUpdated EventKind = "players_updated"
	EventNeedDownload   EventKind = "need_download"
	EventServerShutdown EventKind = "server_shutdown"
	EventHint           EventKind = "hint"
)

// HintLevel is the severity of a user-facing hint.
type HintLevel uint8

const (
	HintInfo HintLevel = iota
	HintWarning
	HintCritical
)

func (l HintLevel) String() string {
	switch l {
	case HintWarning:
		return "warning"
	case HintCritical:
		return "critical"
	default:
		return "info"
	}
}

func (l HintLevel) MarshalJSON() ([]byte, error) { return json.Marshal(l.String()) }

// Hint is a message meant for the user.
type Hint struct {
	Level   HintLevel `json:"level"`
	Message string    `json:"message"`
}

// Event is one notification. Only the fields relevant to Kind are set.
type Event struct {
	Kind     EventKind        `json:"kind"`
	Time     time.Time        `json:"time"`
	State    *State           `json:"state,omitempty"`
	Previous *State           `json:"previous,omitempty"`
	Players  []player.Profile `json:"players,omitempty"`
	Hint     *Hint            `json:"hint,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// EventSink receives controller events. Publish is called synchronously on
// the goroutine that emitted the event and must not block. Events from
// different goroutines may arrive concurrently. A sink may call back into
// the Controller, but LeaveLobby and other teardown paths must be started on
// a new goroutine.
type EventSink interface {
	Publish(Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(Event)

func (f EventSinkFunc) Publish(e Event) { f(e) }

// emitter fans events out to sinks. The sink list is copied on write, so
// sinks run without the lock held.
type emitter struct {
	mu    sync.Mutex
	sinks []EventSink
}

func (e *emitter) subscribe(s EventSink) {
	e.mu.Lock()
	e.sinks = append(slices.Clip(e.sinks), s)
	e.mu.Unlock()
}

func (e *emitter) emit(ev Event) {
	ev.Time = time.Now()
	e.mu.Lock()
	sinks := e.sinks
	e.mu.Unlock()
	for _, s := range sinks {
		s.Publish(ev)
	}
}

// Status is a point-in-time view of the controller.
type Status struct {
	State         State            `json:"state"`
	SessionID     string           `json:"session_id,omitempty"`
	Role          *Role            `json:"role,omitempty"`
	Code          string           `json:"code,omitempty"`
	GamePort      int              `json:"game_port,omitempty"`
	LocalGamePort int              `json:"local_game_port,omitempty"`
	Players       []player.Profile `json:"players"`
	Nat           *mesh.NatStatus  `json:"nat,omitempty"`
}
