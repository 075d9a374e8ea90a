package transmit

import (
	"fmt"
	"sync"
	"time"
)

// ConnState is the controller's connection state.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	}
	return "UNKNOWN"
}

func (s ConnState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *ConnState) UnmarshalText(text []byte) error {
	for _, state := range []ConnState{StateDisconnected, StateConnecting, StateConnected} {
		if state.String() == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown connection state %q", text)
}

// Status is an immutable snapshot of the controller.
type Status struct {
	State       ConnState      `json:"state"`
	Bursting    bool           `json:"bursting"`
	Listening   bool           `json:"listening"`
	Config      *Config        `json:"config,omitempty"`
	Session     *SessionInfo   `json:"session,omitempty"`
	Health      HealthSnapshot `json:"health"`
	Sent        uint64         `json:"sent"`
	Failed      uint64         `json:"failed"`
	RateLimited uint64         `json:"rate_limited"`
	Received    uint64         `json:"received"`
	LastError   string         `json:"last_error,omitempty"`
}

// Connected reports whether the controller holds an open session.
func (s Status) Connected() bool {
	return s.State == StateConnected
}

type EventType string

const (
	EventState         EventType = "state"
	EventSent          EventType = "sent"
	EventReceived      EventType = "received"
	EventReceiveError  EventType = "receive_error"
	EventHealth        EventType = "health"
	EventBurstStarted  EventType = "burst_started"
	EventBurstFinished EventType = "burst_finished"
)

// BurstSummary accompanies burst events.
type BurstSummary struct {
	Spec      BurstSpec `json:"spec"`
	Sent      int       `json:"sent"`
	Succeeded int       `json:"succeeded"`
	Cancelled bool      `json:"cancelled"`
}

// Event is published to subscribers on every state change and every send
// or receive.
type Event struct {
	Type     EventType         `json:"type"`
	Time     time.Time         `json:"time"`
	Status   *Status           `json:"status,omitempty"`
	Outcome  *SendOutcome      `json:"outcome,omitempty"`
	Datagram *ReceivedDatagram `json:"datagram,omitempty"`
	Health   HealthState       `json:"health"`
	Burst    *BurstSummary     `json:"burst,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// publisher fans events out to subscribers. Delivery never blocks: a
// subscriber whose buffer is full misses the event.
type publisher struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

func (p *publisher) subscribe(buffer int) (<-chan Event, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch := make(chan Event, max(buffer, 1))
	if p.closed {
		close(ch)
		return ch, func() {}
	}
	if p.subs == nil {
		p.subs = make(map[int]chan Event)
	}
	id := p.nextID
	p.nextID++
	p.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			if sub, ok := p.subs[id]; ok {
				delete(p.subs, id)
				close(sub)
			}
		})
	}
}

func (p *publisher) publish(ev Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, ch := range p.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (p *publisher) close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	for id, ch := range p.subs {
		delete(p.subs, id)
		close(ch)
	}
}
