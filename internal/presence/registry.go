// Package presence tracks which participants are currently connected under
// each access code. The registry is process-local and never persisted; after a
// restart participants simply rejoin. It exists for lobby display and
// broadcast fan-out, not for durable participation (that is the score ledger).
package presence

import (
	"sync"

	"github.com/vmngo/livequiz/internal/errors"
)

// Registry maps access codes to live connections. C is the connection handle
// type of the transport; the registry only stores and returns it.
type Registry[C comparable] struct {
	mu      sync.Mutex
	lobbies map[string]*lobby[C]
	byConn  map[C]*lobby[C]
}

type lobby[C comparable] struct {
	mu           sync.Mutex
	code         string
	closed       bool
	order        []string
	participants map[string]C
	conns        map[C]string
}

func NewRegistry[C comparable]() *Registry[C] {
	return &Registry[C]{
		lobbies: make(map[string]*lobby[C]),
		byConn:  make(map[C]*lobby[C]),
	}
}

// OpenLobby idempotently ensures a lobby exists for the code.
func (r *Registry[C]) OpenLobby(code string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.lobbies[code]; !ok {
		r.lobbies[code] = newLobby[C](code)
	}
}

func newLobby[C comparable](code string) *lobby[C] {
	return &lobby[C]{
		code:         code,
		participants: make(map[string]C),
		conns:        make(map[C]string),
	}
}

// Join registers the participant's connection under the code and returns the
// participant list in join order, for broadcast. A connection holds at most
// one lobby at a time; it must leave before joining another.
func (r *Registry[C]) Join(code, participantID string, conn C) ([]string, error) {
	r.mu.Lock()
	if cur, ok := r.byConn[conn]; ok {
		r.mu.Unlock()
		return nil, errors.Newf(errors.CodeFailedPrecondition,
			"connection is already in lobby %s", cur.code)
	}
	l, ok := r.lobbies[code]
	if !ok {
		r.mu.Unlock()
		return nil, errors.Newf(errors.CodeNotFound, "no open lobby for code %s", code)
	}
	// Claim the connection before touching the lobby, so a racing Join for the
	// same connection cannot bind it twice.
	r.byConn[conn] = l
	r.mu.Unlock()

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		r.unbind(conn, l)
		return nil, errors.Newf(errors.CodeNotFound, "no open lobby for code %s", code)
	}
	if _, ok := l.participants[participantID]; ok {
		l.mu.Unlock()
		r.unbind(conn, l)
		return nil, errors.Newf(errors.CodeAlreadyExists, "already joined lobby %s", code)
	}

	l.participants[participantID] = conn
	l.conns[conn] = participantID
	l.order = append(l.order, participantID)
	participants := append([]string(nil), l.order...)
	l.mu.Unlock()

	return participants, nil
}

// unbind releases a connection claim that never became lobby membership.
func (r *Registry[C]) unbind(conn C, l *lobby[C]) {
	r.mu.Lock()
	if r.byConn[conn] == l {
		delete(r.byConn, conn)
	}
	r.mu.Unlock()
}

// LeaveResult describes the membership change a Leave caused, so callers can
// broadcast the updated lobby to the remaining connections.
type LeaveResult struct {
	Code          string
	ParticipantID string
	Participants  []string
	Removed       bool
}

// Leave removes the connection and its participant from whichever lobby holds
// it. Calling it again for the same connection is a no-op.
func (r *Registry[C]) Leave(conn C) LeaveResult {
	r.mu.Lock()
	l, ok := r.byConn[conn]
	if ok {
		delete(r.byConn, conn)
	}
	r.mu.Unlock()
	if !ok {
		return LeaveResult{}
	}

	l.mu.Lock()
	participantID, joined := l.conns[conn]
	if joined {
		delete(l.conns, conn)
		delete(l.participants, participantID)
		for i, p := range l.order {
			if p == participantID {
				l.order = append(l.order[:i], l.order[i+1:]...)
				break
			}
		}
	}
	participants := append([]string(nil), l.order...)
	empty := len(l.conns) == 0
	if empty {
		l.closed = true
	}
	l.mu.Unlock()

	if empty {
		r.dropLobby(l)
	}

	return LeaveResult{
		Code:          l.code,
		ParticipantID: participantID,
		Participants:  participants,
		Removed:       joined,
	}
}

func (r *Registry[C]) dropLobby(l *lobby[C]) {
	r.mu.Lock()
	if r.lobbies[l.code] == l {
		delete(r.lobbies, l.code)
	}
	r.mu.Unlock()
}

// CloseLobby removes the lobby for a code and returns the connections that
// were registered under it, for a final notification. Used to reconcile the
// ephemeral lobby when the durable session leaves the open phase.
func (r *Registry[C]) CloseLobby(code string) []C {
	r.mu.Lock()
	l, ok := r.lobbies[code]
	if ok {
		delete(r.lobbies, code)
	}
	r.mu.Unlock()
	if !ok {
		return nil
	}

	l.mu.Lock()
	l.closed = true
	targets := make([]C, 0, len(l.conns))
	for c := range l.conns {
		targets = append(targets, c)
	}
	l.conns = make(map[C]string)
	l.participants = make(map[string]C)
	l.order = nil
	l.mu.Unlock()

	r.mu.Lock()
	for _, c := range targets {
		if r.byConn[c] == l {
			delete(r.byConn, c)
		}
	}
	r.mu.Unlock()

	return targets
}

// BroadcastTargets returns the live connections registered under a code.
func (r *Registry[C]) BroadcastTargets(code string) []C {
	r.mu.Lock()
	l, ok := r.lobbies[code]
	r.mu.Unlock()
	if !ok {
		return nil
	}

	l.mu.Lock()
	targets := make([]C, 0, len(l.conns))
	for c := range l.conns {
		targets = append(targets, c)
	}
	l.mu.Unlock()

	return targets
}

// Participants returns the participant list for a code in join order.
func (r *Registry[C]) Participants(code string) []string {
	r.mu.Lock()
	l, ok := r.lobbies[code]
	r.mu.Unlock()
	if !ok {
		return nil
	}

	l.mu.Lock()
	participants := append([]string(nil), l.order...)
	l.mu.Unlock()

	return participants
}
