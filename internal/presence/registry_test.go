package presence_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vmngo/livequiz/internal/errors"
	"github.com/vmngo/livequiz/internal/presence"
)

func TestRegistry_JoinAndLeave(t *testing.T) {
	r := presence.NewRegistry[string]()
	r.OpenLobby("ABCDEF")

	participants, err := r.Join("ABCDEF", "alice", "conn-alice")
	require.NoError(t, err)
	require.Equal(t, []string{"alice"}, participants)

	participants, err = r.Join("ABCDEF", "bob", "conn-bob")
	require.NoError(t, err)
	require.Equal(t, []string{"alice", "bob"}, participants)

	require.ElementsMatch(t, []string{"conn-alice", "conn-bob"}, r.BroadcastTargets("ABCDEF"))

	res := r.Leave("conn-alice")
	require.True(t, res.Removed)
	require.Equal(t, "ABCDEF", res.Code)
	require.Equal(t, "alice", res.ParticipantID)
	require.Equal(t, []string{"bob"}, res.Participants)

	// leave is idempotent
	res = r.Leave("conn-alice")
	require.False(t, res.Removed)

	require.Equal(t, []string{"bob"}, r.Participants("ABCDEF"))
}

func TestRegistry_JoinUnknownCode(t *testing.T) {
	r := presence.NewRegistry[string]()

	_, err := r.Join("000000", "bob", "conn-bob")
	require.True(t, errors.IsCode(err, errors.CodeNotFound), "got %v", err)
}

func TestRegistry_OpenLobbyIdempotent(t *testing.T) {
	r := presence.NewRegistry[string]()
	r.OpenLobby("ABCDEF")

	_, err := r.Join("ABCDEF", "alice", "conn-alice")
	require.NoError(t, err)

	// re-opening does not wipe the membership
	r.OpenLobby("ABCDEF")
	require.Equal(t, []string{"alice"}, r.Participants("ABCDEF"))
}

func TestRegistry_DuplicateJoin(t *testing.T) {
	r := presence.NewRegistry[string]()
	r.OpenLobby("ABCDEF")

	_, err := r.Join("ABCDEF", "alice", "conn-1")
	require.NoError(t, err)

	_, err = r.Join("ABCDEF", "alice", "conn-2")
	require.True(t, errors.IsCode(err, errors.CodeAlreadyExists), "got %v", err)

	require.Equal(t, []string{"alice"}, r.Participants("ABCDEF"))
}

// A connection holds at most one lobby: the second join is rejected, and a
// single leave empties every lobby of the connection.
func TestRegistry_ConnBoundToOneLobby(t *testing.T) {
	r := presence.NewRegistry[string]()
	r.OpenLobby("AAAAAA")
	r.OpenLobby("BBBBBB")

	_, err := r.Join("AAAAAA", "alice", "conn-1")
	require.NoError(t, err)

	_, err = r.Join("BBBBBB", "alice", "conn-1")
	require.True(t, errors.IsCode(err, errors.CodeFailedPrecondition), "got %v", err)

	// the first lobby still owns the connection, the second never saw it
	require.Equal(t, []string{"conn-1"}, r.BroadcastTargets("AAAAAA"))
	require.Empty(t, r.BroadcastTargets("BBBBBB"))
	require.Empty(t, r.Participants("BBBBBB"))

	res := r.Leave("conn-1")
	require.True(t, res.Removed)
	require.Equal(t, "AAAAAA", res.Code)

	// the connection is gone from every lobby
	require.Empty(t, r.BroadcastTargets("AAAAAA"))
	require.Empty(t, r.Participants("AAAAAA"))

	// and may now join elsewhere
	participants, err := r.Join("BBBBBB", "alice", "conn-1")
	require.NoError(t, err)
	require.Equal(t, []string{"alice"}, participants)
}

// Two racing joins with the same connection: exactly one lobby ends up owning
// it, whichever way the race resolves.
func TestRegistry_ConcurrentJoinSameConn(t *testing.T) {
	for i := 0; i < 100; i++ {
		r := presence.NewRegistry[string]()
		r.OpenLobby("AAAAAA")
		r.OpenLobby("BBBBBB")

		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			errs []error
		)

		for _, code := range []string{"AAAAAA", "BBBBBB"} {
			wg.Add(1)
			go func(code string) {
				defer wg.Done()
				_, err := r.Join(code, "alice", "conn-1")
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}(code)
		}
		wg.Wait()

		var failures int
		for _, err := range errs {
			if err != nil {
				require.True(t, errors.IsCode(err, errors.CodeFailedPrecondition), "got %v", err)
				failures++
			}
		}
		require.Equal(t, 1, failures)
		require.Len(t, append(r.BroadcastTargets("AAAAAA"), r.BroadcastTargets("BBBBBB")...), 1)

		res := r.Leave("conn-1")
		require.True(t, res.Removed)
		require.Empty(t, r.BroadcastTargets("AAAAAA"))
		require.Empty(t, r.BroadcastTargets("BBBBBB"))
	}
}

// Two racing joins with the same participant: exactly one wins and the
// participant set holds no duplicate.
func TestRegistry_ConcurrentDuplicateJoin(t *testing.T) {
	for i := 0; i < 100; i++ {
		r := presence.NewRegistry[string]()
		r.OpenLobby("ABCDEF")

		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			errs []error
		)

		for _, conn := range []string{"conn-1", "conn-2"} {
			wg.Add(1)
			go func(conn string) {
				defer wg.Done()
				_, err := r.Join("ABCDEF", "alice", conn)
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}(conn)
		}
		wg.Wait()

		var failures int
		for _, err := range errs {
			if err != nil {
				require.True(t, errors.IsCode(err, errors.CodeAlreadyExists), "got %v", err)
				failures++
			}
		}
		require.Equal(t, 1, failures)
		require.Equal(t, []string{"alice"}, r.Participants("ABCDEF"))
	}
}

func TestRegistry_LobbyRemovedWhenEmpty(t *testing.T) {
	r := presence.NewRegistry[string]()
	r.OpenLobby("ABCDEF")

	_, err := r.Join("ABCDEF", "alice", "conn-alice")
	require.NoError(t, err)

	res := r.Leave("conn-alice")
	require.True(t, res.Removed)
	require.Empty(t, res.Participants)

	// the empty lobby is gone; joining needs a fresh open
	_, err = r.Join("ABCDEF", "bob", "conn-bob")
	require.True(t, errors.IsCode(err, errors.CodeNotFound), "got %v", err)
}

func TestRegistry_CloseLobby(t *testing.T) {
	r := presence.NewRegistry[string]()
	r.OpenLobby("ABCDEF")

	_, err := r.Join("ABCDEF", "alice", "conn-alice")
	require.NoError(t, err)
	_, err = r.Join("ABCDEF", "bob", "conn-bob")
	require.NoError(t, err)

	targets := r.CloseLobby("ABCDEF")
	require.ElementsMatch(t, []string{"conn-alice", "conn-bob"}, targets)

	require.Empty(t, r.BroadcastTargets("ABCDEF"))
	require.Empty(t, r.Participants("ABCDEF"))

	// connections of a closed lobby leave as no-ops
	res := r.Leave("conn-alice")
	require.False(t, res.Removed)

	// closing again is a no-op
	require.Empty(t, r.CloseLobby("ABCDEF"))
}

func TestRegistry_IndependentCodes(t *testing.T) {
	r := presence.NewRegistry[string]()

	const lobbies = 10

	var wg sync.WaitGroup
	for i := 0; i < lobbies; i++ {
		code := fmt.Sprintf("LOBBY%d", i)
		r.OpenLobby(code)

		wg.Add(1)
		go func(code string) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				conn := fmt.Sprintf("%s-conn-%d", code, j)
				if _, err := r.Join(code, fmt.Sprintf("user-%d", j), conn); err != nil {
					t.Errorf("join %s: %v", code, err)
				}
			}
		}(code)
	}
	wg.Wait()

	for i := 0; i < lobbies; i++ {
		require.Len(t, r.Participants(fmt.Sprintf("LOBBY%d", i)), 10)
	}
}
