// Package gateway is the bidirectional event channel between the orchestrator
// and connected clients. It routes lobby membership updates and game-start
// notifications; all authorization beyond lobby membership stays in the
// session service.
package gateway

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"golang.org/x/net/websocket"

	"github.com/vmngo/livequiz/internal/auth"
	"github.com/vmngo/livequiz/internal/code"
	"github.com/vmngo/livequiz/internal/domain"
	"github.com/vmngo/livequiz/internal/errors"
	"github.com/vmngo/livequiz/internal/event"
	"github.com/vmngo/livequiz/internal/presence"
)

const maxDecodeErrorsPerConn = 3

// QuizResolver supplies quiz content for the quiz-started broadcast.
type QuizResolver interface {
	ResolveQuiz(ctx context.Context, quizID string) (*domain.Quiz, error)
}

type Config struct {
	Quiz     QuizResolver
	Auth     auth.Authenticator
	EventBus *event.Bus
}

// Gateway owns the websocket endpoint and the presence registry behind it.
// It reconciles the ephemeral lobby whenever the durable session record
// changes lifecycle phase.
type Gateway struct {
	quiz     QuizResolver
	authn    auth.Authenticator
	registry *presence.Registry[*peer]
}

func New(c Config) *Gateway {
	g := &Gateway{
		quiz:     c.Quiz,
		authn:    c.Auth,
		registry: presence.NewRegistry[*peer](),
	}

	c.EventBus.Subscribe(domain.EventNameSessionStatusChanged, func(ctx context.Context, e event.Event) error {
		return g.onStatusChanged(ctx, e.(domain.EventSessionStatusChanged))
	})
	c.EventBus.Subscribe(domain.EventNameQuestionAdvanced, func(ctx context.Context, e event.Event) error {
		g.onQuestionAdvanced(e.(domain.EventQuestionAdvanced))
		return nil
	})

	return g
}

// peer serializes writes to one websocket connection.
type peer struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func (p *peer) send(f frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enc.Encode(f)
}

// Handler returns the websocket endpoint. The caller identity is resolved at
// upgrade time and is the only identity frames ever act on.
func (g *Gateway) Handler() http.Handler {
	wsHandler := websocket.Handler(g.handleConn)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := auth.TokenFromRequest(r)
		if token == "" {
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}

		callerID, err := g.authn.Authenticate(r.Context(), token)
		if err != nil {
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}

		r = r.WithContext(auth.WithCallerID(r.Context(), callerID))
		wsHandler.ServeHTTP(w, r)
	})
}

func (g *Gateway) handleConn(conn *websocket.Conn) {
	defer func() {
		_ = conn.Close()
	}()

	ctx := conn.Request().Context()
	callerID, _ := auth.CallerID(ctx)

	p := &peer{enc: json.NewEncoder(conn)}
	decoder := json.NewDecoder(conn)

	// A closing connection leaves its lobby exactly once; the registry makes
	// repeated leaves a no-op.
	defer g.leave(p)

	decodeErrors := 0
	for {
		var f frame
		if err := decoder.Decode(&f); err != nil {
			if stderrors.Is(err, io.EOF) || stderrors.Is(err, io.ErrUnexpectedEOF) || stderrors.Is(err, net.ErrClosed) {
				return
			}
			decodeErrors++
			g.sendError(p, errors.Newf(errors.CodeInvalidArgument, "invalid frame payload"))
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0

		switch f.Type {
		case frameCreateLobby:
			g.handleCreateLobby(p, f)
		case frameJoinLobby:
			g.handleJoinLobby(p, callerID, f)
		case frameStartQuiz:
			g.handleStartQuiz(ctx, p, callerID, f)
		case frameLeaveLobby:
			g.leave(p)
		default:
			g.sendError(p, errors.Newf(errors.CodeInvalidArgument, "unsupported frame type %q", f.Type))
		}
	}
}

func (g *Gateway) handleCreateLobby(p *peer, f frame) {
	var payload createLobbyPayload
	if len(f.Payload) > 0 {
		if err := json.Unmarshal(f.Payload, &payload); err != nil {
			g.sendError(p, errors.Newf(errors.CodeInvalidArgument, "invalid create_lobby payload"))
			return
		}
	}

	// A host that already created a durable session opens the lobby under
	// that session's code; otherwise a fresh code is generated.
	lobbyCode := payload.Code
	if lobbyCode == "" {
		c, err := code.Generate()
		if err != nil {
			g.sendError(p, errors.Internal(err))
			return
		}
		lobbyCode = c
	}

	g.registry.OpenLobby(lobbyCode)
	g.send(p, newFrame(frameLobbyCreated, lobbyCreatedPayload{Code: lobbyCode}))
}

func (g *Gateway) handleJoinLobby(p *peer, callerID string, f frame) {
	var payload joinLobbyPayload
	if err := json.Unmarshal(f.Payload, &payload); err != nil {
		g.sendError(p, errors.Newf(errors.CodeInvalidArgument, "invalid join_lobby payload"))
		return
	}

	participants, err := g.registry.Join(payload.Code, callerID, p)
	if err != nil {
		// Join failures go back to the offending connection only.
		g.sendError(p, err)
		return
	}

	g.broadcast(payload.Code, newFrame(frameLobbyUpdate, lobbyUpdatePayload{
		Code:         payload.Code,
		Participants: participants,
	}))
}

func (g *Gateway) handleStartQuiz(ctx context.Context, p *peer, callerID string, f frame) {
	var payload startQuizPayload
	if err := json.Unmarshal(f.Payload, &payload); err != nil {
		g.sendError(p, errors.Newf(errors.CodeInvalidArgument, "invalid start_quiz payload"))
		return
	}

	quiz, err := g.quiz.ResolveQuiz(ctx, payload.QuizID)
	if err != nil {
		g.sendError(p, err)
		return
	}

	g.broadcast(payload.Code, newFrame(frameQuizStarted, quizStartedPayload{
		Code:   payload.Code,
		QuizID: payload.QuizID,
		HostID: callerID,
		Quiz:   quiz,
	}))
}

func (g *Gateway) leave(p *peer) {
	res := g.registry.Leave(p)
	if !res.Removed {
		return
	}

	g.broadcast(res.Code, newFrame(frameLobbyUpdate, lobbyUpdatePayload{
		Code:         res.Code,
		Participants: res.Participants,
	}))
}

// onStatusChanged reconciles the lobby with the durable record: entering the
// playing phase propagates the quiz content to the lobby, closing the session
// tears the lobby down.
func (g *Gateway) onStatusChanged(ctx context.Context, e domain.EventSessionStatusChanged) error {
	ss := e.Session

	switch ss.Status {
	case domain.StatusPlaying:
		quiz, err := g.quiz.ResolveQuiz(ctx, ss.QuizID)
		if err != nil {
			return err
		}
		g.broadcast(ss.Code, newFrame(frameQuizStarted, quizStartedPayload{
			Code:   ss.Code,
			QuizID: ss.QuizID,
			HostID: ss.HostID,
			Quiz:   quiz,
		}))

	case domain.StatusClosed:
		f := newFrame(frameSessionClosed, sessionClosedPayload{Code: ss.Code})
		for _, p := range g.registry.CloseLobby(ss.Code) {
			g.send(p, f)
		}
	}

	return nil
}

func (g *Gateway) onQuestionAdvanced(e domain.EventQuestionAdvanced) {
	g.broadcast(e.Session.Code, newFrame(frameQuestionAdvanced, questionAdvancedPayload{
		Code:            e.Session.Code,
		CurrentQuestion: e.Session.CurrentQuestion,
	}))
}

func (g *Gateway) broadcast(code string, f frame) {
	for _, p := range g.registry.BroadcastTargets(code) {
		g.send(p, f)
	}
}

func (g *Gateway) send(p *peer, f frame) {
	if err := p.send(f); err != nil {
		slog.Warn("gateway: write frame failed", "type", f.Type, "error", err)
	}
}

func (g *Gateway) sendError(p *peer, err error) {
	e := errors.Convert(err)
	g.send(p, newFrame(frameError, errorPayload{Error: e}))
}
