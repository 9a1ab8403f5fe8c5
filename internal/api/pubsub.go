package api

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/vmngo/livequiz/internal/domain"
)

const maxConcurrent = 100

type (
	Notification struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}

	ScoreUpdate struct {
		SessionID     string `json:"session_id"`
		Code          string `json:"code"`
		ParticipantID string `json:"participant_id"`
		TotalScore    string `json:"total_score"`
	}

	StatusChange struct {
		SessionID string `json:"session_id"`
		Code      string `json:"code"`
		Status    string `json:"status"`
	}
)

// PublishScoreUpdated pushes the new total to the session's channel, for
// consumers (e.g. a leaderboard view) following the whole session.
func (a *API) PublishScoreUpdated(ctx context.Context, e domain.EventScoreUpdated) error {
	sc := e.Score

	data := ScoreUpdate{
		SessionID:     sc.SessionID,
		Code:          sc.Code,
		ParticipantID: sc.ParticipantID,
		TotalScore:    sc.TotalScore.String(),
	}

	return a.publishNotification(ctx, fmt.Sprintf("%s:session:%s", a.prefix, sc.SessionID), e.Name(), data)
}

// PublishStatusChanged notifies the host and every enrolled participant on
// their personal channels.
func (a *API) PublishStatusChanged(ctx context.Context, e domain.EventSessionStatusChanged) error {
	ss := e.Session

	data := StatusChange{
		SessionID: ss.ID,
		Code:      ss.Code,
		Status:    string(ss.Status),
	}

	users := make([]string, 0, len(ss.Scores)+1)
	users = append(users, ss.HostID)
	for _, entry := range ss.Scores {
		users = append(users, entry.ParticipantID)
	}

	var eg errgroup.Group
	eg.SetLimit(maxConcurrent)

	for _, user := range users {
		user := user
		eg.Go(func() error {
			return a.publishNotification(ctx, fmt.Sprintf("%s:user:%s", a.prefix, user), e.Name(), data)
		})
	}

	return eg.Wait()
}

func (a *API) publishNotification(ctx context.Context, channel, event string, data any) error {
	n := Notification{
		Event: event,
		Data:  data,
	}

	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %v", event, err)
	}

	return a.redis.Publish(ctx, channel, b).Err()
}
