package coach

import (
	"context"
	"encoding/json"
	"time"

	"github.com/lolcoach/coach-relay-go/internal/model"
	"github.com/lolcoach/coach-relay-go/internal/telemetry"
)

type AskRequest struct {
	RoomID      string                `json:"roomId"`
	UserID      string                `json:"userId"`
	CoachName   string                `json:"coachName"`
	Question    string                `json:"question"`
	GameContext string                `json:"gameContext,omitempty"`
	Context     telemetry.GameContext `json:"context"`
}

type TipRequest struct {
	RoomID    string          `json:"roomId"`
	CoachName string          `json:"coachName"`
	Snapshot  json.RawMessage `json:"snapshot"`
}

type PostgameRequest struct {
	RoomID       string `json:"roomId"`
	CoachName    string `json:"coachName"`
	SummonerName string `json:"summonerName"`
}

// Analyzer answers a player's question, optionally with live game context.
type Analyzer interface {
	Answer(ctx context.Context, req AskRequest) (string, error)
}

// TipSource turns a telemetry snapshot into zero or more tips.
type TipSource interface {
	Tips(ctx context.Context, req TipRequest) ([]string, error)
}

// MatchReporter produces a post-game report for a summoner's last match.
type MatchReporter interface {
	Report(ctx context.Context, req PostgameRequest) (string, error)
}

// VoiceOutput is the room's bound voice channel.
type VoiceOutput struct {
	ChannelID  string    `json:"channelId"`
	AttachedAt time.Time `json:"attachedAt"`
}

// Delivery is the per-room output queue.
type Delivery interface {
	Enqueue(job model.AudioJob) error
	Flush(roomID string) int
	Close(roomID string)
	Depth(roomID string) int
}

type SnapshotReader interface {
	Get(tokenHash string) (*telemetry.Snapshot, bool)
}

type ConnectionCounter interface {
	CountByRoom(roomID string) int
}
