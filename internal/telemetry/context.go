package telemetry

import (
	"encoding/json"
	"fmt"
	"strings"
)

// GameContext is the subset of a Live Client Data payload the coach
// uses when answering questions.
type GameContext struct {
	SummonerName string   `json:"summonerName,omitempty"`
	ChampionName string   `json:"championName,omitempty"`
	Level        int      `json:"level,omitempty"`
	CurrentGold  float64  `json:"currentGold,omitempty"`
	GameTime     float64  `json:"gameTime,omitempty"`
	Champions    []string `json:"champions,omitempty"`

	hasPlayer bool
	hasGame   bool
}

type livePayload struct {
	ActivePlayer *struct {
		SummonerName string  `json:"summonerName"`
		ChampionName string  `json:"championName"`
		Level        int     `json:"level"`
		CurrentGold  float64 `json:"currentGold"`
	} `json:"activePlayer"`
	AllPlayers []struct {
		ChampionName string `json:"championName"`
	} `json:"allPlayers"`
	GameData *struct {
		GameTime float64 `json:"gameTime"`
	} `json:"gameData"`
}

// Summarize extracts a GameContext from a snapshot payload. Payloads of
// an unexpected shape produce an empty context.
func Summarize(payload json.RawMessage) GameContext {
	var ctx GameContext

	var live livePayload
	if err := json.Unmarshal(payload, &live); err != nil {
		return ctx
	}

	if p := live.ActivePlayer; p != nil {
		ctx.hasPlayer = true
		ctx.SummonerName = p.SummonerName
		ctx.ChampionName = p.ChampionName
		ctx.Level = p.Level
		ctx.CurrentGold = p.CurrentGold
	}
	if g := live.GameData; g != nil {
		ctx.hasGame = true
		ctx.GameTime = g.GameTime
	}
	for _, p := range live.AllPlayers {
		if p.ChampionName != "" {
			ctx.Champions = append(ctx.Champions, p.ChampionName)
		}
	}
	return ctx
}

func (c GameContext) IsEmpty() bool {
	return !c.hasPlayer && !c.hasGame && len(c.Champions) == 0
}

// Describe renders the context as prompt text for the analyzer.
func (c GameContext) Describe() string {
	var b strings.Builder
	if c.hasPlayer {
		fmt.Fprintf(&b, "Active player %s is playing %s at level %d with %.0f gold. ",
			c.SummonerName, c.ChampionName, c.Level, c.CurrentGold)
	}
	if c.hasGame {
		fmt.Fprintf(&b, "Game time is %.0f seconds. ", c.GameTime)
	}
	if len(c.Champions) > 0 {
		fmt.Fprintf(&b, "Champions in the game: %s.", strings.Join(c.Champions, ", "))
	}
	return strings.TrimSpace(b.String())
}
