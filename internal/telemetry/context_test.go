package telemetry

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSummarize(t *testing.T) {
	t.Run("extracts live client fields", func(t *testing.T) {
		payload := json.RawMessage(`{
			"activePlayer": {"summonerName": "Faker", "championName": "Ahri", "level": 9, "currentGold": 1250.5},
			"allPlayers": [{"championName": "Ahri"}, {"championName": "Zed"}],
			"gameData": {"gameTime": 612.4}
		}`)

		ctx := Summarize(payload)

		assert.False(t, ctx.IsEmpty())
		assert.Equal(t, "Faker", ctx.SummonerName)
		assert.Equal(t, "Ahri", ctx.ChampionName)
		assert.Equal(t, 9, ctx.Level)
		assert.Equal(t, 1250.5, ctx.CurrentGold)
		assert.Equal(t, 612.4, ctx.GameTime)
		assert.Equal(t, []string{"Ahri", "Zed"}, ctx.Champions)

		desc := ctx.Describe()
		assert.Contains(t, desc, "Faker")
		assert.Contains(t, desc, "level 9")
		assert.Contains(t, desc, "612 seconds")
		assert.Contains(t, desc, "Ahri, Zed")
	})

	t.Run("unknown shape yields empty context", func(t *testing.T) {
		ctx := Summarize(json.RawMessage(`{"somethingElse": true}`))
		assert.True(t, ctx.IsEmpty())
		assert.Empty(t, ctx.Describe())
	})

	t.Run("wrong field types yield empty context", func(t *testing.T) {
		ctx := Summarize(json.RawMessage(`{"activePlayer": "nope"}`))
		assert.True(t, ctx.IsEmpty())
	})
}
