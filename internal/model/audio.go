package model

import (
	"encoding/json"
	"time"
)

type AudioJob struct {
	ID         string          `json:"id"`
	RoomID     string          `json:"roomId"`
	Kind       AudioJobKind    `json:"kind"`
	Text       string          `json:"text"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
}
