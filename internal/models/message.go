package models

import "time"

// Message is a chat message in a market room. Immutable once appended.
// Seq is the arrival order assigned by the message log and is the
// canonical ordering key; Timestamp is stored for display only.
type Message struct {
	ID        string    `json:"id"` // ULID
	MarketID  string    `json:"marketId"`
	User      string    `json:"user"` // author display name
	Text      string    `json:"text"`
	Position  Position  `json:"position,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Seq       uint64    `json:"-"`
}
