package models

import "time"

// Position is an agent's declared stance on a market's outcome.
type Position string

const (
	PositionYes Position = "yes"
	PositionNo  Position = "no"
)

// Valid reports whether p is one of the two accepted stances.
func (p Position) Valid() bool {
	return p == PositionYes || p == PositionNo
}

// Agent represents a market participant identity. Created on first join,
// updated on every join and position change, never deleted.
type Agent struct {
	ID       string    `json:"id"`
	Wallet   string    `json:"wallet"`
	Name     string    `json:"name"`
	Position Position  `json:"position,omitempty"`
	LastSeen time.Time `json:"lastSeen"`
}
