// Package host describes the boundary with the game client: the errors its queries return and
// the signals it pushes.
package host

import "errors"

// ErrNotReady is returned by a query whose data the host has not resolved yet.
var ErrNotReady = errors.New("host: data not ready")

// LocalUnit is the unit token of the local player.
const LocalUnit = "player"

// SeasonInfo is the result of the current-season query.
type SeasonInfo struct {
	ID          int    `json:"id"`
	Description string `json:"description"`
	Available   bool   `json:"available"`
}

// ActiveKeystone is the level and map of the run in progress.
type ActiveKeystone struct {
	Level int `json:"level"`
	MapID int `json:"mapId"`
}

// DeathCount is the host's running death tally for the run in progress.
type DeathCount struct {
	Deaths          int `json:"deaths"`
	TimeLostSeconds int `json:"timeLostSeconds"`
}

// InspectResult holds the data a completed inspection exposes.
type InspectResult struct {
	Spec      string  `json:"spec"`
	ItemLevel float64 `json:"itemLevel"`
}

// Zone identifies where the local player currently is.
type Zone struct {
	MapID      int  `json:"mapId"`
	InInstance bool `json:"inInstance"`
}
