package model

// MinKeystoneLevel is the lowest level a keystone can have.
const MinKeystoneLevel = 2

// Keystone is the difficulty token of a run. It is derived from the season data and never
// stored on its own.
type Keystone struct {
	Level            int     `json:"level"`
	MapID            int     `json:"mapId"`
	MapName          string  `json:"mapName"`
	Affixes          []Affix `json:"affixes"`
	SeasonID         int     `json:"seasonId"`
	TimeLimitSeconds int     `json:"timeLimitSeconds"`
}

// OwnedKeystone is the keystone currently carried by the local player, as reported by the host.
type OwnedKeystone struct {
	Level int `json:"level"`
	MapID int `json:"mapId"`
}

// SlottedKeystone is the keystone placed in the receptacle, as reported by the host.
type SlottedKeystone struct {
	Level int `json:"level"`
	MapID int `json:"mapId"`
}
