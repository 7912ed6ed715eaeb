package model

// Season holds the reference data for the current activity season.
type Season struct {
	ID          int             `json:"id"`
	Description string          `json:"description"`
	Affixes     []Affix         `json:"affixes"`
	Maps        map[int]MapInfo `json:"maps"`
}

// Affix is a seasonal modifier applied to a run.
type Affix struct {
	ID          int    `json:"id"`
	SeasonID    int    `json:"seasonId"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
}

// MapInfo describes one map of the season pool.
type MapInfo struct {
	ID               int    `json:"id"`
	Name             string `json:"name"`
	TimeLimitSeconds int    `json:"timeLimitSeconds"`
	Icon             string `json:"icon"`
	Background       string `json:"background"`
}

// Clone returns a copy that shares no slices or maps with s.
func (s Season) Clone() Season {
	out := s
	if s.Affixes != nil {
		out.Affixes = append([]Affix(nil), s.Affixes...)
	}
	if s.Maps != nil {
		out.Maps = make(map[int]MapInfo, len(s.Maps))
		for id, m := range s.Maps {
			out.Maps[id] = m
		}
	}
	return out
}
