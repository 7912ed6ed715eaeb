package session

import "github.com/adaxion/LibMythicPlus/internal/model"

// AffixCount returns how many of the season's affixes apply at level.
func AffixCount(level, total int) int {
	var n int
	switch {
	case level <= 3:
		n = 1
	case level <= 6:
		n = 2
	case level <= 9:
		n = 3
	default:
		n = total
	}
	if n > total {
		n = total
	}
	return n
}

// AffixesForLevel returns the prefix of affixes active at level.
func AffixesForLevel(affixes []model.Affix, level int) []model.Affix {
	n := AffixCount(level, len(affixes))
	return append([]model.Affix(nil), affixes[:n]...)
}

// BuildKeystone derives the keystone of a level and map from season data.
func BuildKeystone(season model.Season, level, mapID int) model.Keystone {
	k := model.Keystone{
		Level:    level,
		MapID:    mapID,
		Affixes:  AffixesForLevel(season.Affixes, level),
		SeasonID: season.ID,
	}
	if info, ok := season.Maps[mapID]; ok {
		k.MapName = info.Name
		k.TimeLimitSeconds = info.TimeLimitSeconds
	}
	return k
}

// mergeKeystone takes from derived every field current still lacks.
func mergeKeystone(current, derived model.Keystone) (model.Keystone, bool) {
	changed := false
	if current.SeasonID == 0 && derived.SeasonID != 0 {
		current.SeasonID = derived.SeasonID
		changed = true
	}
	if len(current.Affixes) < len(derived.Affixes) {
		current.Affixes = derived.Affixes
		changed = true
	}
	if current.MapName == "" && derived.MapName != "" {
		current.MapName = derived.MapName
		current.TimeLimitSeconds = derived.TimeLimitSeconds
		changed = true
	}
	return current, changed
}
