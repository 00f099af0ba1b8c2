package models

import (
	"fmt"
	"math"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/cast"
)

const (
	// PollingStationLevel is the hierarchy level of an individual polling station (mesa)
	PollingStationLevel Level = 8

	// SkipSuffix marks scope codes that have no published data
	SkipSuffix = "E"
)

// Catalog represents the nomenclator: every election and its scope hierarchy
type Catalog struct {
	Elections []Election   `json:"elec"`
	Scopes    []ScopeGroup `json:"amb"`
}

// Election is an election descriptor, kept as published
type Election map[string]any

// ScopeGroup holds the scopes (ambitos) of one election, indexed like Catalog.Elections
type ScopeGroup struct {
	Scopes []Scope `json:"ambitos"`
}

// Scope represents one node of the administrative hierarchy
type Scope struct {
	Code  string `json:"co"`
	Level Level  `json:"l"`
}

// Skip reports whether the scope has no data to fetch
func (s Scope) Skip() bool {
	return s.Code == "" || strings.HasSuffix(s.Code, SkipSuffix)
}

// Level is a hierarchy depth; upstream sends it as a number or a numeric string
type Level int

// UnmarshalJSON accepts 8, 8.0, "8" and "08". Strings are always read as decimal.
func (l *Level) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case nil:
		*l = 0
		return nil
	case bool:
		return fmt.Errorf("invalid level %s", string(data))
	case string:
		v = strings.TrimSpace(x)
	}

	f, err := cast.ToFloat64E(v)
	if err != nil {
		return fmt.Errorf("invalid level %s: %w", string(data), err)
	}
	if math.IsInf(f, 0) || f != math.Trunc(f) {
		return fmt.Errorf("invalid level %s: not a whole number", string(data))
	}
	*l = Level(f)
	return nil
}

// PollingStations returns the level-8 scopes of the election at index
func (c *Catalog) PollingStations(index int) ([]Scope, error) {
	if index < 0 || index >= len(c.Scopes) {
		return nil, fmt.Errorf("election index %d out of range: catalog has %d scope groups", index, len(c.Scopes))
	}

	var stations []Scope
	for _, s := range c.Scopes[index].Scopes {
		if s.Level == PollingStationLevel {
			stations = append(stations, s)
		}
	}
	if len(stations) == 0 {
		return nil, fmt.Errorf("election index %d has no scopes at level %d: catalog layout changed?", index, PollingStationLevel)
	}
	return stations, nil
}
