package models

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/spf13/cast"
)

// ErrMissingStationID is returned when a result document has no id.idAmbito.codigo
var ErrMissingStationID = errors.New("missing id.idAmbito.codigo")

// flattenedKeys become the id_mesa, level_<n> and partido_* columns
var flattenedKeys = map[string]bool{"id": true, "fathers": true, "partidos": true}

// Payload represents the result document of one polling station
type Payload struct {
	ID      PayloadID `json:"id"`
	Fathers []Father  `json:"fathers"`
	Parties []Party   `json:"partidos"`

	// Fields holds every other top-level key, rendered as a cell
	Fields map[string]string `json:"-"`
}

// UnmarshalJSON decodes the known blocks and keeps the remaining top-level keys in Fields
func (p *Payload) UnmarshalJSON(data []byte) error {
	type payload Payload
	var known payload
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*p = Payload(known)
	for key, value := range raw {
		if flattenedKeys[key] {
			continue
		}
		text, err := fieldText(value)
		if err != nil {
			return fmt.Errorf("field %s: %w", key, err)
		}
		if p.Fields == nil {
			p.Fields = make(map[string]string, len(raw))
		}
		p.Fields[key] = text
	}
	return nil
}

// fieldText renders scalars as text and objects or arrays as compact JSON
func fieldText(data []byte) (string, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return "", err
	}
	switch v.(type) {
	case nil:
		return "", nil
	case map[string]any, []any:
		out, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(out), nil
	}
	return cast.ToStringE(v)
}

// PayloadID wraps the scope identifier block
type PayloadID struct {
	Scope struct {
		Code Cell `json:"codigo"`
	} `json:"idAmbito"`
}

// StationID returns the polling station identifier
func (p *Payload) StationID() (string, error) {
	if p.ID.Scope.Code == "" {
		return "", ErrMissingStationID
	}
	return string(p.ID.Scope.Code), nil
}

// Father is an ancestor level of the station (country, province, section...)
type Father struct {
	Level Level  `json:"level"`
	Name  string `json:"name"`
}

// Party is the result of one party at the station
type Party struct {
	Code       Cell     `json:"code"`
	Name       Cell     `json:"name"`
	Votes      Cell     `json:"votos"`
	Percent    Cell     `json:"perc"`
	SeatsPerc  Cell     `json:"percCarg"`
	Seats      Cell     `json:"cargos"`
	Candidates []string `json:"candidatos"`
}

// Cell is a scalar JSON value rendered as text
type Cell string

// UnmarshalJSON stores strings as-is and numbers or booleans in their shortest form
func (c *Cell) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if v == nil {
		*c = ""
		return nil
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return fmt.Errorf("not a scalar value: %s", string(data))
	}
	*c = Cell(s)
	return nil
}

// StationID extracts id.idAmbito.codigo from a generically decoded result document
func StationID(doc map[string]any) (string, error) {
	id, ok := doc["id"].(map[string]any)
	if !ok {
		return "", ErrMissingStationID
	}
	scope, ok := id["idAmbito"].(map[string]any)
	if !ok {
		return "", ErrMissingStationID
	}
	raw, ok := scope["codigo"]
	if !ok || raw == nil {
		return "", ErrMissingStationID
	}
	code, err := cast.ToStringE(raw)
	if err != nil || code == "" {
		return "", ErrMissingStationID
	}
	return code, nil
}
