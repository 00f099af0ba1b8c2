package models

import (
	"strconv"
	"strings"
)

// Column names of the flattened export
const (
	ColumnStationID   = "id_mesa"
	ColumnLevelPrefix = "level_"
)

// PartyColumns lists the party columns in export order
var PartyColumns = []string{
	"partido_code",
	"partido_name",
	"partido_votos",
	"partido_perc",
	"partido_percCarg",
	"partido_cargos",
	"partido_candidatos",
}

// CandidateSeparator joins candidate names in one cell
const CandidateSeparator = " - "

// Row represents one (polling station, party) line of the export
type Row struct {
	StationID  string
	Levels     map[int]string
	PartyCode  string
	PartyName  string
	Votes      string
	Percent    string
	SeatsPerc  string
	Seats      string
	Candidates string

	// Fields are the other top-level keys of the station document
	Fields map[string]string
}

// LevelColumn returns the column name for an ancestor level
func LevelColumn(level int) string {
	return ColumnLevelPrefix + strconv.Itoa(level)
}

// Values returns the row keyed by column name. Station fields come first, so a field
// named like a flattened column is overwritten by it.
func (r Row) Values() map[string]string {
	values := make(map[string]string, len(r.Fields)+len(r.Levels)+len(PartyColumns)+1)
	for key, value := range r.Fields {
		values[key] = value
	}
	for level, name := range r.Levels {
		values[LevelColumn(level)] = name
	}
	values[ColumnStationID] = r.StationID
	values["partido_code"] = r.PartyCode
	values["partido_name"] = r.PartyName
	values["partido_votos"] = r.Votes
	values["partido_perc"] = r.Percent
	values["partido_percCarg"] = r.SeatsPerc
	values["partido_cargos"] = r.Seats
	values["partido_candidatos"] = r.Candidates
	return values
}

// NewRows flattens a payload into one row per party. Ancestor columns are shared by every row.
func NewRows(p *Payload) ([]Row, error) {
	stationID, err := p.StationID()
	if err != nil {
		return nil, err
	}

	levels := make(map[int]string, len(p.Fathers))
	for _, f := range p.Fathers {
		levels[int(f.Level)] = f.Name
	}

	rows := make([]Row, 0, len(p.Parties))
	for _, party := range p.Parties {
		rows = append(rows, Row{
			StationID:  stationID,
			Levels:     levels,
			PartyCode:  string(party.Code),
			PartyName:  string(party.Name),
			Votes:      string(party.Votes),
			Percent:    string(party.Percent),
			SeatsPerc:  string(party.SeatsPerc),
			Seats:      string(party.Seats),
			Candidates: strings.Join(party.Candidates, CandidateSeparator),
			Fields:     p.Fields,
		})
	}
	return rows, nil
}
