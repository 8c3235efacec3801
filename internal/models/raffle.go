package models

import (
	"encoding/json"
	"fmt"
)

// Participant represents one row of the loaded participant table.
// Its fields are fixed at construction; identity is the OriginalIndex,
// never the field values, since two rows may carry identical values.
type Participant struct {
	OriginalIndex int
	columns       []string
	values        map[string]string
}

// NewParticipant builds a participant from a header row and the matching cell values.
// Missing trailing cells are stored as empty strings.
func NewParticipant(originalIndex int, columns []string, cells []string) Participant {
	cols := make([]string, len(columns))
	copy(cols, columns)

	values := make(map[string]string, len(cols))
	for i, col := range cols {
		if i < len(cells) {
			values[col] = cells[i]
		} else {
			values[col] = ""
		}
	}

	return Participant{
		OriginalIndex: originalIndex,
		columns:       cols,
		values:        values,
	}
}

// Field returns the value stored under a column name.
func (p Participant) Field(name string) (string, error) {
	v, ok := p.values[name]
	if !ok {
		return "", fmt.Errorf("%w: %q (row %d)", ErrMissingField, name, p.OriginalIndex)
	}
	return v, nil
}

// HasField reports whether the participant's schema contains the column.
func (p Participant) HasField(name string) bool {
	_, ok := p.values[name]
	return ok
}

// Columns returns the column names in table order.
func (p Participant) Columns() []string {
	out := make([]string, len(p.columns))
	copy(out, p.columns)
	return out
}

// Fields returns a copy of the column name to value mapping.
func (p Participant) Fields() map[string]string {
	out := make(map[string]string, len(p.values))
	for k, v := range p.values {
		out[k] = v
	}
	return out
}

// Values returns the cell values in column order.
func (p Participant) Values() []string {
	out := make([]string, len(p.columns))
	for i, col := range p.columns {
		out[i] = p.values[col]
	}
	return out
}

func (p Participant) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		OriginalIndex int               `json:"originalIndex"`
		Fields        map[string]string `json:"fields"`
	}{
		OriginalIndex: p.OriginalIndex,
		Fields:        p.values,
	})
}

// PrizeAward links a participant to a prize rank. Prize #1 is the top prize.
type PrizeAward struct {
	PrizeNumber int         `json:"prizeNumber"`
	Participant Participant `json:"participant"`
}

// Label is the human readable prize column value used in listings and exports.
func (a PrizeAward) Label() string {
	return fmt.Sprintf("Winner #%d", a.PrizeNumber)
}

// RaffleConfiguration describes a single raffle run.
// PrimaryField and SecondaryField pick the two columns shown for each winner.
type RaffleConfiguration struct {
	TotalPrizes    int    `json:"totalPrizes"`
	PrimaryField   string `json:"primaryField"`
	SecondaryField string `json:"secondaryField"`
}
