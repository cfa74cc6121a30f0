package entity

import "time"

// Estados de una inutilización.
const (
	InvalidationStatusPending  = "PENDING"
	InvalidationStatusAccepted = "ACCEPTED"
	InvalidationStatusRejected = "REJECTED"
)

// RangeInvalidation solicitud de inutilización de una faja de números.
type RangeInvalidation struct {
	ID            string
	IssuerID      string
	Model         string
	Series        int
	Year          int // año de dos dígitos del pedido (AA)
	FirstNumber   int64
	LastNumber    int64
	Justification string
	Status        string
	Protocol      string
	Code          int
	Message       string
	RequestXML    string
	ResponseXML   string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Overlaps indica si la faja se cruza con [from, to] en la misma serie y modelo.
func (r *RangeInvalidation) Overlaps(model string, series int, from, to int64) bool {
	return r.Model == model && r.Series == series && r.FirstNumber <= to && from <= r.LastNumber
}
