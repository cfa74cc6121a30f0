package entity

import "time"

// Estados de una ventana de contingencia.
const (
	ContingencyWindowOpen       = "OPEN"
	ContingencyWindowClosed     = "CLOSED"
	ContingencyWindowReconciled = "RECONCILED"
)

// ContingencyWindow registra el rango de números emitidos en contingencia por serie.
// Cada documento del rango debe conciliarse con la SEFAZ cuando vuelva a responder.
type ContingencyWindow struct {
	ID           string
	IssuerID     string
	Model        string
	Series       int
	EmissionType int
	Reason       string
	FirstNumber  int64
	LastNumber   int64
	Status       string
	OpenedAt     time.Time
	ClosedAt     *time.Time
	ReconciledAt *time.Time
}

// Covers indica si el número pertenece a la ventana.
func (w *ContingencyWindow) Covers(number int64) bool {
	return number >= w.FirstNumber && number <= w.LastNumber
}
