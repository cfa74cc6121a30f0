package repository

import "context"

// SequenceRepository entrega la numeración de cada serie.
type SequenceRepository interface {
	// NextSequence incrementa y devuelve el siguiente nNF de (issuer, series) de forma atómica.
	NextSequence(ctx context.Context, issuerID string, series int) (int64, error)
}
