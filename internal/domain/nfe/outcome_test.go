package nfe_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jhoicas/nfe-api/internal/domain/nfe"
)

func TestClassifyStatus(t *testing.T) {
	cases := []struct {
		op   nfe.Operation
		code int
		want nfe.OutcomeKind
	}{
		{nfe.OpSubmit, 100, nfe.OutcomeAuthorized},
		{nfe.OpSubmit, 150, nfe.OutcomeAuthorized},
		{nfe.OpSubmit, 103, nfe.OutcomeProcessing},
		{nfe.OpPoll, 105, nfe.OutcomeProcessing},
		{nfe.OpSubmit, 110, nfe.OutcomeDenied},
		{nfe.OpSubmit, 302, nfe.OutcomeDenied},
		{nfe.OpSubmit, 204, nfe.OutcomeDuplicate},
		{nfe.OpSubmit, 539, nfe.OutcomeRejected},
		{nfe.OpPoll, 539, nfe.OutcomeRejected},
		{nfe.OpSubmit, 225, nfe.OutcomeRejected},
		{nfe.OpSubmit, 999, nfe.OutcomeTransient},
		{nfe.OpQuery, 217, nfe.OutcomeNotFound},
		{nfe.OpQuery, 101, nfe.OutcomeCancelled},
		{nfe.OpCancel, 135, nfe.OutcomeEventRegistered},
		{nfe.OpCancel, 155, nfe.OutcomeEventRegistered},
		{nfe.OpCancel, 573, nfe.OutcomeDuplicate},
		{nfe.OpCancel, 501, nfe.OutcomeRejected},
		{nfe.OpCorrection, 135, nfe.OutcomeEventRegistered},
		{nfe.OpInvalidate, 102, nfe.OutcomeRangeInvalidated},
		{nfe.OpInvalidate, 563, nfe.OutcomeDuplicate},
		{nfe.OpServiceStatus, 107, nfe.OutcomeServiceAvailable},
		{nfe.OpServiceStatus, 108, nfe.OutcomeTransient},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, nfe.ClassifyStatus(c.op, c.code), "%s %d", c.op, c.code)
	}
}

func TestAuthorityOutcome_Err(t *testing.T) {
	assert.NoError(t, nfe.AuthorityOutcome{Kind: nfe.OutcomeAuthorized}.Err())

	rej := nfe.NewOutcome(nfe.OpSubmit, 225, "Falha no Schema XML").Err()
	assert.True(t, errors.Is(rej, nfe.ErrDefinitiveRejection))
	assert.False(t, errors.Is(rej, nfe.ErrDenied))

	den := nfe.NewOutcome(nfe.OpSubmit, 301, "Uso Denegado").Err()
	assert.True(t, errors.Is(den, nfe.ErrDenied))
	assert.True(t, errors.Is(den, nfe.ErrDefinitiveRejection))

	assert.True(t, errors.Is(nfe.AuthorityOutcome{Kind: nfe.OutcomeUnreachable}.Err(), nfe.ErrUnreachable))
	assert.True(t, errors.Is(nfe.AuthorityOutcome{Kind: nfe.OutcomeTransient, Code: 999}.Err(), nfe.ErrTransientAuthority))
}

func TestAuthorityOutcome_Clasificacion(t *testing.T) {
	assert.True(t, nfe.AuthorityOutcome{Kind: nfe.OutcomeTransient}.Retryable())
	assert.False(t, nfe.AuthorityOutcome{Kind: nfe.OutcomeRejected}.Retryable())
	assert.False(t, nfe.AuthorityOutcome{Kind: nfe.OutcomeUnreachable}.Retryable())
	assert.True(t, nfe.AuthorityOutcome{Kind: nfe.OutcomeDenied}.IsDefinitive())
	assert.True(t, nfe.AuthorityOutcome{Kind: nfe.OutcomeNotFound}.Responded())
	assert.False(t, nfe.AuthorityOutcome{Kind: nfe.OutcomeUnreachable}.Responded())
}
