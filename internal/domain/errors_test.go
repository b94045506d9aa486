package domain_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jhoicas/dte-api/internal/domain"
)

func TestKindOf_Sentinelas(t *testing.T) {
	assert.Equal(t, "", domain.KindOf(nil))
	assert.Equal(t, domain.KindRangeExhausted, domain.KindOf(fmt.Errorf("folio: %w", domain.ErrRangeExhausted)))
	assert.Equal(t, domain.KindCredential, domain.KindOf(domain.ErrWeakKey))
	assert.Equal(t, domain.KindValidation, domain.KindOf(errors.Join(domain.ErrValidation, errors.New("x"))))
	assert.Equal(t, domain.KindInternal, domain.KindOf(errors.New("otro")))
}

func TestTransportError_Desenvuelve(t *testing.T) {
	err := &domain.TransportError{Attempts: 4, LastStatus: 503, Err: context.DeadlineExceeded}

	assert.ErrorIs(t, err, domain.ErrTransport)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, domain.KindTransport, domain.KindOf(err))
	assert.Contains(t, err.Error(), "4 intentos")

	var te *domain.TransportError
	assert.True(t, errors.As(fmt.Errorf("submit: %w", err), &te))
	assert.Equal(t, 503, te.LastStatus)
}

func TestAuthorityError_EsDeNegocio(t *testing.T) {
	err := &domain.AuthorityError{HTTPStatus: 400, Code: "RCT", Message: "carátula inválida"}
	assert.ErrorIs(t, err, domain.ErrAuthorityBusiness)
	assert.NotErrorIs(t, err, domain.ErrTransport)
	assert.Equal(t, domain.KindAuthorityBusiness, domain.KindOf(err))
}

func TestErrWeakKey_EsCredencial(t *testing.T) {
	assert.ErrorIs(t, domain.ErrWeakKey, domain.ErrCredential)
	assert.NotErrorIs(t, domain.ErrWeakKey, domain.ErrKeyMismatch)
}

func TestErrUnconfirmedSubmission_NoEsRechazo(t *testing.T) {
	err := fmt.Errorf("%w: respuesta sin TrackID", domain.ErrUnconfirmedSubmission)
	assert.NotErrorIs(t, err, domain.ErrAuthorityBusiness)
	assert.Equal(t, domain.KindUnconfirmedSubmission, domain.KindOf(err))
}
