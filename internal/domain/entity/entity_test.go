package entity_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/dte-api/internal/domain"
	"github.com/jhoicas/dte-api/internal/domain/entity"
)

func TestNewAuthorizedRange_SinFoliosEmitidos(t *testing.T) {
	now := time.Now()
	r, err := entity.NewAuthorizedRange(entity.RangeParams{
		ID: "r1", CompanyID: "c1", DocumentTypeCode: 33, FromNumber: 1, ToNumber: 20,
		AuthorizedAt: now, ExpiresAt: now.AddDate(0, 6, 0),
	})
	require.NoError(t, err)

	assert.Equal(t, int64(0), r.CurrentNumber)
	assert.Equal(t, int64(20), r.Remaining())
	assert.True(t, r.Active)
	assert.True(t, r.Usable(now))
	assert.False(t, r.Exhausted())
}

func TestNewAuthorizedRange_DesdeMayorQueHasta(t *testing.T) {
	now := time.Now()
	_, err := entity.NewAuthorizedRange(entity.RangeParams{
		ID: "r1", CompanyID: "c1", FromNumber: 20, ToNumber: 20, AuthorizedAt: now, ExpiresAt: now,
	})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestAuthorizedRange_OverlapsPorInterseccion(t *testing.T) {
	r := &entity.AuthorizedRange{FromNumber: 10, ToNumber: 20}

	assert.True(t, r.Overlaps(15, 30))
	assert.True(t, r.Overlaps(1, 10))
	assert.True(t, r.Overlaps(12, 13))
	assert.True(t, r.Overlaps(1, 100))
	assert.False(t, r.Overlaps(21, 30))
	assert.False(t, r.Overlaps(1, 9))
}

func TestAuthorizedRange_UsableExcluyeDetenidoYVencido(t *testing.T) {
	now := time.Now()
	r := &entity.AuthorizedRange{FromNumber: 1, ToNumber: 5, CurrentNumber: 2, Active: true, ExpiresAt: now.Add(time.Hour)}
	assert.True(t, r.Usable(now))

	r.Halted = true
	assert.False(t, r.Usable(now))

	r.Halted = false
	assert.False(t, r.Usable(now.Add(2*time.Hour)))

	r.CurrentNumber = 5
	assert.False(t, r.Usable(now))
}

func TestCanTransition_Tabla(t *testing.T) {
	assert.True(t, entity.CanTransition(entity.StatusDraft, entity.StatusSigned))
	assert.True(t, entity.CanTransition(entity.StatusDraft, entity.StatusRejected))
	assert.True(t, entity.CanTransition(entity.StatusSigned, entity.StatusSent))
	assert.True(t, entity.CanTransition(entity.StatusSigned, entity.StatusVoided))
	assert.True(t, entity.CanTransition(entity.StatusSent, entity.StatusAccepted))
	assert.True(t, entity.CanTransition(entity.StatusSent, entity.StatusRejected))

	assert.False(t, entity.CanTransition(entity.StatusDraft, entity.StatusSent))
	assert.False(t, entity.CanTransition(entity.StatusSent, entity.StatusVoided))
	assert.False(t, entity.CanTransition(entity.StatusAccepted, entity.StatusRejected))
	assert.False(t, entity.CanTransition(entity.StatusSent, entity.StatusSigned))

	assert.True(t, entity.StatusAccepted.IsTerminal())
	assert.True(t, entity.StatusVoided.IsTerminal())
	assert.False(t, entity.StatusSent.IsTerminal())
}

func TestNewSigningCredential_SinLlave(t *testing.T) {
	_, err := entity.NewSigningCredential(nil, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidCredential)
	assert.ErrorIs(t, err, domain.ErrCredential)
}
