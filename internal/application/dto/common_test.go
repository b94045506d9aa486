package dto_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jhoicas/dte-api/internal/application/dto"
	"github.com/jhoicas/dte-api/internal/domain"
)

func TestDefaultPage_Limites(t *testing.T) {
	cases := []struct {
		in, want dto.PageRequest
	}{
		{dto.PageRequest{}, dto.PageRequest{Limit: 20}},
		{dto.PageRequest{Limit: 500, Offset: 40}, dto.PageRequest{Limit: 100, Offset: 40}},
		{dto.PageRequest{Limit: 5, Offset: -3}, dto.PageRequest{Limit: 5}},
	}
	for _, tc := range cases {
		p := tc.in
		p.DefaultPage()
		assert.Equal(t, tc.want, p)
	}
}

func TestNewErrorResponse_ValidacionAgregada(t *testing.T) {
	err := errors.Join(domain.ErrValidation,
		fmt.Errorf("%w: línea 1 sin descripción", domain.ErrValidation),
		fmt.Errorf("%w: RUT receptor inválido", domain.ErrValidation),
	)
	resp := dto.NewErrorResponse(dto.ErrorsFrom(err))
	assert.Equal(t, domain.KindValidation, resp.Code)
	assert.Contains(t, resp.Message, "línea 1")
	if assert.Len(t, resp.Details, 1) {
		assert.Contains(t, resp.Details[0].Message, "RUT receptor")
	}
}

func TestNewErrorResponse_SinErrores(t *testing.T) {
	resp := dto.NewErrorResponse(nil)
	assert.Equal(t, domain.KindInternal, resp.Code)
	assert.Empty(t, resp.Details)
}
