package dte_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/dte-api/internal/domain"
	"github.com/jhoicas/dte-api/internal/domain/dte"
	"github.com/jhoicas/dte-api/internal/domain/entity"
	"github.com/jhoicas/dte-api/pkg/sii"
)

func TestRemainingAlert_Umbrales(t *testing.T) {
	cases := []struct {
		remaining int64
		want      dte.AlertLevel
	}{
		{0, dte.AlertCritical},
		{10, dte.AlertCritical},
		{11, dte.AlertWarning},
		{50, dte.AlertWarning},
		{51, dte.AlertOK},
	}
	for _, c := range cases {
		a := dte.RemainingAlert(c.remaining)
		assert.Equal(t, c.want, a.Level, "remaining=%d", c.remaining)
		assert.Equal(t, c.remaining, a.Remaining)
	}
}

func TestValidateSequence_HuecosYDuplicados(t *testing.T) {
	r := dte.ValidateSequence([]int64{5, 1, 2, 2, 2, 8, 3})

	assert.Equal(t, []int64{2}, r.Duplicates)
	assert.Equal(t, []dte.Gap{{From: 4, To: 4}, {From: 6, To: 7}}, r.Gaps)
	assert.True(t, r.HasDuplicates())
}

func TestValidateSequence_Vacia(t *testing.T) {
	r := dte.ValidateSequence(nil)
	assert.Empty(t, r.Gaps)
	assert.Empty(t, r.Duplicates)
	assert.False(t, r.HasDuplicates())
}

func TestValidateSequence_NoModificaEntrada(t *testing.T) {
	in := []int64{3, 1, 2}
	dte.ValidateSequence(in)
	assert.Equal(t, []int64{3, 1, 2}, in)
}

func items() []entity.DocumentItem {
	return []entity.DocumentItem{
		{Description: "Servicio", Quantity: decimal.NewFromInt(3), UnitPrice: decimal.NewFromInt(1333), TaxClassification: sii.TaxAfecto},
		{Description: "Flete", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(5000), TaxClassification: sii.TaxExento},
	}
}

func TestComputeAmounts_IVASobreNetoAgregado(t *testing.T) {
	lines, tot := dte.ComputeAmounts(items())

	require.Len(t, lines, 2)
	assert.Equal(t, 1, lines[0].LineNumber)
	assert.True(t, lines[0].Net.Equal(decimal.NewFromInt(3999)))
	assert.True(t, lines[0].Tax.Equal(decimal.NewFromInt(760)))
	assert.True(t, lines[1].Tax.IsZero())

	assert.True(t, tot.Net.Equal(decimal.NewFromInt(3999)))
	assert.True(t, tot.Exempt.Equal(decimal.NewFromInt(5000)))
	assert.True(t, tot.Tax.Equal(decimal.NewFromInt(760)))
	assert.True(t, tot.Total.Equal(decimal.NewFromInt(9759)))
}

func TestValidateItems_TipoExentoConLineaAfecta(t *testing.T) {
	err := dte.ValidateItems(sii.DocTypeFacturaExenta, items())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Contains(t, err.Error(), "solo admite líneas exentas")
}

func TestValidateItems_SinLineas(t *testing.T) {
	err := dte.ValidateItems(sii.DocTypeFactura, nil)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestValidateDocument_Valido(t *testing.T) {
	lines, tot := dte.ComputeAmounts(items())
	doc := &entity.Document{
		DocumentTypeCode: sii.DocTypeFactura, FolioNumber: 1, Items: lines,
		NetAmount: tot.Net, ExemptAmount: tot.Exempt, TaxAmount: tot.Tax, TotalAmount: tot.Total,
	}
	issuer := &entity.Company{RUT: "76192083-9", BusinessName: "Emisora SpA"}
	client := &entity.Customer{RUT: "11111111-1"}

	assert.NoError(t, dte.ValidateDocument(doc, issuer, client))
}

func TestValidateDocument_TotalesIncoherentesYRUTInvalido(t *testing.T) {
	lines, tot := dte.ComputeAmounts(items())
	doc := &entity.Document{
		DocumentTypeCode: sii.DocTypeFactura, FolioNumber: 1, Items: lines,
		NetAmount: tot.Net, ExemptAmount: tot.Exempt, TaxAmount: tot.Tax.Add(decimal.NewFromInt(1)), TotalAmount: tot.Total,
	}
	issuer := &entity.Company{RUT: "76192083-1", BusinessName: "Emisora SpA"}

	err := dte.ValidateDocument(doc, issuer, &entity.Customer{RUT: "11111111-1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Contains(t, err.Error(), "IVA")
	assert.Contains(t, err.Error(), "RUT emisor")
}
