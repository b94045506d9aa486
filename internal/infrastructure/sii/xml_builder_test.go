package sii_test

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/dte-api/internal/domain"
	"github.com/jhoicas/dte-api/internal/domain/dte"
	"github.com/jhoicas/dte-api/internal/domain/entity"
	"github.com/jhoicas/dte-api/internal/infrastructure/sii"
	"github.com/jhoicas/dte-api/internal/infrastructure/sii/siitest"
	siicat "github.com/jhoicas/dte-api/pkg/sii"
)

func buildInput(t *testing.T, withGrant bool) sii.BuildInput {
	t.Helper()
	lines, tot := dte.ComputeAmounts([]entity.DocumentItem{
		{Description: "Asesoría técnica", Quantity: decimal.NewFromInt(2), UnitPrice: decimal.NewFromInt(10000), TaxClassification: siicat.TaxAfecto},
		{Description: "Despacho", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(3000), TaxClassification: siicat.TaxExento},
	})
	in := sii.BuildInput{
		Document: &entity.Document{
			DocumentTypeCode: 33, FolioNumber: 7, IssueDate: time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC),
			Items: lines, NetAmount: tot.Net, ExemptAmount: tot.Exempt, TaxAmount: tot.Tax, TotalAmount: tot.Total,
		},
		Issuer:    &entity.Company{RUT: "76.192.083-9", BusinessName: "Emisora SpA", Activity: "Servicios", ActivityCode: 620200},
		Client:    &entity.Customer{RUT: "11111111-1", BusinessName: "Cliente Ltda"},
		Timestamp: time.Date(2024, 5, 2, 10, 30, 0, 0, time.UTC),
	}
	if withGrant {
		raw, err := siitest.NewCAF(siitest.CAFOptions{IssuerRUT: "76192083-9", DocType: 33, From: 1, To: 20})
		require.NoError(t, err)
		in.Grant, err = sii.ParseCAF(raw)
		require.NoError(t, err)
	}
	return in
}

func TestXMLBuilder_EstructuraYMontos(t *testing.T) {
	out, err := sii.NewXMLBuilderService().Build(buildInput(t, false))
	require.NoError(t, err)
	xml := string(out)

	assert.Contains(t, xml, `<DTE version="1.0" xmlns="http://www.sii.cl/SiiDte">`)
	assert.Contains(t, xml, `<Documento ID="F7T33">`)
	assert.Contains(t, xml, "<RUTEmisor>76192083-9</RUTEmisor>")
	assert.Contains(t, xml, "<MntNeto>20000</MntNeto>")
	assert.Contains(t, xml, "<MntExe>3000</MntExe>")
	assert.Contains(t, xml, "<IVA>3800</IVA>")
	assert.Contains(t, xml, "<MntTotal>26800</MntTotal>")
	assert.Contains(t, xml, "<IndExe>1</IndExe>")
	assert.Contains(t, xml, "<TmstFirma>2024-05-02T10:30:00</TmstFirma>")
	assert.NotContains(t, xml, "<TED")
}

func TestXMLBuilder_TimbreVerificable(t *testing.T) {
	out, err := sii.NewXMLBuilderService().Build(buildInput(t, true))
	require.NoError(t, err)

	assert.Contains(t, string(out), "<TED version=\"1.0\">")
	require.NoError(t, sii.VerifyTimbre(out))

	tampered := strings.Replace(string(out), "<MNT>26800</MNT>", "<MNT>1</MNT>", 1)
	assert.ErrorIs(t, sii.VerifyTimbre([]byte(tampered)), domain.ErrValidation)
}

func TestXMLBuilder_SinReceptor(t *testing.T) {
	in := buildInput(t, false)
	in.Client = nil
	_, err := sii.NewXMLBuilderService().Build(in)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestToLatin1_ConservaContenido(t *testing.T) {
	out, err := sii.ToLatin1([]byte(`<?xml version="1.0" encoding="UTF-8"?><a>Ñuñoa</a>`))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(out), `<?xml version="1.0" encoding="ISO-8859-1"?>`))

	doc, err := sii.ReadDocument(out)
	require.NoError(t, err)
	assert.Equal(t, "Ñuñoa", doc.Root().Text())
}
