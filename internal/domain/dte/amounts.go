package dte

import (
	"github.com/shopspring/decimal"

	"github.com/jhoicas/dte-api/internal/domain/entity"
	"github.com/jhoicas/dte-api/pkg/sii"
)

// Totals montos agregados del encabezado (en pesos, sin decimales).
type Totals struct {
	Net    decimal.Decimal // MntNeto
	Exempt decimal.Decimal // MntExe
	Tax    decimal.Decimal // IVA
	Total  decimal.Decimal // MntTotal
}

var ivaRate = decimal.New(sii.IVARatePercent, -2)

// ComputeAmounts calcula Net/Tax/Total por línea y los totales del documento.
// MontoItem se redondea a entero; el IVA del encabezado se calcula sobre MntNeto agregado,
// no como suma de los IVA por línea.
func ComputeAmounts(items []entity.DocumentItem) ([]entity.DocumentItem, Totals) {
	out := make([]entity.DocumentItem, len(items))
	t := Totals{Net: decimal.Zero, Exempt: decimal.Zero, Tax: decimal.Zero, Total: decimal.Zero}
	for i, it := range items {
		it.LineNumber = i + 1
		it.Net = it.Quantity.Mul(it.UnitPrice).Round(0)
		if it.TaxClassification == sii.TaxExento {
			it.Tax = decimal.Zero
			t.Exempt = t.Exempt.Add(it.Net)
		} else {
			it.Tax = it.Net.Mul(ivaRate).Round(0)
			t.Net = t.Net.Add(it.Net)
		}
		it.Total = it.Net.Add(it.Tax)
		out[i] = it
	}
	t.Tax = t.Net.Mul(ivaRate).Round(0)
	t.Total = t.Net.Add(t.Exempt).Add(t.Tax)
	return out, t
}
