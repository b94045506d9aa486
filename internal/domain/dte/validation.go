package dte

import (
	"errors"
	"fmt"

	"github.com/jhoicas/dte-api/internal/domain"
	"github.com/jhoicas/dte-api/internal/domain/entity"
	"github.com/jhoicas/dte-api/pkg/sii"
)

// ValidateItems valida las líneas antes de asignar folio.
func ValidateItems(docType int, items []entity.DocumentItem) error {
	var errs []error
	if !sii.IsValidDocumentType(docType) {
		errs = append(errs, fmt.Errorf("tipo de documento %d no pertenece al catálogo del SII", docType))
	}
	if len(items) == 0 {
		errs = append(errs, errors.New("el documento debe tener al menos una línea"))
	}
	for i, it := range items {
		n := i + 1
		if it.Description == "" {
			errs = append(errs, fmt.Errorf("línea %d: nombre del ítem requerido", n))
		}
		if !it.Quantity.IsPositive() {
			errs = append(errs, fmt.Errorf("línea %d: cantidad debe ser mayor que cero", n))
		}
		if it.UnitPrice.IsNegative() {
			errs = append(errs, fmt.Errorf("línea %d: precio unitario no puede ser negativo", n))
		}
		if !sii.IsValidTaxClassification(it.TaxClassification) {
			errs = append(errs, fmt.Errorf("línea %d: clasificación tributaria %q inválida", n, it.TaxClassification))
		} else if sii.IsExemptDocumentType(docType) && it.TaxClassification == sii.TaxAfecto {
			errs = append(errs, fmt.Errorf("línea %d: el tipo %d solo admite líneas exentas", n, docType))
		}
	}
	if len(errs) > 0 {
		return errors.Join(append([]error{domain.ErrValidation}, errs...)...)
	}
	return nil
}

// ValidateDocument validación local previa a la firma: emisor, receptor, folio y coherencia
// de montos con las líneas.
func ValidateDocument(doc *entity.Document, issuer *entity.Company, client *entity.Customer) error {
	if doc == nil {
		return fmt.Errorf("%w: documento nulo", domain.ErrValidation)
	}
	var errs []error
	if err := ValidateItems(doc.DocumentTypeCode, doc.Items); err != nil {
		errs = append(errs, err)
	}
	if doc.FolioNumber <= 0 {
		errs = append(errs, errors.New("folio no asignado"))
	}
	if issuer == nil {
		errs = append(errs, errors.New("emisor no encontrado"))
	} else {
		if err := sii.ValidateRUT(issuer.RUT); err != nil {
			errs = append(errs, fmt.Errorf("RUT emisor: %w", err))
		}
		if issuer.BusinessName == "" {
			errs = append(errs, errors.New("razón social del emisor requerida"))
		}
	}
	if client == nil {
		errs = append(errs, errors.New("receptor no encontrado"))
	} else if err := sii.ValidateRUT(client.RUT); err != nil {
		errs = append(errs, fmt.Errorf("RUT receptor: %w", err))
	}

	if len(doc.Items) > 0 {
		_, t := ComputeAmounts(doc.Items)
		if !doc.NetAmount.Equal(t.Net) {
			errs = append(errs, fmt.Errorf("MntNeto (%s) no coincide con la suma de líneas afectas (%s)", doc.NetAmount, t.Net))
		}
		if !doc.ExemptAmount.Equal(t.Exempt) {
			errs = append(errs, fmt.Errorf("MntExe (%s) no coincide con la suma de líneas exentas (%s)", doc.ExemptAmount, t.Exempt))
		}
		if !doc.TaxAmount.Equal(t.Tax) {
			errs = append(errs, fmt.Errorf("IVA (%s) no coincide con %d%% de MntNeto (%s)", doc.TaxAmount, sii.IVARatePercent, t.Tax))
		}
		if !doc.TotalAmount.Equal(t.Total) {
			errs = append(errs, fmt.Errorf("MntTotal (%s) no coincide con neto + exento + IVA (%s)", doc.TotalAmount, t.Total))
		}
	}

	if len(errs) > 0 {
		return errors.Join(append([]error{domain.ErrValidation}, errs...)...)
	}
	return nil
}
