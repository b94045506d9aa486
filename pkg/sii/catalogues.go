// Package sii contiene catálogos y validaciones del Servicio de Impuestos Internos (Chile)
// usados por la emisión de documentos tributarios electrónicos (DTE).
package sii

import "strings"

// =============================================================================
// Tipos de DTE (Formato DTE - campo TipoDTE)
// =============================================================================

const (
	DocTypeFactura       = 33 // Factura electrónica
	DocTypeFacturaExenta = 34 // Factura no afecta o exenta electrónica
	DocTypeBoleta        = 39 // Boleta electrónica
	DocTypeBoletaExenta  = 41 // Boleta exenta electrónica
	DocTypeFacturaCompra = 46 // Factura de compra electrónica
	DocTypeGuiaDespacho  = 52 // Guía de despacho electrónica
	DocTypeNotaDebito    = 56 // Nota de débito electrónica
	DocTypeNotaCredito   = 61 // Nota de crédito electrónica
)

// documentTypeNames conjunto legal cerrado de tipos de DTE aceptados.
var documentTypeNames = map[int]string{
	DocTypeFactura:       "Factura electrónica",
	DocTypeFacturaExenta: "Factura exenta electrónica",
	DocTypeBoleta:        "Boleta electrónica",
	DocTypeBoletaExenta:  "Boleta exenta electrónica",
	DocTypeFacturaCompra: "Factura de compra electrónica",
	DocTypeGuiaDespacho:  "Guía de despacho electrónica",
	DocTypeNotaDebito:    "Nota de débito electrónica",
	DocTypeNotaCredito:   "Nota de crédito electrónica",
}

// IsValidDocumentType indica si el código pertenece al conjunto legal de tipos de DTE.
func IsValidDocumentType(code int) bool {
	_, ok := documentTypeNames[code]
	return ok
}

// DocumentTypeName devuelve el nombre legal del tipo de DTE (vacío si no existe).
func DocumentTypeName(code int) string {
	return documentTypeNames[code]
}

// IsExemptDocumentType indica si el tipo de documento no lleva IVA.
func IsExemptDocumentType(code int) bool {
	return code == DocTypeFacturaExenta || code == DocTypeBoletaExenta
}

// =============================================================================
// Ambientes del SII
// =============================================================================

const (
	EnvCertification = "certificacion" // maullin.sii.cl
	EnvProduction    = "produccion"    // palena.sii.cl
)

// IsValidEnvironment valida el nombre del ambiente.
func IsValidEnvironment(env string) bool {
	return env == EnvCertification || env == EnvProduction
}

// =============================================================================
// Tasa de IVA y clasificación tributaria de líneas
// =============================================================================

// IVARatePercent tasa general del IVA en Chile.
const IVARatePercent = 19

const (
	TaxAfecto = "AFECTO" // línea gravada con IVA
	TaxExento = "EXENTO" // línea exenta (IndExe = 1)
)

// IsValidTaxClassification valida la clasificación tributaria de una línea.
func IsValidTaxClassification(s string) bool {
	return s == TaxAfecto || s == TaxExento
}

// =============================================================================
// Estados de envío (consulta de estado de upload, QueryEstUp)
// =============================================================================

// AuthorityStatus resolución del SII agrupada en tres estados.
type AuthorityStatus string

const (
	AuthorityPending  AuthorityStatus = "pending"
	AuthorityAccepted AuthorityStatus = "accepted"
	AuthorityRejected AuthorityStatus = "rejected"
)

var authorityStatusCodes = map[string]AuthorityStatus{
	"REC": AuthorityPending,  // envío recibido
	"SOK": AuthorityPending,  // schema validado
	"CRT": AuthorityPending,  // carátula OK
	"FOK": AuthorityPending,  // firma de envío validada
	"PRD": AuthorityPending,  // envío en proceso
	"EPR": AuthorityAccepted, // envío procesado
	"RPR": AuthorityAccepted, // aceptado con reparos
	"RCH": AuthorityRejected, // rechazado
	"RCT": AuthorityRejected, // rechazado por error en carátula
	"RFR": AuthorityRejected, // rechazado por error en firma
	"RSC": AuthorityRejected, // rechazado por error en schema
	"RCS": AuthorityRejected, // rechazado por error en schema
	"RLV": AuthorityRejected, // rechazado por leyes vigentes
	"RPT": AuthorityRejected, // repetido
	"DNK": AuthorityPending,  // DTE recibido, aún no validado
}

// ResolveAuthorityStatus traduce un código de estado del SII. Códigos desconocidos quedan pendientes.
func ResolveAuthorityStatus(code string) AuthorityStatus {
	if st, ok := authorityStatusCodes[strings.ToUpper(strings.TrimSpace(code))]; ok {
		return st
	}
	return AuthorityPending
}
