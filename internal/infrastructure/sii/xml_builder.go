package sii

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/beevik/etree"

	"github.com/jhoicas/dte-api/internal/domain"
	"github.com/jhoicas/dte-api/internal/domain/entity"
	siicat "github.com/jhoicas/dte-api/pkg/sii"
)

// NsSiiDte namespace del esquema DTE del SII.
const NsSiiDte = "http://www.sii.cl/SiiDte"

// BuildInput datos para construir el XML de un documento.
type BuildInput struct {
	Document  *entity.Document
	Issuer    *entity.Company
	Client    *entity.Customer
	Grant     *CAF // CAF del folio; sin grant no se genera TED
	Timestamp time.Time
}

// XMLBuilderService construye el XML del DTE sin firma (con TED si hay CAF).
type XMLBuilderService struct{}

// NewXMLBuilderService crea el servicio.
func NewXMLBuilderService() *XMLBuilderService {
	return &XMLBuilderService{}
}

// DocumentElementID valor del atributo ID de <Documento>, al que apunta la Reference de la firma.
func DocumentElementID(docType int, folio int64) string {
	return fmt.Sprintf("F%dT%d", folio, docType)
}

// Build genera <DTE><Documento ID="…">…</Documento></DTE> en UTF-8.
func (s *XMLBuilderService) Build(in BuildInput) ([]byte, error) {
	if in.Document == nil || in.Issuer == nil || in.Client == nil {
		return nil, fmt.Errorf("%w: faltan documento, emisor o receptor", domain.ErrValidation)
	}
	d := in.Document
	ts := in.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	dteEl := doc.CreateElement("DTE")
	dteEl.CreateAttr("version", "1.0")
	dteEl.CreateAttr("xmlns", NsSiiDte)

	documento := dteEl.CreateElement("Documento")
	documento.CreateAttr("ID", DocumentElementID(d.DocumentTypeCode, d.FolioNumber))

	// ---- Encabezado
	enc := documento.CreateElement("Encabezado")
	idDoc := enc.CreateElement("IdDoc")
	addText(idDoc, "TipoDTE", strconv.Itoa(d.DocumentTypeCode))
	addText(idDoc, "Folio", strconv.FormatInt(d.FolioNumber, 10))
	addText(idDoc, "FchEmis", d.IssueDate.Format("2006-01-02"))

	issuerRUT, err := siicat.FormatRUT(in.Issuer.RUT)
	if err != nil {
		return nil, fmt.Errorf("%w: RUT emisor: %v", domain.ErrValidation, err)
	}
	clientRUT, err := siicat.FormatRUT(in.Client.RUT)
	if err != nil {
		return nil, fmt.Errorf("%w: RUT receptor: %v", domain.ErrValidation, err)
	}

	emisor := enc.CreateElement("Emisor")
	addText(emisor, "RUTEmisor", issuerRUT)
	addText(emisor, "RznSoc", truncate(in.Issuer.BusinessName, 100))
	addOptional(emisor, "GiroEmis", truncate(in.Issuer.Activity, 80))
	if in.Issuer.ActivityCode > 0 {
		addText(emisor, "Acteco", strconv.Itoa(in.Issuer.ActivityCode))
	}
	addOptional(emisor, "DirOrigen", in.Issuer.Address)
	addOptional(emisor, "CmnaOrigen", in.Issuer.Commune)
	addOptional(emisor, "CiudadOrigen", in.Issuer.City)

	receptor := enc.CreateElement("Receptor")
	addText(receptor, "RUTRecep", clientRUT)
	addText(receptor, "RznSocRecep", truncate(in.Client.BusinessName, 100))
	addOptional(receptor, "GiroRecep", truncate(in.Client.Activity, 40))
	addOptional(receptor, "DirRecep", in.Client.Address)
	addOptional(receptor, "CmnaRecep", in.Client.Commune)
	addOptional(receptor, "CiudadRecep", in.Client.City)

	totales := enc.CreateElement("Totales")
	if d.NetAmount.IsPositive() {
		addText(totales, "MntNeto", d.NetAmount.StringFixed(0))
	}
	if d.ExemptAmount.IsPositive() {
		addText(totales, "MntExe", d.ExemptAmount.StringFixed(0))
	}
	if d.NetAmount.IsPositive() {
		addText(totales, "TasaIVA", strconv.Itoa(siicat.IVARatePercent))
		addText(totales, "IVA", d.TaxAmount.StringFixed(0))
	}
	addText(totales, "MntTotal", d.TotalAmount.StringFixed(0))

	// ---- Detalle
	for _, it := range d.Items {
		det := documento.CreateElement("Detalle")
		addText(det, "NroLinDet", strconv.Itoa(it.LineNumber))
		if it.TaxClassification == siicat.TaxExento {
			addText(det, "IndExe", "1")
		}
		addText(det, "NmbItem", truncate(it.Description, 80))
		addText(det, "QtyItem", it.Quantity.String())
		addText(det, "PrcItem", it.UnitPrice.String())
		addText(det, "MontoItem", it.Net.StringFixed(0))
	}

	// ---- Timbre electrónico
	if in.Grant != nil {
		if err := s.appendTED(documento, in, issuerRUT, clientRUT, ts); err != nil {
			return nil, err
		}
	}
	addText(documento, "TmstFirma", ts.Format("2006-01-02T15:04:05"))

	out, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("sii: serializar DTE: %w", err)
	}
	return out, nil
}

// appendTED agrega <TED><DD>…</DD><FRMT/></TED>; FRMT es SHA1withRSA con la llave RSASK del CAF
// sobre el DD aplanado.
func (s *XMLBuilderService) appendTED(documento *etree.Element, in BuildInput, issuerRUT, clientRUT string, ts time.Time) error {
	d := in.Document
	ted := documento.CreateElement("TED")
	ted.CreateAttr("version", "1.0")
	dd := ted.CreateElement("DD")
	addText(dd, "RE", issuerRUT)
	addText(dd, "TD", strconv.Itoa(d.DocumentTypeCode))
	addText(dd, "F", strconv.FormatInt(d.FolioNumber, 10))
	addText(dd, "FE", d.IssueDate.Format("2006-01-02"))
	addText(dd, "RR", clientRUT)
	addText(dd, "RSR", truncate(in.Client.BusinessName, 40))
	addText(dd, "MNT", d.TotalAmount.StringFixed(0))
	item1 := ""
	if len(d.Items) > 0 {
		item1 = d.Items[0].Description
	}
	addText(dd, "IT1", truncate(item1, 40))
	dd.AddChild(in.Grant.CAFElement())
	addText(dd, "TSTED", ts.Format("2006-01-02T15:04:05"))

	frmt := ted.CreateElement("FRMT")
	frmt.CreateAttr("algoritmo", "SHA1withRSA")

	key, err := in.Grant.PrivateKey()
	if err != nil {
		return err
	}
	if key == nil {
		return nil
	}
	flat, err := canonicalFlat(dd)
	if err != nil {
		return fmt.Errorf("%w: aplanar DD: %v", domain.ErrValidation, err)
	}
	h := sha1.Sum(flat)
	sig, err := key.Sign(nil, h[:], crypto.SHA1)
	if err != nil {
		return fmt.Errorf("sii: firmar TED: %w", err)
	}
	frmt.SetText(base64.StdEncoding.EncodeToString(sig))
	return nil
}

func addText(parent *etree.Element, tag, value string) {
	parent.CreateElement(tag).SetText(value)
}

func addOptional(parent *etree.Element, tag, value string) {
	if strings.TrimSpace(value) != "" {
		addText(parent, tag, value)
	}
}

// truncate corta por runas (los largos del esquema SII son en caracteres).
func truncate(s string, max int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= max {
		return string(r)
	}
	return string(r[:max])
}

// VerifyTimbre valida el FRMT del TED con la llave pública RSAPK del CAF incluido en el DD.
func VerifyTimbre(xmlDoc []byte) error {
	doc, err := ReadDocument(xmlDoc)
	if err != nil {
		return fmt.Errorf("%w: XML ilegible: %v", domain.ErrValidation, err)
	}
	dd := doc.FindElement("//TED/DD")
	frmt := doc.FindElement("//TED/FRMT")
	if dd == nil || frmt == nil {
		return fmt.Errorf("%w: documento sin TED", domain.ErrValidation)
	}
	m, e := dd.FindElement("CAF/DA/RSAPK/M"), dd.FindElement("CAF/DA/RSAPK/E")
	if m == nil || e == nil {
		return fmt.Errorf("%w: TED sin RSAPK", domain.ErrValidation)
	}
	pub, err := rsaPublicKey(m.Text(), e.Text())
	if err != nil {
		return fmt.Errorf("%w: RSAPK: %v", domain.ErrValidation, err)
	}
	sig, err := base64.StdEncoding.DecodeString(compactBase64(frmt.Text()))
	if err != nil || len(sig) == 0 {
		return fmt.Errorf("%w: FRMT vacío o inválido", domain.ErrValidation)
	}
	flat, err := canonicalFlat(dd)
	if err != nil {
		return fmt.Errorf("%w: aplanar DD: %v", domain.ErrValidation, err)
	}
	h := sha1.Sum(flat)
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA1, h[:], sig); err != nil {
		return fmt.Errorf("%w: FRMT no corresponde al DD", domain.ErrValidation)
	}
	return nil
}
