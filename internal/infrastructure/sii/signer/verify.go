package signer

import (
	"bytes"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/beevik/etree"

	"github.com/jhoicas/dte-api/internal/domain"
	"github.com/jhoicas/dte-api/internal/infrastructure/sii"
)

// CertificateInfo datos del certificado embebido en la firma.
type CertificateInfo struct {
	Subject      string    `json:"subject"`
	Issuer       string    `json:"issuer"`
	SerialNumber string    `json:"serial_number"`
	ValidFrom    time.Time `json:"valid_from"`
	ValidTo      time.Time `json:"valid_to"`
	KeySizeBits  int       `json:"key_size_bits"`
}

// VerifyResult resultado de Verify. Reason explica el rechazo cuando Valid es false.
type VerifyResult struct {
	Valid       bool            `json:"valid"`
	Reason      string          `json:"reason,omitempty"`
	Certificate CertificateInfo `json:"certificate"`
}

func invalid(format string, args ...any) *VerifyResult {
	return &VerifyResult{Reason: fmt.Sprintf(format, args...)}
}

// Verify comprueba digest y SignatureValue de la firma enveloped. No modifica nada.
// Solo retorna error si no hay contenido que verificar; cualquier alteración da Valid=false.
func (s *Service) Verify(xmlDoc []byte) (*VerifyResult, error) {
	return Verify(xmlDoc)
}

// Verify ver Service.Verify.
func Verify(xmlDoc []byte) (*VerifyResult, error) {
	if len(bytes.TrimSpace(xmlDoc)) == 0 {
		return nil, fmt.Errorf("%w: XML vacío", domain.ErrValidation)
	}
	doc, err := sii.ReadDocument(xmlDoc)
	if err != nil {
		return invalid("XML mal formado: %v", err), nil
	}
	root := doc.Root()
	sig := findSignature(root)
	if sig == nil {
		return invalid("el documento no tiene Signature"), nil
	}
	signedInfo := sig.SelectElement("SignedInfo")
	if signedInfo == nil {
		return invalid("Signature sin SignedInfo"), nil
	}
	if alg := attrOf(signedInfo.FindElement("SignatureMethod"), "Algorithm"); alg != AlgRSASHA256 {
		return invalid("algoritmo de firma no soportado: %q", alg), nil
	}
	ref := signedInfo.FindElement("Reference")
	if ref == nil {
		return invalid("SignedInfo sin Reference"), nil
	}
	if alg := attrOf(ref.FindElement("DigestMethod"), "Algorithm"); alg != AlgSHA256 {
		return invalid("algoritmo de digest no soportado: %q", alg), nil
	}

	cert, err := embeddedCertificate(sig)
	if err != nil {
		return invalid("%v", err), nil
	}
	res := &VerifyResult{Certificate: certificateInfo(cert)}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		res.Reason = "el certificado no tiene llave RSA"
		return res, nil
	}
	if kv := sig.FindElement("KeyInfo/KeyValue/RSAKeyValue"); kv != nil && !keyValueMatches(kv, pub) {
		res.Reason = "KeyValue no corresponde al certificado"
		return res, nil
	}

	target, err := resolveReference(doc, attrOf(ref, "URI"))
	if err != nil {
		res.Reason = err.Error()
		return res, nil
	}
	if err := checkEnvelope(root, target); err != nil {
		res.Reason = err.Error()
		return res, nil
	}
	canonical, err := canonicalInContext(target)
	if err != nil {
		res.Reason = fmt.Sprintf("canonicalizar referencia: %v", err)
		return res, nil
	}
	digest := sha256.Sum256(canonical)
	expected, err := decodeB64(textOf(ref.FindElement("DigestValue")))
	if err != nil || !bytes.Equal(expected, digest[:]) {
		res.Reason = "el digest no coincide: el documento fue modificado"
		return res, nil
	}

	canonicalSI, err := canonicalInContext(signedInfo)
	if err != nil {
		res.Reason = fmt.Sprintf("canonicalizar SignedInfo: %v", err)
		return res, nil
	}
	value, err := decodeB64(textOf(sig.SelectElement("SignatureValue")))
	if err != nil || len(value) == 0 {
		res.Reason = "SignatureValue ausente o ilegible"
		return res, nil
	}
	h := sha256.Sum256(canonicalSI)
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, h[:], value); err != nil {
		res.Reason = "SignatureValue inválido"
		return res, nil
	}
	res.Valid = true
	return res, nil
}

func resolveReference(doc *etree.Document, uri string) (*etree.Element, error) {
	if uri == "" {
		return doc.Root(), nil
	}
	if !strings.HasPrefix(uri, "#") || strings.ContainsAny(uri, `'"[]`) {
		return nil, fmt.Errorf("URI de Reference no soportada: %q", uri)
	}
	matches := doc.FindElements(fmt.Sprintf("//*[@ID='%s']", uri[1:]))
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("no existe el elemento referenciado %s", uri)
	case 1:
		return matches[0], nil
	}
	return nil, fmt.Errorf("ID %s duplicado en el documento", uri)
}

// envelopeVersion única versión aceptada en la raíz (DTE, EnvioDTE) que envuelve lo firmado.
const envelopeVersion = "1.0"

// checkEnvelope la firma cubre solo el elemento referenciado; fuera de él la raíz no puede tener
// más que declaraciones de namespace, version="1.0", el elemento firmado y una Signature.
func checkEnvelope(root, target *etree.Element) error {
	if target == root {
		return nil
	}
	if target.Parent() != root {
		return fmt.Errorf("el elemento firmado %s no es hijo directo de %s", target.Tag, root.Tag)
	}
	for _, a := range root.Attr {
		switch {
		case isNamespaceDecl(a):
		case a.Space == "xsi" && a.Key == "schemaLocation":
		case a.Space == "" && a.Key == "version" && a.Value == envelopeVersion:
		default:
			return fmt.Errorf("atributo %s=%q de %s fuera de la firma", a.FullKey(), a.Value, root.Tag)
		}
	}
	signatures := 0
	for _, tok := range root.Child {
		switch t := tok.(type) {
		case *etree.Element:
			switch {
			case t == target:
			case t.Tag == "Signature" && signatures == 0:
				signatures++
			default:
				return fmt.Errorf("elemento %s de %s fuera de la firma", t.Tag, root.Tag)
			}
		case *etree.CharData:
			if strings.TrimSpace(t.Data) != "" {
				return fmt.Errorf("texto de %s fuera de la firma", root.Tag)
			}
		case *etree.Comment, *etree.ProcInst, *etree.Directive:
			return fmt.Errorf("contenido de %s fuera de la firma", root.Tag)
		}
	}
	return nil
}

func embeddedCertificate(sig *etree.Element) (*x509.Certificate, error) {
	el := sig.FindElement("KeyInfo/X509Data/X509Certificate")
	if el == nil {
		return nil, fmt.Errorf("Signature sin X509Certificate")
	}
	der, err := decodeB64(el.Text())
	if err != nil {
		return nil, fmt.Errorf("X509Certificate ilegible: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("X509Certificate inválido: %v", err)
	}
	return cert, nil
}

func certificateInfo(c *x509.Certificate) CertificateInfo {
	info := CertificateInfo{
		Subject:      c.Subject.String(),
		Issuer:       c.Issuer.String(),
		SerialNumber: c.SerialNumber.String(),
		ValidFrom:    c.NotBefore,
		ValidTo:      c.NotAfter,
	}
	if pub, ok := c.PublicKey.(*rsa.PublicKey); ok {
		info.KeySizeBits = pub.N.BitLen()
	}
	return info
}

func keyValueMatches(kv *etree.Element, pub *rsa.PublicKey) bool {
	mod, err := decodeB64(textOf(kv.SelectElement("Modulus")))
	if err != nil {
		return false
	}
	exp, err := decodeB64(textOf(kv.SelectElement("Exponent")))
	if err != nil {
		return false
	}
	return new(big.Int).SetBytes(mod).Cmp(pub.N) == 0 && new(big.Int).SetBytes(exp).Int64() == int64(pub.E)
}

func decodeB64(s string) ([]byte, error) {
	s = strings.Join(strings.Fields(s), "")
	return base64.StdEncoding.DecodeString(s)
}

func textOf(el *etree.Element) string {
	if el == nil {
		return ""
	}
	return el.Text()
}

func attrOf(el *etree.Element, key string) string {
	if el == nil {
		return ""
	}
	return el.SelectAttrValue(key, "")
}
