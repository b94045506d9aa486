package sii

import (
	"bytes"
	"crypto"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"encoding/xml"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/ucarion/c14n"

	"github.com/jhoicas/dte-api/internal/domain"
	siicat "github.com/jhoicas/dte-api/pkg/sii"
)

// CAFValidityMonths vigencia de un CAF sin <FV> explícito: seis meses desde FA.
const CAFValidityMonths = 6

// CAF grant de folios parseado. El XML original se conserva en Raw.
type CAF struct {
	IssuerRUT          string
	IssuerName         string
	DocumentTypeCode   int
	From               int64
	To                 int64
	AuthorizedAt       time.Time
	ExpiresAt          time.Time
	ExplicitExpiry     bool
	KeyID              string         // IDK: llave del SII que firmó el grant
	PublicKey          *rsa.PublicKey // RSAPK: llave pública para verificar timbres
	PrivateKeyPEM      string         // RSASK: firma el TED de cada documento
	Signature          []byte         // FRMA
	SignatureAlgorithm string
	Raw                []byte

	da  *etree.Element
	caf *etree.Element
}

// HasSignature indica si el grant trae FRMA.
func (c *CAF) HasSignature() bool { return len(c.Signature) > 0 }

// ParseCAF lee el XML <AUTORIZACION><CAF><DA>…</DA><FRMA/></CAF><RSASK/></AUTORIZACION>.
// Solo valida estructura; las reglas de negocio las aplica folio.Service.
func ParseCAF(raw []byte) (*CAF, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("%w: CAF vacío", domain.ErrValidation)
	}
	doc, err := ReadDocument(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: CAF no es XML válido: %v", domain.ErrValidation, err)
	}
	root := doc.Root()
	cafEl := root
	if root.Tag != "CAF" {
		cafEl = root.SelectElement("CAF")
	}
	if cafEl == nil {
		return nil, fmt.Errorf("%w: falta el nodo CAF", domain.ErrValidation)
	}
	da := cafEl.SelectElement("DA")
	if da == nil {
		return nil, fmt.Errorf("%w: falta el nodo DA", domain.ErrValidation)
	}

	var errs []error
	text := func(parent *etree.Element, path string) string {
		if el := parent.FindElement(path); el != nil {
			return strings.TrimSpace(el.Text())
		}
		return ""
	}
	c := &CAF{Raw: raw, da: da, caf: cafEl}
	c.IssuerRUT = text(da, "RE")
	c.IssuerName = text(da, "RS")
	c.KeyID = text(da, "IDK")
	if c.IssuerRUT == "" {
		errs = append(errs, errors.New("RE (RUT emisor) requerido"))
	}

	if td, err := strconv.Atoi(text(da, "TD")); err != nil {
		errs = append(errs, fmt.Errorf("TD inválido: %q", text(da, "TD")))
	} else {
		c.DocumentTypeCode = td
	}
	if c.From, err = strconv.ParseInt(text(da, "RNG/D"), 10, 64); err != nil {
		errs = append(errs, fmt.Errorf("RNG/D inválido: %q", text(da, "RNG/D")))
	}
	if c.To, err = strconv.ParseInt(text(da, "RNG/H"), 10, 64); err != nil {
		errs = append(errs, fmt.Errorf("RNG/H inválido: %q", text(da, "RNG/H")))
	}
	if c.AuthorizedAt, err = time.Parse("2006-01-02", text(da, "FA")); err != nil {
		errs = append(errs, fmt.Errorf("FA inválida: %q", text(da, "FA")))
	} else {
		c.ExpiresAt = c.AuthorizedAt.AddDate(0, CAFValidityMonths, 0)
	}
	if fv := text(da, "FV"); fv != "" {
		if exp, err := time.Parse("2006-01-02", fv); err != nil {
			errs = append(errs, fmt.Errorf("FV inválida: %q", fv))
		} else {
			c.ExpiresAt = exp.AddDate(0, 0, 1) // vigente durante todo el día FV
			c.ExplicitExpiry = true
		}
	}

	if m, e := text(da, "RSAPK/M"), text(da, "RSAPK/E"); m != "" && e != "" {
		pk, err := rsaPublicKey(m, e)
		if err != nil {
			errs = append(errs, fmt.Errorf("RSAPK: %w", err))
		} else {
			c.PublicKey = pk
		}
	}
	if frma := cafEl.SelectElement("FRMA"); frma != nil && strings.TrimSpace(frma.Text()) != "" {
		sig, err := base64.StdEncoding.DecodeString(compactBase64(frma.Text()))
		if err != nil {
			errs = append(errs, fmt.Errorf("FRMA no es base64: %v", err))
		}
		c.Signature = sig
		c.SignatureAlgorithm = frma.SelectAttrValue("algoritmo", "SHA1withRSA")
	}
	if sk := root.SelectElement("RSASK"); sk != nil {
		c.PrivateKeyPEM = strings.TrimSpace(sk.Text())
	}

	if len(errs) > 0 {
		return nil, errors.Join(append([]error{domain.ErrValidation}, errs...)...)
	}
	return c, nil
}

// VerifySignature valida FRMA (SHA1withRSA) sobre el DA canónico con la llave del SII.
func (c *CAF) VerifySignature(authorityKey *rsa.PublicKey) error {
	if !c.HasSignature() {
		return fmt.Errorf("%w: CAF sin FRMA", domain.ErrValidation)
	}
	if !strings.EqualFold(c.SignatureAlgorithm, "SHA1withRSA") {
		return fmt.Errorf("%w: algoritmo de FRMA no soportado %q", domain.ErrValidation, c.SignatureAlgorithm)
	}
	digest, err := c.daDigest()
	if err != nil {
		return err
	}
	if err := rsa.VerifyPKCS1v15(authorityKey, crypto.SHA1, digest, c.Signature); err != nil {
		return fmt.Errorf("%w: FRMA no corresponde al DA", domain.ErrValidation)
	}
	return nil
}

func (c *CAF) daDigest() ([]byte, error) {
	canon, err := canonicalFlat(c.da)
	if err != nil {
		return nil, fmt.Errorf("%w: canonicalizar DA: %v", domain.ErrValidation, err)
	}
	h := sha1.Sum(canon)
	return h[:], nil
}

// SignWithAuthorityKey firma el DA; lo usan las herramientas de certificación y los tests.
func (c *CAF) SignWithAuthorityKey(key *rsa.PrivateKey) ([]byte, error) {
	digest, err := c.daDigest()
	if err != nil {
		return nil, err
	}
	return rsa.SignPKCS1v15(nil, key, crypto.SHA1, digest)
}

// CAFElement copia del nodo <CAF> para incluirla en el TED.
func (c *CAF) CAFElement() *etree.Element {
	return c.caf.Copy()
}

// PrivateKey llave RSASK para firmar el TED (nil, nil si el grant no la trae).
func (c *CAF) PrivateKey() (*rsa.PrivateKey, error) {
	if c.PrivateKeyPEM == "" {
		return nil, nil
	}
	block, _ := pem.Decode([]byte(c.PrivateKeyPEM))
	if block == nil {
		return nil, fmt.Errorf("%w: RSASK no es PEM", domain.ErrValidation)
	}
	if k, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return k, nil
	}
	k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: RSASK ilegible: %v", domain.ErrValidation, err)
	}
	rk, ok := k.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: RSASK no es RSA", domain.ErrValidation)
	}
	return rk, nil
}

// ValidateIssuer comprueba el dígito verificador del RE.
func (c *CAF) ValidateIssuer() error {
	if err := siicat.ValidateRUT(c.IssuerRUT); err != nil {
		return fmt.Errorf("%w: RUT emisor del CAF: %v", domain.ErrValidation, err)
	}
	return nil
}

// ParseAuthorityKey lee la llave pública del SII desde un certificado o llave PEM.
func ParseAuthorityKey(pemBytes []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("sii: llave del SII no es PEM")
	}
	switch block.Type {
	case "CERTIFICATE":
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("sii: certificado del SII: %w", err)
		}
		if pk, ok := cert.PublicKey.(*rsa.PublicKey); ok {
			return pk, nil
		}
	case "RSA PUBLIC KEY":
		return x509.ParsePKCS1PublicKey(block.Bytes)
	case "PUBLIC KEY":
		k, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("sii: llave del SII: %w", err)
		}
		if pk, ok := k.(*rsa.PublicKey); ok {
			return pk, nil
		}
	}
	return nil, fmt.Errorf("sii: llave del SII no es RSA (%s)", block.Type)
}

func rsaPublicKey(mB64, eB64 string) (*rsa.PublicKey, error) {
	m, err := base64.StdEncoding.DecodeString(compactBase64(mB64))
	if err != nil {
		return nil, fmt.Errorf("módulo: %w", err)
	}
	e, err := base64.StdEncoding.DecodeString(compactBase64(eB64))
	if err != nil {
		return nil, fmt.Errorf("exponente: %w", err)
	}
	exp := new(big.Int).SetBytes(e)
	if !exp.IsInt64() || exp.Int64() < 3 {
		return nil, errors.New("exponente inválido")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(m), E: int(exp.Int64())}, nil
}

func compactBase64(s string) string {
	return strings.Join(strings.Fields(s), "")
}

// canonicalFlat C14N del elemento sin los nodos de texto que son solo espacios (forma
// "aplanada" usada por el SII para FRMA y FRMT).
func canonicalFlat(el *etree.Element) ([]byte, error) {
	cp := el.Copy()
	stripWhitespace(cp)
	d := etree.NewDocument()
	d.SetRoot(cp)
	raw, err := d.WriteToBytes()
	if err != nil {
		return nil, err
	}
	dec := xml.NewDecoder(bytes.NewReader(raw))
	dec.Entity = map[string]string{}
	return c14n.Canonicalize(dec)
}

func stripWhitespace(el *etree.Element) {
	for _, tok := range append([]etree.Token(nil), el.Child...) {
		switch t := tok.(type) {
		case *etree.CharData:
			if strings.TrimSpace(t.Data) == "" {
				el.RemoveChild(t)
			}
		case *etree.Element:
			stripWhitespace(t)
		}
	}
}
