// Firma XMLDSig enveloped (RSA-SHA256, C14N 1.0) del DTE. La Signature se agrega como último
// hijo del elemento raíz y su Reference apunta al elemento con atributo ID (Documento).

package signer

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/beevik/etree"
	"github.com/ucarion/c14n"

	"github.com/jhoicas/dte-api/internal/domain"
	"github.com/jhoicas/dte-api/internal/domain/entity"
	"github.com/jhoicas/dte-api/internal/infrastructure/sii"
	"github.com/jhoicas/dte-api/pkg/logger"
)

// Observer recibe la latencia de cada firma (métricas). Puede ser nil.
type Observer interface {
	ObserveSigning(d time.Duration, ok bool)
}

// CertificateValidation resultado de ValidateCredential.
type CertificateValidation struct {
	Valid        bool     `json:"valid"`
	Problems     []string `json:"problems,omitempty"`
	Warnings     []string `json:"warnings,omitempty"`
	DaysToExpiry int      `json:"days_to_expiry"`
	errs         []error
}

// Err agrupa los problemas como errores del dominio (nil si es válida).
func (v CertificateValidation) Err() error {
	if len(v.errs) == 0 {
		return nil
	}
	return errors.Join(v.errs...)
}

func (v *CertificateValidation) fail(err error) {
	v.errs = append(v.errs, err)
	v.Problems = append(v.Problems, err.Error())
}

// SignResult XML firmado y tiempo empleado.
type SignResult struct {
	SignedXML  []byte
	Duration   time.Duration
	OverBudget bool
}

// Service firma y verifica documentos. No guarda estado mutable entre firmas.
type Service struct {
	log    *logger.Logger
	obs    Observer
	now    func() time.Time
	budget time.Duration
}

// NewService crea el firmante.
func NewService(log *logger.Logger, obs Observer) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{log: log.Component("signer"), obs: obs, now: time.Now, budget: SignBudget}
}

// WithClock reemplaza el reloj usado para la vigencia del certificado.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// LoadCredential ver LoadCredential del paquete.
func (s *Service) LoadCredential(pfx []byte, password string) (*entity.SigningCredential, error) {
	return LoadCredential(pfx, password)
}

// ValidateCredential revisa vigencia, tamaño de llave y correspondencia llave/certificado.
// Quedar a 30 días o menos del vencimiento es advertencia, no falla.
func (s *Service) ValidateCredential(c *entity.SigningCredential) CertificateValidation {
	var v CertificateValidation
	if c == nil || c.Certificate == nil || c.PrivateKey == nil {
		v.fail(fmt.Errorf("%w: credencial incompleta", domain.ErrInvalidCredential))
		return v
	}
	now := s.now()
	v.DaysToExpiry = c.DaysToExpiry(now)
	switch {
	case now.Before(c.ValidFrom):
		v.fail(fmt.Errorf("%w (desde %s)", domain.ErrCredentialNotYetValid, c.ValidFrom.Format(time.DateOnly)))
	case now.After(c.ValidTo):
		v.fail(fmt.Errorf("%w (el %s)", domain.ErrCredentialExpired, c.ValidTo.Format(time.DateOnly)))
	}
	if c.KeySizeBits < MinKeyBits {
		v.fail(fmt.Errorf("%w (%d bits)", domain.ErrWeakKey, c.KeySizeBits))
	}
	if err := roundTrip(c); err != nil {
		v.fail(err)
	}
	v.Valid = len(v.errs) == 0
	if v.Valid && v.DaysToExpiry <= ExpiryWarningDays {
		v.Warnings = append(v.Warnings, fmt.Sprintf("el certificado vence en %d días", v.DaysToExpiry))
		s.log.Warn().Str("subject", c.Subject).Int("days_to_expiry", v.DaysToExpiry).Msg("certificado de firma próximo a vencer")
	}
	return v
}

// Sign firma el XML. Superar el presupuesto de 5 s solo se registra como advertencia.
func (s *Service) Sign(ctx context.Context, xmlDoc []byte, c *entity.SigningCredential) (*SignResult, error) {
	start := time.Now()
	out, err := s.sign(ctx, xmlDoc, c)
	d := time.Since(start)
	if s.obs != nil {
		s.obs.ObserveSigning(d, err == nil)
	}
	if err != nil {
		return nil, err
	}
	res := &SignResult{SignedXML: out, Duration: d, OverBudget: d > s.budget}
	if res.OverBudget {
		s.log.Warn().Dur("duration", d).Dur("budget", s.budget).Msg("firma sobre el presupuesto de tiempo")
	}
	return res, nil
}

// SeedSigner firma las semillas de autenticación del SII con la credencial ref del almacén.
func (s *Service) SeedSigner(store CredentialStore, ref string) sii.SeedSigner {
	return func(ctx context.Context, xmlDoc []byte) ([]byte, error) {
		c, err := store.Credential(ctx, ref)
		if err != nil {
			return nil, err
		}
		res, err := s.Sign(ctx, xmlDoc, c)
		if err != nil {
			return nil, err
		}
		return res.SignedXML, nil
	}
}

func (s *Service) sign(ctx context.Context, xmlDoc []byte, c *entity.SigningCredential) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c == nil || c.Certificate == nil || c.PrivateKey == nil {
		return nil, fmt.Errorf("%w: credencial incompleta", domain.ErrInvalidCredential)
	}
	if len(bytes.TrimSpace(xmlDoc)) == 0 {
		return nil, fmt.Errorf("%w: XML vacío", domain.ErrSignature)
	}
	doc, err := sii.ReadDocument(xmlDoc)
	if err != nil {
		return nil, fmt.Errorf("%w: parsear XML: %v", domain.ErrSignature, err)
	}
	root := doc.Root()
	if findSignature(root) != nil {
		return nil, fmt.Errorf("%w: el documento ya trae una firma", domain.ErrSignature)
	}

	target, uri := referenceTarget(root)
	canonical, err := canonicalInContext(target)
	if err != nil {
		return nil, fmt.Errorf("%w: canonicalizar documento: %v", domain.ErrSignature, err)
	}
	digest := sha256.Sum256(canonical)

	sig := root.CreateElement("Signature")
	sig.CreateAttr("xmlns", NamespaceDS)
	signedInfo := buildSignedInfo(sig, uri, base64.StdEncoding.EncodeToString(digest[:]))

	canonicalSI, err := canonicalInContext(signedInfo)
	if err != nil {
		return nil, fmt.Errorf("%w: canonicalizar SignedInfo: %v", domain.ErrSignature, err)
	}
	h := sha256.Sum256(canonicalSI)
	value, err := rsa.SignPKCS1v15(rand.Reader, c.PrivateKey, crypto.SHA256, h[:])
	if err != nil {
		return nil, fmt.Errorf("%w: firmar SignedInfo: %v", domain.ErrSignature, err)
	}
	sig.CreateElement("SignatureValue").SetText(base64.StdEncoding.EncodeToString(value))

	keyInfo := sig.CreateElement("KeyInfo")
	rsaKV := keyInfo.CreateElement("KeyValue").CreateElement("RSAKeyValue")
	rsaKV.CreateElement("Modulus").SetText(base64.StdEncoding.EncodeToString(c.PrivateKey.N.Bytes()))
	rsaKV.CreateElement("Exponent").SetText(base64.StdEncoding.EncodeToString(big.NewInt(int64(c.PrivateKey.E)).Bytes()))
	keyInfo.CreateElement("X509Data").CreateElement("X509Certificate").
		SetText(base64.StdEncoding.EncodeToString(c.Certificate.Raw))

	// El contenido ya está decodificado: se emite en UTF-8 aunque la entrada viniera en Latin-1.
	for _, tok := range doc.Child {
		if pi, ok := tok.(*etree.ProcInst); ok && pi.Target == "xml" {
			pi.Inst = `version="1.0" encoding="UTF-8"`
		}
	}
	out, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("%w: serializar: %v", domain.ErrSignature, err)
	}
	return out, nil
}

func buildSignedInfo(sig *etree.Element, uri, digestB64 string) *etree.Element {
	si := sig.CreateElement("SignedInfo")
	si.CreateElement("CanonicalizationMethod").CreateAttr("Algorithm", AlgC14N)
	si.CreateElement("SignatureMethod").CreateAttr("Algorithm", AlgRSASHA256)
	ref := si.CreateElement("Reference")
	ref.CreateAttr("URI", uri)
	transforms := ref.CreateElement("Transforms")
	transforms.CreateElement("Transform").CreateAttr("Algorithm", TransformEnveloped)
	transforms.CreateElement("Transform").CreateAttr("Algorithm", AlgC14N)
	ref.CreateElement("DigestMethod").CreateAttr("Algorithm", AlgSHA256)
	ref.CreateElement("DigestValue").SetText(digestB64)
	return si
}

// referenceTarget: la raíz si tiene ID, si no el primer hijo con ID; sin ID se firma el documento completo (URI "").
func referenceTarget(root *etree.Element) (*etree.Element, string) {
	if id := root.SelectAttrValue("ID", ""); id != "" {
		return root, "#" + id
	}
	for _, ch := range root.ChildElements() {
		if id := ch.SelectAttrValue("ID", ""); id != "" {
			return ch, "#" + id
		}
	}
	return root, ""
}

func findSignature(el *etree.Element) *etree.Element {
	for _, ch := range el.ChildElements() {
		if ch.Tag == "Signature" {
			return ch
		}
	}
	return nil
}

// canonicalInContext aplica C14N 1.0 al subárbol conservando los namespaces heredados de los
// ancestros; las Signature hijas se excluyen (transformación enveloped).
func canonicalInContext(el *etree.Element) ([]byte, error) {
	cp := el.Copy()
	for p := el.Parent(); p != nil; p = p.Parent() {
		for _, a := range p.Attr {
			if !isNamespaceDecl(a) || hasAttr(cp, a) {
				continue
			}
			cp.CreateAttr(a.FullKey(), a.Value)
		}
	}
	for _, sig := range cp.FindElements("//Signature") {
		if parent := sig.Parent(); parent != nil {
			parent.RemoveChild(sig)
		}
	}
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

func isNamespaceDecl(a etree.Attr) bool {
	return a.Space == "xmlns" || (a.Space == "" && a.Key == "xmlns")
}

func hasAttr(el *etree.Element, a etree.Attr) bool {
	for _, b := range el.Attr {
		if b.Space == a.Space && b.Key == a.Key {
			return true
		}
	}
	return false
}
