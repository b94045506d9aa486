package siitest

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/jhoicas/dte-api/internal/infrastructure/sii"
)

// CAFOptions datos del grant simulado.
type CAFOptions struct {
	IssuerRUT    string
	IssuerName   string
	DocType      int
	From, To     int64
	AuthorizedAt time.Time
	ExpiresOn    time.Time // FV; cero = sin FV (vigencia por FA + 6 meses)
	// AuthorityKey firma el DA (FRMA). Nil = grant sin firma, como en certificación.
	AuthorityKey *rsa.PrivateKey
	// WithoutFolioKey omite RSASK (el TED queda sin FRMT).
	WithoutFolioKey bool
}

// NewCAF genera el XML de un CAF con llave de folios propia (1024 bits).
func NewCAF(opts CAFOptions) ([]byte, error) {
	if opts.IssuerName == "" {
		opts.IssuerName = "EMPRESA DE PRUEBA SPA"
	}
	if opts.AuthorizedAt.IsZero() {
		opts.AuthorizedAt = time.Now()
	}
	folioKey, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		return nil, err
	}

	var da strings.Builder
	da.WriteString("<DA>")
	fmt.Fprintf(&da, "<RE>%s</RE><RS>%s</RS><TD>%d</TD>", opts.IssuerRUT, opts.IssuerName, opts.DocType)
	fmt.Fprintf(&da, "<RNG><D>%d</D><H>%d</H></RNG>", opts.From, opts.To)
	fmt.Fprintf(&da, "<FA>%s</FA>", opts.AuthorizedAt.Format("2006-01-02"))
	if !opts.ExpiresOn.IsZero() {
		fmt.Fprintf(&da, "<FV>%s</FV>", opts.ExpiresOn.Format("2006-01-02"))
	}
	fmt.Fprintf(&da, "<RSAPK><M>%s</M><E>%s</E></RSAPK>",
		base64.StdEncoding.EncodeToString(folioKey.N.Bytes()),
		base64.StdEncoding.EncodeToString(big.NewInt(int64(folioKey.E)).Bytes()))
	da.WriteString("<IDK>100</IDK></DA>")

	build := func(frma string) []byte {
		var b strings.Builder
		b.WriteString(`<?xml version="1.0"?>` + "\n<AUTORIZACION>\n<CAF version=\"1.0\">\n")
		b.WriteString(da.String())
		if frma != "" {
			b.WriteString(`<FRMA algoritmo="SHA1withRSA">` + frma + "</FRMA>")
		}
		b.WriteString("\n</CAF>\n")
		if !opts.WithoutFolioKey {
			keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(folioKey)})
			b.WriteString("<RSASK>" + string(keyPEM) + "</RSASK>\n")
		}
		b.WriteString("</AUTORIZACION>\n")
		return []byte(b.String())
	}

	raw := build("")
	if opts.AuthorityKey == nil {
		return raw, nil
	}
	parsed, err := sii.ParseCAF(raw)
	if err != nil {
		return nil, err
	}
	sig, err := parsed.SignWithAuthorityKey(opts.AuthorityKey)
	if err != nil {
		return nil, err
	}
	return build(base64.StdEncoding.EncodeToString(sig)), nil
}
