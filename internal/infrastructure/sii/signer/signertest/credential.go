// Package signertest genera credenciales de firma autofirmadas para pruebas.
package signertest

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"time"

	gopkcs12 "software.sslmate.com/src/go-pkcs12"

	"github.com/jhoicas/dte-api/internal/domain/entity"
)

// Options parámetros del certificado. Ceros: 2048 bits, vigente un año desde ayer.
type Options struct {
	Bits       int
	NotBefore  time.Time
	NotAfter   time.Time
	CommonName string
}

func (o Options) withDefaults() Options {
	if o.Bits == 0 {
		o.Bits = 2048
	}
	if o.NotBefore.IsZero() {
		o.NotBefore = time.Now().Add(-24 * time.Hour)
	}
	if o.NotAfter.IsZero() {
		o.NotAfter = o.NotBefore.AddDate(1, 0, 0)
	}
	if o.CommonName == "" {
		o.CommonName = "Firmante de Prueba 11111111-1"
	}
	return o
}

// NewKeyPair genera llave RSA y certificado autofirmado.
func NewKeyPair(opts Options) (*rsa.PrivateKey, *x509.Certificate, error) {
	opts = opts.withDefaults()
	key, err := rsa.GenerateKey(rand.Reader, opts.Bits)
	if err != nil {
		return nil, nil, err
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: opts.CommonName, Country: []string{"CL"}},
		Issuer:       pkix.Name{CommonName: "AC de Prueba"},
		NotBefore:    opts.NotBefore,
		NotAfter:     opts.NotAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageContentCommitment,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, nil, err
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, nil, err
	}
	return key, cert, nil
}

// NewCredential credencial lista para firmar.
func NewCredential(opts Options) (*entity.SigningCredential, error) {
	key, cert, err := NewKeyPair(opts)
	if err != nil {
		return nil, err
	}
	return entity.NewSigningCredential(cert, key)
}

// NewPFX empaqueta el par en un PKCS#12 legible por golang.org/x/crypto/pkcs12.
func NewPFX(opts Options, password string) ([]byte, error) {
	key, cert, err := NewKeyPair(opts)
	if err != nil {
		return nil, err
	}
	return gopkcs12.LegacyRC2.Encode(key, cert, nil, password)
}

// NewPFXWithChain incluye un certificado de AC adicional (contenedor con cadena).
func NewPFXWithChain(opts Options, password string) ([]byte, error) {
	key, cert, err := NewKeyPair(opts)
	if err != nil {
		return nil, err
	}
	_, ca, err := NewKeyPair(Options{Bits: 1024, CommonName: "AC de Prueba"})
	if err != nil {
		return nil, err
	}
	return gopkcs12.LegacyRC2.Encode(key, cert, []*x509.Certificate{ca}, password)
}
