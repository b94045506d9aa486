package entity

import (
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"math"
	"time"

	"github.com/jhoicas/dte-api/internal/domain"
)

// SigningCredential certificado digital y llave privada del firmante.
// Vive solo en memoria; nunca se persiste.
type SigningCredential struct {
	Certificate  *x509.Certificate
	PrivateKey   *rsa.PrivateKey
	ValidFrom    time.Time
	ValidTo      time.Time
	KeySizeBits  int
	Issuer       string
	Subject      string
	SerialNumber string
}

// NewSigningCredential exige certificado y llave RSA presentes.
// La correspondencia de llaves se comprueba aparte con una firma de prueba.
func NewSigningCredential(cert *x509.Certificate, key *rsa.PrivateKey) (*SigningCredential, error) {
	if cert == nil {
		return nil, fmt.Errorf("%w: certificado ausente", domain.ErrInvalidCredential)
	}
	if key == nil {
		return nil, fmt.Errorf("%w: llave privada ausente", domain.ErrInvalidCredential)
	}
	return &SigningCredential{
		Certificate:  cert,
		PrivateKey:   key,
		ValidFrom:    cert.NotBefore,
		ValidTo:      cert.NotAfter,
		KeySizeBits:  key.N.BitLen(),
		Issuer:       cert.Issuer.String(),
		Subject:      cert.Subject.String(),
		SerialNumber: cert.SerialNumber.String(),
	}, nil
}

// DaysToExpiry días completos hasta ValidTo (negativo si ya venció).
func (c *SigningCredential) DaysToExpiry(now time.Time) int {
	return int(math.Floor(c.ValidTo.Sub(now).Hours() / 24))
}
