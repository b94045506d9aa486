// Carga de la credencial de firma desde un contenedor PKCS#12 (.pfx/.p12).

package signer

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/pkcs12"

	"github.com/jhoicas/dte-api/internal/domain"
	"github.com/jhoicas/dte-api/internal/domain/entity"
)

// LoadCredential extrae certificado y llave del contenedor. Falla con ErrInvalidCredential si
// falta alguno o la contraseña es incorrecta, y con ErrKeyMismatch si la llave no corresponde.
func LoadCredential(pfx []byte, password string) (*entity.SigningCredential, error) {
	if len(pfx) == 0 {
		return nil, fmt.Errorf("%w: contenedor vacío", domain.ErrInvalidCredential)
	}
	key, cert, err := decodePFX(pfx, password)
	if err != nil {
		return nil, err
	}
	cred, err := entity.NewSigningCredential(cert, key)
	if err != nil {
		return nil, err
	}
	if err := roundTrip(cred); err != nil {
		return nil, err
	}
	return cred, nil
}

// LoadCredentialFile lee el .pfx desde disco.
func LoadCredentialFile(path, password string) (*entity.SigningCredential, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: leer %s: %v", domain.ErrInvalidCredential, path, err)
	}
	return LoadCredential(data, password)
}

func decodePFX(pfx []byte, password string) (*rsa.PrivateKey, *x509.Certificate, error) {
	priv, cert, err := pkcs12.Decode(pfx, password)
	if err == nil {
		key, ok := priv.(*rsa.PrivateKey)
		if !ok {
			return nil, nil, fmt.Errorf("%w: la llave privada no es RSA", domain.ErrInvalidCredential)
		}
		return key, cert, nil
	}
	if errors.Is(err, pkcs12.ErrIncorrectPassword) {
		return nil, nil, fmt.Errorf("%w: contraseña incorrecta", domain.ErrInvalidCredential)
	}
	// pkcs12.Decode solo acepta un certificado; los .pfx emitidos por las AC chilenas traen la cadena.
	blocks, perr := pkcs12.ToPEM(pfx, password)
	if perr != nil {
		if errors.Is(perr, pkcs12.ErrIncorrectPassword) {
			return nil, nil, fmt.Errorf("%w: contraseña incorrecta", domain.ErrInvalidCredential)
		}
		return nil, nil, fmt.Errorf("%w: decodificar pkcs12: %v", domain.ErrInvalidCredential, err)
	}
	return fromPEMBlocks(blocks)
}

func fromPEMBlocks(blocks []*pem.Block) (*rsa.PrivateKey, *x509.Certificate, error) {
	var key *rsa.PrivateKey
	var certs []*x509.Certificate
	for _, b := range blocks {
		switch b.Type {
		case "PRIVATE KEY":
			k, err := parseRSAKey(b.Bytes)
			if err != nil {
				return nil, nil, err
			}
			key = k
		case "CERTIFICATE":
			c, err := x509.ParseCertificate(b.Bytes)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: certificado: %v", domain.ErrInvalidCredential, err)
			}
			certs = append(certs, c)
		}
	}
	if key == nil {
		return nil, nil, fmt.Errorf("%w: el contenedor no trae llave privada", domain.ErrInvalidCredential)
	}
	if len(certs) == 0 {
		return nil, nil, fmt.Errorf("%w: el contenedor no trae certificado", domain.ErrInvalidCredential)
	}
	// Hoja = certificado cuya llave pública coincide con la privada.
	for _, c := range certs {
		if pub, ok := c.PublicKey.(*rsa.PublicKey); ok && pub.N.Cmp(key.N) == 0 && pub.E == key.E {
			return key, c, nil
		}
	}
	return key, certs[0], nil
}

func parseRSAKey(der []byte) (*rsa.PrivateKey, error) {
	if k, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return k, nil
	}
	k, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: llave privada ilegible: %v", domain.ErrInvalidCredential, err)
	}
	rk, ok := k.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: la llave privada no es RSA", domain.ErrInvalidCredential)
	}
	return rk, nil
}

var roundTripSample = []byte("dte-api:credential-check")

// roundTrip firma con la llave privada y verifica con la pública del certificado.
func roundTrip(c *entity.SigningCredential) error {
	pub, ok := c.Certificate.PublicKey.(*rsa.PublicKey)
	if !ok {
		return fmt.Errorf("%w: el certificado no tiene llave RSA", domain.ErrKeyMismatch)
	}
	h := sha256.Sum256(roundTripSample)
	sig, err := rsa.SignPKCS1v15(rand.Reader, c.PrivateKey, crypto.SHA256, h[:])
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrKeyMismatch, err)
	}
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, h[:], sig); err != nil {
		return domain.ErrKeyMismatch
	}
	return nil
}
