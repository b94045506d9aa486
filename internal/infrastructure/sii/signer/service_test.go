package signer_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/dte-api/internal/domain"
	"github.com/jhoicas/dte-api/internal/domain/entity"
	"github.com/jhoicas/dte-api/internal/infrastructure/sii/signer"
	"github.com/jhoicas/dte-api/internal/infrastructure/sii/signer/signertest"
	"github.com/jhoicas/dte-api/pkg/logger"
)

const unsignedDTE = `<?xml version="1.0" encoding="UTF-8"?>
<DTE version="1.0" xmlns="http://www.sii.cl/SiiDte"><Documento ID="F1T33"><Encabezado><IdDoc><TipoDTE>33</TipoDTE><Folio>1</Folio></IdDoc><Emisor><RznSoc>Panadería Ñuñoa</RznSoc></Emisor><Totales><MntTotal>11900</MntTotal></Totales></Encabezado></Documento></DTE>`

func newCredential(t *testing.T, opts signertest.Options) *entity.SigningCredential {
	t.Helper()
	c, err := signertest.NewCredential(opts)
	require.NoError(t, err)
	return c
}

func TestSign_FirmaYVerifica(t *testing.T) {
	svc := signer.NewService(logger.Nop(), nil)
	cred := newCredential(t, signertest.Options{})

	res, err := svc.Sign(context.Background(), []byte(unsignedDTE), cred)
	require.NoError(t, err)
	assert.False(t, res.OverBudget)

	xml := string(res.SignedXML)
	assert.Contains(t, xml, `<Signature xmlns="http://www.w3.org/2000/09/xmldsig#">`)
	assert.Contains(t, xml, `<Reference URI="#F1T33">`)
	assert.Contains(t, xml, "<X509Certificate>")
	assert.Contains(t, xml, "<RSAKeyValue>")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(xml), "</Signature></DTE>"), "Signature debe ser el último hijo de la raíz")

	v, err := svc.Verify(res.SignedXML)
	require.NoError(t, err)
	assert.True(t, v.Valid, v.Reason)
	assert.Equal(t, cred.Subject, v.Certificate.Subject)
	assert.Equal(t, 2048, v.Certificate.KeySizeBits)
}

func TestVerify_DocumentoAlteradoEsInvalido(t *testing.T) {
	svc := signer.NewService(logger.Nop(), nil)
	res, err := svc.Sign(context.Background(), []byte(unsignedDTE), newCredential(t, signertest.Options{}))
	require.NoError(t, err)

	cases := map[string]string{
		"monto":        strings.Replace(string(res.SignedXML), "<MntTotal>11900<", "<MntTotal>11901<", 1),
		"folio":        strings.Replace(string(res.SignedXML), "<Folio>1<", "<Folio>2<", 1),
		"malformado":   strings.Replace(string(res.SignedXML), "</DTE>", "</DTX>", 1),
		"sin firma":    unsignedDTE,
		"digest":       strings.Replace(string(res.SignedXML), "<DigestValue>", "<DigestValue>A", 1),
		"version":      strings.Replace(string(res.SignedXML), `<DTE version="1.0"`, `<DTE version="1.1"`, 1),
		"atributo":     strings.Replace(string(res.SignedXML), `<DTE version="1.0"`, `<DTE version="1.0" Modo="prueba"`, 1),
		"texto":        strings.Replace(string(res.SignedXML), "</Documento>", "</Documento>anexo", 1),
		"elemento":     strings.Replace(string(res.SignedXML), "</Documento>", "</Documento><Extra/>", 1),
		"ID duplicado": strings.Replace(string(res.SignedXML), "<Signature", `<Documento ID="F1T33"><Folio>9</Folio></Documento><Signature`, 1),
	}
	for name, mutated := range cases {
		t.Run(name, func(t *testing.T) {
			v, err := svc.Verify([]byte(mutated))
			require.NoError(t, err)
			assert.False(t, v.Valid)
			assert.NotEmpty(t, v.Reason)
		})
	}
}

func TestVerify_SignatureValueAlterado(t *testing.T) {
	svc := signer.NewService(logger.Nop(), nil)
	res, err := svc.Sign(context.Background(), []byte(unsignedDTE), newCredential(t, signertest.Options{}))
	require.NoError(t, err)

	xml := string(res.SignedXML)
	i := strings.Index(xml, "<SignatureValue>") + len("<SignatureValue>")
	b := []byte(xml)
	if b[i] == 'A' {
		b[i] = 'B'
	} else {
		b[i] = 'A'
	}
	v, err := svc.Verify(b)
	require.NoError(t, err)
	assert.False(t, v.Valid)
}

func TestSign_SinIDFirmaDocumentoCompleto(t *testing.T) {
	svc := signer.NewService(logger.Nop(), nil)
	res, err := svc.Sign(context.Background(), []byte(`<EnvioDTE><Dato>x</Dato></EnvioDTE>`), newCredential(t, signertest.Options{}))
	require.NoError(t, err)
	assert.Contains(t, string(res.SignedXML), `<Reference URI="">`)

	v, err := svc.Verify(res.SignedXML)
	require.NoError(t, err)
	assert.True(t, v.Valid, v.Reason)
}

func TestSign_Errores(t *testing.T) {
	svc := signer.NewService(logger.Nop(), nil)
	cred := newCredential(t, signertest.Options{})

	_, err := svc.Sign(context.Background(), []byte("  "), cred)
	assert.ErrorIs(t, err, domain.ErrSignature)

	_, err = svc.Sign(context.Background(), []byte("<a><b></a>"), cred)
	assert.ErrorIs(t, err, domain.ErrSignature)

	_, err = svc.Sign(context.Background(), []byte(unsignedDTE), nil)
	assert.ErrorIs(t, err, domain.ErrInvalidCredential)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = svc.Sign(ctx, []byte(unsignedDTE), cred)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestValidateCredential_LlaveDebil(t *testing.T) {
	svc := signer.NewService(logger.Nop(), nil)

	weak := newCredential(t, signertest.Options{Bits: 1024})
	v := svc.ValidateCredential(weak)
	assert.False(t, v.Valid)
	assert.ErrorIs(t, v.Err(), domain.ErrWeakKey)

	// también con el certificado vencido
	expiredWeak := newCredential(t, signertest.Options{Bits: 1024, NotBefore: time.Now().AddDate(-2, 0, 0), NotAfter: time.Now().AddDate(-1, 0, 0)})
	v = svc.ValidateCredential(expiredWeak)
	assert.ErrorIs(t, v.Err(), domain.ErrWeakKey)
	assert.ErrorIs(t, v.Err(), domain.ErrCredentialExpired)
}

func TestValidateCredential_Vigencia(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := signer.NewService(logger.Nop(), nil).WithClock(func() time.Time { return now })
	cred := newCredential(t, signertest.Options{NotBefore: now.AddDate(0, -6, 0), NotAfter: now.AddDate(1, 0, 0)})

	v := svc.ValidateCredential(cred)
	assert.True(t, v.Valid)
	assert.NoError(t, v.Err())
	assert.Empty(t, v.Warnings)

	expiring := newCredential(t, signertest.Options{NotBefore: now.AddDate(-1, 0, 0), NotAfter: now.AddDate(0, 0, 10).Add(time.Hour)})
	v = svc.ValidateCredential(expiring)
	assert.True(t, v.Valid)
	assert.Equal(t, 10, v.DaysToExpiry)
	assert.Len(t, v.Warnings, 1)

	future := newCredential(t, signertest.Options{NotBefore: now.AddDate(0, 1, 0), NotAfter: now.AddDate(2, 0, 0)})
	v = svc.ValidateCredential(future)
	assert.False(t, v.Valid)
	assert.ErrorIs(t, v.Err(), domain.ErrCredentialNotYetValid)
}

func TestValidateCredential_LlaveNoCorresponde(t *testing.T) {
	svc := signer.NewService(logger.Nop(), nil)
	a := newCredential(t, signertest.Options{})
	b := newCredential(t, signertest.Options{})

	mismatched, err := entity.NewSigningCredential(a.Certificate, b.PrivateKey)
	require.NoError(t, err)
	v := svc.ValidateCredential(mismatched)
	assert.False(t, v.Valid)
	assert.ErrorIs(t, v.Err(), domain.ErrKeyMismatch)
}

type recordingObserver struct {
	calls int
	ok    bool
}

func (r *recordingObserver) ObserveSigning(_ time.Duration, ok bool) {
	r.calls++
	r.ok = ok
}

func TestSign_RegistraLatencia(t *testing.T) {
	obs := &recordingObserver{}
	svc := signer.NewService(logger.Nop(), obs)
	_, err := svc.Sign(context.Background(), []byte(unsignedDTE), newCredential(t, signertest.Options{}))
	require.NoError(t, err)
	assert.Equal(t, 1, obs.calls)
	assert.True(t, obs.ok)
}
