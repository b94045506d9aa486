package sii_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/dte-api/internal/domain"
	"github.com/jhoicas/dte-api/internal/infrastructure/sii"
	"github.com/jhoicas/dte-api/internal/infrastructure/sii/signer"
	"github.com/jhoicas/dte-api/internal/infrastructure/sii/signer/signertest"
	"github.com/jhoicas/dte-api/internal/infrastructure/sii/siitest"
	"github.com/jhoicas/dte-api/pkg/logger"
)

func seedSigner(t *testing.T) sii.SeedSigner {
	t.Helper()
	cred, err := signertest.NewCredential(signertest.Options{})
	require.NoError(t, err)
	svc := signer.NewService(logger.Nop(), nil)
	return svc.SeedSigner(signer.StaticCredentialStore{"envio": cred}, "envio")
}

func TestSeedToken_FirmaSemillaYEnviaToken(t *testing.T) {
	srv := siitest.NewServer()
	defer srv.Close()
	srv.On(siitest.OpSeed, siitest.Seed("033350716"))
	srv.On(siitest.OpToken, siitest.Token("TKN-SEMILLA"))
	srv.On(siitest.OpUpload, siitest.UploadOK("TRK-1"))
	gw := newGateway(t, srv, 0, time.Second, &sleepRecorder{})
	gw.UseSeedToken(seedSigner(t), time.Hour)

	res, err := gw.Submit(context.Background(), []byte(signedXML), sender)
	require.NoError(t, err)
	assert.Equal(t, "TRK-1", res.TrackingID)

	var tokenReq, uploadReq siitest.Request
	for _, r := range srv.Requests() {
		switch {
		case strings.HasSuffix(r.Path, siitest.OpToken):
			tokenReq = r
		case strings.HasSuffix(r.Path, siitest.OpUpload):
			uploadReq = r
		}
	}
	assert.Contains(t, tokenReq.Body, "033350716")
	assert.Contains(t, tokenReq.Body, "SignatureValue")
	assert.Empty(t, tokenReq.Cookie)
	assert.Equal(t, "TOKEN=TKN-SEMILLA", uploadReq.Cookie)

	verify, err := signer.Verify([]byte(signedPayload(t, tokenReq.Body)))
	require.NoError(t, err)
	assert.True(t, verify.Valid, verify.Reason)
}

func TestSeedToken_ReutilizaHastaVencer(t *testing.T) {
	srv := siitest.NewServer()
	defer srv.Close()
	srv.On(siitest.OpSeed, siitest.Seed("1"))
	srv.On(siitest.OpToken, siitest.Token("TKN-A"), siitest.Token("TKN-B"))
	gw := newGateway(t, srv, 0, time.Second, &sleepRecorder{})
	src := gw.UseSeedToken(seedSigner(t), time.Hour)

	for i := 0; i < 3; i++ {
		tok, err := src.Token(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "TKN-A", tok)
	}
	assert.Equal(t, 1, srv.Count(siitest.OpSeed))

	src.Invalidate()
	tok, err := src.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "TKN-B", tok)
	assert.Equal(t, 2, srv.Count(siitest.OpToken))
}

func TestSeedToken_ConcurrentesRenuevanUnaVez(t *testing.T) {
	srv := siitest.NewServer()
	defer srv.Close()
	srv.On(siitest.OpSeed, siitest.Slow(50*time.Millisecond, siitest.Seed("7")))
	srv.On(siitest.OpToken, siitest.Token("TKN-UNO"))
	gw := newGateway(t, srv, 0, time.Second, &sleepRecorder{})
	src := gw.UseSeedToken(seedSigner(t), time.Hour)

	var wg sync.WaitGroup
	var ok atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tok, err := src.Token(context.Background()); err == nil && tok == "TKN-UNO" {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(8), ok.Load())
	assert.Equal(t, 1, srv.Count(siitest.OpSeed))
}

func TestSeedToken_EstadoDeErrorEsRechazo(t *testing.T) {
	srv := siitest.NewServer()
	defer srv.Close()
	srv.On(siitest.OpSeed, siitest.Seed("9"))
	srv.On(siitest.OpToken, siitest.TokenRejected("10"))
	gw := newGateway(t, srv, 0, time.Second, &sleepRecorder{})
	src := gw.UseSeedToken(seedSigner(t), time.Hour)

	_, err := src.Token(context.Background())
	var aerr *domain.AuthorityError
	require.True(t, errors.As(err, &aerr))
	assert.Equal(t, "ESTADO 10", aerr.Code)
}

func TestSeedToken_Upload5InvalidaToken(t *testing.T) {
	srv := siitest.NewServer()
	defer srv.Close()
	srv.On(siitest.OpSeed, siitest.Seed("3"))
	srv.On(siitest.OpToken, siitest.Token("TKN-VIEJO"), siitest.Token("TKN-NUEVO"))
	srv.On(siitest.OpUpload, siitest.UploadStatus("5"), siitest.UploadOK("TRK-2"))
	gw := newGateway(t, srv, 0, time.Second, &sleepRecorder{})
	gw.UseSeedToken(seedSigner(t), time.Hour)

	_, err := gw.Submit(context.Background(), []byte(signedXML), sender)
	require.ErrorIs(t, err, domain.ErrAuthorityBusiness)

	res, err := gw.Submit(context.Background(), []byte(signedXML), sender)
	require.NoError(t, err)
	assert.Equal(t, "TRK-2", res.TrackingID)
	assert.Equal(t, 2, srv.Count(siitest.OpToken))

	reqs := srv.Requests()
	assert.Equal(t, "TOKEN=TKN-NUEVO", reqs[len(reqs)-1].Cookie)
}

// signedPayload extrae el XML firmado del parámetro pszXml del envelope.
func signedPayload(t *testing.T, envelope string) string {
	t.Helper()
	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromString(envelope))
	el := doc.FindElement("//pszXml")
	require.NotNil(t, el)
	return el.Text()
}
