package sii

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/beevik/etree"
	"golang.org/x/sync/singleflight"

	"github.com/jhoicas/dte-api/internal/domain"
	"github.com/jhoicas/dte-api/pkg/logger"
)

const (
	pathSeed  = "/DTEWS/CrSeed.jws"
	pathToken = "/DTEWS/GetTokenFromSeed.jws"

	OpSeed  = "seed"
	OpToken = "token"

	// DefaultTokenTTL el SII expira el TOKEN tras una hora sin uso; se renueva antes.
	DefaultTokenTTL = 50 * time.Minute

	seedStateOK = "00"
)

// SeedSigner firma el XML <getToken> con el certificado de quien envía (firma enveloped, URI "").
type SeedSigner func(ctx context.Context, xml []byte) ([]byte, error)

// SeedToken obtiene el TOKEN firmando una semilla del SII (CrSeed → GetTokenFromSeed) y lo
// reutiliza hasta que vence el TTL. Las renovaciones concurrentes se agrupan en una sola.
type SeedToken struct {
	gw    *Gateway
	sign  SeedSigner
	ttl   time.Duration
	log   *logger.Logger
	group singleflight.Group

	mu      sync.Mutex
	token   string
	expires time.Time
}

var _ TokenSource = (*SeedToken)(nil)

// UseSeedToken reemplaza la fuente de TOKEN del gateway por una que firma semillas con sign.
// Llamar antes de usar el gateway.
func (g *Gateway) UseSeedToken(sign SeedSigner, ttl time.Duration) *SeedToken {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	st := &SeedToken{gw: g, sign: sign, ttl: ttl, log: g.log}
	g.tokens = st
	return st
}

// Token devuelve el TOKEN vigente o pide uno nuevo.
func (s *SeedToken) Token(ctx context.Context) (string, error) {
	if tok, ok := s.cached(); ok {
		return tok, nil
	}
	v, err, _ := s.group.Do("token", func() (any, error) {
		if tok, ok := s.cached(); ok {
			return tok, nil
		}
		tok, err := s.fetch(ctx)
		if err != nil {
			return "", err
		}
		s.mu.Lock()
		s.token, s.expires = tok, s.gw.now().Add(s.ttl)
		s.mu.Unlock()
		s.log.Info().Dur("ttl", s.ttl).Msg("TOKEN del SII renovado")
		return tok, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate descarta el TOKEN; el siguiente Token pide uno nuevo.
func (s *SeedToken) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token, s.expires = "", time.Time{}
}

func (s *SeedToken) cached() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == "" || !s.gw.now().Before(s.expires) {
		return "", false
	}
	return s.token, true
}

func (s *SeedToken) fetch(ctx context.Context) (string, error) {
	payload, err := marshalEnvelope(&getSeedBody{Xmlns: soapNSDefault})
	if err != nil {
		return "", err
	}
	raw, _, err := s.gw.call(ctx, OpSeed, pathSeed, "getSeed", "", payload)
	if err != nil {
		return "", fmt.Errorf("sii: pedir semilla: %w", err)
	}
	reply, err := seedReply(raw)
	if err != nil {
		return "", err
	}
	if reply.Seed == "" {
		return "", &domain.AuthorityError{HTTPStatus: http.StatusOK, Message: "respuesta sin SEMILLA"}
	}

	unsigned, err := seedRequest(reply.Seed)
	if err != nil {
		return "", err
	}
	signed, err := s.sign(ctx, unsigned)
	if err != nil {
		return "", fmt.Errorf("sii: firmar semilla: %w", err)
	}
	payload, err = marshalEnvelope(&getTokenBody{Xmlns: soapNSDefault, PszXML: string(signed)})
	if err != nil {
		return "", err
	}
	raw, _, err = s.gw.call(ctx, OpToken, pathToken, "getToken", "", payload)
	if err != nil {
		return "", fmt.Errorf("sii: canjear semilla: %w", err)
	}
	reply, err = seedReply(raw)
	if err != nil {
		return "", err
	}
	if reply.Token == "" {
		return "", &domain.AuthorityError{HTTPStatus: http.StatusOK, Message: "respuesta sin TOKEN"}
	}
	return reply.Token, nil
}

// seedReply interpreta la respuesta de CrSeed/GetTokenFromSeed; ESTADO distinto de 00 es rechazo.
func seedReply(raw []byte) (*soapReply, error) {
	reply, err := parseReply(raw)
	if err != nil {
		return nil, &domain.AuthorityError{HTTPStatus: http.StatusOK, Message: err.Error()}
	}
	if reply.FaultString != "" {
		return nil, &domain.AuthorityError{HTTPStatus: http.StatusOK, Code: reply.FaultCode, Message: reply.FaultString}
	}
	if reply.State != seedStateOK {
		return nil, &domain.AuthorityError{HTTPStatus: http.StatusOK, Code: "ESTADO " + reply.State, Message: reply.Gloss}
	}
	return reply, nil
}

// seedRequest arma <getToken><item><Semilla>…</Semilla></item></getToken>.
func seedRequest(seed string) ([]byte, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	doc.CreateElement("getToken").CreateElement("item").CreateElement("Semilla").SetText(seed)
	out, err := doc.WriteToBytes()
	if err != nil {
		return nil, errors.Join(domain.ErrValidation, err)
	}
	return out, nil
}
