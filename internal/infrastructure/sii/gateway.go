package sii

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jhoicas/dte-api/internal/domain"
	"github.com/jhoicas/dte-api/pkg/logger"
	siicat "github.com/jhoicas/dte-api/pkg/sii"
)

// ── Constantes de ambiente ─────────────────────────────────────────────────────

const (
	baseURLCertification = "https://maullin.sii.cl"
	baseURLProduction    = "https://palena.sii.cl"

	pathUpload = "/DTEWS/services/DTEUpload"
	pathStatus = "/DTEWS/QueryEstUp.jws"
	pathAck    = "/DTEWS/services/wsDTEAcuse"

	// SlowCallThreshold llamada (con reintentos) que supera este tiempo se marca como lenta.
	SlowCallThreshold = 10 * time.Second

	maxResponseBytes = 4 << 20
)

// Operaciones, usadas en logs y métricas.
const (
	OpUpload = "upload"
	OpStatus = "query_status"
	OpAck    = "acknowledgment"
)

// BaseURL host del ambiente.
func BaseURL(env string) (string, error) {
	switch env {
	case siicat.EnvCertification:
		return baseURLCertification, nil
	case siicat.EnvProduction:
		return baseURLProduction, nil
	}
	return "", fmt.Errorf("sii: ambiente desconocido %q (usar %s|%s)", env, siicat.EnvCertification, siicat.EnvProduction)
}

// ── Configuración y puertos ───────────────────────────────────────────────────

// GatewayConfig configuración del cliente SII.
type GatewayConfig struct {
	Environment   string
	BaseURL       string        // opcional: reemplaza el host del ambiente
	Timeout       time.Duration // por intento
	MaxRetries    int
	UserAgent     string
	SlowThreshold time.Duration // 0 = SlowCallThreshold
	Retry         *RetryPolicy  // nil = DefaultRetryPolicy(MaxRetries)
}

// SenderIdentity quién envía (titular del certificado) y a nombre de qué empresa.
type SenderIdentity struct {
	SenderRUT  string
	CompanyRUT string
}

// TokenSource entrega el TOKEN de sesión del SII (semilla firmada → token).
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken token fijo de configuración.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	if t == "" {
		return "", errors.New("sii: token de sesión no configurado")
	}
	return string(t), nil
}

// Observer recibe latencias y reintentos (métricas). Puede ser nil.
type Observer interface {
	ObserveGatewayCall(op, outcome string, d time.Duration)
	IncGatewayRetry(op string)
}

// Timing tiempos de una llamada completa (incluye reintentos).
type Timing struct {
	RequestTime  time.Time     `json:"request_time"`
	ResponseTime time.Time     `json:"response_time"`
	Total        time.Duration `json:"total"`
	Slow         bool          `json:"slow"`
	Attempts     int           `json:"attempts"`
}

// SubmitResult resultado del upload. Success=false cuando la respuesta 200 no trae TrackID.
type SubmitResult struct {
	Success    bool
	TrackingID string
	Status     string
	Raw        string
	Timing     Timing
}

// StatusResult resultado de la consulta de estado.
type StatusResult struct {
	TrackingID string
	Code       string
	Message    string
	Status     siicat.AuthorityStatus
	Raw        string
	Timing     Timing
}

// AckResult acuse de recibo del SII.
type AckResult struct {
	TrackingID string
	Raw        string
	Timing     Timing
}

// ── Gateway ───────────────────────────────────────────────────────────────────

// Gateway cliente de los servicios del SII con reintentos y medición de tiempos.
type Gateway struct {
	cfg        GatewayConfig
	baseURL    string
	httpClient *http.Client
	retry      RetryPolicy
	tokens     TokenSource
	obs        Observer
	log        *logger.Logger
	now        func() time.Time
}

// NewGateway valida el ambiente y arma el cliente. httpClient nil usa uno por defecto; el
// timeout por intento se aplica con contexto.
func NewGateway(cfg GatewayConfig, tokens TokenSource, httpClient *http.Client, obs Observer, log *logger.Logger) (*Gateway, error) {
	base, err := BaseURL(cfg.Environment)
	if err != nil {
		return nil, err
	}
	if cfg.BaseURL != "" {
		base = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.SlowThreshold <= 0 {
		cfg.SlowThreshold = SlowCallThreshold
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "dte-api/1.0"
	}
	retry := DefaultRetryPolicy(cfg.MaxRetries)
	if cfg.Retry != nil {
		retry = *cfg.Retry
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if tokens == nil {
		tokens = StaticToken("")
	}
	return &Gateway{
		cfg:        cfg,
		baseURL:    base,
		httpClient: httpClient,
		retry:      retry.withDefaults(),
		tokens:     tokens,
		obs:        obs,
		log:        log.Component("sii_gateway"),
		now:        time.Now,
	}, nil
}

// Environment ambiente configurado.
func (g *Gateway) Environment() string { return g.cfg.Environment }

// Submit sube el DTE firmado. Reintenta fallos de transporte y 5xx/408/429; un 4xx de negocio,
// un SOAP Fault o un STATUS distinto de 0 devuelven *domain.AuthorityError sin reintentar.
// Un 200 sin TrackID devuelve Success=false y domain.ErrUnconfirmedSubmission.
func (g *Gateway) Submit(ctx context.Context, signedXML []byte, id SenderIdentity) (*SubmitResult, error) {
	if len(signedXML) == 0 {
		return nil, fmt.Errorf("%w: XML firmado vacío", domain.ErrValidation)
	}
	latin1, err := ToLatin1(signedXML)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	senderBody, senderDV, err := siicat.SplitRUT(id.SenderRUT)
	if err != nil {
		return nil, fmt.Errorf("%w: RUT de quien envía: %v", domain.ErrValidation, err)
	}
	companyBody, companyDV, err := siicat.SplitRUT(id.CompanyRUT)
	if err != nil {
		return nil, fmt.Errorf("%w: RUT de la empresa: %v", domain.ErrValidation, err)
	}
	token, err := g.tokens.Token(ctx)
	if err != nil {
		return nil, &domain.TransportError{Err: err}
	}
	payload, err := marshalEnvelope(&uploadDTEBody{
		Xmlns:      soapNSDefault,
		RutSender:  senderBody,
		DvSender:   string(senderDV),
		RutCompany: companyBody,
		DvCompany:  string(companyDV),
		Archivo:    base64.StdEncoding.EncodeToString(latin1),
	})
	if err != nil {
		return nil, err
	}

	raw, timing, err := g.call(ctx, OpUpload, pathUpload, "uploadDTE", token, payload)
	if err != nil {
		return nil, err
	}
	reply, err := parseReply(raw)
	if err != nil {
		res := &SubmitResult{Raw: compactXML(raw), Timing: timing}
		return res, fmt.Errorf("%w: %v", domain.ErrUnconfirmedSubmission, err)
	}
	res := &SubmitResult{TrackingID: reply.TrackID, Status: reply.Status, Raw: compactXML(raw), Timing: timing}
	if reply.FaultString != "" {
		return res, &domain.AuthorityError{HTTPStatus: http.StatusOK, Code: reply.FaultCode, Message: reply.FaultString}
	}
	if reply.Status != "" && reply.Status != "0" {
		if inv, ok := g.tokens.(interface{ Invalidate() }); ok && reply.Status == uploadStatusUnauthenticated {
			inv.Invalidate()
		}
		return res, &domain.AuthorityError{HTTPStatus: http.StatusOK, Code: "STATUS " + reply.Status, Message: uploadStatusMessage(reply.Status)}
	}
	if reply.TrackID == "" {
		return res, fmt.Errorf("%w: respuesta sin TrackID", domain.ErrUnconfirmedSubmission)
	}
	res.Success = true
	return res, nil
}

// QueryStatus consulta el estado de un envío. Idempotente.
func (g *Gateway) QueryStatus(ctx context.Context, trackingID string, id SenderIdentity) (*StatusResult, error) {
	token, companyBody, companyDV, err := g.queryArgs(ctx, trackingID, id)
	if err != nil {
		return nil, err
	}
	payload, err := marshalEnvelope(&getEstUpBody{
		Xmlns: soapNSDefault, RutCompania: companyBody, DvCompania: string(companyDV), TrackID: trackingID, Token: token,
	})
	if err != nil {
		return nil, err
	}
	raw, timing, err := g.call(ctx, OpStatus, pathStatus, "getEstUp", token, payload)
	if err != nil {
		return nil, err
	}
	reply, err := parseReply(raw)
	if err != nil {
		return nil, &domain.AuthorityError{HTTPStatus: http.StatusOK, Message: err.Error()}
	}
	if reply.FaultString != "" {
		return nil, &domain.AuthorityError{HTTPStatus: http.StatusOK, Code: reply.FaultCode, Message: reply.FaultString}
	}
	return &StatusResult{
		TrackingID: trackingID,
		Code:       reply.State,
		Message:    reply.Gloss,
		Status:     siicat.ResolveAuthorityStatus(reply.State),
		Raw:        compactXML(raw),
		Timing:     timing,
	}, nil
}

// FetchAcknowledgment obtiene el acuse de recibo de un envío resuelto.
func (g *Gateway) FetchAcknowledgment(ctx context.Context, trackingID string, id SenderIdentity) (*AckResult, error) {
	token, companyBody, companyDV, err := g.queryArgs(ctx, trackingID, id)
	if err != nil {
		return nil, err
	}
	payload, err := marshalEnvelope(&getAcuseReciboBody{
		Xmlns: soapNSDefault, RutCompania: companyBody, DvCompania: string(companyDV), TrackID: trackingID, Token: token,
	})
	if err != nil {
		return nil, err
	}
	raw, timing, err := g.call(ctx, OpAck, pathAck, "getAcuseRecibo", token, payload)
	if err != nil {
		return nil, err
	}
	reply, err := parseReply(raw)
	if err != nil {
		return nil, &domain.AuthorityError{HTTPStatus: http.StatusOK, Message: err.Error()}
	}
	if reply.FaultString != "" {
		return nil, &domain.AuthorityError{HTTPStatus: http.StatusOK, Code: reply.FaultCode, Message: reply.FaultString}
	}
	ack := reply.Payload
	if ack == "" {
		ack = compactXML(raw)
	}
	return &AckResult{TrackingID: trackingID, Raw: ack, Timing: timing}, nil
}

func (g *Gateway) queryArgs(ctx context.Context, trackingID string, id SenderIdentity) (token, body string, dv byte, err error) {
	if strings.TrimSpace(trackingID) == "" {
		return "", "", 0, fmt.Errorf("%w: trackID vacío", domain.ErrValidation)
	}
	body, dv, err = siicat.SplitRUT(id.CompanyRUT)
	if err != nil {
		return "", "", 0, fmt.Errorf("%w: RUT de la empresa: %v", domain.ErrValidation, err)
	}
	token, err = g.tokens.Token(ctx)
	if err != nil {
		return "", "", 0, &domain.TransportError{Attempts: 0, Err: err}
	}
	return token, body, dv, nil
}

// call ejecuta la operación con la política de reintentos. Devuelve el cuerpo de la primera
// respuesta exitosa (2xx/3xx).
func (g *Gateway) call(ctx context.Context, op, path, action, token string, payload []byte) ([]byte, Timing, error) {
	timing := Timing{RequestTime: g.now()}
	finish := func(outcome string) Timing {
		timing.ResponseTime = g.now()
		timing.Total = timing.ResponseTime.Sub(timing.RequestTime)
		timing.Slow = timing.Total > g.cfg.SlowThreshold
		if timing.Slow {
			g.log.Warn().Str("op", op).Dur("total", timing.Total).Int("attempts", timing.Attempts).
				Msg("llamada al SII sobre el umbral de rendimiento")
		}
		if g.obs != nil {
			g.obs.ObserveGatewayCall(op, outcome, timing.Total)
		}
		return timing
	}

	var lastStatus int
	for attempt := 0; ; attempt++ {
		timing.Attempts = attempt + 1
		status, body, err := g.send(ctx, path, action, token, payload)
		lastStatus = status

		if err == nil && status < 400 {
			return body, finish("ok"), nil
		}
		if ctx.Err() != nil {
			return nil, finish("canceled"), &domain.TransportError{Attempts: attempt + 1, LastStatus: lastStatus, Err: ctx.Err()}
		}
		if !g.retry.Retryable(status, err) {
			reply, _ := parseReply(body)
			aerr := &domain.AuthorityError{HTTPStatus: status, Message: http.StatusText(status)}
			if reply != nil && (reply.FaultString != "" || reply.Gloss != "") {
				aerr.Code = reply.FaultCode
				aerr.Message = reply.FaultString + reply.Gloss
			}
			return nil, finish("rejected"), aerr
		}
		if attempt >= g.retry.MaxRetries {
			if err == nil {
				err = fmt.Errorf("HTTP %d", status)
			}
			return nil, finish("transport_error"), &domain.TransportError{Attempts: attempt + 1, LastStatus: lastStatus, Err: err}
		}

		delay := g.retry.Backoff(attempt)
		ev := g.log.Warn().Str("op", op).Int("attempt", attempt+1).Int("status", status).Dur("delay", delay)
		if err != nil {
			ev = ev.Err(err)
		}
		ev.Msg("reintentando llamada al SII")
		if g.obs != nil {
			g.obs.IncGatewayRetry(op)
		}
		if serr := g.retry.Sleep(ctx, delay); serr != nil {
			return nil, finish("canceled"), &domain.TransportError{Attempts: attempt + 1, LastStatus: lastStatus, Err: serr}
		}
	}
}

// send un intento HTTP con timeout propio. status=0 si no hubo respuesta.
func (g *Gateway) send(ctx context.Context, path, action, token string, payload []byte) (int, []byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, g.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, fmt.Errorf("soap: crear request: %w", err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", `"`+action+`"`)
	req.Header.Set("User-Agent", g.cfg.UserAgent)
	if token != "" {
		req.Header.Set("Cookie", "TOKEN="+token)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("soap: llamada HTTP fallida: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("soap: leer respuesta: %w", err)
	}
	return resp.StatusCode, body, nil
}
