// Package siitest levanta un SII simulado sobre httptest para probar el gateway y el ciclo de vida.
package siitest

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// Response respuesta programada. Delay simula un SII lento (respeta la cancelación del cliente).
type Response struct {
	Status int
	Body   string
	Delay  time.Duration
}

// Request petición recibida.
type Request struct {
	Path       string
	SOAPAction string
	Cookie     string
	UserAgent  string
	Body       string
}

// Server SII simulado. Cada operación consume su cola de respuestas; la última se repite.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	queues   map[string][]Response
	requests []Request
}

// Operaciones reconocidas por el final de la ruta.
const (
	OpUpload = "DTEUpload"
	OpStatus = "QueryEstUp.jws"
	OpAck    = "wsDTEAcuse"
	OpSeed   = "CrSeed.jws"
	OpToken  = "GetTokenFromSeed.jws"
)

// NewServer arranca el servidor; cerrarlo con Close.
func NewServer() *Server {
	s := &Server{queues: make(map[string][]Response)}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// On programa respuestas para una operación (OpUpload, OpStatus, OpAck).
func (s *Server) On(op string, responses ...Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queues[op] = append(s.queues[op], responses...)
}

// Requests copia de las peticiones recibidas.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Count peticiones recibidas para una operación.
func (s *Server) Count(op string) int {
	n := 0
	for _, r := range s.Requests() {
		if strings.HasSuffix(r.Path, op) {
			n++
		}
	}
	return n
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	op := ""
	for _, candidate := range []string{OpUpload, OpStatus, OpAck, OpSeed, OpToken} {
		if strings.HasSuffix(r.URL.Path, candidate) {
			op = candidate
		}
	}

	s.mu.Lock()
	s.requests = append(s.requests, Request{
		Path: r.URL.Path, SOAPAction: r.Header.Get("SOAPAction"), Cookie: r.Header.Get("Cookie"),
		UserAgent: r.Header.Get("User-Agent"), Body: string(body),
	})
	q := s.queues[op]
	var resp Response
	switch {
	case len(q) == 0:
		resp = Response{Status: http.StatusNotFound, Body: "sin respuesta programada"}
	case len(q) == 1:
		resp = q[0]
	default:
		resp = q[0]
		s.queues[op] = q[1:]
	}
	s.mu.Unlock()

	if resp.Delay > 0 {
		select {
		case <-r.Context().Done():
			return
		case <-time.After(resp.Delay):
		}
	}
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(resp.Status)
	_, _ = io.WriteString(w, resp.Body)
}

// Envelope arma una respuesta SOAP con el XML interno escapado dentro de <opReturn>.
func Envelope(operation, inner string) string {
	var esc bytes.Buffer
	_ = xml.EscapeText(&esc, []byte(inner))
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>`+
		`<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/"><soapenv:Body>`+
		`<%[1]sResponse><%[1]sReturn>%[2]s</%[1]sReturn></%[1]sResponse>`+
		`</soapenv:Body></soapenv:Envelope>`, operation, esc.String())
}

// UploadOK respuesta 200 de upload con TrackID.
func UploadOK(trackID string) Response {
	return Response{Status: http.StatusOK, Body: Envelope("uploadDTE",
		`<RECEPCIONDTE><STATUS>0</STATUS><TRACKID>`+trackID+`</TRACKID></RECEPCIONDTE>`)}
}

// UploadWithoutTrackID respuesta 200 sin TrackID.
func UploadWithoutTrackID() Response {
	return Response{Status: http.StatusOK, Body: Envelope("uploadDTE", `<RECEPCIONDTE><STATUS>0</STATUS></RECEPCIONDTE>`)}
}

// UploadStatus respuesta 200 de upload con STATUS distinto de 0 (rechazo explícito).
func UploadStatus(status string) Response {
	return Response{Status: http.StatusOK, Body: Envelope("uploadDTE", `<RECEPCIONDTE><STATUS>`+status+`</STATUS></RECEPCIONDTE>`)}
}

// Status respuesta de getEstUp con ESTADO y GLOSA.
func Status(code, gloss string) Response {
	return Response{Status: http.StatusOK, Body: Envelope("getEstUp",
		`<?xml version="1.0" encoding="UTF-8"?><SII:RESPUESTA xmlns:SII="http://www.sii.cl/XMLSchema"><SII:RESP_HDR>`+
			`<ESTADO>`+code+`</ESTADO><GLOSA>`+gloss+`</GLOSA></SII:RESP_HDR></SII:RESPUESTA>`)}
}

// Seed respuesta de CrSeed con la semilla y ESTADO 00.
func Seed(seed string) Response {
	return Response{Status: http.StatusOK, Body: Envelope("getSeed", authResponse(`<SEMILLA>`+seed+`</SEMILLA>`, "00"))}
}

// Token respuesta de GetTokenFromSeed con el TOKEN y ESTADO 00.
func Token(token string) Response {
	return Response{Status: http.StatusOK, Body: Envelope("getToken", authResponse(`<TOKEN>`+token+`</TOKEN>`, "00"))}
}

// TokenRejected respuesta de GetTokenFromSeed con ESTADO de error (firma o semilla inválida).
func TokenRejected(state string) Response {
	return Response{Status: http.StatusOK, Body: Envelope("getToken", authResponse("", state))}
}

func authResponse(body, state string) string {
	return `<?xml version="1.0" encoding="UTF-8"?><SII:RESPUESTA xmlns:SII="http://www.sii.cl/XMLSchema">` +
		`<SII:RESP_BODY>` + body + `</SII:RESP_BODY><SII:RESP_HDR><ESTADO>` + state + `</ESTADO></SII:RESP_HDR></SII:RESPUESTA>`
}

// Ack respuesta de acuse con el documento de recibo.
func Ack(receipt string) Response {
	return Response{Status: http.StatusOK, Body: Envelope("getAcuseRecibo", receipt)}
}

// HTTPError respuesta con el código dado y cuerpo de texto.
func HTTPError(status int) Response {
	return Response{Status: status, Body: http.StatusText(status)}
}

// Slow respuesta que tarda d (para probar timeouts).
func Slow(d time.Duration, r Response) Response {
	r.Delay = d
	return r
}
