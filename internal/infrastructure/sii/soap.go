package sii

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/beevik/etree"
)

const (
	soapNS        = "http://schemas.xmlsoap.org/soap/envelope/"
	soapNSDefault = "http://DefaultNamespace"
)

// ── Estructuras SOAP ──────────────────────────────────────────────────────────

type soapEnvelope struct {
	XMLName xml.Name   `xml:"soapenv:Envelope"`
	XmlnsS  string     `xml:"xmlns:soapenv,attr"`
	Header  soapHeader `xml:"soapenv:Header"`
	Body    soapBody   `xml:"soapenv:Body"`
}

type soapHeader struct{}

type soapBody struct {
	Content interface{}
}

func (b soapBody) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	start.Name.Local = "soapenv:Body"
	if err := e.EncodeToken(start); err != nil {
		return err
	}
	if err := e.Encode(b.Content); err != nil {
		return err
	}
	return e.EncodeToken(start.End())
}

// uploadDTEBody envío de un DTE firmado (archivo en Base64, ISO-8859-1).
type uploadDTEBody struct {
	XMLName    xml.Name `xml:"uploadDTE"`
	Xmlns      string   `xml:"xmlns,attr"`
	RutSender  string   `xml:"rutSender"`
	DvSender   string   `xml:"dvSender"`
	RutCompany string   `xml:"rutCompany"`
	DvCompany  string   `xml:"dvCompany"`
	Archivo    string   `xml:"archivo"`
}

// getEstUpBody consulta el estado de un envío por TrackID.
type getEstUpBody struct {
	XMLName     xml.Name `xml:"getEstUp"`
	Xmlns       string   `xml:"xmlns,attr"`
	RutCompania string   `xml:"RutCompania"`
	DvCompania  string   `xml:"DvCompania"`
	TrackID     string   `xml:"TrackId"`
	Token       string   `xml:"Token"`
}

// getAcuseReciboBody solicita el acuse de recibo de un envío resuelto.
type getAcuseReciboBody struct {
	XMLName     xml.Name `xml:"getAcuseRecibo"`
	Xmlns       string   `xml:"xmlns,attr"`
	RutCompania string   `xml:"RutCompania"`
	DvCompania  string   `xml:"DvCompania"`
	TrackID     string   `xml:"TrackId"`
	Token       string   `xml:"Token"`
}

// getSeedBody pide una semilla de autenticación (CrSeed).
type getSeedBody struct {
	XMLName xml.Name `xml:"getSeed"`
	Xmlns   string   `xml:"xmlns,attr"`
}

// getTokenBody canjea la semilla firmada por un TOKEN (GetTokenFromSeed).
type getTokenBody struct {
	XMLName xml.Name `xml:"getToken"`
	Xmlns   string   `xml:"xmlns,attr"`
	PszXML  string   `xml:"pszXml"`
}

func marshalEnvelope(body interface{}) ([]byte, error) {
	env := soapEnvelope{XmlnsS: soapNS, Body: soapBody{Content: body}}
	out, err := xml.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("soap: serializar envelope: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

// ── Respuestas ────────────────────────────────────────────────────────────────

// soapReply campos relevantes de una respuesta del SII. El *Return del SOAP suele traer otro
// XML escapado (<SII:RESPUESTA>, <RECEPCIONDTE>), que se parsea también.
type soapReply struct {
	FaultCode   string
	FaultString string
	TrackID     string
	Status      string // STATUS de upload (0 = OK)
	State       string // ESTADO de la consulta (EPR, RCH, …)
	Gloss       string // GLOSA / mensaje
	Seed        string // SEMILLA de CrSeed
	Token       string // TOKEN de GetTokenFromSeed
	Payload     string // contenido del *Return (acuse, respuesta interna)
}

func parseReply(raw []byte) (*soapReply, error) {
	doc, err := ReadDocument(raw)
	if err != nil {
		return nil, fmt.Errorf("soap: respuesta ilegible: %w", err)
	}
	r := &soapReply{}
	if f := doc.FindElement("//Fault"); f != nil {
		r.FaultCode = childText(f, "faultcode")
		r.FaultString = childText(f, "faultstring")
		return r, nil
	}

	scope := doc.Root()
	if body := doc.FindElement("//Body"); body != nil {
		scope = body
		if ret := firstLeaf(body); ret != nil {
			text := strings.TrimSpace(ret.Text())
			r.Payload = text
			if strings.HasPrefix(text, "<") {
				// el texto ya está en UTF-8: se descarta la declaración original
				if strings.HasPrefix(text, "<?xml") {
					if end := strings.Index(text, "?>"); end >= 0 {
						text = strings.TrimSpace(text[end+2:])
					}
				}
				if inner, err := ReadDocument([]byte(text)); err == nil {
					scope = inner.Root()
				}
			}
		}
	}
	r.TrackID = findText(scope, "TRACKID", "TrackId", "trackid")
	r.Status = findText(scope, "STATUS")
	r.State = findText(scope, "ESTADO")
	r.Gloss = findText(scope, "GLOSA", "ERR_CODE")
	r.Seed = findText(scope, "SEMILLA")
	r.Token = findText(scope, "TOKEN")
	return r, nil
}

// firstLeaf desciende por el primer hijo hasta un elemento sin hijos (el *Return).
func firstLeaf(el *etree.Element) *etree.Element {
	cur := el
	for {
		kids := cur.ChildElements()
		if len(kids) == 0 {
			if cur == el {
				return nil
			}
			return cur
		}
		cur = kids[0]
	}
}

func childText(el *etree.Element, tag string) string {
	if c := el.SelectElement(tag); c != nil {
		return strings.TrimSpace(c.Text())
	}
	return ""
}

func findText(scope *etree.Element, tags ...string) string {
	if scope == nil {
		return ""
	}
	for _, t := range tags {
		if scope.Tag == t {
			return strings.TrimSpace(scope.Text())
		}
		if el := scope.FindElement(".//" + t); el != nil {
			return strings.TrimSpace(el.Text())
		}
	}
	return ""
}

// uploadStatusUnauthenticated STATUS de upload con TOKEN vencido o inválido.
const uploadStatusUnauthenticated = "5"

// uploadStatusMessages glosas de STATUS del upload.
var uploadStatusMessages = map[string]string{
	"1":  "el usuario que envía no tiene permiso para enviar",
	"2":  "error en el tamaño del archivo",
	"3":  "archivo cortado",
	"5":  "no está autenticado",
	"6":  "la empresa no está autorizada a enviar archivos",
	"7":  "esquema inválido",
	"8":  "firma del documento",
	"9":  "sistema bloqueado",
	"99": "error interno del SII",
}

func uploadStatusMessage(status string) string {
	if m, ok := uploadStatusMessages[status]; ok {
		return m
	}
	return "estado de upload desconocido"
}

func compactXML(b []byte) string {
	return string(bytes.TrimSpace(b))
}
