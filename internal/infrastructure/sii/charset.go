// Package sii implementa la integración con el Servicio de Impuestos Internos (Chile):
// lectura de CAF, construcción del XML del DTE y el cliente de los servicios web (upload,
// consulta de estado y acuse de recibo) con política de reintentos.
package sii

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/beevik/etree"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// CharsetReader decodifica los documentos del SII declarados en ISO-8859-1 (CAF, respuestas, acuses).
func CharsetReader(charset string, input io.Reader) (io.Reader, error) {
	switch strings.ToUpper(strings.ReplaceAll(charset, "_", "-")) {
	case "", "UTF-8", "US-ASCII":
		return input, nil
	case "ISO-8859-1", "ISO8859-1", "LATIN1":
		return transform.NewReader(input, charmap.ISO8859_1.NewDecoder()), nil
	case "WINDOWS-1252":
		return transform.NewReader(input, charmap.Windows1252.NewDecoder()), nil
	}
	return nil, fmt.Errorf("sii: codificación no soportada %q", charset)
}

// ReadDocument parsea XML del SII respetando la codificación declarada.
func ReadDocument(raw []byte) (*etree.Document, error) {
	doc := etree.NewDocument()
	doc.ReadSettings.CharsetReader = CharsetReader
	if err := doc.ReadFromBytes(raw); err != nil {
		return nil, err
	}
	if doc.Root() == nil {
		return nil, fmt.Errorf("sii: documento XML sin elemento raíz")
	}
	return doc, nil
}

// ToLatin1 transcodifica XML UTF-8 a ISO-8859-1 y ajusta la declaración. La firma se calcula
// sobre la forma canónica (caracteres), por lo que sigue siendo válida tras la conversión.
func ToLatin1(utf8XML []byte) ([]byte, error) {
	body := utf8XML
	if bytes.HasPrefix(bytes.TrimSpace(body), []byte("<?xml")) {
		trimmed := bytes.TrimSpace(body)
		if end := bytes.Index(trimmed, []byte("?>")); end >= 0 {
			body = trimmed[end+2:]
		}
	}
	out, err := charmap.ISO8859_1.NewEncoder().Bytes(body)
	if err != nil {
		return nil, fmt.Errorf("sii: el XML contiene caracteres fuera de ISO-8859-1: %w", err)
	}
	return append([]byte(`<?xml version="1.0" encoding="ISO-8859-1"?>`), out...), nil
}
