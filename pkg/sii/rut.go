package sii

import (
	"fmt"
	"strconv"
	"strings"
)

// ValidateRUT valida que el RUT (con o sin puntos/guion) tenga un dígito verificador correcto
// según el algoritmo módulo 11 del SII. Acepta "76.192.083-9", "76192083-9" o "761920839".
func ValidateRUT(rut string) error {
	body, dv, err := SplitRUT(rut)
	if err != nil {
		return err
	}
	expected, err := ComputeRUTCheckDigit(body)
	if err != nil {
		return err
	}
	if dv != expected {
		return fmt.Errorf("sii: dígito verificador del RUT inválido: esperado %c, recibido %c", expected, dv)
	}
	return nil
}

// SplitRUT separa el cuerpo numérico del dígito verificador (en mayúscula).
func SplitRUT(rut string) (body string, dv byte, err error) {
	clean := strings.ToUpper(strings.NewReplacer(".", "", "-", "", " ", "").Replace(strings.TrimSpace(rut)))
	if len(clean) < 2 {
		return "", 0, fmt.Errorf("sii: RUT demasiado corto: %q", rut)
	}
	body = clean[:len(clean)-1]
	dv = clean[len(clean)-1]
	if _, convErr := strconv.ParseUint(body, 10, 64); convErr != nil {
		return "", 0, fmt.Errorf("sii: cuerpo del RUT no numérico: %q", rut)
	}
	if (dv < '0' || dv > '9') && dv != 'K' {
		return "", 0, fmt.Errorf("sii: dígito verificador inválido en %q", rut)
	}
	return body, dv, nil
}

// ComputeRUTCheckDigit calcula el dígito verificador: pesos 2..7 cíclicos desde la derecha,
// 11 - (suma mod 11), con 11 → '0' y 10 → 'K'.
func ComputeRUTCheckDigit(body string) (byte, error) {
	if body == "" {
		return 0, fmt.Errorf("sii: RUT vacío")
	}
	sum, weight := 0, 2
	for i := len(body) - 1; i >= 0; i-- {
		c := body[i]
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("sii: carácter no numérico en RUT: %q", c)
		}
		sum += int(c-'0') * weight
		weight++
		if weight > 7 {
			weight = 2
		}
	}
	switch r := 11 - sum%11; r {
	case 11:
		return '0', nil
	case 10:
		return 'K', nil
	default:
		return byte('0' + r), nil
	}
}

// FormatRUT normaliza a la forma usada en el XML del DTE: "76192083-9".
func FormatRUT(rut string) (string, error) {
	body, dv, err := SplitRUT(rut)
	if err != nil {
		return "", err
	}
	body = strings.TrimLeft(body, "0")
	return body + "-" + string(dv), nil
}
