package nfe

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Límites de texto de los eventos.
const (
	MinJustificationLen = 15
	MaxJustificationLen = 255
	MaxCorrectionLen    = 1000
)

// NormalizeText quita acentos y caracteres de control y colapsa espacios, como exige el
// esquema para xJust y xCorrecao.
func NormalizeText(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	out = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, out)
	return strings.Join(strings.Fields(out), " ")
}

// NormalizeJustification normaliza y valida el largo (15..max).
func NormalizeJustification(s string, max int) (string, error) {
	n := NormalizeText(s)
	l := len([]rune(n))
	if l < MinJustificationLen || l > max {
		return "", &ValidationError{Problems: []string{
			fmt.Sprintf("el texto debe tener entre %d y %d caracteres (tiene %d)", MinJustificationLen, max, l),
		}}
	}
	return n, nil
}
