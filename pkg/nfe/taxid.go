package nfe

import (
	"fmt"
	"unicode"
)

// pesos del dígito verificador del CNPJ (Receita Federal), de izquierda a derecha.
var (
	cnpjWeights1 = [12]int{5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
	cnpjWeights2 = [13]int{6, 5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
)

// ValidateCNPJ valida los dos dígitos verificadores. Acepta "12.345.678/0001-95" o solo dígitos.
func ValidateCNPJ(taxID string) error {
	d := ExtractDigits(taxID)
	if len(d) != 14 {
		return fmt.Errorf("nfe: el CNPJ debe tener 14 dígitos, se encontraron %d", len(d))
	}
	if allSame(d) {
		return fmt.Errorf("nfe: CNPJ inválido %s", d)
	}
	dv1 := mod11Digit(d[:12], cnpjWeights1[:])
	dv2 := mod11Digit(d[:12]+string(dv1), cnpjWeights2[:])
	if d[12] != dv1 || d[13] != dv2 {
		return fmt.Errorf("nfe: dígitos verificadores del CNPJ inválidos: esperado %c%c, recibido %c%c", dv1, dv2, d[12], d[13])
	}
	return nil
}

// ValidateCPF valida los dos dígitos verificadores del CPF (pesos 10..2 y 11..2).
func ValidateCPF(taxID string) error {
	d := ExtractDigits(taxID)
	if len(d) != 11 {
		return fmt.Errorf("nfe: el CPF debe tener 11 dígitos, se encontraron %d", len(d))
	}
	if allSame(d) {
		return fmt.Errorf("nfe: CPF inválido %s", d)
	}
	w1 := []int{10, 9, 8, 7, 6, 5, 4, 3, 2}
	w2 := []int{11, 10, 9, 8, 7, 6, 5, 4, 3, 2}
	dv1 := mod11Digit(d[:9], w1)
	dv2 := mod11Digit(d[:9]+string(dv1), w2)
	if d[9] != dv1 || d[10] != dv2 {
		return fmt.Errorf("nfe: dígitos verificadores del CPF inválidos")
	}
	return nil
}

// ValidateTaxID acepta CNPJ (14) o CPF (11).
func ValidateTaxID(taxID string) error {
	switch len(ExtractDigits(taxID)) {
	case 14:
		return ValidateCNPJ(taxID)
	case 11:
		return ValidateCPF(taxID)
	}
	return fmt.Errorf("nfe: el documento %q no es CNPJ ni CPF", taxID)
}

// AccessKeyCheckDigit calcula el DV (módulo 11) de una clave de 43 dígitos:
// pesos 2..9 en ciclo de derecha a izquierda; residuo 0 o 1 da DV 0.
func AccessKeyCheckDigit(key43 string) (byte, error) {
	if len(key43) != 43 || !isDigits(key43) {
		return 0, fmt.Errorf("nfe: la base de la clave debe tener 43 dígitos, se recibieron %d", len(key43))
	}
	sum := 0
	weight := 2
	for i := len(key43) - 1; i >= 0; i-- {
		sum += int(key43[i]-'0') * weight
		weight++
		if weight > 9 {
			weight = 2
		}
	}
	rest := sum % 11
	if rest < 2 {
		return '0', nil
	}
	return byte('0' + (11 - rest)), nil
}

// ValidateAccessKey verifica longitud, dígitos y DV de una clave de 44 posiciones.
func ValidateAccessKey(key string) error {
	if len(key) != 44 || !isDigits(key) {
		return fmt.Errorf("nfe: la clave de acceso debe tener 44 dígitos")
	}
	dv, err := AccessKeyCheckDigit(key[:43])
	if err != nil {
		return err
	}
	if key[43] != dv {
		return fmt.Errorf("nfe: DV de la clave de acceso inválido: esperado %c, recibido %c", dv, key[43])
	}
	return nil
}

// ExtractDigits devuelve solo los dígitos de s.
func ExtractDigits(s string) string {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		if unicode.IsDigit(r) && r < 128 {
			out = append(out, byte(r))
		}
	}
	return string(out)
}

func mod11Digit(base string, weights []int) byte {
	sum := 0
	for i := 0; i < len(base); i++ {
		sum += int(base[i]-'0') * weights[i]
	}
	rest := sum % 11
	if rest < 2 {
		return '0'
	}
	return byte('0' + (11 - rest))
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func allSame(s string) bool {
	for i := 1; i < len(s); i++ {
		if s[i] != s[0] {
			return false
		}
	}
	return true
}
