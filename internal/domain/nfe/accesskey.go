// Package nfe: reglas de dominio de la NF-e (clave de acceso, totales, validación,
// máquina de estados y resultados de la SEFAZ).

package nfe

import (
	"fmt"
	"strconv"
	"time"

	pkgnfe "github.com/jhoicas/nfe-api/pkg/nfe"
)

// AccessKeyParams campos que componen la clave de acceso de 44 dígitos, en el orden del layout.
type AccessKeyParams struct {
	RegionCode   int       // cUF
	IssuedAt     time.Time // AAMM se toma en la hora local del emisor
	IssuerCNPJ   string    // 14 dígitos
	Model        string    // 55 | 65
	Series       int       // 0..999
	Number       int64     // 1..999999999
	EmissionType int       // tpEmis
	NumericCode  string    // cNF, 8 dígitos
}

// ComputeAccessKey arma la clave: cUF(2) AAMM(4) CNPJ(14) mod(2) serie(3) nNF(9) tpEmis(1) cNF(8) DV(1).
// Es una función pura: los mismos parámetros producen siempre la misma clave.
func ComputeAccessKey(p AccessKeyParams) (string, error) {
	if _, ok := pkgnfe.RegionForCode(p.RegionCode); !ok {
		return "", fmt.Errorf("nfe: cUF desconocido %d", p.RegionCode)
	}
	if p.IssuedAt.IsZero() {
		return "", fmt.Errorf("nfe: fecha de emisión obligatoria para la clave")
	}
	cnpj := pkgnfe.ExtractDigits(p.IssuerCNPJ)
	if len(cnpj) != 14 {
		return "", fmt.Errorf("nfe: CNPJ del emisor debe tener 14 dígitos")
	}
	if !pkgnfe.ValidModels[p.Model] {
		return "", fmt.Errorf("nfe: modelo inválido %q", p.Model)
	}
	if p.Series < 0 || p.Series > 999 {
		return "", fmt.Errorf("nfe: serie fuera de rango %d", p.Series)
	}
	if p.Number < 1 || p.Number > 999999999 {
		return "", fmt.Errorf("nfe: número fuera de rango %d", p.Number)
	}
	if !pkgnfe.ValidEmissionTypes[p.EmissionType] {
		return "", fmt.Errorf("nfe: tpEmis inválido %d", p.EmissionType)
	}
	if len(p.NumericCode) != 8 || len(pkgnfe.ExtractDigits(p.NumericCode)) != 8 {
		return "", fmt.Errorf("nfe: cNF debe tener 8 dígitos")
	}

	base := fmt.Sprintf("%02d%02d%02d%s%s%03d%09d%d%s",
		p.RegionCode,
		p.IssuedAt.Year()%100,
		int(p.IssuedAt.Month()),
		cnpj,
		p.Model,
		p.Series,
		p.Number,
		p.EmissionType,
		p.NumericCode,
	)
	dv, err := pkgnfe.AccessKeyCheckDigit(base)
	if err != nil {
		return "", err
	}
	return base + string(dv), nil
}

// AccessKeyParts descomposición de una clave válida.
type AccessKeyParts struct {
	RegionCode   int
	Year         int // dos dígitos
	Month        int
	IssuerCNPJ   string
	Model        string
	Series       int
	Number       int64
	EmissionType int
	NumericCode  string
	CheckDigit   int
}

// ParseAccessKey valida el DV y separa los campos de la clave.
func ParseAccessKey(key string) (*AccessKeyParts, error) {
	if err := pkgnfe.ValidateAccessKey(key); err != nil {
		return nil, err
	}
	atoi := func(s string) int { n, _ := strconv.Atoi(s); return n }
	number, _ := strconv.ParseInt(key[25:34], 10, 64)
	return &AccessKeyParts{
		RegionCode:   atoi(key[0:2]),
		Year:         atoi(key[2:4]),
		Month:        atoi(key[4:6]),
		IssuerCNPJ:   key[6:20],
		Model:        key[20:22],
		Series:       atoi(key[22:25]),
		Number:       number,
		EmissionType: atoi(key[34:35]),
		NumericCode:  key[35:43],
		CheckDigit:   atoi(key[43:44]),
	}, nil
}

// NumericCodeFor deriva un cNF de 8 dígitos distinto del nNF a partir de un valor aleatorio.
// El layout rechaza cNF igual al número del documento.
func NumericCodeFor(random uint32, number int64) string {
	code := int64(random % 100000000)
	if code == number%100000000 {
		code = (code + 1) % 100000000
	}
	return fmt.Sprintf("%08d", code)
}
