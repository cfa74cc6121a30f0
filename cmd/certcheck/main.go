// certcheck valida un certificado A1 (.pfx) con las mismas reglas que la API antes de subirlo.
//
//	certcheck -file certificado.pfx [-issuer emisor-1]
//
// La contraseña se lee de NFE_CERT_PASSPHRASE o de -pass.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/jhoicas/nfe-api/internal/domain/nfe"
	nfecert "github.com/jhoicas/nfe-api/internal/infrastructure/nfe/certificate"
	"github.com/jhoicas/nfe-api/pkg/logger"
)

func main() {
	path := flag.String("file", "", "ruta del certificado .pfx / .p12")
	pass := flag.String("pass", os.Getenv("NFE_CERT_PASSPHRASE"), "contraseña del certificado")
	issuerID := flag.String("issuer", "certcheck", "emisor al que se asocia el certificado")
	flag.Parse()

	if *path == "" {
		flag.Usage()
		os.Exit(2)
	}
	os.Exit(run(*path, *pass, *issuerID))
}

func run(path, pass, issuerID string) int {
	raw, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "no se pudo leer %s: %v\n", path, err)
		return 1
	}

	m := nfecert.NewManager(logger.Nop())
	if _, err := m.Load(context.Background(), issuerID, raw, pass); err != nil {
		fmt.Fprintf(os.Stderr, "certificado rechazado: %s\n", reason(err))
		return 1
	}
	st, err := m.Status(issuerID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "estado del certificado: %v\n", err)
		return 1
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(st); err != nil {
		fmt.Fprintf(os.Stderr, "salida: %v\n", err)
		return 1
	}
	if st.ExpiringSoon {
		fmt.Fprintf(os.Stderr, "atención: vence en %d días\n", st.DaysRemaining)
	}
	return 0
}

func reason(err error) string {
	switch {
	case errors.Is(err, nfe.ErrWrongPassphrase):
		return "contraseña incorrecta"
	case errors.Is(err, nfe.ErrExpired):
		return "certificado vencido o aún no vigente"
	default:
		return err.Error()
	}
}
