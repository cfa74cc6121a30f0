package certificate

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

// Sealer cifra la contraseña del certificado antes de persistirla (NaCl secretbox).
type Sealer struct {
	key [32]byte
}

// NewSealer deriva la llave de 32 bytes del secreto configurado.
func NewSealer(secret string) (*Sealer, error) {
	if secret == "" {
		return nil, errors.New("certificate: secreto de sellado vacío")
	}
	return &Sealer{key: sha256.Sum256([]byte(secret))}, nil
}

// Seal devuelve nonce(24) || caja.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("certificate: generar nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, &s.key), nil
}

// Open revierte Seal.
func (s *Sealer) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < 24+secretbox.Overhead {
		return nil, errors.New("certificate: dato sellado demasiado corto")
	}
	var nonce [24]byte
	copy(nonce[:], sealed[:24])
	out, ok := secretbox.Open(nil, sealed[24:], &nonce, &s.key)
	if !ok {
		return nil, errors.New("certificate: no se pudo abrir el dato sellado")
	}
	return out, nil
}
