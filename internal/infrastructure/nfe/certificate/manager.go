// Package certificate administra los certificados A1 de cada emisor: carga, validación,
// rotación versionada y firma sin exponer la llave privada.
package certificate

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jhoicas/nfe-api/internal/domain/entity"
	"github.com/jhoicas/nfe-api/internal/domain/nfe"
	"github.com/jhoicas/nfe-api/internal/domain/repository"
	"github.com/jhoicas/nfe-api/pkg/logger"
)

// ExpiryWarning margen a partir del cual se avisa que el certificado está por vencer.
const ExpiryWarning = 30 * 24 * time.Hour

// Observer recibe la vigencia restante de cada certificado instalado (métricas).
type Observer interface {
	CredentialInstalled(issuerID string, daysRemaining int)
	CredentialRemoved(issuerID string)
}

// Status vigencia y titular del certificado activo.
type Status struct {
	IssuerID      string    `json:"issuer_id"`
	OwnerTaxID    string    `json:"owner_tax_id"`
	OwnerName     string    `json:"owner_name"`
	IssuerName    string    `json:"issuer_name"`
	Fingerprint   string    `json:"fingerprint"`
	ValidFrom     time.Time `json:"valid_from"`
	ValidUntil    time.Time `json:"valid_until"`
	DaysRemaining int       `json:"days_remaining"`
	ExpiringSoon  bool      `json:"expiring_soon"`
	Version       int       `json:"version"`
}

// entry una versión instalada del certificado de un emisor.
type entry struct {
	meta     entity.SigningCredential
	key      *rsa.PrivateKey
	leaf     *x509.Certificate
	chain    []*x509.Certificate
	inFlight sync.WaitGroup
	wipeOnce sync.Once
	wiped    atomic.Bool
}

// Manager mantiene una versión activa por emisor. Reemplazar o quitar un certificado nunca
// interrumpe una firma en curso: la versión anterior se borra de memoria cuando se liberan
// todos sus préstamos.
type Manager struct {
	mu       sync.RWMutex
	entries  map[string]*entry
	versions map[string]int

	repo     repository.CredentialRepository // opcional
	sealer   *Sealer                         // opcional; sin él no se persiste
	observer Observer                        // opcional
	now      func() time.Time
	log      *logger.Logger
}

// Option configura el Manager.
type Option func(*Manager)

// WithStore persiste los certificados sellados.
func WithStore(repo repository.CredentialRepository, sealer *Sealer) Option {
	return func(m *Manager) { m.repo, m.sealer = repo, sealer }
}

// WithClock reemplaza el reloj (tests).
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithObserver registra el observador de métricas.
func WithObserver(o Observer) Option {
	return func(m *Manager) { m.observer = o }
}

// NewManager construye el gestor.
func NewManager(log *logger.Logger, opts ...Option) *Manager {
	m := &Manager{
		entries:  make(map[string]*entry),
		versions: make(map[string]int),
		now:      time.Now,
		log:      log.Component("certificate"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Load valida el contenedor PKCS#12 y lo instala como nueva versión del emisor.
// Errores: nfe.ErrWrongPassphrase, nfe.ErrInvalidCredential, nfe.ErrExpired.
func (m *Manager) Load(ctx context.Context, issuerID string, raw []byte, passphrase string) (*entity.SigningCredential, error) {
	e, err := m.prepare(issuerID, raw, passphrase)
	if err != nil {
		m.log.Warn().Str("issuer_id", issuerID).Err(err).Msg("certificado rechazado")
		return nil, err
	}

	if m.repo != nil && m.sealer != nil {
		sealed, err := m.sealer.Seal([]byte(passphrase))
		if err != nil {
			return nil, err
		}
		rec := &entity.SealedCredential{
			IssuerID:         issuerID,
			Container:        raw,
			SealedPassphrase: sealed,
			Fingerprint:      e.meta.Fingerprint,
			NotAfter:         e.meta.NotAfter,
			CreatedAt:        m.now(),
		}
		if err := m.repo.Save(ctx, rec); err != nil {
			e.wipe()
			return nil, fmt.Errorf("guardar certificado: %w", err)
		}
	}

	meta := m.install(issuerID, e)
	return &meta, nil
}

// Warm recarga los certificados persistidos (arranque del servicio). Los vencidos se omiten.
func (m *Manager) Warm(ctx context.Context) error {
	if m.repo == nil || m.sealer == nil {
		return nil
	}
	recs, err := m.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("listar certificados: %w", err)
	}
	for _, rec := range recs {
		pass, err := m.sealer.Open(rec.SealedPassphrase)
		if err != nil {
			m.log.Error().Str("issuer_id", rec.IssuerID).Err(err).Msg("no se pudo abrir la contraseña sellada")
			continue
		}
		e, err := m.prepare(rec.IssuerID, rec.Container, string(pass))
		if err != nil {
			m.log.Warn().Str("issuer_id", rec.IssuerID).Err(err).Msg("certificado persistido no se cargó")
			continue
		}
		m.install(rec.IssuerID, e)
	}
	return nil
}

func (m *Manager) prepare(issuerID string, raw []byte, passphrase string) (*entry, error) {
	p, err := decodeContainer(raw, passphrase)
	if err != nil {
		return nil, err
	}
	owner, err := qualify(p, m.now())
	if err != nil {
		wipeKey(p.key)
		return nil, err
	}
	chain := make([]string, 0, len(p.chain))
	for _, c := range p.chain {
		chain = append(chain, c.Subject.CommonName)
	}
	return &entry{
		meta: entity.SigningCredential{
			IssuerID:     issuerID,
			OwnerTaxID:   owner,
			OwnerName:    p.leaf.Subject.CommonName,
			IssuerName:   p.leaf.Issuer.CommonName,
			Chain:        chain,
			SerialNumber: p.leaf.SerialNumber.Text(16),
			Fingerprint:  fingerprint(p.leaf),
			NotBefore:    p.leaf.NotBefore,
			NotAfter:     p.leaf.NotAfter,
			LoadedAt:     m.now(),
		},
		key:   p.key,
		leaf:  p.leaf,
		chain: p.chain,
	}, nil
}

func (m *Manager) install(issuerID string, e *entry) entity.SigningCredential {
	m.mu.Lock()
	m.versions[issuerID]++
	e.meta.Version = m.versions[issuerID]
	old := m.entries[issuerID]
	m.entries[issuerID] = e
	m.mu.Unlock()

	if old != nil {
		go old.retire()
	}

	days := e.meta.DaysRemaining(m.now())
	ev := m.log.Info()
	if e.meta.NotAfter.Sub(m.now()) < ExpiryWarning {
		ev = m.log.Warn()
	}
	ev.Str("issuer_id", issuerID).
		Str("owner", e.meta.OwnerTaxID).
		Str("fingerprint", e.meta.Fingerprint).
		Time("valid_until", e.meta.NotAfter).
		Int("days_remaining", days).
		Int("version", e.meta.Version).
		Msg("certificado instalado")
	if m.observer != nil {
		m.observer.CredentialInstalled(issuerID, days)
	}
	return e.meta
}

// Status devuelve la vigencia del certificado activo.
func (m *Manager) Status(issuerID string) (*Status, error) {
	m.mu.RLock()
	e := m.entries[issuerID]
	m.mu.RUnlock()
	if e == nil {
		return nil, nfe.ErrNoCredential
	}
	now := m.now()
	return &Status{
		IssuerID:      issuerID,
		OwnerTaxID:    e.meta.OwnerTaxID,
		OwnerName:     e.meta.OwnerName,
		IssuerName:    e.meta.IssuerName,
		Fingerprint:   e.meta.Fingerprint,
		ValidFrom:     e.meta.NotBefore,
		ValidUntil:    e.meta.NotAfter,
		DaysRemaining: e.meta.DaysRemaining(now),
		ExpiringSoon:  e.meta.NotAfter.Sub(now) < ExpiryWarning,
		Version:       e.meta.Version,
	}, nil
}

// Acquire presta la versión activa para firmar. El llamador debe invocar Release.
// Un certificado vencido no se presta (nfe.ErrExpired).
func (m *Manager) Acquire(issuerID string) (*Lease, error) {
	m.mu.RLock()
	e := m.entries[issuerID]
	if e != nil {
		e.inFlight.Add(1)
	}
	m.mu.RUnlock()
	if e == nil {
		return nil, nfe.ErrNoCredential
	}

	now := m.now()
	if now.Before(e.meta.NotBefore) || !now.Before(e.meta.NotAfter) {
		e.inFlight.Done()
		return nil, fmt.Errorf("%w: %s venció el %s", nfe.ErrExpired, e.meta.Fingerprint[:16], e.meta.NotAfter.Format(time.RFC3339))
	}
	return &Lease{e: e}, nil
}

// Sign firma data (RSA PKCS#1 v1.5 sobre SHA-1) con el certificado activo del emisor.
func (m *Manager) Sign(issuerID string, data []byte) ([]byte, error) {
	l, err := m.Acquire(issuerID)
	if err != nil {
		return nil, err
	}
	defer l.Release()
	return l.SignSHA1(data)
}

// Remove quita el certificado del emisor; se borra de memoria al terminar las firmas en curso.
func (m *Manager) Remove(ctx context.Context, issuerID string) error {
	m.mu.Lock()
	e := m.entries[issuerID]
	delete(m.entries, issuerID)
	m.mu.Unlock()
	if e == nil {
		return nfe.ErrNoCredential
	}
	go e.retire()

	if m.observer != nil {
		m.observer.CredentialRemoved(issuerID)
	}
	m.log.Info().Str("issuer_id", issuerID).Str("fingerprint", e.meta.Fingerprint).Msg("certificado retirado")
	if m.repo != nil {
		if err := m.repo.Delete(ctx, issuerID); err != nil {
			return fmt.Errorf("borrar certificado persistido: %w", err)
		}
	}
	return nil
}

// retire espera los préstamos en curso y borra la llave.
func (e *entry) retire() {
	e.inFlight.Wait()
	e.wipe()
}

func (e *entry) wipe() {
	e.wipeOnce.Do(func() {
		wipeKey(e.key)
		e.wiped.Store(true)
	})
}

// wipeKey sobrescribe el exponente privado y los primos.
func wipeKey(k *rsa.PrivateKey) {
	if k == nil {
		return
	}
	zero := func(n *big.Int) {
		if n == nil {
			return
		}
		clear(n.Bits())
		n.SetInt64(0)
	}
	zero(k.D)
	for _, p := range k.Primes {
		zero(p)
	}
	zero(k.Precomputed.Dp)
	zero(k.Precomputed.Dq)
	zero(k.Precomputed.Qinv)
	k.Precomputed = rsa.PrecomputedValues{}
}

// Lease préstamo de solo lectura de una versión del certificado.
type Lease struct {
	e    *entry
	once sync.Once
}

// SignSHA1 firma el bloque canonicalizado (SignedInfo) con RSA-SHA1.
func (l *Lease) SignSHA1(data []byte) ([]byte, error) {
	if l.e.wiped.Load() {
		return nil, fmt.Errorf("%w: la versión %d ya fue retirada", nfe.ErrSigningFailure, l.e.meta.Version)
	}
	sum := sha1.Sum(data)
	sig, err := rsa.SignPKCS1v15(rand.Reader, l.e.key, crypto.SHA1, sum[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", nfe.ErrSigningFailure, err)
	}
	return sig, nil
}

// Certificate certificado hoja (KeyInfo de la firma).
func (l *Lease) Certificate() *x509.Certificate { return l.e.leaf }

// TLSCertificate par certificado/llave para TLS mutuo con la SEFAZ.
func (l *Lease) TLSCertificate() tls.Certificate {
	chain := [][]byte{l.e.leaf.Raw}
	for _, c := range l.e.chain {
		chain = append(chain, c.Raw)
	}
	return tls.Certificate{Certificate: chain, PrivateKey: l.e.key, Leaf: l.e.leaf}
}

// Retired indica si la versión prestada ya se borró de memoria.
func (l *Lease) Retired() bool { return l.e.wiped.Load() }

// Version versión prestada.
func (l *Lease) Version() int { return l.e.meta.Version }

// Fingerprint huella del certificado prestado.
func (l *Lease) Fingerprint() string { return l.e.meta.Fingerprint }

// Release devuelve el préstamo; es seguro llamarlo más de una vez.
func (l *Lease) Release() {
	l.once.Do(l.e.inFlight.Done)
}
