package certificate_test

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha1"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/nfe-api/internal/domain/nfe"
	"github.com/jhoicas/nfe-api/internal/infrastructure/memory"
	"github.com/jhoicas/nfe-api/internal/infrastructure/nfe/certificate"
	"github.com/jhoicas/nfe-api/pkg/logger"
)

const (
	issuerID   = "emisor-1"
	passphrase = "123456"
)

func fixture(t *testing.T, name string) []byte {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return raw
}

// clock reloj mutable para simular el paso del tiempo.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock(t time.Time) *clock { return &clock{t: t} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type recordingObserver struct {
	mu      sync.Mutex
	days    map[string]int
	removed []string
}

func (o *recordingObserver) CredentialInstalled(issuerID string, days int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.days == nil {
		o.days = map[string]int{}
	}
	o.days[issuerID] = days
}

func (o *recordingObserver) CredentialRemoved(issuerID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.removed = append(o.removed, issuerID)
}

var june2025 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newManager(c *clock, opts ...certificate.Option) *certificate.Manager {
	opts = append([]certificate.Option{certificate.WithClock(c.Now)}, opts...)
	return certificate.NewManager(logger.Nop(), opts...)
}

func TestManager_Load_Valido(t *testing.T) {
	m := newManager(newClock(june2025))

	cred, err := m.Load(context.Background(), issuerID, fixture(t, "valid.pfx"), passphrase)
	require.NoError(t, err)

	assert.Equal(t, "11222333000181", cred.OwnerTaxID)
	assert.Equal(t, "EMPRESA TESTE LTDA:11222333000181", cred.OwnerName)
	assert.Equal(t, "AC TESTE NFE", cred.IssuerName)
	assert.Equal(t, []string{"AC TESTE NFE"}, cred.Chain)
	assert.Equal(t, 1, cred.Version)
	assert.Len(t, cred.Fingerprint, 64)
	assert.Equal(t, time.Date(2034, 1, 1, 0, 0, 0, 0, time.UTC), cred.NotAfter.UTC())
}

func TestManager_Load_SinCadena(t *testing.T) {
	m := newManager(newClock(june2025))

	cred, err := m.Load(context.Background(), issuerID, fixture(t, "single.pfx"), passphrase)
	require.NoError(t, err)
	assert.Empty(t, cred.Chain)
	assert.Equal(t, "11222333000181", cred.OwnerTaxID)
}

func TestManager_Load_Errores(t *testing.T) {
	tests := []struct {
		name    string
		raw     func(t *testing.T) []byte
		pass    string
		wantErr error
	}{
		{"contraseña incorrecta", func(t *testing.T) []byte { return fixture(t, "valid.pfx") }, "errada", nfe.ErrWrongPassphrase},
		{"contenedor corrupto", func(t *testing.T) []byte { return []byte("no es un pfx") }, passphrase, nfe.ErrInvalidCredential},
		{"contenedor vacío", func(t *testing.T) []byte { return nil }, passphrase, nfe.ErrInvalidCredential},
		{"certificado de AC", func(t *testing.T) []byte { return fixture(t, "ca.pfx") }, passphrase, nfe.ErrInvalidCredential},
		{"sin CNPJ ni CPF", func(t *testing.T) []byte { return fixture(t, "nodoc.pfx") }, passphrase, nfe.ErrInvalidCredential},
		{"vencido", func(t *testing.T) []byte { return fixture(t, "expired.pfx") }, passphrase, nfe.ErrExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newManager(newClock(june2025))
			_, err := m.Load(context.Background(), issuerID, tt.raw(t), tt.pass)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)

			_, err = m.Status(issuerID)
			assert.ErrorIs(t, err, nfe.ErrNoCredential)
		})
	}
}

func TestManager_Acquire_SinCertificado(t *testing.T) {
	m := newManager(newClock(june2025))
	_, err := m.Acquire(issuerID)
	assert.ErrorIs(t, err, nfe.ErrNoCredential)
}

func TestManager_Acquire_VencidoDespuesDeCargar(t *testing.T) {
	c := newClock(june2025)
	m := newManager(c)
	_, err := m.Load(context.Background(), issuerID, fixture(t, "valid.pfx"), passphrase)
	require.NoError(t, err)

	c.Set(time.Date(2034, 1, 1, 0, 0, 1, 0, time.UTC))
	_, err = m.Acquire(issuerID)
	assert.ErrorIs(t, err, nfe.ErrExpired)

	_, err = m.Sign(issuerID, []byte("<SignedInfo/>"))
	assert.ErrorIs(t, err, nfe.ErrExpired)
}

func TestManager_Status_PorVencer(t *testing.T) {
	c := newClock(june2025)
	obs := &recordingObserver{}
	m := newManager(c, certificate.WithObserver(obs))
	_, err := m.Load(context.Background(), issuerID, fixture(t, "valid.pfx"), passphrase)
	require.NoError(t, err)

	st, err := m.Status(issuerID)
	require.NoError(t, err)
	assert.False(t, st.ExpiringSoon)
	assert.Greater(t, st.DaysRemaining, 3000)
	assert.Equal(t, st.DaysRemaining, obs.days[issuerID])

	c.Set(time.Date(2033, 12, 15, 0, 0, 0, 0, time.UTC))
	st, err = m.Status(issuerID)
	require.NoError(t, err)
	assert.True(t, st.ExpiringSoon)
	assert.Equal(t, 17, st.DaysRemaining)
}

func TestManager_Sign_VerificaConLlavePublica(t *testing.T) {
	m := newManager(newClock(june2025))
	_, err := m.Load(context.Background(), issuerID, fixture(t, "valid.pfx"), passphrase)
	require.NoError(t, err)

	data := []byte(`<SignedInfo xmlns="http://www.w3.org/2000/09/xmldsig#"></SignedInfo>`)
	sig, err := m.Sign(issuerID, data)
	require.NoError(t, err)

	l, err := m.Acquire(issuerID)
	require.NoError(t, err)
	defer l.Release()
	pub := l.Certificate().PublicKey.(*rsa.PublicKey)
	sum := sha1.Sum(data)
	assert.NoError(t, rsa.VerifyPKCS1v15(pub, crypto.SHA1, sum[:], sig))

	tc := l.TLSCertificate()
	assert.Len(t, tc.Certificate, 2)
	assert.Same(t, l.Certificate(), tc.Leaf)
}

func TestManager_Rotacion_PrestamoEnCursoTerminaConVersionAnterior(t *testing.T) {
	m := newManager(newClock(june2025))
	ctx := context.Background()
	_, err := m.Load(ctx, issuerID, fixture(t, "valid.pfx"), passphrase)
	require.NoError(t, err)

	old, err := m.Acquire(issuerID)
	require.NoError(t, err)
	oldFingerprint := old.Fingerprint()

	cred, err := m.Load(ctx, issuerID, fixture(t, "rotated.pfx"), passphrase)
	require.NoError(t, err)
	assert.Equal(t, 2, cred.Version)
	assert.NotEqual(t, oldFingerprint, cred.Fingerprint)

	// El préstamo anterior sigue firmando con su propia llave.
	data := []byte("firma durante la rotación")
	sig, err := old.SignSHA1(data)
	require.NoError(t, err)
	sum := sha1.Sum(data)
	assert.NoError(t, rsa.VerifyPKCS1v15(old.Certificate().PublicKey.(*rsa.PublicKey), crypto.SHA1, sum[:], sig))
	assert.Equal(t, 1, old.Version())
	assert.False(t, old.Retired())

	// Las firmas nuevas usan la versión 2.
	fresh, err := m.Acquire(issuerID)
	require.NoError(t, err)
	assert.Equal(t, 2, fresh.Version())
	assert.Equal(t, cred.Fingerprint, fresh.Fingerprint())
	fresh.Release()

	old.Release()
	old.Release()

	// Tras liberar el último préstamo la versión anterior se borra de memoria.
	assert.Eventually(t, old.Retired, time.Second, 10*time.Millisecond)
	_, err = old.SignSHA1(data)
	assert.ErrorIs(t, err, nfe.ErrSigningFailure)
}

func TestManager_Store_Warm(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewCredentialRepository()
	sealer, err := certificate.NewSealer("secreto-de-pruebas")
	require.NoError(t, err)

	m := newManager(newClock(june2025), certificate.WithStore(repo, sealer))
	cred, err := m.Load(ctx, issuerID, fixture(t, "valid.pfx"), passphrase)
	require.NoError(t, err)

	rec, err := repo.Get(ctx, issuerID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.NotContains(t, string(rec.SealedPassphrase), passphrase)
	assert.Equal(t, cred.Fingerprint, rec.Fingerprint)

	restarted := newManager(newClock(june2025), certificate.WithStore(repo, sealer))
	require.NoError(t, restarted.Warm(ctx))
	st, err := restarted.Status(issuerID)
	require.NoError(t, err)
	assert.Equal(t, cred.Fingerprint, st.Fingerprint)
}

func TestManager_Warm_OmiteVencidos(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewCredentialRepository()
	sealer, err := certificate.NewSealer("secreto-de-pruebas")
	require.NoError(t, err)

	m := newManager(newClock(june2025), certificate.WithStore(repo, sealer))
	_, err = m.Load(ctx, issuerID, fixture(t, "valid.pfx"), passphrase)
	require.NoError(t, err)

	later := newManager(newClock(time.Date(2035, 1, 1, 0, 0, 0, 0, time.UTC)), certificate.WithStore(repo, sealer))
	require.NoError(t, later.Warm(ctx))
	_, err = later.Status(issuerID)
	assert.ErrorIs(t, err, nfe.ErrNoCredential)
}

func TestManager_Remove(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewCredentialRepository()
	sealer, err := certificate.NewSealer("secreto-de-pruebas")
	require.NoError(t, err)
	obs := &recordingObserver{}

	m := newManager(newClock(june2025), certificate.WithStore(repo, sealer), certificate.WithObserver(obs))
	_, err = m.Load(ctx, issuerID, fixture(t, "valid.pfx"), passphrase)
	require.NoError(t, err)

	require.NoError(t, m.Remove(ctx, issuerID))
	_, err = m.Acquire(issuerID)
	assert.ErrorIs(t, err, nfe.ErrNoCredential)
	assert.Equal(t, []string{issuerID}, obs.removed)

	rec, err := repo.Get(ctx, issuerID)
	require.NoError(t, err)
	assert.Nil(t, rec)

	assert.ErrorIs(t, m.Remove(ctx, issuerID), nfe.ErrNoCredential)
}

func TestSealer(t *testing.T) {
	s, err := certificate.NewSealer("llave")
	require.NoError(t, err)

	box, err := s.Seal([]byte(passphrase))
	require.NoError(t, err)
	out, err := s.Open(box)
	require.NoError(t, err)
	assert.Equal(t, passphrase, string(out))

	other, err := certificate.NewSealer("otra llave")
	require.NoError(t, err)
	_, err = other.Open(box)
	assert.Error(t, err)

	_, err = s.Open([]byte("corto"))
	assert.Error(t, err)

	_, err = certificate.NewSealer("")
	assert.Error(t, err)
}
