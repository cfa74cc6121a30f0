package nfe

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	fiscal "github.com/jhoicas/nfe-api/internal/domain/nfe"
)

// RetryPolicy reintentos explícitos de una llamada a la SEFAZ. Solo se reintenta lo que
// Retryable acepta; por defecto, las fallas momentáneas (Transient).
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64 // fracción 0..1 del retardo que se aleatoriza
	Retryable   func(fiscal.AuthorityOutcome) bool
	Sleep       func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy 3 intentos, 500ms..8s, jitter 20%.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    8 * time.Second,
		Jitter:      0.2,
	}
}

// Backoff retardo antes del intento attempt+1 (attempt empieza en 1), sin jitter.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	return time.Duration(d)
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.Backoff(attempt)
	if p.Jitter <= 0 || d <= 0 {
		return d
	}
	j := float64(d) * p.Jitter
	return time.Duration(float64(d) - j + rand.Float64()*2*j)
}

func (p RetryPolicy) retryable(o fiscal.AuthorityOutcome) bool {
	if p.Retryable != nil {
		return p.Retryable(o)
	}
	return o.Retryable()
}

func (p RetryPolicy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	return SleepContext(ctx, d)
}

// Do ejecuta call hasta obtener un resultado no reintentable o agotar MaxAttempts. Agotar los
// intentos escala el último resultado a Unreachable. Cancelar ctx produce Interrupted.
func (p RetryPolicy) Do(ctx context.Context, call func(ctx context.Context, attempt int) fiscal.AuthorityOutcome) fiscal.AuthorityOutcome {
	max := p.MaxAttempts
	if max < 1 {
		max = 1
	}
	var out fiscal.AuthorityOutcome
	for attempt := 1; ; attempt++ {
		out = call(ctx, attempt)
		out.Attempts = attempt
		if ctx.Err() != nil && out.Kind != fiscal.OutcomeInterrupted && !out.IsDefinitive() {
			return interrupted(out, ctx.Err())
		}
		if !p.retryable(out) {
			return out
		}
		if attempt >= max {
			return escalate(out)
		}
		if err := p.sleep(ctx, p.delay(attempt)); err != nil {
			return interrupted(out, err)
		}
	}
}

// SleepContext espera d o hasta que ctx se cancele.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func escalate(last fiscal.AuthorityOutcome) fiscal.AuthorityOutcome {
	out := last
	out.Kind = fiscal.OutcomeUnreachable
	out.Cause = fmt.Errorf("%w tras %d intentos: cStat %d %s", fiscal.ErrTransientAuthority, last.Attempts, last.Code, last.Message)
	return out
}

func interrupted(last fiscal.AuthorityOutcome, cause error) fiscal.AuthorityOutcome {
	out := last
	out.Kind = fiscal.OutcomeInterrupted
	out.Cause = cause
	return out
}
