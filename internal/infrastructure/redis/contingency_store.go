package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jhoicas/nfe-api/internal/application/contingency"
)

const (
	failuresKeyPrefix = "nfe:contingency:failures:"
	stateKeyPrefix    = "nfe:contingency:state:"

	// failuresTTL un contador sin fallos nuevos se descarta
	failuresTTL = 6 * time.Hour
)

// ContingencyStore implementa contingency.StateStore sobre Redis: INCR para el contador de
// fallos y SETNX para la bandera, así solo una instancia registra la activación.
type ContingencyStore struct {
	client *redis.Client
}

var _ contingency.StateStore = (*ContingencyStore)(nil)

// NewContingencyStore construye el almacén.
func NewContingencyStore(client *redis.Client) *ContingencyStore {
	return &ContingencyStore{client: client}
}

func (s *ContingencyStore) RecordFailure(ctx context.Context, issuerID string) (int, error) {
	key := failuresKeyPrefix + issuerID
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, failuresTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("registrar fallo: %w", err)
	}
	return int(incr.Val()), nil
}

func (s *ContingencyStore) ResetFailures(ctx context.Context, issuerID string) error {
	return s.client.Del(ctx, failuresKeyPrefix+issuerID).Err()
}

func (s *ContingencyStore) Failures(ctx context.Context, issuerID string) (int, error) {
	n, err := s.client.Get(ctx, failuresKeyPrefix+issuerID).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

func (s *ContingencyStore) Activate(ctx context.Context, st contingency.State) (bool, error) {
	raw, err := json.Marshal(st)
	if err != nil {
		return false, err
	}
	return s.client.SetNX(ctx, stateKeyPrefix+st.IssuerID, raw, 0).Result()
}

func (s *ContingencyStore) Deactivate(ctx context.Context, issuerID string) error {
	return s.client.Del(ctx, stateKeyPrefix+issuerID, failuresKeyPrefix+issuerID).Err()
}

func (s *ContingencyStore) Get(ctx context.Context, issuerID string) (*contingency.State, error) {
	raw, err := s.client.Get(ctx, stateKeyPrefix+issuerID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var st contingency.State
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("decodificar estado de contingencia: %w", err)
	}
	return &st, nil
}
