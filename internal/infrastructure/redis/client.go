// Package redis conecta con Redis y guarda el estado de contingencia compartido entre instancias.
package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/jhoicas/nfe-api/pkg/config"
)

// Client envuelve el cliente go-redis con chequeo de salud.
type Client struct {
	*redis.Client
}

// New conecta con la URL configurada. Devuelve (nil, nil) si Redis no está configurado.
func New(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{Client: client}, nil
}

// Health verifica la conexión.
func (c *Client) Health(ctx context.Context) error {
	return c.Ping(ctx).Err()
}
