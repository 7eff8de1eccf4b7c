// Package numbering issues human-readable order numbers from an atomic
// counter. Numbers are never derived from counting existing orders.
package numbering

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/joao-fontenele/storefront-orders/internal/database"
)

const (
	DefaultPrefix = "RC"
	DefaultWidth  = 6
)

type Sequence interface {
	Next(ctx context.Context) (string, error)
}

// Format renders n as prefix followed by n zero-padded to width digits.
// Numbers wider than width are kept whole.
func Format(prefix string, width int, n int64) string {
	return fmt.Sprintf("%s%0*d", prefix, width, n)
}

type Option func(*format)

type format struct {
	prefix string
	width  int
}

func WithPrefix(prefix string) Option {
	return func(f *format) { f.prefix = prefix }
}

func WithWidth(width int) Option {
	return func(f *format) {
		if width > 0 {
			f.width = width
		}
	}
}

func newFormat(opts []Option) format {
	f := format{prefix: DefaultPrefix, width: DefaultWidth}
	for _, opt := range opts {
		opt(&f)
	}
	return f
}

// PostgresSequence draws from a database sequence. nextval is never rolled
// back, so an aborted order leaves a gap rather than a duplicate.
type PostgresSequence struct {
	db       *sql.DB
	sequence string
	format   format
}

func NewPostgresSequence(db *sql.DB, sequence string, opts ...Option) *PostgresSequence {
	return &PostgresSequence{db: db, sequence: sequence, format: newFormat(opts)}
}

func (s *PostgresSequence) Next(ctx context.Context) (string, error) {
	var n int64
	if err := database.Conn(ctx, s.db).QueryRowContext(ctx, `SELECT nextval($1::regclass)`, s.sequence).Scan(&n); err != nil {
		return "", fmt.Errorf("next order number: %w", err)
	}
	return Format(s.format.prefix, s.format.width, n), nil
}

type RedisSequence struct {
	client redis.Cmdable
	key    string
	format format
}

func NewRedisSequence(client redis.Cmdable, key string, opts ...Option) *RedisSequence {
	return &RedisSequence{client: client, key: key, format: newFormat(opts)}
}

func (s *RedisSequence) Next(ctx context.Context) (string, error) {
	n, err := s.client.Incr(ctx, s.key).Result()
	if err != nil {
		return "", fmt.Errorf("next order number: %w", err)
	}
	return Format(s.format.prefix, s.format.width, n), nil
}

// Ping reports whether the counter's Redis server answers.
func (s *RedisSequence) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
