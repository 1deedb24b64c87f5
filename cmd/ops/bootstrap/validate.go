package main

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
)

// ValidationResult is the outcome of one input check.
type ValidationResult struct {
	Valid   bool
	Message string
}

// DatabaseConnector opens and immediately closes a connection to dsn.
type DatabaseConnector interface {
	Connect(ctx context.Context, dsn string) error
}

// PgxConnector connects with pgx.
type PgxConnector struct{}

func (c *PgxConnector) Connect(ctx context.Context, dsn string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	return conn.Close(ctx)
}

// RedisPinger sends PING to the server described by opts.
type RedisPinger interface {
	Ping(ctx context.Context, opts *redis.Options) error
}

// GoRedisPinger pings with a throwaway go-redis client.
type GoRedisPinger struct{}

func (GoRedisPinger) Ping(ctx context.Context, opts *redis.Options) error {
	client := redis.NewClient(opts)
	defer client.Close()
	return client.Ping(ctx).Err()
}

// Validator holds the live probes used to check operator input. A nil probe
// skips the live check and validates the format only.
type Validator struct {
	dbConn DatabaseConnector
	redis  RedisPinger
}

// NewValidator returns a Validator with real probes.
func NewValidator() *Validator {
	return &Validator{dbConn: &PgxConnector{}, redis: GoRedisPinger{}}
}

// NewValidatorWithDeps returns a Validator with the given probes.
func NewValidatorWithDeps(dbConn DatabaseConnector, pinger RedisPinger) *Validator {
	return &Validator{dbConn: dbConn, redis: pinger}
}

const validateTimeout = 15 * time.Second

// ValidateDatabaseURL checks the scheme and then connects with the
// credentials to prove they work.
func (v *Validator) ValidateDatabaseURL(ctx context.Context, rawURL string) ValidationResult {
	rawURL = strings.TrimSpace(rawURL)
	parsed, err := url.Parse(rawURL)
	if err != nil || rawURL == "" {
		return ValidationResult{Message: fmt.Sprintf("invalid URL format: %v", err)}
	}
	if parsed.Scheme != "postgres" && parsed.Scheme != "postgresql" {
		return ValidationResult{Message: fmt.Sprintf("expected postgres:// or postgresql:// scheme, got %q", parsed.Scheme)}
	}
	if parsed.Hostname() == "" {
		return ValidationResult{Message: "database URL has no host"}
	}
	if v.dbConn == nil {
		return ValidationResult{Valid: true, Message: "format ok (connection not checked)"}
	}

	connCtx, cancel := context.WithTimeout(ctx, validateTimeout)
	defer cancel()
	if err := v.dbConn.Connect(connCtx, rawURL); err != nil {
		return ValidationResult{Message: fmt.Sprintf("connection failed: %v", err)}
	}
	return ValidationResult{Valid: true, Message: fmt.Sprintf("database connection verified (host=%s)", parsed.Hostname())}
}

// ValidateRedisURL parses the URL the same way the cache store does and
// pings the server.
func (v *Validator) ValidateRedisURL(ctx context.Context, rawURL string) ValidationResult {
	opts, err := redis.ParseURL(strings.TrimSpace(rawURL))
	if err != nil {
		return ValidationResult{Message: fmt.Sprintf("invalid redis URL: %v", err)}
	}
	if v.redis == nil {
		return ValidationResult{Valid: true, Message: "format ok (connection not checked)"}
	}

	pingCtx, cancel := context.WithTimeout(ctx, validateTimeout)
	defer cancel()
	if err := v.redis.Ping(pingCtx, opts); err != nil {
		return ValidationResult{Message: fmt.Sprintf("PING failed: %v", err)}
	}
	return ValidationResult{Valid: true, Message: fmt.Sprintf("redis reachable (addr=%s, db=%d)", opts.Addr, opts.DB)}
}

// queuePathRegex matches /{account id}/{queue name}.
var queuePathRegex = regexp.MustCompile(`^/[0-9]{12}/[A-Za-z0-9_-]{1,80}(\.fifo)?$`)

// ValidateQueueURL checks the shape of an SQS queue URL. The queue itself is
// not probed since the bootstrap identity may lack sqs:GetQueueAttributes.
func (v *Validator) ValidateQueueURL(_ context.Context, rawURL string) ValidationResult {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ValidationResult{Message: fmt.Sprintf("invalid URL format: %v", err)}
	}
	if parsed.Scheme != "https" {
		return ValidationResult{Message: fmt.Sprintf("expected https:// scheme, got %q", parsed.Scheme)}
	}
	if !strings.HasPrefix(parsed.Host, "sqs.") {
		return ValidationResult{Message: fmt.Sprintf("host %q is not an SQS endpoint", parsed.Host)}
	}
	if !queuePathRegex.MatchString(parsed.Path) {
		return ValidationResult{Message: fmt.Sprintf("path %q must be /{account-id}/{queue-name}", parsed.Path)}
	}
	return ValidationResult{Valid: true, Message: fmt.Sprintf("queue URL ok (%s)", parsed.Path[14:])}
}
