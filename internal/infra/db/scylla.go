package db

import (
	"context"
	"fmt"

	"github.com/gocql/gocql"

	"github.com/acme/outbound-call-queue/internal/config"
	"github.com/acme/outbound-call-queue/internal/infra/migrations"
)

// Scylla wraps a gocql session holding the attempt journal keyspace.
type Scylla struct {
	session *gocql.Session
}

// NewScylla creates a session and makes sure the journal tables exist.
func NewScylla(ctx context.Context, cfg config.ScyllaConfig) (*Scylla, error) {
	cluster := gocql.NewCluster(cfg.Hosts...)
	if cfg.Port > 0 {
		cluster.Port = cfg.Port
	}
	cluster.Keyspace = cfg.Keyspace
	cluster.Consistency = ParseConsistency(cfg.Consistency)
	if cfg.Timeout > 0 {
		cluster.Timeout = cfg.Timeout
	}
	cluster.RetryPolicy = &gocql.SimpleRetryPolicy{NumRetries: 3}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("scylla: create session: %w", err)
	}

	if err := migrations.RunCQL(ctx, session); err != nil {
		session.Close()
		return nil, fmt.Errorf("scylla: %w", err)
	}

	return &Scylla{session: session}, nil
}

// Session exposes the gocql session.
func (s *Scylla) Session() *gocql.Session {
	return s.session
}

// Ping runs a trivial query against the cluster.
func (s *Scylla) Ping(ctx context.Context) error {
	if err := s.session.Query(`SELECT now() FROM system.local`).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("scylla: ping: %w", err)
	}
	return nil
}

// Close shuts down the session.
func (s *Scylla) Close() error {
	if s.session != nil {
		s.session.Close()
	}
	return nil
}

// ParseConsistency maps a config value to a gocql consistency level.
func ParseConsistency(level string) gocql.Consistency {
	switch level {
	case "one":
		return gocql.One
	case "local_quorum":
		return gocql.LocalQuorum
	case "local_one":
		return gocql.LocalOne
	case "each_quorum":
		return gocql.EachQuorum
	case "quorum":
		fallthrough
	default:
		return gocql.Quorum
	}
}
