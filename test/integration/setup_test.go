//go:build integration

package integration

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/telehealth/telehealth/internal/platform/db"
)

// dbSuite starts one Postgres container per suite and applies the embedded
// migrations to it. Tables are truncated before every test.
type dbSuite struct {
	suite.Suite
	ctx       context.Context
	container *postgres.PostgresContainer
	connStr   string
	pool      *pgxpool.Pool
	migrator  *db.Migrator
}

func (s *dbSuite) SetupSuite() {
	time.Local = time.UTC
	s.ctx = context.Background()

	container, err := postgres.Run(s.ctx, "postgres:16-alpine",
		postgres.WithDatabase("telehealth"),
		postgres.WithUsername("telehealth"),
		postgres.WithPassword("telehealth"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	s.Require().NoError(err, "start postgres container")
	s.container = container

	s.connStr, err = container.ConnectionString(s.ctx, "sslmode=disable")
	s.Require().NoError(err)

	s.migrator, err = db.NewMigrator(s.connStr, zerolog.Nop())
	s.Require().NoError(err)
	s.Require().NoError(s.migrator.Up(s.ctx))

	s.pool, err = db.NewPool(s.ctx, db.PoolConfig{URL: s.connStr, MaxConns: 10})
	s.Require().NoError(err)
}

func (s *dbSuite) TearDownSuite() {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.container != nil {
		if err := s.container.Terminate(s.ctx); err != nil {
			s.T().Logf("terminate postgres container: %v", err)
		}
	}
}

func (s *dbSuite) SetupTest() {
	_, err := s.pool.Exec(s.ctx, "TRUNCATE payment_attempts, appointment")
	s.Require().NoError(err)
}
