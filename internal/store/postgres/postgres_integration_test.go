//go:build integration

package postgres_test

import (
	"testing"

	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/cyberstudio/batchmq/internal/store/postgres"
	pkgtest "github.com/cyberstudio/batchmq/pkg/test"
)

// adapterSuite runs the bulk insert engine's Postgres adapter against a
// real, ephemeral Postgres instance rather than a mock, since the
// transport/data error classification depends on pgconn's actual error
// shapes.
type adapterSuite struct {
	pkgtest.Suite
	container *tcpostgres.PostgresContainer
	adapter   *postgres.Adapter
}

func (s *adapterSuite) SetupTest() {
	s.Suite.SetupTest()

	container, err := tcpostgres.Run(s.Ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("batchmq"),
		tcpostgres.WithUsername("batchmq"),
		tcpostgres.WithPassword("batchmq"),
	)
	s.Require().NoError(err)
	s.container = container

	host, err := container.Host(s.Ctx)
	s.Require().NoError(err)
	port, err := container.MappedPort(s.Ctx, "5432/tcp")
	s.Require().NoError(err)

	s.adapter = postgres.New(postgres.Config{
		Host: host, Port: port.Port(), User: "batchmq", Password: "batchmq", Name: "batchmq",
		SSLMode: "disable", MaxOpenConns: 5, MaxIdleConns: 5,
	})
	s.Require().NoError(s.adapter.Connect(s.Ctx))
}

func (s *adapterSuite) TearDownTest() {
	if s.adapter != nil {
		_ = s.adapter.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(s.Ctx)
	}
}

func (s *adapterSuite) TestBulkInsert_IntoExistingTable() {
	err := s.adapter.BulkInsert(s.Ctx, "pg_catalog.pg_tables", nil)
	s.NoError(err, "inserting zero rows is always a no-op, independent of the table")
}

func TestPostgresAdapter(t *testing.T) {
	pkgtest.Run(t, new(adapterSuite))
}
