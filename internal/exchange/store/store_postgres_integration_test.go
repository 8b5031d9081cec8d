//go:build integration

package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"handoff/internal/exchange/models"
)

type PostgresStoreSuite struct {
	suite.Suite
	container *postgres.PostgresContainer
	pool      *pgxpool.Pool
	store     *PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16",
		postgres.WithDatabase("handoff_test"),
		postgres.WithUsername("handoff"),
		postgres.WithPassword("handoff"),
		postgres.BasicWaitStrategies(),
	)
	s.Require().NoError(err)
	s.container = container

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	s.Require().NoError(err)

	pool, err := pgxpool.New(ctx, dsn)
	s.Require().NoError(err)
	s.pool = pool

	s.store = NewPostgresStore(pool)
	s.Require().NoError(s.store.EnsureSchema(ctx))
}

func (s *PostgresStoreSuite) TearDownSuite() {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(context.Background())
	}
}

func (s *PostgresStoreSuite) SetupTest() {
	_, err := s.pool.Exec(context.Background(), `TRUNCATE exchange_instances`)
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) TestCreateGetRoundTrip() {
	ctx := context.Background()
	inst := newTestInstance(time.Now().UTC().Add(time.Hour).Truncate(time.Microsecond))
	now := time.Now().UTC().Truncate(time.Microsecond)
	inst.CreatedAt = now
	inst.UpdatedAt = now

	s.Require().NoError(s.store.Create(ctx, inst))

	got, err := s.store.Get(ctx, inst.ID)
	s.Require().NoError(err)
	s.Equal(inst.ID, got.ID)
	s.Equal(inst.FromParty, got.FromParty)
	s.Equal(inst.Geofence, got.Geofence)
	s.Equal(models.StateScheduled, got.State)
	s.Equal(int64(1), got.Version)
	s.Nil(got.FromCheckIn)
	s.Nil(got.Outcome)
}

func (s *PostgresStoreSuite) TestCreateDuplicate() {
	ctx := context.Background()
	inst := newTestInstance(time.Now().UTC().Add(time.Hour))
	s.Require().NoError(s.store.Create(ctx, inst))
	s.ErrorIs(s.store.Create(ctx, inst), ErrAlreadyExists)
}

func (s *PostgresStoreSuite) TestGetNotFoundPostgres() {
	_, err := s.store.Get(context.Background(), newTestInstance(time.Now()).ID)
	s.ErrorIs(err, ErrNotFound)
}

func (s *PostgresStoreSuite) TestUpdatePersistsCheckInSlots() {
	ctx := context.Background()
	inst := newTestInstance(time.Now().UTC().Add(time.Hour).Truncate(time.Microsecond))
	s.Require().NoError(s.store.Create(ctx, inst))

	now := time.Now().UTC().Truncate(time.Microsecond)
	inst.FromCheckIn = &models.CheckIn{
		Lat: 34.0522, Lng: -118.2440, DeviceAccuracyM: 10,
		CheckedInAt: now, ClientClaimedAt: now.Add(-2 * time.Second),
		DistanceM: 27.6, WithinGeofence: true,
	}
	inst.State = models.StatePartiallyCheckedIn
	inst.UpdatedAt = now
	s.Require().NoError(s.store.Update(ctx, inst))
	s.Equal(int64(2), inst.Version)

	got, err := s.store.Get(ctx, inst.ID)
	s.Require().NoError(err)
	s.Require().NotNil(got.FromCheckIn)
	s.Equal(inst.FromCheckIn.DistanceM, got.FromCheckIn.DistanceM)
	s.True(got.FromCheckIn.WithinGeofence)
	s.True(got.FromCheckIn.CheckedInAt.Equal(now))
	s.Equal(models.StatePartiallyCheckedIn, got.State)
}

func (s *PostgresStoreSuite) TestUpdateStaleVersionConflicts() {
	ctx := context.Background()
	inst := newTestInstance(time.Now().UTC().Add(time.Hour))
	s.Require().NoError(s.store.Create(ctx, inst))

	a, err := s.store.Get(ctx, inst.ID)
	s.Require().NoError(err)
	b, err := s.store.Get(ctx, inst.ID)
	s.Require().NoError(err)

	a.State = models.StateWindowOpen
	s.Require().NoError(s.store.Update(ctx, a))

	b.State = models.StatePartiallyCheckedIn
	s.ErrorIs(s.store.Update(ctx, b), ErrConflict)
}

// TestConcurrentCheckInsSerialize drives both parties' check-ins from many
// goroutines; the row lock plus version check must allow exactly one winner
// per version with no lost updates.
func (s *PostgresStoreSuite) TestConcurrentCheckInsSerialize() {
	ctx := context.Background()
	inst := newTestInstance(time.Now().UTC().Add(time.Hour))
	s.Require().NoError(s.store.Create(ctx, inst))

	const writers = 10
	var wg sync.WaitGroup
	results := make(chan error, writers)

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := s.store.Get(ctx, inst.ID)
			if err != nil {
				results <- err
				return
			}
			got.EarlyAttempts++
			results <- s.store.Update(ctx, got)
		}()
	}
	wg.Wait()
	close(results)

	var succeeded int
	for err := range results {
		if err == nil {
			succeeded++
		} else {
			s.Require().ErrorIs(err, ErrConflict)
		}
	}
	s.Require().GreaterOrEqual(succeeded, 1)

	final, err := s.store.Get(ctx, inst.ID)
	s.Require().NoError(err)
	s.Equal(int64(succeeded+1), final.Version)
	s.Equal(succeeded, final.EarlyAttempts)
}

func (s *PostgresStoreSuite) TestListExpiredSkipsTerminalAndArchived() {
	ctx := context.Background()
	now := time.Now().UTC()

	expired := newTestInstance(now.Add(-time.Minute))
	live := newTestInstance(now.Add(time.Hour))
	terminal := newTestInstance(now.Add(-time.Minute))
	terminal.State = models.StateCompleted
	outcome := models.OutcomeCompleted
	terminal.Outcome = &outcome
	archived := newTestInstance(now.Add(-time.Minute))
	archivedAt := now
	archived.ArchivedAt = &archivedAt

	for _, inst := range []*models.ExchangeInstance{expired, live, terminal, archived} {
		s.Require().NoError(s.store.Create(ctx, inst))
	}

	got, err := s.store.ListExpired(ctx, now, 10)
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal(expired.ID, got[0].ID)
}
