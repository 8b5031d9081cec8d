package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	id "handoff/pkg/domain"

	"handoff/internal/exchange/models"
)

// PostgresStore persists exchange instances in PostgreSQL. Update runs inside
// a transaction that takes a row lock and re-checks the version, so two
// near-simultaneous check-ins serialize instead of losing one.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore constructs a PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Schema is the DDL for the exchange_instances table. Applied by deployment
// migrations; EnsureSchema exists for integration tests.
const Schema = `
CREATE TABLE IF NOT EXISTS exchange_instances (
    id                    uuid PRIMARY KEY,
    definition_id         uuid NOT NULL,
    from_party            uuid NOT NULL,
    to_party              uuid NOT NULL,
    scheduled_time        timestamptz NOT NULL,
    window_start          timestamptz NOT NULL,
    window_end            timestamptz NOT NULL,
    center_lat            double precision NOT NULL,
    center_lng            double precision NOT NULL,
    radius_m              double precision NOT NULL,
    from_lat              double precision,
    from_lng              double precision,
    from_accuracy_m       double precision,
    from_checked_in_at    timestamptz,
    from_client_claimed_at timestamptz,
    from_distance_m       double precision,
    from_within           boolean,
    from_late             boolean,
    to_lat                double precision,
    to_lng                double precision,
    to_accuracy_m         double precision,
    to_checked_in_at      timestamptz,
    to_client_claimed_at  timestamptz,
    to_distance_m         double precision,
    to_within             boolean,
    to_late               boolean,
    qr_token_hash         text,
    qr_confirmed_at       timestamptz,
    qr_confirmed_by       uuid,
    dispute_filed_by      uuid,
    dispute_filed_at      timestamptz,
    dispute_notes         text,
    dispute_resolved      boolean,
    state                 text NOT NULL,
    outcome               text,
    auto_closed           boolean NOT NULL DEFAULT false,
    auto_closed_at        timestamptz,
    finalized_at          timestamptz,
    early_attempts        integer NOT NULL DEFAULT 0,
    last_early_attempt_at timestamptz,
    version               bigint NOT NULL,
    created_at            timestamptz NOT NULL,
    updated_at            timestamptz NOT NULL,
    archived_at           timestamptz
);

CREATE INDEX IF NOT EXISTS exchange_instances_sweep_idx
    ON exchange_instances (window_end)
    WHERE state NOT IN ('completed','missed','one_party_present','disputed')
      AND archived_at IS NULL;
`

// EnsureSchema applies the table DDL. Test helper; production uses migrations.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, Schema)
	if err != nil {
		return fmt.Errorf("exchange store: ensure schema: %w", err)
	}
	return nil
}

const instanceColumns = `
    id, definition_id, from_party, to_party,
    scheduled_time, window_start, window_end,
    center_lat, center_lng, radius_m,
    from_lat, from_lng, from_accuracy_m, from_checked_in_at, from_client_claimed_at, from_distance_m, from_within, from_late,
    to_lat, to_lng, to_accuracy_m, to_checked_in_at, to_client_claimed_at, to_distance_m, to_within, to_late,
    qr_token_hash, qr_confirmed_at, qr_confirmed_by,
    dispute_filed_by, dispute_filed_at, dispute_notes, dispute_resolved,
    state, outcome, auto_closed, auto_closed_at, finalized_at,
    early_attempts, last_early_attempt_at,
    version, created_at, updated_at, archived_at`

func (s *PostgresStore) Create(ctx context.Context, inst *models.ExchangeInstance) error {
	inst.Version = 1
	args := instanceArgs(inst)
	_, err := s.pool.Exec(ctx, `
        INSERT INTO exchange_instances (`+instanceColumns+`)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,
                $11,$12,$13,$14,$15,$16,$17,$18,
                $19,$20,$21,$22,$23,$24,$25,$26,
                $27,$28,$29,
                $30,$31,$32,$33,
                $34,$35,$36,$37,$38,
                $39,$40,
                $41,$42,$43,$44)
    `, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("exchange store: insert: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, instanceID id.InstanceID) (*models.ExchangeInstance, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+instanceColumns+` FROM exchange_instances WHERE id=$1`, uuid.UUID(instanceID))
	inst, err := scanInstance(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("exchange store: get: %w", err)
	}
	return inst, nil
}

func (s *PostgresStore) Update(ctx context.Context, inst *models.ExchangeInstance) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("exchange store: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var currentVersion int64
	err = tx.QueryRow(ctx,
		`SELECT version FROM exchange_instances WHERE id=$1 FOR UPDATE`,
		uuid.UUID(inst.ID),
	).Scan(&currentVersion)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("exchange store: lock row: %w", err)
	}
	if currentVersion != inst.Version {
		return ErrConflict
	}

	next := inst.Clone()
	next.Version = currentVersion + 1
	args := instanceArgs(next)
	if _, err := tx.Exec(ctx, `
        UPDATE exchange_instances SET
            definition_id=$2, from_party=$3, to_party=$4,
            scheduled_time=$5, window_start=$6, window_end=$7,
            center_lat=$8, center_lng=$9, radius_m=$10,
            from_lat=$11, from_lng=$12, from_accuracy_m=$13, from_checked_in_at=$14, from_client_claimed_at=$15, from_distance_m=$16, from_within=$17, from_late=$18,
            to_lat=$19, to_lng=$20, to_accuracy_m=$21, to_checked_in_at=$22, to_client_claimed_at=$23, to_distance_m=$24, to_within=$25, to_late=$26,
            qr_token_hash=$27, qr_confirmed_at=$28, qr_confirmed_by=$29,
            dispute_filed_by=$30, dispute_filed_at=$31, dispute_notes=$32, dispute_resolved=$33,
            state=$34, outcome=$35, auto_closed=$36, auto_closed_at=$37, finalized_at=$38,
            early_attempts=$39, last_early_attempt_at=$40,
            version=$41, created_at=$42, updated_at=$43, archived_at=$44
        WHERE id=$1
    `, args...); err != nil {
		return fmt.Errorf("exchange store: update: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("exchange store: commit: %w", err)
	}
	inst.Version = next.Version
	return nil
}

func (s *PostgresStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]*models.ExchangeInstance, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT `+instanceColumns+`
        FROM exchange_instances
        WHERE state NOT IN ('completed','missed','one_party_present','disputed')
          AND archived_at IS NULL
          AND window_end < $1
        ORDER BY window_end
        LIMIT $2
    `, now, limit)
	if err != nil {
		return nil, fmt.Errorf("exchange store: list expired: %w", err)
	}
	defer rows.Close()

	var expired []*models.ExchangeInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("exchange store: scan expired: %w", err)
		}
		expired = append(expired, inst)
	}
	return expired, rows.Err()
}

// instanceArgs flattens an instance into the positional args shared by INSERT
// and UPDATE. Order must match instanceColumns.
func instanceArgs(inst *models.ExchangeInstance) []any {
	var (
		fromLat, fromLng, fromAcc, fromDist          *float64
		fromCheckedAt, fromClaimedAt                 *time.Time
		fromWithin, fromLate                         *bool
		toLat, toLng, toAcc, toDist                  *float64
		toCheckedAt, toClaimedAt                     *time.Time
		toWithin, toLate                             *bool
		qrHash                                       *string
		qrConfirmedAt                                *time.Time
		qrConfirmedBy                                *uuid.UUID
		disputeFiledBy                               *uuid.UUID
		disputeFiledAt                               *time.Time
		disputeNotes                                 *string
		disputeResolved                              *bool
		outcome                                      *string
	)

	if ci := inst.FromCheckIn; ci != nil {
		fromLat, fromLng, fromAcc, fromDist = &ci.Lat, &ci.Lng, &ci.DeviceAccuracyM, &ci.DistanceM
		fromCheckedAt, fromClaimedAt = &ci.CheckedInAt, &ci.ClientClaimedAt
		fromWithin, fromLate = &ci.WithinGeofence, &ci.Late
	}
	if ci := inst.ToCheckIn; ci != nil {
		toLat, toLng, toAcc, toDist = &ci.Lat, &ci.Lng, &ci.DeviceAccuracyM, &ci.DistanceM
		toCheckedAt, toClaimedAt = &ci.CheckedInAt, &ci.ClientClaimedAt
		toWithin, toLate = &ci.WithinGeofence, &ci.Late
	}
	if qr := inst.QRConfirmation; qr != nil {
		qrHash = &qr.TokenHash
		qrConfirmedAt = &qr.ConfirmedAt
		by := uuid.UUID(qr.ConfirmedBy)
		qrConfirmedBy = &by
	}
	if d := inst.Dispute; d != nil {
		by := uuid.UUID(d.FiledBy)
		disputeFiledBy = &by
		disputeFiledAt = &d.FiledAt
		disputeNotes = &d.Notes
		disputeResolved = &d.Resolved
	}
	if inst.Outcome != nil {
		o := string(*inst.Outcome)
		outcome = &o
	}

	return []any{
		uuid.UUID(inst.ID), uuid.UUID(inst.DefinitionID), uuid.UUID(inst.FromParty), uuid.UUID(inst.ToParty),
		inst.ScheduledTime, inst.WindowStart, inst.WindowEnd,
		inst.Geofence.CenterLat, inst.Geofence.CenterLng, inst.Geofence.RadiusM,
		fromLat, fromLng, fromAcc, fromCheckedAt, fromClaimedAt, fromDist, fromWithin, fromLate,
		toLat, toLng, toAcc, toCheckedAt, toClaimedAt, toDist, toWithin, toLate,
		qrHash, qrConfirmedAt, qrConfirmedBy,
		disputeFiledBy, disputeFiledAt, disputeNotes, disputeResolved,
		string(inst.State), outcome, inst.AutoClosed, inst.AutoClosedAt, inst.FinalizedAt,
		inst.EarlyAttempts, inst.LastEarlyAttemptAt,
		inst.Version, inst.CreatedAt, inst.UpdatedAt, inst.ArchivedAt,
	}
}

func scanInstance(row pgx.Row) (*models.ExchangeInstance, error) {
	var (
		out                                 models.ExchangeInstance
		instanceID, definitionID            uuid.UUID
		fromParty, toParty                  uuid.UUID
		fromLat, fromLng, fromAcc, fromDist *float64
		fromCheckedAt, fromClaimedAt        *time.Time
		fromWithin, fromLate                *bool
		toLat, toLng, toAcc, toDist         *float64
		toCheckedAt, toClaimedAt            *time.Time
		toWithin, toLate                    *bool
		qrHash                              *string
		qrConfirmedAt                       *time.Time
		qrConfirmedBy                       *uuid.UUID
		disputeFiledBy                      *uuid.UUID
		disputeFiledAt                      *time.Time
		disputeNotes                        *string
		disputeResolved                     *bool
		state                               string
		outcome                             *string
	)

	err := row.Scan(
		&instanceID, &definitionID, &fromParty, &toParty,
		&out.ScheduledTime, &out.WindowStart, &out.WindowEnd,
		&out.Geofence.CenterLat, &out.Geofence.CenterLng, &out.Geofence.RadiusM,
		&fromLat, &fromLng, &fromAcc, &fromCheckedAt, &fromClaimedAt, &fromDist, &fromWithin, &fromLate,
		&toLat, &toLng, &toAcc, &toCheckedAt, &toClaimedAt, &toDist, &toWithin, &toLate,
		&qrHash, &qrConfirmedAt, &qrConfirmedBy,
		&disputeFiledBy, &disputeFiledAt, &disputeNotes, &disputeResolved,
		&state, &outcome, &out.AutoClosed, &out.AutoClosedAt, &out.FinalizedAt,
		&out.EarlyAttempts, &out.LastEarlyAttemptAt,
		&out.Version, &out.CreatedAt, &out.UpdatedAt, &out.ArchivedAt,
	)
	if err != nil {
		return nil, err
	}

	out.ID = id.InstanceID(instanceID)
	out.DefinitionID = id.DefinitionID(definitionID)
	out.FromParty = id.PartyID(fromParty)
	out.ToParty = id.PartyID(toParty)
	out.State = models.InstanceState(state)

	if fromCheckedAt != nil {
		out.FromCheckIn = &models.CheckIn{
			Lat: *fromLat, Lng: *fromLng, DeviceAccuracyM: *fromAcc,
			CheckedInAt: *fromCheckedAt, ClientClaimedAt: *fromClaimedAt,
			DistanceM: *fromDist, WithinGeofence: *fromWithin, Late: *fromLate,
		}
	}
	if toCheckedAt != nil {
		out.ToCheckIn = &models.CheckIn{
			Lat: *toLat, Lng: *toLng, DeviceAccuracyM: *toAcc,
			CheckedInAt: *toCheckedAt, ClientClaimedAt: *toClaimedAt,
			DistanceM: *toDist, WithinGeofence: *toWithin, Late: *toLate,
		}
	}
	if qrConfirmedAt != nil {
		out.QRConfirmation = &models.QRConfirmation{
			TokenHash:   derefString(qrHash),
			ConfirmedAt: *qrConfirmedAt,
			ConfirmedBy: id.PartyID(derefUUID(qrConfirmedBy)),
		}
	}
	if disputeFiledAt != nil {
		out.Dispute = &models.Dispute{
			FiledBy:  id.PartyID(derefUUID(disputeFiledBy)),
			FiledAt:  *disputeFiledAt,
			Notes:    derefString(disputeNotes),
			Resolved: disputeResolved != nil && *disputeResolved,
		}
	}
	if outcome != nil {
		o := models.Outcome(*outcome)
		out.Outcome = &o
	}
	return &out, nil
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefUUID(u *uuid.UUID) uuid.UUID {
	if u == nil {
		return uuid.Nil
	}
	return *u
}

func isUniqueViolation(err error) bool {
	type sqlState interface{ SQLState() string }
	var st sqlState
	if errors.As(err, &st) {
		return st.SQLState() == "23505"
	}
	return false
}
