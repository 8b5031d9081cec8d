// Package archiver uploads finalized-instance snapshots to object storage.
// Archival is best-effort evidence retention on top of the database record;
// callers treat failures as warnings, never as finalization failures.
package archiver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"handoff/internal/evidence/mapspec"
	"handoff/internal/exchange/models"
)

// S3Archiver writes instance snapshots to S3 paths like:
//
//	s3://<bucket>/<prefix>/exchanges/YYYY/MM/DD/<instanceID>.json
type S3Archiver struct {
	bucket   string
	prefix   string
	uploader *manager.Uploader
}

// NewS3Archiver creates an S3Archiver. Region and credentials come from the
// environment (AWS_REGION, AWS_PROFILE, AWS_ACCESS_KEY_ID etc.).
func NewS3Archiver(ctx context.Context, bucket, prefix string) (*S3Archiver, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket required")
	}
	cfg, err := awsConfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg)

	return &S3Archiver{
		bucket:   bucket,
		prefix:   prefix,
		uploader: manager.NewUploader(client),
	}, nil
}

// checkInSnapshot mirrors models.CheckIn with a fixed wire form.
type checkInSnapshot struct {
	Lat             float64 `json:"lat"`
	Lng             float64 `json:"lng"`
	DeviceAccuracyM float64 `json:"device_accuracy_m"`
	CheckedInAt     string  `json:"checked_in_at"`
	ClientClaimedAt string  `json:"client_claimed_at"`
	DistanceM       float64 `json:"distance_m"`
	WithinGeofence  bool    `json:"within_geofence"`
	Late            bool    `json:"late"`
}

type snapshot struct {
	InstanceID    string           `json:"instance_id"`
	DefinitionID  string           `json:"definition_id"`
	FromParty     string           `json:"from_party"`
	ToParty       string           `json:"to_party"`
	ScheduledTime string           `json:"scheduled_time"`
	WindowStart   string           `json:"window_start"`
	WindowEnd     string           `json:"window_end"`
	State         string           `json:"state"`
	Outcome       string           `json:"outcome,omitempty"`
	AutoClosed    bool             `json:"auto_closed"`
	FinalizedAt   string           `json:"finalized_at,omitempty"`
	FromCheckIn   *checkInSnapshot `json:"from_check_in,omitempty"`
	ToCheckIn     *checkInSnapshot `json:"to_check_in,omitempty"`
	QRConfirmed   bool             `json:"qr_confirmed"`
	Disputed      bool             `json:"disputed"`
	EarlyAttempts int              `json:"early_attempts"`
	MapSpec       mapspec.MapSpec  `json:"map_spec"`
}

// ArchiveInstance uploads the canonical snapshot of an instance, keyed by its
// finalization date.
func (a *S3Archiver) ArchiveInstance(ctx context.Context, inst *models.ExchangeInstance) error {
	if inst == nil {
		return fmt.Errorf("nil instance")
	}

	body, err := json.Marshal(buildSnapshot(inst))
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	ts := time.Now().UTC()
	if inst.FinalizedAt != nil {
		ts = inst.FinalizedAt.UTC()
	}
	year, month, day := ts.Date()
	objectKey := path.Join(a.prefix, "exchanges",
		fmt.Sprintf("%04d", year),
		fmt.Sprintf("%02d", int(month)),
		fmt.Sprintf("%02d", day),
		fmt.Sprintf("%s.json", inst.ID.String()),
	)

	_, err = a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(a.bucket),
		Key:                  aws.String(objectKey),
		Body:                 bytes.NewReader(body),
		ContentType:          aws.String("application/json"),
		ServerSideEncryption: s3types.ServerSideEncryptionAes256,
	})
	if err != nil {
		return fmt.Errorf("s3 upload failed: %w", err)
	}
	return nil
}

func buildSnapshot(inst *models.ExchangeInstance) snapshot {
	snap := snapshot{
		InstanceID:    inst.ID.String(),
		DefinitionID:  inst.DefinitionID.String(),
		FromParty:     inst.FromParty.String(),
		ToParty:       inst.ToParty.String(),
		ScheduledTime: inst.ScheduledTime.UTC().Format(time.RFC3339Nano),
		WindowStart:   inst.WindowStart.UTC().Format(time.RFC3339Nano),
		WindowEnd:     inst.WindowEnd.UTC().Format(time.RFC3339Nano),
		State:         string(inst.State),
		AutoClosed:    inst.AutoClosed,
		FromCheckIn:   snapshotCheckIn(inst.FromCheckIn),
		ToCheckIn:     snapshotCheckIn(inst.ToCheckIn),
		QRConfirmed:   inst.QRConfirmation != nil,
		Disputed:      inst.Dispute != nil,
		EarlyAttempts: inst.EarlyAttempts,
		MapSpec:       mapspec.Build(inst),
	}
	if inst.Outcome != nil {
		snap.Outcome = string(*inst.Outcome)
	}
	if inst.FinalizedAt != nil {
		snap.FinalizedAt = inst.FinalizedAt.UTC().Format(time.RFC3339Nano)
	}
	return snap
}

func snapshotCheckIn(ci *models.CheckIn) *checkInSnapshot {
	if ci == nil {
		return nil
	}
	return &checkInSnapshot{
		Lat:             ci.Lat,
		Lng:             ci.Lng,
		DeviceAccuracyM: ci.DeviceAccuracyM,
		CheckedInAt:     ci.CheckedInAt.UTC().Format(time.RFC3339Nano),
		ClientClaimedAt: ci.ClientClaimedAt.UTC().Format(time.RFC3339Nano),
		DistanceM:       ci.DistanceM,
		WithinGeofence:  ci.WithinGeofence,
		Late:            ci.Late,
	}
}
