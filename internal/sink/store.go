package sink

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"time"

	"stereo-calib/internal/calib"
	"stereo-calib/internal/frame"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store keeps every published calibration in SQLite. The most recent entry
// of a tracker is its active calibration.
type Store struct {
	*sql.DB
}

// OpenStore opens (or creates) the database at path and migrates it to the
// latest schema.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database %s", path)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// MigrateUp runs all pending migrations.
func (s *Store) MigrateUp() error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	// Closing m would close the shared connection.

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, "migration up failed")
	}
	return nil
}

// MigrateVersion returns the current schema version, or 0 before the first migration.
func (s *Store) MigrateVersion() (uint, bool, error) {
	m, err := s.newMigrate()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func (s *Store) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, errors.Wrap(err, "failed to open embedded migrations")
	}
	driver, err := sqlite.WithInstance(s.DB, &sqlite.Config{})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create sqlite driver")
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create migrate instance")
	}
	m.Log = &migrateLogger{}
	return m, nil
}

// migrateLogger implements migrate.Logger on top of logrus.
type migrateLogger struct{}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	logrus.Debugf("[migrate] "+format, v...)
}

func (l *migrateLogger) Verbose() bool {
	return logrus.IsLevelEnabled(logrus.TraceLevel)
}

// Publish implements Sink.
func (s *Store) Publish(ctx context.Context, c Calibration) error {
	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO calibrations (calibration_id, tracker_id, created_at, square_length_mm)
		VALUES (?, ?, ?, ?)`,
		c.ID.String(), c.TrackerID, c.CreatedAt.UnixNano(), c.SquareLengthMm)
	if err != nil {
		return errors.Wrapf(err, "failed to insert calibration %s", c.ID)
	}

	for _, side := range frame.Sides {
		r := c.Get(side)
		perView, err := json.Marshal(r.PerViewErrors)
		if err != nil {
			return errors.Wrap(err, "failed to encode per-view errors")
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO camera_calibrations (
				calibration_id, side, fx, fy, cx, cy, k1, k2, p1, p2, k3,
				reprojection_error, sample_count, per_view_errors
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID.String(), side.String(),
			r.Matrix.Fx(), r.Matrix.Fy(), r.Matrix.Cx(), r.Matrix.Cy(),
			r.Distortion.K1, r.Distortion.K2, r.Distortion.P1, r.Distortion.P2, r.Distortion.K3,
			r.ReprojectionError, r.SampleCount, string(perView))
		if err != nil {
			return errors.Wrapf(err, "failed to insert %s camera of %s", side, c.ID)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit calibration")
	}
	logrus.WithFields(logrus.Fields{
		"id":      c.ID.String(),
		"tracker": c.TrackerID,
	}).Info("calibration stored")
	return nil
}

// Latest returns the active calibration of a tracker, or ErrNotFound.
func (s *Store) Latest(ctx context.Context, trackerID string) (Calibration, error) {
	list, err := s.History(ctx, trackerID, 1)
	if err != nil {
		return Calibration{}, err
	}
	if len(list) == 0 {
		return Calibration{}, errors.Wrapf(ErrNotFound, "tracker %q", trackerID)
	}
	return list[0], nil
}

// History returns up to limit calibrations, newest first. An empty trackerID
// lists every tracker; a limit of zero or less means no limit.
func (s *Store) History(ctx context.Context, trackerID string, limit int) ([]Calibration, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.QueryContext(ctx, `
		SELECT calibration_id, tracker_id, created_at, square_length_mm
		FROM calibrations
		WHERE ? = '' OR tracker_id = ?
		ORDER BY created_at DESC
		LIMIT ?`, trackerID, trackerID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query calibrations")
	}

	var out []Calibration
	for rows.Next() {
		var (
			c       Calibration
			id      string
			created int64
		)
		if err := rows.Scan(&id, &c.TrackerID, &created, &c.SquareLengthMm); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "failed to scan calibration")
		}
		if c.ID, err = uuid.Parse(id); err != nil {
			rows.Close()
			return nil, errors.Wrapf(err, "bad calibration id %q", id)
		}
		c.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read calibrations")
	}

	for i := range out {
		if err := s.loadCameras(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Store) loadCameras(ctx context.Context, c *Calibration) error {
	rows, err := s.QueryContext(ctx, `
		SELECT side, fx, fy, cx, cy, k1, k2, p1, p2, k3,
		       reprojection_error, sample_count, per_view_errors
		FROM camera_calibrations
		WHERE calibration_id = ?`, c.ID.String())
	if err != nil {
		return errors.Wrapf(err, "failed to query cameras of %s", c.ID)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			side           string
			fx, fy, cx, cy float64
			r              calib.Result
			perView        sql.NullString
		)
		err := rows.Scan(&side, &fx, &fy, &cx, &cy,
			&r.Distortion.K1, &r.Distortion.K2, &r.Distortion.P1, &r.Distortion.P2, &r.Distortion.K3,
			&r.ReprojectionError, &r.SampleCount, &perView)
		if err != nil {
			return errors.Wrap(err, "failed to scan camera calibration")
		}
		r.Matrix = calib.NewCameraMatrix(fx, fy, cx, cy)
		if perView.Valid && perView.String != "" && perView.String != "null" {
			if err := json.Unmarshal([]byte(perView.String), &r.PerViewErrors); err != nil {
				return errors.Wrap(err, "failed to decode per-view errors")
			}
		}

		switch side {
		case frame.SideLeft.String():
			c.Left = r
		case frame.SideRight.String():
			c.Right = r
		default:
			logrus.WithField("side", side).Warn("ignoring camera calibration with unknown side")
		}
	}
	return errors.Wrap(rows.Err(), "failed to read camera calibrations")
}

// Baseline returns the active camera models of a tracker. Without a stored
// calibration both models are zero, which sessions replace with a guess
// from the frame size.
func (s *Store) Baseline(ctx context.Context, trackerID string) ([2]calib.Intrinsics, error) {
	c, err := s.Latest(ctx, trackerID)
	if errors.Is(err, ErrNotFound) {
		return [2]calib.Intrinsics{}, nil
	}
	if err != nil {
		return [2]calib.Intrinsics{}, err
	}
	return c.Intrinsics(), nil
}
