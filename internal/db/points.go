package db

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"
)

// TrackPoint is one recorded position sample. Once saved it is never
// modified; ID is assigned by the store and preserves insertion order.
type TrackPoint struct {
	ID         int64     `json:"id"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Accuracy   *float64  `json:"accuracy,omitempty"` // metres
	Speed      *float64  `json:"speed,omitempty"`    // metres per second
	RecordedAt time.Time `json:"recorded_at"`
	SessionID  string    `json:"session_id,omitempty"`
}

// Validate reports whether the sample can be stored.
func (p *TrackPoint) Validate() error {
	switch {
	case math.IsNaN(p.Latitude) || p.Latitude < -90 || p.Latitude > 90:
		return fmt.Errorf("latitude %v out of range [-90, 90]", p.Latitude)
	case math.IsNaN(p.Longitude) || p.Longitude < -180 || p.Longitude > 180:
		return fmt.Errorf("longitude %v out of range [-180, 180]", p.Longitude)
	case p.Accuracy != nil && (math.IsNaN(*p.Accuracy) || *p.Accuracy < 0):
		return fmt.Errorf("accuracy %v must be non-negative", *p.Accuracy)
	case p.Speed != nil && (math.IsNaN(*p.Speed) || *p.Speed < 0):
		return fmt.Errorf("speed %v must be non-negative", *p.Speed)
	case p.RecordedAt.IsZero():
		return fmt.Errorf("recorded_at is not set")
	}
	return nil
}

func (p *TrackPoint) String() string {
	return fmt.Sprintf("(%.6f, %.6f) at %s", p.Latitude, p.Longitude, p.RecordedAt.Format(time.RFC3339Nano))
}

// Save appends p to the track and sets p.ID. A nil point is ignored. Points
// are not deduplicated.
func (db *DB) Save(ctx context.Context, p *TrackPoint) error {
	if p == nil {
		return nil
	}
	if err := db.Initialize(ctx); err != nil {
		return err
	}

	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	res, err := db.ExecContext(ctx,
		`INSERT INTO track_points (latitude, longitude, accuracy, speed, recorded_at, session_id)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		p.Latitude, p.Longitude,
		nullFloat(p.Accuracy), nullFloat(p.Speed),
		p.RecordedAt.UTC().UnixNano(), p.SessionID,
	)
	if err != nil {
		return storageFault("insert track point", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return storageFault("read inserted id", err)
	}
	p.ID = id
	return nil
}

// AllOrdered returns every stored point, oldest first. Points recorded at
// the same instant come back in insertion order. The result is never nil.
func (db *DB) AllOrdered(ctx context.Context) ([]TrackPoint, error) {
	if err := db.Initialize(ctx); err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx,
		`SELECT id, latitude, longitude, accuracy, speed, recorded_at, session_id
		 FROM track_points
		 ORDER BY recorded_at ASC, id ASC`)
	if err != nil {
		return nil, storageFault("query track points", err)
	}
	defer rows.Close()

	points := []TrackPoint{}
	for rows.Next() {
		var (
			p          TrackPoint
			accuracy   sql.NullFloat64
			speed      sql.NullFloat64
			recordedAt int64
		)
		if err := rows.Scan(&p.ID, &p.Latitude, &p.Longitude, &accuracy, &speed, &recordedAt, &p.SessionID); err != nil {
			return nil, storageFault("scan track point", err)
		}
		p.Accuracy = floatPtr(accuracy)
		p.Speed = floatPtr(speed)
		p.RecordedAt = time.Unix(0, recordedAt).UTC()
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storageFault("iterate track points", err)
	}
	return points, nil
}

// ClearAll removes every point in a single transaction, so readers see
// either the full track or an empty one.
func (db *DB) ClearAll(ctx context.Context) error {
	if err := db.Initialize(ctx); err != nil {
		return err
	}

	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return storageFault("begin clear", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM track_points`)
	if err != nil {
		return storageFault("delete track points", err)
	}
	if err := tx.Commit(); err != nil {
		return storageFault("commit clear", err)
	}

	if n, err := res.RowsAffected(); err == nil {
		logf("cleared %d track points", n)
	}
	return nil
}

// Count returns the number of stored points.
func (db *DB) Count(ctx context.Context) (int64, error) {
	if err := db.Initialize(ctx); err != nil {
		return 0, err
	}

	var n int64
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM track_points`).Scan(&n); err != nil {
		return 0, storageFault("count track points", err)
	}
	return n, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
