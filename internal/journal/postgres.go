package journal

import (
	"context"
	"database/sql"

	_ "github.com/lib/pq"

	"github.com/example/driver-agent/internal/models"
)

type PostgresJournal struct {
	db *sql.DB
}

func NewPostgresJournal(dsn string) (*PostgresJournal, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresJournal{db: db}, nil
}

func (p *PostgresJournal) Record(ctx context.Context, t *models.CompletedTrip) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO completed_trips(ride_id, driver_id, user_id, fare_km, travelled_km, fare, anchor_lat, anchor_lon, drop_lat, drop_lon, completed_at) VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		t.RideID, t.DriverID, t.UserID, t.FareKm, t.TravelledKm, t.Fare, t.Anchor.Lat, t.Anchor.Lon, t.Drop.Lat, t.Drop.Lon, t.CompletedAt)
	return err
}

func (p *PostgresJournal) Recent(ctx context.Context, driverID string, limit int) ([]models.CompletedTrip, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT ride_id, driver_id, user_id, fare_km, travelled_km, fare, anchor_lat, anchor_lon, drop_lat, drop_lon, completed_at FROM completed_trips WHERE driver_id=$1 ORDER BY completed_at DESC LIMIT $2`, driverID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.CompletedTrip
	for rows.Next() {
		var t models.CompletedTrip
		if err := rows.Scan(&t.RideID, &t.DriverID, &t.UserID, &t.FareKm, &t.TravelledKm, &t.Fare, &t.Anchor.Lat, &t.Anchor.Lon, &t.Drop.Lat, &t.Drop.Lon, &t.CompletedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (p *PostgresJournal) Close() error {
	return p.db.Close()
}
