package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/i474232898/weather-measurements/internal/db"
	"github.com/i474232898/weather-measurements/internal/weather"
)

const (
	statusOK = "ok"

	// tsLayout is fixed-width so that text comparison matches time order.
	tsLayout = "2006-01-02T15:04:05.000000000Z"
)

const selectMeasurements = `
SELECT s.name, t.name, m.value, m.unit, m.ts
FROM measurements m
JOIN stations s ON s.id = m.station_id
JOIN measurement_types t ON t.id = m.measurement_type_id`

func formatTS(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTS(s string) (time.Time, error) {
	return time.Parse(tsLayout, s)
}

// SQLStore implements weather.Store on database/sql for sqlite3 and postgres.
type SQLStore struct {
	conn   *sql.DB
	driver string
	logger *slog.Logger
}

func NewSQLStore(conn *sql.DB, driver string, logger *slog.Logger) *SQLStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLStore{conn: conn, driver: driver, logger: logger}
}

func (s *SQLStore) rebind(query string) string {
	return db.Rebind(s.driver, query)
}

func (s *SQLStore) Begin(ctx context.Context) (weather.UnitOfWork, error) {
	return &sqlUnitOfWork{
		store:    s,
		stations: make(map[string]*stationRef),
		types:    make(map[string]*typeRef),
		keys:     make(map[stagedKey]struct{}),
	}, nil
}

func (s *SQLStore) QueryRange(ctx context.Context, station string, start, end time.Time, measurementType string) ([]weather.Measurement, error) {
	query := selectMeasurements + `
WHERE t.name = ? AND m.ts >= ? AND m.ts <= ?`
	args := []any{measurementType, formatTS(start), formatTS(end)}
	if station != "" {
		query += ` AND s.name = ?`
		args = append(args, station)
	}
	query += `
ORDER BY m.ts, m.id`

	return s.queryMeasurements(ctx, query, args...)
}

func (s *SQLStore) ListMeasurements(ctx context.Context, f weather.MeasurementFilter) ([]weather.Measurement, error) {
	order := "ASC"
	if f.Descending {
		order = "DESC"
	}
	query := selectMeasurements + `
WHERE s.name = ? AND m.ts >= ? AND m.ts <= ?
ORDER BY m.ts ` + order + `, m.id
LIMIT ? OFFSET ?`

	return s.queryMeasurements(ctx, query, f.Station, formatTS(f.Start), formatTS(f.End), f.Limit, f.Offset)
}

func (s *SQLStore) queryMeasurements(ctx context.Context, query string, args ...any) ([]weather.Measurement, error) {
	rows, err := s.conn.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query measurements: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Error("close rows", "err", closeErr)
		}
	}()

	var out []weather.Measurement
	for rows.Next() {
		var (
			m  weather.Measurement
			ts string
		)
		if err := rows.Scan(&m.StationName, &m.MeasurementType, &m.Value, &m.Unit, &ts); err != nil {
			return nil, fmt.Errorf("scan measurement: %w", err)
		}
		if m.TimestampUTC, err = parseTS(ts); err != nil {
			return nil, fmt.Errorf("parse timestamp %q: %w", ts, err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate measurements: %w", err)
	}
	return out, nil
}

func (s *SQLStore) ListStations(ctx context.Context) ([]weather.Station, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT name FROM stations ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query stations: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Error("close rows", "err", closeErr)
		}
	}()

	var out []weather.Station
	for rows.Next() {
		var st weather.Station
		if err := rows.Scan(&st.Name); err != nil {
			return nil, fmt.Errorf("scan station: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *SQLStore) ListMeasurementTypes(ctx context.Context) ([]weather.MeasurementType, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT name, default_unit FROM measurement_types ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query measurement types: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Error("close rows", "err", closeErr)
		}
	}()

	var out []weather.MeasurementType
	for rows.Next() {
		var mt weather.MeasurementType
		if err := rows.Scan(&mt.Name, &mt.DefaultUnit); err != nil {
			return nil, fmt.Errorf("scan measurement type: %w", err)
		}
		out = append(out, mt)
	}
	return out, rows.Err()
}

func (s *SQLStore) StationExists(ctx context.Context, name string) (bool, error) {
	_, found, err := s.lookupID(ctx, `SELECT id FROM stations WHERE name = ?`, name)
	return found, err
}

func (s *SQLStore) MeasurementTypeExists(ctx context.Context, name string) (bool, error) {
	_, found, err := s.lookupID(ctx, `SELECT id FROM measurement_types WHERE name = ?`, name)
	return found, err
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.conn.PingContext(ctx)
}

func (s *SQLStore) lookupID(ctx context.Context, query string, args ...any) (int64, bool, error) {
	var id int64
	err := s.conn.QueryRowContext(ctx, s.rebind(query), args...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

type stationRef struct {
	id   int64 // 0 while pending
	name string
}

type typeRef struct {
	id   int64
	name string
	unit string
}

type stagedKey struct {
	station string
	mtype   string
	ts      string
}

type stagedRow struct {
	station *stationRef
	mtype   *typeRef
	value   float64
	unit    string
	ts      string
}

// sqlUnitOfWork stages entities in memory and writes them in one transaction
// on Commit. Its reference cache holds both durable and pending rows.
type sqlUnitOfWork struct {
	store *SQLStore

	stations map[string]*stationRef
	types    map[string]*typeRef

	newStations []*stationRef
	newTypes    []*typeRef
	staged      []stagedRow
	keys        map[stagedKey]struct{}

	done bool
}

func (u *sqlUnitOfWork) Insert(ctx context.Context, c weather.Candidate) (bool, error) {
	if u.done {
		return false, weather.ErrUnitOfWorkDone
	}
	log := u.store.logger
	if !strings.EqualFold(c.Status, statusOK) {
		log.Error("rejecting measurement with non-ok status",
			"station", c.StationName, "type", c.TypeName, "status", c.Status, "timestamp", c.TimestampUTC)
		return false, nil
	}

	st, err := u.station(ctx, c.StationName)
	if err != nil {
		return false, fmt.Errorf("resolve station %q: %w", c.StationName, err)
	}
	mt, err := u.measurementType(ctx, c.TypeName, c.Unit)
	if err != nil {
		return false, fmt.Errorf("resolve measurement type %q: %w", c.TypeName, err)
	}

	ts := formatTS(c.TimestampUTC)
	k := stagedKey{station: st.name, mtype: mt.name, ts: ts}
	duplicate := false
	if _, ok := u.keys[k]; ok {
		duplicate = true
	} else if st.id != 0 && mt.id != 0 {
		_, duplicate, err = u.store.lookupID(ctx,
			`SELECT id FROM measurements WHERE station_id = ? AND measurement_type_id = ? AND ts = ?`,
			st.id, mt.id, ts)
		if err != nil {
			return false, fmt.Errorf("check duplicate: %w", err)
		}
	}
	if duplicate {
		log.Debug("skipping duplicate measurement",
			"station", c.StationName, "type", c.TypeName, "timestamp", c.TimestampUTC)
		return false, nil
	}

	u.keys[k] = struct{}{}
	u.staged = append(u.staged, stagedRow{station: st, mtype: mt, value: c.Value, unit: c.Unit, ts: ts})
	return true, nil
}

func (u *sqlUnitOfWork) station(ctx context.Context, name string) (*stationRef, error) {
	if ref, ok := u.stations[name]; ok {
		return ref, nil
	}
	id, _, err := u.store.lookupID(ctx, `SELECT id FROM stations WHERE name = ?`, name)
	if err != nil {
		return nil, err
	}
	ref := &stationRef{id: id, name: name}
	if id == 0 {
		u.newStations = append(u.newStations, ref)
	}
	u.stations[name] = ref
	return ref, nil
}

func (u *sqlUnitOfWork) measurementType(ctx context.Context, name, unit string) (*typeRef, error) {
	if ref, ok := u.types[name]; ok {
		return ref, nil
	}
	id, _, err := u.store.lookupID(ctx, `SELECT id FROM measurement_types WHERE name = ?`, name)
	if err != nil {
		return nil, err
	}
	ref := &typeRef{id: id, name: name, unit: unit}
	if id == 0 {
		u.newTypes = append(u.newTypes, ref)
	}
	u.types[name] = ref
	return ref, nil
}

func (u *sqlUnitOfWork) Commit(ctx context.Context) (rows int, err error) {
	if u.done {
		return 0, weather.ErrUnitOfWorkDone
	}
	u.done = true

	s := u.store
	s.logger.Info("saving changes",
		"stations", len(u.newStations),
		"types", len(u.newTypes),
		"measurements", len(u.staged),
	)
	if len(u.newStations) == 0 && len(u.newTypes) == 0 && len(u.staged) == 0 {
		return 0, nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				s.logger.Error("rollback", "err", rbErr)
			}
		}
	}()

	for _, st := range u.newStations {
		n, err := u.insertRef(ctx, tx, &st.id,
			`INSERT INTO stations (name) VALUES (?) ON CONFLICT DO NOTHING`,
			`SELECT id FROM stations WHERE name = ?`, []any{st.name}, st.name)
		if err != nil {
			return 0, fmt.Errorf("insert station %q: %w", st.name, err)
		}
		rows += n
	}
	for _, mt := range u.newTypes {
		n, err := u.insertRef(ctx, tx, &mt.id,
			`INSERT INTO measurement_types (name, default_unit) VALUES (?, ?) ON CONFLICT DO NOTHING`,
			`SELECT id FROM measurement_types WHERE name = ?`, []any{mt.name, mt.unit}, mt.name)
		if err != nil {
			return 0, fmt.Errorf("insert measurement type %q: %w", mt.name, err)
		}
		rows += n
	}

	insert := s.rebind(`INSERT INTO measurements (station_id, measurement_type_id, ts, value, unit)
VALUES (?, ?, ?, ?, ?) ON CONFLICT DO NOTHING`)
	for _, r := range u.staged {
		res, err := tx.ExecContext(ctx, insert, r.station.id, r.mtype.id, r.ts, r.value, r.unit)
		if err != nil {
			return 0, fmt.Errorf("insert measurement: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("rows affected: %w", err)
		}
		rows += int(n)
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return rows, nil
}

// insertRef inserts a reference row unless it already exists and stores its id in dst.
func (u *sqlUnitOfWork) insertRef(ctx context.Context, tx *sql.Tx, dst *int64, insert, lookup string, args []any, name string) (int, error) {
	res, err := tx.ExecContext(ctx, u.store.rebind(insert), args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if err := tx.QueryRowContext(ctx, u.store.rebind(lookup), name).Scan(dst); err != nil {
		return 0, err
	}
	return int(n), nil
}
