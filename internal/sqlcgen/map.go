package sqlcgen

import "context"

// BoxParams is an axis-aligned query box in map units.
type BoxParams struct {
	MinX float64
	MinY float64
	MaxX float64
	MaxY float64
}

const listStationsInBox = `-- name: ListStationsInBox :many
SELECT id,
       name,
       x,
       y,
       level
FROM stations
WHERE x BETWEEN $1 AND $3
  AND y BETWEEN $2 AND $4
ORDER BY id ASC
`

func (q *Queries) ListStationsInBox(ctx context.Context, arg BoxParams) ([]Station, error) {
	rows, err := q.db.Query(ctx, listStationsInBox, arg.MinX, arg.MinY, arg.MaxX, arg.MaxY)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Station
	for rows.Next() {
		var i Station
		if err := rows.Scan(&i.ID, &i.Name, &i.X, &i.Y, &i.Level); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listSegmentsInBox = `-- name: ListSegmentsInBox :many
SELECT id,
       shape,
       line,
       color,
       points
FROM segments
WHERE max_x >= $1
  AND min_x <= $3
  AND max_y >= $2
  AND min_y <= $4
ORDER BY id ASC
`

func (q *Queries) ListSegmentsInBox(ctx context.Context, arg BoxParams) ([]Segment, error) {
	rows, err := q.db.Query(ctx, listSegmentsInBox, arg.MinX, arg.MinY, arg.MaxX, arg.MaxY)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Segment
	for rows.Next() {
		var i Segment
		if err := rows.Scan(&i.ID, &i.Shape, &i.Line, &i.Color, &i.Points); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const getStationIcon = `-- name: GetStationIcon :one
SELECT level,
       source
FROM station_icons
WHERE level = $1
`

func (q *Queries) GetStationIcon(ctx context.Context, level int32) (StationIcon, error) {
	row := q.db.QueryRow(ctx, getStationIcon, level)
	var i StationIcon
	err := row.Scan(&i.Level, &i.Source)
	return i, err
}

const upsertStation = `-- name: UpsertStation :exec
INSERT INTO stations (id, name, x, y, level)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE
SET name = EXCLUDED.name,
    x = EXCLUDED.x,
    y = EXCLUDED.y,
    level = EXCLUDED.level
`

func (q *Queries) UpsertStation(ctx context.Context, arg Station) error {
	_, err := q.db.Exec(ctx, upsertStation, arg.ID, arg.Name, arg.X, arg.Y, arg.Level)
	return err
}

const upsertSegment = `-- name: UpsertSegment :exec
INSERT INTO segments (id, shape, line, color, points, min_x, min_y, max_x, max_y)
VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, $8, $9)
ON CONFLICT (id) DO UPDATE
SET shape = EXCLUDED.shape,
    line = EXCLUDED.line,
    color = EXCLUDED.color,
    points = EXCLUDED.points,
    min_x = EXCLUDED.min_x,
    min_y = EXCLUDED.min_y,
    max_x = EXCLUDED.max_x,
    max_y = EXCLUDED.max_y
`

type UpsertSegmentParams struct {
	Segment
	Box BoxParams
}

func (q *Queries) UpsertSegment(ctx context.Context, arg UpsertSegmentParams) error {
	_, err := q.db.Exec(ctx, upsertSegment,
		arg.ID,
		arg.Shape,
		arg.Line,
		arg.Color,
		arg.Points,
		arg.Box.MinX,
		arg.Box.MinY,
		arg.Box.MaxX,
		arg.Box.MaxY,
	)
	return err
}

const upsertStationIcon = `-- name: UpsertStationIcon :exec
INSERT INTO station_icons (level, source)
VALUES ($1, $2)
ON CONFLICT (level) DO UPDATE
SET source = EXCLUDED.source
`

func (q *Queries) UpsertStationIcon(ctx context.Context, arg StationIcon) error {
	_, err := q.db.Exec(ctx, upsertStationIcon, arg.Level, arg.Source)
	return err
}
