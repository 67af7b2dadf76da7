package sqlcgen

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX matches the minimal interface needed from pgxpool.Pool or pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgx.Row
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

const getMapConfiguration = `-- name: GetMapConfiguration :one
SELECT frame_x,
       frame_y,
       frame_w,
       frame_h,
       styles,
       title,
       description,
       metadata,
       updated_at
FROM map_configuration
WHERE id = 1
`

func (q *Queries) GetMapConfiguration(ctx context.Context) (MapConfiguration, error) {
	row := q.db.QueryRow(ctx, getMapConfiguration)
	var i MapConfiguration
	err := row.Scan(
		&i.FrameX,
		&i.FrameY,
		&i.FrameW,
		&i.FrameH,
		&i.Styles,
		&i.Title,
		&i.Description,
		&i.Metadata,
		&i.UpdatedAt,
	)
	return i, err
}

const upsertMapConfiguration = `-- name: UpsertMapConfiguration :exec
INSERT INTO map_configuration (id, frame_x, frame_y, frame_w, frame_h, styles, title, description, metadata)
VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO UPDATE
SET frame_x = EXCLUDED.frame_x,
    frame_y = EXCLUDED.frame_y,
    frame_w = EXCLUDED.frame_w,
    frame_h = EXCLUDED.frame_h,
    styles = EXCLUDED.styles,
    title = EXCLUDED.title,
    description = EXCLUDED.description,
    metadata = EXCLUDED.metadata,
    updated_at = now()
`

type UpsertMapConfigurationParams struct {
	FrameX      float64
	FrameY      float64
	FrameW      float64
	FrameH      float64
	Styles      string
	Title       string
	Description string
	Metadata    string
}

func (q *Queries) UpsertMapConfiguration(ctx context.Context, arg UpsertMapConfigurationParams) error {
	_, err := q.db.Exec(ctx, upsertMapConfiguration,
		arg.FrameX,
		arg.FrameY,
		arg.FrameW,
		arg.FrameH,
		arg.Styles,
		arg.Title,
		arg.Description,
		arg.Metadata,
	)
	return err
}
