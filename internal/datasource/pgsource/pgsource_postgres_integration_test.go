package pgsource

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"metromap/core-go/internal/db"
	"metromap/core-go/internal/geom"
	"metromap/core-go/internal/mapdata"
)

func requireTestDatabaseURL(t *testing.T) string {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping Postgres integration test")
	}
	return dsn
}

func mustDeriveDatabaseURL(t *testing.T, baseURL, dbName string) string {
	t.Helper()

	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		t.Skipf("TEST_DATABASE_URL must be a URL-style DSN (e.g. postgres://...); got %q", baseURL)
	}

	u.Path = "/" + dbName
	return u.String()
}

func newTestDatabaseName() string {
	// Safe identifier (letters/digits/underscores) so we can use it without quoting.
	return fmt.Sprintf("metromap_test_%d", time.Now().UnixNano())
}

func execAdmin(ctx context.Context, adminURL, sql string) error {
	conn, err := pgx.Connect(ctx, adminURL)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, sql)
	return err
}

func migrationsDir(t *testing.T) string {
	t.Helper()

	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("runtime.Caller failed")
	}
	repoRoot := filepath.Clean(filepath.Join(filepath.Dir(thisFile), "..", "..", ".."))
	return filepath.Join(repoRoot, "migrations")
}

func applyMigrations(ctx context.Context, conn *pgx.Conn, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	var ups []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
			ups = append(ups, e.Name())
		}
	}
	sort.Strings(ups)

	for _, name := range ups {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		if _, err := conn.Exec(ctx, string(b)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
	}
	return nil
}

func TestSource_Postgres_ImportAndQuery(t *testing.T) {
	adminURL := requireTestDatabaseURL(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	dbName := newTestDatabaseName()
	testDBURL := mustDeriveDatabaseURL(t, adminURL, dbName)

	if err := execAdmin(ctx, adminURL, "CREATE DATABASE "+dbName); err != nil {
		t.Fatalf("create database: %v", err)
	}
	t.Cleanup(func() {
		_ = execAdmin(context.Background(), adminURL, "DROP DATABASE "+dbName+" WITH (FORCE)")
	})

	mConn, err := pgx.Connect(ctx, testDBURL)
	if err != nil {
		t.Fatalf("connect for migrations: %v", err)
	}
	if err := applyMigrations(ctx, mConn, migrationsDir(t)); err != nil {
		_ = mConn.Close(ctx)
		t.Fatalf("apply migrations: %v", err)
	}
	if err := mConn.Close(ctx); err != nil {
		t.Fatalf("close migration connection: %v", err)
	}

	pool, err := db.Open(ctx, testDBURL, db.Options{})
	if err != nil {
		t.Fatalf("open db pool: %v", err)
	}
	t.Cleanup(pool.Close)
	q := pool.Queries()

	cfg := mapdata.Configuration{Frame: geom.Rect{Size: geom.Size{Width: 100, Height: 50}}, Title: "Metro"}
	m := mapdata.Map{
		Stations: []mapdata.Station{
			{ID: 1, Name: "North", Position: geom.Point{X: 10, Y: 10}, Level: 1},
			{ID: 2, Name: "East", Position: geom.Point{X: 90, Y: 10}, Level: 2},
		},
		Segments: []mapdata.Segment{
			{ID: 10, Shape: 1, Line: 2, Points: []geom.Point{{X: 0, Y: 10}, {X: 40, Y: 10}}},
			{ID: 11, Shape: 1, Line: 3, Points: []geom.Point{{X: 60, Y: 10}, {X: 95, Y: 40}}},
		},
	}
	if err := Import(ctx, q, cfg, m, map[int]string{1: `<circle r="4"/>`}); err != nil {
		t.Fatalf("import: %v", err)
	}

	src := New(q)
	got, err := src.Configuration(ctx)
	if err != nil || got.Frame != cfg.Frame || got.Title != "Metro" {
		t.Fatalf("unexpected configuration %+v, %v", got, err)
	}

	west, err := src.LoadMap(ctx, geom.Rect{Size: geom.Size{Width: 45, Height: 30}})
	if err != nil {
		t.Fatalf("load map: %v", err)
	}
	if len(west.Stations) != 1 || west.Stations[0].ID != 1 {
		t.Fatalf("unexpected stations %+v", west.Stations)
	}
	if len(west.Segments) != 1 || west.Segments[0].ID != 10 || len(west.Segments[0].Points) != 2 {
		t.Fatalf("unexpected segments %+v", west.Segments)
	}

	icon, err := src.IconForLevel(ctx, 1)
	if err != nil || icon != `<circle r="4"/>` {
		t.Fatalf("unexpected icon %q, %v", icon, err)
	}
}
