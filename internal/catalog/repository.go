package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/fjod/go_cinema/internal/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "modernc.org/sqlite"
)

var ErrMovieNotFound = errors.New("movie not found")

// Repository reads the movie catalog from SQLite.
type Repository struct {
	db *sql.DB
}

func NewRepository(dbPath string) (*Repository, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite serializes writers and ":memory:" is private to one connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Repository{db: db}, nil
}

func (r *Repository) RunMigrations(migrationsPath string) error {
	driver, err := sqlite.WithInstance(r.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", migrationsPath),
		"sqlite",
		driver,
	)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", err)
	}

	return nil
}

const movieColumns = `id, name, year, price, available, created_at`

func (r *Repository) ListMovies(ctx context.Context) ([]*domain.Movie, error) {
	query := `SELECT ` + movieColumns + ` FROM movies ORDER BY id`
	return r.query(ctx, query)
}

func (r *Repository) GetMovie(ctx context.Context, id int64) (*domain.Movie, error) {
	movies, err := r.query(ctx, `SELECT `+movieColumns+` FROM movies WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(movies) == 0 {
		return nil, fmt.Errorf("movie %d: %w", id, ErrMovieNotFound)
	}
	return movies[0], nil
}

// GetMovies returns the requested movies keyed by id. Unknown ids are absent
// from the result.
func (r *Repository) GetMovies(ctx context.Context, ids []int64) (map[int64]*domain.Movie, error) {
	out := make(map[int64]*domain.Movie, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	query := `SELECT ` + movieColumns + ` FROM movies WHERE id IN (` + strings.Join(placeholders, ",") + `)`

	movies, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	for _, m := range movies {
		out[m.ID] = m
	}
	return out, nil
}

func (r *Repository) query(ctx context.Context, query string, args ...any) ([]*domain.Movie, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query movies: %w", err)
	}
	defer rows.Close()

	var movies []*domain.Movie
	for rows.Next() {
		m := &domain.Movie{}
		if err := rows.Scan(&m.ID, &m.Name, &m.Year, &m.Price, &m.Available, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan movie: %w", err)
		}
		movies = append(movies, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return movies, nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}
