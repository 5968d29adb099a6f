package http

import (
	"context"
	"net/http"
	"time"

	"github.com/fjod/go_cinema/internal/domain"
	"go.uber.org/zap"
)

type MovieCatalog interface {
	ListMovies(ctx context.Context) ([]*domain.Movie, error)
}

type MoviesHandler struct {
	catalog MovieCatalog
	timeout time.Duration
	log     *zap.Logger
}

func NewMoviesHandler(catalog MovieCatalog, timeout time.Duration, log *zap.Logger) *MoviesHandler {
	return &MoviesHandler{catalog: catalog, timeout: timeout, log: log}
}

// GET /movies
func (h *MoviesHandler) ListMovies(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	movies, err := h.catalog.ListMovies(ctx)
	if err != nil {
		handleError(w, h.log, err)
		return
	}

	dtos := make([]MovieDTO, 0, len(movies))
	for _, m := range movies {
		dtos = append(dtos, convertMovie(m))
	}
	respondJSON(w, http.StatusOK, dtos)
}
