package httpserver

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Clark-Hu/cinelist/internal/domain"
)

type moviePageReader func(ctx context.Context, page int) (domain.Page[domain.Movie], error)

func (s *Server) serveMoviePage(w http.ResponseWriter, r *http.Request, read moviePageReader) {
	page, err := pageParam(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	result, err := read(r.Context(), page)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) handlePopular(w http.ResponseWriter, r *http.Request) {
	s.serveMoviePage(w, r, s.reader.Popular)
}

func (s *Server) handleTopRated(w http.ResponseWriter, r *http.Request) {
	s.serveMoviePage(w, r, s.reader.TopRated)
}

func (s *Server) handleUpcoming(w http.ResponseWriter, r *http.Request) {
	s.serveMoviePage(w, r, s.reader.Upcoming)
}

func (s *Server) handleNowPlaying(w http.ResponseWriter, r *http.Request) {
	s.serveMoviePage(w, r, s.reader.NowPlaying)
}

func (s *Server) handleTrending(w http.ResponseWriter, r *http.Request) {
	window := chi.URLParam(r, "window")
	s.serveMoviePage(w, r, func(ctx context.Context, page int) (domain.Page[domain.Movie], error) {
		return s.reader.Trending(ctx, window, page)
	})
}

func (s *Server) handleMovie(w http.ResponseWriter, r *http.Request) {
	id, err := intParam(r, "movieID")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	movie, err := s.reader.Movie(r.Context(), id)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, movie)
}

func (s *Server) handleCredits(w http.ResponseWriter, r *http.Request) {
	id, err := intParam(r, "movieID")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	credits, err := s.reader.Credits(r.Context(), id)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, credits)
}

func (s *Server) handleSimilar(w http.ResponseWriter, r *http.Request) {
	id, err := intParam(r, "movieID")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	s.serveMoviePage(w, r, func(ctx context.Context, page int) (domain.Page[domain.Movie], error) {
		return s.reader.Similar(ctx, id, page)
	})
}

func (s *Server) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	id, err := intParam(r, "movieID")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	s.serveMoviePage(w, r, func(ctx context.Context, page int) (domain.Page[domain.Movie], error) {
		return s.reader.Recommendations(ctx, id, page)
	})
}

func (s *Server) handleGenres(w http.ResponseWriter, r *http.Request) {
	genres, err := s.reader.Genres(r.Context())
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string][]domain.Genre{"genres": genres})
}

func (s *Server) handleGenreMovies(w http.ResponseWriter, r *http.Request) {
	id, err := intParam(r, "genreID")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	s.serveMoviePage(w, r, func(ctx context.Context, page int) (domain.Page[domain.Movie], error) {
		return s.reader.GenreMovies(ctx, id, page)
	})
}

func (s *Server) handleSearchMovies(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	s.serveMoviePage(w, r, func(ctx context.Context, page int) (domain.Page[domain.Movie], error) {
		return s.reader.SearchMovies(ctx, query, page)
	})
}

func (s *Server) servePeoplePage(w http.ResponseWriter, r *http.Request, read func(ctx context.Context, page int) (domain.Page[domain.Person], error)) {
	page, err := pageParam(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	result, err := read(r.Context(), page)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) handlePopularPeople(w http.ResponseWriter, r *http.Request) {
	s.servePeoplePage(w, r, s.reader.PopularPeople)
}

func (s *Server) handleSearchPeople(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	s.servePeoplePage(w, r, func(ctx context.Context, page int) (domain.Page[domain.Person], error) {
		return s.reader.SearchPeople(ctx, query, page)
	})
}

func (s *Server) handlePerson(w http.ResponseWriter, r *http.Request) {
	id, err := intParam(r, "personID")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	person, err := s.reader.Person(r.Context(), id)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, person)
}

func (s *Server) handlePersonCredits(w http.ResponseWriter, r *http.Request) {
	id, err := intParam(r, "personID")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	credits, err := s.reader.PersonCredits(r.Context(), id)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, credits)
}
