package main

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/koustreak/tessera/internal/catalog"
	"github.com/koustreak/tessera/internal/errs"
	"github.com/koustreak/tessera/internal/logger"
)

// server exposes one Catalog over HTTP. A Session is single-threaded, so
// every handler holds mu while it talks to the catalog.
type server struct {
	mu  sync.Mutex
	cat *catalog.Catalog
	log *logger.Logger
}

func newServer(cat *catalog.Catalog, log *logger.Logger) *server {
	return &server{cat: cat, log: log}
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLog)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/engine", s.engine)
	r.Get("/user-options", s.userOptions)
	r.Get("/recovery-model", s.recoveryModel)

	r.Route("/tables/{table}", func(r chi.Router) {
		r.Get("/", s.tableDetails)
		r.Get("/exists", s.tableExists)
		r.Get("/columns/{column}/exists", s.fieldExists)
		r.Get("/comment", s.comment)
		r.Post("/invalidate", s.invalidate)
	})
	return r
}

func (s *server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.HTTPEvent().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

// locked runs fn with the session to itself.
func (s *server) locked(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context) (any, error)) {
	s.mu.Lock()
	v, err := fn(r.Context())
	s.mu.Unlock()

	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *server) engine(w http.ResponseWriter, r *http.Request) {
	s.locked(w, r, func(ctx context.Context) (any, error) {
		v, err := s.cat.EngineVersion(ctx)
		if err != nil {
			return nil, err
		}
		schemaName, err := s.cat.DefaultSchema(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"version":        v.Version,
			"major":          v.Major,
			"edition":        v.Edition,
			"azure":          v.IsAzure(),
			"default_schema": schemaName,
		}, nil
	})
}

func (s *server) userOptions(w http.ResponseWriter, r *http.Request) {
	s.locked(w, r, func(ctx context.Context) (any, error) {
		return s.cat.UserOptions(ctx)
	})
}

func (s *server) recoveryModel(w http.ResponseWriter, r *http.Request) {
	s.locked(w, r, func(ctx context.Context) (any, error) {
		m, err := s.cat.RecoveryModel(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]string{"recovery_model": string(m)}, nil
	})
}

func (s *server) tableDetails(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	s.locked(w, r, func(ctx context.Context) (any, error) {
		return s.cat.TableDetails(ctx, table)
	})
}

func (s *server) tableExists(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	s.locked(w, r, func(ctx context.Context) (any, error) {
		ok, err := s.cat.TableExists(ctx, table)
		return map[string]bool{"exists": ok}, err
	})
}

func (s *server) fieldExists(w http.ResponseWriter, r *http.Request) {
	table, column := chi.URLParam(r, "table"), chi.URLParam(r, "column")
	s.locked(w, r, func(ctx context.Context) (any, error) {
		ok, err := s.cat.FieldExists(ctx, table, column)
		return map[string]bool{"exists": ok}, err
	})
}

func (s *server) comment(w http.ResponseWriter, r *http.Request) {
	table, column := chi.URLParam(r, "table"), r.URL.Query().Get("column")
	s.locked(w, r, func(ctx context.Context) (any, error) {
		v, ok, err := s.cat.CommentGet(ctx, table, column)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errs.New(errs.ErrKindObjectNotFound, "no comment")
		}
		return map[string]string{"comment": v}, nil
	})
}

func (s *server) invalidate(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	s.locked(w, r, func(ctx context.Context) (any, error) {
		return map[string]string{"invalidated": table}, s.cat.Invalidate(ctx, table)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errs.KindOf(err) {
	case errs.ErrKindSchemaNotFound, errs.ErrKindObjectNotFound:
		status = http.StatusNotFound
	case errs.ErrKindConfiguration:
		status = http.StatusBadRequest
	case errs.ErrKindConnectionFailed, errs.ErrKindConnectionDropped:
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"kind":  errs.KindOf(err).String(),
	})
}
