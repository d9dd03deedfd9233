// ABOUTME: JSON HTTP handlers exposing windowed queries, position mapping, and dataset stats.
// ABOUTME: Thin layer over query.Engine and navigate.Session with the standard error envelope.

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/2389/megatable/internal/errors"
	"github.com/2389/megatable/internal/navigate"
	"github.com/2389/megatable/internal/query"
	"github.com/2389/megatable/internal/record"
)

type Handlers struct {
	engine   *query.Engine
	pageSize int
}

// NewHandlers serves engine; pageSize is the default window length.
func NewHandlers(engine *query.Engine, pageSize int) *Handlers {
	if pageSize <= 0 {
		pageSize = 30
	}
	return &Handlers{engine: engine, pageSize: min(pageSize, query.MaxLimit)}
}

func (h *Handlers) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.healthz)
	r.Route("/api", func(r chi.Router) {
		r.Get("/records", h.records)
		r.Get("/navigate", h.navigate)
		r.Get("/stats", h.stats)
		r.Get("/stream", h.stream)
	})
}

func (h *Handlers) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"ok": true})
}

// records serves GET /api/records?offset=&limit=&q=&sort=&dir=
func (h *Handlers) records(w http.ResponseWriter, r *http.Request) {
	req, ok := h.parseRequest(w, r)
	if !ok {
		return
	}
	page, err := h.engine.Query(r.Context(), req)
	if err != nil {
		apierrors.WriteDomainError(w, err)
		return
	}
	writeJSON(w, page)
}

type position struct {
	Offset   int     `json:"offset"`
	Fraction float64 `json:"fraction"`
	Total    int     `json:"total"`
}

// navigate serves GET /api/navigate. Exactly one of fraction, row, or move
// selects the target; move is applied relative to offset.
func (h *Handlers) navigate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	pageSize, ok := intParam(w, q.Get("pageSize"), "pageSize", h.pageSize, 1)
	if !ok {
		return
	}
	offset, ok := intParam(w, q.Get("offset"), "offset", 0, 0)
	if !ok {
		return
	}

	selectors := 0
	for _, k := range []string{"fraction", "row", "move"} {
		if q.Has(k) {
			selectors++
		}
	}
	if selectors != 1 {
		apierrors.WriteError(w, http.StatusBadRequest, apierrors.ErrInvalidRequest,
			"exactly one of fraction, row, or move is required")
		return
	}

	total, err := h.total(r.Context(), q.Get("q"))
	if err != nil {
		apierrors.WriteDomainError(w, err)
		return
	}

	s := navigate.Session{
		Offset:   navigate.Clamp(offset, total, pageSize),
		PageSize: pageSize,
		Total:    total,
		Search:   q.Get("q"),
	}

	switch {
	case q.Has("fraction"):
		f, err := strconv.ParseFloat(q.Get("fraction"), 64)
		if err != nil {
			apierrors.WriteErrorWithField(w, http.StatusBadRequest, apierrors.ErrInvalidRequest,
				"fraction must be a number", "fraction")
			return
		}
		s.Scroll(f)
	case q.Has("row"):
		row, err := strconv.Atoi(q.Get("row"))
		if err != nil {
			apierrors.WriteErrorWithField(w, http.StatusBadRequest, apierrors.ErrInvalidRequest,
				"row must be an integer", "row")
			return
		}
		if _, err := s.JumpToRow(row); err != nil {
			apierrors.WriteDomainError(w, err)
			return
		}
	default:
		m, err := navigate.ParseMove(q.Get("move"))
		if err != nil {
			apierrors.WriteErrorWithField(w, http.StatusBadRequest, apierrors.ErrInvalidRequest, err.Error(), "move")
			return
		}
		s.Step(m)
	}

	writeJSON(w, position{Offset: s.Offset, Fraction: s.Fraction(), Total: s.Total})
}

// total is the row count the navigator works against: the whole dataset,
// or the match count when a search is active.
func (h *Handlers) total(ctx context.Context, search string) (int, error) {
	if strings.TrimSpace(search) == "" {
		return h.engine.Total(), nil
	}
	page, err := h.engine.Query(ctx, query.Request{
		Limit:  1,
		Search: search,
		Sort:   record.FieldID,
		Dir:    record.Asc,
	})
	if err != nil {
		return 0, err
	}
	return page.Total, nil
}

func (h *Handlers) stats(w http.ResponseWriter, r *http.Request) {
	n, err := h.engine.Persisted(r.Context())
	if err != nil {
		apierrors.WriteDomainError(w, err)
		return
	}
	writeJSON(w, map[string]any{
		"total":          h.engine.Total(),
		"persisted":      n,
		"persistedLimit": h.engine.PersistedLimit(),
	})
}

func (h *Handlers) parseRequest(w http.ResponseWriter, r *http.Request) (query.Request, bool) {
	q := r.URL.Query()

	offset, ok := intParam(w, q.Get("offset"), "offset", 0, 0)
	if !ok {
		return query.Request{}, false
	}
	limit, ok := intParam(w, q.Get("limit"), "limit", h.pageSize, 1)
	if !ok {
		return query.Request{}, false
	}
	if limit > query.MaxLimit {
		apierrors.WriteErrorWithField(w, http.StatusBadRequest, apierrors.ErrInvalidRequest,
			fmt.Sprintf("limit must not exceed %d", query.MaxLimit), "limit")
		return query.Request{}, false
	}
	field, err := record.ParseField(q.Get("sort"))
	if err != nil {
		apierrors.WriteErrorWithField(w, http.StatusBadRequest, apierrors.ErrInvalidRequest, err.Error(), "sort")
		return query.Request{}, false
	}
	dir, err := record.ParseDirection(q.Get("dir"))
	if err != nil {
		apierrors.WriteErrorWithField(w, http.StatusBadRequest, apierrors.ErrInvalidRequest, err.Error(), "dir")
		return query.Request{}, false
	}

	return query.Request{
		Offset: offset,
		Limit:  limit,
		Search: q.Get("q"),
		Sort:   field,
		Dir:    dir,
	}, true
}

// intParam parses an optional integer parameter no smaller than minimum,
// writing a 400 and returning false when it is malformed.
func intParam(w http.ResponseWriter, raw, name string, fallback, minimum int) (int, bool) {
	if raw == "" {
		return fallback, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < minimum {
		apierrors.WriteErrorWithField(w, http.StatusBadRequest, apierrors.ErrInvalidRequest,
			fmt.Sprintf("%s must be an integer >= %d", name, minimum), name)
		return 0, false
	}
	return v, true
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "err", err)
	}
}
