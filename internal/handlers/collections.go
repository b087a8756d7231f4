package handlers

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"sre-platform/internal/collections"
	"sre-platform/internal/models"
)

// reserved query parameters; the rest filter on record fields, except
// "_"-prefixed ones such as the cache buster "_=<ts>", which are ignored.
var listKeys = map[string]bool{"page": true, "page_size": true, "pageSize": true, "search": true, "q": true, "sort": true}

func listParams(q url.Values) (models.ListParams, error) {
	p := models.ListParams{Page: 1, PageSize: -1}
	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return p, badRequest("page must be a positive integer")
		}
		p.Page = n
	}
	size := q.Get("page_size")
	if size == "" {
		size = q.Get("pageSize")
	}
	if size != "" {
		n, err := strconv.Atoi(size)
		if err != nil || n < 0 {
			return p, badRequest("page_size must be a non-negative integer")
		}
		p.PageSize = n
	}
	p.Search = q.Get("search")
	if p.Search == "" {
		p.Search = q.Get("q")
	}
	p.Sort = q.Get("sort")
	for k, v := range q {
		if listKeys[k] || strings.HasPrefix(k, "_") || len(v) == 0 || v[0] == "" {
			continue
		}
		if p.Filters == nil {
			p.Filters = make(map[string]string)
		}
		p.Filters[k] = v[0]
	}
	return p.Normalized(), nil
}

func (h *Handler) listHandler(c collections.Collection) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := listParams(r.URL.Query())
		if err != nil {
			h.fail(w, r, err)
			return
		}
		res, err := h.Records.List(r.Context(), c.Key, p)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func (h *Handler) getHandler(c collections.Collection) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, err := h.Records.Get(r.Context(), c.Key, mux.Vars(r)["id"])
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, doc)
	}
}

func (h *Handler) createHandler(c collections.Collection) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var doc models.Document
		if err := decodeJSON(r, &doc, false); err != nil {
			h.fail(w, r, err)
			return
		}
		if doc == nil {
			h.fail(w, r, badRequest("request body must be a JSON object"))
			return
		}
		created, err := h.Records.Create(r.Context(), c.Key, doc, actor(r))
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	}
}

// updateHandler serves both PUT and PATCH; each merges the body into the
// stored record.
func (h *Handler) updateHandler(c collections.Collection) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var patch models.Document
		if err := decodeJSON(r, &patch, false); err != nil {
			h.fail(w, r, err)
			return
		}
		if patch == nil {
			h.fail(w, r, badRequest("request body must be a JSON object"))
			return
		}
		updated, err := h.Records.Update(r.Context(), c.Key, mux.Vars(r)["id"], patch, actor(r))
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	}
}

func (h *Handler) deleteHandler(c collections.Collection) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h.Records.Delete(r.Context(), c.Key, mux.Vars(r)["id"], actor(r)); err != nil {
			h.fail(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
