package gateway

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-gw/meridian-gw/internal/observability"
	"github.com/meridian-gw/meridian-gw/internal/platform/httpx"
	"github.com/meridian-gw/meridian-gw/internal/routecache"
)

// maxViewPayload caps how much of an upstream view body is buffered.
const maxViewPayload = 4 << 20

// handleView serves a route view, from cache when the path is on the
// allow-list and a handle is resident, otherwise by fetching the upstream
// origin and caching the result.
func (h *Handler) handleView(w http.ResponseWriter, r *http.Request) {
	if !h.authority.Authenticated() {
		httpx.RespondError(w, httpx.ErrUnauthenticated)
		return
	}
	path := "/" + chi.URLParam(r, "*")

	cacheable := h.cache.ShouldCache(path)
	if cacheable {
		if handle, ok := h.cache.Retrieve(path); ok {
			h.metrics.ObserveRouteCache(observability.CacheHit)
			w.Header().Set("Content-Type", handle.ContentType)
			w.Header().Set("X-Route-Cache", "hit")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(handle.Body)
			return
		}
		h.metrics.ObserveRouteCache(observability.CacheMiss)
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, h.upstreamBase+path, nil)
	if err != nil {
		httpx.Problem(w, http.StatusBadGateway, "Upstream Unreachable", "could not build upstream request")
		return
	}
	resp, err := h.upstream.Do(req)
	if err != nil {
		h.logger.Warn("view fetch", slog.String("path", path), slog.Any("error", err))
		httpx.Problem(w, http.StatusBadGateway, "Upstream Unreachable", "upstream fetch failed")
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxViewPayload))
	if err != nil {
		httpx.Problem(w, http.StatusBadGateway, "Upstream Unreachable", "upstream body read failed")
		return
	}
	contentType := resp.Header.Get("Content-Type")

	if cacheable && resp.StatusCode == http.StatusOK {
		evicted := h.cache.Store(path, &routecache.Handle{
			Path:        path,
			ContentType: contentType,
			Body:        body,
			StoredAt:    time.Now(),
		})
		h.metrics.ObserveRouteCache(observability.CacheStore)
		if evicted != "" {
			h.metrics.ObserveRouteCache(observability.CacheEviction)
			h.logger.Debug("route cache eviction", slog.String("evicted", evicted), slog.String("stored", path))
		}
	}

	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	if cacheable {
		w.Header().Set("X-Route-Cache", "miss")
	} else {
		w.Header().Set("X-Route-Cache", "bypass")
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(body)
}

// handleViewMutation proxies a mutation to the upstream origin and drops any
// cached handle for the path, since the stored view is now stale.
func (h *Handler) handleViewMutation(w http.ResponseWriter, r *http.Request) {
	if !h.authority.Authenticated() {
		httpx.RespondError(w, httpx.ErrUnauthenticated)
		return
	}
	path := "/" + chi.URLParam(r, "*")

	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, h.upstreamBase+path, io.LimitReader(r.Body, maxViewPayload))
	if err != nil {
		httpx.Problem(w, http.StatusBadGateway, "Upstream Unreachable", "could not build upstream request")
		return
	}
	if contentType := r.Header.Get("Content-Type"); contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := h.upstream.Do(req)
	if err != nil {
		h.logger.Warn("view mutation", slog.String("path", path), slog.Any("error", err))
		httpx.Problem(w, http.StatusBadGateway, "Upstream Unreachable", "upstream fetch failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		h.cache.Invalidate(path)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxViewPayload))
	if err != nil {
		httpx.Problem(w, http.StatusBadGateway, "Upstream Unreachable", "upstream body read failed")
		return
	}
	if contentType := resp.Header.Get("Content-Type"); contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(body)
}
