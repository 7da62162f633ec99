package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// Router returns the HTTP API
func (r *Relay) Router() http.Handler {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(r.requestLogger)
	router.Use(middleware.Recoverer)
	router.Use(allowAnyOrigin)

	router.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})

	router.Get("/", r.handleIndex)
	router.Get("/index.html", r.handleIndex)
	router.Route("/api/rss", func(api chi.Router) {
		api.Get("/unread", r.handleUnread)
		api.Get("/item", r.handleItem)
		api.Get("/folder", r.handleFolder)
		api.Get("/mark-read", r.handleMarkRead)
	})

	return router
}

func (r *Relay) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, req)

		r.logger.WithFields(logrus.Fields{
			"method":     req.Method,
			"path":       req.URL.Path,
			"status":     ww.Status(),
			"duration":   time.Since(start).String(),
			"request_id": middleware.GetReqID(req.Context()),
		}).Info("HTTP request")
	})
}

func allowAnyOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, req)
	})
}

func (r *Relay) handleIndex(w http.ResponseWriter, _ *http.Request) {
	if r.indexPath == "" {
		writeError(w, http.StatusNotFound, "index.html not found")
		return
	}
	html, err := os.ReadFile(r.indexPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeError(w, http.StatusNotFound, "index.html not found")
			return
		}
		r.logger.WithError(err).Error("Failed to read index page")
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(html) //nolint:errcheck
}

func (r *Relay) handleUnread(w http.ResponseWriter, req *http.Request) {
	data, fresh, err := r.RequestUnread(req.Context())
	if err != nil {
		r.writeBridgeError(w, err)
		return
	}

	count := countItems(data)
	if !fresh {
		r.logger.Warn("Timeout waiting for unread items, returning cached")
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "timeout",
			"data":    data,
			"message": "Timeout waiting for fresh data, returning cached.",
		})
		return
	}

	r.logger.WithField("count", count).Info("Returning unread items")
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"data":   data,
		"count":  count,
	})
}

func (r *Relay) handleItem(w http.ResponseWriter, req *http.Request) {
	id := req.URL.Query().Get("itemId")
	if id == "" {
		writeError(w, http.StatusBadRequest, "itemId is required")
		return
	}

	data, err := r.RequestItem(req.Context(), id)
	if err != nil {
		r.writeBridgeError(w, err)
		return
	}
	if string(data) == "null" {
		writeError(w, http.StatusNotFound, "Item not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"data":   data,
	})
}

func (r *Relay) handleFolder(w http.ResponseWriter, req *http.Request) {
	path := req.URL.Query().Get("folder")
	if path == "" {
		writeError(w, http.StatusBadRequest, "folder is required")
		return
	}

	data, err := r.RequestFolder(req.Context(), path)
	if err != nil {
		r.writeBridgeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "success",
		"data":       data,
		"count":      countItems(data),
		"folderPath": path,
	})
}

func (r *Relay) handleMarkRead(w http.ResponseWriter, req *http.Request) {
	id := req.URL.Query().Get("itemId")
	if id == "" {
		writeError(w, http.StatusBadRequest, "itemId is required")
		return
	}

	success, err := r.RequestMarkRead(req.Context(), id)
	if err != nil {
		r.writeBridgeError(w, err)
		return
	}

	status, verb := "success", "marked as read"
	if !success {
		status, verb = "failed", "failed to mark as read"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"message": fmt.Sprintf("Item %s %s", id, verb),
	})
}

func (r *Relay) writeBridgeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNoBridge):
		writeError(w, http.StatusServiceUnavailable, "Bridge not connected")
	case errors.Is(err, ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, "Operation timed out")
	default:
		r.logger.WithError(err).Error("Bridge request failed")
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func countItems(data json.RawMessage) int {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return 0
	}
	return len(items)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error":  message,
		"status": "error",
	})
}
