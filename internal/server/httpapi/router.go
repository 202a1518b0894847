// Package httpapi serves the HTTP surface that QR links and media URLs resolve to.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"path"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/and161185/qr-media-share/internal/errs"
	"github.com/and161185/qr-media-share/internal/model"
	"github.com/and161185/qr-media-share/internal/qr"
	"github.com/and161185/qr-media-share/internal/service"
	"github.com/and161185/qr-media-share/internal/storage"
)

// FileOpener reads blobs back from local storage.
type FileOpener interface {
	Open(key string) (io.ReadSeekCloser, error)
}

// Deps are the collaborators of the router. Files is nil when blobs live in S3.
type Deps struct {
	Events  service.EventService
	Media   service.MediaService
	Files   FileOpener
	BaseURL string
	Log     *zap.Logger
}

// EventPage is the JSON body of GET /event/{id}.
type EventPage struct {
	Event model.Event   `json:"event"`
	Media []model.Media `json:"media"`
}

type handlers struct{ Deps }

// NewRouter builds the HTTP routes.
func NewRouter(d Deps) *mux.Router {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	h := handlers{d}
	r := mux.NewRouter()
	r.Use(h.logging)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "OK\n")
	}).Methods(http.MethodGet)
	r.HandleFunc("/event/{id}", h.getEvent).Methods(http.MethodGet)
	r.HandleFunc("/event/{id}/qr.png", h.getEventQR).Methods(http.MethodGet)
	if d.Files != nil {
		r.HandleFunc("/media/{key:.+}", h.getMedia).Methods(http.MethodGet, http.MethodHead)
	}
	return r
}

func (h handlers) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		h.Log.Info("http",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", sw.status),
			zap.Duration("dur", time.Since(start)),
			zap.String("peer", r.RemoteAddr),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h handlers) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errs.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, errs.ErrInvalidArgument):
		http.Error(w, "bad request", http.StatusBadRequest)
	default:
		h.Log.Error("http handler", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func eventID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.FromString(mux.Vars(r)["id"])
	if err != nil {
		return uuid.Nil, errs.ErrInvalidArgument
	}
	return id, nil
}

func (h handlers) getEvent(w http.ResponseWriter, r *http.Request) {
	id, err := eventID(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	ev, err := h.Events.Get(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	items, err := h.Media.ListByEvent(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, EventPage{Event: *ev, Media: items})
}

func (h handlers) getEventQR(w http.ResponseWriter, r *http.Request) {
	id, err := eventID(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	ev, err := h.Events.Get(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	// Prefer the link stored at creation.
	link := qr.EventURL(h.BaseURL, id)
	if ev.QRCode != nil && *ev.QRCode != "" {
		link = *ev.QRCode
	}
	png, err := qr.Encode(link, qr.DefaultOptions())
	if err != nil {
		h.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

func (h handlers) getMedia(w http.ResponseWriter, r *http.Request) {
	key, err := storage.CleanKey(mux.Vars(r)["key"])
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	f, err := h.Files.Open(key)
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	defer f.Close()
	if ct := mime.TypeByExtension(path.Ext(key)); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	http.ServeContent(w, r, path.Base(key), time.Time{}, f)
}
