package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/stevemurr/pos-server/pos"
	"github.com/stevemurr/pos-server/store"
)

// ---------- status endpoints ----------

func (h *Handler) root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": h.service,
	})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handler) listCollections(w http.ResponseWriter, r *http.Request) {
	names, err := h.store.ListCollections(r.Context())
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, names)
}

// ---------- document-store wire API ----------

func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	op := chi.URLParam(r, "op")
	var call store.Call
	if err := readJSON(w, r, &call); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if op == store.OpInsertOne || op == store.OpReplaceOne {
		if err := h.schemas.Validate(collection, call.Document); err != nil {
			h.writeErr(w, r, err)
			return
		}
	}
	reply, err := store.Dispatch(r.Context(), h.store.Collection(collection), op, call)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

// ---------- POS endpoints ----------

func (h *Handler) orderNumber(w http.ResponseWriter, r *http.Request) {
	no, err := h.svc.NextOrderNumber(r.Context(), chi.URLParam(r, "orderType"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"order_no": no})
}

func (h *Handler) getSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.svc.Settings(r.Context())
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (h *Handler) putSettings(w http.ResponseWriter, r *http.Request) {
	var incoming store.Document
	if err := readJSON(w, r, &incoming); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if err := h.schemas.Validate(pos.SystemSettings, incoming); err != nil {
		h.writeErr(w, r, err)
		return
	}
	saved, err := h.svc.SaveSettings(r.Context(), incoming)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	if h.scheduler != nil {
		h.scheduler.Reschedule()
	}
	writeJSON(w, http.StatusOK, saved)
}

func (h *Handler) listItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.ItemsWithLiveOffers(r.Context())
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) deleteImage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	field := q.Get("field")
	if field == "" {
		field = pos.FieldImage
	}
	err := h.svc.ScrubImage(r.Context(), h.uploadDir, q.Get("item_id"), field, chi.URLParam(r, "filename"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Image deleted successfully"})
}

func (h *Handler) importCollection(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	if !pos.Importable(collection) {
		writeError(w, http.StatusBadRequest, "unsupported collection name: "+collection)
		return
	}
	var records []store.Document
	if err := readJSON(w, r, &records); err != nil {
		writeError(w, http.StatusBadRequest, "JSON data must be an array of documents: "+err.Error())
		return
	}
	for _, rec := range records {
		if err := h.schemas.Validate(collection, rec); err != nil {
			h.writeErr(w, r, err)
			return
		}
	}
	n, err := h.svc.Import(r.Context(), collection, records)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"collection": collection, "imported": n})
}

// ---------- backups ----------

var errNoBackups = errors.New("backups are not available on this instance")

func (h *Handler) runBackup(w http.ResponseWriter, r *http.Request) {
	if h.backuper == nil {
		writeError(w, http.StatusNotImplemented, errNoBackups.Error())
		return
	}
	path, err := h.backuper.Run(r.Context())
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "file": path})
}

func (h *Handler) backupInfo(w http.ResponseWriter, r *http.Request) {
	if h.backuper == nil {
		writeError(w, http.StatusNotImplemented, errNoBackups.Error())
		return
	}
	list, err := h.backuper.List()
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	resp := map[string]any{
		"backups":     list,
		"max_backups": h.backuper.MaxBackups,
	}
	if settings, err := h.svc.Settings(r.Context()); err == nil {
		interval := pos.BackupInterval(settings)
		resp["interval_hours"] = interval.Hours()
		if len(list) > 0 {
			resp["next_backup"] = list[0].Created.Add(interval).Format(time.RFC3339)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
