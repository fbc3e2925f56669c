package pad

import (
	"encoding/json"
	"errors"
	"net/http"

	"padsync/internal/pad/model"
	"padsync/internal/pad/service"
	"padsync/middleware"
	"padsync/pkg/logger"
	"padsync/store"
)

type PadHandler struct {
	Service *service.PadService
}

func NewPadHandler(service *service.PadService) *PadHandler {
	return &PadHandler{Service: service}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "Not found", http.StatusNotFound)
	case errors.Is(err, store.ErrPermissionDenied):
		http.Error(w, "Permission denied", http.StatusForbidden)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// OpenDoc reads the document, creating it lazily on first open.
func (h *PadHandler) OpenDoc(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req model.OpenDocRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Pad == "" {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	doc, err := h.Service.OpenDoc(r.Context(), store.DocKey{Pad: req.Pad, Subpad: req.Subpad}, middleware.SessionID(r))
	if err != nil {
		logger.Sugar.Errorf("Handler: Failed to open doc %s: %v", req.Pad, err)
		writeError(w, err)
		return
	}
	writeJSON(w, doc)
}

func (h *PadHandler) GetDoc(w http.ResponseWriter, r *http.Request) {
	pad := r.URL.Query().Get("pad")
	if pad == "" {
		http.Error(w, "Missing pad parameter", http.StatusBadRequest)
		return
	}

	doc, err := h.Service.GetDoc(r.Context(), store.DocKey{Pad: pad, Subpad: r.URL.Query().Get("subpad")})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, doc)
}

func (h *PadHandler) SaveDoc(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req model.SaveDocRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Pad == "" {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	key := store.DocKey{Pad: req.Pad, Subpad: req.Subpad}
	doc, err := h.Service.SaveDoc(r.Context(), key, middleware.SessionID(r), req.Content, r.Header.Get("X-Write-Grant"))
	if err != nil {
		if !errors.Is(err, store.ErrPermissionDenied) {
			logger.Sugar.Errorf("Error saving doc %s: %v", key, err)
		}
		writeError(w, err)
		return
	}
	writeJSON(w, doc)
}

func (h *PadHandler) ListSubpads(w http.ResponseWriter, r *http.Request) {
	pad := r.URL.Query().Get("pad")
	if pad == "" {
		http.Error(w, "Missing pad parameter", http.StatusBadRequest)
		return
	}

	subpads, err := h.Service.ListSubpads(r.Context(), pad)
	if err != nil {
		writeError(w, err)
		return
	}
	if subpads == nil {
		subpads = []store.Subpad{}
	}
	writeJSON(w, model.SubpadsResponse{Subpads: subpads})
}

func (h *PadHandler) SetPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req model.SetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Pad == "" {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.Service.SetPassword(r.Context(), req.Pad, middleware.SessionID(r), req.Password); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *PadHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req model.UnlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Pad == "" {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	grant, err := h.Service.Unlock(r.Context(), req.Pad, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, model.UnlockResponse{Grant: grant})
}

// PublishCursor upserts the caller's own cursor row. The session ID comes
// from the middleware, never the body, so a client cannot move another
// session's cursor.
func (h *PadHandler) PublishCursor(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req model.PublishCursorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Pad == "" {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	c := store.Cursor{
		PadID:     req.Pad,
		SessionID: middleware.SessionID(r),
		UserName:  req.UserName,
		Position:  req.Position,
		Color:     req.Color,
	}
	if err := h.Service.PublishCursor(r.Context(), c); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *PadHandler) RetractCursor(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req model.RetractCursorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Pad == "" {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.Service.RetractCursor(r.Context(), req.Pad, middleware.SessionID(r)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *PadHandler) ListCursors(w http.ResponseWriter, r *http.Request) {
	pad := r.URL.Query().Get("pad")
	if pad == "" {
		http.Error(w, "Missing pad parameter", http.StatusBadRequest)
		return
	}

	cursors, err := h.Service.ActiveCursors(r.Context(), pad)
	if err != nil {
		writeError(w, err)
		return
	}
	if cursors == nil {
		cursors = []store.Cursor{}
	}
	writeJSON(w, model.CursorsResponse{Cursors: cursors})
}
