package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"dialogd/internal/storage"
	"dialogd/internal/summary"

	"go.uber.org/zap"
)

// userIDHeader carries the requester's identity. It is set by the
// authentication layer in front of this server; token verification is not
// this core's concern.
const userIDHeader = "X-User-ID"

// historyStore is the subset of the store the REST handlers read from
type historyStore interface {
	MessagesBetween(ctx context.Context, userA, userB string) ([]storage.Message, error)
}

type handler struct {
	logger    *zap.SugaredLogger
	store     historyStore
	summaries *summary.Builder
}

// messagesByCounterpart handles GET requests on "/messages/{otherUserId}"
// and returns every message exchanged between the requester and the other
// user, ordered by creation time ascending
func (h *handler) messagesByCounterpart(w http.ResponseWriter, r *http.Request) {
	requesterID := r.Header.Get(userIDHeader)
	if requesterID == "" {
		http.Error(w, "Missing \""+userIDHeader+"\" header", http.StatusUnauthorized)
		return
	}

	otherID := strings.TrimPrefix(r.URL.Path, "/messages/")
	if otherID == "" || strings.Contains(otherID, "/") {
		http.NotFound(w, r)
		return
	}

	messages, err := h.store.MessagesBetween(r.Context(), requesterID, otherID)
	if err != nil {
		h.logger.Error(err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	if messages == nil {
		messages = []storage.Message{}
	}

	h.writeJSON(w, messages)
}

// users handles GET requests on "/users" and returns every other user
// paired with the last message exchanged with the requester
func (h *handler) users(w http.ResponseWriter, r *http.Request) {
	requesterID := r.Header.Get(userIDHeader)
	if requesterID == "" {
		http.Error(w, "Missing \""+userIDHeader+"\" header", http.StatusUnauthorized)
		return
	}

	entries, err := h.summaries.Build(r.Context(), requesterID)
	if err != nil {
		h.logger.Error(err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, entries)
}

func (h *handler) writeJSON(w http.ResponseWriter, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		h.logger.Error(err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err = w.Write(payload); err != nil {
		h.logger.Errorf("writing marshaled data to ResponseWriter: %v", err)
	}
}
