package collabserver

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// routes builds the router: the websocket endpoint, the REST API and the
// admin surface.
func (s *Server) routes() http.Handler {
	r := mux.NewRouter()
	r.Use(func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			m := httpsnoop.CaptureMetrics(handler, w, req)
			slog.Info("handled", "method", req.Method, "url", req.URL, "duration", m.Duration, "status", m.Code)
		})
	})

	r.Methods(http.MethodGet).Path("/healthz").HandlerFunc(s.handleHealth)
	r.Methods(http.MethodGet).Path("/collaboration").HandlerFunc(s.handleCollaboration)

	r.Methods(http.MethodGet).Path("/api/documents/{id}/comments").HandlerFunc(s.requireAuth(s.handleListComments))
	r.Methods(http.MethodPost).Path("/api/documents/{id}/comments").HandlerFunc(s.requireAuth(s.handleCreateComment))
	r.Methods(http.MethodPatch).Path("/api/comments/{commentId}").HandlerFunc(s.requireAuth(s.handleResolveComment))
	r.Methods(http.MethodPost).Path("/api/documents/{id}/links").HandlerFunc(s.requireAuth(s.handlePutLinks))
	r.Methods(http.MethodGet).Path("/api/documents/{id}/links").HandlerFunc(s.requireAuth(s.handleGetLinks))

	r.Methods(http.MethodPost).Path("/admin/rooms/{room}/revoke").HandlerFunc(s.requireAdmin(s.handleRevoke))
	r.Methods(http.MethodPost).Path("/admin/rooms/{room}/replace").HandlerFunc(s.requireAdmin(s.handleReplace))
	r.Methods(http.MethodPost).Path("/admin/rooms/{room}/convert").HandlerFunc(s.requireAdmin(s.handleConvert))

	return r
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.config.AuthToken != "" && bearerToken(r) != s.config.AuthToken {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.config.AdminToken == "" || bearerToken(r) != s.config.AdminToken {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next(w, r)
	}
}

func bearerToken(r *http.Request) string {
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleCollaboration(w http.ResponseWriter, r *http.Request) {
	roomKey := r.URL.Query().Get("room")
	if roomKey == "" {
		http.Error(w, "missing room", http.StatusBadRequest)
		return
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("upgrade", "room", roomKey, "err", err)
		return
	}
	s.hub.Serve(roomKey, ws)
}

func (s *Server) handleListComments(w http.ResponseWriter, r *http.Request) {
	docID := mux.Vars(r)["id"]
	records, err := s.store.ListComments(docID)
	if err != nil {
		slog.Error("list comments", "doc", docID, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, records)
}

func (s *Server) handleCreateComment(w http.ResponseWriter, r *http.Request) {
	docID := mux.Vars(r)["id"]
	var rec CommentRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if rec.CommentID == "" || rec.Content == "" {
		http.Error(w, "comment_id and content are required", http.StatusBadRequest)
		return
	}
	stored, err := s.store.CreateComment(docID, rec)
	if err != nil {
		slog.Error("create comment", "doc", docID, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, stored)
}

func (s *Server) handleResolveComment(w http.ResponseWriter, r *http.Request) {
	commentID := mux.Vars(r)["commentId"]
	var req struct {
		Resolved bool `json:"resolved"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if err := s.store.ResolveComment(commentID, req.Resolved); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		slog.Error("resolve comment", "comment", commentID, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePutLinks(w http.ResponseWriter, r *http.Request) {
	docID := mux.Vars(r)["id"]
	var req struct {
		TargetIDs []string `json:"target_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if err := s.store.ReplaceLinks(docID, req.TargetIDs); err != nil {
		slog.Error("replace links", "doc", docID, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetLinks(w http.ResponseWriter, r *http.Request) {
	docID := mux.Vars(r)["id"]
	targets, err := s.store.Links(docID)
	if err != nil {
		slog.Error("get links", "doc", docID, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, targets)
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	room := mux.Vars(r)["room"]
	s.hub.RevokeAccess(room)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReplace(w http.ResponseWriter, r *http.Request) {
	room := mux.Vars(r)["room"]
	var req struct {
		// Snapshot is the new document, base64 in JSON by encoding/json's
		// []byte convention. Empty replaces with a blank document.
		Snapshot []byte `json:"snapshot"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if err := s.hub.ReplaceContent(room, req.Snapshot); err != nil {
		slog.Error("replace content", "room", room, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	room := mux.Vars(r)["room"]
	var req struct {
		NewDocID   string `json:"newDocId"`
		NewDocType string `json:"newDocType"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.NewDocID == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	s.hub.ConvertRoom(room, req.NewDocID, req.NewDocType)
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "err", err)
	}
}
