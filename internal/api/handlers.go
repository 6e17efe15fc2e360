package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sketchwall/backend/internal/autosave"
	"github.com/sketchwall/backend/internal/db"
	"github.com/sketchwall/backend/internal/session"
)

// API is the HTTP management surface around a live session: board
// snapshots in and out of the database, export, and introspection.
type API struct {
	sess     *session.Session
	database *db.Database
}

func New(sess *session.Session, database *db.Database) *API {
	return &API{
		sess:     sess,
		database: database,
	}
}

func jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"active_users": len(a.sess.ActiveUsers()),
		"admin":        a.sess.Admin(),
		"action_count": a.sess.ActionCount(),
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	}

	if a.database != nil {
		if count, err := a.database.BoardCount(); err == nil {
			stats["saved_boards"] = count
		}
	}

	jsonResponse(w, http.StatusOK, stats)
}

func (a *API) UsersHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"admin": a.sess.Admin(),
		"users": a.sess.ActiveUsers(),
	})
}

// Board handlers

type SaveBoardRequest struct {
	Name      string `json:"name"`
	CreatedBy string `json:"created_by"`
}

func (a *API) ListBoardsHandler(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}

	boards, err := a.database.ListBoards(limit, offset)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to list boards")
		return
	}

	total, _ := a.database.BoardCount()
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"boards": boards,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// SaveBoardHandler snapshots the live session history into the database.
func (a *API) SaveBoardHandler(w http.ResponseWriter, r *http.Request) {
	var req SaveBoardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Name == "" {
		req.Name = "Board " + time.Now().Format("Jan 2, 3:04 PM")
	}

	history := a.sess.History()
	content, err := json.Marshal(history)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to serialize board")
		return
	}

	board, err := a.database.SaveBoard(req.Name, string(content), autosave.HashContent(string(content)), req.CreatedBy, false)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to save board")
		return
	}

	jsonResponse(w, http.StatusCreated, board)
}

func (a *API) GetBoardHandler(w http.ResponseWriter, r *http.Request, id int) {
	board, err := a.database.GetBoard(id)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to get board")
		return
	}
	if board == nil {
		errorResponse(w, http.StatusNotFound, "Board not found")
		return
	}
	jsonResponse(w, http.StatusOK, board)
}

func (a *API) DeleteBoardHandler(w http.ResponseWriter, r *http.Request, id int) {
	if err := a.database.DeleteBoard(id); err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to delete board")
		return
	}
	jsonResponse(w, http.StatusOK, map[string]string{"message": "Board deleted"})
}

// RestoreBoardHandler loads a saved snapshot into the live session,
// replacing the current history for every connected client.
func (a *API) RestoreBoardHandler(w http.ResponseWriter, r *http.Request, id int) {
	board, err := a.database.GetBoard(id)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to get board")
		return
	}
	if board == nil {
		errorResponse(w, http.StatusNotFound, "Board not found")
		return
	}

	history, err := board.Actions()
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Saved board is corrupt")
		return
	}

	a.sess.LoadHistory(history)
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"message":      "Board restored",
		"board_id":     board.ID,
		"action_count": len(history),
	})
}

// ExportBoardHandler renders a saved snapshot as a PDF.
func (a *API) ExportBoardHandler(w http.ResponseWriter, r *http.Request, id int) {
	board, err := a.database.GetBoard(id)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to get board")
		return
	}
	if board == nil {
		errorResponse(w, http.StatusNotFound, "Board not found")
		return
	}

	history, err := board.Actions()
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Saved board is corrupt")
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	if err := WritePDF(w, history); err != nil {
		log.Printf("PDF export of board %d failed: %v", id, err)
	}
}

// ExportLiveHandler renders the current live history as a PDF.
func (a *API) ExportLiveHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	if err := WritePDF(w, a.sess.History()); err != nil {
		log.Printf("PDF export of live board failed: %v", err)
	}
}

func (a *API) BoardsRouter(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/boards")

	// /api/boards or /api/boards/
	if path == "" || path == "/" {
		switch r.Method {
		case http.MethodGet:
			a.ListBoardsHandler(w, r)
		case http.MethodPost:
			a.SaveBoardHandler(w, r)
		default:
			errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
		return
	}
	path = strings.TrimPrefix(path, "/")

	// /api/boards/{id}/restore
	if rest, ok := strings.CutSuffix(path, "/restore"); ok {
		id, err := strconv.Atoi(rest)
		if err != nil {
			errorResponse(w, http.StatusBadRequest, "Invalid board ID")
			return
		}
		if r.Method != http.MethodPost {
			errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		a.RestoreBoardHandler(w, r, id)
		return
	}

	// /api/boards/{id}/export.pdf
	if rest, ok := strings.CutSuffix(path, "/export.pdf"); ok {
		id, err := strconv.Atoi(rest)
		if err != nil {
			errorResponse(w, http.StatusBadRequest, "Invalid board ID")
			return
		}
		if r.Method != http.MethodGet {
			errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		a.ExportBoardHandler(w, r, id)
		return
	}

	// /api/boards/{id}
	id, err := strconv.Atoi(strings.TrimSuffix(path, "/"))
	if err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid board ID")
		return
	}
	switch r.Method {
	case http.MethodGet:
		a.GetBoardHandler(w, r, id)
	case http.MethodDelete:
		a.DeleteBoardHandler(w, r, id)
	default:
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}
