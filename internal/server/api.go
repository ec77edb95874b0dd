package server

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"interviewhelper/internal/auth"
)

func registerAPIRoutes(mux *http.ServeMux, tickets *auth.Store, store ProjectStore, verifier TokenVerifier) {
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":                     "ok",
			"active_tickets":             tickets.ActiveCount(),
			"default_expiration_seconds": int(tickets.Expiration().Seconds()),
		})
	})

	mux.HandleFunc("GET /auth/ticket", func(w http.ResponseWriter, r *http.Request) {
		userID, err := verifier.Verify(r)
		if err != nil {
			writeJSONError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		ticket, err := tickets.Issue(userID, clientIP(r))
		if err != nil {
			if errors.Is(err, auth.ErrRateLimited) {
				writeJSONError(w, http.StatusTooManyRequests, "ticket rate limit exceeded")
				return
			}
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("issue ticket: %v", err))
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"ticket_id":  ticket.TicketID,
			"expires_in": int(tickets.Expiration().Seconds()),
		})
	})

	mux.HandleFunc("GET /project", func(w http.ResponseWriter, r *http.Request) {
		if _, err := verifier.Verify(r); err != nil {
			writeJSONError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		projects, err := store.ListProjects()
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("list projects: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, projects)
	})

	mux.HandleFunc("POST /project", func(w http.ResponseWriter, r *http.Request) {
		userID, err := verifier.Verify(r)
		if err != nil {
			writeJSONError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		var body struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if strings.TrimSpace(body.Name) == "" {
			writeJSONError(w, http.StatusBadRequest, "project name is required")
			return
		}
		if body.ID == "" {
			body.ID = uuid.NewString()
		}

		if err := store.CreateProject(body.ID, body.Name, userID); err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("create project: %v", err))
			return
		}

		project, err := store.GetProject(body.ID)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("load project: %v", err))
			return
		}
		writeJSON(w, http.StatusCreated, project)
	})

	mux.HandleFunc("GET /project/{id}", func(w http.ResponseWriter, r *http.Request) {
		if _, err := verifier.Verify(r); err != nil {
			writeJSONError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		project, err := store.GetProject(r.PathValue("id"))
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, sql.ErrNoRows) {
				status = http.StatusNotFound
			}
			writeJSONError(w, status, fmt.Sprintf("get project: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, project)
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
