package routes

import (
	"academy/academy/controllers"
	"academy/academy/middlewares"
	"academy/academy/sources/psql/dao"
	"academy/academy/types"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"academy/academy/config"
)

func sessionStatus(err error) int {
	if errors.Is(err, dao.ErrSessionNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func ChatRoutes(ctrl *controllers.ChatController, cfg config.Config) chi.Router {
	r := chi.NewRouter()
	r.Group(func(gr chi.Router) {
		gr.Use(middlewares.AuthMiddleware(cfg))

		gr.Post("/stream", ctrl.StreamChat)

		gr.Get("/sessions", handleJSON(func(r *http.Request) (any, int, error) {
			userID, _ := middlewares.UserID(r.Context())
			sessions, err := ctrl.ListSessions(r.Context(), userID)
			if err != nil {
				return nil, http.StatusInternalServerError, err
			}
			return sessions, http.StatusOK, nil
		}))

		gr.Get("/session/{session_id}/messages", handleJSON(func(r *http.Request) (any, int, error) {
			userID, _ := middlewares.UserID(r.Context())
			msgs, err := ctrl.GetMessagesForSession(r.Context(), userID, chi.URLParam(r, "session_id"))
			if err != nil {
				return nil, sessionStatus(err), err
			}
			return msgs, http.StatusOK, nil
		}))

		gr.Delete("/session/{session_id}", handleJSON(func(r *http.Request) (any, int, error) {
			userID, _ := middlewares.UserID(r.Context())
			if err := ctrl.DeleteSession(r.Context(), userID, chi.URLParam(r, "session_id")); err != nil {
				return nil, sessionStatus(err), err
			}
			return nil, http.StatusNoContent, nil
		}))
	})
	// the token travels in the first frame
	r.HandleFunc("/ws", ctrl.ServeWS)
	return r
}

func AIRoutes(ctrl *controllers.ChatController, cfg config.Config) chi.Router {
	r := chi.NewRouter()
	r.Use(middlewares.AuthMiddleware(cfg))
	r.Post("/generate", handleJSON(func(r *http.Request) (any, int, error) {
		userID, _ := middlewares.UserID(r.Context())
		var req types.GenerateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, http.StatusBadRequest, err
		}
		payload, status, err := ctrl.Generate(r.Context(), userID, req)
		if err != nil {
			return nil, status, err
		}
		return payload, status, nil
	}))
	return r
}
