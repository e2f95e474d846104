package routes

import (
	"academy/academy/controllers"
	"academy/academy/middlewares"
	"academy/academy/types"
	"encoding/json"
	"errors"
	"net/http"

	"academy/academy/config"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

var errUnauthorized = errors.New("unauthorized")

// generic wrapper to reduce boilerplate
func handleJSON(handler func(r *http.Request) (any, int, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, status, err := handler(r)
		if err != nil {
			controllers.WriteError(w, status, err.Error(), "")
			return
		}
		if status == http.StatusNoContent {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(res)
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, controllers.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, controllers.ErrNotFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func UserRoutes(ctrl *controllers.UserController, cfg config.Config) chi.Router {
	r := chi.NewRouter()
	r.Use(middlewares.AuthMiddleware(cfg))

	r.Get("/me", handleJSON(func(r *http.Request) (any, int, error) {
		id, ok := middlewares.UserID(r.Context())
		if !ok {
			return nil, http.StatusUnauthorized, errUnauthorized
		}
		p, err := ctrl.GetProfile(r.Context(), id)
		if err != nil {
			return nil, statusFor(err), err
		}
		return p, http.StatusOK, nil
	}))

	r.Put("/me", handleJSON(func(r *http.Request) (any, int, error) {
		id, ok := middlewares.UserID(r.Context())
		if !ok {
			return nil, http.StatusUnauthorized, errUnauthorized
		}
		var req types.UpdateProfileRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, http.StatusBadRequest, err
		}
		p, err := ctrl.UpdateProfile(r.Context(), id, req)
		if err != nil {
			return nil, statusFor(err), err
		}
		return p, http.StatusOK, nil
	}))

	r.Get("/fetch/{user_id}", handleJSON(func(r *http.Request) (any, int, error) {
		id, err := uuid.Parse(chi.URLParam(r, "user_id"))
		if err != nil {
			return nil, http.StatusBadRequest, err
		}
		p, err := ctrl.GetProfile(r.Context(), id)
		if err != nil {
			return nil, statusFor(err), err
		}
		return p, http.StatusOK, nil
	}))

	return r
}
