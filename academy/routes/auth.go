// academy/routes/auth.go
package routes

import (
	"academy/academy/controllers"
	"academy/academy/types"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

func AuthRoutes(ctrl *controllers.AuthController) chi.Router {
	r := chi.NewRouter()
	r.Post("/token", handleJSON(func(r *http.Request) (any, int, error) {
		var req types.TokenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, http.StatusBadRequest, err
		}
		token, err := ctrl.IssueToken(r.Context(), req)
		if err != nil {
			return nil, statusFor(err), err
		}
		return map[string]string{"token": token}, http.StatusOK, nil
	}))
	return r
}
