package routes

import (
	"academy/academy/controllers"
	"academy/academy/middlewares"
	"academy/academy/types"
	"academy/academy/utils/logging"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"academy/academy/config"
)

// FunctionRoutes are the machine-to-machine endpoints: the send-email
// function, the sequence processor trigger and enrollment.
func FunctionRoutes(mail *controllers.MailController, seq *controllers.SequenceController, cfg config.Config) chi.Router {
	r := chi.NewRouter()
	r.Use(middlewares.ProcessorSecret(cfg.ProcessorSecret))

	r.Post("/send-email", handleJSON(func(r *http.Request) (any, int, error) {
		var req types.SendEmailRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, http.StatusBadRequest, err
		}
		resp, status, err := mail.SendEmail(r.Context(), req)
		if err != nil {
			return nil, status, err
		}
		return resp, status, nil
	}))

	r.Post("/process-sequences", handleJSON(func(r *http.Request) (any, int, error) {
		res, err := seq.Process(r.Context())
		if err != nil {
			logging.ErrorLogger.Error("process-sequences", zap.Error(err))
			return nil, http.StatusInternalServerError, err
		}
		return res, http.StatusOK, nil
	}))

	r.Get("/reports", handleJSON(func(r *http.Request) (any, int, error) {
		reports, status, err := seq.Reports(r.Context(), r.URL.Query().Get("day"))
		if err != nil {
			return nil, status, err
		}
		return reports, status, nil
	}))

	r.Post("/sequences/{sequence_id}/enroll", handleJSON(func(r *http.Request) (any, int, error) {
		sequenceID, err := uuid.Parse(chi.URLParam(r, "sequence_id"))
		if err != nil {
			return nil, http.StatusBadRequest, err
		}
		var req types.EnrollRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, http.StatusBadRequest, err
		}
		e, status, err := seq.Enroll(r.Context(), sequenceID, req)
		if err != nil {
			return nil, status, err
		}
		return e, status, nil
	}))

	return r
}
