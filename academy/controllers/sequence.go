package controllers

import (
	"academy/academy/services/sequence"
	"academy/academy/sources/psql/dao"
	"academy/academy/sources/psql/models"
	"academy/academy/types"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// ReportArchive reads archived processor runs. *storage.MinIOClient implements it.
type ReportArchive interface {
	ListReports(ctx context.Context, day string) ([]string, error)
	GetReport(ctx context.Context, key string) (*types.ProcessorReport, error)
}

var ErrNoArchive = errors.New("report archive not configured")

type SequenceController struct {
	processor   *sequence.Processor
	sequenceDAO *dao.SequenceDAO
	reports     ReportArchive // optional
	validate    *validator.Validate
}

func NewSequenceController(processor *sequence.Processor, sequenceDAO *dao.SequenceDAO, reports ReportArchive) *SequenceController {
	return &SequenceController{processor: processor, sequenceDAO: sequenceDAO, reports: reports, validate: validator.New()}
}

// Process runs one processor cycle.
func (c *SequenceController) Process(ctx context.Context) (sequence.Result, error) {
	return c.processor.Run(ctx)
}

// Enroll puts a user into a sequence. The status reflects the failure kind.
func (c *SequenceController) Enroll(ctx context.Context, sequenceID uuid.UUID, req types.EnrollRequest) (*models.SequenceEnrollment, int, error) {
	if err := c.validate.Struct(req); err != nil {
		return nil, http.StatusBadRequest, err
	}
	seq, err := c.sequenceDAO.GetSequence(ctx, sequenceID)
	if err != nil {
		return nil, http.StatusInternalServerError, err
	}
	if seq == nil {
		return nil, http.StatusNotFound, fmt.Errorf("sequence %s: %w", sequenceID, ErrNotFound)
	}
	var courseID *uuid.UUID
	if req.CourseID != nil {
		id := uuid.MustParse(*req.CourseID)
		courseID = &id
	}
	e, err := c.sequenceDAO.Enroll(ctx, sequenceID, uuid.MustParse(req.UserID), courseID, time.Now().UTC())
	switch {
	case errors.Is(err, dao.ErrAlreadyEnrolled):
		return nil, http.StatusConflict, err
	case errors.Is(err, dao.ErrNoSteps):
		return nil, http.StatusUnprocessableEntity, err
	case err != nil:
		return nil, http.StatusInternalServerError, err
	}
	return e, http.StatusCreated, nil
}

// Reports returns the archived runs of one UTC day, "2006/01/02" or
// "2006-01-02". An empty day means today.
func (c *SequenceController) Reports(ctx context.Context, day string) ([]types.ProcessorReport, int, error) {
	if c.reports == nil {
		return nil, http.StatusNotImplemented, ErrNoArchive
	}
	if day == "" {
		day = time.Now().UTC().Format("2006/01/02")
	}
	parsed, err := time.Parse("2006/01/02", strings.ReplaceAll(day, "-", "/"))
	if err != nil {
		return nil, http.StatusBadRequest, fmt.Errorf("%w: day %q", ErrBadRequest, day)
	}
	keys, err := c.reports.ListReports(ctx, parsed.Format("2006/01/02"))
	if err != nil {
		return nil, http.StatusBadGateway, err
	}
	out := make([]types.ProcessorReport, 0, len(keys))
	for _, key := range keys {
		r, err := c.reports.GetReport(ctx, key)
		if err != nil {
			return nil, http.StatusBadGateway, fmt.Errorf("report %s: %w", key, err)
		}
		out = append(out, *r)
	}
	return out, http.StatusOK, nil
}
