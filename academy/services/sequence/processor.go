package sequence

import (
	"academy/academy/sources/psql/models"
	"academy/academy/types"
	"academy/academy/utils/logging"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultBatchSize = 100
	DefaultLease     = 2 * time.Minute
)

// Processor advances due drip-sequence enrollments by one step each run.
// Enrollments are handled sequentially and one failure never stops the rest.
type Processor struct {
	Store   Store
	Quota   Quota
	Sender  Sender
	Dedup   Dedup      // optional
	Reports ReportSink // optional

	BatchSize int
	Lease     time.Duration
	Now       func() time.Time
}

func NewProcessor(store Store, quota Quota, sender Sender) *Processor {
	return &Processor{
		Store:     store,
		Quota:     quota,
		Sender:    sender,
		BatchSize: DefaultBatchSize,
		Lease:     DefaultLease,
	}
}

func (p *Processor) now() time.Time {
	if p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

// Run processes one batch. The only returned error is a failure to select
// due enrollments; everything else is counted in the Result.
func (p *Processor) Run(ctx context.Context) (Result, error) {
	defer logging.LogDuration(ctx, "sequence.Run")()

	now := p.now()
	batch := p.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	due, err := p.Store.DueEnrollments(ctx, now, batch)
	if err != nil {
		logging.ErrorLogger.Error("select due enrollments", zap.Error(err))
		return Result{}, fmt.Errorf("select due enrollments: %w", err)
	}

	res := Result{Total: len(due)}
	report := types.ProcessorReport{
		RunID:     uuid.NewString(),
		StartedAt: now,
		Total:     len(due),
	}

	for i := range due {
		if ctx.Err() != nil {
			break
		}
		e := &due[i]
		outcome, step, err := p.process(ctx, e, now)

		item := types.ProcessorReportItem{EnrollmentID: e.ID.String(), Outcome: outcome, Step: step}
		switch outcome {
		case OutcomeSent, OutcomeCompleted, OutcomeDuplicate:
			res.Processed++
		case OutcomeSkipped:
			report.Skipped++
		default:
			res.Errors++
		}
		if err != nil {
			item.Error = err.Error()
			logging.ErrorLogger.Error("sequence enrollment failed",
				zap.String("enrollment_id", e.ID.String()),
				zap.String("outcome", outcome),
				zap.Error(err))
		}
		report.Items = append(report.Items, item)
	}

	report.Processed = res.Processed
	report.Errors = res.Errors
	report.FinishedAt = p.now()
	p.archive(ctx, report)

	logging.AppLogger.Info("sequence run finished",
		zap.String("run_id", report.RunID),
		zap.Int("total", res.Total),
		zap.Int("processed", res.Processed),
		zap.Int("errors", res.Errors),
		zap.Int("skipped", report.Skipped))
	return res, nil
}

func (p *Processor) process(ctx context.Context, e *models.SequenceEnrollment, now time.Time) (string, int, error) {
	lease := p.Lease
	if lease <= 0 {
		lease = DefaultLease
	}
	claimed, err := p.Store.ClaimEnrollment(ctx, e.ID, now, lease)
	if err != nil {
		return OutcomeError, 0, fmt.Errorf("claim lease: %w", err)
	}
	if !claimed {
		return OutcomeSkipped, 0, nil
	}

	seq, err := p.Store.GetSequence(ctx, e.SequenceID)
	if err == nil && seq == nil {
		err = fmt.Errorf("sequence %s: %w", e.SequenceID, ErrNotFound)
	}
	if err != nil {
		p.release(ctx, e.ID)
		return OutcomeError, 0, fmt.Errorf("load sequence: %w", err)
	}
	if !seq.IsActive {
		p.release(ctx, e.ID)
		return OutcomeSkipped, 0, nil
	}

	order := e.CurrentStep + 1
	step, err := p.Store.GetStep(ctx, seq.ID, order)
	if err != nil {
		p.release(ctx, e.ID)
		return OutcomeError, order, fmt.Errorf("load step %d: %w", order, err)
	}
	if step == nil {
		if err := p.Store.CompleteEnrollment(ctx, e.ID, e.CurrentStep, now); err != nil {
			return OutcomeError, e.CurrentStep, fmt.Errorf("complete enrollment: %w", err)
		}
		return OutcomeCompleted, e.CurrentStep, nil
	}

	req, err := p.buildRequest(ctx, e, seq, step)
	if err != nil {
		p.release(ctx, e.ID)
		return OutcomeError, order, err
	}

	// a step already handed to the sender is not charged again
	key := fmt.Sprintf("%s:%d", e.ID, order)
	marked := false
	if p.Dedup != nil {
		fresh, err := p.Dedup.MarkSent(ctx, key)
		switch {
		case err != nil:
			logging.AppLogger.Warn("step dedup unavailable", zap.String("key", key), zap.Error(err))
		case !fresh:
			if err := p.advance(ctx, e, seq, order, now); err != nil {
				return OutcomeError, order, err
			}
			return OutcomeDuplicate, order, nil
		default:
			marked = true
		}
	}

	ok, used, err := p.Quota.Increment(ctx, seq.OrganizationID, now.Format("2006-01"), models.UsageKindEmails, 1)
	if err != nil {
		p.forget(ctx, key, marked)
		p.release(ctx, e.ID)
		return OutcomeError, order, fmt.Errorf("email quota: %w", err)
	}
	if !ok {
		p.forget(ctx, key, marked)
		return OutcomePaused, order, p.pause(ctx, e, seq, order, used)
	}

	if err := p.Sender.Send(ctx, req); err != nil {
		p.forget(ctx, key, marked)
		p.release(ctx, e.ID)
		return OutcomeError, order, fmt.Errorf("send step %d: %w", order, err)
	}

	if err := p.advance(ctx, e, seq, order, now); err != nil {
		return OutcomeError, order, err
	}
	return OutcomeSent, order, nil
}

func (p *Processor) buildRequest(ctx context.Context, e *models.SequenceEnrollment, seq *models.EmailSequence, step *models.SequenceStep) (types.SendEmailRequest, error) {
	tpl, err := p.Store.GetTemplate(ctx, step.TemplateID)
	if err == nil && tpl == nil {
		err = fmt.Errorf("template %s: %w", step.TemplateID, ErrNotFound)
	}
	if err != nil {
		return types.SendEmailRequest{}, fmt.Errorf("resolve template: %w", err)
	}

	profile, err := p.Store.GetProfile(ctx, e.UserID)
	if err == nil && (profile == nil || profile.Email == "") {
		err = fmt.Errorf("recipient %s: %w", e.UserID, ErrNotFound)
	}
	if err != nil {
		return types.SendEmailRequest{}, fmt.Errorf("resolve recipient: %w", err)
	}

	courseName := ""
	courseID := e.CourseID
	if courseID == nil {
		courseID = seq.CourseID
	}
	if courseID != nil {
		course, err := p.Store.GetCourse(ctx, *courseID)
		if err == nil && course == nil {
			err = fmt.Errorf("course %s: %w", *courseID, ErrNotFound)
		}
		if err != nil {
			return types.SendEmailRequest{}, fmt.Errorf("resolve course: %w", err)
		}
		courseName = course.Title
	}

	return types.SendEmailRequest{
		Type:           types.EmailTypeSequence,
		OrganizationID: seq.OrganizationID.String(),
		RecipientEmail: profile.Email,
		RecipientName:  profile.DisplayName(),
		CourseName:     courseName,
		SequenceStepID: step.ID.String(),
		TemplateID:     tpl.ID.String(),
	}, nil
}

// advance records order as sent and schedules the following step, or
// completes the enrollment when there is none.
func (p *Processor) advance(ctx context.Context, e *models.SequenceEnrollment, seq *models.EmailSequence, order int, now time.Time) error {
	next, err := p.Store.GetStep(ctx, seq.ID, order+1)
	if err != nil {
		return fmt.Errorf("load step %d: %w", order+1, err)
	}
	if next == nil {
		if err := p.Store.CompleteEnrollment(ctx, e.ID, order, now); err != nil {
			return fmt.Errorf("complete enrollment: %w", err)
		}
		return nil
	}
	if err := p.Store.AdvanceEnrollment(ctx, e.ID, order, now.Add(next.Delay())); err != nil {
		return fmt.Errorf("advance enrollment: %w", err)
	}
	return nil
}

func (p *Processor) pause(ctx context.Context, e *models.SequenceEnrollment, seq *models.EmailSequence, order, used int) error {
	if err := p.Store.PauseEnrollment(ctx, e.ID); err != nil {
		return fmt.Errorf("pause enrollment: %w", err)
	}
	details, _ := json.Marshal(map[string]any{
		"sequence_id": seq.ID.String(),
		"user_id":     e.UserID.String(),
		"step":        order,
		"used":        used,
	})
	entry := &models.AuditLog{
		OrganizationID: seq.OrganizationID,
		Action:         models.AuditSequencePausedQuota,
		EntityType:     "sequence_enrollment",
		EntityID:       e.ID.String(),
		Details:        string(details),
	}
	if err := p.Store.WriteAudit(ctx, entry); err != nil {
		return fmt.Errorf("write audit: %w", err)
	}
	return fmt.Errorf("email quota exceeded for organization %s", seq.OrganizationID)
}

// forget drops a dedup key this run set but did not deliver.
func (p *Processor) forget(ctx context.Context, key string, marked bool) {
	if !marked {
		return
	}
	if err := p.Dedup.Forget(ctx, key); err != nil {
		logging.AppLogger.Warn("step dedup forget failed", zap.String("key", key), zap.Error(err))
	}
}

func (p *Processor) release(ctx context.Context, id uuid.UUID) {
	if err := p.Store.ReleaseEnrollment(ctx, id); err != nil {
		logging.ErrorLogger.Error("release enrollment lease", zap.String("enrollment_id", id.String()), zap.Error(err))
	}
}

func (p *Processor) archive(ctx context.Context, report types.ProcessorReport) {
	if p.Reports == nil {
		return
	}
	key, err := p.Reports.SaveReport(ctx, report)
	if err != nil {
		logging.ErrorLogger.Error("archive sequence report", zap.String("run_id", report.RunID), zap.Error(err))
		return
	}
	logging.AppLogger.Debug("sequence report archived", zap.String("key", key))
}
