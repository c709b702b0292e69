package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/auth-api/pkg/jobs"
	"github.com/noah-isme/auth-api/pkg/mailer"
)

// Notification kinds understood by the background queue.
const (
	notifyVerification    = "verification"
	notifyPasswordReset   = "password_reset"
	notifyWelcome         = "welcome"
	notifyPasswordChanged = "password_changed"
)

type notificationPayload struct {
	Kind  string
	Name  string
	Email string
	URL   string
}

// NotificationService decouples notification delivery from the request path.
// Dispatch enqueues onto the worker queue so a slow or failing mail provider
// never delays or rolls back the state change that triggered it. SendNow is
// the synchronous path for flows that report delivery status to the caller.
type NotificationService struct {
	notifier mailer.Notifier
	queue    *jobs.Queue
	metrics  *MetricsService
	logger   *zap.Logger
}

// NewNotificationService builds the service and its backing queue.
func NewNotificationService(notifier mailer.Notifier, metrics *MetricsService, queueCfg jobs.QueueConfig, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &NotificationService{notifier: notifier, metrics: metrics, logger: logger}
	s.queue = jobs.NewQueue("notifications", s.handle, queueCfg)
	return s
}

// Start launches the queue workers.
func (s *NotificationService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the queue workers.
func (s *NotificationService) Stop() {
	s.queue.Stop()
}

// Dispatch enqueues a notification for asynchronous delivery. Failures are
// retried by the queue and ultimately only logged.
func (s *NotificationService) Dispatch(kind, name, email, url string) {
	err := s.queue.Enqueue(jobs.Job{
		ID:      uuid.NewString(),
		Type:    kind,
		Payload: notificationPayload{Kind: kind, Name: name, Email: email, URL: url},
	})
	if err != nil {
		s.logger.Warn("failed to enqueue notification",
			zap.String("kind", kind),
			zap.String("email", email),
			zap.Error(err),
		)
	}
}

// SendVerificationNow delivers the verification email synchronously so the
// caller can report whether it went out.
func (s *NotificationService) SendVerificationNow(ctx context.Context, name, email, url string) error {
	err := s.notifier.SendVerification(ctx, name, email, url)
	s.metrics.CountEmail(err == nil)
	return err
}

func (s *NotificationService) handle(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(notificationPayload)
	if !ok {
		return fmt.Errorf("unexpected payload type for job %s", job.ID)
	}

	var err error
	switch payload.Kind {
	case notifyVerification:
		err = s.notifier.SendVerification(ctx, payload.Name, payload.Email, payload.URL)
	case notifyPasswordReset:
		err = s.notifier.SendPasswordReset(ctx, payload.Name, payload.Email, payload.URL)
	case notifyWelcome:
		err = s.notifier.SendWelcome(ctx, payload.Name, payload.Email, payload.URL)
	case notifyPasswordChanged:
		err = s.notifier.SendPasswordChanged(ctx, payload.Name, payload.Email)
	default:
		return fmt.Errorf("unknown notification kind %q", payload.Kind)
	}
	s.metrics.CountEmail(err == nil)
	return err
}
