package notify

import (
	"context"
	"fmt"

	"github.com/rehabflow/clinic-platform/internal/events"
	"github.com/rehabflow/clinic-platform/pkg/logging"
)

// Service sends operator notifications after sync-engine commits. Everything
// here is best-effort: the coordinator logs failures and never rolls back a
// committed transition because of them.
type Service struct {
	email         EmailSender
	operatorEmail string
	logger        *logging.Logger
}

// NewService creates a notification service. A nil email sender disables
// sending; the service still logs the events.
func NewService(email EmailSender, operatorEmail string, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		email:         email,
		operatorEmail: operatorEmail,
		logger:        logger,
	}
}

// NotifyCaseAccepted emails the operator when a referral case is accepted.
func (s *Service) NotifyCaseAccepted(ctx context.Context, evt events.CaseAcceptedV1) error {
	if !s.canSend() {
		s.logger.Debug("notify: email disabled, skipping case accepted", "case_code", evt.CaseCode)
		return nil
	}

	body := fmt.Sprintf("Referral case %s was accepted.", evt.CaseCode)
	if evt.BundleCode != "" {
		body += fmt.Sprintf("\nOne session was deducted from bundle %s.", evt.BundleCode)
	}

	msg := EmailMessage{
		To:      s.operatorEmail,
		Subject: fmt.Sprintf("Case %s accepted", evt.CaseCode),
		Body:    body,
	}
	if err := s.email.Send(ctx, msg); err != nil {
		return fmt.Errorf("notify: case accepted email: %w", err)
	}
	return nil
}

// NotifyCaseStatusChanged emails the operator about other case transitions.
func (s *Service) NotifyCaseStatusChanged(ctx context.Context, evt events.CaseStatusChangedV1) error {
	if !s.canSend() {
		s.logger.Debug("notify: email disabled, skipping case status", "case_code", evt.CaseCode)
		return nil
	}

	subject := fmt.Sprintf("Case %s: %s -> %s", evt.CaseCode, evt.OldStatus, evt.NewStatus)
	body := fmt.Sprintf("Referral case %s moved from %s to %s.", evt.CaseCode, evt.OldStatus, evt.NewStatus)
	if evt.Reversal {
		body += "\nThis was an administrative reversal."
	}
	if evt.Reason != "" {
		body += "\nReason: " + evt.Reason
	}

	if err := s.email.Send(ctx, EmailMessage{To: s.operatorEmail, Subject: subject, Body: body}); err != nil {
		return fmt.Errorf("notify: case status email: %w", err)
	}
	return nil
}

// NotifyBookingScheduled emails the operator when a new slot is booked.
func (s *Service) NotifyBookingScheduled(ctx context.Context, evt events.BookingScheduledV1) error {
	if !s.canSend() {
		s.logger.Debug("notify: email disabled, skipping booking scheduled", "booking_id", evt.BookingID)
		return nil
	}

	body := fmt.Sprintf("Booking %s scheduled on %s at %s.", evt.BookingID, evt.Date, evt.Slot)
	if evt.CaseID != "" {
		body += "\nLinked referral case: " + evt.CaseID
	}

	msg := EmailMessage{
		To:      s.operatorEmail,
		Subject: "Booking scheduled " + evt.Date,
		Body:    body,
	}
	if err := s.email.Send(ctx, msg); err != nil {
		return fmt.Errorf("notify: booking scheduled email: %w", err)
	}
	return nil
}

// NotifyBookingCancelled emails the operator when a booking is cancelled.
func (s *Service) NotifyBookingCancelled(ctx context.Context, evt events.BookingCancelledV1) error {
	if !s.canSend() {
		s.logger.Debug("notify: email disabled, skipping booking cancelled", "booking_id", evt.BookingID)
		return nil
	}

	body := fmt.Sprintf("Booking %s on %s at %s was cancelled.\nReason: %s",
		evt.BookingID, evt.Date, evt.Slot, evt.Reason)

	msg := EmailMessage{
		To:      s.operatorEmail,
		Subject: "Booking cancelled " + evt.Date,
		Body:    body,
	}
	if err := s.email.Send(ctx, msg); err != nil {
		return fmt.Errorf("notify: booking cancelled email: %w", err)
	}
	return nil
}

func (s *Service) canSend() bool {
	return s.email != nil && s.operatorEmail != ""
}
