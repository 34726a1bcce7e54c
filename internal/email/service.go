package email

import (
	"context"
	"fmt"

	"gopkg.in/gomail.v2"
)

// Service sends patient-facing notifications for lifecycle events.
type Service interface {
	SendAppointmentConfirmation(ctx context.Context, to, branchName, visitDate, startTime string) error
	SendAppointmentCancellation(ctx context.Context, to, branchName, reason string) error
	SendReferralNotice(ctx context.Context, to, fromBranch, toBranch string) error
	SendCustom(ctx context.Context, to, subject, content string) error
}

type Config struct {
	Host     string
	Port     int
	From     string
	Username string
	Password string
}

type smtpService struct {
	dialer *gomail.Dialer
	from   string
}

func NewService(cfg Config) Service {
	return &smtpService{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
	}
}

func (s *smtpService) SendAppointmentConfirmation(ctx context.Context, to, branchName, visitDate, startTime string) error {
	body := fmt.Sprintf(
		"Your appointment at %s is confirmed for %s at %s.\n\nPlease arrive ten minutes early.",
		branchName, visitDate, startTime,
	)
	return s.send(ctx, to, "Appointment confirmed", body)
}

func (s *smtpService) SendAppointmentCancellation(ctx context.Context, to, branchName, reason string) error {
	body := fmt.Sprintf(
		"Your appointment at %s has been cancelled.\n\nReason: %s\n\nPlease contact the branch to rebook.",
		branchName, reason,
	)
	return s.send(ctx, to, "Appointment cancelled", body)
}

func (s *smtpService) SendReferralNotice(ctx context.Context, to, fromBranch, toBranch string) error {
	body := fmt.Sprintf(
		"%s has recommended continuing your treatment at %s.\n\nPlease log in to approve or decline the referral.",
		fromBranch, toBranch,
	)
	return s.send(ctx, to, "Referral awaiting your approval", body)
}

func (s *smtpService) SendCustom(ctx context.Context, to, subject, content string) error {
	return s.send(ctx, to, subject, content)
}

func (s *smtpService) send(ctx context.Context, to, subject, body string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", to, err)
	}
	return nil
}
