package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	"github.com/trialbridge/portal/pkg/logger"
)

// EmailService defines the interface for sending portal notifications
type EmailService interface {
	SendPasswordResetCode(ctx context.Context, email, code string, expiresAt time.Time) error
	SendAccountInvitation(ctx context.Context, email, name string) error
}

// AWSSESEmailService sends emails using AWS SES
type AWSSESEmailService struct {
	sesClient   *ses.Client
	fromAddress string
	portalURL   string
	logger      *slog.Logger
}

// NewAWSSESEmailService creates a new AWS SES email service
func NewAWSSESEmailService(region, fromAddress, portalURL string, logger *slog.Logger) (*AWSSESEmailService, error) {
	cfg, err := config.LoadDefaultConfig(context.Background(), config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &AWSSESEmailService{
		sesClient:   ses.NewFromConfig(cfg),
		fromAddress: fromAddress,
		portalURL:   portalURL,
		logger:      logger,
	}, nil
}

// SendPasswordResetCode delivers a reset verification code. No link is
// embedded; staff enter the code on the portal sign-in page.
func (s *AWSSESEmailService) SendPasswordResetCode(ctx context.Context, email, code string, expiresAt time.Time) error {
	minutes := int(time.Until(expiresAt).Minutes())

	textBody := fmt.Sprintf(`Password Reset Requested

A password reset was requested for your portal account.

Your verification code is:

    %s

Enter this code at %s to continue. The code expires in %d minutes.

If you did not request a reset, no action is needed and your password is unchanged.

This is an automated message. Please do not reply to this email.
`, code, s.portalURL, minutes)

	htmlBody := fmt.Sprintf(`
<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"></head>
<body style="font-family: Arial, sans-serif; color: #333;">
    <div style="max-width: 600px; margin: 0 auto; padding: 20px;">
        <h2>Password Reset Requested</h2>
        <p>A password reset was requested for your portal account.</p>
        <p>Your verification code is:</p>
        <p style="font-size: 24px; letter-spacing: 4px; font-family: monospace;"><strong>%s</strong></p>
        <p>Enter this code at <a href="%s">%s</a> to continue. The code expires in %d minutes.</p>
        <p>If you did not request a reset, no action is needed and your password is unchanged.</p>
        <p style="color: #666; font-size: 12px;">This is an automated message. Please do not reply to this email.</p>
    </div>
</body>
</html>
`, code, s.portalURL, s.portalURL, minutes)

	return s.send(ctx, email, "Your password reset code", textBody, htmlBody)
}

// SendAccountInvitation notifies a newly provisioned user
func (s *AWSSESEmailService) SendAccountInvitation(ctx context.Context, email, name string) error {
	textBody := fmt.Sprintf(`Hello %s,

A portal account has been created for you. Sign in with your organization credentials at:

%s

This is an automated message. Please do not reply to this email.
`, name, s.portalURL)

	htmlBody := fmt.Sprintf(`
<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"></head>
<body style="font-family: Arial, sans-serif; color: #333;">
    <div style="max-width: 600px; margin: 0 auto; padding: 20px;">
        <h2>Your portal account is ready</h2>
        <p>Hello %s,</p>
        <p>A portal account has been created for you. Sign in with your organization credentials at:</p>
        <p><a href="%s">%s</a></p>
        <p style="color: #666; font-size: 12px;">This is an automated message. Please do not reply to this email.</p>
    </div>
</body>
</html>
`, name, s.portalURL, s.portalURL)

	return s.send(ctx, email, "Your portal account is ready", textBody, htmlBody)
}

func (s *AWSSESEmailService) send(ctx context.Context, email, subject, textBody, htmlBody string) error {
	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{email},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String(subject),
			},
			Body: &types.Body{
				Html: &types.Content{
					Data: aws.String(htmlBody),
				},
				Text: &types.Content{
					Data: aws.String(textBody),
				},
			},
		},
	}

	result, err := s.sesClient.SendEmail(ctx, input)
	if err != nil {
		s.logger.Error("failed to send email via SES",
			slog.String("email", logger.SanitizedEmail(email)),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("email sent",
		slog.String("email", logger.SanitizedEmail(email)),
		slog.String("message_id", *result.MessageId))

	return nil
}
