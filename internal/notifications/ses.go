package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/hht-diary/authcore/internal/models"
	pkglogger "github.com/hht-diary/authcore/pkg/logger"
)

// sesAPI is the slice of the SES client used here
type sesAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESLockoutNotifier emails a security contact when an account is locked
type SESLockoutNotifier struct {
	client      sesAPI
	fromAddress string
	toAddress   string
	logger      *slog.Logger
}

// NewSESLockoutNotifier creates a notifier using the default AWS credential chain
func NewSESLockoutNotifier(ctx context.Context, region, fromAddress, toAddress string, logger *slog.Logger) (*SESLockoutNotifier, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &SESLockoutNotifier{
		client:      ses.NewFromConfig(cfg),
		fromAddress: fromAddress,
		toAddress:   toAddress,
		logger:      logger,
	}, nil
}

// NotifyLockout sends one plain-text alert per lockout. The username is masked.
func (n *SESLockoutNotifier) NotifyLockout(ctx context.Context, event models.LockoutEvent) error {
	subject := fmt.Sprintf("Account locked for sponsor %s", event.SponsorID)
	body := fmt.Sprintf(`An account was locked after repeated failed sign-in attempts.

Sponsor:         %s
User ID:         %s
Username:        %s
Failed attempts: %d
Locked until:    %s
Client address:  %s

The lock clears automatically. No action is needed unless this pattern repeats.
`,
		event.SponsorID,
		event.UserID,
		pkglogger.SanitizedUsername(event.Username),
		event.FailedAttempts,
		event.LockedUntil.UTC().Format(time.RFC3339),
		event.ClientAddress,
	)

	input := &ses.SendEmailInput{
		Source: aws.String(n.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{n.toAddress},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(subject)},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(body)},
			},
		},
	}

	result, err := n.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to send lockout alert: %w", err)
	}

	n.logger.Info("lockout alert sent",
		slog.String("user_id", event.UserID),
		slog.String("message_id", aws.ToString(result.MessageId)))
	return nil
}
