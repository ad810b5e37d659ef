// Package email provides the email client for sending transactional emails.
package email

import (
	"fmt"

	"github.com/NexusProtocols/gateway-go/internal/infrastructure/email/templates"
	"github.com/NexusProtocols/gateway-go/pkg/config"
	"github.com/resendlabs/resend-go"
)

// Service defines the interface for sending emails, allowing for mock implementations in tests.
type Service interface {
	SendRewardDispensedEmail(toEmail, gatewayTitle, gatewayID string) error
}

// ResendClient is the concrete implementation of the email Service using the Resend API.
type ResendClient struct {
	client    *resend.Client
	fromEmail string
	fromName  string
}

// NewService creates a new email service client, returning the Service interface.
func NewService() (Service, error) {
	if config.ResendAPIKey == "" {
		return nil, fmt.Errorf("RESEND_API_KEY environment variable is required")
	}

	return &ResendClient{
		client:    resend.NewClient(config.ResendAPIKey),
		fromEmail: config.NotificationsFrom,
		fromName:  "Gateway",
	}, nil
}

// SendRewardDispensedEmail notifies a gateway creator that a visitor finished
// their funnel and collected the reward.
func (c *ResendClient) SendRewardDispensedEmail(toEmail, gatewayTitle, gatewayID string) error {
	subject := fmt.Sprintf("Reward dispensed on %q", gatewayTitle)

	content := templates.GetHeading("A visitor completed your gateway") +
		templates.GetParagraph(fmt.Sprintf("Someone just finished all stages of %q and collected the reward.", gatewayTitle)) +
		templates.GetParagraph(fmt.Sprintf("Gateway: %s", gatewayID))

	htmlContent := templates.GetEmailLayout(templates.EmailLayoutProps{
		Preheader: subject,
		Content:   content,
	})

	params := &resend.SendEmailRequest{
		From:    fmt.Sprintf("%s <%s>", c.fromName, c.fromEmail),
		To:      []string{toEmail},
		Subject: subject,
		Html:    htmlContent,
	}

	_, err := c.client.Emails.Send(params)
	if err != nil {
		return fmt.Errorf("failed to send reward notification via Resend: %w", err)
	}

	return nil
}
