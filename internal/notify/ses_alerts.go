package notify

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	"github.com/BradenHooton/gatekeeper/internal/models"
)

// SESClient is the part of the SES API the alert sink uses
type SESClient interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESAlertSink mails security events to an operator address
type SESAlertSink struct {
	client      SESClient
	fromAddress string
	recipient   string
	logger      *slog.Logger
}

// NewSESAlertSink loads the default AWS credential chain for region
func NewSESAlertSink(ctx context.Context, region, fromAddress, recipient string, logger *slog.Logger) (*SESAlertSink, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewSESAlertSinkWithClient(ses.NewFromConfig(cfg), fromAddress, recipient, logger), nil
}

func NewSESAlertSinkWithClient(client SESClient, fromAddress, recipient string, logger *slog.Logger) *SESAlertSink {
	return &SESAlertSink{
		client:      client,
		fromAddress: fromAddress,
		recipient:   recipient,
		logger:      logger,
	}
}

func (s *SESAlertSink) Name() string { return "ses" }

// Write sends one alert mail for event
func (s *SESAlertSink) Write(ctx context.Context, event models.SecurityEvent) error {
	subject := fmt.Sprintf("[%s] Security alert: %s", event.Severity, event.EventType)
	lines := alertLines(event)

	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{s.recipient},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String(subject),
			},
			Body: &types.Body{
				Html: &types.Content{
					Data: aws.String(htmlBody(subject, lines)),
				},
				Text: &types.Content{
					Data: aws.String(textBody(subject, lines)),
				},
			},
		},
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to send alert email: %w", err)
	}

	messageID := ""
	if result != nil && result.MessageId != nil {
		messageID = *result.MessageId
	}
	s.logger.Info("security alert sent",
		slog.String("event_id", event.ID.String()),
		slog.String("event_type", event.EventType),
		slog.String("message_id", messageID))

	return nil
}

type alertLine struct {
	key   string
	value string
}

func alertLines(event models.SecurityEvent) []alertLine {
	subject := "-"
	if event.SubjectID != nil {
		subject = *event.SubjectID
	}
	ip := event.IPAddress
	if ip == "" {
		ip = "-"
	}

	lines := []alertLine{
		{"Event", event.EventType},
		{"Severity", string(event.Severity)},
		{"Outcome", event.Outcome},
		{"Subject", subject},
		{"IP address", ip},
		{"Time", event.CreatedAt.UTC().Format(time.RFC3339)},
		{"Event ID", event.ID.String()},
	}

	keys := make([]string, 0, len(event.Details))
	for k := range event.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		lines = append(lines, alertLine{k, fmt.Sprint(event.Details[k])})
	}
	return lines
}

func textBody(subject string, lines []alertLine) string {
	var b strings.Builder
	b.WriteString(subject)
	b.WriteString("\n\n")
	for _, l := range lines {
		fmt.Fprintf(&b, "%s: %s\n", l.key, l.value)
	}
	b.WriteString("\nThis is an automated message.\n")
	return b.String()
}

func htmlBody(subject string, lines []alertLine) string {
	var b strings.Builder
	b.WriteString(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"></head>
<body style="font-family: Arial, sans-serif; color: #333;">
`)
	fmt.Fprintf(&b, "<h2>%s</h2>\n<table>\n", html.EscapeString(subject))
	for _, l := range lines {
		fmt.Fprintf(&b, "<tr><td><strong>%s</strong></td><td>%s</td></tr>\n",
			html.EscapeString(l.key), html.EscapeString(l.value))
	}
	b.WriteString("</table>\n<p style=\"color: #666; font-size: 12px;\">This is an automated message.</p>\n</body>\n</html>\n")
	return b.String()
}
