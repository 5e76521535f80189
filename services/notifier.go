package services

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"permit_flow_app_go/config"
	"permit_flow_app_go/models"
)

// NotificationEvent is a permit change someone should hear about
type NotificationEvent string

const (
	EventAwaitingSignature NotificationEvent = "awaiting_signature"
	EventApproved          NotificationEvent = "approved"
	EventRejected          NotificationEvent = "rejected"
	EventCancelled         NotificationEvent = "cancelled"
	EventExpired           NotificationEvent = "expired"
	EventReminder          NotificationEvent = "reminder"
)

var eventLabels = map[NotificationEvent]string{
	EventAwaitingSignature: "firma registrada",
	EventApproved:          "aprobada",
	EventRejected:          "rechazada",
	EventCancelled:         "cancelada",
	EventExpired:           "vencida",
	EventReminder:          "firma pendiente",
}

// Notifier delivers permit notifications
type Notifier interface {
	Notify(ctx context.Context, permit *models.Permit, event NotificationEvent) error
}

// EmailNotifier mails permit events to the HR mailbox through Resend
type EmailNotifier struct {
	Config    *config.Config
	Recipient string
}

// NewEmailNotifier creates a notifier addressed to HR_NOTIFICATION_EMAIL
func NewEmailNotifier(cfg *config.Config) *EmailNotifier {
	return &EmailNotifier{Config: cfg, Recipient: cfg.HRNotificationEmail}
}

// PermitEventEmailData contains data for the permit event template
type PermitEventEmailData struct {
	Number      string
	EventLabel  string
	TypeName    string
	RequesterID string
	StartAt     string
	EndAt       string
	StateName   string
	NextSigner  string
	Note        string
	Link        string
}

// Notify implements Notifier
func (n *EmailNotifier) Notify(ctx context.Context, permit *models.Permit, event NotificationEvent) error {
	if n.Recipient == "" {
		log.Printf("[EMAIL] No HR_NOTIFICATION_EMAIL configured, skipping %s for %s", event, permit.Number())
		return nil
	}
	email, err := BuildPermitEventEmail(n.Recipient, n.Config.AppURL, permit, event, n.Config.Location())
	if err != nil {
		return err
	}
	return SendEmail(n.Config, email)
}

// BuildPermitEventEmail creates the notification email for a permit event
func BuildPermitEventEmail(to, appURL string, permit *models.Permit, event NotificationEvent, loc *time.Location) (*Email, error) {
	label, ok := eventLabels[event]
	if !ok {
		label = string(event)
	}

	data := PermitEventEmailData{
		Number:      permit.Number(),
		EventLabel:  label,
		TypeName:    permit.Type.Name,
		RequesterID: permit.RequesterID,
		StartAt:     formatForDocument(permit.StartAt, loc),
		StateName:   permit.State.Name,
		Note:        permit.RejectionNote,
		Link:        fmt.Sprintf("%s/api/permits/%s", strings.TrimSuffix(appURL, "/"), permit.ID),
	}
	if permit.EndAt != nil {
		data.EndAt = formatForDocument(*permit.EndAt, loc)
	}
	if role, pending := NextSigner(SlotsOf(permit), &permit.Type); pending && !permit.State.IsTerminal() {
		data.NextSigner = role.DisplayName()
	}

	htmlBody, textBody, err := loadTemplate("permit_event", data)
	if err != nil {
		return nil, err
	}
	return &Email{
		To:       []string{to},
		Subject:  fmt.Sprintf("Papeleta %s %s", data.Number, label),
		HTMLBody: htmlBody,
		TextBody: textBody,
	}, nil
}
