package jobs

import (
	"context"
	"log"
	"time"

	"permit_flow_app_go/services"

	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

// DefaultReminderAge is how long a permit may wait on a signature before
// HR is reminded
const DefaultReminderAge = 24 * time.Hour

// reminderBatchSize bounds the reminders sent per run
const reminderBatchSize = 50

// SendPendingSignatureReminders notifies about open permits that have
// waited on a signature for longer than age. Each permit is reminded once
// until it changes again.
func SendPendingSignatureReminders(ctx context.Context, database *gorm.DB, notifier services.Notifier, clock Clock, age time.Duration) int {
	now := clock.Now().UTC()

	permits, err := services.ListAwaitingSignature(ctx, database, now.Add(-age), reminderBatchSize)
	if err != nil {
		log.Printf("[JOB] Error fetching permits for reminders: %v", err)
		return 0
	}

	sent := 0
	for i := range permits {
		p := &permits[i]
		if err := notifier.Notify(ctx, p, services.EventReminder); err != nil {
			log.Printf("[JOB] Failed to send reminder for permit %s: %v", p.Number(), err)
			continue
		}
		if err := services.MarkReminderSent(ctx, database, p.ID, now); err != nil {
			log.Printf("[JOB] Failed to mark reminder for permit %s: %v", p.Number(), err)
			continue
		}
		sent++
	}

	if sent > 0 {
		log.Printf("[JOB] Sent %d pending signature reminders", sent)
	}
	return sent
}

// StartReminderScheduler sends reminders on weekday mornings in loc
func StartReminderScheduler(database *gorm.DB, notifier services.Notifier, loc *time.Location) (*cron.Cron, error) {
	c := cron.New(cron.WithLocation(loc))

	_, err := c.AddFunc("0 9 * * 1-5", func() {
		log.Println("[CRON] Sending pending signature reminders...")
		SendPendingSignatureReminders(context.Background(), database, notifier, SystemClock{}, DefaultReminderAge)
	})
	if err != nil {
		return nil, err
	}

	c.Start()
	log.Println("[CRON] Reminder scheduler started")
	return c, nil
}
