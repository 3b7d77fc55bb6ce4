package notifier

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/semmidev/bastion/internal/config"
	"github.com/semmidev/bastion/internal/domain"
)

type Logger interface {
	Infof(template string, args ...interface{})
	Errorf(template string, args ...interface{})
	Warnf(template string, args ...interface{})
}

// Telegram forwards store state transitions to a chat. Publish never
// blocks the publishing store: events go through a buffered channel
// and a single sender goroutine; when the buffer is full the event is
// dropped with a warning.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger Logger
	events chan domain.Event
	done   chan struct{}
}

func NewTelegram(cfg *config.TelegramConfig, logger Logger) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	var chatID int64
	fmt.Sscanf(cfg.ChatID, "%d", &chatID)

	t := &Telegram{
		bot:    bot,
		chatID: chatID,
		logger: logger,
		events: make(chan domain.Event, 64),
		done:   make(chan struct{}),
	}
	go t.sender()
	return t, nil
}

// Publish implements domain.Publisher.
func (t *Telegram) Publish(e domain.Event) {
	select {
	case t.events <- e:
	default:
		t.logger.Warnf("Telegram notifier buffer full, dropping %s event", e.Kind)
	}
}

// Close stops the sender after draining queued events.
func (t *Telegram) Close() {
	close(t.events)
	<-t.done
}

func (t *Telegram) sender() {
	defer close(t.done)

	for e := range t.events {
		text := formatEvent(e)
		if text == "" {
			continue
		}
		if _, err := t.bot.Send(tgbotapi.NewMessage(t.chatID, text)); err != nil {
			t.logger.Errorf("Failed to send telegram notification: %v", err)
		}
	}
}

func formatEvent(e domain.Event) string {
	switch e.Kind {
	case domain.EventBackupFinished:
		if e.Status == string(domain.BackupStatusSuccess) {
			return fmt.Sprintf(
				"✅ Backup Completed\n\n"+
					"🗄 Database: %s\n"+
					"📊 Size: %.2f MB\n"+
					"🕐 Time: %s",
				e.Database,
				float64(e.SizeBytes)/(1024*1024),
				e.At.Format("2006-01-02 15:04:05"),
			)
		}
		return fmt.Sprintf(
			"❌ Backup Failed\n\n"+
				"🗄 Database: %s\n"+
				"📝 Reason: %s\n"+
				"🕐 Time: %s",
			e.Database,
			e.Notes,
			e.At.Format("2006-01-02 15:04:05"),
		)

	case domain.EventJobRunRecorded:
		icon := "✅"
		if e.Status == string(domain.JobStatusFailed) {
			icon = "❌"
		}
		return fmt.Sprintf(
			"%s Job Run Recorded\n\n"+
				"🆔 Job: %d\n"+
				"📋 Status: %s\n"+
				"📝 Notes: %s",
			icon, e.JobID, e.Status, e.Notes,
		)

	case domain.EventBackupPurged:
		return fmt.Sprintf(
			"🧹 Backup Purged\n\n"+
				"🗄 Database: %s\n"+
				"🕐 Time: %s",
			e.Database,
			e.At.Format("2006-01-02 15:04:05"),
		)
	}
	return ""
}
