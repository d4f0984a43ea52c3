package main

import (
	"strings"

	"github.com/micromdm/nanorpa/engine"
	"github.com/micromdm/nanorpa/notify"

	"github.com/micromdm/nanolib/log"
)

// configureNotifiers returns the escalation notifiers by fallback action.
// The "notify" action sends to the webhook if url is set and logs otherwise.
func configureNotifiers(logger log.Logger, url string, mailer notify.Mailer, recipients string) map[string]engine.Notifier {
	logNotifier := notify.NewLog(logger)
	notifiers := map[string]engine.Notifier{
		"log":    logNotifier,
		"notify": logNotifier,
	}
	if url != "" {
		webhook := notify.NewWebhook(url, nil)
		notifiers["webhook"] = webhook
		notifiers["notify"] = webhook
	}
	if recipients != "" {
		notifiers["email"] = notify.NewMail(mailer, strings.Split(recipients, ",")...)
	}
	return notifiers
}
