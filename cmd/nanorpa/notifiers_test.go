package main

import (
	"fmt"
	"sort"
	"testing"

	"github.com/micromdm/nanorpa/engine/steps"
	"github.com/micromdm/nanorpa/notify"

	"github.com/micromdm/nanolib/log"
)

func TestConfigureNotifiers(t *testing.T) {
	mailer := steps.NewLogMailer(log.NopLogger)
	for _, test := range []struct {
		name       string
		url        string
		recipients string
		actions    string
		webhook    bool
	}{
		{"log only", "", "", "[log notify]", false},
		{"webhook", "http://hooks.example.com/rpa", "", "[log notify webhook]", true},
		{"email", "", "ops@example.com,oncall@example.com", "[email log notify]", false},
	} {
		t.Run(test.name, func(t *testing.T) {
			notifiers := configureNotifiers(log.NopLogger, test.url, mailer, test.recipients)
			var actions []string
			for action := range notifiers {
				actions = append(actions, action)
			}
			sort.Strings(actions)
			if have, want := fmt.Sprint(actions), test.actions; have != want {
				t.Errorf("have: %v, want: %v", have, want)
			}
			_, isWebhook := notifiers["notify"].(*notify.Webhook)
			if have, want := isWebhook, test.webhook; have != want {
				t.Errorf("notify is webhook: have: %v, want: %v", have, want)
			}
			if !test.webhook {
				if _, ok := notifiers["notify"].(*notify.Log); !ok {
					t.Errorf("notify is %T, want log notifier", notifiers["notify"])
				}
			}
		})
	}
}
