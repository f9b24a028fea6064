package notify

import (
	"github.com/sirupsen/logrus"

	"csr-volunteer/config"
)

// SendersFromConfig returns the configured channels, or the log sender
// when none is configured.
func SendersFromConfig(cfg *config.Config, log logrus.FieldLogger) []Sender {
	var senders []Sender
	if cfg.Twilio.Enabled() {
		senders = append(senders, NewSMSSender(cfg.Twilio))
	}
	if cfg.SMTP.Enabled() {
		senders = append(senders, NewEmailSender(cfg.SMTP))
	}
	if len(senders) == 0 {
		senders = append(senders, LogSender{Log: log})
	}
	return senders
}
