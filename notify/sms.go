package notify

import (
	"context"

	"github.com/pkg/errors"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"csr-volunteer/config"
)

type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

type SMSSender struct {
	api  messageCreator
	from string
}

func NewSMSSender(cfg config.TwilioConfig) *SMSSender {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &SMSSender{api: client.Api, from: cfg.From}
}

func (s *SMSSender) Name() string { return "sms" }

func (s *SMSSender) CanSend(msg Message) bool { return msg.To.Phone != "" }

func (s *SMSSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(msg.To.Phone)
	params.SetFrom(s.from)
	params.SetBody(msg.Subject + ": " + msg.Body)

	if _, err := s.api.CreateMessage(params); err != nil {
		return errors.Wrapf(err, "send sms to %s", msg.To.Phone)
	}
	return nil
}
