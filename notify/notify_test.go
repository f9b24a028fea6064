package notify

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"csr-volunteer/config"
)

type recordingSender struct {
	mu    sync.Mutex
	name  string
	needs func(Message) bool
	err   error
	got   []Message
}

func (s *recordingSender) Name() string { return s.name }

func (s *recordingSender) CanSend(msg Message) bool {
	if s.needs == nil {
		return true
	}
	return s.needs(msg)
}

func (s *recordingSender) Send(_ context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, msg)
	return s.err
}

func (s *recordingSender) messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.got...)
}

func TestDispatcherDeliversToCapableSenders(t *testing.T) {
	logger, _ := test.NewNullLogger()
	sms := &recordingSender{name: "sms", needs: func(m Message) bool { return m.To.Phone != "" }}
	email := &recordingSender{name: "email", needs: func(m Message) bool { return m.To.Email != "" }}

	d := NewDispatcher(logger, 8, sms, email)
	d.Notify(Message{To: Recipient{Email: "pin1@mail.com"}, Subject: "Accepted"})
	d.Notify(Message{To: Recipient{Phone: "+15550001", Email: "pin2@mail.com"}, Subject: "Completed"})
	d.Close()

	assert.Len(t, email.messages(), 2)
	require.Len(t, sms.messages(), 1)
	assert.Equal(t, "Completed", sms.messages()[0].Subject)
}

func TestDispatcherLogsSendErrors(t *testing.T) {
	logger, hook := test.NewNullLogger()
	failing := &recordingSender{name: "email", err: errors.New("smtp down")}

	d := NewDispatcher(logger, 1, failing)
	d.Notify(Message{Subject: "Hello"})
	d.Close()

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
	assert.Equal(t, "email", hook.LastEntry().Data["sender"])
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	logger, hook := test.NewNullLogger()
	d := newDispatcher(logger, 1)

	d.Notify(Message{Subject: "first"})
	d.Notify(Message{Subject: "second"})

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "notification dropped: queue full", hook.LastEntry().Message)
	assert.Len(t, d.queue, 1)
}

func TestDispatcherAfterClose(t *testing.T) {
	logger, hook := test.NewNullLogger()
	sender := &recordingSender{name: "log"}
	d := NewDispatcher(logger, 1, sender)
	d.Close()
	d.Close()

	d.Notify(Message{Subject: "late"})
	assert.Empty(t, sender.messages())
	assert.Equal(t, "notification dropped: dispatcher closed", hook.LastEntry().Message)
}

func TestEmailSender(t *testing.T) {
	s := NewEmailSender(config.SMTPConfig{Host: "smtp.example.com", Port: 587, Username: "u", Password: "p", From: "noreply@csr.org"})

	var gotAddr string
	var gotTo []string
	var gotMsg []byte
	s.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, msg
		assert.NotNil(t, a)
		assert.Equal(t, "noreply@csr.org", from)
		return nil
	}

	msg := Message{To: Recipient{Email: "pin1@mail.com"}, Subject: "Request\r\naccepted", Body: "A volunteer is on the way."}
	assert.True(t, s.CanSend(msg))
	assert.False(t, s.CanSend(Message{}))
	require.NoError(t, s.Send(context.Background(), msg))

	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.Equal(t, []string{"pin1@mail.com"}, gotTo)
	body := string(gotMsg)
	assert.Contains(t, body, "Subject: Request  accepted\r\n")
	assert.True(t, strings.HasSuffix(body, "A volunteer is on the way.\r\n"))
}

func TestEmailSenderWrapsErrors(t *testing.T) {
	s := NewEmailSender(config.SMTPConfig{Host: "h", Port: 25, From: "f@x.org"})
	s.sendMail = func(string, smtp.Auth, string, []string, []byte) error { return errors.New("refused") }
	err := s.Send(context.Background(), Message{To: Recipient{Email: "a@b.c"}})
	assert.ErrorContains(t, err, "refused")
}

type fakeTwilio struct {
	params *twilioApi.CreateMessageParams
	err    error
}

func (f *fakeTwilio) CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error) {
	f.params = params
	return &twilioApi.ApiV2010Message{}, f.err
}

func TestSMSSender(t *testing.T) {
	fake := &fakeTwilio{}
	s := &SMSSender{api: fake, from: "+15550000"}

	msg := Message{To: Recipient{Phone: "+15551234"}, Subject: "Accepted", Body: "Your request was accepted."}
	assert.True(t, s.CanSend(msg))
	assert.False(t, s.CanSend(Message{To: Recipient{Email: "x@y.z"}}))
	require.NoError(t, s.Send(context.Background(), msg))

	require.NotNil(t, fake.params)
	assert.Equal(t, "+15551234", *fake.params.To)
	assert.Equal(t, "+15550000", *fake.params.From)
	assert.Equal(t, "Accepted: Your request was accepted.", *fake.params.Body)

	fake.err = errors.New("invalid number")
	assert.ErrorContains(t, s.Send(context.Background(), msg), "invalid number")
}

func TestSendersFromConfig(t *testing.T) {
	logger, _ := test.NewNullLogger()

	senders := SendersFromConfig(&config.Config{}, logger)
	require.Len(t, senders, 1)
	assert.Equal(t, "log", senders[0].Name())

	senders = SendersFromConfig(&config.Config{
		Twilio: config.TwilioConfig{AccountSID: "AC1", AuthToken: "t", From: "+1"},
		SMTP:   config.SMTPConfig{Host: "h", Port: 25, From: "f@x.org"},
	}, logger)
	require.Len(t, senders, 2)
	assert.Equal(t, "sms", senders[0].Name())
	assert.Equal(t, "email", senders[1].Name())
}
