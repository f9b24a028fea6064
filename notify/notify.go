package notify

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const sendTimeout = 10 * time.Second

// Recipient is who a notification is for. Empty fields disable the
// channels that need them.
type Recipient struct {
	Name  string
	Email string
	Phone string
}

type Message struct {
	To      Recipient
	Subject string
	Body    string
}

// Notifier queues a message for delivery without blocking the caller.
type Notifier interface {
	Notify(msg Message)
}

// Sender delivers over one channel.
type Sender interface {
	Name() string
	CanSend(msg Message) bool
	Send(ctx context.Context, msg Message) error
}

// Dispatcher fans queued messages out to every sender able to deliver them.
// One worker drains the queue; a full queue drops the message.
type Dispatcher struct {
	queue   chan Message
	senders []Sender
	log     logrus.FieldLogger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(log logrus.FieldLogger, size int, senders ...Sender) *Dispatcher {
	d := newDispatcher(log, size, senders...)
	d.wg.Add(1)
	go d.run()
	return d
}

func newDispatcher(log logrus.FieldLogger, size int, senders ...Sender) *Dispatcher {
	return &Dispatcher{
		queue:   make(chan Message, size),
		senders: senders,
		log:     log,
	}
}

func (d *Dispatcher) Notify(msg Message) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.log.WithField("subject", msg.Subject).Warn("notification dropped: dispatcher closed")
		return
	}
	select {
	case d.queue <- msg:
	default:
		d.log.WithField("subject", msg.Subject).Warn("notification dropped: queue full")
	}
}

// Close stops accepting messages, delivers what is queued and waits for
// the worker to finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for msg := range d.queue {
		d.deliver(msg)
	}
}

func (d *Dispatcher) deliver(msg Message) {
	for _, s := range d.senders {
		if !s.CanSend(msg) {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		err := s.Send(ctx, msg)
		cancel()
		if err != nil {
			d.log.WithError(err).WithFields(logrus.Fields{
				"sender":  s.Name(),
				"subject": msg.Subject,
			}).Error("notification failed")
		}
	}
}

// LogSender writes notifications to the log. It is the fallback when no
// delivery channel is configured.
type LogSender struct {
	Log logrus.FieldLogger
}

func (s LogSender) Name() string { return "log" }

func (s LogSender) CanSend(Message) bool { return true }

func (s LogSender) Send(_ context.Context, msg Message) error {
	s.Log.WithFields(logrus.Fields{
		"to":      msg.To.Name,
		"email":   msg.To.Email,
		"subject": msg.Subject,
	}).Info(msg.Body)
	return nil
}
