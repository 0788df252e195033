package otp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Message is a passcode ready for delivery to a phone.
type Message struct {
	Mobile    string    `json:"mobile"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Dispatcher delivers passcodes out of band.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg Message) error
}

// NopDispatcher drops every message.
type NopDispatcher struct{}

func (NopDispatcher) Dispatch(context.Context, Message) error { return nil }

// LogDispatcher records that a message would have been sent. The code itself is not logged.
type LogDispatcher struct {
	Logger *zap.Logger
}

func (d LogDispatcher) Dispatch(_ context.Context, msg Message) error {
	d.Logger.Info("otp delivery skipped, no sms gateway configured",
		zap.String("mobile", maskMobile(msg.Mobile)),
		zap.Time("expires_at", msg.ExpiresAt))
	return nil
}

type publisher interface {
	Publish(subject string, data []byte) error
}

// NATSDispatcher publishes messages for an SMS gateway consumer.
type NATSDispatcher struct {
	conn    publisher
	subject string
}

// ConnectNATS connects to url and returns a dispatcher publishing on subject
// along with a function closing the connection.
func ConnectNATS(url, subject string) (*NATSDispatcher, func(), error) {
	nc, err := nats.Connect(url, nats.Name("pharmadesk-otp"))
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}
	return &NATSDispatcher{conn: nc, subject: subject}, func() {
		_ = nc.Drain()
	}, nil
}

func (d *NATSDispatcher) Dispatch(_ context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode otp message: %w", err)
	}
	if err := d.conn.Publish(d.subject, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", d.subject, err)
	}
	return nil
}

func maskMobile(mobile string) string {
	if len(mobile) <= 4 {
		return "****"
	}
	return "******" + mobile[len(mobile)-4:]
}
