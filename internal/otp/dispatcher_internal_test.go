package otp

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/nats-io/nats.go"
)

type recordingPublisher struct {
	subject string
	data    []byte
	err     error
}

func (p *recordingPublisher) Publish(subject string, data []byte) error {
	p.subject, p.data = subject, data
	return p.err
}

func TestNATSDispatcherPublishes(t *testing.T) {
	c := qt.New(t)
	pub := &recordingPublisher{}
	d := &NATSDispatcher{conn: pub, subject: "otp.sms"}

	expires := time.Date(2026, 3, 1, 10, 5, 0, 0, time.UTC)
	c.Assert(d.Dispatch(context.Background(), Message{Mobile: "9876543210", Code: "123456", ExpiresAt: expires}), qt.IsNil)
	c.Assert(pub.subject, qt.Equals, "otp.sms")

	var got Message
	c.Assert(json.Unmarshal(pub.data, &got), qt.IsNil)
	c.Assert(got.Code, qt.Equals, "123456")
	c.Assert(got.ExpiresAt.Equal(expires), qt.IsTrue)

	pub.err = errors.New("no responders")
	c.Assert(d.Dispatch(context.Background(), Message{}), qt.ErrorMatches, `nats publish otp.sms: no responders`)
}

func TestMaskMobile(t *testing.T) {
	c := qt.New(t)
	c.Assert(maskMobile("9876543210"), qt.Equals, "******3210")
	c.Assert(maskMobile("12"), qt.Equals, "****")
}

// TestNATSRoundTrip requires a running server.
func TestNATSRoundTrip(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("requires NATS_URL")
	}
	c := qt.New(t)

	sub, err := nats.Connect(url)
	c.Assert(err, qt.IsNil)
	defer sub.Close()
	msgs := make(chan *nats.Msg, 1)
	s, err := sub.ChanSubscribe("otp.test", msgs)
	c.Assert(err, qt.IsNil)
	defer func() { _ = s.Unsubscribe() }()
	c.Assert(sub.Flush(), qt.IsNil)

	d, closeFn, err := ConnectNATS(url, "otp.test")
	c.Assert(err, qt.IsNil)
	defer closeFn()
	c.Assert(d.Dispatch(context.Background(), Message{Mobile: "9876543210", Code: "123456"}), qt.IsNil)

	select {
	case m := <-msgs:
		var got Message
		c.Assert(json.Unmarshal(m.Data, &got), qt.IsNil)
		c.Assert(got.Code, qt.Equals, "123456")
	case <-time.After(5 * time.Second):
		c.Fatal("timed out waiting for otp message")
	}
}
