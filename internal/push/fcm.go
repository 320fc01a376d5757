// Package push delivers notifications to devices.
package push

import (
	"context"
	"errors"
	"strings"

	"firebase.google.com/go/v4/messaging"

	"github.com/GriffinCanCode/omnicall/internal/dispatch"
	"github.com/GriffinCanCode/omnicall/internal/trace"
)

// messageSender is the part of messaging.Client the transport uses.
type messageSender interface {
	Send(ctx context.Context, m *messaging.Message) (string, error)
}

// FCM sends data messages through Firebase Cloud Messaging.
type FCM struct {
	client messageSender
}

var _ dispatch.Transport = (*FCM)(nil)

// NewFCM wraps a messaging client.
func NewFCM(client *messaging.Client) *FCM {
	return &FCM{client: client}
}

// SendOne sends one message. The payload travels as data so the web app's
// service worker renders it; webpush urgency is raised so the phone wakes.
func (f *FCM) SendOne(ctx context.Context, token string, n dispatch.Notification) (bool, string) {
	msg := Message(token, n)
	id, err := f.client.Send(ctx, msg)
	if err != nil {
		return false, describe(err)
	}
	trace.Logger(ctx).Debug("fcm message sent", "token", dispatch.TokenPrefix(token), "message_id", id)
	return true, ""
}

// Message builds the FCM message for one token.
func Message(token string, n dispatch.Notification) *messaging.Message {
	data := map[string]string{"title": n.Title, "message": n.Message}
	msg := &messaging.Message{
		Token:   token,
		Data:    data,
		Android: &messaging.AndroidConfig{Priority: "high"},
		Webpush: &messaging.WebpushConfig{Headers: map[string]string{"Urgency": "high"}},
	}
	if n.URL != "" {
		data["url"] = n.URL
		if strings.HasPrefix(n.URL, "https://") {
			msg.Webpush.FCMOptions = &messaging.WebpushFCMOptions{Link: n.URL}
		}
	}
	return msg
}

func describe(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case messaging.IsUnregistered(err):
		return "token unregistered"
	case messaging.IsInvalidArgument(err):
		return "invalid token or payload"
	case messaging.IsQuotaExceeded(err):
		return "quota exceeded"
	case messaging.IsUnavailable(err):
		return "fcm unavailable"
	default:
		return err.Error()
	}
}
