package notify

import (
	"context"
	"fmt"

	"firebase.google.com/go/messaging"
)

// TokenSource returns the FCM device tokens registered for a user.
type TokenSource interface {
	TokensForUser(ctx context.Context, userID string) ([]string, error)
}

// MessageSender is satisfied by *messaging.Client.
type MessageSender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// Push sends FCM notifications to the devices of the user behind an event.
type Push struct {
	Client MessageSender
	Tokens TokenSource
}

func (p *Push) Name() string { return "fcm" }

func (p *Push) Handle(ctx context.Context, ev Event) error {
	if ev.UserID == nil || *ev.UserID == "" {
		return nil
	}
	tokens, err := p.Tokens.TokensForUser(ctx, *ev.UserID)
	if err != nil {
		return fmt.Errorf("load device tokens: %w", err)
	}
	var firstErr error
	for _, token := range tokens {
		if _, err := p.Client.Send(ctx, pushMessage(token, ev)); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func pushMessage(token string, ev Event) *messaging.Message {
	return &messaging.Message{
		Token: token,
		Notification: &messaging.Notification{
			Title: ev.Title,
			Body:  ev.Body,
		},
		Data: map[string]string{
			"kind":       string(ev.Kind),
			"reference":  ev.Reference,
			"vehicle_id": ev.VehicleID,
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				ChannelID: "high_priority_channel",
			},
		},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{"apns-priority": "10"},
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Alert: &messaging.ApsAlert{Title: ev.Title, Body: ev.Body},
					Sound: "default",
				},
			},
		},
	}
}
