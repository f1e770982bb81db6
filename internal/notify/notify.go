// Package notify hands messages for offline users to a push gateway.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/Vasu1712/scenyx-realtime/internal/models"
)

// Notifier is called when a message could not reach any live session.
type Notifier interface {
	NotifyOffline(ctx context.Context, userID, preview string) error
}

// DeviceStore lists the push tokens of a user.
type DeviceStore interface {
	DeviceTokens(ctx context.Context, userID string) ([]models.DeviceToken, error)
}

const notificationTitle = "New message"

// pushRequest is the body posted to the gateway for one device.
type pushRequest struct {
	Token    string            `json:"token"`
	Platform string            `json:"platform,omitempty"`
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Data     map[string]string `json:"data,omitempty"`
}

// PushNotifier posts one notification per registered device. A failing device
// is logged and does not stop the others.
type PushNotifier struct {
	client  *resty.Client
	devices DeviceStore
	breaker *gobreaker.CircuitBreaker
	log     zerolog.Logger
}

// NewPushNotifier creates a notifier for the gateway at baseURL.
func NewPushNotifier(baseURL, token string, timeout time.Duration, devices DeviceStore, log zerolog.Logger) *PushNotifier {
	client := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "Scenyx-Realtime/1.0").
		SetTimeout(timeout)
	if token != "" {
		client.SetAuthToken(token)
	}

	log = log.With().Str("component", "push-notifier").Logger()
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "push-gateway",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("push gateway breaker changed state")
		},
	})

	return &PushNotifier{client: client, devices: devices, breaker: breaker, log: log}
}

// NotifyOffline sends preview to every device of userID. It fails only when
// the devices cannot be listed or every device failed.
func (n *PushNotifier) NotifyOffline(ctx context.Context, userID, preview string) error {
	tokens, err := n.devices.DeviceTokens(ctx, userID)
	if err != nil {
		return fmt.Errorf("list device tokens: %w", err)
	}
	if len(tokens) == 0 {
		n.log.Warn().Str("user_id", userID).Msg("no device tokens registered, skipping push")
		return nil
	}

	var failures []error
	for _, t := range tokens {
		if err := n.send(ctx, userID, preview, t); err != nil {
			n.log.Error().Err(err).Str("user_id", userID).Str("platform", t.Platform).Msg("push to device failed")
			failures = append(failures, err)
		}
	}
	if len(failures) == len(tokens) {
		return errors.Join(failures...)
	}
	return nil
}

func (n *PushNotifier) send(ctx context.Context, userID, preview string, t models.DeviceToken) error {
	_, err := n.breaker.Execute(func() (interface{}, error) {
		resp, err := n.client.R().
			SetContext(ctx).
			SetBody(pushRequest{
				Token:    t.Token,
				Platform: t.Platform,
				Title:    notificationTitle,
				Body:     preview,
				Data:     map[string]string{"type": "message", "user_id": userID},
			}).
			Post("/v1/send")
		if err != nil {
			return nil, fmt.Errorf("push gateway request: %w", err)
		}
		if resp.IsError() {
			return nil, fmt.Errorf("push gateway error (status %d): %s", resp.StatusCode(), resp.String())
		}
		return nil, nil
	})
	return err
}

// LogNotifier only logs; used when no push gateway is configured.
type LogNotifier struct {
	log zerolog.Logger
}

func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log.With().Str("component", "push-notifier").Logger()}
}

func (n *LogNotifier) NotifyOffline(_ context.Context, userID, preview string) error {
	n.log.Info().Str("user_id", userID).Int("preview_len", len(preview)).Msg("recipient offline, push gateway not configured")
	return nil
}
