// Package notifier delivers booking alerts to a provider's device through
// Firebase Cloud Messaging.
//
// A Pusher owns the FCM sender, a token-bucket rate limiter and a circuit
// breaker shared by every send. A Device binds the pusher to one provider
// and implements the alert collaborators (notification surface, chime,
// fallback tone, vibration) as push messages. The device token is looked up
// lazily so building a Device never blocks.
package notifier

import (
	"context"
	"errors"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"marketplace-core/internal/domain/entity"
	"marketplace-core/internal/repository"
	"marketplace-core/internal/resilience/retry"
)

// OpDeviceToken is the resilient-call name of the device token lookup.
const OpDeviceToken = "device.token"

// Sender sends one push message and returns its message id.
// *messaging.Client satisfies it.
type Sender interface {
	Send(ctx context.Context, msg *messaging.Message) (string, error)
}

// NewFCMClient initializes a Firebase app from a service account file and
// returns its messaging client.
func NewFCMClient(ctx context.Context, credentialsFile string) (*messaging.Client, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("firebase: init app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase: messaging client: %w", err)
	}
	return client, nil
}

// TokenSource resolves the FCM registration token of a provider.
type TokenSource interface {
	DeviceToken(ctx context.Context, providerID string) (string, error)
}

type deviceDoc struct {
	FCMToken string `bson:"fcmToken"`
}

// StoreTokens reads device tokens from the provider_devices collection.
type StoreTokens struct {
	Store  repository.DocumentStore
	Caller *retry.Caller
}

// DeviceToken returns the provider's token, or ErrNoDeviceToken when none
// is registered.
func (s StoreTokens) DeviceToken(ctx context.Context, providerID string) (string, error) {
	doc, err := retry.Do(ctx, s.Caller, OpDeviceToken, func(ctx context.Context) (deviceDoc, error) {
		var d deviceDoc
		err := s.Store.Get(ctx, repository.CollectionDevices, providerID, &d)
		return d, err
	})
	if errors.Is(err, entity.ErrNotFound) || (err == nil && doc.FCMToken == "") {
		return "", ErrNoDeviceToken
	}
	if err != nil {
		return "", fmt.Errorf("device token for %s: %w", providerID, err)
	}
	return doc.FCMToken, nil
}
