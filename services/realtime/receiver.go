package realtime

import (
	"context"

	"cloud.google.com/go/pubsub"
	"github.com/pkg/errors"
	"google.golang.org/api/option"

	"github.com/customeros/mailsync/config"
	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/logger"
	"github.com/customeros/mailsync/internal/tracing"
)

// Receiver pulls notifications from a Pub/Sub subscription and feeds them into the
// same trigger path as the push webhook.
type Receiver struct {
	log          logger.Logger
	client       *pubsub.Client
	subscription string
	trigger      interfaces.RealtimeTrigger
}

func NewReceiver(ctx context.Context, log logger.Logger, gmailConfig *config.GmailConfig, trigger interfaces.RealtimeTrigger) (*Receiver, error) {
	if gmailConfig.PubSubProjectID == "" || gmailConfig.PubSubSubscription == "" {
		return nil, errors.New("pubsub project and subscription are required")
	}

	var opts []option.ClientOption
	if gmailConfig.PubSubCredentials != "" {
		opts = append(opts, option.WithCredentialsFile(gmailConfig.PubSubCredentials))
	}

	client, err := pubsub.NewClient(ctx, gmailConfig.PubSubProjectID, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create pubsub client")
	}

	return &Receiver{
		log:          log,
		client:       client,
		subscription: gmailConfig.PubSubSubscription,
		trigger:      trigger,
	}, nil
}

// Run blocks until ctx is cancelled. Every message is acked after handling.
func (r *Receiver) Run(ctx context.Context) error {
	r.log.Infof("Listening for gmail notifications on subscription %s", r.subscription)

	err := r.client.Subscription(r.subscription).Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		defer msg.Ack()
		defer tracing.RecoverAndLogToJaeger(r.log)

		if err := r.trigger.HandleNotification(ctx, msg.Data); err != nil {
			r.log.Errorf("Failed to handle pubsub message %s: %v", msg.ID, err)
		}
	})
	if err != nil && ctx.Err() == nil {
		return errors.Wrap(err, "pubsub receive stopped")
	}
	return nil
}

func (r *Receiver) Close() error {
	return r.client.Close()
}
