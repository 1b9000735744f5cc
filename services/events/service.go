package events

import (
	"context"

	"github.com/pkg/errors"

	"github.com/customeros/mailsync/dto"
	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/logger"
)

// EventsService bundles the RabbitMQ publisher and subscriber. Both stay nil when no
// broker is configured; callers then fall back to the in-process paths.
type EventsService struct {
	Publisher  *RabbitMQPublisher
	Subscriber *RabbitMQSubscriber
}

func NewEventsService(rabbitmqURL string, log logger.Logger, publisherConfig *PublisherConfig, subscriberConfig *SubscriberConfig) (*EventsService, error) {
	if rabbitmqURL == "" {
		return &EventsService{}, nil
	}

	publisher, err := NewRabbitMQPublisher(rabbitmqURL, log, publisherConfig)
	if err != nil {
		return nil, err
	}

	subscriber, err := NewRabbitMQSubscriber(rabbitmqURL, log, subscriberConfig)
	if err != nil {
		_ = publisher.Close()
		return nil, err
	}

	return &EventsService{
		Publisher:  publisher,
		Subscriber: subscriber,
	}, nil
}

func (s *EventsService) Enabled() bool {
	return s != nil && s.Publisher != nil
}

// Notifier returns where "thread updated" events go: the notifications exchange when a
// broker is configured, the log otherwise.
func (s *EventsService) Notifier(log logger.Logger) interfaces.Notifier {
	if s.Enabled() {
		return s.Publisher
	}
	return &logNotifier{log: log}
}

func (s *EventsService) Close() error {
	var errs []error

	if s.Subscriber != nil {
		if err := s.Subscriber.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if s.Publisher != nil {
		if err := s.Publisher.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Errorf("errors closing events service: %v", errs)
	}

	return nil
}

type logNotifier struct {
	log logger.Logger
}

func (n *logNotifier) ThreadUpdated(_ context.Context, event dto.ThreadUpdated) error {
	n.log.Infof("Thread %s updated for %s/%s", event.ThreadID, event.ReferenceType, event.ReferenceID)
	return nil
}
