package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dailos/tramite/pkg/channels/gochannel"
	"github.com/dailos/tramite/pkg/channels/kafka"
	"github.com/dailos/tramite/pkg/eventbus"
	"github.com/dailos/tramite/pkg/persistence"
)

// NewEventBus creates the event bus with the republish transport selected
// by provider. "none" keeps events store-only.
func NewEventBus(provider string, store persistence.EventRepository, logger *slog.Logger) (eventbus.Bus, error) {
	publisher, err := newPublisher(provider, logger)
	if err != nil {
		return nil, err
	}

	return eventbus.NewDispatcher(store, publisher, logger), nil
}

func newPublisher(provider string, logger *slog.Logger) (message.Publisher, error) {
	switch provider {
	case "kafka":
		pub, _, err := kafka.CreateChannel(watermill.NewSlogLogger(logger), "tramite")
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka pub/sub: %w", err)
		}

		return pub, nil
	case "gochannel":
		pub, _, err := gochannel.CreateChannel(watermill.NewSlogLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("failed to create gochannel pub/sub: %w", err)
		}

		return pub, nil
	case "", "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported event bus provider: %s", provider)
	}
}
