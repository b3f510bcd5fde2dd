package events

import (
	"fmt"

	"github.com/asaskevich/EventBus"
	"github.com/sirupsen/logrus"
)

type Topic string

const (
	PriceTick        Topic = "price.tick"
	PositionPlaced   Topic = "position.placed"
	PositionResolved Topic = "position.resolved"
)

// Bus is the in-process pub/sub used between the session and its
// observers. Synchronous handlers run while the bus is locked and must not
// publish or subscribe themselves.
type Bus struct {
	bus    EventBus.Bus
	logger *logrus.Logger
}

func New(logger *logrus.Logger) *Bus {
	return &Bus{
		bus:    EventBus.New(),
		logger: logger,
	}
}

func (b *Bus) Publish(topic Topic, event interface{}) {
	if event == nil {
		b.logger.WithField("topic", topic).Warn("Dropping nil event")
		return
	}
	b.logger.WithField("topic", topic).Debug("Publishing event")
	b.bus.Publish(string(topic), event)
}

func (b *Bus) Subscribe(topic Topic, fn interface{}) error {
	if err := b.bus.Subscribe(string(topic), fn); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return nil
}

func (b *Bus) SubscribeAsync(topic Topic, fn interface{}) error {
	if err := b.bus.SubscribeAsync(string(topic), fn, false); err != nil {
		return fmt.Errorf("subscribe async %s: %w", topic, err)
	}
	b.logger.WithField("topic", topic).Debug("Subscribed to topic")
	return nil
}

func (b *Bus) Unsubscribe(topic Topic, fn interface{}) error {
	if err := b.bus.Unsubscribe(string(topic), fn); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", topic, err)
	}
	return nil
}

func (b *Bus) HasSubscribers(topic Topic) bool {
	return b.bus.HasCallback(string(topic))
}

// WaitAsync blocks until every in-flight async handler has returned.
func (b *Bus) WaitAsync() {
	b.bus.WaitAsync()
}
