package service

import (
	"context"

	"github.com/sirupsen/logrus"

	"habitly/internal/queue"
)

// publishActivity emits event after the owning transaction committed. A nil
// publisher disables events. Failures are logged and never fail the caller.
func publishActivity(ctx context.Context, publisher queue.Publisher, log *logrus.Entry, event queue.ActivityEvent) {
	if publisher == nil {
		return
	}
	if _, err := publisher.Publish(ctx, queue.StreamActivity, event); err != nil {
		log.WithError(err).WithField("type", event.Type).Warn("Publish event FAILED")
	}
}
