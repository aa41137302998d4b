package services

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockNotifier records billing events emitted during a test.
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, event BillingEvent) {
	m.Called(ctx, event)
}

// eventsOfType extracts the recorded events matching eventType.
func (m *MockNotifier) eventsOfType(eventType string) []BillingEvent {
	events := []BillingEvent{}
	for _, call := range m.Calls {
		if call.Method != "Notify" {
			continue
		}
		event, ok := call.Arguments.Get(1).(BillingEvent)
		if ok && event.Type == eventType {
			events = append(events, event)
		}
	}
	return events
}
