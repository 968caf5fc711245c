package ingest

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/lead-engine/internal/dispatch"
	"github.com/sells-group/lead-engine/internal/model"
)

type mockDispatcher struct {
	mock.Mock
}

func (m *mockDispatcher) Dispatch(ctx context.Context, event model.EventType, lead *model.Lead, data map[string]any) []dispatch.DeliveryResult {
	args := m.Called(ctx, event, lead, data)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]dispatch.DeliveryResult)
}

// events returns the dispatched event types in call order.
func (m *mockDispatcher) events() []model.EventType {
	var out []model.EventType
	for _, c := range m.Calls {
		out = append(out, c.Arguments.Get(1).(model.EventType))
	}
	return out
}

func newMockDispatcher() *mockDispatcher {
	d := new(mockDispatcher)
	d.On("Dispatch", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	return d
}
