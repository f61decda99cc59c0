package digest

import (
	"context"

	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"github.com/sells-group/revenue-digest/internal/model"
	"github.com/sells-group/revenue-digest/pkg/amocrm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// --- CRM Mock ---

type mockCRM struct {
	mock.Mock
}

func (m *mockCRM) FetchPipelines(ctx context.Context) ([]model.Pipeline, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Pipeline), args.Error(1)
}

func (m *mockCRM) FetchUsers(ctx context.Context) ([]model.User, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.User), args.Error(1)
}

func (m *mockCRM) FetchLeads(ctx context.Context, filter amocrm.LeadFilter) ([]model.Lead, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Lead), args.Error(1)
}

// --- Sink Mock ---

type mockSink struct {
	mock.Mock
}

func (m *mockSink) Deliver(ctx context.Context, text string) error {
	args := m.Called(ctx, text)
	return args.Error(0)
}
