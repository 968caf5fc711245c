package match

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/lead-engine/internal/model"
	"github.com/sells-group/lead-engine/internal/store"
)

type mockFinder struct {
	mock.Mock
}

func (m *mockFinder) FindByExternalID(ctx context.Context, tenantID string, kind model.ExternalIDKind, value string) ([]model.Lead, error) {
	args := m.Called(ctx, tenantID, kind, value)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Lead), args.Error(1)
}

func (m *mockFinder) FindByPhone(ctx context.Context, tenantID, phone string) ([]model.Lead, error) {
	args := m.Called(ctx, tenantID, phone)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Lead), args.Error(1)
}

func (m *mockFinder) FindByEmail(ctx context.Context, tenantID, email string) ([]model.Lead, error) {
	args := m.Called(ctx, tenantID, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Lead), args.Error(1)
}

func (m *mockFinder) ListCandidates(ctx context.Context, tenantID string, filter store.CandidateFilter) ([]model.Lead, error) {
	args := m.Called(ctx, tenantID, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Lead), args.Error(1)
}
