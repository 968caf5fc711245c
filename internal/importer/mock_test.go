package importer

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) ExistingContacts(ctx context.Context, tenantID string, phones, emails []string) (map[string]string, error) {
	args := m.Called(ctx, tenantID, phones, emails)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]string), args.Error(1)
}
