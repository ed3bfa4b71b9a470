package session

import (
	"context"

	"github.com/npezzotti/roomsync/internal/types"
	"github.com/stretchr/testify/mock"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) Get(ctx context.Context, id string) (types.Session, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(types.Session), args.Error(1)
}
func (m *MockStore) Put(ctx context.Context, sess types.Session) error {
	args := m.Called(ctx, sess)
	return args.Error(0)
}
func (m *MockStore) Update(ctx context.Context, sess types.Session) error {
	args := m.Called(ctx, sess)
	return args.Error(0)
}
func (m *MockStore) Delete(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}
