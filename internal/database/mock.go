package database

import (
	"github.com/stretchr/testify/mock"
)

type MockGoChatRepository struct {
	mock.Mock
}

func (m *MockGoChatRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockGoChatRepository) UsernameExists(username string) (bool, error) {
	args := m.Called(username)
	return args.Bool(0), args.Error(1)
}
func (m *MockGoChatRepository) CreateCredential(params CreateCredentialParams) (Account, error) {
	args := m.Called(params)
	return args.Get(0).(Account), args.Error(1)
}
func (m *MockGoChatRepository) DeleteCredential(accountId int) error {
	args := m.Called(accountId)
	return args.Error(0)
}
func (m *MockGoChatRepository) CreateProfile(params CreateProfileParams) error {
	args := m.Called(params)
	return args.Error(0)
}
func (m *MockGoChatRepository) GetAccountById(accountId int) (Account, error) {
	args := m.Called(accountId)
	return args.Get(0).(Account), args.Error(1)
}
func (m *MockGoChatRepository) GetAccountByEmail(email string) (Account, error) {
	args := m.Called(email)
	return args.Get(0).(Account), args.Error(1)
}
func (m *MockGoChatRepository) SetVerified(accountId int) error {
	args := m.Called(accountId)
	return args.Error(0)
}
func (m *MockGoChatRepository) UpdatePassword(accountId int, passwordHash string) error {
	args := m.Called(accountId, passwordHash)
	return args.Error(0)
}
func (m *MockGoChatRepository) CountRooms() (int, error) {
	args := m.Called()
	return args.Int(0), args.Error(1)
}
func (m *MockGoChatRepository) ListRooms() ([]Room, error) {
	args := m.Called()
	if rooms, ok := args.Get(0).([]Room); ok {
		return rooms, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockGoChatRepository) GetRoomByKey(key string) (Room, error) {
	args := m.Called(key)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockGoChatRepository) CreateRoom(params CreateRoomParams) (Room, error) {
	args := m.Called(params)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockGoChatRepository) UpsertRoom(params CreateRoomParams) (Room, error) {
	args := m.Called(params)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockGoChatRepository) DeleteRoom(id int) error {
	args := m.Called(id)
	return args.Error(0)
}
func (m *MockGoChatRepository) InsertMessage(msg Message) error {
	args := m.Called(msg)
	return args.Error(0)
}
func (m *MockGoChatRepository) UpsertMessage(msg Message) error {
	args := m.Called(msg)
	return args.Error(0)
}
func (m *MockGoChatRepository) GetMessages(roomId int) ([]Message, error) {
	args := m.Called(roomId)
	if msgs, ok := args.Get(0).([]Message); ok {
		return msgs, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockGoChatRepository) SetTyping(roomId int, label string) error {
	args := m.Called(roomId, label)
	return args.Error(0)
}
