package database

import "errors"

var (
	ErrEmailInUse    = errors.New("email already in use")
	ErrUsernameTaken = errors.New("username already taken")
	ErrRoomExists    = errors.New("room already exists")
	ErrMessageExists = errors.New("message key already used")
)

type GoChatRepository interface {
	Ping() error
	UsernameExists(username string) (bool, error)
	CreateCredential(params CreateCredentialParams) (Account, error)
	DeleteCredential(accountId int) error
	CreateProfile(params CreateProfileParams) error
	GetAccountById(accountId int) (Account, error)
	GetAccountByEmail(email string) (Account, error)
	SetVerified(accountId int) error
	UpdatePassword(accountId int, passwordHash string) error
	CountRooms() (int, error)
	ListRooms() ([]Room, error)
	GetRoomByKey(key string) (Room, error)
	CreateRoom(params CreateRoomParams) (Room, error)
	UpsertRoom(params CreateRoomParams) (Room, error)
	DeleteRoom(id int) error
	InsertMessage(msg Message) error
	UpsertMessage(msg Message) error
	GetMessages(roomId int) ([]Message, error)
	SetTyping(roomId int, label string) error
}
