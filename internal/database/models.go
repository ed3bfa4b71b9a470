package database

import "time"

type Account struct {
	Id                 int
	EmailAddress       string
	PasswordHash       string
	Username           string
	Verified           bool
	VerificationSentAt time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type Room struct {
	Id        int
	Key       string
	Name      string
	OwnerId   int
	Typing    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Message struct {
	Id         int
	RoomId     int
	Key        string
	AuthorName string
	Body       string
	SentAt     time.Time
}

type CreateCredentialParams struct {
	EmailAddress string
	PasswordHash string
}

type CreateProfileParams struct {
	AccountId          int
	Username           string
	VerificationSentAt time.Time
}

type CreateRoomParams struct {
	Key     string
	Name    string
	OwnerId int
}
