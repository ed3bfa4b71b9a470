package database

import (
	"database/sql"
	"time"
)

const accountColumns = "a.id, a.email, a.password_hash, a.verified, a.created_at, a.updated_at, " +
	"COALESCE(p.username, ''), COALESCE(p.verification_sent_at, 'epoch'::timestamptz)"

func scanAccount(row *sql.Row) (Account, error) {
	var a Account
	err := row.Scan(
		&a.Id,
		&a.EmailAddress,
		&a.PasswordHash,
		&a.Verified,
		&a.CreatedAt,
		&a.UpdatedAt,
		&a.Username,
		&a.VerificationSentAt,
	)

	return a, err
}

func (db *PgGoChatRepository) UsernameExists(username string) (bool, error) {
	var exists bool
	err := db.conn.QueryRow(
		"SELECT EXISTS (SELECT 1 FROM profiles WHERE username = $1)",
		username,
	).Scan(&exists)

	return exists, err
}

func (db *PgGoChatRepository) CreateCredential(params CreateCredentialParams) (Account, error) {
	now := time.Now().UTC()
	res := db.conn.QueryRow(
		"INSERT INTO accounts (email, password_hash, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4) RETURNING id, email, verified, created_at, updated_at",
		params.EmailAddress,
		params.PasswordHash,
		now,
		now,
	)

	var a Account
	err := res.Scan(
		&a.Id,
		&a.EmailAddress,
		&a.Verified,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if isUniqueViolation(err, "accounts_email_key") {
		return Account{}, ErrEmailInUse
	}

	return a, err
}

func (db *PgGoChatRepository) DeleteCredential(accountId int) error {
	_, err := db.conn.Exec("DELETE FROM accounts WHERE id = $1", accountId)
	return err
}

func (db *PgGoChatRepository) CreateProfile(params CreateProfileParams) error {
	_, err := db.conn.Exec(
		"INSERT INTO profiles (account_id, username, verification_sent_at, created_at) "+
			"VALUES ($1, $2, $3, $4)",
		params.AccountId,
		params.Username,
		params.VerificationSentAt,
		time.Now().UTC(),
	)
	if isUniqueViolation(err, "profiles_username_key") {
		return ErrUsernameTaken
	}

	return err
}

func (db *PgGoChatRepository) GetAccountById(accountId int) (Account, error) {
	return scanAccount(db.conn.QueryRow(
		"SELECT "+accountColumns+" FROM accounts a "+
			"LEFT JOIN profiles p ON p.account_id = a.id WHERE a.id = $1 LIMIT 1",
		accountId,
	))
}

func (db *PgGoChatRepository) GetAccountByEmail(email string) (Account, error) {
	return scanAccount(db.conn.QueryRow(
		"SELECT "+accountColumns+" FROM accounts a "+
			"LEFT JOIN profiles p ON p.account_id = a.id WHERE a.email = $1 LIMIT 1",
		email,
	))
}

func (db *PgGoChatRepository) SetVerified(accountId int) error {
	return db.execOne(
		"UPDATE accounts SET verified = TRUE, updated_at = $2 WHERE id = $1",
		accountId,
		time.Now().UTC(),
	)
}

func (db *PgGoChatRepository) UpdatePassword(accountId int, passwordHash string) error {
	return db.execOne(
		"UPDATE accounts SET password_hash = $2, updated_at = $3 WHERE id = $1",
		accountId,
		passwordHash,
		time.Now().UTC(),
	)
}

func (db *PgGoChatRepository) CountRooms() (int, error) {
	var n int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM rooms").Scan(&n)
	return n, err
}

func (db *PgGoChatRepository) ListRooms() ([]Room, error) {
	rows, err := db.conn.Query(
		"SELECT id, key, name, COALESCE(owner_id, 0), typing, created_at, updated_at " +
			"FROM rooms ORDER BY created_at, id",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms = make([]Room, 0)
	for rows.Next() {
		var r Room
		if err := rows.Scan(&r.Id, &r.Key, &r.Name, &r.OwnerId, &r.Typing, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}

		rooms = append(rooms, r)
	}

	return rooms, rows.Err()
}

func (db *PgGoChatRepository) GetRoomByKey(key string) (Room, error) {
	row := db.conn.QueryRow(
		"SELECT id, key, name, COALESCE(owner_id, 0), typing, created_at, updated_at "+
			"FROM rooms WHERE key = $1 LIMIT 1",
		key,
	)

	var r Room
	err := row.Scan(&r.Id, &r.Key, &r.Name, &r.OwnerId, &r.Typing, &r.CreatedAt, &r.UpdatedAt)

	return r, err
}

func (db *PgGoChatRepository) CreateRoom(params CreateRoomParams) (Room, error) {
	now := time.Now().UTC()
	res := db.conn.QueryRow(
		"INSERT INTO rooms (key, name, owner_id, created_at, updated_at) "+
			"VALUES ($1, $2, NULLIF($3, 0), $4, $5) RETURNING id, key, name, COALESCE(owner_id, 0), typing, created_at, updated_at",
		params.Key,
		params.Name,
		params.OwnerId,
		now,
		now,
	)

	var r Room
	err := res.Scan(&r.Id, &r.Key, &r.Name, &r.OwnerId, &r.Typing, &r.CreatedAt, &r.UpdatedAt)
	if isUniqueViolation(err, "rooms_key_key") {
		return Room{}, ErrRoomExists
	}

	return r, err
}

// UpsertRoom writes the room like a field update on a shared document: an
// existing room with the same key is renamed rather than rejected. Its owner
// does not change.
func (db *PgGoChatRepository) UpsertRoom(params CreateRoomParams) (Room, error) {
	now := time.Now().UTC()
	res := db.conn.QueryRow(
		"INSERT INTO rooms (key, name, owner_id, created_at, updated_at) "+
			"VALUES ($1, $2, NULLIF($3, 0), $4, $5) "+
			"ON CONFLICT (key) DO UPDATE SET name = EXCLUDED.name, updated_at = EXCLUDED.updated_at "+
			"RETURNING id, key, name, COALESCE(owner_id, 0), typing, created_at, updated_at",
		params.Key,
		params.Name,
		params.OwnerId,
		now,
		now,
	)

	var r Room
	err := res.Scan(&r.Id, &r.Key, &r.Name, &r.OwnerId, &r.Typing, &r.CreatedAt, &r.UpdatedAt)

	return r, err
}

func (db *PgGoChatRepository) DeleteRoom(id int) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	_, err = tx.Exec("DELETE FROM messages WHERE room_id = $1", id)
	if err != nil {
		return err
	}

	_, err = tx.Exec("DELETE FROM rooms WHERE id = $1", id)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// InsertMessage appends msg to its room. A message already stored under the
// same key is left untouched and ErrMessageExists is returned.
func (db *PgGoChatRepository) InsertMessage(msg Message) error {
	res, err := db.conn.Exec(
		"INSERT INTO messages (room_id, key, author_name, body, sent_at) VALUES ($1, $2, $3, $4, $5) "+
			"ON CONFLICT (room_id, key) DO NOTHING",
		msg.RoomId,
		msg.Key,
		msg.AuthorName,
		msg.Body,
		msg.SentAt,
	)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrMessageExists
	}

	return nil
}

// UpsertMessage overwrites a message stored under the same key. Only imports
// use it; live messages go through InsertMessage.
func (db *PgGoChatRepository) UpsertMessage(msg Message) error {
	_, err := db.conn.Exec(
		"INSERT INTO messages (room_id, key, author_name, body, sent_at) VALUES ($1, $2, $3, $4, $5) "+
			"ON CONFLICT (room_id, key) DO UPDATE SET author_name = EXCLUDED.author_name, "+
			"body = EXCLUDED.body, sent_at = EXCLUDED.sent_at",
		msg.RoomId,
		msg.Key,
		msg.AuthorName,
		msg.Body,
		msg.SentAt,
	)

	return err
}

// GetMessages returns the room's messages in no particular order.
func (db *PgGoChatRepository) GetMessages(roomId int) ([]Message, error) {
	rows, err := db.conn.Query(
		"SELECT id, room_id, key, author_name, body, sent_at FROM messages WHERE room_id = $1",
		roomId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages = make([]Message, 0)
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.Id, &msg.RoomId, &msg.Key, &msg.AuthorName, &msg.Body, &msg.SentAt); err != nil {
			return nil, err
		}

		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

func (db *PgGoChatRepository) SetTyping(roomId int, label string) error {
	return db.execOne(
		"UPDATE rooms SET typing = $2 WHERE id = $1",
		roomId,
		label,
	)
}

// execOne runs a statement that must touch exactly one row and reports
// sql.ErrNoRows otherwise.
func (db *PgGoChatRepository) execOne(query string, args ...any) error {
	res, err := db.conn.Exec(query, args...)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}

	return nil
}
