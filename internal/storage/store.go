package storage

import (
	"context"
	"errors"
	"time"

	"dialogd/internal/storage/zapadapter"
	"dialogd/migrations"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/xid"
	"go.uber.org/zap"
)

var (
	ErrUserExists       = errors.New("user already exists")
	ErrUnknownSender    = errors.New("sender does not exist")
	ErrUnknownRecipient = errors.New("recipient does not exist")
)

// Store defines fields used in db interaction processes
type Store struct {
	logger *zap.SugaredLogger
	db     *pgxpool.Pool
}

// New applies embedded migrations, sets provided zap logger via zapadapter
// to pgxpool.Pool and returns instance of Store struct
func New(logger *zap.SugaredLogger, cfg Config, opts ...Option) (*Store, error) {
	if err := applyMigrations(cfg); err != nil {
		return nil, err
	}

	config, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, err
	}
	config.ConnConfig.Logger = zapadapter.NewLogger(logger.Desugar())

	for _, opt := range opts {
		opt.apply(config)
	}

	pool, err := pgxpool.ConnectConfig(context.Background(), config)
	if err != nil {
		return nil, err
	}

	return &Store{
		logger: logger,
		db:     pool,
	}, nil
}

// applyMigrations brings the schema up to date using the embedded migration files
func applyMigrations(cfg Config) error {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return err
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, cfg.URL())
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	return nil
}

// Close releases the underlying connection pool
func (s *Store) Close() {
	s.db.Close()
}

// CreateUser creates a user record and returns it.
// User rows are normally owned by the account subsystem; this is the write
// surface that subsystem (and integration tests) go through.
func (s *Store) CreateUser(ctx context.Context, name, email string) (User, error) {
	u := User{
		ID:        xid.New().String(),
		Name:      name,
		Email:     email,
		CreatedAt: time.Now().UTC(),
	}

	sql := "insert into users (id, name, email, online_status, created_at) values ($1, $2, $3, false, $4)"
	_, err := s.db.Exec(ctx, sql, u.ID, u.Name, u.Email, u.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return User{}, ErrUserExists
		}
		return User{}, err
	}

	return u, nil
}

// SetOnlineStatus updates the stored presence flag for a user
func (s *Store) SetOnlineStatus(ctx context.Context, userID string, online bool) error {
	sql := "update users set online_status = $2 where id = $1"
	_, err := s.db.Exec(ctx, sql, userID, online)
	return err
}

// CreateMessage persists a new message with status "sent" and returns the
// full persisted record including its generated id
func (s *Store) CreateMessage(ctx context.Context, senderID, recipientID, content string) (Message, error) {
	m := Message{
		ID:          xid.New().String(),
		SenderID:    senderID,
		RecipientID: recipientID,
		Content:     content,
		Status:      StatusSent,
		CreatedAt:   time.Now().UTC(),
	}

	s.logger.Debugf("Creating message from user (id: %s) to user (id: %s)", senderID, recipientID)

	sql := "insert into messages (id, sender_id, recipient_id, content, status, created_at) values ($1, $2, $3, $4, $5, $6)"
	_, err := s.db.Exec(ctx, sql, m.ID, m.SenderID, m.RecipientID, m.Content, m.Status, m.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			switch pgErr.ConstraintName {
			case "messages_sender_id_fkey":
				return Message{}, ErrUnknownSender
			case "messages_recipient_id_fkey":
				return Message{}, ErrUnknownRecipient
			}
		}
		return Message{}, err
	}

	return m, nil
}

// MessagesBetween returns every message exchanged between the two users in
// either direction, ordered by creation time from earliest to latest.
// The pair is unordered: MessagesBetween(a, b) and MessagesBetween(b, a)
// return the same rows in the same order.
func (s *Store) MessagesBetween(ctx context.Context, userA, userB string) ([]Message, error) {
	s.logger.Debugf("Retrieving messages between users (%s, %s)", userA, userB)

	sql := `select id, sender_id, recipient_id, content, status, created_at
			  from messages
			 where (sender_id = $1 and recipient_id = $2)
				or (sender_id = $2 and recipient_id = $1)
			 order by created_at asc, id asc`

	rows, err := s.db.Query(ctx, sql, userA, userB)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		err = rows.Scan(&m.ID, &m.SenderID, &m.RecipientID, &m.Content, &m.Status, &m.CreatedAt)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}

	return messages, nil
}

// MarkRead transitions every not-yet-read message from senderID to readerID
// to status "read" in a single bulk update and returns the number of rows
// affected. Calling it again with nothing left to transition affects zero
// rows and is not an error.
func (s *Store) MarkRead(ctx context.Context, readerID, senderID string) (int64, error) {
	sql := `update messages set status = $1
			 where sender_id = $2 and recipient_id = $3 and status <> $1`

	tag, err := s.db.Exec(ctx, sql, StatusRead, senderID, readerID)
	if err != nil {
		return 0, err
	}

	s.logger.Debugf("Marked %d messages from user (id: %s) as read by user (id: %s)",
		tag.RowsAffected(), senderID, readerID)

	return tag.RowsAffected(), nil
}

// Users returns every user except the one with excludeID
func (s *Store) Users(ctx context.Context, excludeID string) ([]User, error) {
	sql := `select id, name, email, online_status, created_at
			  from users
			 where id <> $1
			 order by created_at asc, id asc`

	rows, err := s.db.Query(ctx, sql, excludeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		err = rows.Scan(&u.ID, &u.Name, &u.Email, &u.OnlineStatus, &u.CreatedAt)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}

	return users, nil
}

// LastMessageBetween returns the most recent message exchanged between the
// two users in either direction, or nil when they have never exchanged one
func (s *Store) LastMessageBetween(ctx context.Context, userA, userB string) (*Message, error) {
	sql := `select id, sender_id, recipient_id, content, status, created_at
			  from messages
			 where (sender_id = $1 and recipient_id = $2)
				or (sender_id = $2 and recipient_id = $1)
			 order by created_at desc, id desc
			 limit 1`

	var m Message
	err := s.db.QueryRow(ctx, sql, userA, userB).Scan(&m.ID, &m.SenderID, &m.RecipientID, &m.Content, &m.Status, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return &m, nil
}
