package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chat-notify/internal/models"
	"chat-notify/pkg/logger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresDB struct {
	pool *pgxpool.Pool
}

func NewPostgresDB(ctx context.Context, databaseURL string) (*PostgresDB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Connected to database successfully")
	return &PostgresDB{pool: pool}, nil
}

func (db *PostgresDB) Close() error {
	db.pool.Close()
	return nil
}

// Ping is used by the health endpoint.
func (db *PostgresDB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// User Repository Implementation
func (db *PostgresDB) GetUserByID(ctx context.Context, id int) (*models.User, error) {
	query := `SELECT id, user_name FROM users WHERE id = $1`

	user := &models.User{}
	err := db.pool.QueryRow(ctx, query, id).Scan(&user.ID, &user.Username)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user %d: %w", id, err)
	}

	return user, nil
}

// Notification Repository Implementation
func (db *PostgresDB) UnreadMessages(ctx context.Context, userID int) ([]models.MessageSummary, error) {
	query := `
		SELECT pm.id, u.id, u.user_name, pm.message, pm.file_url
		FROM private_messages pm
		JOIN users u ON pm.sender_id = u.id
		WHERE pm.recipient_id = $1 AND pm.is_read = false
		ORDER BY pm.id`

	rows, err := db.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query unread messages: %w", err)
	}
	defer rows.Close()

	messages := make([]models.MessageSummary, 0)
	for rows.Next() {
		var msg models.MessageSummary
		if err := rows.Scan(&msg.ID, &msg.SenderID, &msg.SenderName, &msg.Text, &msg.FileURL); err != nil {
			return nil, fmt.Errorf("failed to scan unread message: %w", err)
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

func (db *PostgresDB) PendingInvitations(ctx context.Context, userID int) ([]models.InvitationSummary, error) {
	query := `
		SELECT i.id, r.name_room, u.user_name
		FROM room_invitations i
		JOIN rooms r ON i.room_id = r.id
		JOIN users u ON i.sender_id = u.id
		WHERE i.recipient_id = $1 AND i.status = 'pending'
		ORDER BY i.id`

	rows, err := db.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending invitations: %w", err)
	}
	defer rows.Close()

	invitations := make([]models.InvitationSummary, 0)
	for rows.Next() {
		var inv models.InvitationSummary
		if err := rows.Scan(&inv.ID, &inv.RoomName, &inv.SenderName); err != nil {
			return nil, fmt.Errorf("failed to scan invitation: %w", err)
		}
		invitations = append(invitations, inv)
	}

	return invitations, rows.Err()
}

// Presence Repository Implementation
func (db *PostgresDB) GetOnlineSession(ctx context.Context, userID int) (*models.PresenceRecord, error) {
	query := `
		SELECT user_id, session_start, session_end,
		       (EXTRACT(EPOCH FROM total_online_time) * 1000000)::bigint
		FROM user_online_time
		WHERE user_id = $1
		ORDER BY session_start DESC NULLS LAST
		LIMIT 1`

	var (
		record    models.PresenceRecord
		totalUsec *int64
	)
	err := db.pool.QueryRow(ctx, query, userID).Scan(
		&record.UserID, &record.SessionStart, &record.SessionEnd, &totalUsec,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load online session: %w", err)
	}

	record.TotalOnline = microseconds(totalUsec)
	return &record, nil
}

func (db *PostgresDB) OpenOnlineSession(ctx context.Context, userID int, start time.Time) error {
	query := `
		INSERT INTO user_online_time (user_id, session_start, session_end, total_online_time)
		VALUES ($1, $2, NULL, INTERVAL '0')
		ON CONFLICT (user_id)
		DO UPDATE SET session_start = EXCLUDED.session_start, session_end = NULL`

	if _, err := db.pool.Exec(ctx, query, userID, start); err != nil {
		return fmt.Errorf("failed to open online session: %w", err)
	}
	return nil
}

func (db *PostgresDB) CloseOnlineSession(ctx context.Context, userID int, end time.Time, delta time.Duration) (bool, error) {
	query := `
		UPDATE user_online_time
		SET session_end = $2,
		    total_online_time = COALESCE(total_online_time, INTERVAL '0') + ($3 * INTERVAL '1 microsecond')
		WHERE user_id = $1 AND session_end IS NULL AND session_start IS NOT NULL`

	tag, err := db.pool.Exec(ctx, query, userID, end, delta.Microseconds())
	if err != nil {
		return false, fmt.Errorf("failed to close online session: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (db *PostgresDB) SetUserStatus(ctx context.Context, userID int, online bool) error {
	query := `UPDATE user_status SET status = $2 WHERE user_id = $1`

	if _, err := db.pool.Exec(ctx, query, userID, online); err != nil {
		return fmt.Errorf("failed to update user status: %w", err)
	}
	return nil
}

// microseconds converts a nullable total read from user_online_time. Rows
// written by other services may leave the total NULL, which counts as zero.
func microseconds(usec *int64) time.Duration {
	if usec == nil {
		return 0
	}
	return time.Duration(*usec) * time.Microsecond
}
