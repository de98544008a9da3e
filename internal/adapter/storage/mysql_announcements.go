package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/rl1809/storefront/internal/core/domain"
)

const announcementColumns = `id, seller_id, title, message, kind, priority, product_id, link, sent_count, read_count, created_at`

func scanAnnouncement(row rowScanner) (*domain.Announcement, error) {
	var a domain.Announcement
	err := row.Scan(&a.ID, &a.SellerID, &a.Title, &a.Message, &a.Kind, &a.Priority,
		&a.ProductID, &a.Link, &a.Sent, &a.Reads, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (m *MySQLAdapter) InsertAnnouncement(ctx context.Context, a domain.Announcement) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO announcements (`+announcementColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.SellerID, a.Title, a.Message, a.Kind, a.Priority,
		a.ProductID, a.Link, a.Sent, a.Reads, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert announcement: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) FindAnnouncement(ctx context.Context, id string) (*domain.Announcement, error) {
	a, err := scanAnnouncement(m.db.QueryRowContext(ctx,
		`SELECT `+announcementColumns+` FROM announcements WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query announcement: %w", err)
	}
	return a, nil
}

func (m *MySQLAdapter) ListAnnouncements(ctx context.Context, filter domain.AnnouncementFilter) ([]domain.Announcement, int64, error) {
	var (
		where []string
		args  []any
	)
	if filter.SellerID != "" {
		where = append(where, "seller_id = ?")
		args = append(args, filter.SellerID)
	}
	if len(filter.ExcludeSellers) > 0 {
		where = append(where, "seller_id NOT IN ("+placeholders(len(filter.ExcludeSellers))+")")
		for _, id := range filter.ExcludeSellers {
			args = append(args, id)
		}
	}
	if len(filter.Kinds) > 0 {
		where = append(where, "kind IN ("+placeholders(len(filter.Kinds))+")")
		for _, k := range filter.Kinds {
			args = append(args, k)
		}
	}
	clause := ""
	if len(where) > 0 {
		clause = ` WHERE ` + strings.Join(where, " AND ")
	}

	var total int64
	if err := m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM announcements`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count announcements: %w", err)
	}

	query := `SELECT ` + announcementColumns + ` FROM announcements` + clause + ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, filter.Limit, filter.Offset)
	}
	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query announcements: %w", err)
	}
	defer rows.Close()

	var out []domain.Announcement
	for rows.Next() {
		a, err := scanAnnouncement(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan announcement: %w", err)
		}
		out = append(out, *a)
	}
	return out, total, rows.Err()
}

func (m *MySQLAdapter) DeleteAnnouncement(ctx context.Context, sellerID, id string) (bool, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `DELETE FROM announcements WHERE id = ? AND seller_id = ?`, id, sellerID)
	if err != nil {
		return false, fmt.Errorf("delete announcement: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if rows == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM announcement_reads WHERE announcement_id = ?`, id); err != nil {
		return false, fmt.Errorf("delete announcement reads: %w", err)
	}
	return true, tx.Commit()
}

func (m *MySQLAdapter) RecordAnnouncementSent(ctx context.Context, id string, sent int) error {
	_, err := m.db.ExecContext(ctx, `UPDATE announcements SET sent_count = sent_count + ? WHERE id = ?`, sent, id)
	if err != nil {
		return fmt.Errorf("record announcement sent: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) MarkAnnouncementRead(ctx context.Context, buyerID, id string, at time.Time) (bool, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO announcement_reads (buyer_id, announcement_id, read_at)
		VALUES (?, ?, ?)`,
		buyerID, id, at,
	)
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert announcement read: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE announcements SET read_count = read_count + 1 WHERE id = ?`, id); err != nil {
		return false, fmt.Errorf("bump read count: %w", err)
	}
	return true, tx.Commit()
}

func (m *MySQLAdapter) ReadAnnouncements(ctx context.Context, buyerID string, ids []string) (map[string]bool, error) {
	read := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return read, nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, buyerID)
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := m.db.QueryContext(ctx, `
		SELECT announcement_id FROM announcement_reads
		WHERE buyer_id = ? AND announcement_id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("query announcement reads: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan announcement read: %w", err)
		}
		read[id] = true
	}
	return read, rows.Err()
}

func (m *MySQLAdapter) FindNotificationPreferences(ctx context.Context, buyerID string) (*domain.NotificationPreferences, error) {
	p := domain.NotificationPreferences{BuyerID: buyerID, MutedSellers: []string{}}
	err := m.db.QueryRowContext(ctx, `
		SELECT enabled, announcements, promotions, updates, alerts, updated_at
		FROM notification_preferences WHERE buyer_id = ?`, buyerID,
	).Scan(&p.Enabled, &p.Kinds.Announcements, &p.Kinds.Promotions, &p.Kinds.Updates, &p.Kinds.Alerts, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query notification preferences: %w", err)
	}

	rows, err := m.db.QueryContext(ctx, `
		SELECT seller_id FROM muted_sellers
		WHERE buyer_id = ? ORDER BY position`, buyerID)
	if err != nil {
		return nil, fmt.Errorf("query muted sellers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sellerID string
		if err := rows.Scan(&sellerID); err != nil {
			return nil, fmt.Errorf("scan muted seller: %w", err)
		}
		p.MutedSellers = append(p.MutedSellers, sellerID)
	}
	return &p, rows.Err()
}

func (m *MySQLAdapter) SaveNotificationPreferences(ctx context.Context, p domain.NotificationPreferences) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO notification_preferences (buyer_id, enabled, announcements, promotions, updates, alerts, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			enabled = VALUES(enabled), announcements = VALUES(announcements), promotions = VALUES(promotions),
			updates = VALUES(updates), alerts = VALUES(alerts), updated_at = VALUES(updated_at)`,
		p.BuyerID, p.Enabled, p.Kinds.Announcements, p.Kinds.Promotions, p.Kinds.Updates, p.Kinds.Alerts, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert notification preferences: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM muted_sellers WHERE buyer_id = ?`, p.BuyerID); err != nil {
		return fmt.Errorf("delete muted sellers: %w", err)
	}
	for i, sellerID := range p.MutedSellers {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO muted_sellers (buyer_id, seller_id, position)
			VALUES (?, ?, ?)`,
			p.BuyerID, sellerID, i,
		)
		if err != nil {
			return fmt.Errorf("insert muted seller: %w", err)
		}
	}

	return tx.Commit()
}
