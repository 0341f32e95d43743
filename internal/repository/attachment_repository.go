package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/marketplace-support/internal/domain"
)

func insertAttachments(ctx context.Context, tx pgx.Tx, msg *domain.TicketMessage) error {
	const query = `
        INSERT INTO attachment_references (id, message_id, storage_key, file_name, mime_type, size_bytes, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7)`
	for i := range msg.Attachments {
		att := &msg.Attachments[i]
		att.MessageID = msg.ID
		if _, err := tx.Exec(ctx, query,
			att.ID,
			att.MessageID,
			att.StorageKey,
			att.FileName,
			att.MimeType,
			att.SizeBytes,
			att.CreatedAt,
		); err != nil {
			return err
		}
	}
	return nil
}

// loadAttachments fills the Attachments of every message of a ticket with one query.
func loadAttachments(ctx context.Context, pool *pgxpool.Pool, ticketID string, msgs []domain.TicketMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	const query = `
        SELECT a.id, a.message_id, a.storage_key, a.file_name, a.mime_type, a.size_bytes, a.created_at
        FROM attachment_references a
        JOIN ticket_messages m ON m.id = a.message_id
        WHERE m.ticket_id=$1
        ORDER BY a.created_at ASC, a.id ASC`
	rows, err := pool.Query(ctx, query, ticketID)
	if err != nil {
		return err
	}
	defer rows.Close()

	byMessage := make(map[string][]domain.AttachmentReference)
	for rows.Next() {
		var att domain.AttachmentReference
		if err := rows.Scan(
			&att.ID,
			&att.MessageID,
			&att.StorageKey,
			&att.FileName,
			&att.MimeType,
			&att.SizeBytes,
			&att.CreatedAt,
		); err != nil {
			return err
		}
		byMessage[att.MessageID] = append(byMessage[att.MessageID], att)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for i := range msgs {
		msgs[i].Attachments = byMessage[msgs[i].ID]
	}
	return nil
}
