package connector

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/connexus-ai/personal-vault/internal/ingest"
	"github.com/connexus-ai/personal-vault/internal/model"
)

// appleEpoch is the reference point macOS chat databases store timestamps
// relative to: 2001-01-01 UTC.
var appleEpoch = time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)

// attributedBodyMarker and attributedBodyEnd delimit the plain text of a
// typedstream-encoded NSAttributedString blob: the message text sits between
// a "\x01+<len>" marker (one length byte after "\x01+") and a 0x86
// terminator byte. The blob is searched byte-wise, since it is not UTF-8.
var attributedBodyMarker = []byte("\x01+")

const attributedBodyEnd = 0x86

// LocalDBConnector reads new rows from a local, read-only message database
// (an iMessage-style chat.db) via a monotonic rowid cursor.
type LocalDBConnector struct{}

// NewLocalDBConnector creates a LocalDBConnector.
func NewLocalDBConnector() *LocalDBConnector { return &LocalDBConnector{} }

func (c *LocalDBConnector) Source() model.Source { return model.Source("local-db") }

type localDBCursor struct {
	LastRowID int64 `json:"last_rowid"`
}

func (c *LocalDBConnector) Sync(ctx context.Context, cursorJSON json.RawMessage) (ingest.SyncResult, error) {
	var cursor localDBCursor
	if len(cursorJSON) > 0 {
		_ = json.Unmarshal(cursorJSON, &cursor)
	}

	dbPath := os.Getenv("LOCALDB_PATH")
	if dbPath == "" {
		dbPath = filepath.Join(os.Getenv("HOME"), "Library", "Messages", "chat.db")
	}
	if _, err := os.Stat(dbPath); err != nil {
		return ingest.SyncResult{}, fmt.Errorf("connector.localdb: database not found at %s", dbPath)
	}

	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", dbPath))
	if err != nil {
		return ingest.SyncResult{}, fmt.Errorf("connector.localdb: open: %w", err)
	}
	defer db.Close()

	limit := readPositiveInt("LOCALDB_SYNC_LIMIT", 300)

	rows, err := db.QueryContext(ctx, `
		SELECT
			m.ROWID, m.guid, m.text, m.subject, m.attributedBody, m.date, m.is_from_me, m.service,
			h.id, c.chat_identifier, c.display_name
		FROM message m
		LEFT JOIN handle h ON h.ROWID = m.handle_id
		LEFT JOIN chat_message_join cmj ON cmj.message_id = m.ROWID
		LEFT JOIN chat c ON c.ROWID = cmj.chat_id
		WHERE m.ROWID > ?
		ORDER BY m.ROWID ASC
		LIMIT ?`, cursor.LastRowID, limit)
	if err != nil {
		return ingest.SyncResult{}, fmt.Errorf("connector.localdb: query: %w", err)
	}
	defer rows.Close()

	var docs []model.Document
	maxRowID := cursor.LastRowID
	for rows.Next() {
		var (
			rowID                                   int64
			guid, text, subject                      sql.NullString
			attributed                               []byte
			rawDate                                  sql.NullInt64
			isFromMe                                 sql.NullInt64
			service, handleID, chatIdentifier, disp  sql.NullString
		)
		if err := rows.Scan(&rowID, &guid, &text, &subject, &attributed, &rawDate, &isFromMe, &service, &handleID, &chatIdentifier, &disp); err != nil {
			return ingest.SyncResult{}, fmt.Errorf("connector.localdb: scan: %w", err)
		}

		attachments, err := attachmentMetadata(ctx, db, rowID)
		if err != nil {
			return ingest.SyncResult{}, fmt.Errorf("connector.localdb: attachments for %d: %w", rowID, err)
		}

		body := firstNonEmpty(text.String, subject.String, decodeAttributedBody(attributed))
		if body == "" && len(attachments) > 0 {
			body = "Attachment-only message"
		}
		if body == "" {
			if rowID > maxRowID {
				maxRowID = rowID
			}
			continue
		}

		guidValue := guid.String
		if guidValue == "" {
			guidValue = fmt.Sprintf("msg-%d", rowID)
		}
		timestamp := appleTimeToUTC(rawDate.Int64, rawDate.Valid)
		author := "me"
		if isFromMe.Int64 == 0 {
			author = firstNonEmpty(handleID.String, "unknown")
		}

		metadataBytes, _ := json.Marshal(map[string]any{
			"guid":        guidValue,
			"is_from_me":  isFromMe.Int64 != 0,
			"service":     firstNonEmpty(service.String, "iMessage"),
			"attachments": attachments,
		})

		docs = append(docs, model.Document{
			Source:       c.Source(),
			ExternalID:   guidValue,
			ThreadID:     ptr(chatIdentifier.String),
			AccountID:    ptr(firstNonEmpty(service.String, "iMessage")),
			Title:        ptr(firstNonEmpty(disp.String, chatIdentifier.String, "local message")),
			BodyText:     body,
			Author:       ptr(author),
			Participants: nonEmptyStrings(handleID.String),
			TimestampUTC: &timestamp,
			DeepLink:     ptr(fmt.Sprintf("localdb://message/%s", guidValue)),
			Metadata:     metadataBytes,
			Checksum:     checksum(body),
		})
		if rowID > maxRowID {
			maxRowID = rowID
		}
	}
	if err := rows.Err(); err != nil {
		return ingest.SyncResult{}, fmt.Errorf("connector.localdb: rows: %w", err)
	}

	nextCursor, err := json.Marshal(localDBCursor{LastRowID: maxRowID})
	if err != nil {
		return ingest.SyncResult{}, fmt.Errorf("connector.localdb: marshal cursor: %w", err)
	}
	return ingest.SyncResult{Documents: docs, Cursor: nextCursor}, nil
}

func attachmentMetadata(ctx context.Context, db *sql.DB, rowID int64) ([]map[string]any, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT a.filename, a.mime_type, a.transfer_name, a.total_bytes
		FROM message_attachment_join maj
		JOIN attachment a ON a.ROWID = maj.attachment_id
		WHERE maj.message_id = ?`, rowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		var filename, mimeType, transferName sql.NullString
		var totalBytes sql.NullInt64
		if err := rows.Scan(&filename, &mimeType, &transferName, &totalBytes); err != nil {
			return nil, err
		}
		out = append(out, map[string]any{
			"filename":      filename.String,
			"mime_type":     mimeType.String,
			"transfer_name": transferName.String,
			"total_bytes":   totalBytes.Int64,
		})
	}
	return out, rows.Err()
}

// appleTimeToUTC converts a chat.db date column to UTC. Modern macOS stores
// it in nanoseconds since the Apple epoch; older releases stored seconds.
func appleTimeToUTC(raw int64, valid bool) time.Time {
	if !valid {
		return time.Now().UTC()
	}
	if raw < 0 {
		raw = -raw
	}
	if raw > 10_000_000_000 {
		return appleEpoch.Add(time.Duration(raw) * time.Nanosecond)
	}
	return appleEpoch.Add(time.Duration(raw) * time.Second)
}

func decodeAttributedBody(blob []byte) string {
	if len(blob) == 0 {
		return ""
	}
	if start := bytes.Index(blob, attributedBodyMarker); start >= 0 && start+len(attributedBodyMarker) < len(blob) {
		rest := blob[start+len(attributedBodyMarker)+1:]
		if end := bytes.IndexByte(rest, attributedBodyEnd); end >= 0 {
			text := strings.TrimSpace(stripControlChars(string(rest[:end])))
			if text != "" {
				return text
			}
		}
	}
	return strings.Join(strings.Fields(string(blob)), " ")
}

func stripControlChars(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r < 0x20 && r != '\n' && r != '\t' {
			continue
		}
		if r == 0xFFFD {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
