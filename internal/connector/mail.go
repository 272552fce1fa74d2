package connector

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/connexus-ai/personal-vault/internal/ingest"
	"github.com/connexus-ai/personal-vault/internal/model"
)

var gmailEndpoint = oauth2.Endpoint{
	AuthURL:  "https://accounts.google.com/o/oauth2/auth",
	TokenURL: "https://oauth2.googleapis.com/token",
}

const mailBaseURL = "https://gmail.googleapis.com/gmail/v1/users/me"

// MailConnector pulls messages from a Gmail-style history API via
// token-refresh OAuth, paginated with a bounded number of pages. Body text
// is extracted from the MIME part tree, preferring plaintext over HTML.
type MailConnector struct {
	client *http.Client
}

// NewMailConnector creates a MailConnector.
func NewMailConnector() *MailConnector {
	return &MailConnector{client: &http.Client{Timeout: 25 * time.Second}}
}

func (c *MailConnector) Source() model.Source { return model.SourceMail }

type mailCursor struct {
	LastInternalTS int64  `json:"last_internal_ts"`
	RefreshToken   string `json:"refresh_token,omitempty"`
}

// Sync lists message ids newer than the cursor's high-water mark, fetches
// each in full, and emits one model.Document per message.
func (c *MailConnector) Sync(ctx context.Context, cursorJSON json.RawMessage) (ingest.SyncResult, error) {
	var cursor mailCursor
	if len(cursorJSON) > 0 {
		_ = json.Unmarshal(cursorJSON, &cursor)
	}

	token, err := c.accessToken(ctx, cursor.RefreshToken)
	if err != nil {
		return ingest.SyncResult{}, fmt.Errorf("connector.mail: access token: %w", err)
	}

	query := os.Getenv("GMAIL_SYNC_QUERY")
	if query == "" {
		query = "newer_than:365d"
	}
	if cursor.LastInternalTS > 0 {
		query = fmt.Sprintf("after:%d", cursor.LastInternalTS/1000)
	}

	ids, err := c.listMessageIDs(ctx, token, query)
	if err != nil {
		return ingest.SyncResult{}, fmt.Errorf("connector.mail: list messages: %w", err)
	}

	var docs []model.Document
	maxTS := cursor.LastInternalTS
	for _, id := range ids {
		raw, err := c.requestJSON(ctx, token, fmt.Sprintf("%s/messages/%s", mailBaseURL, id), url.Values{"format": {"full"}})
		if err != nil {
			return ingest.SyncResult{}, fmt.Errorf("connector.mail: fetch message %s: %w", id, err)
		}

		internalMS, _ := strconv.ParseInt(fmt.Sprint(raw["internalDate"]), 10, 64)
		if internalMS <= cursor.LastInternalTS {
			continue
		}

		payload, _ := raw["payload"].(map[string]any)
		headers := headerMap(payload)
		subject := headers["subject"]
		sender := headers["from"]

		body := extractMailBody(payload)
		if strings.TrimSpace(body) == "" {
			body = firstNonEmpty(subject, "Attachment-only message")
		}

		threadID := fmt.Sprint(raw["threadId"])
		if threadID == "" || threadID == "<nil>" {
			threadID = id
		}
		ts := time.UnixMilli(internalMS).UTC()
		metadataBytes, _ := json.Marshal(map[string]any{
			"label_ids": raw["labelIds"],
			"snippet":   raw["snippet"],
			"history_id": raw["historyId"],
		})

		docs = append(docs, model.Document{
			Source:       model.SourceMail,
			ExternalID:   id,
			ThreadID:     ptr(threadID),
			AccountID:    ptr(firstNonEmpty(headers["delivered-to"], "me")),
			Title:        ptr(subject),
			BodyText:     body,
			Author:       ptr(sender),
			Participants: nonEmptyStrings(headers["to"], headers["cc"]),
			TimestampUTC: &ts,
			DeepLink:     ptr(fmt.Sprintf("https://mail.google.com/mail/u/0/#inbox/%s", threadID)),
			Metadata:     metadataBytes,
			Checksum:     checksum(body),
		})
		if internalMS > maxTS {
			maxTS = internalMS
		}
	}

	nextCursor, err := json.Marshal(mailCursor{LastInternalTS: maxTS, RefreshToken: cursor.RefreshToken})
	if err != nil {
		return ingest.SyncResult{}, fmt.Errorf("connector.mail: marshal cursor: %w", err)
	}
	return ingest.SyncResult{Documents: docs, Cursor: nextCursor}, nil
}

func (c *MailConnector) listMessageIDs(ctx context.Context, token, query string) ([]string, error) {
	var ids []string
	pageToken := ""
	maxPages := readPositiveInt("GMAIL_SYNC_MAX_PAGES", 3)

	for page := 0; page < maxPages; page++ {
		params := url.Values{"q": {query}, "maxResults": {"100"}}
		if pageToken != "" {
			params.Set("pageToken", pageToken)
		}
		payload, err := c.requestJSON(ctx, token, mailBaseURL+"/messages", params)
		if err != nil {
			return nil, err
		}
		for _, item := range asSlice(payload["messages"]) {
			if m, ok := item.(map[string]any); ok {
				if id, ok := m["id"].(string); ok && id != "" {
					ids = append(ids, id)
				}
			}
		}
		next, _ := payload["nextPageToken"].(string)
		if next == "" {
			break
		}
		pageToken = next
	}
	return ids, nil
}

// accessToken returns a bearer token for the Gmail API, refreshing via
// oauth2's refresh-token grant when no static access token is configured.
func (c *MailConnector) accessToken(ctx context.Context, cursorRefresh string) (string, error) {
	if token := os.Getenv("GMAIL_ACCESS_TOKEN"); token != "" {
		return token, nil
	}

	refresh := firstNonEmpty(os.Getenv("GMAIL_REFRESH_TOKEN"), cursorRefresh)
	clientID := os.Getenv("GMAIL_CLIENT_ID")
	clientSecret := os.Getenv("GMAIL_CLIENT_SECRET")
	if refresh == "" || clientID == "" || clientSecret == "" {
		return "", fmt.Errorf("gmail credentials missing: set GMAIL_ACCESS_TOKEN or GMAIL_CLIENT_ID/GMAIL_CLIENT_SECRET/GMAIL_REFRESH_TOKEN")
	}

	cfg := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     gmailEndpoint,
		Scopes:       []string{"https://www.googleapis.com/auth/gmail.readonly"},
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.client)
	source := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refresh})
	token, err := source.Token()
	if err != nil {
		return "", fmt.Errorf("oauth token refresh failed: %w", err)
	}
	if token.AccessToken == "" {
		return "", fmt.Errorf("failed to acquire gmail access token from refresh token")
	}
	return token.AccessToken, nil
}

func (c *MailConnector) requestJSON(ctx context.Context, token, endpoint string, params url.Values) (map[string]any, error) {
	u := endpoint
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gmail api request failed: status %d", resp.StatusCode)
	}

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func headerMap(payload map[string]any) map[string]string {
	out := map[string]string{}
	if payload == nil {
		return out
	}
	for _, raw := range asSlice(payload["headers"]) {
		h, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(fmt.Sprint(h["name"])))
		value := strings.TrimSpace(fmt.Sprint(h["value"]))
		if name != "" {
			out[name] = value
		}
	}
	return out
}

// extractMailBody walks a MIME part tree preferring text/plain, falling
// back to HTML stripped of tags.
func extractMailBody(payload map[string]any) string {
	if payload == nil {
		return ""
	}
	if body, ok := payload["body"].(map[string]any); ok {
		if data, ok := body["data"].(string); ok && data != "" {
			if text := decodeBase64URL(data); text != "" {
				return text
			}
		}
	}

	htmlText := ""
	for _, raw := range asSlice(payload["parts"]) {
		part, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		mime := strings.ToLower(fmt.Sprint(part["mimeType"]))
		body, _ := part["body"].(map[string]any)
		data, _ := body["data"].(string)
		if data == "" {
			if nested := extractMailBody(part); nested != "" {
				return nested
			}
			continue
		}
		text := decodeBase64URL(data)
		if mime == "text/plain" && text != "" {
			return text
		}
		if mime == "text/html" && text != "" && htmlText == "" {
			htmlText = text
		}
	}
	if htmlText != "" {
		return stripHTML(htmlText)
	}
	return ""
}

func decodeBase64URL(value string) string {
	padded := value + strings.Repeat("=", (4-len(value)%4)%4)
	raw, err := base64.URLEncoding.DecodeString(padded)
	if err != nil {
		return ""
	}
	return string(raw)
}

func asSlice(v any) []any {
	if s, ok := v.([]any); ok {
		return s
	}
	return nil
}

func ptr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nonEmptyStrings(values ...string) []string {
	var out []string
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return out
}
