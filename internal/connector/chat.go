package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/connexus-ai/personal-vault/internal/ingest"
	"github.com/connexus-ai/personal-vault/internal/model"
)

const chatAPIBase = "https://slack.com/api"

// ChatConnector pulls threaded messages from a Slack-style workspace.
// Cursor is per-conversation: a float timestamp of the latest message seen
// in that conversation, so resuming only ever asks for strictly newer
// messages. Source distinguishes multiple configured workspaces.
type ChatConnector struct {
	source model.Source
	client *http.Client
}

// NewChatConnector creates a ChatConnector for the given logical source
// (model.SourceChatA or model.SourceChatB, one per connected workspace).
func NewChatConnector(source model.Source) *ChatConnector {
	return &ChatConnector{source: source, client: &http.Client{Timeout: 20 * time.Second}}
}

func (c *ChatConnector) Source() model.Source { return c.source }

type chatCursor struct {
	Token          string             `json:"token,omitempty"`
	ChannelCursors map[string]string  `json:"channel_cursors,omitempty"`
}

func (c *ChatConnector) Sync(ctx context.Context, cursorJSON json.RawMessage) (ingest.SyncResult, error) {
	var cursor chatCursor
	if len(cursorJSON) > 0 {
		_ = json.Unmarshal(cursorJSON, &cursor)
	}
	if cursor.ChannelCursors == nil {
		cursor.ChannelCursors = map[string]string{}
	}

	token := firstNonEmpty(os.Getenv("SLACK_USER_TOKEN"), cursor.Token)
	if token == "" {
		return ingest.SyncResult{}, fmt.Errorf("connector.chat: token missing, set SLACK_USER_TOKEN")
	}

	conversations := configuredConversations()
	if len(conversations) == 0 {
		var err error
		conversations, err = c.discoverConversations(ctx, token)
		if err != nil {
			return ingest.SyncResult{}, fmt.Errorf("connector.chat: discover conversations: %w", err)
		}
	}

	var docs []model.Document
	for _, channel := range conversations {
		oldest := cursor.ChannelCursors[channel]
		if oldest == "" {
			oldest = "0"
		}

		history, err := c.request(ctx, "conversations.history", token, url.Values{
			"channel":   {channel},
			"limit":     {"200"},
			"oldest":    {oldest},
			"inclusive": {"false"},
		})
		if err != nil {
			return ingest.SyncResult{}, fmt.Errorf("connector.chat: history %s: %w", channel, err)
		}
		if ok, _ := history["ok"].(bool); !ok {
			continue
		}

		latestTS := parseTS(oldest)
		for _, raw := range asSlice(history["messages"]) {
			msg, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			ts := strings.TrimSpace(fmt.Sprint(msg["ts"]))
			text := strings.TrimSpace(fmt.Sprint(msg["text"]))
			if ts == "" || ts == "<nil>" || text == "" {
				continue
			}
			tsFloat := parseTS(ts)
			if tsFloat <= latestTS {
				continue
			}
			latestTS = tsFloat

			timestamp := time.UnixMilli(int64(tsFloat * 1000)).UTC()
			user := firstNonEmpty(fmt.Sprint(msg["user"]), fmt.Sprint(msg["username"]), "unknown")
			threadTS := firstNonEmpty(fmt.Sprint(msg["thread_ts"]), ts)
			deepLink := c.permalink(ctx, token, channel, ts)

			metadataBytes, _ := json.Marshal(map[string]any{
				"channel":      channel,
				"subtype":      msg["subtype"],
				"reply_count":  msg["reply_count"],
			})

			docs = append(docs, model.Document{
				Source:       c.source,
				ExternalID:   ts,
				ThreadID:     ptr(threadTS),
				AccountID:    ptr(channel),
				Title:        ptr(fmt.Sprintf("message in %s", channel)),
				BodyText:     text,
				Author:       ptr(user),
				Participants: []string{user},
				TimestampUTC: &timestamp,
				DeepLink:     deepLink,
				Metadata:     metadataBytes,
				Checksum:     checksum(text),
			})
		}
		cursor.ChannelCursors[channel] = strconv.FormatFloat(latestTS, 'f', 6, 64)
	}

	cursor.Token = token
	nextCursor, err := json.Marshal(cursor)
	if err != nil {
		return ingest.SyncResult{}, fmt.Errorf("connector.chat: marshal cursor: %w", err)
	}
	return ingest.SyncResult{Documents: docs, Cursor: nextCursor}, nil
}

func (c *ChatConnector) discoverConversations(ctx context.Context, token string) ([]string, error) {
	payload, err := c.request(ctx, "users.conversations", token, url.Values{
		"types": {"public_channel,private_channel,im,mpim"}, "limit": {"200"},
	})
	if err != nil {
		return nil, err
	}
	if ok, _ := payload["ok"].(bool); !ok {
		return nil, nil
	}
	var ids []string
	for _, raw := range asSlice(payload["channels"]) {
		if ch, ok := raw.(map[string]any); ok {
			if id, ok := ch["id"].(string); ok && id != "" {
				ids = append(ids, id)
			}
		}
	}
	return ids, nil
}

func (c *ChatConnector) permalink(ctx context.Context, token, channel, ts string) *string {
	payload, err := c.request(ctx, "chat.getPermalink", token, url.Values{"channel": {channel}, "message_ts": {ts}})
	if err != nil {
		return nil
	}
	if ok, _ := payload["ok"].(bool); !ok {
		return nil
	}
	if link, ok := payload["permalink"].(string); ok && link != "" {
		return &link
	}
	return nil
}

func (c *ChatConnector) request(ctx context.Context, endpoint, token string, params url.Values) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/%s?%s", chatAPIBase, endpoint, params.Encode()), nil)
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
		return nil, fmt.Errorf("chat api request failed: status %d", resp.StatusCode)
	}

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func configuredConversations() []string {
	raw := strings.TrimSpace(os.Getenv("CHAT_CONVERSATIONS"))
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseTS(ts string) float64 {
	v, err := strconv.ParseFloat(ts, 64)
	if err != nil {
		return 0
	}
	return v
}
