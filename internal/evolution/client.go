package evolution

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/groupsummary/internal/config"
	"github.com/t77yq/groupsummary/internal/model"
)

// messagePageSize is how many records one findMessages call asks for
const messagePageSize = 1000

var (
	// ErrRateLimited is returned when the API refuses a call with a rate-overlimit response
	ErrRateLimited = errors.New("rate limited")
)

// APIError is a non-2xx response from the API
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Is lets errors.Is match rate limit responses against ErrRateLimited
func (e *APIError) Is(target error) bool {
	return target == ErrRateLimited && (e.StatusCode == http.StatusTooManyRequests || strings.Contains(e.Body, "rate-overlimit"))
}

// Client talks to one Evolution API instance
type Client struct {
	baseURL       string
	instance      string
	instanceToken string
	httpClient    *http.Client
	logger        *zap.Logger
}

// NewClient creates a new API client for the configured instance
func NewClient(cfg config.EvolutionConfig, logger *zap.Logger) *Client {
	return &Client{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		instance:      cfg.InstanceName,
		instanceToken: cfg.InstanceToken,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger.Named("evolution"),
	}
}

// FetchAllGroups lists the instance's groups without participants
func (c *Client) FetchAllGroups(ctx context.Context) ([]model.Group, error) {
	path := "/group/fetchAllGroups/" + url.PathEscape(c.instance) + "?getParticipants=false"

	var groups []model.Group
	if err := c.do(ctx, http.MethodGet, path, nil, &groups); err != nil {
		return nil, fmt.Errorf("failed to fetch groups: %w", err)
	}
	return groups, nil
}

type findMessagesRequest struct {
	Where  findMessagesWhere `json:"where"`
	Page   int               `json:"page"`
	Offset int               `json:"offset"`
}

type findMessagesWhere struct {
	Key struct {
		RemoteJID string `json:"remoteJid"`
	} `json:"key"`
	MessageTimestamp struct {
		GTE string `json:"gte"`
		LTE string `json:"lte"`
	} `json:"messageTimestamp"`
}

type findMessagesResponse struct {
	Messages struct {
		Total       int             `json:"total"`
		Pages       int             `json:"pages"`
		CurrentPage int             `json:"currentPage"`
		Records     []messageRecord `json:"records"`
	} `json:"messages"`
}

type messageRecord struct {
	Key struct {
		ID          string `json:"id"`
		RemoteJID   string `json:"remoteJid"`
		FromMe      bool   `json:"fromMe"`
		Participant string `json:"participant"`
	} `json:"key"`
	PushName         string          `json:"pushName"`
	MessageType      string          `json:"messageType"`
	MessageTimestamp json.Number     `json:"messageTimestamp"`
	Message          json.RawMessage `json:"message"`
}

type messageBody struct {
	Conversation        string `json:"conversation"`
	ExtendedTextMessage struct {
		Text string `json:"text"`
	} `json:"extendedTextMessage"`
	ImageMessage struct {
		Caption string `json:"caption"`
	} `json:"imageMessage"`
	DocumentMessage struct {
		Caption string `json:"caption"`
	} `json:"documentMessage"`
}

// FindMessages returns the group's messages posted in [start, end], oldest first
func (c *Client) FindMessages(ctx context.Context, groupID string, start, end time.Time) ([]model.Message, error) {
	req := findMessagesRequest{Page: 1, Offset: messagePageSize}
	req.Where.Key.RemoteJID = groupID
	req.Where.MessageTimestamp.GTE = start.UTC().Format(time.RFC3339)
	req.Where.MessageTimestamp.LTE = end.UTC().Format(time.RFC3339)

	var resp findMessagesResponse
	if err := c.do(ctx, http.MethodPost, "/chat/findMessages/"+url.PathEscape(c.instance), req, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	messages := make([]model.Message, 0, len(resp.Messages.Records))
	for _, rec := range resp.Messages.Records {
		msg := rec.toMessage()
		if msg.Timestamp < start.Unix() || msg.Timestamp > end.Unix() {
			continue
		}
		messages = append(messages, msg)
	}
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Timestamp < messages[j].Timestamp
	})

	c.logger.Debug("Fetched messages",
		zap.String("group_id", groupID),
		zap.Int("total", resp.Messages.Total),
		zap.Int("kept", len(messages)))
	return messages, nil
}

func (r messageRecord) toMessage() model.Message {
	ts, _ := r.MessageTimestamp.Int64()
	msg := model.Message{
		ID:          r.Key.ID,
		RemoteJID:   r.Key.RemoteJID,
		Participant: r.Key.Participant,
		FromMe:      r.Key.FromMe,
		PushName:    r.PushName,
		Type:        r.MessageType,
		Timestamp:   ts,
	}

	var body messageBody
	if len(r.Message) > 0 && json.Unmarshal(r.Message, &body) == nil {
		switch r.MessageType {
		case model.MessageTypeText:
			msg.Text = body.Conversation
		case model.MessageTypeExtended:
			msg.Text = body.ExtendedTextMessage.Text
		case model.MessageTypeImage:
			msg.Text = body.ImageMessage.Caption
		case model.MessageTypeDocument:
			msg.Text = body.DocumentMessage.Caption
		}
	}
	return msg
}

type sendTextRequest struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}

// SendText posts a text message to a chat or group
func (c *Client) SendText(ctx context.Context, number, text string) error {
	if err := c.do(ctx, http.MethodPost, "/message/sendText/"+url.PathEscape(c.instance), sendTextRequest{Number: number, Text: text}, nil); err != nil {
		return fmt.Errorf("failed to send text: %w", err)
	}
	c.logger.Info("Message sent", zap.String("number", number), zap.Int("length", len(text)))
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("apikey", c.instanceToken)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug("Executing API request",
		zap.String("method", method),
		zap.String("path", path))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return &APIError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(data)),
		}
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
