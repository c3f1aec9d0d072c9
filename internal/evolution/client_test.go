package evolution

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/groupsummary/internal/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.EvolutionConfig{
		BaseURL:       srv.URL + "/",
		InstanceName:  "bot",
		InstanceToken: "secret",
	}, zaptest.NewLogger(t))
}

func TestFetchAllGroups(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodGet, r.Method)
			assert.Equal(t, "/group/fetchAllGroups/bot", r.URL.Path)
			assert.Equal(t, "false", r.URL.Query().Get("getParticipants"))
			assert.Equal(t, "secret", r.Header.Get("apikey"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `[
				{"id":"123@g.us","subject":"Go Devs","subjectTime":1700000000,"size":42,"creation":1690000000,
				 "owner":"5511999999999@s.whatsapp.net","restrict":false,"announce":true,"isCommunity":false,"isCommunityAnnounce":false},
				{"id":"456@g.us","subject":"Family","subjectTime":1700000001,"size":7,"creation":1690000001,
				 "restrict":true,"announce":false,"isCommunity":false,"isCommunityAnnounce":false}
			]`)
		})

		groups, err := client.FetchAllGroups(context.Background())
		require.NoError(t, err)
		require.Len(t, groups, 2)
		assert.Equal(t, "123@g.us", groups[0].ID)
		assert.Equal(t, "Go Devs", groups[0].Subject)
		assert.Equal(t, 42, groups[0].Size)
		assert.True(t, groups[0].Announce)
		assert.Empty(t, groups[1].Owner)
	})

	t.Run("Rate limited", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"status":400,"error":"Bad Request","response":{"message":["rate-overlimit"]}}`)
		})

		_, err := client.FetchAllGroups(context.Background())
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrRateLimited)
	})

	t.Run("Other failure", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		})

		_, err := client.FetchAllGroups(context.Background())
		require.Error(t, err)
		assert.False(t, errors.Is(err, ErrRateLimited))

		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	})
}

func TestFindMessages(t *testing.T) {
	start := time.Unix(1700000000, 0)
	end := start.Add(24 * time.Hour)

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/chat/findMessages/bot", r.URL.Path)

		var req findMessagesRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "123@g.us", req.Where.Key.RemoteJID)
		assert.Equal(t, start.UTC().Format(time.RFC3339), req.Where.MessageTimestamp.GTE)
		assert.Equal(t, messagePageSize, req.Offset)

		_, _ = io.WriteString(w, `{"messages":{"total":4,"pages":1,"currentPage":1,"records":[
			{"key":{"id":"m3","remoteJid":"123@g.us","participant":"5511@s.whatsapp.net"},"pushName":"Ana",
			 "messageType":"imageMessage","messageTimestamp":1700000300,"message":{"imageMessage":{"caption":"diagram"}}},
			{"key":{"id":"m1","remoteJid":"123@g.us","participant":"5512@s.whatsapp.net"},"pushName":"Bruno",
			 "messageType":"conversation","messageTimestamp":1700000100,"message":{"conversation":"bom dia"}},
			{"key":{"id":"m0","remoteJid":"123@g.us"},"pushName":"Old",
			 "messageType":"conversation","messageTimestamp":1600000000,"message":{"conversation":"too old"}},
			{"key":{"id":"m2","remoteJid":"123@g.us","participant":"5513@s.whatsapp.net"},
			 "messageType":"extendedTextMessage","messageTimestamp":1700000200,"message":{"extendedTextMessage":{"text":"https://go.dev"}}}
		]}}`)
	})

	msgs, err := client.FindMessages(context.Background(), "123@g.us", start, end)
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, "bom dia", msgs[0].Text)
	assert.Equal(t, "Bruno", msgs[0].Sender())
	assert.Equal(t, "https://go.dev", msgs[1].Text)
	assert.Equal(t, "5513", msgs[1].Sender())
	assert.Equal(t, "diagram", msgs[2].Text)
	assert.True(t, msgs[2].IsGroup())
}

func TestSendText(t *testing.T) {
	var got sendTextRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/message/sendText/bot", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"key":{"id":"sent"}}`)
	})

	require.NoError(t, client.SendText(context.Background(), "123@g.us", "*Resumo do Grupo*"))
	assert.Equal(t, "123@g.us", got.Number)
	assert.Equal(t, "*Resumo do Grupo*", got.Text)
}
