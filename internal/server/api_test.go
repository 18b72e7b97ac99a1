// ABOUTME: Tests for the REST fallback API
// ABOUTME: Covers auth enforcement, the session lifecycle, claim races, and history access

package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hostwind/livechat/internal/chat"
)

func doJSON(t *testing.T, handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func TestAPI_RequiresAuth(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/chat/start", "", StartChatRequest{Department: "general"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, srv.Handler(), http.MethodGet, "/api/chat/session", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPI_AdminEndpointsRequireAdminRole(t *testing.T) {
	srv := newTestServer(t)
	token := customerToken(t, "user-a")

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/admin/chat/waiting", token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, srv.Handler(), http.MethodPost, "/api/admin/chat/claim", token, SessionRequest{SessionID: "x"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAPI_StartSessionLifecycle(t *testing.T) {
	srv := newTestServer(t)
	token := customerToken(t, "user-a")

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/chat/start", token, StartChatRequest{
		Subject:    "billing question",
		Department: "billing",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeBody[chat.SessionPayload](t, rec)
	assert.Equal(t, "waiting", created.Status)
	assert.Equal(t, "user-a", created.UserID)
	assert.Equal(t, "billing", created.Department)
	assert.Equal(t, "billing question", created.Subject)

	// A second start conflicts
	rec = doJSON(t, srv.Handler(), http.MethodPost, "/api/chat/start", token, StartChatRequest{Department: "billing"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// The open session is retrievable
	rec = doJSON(t, srv.Handler(), http.MethodGet, "/api/chat/session", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	fetched := decodeBody[chat.SessionPayload](t, rec)
	assert.Equal(t, created.ID, fetched.ID)

	// Ending without a session id ends the caller's open session
	rec = doJSON(t, srv.Handler(), http.MethodPost, "/api/chat/end", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Nothing open anymore
	rec = doJSON(t, srv.Handler(), http.MethodGet, "/api/chat/session", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// A fresh start succeeds with a new id
	rec = doJSON(t, srv.Handler(), http.MethodPost, "/api/chat/start", token, StartChatRequest{Department: "general"})
	require.Equal(t, http.StatusCreated, rec.Code)
	next := decodeBody[chat.SessionPayload](t, rec)
	assert.NotEqual(t, created.ID, next.ID)
}

func TestAPI_AdminCannotStartSession(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/chat/start", adminToken(t, "staff-b"), StartChatRequest{Department: "general"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAPI_WaitingQueueAndClaim(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/chat/start", customerToken(t, "user-a"), StartChatRequest{Department: "general"})
	require.Equal(t, http.StatusCreated, rec.Code)
	session := decodeBody[chat.SessionPayload](t, rec)

	staff := adminToken(t, "staff-b")

	rec = doJSON(t, srv.Handler(), http.MethodGet, "/api/admin/chat/waiting", staff, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	waiting := decodeBody[WaitingSessionsResponse](t, rec)
	require.Len(t, waiting.Sessions, 1)
	assert.Equal(t, session.ID, waiting.Sessions[0].ID)

	rec = doJSON(t, srv.Handler(), http.MethodPost, "/api/admin/chat/claim", staff, SessionRequest{SessionID: session.ID})
	require.Equal(t, http.StatusOK, rec.Code)
	claimed := decodeBody[chat.SessionPayload](t, rec)
	assert.Equal(t, "active", claimed.Status)
	require.NotNil(t, claimed.AssignedAdminID)
	assert.Equal(t, "staff-b", *claimed.AssignedAdminID)

	// Claimed sessions leave the queue
	rec = doJSON(t, srv.Handler(), http.MethodGet, "/api/admin/chat/waiting", staff, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	waiting = decodeBody[WaitingSessionsResponse](t, rec)
	assert.Empty(t, waiting.Sessions)

	// A second admin's claim loses
	rec = doJSON(t, srv.Handler(), http.MethodPost, "/api/admin/chat/claim", adminToken(t, "staff-c"), SessionRequest{SessionID: session.ID})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAPI_ConcurrentClaimsOneWinner(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/chat/start", customerToken(t, "user-a"), StartChatRequest{Department: "general"})
	require.Equal(t, http.StatusCreated, rec.Code)
	session := decodeBody[chat.SessionPayload](t, rec)

	const admins = 5
	codes := make([]int, admins)
	var wg sync.WaitGroup
	for i := 0; i < admins; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			token := adminToken(t, fmt.Sprintf("staff-%d", i))
			rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/admin/chat/claim", token, SessionRequest{SessionID: session.ID})
			codes[i] = rec.Code
		}(i)
	}
	wg.Wait()

	var won int
	for _, code := range codes {
		switch code {
		case http.StatusOK:
			won++
		case http.StatusConflict:
		default:
			t.Fatalf("unexpected status %d", code)
		}
	}
	assert.Equal(t, 1, won)
}

func TestAPI_ClaimUnknownSession(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/admin/chat/claim", adminToken(t, "staff-b"), SessionRequest{SessionID: "nope"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_ClaimEndedSession(t *testing.T) {
	srv := newTestServer(t)
	token := customerToken(t, "user-a")

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/chat/start", token, StartChatRequest{Department: "general"})
	require.Equal(t, http.StatusCreated, rec.Code)
	session := decodeBody[chat.SessionPayload](t, rec)

	rec = doJSON(t, srv.Handler(), http.MethodPost, "/api/chat/end", token, SessionRequest{SessionID: session.ID})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv.Handler(), http.MethodPost, "/api/admin/chat/claim", adminToken(t, "staff-b"), SessionRequest{SessionID: session.ID})
	assert.Equal(t, http.StatusGone, rec.Code)
}

func TestAPI_HistoryAccess(t *testing.T) {
	srv := newTestServer(t)
	owner := customerToken(t, "user-a")

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/chat/start", owner, StartChatRequest{Department: "general"})
	require.Equal(t, http.StatusCreated, rec.Code)
	session := decodeBody[chat.SessionPayload](t, rec)

	historyPath := "/api/chat/history?session_id=" + session.ID

	rec = doJSON(t, srv.Handler(), http.MethodGet, historyPath, owner, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decodeBody[HistoryResponse](t, rec)
	assert.Equal(t, session.ID, history.SessionID)
	assert.Empty(t, history.Messages)

	// Another customer cannot read the transcript
	rec = doJSON(t, srv.Handler(), http.MethodGet, historyPath, customerToken(t, "user-b"), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// An assigned admin can; after assignment other admins cannot
	rec = doJSON(t, srv.Handler(), http.MethodPost, "/api/admin/chat/claim", adminToken(t, "staff-b"), SessionRequest{SessionID: session.ID})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv.Handler(), http.MethodGet, historyPath, adminToken(t, "staff-b"), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv.Handler(), http.MethodGet, historyPath, adminToken(t, "staff-x"), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAPI_EndRequiresParticipant(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/chat/start", customerToken(t, "user-a"), StartChatRequest{Department: "general"})
	require.Equal(t, http.StatusCreated, rec.Code)
	session := decodeBody[chat.SessionPayload](t, rec)

	// An unassigned admin cannot end someone else's session
	rec = doJSON(t, srv.Handler(), http.MethodPost, "/api/admin/chat/claim", adminToken(t, "staff-b"), SessionRequest{SessionID: session.ID})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv.Handler(), http.MethodPost, "/api/chat/end", adminToken(t, "staff-x"), SessionRequest{SessionID: session.ID})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// The assigned admin can
	rec = doJSON(t, srv.Handler(), http.MethodPost, "/api/chat/end", adminToken(t, "staff-b"), SessionRequest{SessionID: session.ID})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPI_Healthz(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
