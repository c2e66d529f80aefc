package router

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-messenger-go/internal/auth"
	"github.com/ovaphlow/pitchfork/service-messenger-go/internal/message"
	"github.com/ovaphlow/pitchfork/service-messenger-go/internal/store/memory"
	"github.com/ovaphlow/pitchfork/service-messenger-go/internal/user"
	"github.com/ovaphlow/pitchfork/service-messenger-go/pkg/utilities"
)

type testServer struct {
	t       *testing.T
	handler http.Handler
}

func newTestServer(t *testing.T, rps float64, burst int) *testServer {
	t.Helper()
	logger := zap.NewNop().Sugar()
	store := memory.New()
	ids, err := utilities.NewIDGenerator(1)
	require.NoError(t, err)
	issuer := auth.NewIssuer("test-secret", time.Hour)

	users := user.NewUserService(store.Users(), user.BcryptHasher{Cost: bcrypt.MinCost})
	messages := message.NewMessageService(store.Messages(), ids, nil, logger)

	return &testServer{t: t, handler: RegisterRoutes(Deps{
		Logger:    logger,
		Issuer:    issuer,
		Users:     user.NewHandler(users, issuer, logger),
		Messages:  message.NewHandler(messages, logger),
		RateRPS:   rps,
		RateBurst: burst,
	})}
}

func (s *testServer) do(method, path, token string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func (s *testServer) register(username string) string {
	s.t.Helper()
	w := s.do(http.MethodPost, "/auth/register", "", map[string]string{
		"username":   username,
		"password":   "password",
		"first_name": "Test",
		"last_name":  strings.ToUpper(username),
		"phone":      "+14155550000",
	})
	require.Equal(s.t, http.StatusOK, w.Code, w.Body.String())
	var out struct{ Token string }
	require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), &out))
	require.NotEmpty(s.t, out.Token)
	return out.Token
}

func (s *testServer) send(token, to, body string) string {
	s.t.Helper()
	w := s.do(http.MethodPost, "/messages", token, map[string]string{"to_username": to, "body": body})
	require.Equal(s.t, http.StatusOK, w.Code, w.Body.String())
	var out struct {
		Message struct {
			ID string `json:"id"`
		} `json:"message"`
	}
	require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), &out))
	require.NotEmpty(s.t, out.Message.ID)
	return out.Message.ID
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, 100, 100)
	w := s.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}

func TestUnauthenticated(t *testing.T) {
	s := newTestServer(t, 100, 100)
	for _, path := range []string{"/users", "/users/alice", "/users/alice/to", "/messages/1"} {
		w := s.do(http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
		assert.JSONEq(t, `{"error":{"message":"Unauthorized","status":401}}`, w.Body.String(), path)
	}

	w := s.do(http.MethodGet, "/users", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLogin(t *testing.T) {
	s := newTestServer(t, 100, 100)
	s.register("alice")

	w := s.do(http.MethodPost, "/auth/login", "", map[string]string{"username": "alice", "password": "password"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, decode(t, w)["token"])

	w = s.do(http.MethodPost, "/auth/login", "", map[string]string{"username": "alice", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"error":{"message":"Invalid user/password","status":401}}`, w.Body.String())

	w = s.do(http.MethodPost, "/auth/login", "", map[string]string{"username": "nobody", "password": "password"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodPost, "/auth/login", "", map[string]string{"username": "alice"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRegisterDuplicateAndInvalid(t *testing.T) {
	s := newTestServer(t, 100, 100)
	s.register("alice")

	w := s.do(http.MethodPost, "/auth/register", "", map[string]string{
		"username": "alice", "password": "other", "first_name": "A", "last_name": "B", "phone": "1",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":{"message":"username already exists","status":400}}`, w.Body.String())

	// the existing account is untouched
	w = s.do(http.MethodPost, "/auth/login", "", map[string]string{"username": "alice", "password": "password"})
	assert.Equal(t, http.StatusOK, w.Code)
	w = s.do(http.MethodPost, "/auth/login", "", map[string]string{"username": "alice", "password": "other"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodPost, "/auth/register", "", map[string]string{"username": "bob"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUserDirectory(t *testing.T) {
	s := newTestServer(t, 100, 100)
	alice := s.register("alice")
	s.register("bob")

	w := s.do(http.MethodGet, "/users", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	users := decode(t, w)["users"].([]any)
	require.Len(t, users, 2)
	first := users[0].(map[string]any)
	assert.Contains(t, first, "username")
	assert.NotContains(t, first, "phone")
	assert.NotContains(t, first, "password")

	w = s.do(http.MethodGet, "/users/bob", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	profile := decode(t, w)["user"].(map[string]any)
	assert.Equal(t, "bob", profile["username"])
	assert.Equal(t, "+14155550000", profile["phone"])
	assert.NotEmpty(t, profile["join_at"])
	assert.NotContains(t, profile, "password")

	w = s.do(http.MethodGet, "/users/nobody", alice, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":{"message":"User: nobody not found","status":404}}`, w.Body.String())
}

func TestMessageExchange(t *testing.T) {
	s := newTestServer(t, 100, 100)
	alice := s.register("alice")
	bob := s.register("bob")
	eve := s.register("eve")

	id := s.send(alice, "bob", "hi bob")

	// sender and recipient can view, a third party cannot
	for _, tok := range []string{alice, bob} {
		w := s.do(http.MethodGet, "/messages/"+id, tok, nil)
		require.Equal(t, http.StatusOK, w.Code)
		msg := decode(t, w)["message"].(map[string]any)
		assert.Equal(t, "hi bob", msg["body"])
		assert.Nil(t, msg["read_at"])
		assert.Equal(t, "alice", msg["from_user"].(map[string]any)["username"])
		assert.Equal(t, "bob", msg["to_user"].(map[string]any)["username"])
	}
	w := s.do(http.MethodGet, "/messages/"+id, eve, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// only the recipient marks read
	w = s.do(http.MethodPost, "/messages/"+id+"/read", alice, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = s.do(http.MethodPost, "/messages/"+id+"/read", eve, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodPost, "/messages/"+id+"/read", bob, nil)
	require.Equal(t, http.StatusOK, w.Code)
	readAt := decode(t, w)["message"].(map[string]any)["read_at"]
	require.NotNil(t, readAt)

	w = s.do(http.MethodPost, "/messages/"+id+"/read", bob, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, readAt, decode(t, w)["message"].(map[string]any)["read_at"])

	// absent and malformed ids
	w = s.do(http.MethodGet, "/messages/12345", bob, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = s.do(http.MethodGet, "/messages/abc", bob, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSendIgnoresClaimedSender(t *testing.T) {
	s := newTestServer(t, 100, 100)
	alice := s.register("alice")
	s.register("bob")

	w := s.do(http.MethodPost, "/messages", alice, map[string]string{
		"from_username": "bob", "to_username": "bob", "body": "spoof",
	})
	require.Equal(t, http.StatusOK, w.Code)
	msg := decode(t, w)["message"].(map[string]any)
	assert.Equal(t, "alice", msg["from_username"])

	w = s.do(http.MethodPost, "/messages", alice, map[string]string{"to_username": "nobody", "body": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = s.do(http.MethodPost, "/messages", alice, map[string]string{"to_username": "bob"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUserListings(t *testing.T) {
	s := newTestServer(t, 100, 100)
	alice := s.register("alice")
	bob := s.register("bob")
	first := s.send(alice, "bob", "one")
	s.send(alice, "bob", "two")

	inbox := func() []any {
		t.Helper()
		w := s.do(http.MethodGet, "/users/bob/to", bob, nil)
		require.Equal(t, http.StatusOK, w.Code)
		return decode(t, w)["messages"].([]any)
	}

	before := inbox()
	require.Len(t, before, 2)
	msg := before[0].(map[string]any)
	assert.Equal(t, first, msg["id"])
	assert.Equal(t, "one", msg["body"])
	assert.Equal(t, "alice", msg["from_user"].(map[string]any)["username"])
	assert.Nil(t, msg["read_at"])
	sentAt := msg["sent_at"]
	require.NotEmpty(t, sentAt)

	w := s.do(http.MethodPost, "/messages/"+first+"/read", bob, nil)
	require.Equal(t, http.StatusOK, w.Code)

	after := inbox()
	require.Len(t, after, 2)
	msg = after[0].(map[string]any)
	assert.Equal(t, first, msg["id"])
	assert.NotNil(t, msg["read_at"])
	assert.Equal(t, sentAt, msg["sent_at"])
	assert.Nil(t, after[1].(map[string]any)["read_at"])

	w = s.do(http.MethodGet, "/users/alice/from", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["messages"].([]any), 2)

	w = s.do(http.MethodGet, "/users/alice/to", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode(t, w)["messages"].([]any))

	w = s.do(http.MethodGet, "/users/bob/to", alice, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = s.do(http.MethodGet, "/users/alice/from", bob, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestTokenQueryParameter(t *testing.T) {
	s := newTestServer(t, 100, 100)
	alice := s.register("alice")

	w := s.do(http.MethodGet, "/users?_token="+alice, "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTokenBodyField(t *testing.T) {
	s := newTestServer(t, 100, 100)
	alice := s.register("alice")
	s.register("bob")

	w := s.do(http.MethodGet, "/users", "", map[string]string{"_token": alice})
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodPost, "/messages", "", map[string]string{
		"_token": alice, "to_username": "bob", "body": "hi",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "alice", decode(t, w)["message"].(map[string]any)["from_username"])
}

func TestAuthRateLimit(t *testing.T) {
	s := newTestServer(t, 0.001, 2)
	creds := map[string]string{"username": "x", "password": "y"}

	for range 2 {
		w := s.do(http.MethodPost, "/auth/login", "", creds)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	}
	w := s.do(http.MethodPost, "/auth/login", "", creds)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.JSONEq(t, `{"error":{"message":"Too Many Requests","status":429}}`, w.Body.String())

	// other routes are not limited
	w = s.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, 100, 100)
	s.do(http.MethodGet, "/health", "", nil)

	w := s.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `route="GET /health"`)
}
