package handlers_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/narcissus123/continuity/pkg/db/dbtest"
	"github.com/narcissus123/continuity/pkg/handlers"
	"github.com/narcissus123/continuity/pkg/llm"
	"github.com/narcissus123/continuity/pkg/localctx"
	"github.com/narcissus123/continuity/pkg/services"
	"github.com/narcissus123/continuity/pkg/session"
	"github.com/narcissus123/continuity/pkg/workflow"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Success bool                   `json:"success"`
	Reason  string                 `json:"reason"`
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data"`
}

type apiFixture struct {
	router *gin.Engine
	mailer *services.LogMailer
	jwt    *services.JWTService
}

func newAPI(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	m := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := dbtest.Open(t)
	sessions := session.NewRedisStore(client, "session", time.Hour)
	pointers := localctx.New(t.TempDir())
	mailer := services.NewLogMailer()
	jwt := services.NewJWTService("handler-secret", time.Hour)
	tokens := services.NewTokenService(store, time.Hour)

	h := &handlers.Handlers{
		Store:        store,
		Auth:         services.NewAuthService(store, tokens, mailer, jwt, pointers),
		JWT:          jwt,
		Orchestrator: session.NewOrchestrator(store, sessions, session.NewRedisLocker(client, "lock", 5*time.Second), "continuity"),
		Coordinator:  workflow.NewCoordinator(store, sessions, llm.StubGenerator{Paragraphs: 2}, workflow.StubRenderer{CostPerImage: 0.05}, 5),
		Pointers:     pointers,
	}
	r := gin.New()
	h.Register(r)
	return &apiFixture{router: r, mailer: mailer, jwt: jwt}
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body interface{}) (int, envelope) {
	t.Helper()
	var req *http.Request
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		req = httptest.NewRequest(method, path, bytes.NewReader(raw))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &env)
	}
	return w.Code, env
}

// signIn registers email through the name, email and token steps and
// returns the access token.
func (f *apiFixture) signIn(t *testing.T, conversation, name, email string) string {
	t.Helper()
	code, _ := f.do(t, http.MethodPost, "/auth/name", "", gin.H{"conversation_id": conversation, "name": name})
	require.Equal(t, http.StatusOK, code)

	code, env := f.do(t, http.MethodPost, "/auth/request-verification", "", gin.H{"conversation_id": conversation, "email": email})
	require.Equal(t, http.StatusOK, code, env.Message)
	assert.Equal(t, services.ActionAwaitToken, env.Data["action"])

	mail, ok := f.mailer.Last(email)
	require.True(t, ok)

	code, env = f.do(t, http.MethodPost, "/auth/verify", "", gin.H{"conversation_id": conversation, "token": mail.Token})
	require.Equal(t, http.StatusOK, code, env.Message)
	assert.Equal(t, name, env.Data["name"])
	token, _ := env.Data["access_token"].(string)
	require.NotEmpty(t, token)
	return token
}

func TestHealth(t *testing.T) {
	f := newAPI(t)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
}

func TestRegistrationAndContext(t *testing.T) {
	f := newAPI(t)
	token := f.signIn(t, "conv-1", "Ada", "ada@example.com")

	claims, err := f.jwt.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", claims.Email)

	code, env := f.do(t, http.MethodGet, "/api/context", token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Ada", env.Data["name"])
	assert.Equal(t, claims.UserID, env.Data["user_id"])
}

func TestRequestVerificationFailures(t *testing.T) {
	f := newAPI(t)
	f.signIn(t, "conv-1", "Ada", "ada@example.com")

	code, env := f.do(t, http.MethodPost, "/auth/request-verification", "", gin.H{"conversation_id": "conv-2", "email": "ADA@example.com"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "already_registered", env.Reason)
	assert.Equal(t, services.ActionVerify, env.Data["action"])

	code, env = f.do(t, http.MethodPost, "/auth/request-verification", "", gin.H{"conversation_id": "conv-2", "email": "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_format", env.Reason)

	code, env = f.do(t, http.MethodPost, "/auth/request-verification", "", gin.H{"email": "x@example.com"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_format", env.Reason)
}

func TestVerifyRejectsUnknownToken(t *testing.T) {
	f := newAPI(t)
	code, env := f.do(t, http.MethodPost, "/auth/verify", "", gin.H{"conversation_id": "conv-1", "token": "nope"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_token", env.Reason)
	assert.False(t, env.Success)
}

func TestRestoreUser(t *testing.T) {
	f := newAPI(t)
	f.signIn(t, "conv-1", "Ada", "ada@example.com")

	code, env := f.do(t, http.MethodPost, "/auth/restore", "", gin.H{"conversation_id": "conv-9", "email": "ada@example.com"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, services.StatusExistingUser, env.Data["status"])
	assert.Empty(t, env.Data["access_token"])

	code, env = f.do(t, http.MethodPost, "/auth/restore", "", gin.H{"conversation_id": "conv-9", "email": "new@example.com"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, services.StatusNewUser, env.Data["status"])
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	f := newAPI(t)
	code, env := f.do(t, http.MethodGet, "/api/videos", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "unauthenticated", env.Reason)

	code, _ = f.do(t, http.MethodGet, "/api/videos", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestVideoWorkflowOverHTTP(t *testing.T) {
	f := newAPI(t)
	token := f.signIn(t, "conv-1", "Ada", "ada@example.com")

	code, env := f.do(t, http.MethodPost, "/api/videos", token, gin.H{"title": "Lighthouse"})
	require.Equal(t, http.StatusCreated, code)
	videoID, _ := env.Data["id"].(string)
	require.NotEmpty(t, videoID)

	code, env = f.do(t, http.MethodGet, "/api/context", token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, videoID, env.Data["selected_video_id"])

	code, env = f.do(t, http.MethodPost, "/api/videos/"+videoID+"/step", token, gin.H{"phase": "image_batches"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "phase_order", env.Reason)

	code, env = f.do(t, http.MethodPost, "/api/videos/"+videoID+"/step", token, nil)
	require.Equal(t, http.StatusOK, code, env.Message)
	assert.Equal(t, "script", env.Data["ran"])

	code, env = f.do(t, http.MethodPost, "/api/videos/"+videoID+"/step", token, gin.H{"phase": "scenes"})
	require.Equal(t, http.StatusOK, code, env.Message)
	assert.Equal(t, float64(2), env.Data["scene_count"])

	code, env = f.do(t, http.MethodPost, "/api/videos/"+videoID+"/step", token, nil)
	require.Equal(t, http.StatusOK, code, env.Message)
	images, _ := env.Data["image_ids"].([]interface{})
	require.Len(t, images, 2)

	for _, id := range images {
		code, env = f.do(t, http.MethodPost, "/api/images/"+id.(string)+"/review", token, gin.H{"approve": true})
		require.Equal(t, http.StatusOK, code, env.Message)
	}
	assert.Equal(t, float64(3), env.Data["next_scene_to_generate"])

	code, env = f.do(t, http.MethodPost, "/api/videos/"+videoID+"/pause", token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, env.Data["yielded"])
	assert.Equal(t, "complete", env.Data["next"])

	code, env = f.do(t, http.MethodPost, "/api/videos/"+videoID+"/checkpoint", token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(3), env.Data["next_scene"])

	code, env = f.do(t, http.MethodGet, "/api/videos/"+videoID+"/state", token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "complete", env.Data["phase"])
	state, _ := env.Data["state"].(map[string]interface{})
	assert.Equal(t, "Ada", state["user:name"])
	assert.Equal(t, videoID, state["temp:selected_video_id"])

	code, _ = f.do(t, http.MethodDelete, "/api/videos/selection", token, nil)
	require.Equal(t, http.StatusOK, code)
	_, env = f.do(t, http.MethodGet, "/api/context", token, nil)
	assert.Nil(t, env.Data["selected_video_id"])
}

func TestVideosAreScopedToOwner(t *testing.T) {
	f := newAPI(t)
	ada := f.signIn(t, "conv-1", "Ada", "ada@example.com")
	bob := f.signIn(t, "conv-2", "Bob", "bob@example.com")

	code, env := f.do(t, http.MethodPost, "/api/videos", ada, gin.H{"title": "Lighthouse"})
	require.Equal(t, http.StatusCreated, code)
	videoID := env.Data["id"].(string)

	code, env = f.do(t, http.MethodPost, "/api/videos/"+videoID+"/select", bob, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "not_found", env.Reason)

	code, env = f.do(t, http.MethodPost, "/api/videos/"+videoID+"/select", ada, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, videoID, env.Data["video_id"])
	assert.Equal(t, "script", env.Data["phase"])

	code, _ = f.do(t, http.MethodPost, "/api/images/missing/review", ada, gin.H{"approve": false})
	assert.Equal(t, http.StatusNotFound, code)

	code, env = f.do(t, http.MethodPost, "/api/videos", ada, gin.H{"title": ""})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_format", env.Reason)
}

func TestSelectionIsPerUser(t *testing.T) {
	f := newAPI(t)
	ada := f.signIn(t, "conv-1", "Ada", "ada@example.com")
	bob := f.signIn(t, "conv-2", "Bob", "bob@example.com")

	code, env := f.do(t, http.MethodPost, "/api/videos", ada, gin.H{"title": "Lighthouse"})
	require.Equal(t, http.StatusCreated, code)
	adaVideo := env.Data["id"].(string)
	code, env = f.do(t, http.MethodPost, "/api/videos", bob, gin.H{"title": "Harbour"})
	require.Equal(t, http.StatusCreated, code)
	bobVideo := env.Data["id"].(string)

	code, _ = f.do(t, http.MethodPost, "/api/videos/"+adaVideo+"/select", ada, nil)
	require.Equal(t, http.StatusOK, code)
	code, _ = f.do(t, http.MethodPost, "/api/videos/"+bobVideo+"/select", bob, nil)
	require.Equal(t, http.StatusOK, code)

	_, env = f.do(t, http.MethodGet, "/api/context", ada, nil)
	assert.Equal(t, adaVideo, env.Data["selected_video_id"])
	_, env = f.do(t, http.MethodGet, "/api/context", bob, nil)
	assert.Equal(t, bobVideo, env.Data["selected_video_id"])

	code, _ = f.do(t, http.MethodDelete, "/api/videos/selection", bob, nil)
	require.Equal(t, http.StatusOK, code)
	_, env = f.do(t, http.MethodGet, "/api/context", ada, nil)
	assert.Equal(t, adaVideo, env.Data["selected_video_id"])
	_, env = f.do(t, http.MethodGet, "/api/context", bob, nil)
	assert.Nil(t, env.Data["selected_video_id"])
}
