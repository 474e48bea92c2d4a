package router

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"communityhelp/internal/db"
	"communityhelp/internal/events"
	"communityhelp/internal/middleware"
	"communityhelp/internal/services"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type testServer struct {
	t      *testing.T
	engine *gin.Engine
	db     *gorm.DB
	events *events.Recorder
	phone  int
}

func newTestServer(t *testing.T, limiter *middleware.RateLimiter) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := filepath.Join(t.TempDir(), "api.db") + "?_foreign_keys=on&_busy_timeout=5000"
	gdb, err := db.Open(sqlite.Open(dsn), false)
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.Migrate(gdb))

	rec := &events.Recorder{}
	r := gin.New()
	r.Use(middleware.RequestID())
	r.Use(sessions.Sessions("test_session", cookie.NewStore([]byte("test-session-secret"))))
	RegisterRoutes(r, Deps{
		Auth:        services.NewAuthService(gdb, "test-jwt-secret", 30*time.Minute),
		Posts:       services.NewPostService(gdb),
		Rankings:    services.NewRankingService(gdb, rec),
		RankLimiter: limiter,
	})

	return &testServer{t: t, engine: r, db: gdb, events: rec}
}

func (s *testServer) do(method, path string, body any, token string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
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
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

// signup 注册并登录，返回 (userID, token)
func (s *testServer) signup(name string) (uint, string) {
	s.t.Helper()
	s.phone++
	phone := fmt.Sprintf("+1555%07d", s.phone)

	w := s.do(http.MethodPost, "/auth/signup", gin.H{
		"username":     name,
		"phone_number": phone,
		"password":     "password1",
		"national_id":  "NID-" + name,
	}, "")
	require.Equal(s.t, http.StatusCreated, w.Code, w.Body.String())
	var user struct {
		ID uint `json:"id"`
	}
	decode(s.t, w, &user)

	w = s.do(http.MethodPost, "/auth/login", gin.H{"phone_number": phone, "password": "password1"}, "")
	require.Equal(s.t, http.StatusOK, w.Code, w.Body.String())
	var tok struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	decode(s.t, w, &tok)
	require.Equal(s.t, "bearer", tok.TokenType)
	return user.ID, tok.AccessToken
}

func (s *testServer) createPost(token, text string) uint {
	s.t.Helper()
	w := s.do(http.MethodPost, "/posts", gin.H{"text": text}, token)
	require.Equal(s.t, http.StatusCreated, w.Code, w.Body.String())
	var post struct {
		ID uint `json:"id"`
	}
	decode(s.t, w, &post)
	return post.ID
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp middleware.ErrorResponse
	decode(t, w, &resp)
	return resp.Error
}

func TestRankingFlow(t *testing.T) {
	s := newTestServer(t, nil)
	_, alice := s.signup("alice")
	bobID, bob := s.signup("bob")
	_, carol := s.signup("carol")
	postID := s.createPost(alice, "Need someone to walk my dog")

	w := s.do(http.MethodPost, "/rankings", gin.H{"post_id": postID, "rank_value": 2}, bob)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var ranking struct {
		ID        uint      `json:"id"`
		UserID    uint      `json:"user_id"`
		PostID    uint      `json:"post_id"`
		RankValue int       `json:"rank_value"`
		RankedAt  time.Time `json:"ranked_at"`
	}
	decode(t, w, &ranking)
	assert.Equal(t, bobID, ranking.UserID)
	assert.Equal(t, postID, ranking.PostID)
	assert.Equal(t, 2, ranking.RankValue)

	w = s.do(http.MethodPost, "/rankings", gin.H{"post_id": postID, "rank_value": 3}, carol)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodGet, fmt.Sprintf("/rankings/post/%d/stats", postID), nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var stats services.RankingStats
	decode(t, w, &stats)
	assert.Equal(t, services.RankingStats{TotalRankings: 2, AverageRank: 2.5, Rank2Count: 1, Rank3Count: 1}, stats)

	// bob 改成 1 分
	w = s.do(http.MethodPost, "/rankings", gin.H{"post_id": postID, "rank_value": 1}, bob)
	require.Equal(t, http.StatusOK, w.Code)
	var updated struct {
		ID uint `json:"id"`
	}
	decode(t, w, &updated)
	assert.Equal(t, ranking.ID, updated.ID)

	w = s.do(http.MethodGet, fmt.Sprintf("/rankings/post/%d/my-ranking", postID), nil, bob)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"rank_value":1}`, w.Body.String())

	w = s.do(http.MethodGet, "/rankings/user/my-rankings", nil, bob)
	require.Equal(t, http.StatusOK, w.Code)
	var mine []map[string]any
	decode(t, w, &mine)
	require.Len(t, mine, 1)
	assert.EqualValues(t, 1, mine[0]["rank_value"])

	w = s.do(http.MethodGet, fmt.Sprintf("/posts/%d", postID), nil, carol)
	require.Equal(t, http.StatusOK, w.Code)
	var post map[string]any
	decode(t, w, &post)
	assert.EqualValues(t, 2, post["total_rankings"])
	assert.EqualValues(t, 2.0, post["average_rank"])
	assert.Equal(t, "alice", post["owner_username"])
	assert.Contains(t, post["text_html"], "<p>Need someone to walk my dog</p>")

	w = s.do(http.MethodGet, fmt.Sprintf("/rankings/post/%d/verify", postID), nil, alice)
	require.Equal(t, http.StatusOK, w.Code)
	var check struct {
		Consistent bool `json:"consistent"`
		Cached     struct {
			TotalRankings int64   `json:"total_rankings"`
			AverageRank   float64 `json:"average_rank"`
		} `json:"cached"`
	}
	decode(t, w, &check)
	assert.True(t, check.Consistent)
	assert.Equal(t, int64(2), check.Cached.TotalRankings)
	assert.Equal(t, 2.0, check.Cached.AverageRank)

	assert.Len(t, s.events.Events(), 3)
}

func TestRankingErrors(t *testing.T) {
	s := newTestServer(t, nil)
	_, alice := s.signup("alice")
	_, bob := s.signup("bob")
	postID := s.createPost(alice, "help me move a couch")

	w := s.do(http.MethodPost, "/rankings", gin.H{"post_id": postID, "rank_value": 3}, alice)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "self_ranking_forbidden", errorCode(t, w))

	for _, v := range []int{0, 4, -1} {
		w = s.do(http.MethodPost, "/rankings", gin.H{"post_id": postID, "rank_value": v}, bob)
		assert.Equal(t, http.StatusBadRequest, w.Code, "value %d", v)
		assert.Equal(t, "invalid_rank_value", errorCode(t, w))
	}

	w = s.do(http.MethodPost, "/rankings", gin.H{"post_id": postID + 100, "rank_value": 2}, bob)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "post_not_found", errorCode(t, w))

	w = s.do(http.MethodPost, "/rankings", gin.H{"post_id": postID}, bob)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/rankings", gin.H{"post_id": postID, "rank_value": 2}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodPost, "/rankings", gin.H{"post_id": postID, "rank_value": 2}, "not-a-token")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodGet, fmt.Sprintf("/rankings/post/%d/my-ranking", postID), nil, bob)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"rank_value":null}`, w.Body.String())

	w = s.do(http.MethodGet, "/rankings/post/abc/stats", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodGet, fmt.Sprintf("/rankings/post/%d/stats", postID+100), nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodGet, fmt.Sprintf("/rankings/post/%d/stats", postID), nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"total_rankings":0,"average_rank":0,"rank_1_count":0,"rank_2_count":0,"rank_3_count":0}`, w.Body.String())

	assert.Empty(t, s.events.Events())
}

func TestSessionAuth(t *testing.T) {
	s := newTestServer(t, nil)
	s.signup("alice")

	w := s.do(http.MethodPost, "/auth/login", gin.H{"phone_number": "+15550000001", "password": "password1"}, "")
	require.Equal(t, http.StatusOK, w.Code)
	cookies := w.Result().Cookies()
	require.NotEmpty(t, cookies)

	w = s.do(http.MethodGet, "/auth/me", nil, "", cookies...)
	require.Equal(t, http.StatusOK, w.Code)
	var me map[string]any
	decode(t, w, &me)
	assert.Equal(t, "alice", me["username"])
	assert.NotContains(t, me, "password")
	assert.NotContains(t, me, "national_id")

	w = s.do(http.MethodPost, "/auth/logout", nil, "", cookies...)
	require.Equal(t, http.StatusNoContent, w.Code)
	cleared := w.Result().Cookies()

	w = s.do(http.MethodGet, "/auth/me", nil, "", cleared...)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodPost, "/auth/login", gin.H{"phone_number": "+15550000001", "password": "wrong-password"}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSignupConflict(t *testing.T) {
	s := newTestServer(t, nil)
	s.signup("alice")

	w := s.do(http.MethodPost, "/auth/signup", gin.H{
		"username":     "alice",
		"phone_number": "+15559999999",
		"password":     "password1",
		"national_id":  "NID-alice",
	}, "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(http.MethodPost, "/auth/signup", gin.H{
		"username":     "bob",
		"phone_number": "abc",
		"password":     "password1",
		"national_id":  "NID-bob",
	}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeletePostRemovesRankings(t *testing.T) {
	s := newTestServer(t, nil)
	_, alice := s.signup("alice")
	_, bob := s.signup("bob")
	postID := s.createPost(alice, "lost cat near the park")

	w := s.do(http.MethodPost, "/rankings", gin.H{"post_id": postID, "rank_value": 2}, bob)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodDelete, fmt.Sprintf("/posts/%d", postID), nil, bob)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodDelete, fmt.Sprintf("/posts/%d", postID), nil, alice)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = s.do(http.MethodGet, "/rankings/user/my-rankings", nil, bob)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	w = s.do(http.MethodGet, fmt.Sprintf("/rankings/post/%d/stats", postID), nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListPosts(t *testing.T) {
	s := newTestServer(t, nil)
	_, alice := s.signup("alice")
	_, bob := s.signup("bob")
	s.createPost(alice, "first")
	s.createPost(bob, "second")

	w := s.do(http.MethodGet, "/posts?skip=0&limit=10", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var all []map[string]any
	decode(t, w, &all)
	assert.Len(t, all, 2)

	w = s.do(http.MethodGet, "/posts/mine", nil, bob)
	require.Equal(t, http.StatusOK, w.Code)
	var mine []map[string]any
	decode(t, w, &mine)
	require.Len(t, mine, 1)
	assert.Equal(t, "second", mine[0]["text"])

	w = s.do(http.MethodPost, "/posts", gin.H{"text": "pic", "media_url": "https://x/y.png", "media_type": "gif"}, bob)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStoreUnavailableReturns503(t *testing.T) {
	s := newTestServer(t, nil)
	_, alice := s.signup("alice")
	postID := s.createPost(alice, "anyone have jumper cables?")

	sqlDB, err := s.db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	w := s.do(http.MethodGet, fmt.Sprintf("/rankings/post/%d/stats", postID), nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Equal(t, "store_unavailable", errorCode(t, w))
}

func TestRankSubmitRateLimited(t *testing.T) {
	s := newTestServer(t, middleware.NewRateLimiter(1, 1))
	_, alice := s.signup("alice")
	_, bob := s.signup("bob")
	postID := s.createPost(alice, "ride to the airport")

	w := s.do(http.MethodPost, "/rankings", gin.H{"post_id": postID, "rank_value": 2}, bob)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodPost, "/rankings", gin.H{"post_id": postID, "rank_value": 3}, bob)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))

	// 只限制提交，查询不受影响
	w = s.do(http.MethodGet, fmt.Sprintf("/rankings/post/%d/my-ranking", postID), nil, bob)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"rank_value":2}`, w.Body.String())
}

func TestRequestIDHeader(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(http.MethodGet, "/posts", nil, "")
	assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))
}

func TestStoreUnavailableOnSignedInRoutes(t *testing.T) {
	s := newTestServer(t, nil)
	_, alice := s.signup("alice")
	_, bob := s.signup("bob")
	postID := s.createPost(alice, "need a hand with groceries")

	sqlDB, err := s.db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	w := s.do(http.MethodPost, "/rankings", gin.H{"post_id": postID, "rank_value": 2}, bob)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Equal(t, "store_unavailable", errorCode(t, w))

	w = s.do(http.MethodGet, "/rankings/user/my-rankings", nil, bob)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	// 没带凭证仍然是 401
	w = s.do(http.MethodGet, "/rankings/user/my-rankings", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestPostDetailIsPublic(t *testing.T) {
	s := newTestServer(t, nil)
	_, alice := s.signup("alice")
	postID := s.createPost(alice, "**urgent**: need a ladder")

	w := s.do(http.MethodGet, fmt.Sprintf("/posts/%d", postID), nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var post map[string]any
	decode(t, w, &post)
	assert.Equal(t, "alice", post["owner_username"])
	assert.Contains(t, post["text_html"], "<strong>urgent</strong>")

	w = s.do(http.MethodGet, "/posts/mine", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
