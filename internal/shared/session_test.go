package shared

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newManager(t *testing.T) (*SessionManager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSessionManager(client, "sid", time.Hour, true), mr
}

func TestSessionRoundTrip(t *testing.T) {
	sm, mr := newManager(t)
	ctx := context.Background()

	sess, err := sm.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	require.Empty(t, sess.User())

	// Untouched anonymous sessions are not stored.
	rr := httptest.NewRecorder()
	require.NoError(t, sm.Commit(ctx, rr, sess))
	require.Empty(t, rr.Result().Cookies())
	require.Empty(t, mr.Keys())

	sess.SetUser("7")
	rr = httptest.NewRecorder()
	require.NoError(t, sm.Commit(ctx, rr, sess))
	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	require.True(t, cookies[0].Secure)
	require.Equal(t, sess.ID, cookies[0].Value)
	require.Equal(t, time.Hour, mr.TTL("session:"+sess.ID))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	loaded, err := sm.Load(ctx, req)
	require.NoError(t, err)
	require.Equal(t, sess.ID, loaded.ID)
	require.Equal(t, "7", loaded.User())

	id, ok := ActorFromContext(ContextWithSession(ctx, loaded))
	require.True(t, ok)
	require.EqualValues(t, 7, id)

	sm.Destroy(loaded)
	rr = httptest.NewRecorder()
	require.NoError(t, sm.Commit(ctx, rr, loaded))
	require.False(t, mr.Exists("session:"+sess.ID))
	require.Equal(t, -1, rr.Result().Cookies()[0].MaxAge)
}

func TestSessionLoadIgnoresForeignCookie(t *testing.T) {
	sm, _ := newManager(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "sid", Value: "../../etc"})
	sess, err := sm.Load(context.Background(), req)
	require.NoError(t, err)
	require.NotEqual(t, "../../etc", sess.ID)
}

func TestCSRFTokenBoundToSession(t *testing.T) {
	m := NewCSRFManager("secret")
	a := &Session{ID: "a"}
	b := &Session{ID: "b"}

	token, err := m.Token(a)
	require.NoError(t, err)
	require.NoError(t, m.VerifyToken(a, token))
	require.ErrorIs(t, m.VerifyToken(b, token), ErrCSRFTokenMismatch)
	require.ErrorIs(t, m.VerifyToken(a, ""), ErrCSRFTokenMissing)
	require.ErrorIs(t, m.VerifyToken(a, "%%%"), ErrCSRFTokenMismatch)

	other, err := NewCSRFManager("rotated").Token(a)
	require.NoError(t, err)
	require.NotEqual(t, token, other)
}
