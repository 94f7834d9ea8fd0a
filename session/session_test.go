package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, now func() time.Time) (*Manager, Store) {
	store, err := InMemoryStore(time.Hour)
	require.NoError(t, err)
	store.(*cacheStore).now = now
	return NewManager(store, Options{CookieName: "sid", TTL: time.Hour, Dev: true, Now: now}), store
}

func TestStoreExpiration(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	_, store := newTestManager(t, clock)
	ctx := context.Background()

	id, err := newID()
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, &Session{ID: id, UserID: "u1", ExpiresAt: now.Add(time.Minute)}))

	s, err := store.Load(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "u1", s.UserID)

	now = now.Add(2 * time.Minute)
	_, err = store.Load(ctx, id)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUpdatePersistsAndRotates(t *testing.T) {
	m, store := newTestManager(t, time.Now)
	var sid string
	var before string
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		before = FromContext(r.Context()).ID
		s, err := m.Update(w, r, func(s *Session) error {
			s.Promote("u1", "member")
			return nil
		})
		require.NoError(t, err)
		sid = s.ID
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))

	require.NotEqual(t, before, sid, "promotion must rotate the session id")
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Equal(t, sid, cookies[0].Value)
	require.True(t, cookies[0].HttpOnly)

	s, err := store.Load(context.Background(), sid)
	require.NoError(t, err)
	require.True(t, s.Authenticated())

	_, err = store.Load(context.Background(), before)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateSavesOnError(t *testing.T) {
	m, store := newTestManager(t, time.Now)
	var sid string
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, err := m.Update(w, r, func(s *Session) error {
			s.TakeChallenge()
			return errors.New("verification failed")
		})
		require.Error(t, err)
		sid = s.ID
	}))
	id, _ := newID()
	require.NoError(t, store.Save(context.Background(), &Session{ID: id, Pending: &Challenge{Ceremony: "login", Value: "abc"}, PendingLoginUserID: "u1"}))
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.AddCookie(&http.Cookie{Name: "sid", Value: id})
	h.ServeHTTP(httptest.NewRecorder(), req)

	require.Equal(t, id, sid)
	s, err := store.Load(context.Background(), id)
	require.NoError(t, err)
	require.Nil(t, s.Pending)
	require.Empty(t, s.PendingLoginUserID)
}

func TestConcurrentTakeChallenge(t *testing.T) {
	m, store := newTestManager(t, time.Now)
	id, _ := newID()
	require.NoError(t, store.Save(context.Background(), &Session{ID: id, Pending: &Challenge{Ceremony: "login", Value: "abc"}}))

	var taken int32
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.Update(w, r, func(s *Session) error {
			if c, _ := s.TakeChallenge(); c != nil {
				atomic.AddInt32(&taken, 1)
			}
			return nil
		})
	}))
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			req.AddCookie(&http.Cookie{Name: "sid", Value: id})
			h.ServeHTTP(httptest.NewRecorder(), req)
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), taken, "a challenge must be consumed at most once")
}

func TestDestroy(t *testing.T) {
	m, store := newTestManager(t, time.Now)
	id, _ := newID()
	require.NoError(t, store.Save(context.Background(), &Session{ID: id, UserID: "u1", Role: "member"}))
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, FromContext(r.Context()).Authenticated())
		require.NoError(t, m.Destroy(w, r))
		require.False(t, FromContext(r.Context()).Authenticated())
	}))
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.AddCookie(&http.Cookie{Name: "sid", Value: id})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	_, err := store.Load(context.Background(), id)
	require.ErrorIs(t, err, ErrNotFound)
	var expired bool
	for _, c := range rec.Result().Cookies() {
		if c.Name == "sid" && c.MaxAge < 0 {
			expired = true
		}
	}
	require.True(t, expired)
}

func TestProductionCookie(t *testing.T) {
	store, err := InMemoryStore(time.Hour)
	require.NoError(t, err)
	m := NewManager(store, Options{CookieName: "sid", TTL: 24 * time.Hour})
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, err := m.Update(w, r, func(s *Session) error {
			s.Promote("u1", "member")
			return nil
		})
		require.NoError(t, err)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	require.True(t, cookies[0].HttpOnly)
	require.True(t, cookies[0].Secure)
	require.Equal(t, http.SameSiteNoneMode, cookies[0].SameSite)
	require.Equal(t, int((24 * time.Hour).Seconds()), cookies[0].MaxAge)
}

func TestDevCookie(t *testing.T) {
	m, _ := newTestManager(t, time.Now)
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, err := m.Update(w, r, func(s *Session) error {
			s.Promote("u1", "member")
			return nil
		})
		require.NoError(t, err)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	require.True(t, cookies[0].HttpOnly)
	require.False(t, cookies[0].Secure)
	require.Equal(t, http.SameSiteLaxMode, cookies[0].SameSite)
}

func TestSlidingExpiration(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	m, store := newTestManager(t, clock)
	ctx := context.Background()

	id, err := newID()
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, &Session{ID: id, UserID: "u1", Role: "member", CreatedAt: now, ExpiresAt: now.Add(time.Hour)}))

	now = now.Add(45 * time.Minute)
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, FromContext(r.Context()).Authenticated())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "sid", Value: id})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	s, err := store.Load(ctx, id)
	require.NoError(t, err)
	require.True(t, s.ExpiresAt.Equal(now.Add(time.Hour)), "expiry must move forward, got %v", s.ExpiresAt)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Equal(t, id, cookies[0].Value)

	// past the original expiry the session is still alive
	now = now.Add(30 * time.Minute)
	_, err = store.Load(ctx, id)
	require.NoError(t, err)
}
