package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/andrebq/famvault/internal/logutil"
)

type (
	Manager struct {
		store      Store
		cookieName string
		ttl        time.Duration
		dev        bool
		now        func() time.Time
		locks      stripes
	}

	Options struct {
		CookieName string
		TTL        time.Duration
		// Dev issues non secure SameSite=Lax cookies,
		// production cookies are Secure and SameSite=None
		Dev bool
		Now func() time.Time
	}

	ctxKey byte

	holder struct {
		s *Session
	}
)

const (
	holderKey = ctxKey(1)
)

func NewManager(store Store, opts Options) *Manager {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		store:      store,
		cookieName: opts.CookieName,
		ttl:        opts.TTL,
		dev:        opts.Dev,
		now:        opts.Now,
	}
}

// Middleware attaches the session named by the request cookie to the
// request context. Requests without a valid cookie get a fresh anonymous
// session which is only persisted once something changes it.
//
// Authenticated sessions have their expiration pushed forward on every
// request.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		s, err := m.fromCookie(ctx, r)
		if err != nil {
			log := logutil.GetOrDefault(ctx)
			log.Error().Err(err).Msg("Unable to load session")
			http.Error(w, `{"error":"session store unavailable"}`, http.StatusInternalServerError)
			return
		}
		if s.Authenticated() {
			s, err = m.touch(ctx, w, s.ID)
			if err != nil {
				log := logutil.GetOrDefault(ctx)
				log.Error().Err(err).Msg("Unable to refresh session")
				http.Error(w, `{"error":"session store unavailable"}`, http.StatusInternalServerError)
				return
			}
		}
		ctx = context.WithValue(ctx, holderKey, &holder{s: s})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// FromContext returns a copy of the current session state.
// Requests that did not pass through Middleware get an empty anonymous session.
func FromContext(ctx context.Context) *Session {
	h, ok := ctx.Value(holderKey).(*holder)
	if !ok || h.s == nil {
		return &Session{}
	}
	return h.s.clone()
}

// Update runs fn over the latest stored state of the request session,
// holding the session lock for the whole load, fn, save cycle. The session
// is saved even when fn fails, which is what makes challenges single-use.
func (m *Manager) Update(w http.ResponseWriter, r *http.Request, fn func(*Session) error) (*Session, error) {
	ctx := r.Context()
	h, ok := ctx.Value(holderKey).(*holder)
	if !ok {
		return nil, errors.New("session: request did not go through the session middleware")
	}
	unlock := m.locks.lock(h.s.ID)
	defer unlock()

	s, err := m.store.Load(ctx, h.s.ID)
	if errors.Is(err, ErrNotFound) {
		s = &Session{ID: h.s.ID, CreatedAt: m.now()}
	} else if err != nil {
		return nil, err
	}

	fnErr := fn(s)

	if s.rotate {
		old := s.ID
		s.ID, err = newID()
		if err != nil {
			return nil, err
		}
		s.rotate = false
		if err := m.store.Delete(ctx, old); err != nil {
			return nil, err
		}
	}
	s.ExpiresAt = m.now().Add(m.ttl)
	if err := m.store.Save(ctx, s); err != nil {
		return nil, err
	}
	m.setCookie(w, s)
	h.s = s.clone()
	return s.clone(), fnErr
}

// Destroy removes the request session from the store and expires the cookie.
func (m *Manager) Destroy(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	h, ok := ctx.Value(holderKey).(*holder)
	if !ok {
		return errors.New("session: request did not go through the session middleware")
	}
	unlock := m.locks.lock(h.s.ID)
	defer unlock()
	if err := m.store.Delete(ctx, h.s.ID); err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   !m.dev,
		SameSite: m.sameSite(),
	})
	id, err := newID()
	if err != nil {
		return err
	}
	h.s = &Session{ID: id, CreatedAt: m.now()}
	return nil
}

func (m *Manager) fromCookie(ctx context.Context, r *http.Request) (*Session, error) {
	c, err := r.Cookie(m.cookieName)
	if err == nil && validID(c.Value) {
		s, err := m.store.Load(ctx, c.Value)
		if err == nil {
			return s, nil
		} else if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	id, err := newID()
	if err != nil {
		return nil, err
	}
	return &Session{ID: id, CreatedAt: m.now()}, nil
}

func (m *Manager) touch(ctx context.Context, w http.ResponseWriter, id string) (*Session, error) {
	unlock := m.locks.lock(id)
	defer unlock()
	s, err := m.store.Load(ctx, id)
	if errors.Is(err, ErrNotFound) {
		// logged out by a concurrent request
		id, err := newID()
		if err != nil {
			return nil, err
		}
		return &Session{ID: id, CreatedAt: m.now()}, nil
	} else if err != nil {
		return nil, fmt.Errorf("session: unable to reload session, cause %w", err)
	}
	s.ExpiresAt = m.now().Add(m.ttl)
	if err := m.store.Save(ctx, s); err != nil {
		return nil, err
	}
	m.setCookie(w, s)
	return s, nil
}

func (m *Manager) setCookie(w http.ResponseWriter, s *Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    s.ID,
		Path:     "/",
		Expires:  s.ExpiresAt,
		MaxAge:   int(m.ttl / time.Second),
		HttpOnly: true,
		Secure:   !m.dev,
		SameSite: m.sameSite(),
	})
}

func (m *Manager) sameSite() http.SameSite {
	if m.dev {
		return http.SameSiteLaxMode
	}
	return http.SameSiteNoneMode
}
