// Package memory holds map-backed repositories for tests and single-process
// development servers. Every method copies values in and out so callers never
// share state with the store.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/dlddu/passport/internal/domain"
	"github.com/dlddu/passport/internal/repository"
)

var (
	_ repository.ClientRepository            = (*ClientRepository)(nil)
	_ repository.AuthorizationCodeRepository = (*AuthorizationCodeRepository)(nil)
	_ repository.RefreshTokenRepository      = (*RefreshTokenRepository)(nil)
	_ repository.UserRepository              = (*UserRepository)(nil)
	_ repository.ConsentTicketRepository     = (*ConsentTicketRepository)(nil)
)

// ClientRepository is an in-memory repository.ClientRepository
type ClientRepository struct {
	clients map[string]*domain.Client
	lock    sync.RWMutex
}

// NewClientRepository creates an empty ClientRepository
func NewClientRepository() *ClientRepository {
	return &ClientRepository{clients: make(map[string]*domain.Client)}
}

func (r *ClientRepository) Create(_ context.Context, client *domain.Client) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if _, ok := r.clients[client.ClientID]; ok {
		return repository.ErrConflict
	}
	r.clients[client.ClientID] = copyClient(client)
	return nil
}

func (r *ClientRepository) GetByClientID(_ context.Context, clientID string) (*domain.Client, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	c, ok := r.clients[clientID]
	if !ok || !c.Active {
		return nil, repository.ErrClientNotFound
	}
	return copyClient(c), nil
}

func (r *ClientRepository) Delete(_ context.Context, clientID string) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	delete(r.clients, clientID)
	return nil
}

func copyClient(c *domain.Client) *domain.Client {
	out := *c
	out.RedirectURIs = slices.Clone(c.RedirectURIs)
	out.Scopes = slices.Clone(c.Scopes)
	return &out
}

// AuthorizationCodeRepository is an in-memory repository.AuthorizationCodeRepository
type AuthorizationCodeRepository struct {
	codes map[string]*domain.AuthorizationCode
	lock  sync.Mutex
}

// NewAuthorizationCodeRepository creates an empty AuthorizationCodeRepository
func NewAuthorizationCodeRepository() *AuthorizationCodeRepository {
	return &AuthorizationCodeRepository{codes: make(map[string]*domain.AuthorizationCode)}
}

func (r *AuthorizationCodeRepository) Create(_ context.Context, code *domain.AuthorizationCode) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if _, ok := r.codes[code.Code]; ok {
		return repository.ErrConflict
	}
	c := *code
	r.codes[code.Code] = &c
	return nil
}

func (r *AuthorizationCodeRepository) GetByCodeAndClient(_ context.Context, code, clientID string) (*domain.AuthorizationCode, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	c, ok := r.codes[code]
	if !ok || c.ClientID != clientID {
		return nil, repository.ErrCodeNotFound
	}
	out := *c
	return &out, nil
}

func (r *AuthorizationCodeRepository) MarkUsed(_ context.Context, code string) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	c, ok := r.codes[code]
	if !ok {
		return repository.ErrCodeNotFound
	}
	if c.Used {
		return repository.ErrConflict
	}
	c.Used = true
	return nil
}

func (r *AuthorizationCodeRepository) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	var n int64
	for k, c := range r.codes {
		if c.ExpiresAt.Before(before) {
			delete(r.codes, k)
			n++
		}
	}
	return n, nil
}

// ConsentTicketRepository is an in-memory repository.ConsentTicketRepository
type ConsentTicketRepository struct {
	tickets map[string]*domain.ConsentTicket
	lock    sync.Mutex
}

// NewConsentTicketRepository creates an empty ConsentTicketRepository
func NewConsentTicketRepository() *ConsentTicketRepository {
	return &ConsentTicketRepository{tickets: make(map[string]*domain.ConsentTicket)}
}

func (r *ConsentTicketRepository) Create(_ context.Context, ticket *domain.ConsentTicket) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if _, ok := r.tickets[ticket.Ticket]; ok {
		return repository.ErrConflict
	}
	t := *ticket
	r.tickets[ticket.Ticket] = &t
	return nil
}

func (r *ConsentTicketRepository) Take(_ context.Context, ticket string) (*domain.ConsentTicket, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	t, ok := r.tickets[ticket]
	if !ok {
		return nil, repository.ErrConsentNotFound
	}
	delete(r.tickets, ticket)
	return t, nil
}

func (r *ConsentTicketRepository) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	var n int64
	for k, t := range r.tickets {
		if t.ExpiresAt.Before(before) {
			delete(r.tickets, k)
			n++
		}
	}
	return n, nil
}

// RefreshTokenRepository is an in-memory repository.RefreshTokenRepository
type RefreshTokenRepository struct {
	tokens map[string]*domain.RefreshToken
	lock   sync.Mutex
}

// NewRefreshTokenRepository creates an empty RefreshTokenRepository
func NewRefreshTokenRepository() *RefreshTokenRepository {
	return &RefreshTokenRepository{tokens: make(map[string]*domain.RefreshToken)}
}

func (r *RefreshTokenRepository) Create(_ context.Context, token *domain.RefreshToken) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if _, ok := r.tokens[token.Token]; ok {
		return repository.ErrConflict
	}
	r.tokens[token.Token] = copyRefreshToken(token)
	return nil
}

func (r *RefreshTokenRepository) Touch(_ context.Context, token, clientID string, now time.Time) (*domain.RefreshToken, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	t, ok := r.tokens[token]
	if !ok || t.ClientID != clientID || !t.Usable(now) {
		return nil, repository.ErrRefreshTokenNotFound
	}
	used := now
	t.LastUsedAt = &used
	return copyRefreshToken(t), nil
}

func (r *RefreshTokenRepository) Revoke(_ context.Context, token string) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if t, ok := r.tokens[token]; ok {
		t.Revoked = true
	}
	return nil
}

func (r *RefreshTokenRepository) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	var n int64
	for k, t := range r.tokens {
		if t.ExpiresAt.Before(before) {
			delete(r.tokens, k)
			n++
		}
	}
	return n, nil
}

// Get returns a copy of the stored token regardless of state. Tests use it to
// inspect revocation and last_used_at.
func (r *RefreshTokenRepository) Get(token string) (*domain.RefreshToken, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()

	t, ok := r.tokens[token]
	if !ok {
		return nil, false
	}
	return copyRefreshToken(t), true
}

func copyRefreshToken(t *domain.RefreshToken) *domain.RefreshToken {
	out := *t
	if t.LastUsedAt != nil {
		used := *t.LastUsedAt
		out.LastUsedAt = &used
	}
	return &out
}

// UserRepository is an in-memory repository.UserRepository
type UserRepository struct {
	users map[string]*domain.User
	lock  sync.RWMutex
}

// NewUserRepository creates an empty UserRepository
func NewUserRepository() *UserRepository {
	return &UserRepository{users: make(map[string]*domain.User)}
}

func (r *UserRepository) Create(_ context.Context, user *domain.User) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if _, ok := r.users[user.ID]; ok {
		return repository.ErrConflict
	}
	u := *user
	u.SocialLinks = maps.Clone(user.SocialLinks)
	r.users[user.ID] = &u
	return nil
}

func (r *UserRepository) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	u, ok := r.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	out := *u
	out.SocialLinks = maps.Clone(u.SocialLinks)
	return &out, nil
}
