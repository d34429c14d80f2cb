package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"complyline/internal/config"
	"complyline/internal/derive"
	"complyline/internal/docusign"
	"complyline/internal/domain"
	"complyline/internal/events"
	"complyline/internal/observability/logger"
	"complyline/internal/repo"
)

// EnvelopeService is the slice of the e-signature provider the engine uses.
type EnvelopeService interface {
	ListEnvelopes(ctx context.Context, accessToken string, from time.Time) ([]docusign.Envelope, error)
	DownloadCombined(ctx context.Context, accessToken, envelopeID string) ([]byte, error)
	SendEnvelope(ctx context.Context, accessToken string, req docusign.SendRequest) (string, error)
}

// TokenService refreshes and exchanges provider OAuth tokens.
type TokenService interface {
	ExchangeCode(ctx context.Context, code string) (*docusign.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (*docusign.TokenPair, error)
	GetUserInfo(ctx context.Context, accessToken string) (*docusign.UserInfo, error)
}

// TextExtractor turns an agreement PDF into plain text.
type TextExtractor func(doc []byte) (string, error)

// SchemaDeriver produces a form definition from agreement text.
type SchemaDeriver interface {
	Derive(ctx context.Context, agreementText string) (*derive.Result, error)
}

// FileUploader stores an answer attachment and returns its descriptor.
type FileUploader interface {
	Upload(ctx context.Context, formID int64, name, contentType string, data []byte) (domain.FileDescriptor, error)
}

// PDFRenderer converts a rendered HTML report into a PDF.
type PDFRenderer interface {
	RenderPDF(ctx context.Context, html string) ([]byte, error)
}

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Log    *zap.Logger
	Now    func() time.Time

	Envelopes EnvelopeService
	Tokens    TokenService
	Extract   TextExtractor
	Deriver   SchemaDeriver
	Uploader  FileUploader
	Renderer  PDFRenderer
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Log:    logger.Named("engine"),
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) log() *zap.Logger {
	if e.Log != nil {
		return e.Log
	}
	return zap.NewNop()
}

// CompleteLogin finishes the provider OAuth flow: exchanges the code, loads
// the identity, and stores the user with their account memberships.
func (e Engine) CompleteLogin(ctx context.Context, code string) (domain.User, error) {
	if e.Tokens == nil {
		return domain.User{}, errors.New("token service not configured")
	}
	tp, err := e.Tokens.ExchangeCode(ctx, code)
	if err != nil {
		return domain.User{}, fmt.Errorf("exchange code: %w", err)
	}
	ui, err := e.Tokens.GetUserInfo(ctx, tp.AccessToken)
	if err != nil {
		return domain.User{}, fmt.Errorf("fetch userinfo: %w", err)
	}
	now := e.now().UTC().Format(time.RFC3339)
	u := domain.User{
		DocusignID:   ui.Sub,
		Email:        ui.Email,
		Name:         ui.Name,
		AccessToken:  tp.AccessToken,
		RefreshToken: tp.RefreshToken,
		CreatedAt:    now,
	}
	if err := e.Repo.UpsertUser(ctx, u); err != nil {
		return domain.User{}, err
	}
	for _, acc := range ui.Accounts {
		a := domain.Account{ID: acc.AccountID, Name: acc.AccountName, BaseURL: acc.BaseURI, IncludeInLeaderboard: true, CreatedAt: now}
		if existing, err := e.Repo.GetAccount(ctx, acc.AccountID); err == nil {
			a.DonationLink = existing.DonationLink
			a.Country = existing.Country
			a.Score = existing.Score
			a.IncludeInLeaderboard = existing.IncludeInLeaderboard
			a.CreatedAt = existing.CreatedAt
		}
		if err := e.Repo.UpsertAccount(ctx, a); err != nil {
			return domain.User{}, err
		}
		if err := e.Repo.LinkUserAccount(ctx, u.DocusignID, acc.AccountID); err != nil {
			return domain.User{}, err
		}
	}
	if err := e.Events.Append(ctx, nil, "user.login", "", "user", u.DocusignID, u.DocusignID, events.EventPayload{"email": u.Email}); err != nil {
		return domain.User{}, err
	}
	e.log().Info("provider login completed", zap.String("user_id", u.DocusignID), zap.Int("accounts", len(ui.Accounts)))
	return u, nil
}

// RefreshAllTokens rotates every stored user's provider tokens. Users whose
// refresh grant has been revoked are logged and skipped.
func (e Engine) RefreshAllTokens(ctx context.Context) (int, error) {
	if e.Tokens == nil {
		return 0, errors.New("token service not configured")
	}
	users, err := e.Repo.ListUsers(ctx)
	if err != nil {
		return 0, err
	}
	refreshed := 0
	for _, u := range users {
		if u.RefreshToken == "" {
			continue
		}
		tp, err := e.Tokens.Refresh(ctx, u.RefreshToken)
		if err != nil {
			e.log().Warn("token refresh failed", zap.String("user_id", u.DocusignID), zap.Error(err))
			continue
		}
		if err := e.Repo.UpdateUserTokens(ctx, u.DocusignID, tp.AccessToken, tp.RefreshToken); err != nil {
			return refreshed, err
		}
		refreshed++
	}
	e.log().Info("token refresh finished", zap.Int("refreshed", refreshed), zap.Int("total", len(users)))
	return refreshed, nil
}

// credentialedMember returns the first account member with a usable access
// token. Provider calls for an account may be made with any member's token.
func (e Engine) credentialedMember(ctx context.Context, accountID string) (domain.User, error) {
	members, err := e.Repo.AccountMembers(ctx, accountID)
	if err != nil {
		return domain.User{}, err
	}
	for _, m := range members {
		if m.AccessToken != "" {
			return m, nil
		}
	}
	return domain.User{}, fmt.Errorf("account %s has no member with provider credentials", accountID)
}
