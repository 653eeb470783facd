package service

import (
	"context"
	stderrors "errors"
	"net/http"
	"time"

	"calendar-sync-api/core/config"
	"calendar-sync-api/core/constants"
	coreEntity "calendar-sync-api/core/entity"
	"calendar-sync-api/core/errors"
	"calendar-sync-api/core/logger"
	"calendar-sync-api/core/utils"
	"calendar-sync-api/modules/calendar/entity"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/microsoft"
	"golang.org/x/sync/singleflight"
)

var CalendlyEndpoint = oauth2.Endpoint{
	AuthURL:   "https://auth.calendly.com/oauth/authorize",
	TokenURL:  "https://auth.calendly.com/oauth/token",
	AuthStyle: oauth2.AuthStyleInParams,
}

// ConnectionStore is the part of the calendar repository the token store needs.
type ConnectionStore interface {
	GetActiveConnection(ctx context.Context, userID uuid.UUID, provider coreEntity.Provider) (*entity.CalendarConnection, error)
	UpdateTokens(ctx context.Context, id uuid.UUID, accessToken, refreshToken string, expiresAt *time.Time) error
}

type TokenStore interface {
	// GetValidAccessToken returns a usable access token for the user's active connection
	// to provider, refreshing it when it expires within five minutes. A revoked grant
	// is reported as AUTH_EXPIRED.
	GetValidAccessToken(ctx context.Context, userID uuid.UUID, provider coreEntity.Provider) (string, error)
	GetValidAccessTokenForConnection(ctx context.Context, conn *entity.CalendarConnection) (string, error)
	// Seal encrypts a token pair for storage.
	Seal(accessToken, refreshToken string) (string, string, error)
}

type tokenStore struct {
	repo    ConnectionStore
	cipher  *utils.TokenCipher
	configs map[coreEntity.Provider]*oauth2.Config
	http    *http.Client
	group   singleflight.Group
	now     func() time.Time
}

func NewTokenStore(repo ConnectionStore, cipher *utils.TokenCipher, configs map[coreEntity.Provider]*oauth2.Config) TokenStore {
	return &tokenStore{
		repo:    repo,
		cipher:  cipher,
		configs: configs,
		http:    &http.Client{Timeout: constants.ProviderHTTPTimeout},
		now:     time.Now,
	}
}

// OAuthConfigs builds the refresh clients for every provider from application config.
func OAuthConfigs(cfg *config.Config) map[coreEntity.Provider]*oauth2.Config {
	tenant := cfg.MicrosoftAPI.TenantID
	if tenant == "" {
		tenant = "common"
	}
	calendly := CalendlyEndpoint
	if cfg.CalendlyAPI.BaseURL != "" {
		calendly.AuthURL = cfg.CalendlyAPI.BaseURL + "/oauth/authorize"
		calendly.TokenURL = cfg.CalendlyAPI.BaseURL + "/oauth/token"
	}
	return map[coreEntity.Provider]*oauth2.Config{
		coreEntity.ProviderGoogle: {
			ClientID:     cfg.GoogleAPI.ClientID,
			ClientSecret: cfg.GoogleAPI.ClientSecret,
			Endpoint:     google.Endpoint,
		},
		coreEntity.ProviderMicrosoft: {
			ClientID:     cfg.MicrosoftAPI.ClientID,
			ClientSecret: cfg.MicrosoftAPI.ClientSecret,
			Endpoint:     microsoft.AzureADEndpoint(tenant),
			Scopes:       []string{"offline_access", "Calendars.Read"},
		},
		coreEntity.ProviderCalendly: {
			ClientID:     cfg.CalendlyAPI.ClientID,
			ClientSecret: cfg.CalendlyAPI.ClientSecret,
			Endpoint:     calendly,
		},
	}
}

func (s *tokenStore) GetValidAccessToken(ctx context.Context, userID uuid.UUID, provider coreEntity.Provider) (string, error) {
	conn, err := s.repo.GetActiveConnection(ctx, userID, provider)
	if err != nil {
		if errors.IsNotFound(err) {
			return "", errors.NewAppError(errors.ErrAuthExpired, "no active connection for provider", err)
		}
		return "", err
	}
	return s.GetValidAccessTokenForConnection(ctx, conn)
}

func (s *tokenStore) GetValidAccessTokenForConnection(ctx context.Context, conn *entity.CalendarConnection) (string, error) {
	access, err := s.cipher.Decrypt(conn.AccessToken)
	if err != nil {
		return "", errors.NewAppError(errors.ErrInternalServer, "failed to decrypt access token", err)
	}
	if conn.TokenExpiresAt == nil || s.now().Before(conn.TokenExpiresAt.Add(-constants.TokenRefreshSkew)) {
		return access, nil
	}

	// Concurrent callers for the same connection share one refresh; providers that
	// rotate refresh tokens would otherwise invalidate each other.
	v, err, _ := s.group.Do(conn.ID.String(), func() (any, error) {
		return s.refresh(ctx, conn)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (s *tokenStore) refresh(ctx context.Context, conn *entity.CalendarConnection) (string, error) {
	oc, ok := s.configs[conn.Provider]
	if !ok {
		return "", errors.NewAppError(errors.ErrInternalServer, "no oauth client for provider "+conn.Provider.String(), nil)
	}
	refreshToken, err := s.cipher.Decrypt(conn.RefreshToken)
	if err != nil {
		return "", errors.NewAppError(errors.ErrInternalServer, "failed to decrypt refresh token", err)
	}
	if refreshToken == "" {
		return "", errors.NewAppError(errors.ErrAuthExpired, "connection has no refresh token", nil)
	}

	logger.Info("TokenStore:Refresh", "connection_id", conn.ID, "provider", conn.Provider)

	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.http)
	tok, err := oc.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken, Expiry: s.now().Add(-time.Minute)}).Token()
	if err != nil {
		logger.Warn("TokenStore:Refresh:Error", "connection_id", conn.ID, "error", err)
		return "", classifyRefreshError(err)
	}

	sealedAccess, sealedRefresh, err := s.Seal(tok.AccessToken, tok.RefreshToken)
	if err != nil {
		return "", errors.NewAppError(errors.ErrInternalServer, "failed to encrypt tokens", err)
	}
	var expiresAt *time.Time
	if !tok.Expiry.IsZero() {
		exp := tok.Expiry.UTC()
		expiresAt = &exp
	}
	if err := s.repo.UpdateTokens(ctx, conn.ID, sealedAccess, sealedRefresh, expiresAt); err != nil {
		logger.Error("TokenStore:Refresh:Persist:Error", "connection_id", conn.ID, "error", err)
		return "", err
	}
	conn.AccessToken = sealedAccess
	conn.RefreshToken = sealedRefresh
	conn.TokenExpiresAt = expiresAt
	return tok.AccessToken, nil
}

func (s *tokenStore) Seal(accessToken, refreshToken string) (string, string, error) {
	a, err := s.cipher.Encrypt(accessToken)
	if err != nil {
		return "", "", err
	}
	r, err := s.cipher.Encrypt(refreshToken)
	if err != nil {
		return "", "", err
	}
	return a, r, nil
}

func classifyRefreshError(err error) error {
	var re *oauth2.RetrieveError
	if stderrors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		switch {
		case re.ErrorCode == "invalid_grant" || re.ErrorCode == "unauthorized_client" || status == http.StatusUnauthorized:
			return errors.NewAppError(errors.ErrAuthExpired, "refresh token rejected", err)
		case status == http.StatusTooManyRequests:
			return errors.NewAppError(errors.ErrProviderRateLimited, "token endpoint rate limited", err)
		case status >= 500:
			return errors.NewAppError(errors.ErrProviderTransient, "token endpoint unavailable", err)
		}
		return errors.NewAppError(errors.ErrProviderRequest, "token refresh failed", err)
	}
	return errors.NewAppError(errors.ErrProviderTransient, "token refresh failed", err)
}
