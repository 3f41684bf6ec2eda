package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hht-diary/authcore/internal/auth"
	"github.com/hht-diary/authcore/internal/models"
	"github.com/hht-diary/authcore/internal/services"
	pkghttp "github.com/hht-diary/authcore/pkg/http"
)

const authFailedMessage = "Authentication failed"

// AuthServiceInterface defines the interface for auth business logic
type AuthServiceInterface interface {
	Register(ctx context.Context, input services.RegisterInput) (*models.User, error)
	Login(ctx context.Context, input services.LoginInput) (*services.LoginResult, error)
	Refresh(ctx context.Context, token string) (*services.LoginResult, error)
}

// ErrorReporter forwards infrastructure failures to an error tracker
type ErrorReporter interface {
	CaptureError(ctx context.Context, err error, tags map[string]string)
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	service  AuthServiceInterface
	timing   *auth.TimingDelay
	reporter ErrorReporter
	ipConfig *pkghttp.IPConfig
	logger   *slog.Logger
}

// NewAuthHandler creates a new AuthHandler. timing and reporter may be nil.
func NewAuthHandler(service AuthServiceInterface, timing *auth.TimingDelay, reporter ErrorReporter, ipConfig *pkghttp.IPConfig, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{
		service:  service,
		timing:   timing,
		reporter: reporter,
		ipConfig: ipConfig,
		logger:   logger,
	}
}

// Request DTOs

// RegisterRequest represents the request body for registration.
// One of linking_code or sponsor_id is required.
type RegisterRequest struct {
	LinkingCode string `json:"linking_code" validate:"required_without=SponsorID,max=64"`
	SponsorID   string `json:"sponsor_id" validate:"required_without=LinkingCode,max=64"`
	Username    string `json:"username" validate:"required,max=64"`
	Password    string `json:"password" validate:"required"`
}

// LoginRequest represents the request body for login
type LoginRequest struct {
	LinkingCode string `json:"linking_code" validate:"required_without=SponsorID,max=64"`
	SponsorID   string `json:"sponsor_id" validate:"required_without=LinkingCode,max=64"`
	Username    string `json:"username" validate:"required,max=64"`
	Password    string `json:"password" validate:"required"`
	AppUUID     string `json:"app_uuid" validate:"required,uuid"`
}

// Response DTOs

type RegisterResponse struct {
	UserID    string `json:"user_id"`
	SponsorID string `json:"sponsor_id"`
	Username  string `json:"username"`
}

// TokenResponse is returned by login and refresh
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	SponsorID   string `json:"sponsor_id"`
	SponsorURL  string `json:"sponsor_url"`
}

type SessionResponse struct {
	Subject    string    `json:"sub"`
	Username   string    `json:"username"`
	SponsorID  string    `json:"sponsor_id"`
	SponsorURL string    `json:"sponsor_url"`
	AppUUID    string    `json:"app_uuid"`
	Role       string    `json:"role,omitempty"`
	IssuedAt   time.Time `json:"issued_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Register handles participant self-enrollment
// @Summary Participant registration
// @Accept json
// @Param request body RegisterRequest true "Register request"
// @Produce json
// @Success 201 {object} RegisterResponse
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /auth/register [post]
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	user, err := h.service.Register(r.Context(), services.RegisterInput{
		LinkingCode: req.LinkingCode,
		SponsorID:   req.SponsorID,
		Username:    req.Username,
		Password:    req.Password,
	})
	if err != nil {
		switch {
		case errors.Is(err, models.ErrRepositoryUnavailable):
			h.unavailable(w, r, "register", err)
		case errors.Is(err, models.ErrDuplicateUser):
			pkghttp.WriteConflict(w, "Username is already taken")
		case errors.Is(err, models.ErrWeakPassword):
			pkghttp.WriteBadRequest(w, "Password does not meet requirements")
		case errors.Is(err, models.ErrSponsorNotResolved):
			pkghttp.WriteBadRequest(w, "Unknown linking code or sponsor")
		case errors.Is(err, models.ErrBadRequest):
			pkghttp.WriteBadRequest(w, "Invalid registration request")
		default:
			h.logger.Error("registration failed", slog.Any("error", err))
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, RegisterResponse{
		UserID:    user.ID,
		SponsorID: user.SponsorID,
		Username:  user.Username,
	})
}

// Login handles password login within a sponsor
// @Summary User login
// @Accept json
// @Param request body LoginRequest true "Login request"
// @Produce json
// @Success 200 {object} TokenResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 429 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /auth/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	result, err := h.service.Login(r.Context(), services.LoginInput{
		LinkingCode:   req.LinkingCode,
		SponsorID:     req.SponsorID,
		Username:      req.Username,
		Password:      req.Password,
		AppUUID:       req.AppUUID,
		ClientAddress: pkghttp.ExtractClientIP(r, h.ipConfig),
	})
	if err != nil {
		if h.timing != nil {
			h.timing.WaitFrom(r.Context(), start, false)
		}
		h.writeAuthError(w, r, "login", err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, newTokenResponse(result))
}

// Refresh exchanges a still-valid bearer token for a new one
// @Summary Refresh access token
// @Security BearerAuth
// @Produce json
// @Success 200 {object} TokenResponse
// @Failure 401 {object} ErrorResponse
// @Router /auth/refresh [post]
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	token, ok := auth.ExtractBearerToken(r.Header.Get("Authorization"))
	if !ok {
		pkghttp.WriteUnauthorized(w, authFailedMessage)
		return
	}

	result, err := h.service.Refresh(r.Context(), token)
	if err != nil {
		h.writeAuthError(w, r, "refresh", err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, newTokenResponse(result))
}

// Session echoes the identity carried by the caller's token
// @Summary Current session
// @Security BearerAuth
// @Produce json
// @Success 200 {object} SessionResponse
// @Failure 401 {object} ErrorResponse
// @Router /auth/session [get]
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaimsFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, authFailedMessage)
		return
	}

	resp := SessionResponse{
		Subject:    claims.Subject,
		Username:   claims.Username,
		SponsorID:  claims.SponsorID,
		SponsorURL: claims.SponsorURL,
		AppUUID:    claims.AppUUID,
		Role:       claims.Role,
	}
	if claims.IssuedAt != nil {
		resp.IssuedAt = claims.IssuedAt.Time.UTC()
	}
	if claims.ExpiresAt != nil {
		resp.ExpiresAt = claims.ExpiresAt.Time.UTC()
	}

	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// writeAuthError keeps every credential, sponsor and token failure
// indistinguishable to the client.
func (h *AuthHandler) writeAuthError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, models.ErrRepositoryUnavailable):
		h.unavailable(w, r, op, err)
	case errors.Is(err, models.ErrRateLimited),
		errors.Is(err, models.ErrAccountLocked):
		retryAfter, _ := models.RetryAfter(err)
		pkghttp.WriteTooManyRequests(w, "Too many attempts. Please try again later.", retryAfter)
	case errors.Is(err, models.ErrInvalidCredentials),
		errors.Is(err, models.ErrSponsorNotResolved),
		errors.Is(err, models.ErrInvalidToken):
		pkghttp.WriteUnauthorized(w, authFailedMessage)
	default:
		h.logger.Error("authentication error", slog.String("operation", op), slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}

func (h *AuthHandler) unavailable(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.logger.Error("dependency unavailable", slog.String("operation", op), slog.Any("error", err))
	if h.reporter != nil {
		h.reporter.CaptureError(r.Context(), err, map[string]string{"operation": op})
	}
	pkghttp.WriteServiceUnavailable(w, "Service temporarily unavailable")
}

func newTokenResponse(result *services.LoginResult) TokenResponse {
	return TokenResponse{
		AccessToken: result.AccessToken,
		TokenType:   result.TokenType,
		ExpiresIn:   result.ExpiresIn,
		SponsorID:   result.Identity.SponsorID,
		SponsorURL:  result.Identity.SponsorURL,
	}
}
