package handler

import (
	"encoding/json"
	"net/http"

	"vinreports-api/internal/model"
	"vinreports-api/internal/repository"
	"vinreports-api/internal/service"
	"vinreports-api/pkg/apierror"
	"vinreports-api/pkg/response"
)

// AuthHandler handles authentication-related HTTP requests.
type AuthHandler struct {
	tokenService *service.TokenService
	accountRepo  repository.UserAccountRepository // Interface, not concrete type
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(tokenService *service.TokenService, accountRepo repository.UserAccountRepository) *AuthHandler {
	return &AuthHandler{
		tokenService: tokenService,
		accountRepo:  accountRepo,
	}
}

// TokenRequest represents the request body for token generation.
type TokenRequest struct {
	APIKey string `json:"api_key"`
}

// TokenResponse represents the response for token generation.
type TokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"`
}

// GenerateToken handles POST /auth/token
func (h *AuthHandler) GenerateToken(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apierror.BadRequest("invalid request body"))
		return
	}
	defer r.Body.Close()

	if req.APIKey == "" {
		response.Error(w, apierror.BadRequest("api_key is required"))
		return
	}

	account, err := h.accountRepo.ValidateAPIKey(r.Context(), req.APIKey)
	if err != nil {
		response.Error(w, apierror.Unauthorized("Invalid API key"))
		return
	}
	if account.Status != "active" {
		response.Error(w, apierror.Forbidden("Account is not active"))
		return
	}

	tokenData := model.TokenData{
		UserID: account.UserID,
		Email:  account.Email,
	}

	token, err := h.tokenService.GenerateToken(r.Context(), tokenData)
	if err != nil {
		response.Error(w, apierror.InternalError("failed to generate token"))
		return
	}

	response.OK(w, TokenResponse{
		Token:     token,
		ExpiresIn: int(service.TokenTTL.Seconds()),
	})
}

// RevokeToken handles POST /auth/revoke
func (h *AuthHandler) RevokeToken(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("X-Token")
	if token == "" {
		response.Error(w, apierror.BadRequest("X-Token header required"))
		return
	}

	if err := h.tokenService.RevokeToken(r.Context(), token); err != nil {
		response.Error(w, apierror.InternalError("failed to revoke token"))
		return
	}

	response.OK(w, map[string]string{"status": "revoked"})
}

// RefreshToken handles POST /auth/refresh
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("X-Token")
	if token == "" {
		response.Error(w, apierror.BadRequest("X-Token header required"))
		return
	}

	if err := h.tokenService.RefreshToken(r.Context(), token); err != nil {
		response.Error(w, apierror.Unauthorized(err.Error()))
		return
	}

	response.OK(w, map[string]interface{}{
		"status":     "refreshed",
		"expires_in": int(service.TokenTTL.Seconds()),
	})
}
