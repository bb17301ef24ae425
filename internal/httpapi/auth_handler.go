package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"medinote/internal/auth"
)

// AccountService signs clinicians up, in and out.
type AccountService interface {
	SignUp(ctx context.Context, email, name, password string) (*auth.Grant, error)
	SignIn(ctx context.Context, email, password string) (*auth.Grant, error)
	SignOut(ctx context.Context, token string) error
}

// WorkflowReleaser discards a clinician's in-memory consultation.
type WorkflowReleaser interface {
	Release(ctx context.Context, ownerID string)
}

type AuthHandler struct {
	accounts  AccountService
	workflows WorkflowReleaser
}

// NewAuthHandler builds the account endpoints. workflows may be nil.
func NewAuthHandler(accounts AccountService, workflows WorkflowReleaser) *AuthHandler {
	return &AuthHandler{accounts: accounts, workflows: workflows}
}

func (h *AuthHandler) SignUp(c *gin.Context) {
	var req struct {
		Email    string `json:"email"`
		Name     string `json:"name"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	grant, err := h.accounts.SignUp(c.Request.Context(), req.Email, req.Name, req.Password)
	if err != nil {
		respondFailure(c, err)
		return
	}
	c.JSON(http.StatusCreated, grant)
}

func (h *AuthHandler) SignIn(c *gin.Context) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	grant, err := h.accounts.SignIn(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		respondFailure(c, err)
		return
	}
	respondOK(c, grant)
}

func (h *AuthHandler) SignOut(c *gin.Context) {
	token := c.GetString(ctxToken)
	if err := h.accounts.SignOut(c.Request.Context(), token); err != nil {
		respondFailure(c, err)
		return
	}
	if h.workflows != nil {
		h.workflows.Release(c.Request.Context(), ownerOf(c))
	}
	respondOK(c, gin.H{"ok": true})
}

func (h *AuthHandler) Me(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		respondError(c, http.StatusUnauthorized, "unauthorized", errors.New("not authenticated"))
		return
	}
	respondOK(c, user)
}
