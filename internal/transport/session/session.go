// Package session serves sign-in and sign-out of the directory session.
package session

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	sessionsvc "github.com/clicko-app/agent-discovery/internal/session"
)

// Holder owns the current session.
type Holder interface {
	Current() *sessionsvc.Session
	SignIn(token string) (*sessionsvc.Session, error)
	SignOut() *sessionsvc.Session
}

type Handler struct {
	holder Holder
}

func NewHandler(holder Holder) *Handler {
	return &Handler{holder: holder}
}

func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.GET("", h.current)
	rg.POST("", h.signIn)
	rg.DELETE("", h.signOut)
}

func (h *Handler) current(c *gin.Context) {
	c.JSON(http.StatusOK, h.holder.Current().Info())
}

type signInReq struct {
	Token string `json:"token" binding:"required"`
}

func (h *Handler) signIn(c *gin.Context) {
	var req signInReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s, err := h.holder.SignIn(req.Token)
	if err != nil {
		if errors.Is(err, sessionsvc.ErrEmptyToken) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, s.Info())
}

func (h *Handler) signOut(c *gin.Context) {
	c.JSON(http.StatusOK, h.holder.SignOut().Info())
}
