package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Login starts an interactive sign-in, or joins the one in flight, and redirects the browser
// to the consent page.
func (a *InventoryAPI) Login(c *gin.Context) {
	consentURL := a.Session.Status().PendingURL
	if consentURL == "" {
		go func() {
			if err := a.Store.SignIn(context.Background()); err != nil {
				a.logger.Warn("browser sign in did not complete", "error", err)
			}
		}()
		consentURL = a.waitForConsentURL(c.Request.Context())
	}
	if consentURL == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "sign in did not start"})
		return
	}

	c.Redirect(http.StatusFound, consentURL)
}

// Callback receives the provider redirect and completes the pending sign-in.
func (a *InventoryAPI) Callback(c *gin.Context) {
	err := a.Session.CompleteSignIn(c.Request.Context(), c.Query("state"), c.Query("code"), c.Query("error"))
	if err != nil {
		a.respondError(c, err)
		return
	}

	c.Redirect(http.StatusFound, "/")
}

// SignIn blocks until the interactive sign-in completes or times out.
func (a *InventoryAPI) SignIn(c *gin.Context) {
	if err := a.Store.SignIn(c.Request.Context()); err != nil {
		a.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, a.Session.Status())
}

func (a *InventoryAPI) SignOut(c *gin.Context) {
	if err := a.Store.SignOut(c.Request.Context()); err != nil {
		a.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, a.Session.Status())
}

func (a *InventoryAPI) AuthStatus(c *gin.Context) {
	c.JSON(http.StatusOK, a.Session.Status())
}

func (a *InventoryAPI) waitForConsentURL(ctx context.Context) string {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.NewTimer(a.loginWait)
	defer deadline.Stop()

	for {
		if u := a.Session.Status().PendingURL; u != "" {
			return u
		}
		select {
		case <-ticker.C:
		case <-deadline.C:
			return ""
		case <-ctx.Done():
			return ""
		}
	}
}
