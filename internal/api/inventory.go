package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"stockroom/internal/inventory"
	"stockroom/internal/models"
	"stockroom/internal/monitoring"

	"github.com/gin-gonic/gin"
)

// SessionService is the part of the session manager the HTTP layer talks to directly
type SessionService interface {
	Status() models.SessionStatus
	CompleteSignIn(ctx context.Context, state, code, providerErr string) error
}

// InventoryAPI represents the HTTP surface over the inventory store
type InventoryAPI struct {
	Router  *gin.Engine
	Store   *inventory.Store
	Session SessionService
	Monitor *monitoring.Monitor

	logger *slog.Logger
	// loginWait bounds how long /auth/login waits for the consent URL
	loginWait time.Duration
}

// NewInventoryAPI creates a new inventory API instance
func NewInventoryAPI(store *inventory.Store, session SessionService, monitor *monitoring.Monitor, logger *slog.Logger) *InventoryAPI {
	if logger == nil {
		logger = slog.Default()
	}
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	api := &InventoryAPI{
		Router:    router,
		Store:     store,
		Session:   session,
		Monitor:   monitor,
		logger:    logger,
		loginWait: 2 * time.Second,
	}

	api.setupRoutes()
	return api
}

// setupRoutes configures all API endpoints
func (a *InventoryAPI) setupRoutes() {
	// Health check
	a.Router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "message": "stockroom API is running"})
	})
	a.Router.GET("/", a.Home)
	a.Router.GET("/ws", a.handleWebSocket)

	auth := a.Router.Group("/auth")
	{
		auth.GET("/login", a.Login)
		auth.GET("/callback", a.Callback)
	}

	v1 := a.Router.Group("/api/v1")
	{
		// Session
		v1.POST("/auth/signin", a.SignIn)
		v1.POST("/auth/signout", a.SignOut)
		v1.GET("/auth/status", a.AuthStatus)

		// Items
		v1.GET("/items", a.ListItems)
		v1.POST("/items", a.CreateItem)
		v1.PUT("/items/:id", a.UpdateItem)
		v1.DELETE("/items/:id", a.DeleteItem)

		// Views
		v1.POST("/refresh", a.Refresh)
		v1.GET("/categories", a.ListCategories)
		v1.GET("/alerts/low-stock", a.LowStockAlert)
		v1.GET("/state", a.State)
	}
}

func (a *InventoryAPI) Home(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"session": a.Session.Status(), "lowStock": a.Store.Alert()})
}

// Item handlers

func (a *InventoryAPI) ListItems(c *gin.Context) {
	if q, ok := c.GetQuery("q"); ok {
		a.Store.SetSearchQuery(q)
	}
	if category, ok := c.GetQuery("category"); ok {
		a.Store.SetFilterCategory(category)
	}
	if raw, ok := c.GetQuery("stock"); ok {
		level, err := models.ParseStockLevel(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		a.Store.SetFilterStockLevel(level)
	}

	snap := a.Store.Snapshot()
	c.JSON(http.StatusOK, gin.H{"items": snap.FilteredItems, "filter": snap.Filter, "total": len(snap.Items)})
}

func (a *InventoryAPI) CreateItem(c *gin.Context) {
	var fields models.ItemFields
	if err := c.ShouldBindJSON(&fields); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	item, err := a.Store.AddItem(c.Request.Context(), fields)
	if err != nil {
		a.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, item)
}

func (a *InventoryAPI) UpdateItem(c *gin.Context) {
	var fields models.ItemFields
	if err := c.ShouldBindJSON(&fields); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	item, err := a.Store.UpdateItem(c.Request.Context(), c.Param("id"), fields)
	if err != nil {
		a.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, item)
}

func (a *InventoryAPI) DeleteItem(c *gin.Context) {
	id := c.Param("id")
	if err := a.Store.DeleteItem(c.Request.Context(), id); err != nil {
		a.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "deleted", "id": id})
}

// View handlers

func (a *InventoryAPI) Refresh(c *gin.Context) {
	if err := a.Store.Refresh(c.Request.Context()); err != nil {
		a.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, a.Store.Snapshot())
}

func (a *InventoryAPI) ListCategories(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"categories": a.Store.Categories()})
}

func (a *InventoryAPI) LowStockAlert(c *gin.Context) {
	c.JSON(http.StatusOK, a.Store.Alert())
}

func (a *InventoryAPI) State(c *gin.Context) {
	resp := gin.H{"state": a.Store.Snapshot(), "session": a.Session.Status()}
	if a.Monitor != nil {
		resp["sync"] = a.Monitor.Facts()
	}
	c.JSON(http.StatusOK, resp)
}

// respondError maps the error taxonomy onto status codes
func (a *InventoryAPI) respondError(c *gin.Context, err error) {
	var (
		ve *models.ValidationError
		ae *models.AuthError
		nf *models.NotFoundError
		te *models.TransportError
	)
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"error": ve.Error(), "fields": ve.Fields})
	case errors.As(err, &ae):
		c.JSON(http.StatusUnauthorized, gin.H{"error": ae.Error()})
	case errors.As(err, &nf):
		c.JSON(http.StatusNotFound, gin.H{"error": nf.Error()})
	case errors.As(err, &te) && te.Unauthorized():
		c.JSON(http.StatusUnauthorized, gin.H{"error": te.Error()})
	case errors.As(err, &te):
		c.JSON(http.StatusBadGateway, gin.H{"error": te.Error()})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		logger.Info("request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
