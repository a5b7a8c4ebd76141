package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/cartstore/internal/auth"
	"github.com/vladislavdragonenkov/cartstore/internal/domain"
	"github.com/vladislavdragonenkov/cartstore/internal/service/cart"
)

const (
	defaultEventsBuffer = 16
	defaultHeartbeat    = 25 * time.Second
)

// Dependencies — сервисы, поверх которых работает HTTP API.
// Catalog и Session необязательны: без них соответствующие маршруты отвечают 503.
type Dependencies struct {
	Store   *cart.Store
	Events  domain.Subscriber
	Catalog domain.CatalogService
	Session *auth.Session
	Logger  *log.Entry
}

// Config описывает настройки HTTP-слоя.
type Config struct {
	// AllowOrigins — разрешённые CORS-источники; пустой список отключает CORS middleware.
	AllowOrigins []string
	// EventsBuffer — размер очереди событий одного SSE-клиента.
	EventsBuffer int
	// Heartbeat — интервал комментариев keep-alive в SSE-потоке.
	Heartbeat time.Duration
}

// Handler обслуживает REST API корзины, каталога и аутентификации.
type Handler struct {
	store   *cart.Store
	events  domain.Subscriber
	catalog domain.CatalogService
	session *auth.Session
	logger  *log.Entry

	eventsBuffer int
	heartbeat    time.Duration
	now          func() time.Time
}

// NewHandler конструирует обработчик с зависимостями.
func NewHandler(deps Dependencies, cfg Config) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = log.WithField("component", "http-api")
	}
	if cfg.EventsBuffer <= 0 {
		cfg.EventsBuffer = defaultEventsBuffer
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = defaultHeartbeat
	}
	return &Handler{
		store:        deps.Store,
		events:       deps.Events,
		catalog:      deps.Catalog,
		session:      deps.Session,
		logger:       logger,
		eventsBuffer: cfg.EventsBuffer,
		heartbeat:    cfg.Heartbeat,
		now:          time.Now,
	}
}

// NewRouter собирает gin.Engine со всеми маршрутами /api.
func NewRouter(deps Dependencies, cfg Config) *gin.Engine {
	h := NewHandler(deps, cfg)

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(h.logger))
	if len(cfg.AllowOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.AllowOrigins,
			AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Cache-Control"},
			ExposeHeaders:    []string{"Content-Length"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	h.Register(r)
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})
	return r
}

// Register добавляет маршруты в роутер.
func (h *Handler) Register(r gin.IRouter) {
	api := r.Group("/api")
	{
		api.GET("/cart", h.GetCart)
		api.GET("/cart/summary", h.GetSummary)
		api.POST("/cart/items", h.AddItem)
		api.POST("/cart/items/:id/decrease", h.DecreaseItem)
		api.DELETE("/cart/items/:id", h.RemoveItem)
		api.DELETE("/cart", h.ClearCart)
		api.GET("/cart/events", h.StreamEvents)

		api.GET("/products", h.ListProducts)
		api.GET("/products/:id", h.GetProduct)

		api.POST("/auth/login", h.Login)
		api.POST("/auth/signup", h.Signup)
		api.POST("/auth/logout", h.Logout)
		api.GET("/auth/me", h.Me)
	}
}

// requestLogger пишет одну запись на запрос.
func requestLogger(logger *log.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := logger.WithFields(log.Fields{
			"method":     c.Request.Method,
			"path":       c.FullPath(),
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
		})
		if len(c.Errors) > 0 {
			entry.WithError(c.Errors.Last()).Warn("http request failed")
			return
		}
		entry.Debug("http request")
	}
}
