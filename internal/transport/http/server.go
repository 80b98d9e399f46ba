package http

import (
	"time"

	"github.com/gin-gonic/gin"

	"docsense/internal/bootstrap"
	"docsense/internal/transport/http/handler"
	"docsense/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	// Multipart bodies beyond this are spooled to disk by net/http.
	router.MaxMultipartMemory = app.Config.Pipeline.MaxFileSizeBytes + 1<<20

	healthHandler := handler.NewHealthHandler(app)
	router.GET("/healthz", healthHandler.Check)

	documentHandler := handler.NewDocumentHandler(
		app.Documents,
		app.Config.Pipeline.MaxFileSizeBytes,
		time.Duration(app.Config.Storage.SignedURLTTLMinutes)*time.Minute,
	)
	RegisterDocumentRoutes(router.Group("/api/v1"), documentHandler, app.Config.Auth.JWTSecret)

	return router
}

// RegisterDocumentRoutes mounts the document endpoints under group.
func RegisterDocumentRoutes(group *gin.RouterGroup, h *handler.DocumentHandler, jwtSecret string) {
	documents := group.Group("/documents")
	documents.Use(middleware.AuthJWT(jwtSecret))
	documents.POST("", h.Enqueue)
	documents.POST("/upload", h.Upload)
	documents.GET("", h.List)
	documents.GET("/:id", h.Get)
	documents.GET("/:id/chunks", h.Chunks)
	documents.POST("/:id/process", h.Process)
	documents.GET("/:id/signed-url", h.SignedURL)
	documents.DELETE("/:id", h.Delete)
}
