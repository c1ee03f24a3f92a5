// Package transport exposes the discovery core to presentation clients over
// a JSON API.
package transport

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	discoverhandler "github.com/clicko-app/agent-discovery/internal/transport/discover"
	locationhandler "github.com/clicko-app/agent-discovery/internal/transport/location"
	sessionhandler "github.com/clicko-app/agent-discovery/internal/transport/session"
)

// Handlers groups the per-resource handlers mounted under /api.
type Handlers struct {
	Discover *discoverhandler.Handler
	Location *locationhandler.Handler
	Session  *sessionhandler.Handler
}

func NewRouter(h Handlers, logger *slog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(RequestLogger(logger))
	r.Use(CORSMiddleware())

	api := r.Group("/api")

	h.Discover.Register(api)
	h.Location.Register(api)
	h.Session.Register(api.Group("/session"))

	return r
}
