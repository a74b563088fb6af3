package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	rh "github.com/kerbrat/veilleur/route-handlers"
	"github.com/kerbrat/veilleur/webutil"
)

const (
	apiBasePath       = "/api"
	campaignsBasePath = "/campaigns"
	paramID           = "id"
)

// SetupRoutes builds the operations router: health check plus the
// read-only campaign state endpoints the dashboard layer consumes.
func SetupRoutes(campaignHandler *rh.CampaignHandler) http.Handler {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(SetHeader(webutil.HeaderContentType, webutil.ContentTypeJSONUTF8))

	r.Route(apiBasePath, func(r chi.Router) {
		r.Route(campaignsBasePath, func(r chi.Router) {
			r.Get("/", webutil.MakeHandler(campaignHandler.HandleGetCampaigns))
			r.Get("/{"+paramID+"}", webutil.MakeHandler(campaignHandler.HandleGetCampaign))
		})
	})

	r.Get("/healthz", handleHealthCheck)

	return r
}

// handleHealthCheck responds to a health check request.
func handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set(webutil.HeaderContentType, webutil.ContentTypeTextPlainUTF8)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// SetHeader is a middleware to set a response header.
func SetHeader(key, value string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set(key, value)
			next.ServeHTTP(w, r)
		})
	}
}
