package api

import (
	_ "embed"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"

	"github.com/AnathPKI/anath-server-sub001/issuance"
	"github.com/AnathPKI/anath-server-sub001/pki"
	"github.com/AnathPKI/anath-server-sub001/revocation"
	"github.com/AnathPKI/anath-server-sub001/storage"
)

//go:embed openapi.yaml
var openapiSpec []byte

// API holds the dependencies needed by the REST handlers.
type API struct {
	workflow    *issuance.Workflow
	adminEngine *pki.SigningEngine
	certs       storage.CertificateStore
	revoker     *revocation.Engine
	crl         *revocation.Builder
	ca          *pki.CertificateAuthority
	tokenTTL    time.Duration
	logger      *slog.Logger
}

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger. If not set, a default JSON logger
// writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) { a.logger = logger }
}

// New creates a new API instance. workflow drives the two-phase self-service
// flow; adminEngine signs without the confirmation round-trip and typically
// carries a less strict constraint chain.
func New(
	workflow *issuance.Workflow,
	adminEngine *pki.SigningEngine,
	certs storage.CertificateStore,
	revoker *revocation.Engine,
	crl *revocation.Builder,
	ca *pki.CertificateAuthority,
	tokenTTL time.Duration,
	opts ...Option,
) *API {
	a := &API{
		workflow:    workflow,
		adminEngine: adminEngine,
		certs:       certs,
		revoker:     revoker,
		crl:         crl,
		ca:          ca,
		tokenTTL:    tokenTTL,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	return a
}

// Router returns a chi.Router with all API routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/docs",
	}, nil))

	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/redoc",
	}, nil))

	// Public PKI distribution points.
	r.Get("/ca.pem", a.CACertificate)
	r.Get("/crl.pem", a.CRLPEM)
	r.Get("/crl.der", a.CRLDER)

	// Self-service issuance, bound to the authenticated principal.
	r.Route("/certificates", func(r chi.Router) {
		r.Use(a.PrincipalMiddleware)
		r.Post("/", a.TentativelySign)
		r.Post("/confirm/{token}", a.ConfirmSign)
		r.Get("/", a.ListOwnCertificates)
		r.Get("/{serial}", a.GetOwnCertificate)
		r.Post("/{serial}/revoke", a.RevokeOwnCertificate)
	})

	// Administrative operations. The reverse proxy in front of the service
	// restricts this subtree to administrators.
	r.Route("/admin", func(r chi.Router) {
		r.Post("/certificates", a.AdminSign)
		r.Post("/certificates/{serial}/revoke", a.AdminRevokeCertificate)
		r.Get("/users/{userID}/certificates", a.AdminListCertificates)
		r.Post("/users/{userID}/revoke", a.AdminRevokeUser)
		r.Delete("/users/{userID}", a.AdminDeleteUser)
	})

	return r
}
