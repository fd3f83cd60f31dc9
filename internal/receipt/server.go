package receipt

import (
	"net/http"
	"strings"
)

// ServerConfig holds the upload gate applied at the HTTP boundary
type ServerConfig struct {
	// MaxUploadSize is the largest accepted file in bytes.
	MaxUploadSize int64
	// AllowedExtensions are lower-case and without the dot, e.g. "jpg".
	AllowedExtensions []string
}

// DefaultServerConfig matches the defaults of the command line.
var DefaultServerConfig = ServerConfig{
	MaxUploadSize:     5 << 20,
	AllowedExtensions: []string{"jpg", "jpeg", "png", "pdf"},
}

// Server handles HTTP requests for receipts
type Server struct {
	service *Service
	cfg     ServerConfig
	mux     *http.ServeMux
}

// NewServer creates a new Server with default mux
func NewServer(service *Service, cfg ServerConfig) *Server {
	return NewServerWithMux(service, cfg, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, cfg ServerConfig, mux *http.ServeMux) *Server {
	if cfg.MaxUploadSize <= 0 {
		cfg.MaxUploadSize = DefaultServerConfig.MaxUploadSize
	}
	exts := cfg.AllowedExtensions
	if len(exts) == 0 {
		exts = DefaultServerConfig.AllowedExtensions
	}
	cfg.AllowedExtensions = make([]string, 0, len(exts))
	for _, ext := range exts {
		cfg.AllowedExtensions = append(cfg.AllowedExtensions, strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), ".")))
	}

	s := &Server{
		service: service,
		cfg:     cfg,
		mux:     mux,
	}
	s.registerRoutes()
	return s
}

// corsMiddleware adds CORS headers to responses
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)

		// Handle preflight OPTIONS requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// registerRoutes registers all routes on the server's mux.
// More specific patterns win regardless of order, but keep them first for readability.
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /api/upload", s.handleUpload)
	s.mux.HandleFunc("GET /api/search", s.handleSearch)

	s.mux.HandleFunc("GET /api/receipts/{id}/file", s.handleGetReceiptFile)
	s.mux.HandleFunc("POST /api/receipts/{id}/reindex", s.handleReindexReceipt)
	s.mux.HandleFunc("GET /api/receipts/{id}", s.handleGetReceipt)
	s.mux.HandleFunc("DELETE /api/receipts/{id}", s.handleDeleteReceipt)
	s.mux.HandleFunc("GET /api/receipts", s.handleListReceipts)

	s.mux.HandleFunc("GET /api/export/receipts.xlsx", s.handleExport)
	s.mux.HandleFunc("GET /health", s.handleHealth)

	// Static HTML interface (catch-all)
	s.mux.HandleFunc("GET /index.html", s.handleIndex)
	s.mux.HandleFunc("GET /{$}", s.handleIndex)
}

// Handler returns the mux wrapped with the CORS middleware
func (s *Server) Handler() http.Handler {
	return s.corsMiddleware(s.mux)
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Handler().ServeHTTP(w, r)
}
