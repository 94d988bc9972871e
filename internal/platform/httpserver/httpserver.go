package httpserver

import (
	"net/http"
	"time"

	"certledger/internal/platform/config"
)

// New builds the API server. Read and write deadlines leave room for
// base64 artifact uploads on issuance.
func New(cfg config.Server, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       2 * time.Minute,
		MaxHeaderBytes:    64 << 10,
	}
}
