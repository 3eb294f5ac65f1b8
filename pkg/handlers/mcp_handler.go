package handlers

import (
	"net/http"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/case-engine/pkg/mcp"
	"github.com/ekaya-inc/case-engine/pkg/middleware"
)

// maxMCPBody caps one JSON-RPC request. Draft hints are small.
const maxMCPBody = 1 << 20

// MCPHandler serves the automation tools over streamable HTTP.
type MCPHandler struct {
	transport *server.StreamableHTTPServer
	logger    *zap.Logger
}

// NewMCPHandler wraps mcpServer in a stateless HTTP transport.
func NewMCPHandler(mcpServer *mcp.Server, logger *zap.Logger) *MCPHandler {
	return &MCPHandler{
		transport: mcpServer.NewStreamableHTTPServer(),
		logger:    logger,
	}
}

// RegisterRoutes mounts the transport at /mcp. Only POST reaches the
// JSON-RPC layer.
func (h *MCPHandler) RegisterRoutes(mux *http.ServeMux) {
	logged := middleware.MCPRequestLogger(h.logger)(h.transport)
	mux.Handle("/mcp", postOnly(limitBody(logged, maxMCPBody)))
}

func postOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func limitBody(next http.Handler, n int64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, n)
		next.ServeHTTP(w, r)
	})
}
