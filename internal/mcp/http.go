package mcp

import (
	"encoding/json"
	"io"
	"log/slog"
	"mime"
	"net/http"
)

// maxHTTPBodyBytes bounds a single JSON-RPC request body. Large tool payloads fit
// comfortably; anything bigger is a client bug or abuse.
const maxHTTPBodyBytes = 4 << 20

// HTTPHandler returns an http.Handler exposing the engine over plain HTTP POST.
//
// The surface is deliberately small: POST /mcp carries one JSON-RPC message per
// request and GET /health reports liveness. All HTTP requests share one dispatcher, so
// the handshake performed by the first client holds for the server's lifetime.
// JSON-RPC failures are proper responses, not transport failures, and travel with
// HTTP 200; only transport-level misuse gets a non-2xx status.
func (s *Server) HTTPHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/mcp", s.handleHTTPMessage)
	mux.HandleFunc("/health", s.handleHTTPHealth)
	return mux
}

func (s *Server) handleHTTPMessage(w http.ResponseWriter, r *http.Request) {
	writeCORSHeaders(w)

	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodPost:
	default:
		w.Header().Set("Allow", "POST, OPTIONS")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	contentType := r.Header.Get("Content-Type")
	if contentType != "" {
		mediaType, _, err := mime.ParseMediaType(contentType)
		if err != nil || mediaType != "application/json" {
			http.Error(w, "unsupported media type, expected application/json",
				http.StatusUnsupportedMediaType)
			return
		}
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxHTTPBodyBytes+1))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	if len(body) > maxHTTPBodyBytes {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	resp := s.httpDispatcher().Handle(r.Context(), body)
	if resp == nil {
		// Notifications have no reply.
		w.WriteHeader(http.StatusAccepted)
		return
	}

	respBs, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("failed to marshal http response",
			slog.String("err", err.Error()))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(respBs); err != nil {
		s.logger.Error("failed to write http response",
			slog.String("err", err.Error()))
	}
}

func (s *Server) handleHTTPHealth(w http.ResponseWriter, r *http.Request) {
	writeCORSHeaders(w)

	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tools := make([]string, 0, s.registry.Len())
	for _, tool := range s.registry.List() {
		tools = append(tools, tool.Name)
	}

	w.Header().Set("Content-Type", "application/json")
	body := map[string]any{
		"status":  "ok",
		"server":  s.info.Name,
		"version": s.info.Version,
		"tools":   tools,
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("failed to write health response",
			slog.String("err", err.Error()))
	}
}

func writeCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}
