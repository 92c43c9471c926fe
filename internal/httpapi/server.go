package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/Stig-Johnny/pushbullet-sms-mcp/internal/metrics"
	"github.com/Stig-Johnny/pushbullet-sms-mcp/internal/sms"
)

const (
	defaultRecentLimit  = 10
	defaultThreadsLimit = 20
	defaultWaitSeconds  = 60
	maxBodyBytes        = 64 << 10
)

// Server exposes the tool-style operations over JSON HTTP. It is the thin
// external caller of the core: argument parsing, schema validation, and
// result formatting live here and nowhere else.
type Server struct {
	engine  *sms.Engine
	waiter  *sms.Waiter
	logger  zerolog.Logger
	router  *chi.Mux
	schemas map[string]*jsonschema.Schema
}

func NewServer(engine *sms.Engine, waiter *sms.Waiter, logger zerolog.Logger) (*Server, error) {
	schemas, err := compileToolSchemas()
	if err != nil {
		return nil, err
	}
	s := &Server{
		engine:  engine,
		waiter:  waiter,
		logger:  logger,
		schemas: schemas,
	}
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(requestLogger(logger))
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/v1/tools/{tool}", s.handleTool)
	s.router = r
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// requestLogger logs one line per completed request.
func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				logger.Info().
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", ww.Status()).
					Dur("latency", time.Since(start)).
					Str("request_id", chimw.GetReqID(r.Context())).
					Msg("request completed")
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

func (s *Server) handleTool(w http.ResponseWriter, r *http.Request) {
	tool := chi.URLParam(r, "tool")
	invocationID := uuid.NewString()
	logger := s.logger.With().Str("tool", tool).Str("invocation_id", invocationID).Logger()

	// Any panic below becomes a structured error result, never a crash or
	// a raw stack trace.
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error().Interface("panic", rec).Msg("tool handler panicked")
			metrics.ToolCalls.WithLabelValues(tool, "error").Inc()
			writeError(w, http.StatusInternalServerError, "internal_error",
				"unexpected failure while handling the tool call", invocationID)
		}
	}()

	schema, ok := s.schemas[tool]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown_tool", fmt.Sprintf("unknown tool %q", tool), invocationID)
		return
	}

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_arguments", "could not read request body", invocationID)
		return
	}
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	args, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_arguments", "request body is not valid JSON", invocationID)
		return
	}
	if err := schema.Validate(args); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_arguments", err.Error(), invocationID)
		return
	}

	switch tool {
	case "get_recent_sms":
		s.handleGetRecent(w, r, raw)
	case "wait_for_sms":
		s.handleWait(w, r, raw)
	case "extract_code_from_sms":
		s.handleExtractCode(w, r, raw)
	case "get_sms_status":
		writeJSON(w, http.StatusOK, s.engine.Status())
	case "fetch_sms_threads":
		s.handleFetchThreads(w, r, raw)
	}
	metrics.ToolCalls.WithLabelValues(tool, "ok").Inc()
}

func (s *Server) handleGetRecent(w http.ResponseWriter, _ *http.Request, raw []byte) {
	var args struct {
		Limit  int    `json:"limit"`
		Sender string `json:"sender"`
	}
	_ = json.Unmarshal(raw, &args)
	if args.Limit <= 0 {
		args.Limit = defaultRecentLimit
	}
	msgs := s.engine.Store().List(args.Limit, args.Sender)
	status := s.engine.Status()
	if len(msgs) == 0 {
		writeJSON(w, http.StatusOK, toolResult{
			Result: fmt.Sprintf("No SMS messages found. Stream connected: %t. Stored messages: %d.",
				status.Connected, status.StoredCount),
		})
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Showing %d of %d stored messages (stream connected: %t):\n",
		len(msgs), status.StoredCount, status.Connected)
	for _, msg := range msgs {
		b.WriteString(formatMessage(msg))
		b.WriteByte('\n')
	}
	writeJSON(w, http.StatusOK, toolResult{Result: strings.TrimRight(b.String(), "\n"), Messages: msgs})
}

func (s *Server) handleWait(w http.ResponseWriter, r *http.Request, raw []byte) {
	var args struct {
		TimeoutSeconds int    `json:"timeout_seconds"`
		Sender         string `json:"sender"`
		Contains       string `json:"contains"`
		HasCode        bool   `json:"has_code"`
	}
	_ = json.Unmarshal(raw, &args)
	if args.TimeoutSeconds <= 0 {
		args.TimeoutSeconds = defaultWaitSeconds
	}
	filter := sms.Filter{Sender: args.Sender, Contains: args.Contains, HasCode: args.HasCode}
	msg, ok := s.waiter.WaitFor(r.Context(), filter, time.Duration(args.TimeoutSeconds)*time.Second)
	if !ok {
		writeJSON(w, http.StatusOK, toolResult{
			Result: fmt.Sprintf("Timed out after %ds waiting for a matching SMS.", args.TimeoutSeconds),
		})
		return
	}
	result := toolResult{Result: formatMessage(msg), Messages: []sms.Message{msg}}
	if code, found := sms.ExtractCode(msg.Body); found {
		result.Code = code
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleExtractCode(w http.ResponseWriter, _ *http.Request, raw []byte) {
	var args struct {
		Text string `json:"text"`
	}
	_ = json.Unmarshal(raw, &args)
	code, found := sms.ExtractCode(args.Text)
	if !found {
		writeJSON(w, http.StatusOK, toolResult{Result: "No verification code found."})
		return
	}
	writeJSON(w, http.StatusOK, toolResult{Result: code, Code: code})
}

func (s *Server) handleFetchThreads(w http.ResponseWriter, r *http.Request, raw []byte) {
	var args struct {
		Limit int `json:"limit"`
	}
	_ = json.Unmarshal(raw, &args)
	if args.Limit <= 0 {
		args.Limit = defaultThreadsLimit
	}
	msgs := s.engine.Poll().FetchThreadsSnapshot(r.Context(), args.Limit)
	if len(msgs) == 0 {
		writeJSON(w, http.StatusOK, toolResult{Result: "No SMS threads found."})
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Fetched %d thread messages:\n", len(msgs))
	for _, msg := range msgs {
		b.WriteString(formatMessage(msg))
		b.WriteByte('\n')
	}
	writeJSON(w, http.StatusOK, toolResult{Result: strings.TrimRight(b.String(), "\n"), Messages: msgs})
}

type toolResult struct {
	Result   string        `json:"result"`
	Code     string        `json:"code,omitempty"`
	Messages []sms.Message `json:"messages,omitempty"`
}

func formatMessage(msg sms.Message) string {
	line := fmt.Sprintf("[%s] From %s: %s", msg.ISOTimestamp(), msg.Sender, msg.Body)
	if code, found := sms.ExtractCode(msg.Body); found {
		line += fmt.Sprintf(" (code: %s)", code)
	}
	return line
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message, invocationID string) {
	writeJSON(w, status, map[string]string{
		"code":         code,
		"message":      message,
		"invocationId": invocationID,
	})
}
