package mcp

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/case-engine/pkg/logging"
)

// ToolCallEvent is one audited tool invocation.
type ToolCallEvent struct {
	Tool           string         `json:"tool"`
	ConversationID string         `json:"conversation_id,omitempty"`
	TurnID         string         `json:"turn_id,omitempty"`
	Successful     bool           `json:"successful"`
	Status         string         `json:"status,omitempty"`
	ErrorCode      string         `json:"error_code,omitempty"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	Duration       time.Duration  `json:"duration"`
	Params         map[string]any `json:"params,omitempty"`
}

// AuditSink receives audit events. Record must not block.
type AuditSink interface {
	Record(event ToolCallEvent)
}

// AuditLogger turns mcp-go hook callbacks into tool call events.
type AuditLogger struct {
	logger *zap.Logger
	sink   AuditSink

	// startTimes tracks when tool calls begin, keyed by request ID.
	startTimes sync.Map
}

// NewAuditLogger creates an AuditLogger. Events are always logged; sink may be nil.
func NewAuditLogger(sink AuditSink, logger *zap.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger.Named("mcp-audit"),
		sink:   sink,
	}
}

// Hooks returns mcp-go Hooks configured to capture tool call events.
func (a *AuditLogger) Hooks() *server.Hooks {
	hooks := &server.Hooks{}
	hooks.AddBeforeCallTool(a.beforeCallTool)
	hooks.AddAfterCallTool(a.afterCallTool)
	hooks.AddOnError(a.onError)
	return hooks
}

func (a *AuditLogger) beforeCallTool(_ context.Context, id any, _ *mcplib.CallToolRequest) {
	a.startTimes.Store(id, time.Now())
}

func (a *AuditLogger) afterCallTool(_ context.Context, id any, req *mcplib.CallToolRequest, result *mcplib.CallToolResult) {
	event := a.buildEvent(id, req)
	event.Successful = result == nil || !result.IsError
	summarizeResult(&event, result)
	a.record(event)
}

func (a *AuditLogger) onError(_ context.Context, id any, method mcplib.MCPMethod, message any, err error) {
	if method != mcplib.MethodToolsCall {
		return
	}
	req, ok := message.(*mcplib.CallToolRequest)
	if !ok {
		return
	}

	event := a.buildEvent(id, req)
	event.ErrorCode = "internal"
	event.ErrorMessage = logging.SanitizeError(err)
	a.record(event)
}

func (a *AuditLogger) loadAndDeleteStart(id any) time.Time {
	if v, ok := a.startTimes.LoadAndDelete(id); ok {
		return v.(time.Time)
	}
	return time.Now()
}

func (a *AuditLogger) buildEvent(id any, req *mcplib.CallToolRequest) ToolCallEvent {
	event := ToolCallEvent{
		Tool:     req.Params.Name,
		Duration: time.Since(a.loadAndDeleteStart(id)),
		Params:   sanitizeParams(req.Params.Arguments),
	}
	if args, ok := req.Params.Arguments.(map[string]any); ok {
		event.ConversationID, _ = args["conversation_id"].(string)
		event.TurnID, _ = args["turn_id"].(string)
	}
	return event
}

func (a *AuditLogger) record(event ToolCallEvent) {
	fields := []zap.Field{
		zap.String("tool", event.Tool),
		zap.String("conversation_id", event.ConversationID),
		zap.String("turn_id", event.TurnID),
		zap.Bool("successful", event.Successful),
		zap.Duration("duration", event.Duration),
	}
	if event.Status != "" {
		fields = append(fields, zap.String("status", event.Status))
	}
	if event.ErrorCode != "" {
		fields = append(fields, zap.String("error_code", event.ErrorCode), zap.String("error_message", event.ErrorMessage))
	}
	a.logger.Info("MCP tool call", fields...)

	if a.sink != nil {
		a.sink.Record(event)
	}
}

// sensitiveKeys are argument names whose values are hashed, never stored.
var sensitiveKeys = []string{"password", "secret", "token", "api_key", "apikey", "credential"}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, k := range sensitiveKeys {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// sanitizeParams copies request arguments with sensitive values hashed and
// long strings truncated.
func sanitizeParams(args any) map[string]any {
	params, ok := args.(map[string]any)
	if !ok || len(params) == 0 {
		return nil
	}

	sanitized := make(map[string]any, len(params))
	for k, v := range params {
		sanitized[k] = sanitizeValue(k, v)
	}
	return sanitized
}

func sanitizeValue(key string, value any) any {
	if isSensitiveKey(key) {
		return hashSensitiveValue(value)
	}

	switch val := value.(type) {
	case string:
		return logging.TruncateString(val, maxParamLength)
	case map[string]any:
		return sanitizeParams(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = sanitizeValue(key, item)
		}
		return out
	default:
		return value
	}
}

const maxParamLength = 1024

// hashSensitiveValue returns a SHA-256 prefix so entries can be correlated
// without storing the value.
func hashSensitiveValue(value any) string {
	var str string
	switch v := value.(type) {
	case string:
		str = v
	default:
		str = fmt.Sprintf("%v", v)
	}
	hash := sha256.Sum256([]byte(str))
	return "sha256:" + hex.EncodeToString(hash[:8])
}

// summarizeResult copies the outcome status or error code from a tool's JSON result.
func summarizeResult(event *ToolCallEvent, result *mcplib.CallToolResult) {
	if result == nil {
		return
	}
	for _, c := range result.Content {
		tc, ok := c.(mcplib.TextContent)
		if !ok {
			continue
		}
		var partial struct {
			Status  string `json:"status"`
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal([]byte(tc.Text), &partial); err != nil {
			return
		}
		event.Status = partial.Status
		if result.IsError {
			event.ErrorCode = partial.Code
			event.ErrorMessage = partial.Message
		}
		return
	}
}
