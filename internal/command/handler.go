// Package command implements the local control channel.
package command

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"firestige.xyz/tsnstream/internal/errors"
	"firestige.xyz/tsnstream/internal/eventbus"
	"firestige.xyz/tsnstream/internal/metrics"
	"firestige.xyz/tsnstream/internal/stream"
)

// Version is reported by daemon_status. It is set at build time.
var Version = "dev"

// CommandHandler handles control plane commands.
type CommandHandler struct {
	engine         *stream.Engine
	configReloader ConfigReloader
	bus            eventbus.EventBus
	shutdownFunc   func() // Called by daemon_shutdown to trigger graceful stop
	startTime      time.Time
	node           string
}

// ConfigReloader is the interface for reloading global configuration.
type ConfigReloader interface {
	Reload() (*ReloadResult, error)
}

// ReloadResult reports what a reload changed.
type ReloadResult struct {
	RequiresRestart []string `json:"requires_restart,omitempty"`
	LogChanged      bool     `json:"log_changed"`
	Replayed        bool     `json:"replayed"`
	Streams         int      `json:"streams"`
	Collections     int      `json:"collections"`
	Skipped         []string `json:"skipped,omitempty"`
}

// NewCommandHandler creates a new command handler.
func NewCommandHandler(engine *stream.Engine, reloader ConfigReloader) *CommandHandler {
	return &CommandHandler{
		engine:         engine,
		configReloader: reloader,
		startTime:      time.Now(),
	}
}

// SetShutdownFunc sets the callback invoked by the daemon_shutdown command.
func (h *CommandHandler) SetShutdownFunc(fn func()) {
	h.shutdownFunc = fn
}

// SetNode sets the node name reported by daemon_status.
func (h *CommandHandler) SetNode(node string) {
	h.node = node
}

// SetEventBus lets daemon_status report bus counters.
func (h *CommandHandler) SetEventBus(bus eventbus.EventBus) {
	h.bus = bus
}

// Command represents a control plane command.
type Command struct {
	Method string          `json:"method"` // e.g., "stream_get", "counters_clear"
	Params json.RawMessage `json:"params"` // command-specific parameters
	ID     string          `json:"id"`     // request ID for tracking
}

// Response represents a command response.
type Response struct {
	ID     string     `json:"id"`               // matches request ID
	Result any        `json:"result,omitempty"` // success result
	Error  *ErrorInfo `json:"error,omitempty"`  // error info if failed
}

// ErrorInfo represents an error in the response.
type ErrorInfo struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

func (e *ErrorInfo) Error() string {
	return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
}

// Error codes
const (
	ErrCodeParseError     = -32700 // Invalid JSON
	ErrCodeInvalidRequest = -32600 // Invalid request object
	ErrCodeMethodNotFound = -32601 // Method not found
	ErrCodeInvalidParams  = -32602 // Invalid method parameters
	ErrCodeInternalError  = -32603 // Internal error
	ErrCodeNotFound       = -32004 // Object does not exist
	ErrCodeConflict       = -32009 // Object state conflict
)

// Method names.
const (
	MethodDaemonStatus     = "daemon_status"
	MethodDaemonShutdown   = "daemon_shutdown"
	MethodConfigReload     = "config_reload"
	MethodCapabilities     = "capabilities"
	MethodStreamList       = "stream_list"
	MethodStreamGet        = "stream_get"
	MethodStreamStatus     = "stream_status"
	MethodCollectionList   = "collection_list"
	MethodCollectionGet    = "collection_get"
	MethodCollectionStatus = "collection_status"
	MethodCountersGet      = "counters_get"
	MethodCountersClear    = "counters_clear"
	MethodDebugRules       = "debug_rules"
	MethodDebugFlows       = "debug_flows"
	MethodDebugStatistics  = "debug_statistics"
	MethodNotifications    = "notifications"
)

// IDParams selects one stream or collection.
type IDParams struct {
	ID uint32 `json:"id"`
}

// IDsParams selects streams for a debug dump. No ids means all streams.
type IDsParams struct {
	IDs []uint32 `json:"ids,omitempty"`
}

// CountersParams selects the counters of a stream or of a collection.
type CountersParams struct {
	ID         uint32 `json:"id"`
	Collection bool   `json:"collection,omitempty"`
}

// StreamResult is the result of stream_get.
type StreamResult struct {
	ID   uint32         `json:"id"`
	Conf stream.ConfDoc `json:"conf"`
}

// CollectionResult is the result of collection_get.
type CollectionResult struct {
	ID        uint32      `json:"id"`
	StreamIDs []stream.ID `json:"stream_ids"`
}

// StatusResult is the result of daemon_status.
type StatusResult struct {
	Version   string          `json:"version"`
	Node      string          `json:"node"`
	PID       int             `json:"pid"`
	UptimeSec int64           `json:"uptime_sec"`
	Engine    stream.Stats    `json:"engine"`
	EventBus  *eventbus.Stats `json:"eventbus,omitempty"`
}

// Handle processes a command and returns a response.
func (h *CommandHandler) Handle(ctx context.Context, cmd Command) Response {
	slog.Debug("handling command", "method", cmd.Method, "id", cmd.ID)
	start := time.Now()

	resp := h.dispatch(ctx, cmd)

	result := metrics.ResultOK
	if resp.Error != nil {
		result = metrics.ResultError
	}
	if resp.Error == nil || resp.Error.Code != ErrCodeMethodNotFound {
		metrics.ControlRequestsTotal.WithLabelValues(cmd.Method, result).Inc()
		metrics.ControlLatencySeconds.WithLabelValues(cmd.Method).Observe(time.Since(start).Seconds())
	}
	return resp
}

func (h *CommandHandler) dispatch(ctx context.Context, cmd Command) Response {
	switch cmd.Method {
	case MethodDaemonStatus:
		return h.handleDaemonStatus(ctx, cmd)
	case MethodDaemonShutdown:
		return h.handleDaemonShutdown(ctx, cmd)
	case MethodConfigReload:
		return h.handleConfigReload(ctx, cmd)
	case MethodCapabilities:
		return success(cmd, h.engine.CapabilitiesGet())
	case MethodStreamList:
		return success(cmd, map[string]any{"ids": h.engine.StreamIDs()})
	case MethodStreamGet:
		return h.handleStreamGet(ctx, cmd)
	case MethodStreamStatus:
		return h.handleStreamStatus(ctx, cmd)
	case MethodCollectionList:
		return success(cmd, map[string]any{"ids": h.engine.CollectionIDs()})
	case MethodCollectionGet:
		return h.handleCollectionGet(ctx, cmd)
	case MethodCollectionStatus:
		return h.handleCollectionStatus(ctx, cmd)
	case MethodCountersGet:
		return h.handleCountersGet(ctx, cmd)
	case MethodCountersClear:
		return h.handleCountersClear(ctx, cmd)
	case MethodDebugRules, MethodDebugFlows, MethodDebugStatistics:
		return h.handleDebug(ctx, cmd)
	case MethodNotifications:
		return success(cmd, h.engine.Notifications())
	default:
		return Response{
			ID: cmd.ID,
			Error: &ErrorInfo{
				Code:    ErrCodeMethodNotFound,
				Message: fmt.Sprintf("method %q not found", cmd.Method),
			},
		}
	}
}

func success(cmd Command, result any) Response {
	return Response{ID: cmd.ID, Result: result}
}

func failure(cmd Command, code int, format string, args ...any) Response {
	return Response{
		ID: cmd.ID,
		Error: &ErrorInfo{
			Code:    code,
			Message: fmt.Sprintf(format, args...),
		},
	}
}

// engineFailure maps an engine error onto a response by its kind.
func engineFailure(cmd Command, err error) Response {
	info := &ErrorInfo{
		Code:    errorCode(err),
		Message: err.Error(),
		Data:    map[string]any{"kind": errors.GetKind(err).String()},
	}
	if c := stream.CodeOf(err); c != 0 {
		info.Data["code"] = int(c)
	}
	for k, v := range errors.GetAttributes(err) {
		info.Data[k] = v
	}
	return Response{ID: cmd.ID, Error: info}
}

// errorCode maps an error kind onto a JSON-RPC error code.
func errorCode(err error) int {
	switch errors.GetKind(err) {
	case errors.KindValidation:
		return ErrCodeInvalidParams
	case errors.KindNotFound:
		return ErrCodeNotFound
	case errors.KindConflict:
		return ErrCodeConflict
	}
	return ErrCodeInternalError
}

// decodeParams unmarshals params into v. Missing params leave v unchanged.
func decodeParams(cmd Command, v any) *Response {
	if len(cmd.Params) == 0 || string(cmd.Params) == "null" {
		return nil
	}
	if err := json.Unmarshal(cmd.Params, v); err != nil {
		resp := failure(cmd, ErrCodeInvalidParams, "invalid %s params: %v", cmd.Method, err)
		return &resp
	}
	return nil
}

// handleConfigReload handles config_reload command.
func (h *CommandHandler) handleConfigReload(_ context.Context, cmd Command) Response {
	if h.configReloader == nil {
		return failure(cmd, ErrCodeInternalError, "config reloader not available")
	}

	res, err := h.configReloader.Reload()
	if err != nil {
		return Response{
			ID: cmd.ID,
			Error: &ErrorInfo{
				Code:    errorCode(err),
				Message: fmt.Sprintf("reload config failed: %v", err),
			},
		}
	}
	return success(cmd, res)
}

// handleDaemonShutdown triggers graceful daemon shutdown via the registered callback.
func (h *CommandHandler) handleDaemonShutdown(_ context.Context, cmd Command) Response {
	if h.shutdownFunc == nil {
		return failure(cmd, ErrCodeInternalError, "shutdown handler not registered")
	}

	slog.Info("daemon_shutdown command received, initiating graceful shutdown")
	go h.shutdownFunc() // Non-blocking: let the response be sent first

	return success(cmd, map[string]any{"status": "shutting_down"})
}

// handleDaemonStatus returns daemon status information.
func (h *CommandHandler) handleDaemonStatus(_ context.Context, cmd Command) Response {
	res := StatusResult{
		Version:   Version,
		Node:      h.node,
		PID:       os.Getpid(),
		UptimeSec: int64(time.Since(h.startTime).Seconds()),
		Engine:    h.engine.Stats(),
	}
	if h.bus != nil {
		res.EventBus = h.bus.GetStats()
	}
	return success(cmd, res)
}

func (h *CommandHandler) handleStreamGet(_ context.Context, cmd Command) Response {
	var p IDParams
	if resp := decodeParams(cmd, &p); resp != nil {
		return *resp
	}
	conf, err := h.engine.StreamConfGet(stream.ID(p.ID))
	if err != nil {
		return engineFailure(cmd, err)
	}
	return success(cmd, StreamResult{ID: p.ID, Conf: conf.Doc()})
}

func (h *CommandHandler) handleStreamStatus(_ context.Context, cmd Command) Response {
	var p IDParams
	if resp := decodeParams(cmd, &p); resp != nil {
		return *resp
	}
	st, err := h.engine.StreamStatusGet(stream.ID(p.ID))
	if err != nil {
		return engineFailure(cmd, err)
	}
	return success(cmd, st)
}

func (h *CommandHandler) handleCollectionGet(_ context.Context, cmd Command) Response {
	var p IDParams
	if resp := decodeParams(cmd, &p); resp != nil {
		return *resp
	}
	conf, err := h.engine.CollectionConfGet(stream.CollectionID(p.ID))
	if err != nil {
		return engineFailure(cmd, err)
	}
	return success(cmd, CollectionResult{ID: p.ID, StreamIDs: conf.Members()})
}

func (h *CommandHandler) handleCollectionStatus(_ context.Context, cmd Command) Response {
	var p IDParams
	if resp := decodeParams(cmd, &p); resp != nil {
		return *resp
	}
	st, err := h.engine.CollectionStatusGet(stream.CollectionID(p.ID))
	if err != nil {
		return engineFailure(cmd, err)
	}
	return success(cmd, st)
}

func (h *CommandHandler) handleCountersGet(_ context.Context, cmd Command) Response {
	var p CountersParams
	if resp := decodeParams(cmd, &p); resp != nil {
		return *resp
	}
	var err error
	var res any
	if p.Collection {
		res, err = h.engine.CollectionCountersGet(stream.CollectionID(p.ID))
	} else {
		res, err = h.engine.CountersGet(stream.ID(p.ID))
	}
	if err != nil {
		return engineFailure(cmd, err)
	}
	return success(cmd, res)
}

func (h *CommandHandler) handleCountersClear(_ context.Context, cmd Command) Response {
	var p CountersParams
	if resp := decodeParams(cmd, &p); resp != nil {
		return *resp
	}
	var err error
	if p.Collection {
		err = h.engine.CollectionCountersClear(stream.CollectionID(p.ID))
	} else {
		err = h.engine.CountersClear(stream.ID(p.ID))
	}
	if err != nil {
		return engineFailure(cmd, err)
	}
	return success(cmd, map[string]any{"status": "cleared"})
}

func (h *CommandHandler) handleDebug(_ context.Context, cmd Command) Response {
	var p IDsParams
	if resp := decodeParams(cmd, &p); resp != nil {
		return *resp
	}
	ids := make([]stream.ID, len(p.IDs))
	for i, id := range p.IDs {
		ids[i] = stream.ID(id)
	}
	switch cmd.Method {
	case MethodDebugRules:
		return success(cmd, h.engine.DebugRules(ids))
	case MethodDebugFlows:
		return success(cmd, h.engine.DebugFlows(ids))
	}
	return success(cmd, h.engine.DebugStatistics(ids))
}
