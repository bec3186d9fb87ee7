package command

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"

	"firestige.xyz/tsnstream/internal/hal"
	"firestige.xyz/tsnstream/internal/stream"
)

// UDSClient is a JSON-RPC client over Unix Domain Socket.
type UDSClient struct {
	socketPath string
	timeout    time.Duration
}

// NewUDSClient creates a new UDS client.
func NewUDSClient(socketPath string, timeout time.Duration) *UDSClient {
	if timeout == 0 {
		timeout = 10 * time.Second // Default timeout
	}
	return &UDSClient{
		socketPath: socketPath,
		timeout:    timeout,
	}
}

// rawResponse keeps the result undecoded so callers can pick its type.
type rawResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorInfo      `json:"error,omitempty"`
}

// Call sends a command and waits for response.
func (c *UDSClient) Call(ctx context.Context, method string, params any) (*Response, error) {
	raw, err := c.roundTrip(ctx, method, params)
	if err != nil {
		return nil, err
	}
	resp := &Response{
		ID:    fmt.Sprintf("%v", raw.ID),
		Error: raw.Error,
	}
	if len(raw.Result) > 0 {
		var result any
		if err := json.Unmarshal(raw.Result, &result); err != nil {
			return nil, fmt.Errorf("failed to parse result: %w", err)
		}
		resp.Result = result
	}
	return resp, nil
}

// CallInto sends a command and decodes its result into out. A daemon side
// failure is returned as *ErrorInfo.
func (c *UDSClient) CallInto(ctx context.Context, method string, params, out any) error {
	raw, err := c.roundTrip(ctx, method, params)
	if err != nil {
		return err
	}
	if raw.Error != nil {
		return raw.Error
	}
	if out == nil || len(raw.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw.Result, out); err != nil {
		return fmt.Errorf("failed to parse %s result: %w", method, err)
	}
	return nil
}

func (c *UDSClient) roundTrip(ctx context.Context, method string, params any) (*rawResponse, error) {
	dialer := net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to socket %s: %w", c.socketPath, err)
	}
	defer conn.Close()

	// Set deadline
	deadline := time.Now().Add(c.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("failed to set deadline: %w", err)
	}

	// Marshal params
	var paramsJSON json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params: %w", err)
		}
		paramsJSON = data
	}

	reqID := uuid.NewString()
	req := JSONRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  paramsJSON,
		ID:      reqID,
	}

	// Send request
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	// Read response
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*maxRequestSize)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}
		return nil, fmt.Errorf("connection closed without response")
	}

	var raw rawResponse
	if err := json.Unmarshal(scanner.Bytes(), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	// Verify response ID matches (convert both to string for comparison)
	if respID := fmt.Sprintf("%v", raw.ID); respID != reqID {
		return nil, fmt.Errorf("response ID mismatch: expected %v, got %v", reqID, respID)
	}
	return &raw, nil
}

// Status is a convenience method for daemon_status.
func (c *UDSClient) Status(ctx context.Context) (*StatusResult, error) {
	var res StatusResult
	if err := c.CallInto(ctx, MethodDaemonStatus, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Shutdown asks the daemon to stop.
func (c *UDSClient) Shutdown(ctx context.Context) error {
	return c.CallInto(ctx, MethodDaemonShutdown, nil, nil)
}

// ConfigReload is a convenience method for config_reload command.
func (c *UDSClient) ConfigReload(ctx context.Context) (*ReloadResult, error) {
	var res ReloadResult
	if err := c.CallInto(ctx, MethodConfigReload, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// StreamList returns the configured stream ids.
func (c *UDSClient) StreamList(ctx context.Context) ([]stream.ID, error) {
	var res struct {
		IDs []stream.ID `json:"ids"`
	}
	if err := c.CallInto(ctx, MethodStreamList, nil, &res); err != nil {
		return nil, err
	}
	return res.IDs, nil
}

// StreamGet returns the configuration of one stream.
func (c *UDSClient) StreamGet(ctx context.Context, id uint32) (*StreamResult, error) {
	var res StreamResult
	if err := c.CallInto(ctx, MethodStreamGet, IDParams{ID: id}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// StreamStatus returns the status of one stream.
func (c *UDSClient) StreamStatus(ctx context.Context, id uint32) (json.RawMessage, error) {
	var res json.RawMessage
	if err := c.CallInto(ctx, MethodStreamStatus, IDParams{ID: id}, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// CollectionList returns the configured collection ids.
func (c *UDSClient) CollectionList(ctx context.Context) ([]stream.CollectionID, error) {
	var res struct {
		IDs []stream.CollectionID `json:"ids"`
	}
	if err := c.CallInto(ctx, MethodCollectionList, nil, &res); err != nil {
		return nil, err
	}
	return res.IDs, nil
}

// CollectionGet returns the member streams of one collection.
func (c *UDSClient) CollectionGet(ctx context.Context, id uint32) (*CollectionResult, error) {
	var res CollectionResult
	if err := c.CallInto(ctx, MethodCollectionGet, IDParams{ID: id}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// CountersGet reads the ingress counters of a stream or collection.
func (c *UDSClient) CountersGet(ctx context.Context, id uint32, collection bool) (*hal.IngressCounters, error) {
	var res hal.IngressCounters
	params := CountersParams{ID: id, Collection: collection}
	if err := c.CallInto(ctx, MethodCountersGet, params, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// CountersClear clears the ingress counters of a stream or collection.
func (c *UDSClient) CountersClear(ctx context.Context, id uint32, collection bool) error {
	return c.CallInto(ctx, MethodCountersClear, CountersParams{ID: id, Collection: collection}, nil)
}

// Ping checks that the daemon answers.
func (c *UDSClient) Ping(ctx context.Context) error {
	_, err := c.Status(ctx)
	return err
}

// CollectionStatus returns the status of one collection.
func (c *UDSClient) CollectionStatus(ctx context.Context, id uint32) (json.RawMessage, error) {
	var res json.RawMessage
	if err := c.CallInto(ctx, MethodCollectionStatus, IDParams{ID: id}, &res); err != nil {
		return nil, err
	}
	return res, nil
}
