package cmd

import (
	"context"
	"encoding/json"

	"firestige.xyz/tsnstream/internal/command"
	"firestige.xyz/tsnstream/internal/hal"
	"firestige.xyz/tsnstream/internal/stream"
)

// Client is the daemon view the commands need. *command.UDSClient
// implements it; tests substitute a mock.
type Client interface {
	Status(ctx context.Context) (*command.StatusResult, error)
	Shutdown(ctx context.Context) error
	ConfigReload(ctx context.Context) (*command.ReloadResult, error)
	StreamList(ctx context.Context) ([]stream.ID, error)
	StreamGet(ctx context.Context, id uint32) (*command.StreamResult, error)
	StreamStatus(ctx context.Context, id uint32) (json.RawMessage, error)
	CollectionList(ctx context.Context) ([]stream.CollectionID, error)
	CollectionGet(ctx context.Context, id uint32) (*command.CollectionResult, error)
	CollectionStatus(ctx context.Context, id uint32) (json.RawMessage, error)
	CountersGet(ctx context.Context, id uint32, collection bool) (*hal.IngressCounters, error)
	CountersClear(ctx context.Context, id uint32, collection bool) error
	CallInto(ctx context.Context, method string, params, out any) error
}

// newClient builds the client used by the commands.
var newClient = func() Client {
	return command.NewUDSClient(socketPath, callTimeout)
}

var _ Client = (*command.UDSClient)(nil)
