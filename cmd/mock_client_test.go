package cmd

import (
	"context"
	"encoding/json"

	"github.com/stretchr/testify/mock"

	"firestige.xyz/tsnstream/internal/command"
	"firestige.xyz/tsnstream/internal/hal"
	"firestige.xyz/tsnstream/internal/stream"
)

// MockClient implements Client.
type MockClient struct {
	mock.Mock
}

func (m *MockClient) Status(ctx context.Context) (*command.StatusResult, error) {
	args := m.Called(ctx)
	res, _ := args.Get(0).(*command.StatusResult)
	return res, args.Error(1)
}

func (m *MockClient) Shutdown(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockClient) ConfigReload(ctx context.Context) (*command.ReloadResult, error) {
	args := m.Called(ctx)
	res, _ := args.Get(0).(*command.ReloadResult)
	return res, args.Error(1)
}

func (m *MockClient) StreamList(ctx context.Context) ([]stream.ID, error) {
	args := m.Called(ctx)
	res, _ := args.Get(0).([]stream.ID)
	return res, args.Error(1)
}

func (m *MockClient) StreamGet(ctx context.Context, id uint32) (*command.StreamResult, error) {
	args := m.Called(ctx, id)
	res, _ := args.Get(0).(*command.StreamResult)
	return res, args.Error(1)
}

func (m *MockClient) StreamStatus(ctx context.Context, id uint32) (json.RawMessage, error) {
	args := m.Called(ctx, id)
	res, _ := args.Get(0).(json.RawMessage)
	return res, args.Error(1)
}

func (m *MockClient) CollectionList(ctx context.Context) ([]stream.CollectionID, error) {
	args := m.Called(ctx)
	res, _ := args.Get(0).([]stream.CollectionID)
	return res, args.Error(1)
}

func (m *MockClient) CollectionGet(ctx context.Context, id uint32) (*command.CollectionResult, error) {
	args := m.Called(ctx, id)
	res, _ := args.Get(0).(*command.CollectionResult)
	return res, args.Error(1)
}

func (m *MockClient) CollectionStatus(ctx context.Context, id uint32) (json.RawMessage, error) {
	args := m.Called(ctx, id)
	res, _ := args.Get(0).(json.RawMessage)
	return res, args.Error(1)
}

func (m *MockClient) CountersGet(ctx context.Context, id uint32, collection bool) (*hal.IngressCounters, error) {
	args := m.Called(ctx, id, collection)
	res, _ := args.Get(0).(*hal.IngressCounters)
	return res, args.Error(1)
}

func (m *MockClient) CountersClear(ctx context.Context, id uint32, collection bool) error {
	return m.Called(ctx, id, collection).Error(0)
}

// CallInto copies the canned result through JSON into out, like the real
// client does.
func (m *MockClient) CallInto(ctx context.Context, method string, params, out any) error {
	args := m.Called(ctx, method, params)
	if err := args.Error(1); err != nil {
		return err
	}
	data, err := json.Marshal(args.Get(0))
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
