package command

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/tsnstream/internal/hal"
	"firestige.xyz/tsnstream/internal/stream"
)

// mockConfigReloader is a mock implementation of ConfigReloader.
type mockConfigReloader struct {
	reloadFunc func() (*ReloadResult, error)
}

func (m *mockConfigReloader) Reload() (*ReloadResult, error) {
	if m.reloadFunc != nil {
		return m.reloadFunc()
	}
	return &ReloadResult{}, nil
}

func newTestEngine(t *testing.T) *stream.Engine {
	t.Helper()
	eng, err := stream.New(hal.NewSim(hal.DefaultSimConfig()),
		stream.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	return eng
}

// seedEngine installs stream 1 and 2, with stream 2 in collection 5.
func seedEngine(t *testing.T, eng *stream.Engine) {
	t.Helper()
	conf := stream.DefaultConf()
	ports, err := stream.NewPortList(0, 1)
	require.NoError(t, err)
	conf.Ports = ports
	require.NoError(t, eng.StreamConfSet(1, conf))
	require.NoError(t, eng.StreamConfSet(2, conf))
	cc, err := stream.NewCollectionConf(2)
	require.NoError(t, err)
	require.NoError(t, eng.CollectionConfSet(5, cc))
	require.NoError(t, eng.StreamActionSet(1, stream.ClientPSFP, stream.Action{Enable: true, ClientID: 1}, false))
}

func call(t *testing.T, h *CommandHandler, method string, params any) Response {
	t.Helper()
	cmd := Command{Method: method, ID: "req-1"}
	if params != nil {
		data, err := json.Marshal(params)
		require.NoError(t, err)
		cmd.Params = data
	}
	resp := h.Handle(context.Background(), cmd)
	assert.Equal(t, "req-1", resp.ID)
	return resp
}

func TestCommandHandler_StreamMethods(t *testing.T) {
	eng := newTestEngine(t)
	seedEngine(t, eng)
	h := NewCommandHandler(eng, nil)

	resp := call(t, h, MethodStreamList, nil)
	require.Nil(t, resp.Error)
	assert.Equal(t, map[string]any{"ids": []stream.ID{1, 2}}, resp.Result)

	resp = call(t, h, MethodStreamGet, IDParams{ID: 1})
	require.Nil(t, resp.Error)
	got, ok := resp.Result.(StreamResult)
	require.True(t, ok)
	assert.Equal(t, uint32(1), got.ID)
	assert.Equal(t, []int{0, 1}, got.Conf.Ports.Ports())

	resp = call(t, h, MethodStreamStatus, IDParams{ID: 2})
	require.Nil(t, resp.Error)
	st, ok := resp.Result.(stream.Status)
	require.True(t, ok)
	assert.Equal(t, stream.CollectionID(5), st.CollectionID)
}

func TestCommandHandler_CollectionMethods(t *testing.T) {
	eng := newTestEngine(t)
	seedEngine(t, eng)
	h := NewCommandHandler(eng, nil)

	resp := call(t, h, MethodCollectionList, nil)
	require.Nil(t, resp.Error)
	assert.Equal(t, map[string]any{"ids": []stream.CollectionID{5}}, resp.Result)

	resp = call(t, h, MethodCollectionGet, IDParams{ID: 5})
	require.Nil(t, resp.Error)
	assert.Equal(t, CollectionResult{ID: 5, StreamIDs: []stream.ID{2}}, resp.Result)

	resp = call(t, h, MethodCollectionStatus, IDParams{ID: 5})
	require.Nil(t, resp.Error)
	_, ok := resp.Result.(stream.CollectionStatus)
	assert.True(t, ok)
}

func TestCommandHandler_Counters(t *testing.T) {
	eng := newTestEngine(t)
	seedEngine(t, eng)
	h := NewCommandHandler(eng, nil)

	resp := call(t, h, MethodCountersGet, CountersParams{ID: 1})
	require.Nil(t, resp.Error)
	_, ok := resp.Result.(hal.IngressCounters)
	assert.True(t, ok)

	resp = call(t, h, MethodCountersClear, CountersParams{ID: 1})
	require.Nil(t, resp.Error)

	// Collection 5 has no client attached, so it owns no counters.
	resp = call(t, h, MethodCountersGet, CountersParams{ID: 5, Collection: true})
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeNotFound, resp.Error.Code)
	assert.Equal(t, "not_found", resp.Error.Data["kind"])
}

func TestCommandHandler_ErrorMapping(t *testing.T) {
	eng := newTestEngine(t)
	h := NewCommandHandler(eng, nil)

	tests := []struct {
		name   string
		method string
		params any
		code   int
	}{
		{"unknown stream", MethodStreamGet, IDParams{ID: 9}, ErrCodeNotFound},
		{"stream id out of range", MethodStreamGet, IDParams{ID: 500}, ErrCodeInvalidParams},
		{"unknown collection", MethodCollectionStatus, IDParams{ID: 3}, ErrCodeNotFound},
		{"bad params", MethodStreamGet, "not-an-object", ErrCodeInvalidParams},
		{"unknown method", "stream_frobnicate", nil, ErrCodeMethodNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := call(t, h, tt.method, tt.params)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
		})
	}
}

func TestCommandHandler_Debug(t *testing.T) {
	eng := newTestEngine(t)
	seedEngine(t, eng)
	h := NewCommandHandler(eng, nil)

	resp := call(t, h, MethodDebugRules, IDsParams{IDs: []uint32{1}})
	require.Nil(t, resp.Error)
	rules, ok := resp.Result.([]stream.RuleRow)
	require.True(t, ok)
	assert.Len(t, rules, 1)

	resp = call(t, h, MethodDebugFlows, nil)
	require.Nil(t, resp.Error)
	_, ok = resp.Result.([]stream.FlowRow)
	assert.True(t, ok)

	resp = call(t, h, MethodDebugStatistics, nil)
	require.Nil(t, resp.Error)
	stats, ok := resp.Result.([]stream.StatisticsRow)
	require.True(t, ok)
	assert.Len(t, stats, 2)
}

func TestCommandHandler_CapabilitiesAndNotifications(t *testing.T) {
	eng := newTestEngine(t)
	seedEngine(t, eng)
	h := NewCommandHandler(eng, nil)

	resp := call(t, h, MethodCapabilities, nil)
	require.Nil(t, resp.Error)
	assert.Equal(t, stream.Capabilities{
		MaxStreams:              stream.MaxStreams,
		MaxCollections:          stream.MaxCollections,
		StreamsPerCollectionMax: stream.StreamsPerCollectionMax,
	}, resp.Result)

	resp = call(t, h, MethodNotifications, nil)
	require.Nil(t, resp.Error)
	tables, ok := resp.Result.(stream.NotificationTables)
	require.True(t, ok)
	assert.Contains(t, tables.Streams, stream.ID(1))
	assert.Contains(t, tables.Collections, stream.CollectionID(5))
}

func TestCommandHandler_ConfigReload(t *testing.T) {
	eng := newTestEngine(t)

	t.Run("no reloader", func(t *testing.T) {
		h := NewCommandHandler(eng, nil)
		resp := call(t, h, MethodConfigReload, nil)
		require.NotNil(t, resp.Error)
		assert.Equal(t, ErrCodeInternalError, resp.Error.Code)
	})

	t.Run("success", func(t *testing.T) {
		h := NewCommandHandler(eng, &mockConfigReloader{
			reloadFunc: func() (*ReloadResult, error) {
				return &ReloadResult{Replayed: true, Streams: 2, RequiresRestart: []string{"hal"}}, nil
			},
		})
		resp := call(t, h, MethodConfigReload, nil)
		require.Nil(t, resp.Error)
		res, ok := resp.Result.(*ReloadResult)
		require.True(t, ok)
		assert.Equal(t, 2, res.Streams)
		assert.Equal(t, []string{"hal"}, res.RequiresRestart)
	})

	t.Run("failure", func(t *testing.T) {
		h := NewCommandHandler(eng, &mockConfigReloader{
			reloadFunc: func() (*ReloadResult, error) {
				return nil, errors.New("boom")
			},
		})
		resp := call(t, h, MethodConfigReload, nil)
		require.NotNil(t, resp.Error)
		assert.Contains(t, resp.Error.Message, "boom")
	})
}

func TestCommandHandler_DaemonShutdown(t *testing.T) {
	eng := newTestEngine(t)
	h := NewCommandHandler(eng, nil)

	resp := call(t, h, MethodDaemonShutdown, nil)
	require.NotNil(t, resp.Error, "shutdown without a registered handler must fail")

	done := make(chan struct{})
	h.SetShutdownFunc(func() { close(done) })
	resp = call(t, h, MethodDaemonShutdown, nil)
	require.Nil(t, resp.Error)
	<-done
}

func TestCommandHandler_DaemonStatus(t *testing.T) {
	eng := newTestEngine(t)
	seedEngine(t, eng)
	h := NewCommandHandler(eng, nil)
	h.SetNode("sw-01")

	resp := call(t, h, MethodDaemonStatus, nil)
	require.Nil(t, resp.Error)
	st, ok := resp.Result.(StatusResult)
	require.True(t, ok)
	assert.Equal(t, "sw-01", st.Node)
	assert.Equal(t, 2, st.Engine.Streams)
	assert.Nil(t, st.EventBus)
}
