package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"firestige.xyz/tsnstream/internal/command"
	"firestige.xyz/tsnstream/internal/hal"
	"firestige.xyz/tsnstream/internal/stream"
)

func TestRunReload_Success(t *testing.T) {
	mockClient := new(MockClient)
	mockClient.On("ConfigReload", mock.Anything).Return(&command.ReloadResult{
		Replayed:        true,
		Streams:         3,
		Collections:     1,
		Skipped:         []string{"stream 9: invalid"},
		RequiresRestart: []string{"hal"},
	}, nil)

	var buf bytes.Buffer
	err := runReload(context.Background(), mockClient, &buf)

	assert.NoError(t, err)
	assert.Contains(t, buf.String(), "✓ Configuration reloaded successfully")
	assert.Contains(t, buf.String(), "replayed 3 stream(s), 1 collection(s)")
	assert.Contains(t, buf.String(), "skipped: stream 9: invalid")
	assert.Contains(t, buf.String(), "restart required for: hal")
	mockClient.AssertExpectations(t)
}

func TestRunReload_Failure(t *testing.T) {
	mockClient := new(MockClient)
	mockClient.On("ConfigReload", mock.Anything).Return(nil, errors.New("connection failed"))

	var buf bytes.Buffer
	err := runReload(context.Background(), mockClient, &buf)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to reload")
	assert.Contains(t, err.Error(), "connection failed")
	assert.Empty(t, buf.String())
	mockClient.AssertExpectations(t)
}

func TestReloadCmd_Execute(t *testing.T) {
	mockClient := new(MockClient)
	mockClient.On("ConfigReload", mock.Anything).Return(&command.ReloadResult{}, nil)

	prev := newClient
	newClient = func() Client { return mockClient }
	defer func() { newClient = prev }()

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"reload"})
	defer rootCmd.SetArgs(nil)

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, buf.String(), "reloaded successfully")
	mockClient.AssertExpectations(t)
}

func TestRunStop(t *testing.T) {
	t.Run("via socket", func(t *testing.T) {
		mockClient := new(MockClient)
		mockClient.On("Shutdown", mock.Anything).Return(nil)

		var buf bytes.Buffer
		require.NoError(t, runStop(context.Background(), mockClient, &buf, ""))
		assert.Contains(t, buf.String(), "shutting down")
	})

	t.Run("socket unreachable without pid file", func(t *testing.T) {
		mockClient := new(MockClient)
		mockClient.On("Shutdown", mock.Anything).Return(errors.New("dial failed"))

		var buf bytes.Buffer
		err := runStop(context.Background(), mockClient, &buf, "")
		assert.ErrorContains(t, err, "dial failed")
	})

	t.Run("pid file fallback", func(t *testing.T) {
		mockClient := new(MockClient)
		mockClient.On("Shutdown", mock.Anything).Return(errors.New("dial failed"))

		var buf bytes.Buffer
		err := runStop(context.Background(), mockClient, &buf, t.TempDir()+"/missing.pid")
		assert.ErrorContains(t, err, "daemon not running")
	})
}

func TestRunStatus(t *testing.T) {
	mockClient := new(MockClient)
	mockClient.On("Status", mock.Anything).Return(&command.StatusResult{
		Version:   "dev",
		Node:      "sw-01",
		UptimeSec: 90,
		Engine: stream.Stats{
			Streams:     4,
			Collections: 1,
			Usage:       &hal.Usage{FlowsInUse: 2, FlowCapacity: 256},
		},
	}, nil)

	var buf bytes.Buffer
	require.NoError(t, runStatus(context.Background(), mockClient, &buf, formatTable))
	assert.Contains(t, buf.String(), "sw-01")
	assert.Contains(t, buf.String(), "1m30s")
	assert.Contains(t, buf.String(), "2/256")

	buf.Reset()
	require.NoError(t, runStatus(context.Background(), mockClient, &buf, formatJSON))
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "sw-01", decoded["node"])
}

func TestRunStreamList(t *testing.T) {
	mockClient := new(MockClient)
	mockClient.On("StreamList", mock.Anything).Return([]stream.ID{1, 2}, nil)
	mockClient.On("StreamStatus", mock.Anything, uint32(1)).Return(json.RawMessage(
		`{"collection_id":0,"oper_warnings":["not-installed-on-any-port"],"client_status":{"psfp":{"enable":true,"client_id":7},"frer":{"enable":false}}}`), nil)
	mockClient.On("StreamStatus", mock.Anything, uint32(2)).Return(json.RawMessage(
		`{"collection_id":3,"oper_warnings":[],"client_status":{"psfp":{"enable":false},"frer":{"enable":false}}}`), nil)

	var buf bytes.Buffer
	require.NoError(t, runStreamList(context.Background(), mockClient, &buf, formatTable))

	out := buf.String()
	assert.Contains(t, out, "ID")
	assert.Regexp(t, `1\s+-\s+7\s+-\s+not-installed-on-any-port`, out)
	assert.Regexp(t, `2\s+3\s+-\s+-\s+-`, out)
	mockClient.AssertExpectations(t)
}

func TestRunStreamGet_NotFound(t *testing.T) {
	mockClient := new(MockClient)
	mockClient.On("StreamGet", mock.Anything, uint32(9)).Return(nil,
		&command.ErrorInfo{Code: command.ErrCodeNotFound, Message: "stream 9: no such stream"})

	var buf bytes.Buffer
	err := runStreamGet(context.Background(), mockClient, &buf, formatTable, 9)

	var info *command.ErrorInfo
	require.ErrorAs(t, err, &info)
	assert.Equal(t, command.ErrCodeNotFound, info.Code)
}

func TestRunStreamGet_YAML(t *testing.T) {
	ports, err := stream.NewPortList(1, 2)
	require.NoError(t, err)
	doc := stream.DefaultConf().Doc()
	doc.Ports = ports

	mockClient := new(MockClient)
	mockClient.On("StreamGet", mock.Anything, uint32(1)).Return(&command.StreamResult{ID: 1, Conf: doc}, nil)

	var buf bytes.Buffer
	require.NoError(t, runStreamGet(context.Background(), mockClient, &buf, formatTable, 1))
	assert.Contains(t, buf.String(), "id: 1")
	assert.Contains(t, buf.String(), "ports:")
}

func TestRunCountersGet(t *testing.T) {
	mockClient := new(MockClient)
	mockClient.On("CountersGet", mock.Anything, uint32(4), true).Return(&hal.IngressCounters{
		RxMatch: 12,
		RxGreen: hal.FrameCount{Frames: 10, Bytes: 640},
	}, nil)

	var buf bytes.Buffer
	require.NoError(t, runCountersGet(context.Background(), mockClient, &buf, formatTable, 4, true))
	assert.Regexp(t, `rx_green\s+10\s+640`, buf.String())
	assert.Regexp(t, `rx_match\s+12`, buf.String())
}

func TestRunDebugRules(t *testing.T) {
	mockClient := new(MockClient)
	rows := []stream.RuleRow{{
		StreamID:     1,
		RuleID:       5,
		Installed:    true,
		PSFPEnable:   true,
		PSFPClientID: 2,
		FlowID:       3,
		Protocol:     "any",
		Ports:        "0-1",
	}}
	mockClient.On("CallInto", mock.Anything, command.MethodDebugRules, command.IDsParams{IDs: []uint32{1}}).Return(rows, nil)

	var buf bytes.Buffer
	require.NoError(t, runDebugRules(context.Background(), mockClient, &buf, formatTable, []uint32{1}))
	assert.Regexp(t, `1\s+0\s+5\s+2\s+-\s+3`, buf.String())

	buf.Reset()
	require.NoError(t, runDebugRules(context.Background(), mockClient, &buf, formatYAML, []uint32{1}))
	assert.Contains(t, buf.String(), "rule_id: 5")
}

func TestRunDebugNotifications(t *testing.T) {
	mockClient := new(MockClient)
	mockClient.On("CallInto", mock.Anything, command.MethodNotifications, nil).Return(stream.NotificationTables{
		Streams:     map[stream.ID]uint32{2: 1, 1: 0},
		Collections: map[stream.CollectionID]uint32{1: 4},
	}, nil)

	var buf bytes.Buffer
	require.NoError(t, runDebugNotifications(context.Background(), mockClient, &buf, formatTable))
	assert.Regexp(t, `stream\s+1\s+0\s+stream\s+2\s+1\s+collection\s+1\s+4`, buf.String())
}

func TestRender_UnknownFormat(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, render(&buf, "xml", map[string]int{"a": 1}, nil))
}

func TestParseIDs(t *testing.T) {
	ids, err := parseIDs([]string{"1", "17"})
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 17}, ids)

	_, err = parseIDs([]string{"x"})
	assert.Error(t, err)
}

func TestSubcommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"daemon", "status", "stop", "reload", "validate", "capabilities",
		"stream", "collection", "counters", "debug", "store"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
	var _ *cobra.Command = streamListCmd
}
