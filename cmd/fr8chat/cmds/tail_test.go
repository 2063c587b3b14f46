package cmds

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/fr8chat/pkg/assembler"
	"github.com/go-go-golems/fr8chat/pkg/redisstream"
	"github.com/go-go-golems/fr8chat/pkg/sse"
)

func testEnvelope() redisstream.Envelope {
	return redisstream.Envelope{
		RecordMeta: assembler.RecordMeta{SessionID: "s-1", TurnID: "msg-2", Seq: 3},
		Event:      sse.EventSQL,
		Data:       json.RawMessage(`{"sql":"SELECT 1"}`),
	}
}

func TestPrintEnvelope_Text(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printEnvelope(&buf, testEnvelope(), false))
	require.Equal(t, "s-1 msg-2 #3 sql   {\"sql\":\"SELECT 1\"}\n", buf.String())
}

func TestPrintEnvelope_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printEnvelope(&buf, testEnvelope(), true))
	require.JSONEq(t, `{"session_id":"s-1","turn_id":"msg-2","seq":3,"event":"sql","data":{"sql":"SELECT 1"}}`, buf.String())
}

func TestTail_RequiresRedis(t *testing.T) {
	cmd := NewTailCommand(&App{})
	cmd.SetArgs([]string{})
	err := cmd.Execute()
	require.ErrorContains(t, err, "--redis-enabled")
}
