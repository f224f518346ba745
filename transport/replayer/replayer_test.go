package replayer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/labiium/pytestlab/internal/labsterr"
	"github.com/labiium/pytestlab/transport/sessiondoc"
)

func sampleLog() []sessiondoc.Entry {
	return []sessiondoc.Entry{
		{Type: sessiondoc.EntryWrite, Command: "*RST"},
		{Type: sessiondoc.EntryQuery, Command: "*IDN?", Response: "KEYSIGHT,DSOX1204G,SIM,1.0"},
		{Type: sessiondoc.EntryQuery, Command: ":MEAS:VOLT:DC?", Response: "3.3000"},
	}
}

func TestReplayInOrderSucceeds(t *testing.T) {
	tr := New(sampleLog(), Config{}, nil)
	ctx := context.Background()

	require.NoError(t, tr.Write(ctx, "*RST"))

	ident, err := tr.Query(ctx, "*IDN?")
	require.NoError(t, err)
	require.Equal(t, "KEYSIGHT,DSOX1204G,SIM,1.0", ident)

	v, err := tr.Query(ctx, ":MEAS:VOLT:DC?")
	require.NoError(t, err)
	require.Equal(t, "3.3000", v)

	require.NoError(t, tr.Close())
}

func TestReplayMismatchedCommandErrors(t *testing.T) {
	tr := New(sampleLog(), Config{}, nil)
	ctx := context.Background()

	err := tr.Write(ctx, "*CLS")
	require.Error(t, err)
	require.True(t, labsterr.Is(err, labsterr.KindReplayMismatch))

	le, ok := labsterr.As(err)
	require.True(t, ok)
	require.Equal(t, 0, le.Cursor)
}

func TestReplayExhaustedAfterLastEntry(t *testing.T) {
	tr := New(sampleLog()[:1], Config{}, nil)
	ctx := context.Background()

	require.NoError(t, tr.Write(ctx, "*RST"))

	_, err := tr.Query(ctx, "*IDN?")
	require.Error(t, err)
	require.True(t, labsterr.Is(err, labsterr.KindReplayExhausted))
}

func TestCursorAdvancesOnlyOnMatch(t *testing.T) {
	tr := New(sampleLog(), Config{}, nil)
	ctx := context.Background()

	require.Equal(t, 0, tr.Cursor())
	_ = tr.Write(ctx, "*CLS")
	require.Equal(t, 0, tr.Cursor(), "mismatch must not advance the cursor")

	require.NoError(t, tr.Write(ctx, "*RST"))
	require.Equal(t, 1, tr.Cursor())
}

func TestCloseWarnsButSucceedsWithTrailingEntriesByDefault(t *testing.T) {
	tr := New(sampleLog(), Config{}, nil)
	require.NoError(t, tr.Close())
}

func TestCloseFailsWithTrailingEntriesWhenFatal(t *testing.T) {
	tr := New(sampleLog(), Config{TrailingEntriesFatal: true}, nil)
	err := tr.Close()
	require.Error(t, err)
	require.True(t, labsterr.Is(err, labsterr.KindReplayMismatch))
}

func TestReadRawReplaysRecordedBlockLength(t *testing.T) {
	log := []sessiondoc.Entry{
		{Type: sessiondoc.EntryQuery, Command: "<read_raw>", Response: "#BLOCK:1024"},
	}
	tr := New(log, Config{}, nil)

	payload, err := tr.ReadRaw(context.Background(), 1024)
	require.NoError(t, err)
	require.Len(t, payload, 1024)
}

func TestWriteOnClosedReplayerFails(t *testing.T) {
	tr := New(sampleLog(), Config{}, nil)
	require.NoError(t, tr.Close())

	err := tr.Write(context.Background(), "*RST")
	require.Error(t, err)
	require.True(t, labsterr.Is(err, labsterr.KindTransport))
}
