package latest

import (
	"fmt"
	"testing"

	"github.com/ca-srg/lastmsg/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReduce(t *testing.T) {
	batch := []types.Message{
		msg("C1", 30, "U2"),
		msg("C1", 20, "U1"),
		msg("C1", 50, "U1"),
		msg("C1", 10, "U2"),
	}
	prior := msg("C1", 40, "U1")

	testcases := []struct {
		name   string
		batch  []types.Message
		author string
		mode   Mode
		init   *types.Message
		wantID string
	}{
		{name: "latest by author", batch: batch, author: "U1", mode: Latest, wantID: "1050"},
		{name: "latest any author", batch: batch, mode: Latest, wantID: "1050"},
		{name: "earliest any author", batch: batch, mode: Earliest, wantID: "1010"},
		{name: "earliest by author", batch: batch, author: "U1", mode: Earliest, wantID: "1020"},
		{name: "init wins when newer", batch: batch[:2], author: "U1", mode: Latest, init: &prior, wantID: "1040"},
		{name: "batch beats init", batch: batch, author: "U1", mode: Latest, init: &prior, wantID: "1050"},
		{name: "empty batch keeps init", batch: nil, author: "U1", mode: Latest, init: &prior, wantID: "1040"},
		{name: "no author match keeps init", batch: batch, author: "U9", mode: Latest, init: &prior, wantID: "1040"},
		{name: "nothing qualifies", batch: batch, author: "U9", mode: Latest},
		{name: "empty batch no init", mode: Earliest},
	}

	for _, tt := range testcases {
		t.Run(tt.name, func(t *testing.T) {
			got := Reduce(tt.batch, tt.author, tt.mode, tt.init, nil)
			if tt.wantID == "" {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.wantID, got.ID)
		})
	}
}

func TestReduceReturnsInitPointerWhenUnchanged(t *testing.T) {
	prior := msg("C1", 40, "U1")
	got := Reduce([]types.Message{msg("C1", 10, "U1")}, "U1", Latest, &prior, nil)
	assert.Same(t, &prior, got)
}

func TestReduceDetachesFromBatch(t *testing.T) {
	batch := []types.Message{msg("C1", 10, "U1")}
	got := Reduce(batch, "U1", Latest, nil, nil)
	require.NotNil(t, got)

	batch[0].ID = "mutated"
	assert.Equal(t, "1010", got.ID)
}

func TestReduceFirstSeenWinsTies(t *testing.T) {
	first := msg("C1", 10, "U1")
	first.Text = "first"
	second := first
	second.Text = "second"

	got := Reduce([]types.Message{first, second}, "", Latest, nil, nil)
	require.NotNil(t, got)
	assert.Equal(t, "first", got.Text)

	got = Reduce([]types.Message{first, second}, "", Earliest, nil, nil)
	require.NotNil(t, got)
	assert.Equal(t, "first", got.Text)
}

func TestReduceTrace(t *testing.T) {
	var lines []string
	trace := func(format string, args ...any) {
		lines = append(lines, fmt.Sprintf(format, args...))
	}

	Reduce([]types.Message{msg("C1", 10, "U2"), msg("C1", 20, "U1"), msg("C1", 30, "U1")}, "U1", Latest, nil, trace)

	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "was not sent by U1")
	assert.Contains(t, lines[1], "taking 1020")
	assert.Contains(t, lines[2], "newer than 1020")
}
