package feed

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindowPushDedupsHead(t *testing.T) {
	var w Window

	require.True(t, w.Push(ResultEvent{Result: "17", Time: "10:00:01"}))
	require.False(t, w.Push(ResultEvent{Result: "17", Time: "10:00:01"}), "same timestamp must be dropped")
	require.True(t, w.Push(ResultEvent{Result: "32", Time: "10:00:31"}))

	head, ok := w.Head()
	require.True(t, ok)
	assert.Equal(t, "32", head.Result)
	assert.Equal(t, 2, w.Len())
}

func TestWindowOnlyHeadIsCompared(t *testing.T) {
	var w Window

	// A timestamp that already exists deeper in the window is still accepted;
	// only the newest entry guards against the feed's snapshot overlap.
	w.Push(ResultEvent{Result: "1", Time: "a"})
	w.Push(ResultEvent{Result: "2", Time: "b"})
	require.True(t, w.Push(ResultEvent{Result: "1", Time: "a"}))
	assert.Equal(t, 3, w.Len())
}

func TestWindowCap(t *testing.T) {
	var w Window
	for i := 0; i < WindowSize+7; i++ {
		w.Push(ResultEvent{Result: fmt.Sprintf("%d", i%37), Time: fmt.Sprintf("t%d", i)})
	}

	assert.Equal(t, WindowSize, w.Len())

	snap := w.Snapshot()
	require.Len(t, snap, WindowSize)
	// newest first
	assert.Equal(t, fmt.Sprintf("t%d", WindowSize+6), snap[0].Time)
	assert.Equal(t, "t7", snap[WindowSize-1].Time)
}

func TestWindowEmptyHead(t *testing.T) {
	var w Window
	_, ok := w.Head()
	assert.False(t, ok)
	assert.Empty(t, w.Snapshot())
}
