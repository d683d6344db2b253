package perf

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlocks(t *testing.T) {
	op := MakeNewOperationPerf("refreshstats")
	b := op.StartBlock("SQL", "recompute forum stats")
	time.Sleep(2 * time.Millisecond)
	b.End()
	op.StartBlock("SQL", "left open")
	op.Checkpoint("cache", "bumped")
	op.EndOperation()

	require.Len(t, op.Blocks, 3)
	for _, block := range op.Blocks {
		assert.False(t, block.End.IsZero())
	}

	totals := op.Totals()
	require.Len(t, totals, 2)
	assert.Equal(t, "SQL", totals[0].Category)
	assert.Equal(t, 2, totals[0].Count)
	assert.GreaterOrEqual(t, totals[0].Total, 2*time.Millisecond)
}

func TestNilPerfIsSafe(t *testing.T) {
	var op *OperationPerf
	assert.Nil(t, ExtractPerf(context.Background()))
	assert.NotPanics(t, func() {
		op.StartBlock("SQL", "nothing").End()
		op.Checkpoint("x", "y")
		op.EndOperation()
	})
}

func TestContext(t *testing.T) {
	op := MakeNewOperationPerf("search")
	ctx := AttachPerf(context.Background(), op)
	assert.Same(t, op, ExtractPerf(ctx))
}
