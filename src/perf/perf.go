package perf

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Timing information for one data-layer operation (a CLI command, a job
// tick). The database tracer adds one block per statement.
type OperationPerf struct {
	Name  string
	Start time.Time
	End   time.Time

	mu     sync.Mutex
	Blocks []PerfBlock
}

func MakeNewOperationPerf(name string) *OperationPerf {
	return &OperationPerf{
		Name:  name,
		Start: time.Now(),
	}
}

func (op *OperationPerf) EndOperation() {
	if op == nil {
		return
	}
	op.mu.Lock()
	defer op.mu.Unlock()

	now := time.Now()
	for i := range op.Blocks {
		if op.Blocks[i].End.IsZero() {
			op.Blocks[i].End = now
		}
	}
	op.End = now
}

func (op *OperationPerf) Checkpoint(category, description string) {
	if op == nil {
		return
	}
	now := time.Now()
	op.mu.Lock()
	defer op.mu.Unlock()
	op.Blocks = append(op.Blocks, PerfBlock{
		Start:       now,
		End:         now,
		Category:    category,
		Description: description,
	})
}

// Starts a block and returns a handle for ending it. Safe to call on a nil
// OperationPerf; the returned handle is then a no-op.
func (op *OperationPerf) StartBlock(category, description string) *BlockHandle {
	if op == nil {
		return nil
	}
	op.mu.Lock()
	defer op.mu.Unlock()
	op.Blocks = append(op.Blocks, PerfBlock{
		Start:       time.Now(),
		Category:    category,
		Description: description,
	})
	return &BlockHandle{op: op, idx: len(op.Blocks) - 1}
}

type BlockHandle struct {
	op  *OperationPerf
	idx int
}

func (h *BlockHandle) End() {
	if h == nil {
		return
	}
	h.op.mu.Lock()
	defer h.op.mu.Unlock()
	h.op.Blocks[h.idx].End = time.Now()
}

type PerfBlock struct {
	Start       time.Time
	End         time.Time
	Category    string
	Description string
}

func (pb *PerfBlock) Duration() time.Duration {
	return pb.End.Sub(pb.Start)
}

type CategoryTotal struct {
	Category string
	Count    int
	Total    time.Duration
}

// Sums block durations per category, slowest category first.
func (op *OperationPerf) Totals() []CategoryTotal {
	if op == nil {
		return nil
	}
	op.mu.Lock()
	defer op.mu.Unlock()

	byCategory := make(map[string]*CategoryTotal)
	var order []string
	for i := range op.Blocks {
		b := &op.Blocks[i]
		t, ok := byCategory[b.Category]
		if !ok {
			t = &CategoryTotal{Category: b.Category}
			byCategory[b.Category] = t
			order = append(order, b.Category)
		}
		t.Count++
		t.Total += b.Duration()
	}

	result := make([]CategoryTotal, 0, len(order))
	for _, c := range order {
		result = append(result, *byCategory[c])
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].Total > result[j].Total })
	return result
}

func (op *OperationPerf) Log(logger *zerolog.Logger) {
	if op == nil {
		return
	}
	ev := logger.Debug().Str("operation", op.Name).Dur("total", op.End.Sub(op.Start))
	for _, t := range op.Totals() {
		ev = ev.Dur(t.Category, t.Total)
	}
	ev.Msg("Operation timing")
}

type perfContextKey struct{}

func AttachPerf(ctx context.Context, op *OperationPerf) context.Context {
	return context.WithValue(ctx, perfContextKey{}, op)
}

// Returns the OperationPerf attached to ctx, or nil.
func ExtractPerf(ctx context.Context) *OperationPerf {
	op, _ := ctx.Value(perfContextKey{}).(*OperationPerf)
	return op
}
