package criterion

import (
	"context"
	"fmt"
	"sync/atomic"
)

// Oracle counts the tasks matching a composed predicate.
type Oracle interface {
	CountMatching(ctx context.Context, predicate string) (int, error)
}

type OracleFunc func(ctx context.Context, predicate string) (int, error)

func (f OracleFunc) CountMatching(ctx context.Context, predicate string) (int, error) {
	return f(ctx, predicate)
}

// Window is the match count before and after one step.
type Window struct {
	Start int
	End   int
}

// Tally counts every prefix of list, one oracle call per step, in order.
func Tally(ctx context.Context, oracle Oracle, list []Instance) ([]Window, int, error) {
	windows := make([]Window, 0, len(list))
	last := -1
	maxEnd := 0
	for idx, predicate := range Prefixes(list) {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		count, err := oracle.CountMatching(ctx, predicate)
		if err != nil {
			return nil, 0, fmt.Errorf("count step %d: %w", idx+1, err)
		}
		start := last
		if start < 0 {
			start = count
		}
		windows = append(windows, Window{Start: start, End: count})
		last = count
		maxEnd = max(maxEnd, count)
	}
	return windows, maxEnd, nil
}

// ApplyWindows writes a Tally result back onto list in place.
func ApplyWindows(list []Instance, windows []Window, maxEnd int) {
	for idx := range list {
		if idx < len(windows) {
			list[idx].Start = windows[idx].Start
			list[idx].End = windows[idx].End
		}
		list[idx].Max = maxEnd
	}
}

// Tracker hands out generation tokens so a late count pass can tell whether
// the criteria it counted are still current.
type Tracker struct {
	gen atomic.Uint64
}

type Token uint64

// Advance invalidates every outstanding token.
func (t *Tracker) Advance() Token {
	return Token(t.gen.Add(1))
}

func (t *Tracker) Current() Token {
	return Token(t.gen.Load())
}

func (t *Tracker) IsCurrent(tok Token) bool {
	return t.gen.Load() == uint64(tok)
}
