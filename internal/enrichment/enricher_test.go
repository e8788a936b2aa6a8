package enrichment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripQualifier(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"create":                 "create",
		"create (overloaded)":    "create",
		"create(overloaded)":     "create",
		"  place  ":              "place",
		"toString (from Object)": "toString",
		"(just parens)":          "(just parens)",
	}
	for input, want := range cases {
		assert.Equal(t, want, StripQualifier(input), "input %q", input)
	}
}

type scriptedEnricher struct {
	mu       sync.Mutex
	inFlight atomic.Int32
	peak     atomic.Int32
	failing  map[string]bool
	calls    []string
}

func (e *scriptedEnricher) EnrichUnit(ctx context.Context, unit Unit) (*Result, error) {
	current := e.inFlight.Add(1)
	defer e.inFlight.Add(-1)
	for {
		peak := e.peak.Load()
		if current <= peak || e.peak.CompareAndSwap(peak, current) {
			break
		}
	}

	e.mu.Lock()
	e.calls = append(e.calls, unit.Identifier)
	e.mu.Unlock()

	if e.failing[unit.Identifier] {
		return nil, errors.New("model unavailable")
	}
	return &Result{Description: "Describes " + unit.Identifier}, nil
}

func TestEnrichAll_IsolatesFailures(t *testing.T) {
	t.Parallel()

	enricher := &scriptedEnricher{failing: map[string]bool{"b": true}}
	units := []Unit{{Identifier: "a"}, {Identifier: "b"}, {Identifier: "c"}}

	results := EnrichAll(context.Background(), enricher, units, 2, nil)

	require.Len(t, results, 2, "failed unit is skipped, not fatal")
	assert.Equal(t, "Describes a", results["a"].Description)
	assert.Nil(t, results["b"])
	assert.Equal(t, "Describes c", results["c"].Description)
}

func TestEnrichAll_BoundsConcurrency(t *testing.T) {
	t.Parallel()

	enricher := &scriptedEnricher{}
	var units []Unit
	for i := range 20 {
		units = append(units, Unit{Identifier: fmt.Sprintf("unit-%d", i)})
	}

	results := EnrichAll(context.Background(), enricher, units, 3, nil)

	assert.Len(t, results, 20)
	assert.LessOrEqual(t, enricher.peak.Load(), int32(3))
}

func TestEnrichAll_StopsSchedulingOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	enricher := &scriptedEnricher{}
	results := EnrichAll(ctx, enricher, []Unit{{Identifier: "a"}}, 1, nil)

	assert.Empty(t, results)
	assert.Empty(t, enricher.calls)
}
