package middleware

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-dispatch/types"
)

type recordingMiddleware struct {
	name  string
	trace *[]string
	// skipNext short-circuits; failBefore raises without calling Next.
	skipNext   bool
	failBefore error
}

func (r *recordingMiddleware) Name() string { return r.name }

func (r *recordingMiddleware) Execute(req *types.Request, res *types.Response, exec types.Executor) error {
	*r.trace = append(*r.trace, r.name+"-before")

	if r.failBefore != nil {
		return r.failBefore
	}
	if r.skipNext {
		return nil
	}

	err := exec.Next()
	*r.trace = append(*r.trace, r.name+"-after")
	return err
}

func tracingHandler(trace *[]string, err error) types.Handler {
	return func(req *types.Request, res *types.Response) error {
		*trace = append(*trace, "handler")
		return err
	}
}

func TestExecutorWrapOrdering(t *testing.T) {
	var trace []string

	chain := []types.Middleware{
		&recordingMiddleware{name: "A", trace: &trace},
		&recordingMiddleware{name: "B", trace: &trace},
	}

	exec := NewExecutor(chain, tracingHandler(&trace, nil), &types.Request{}, types.NewResponse(nil))
	require.NoError(t, exec.Next())

	assert.Equal(t, []string{"A-before", "B-before", "handler", "B-after", "A-after"}, trace)
}

func TestExecutorEmptyChainRunsHandler(t *testing.T) {
	var trace []string

	exec := NewExecutor(nil, tracingHandler(&trace, nil), &types.Request{}, types.NewResponse(nil))
	require.NoError(t, exec.Next())

	assert.Equal(t, []string{"handler"}, trace)
}

func TestExecutorErrorBeforeNextShortCircuits(t *testing.T) {
	var trace []string
	boom := errors.New("auth exploded")

	chain := []types.Middleware{
		&recordingMiddleware{name: "A", trace: &trace, failBefore: boom},
		&recordingMiddleware{name: "B", trace: &trace},
	}

	exec := NewExecutor(chain, tracingHandler(&trace, nil), &types.Request{}, types.NewResponse(nil))
	err := exec.Next()

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"A-before"}, trace)
}

func TestExecutorSkipNextShortCircuits(t *testing.T) {
	var trace []string

	chain := []types.Middleware{
		&recordingMiddleware{name: "A", trace: &trace},
		&recordingMiddleware{name: "B", trace: &trace, skipNext: true},
	}

	exec := NewExecutor(chain, tracingHandler(&trace, nil), &types.Request{}, types.NewResponse(nil))
	require.NoError(t, exec.Next())

	assert.Equal(t, []string{"A-before", "B-before", "A-after"}, trace)
}

func TestExecutorHandlerErrorPropagatesUnchanged(t *testing.T) {
	var trace []string
	boom := types.ErrPathParamMissing

	chain := []types.Middleware{
		&recordingMiddleware{name: "A", trace: &trace},
	}

	exec := NewExecutor(chain, tracingHandler(&trace, boom), &types.Request{}, types.NewResponse(nil))
	err := exec.Next()

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"A-before", "handler", "A-after"}, trace)
}

func TestExecutorNilHandler(t *testing.T) {
	exec := NewExecutor(nil, nil, &types.Request{}, types.NewResponse(nil))
	assert.ErrorIs(t, exec.Next(), types.ErrHandlerIsNil)
}
