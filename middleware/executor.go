package middleware

import (
	"github.com/saiset-co/sai-dispatch/types"
)

// Executor is the per-request cursor over the sealed middleware chain plus
// the resolved terminal handler. It is created fresh for every dispatched
// request and discarded when the request completes; it is never shared
// between goroutines.
type Executor struct {
	cursor  int
	chain   []types.Middleware
	handler types.Handler
	req     *types.Request
	res     *types.Response
}

func NewExecutor(chain []types.Middleware, handler types.Handler, req *types.Request, res *types.Response) *Executor {
	return &Executor{
		chain:   chain,
		handler: handler,
		req:     req,
		res:     res,
	}
}

// Next advances the chain: the middleware at the cursor runs and decides
// whether to call Next again (wrap), call it early (pre/post work) or not at
// all (short-circuit). Past the end of the chain the terminal handler runs.
// Errors propagate back through every intervening Next frame unchanged.
func (e *Executor) Next() error {
	if e.cursor < len(e.chain) {
		mw := e.chain[e.cursor]
		e.cursor++
		return mw.Execute(e.req, e.res, e)
	}

	if e.handler == nil {
		return types.ErrHandlerIsNil
	}

	return e.handler(e.req, e.res)
}
