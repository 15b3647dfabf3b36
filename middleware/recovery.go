package middleware

import (
	"runtime"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-dispatch/types"
	"github.com/saiset-co/sai-dispatch/utils"
)

type RecoveryMiddleware struct {
	logger         types.Logger
	recoveryConfig *RecoveryConfig
}

type RecoveryConfig struct {
	StackTrace bool `json:"stack_trace"`
}

func NewRecoveryMiddleware(env Env, params map[string]interface{}) (types.Middleware, error) {
	recoveryConfig := &RecoveryConfig{
		StackTrace: true,
	}

	if params != nil {
		if err := utils.UnmarshalConfig(params, recoveryConfig); err != nil {
			return nil, types.WrapError(err, "failed to unmarshal recovery middleware config")
		}
	}

	return &RecoveryMiddleware{
		logger:         env.Logger,
		recoveryConfig: recoveryConfig,
	}, nil
}

func (r *RecoveryMiddleware) Name() string { return "recovery" }

// Execute converts downstream panics into a regular propagating error, so
// the connection lifecycle turns them into a 500 instead of losing the
// worker.
func (r *RecoveryMiddleware) Execute(req *types.Request, res *types.Response, exec types.Executor) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			var stack string
			if r.recoveryConfig.StackTrace {
				stack = captureStack()
			}

			fields := []zap.Field{
				zap.Any("panic", rec),
				zap.String("method", req.Method),
				zap.String("path", req.Path),
				zap.String("remote_addr", req.RemoteAddr),
			}
			if stack != "" {
				fields = append(fields, zap.String("stack", stack))
			}

			r.logger.Error("Recovered from panic", fields...)
			err = types.Errorf(types.ErrPanicRecovered, "%v", rec)
		}
	}()

	return exec.Next()
}

func captureStack() string {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)

	if n == len(buf) {
		buf = make([]byte, 65536)
		n = runtime.Stack(buf, false)
	}

	return utils.BytesToString(buf[:n])
}
