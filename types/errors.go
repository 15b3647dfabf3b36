package types

import (
	"errors"
	"fmt"
)

var (
	ErrConfigNotFound       = errors.New("config not found")
	ErrConfigInvalidPath    = errors.New("config invalid path")
	ErrConfigParseFailed    = errors.New("config parse failed")
	ErrConfigLoadFailed     = errors.New("config load failed")
	ErrConfigValidateFailed = errors.New("config validate failed")
)

var (
	ErrServerNotRunning     = errors.New("server not running")
	ErrServerAlreadyRunning = errors.New("server already running")
	ErrServerStartFailed    = errors.New("server start failed")
	ErrListenerFailed       = errors.New("listener failed")
	ErrHandlerIsNil         = errors.New("handler is nil")
)

var (
	ErrRouteNotFound     = errors.New("route not found")
	ErrRouteDuplicate    = errors.New("route duplicate")
	ErrMethodUnknown     = errors.New("method unknown")
	ErrRouterFinalized   = errors.New("router finalized")
	ErrPatternEmpty      = errors.New("pattern empty")
	ErrPathParamMissing  = errors.New("path parameter missing")
	ErrAppContextMissing = errors.New("app context missing")
)

var (
	ErrMiddlewareNotFound     = errors.New("middleware not found")
	ErrMiddlewareInvalidType  = errors.New("middleware invalid type")
	ErrMiddlewareChainSealed  = errors.New("middleware chain sealed")
	ErrAuthTokenInvalid       = errors.New("auth token invalid")
	ErrRateLimitExceeded      = errors.New("rate limit exceeded")
	ErrPanicRecovered         = errors.New("panic recovered")
	ErrResponseAlreadyWritten = errors.New("response already written")
)

var (
	ErrRequestLineInvalid   = errors.New("request line invalid")
	ErrRequestHeaderInvalid = errors.New("request header invalid")
	ErrRequestBodyTruncated = errors.New("request body truncated")
	ErrContentLengthInvalid = errors.New("content length invalid")
)

var (
	ErrCacheKeyEmpty         = errors.New("cache key empty")
	ErrCacheConnectionFailed = errors.New("cache connection failed")
	ErrCacheTypeUnknown      = errors.New("cache type unknown")
	ErrCacheIsDisabled       = errors.New("cache manager is disabled")
)

var (
	ErrMetricsTypeUnknown = errors.New("metrics type unknown")
	ErrMetricsStartFailed = errors.New("metrics start failed")
	ErrMetricsIsDisabled  = errors.New("metrics manager is disabled")
)

var (
	ErrServiceIsRunning     = errors.New("service is running")
	ErrServiceIsNotRunning  = errors.New("service is not running")
	ErrComponentStartFailed = errors.New("component start failed")
	ErrComponentStopFailed  = errors.New("component stop failed")
)

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrInvalidState     = errors.New("invalid state")
	ErrNotSupported     = errors.New("not supported")
	ErrInternalError    = errors.New("internal error")
)

func Errorf(baseErr error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", baseErr, fmt.Sprintf(format, args...))
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

func NewErrorf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}

func IsError(err, target error) bool {
	return errors.Is(err, target)
}
