package middleware

import (
	"strings"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-dispatch/types"
	"github.com/saiset-co/sai-dispatch/utils"
)

type AuthMiddleware struct {
	logger     types.Logger
	authConfig *AuthConfig
}

type AuthConfig struct {
	Token string `json:"token"`
}

func NewAuthMiddleware(env Env, params map[string]interface{}) (types.Middleware, error) {
	authConfig := &AuthConfig{}

	if params != nil {
		if err := utils.UnmarshalConfig(params, authConfig); err != nil {
			return nil, types.WrapError(err, "failed to unmarshal auth middleware config")
		}
	}

	if authConfig.Token == "" {
		return nil, types.Errorf(types.ErrInvalidParameter, "auth middleware requires a token")
	}

	return &AuthMiddleware{
		logger:     env.Logger,
		authConfig: authConfig,
	}, nil
}

func (a *AuthMiddleware) Name() string { return "auth" }

// Execute short-circuits with a 401 on a bad token; downstream middleware
// and the handler never run.
func (a *AuthMiddleware) Execute(req *types.Request, res *types.Response, exec types.Executor) error {
	if a.extractToken(req) != a.authConfig.Token {
		a.logger.Warn("Rejected request with invalid token",
			zap.String("method", req.Method),
			zap.String("path", req.Path),
			zap.String("remote_addr", req.RemoteAddr))

		res.SetStatus(types.StatusUnauthorized)
		res.ResetBody()
		_, err := res.WriteString("Unauthorized")
		return err
	}

	return exec.Next()
}

func (a *AuthMiddleware) extractToken(req *types.Request) string {
	if auth := req.Header("Authorization"); auth != "" {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return req.Header("X-Auth-Token")
}
