package middleware

import (
	"github.com/google/uuid"

	"github.com/saiset-co/sai-dispatch/types"
	"github.com/saiset-co/sai-dispatch/utils"
)

const requestIDHeader = "X-Request-Id"

type MetadataMiddleware struct {
	metadataConfig *MetadataConfig
}

type MetadataConfig struct {
	GenerateRequestID bool     `json:"generate_request_id"`
	PropagatedHeaders []string `json:"propagated_headers"`
}

func NewMetadataMiddleware(_ Env, params map[string]interface{}) (types.Middleware, error) {
	metadataConfig := &MetadataConfig{
		GenerateRequestID: true,
		PropagatedHeaders: []string{"X-Request-Id", "X-User-Id", "X-Trace-Id"},
	}

	if params != nil {
		if err := utils.UnmarshalConfig(params, metadataConfig); err != nil {
			return nil, types.WrapError(err, "failed to unmarshal metadata middleware config")
		}
	}

	return &MetadataMiddleware{
		metadataConfig: metadataConfig,
	}, nil
}

func (m *MetadataMiddleware) Name() string { return "metadata" }

func (m *MetadataMiddleware) Execute(req *types.Request, res *types.Response, exec types.Executor) error {
	if m.metadataConfig.GenerateRequestID && req.Header(requestIDHeader) == "" {
		if req.Headers == nil {
			req.Headers = make(map[string]string, 1)
		}
		req.Headers[requestIDHeader] = uuid.NewString()
	}

	for _, name := range m.metadataConfig.PropagatedHeaders {
		if value := req.Header(name); value != "" {
			res.SetHeader(name, value)
		}
	}

	return exec.Next()
}
