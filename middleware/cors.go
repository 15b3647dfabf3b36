package middleware

import (
	"strconv"
	"strings"

	"github.com/saiset-co/sai-dispatch/types"
	"github.com/saiset-co/sai-dispatch/utils"
)

type CORSMiddleware struct {
	corsConfig     *CORSConfig
	allowedOrigins map[string]bool
	allowAnyOrigin bool
	methodsValue   string
	headersValue   string
	maxAgeValue    string
}

type CORSConfig struct {
	AllowedOrigins []string `json:"allowed_origins"`
	AllowedMethods []string `json:"allowed_methods"`
	AllowedHeaders []string `json:"allowed_headers"`
	MaxAge         int      `json:"max_age"`
}

func NewCORSMiddleware(_ Env, params map[string]interface{}) (types.Middleware, error) {
	corsConfig := &CORSConfig{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-Id"},
		MaxAge:         86400,
	}

	if params != nil {
		if err := utils.UnmarshalConfig(params, corsConfig); err != nil {
			return nil, types.WrapError(err, "failed to unmarshal cors middleware config")
		}
	}

	mw := &CORSMiddleware{
		corsConfig:     corsConfig,
		allowedOrigins: make(map[string]bool, len(corsConfig.AllowedOrigins)),
		methodsValue:   strings.Join(corsConfig.AllowedMethods, ", "),
		headersValue:   strings.Join(corsConfig.AllowedHeaders, ", "),
		maxAgeValue:    strconv.Itoa(corsConfig.MaxAge),
	}

	for _, origin := range corsConfig.AllowedOrigins {
		if origin == "*" {
			mw.allowAnyOrigin = true
			continue
		}
		mw.allowedOrigins[origin] = true
	}

	return mw, nil
}

func (c *CORSMiddleware) Name() string { return "cors" }

// Execute appends CORS headers for allowed origins and answers preflight
// requests itself without calling the rest of the chain.
func (c *CORSMiddleware) Execute(req *types.Request, res *types.Response, exec types.Executor) error {
	origin := req.Header("Origin")

	if origin != "" && c.originAllowed(origin) {
		if c.allowAnyOrigin {
			res.SetHeader("Access-Control-Allow-Origin", "*")
		} else {
			res.SetHeader("Access-Control-Allow-Origin", origin)
			res.SetHeader("Vary", "Origin")
		}
	}

	if req.Method == "OPTIONS" {
		res.SetHeader("Access-Control-Allow-Methods", c.methodsValue)
		res.SetHeader("Access-Control-Allow-Headers", c.headersValue)
		res.SetHeader("Access-Control-Max-Age", c.maxAgeValue)
		res.SetStatus(types.StatusNoContent)
		return nil
	}

	return exec.Next()
}

func (c *CORSMiddleware) originAllowed(origin string) bool {
	return c.allowAnyOrigin || c.allowedOrigins[origin]
}
