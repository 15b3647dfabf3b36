package middleware

import (
	"bytes"
	"compress/gzip"
	"strings"

	"github.com/andybalholm/brotli"

	"github.com/saiset-co/sai-dispatch/types"
	"github.com/saiset-co/sai-dispatch/utils"
)

type CompressionMiddleware struct {
	compressionConfig *CompressionConfig
}

type CompressionConfig struct {
	MinSize int `json:"min_size"`
	Level   int `json:"level"`
}

func NewCompressionMiddleware(_ Env, params map[string]interface{}) (types.Middleware, error) {
	compressionConfig := &CompressionConfig{
		MinSize: 1024,
		Level:   4,
	}

	if params != nil {
		if err := utils.UnmarshalConfig(params, compressionConfig); err != nil {
			return nil, types.WrapError(err, "failed to unmarshal compression middleware config")
		}
	}

	return &CompressionMiddleware{
		compressionConfig: compressionConfig,
	}, nil
}

func (c *CompressionMiddleware) Name() string { return "compression" }

// Execute lets the chain produce the response first, then encodes the body
// when the client accepts brotli or gzip and the body is worth compressing.
func (c *CompressionMiddleware) Execute(req *types.Request, res *types.Response, exec types.Executor) error {
	if err := exec.Next(); err != nil {
		return err
	}

	if res.BodyLen() < c.compressionConfig.MinSize {
		return nil
	}
	if res.HeaderValue("Content-Encoding") != "" {
		return nil
	}

	accepted := req.Header("Accept-Encoding")

	switch {
	case strings.Contains(accepted, "br"):
		encoded, err := c.encodeBrotli(res.BodyBytes())
		if err != nil {
			return nil
		}
		res.SwapBody(encoded)
		res.SetHeader("Content-Encoding", "br")

	case strings.Contains(accepted, "gzip"):
		encoded, err := c.encodeGzip(res.BodyBytes())
		if err != nil {
			return nil
		}
		res.SwapBody(encoded)
		res.SetHeader("Content-Encoding", "gzip")
	}

	return nil
}

func (c *CompressionMiddleware) encodeBrotli(body []byte) ([]byte, error) {
	var buf bytes.Buffer

	writer := brotli.NewWriterLevel(&buf, c.compressionConfig.Level)
	if _, err := writer.Write(body); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// gzipLevel maps the configured level onto gzip's valid range; the brotli
// scale goes up to 11, gzip stops at 9.
func gzipLevel(level int) int {
	if level < gzip.BestSpeed {
		return gzip.BestSpeed
	}
	if level > gzip.BestCompression {
		return gzip.BestCompression
	}
	return level
}

func (c *CompressionMiddleware) encodeGzip(body []byte) ([]byte, error) {
	var buf bytes.Buffer

	writer, err := gzip.NewWriterLevel(&buf, gzipLevel(c.compressionConfig.Level))
	if err != nil {
		return nil, err
	}
	if _, err := writer.Write(body); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
