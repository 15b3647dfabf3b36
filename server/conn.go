package server

import (
	"bufio"
	stderrors "errors"
	"net"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-dispatch/middleware"
	"github.com/saiset-co/sai-dispatch/types"
)

// handleConnection owns one accepted connection end to end: parse, match,
// dispatch, respond, close. A parse failure closes the connection without
// writing anything; every later failure still produces a response.
func (s *HTTPServer) handleConnection(conn net.Conn) {
	defer conn.Close()

	if s.httpConfig.ReadTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(time.Duration(s.httpConfig.ReadTimeout) * time.Second))
	}

	reader := s.acquireReader(conn)
	defer s.releaseReader(reader)

	req, err := parseRequest(reader, conn.RemoteAddr().String())
	if err != nil {
		s.logger.Debug("Dropped malformed request",
			zap.String("remote_addr", conn.RemoteAddr().String()),
			zap.Error(err))
		return
	}

	req.App = s.app

	res := types.NewResponse(conn)
	defer res.Release()

	handler, params, found := s.router.Match(req.Method, req.Path)
	if !found {
		res.SetStatus(types.StatusNotFound)
		res.WriteString("Not Found")
		s.writeResponse(conn, req, res)
		return
	}
	req.Params = params

	exec := middleware.NewExecutor(s.chain, handler, req, res)
	if err := exec.Next(); err != nil {
		s.logger.Error("Request failed",
			zap.String("method", req.Method),
			zap.String("path", req.Path),
			zap.Error(err))

		res.SetStatus(types.StatusInternalServerError)
		res.ResetBody()
		res.WriteString("Internal Server Error: ")
		res.WriteString(rootCause(err).Error())
	}

	s.writeResponse(conn, req, res)
}

func (s *HTTPServer) writeResponse(conn net.Conn, req *types.Request, res *types.Response) {
	if res.Flushed() {
		return
	}

	if s.httpConfig.WriteTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(time.Duration(s.httpConfig.WriteTimeout) * time.Second))
	}

	res.SetHeader("Connection", "close")

	if err := res.Flush(); err != nil {
		s.logger.Warn("Failed to write response",
			zap.String("method", req.Method),
			zap.String("path", req.Path),
			zap.Error(err))
	}
}

// rootCause unwinds both wrapping conventions down to the innermost error.
func rootCause(err error) error {
	for {
		err = errors.Cause(err)
		unwrapped := stderrors.Unwrap(err)
		if unwrapped == nil {
			return err
		}
		err = unwrapped
	}
}

func (s *HTTPServer) acquireReader(conn net.Conn) *bufio.Reader {
	reader := s.readerPool.Get().(*bufio.Reader)
	reader.Reset(conn)
	return reader
}

func (s *HTTPServer) releaseReader(reader *bufio.Reader) {
	reader.Reset(nil)
	s.readerPool.Put(reader)
}
