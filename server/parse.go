package server

import (
	"bufio"
	"io"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/saiset-co/sai-dispatch/types"
)

const maxHeaderLines = 128

// parseRequest reads one HTTP/1.1 request from the stream. Any malformed
// input is reported to the caller, which closes the connection without
// responding.
func parseRequest(reader *bufio.Reader, remoteAddr string) (*types.Request, error) {
	tp := textproto.NewReader(reader)

	line, err := tp.ReadLine()
	if err != nil {
		return nil, types.WrapError(err, "failed to read request line")
	}

	method, target, proto, err := splitRequestLine(line)
	if err != nil {
		return nil, err
	}

	req := &types.Request{
		Method:     method,
		RawTarget:  target,
		Proto:      proto,
		RemoteAddr: remoteAddr,
		Headers:    make(map[string]string, 8),
	}

	req.Path, req.Query = splitTarget(target)

	if err := readHeaders(tp, req); err != nil {
		return nil, err
	}

	if err := readBody(reader, req); err != nil {
		return nil, err
	}

	return req, nil
}

func splitRequestLine(line string) (method, target, proto string, err error) {
	first := strings.IndexByte(line, ' ')
	if first <= 0 {
		return "", "", "", types.Errorf(types.ErrRequestLineInvalid, "line: %q", line)
	}

	second := strings.IndexByte(line[first+1:], ' ')
	if second <= 0 {
		return "", "", "", types.Errorf(types.ErrRequestLineInvalid, "line: %q", line)
	}
	second += first + 1

	method = line[:first]
	target = line[first+1 : second]
	proto = line[second+1:]

	if target == "" || !strings.HasPrefix(proto, "HTTP/") {
		return "", "", "", types.Errorf(types.ErrRequestLineInvalid, "line: %q", line)
	}

	return method, target, proto, nil
}

// splitTarget separates the path from the query string. Query values stay
// raw: percent decoding is left to handlers that need it.
func splitTarget(target string) (string, map[string]string) {
	qm := strings.IndexByte(target, '?')
	if qm < 0 {
		return target, nil
	}

	path := target[:qm]
	rawQuery := target[qm+1:]
	if rawQuery == "" {
		return path, nil
	}

	query := make(map[string]string, 4)
	for _, pair := range strings.Split(rawQuery, "&") {
		if pair == "" {
			continue
		}
		if eq := strings.IndexByte(pair, '='); eq >= 0 {
			query[pair[:eq]] = pair[eq+1:]
		} else {
			query[pair] = ""
		}
	}

	return path, query
}

func readHeaders(tp *textproto.Reader, req *types.Request) error {
	for i := 0; ; i++ {
		if i >= maxHeaderLines {
			return types.Errorf(types.ErrRequestHeaderInvalid, "too many header lines")
		}

		line, err := tp.ReadLine()
		if err != nil {
			return types.WrapError(err, "failed to read header line")
		}
		if line == "" {
			return nil
		}

		colon := strings.IndexByte(line, ':')
		if colon <= 0 {
			return types.Errorf(types.ErrRequestHeaderInvalid, "line: %q", line)
		}

		name := textproto.CanonicalMIMEHeaderKey(line[:colon])
		value := strings.TrimSpace(line[colon+1:])
		req.Headers[name] = value
	}
}

func readBody(reader *bufio.Reader, req *types.Request) error {
	raw, exists := req.Headers["Content-Length"]
	if !exists {
		return nil
	}

	length, err := strconv.Atoi(raw)
	if err != nil || length < 0 {
		return types.Errorf(types.ErrContentLengthInvalid, "value: %q", raw)
	}
	if length == 0 {
		return nil
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(reader, body); err != nil {
		return types.Errorf(types.ErrRequestBodyTruncated, "expected %d bytes: %v", length, err)
	}

	req.Body = body
	return nil
}
