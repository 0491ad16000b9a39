// Copyright (c) 2021 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package sink

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mdtpipe/mdtpipe/logger"
)

// httpClient is shared by every HTTP-based sink; sinks differ only
// in how they build the request.
var httpClient = &http.Client{Timeout: 120 * time.Second}

// doUpload gzips body and POSTs it to url with the given headers,
// classifying the response per the sink error taxonomy: 5xx, 429 and
// connection failures are Retryable, 2xx and 409 Conflict are Ok, and
// any other status is Permanent.
func doUpload(
	ctx context.Context, log logger.Logger, sinkName, url string,
	headers map[string]string, body []byte,
) Result {
	return doRequest(ctx, log, sinkName, http.MethodPost, url, headers, body, true)
}

// doRequestPlain sends body unmodified (no gzip), used for small
// control requests like index creation.
func doRequestPlain(
	ctx context.Context, log logger.Logger, sinkName, method, url string,
	headers map[string]string, body []byte,
) Result {
	return doRequest(ctx, log, sinkName, method, url, headers, body, false)
}

func doRequest(
	ctx context.Context, log logger.Logger, sinkName, method, url string,
	headers map[string]string, body []byte, gzipBody bool,
) Result {
	start := time.Now()
	reqBody := body
	if gzipBody {
		var buf bytes.Buffer
		gw := gzip.NewWriter(&buf)
		if _, err := gw.Write(body); err != nil {
			return Result{Permanent: true, Err: fmt.Errorf("gzip body: %w", err)}
		}
		if err := gw.Close(); err != nil {
			return Result{Permanent: true, Err: fmt.Errorf("gzip close: %w", err)}
		}
		reqBody = buf.Bytes()
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(reqBody))
	if err != nil {
		return Result{Permanent: true, Err: fmt.Errorf("build request: %w", err)}
	}
	if gzipBody {
		req.Header.Set("Content-Encoding", "gzip")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		log.Errorf("%s: upload to %s failed: %v", sinkName, url, err)
		return Result{Retryable: true, Err: err}
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	log.Infof("%s: upload to %s took %s, status %d", sinkName, url, time.Since(start), resp.StatusCode)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return Result{Ok: true, Status: resp.StatusCode}
	case resp.StatusCode == http.StatusConflict:
		// A conflict (e.g. concurrent index creation) is idempotent
		// success, not a permanent failure.
		return Result{Ok: true, Status: resp.StatusCode}
	case resp.StatusCode >= 500 || resp.StatusCode == 429 || resp.StatusCode == 599:
		return Result{Retryable: true, Status: resp.StatusCode,
			Err: fmt.Errorf("%s: %s: status %d: %s", sinkName, url, resp.StatusCode, respBody)}
	default:
		return Result{Permanent: true, Status: resp.StatusCode,
			Err: fmt.Errorf("%s: %s: status %d: %s", sinkName, url, resp.StatusCode, respBody)}
	}
}

func basicAuthHeader(username, password string) string {
	if username == "" && password == "" {
		return ""
	}
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
}
