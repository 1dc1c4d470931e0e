// Copyright (c) 2026 The coral developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package rpcclient implements the HTTP/JSON clients for the external
// collaborators this node consumes: the connector admin, the channel
// service and the outbound packet runtime.  All clients share one
// error taxonomy and one retry discipline: network class failures are
// retried with bounded exponential backoff, HTTP status failures are
// never retried.
package rpcclient

import (
	"bytes"
	"io/ioutil"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/coral-colony/corald/coralutil/er"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Err is the uniform error type for remote RPC failures.
var Err er.ErrorType = er.NewErrorType("rpcclient.Err")

var (
	// ErrValidation is a 400 class rejection of the request payload.
	ErrValidation = Err.CodeWithDetail("ErrValidation",
		"remote rejected request payload")

	// ErrUnauthorized is a 401/403 rejection.
	ErrUnauthorized = Err.CodeWithDetail("ErrUnauthorized",
		"remote rejected credentials")

	// ErrAlreadyExists is a 409, e.g. adding a peer twice.
	ErrAlreadyExists = Err.CodeWithDetail("ErrAlreadyExists",
		"resource already exists")

	// ErrNotFound is a 404.
	ErrNotFound = Err.CodeWithDetail("ErrNotFound",
		"resource not found")

	// ErrNetwork is a transport level failure: refused connection,
	// reset, DNS failure, timeout.  Only this class is retried.
	ErrNetwork = Err.CodeWithDetail("ErrNetwork",
		"network error talking to remote")

	// ErrServer is a 5xx from the remote.
	ErrServer = Err.CodeWithDetail("ErrServer",
		"remote server error")
)

const (
	defaultAttempts  = 3
	backoffBase      = 250 * time.Millisecond
	backoffCap       = 5 * time.Second
	defaultRPCWindow = 30 * time.Second
)

// httpDoer lets tests stand in for *http.Client.
type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout == 0 {
		timeout = defaultRPCWindow
	}
	return &http.Client{Timeout: timeout}
}

func classifyStatus(status int, body []byte) er.R {
	info := string(body)
	if len(info) > 256 {
		info = info[:256]
	}
	switch {
	case status == http.StatusConflict:
		return ErrAlreadyExists.New(info, nil)
	case status == http.StatusNotFound:
		return ErrNotFound.New(info, nil)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrUnauthorized.New(info, nil)
	case status >= 400 && status < 500:
		return ErrValidation.New(info, nil)
	default:
		return ErrServer.New(info, nil)
	}
}

// doJSON performs one HTTP round trip with a JSON body and decodes a
// JSON response into out when out is non-nil.  The raw response body is
// returned for callers that need it.
func doJSON(client httpDoer, method, url, authToken string,
	in, out interface{}) ([]byte, er.R) {

	var bodyReader *bytes.Reader
	if in != nil {
		raw, errr := json.Marshal(in)
		if errr != nil {
			return nil, er.E(errr)
		}
		bodyReader = bytes.NewReader(raw)
	} else {
		bodyReader = bytes.NewReader(nil)
	}
	httpRequest, errr := http.NewRequest(method, url, bodyReader)
	if errr != nil {
		return nil, er.E(errr)
	}
	httpRequest.Close = true
	httpRequest.Header.Set("Content-Type", "application/json")
	if authToken != "" {
		httpRequest.Header.Set("Authorization", "Bearer "+authToken)
	}

	httpResponse, errr := client.Do(httpRequest)
	if errr != nil {
		return nil, ErrNetwork.New(errr.Error(), nil)
	}
	respBytes, errr := ioutil.ReadAll(httpResponse.Body)
	httpResponse.Body.Close()
	if errr != nil {
		return nil, ErrNetwork.New("reading response: "+errr.Error(), nil)
	}
	if httpResponse.StatusCode < 200 || httpResponse.StatusCode >= 300 {
		return respBytes, classifyStatus(httpResponse.StatusCode, respBytes)
	}
	if out != nil && len(respBytes) > 0 {
		if errr := json.Unmarshal(respBytes, out); errr != nil {
			return respBytes, er.Errorf("error reading json reply: %v", errr)
		}
	}
	return respBytes, nil
}

// withRetry runs f, retrying network class failures with bounded
// exponential backoff.  Any other failure is returned immediately.
func withRetry(attempts int, f func() er.R) er.R {
	if attempts <= 0 {
		attempts = defaultAttempts
	}
	delay := backoffBase
	var err er.R
	for i := 0; i < attempts; i++ {
		if err = f(); err == nil {
			return nil
		}
		if !ErrNetwork.Is(err) {
			return err
		}
		if i+1 < attempts {
			log.Debugf("Network error, retrying in %v: %s", delay, err.Message())
			time.Sleep(delay)
			delay *= 2
			if delay > backoffCap {
				delay = backoffCap
			}
		}
	}
	return err
}
