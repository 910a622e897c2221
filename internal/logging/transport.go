package logging

import (
	"net/http"
	"time"

	"github.com/focustime/focustime/internal/util"
	log "github.com/sirupsen/logrus"
)

// Transport logs outbound requests at debug level. Authorization headers and
// OAuth query parameters are masked; bodies are never logged.
type Transport struct {
	// Base performs the request. http.DefaultTransport when nil.
	Base http.RoundTripper
}

// WrapClient installs a Transport on client, keeping its current transport as the base.
func WrapClient(client *http.Client) *http.Client {
	if client == nil {
		client = &http.Client{}
	}
	if _, ok := client.Transport.(*Transport); ok {
		return client
	}
	client.Transport = &Transport{Base: client.Transport}
	return client
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	if !log.IsLevelEnabled(log.DebugLevel) {
		return base.RoundTrip(req)
	}

	requestID := GetRequestID(req.Context())
	if requestID == "" {
		requestID = GenerateRequestID()
	}
	target := req.URL.Scheme + "://" + req.URL.Host + req.URL.Path
	if raw := util.MaskSensitiveQuery(req.URL.RawQuery); raw != "" {
		target += "?" + raw
	}
	entry := log.WithFields(log.Fields{
		"request_id": requestID,
		"method":     req.Method,
		"url":        target,
	})
	if auth := req.Header.Get("Authorization"); auth != "" {
		entry = entry.WithField("authorization", util.MaskAuthorizationHeader(auth))
	}

	start := time.Now()
	resp, err := base.RoundTrip(req)
	latency := time.Since(start).Truncate(time.Millisecond)
	if err != nil {
		entry.WithField("error", err).Debugf("request failed after %v", latency)
		return nil, err
	}
	entry.WithField("status", resp.StatusCode).Debugf("request completed in %v", latency)
	return resp, nil
}
