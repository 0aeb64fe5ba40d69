package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/stablereq/stablereq/pkg/models"
)

// buildTransportConfig applies request descriptor defaults and composes the
// base URL.
func buildTransportConfig(desc models.RequestDescriptor) (models.TransportConfig, error) {
	if desc.Hostname == "" {
		return models.TransportConfig{}, fmt.Errorf("request descriptor: hostname is required")
	}

	protocol := desc.Protocol
	if protocol == "" {
		protocol = models.ProtocolHTTPS
	}
	method := desc.Method
	if method == "" {
		method = models.MethodGET
	}
	path := desc.Path
	if path == "" {
		path = "/"
	}
	if !strings.HasPrefix(path, "/") {
		return models.TransportConfig{}, fmt.Errorf("request descriptor: path must begin with \"/\", got %q", path)
	}
	port := desc.Port
	if port == 0 {
		port = 443
	}
	timeoutMs := desc.TimeoutMs
	if timeoutMs == 0 {
		timeoutMs = 15000
	}

	baseURL := fmt.Sprintf("%s://%s:%d", protocol, desc.Hostname, port)

	return models.TransportConfig{
		Method:  string(method),
		URL:     path,
		BaseURL: baseURL,
		Headers: desc.Headers,
		Params:  desc.Query,
		Data:    desc.Body,
		Timeout: time.Duration(timeoutMs) * time.Millisecond,
		Cancel:  desc.Cancel,
	}, nil
}
