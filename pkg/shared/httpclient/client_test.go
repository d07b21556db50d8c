package httpclient

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/scan-io-git/triageio/internal/config"
)

func TestApplyHTTPClientConfig(t *testing.T) {
	no := false
	tests := []struct {
		name      string
		in        *config.HTTPClient
		wantRetry int
		wantTO    time.Duration
		wantProxy string
		insecure  bool
	}{
		{name: "nil uses defaults", in: nil, wantRetry: 3, wantTO: 60 * time.Second},
		{
			name:      "explicit values",
			in:        &config.HTTPClient{RetryCount: 7, Timeout: 5 * time.Second, Proxy: config.Proxy{Host: "http://proxy", Port: 3128}},
			wantRetry: 7,
			wantTO:    5 * time.Second,
			wantProxy: "http://proxy:3128",
		},
		{
			name:      "tls verification disabled",
			in:        &config.HTTPClient{TLSClientConfig: config.TLSClientConfig{Verify: &no}},
			wantRetry: 3,
			wantTO:    60 * time.Second,
			insecure:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := applyHTTPClientConfig(tt.in)
			assert.Equal(t, tt.wantRetry, got.RetryCount)
			assert.Equal(t, tt.wantTO, got.Timeout)
			assert.Equal(t, tt.wantProxy, got.Proxy)
			assert.Equal(t, tt.insecure, got.TLSClientConfig.InsecureSkipVerify)
		})
	}
}
