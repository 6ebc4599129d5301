package httputil

import (
	"testing"
	"time"
)

func TestNewClient(t *testing.T) {
	client := NewClient(GatewayConfig())
	if client.Timeout != 10*time.Second {
		t.Errorf("gateway client timeout = %v, want 10s", client.Timeout)
	}

	client = NewClient(ProviderConfig())
	if client.Timeout != 120*time.Second {
		t.Errorf("provider client timeout = %v, want 120s", client.Timeout)
	}
}

func TestConfigsAreDistinct(t *testing.T) {
	if GatewayConfig().Timeout >= ProviderConfig().Timeout {
		t.Error("gateway timeout should be shorter than provider timeout")
	}
}
