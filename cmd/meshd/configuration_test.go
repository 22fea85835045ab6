package main

import (
	"testing"

	"github.com/hashicorp/go-multierror"

	"github.com/robjsp/meshcast/pkg/meshid"
)

func TestConfigValidateAcceptsWellFormedFields(t *testing.T) {
	cfg := config{
		self:             meshid.NewNodeId(),
		tcpListen:        "localhost:4000",
		udpListen:        "localhost:4001",
		peers:            []string{"localhost:4002", "localhost:4003"},
		statusAPIEnabled: true,
		statusAPIListen:  "localhost:8080",
	}

	if err := cfg.validate(); err != nil {
		t.Fatalf("well-formed config reported invalid: %v", err)
	}
}

func TestConfigValidateAggregatesEveryBadField(t *testing.T) {
	cfg := config{
		self:             meshid.NewNodeId(),
		tcpListen:        "not-a-host-port",
		udpListen:        "also-bad",
		peers:            []string{"still-bad", "localhost:4002"},
		statusAPIEnabled: true,
		statusAPIListen:  "",
	}

	err := cfg.validate()
	if err == nil {
		t.Fatal("expected validate to reject a config with four bad fields")
	}

	wrapped := err.(*multierror.Error).WrappedErrors()
	if len(wrapped) != 4 {
		t.Fatalf("expected all 4 bad fields reported at once, got %d errors: %v", len(wrapped), wrapped)
	}
}
