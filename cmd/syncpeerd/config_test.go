package main

import "testing"

func TestConfigValidateRequiresAddresses(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.validate(); err == nil {
		t.Fatal("expected validation error with no listen/peer addresses")
	}

	cfg.ListenAddr = "127.0.0.1:9001"
	if err := cfg.validate(); err == nil {
		t.Fatal("expected validation error with no peer address")
	}

	cfg.PeerAddr = "127.0.0.1:9002"
	if err := cfg.validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestConfigValidateRejectsUnknownTransport(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:9001"
	cfg.PeerAddr = "127.0.0.1:9002"
	cfg.Transport = "carrier-pigeon"
	if err := cfg.validate(); err == nil {
		t.Fatal("expected validation error for unknown transport")
	}
}

func TestConfigValidateRejectsUnknownLogFormat(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:9001"
	cfg.PeerAddr = "127.0.0.1:9002"
	cfg.LogFormat = "xml"
	if err := cfg.validate(); err == nil {
		t.Fatal("expected validation error for unknown log format")
	}
}

func TestConfigValidateRejectsNonPositiveInterval(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:9001"
	cfg.PeerAddr = "127.0.0.1:9002"
	cfg.SyncInterval = 0
	if err := cfg.validate(); err == nil {
		t.Fatal("expected validation error for non-positive sync interval")
	}
}
