package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"github.com/MrEthical07/goRecover/gateway"
	"github.com/MrEthical07/goRecover/identity"
	"github.com/MrEthical07/goRecover/internal/startup"
)

const (
	devEmail    = "demo@example.com"
	devPassword = "demo-password"
)

// startDevService runs an identity service in-process over miniredis with
// one seeded account. Passcodes go to the standard logger.
func startDevService(ctx context.Context) (*gateway.InProcess, func(), error) {
	client, stopRedis, err := startup.StartMiniredis()
	if err != nil {
		return nil, nil, err
	}

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		stopRedis()
		return nil, nil, fmt.Errorf("generate signing key: %w", err)
	}
	cfg := identity.DefaultConfig()
	cfg.Token.PrivateKey = priv
	cfg.Audit.Enabled = false

	dir := identity.NewMemoryDirectory()
	svc, err := identity.NewService(cfg, identity.Backends{
		Redis:     client,
		Directory: dir,
		Notifier:  identity.LogNotifier{},
	})
	if err != nil {
		stopRedis()
		return nil, nil, err
	}

	hash, err := svc.HashPassword(devPassword)
	if err == nil {
		_, err = dir.Add(ctx, devEmail, hash)
	}
	if err != nil {
		svc.Close()
		stopRedis()
		return nil, nil, fmt.Errorf("seed account: %w", err)
	}

	stop := func() {
		svc.Close()
		stopRedis()
	}
	return gateway.NewInProcess(svc), stop, nil
}
