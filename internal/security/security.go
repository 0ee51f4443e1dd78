// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package security wires the authentication and audit subsystem together.
//
// The subsystem is organized into focused subpackages:
//
//   - crypto: key management, AES-256-CBC units, PBKDF2 (SC-12, SC-13)
//   - auth: credential store and login guard (IA-5, AC-7, IA-2(1))
//   - audit: encrypted audit trail and pattern analysis (AU-3, AU-6, AU-9)
//   - network: log distribution client (AU-4(1))
//
// # NIST 800-53 Controls Implemented
//
//   - AC-7: Unsuccessful Logon Attempts
//   - AU-3: Content of Audit Records
//   - AU-4(1): Transfer to Alternate Storage
//   - AU-6: Audit Review, Analysis, and Reporting
//   - AU-9: Protection of Audit Information
//   - IA-5: Authenticator Management
//   - SC-28: Protection of Information at Rest
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    return err
//	}
//	sec, err := security.Open(cfg)
//	if err != nil {
//	    return err
//	}
//	defer sec.Close()
//	res := sec.Guard.Authenticate(user, password)
package security

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jeranaias/authguard/internal/config"
	"github.com/jeranaias/authguard/internal/security/audit"
	"github.com/jeranaias/authguard/internal/security/auth"
	"github.com/jeranaias/authguard/internal/security/crypto"
	"github.com/jeranaias/authguard/internal/security/network"
	"github.com/jeranaias/authguard/internal/util"
)

// PurposeCredentials derives the credential record keys from the master key.
const PurposeCredentials = "authguard/credentials"

// CentralNodeLoopback selects the in-process central node.
const CentralNodeLoopback = "loopback"

// Context holds the opened subsystem. Fields are safe for concurrent use.
type Context struct {
	Config   *config.Config
	Logger   *slog.Logger
	Keys     *crypto.Manager
	Trail    *audit.Trail
	Watcher  *audit.Watcher
	Shipper  *audit.Shipper
	Client   *network.Client
	Loopback *network.Loopback
	Store    *auth.CredentialStore
	Guard    *auth.LoginGuard

	credSealer *crypto.Sealer
}

type options struct {
	logger    *slog.Logger
	transport network.Transport
	now       func() time.Time
}

// Option configures Open.
type Option func(*options)

// WithLogger sets the operational logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithTransport supplies the transport to the central node. Without it,
// only the loopback central node is available.
func WithTransport(t network.Transport) Option {
	return func(o *options) { o.transport = t }
}

// WithClock overrides the time source for the guard and the trail.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Open validates cfg and opens every component. On error, anything already
// opened is closed again.
func Open(cfg *config.Config, opts ...Option) (sec *Context, err error) {
	o := options{logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	sec = &Context{Config: cfg, Logger: o.logger}
	defer func() {
		if err != nil {
			sec.Close()
			sec = nil
		}
	}()

	master, err := cfg.Key()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrConfiguration, err)
	}

	if err := sec.openKeys(master); err != nil {
		return nil, err
	}
	if err := sec.openTrail(master, o); err != nil {
		return nil, err
	}
	if err := sec.openAuth(o); err != nil {
		return nil, err
	}

	o.logger.Info("security subsystem opened",
		"node", sec.Trail.Node(),
		"audit_log", sec.Trail.Path(),
		"users", len(sec.Store.Usernames()),
		"central_node", cfg.Audit.CentralNode)
	return sec, nil
}

func (c *Context) openKeys(master []byte) error {
	var store crypto.KeyStore
	switch c.Config.Keystore.Driver {
	case "sqlite":
		s, err := crypto.OpenSQLiteKeyStore(c.Config.Keystore.Path)
		if err != nil {
			return err
		}
		store = s
	default:
		store = crypto.NewMemoryKeyStore()
	}
	keys, err := crypto.NewManager(master, store)
	if err != nil {
		store.Close()
		return err
	}
	c.Keys = keys
	return nil
}

func (c *Context) openTrail(master []byte, o options) error {
	cfg := c.Config

	var codec audit.Codec
	if cfg.Audit.Encryption.LegacyFixedIV {
		iv, err := cfg.IV()
		if err != nil {
			return fmt.Errorf("%w: %v", config.ErrConfiguration, err)
		}
		lc, err := audit.NewLegacyCodec(master, iv)
		if err != nil {
			return err
		}
		codec = lc
		c.Logger.Warn("audit trail uses a fixed IV; identical events produce identical ciphertext")
	} else {
		sc, err := audit.NewSealedCodec(master)
		if err != nil {
			return err
		}
		codec = sc
	}

	node := cfg.NodeID
	if node == "" {
		node = util.NewNodeID()
	}
	iv, _ := cfg.IV()
	trailOpts := []audit.Option{
		audit.WithNode(node),
		audit.WithLogger(c.Logger),
		audit.WithMirror(cfg.Audit.Mirror),
		audit.WithClock(o.now),
		audit.WithWindow(cfg.ResetWindow()),
		audit.WithThreshold(cfg.AlertThreshold),
		audit.WithRedactor(audit.NewKeyRedactor(master, iv)),
	}

	transport, err := c.transport(o)
	if err != nil {
		return err
	}
	if transport != nil {
		c.Client = network.NewClient(transport,
			network.WithMaxRetries(cfg.Audit.MaxRetryAttempts),
			network.WithRetryInterval(cfg.Audit.RetryInterval()),
			network.WithSendTimeout(cfg.Audit.SendTimeout()),
			network.WithLogger(c.Logger))
		c.Shipper = audit.NewShipper(c.Client, node, cfg.Audit.ShipQueueSize, c.Logger)
		trailOpts = append(trailOpts, audit.WithShipper(c.Shipper), audit.WithQuerier(c.Client))
	}

	trail, err := audit.Open(cfg.Audit.LogFile, codec, trailOpts...)
	if err != nil {
		return err
	}
	c.Trail = trail

	if cfg.Audit.Watch {
		w, err := trail.Watch()
		if err != nil {
			// Tamper detection is best-effort; the trail still works.
			c.Logger.Warn("audit log watcher unavailable", "error", err)
		} else {
			c.Watcher = w
		}
	}
	return nil
}

func (c *Context) transport(o options) (network.Transport, error) {
	switch c.Config.Audit.CentralNode {
	case "":
		return o.transport, nil
	case CentralNodeLoopback:
		if o.transport != nil {
			return o.transport, nil
		}
		c.Loopback = network.NewLoopback()
		return c.Loopback, nil
	default:
		if o.transport == nil {
			return nil, fmt.Errorf("%w: central node %q needs a transport", config.ErrConfiguration, c.Config.Audit.CentralNode)
		}
		return o.transport, nil
	}
}

func (c *Context) openAuth(o options) error {
	cfg := c.Config

	sealer, err := c.Keys.Sealer(PurposeCredentials)
	if err != nil {
		return err
	}
	c.credSealer = sealer

	store, err := auth.NewCredentialStore(cfg.CredentialsFile, sealer,
		auth.WithIterations(cfg.PasswordIterations),
		auth.WithStoreAuditor(c.Trail))
	if err != nil {
		return err
	}
	if err := store.Load(); err != nil {
		return err
	}
	c.Store = store

	c.Guard = auth.NewLoginGuard(store,
		auth.WithPolicy(auth.Policy{
			MaxAttempts:       cfg.MaxLoginAttempts,
			InitialBlock:      cfg.InitialBlockDuration(),
			CooldownIncrement: cfg.CooldownIncrement(),
		}),
		auth.WithClock(o.now),
		auth.WithLogger(c.Logger),
		auth.WithAuditor(c.Trail))
	return nil
}

// Close shuts components down in dependency order: watcher, trail, shipper,
// then key material. It is safe to call on a partially opened Context.
func (c *Context) Close() error {
	var errs []error
	if c.Watcher != nil {
		errs = append(errs, c.Watcher.Close())
	}
	if c.Trail != nil {
		errs = append(errs, c.Trail.Close())
	}
	if c.Shipper != nil {
		timeout := c.Config.Audit.SendTimeout() * time.Duration(c.Config.Audit.MaxRetryAttempts)
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		errs = append(errs, c.Shipper.Close(ctx))
		cancel()
	}
	if c.credSealer != nil {
		c.credSealer.Close()
	}
	if c.Keys != nil {
		errs = append(errs, c.Keys.Close())
	}
	return errors.Join(errs...)
}
