// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// config_cmd.go - Configuration commands.
//
// Command: config [subcommand]
//
// Subcommands:
//   show (default)                 Print the configuration with keys masked
//   path                           Print the configuration file location
//   init [--force] [--keystore D]  Write a new configuration with fresh keys
//   validate                       Load and validate the configuration

package cli

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jeranaias/authguard/internal/config"
	"github.com/jeranaias/authguard/internal/security/crypto"
)

const configUsage = `authguard config show
  authguard config path
  authguard config init [--force] [--keystore memory|sqlite]
  authguard config validate`

// HandleConfig handles "config" subcommands.
func HandleConfig(args Args) error {
	p := NewArgParser(args.Raw)
	switch args.Subcommand {
	case "", "show":
		return handleConfigShow(args)
	case "path":
		return handleConfigPath(args)
	case "init":
		return handleConfigInit(args, p)
	case "validate", "check":
		return handleConfigValidate(args)
	default:
		return NewUsageError(fmt.Sprintf("unknown config subcommand: %s", args.Subcommand), configUsage)
	}
}

// configPath is where init writes: --config, AUTHGUARD_CONFIG, or
// ~/.authguard/config.toml.
func configPath(args Args) (string, error) {
	if args.ConfigPath != "" {
		return args.ConfigPath, nil
	}
	if env := os.Getenv("AUTHGUARD_CONFIG"); env != "" {
		return env, nil
	}
	dir, err := config.ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

func handleConfigShow(args Args) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}
	if args.JSON {
		return NewJSONResponse("config show", json.RawMessage(cfg.String())).Print()
	}
	fmt.Fprintln(stdout, cfg.String())
	return nil
}

func handleConfigPath(args Args) error {
	path, err := configPath(args)
	if err != nil {
		return err
	}
	_, statErr := os.Stat(path)
	exists := statErr == nil
	if args.JSON {
		return NewJSONResponse("config path", map[string]any{"path": path, "exists": exists}).Print()
	}
	fmt.Fprintln(stdout, path)
	return nil
}

func handleConfigInit(args Args, p *ArgParser) error {
	path, err := configPath(args)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil && !p.BoolFlag("force") {
		return NewUsageError(fmt.Sprintf("%s already exists", path), "authguard config init --force")
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	cfg := config.Default()
	if driver := p.Flag("keystore"); driver != "" {
		if driver != "memory" && driver != "sqlite" {
			return NewValidationError("keystore", driver, "must be memory or sqlite")
		}
		cfg.Keystore.Driver = driver
	}

	key, err := crypto.GenerateMasterKey(config.KeySize * 8)
	if err != nil {
		return err
	}
	defer crypto.ZeroBytes(key)
	iv, err := crypto.NewIV()
	if err != nil {
		return err
	}
	cfg.Audit.Encryption.Key = hex.EncodeToString(key)
	cfg.Audit.Encryption.IV = hex.EncodeToString(iv)

	if err := config.Save(cfg, path); err != nil {
		return err
	}
	if args.JSON {
		return NewJSONResponse("config init", map[string]string{"path": path}).Print()
	}
	args.info("%s Wrote %s with a fresh audit key", RenderStatus("ok"), path)
	args.info("%s", DimStyle.Render("  The key protects the audit trail and credentials. Keep a backup."))
	return nil
}

func handleConfigValidate(args Args) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}
	if args.JSON {
		return NewJSONResponse("config validate", map[string]any{
			"valid":        true,
			"node_id":      cfg.NodeID,
			"central_node": cfg.Audit.CentralNode,
		}).Print()
	}
	args.info("%s Configuration is valid", RenderStatus("ok"))
	return nil
}
