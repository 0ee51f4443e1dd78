// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// keys_cmd.go - Key management commands (SC-12, SC-13).
//
// Command: keys [subcommand]
// Aliases: key
//
// Subcommands:
//   list (default)                 List managed keys (alias: ls)
//   gen [--bits N]                 Print a fresh random key as hex
//   store <id> [--bits N]          Generate and store a key
//   rotate <id> [--bits N]         Replace a key and bump its version
//   export <id> [--format F]       Print a key as HEX or BASE64
//   import <id> [--format F]       Read an encoded key from stdin and store it
//   delete <id> --confirm          Remove a key
//   hash <file> [--algorithm A] [--hmac ID]
//                                  Digest a file, or HMAC it under a managed key
//   verify <file> <hex> [--algorithm A] [--hmac ID]
//
// Managed keys persist only with keystore.driver = "sqlite". Every change
// is recorded in the audit trail without key material.

package cli

import (
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/jeranaias/authguard/internal/security"
	"github.com/jeranaias/authguard/internal/security/audit"
	"github.com/jeranaias/authguard/internal/security/crypto"
)

const keysUsage = `authguard keys list
  authguard keys gen [--bits N]
  authguard keys store <id> [--bits N]
  authguard keys rotate <id> [--bits N]
  authguard keys export <id> [--format HEX|BASE64]
  authguard keys import <id> [--format HEX|BASE64]
  authguard keys delete <id> --confirm
  authguard keys hash <file> [--algorithm SHA256|SHA512] [--hmac <id>]
  authguard keys verify <file> <hex> [--algorithm SHA256|SHA512] [--hmac <id>]`

// DefaultKeyBits is the size of generated keys.
const DefaultKeyBits = crypto.KeySize * 8

// HandleKeys handles "keys" subcommands.
func HandleKeys(args Args) error {
	p := NewArgParser(args.Raw)
	switch args.Subcommand {
	case "gen", "generate":
		return handleKeysGen(args, p)
	case "hash":
		return handleKeysHash(args, p)
	case "verify":
		return handleKeysVerify(args, p)
	}

	var fn func(args Args, p *ArgParser, sec *security.Context) error
	switch args.Subcommand {
	case "", "list", "ls":
		fn = handleKeysList
	case "store", "create":
		fn = handleKeysStore
	case "rotate":
		fn = handleKeysRotate
	case "export":
		fn = handleKeysExport
	case "import":
		fn = handleKeysImport
	case "delete", "rm":
		fn = handleKeysDelete
	default:
		return NewUsageError(fmt.Sprintf("unknown keys subcommand: %s", args.Subcommand), keysUsage)
	}
	return withSecurity(args, func(sec *security.Context) error {
		return fn(args, p, sec)
	})
}

func keyBits(p *ArgParser) (int, error) {
	if !p.HasFlag("bits") {
		return DefaultKeyBits, nil
	}
	n, err := ParseIntWithValidation(p.Flag("bits"), "bits")
	if err != nil || n%8 != 0 {
		return 0, NewValidationError("bits", p.Flag("bits"), "must be a positive multiple of 8")
	}
	return n, nil
}

func keyID(p *ArgParser, usage string) (string, error) {
	id := p.Positional(1)
	if id == "" {
		return "", ErrMissingArgument("key id", usage)
	}
	return id, nil
}

// auditKeyChange records a key operation. Key material never reaches the trail.
func auditKeyChange(sec *security.Context, level audit.Level, op, id string, extra map[string]string) {
	details := map[string]string{"operation": op, "key_id": id}
	for k, v := range extra {
		details[k] = v
	}
	sec.Trail.Append(level, "Key "+op,
		audit.WithAction(audit.ActionKeyManagement),
		audit.WithDetails(details))
}

func handleKeysGen(args Args, p *ArgParser) error {
	bits, err := keyBits(p)
	if err != nil {
		return err
	}
	key, err := crypto.GenerateMasterKey(bits)
	if err != nil {
		return err
	}
	defer crypto.ZeroBytes(key)
	encoded := hex.EncodeToString(key)
	if args.JSON {
		return NewJSONResponse("keys gen", map[string]any{"bits": bits, "key": encoded}).Print()
	}
	fmt.Fprintln(stdout, encoded)
	return nil
}

func handleKeysList(args Args, _ *ArgParser, sec *security.Context) error {
	ids, err := sec.Keys.ListKeys()
	if err != nil {
		return err
	}
	keys := make([]KeyData, 0, len(ids))
	for _, id := range ids {
		rec, err := sec.Keys.KeyInfo(id)
		if err != nil {
			return err
		}
		kd := KeyData{ID: rec.ID, Version: rec.Version, CreatedAt: rec.CreatedAt.UTC().Format(time.RFC3339)}
		if !rec.RotatedAt.IsZero() {
			kd.RotatedAt = rec.RotatedAt.UTC().Format(time.RFC3339)
		}
		keys = append(keys, kd)
	}

	if args.JSON {
		return NewJSONResponse("keys list", keys).Print()
	}
	printTitle("Managed Keys (" + sec.Config.Keystore.Driver + ")")
	if len(keys) == 0 {
		fmt.Fprintln(stdout, DimStyle.Render("  No keys stored"))
		return nil
	}
	for _, k := range keys {
		line := fmt.Sprintf("v%d  created %s", k.Version, k.CreatedAt)
		if k.RotatedAt != "" {
			line += "  rotated " + k.RotatedAt
		}
		printField(k.ID, line)
	}
	return nil
}

func handleKeysStore(args Args, p *ArgParser, sec *security.Context) error {
	id, err := keyID(p, "authguard keys store <id> [--bits N]")
	if err != nil {
		return err
	}
	bits, err := keyBits(p)
	if err != nil {
		return err
	}
	key, err := crypto.GenerateMasterKey(bits)
	if err != nil {
		return err
	}
	defer crypto.ZeroBytes(key)
	if err := sec.Keys.StoreKey(id, key); err != nil {
		return err
	}
	auditKeyChange(sec, audit.LevelInfo, "stored", id, map[string]string{"bits": fmt.Sprint(bits)})

	if args.JSON {
		return NewJSONResponse("keys store", map[string]any{"id": id, "bits": bits}).Print()
	}
	args.info("%s Stored %d-bit key %s", RenderStatus("ok"), bits, id)
	return nil
}

func handleKeysRotate(args Args, p *ArgParser, sec *security.Context) error {
	id, err := keyID(p, "authguard keys rotate <id> [--bits N]")
	if err != nil {
		return err
	}
	bits, err := keyBits(p)
	if err != nil {
		return err
	}
	key, err := sec.Keys.RotateKey(id, bits)
	if err != nil {
		return err
	}
	crypto.ZeroBytes(key)
	rec, err := sec.Keys.KeyInfo(id)
	if err != nil {
		return err
	}
	auditKeyChange(sec, audit.LevelInfo, "rotated", id, map[string]string{"version": fmt.Sprint(rec.Version)})

	if args.JSON {
		return NewJSONResponse("keys rotate", map[string]any{"id": id, "version": rec.Version}).Print()
	}
	args.info("%s Rotated key %s to version %d", RenderStatus("ok"), id, rec.Version)
	return nil
}

func handleKeysExport(args Args, p *ArgParser, sec *security.Context) error {
	id, err := keyID(p, "authguard keys export <id> [--format HEX|BASE64]")
	if err != nil {
		return err
	}
	format := p.FlagOrDefault("format", crypto.FormatHex)
	encoded, err := sec.Keys.ExportKey(id, format)
	if err != nil {
		return err
	}
	auditKeyChange(sec, audit.LevelWarning, "exported", id, map[string]string{"format": format})

	if args.JSON {
		return NewJSONResponse("keys export", map[string]string{"id": id, "format": format, "key": encoded}).Print()
	}
	fmt.Fprintln(stdout, encoded)
	return nil
}

func handleKeysImport(args Args, p *ArgParser, sec *security.Context) error {
	id, err := keyID(p, "authguard keys import <id> [--format HEX|BASE64]")
	if err != nil {
		return err
	}
	format := p.FlagOrDefault("format", crypto.FormatHex)
	encoded, err := args.readSecret("Key: ")
	if err != nil {
		return err
	}
	if err := sec.Keys.ImportKey(id, encoded, format); err != nil {
		return err
	}
	auditKeyChange(sec, audit.LevelInfo, "imported", id, map[string]string{"format": format})

	if args.JSON {
		return NewJSONResponse("keys import", map[string]string{"id": id}).Print()
	}
	args.info("%s Imported key %s", RenderStatus("ok"), id)
	return nil
}

func handleKeysDelete(args Args, p *ArgParser, sec *security.Context) error {
	id, err := keyID(p, "authguard keys delete <id> --confirm")
	if err != nil {
		return err
	}
	if !p.BoolFlag("confirm", "y") {
		return NewUsageError("deleting a key requires --confirm", "authguard keys delete <id> --confirm")
	}
	if err := sec.Keys.DeleteKey(id); err != nil {
		return err
	}
	auditKeyChange(sec, audit.LevelWarning, "deleted", id, nil)

	if args.JSON {
		return NewJSONResponse("keys delete", map[string]string{"id": id}).Print()
	}
	args.info("%s Deleted key %s", RenderStatus("ok"), id)
	return nil
}

// withDigestKey runs fn with the managed key named by --hmac, or with a nil
// key for a plain digest. Plain digests never open the security subsystem.
func withDigestKey(args Args, p *ArgParser, usage string, fn func(key []byte) error) error {
	if !p.HasFlag("hmac") {
		return fn(nil)
	}
	id := p.Flag("hmac")
	if id == "" {
		return ErrMissingArgument("hmac key id", usage)
	}
	return withSecurity(args, func(sec *security.Context) error {
		key, err := sec.Keys.RetrieveKey(id)
		if err != nil {
			return err
		}
		defer crypto.ZeroBytes(key)
		return fn(key)
	})
}

func handleKeysHash(args Args, p *ArgParser) error {
	usage := "authguard keys hash <file> [--algorithm SHA256|SHA512] [--hmac <id>]"
	path := p.Positional(1)
	if path == "" {
		return ErrMissingArgument("file", usage)
	}
	algorithm := p.FlagOrDefault("algorithm", crypto.SHA256)
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return withDigestKey(args, p, usage, func(key []byte) error {
		var digest string
		var err error
		if key != nil {
			digest, err = crypto.HMACHex(key, data, algorithm)
		} else {
			digest, err = crypto.HashHex(data, algorithm)
		}
		if err != nil {
			return NewValidationError("algorithm", algorithm, err.Error())
		}
		if args.JSON {
			return NewJSONResponse("keys hash", map[string]any{"file": path, "algorithm": algorithm, "hmac": key != nil, "digest": digest}).Print()
		}
		fmt.Fprintf(stdout, "%s  %s\n", digest, path)
		return nil
	})
}

func handleKeysVerify(args Args, p *ArgParser) error {
	usage := "authguard keys verify <file> <hex> [--algorithm SHA256|SHA512] [--hmac <id>]"
	path, expected := p.Positional(1), p.Positional(2)
	if path == "" {
		return ErrMissingArgument("file", usage)
	}
	if expected == "" {
		return ErrMissingArgument("expected digest", usage)
	}
	algorithm := p.FlagOrDefault("algorithm", crypto.SHA256)
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return withDigestKey(args, p, usage, func(key []byte) error {
		var ok bool
		var err error
		if key != nil {
			ok, err = crypto.VerifyHMAC(key, data, expected, algorithm)
		} else {
			ok, err = crypto.VerifyIntegrity(data, expected, algorithm)
		}
		if err != nil {
			return NewValidationError("algorithm", algorithm, err.Error())
		}

		if args.JSON {
			resp := NewJSONResponse("keys verify", map[string]any{"file": path, "algorithm": algorithm, "hmac": key != nil, "match": ok})
			if err := resp.Print(); err != nil {
				return err
			}
		} else if ok {
			args.info("%s %s matches", RenderStatus("ok"), path)
		} else {
			fmt.Fprintf(stdout, "%s %s does not match\n", RenderStatus("fail"), path)
		}
		if !ok {
			return &reportedError{err: fmt.Errorf("%w: %s", ErrIntegrityMismatch, path)}
		}
		return nil
	})
}
