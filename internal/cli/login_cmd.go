// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// login_cmd.go - Guarded login (AC-7, IA-2(1)).
//
// Command: login <user> [--code <totp>]
//
// The password is prompted. A user enrolled in MFA must pass --code. The
// exit code is 4 for rejected and locked attempts. Lockout state lives in
// the running process, so repeated attempts escalate inside the shell.

package cli

import (
	"fmt"
	"time"

	"github.com/jeranaias/authguard/internal/security"
	"github.com/jeranaias/authguard/internal/security/auth"
)

// HandleLogin handles "login".
func HandleLogin(args Args) error {
	p := NewArgParser(args.Raw)
	user := p.Positional(0)
	if user == "" {
		return ErrMissingArgument("username", "authguard login <user> [--code <totp>]")
	}
	password, err := args.readSecret("Password: ")
	if err != nil {
		return err
	}

	return withSecurity(args, func(sec *security.Context) error {
		var res auth.Result
		if code := p.Flag("code"); code != "" {
			res = sec.Guard.AuthenticateWithCode(user, password, code)
		} else {
			res = sec.Guard.Authenticate(user, password)
		}

		if args.JSON {
			data := LoginData{
				Username:          user,
				Outcome:           res.Outcome.String(),
				RemainingAttempts: res.RemainingAttempts,
			}
			if res.Outcome == auth.OutcomeLocked {
				data.RetryAfterSeconds = int(res.RetryAfter.Round(time.Second) / time.Second)
				data.LockedUntil = res.LockedUntil.UTC().Format(time.RFC3339)
			}
			resp := NewJSONResponse("login", data)
			if err := res.Err(); err != nil {
				msg := err.Error()
				resp.Success = false
				resp.Error = &msg
				if perr := resp.Print(); perr != nil {
					return perr
				}
				return &reportedError{err: err}
			}
			return resp.Print()
		}

		switch res.Outcome {
		case auth.OutcomeAuthenticated:
			args.info("%s %s", RenderStatus("ok"), res.Message())
		case auth.OutcomeLocked:
			fmt.Fprintf(stdout, "%s %s\n", RenderStatus("locked"), res.Message())
		default:
			fmt.Fprintf(stdout, "%s %s\n", RenderStatus("fail"), res.Message())
		}
		if err := res.Err(); err != nil {
			return &reportedError{err: err}
		}
		return nil
	})
}
