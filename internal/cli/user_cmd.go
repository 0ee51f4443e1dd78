// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// user_cmd.go - Account management commands (IA-5).
//
// Command: user [subcommand]
// Aliases: users
//
// Subcommands:
//   list (default)           List accounts (alias: ls)
//   register <user>          Create an account; the password is prompted
//   passwd <user> [--admin]  Change a password; --admin skips the old one
//   delete <user> --confirm  Remove an account and its lockout state
//   roles <user>             Show roles
//   grant <user> <role>      Assign a role
//   revoke <user> <role>     Remove a role
//   mfa <user>               Enroll a TOTP second factor
//
// Passwords are read without echo on a terminal, or one per line from
// piped stdin.

package cli

import (
	"fmt"

	"github.com/jeranaias/authguard/internal/security"
)

const userUsage = `authguard user list
  authguard user register <user>
  authguard user passwd <user> [--admin]
  authguard user delete <user> --confirm
  authguard user roles <user>
  authguard user grant <user> <role>
  authguard user revoke <user> <role>
  authguard user mfa <user>`

// HandleUser handles "user" subcommands.
func HandleUser(args Args) error {
	p := NewArgParser(args.Raw)
	switch args.Subcommand {
	case "", "list", "ls":
		return withSecurity(args, func(sec *security.Context) error {
			return handleUserList(args, sec)
		})
	case "register", "add":
		return handleUserRegister(args, p)
	case "passwd", "password":
		return handleUserPasswd(args, p)
	case "delete", "rm":
		return handleUserDelete(args, p)
	case "roles":
		return handleUserRoles(args, p)
	case "grant", "revoke":
		return handleUserRole(args, p, args.Subcommand == "grant")
	case "mfa":
		return handleUserMFA(args, p)
	default:
		return NewUsageError(fmt.Sprintf("unknown user subcommand: %s", args.Subcommand), userUsage)
	}
}

func handleUserList(args Args, sec *security.Context) error {
	locked := make(map[string]bool)
	for _, u := range sec.Guard.Locked() {
		locked[u] = true
	}

	store := sec.Store
	users := make([]UserData, 0)
	for _, name := range store.Usernames() {
		roles, err := store.Roles(name)
		if err != nil {
			return err
		}
		users = append(users, UserData{
			Username: name,
			Roles:    roles,
			MFA:      store.HasTOTP(name),
			Locked:   locked[name],
		})
	}

	if args.JSON {
		return NewJSONResponse("user list", users).Print()
	}

	printTitle("Accounts")
	if len(users) == 0 {
		fmt.Fprintln(stdout, DimStyle.Render("  No accounts registered"))
		return nil
	}
	fmt.Fprintf(stdout, "  %s %s %s %s\n",
		LabelStyle.Render("USERNAME"), fitColumn("MFA", 5), fitColumn("STATUS", 10), "ROLES")
	for _, u := range users {
		status := RenderStatus("ok")
		if u.Locked {
			status = RenderStatus("locked")
		}
		mfa := "no"
		if u.MFA {
			mfa = "yes"
		}
		fmt.Fprintf(stdout, "  %s %s %s %s\n",
			RenderLabel(u.Username), fitColumn(mfa, 5), fitColumn(status, 10), joinOrDash(u.Roles))
	}
	if n := store.Corrupted(); n > 0 {
		fmt.Fprintln(stdout, WarningStyle.Render(fmt.Sprintf("\n  %d corrupt record(s) were skipped at load", n)))
	}
	return nil
}

func handleUserRegister(args Args, p *ArgParser) error {
	user := p.Positional(1)
	if user == "" {
		return ErrMissingArgument("username", "authguard user register <user>")
	}
	password, err := args.readNewPassword()
	if err != nil {
		return err
	}
	return withSecurity(args, func(sec *security.Context) error {
		if err := sec.Guard.Register(user, password); err != nil {
			return err
		}
		if args.JSON {
			return NewJSONResponse("user register", map[string]string{"username": user}).Print()
		}
		args.info("%s User %s registered", RenderStatus("ok"), user)
		return nil
	})
}

func handleUserPasswd(args Args, p *ArgParser) error {
	user := p.Positional(1)
	if user == "" {
		return ErrMissingArgument("username", "authguard user passwd <user> [--admin]")
	}
	admin := p.BoolFlag("admin")

	var old string
	if !admin {
		var err error
		if old, err = args.readSecret("Current password: "); err != nil {
			return err
		}
	}
	password, err := args.readNewPassword()
	if err != nil {
		return err
	}

	return withSecurity(args, func(sec *security.Context) error {
		if admin {
			err = sec.Guard.SetPassword(user, password)
		} else {
			err = sec.Guard.ChangePassword(user, old, password)
		}
		if err != nil {
			return err
		}
		if args.JSON {
			return NewJSONResponse("user passwd", map[string]any{"username": user, "admin": admin}).Print()
		}
		args.info("%s Password changed for %s", RenderStatus("ok"), user)
		return nil
	})
}

func handleUserDelete(args Args, p *ArgParser) error {
	user := p.Positional(1)
	if user == "" {
		return ErrMissingArgument("username", "authguard user delete <user> --confirm")
	}
	if !p.BoolFlag("confirm", "y") {
		return NewUsageError("deleting an account requires --confirm", "authguard user delete <user> --confirm")
	}
	return withSecurity(args, func(sec *security.Context) error {
		if err := sec.Guard.DeleteUser(user); err != nil {
			return err
		}
		if args.JSON {
			return NewJSONResponse("user delete", map[string]string{"username": user}).Print()
		}
		args.info("%s User %s deleted", RenderStatus("ok"), user)
		return nil
	})
}

func handleUserRoles(args Args, p *ArgParser) error {
	user := p.Positional(1)
	if user == "" {
		return ErrMissingArgument("username", "authguard user roles <user>")
	}
	return withSecurity(args, func(sec *security.Context) error {
		roles, err := sec.Store.Roles(user)
		if err != nil {
			return err
		}
		if args.JSON {
			return NewJSONResponse("user roles", map[string]any{"username": user, "roles": roles}).Print()
		}
		printField("Roles", joinOrDash(roles))
		return nil
	})
}

func handleUserRole(args Args, p *ArgParser, grant bool) error {
	usage := "authguard user " + args.Subcommand + " <user> <role>"
	user, role := p.Positional(1), p.Positional(2)
	if user == "" {
		return ErrMissingArgument("username", usage)
	}
	if role == "" {
		return ErrMissingArgument("role", usage)
	}
	return withSecurity(args, func(sec *security.Context) error {
		var err error
		if grant {
			err = sec.Guard.AssignRole(user, role)
		} else {
			err = sec.Guard.RevokeRole(user, role)
		}
		if err != nil {
			return err
		}
		if args.JSON {
			return NewJSONResponse("user "+args.Subcommand,
				map[string]string{"username": user, "role": role}).Print()
		}
		verb := "revoked from"
		if grant {
			verb = "granted to"
		}
		args.info("%s Role %s %s %s", RenderStatus("ok"), role, verb, user)
		return nil
	})
}

func handleUserMFA(args Args, p *ArgParser) error {
	user := p.Positional(1)
	if user == "" {
		return ErrMissingArgument("username", "authguard user mfa <user>")
	}
	return withSecurity(args, func(sec *security.Context) error {
		url, err := sec.Guard.EnrollTOTP(user, sec.Config.MFA.Issuer)
		if err != nil {
			return err
		}
		if args.JSON {
			return NewJSONResponse("user mfa", map[string]string{"username": user, "otpauth_url": url}).Print()
		}
		printTitle("MFA Enrollment")
		printField("User", user)
		printField("Provisioning URL", url)
		fmt.Fprintln(stdout, DimStyle.Render("\n  Add the URL to an authenticator app. It is not shown again."))
		return nil
	})
}
