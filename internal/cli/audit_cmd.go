// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// audit_cmd.go - Audit trail commands (AU-6, AU-9).
//
// Command: audit [subcommand]
//
// Subcommands:
//   view (default)           Decrypt and show the on-disk log
//   critical                 Show this session's CRITICAL events
//   analyze                  Run local brute-force pattern analysis
//   distributed [--nodes a,b] Merge events from other nodes and analyze
//   review                   Summary report for the observation window
//   stats                    Trail and shipping counters
//
// Flags for view:
//   --lines N                Show the last N lines (default 50)
//   --level L                Minimum level: INFO, WARNING or CRITICAL
//   --user U                 Only events about user U

package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/authguard/internal/security"
	"github.com/jeranaias/authguard/internal/security/audit"
)

const auditUsage = `authguard audit view [--lines N] [--level L] [--user U]
  authguard audit critical
  authguard audit analyze
  authguard audit distributed [--nodes a,b]
  authguard audit review
  authguard audit stats`

// DefaultViewLines is the number of log lines "audit view" shows.
const DefaultViewLines = 50

// HandleAudit handles "audit" subcommands.
func HandleAudit(args Args) error {
	p := NewArgParser(args.Raw)
	var fn func(args Args, p *ArgParser, sec *security.Context) error
	switch args.Subcommand {
	case "", "view", "show":
		fn = handleAuditView
	case "critical":
		fn = handleAuditCritical
	case "analyze", "patterns":
		fn = handleAuditAnalyze
	case "distributed":
		fn = handleAuditDistributed
	case "review", "report":
		fn = handleAuditReview
	case "stats":
		fn = handleAuditStats
	default:
		return NewUsageError(fmt.Sprintf("unknown audit subcommand: %s", args.Subcommand), auditUsage)
	}
	return withSecurity(args, func(sec *security.Context) error {
		return fn(args, p, sec)
	})
}

func handleAuditView(args Args, p *ArgParser, sec *security.Context) error {
	lines := DefaultViewLines
	if p.HasFlag("lines") {
		n, err := ParseIntWithValidation(p.Flag("lines"), "lines")
		if err != nil {
			return NewValidationError("lines", p.Flag("lines"), err.Error())
		}
		lines = n
	}
	minLevel := audit.LevelInfo
	if s := p.Flag("level"); s != "" {
		l, err := audit.ParseLevel(s)
		if err != nil {
			return NewValidationError("level", s, "must be INFO, WARNING or CRITICAL")
		}
		minLevel = l
	}
	user := p.Flag("user")

	view, err := sec.Trail.ViewLogs()
	if err != nil {
		return err
	}

	filtered := minLevel != audit.LevelInfo || user != ""
	var events []audit.Event
	for _, ev := range view.Events {
		if ev.Level < minLevel || (user != "" && ev.Subject != user) {
			continue
		}
		events = append(events, ev)
	}
	out := view.Lines
	if filtered {
		out = make([]string, 0, len(events))
		for _, ev := range events {
			out = append(out, ev.Line())
		}
	}
	if len(out) > lines {
		out = out[len(out)-lines:]
	}
	if len(events) > lines {
		events = events[len(events)-lines:]
	}

	if args.JSON {
		return NewJSONResponse("audit view", map[string]any{
			"path":     sec.Trail.Path(),
			"events":   events,
			"skipped":  view.Failures,
			"returned": len(out),
		}).Print()
	}

	printTitle("Audit Log")
	printField("File", sec.Trail.Path())
	if view.Failures > 0 {
		printField("Undecryptable lines", WarningStyle.Render(fmt.Sprint(view.Failures)))
	}
	fmt.Fprintln(stdout)
	if len(out) == 0 {
		fmt.Fprintln(stdout, DimStyle.Render("  No matching entries"))
		return nil
	}
	for _, line := range out {
		fmt.Fprintln(stdout, "  "+colorLine(line))
	}
	return nil
}

// colorLine styles a log line by its level tag.
func colorLine(line string) string {
	for level, style := range levelStyles {
		if strings.Contains(line, "["+level+"]") {
			return style.Render(line)
		}
	}
	return line
}

func handleAuditCritical(args Args, _ *ArgParser, sec *security.Context) error {
	events := sec.Trail.GetCritical()
	if args.JSON {
		if events == nil {
			events = []audit.Event{}
		}
		return NewJSONResponse("audit critical", events).Print()
	}
	printTitle("Critical Events")
	if len(events) == 0 {
		fmt.Fprintln(stdout, DimStyle.Render("  No critical events in this session"))
		return nil
	}
	for _, ev := range events {
		fmt.Fprintln(stdout, "  "+ErrorStyle.Render(ev.Line()))
	}
	return nil
}

func handleAuditAnalyze(args Args, _ *ArgParser, sec *security.Context) error {
	return printAlerts(args, "audit analyze", "Pattern Analysis", sec.Trail.AnalyzePatterns())
}

func handleAuditDistributed(args Args, p *ArgParser, sec *security.Context) error {
	nodes := splitList(p.Flag("nodes"))
	if len(nodes) == 0 && sec.Loopback != nil {
		nodes = sec.Loopback.Nodes()
	}
	if len(nodes) == 0 {
		return NewUsageError("no nodes to query", "authguard audit distributed --nodes a,b")
	}

	timeout := sec.Config.Audit.SendTimeout() * time.Duration(len(nodes))
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	alerts, err := sec.Trail.AnalyzeDistributedPatterns(ctx, nodes)
	if err != nil {
		return err
	}
	return printAlerts(args, "audit distributed", "Distributed Pattern Analysis", alerts)
}

func printAlerts(args Args, command, title string, alerts []audit.Alert) error {
	if args.JSON {
		if alerts == nil {
			alerts = []audit.Alert{}
		}
		return NewJSONResponse(command, alerts).Print()
	}
	printTitle(title)
	if len(alerts) == 0 {
		fmt.Fprintln(stdout, SuccessStyle.Render("  No suspicious patterns"))
		return nil
	}
	for _, a := range alerts {
		fmt.Fprintf(stdout, "  %s %s\n", RenderStatus("warning"), a.Description())
		if len(a.Nodes) > 0 {
			printField("Nodes", strings.Join(a.Nodes, ", "))
		}
		printField("First seen", a.FirstSeen.Format(time.DateTime))
		printField("Last seen", a.LastSeen.Format(time.DateTime))
	}
	return nil
}

func handleAuditReview(args Args, _ *ArgParser, sec *security.Context) error {
	review := sec.Trail.Review()
	if args.JSON {
		return NewJSONResponse("audit review", review).Print()
	}
	fmt.Fprint(stdout, review.Report())
	return nil
}

func handleAuditStats(args Args, _ *ArgParser, sec *security.Context) error {
	stats := sec.Trail.Stats()
	data := map[string]any{
		"node":             sec.Trail.Node(),
		"events":           stats.Events,
		"critical":         stats.Critical,
		"decrypt_failures": stats.DecryptFailures,
		"write_failures":   stats.WriteFailures,
		"log_size":         stats.LogSize,
	}
	var ship audit.ShipperStats
	if sec.Shipper != nil {
		ship = sec.Shipper.Stats()
		data["shipped"] = ship.Sent
		data["ship_failures"] = ship.Failed
		data["ship_dropped"] = ship.Dropped
	}
	if args.JSON {
		return NewJSONResponse("audit stats", data).Print()
	}

	printTitle("Audit Trail Statistics")
	printField("Node", sec.Trail.Node())
	printField("Log file", sec.Trail.Path())
	printField("Log size", formatBytes(stats.LogSize))
	printField("Session events", stats.Events)
	printField("Critical", stats.Critical)
	printField("Decrypt failures", stats.DecryptFailures)
	printField("Write failures", stats.WriteFailures)
	if sec.Shipper != nil {
		fmt.Fprintln(stdout, SectionStyle.Render("Central node: "+sec.Config.Audit.CentralNode))
		printField("Shipped", ship.Sent)
		printField("Failed", ship.Failed)
		printField("Dropped", ship.Dropped)
	}
	return nil
}
