// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package audit

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Review summarizes the events in the observation window
// (NIST 800-53 AU-6: Audit Review, Analysis, and Reporting).
type Review struct {
	Timestamp   time.Time `json:"timestamp"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	Node        string    `json:"node"`

	TotalEvents     int            `json:"total_events"`
	EventsByLevel   map[string]int `json:"events_by_level"`
	EventsByAction  map[string]int `json:"events_by_action"`
	FailedLogins    map[string]int `json:"failed_logins"`
	Lockouts        int            `json:"lockouts"`
	TamperEvents    int            `json:"tamper_events"`
	DecryptFailures uint64         `json:"decrypt_failures"`

	// Alerts lists usernames over the threshold. Review does not append
	// alert events; use AnalyzePatterns for that.
	Alerts []Alert `json:"alerts,omitempty"`
}

// Review builds a summary of this node's events inside the window.
func (t *Trail) Review() *Review {
	end := t.now()
	start := end.Add(-t.window)
	events := t.Events()

	r := &Review{
		Timestamp:       end,
		WindowStart:     start,
		WindowEnd:       end,
		Node:            t.node,
		EventsByLevel:   make(map[string]int),
		EventsByAction:  make(map[string]int),
		FailedLogins:    make(map[string]int),
		DecryptFailures: t.DecryptFailures(),
	}
	for _, ev := range events {
		if ev.Timestamp.Before(start) {
			continue
		}
		r.TotalEvents++
		r.EventsByLevel[ev.Level.String()]++
		if ev.Action != "" {
			r.EventsByAction[ev.Action]++
		}
		if IsFailedLogin(ev) {
			r.FailedLogins[ev.Subject]++
		}
		switch ev.Action {
		case ActionAccountLocked:
			r.Lockouts++
		case ActionAuditTamper:
			r.TamperEvents++
		}
	}
	r.Alerts = aggregate(events, start, t.threshold, t.window, false)
	return r
}

// Report renders the review as plain text.
func (r *Review) Report() string {
	var sb strings.Builder

	sb.WriteString("================================================================================\n")
	sb.WriteString("                          AUDIT REVIEW REPORT                                   \n")
	sb.WriteString("================================================================================\n\n")

	sb.WriteString(fmt.Sprintf("Report Generated: %s\n", r.Timestamp.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("Node:             %s\n", r.Node))
	sb.WriteString(fmt.Sprintf("Analysis Window:  %s to %s\n\n",
		r.WindowStart.Format(time.RFC3339), r.WindowEnd.Format(time.RFC3339)))

	sb.WriteString("SUMMARY\n")
	sb.WriteString("-------\n")
	sb.WriteString(fmt.Sprintf("Total Events:      %d\n", r.TotalEvents))
	for _, level := range []Level{LevelInfo, LevelWarning, LevelCritical} {
		sb.WriteString(fmt.Sprintf("%-18s %d\n", level.String()+":", r.EventsByLevel[level.String()]))
	}
	sb.WriteString(fmt.Sprintf("Lockouts:          %d\n", r.Lockouts))
	sb.WriteString(fmt.Sprintf("Tamper Events:     %d\n", r.TamperEvents))
	sb.WriteString(fmt.Sprintf("Decrypt Failures:  %d\n\n", r.DecryptFailures))

	if len(r.FailedLogins) > 0 {
		sb.WriteString("FAILED LOGINS BY USER\n")
		sb.WriteString("---------------------\n")
		users := make([]string, 0, len(r.FailedLogins))
		for u := range r.FailedLogins {
			users = append(users, u)
		}
		sort.Strings(users)
		for _, u := range users {
			sb.WriteString(fmt.Sprintf("%-25s %d\n", u, r.FailedLogins[u]))
		}
		sb.WriteString("\n")
	}

	if len(r.Alerts) > 0 {
		sb.WriteString("ALERTS\n")
		sb.WriteString("------\n")
		for _, a := range r.Alerts {
			sb.WriteString(fmt.Sprintf("[HIGH] %s\n", a.Description()))
			sb.WriteString(fmt.Sprintf("         First: %s  Last: %s\n",
				a.FirstSeen.Format(time.RFC3339), a.LastSeen.Format(time.RFC3339)))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("================================================================================\n")
	return sb.String()
}

// JSON renders the review as indented JSON.
func (r *Review) JSON() (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal review: %w", err)
	}
	return string(data), nil
}
