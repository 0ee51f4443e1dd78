// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jeranaias/authguard/internal/util"
)

// ErrNoQuerier is returned by AnalyzeDistributedPatterns when the trail was
// opened without a log distribution client.
var ErrNoQuerier = errors.New("no log distribution client configured")

// Querier fetches audit payloads held by the central node. Payloads are
// JSON-encoded events as shipped by a Shipper.
type Querier interface {
	Query(ctx context.Context, filters map[string]string) ([]string, error)
}

// Alert is an aggregated brute-force indication for one username.
type Alert struct {
	ID          string        `json:"id"`
	Subject     string        `json:"subject"`
	Count       int           `json:"count"`
	Threshold   int           `json:"threshold"`
	Window      time.Duration `json:"window"`
	Nodes       []string      `json:"nodes"`
	FirstSeen   time.Time     `json:"first_seen"`
	LastSeen    time.Time     `json:"last_seen"`
	Distributed bool          `json:"distributed"`
}

// Description is the alert text written to the trail.
func (a Alert) Description() string {
	if a.Distributed {
		return fmt.Sprintf("Distributed brute-force pattern for user %s: %d failed logins across %d node(s) within %s",
			a.Subject, a.Count, len(a.Nodes), a.Window)
	}
	return fmt.Sprintf("Repeated failed logins for user %s: %d within %s", a.Subject, a.Count, a.Window)
}

// AnalyzePatterns groups this node's failed-login events inside the
// observation window by username and raises one alert per username whose
// count exceeds the threshold. Each alert is also appended to the trail as
// a WARNING event; alert events are never counted themselves.
func (t *Trail) AnalyzePatterns() []Alert {
	since := t.now().Add(-t.window)
	alerts := aggregate(t.Events(), since, t.threshold, t.window, false)
	t.raise(alerts)
	return alerts
}

// AnalyzeDistributedPatterns merges this node's events with those the
// central node holds for each of nodes and applies the same grouping and
// threshold. A node whose query fails contributes nothing; the failure is
// logged and analysis continues.
func (t *Trail) AnalyzeDistributedPatterns(ctx context.Context, nodes []string) ([]Alert, error) {
	if t.querier == nil {
		return nil, ErrNoQuerier
	}

	since := t.now().Add(-t.window)
	events := t.Events()
	for _, node := range nodes {
		if node == "" || node == t.node {
			continue
		}
		payloads, err := t.querier.Query(ctx, map[string]string{
			"node":  node,
			"since": since.UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			t.logger.Warn("audit query failed", "node", node, "error", err)
			continue
		}
		for _, p := range payloads {
			var ev Event
			if err := json.Unmarshal([]byte(p), &ev); err != nil {
				t.logger.Warn("skipping unparseable remote audit event", "node", node, "error", err)
				continue
			}
			if ev.Origin == "" {
				ev.Origin = node
			}
			events = append(events, ev)
		}
	}

	alerts := aggregate(events, since, t.threshold, t.window, true)
	t.raise(alerts)
	return alerts, nil
}

type tally struct {
	count       int
	nodes       map[string]bool
	first, last time.Time
}

// aggregate counts failed logins per subject. Events seen twice (a local
// event that was also shipped and queried back) are counted once.
func aggregate(events []Event, since time.Time, threshold int, window time.Duration, distributed bool) []Alert {
	seen := make(map[string]bool, len(events))
	bySubject := make(map[string]*tally)

	for _, ev := range events {
		if !IsFailedLogin(ev) || ev.Timestamp.Before(since) {
			continue
		}
		if seen[ev.key()] {
			continue
		}
		seen[ev.key()] = true

		tl, ok := bySubject[ev.Subject]
		if !ok {
			tl = &tally{nodes: make(map[string]bool), first: ev.Timestamp, last: ev.Timestamp}
			bySubject[ev.Subject] = tl
		}
		tl.count++
		tl.nodes[ev.Origin] = true
		if ev.Timestamp.Before(tl.first) {
			tl.first = ev.Timestamp
		}
		if ev.Timestamp.After(tl.last) {
			tl.last = ev.Timestamp
		}
	}

	subjects := make([]string, 0, len(bySubject))
	for s := range bySubject {
		subjects = append(subjects, s)
	}
	sort.Strings(subjects)

	var alerts []Alert
	for _, s := range subjects {
		tl := bySubject[s]
		if tl.count <= threshold {
			continue
		}
		nodes := make([]string, 0, len(tl.nodes))
		for n := range tl.nodes {
			nodes = append(nodes, n)
		}
		sort.Strings(nodes)
		alerts = append(alerts, Alert{
			ID:          util.NewID(),
			Subject:     s,
			Count:       tl.count,
			Threshold:   threshold,
			Window:      window,
			Nodes:       nodes,
			FirstSeen:   tl.first,
			LastSeen:    tl.last,
			Distributed: distributed,
		})
	}
	return alerts
}

func (t *Trail) raise(alerts []Alert) {
	for _, a := range alerts {
		action := ActionPatternAlert
		if a.Distributed {
			action = ActionDistributedAlert
		}
		t.Append(LevelWarning, a.Description(),
			WithSubject(a.Subject),
			WithAction(action),
			WithDetails(map[string]string{
				"alert_id":  a.ID,
				"count":     strconv.Itoa(a.Count),
				"threshold": strconv.Itoa(a.Threshold),
				"window":    a.Window.String(),
				"nodes":     strings.Join(a.Nodes, ","),
			}))
	}
}
