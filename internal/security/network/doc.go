// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package network provides the log distribution client used to ship audit
// events to a central node and to query events from other nodes.
//
// Client wraps a Transport with the delivery policy: at most MaxRetries
// attempts spaced a fixed RetryInterval apart, each bounded by SendTimeout.
// Loopback is an in-process Transport.
//
//	client := network.NewClient(network.NewLoopback(),
//	    network.WithMaxRetries(3),
//	    network.WithRetryInterval(5*time.Second),
//	)
//	err := client.Send(ctx, "node-a", payload)
//	payloads, err := client.Query(ctx, map[string]string{"node": "node-b"})
package network
