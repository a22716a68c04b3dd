// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

// Package client implements the offline sync client runtime.
//
// It wires the durable store, network monitor, sync processor, progressive
// scheduler, state coordinator, background workers and the optional
// terminal status view into a single process lifecycle.
package client
