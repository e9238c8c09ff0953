// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
)

func main() {
	fmt.Println("💬 go-groupsync - Offline-First Group Chat Synchronization")
	fmt.Println("==========================================================")
	fmt.Println()
	fmt.Println("go-groupsync keeps group chat devices working offline: groups, membership")
	fmt.Println("changes and messages are queued locally and reconciled with a Postgres-backed")
	fmt.Println("server that resolves conflicts atomically per batch.")
	fmt.Println()

	fmt.Println("📚 Available Examples:")
	fmt.Println()
	fmt.Println("1. 🌐 HTTP Server Example (examples/nethttp_server/)")
	fmt.Println("   The group sync server on Go's net/http package")
	fmt.Println("   Features: JWT auth, /sync/* batch endpoints, direct group/join/send calls")
	fmt.Println("   Run: go run ./examples/nethttp_server")
	fmt.Println()

	fmt.Println("2. 📱 Device Simulator (examples/mobile_flow/)")
	fmt.Println("   Cobra CLI driving a SQLite-backed device: send, join, leave, sync, watch")
	fmt.Println("   Features: TOML profile, offline queues, scripted scenarios with verification")
	fmt.Println("   Run: go run ./examples/mobile_flow scenario all")
	fmt.Println()
}
