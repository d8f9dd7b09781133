// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Wheelstat - Inmotion Wheel Protocol Analyzer
//
// A CLI tool for polling, monitoring and controlling Inmotion V2
// self-balancing wheels over a serial or WebSocket link.

package main

import (
	"os"

	"github.com/gowgos5/wheelstat/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
