// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package inmotion

// Checksum computes the running XOR of data
func Checksum(data []byte) byte {
	var check byte
	for _, b := range data {
		check ^= b
	}
	return check
}
