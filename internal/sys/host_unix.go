//go:build !windows

// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sys

// HostSystemByOS reports the host-system code recorded in headers written on
// this platform. On Unix we don't inspect the underlying filesystem type, we
// just report the OS family.
func HostSystemByOS() HostSystem {
	return HostSystemUNIX
}
