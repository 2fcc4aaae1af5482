// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cardemu

import "strings"

// SecurityPolicy is the bypass bitmask set with the SecurityBypass host
// command. The core stores it and forwards it to the HAL; none of the flags
// change emulator behaviour.
type SecurityPolicy byte

// Security bypass flags
const (
	BypassPlatformHAL     SecurityPolicy = 0x01
	BypassMIFAREClassic   SecurityPolicy = 0x02
	BypassUIDRestrictions SecurityPolicy = 0x04
	BypassProtocolFilter  SecurityPolicy = 0x08
	BypassAll             SecurityPolicy = 0xFF
)

// Has reports whether every bit of flag is set.
func (p SecurityPolicy) Has(flag SecurityPolicy) bool {
	return p&flag == flag
}

func (p SecurityPolicy) String() string {
	switch p {
	case 0:
		return "none"
	case BypassAll:
		return "all"
	}

	names := []struct {
		name string
		flag SecurityPolicy
	}{
		{"platform-hal", BypassPlatformHAL},
		{"mifare-classic", BypassMIFAREClassic},
		{"uid", BypassUIDRestrictions},
		{"protocol-filter", BypassProtocolFilter},
	}

	var parts []string
	rest := p
	for _, n := range names {
		if p.Has(n.flag) {
			parts = append(parts, n.name)
			rest &^= n.flag
		}
	}
	if rest != 0 {
		parts = append(parts, "reserved")
	}
	return strings.Join(parts, "|")
}
