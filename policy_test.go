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

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSecurityPolicyString(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		want   string
		policy SecurityPolicy
	}{
		{name: "none", policy: 0, want: "none"},
		{name: "all", policy: BypassAll, want: "all"},
		{name: "single flag", policy: BypassUIDRestrictions, want: "uid"},
		{name: "combined", policy: BypassPlatformHAL | BypassProtocolFilter, want: "platform-hal|protocol-filter"},
		{name: "reserved bits", policy: BypassMIFAREClassic | 0x40, want: "mifare-classic|reserved"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.policy.String())
		})
	}
}

func TestSecurityPolicyHas(t *testing.T) {
	t.Parallel()

	p := BypassMIFAREClassic | BypassUIDRestrictions
	assert.True(t, p.Has(BypassMIFAREClassic))
	assert.True(t, p.Has(BypassUIDRestrictions))
	assert.False(t, p.Has(BypassPlatformHAL))
	assert.False(t, p.Has(BypassAll))
	assert.True(t, BypassAll.Has(BypassProtocolFilter))
}
