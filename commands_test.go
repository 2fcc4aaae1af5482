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

func TestCommandIDString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		want string
		id   CommandID
	}{
		{id: CmdInitChip, want: "InitChip"},
		{id: CmdConfigureEmulation, want: "ConfigureEmulation"},
		{id: CmdStartEmulation, want: "StartEmulation"},
		{id: CmdStopEmulation, want: "StopEmulation"},
		{id: CmdRawProtocol, want: "RawProtocol"},
		{id: CmdSecurityBypass, want: "SecurityBypass"},
		{id: CmdFirmwareUpdate, want: "FirmwareUpdate"},
		{id: 0x99, want: "Command(0x99)"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.id.String())
		})
	}
}

func TestCommandIDsMatchWireValues(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []byte{0x20, 0x24, 0x25, 0x26, 0x30, 0x40, 0xF0}, []byte{
		byte(CmdInitChip), byte(CmdConfigureEmulation), byte(CmdStartEmulation),
		byte(CmdStopEmulation), byte(CmdRawProtocol), byte(CmdSecurityBypass), byte(CmdFirmwareUpdate),
	})
	assert.Equal(t, []byte{0x00, 0x01, 0x02, 0xFF}, []byte{
		byte(StatusSuccess), byte(StatusMalformed), byte(StatusDenied), byte(StatusUnknown),
	})
	assert.Equal(t, ProtocolMask(0x1F), ProtocolAll)
}
