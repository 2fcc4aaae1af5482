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

package uart

import (
	"fmt"
	"slices"
	"strings"

	"go.bug.st/serial/enumerator"
)

// PortInfo describes a serial port that may lead to a front end.
type PortInfo struct {
	Name         string
	VIDPID       string
	Product      string
	SerialNumber string
	USB          bool
	Likely       bool
}

// Known USB-UART bridges used on front-end boards.
var knownBridges = []string{
	"067B:2303", // Prolific PL2303
	"0403:6001", // FTDI FT232
	"10C4:EA60", // Silicon Labs CP210x
	"1A86:7523", // QinHeng CH340
}

var productKeywords = []string{"nfc", "rfid", "13.56", "cardemu"}

// DetectPorts lists serial ports, USB ones first and likely front ends
// before the rest. Ports named in ignore are skipped.
func DetectPorts(ignore ...string) ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}
	return rankPorts(details, ignore), nil
}

func rankPorts(details []*enumerator.PortDetails, ignore []string) []PortInfo {
	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		if d == nil || isIgnored(d.Name, ignore) {
			continue
		}
		info := PortInfo{
			Name:         d.Name,
			USB:          d.IsUSB,
			Product:      d.Product,
			SerialNumber: d.SerialNumber,
		}
		if d.IsUSB {
			info.VIDPID = strings.ToUpper(d.VID + ":" + d.PID)
		}
		info.Likely = isLikelyFrontend(info)
		ports = append(ports, info)
	}

	slices.SortStableFunc(ports, func(a, b PortInfo) int {
		return rank(b) - rank(a)
	})
	return ports
}

func rank(p PortInfo) int {
	r := 0
	if p.Likely {
		r += 2
	}
	if p.USB {
		r++
	}
	return r
}

func isLikelyFrontend(p PortInfo) bool {
	if slices.Contains(knownBridges, p.VIDPID) {
		return true
	}
	product := strings.ToLower(p.Product)
	for _, kw := range productKeywords {
		if strings.Contains(product, kw) {
			return true
		}
	}
	return false
}

func isIgnored(name string, ignore []string) bool {
	for _, path := range ignore {
		if path != "" && strings.EqualFold(path, name) {
			return true
		}
	}
	return false
}
