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

//nolint:paralleltest // Tests modify package-level session log state, cannot run in parallel
package cardemu

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitSessionLog_CreatesFileWithHeader(t *testing.T) {
	dir := t.TempDir()
	t.Cleanup(func() { _ = CloseSessionLog() })

	path, err := InitSessionLog(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(path))
	assert.Equal(t, path, GetSessionLogPath())

	matched, err := regexp.MatchString(`^cardemu_\d{8}_\d{6}\.log$`, filepath.Base(path))
	require.NoError(t, err)
	assert.True(t, matched, "unexpected log name %s", path)

	Debugf("configured %d sectors", 16)
	require.NoError(t, CloseSessionLog())
	assert.Empty(t, GetSessionLogPath())

	content, err := os.ReadFile(path) //nolint:gosec // path is from InitSessionLog
	require.NoError(t, err)
	text := string(content)
	for _, want := range []string{
		"=== Card Emulator Session Log ===",
		"Started:",
		"PID:",
		"OS:",
		"Go Version:",
		"Command Line:",
		"DEBUG: configured 16 sectors",
		"=== Session ended ===",
	} {
		assert.Contains(t, text, want)
	}
}

func TestCloseSessionLog_NothingOpen(t *testing.T) {
	require.NoError(t, CloseSessionLog())
	assert.NoError(t, CloseSessionLog())
}

func TestInitSessionLog_ReplacesOpenLog(t *testing.T) {
	t.Cleanup(func() { _ = CloseSessionLog() })

	first, err := InitSessionLog(t.TempDir())
	require.NoError(t, err)
	second, err := InitSessionLog(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, second, GetSessionLogPath())
	content, err := os.ReadFile(first) //nolint:gosec // path is from InitSessionLog
	require.NoError(t, err)
	assert.Contains(t, string(content), "=== Session ended ===")
}

func TestInitSessionLog_MissingDirectory(t *testing.T) {
	_, err := InitSessionLog(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.Empty(t, GetSessionLogPath())
}
