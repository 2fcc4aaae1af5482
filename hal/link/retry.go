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

package link

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"time"

	cardemu "github.com/ZaparooProject/go-cardemu"
)

// RetryConfig controls how link exchanges are retried after transient
// failures (no ACK, NACK, corrupted frame, timeout).
type RetryConfig struct {
	// MaxAttempts is the total number of attempts (<= 1 disables retries)
	MaxAttempts int
	// InitialBackoff is the wait before the second attempt
	InitialBackoff time.Duration
	// MaxBackoff caps the wait between attempts
	MaxBackoff time.Duration
	// BackoffMultiplier grows the wait after each attempt
	BackoffMultiplier float64
	// Jitter adds up to this fraction of the wait at random
	Jitter float64
	// RetryTimeout bounds all attempts together (0 = no bound)
	RetryTimeout time.Duration
}

// DefaultRetryConfig returns the link retry defaults
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    10 * time.Millisecond,
		MaxBackoff:        1 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            0.1,
		RetryTimeout:      5 * time.Second,
	}
}

// NoRetry performs every exchange exactly once.
func NoRetry() *RetryConfig {
	return &RetryConfig{MaxAttempts: 1}
}

// Retry runs fn until it succeeds, fails with a non-retryable error, the
// attempts are used up or ctx ends. The last error from fn is returned.
func Retry(ctx context.Context, cfg *RetryConfig, fn func() error) error {
	if cfg == nil {
		cfg = DefaultRetryConfig()
	}
	if cfg.MaxAttempts <= 1 {
		return fn()
	}

	if cfg.RetryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.RetryTimeout)
		defer cancel()
	}

	var lastErr error
	wait := cfg.InitialBackoff
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return fmt.Errorf("retry cancelled: %w", err)
		}

		err := fn()
		if err == nil || !cardemu.IsRetryable(err) {
			return err
		}
		lastErr = err
		if attempt >= cfg.MaxAttempts {
			return lastErr
		}

		cardemu.Debugf("link attempt %d/%d failed (%s): %v", attempt, cfg.MaxAttempts, cardemu.GetErrorType(err), err)
		timer := time.NewTimer(jittered(wait, cfg.Jitter))
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}
		wait = nextBackoff(wait, cfg)
	}
}

func nextBackoff(wait time.Duration, cfg *RetryConfig) time.Duration {
	next := time.Duration(float64(wait) * cfg.BackoffMultiplier)
	if cfg.MaxBackoff > 0 && next > cfg.MaxBackoff {
		return cfg.MaxBackoff
	}
	return next
}

// jittered adds a random share of up to factor*wait to wait.
func jittered(wait time.Duration, factor float64) time.Duration {
	if factor <= 0 || wait <= 0 {
		return wait
	}
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return wait
	}
	frac := float64(binary.LittleEndian.Uint64(b[:])) / float64(1<<64)
	return wait + time.Duration(frac*factor*float64(wait))
}
