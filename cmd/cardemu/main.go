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

// Command cardemu drives a card-emulation front end over UART, I2C or SPI.
// It boots the front end, optionally preloads a card from a saved profile
// or NDEF text, and then services host and RF traffic until interrupted.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	cardemu "github.com/ZaparooProject/go-cardemu"
	"github.com/ZaparooProject/go-cardemu/hal/link"
	"github.com/ZaparooProject/go-cardemu/profile"
	"github.com/ZaparooProject/go-cardemu/transport/i2c"
	"github.com/ZaparooProject/go-cardemu/transport/spi"
	"github.com/ZaparooProject/go-cardemu/transport/uart"
)

const statusInterval = time.Second

type config struct {
	transport   string
	port        string
	profilePath string
	ndefText    string
	logDir      string
	uid         string
	stageBase   uint
	stageSize   int
	traceSize   int
	start       bool
	debug       bool
	lock        bool
}

// Package-level flag variables
var (
	flagTransport string
	flagPort      string
	flagProfile   string
	flagNDEFText  string
	flagLogDir    string
	flagUID       string
	flagStageBase uint
	flagStageSize int
	flagTraceSize int
	flagStart     bool
	flagDebug     bool
	flagLock      bool
)

func init() {
	flag.StringVar(&flagTransport, "transport", "uart", "Front-end link: uart, i2c or spi")
	flag.StringVar(&flagPort, "port", "", "Serial port, I2C bus or SPI port (auto-detect UART if empty)")
	flag.StringVar(&flagProfile, "profile", "", "Card profile (JSON dump) to preload")
	flag.StringVar(&flagNDEFText, "ndef-text", "", "Preload a MIFARE Classic 1K carrying this NDEF text")
	flag.StringVar(&flagUID, "uid", "04A1B2C3", "UID for -ndef-text cards, in hex")
	flag.BoolVar(&flagStart, "start", false, "Start emulation after preloading")
	flag.BoolVar(&flagDebug, "debug", false, "Enable debug output")
	flag.StringVar(&flagLogDir, "log", "", "Write a session log into this directory")
	flag.UintVar(&flagStageBase, "stage-base", 0x08000000, "Firmware staging area base address")
	flag.IntVar(&flagStageSize, "stage-size", 0, "Firmware staging area size in bytes (0 denies updates)")
	flag.IntVar(&flagTraceSize, "trace", 16, "Link frames kept for error traces (0 disables)")
	flag.BoolVar(&flagLock, "lock", true, "Hold an exclusive lock on the port while running")
}

func parseConfig() *config {
	cfg := &config{
		transport:   strings.ToLower(flagTransport),
		port:        flagPort,
		profilePath: flagProfile,
		ndefText:    flagNDEFText,
		uid:         flagUID,
		logDir:      flagLogDir,
		stageBase:   flagStageBase,
		stageSize:   flagStageSize,
		traceSize:   flagTraceSize,
		start:       flagStart,
		debug:       flagDebug,
		lock:        flagLock,
	}

	if cfg.debug {
		cardemu.SetDebugEnabled(true)
	}

	return cfg
}

func (c *config) validate() error {
	switch c.transport {
	case "uart", "i2c", "spi":
	default:
		return fmt.Errorf("unsupported transport type: %s", c.transport)
	}
	if c.transport != "uart" && c.port == "" {
		return fmt.Errorf("-port is required for %s", c.transport)
	}
	if c.profilePath != "" && c.ndefText != "" {
		return errors.New("-profile and -ndef-text are mutually exclusive")
	}
	if c.start && c.profilePath == "" && c.ndefText == "" {
		return errors.New("-start needs -profile or -ndef-text")
	}
	if c.stageSize < 0 || c.traceSize < 0 {
		return errors.New("-stage-size and -trace must not be negative")
	}
	return nil
}

// detectPort picks the most likely UART front end.
func detectPort() (string, error) {
	ports, err := uart.DetectPorts()
	if err != nil {
		return "", fmt.Errorf("failed to detect serial ports: %w", err)
	}
	if len(ports) == 0 {
		return "", errors.New("no serial ports found")
	}
	cardemu.Debugf("detected %d serial ports, using %s (%s)", len(ports), ports[0].Name, ports[0].Product)
	return ports[0].Name, nil
}

// openPort opens the front-end link named by cfg.
func openPort(cfg *config) (link.Port, error) {
	switch cfg.transport {
	case "uart":
		transport, err := uart.New(cfg.port)
		if err != nil {
			return nil, fmt.Errorf("failed to create UART transport: %w", err)
		}
		return transport, nil
	case "i2c":
		transport, err := i2c.New(cfg.port)
		if err != nil {
			return nil, fmt.Errorf("failed to create I2C transport: %w", err)
		}
		return transport, nil
	case "spi":
		transport, err := spi.New(cfg.port)
		if err != nil {
			return nil, fmt.Errorf("failed to create SPI transport: %w", err)
		}
		return transport, nil
	default:
		return nil, fmt.Errorf("unsupported transport type: %s", cfg.transport)
	}
}

// preloadCommand builds the ConfigureEmulation command for the profile or
// NDEF text in cfg. It returns nil when there is nothing to preload.
func preloadCommand(cfg *config) ([]byte, error) {
	var card *cardemu.EmulationConfig
	switch {
	case cfg.profilePath != "":
		p, err := profile.Load(cfg.profilePath)
		if err != nil {
			return nil, fmt.Errorf("failed to load profile: %w", err)
		}
		card, err = p.Config()
		if err != nil {
			return nil, fmt.Errorf("failed to build card from profile: %w", err)
		}
	case cfg.ndefText != "":
		var uid profile.Hex
		if err := uid.UnmarshalText([]byte(cfg.uid)); err != nil {
			return nil, fmt.Errorf("invalid -uid: %w", err)
		}
		var err error
		card, err = profile.NDEFCard(uid, cfg.ndefText)
		if err != nil {
			return nil, fmt.Errorf("failed to build NDEF card: %w", err)
		}
	default:
		return nil, nil
	}
	return card.Command()
}

func newEmulator(hal cardemu.HAL, cfg *config) (*cardemu.Emulator, error) {
	var opts []cardemu.Option
	if cfg.stageSize > 0 {
		stage, err := cardemu.NewFirmwareStage(uint32(cfg.stageBase), cfg.stageSize) //nolint:gosec // flag value
		if err != nil {
			return nil, fmt.Errorf("invalid firmware stage: %w", err)
		}
		opts = append(opts, cardemu.WithFirmwareStage(stage))
	}
	emu, err := cardemu.NewEmulator(hal, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create emulator: %w", err)
	}
	return emu, nil
}

// sendCommand runs a host command locally and checks its status.
func sendCommand(ctx context.Context, emu *cardemu.Emulator, cmd []byte) error {
	status, err := emu.HandleHostCommand(ctx, cmd)
	if err != nil {
		return fmt.Errorf("%s: %w", cardemu.CommandID(cmd[0]), err)
	}
	if status != cardemu.StatusSuccess {
		return fmt.Errorf("%s: status 0x%02X", cardemu.CommandID(cmd[0]), byte(status))
	}
	return nil
}

// serve boots the front end, applies the preload and runs the emulator
// until ctx is done.
func serve(ctx context.Context, hal cardemu.HAL, cfg *config, out io.Writer) error {
	preload, err := preloadCommand(cfg)
	if err != nil {
		return err
	}

	emu, err := newEmulator(hal, cfg)
	if err != nil {
		return err
	}
	if err := emu.Boot(ctx); err != nil {
		return fmt.Errorf("failed to boot front end: %w", err)
	}

	if preload != nil {
		if err := sendCommand(ctx, emu, preload); err != nil {
			return fmt.Errorf("failed to preload card: %w", err)
		}
		card := emu.Card()
		_, _ = fmt.Fprintf(out, "Card loaded: %s\n", card.String())
	}
	if cfg.start {
		if err := sendCommand(ctx, emu, []byte{byte(cardemu.CmdStartEmulation)}); err != nil {
			return fmt.Errorf("failed to start emulation: %w", err)
		}
		_, _ = fmt.Fprintln(out, "Emulation started")
	}

	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		go reportStatus(ctx, emu, out, statusInterval)
	}

	err = emu.Run(ctx)
	m := emu.Metrics()
	_, _ = fmt.Fprintf(out, "\n%s\n", formatMetrics(emu.State(), m))
	if err != nil {
		return fmt.Errorf("emulator stopped: %w", err)
	}
	return nil
}

// reportStatus rewrites a one-line status on an interactive terminal.
func reportStatus(ctx context.Context, emu *cardemu.Emulator, out io.Writer, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = fmt.Fprintf(out, "\r%s", formatMetrics(emu.State(), emu.Metrics()))
		}
	}
}

func formatMetrics(state cardemu.ProtocolState, m cardemu.Metrics) string {
	return fmt.Sprintf("state=%s host=%d rf=%d selected=%d nacks=%d recoveries=%d",
		state, m.HostCommands, m.RFSessions, m.Selections, m.NACKs, m.Recoveries)
}

// reportError prints err with its class and, for link failures, the frames
// exchanged before it.
func reportError(w io.Writer, err error) {
	_, _ = fmt.Fprintf(w, "Error: %v\n", err)
	var le *cardemu.LinkError
	if errors.As(err, &le) {
		_, _ = fmt.Fprintf(w, "Link error class: %s\n", cardemu.GetErrorType(err))
	}
	if trace := cardemu.GetTrace(err); trace != nil {
		_, _ = fmt.Fprint(w, trace.FormatTrace())
	}
}

func run(ctx context.Context, cfg *config) error {
	if err := cfg.validate(); err != nil {
		return err
	}

	if cfg.logDir != "" {
		path, err := cardemu.InitSessionLog(cfg.logDir)
		if err != nil {
			return fmt.Errorf("failed to start session log: %w", err)
		}
		_, _ = fmt.Printf("Session log: %s\n", path)
		defer func() {
			if err := cardemu.CloseSessionLog(); err != nil {
				_, _ = fmt.Fprintf(os.Stderr, "Failed to close session log: %v\n", err)
			}
		}()
	}

	if cfg.port == "" {
		name, err := detectPort()
		if err != nil {
			return err
		}
		cfg.port = name
	}

	if cfg.lock {
		unlock, err := lockPort(cfg.port)
		if err != nil {
			return err
		}
		defer unlock()
	}

	port, err := openPort(cfg)
	if err != nil {
		return err
	}
	var opts []link.Option
	if cfg.traceSize > 0 {
		opts = append(opts, link.WithTrace(cfg.traceSize))
	}
	hal := link.New(port, opts...)
	defer func() {
		if err := hal.Close(); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Failed to close front end: %v\n", err)
		}
	}()
	_, _ = fmt.Printf("Front end: %s\n", hal)

	return serve(ctx, hal, cfg, os.Stdout)
}

func main() {
	flag.Parse()
	os.Exit(mainWithExitCode())
}

func mainWithExitCode() int {
	cfg := parseConfig()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		if errors.Is(err, context.Canceled) {
			return 0
		}
		reportError(os.Stderr, err)
		return 1
	}
	return 0
}
