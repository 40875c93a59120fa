// fakeagent is a scripted stand-in for the browsing agent, used in tests
// and demos. It reads one task from stdin, picks the first scripted
// response whose match string appears in the instruction, and replays it
// as NDJSON events on stdout.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/user/groupsweep/internal/ndjson"
)

type task struct {
	Instruction string `json:"instruction"`
	Budget      int    `json:"budget"`
}

type script struct {
	Responses []response `json:"responses"`
}

type response struct {
	Match       string   `json:"match"`
	Text        string   `json:"text,omitempty"`
	Screenshots []string `json:"screenshots,omitempty"`
	Error       string   `json:"error,omitempty"`
	DelayMs     int      `json:"delay_ms,omitempty"`
}

type event struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	Path string `json:"path,omitempty"`
}

func main() {
	scriptFile := flag.String("script", "", "Path to response script file (JSON)")
	flag.Parse()

	// Diagnostics on stderr, events on stdout.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	if err := run(*scriptFile, logger); err != nil {
		logger.Error("fakeagent failed", "error", err)
		os.Exit(1)
	}
}

func run(scriptFile string, logger *slog.Logger) error {
	if scriptFile == "" {
		return fmt.Errorf("--script is required")
	}
	data, err := os.ReadFile(scriptFile)
	if err != nil {
		return fmt.Errorf("read script: %w", err)
	}
	var s script
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("parse script JSON: %w", err)
	}
	if len(s.Responses) == 0 {
		return fmt.Errorf("script has no responses defined")
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("read task: %w", err)
	}
	var tk task
	if err := json.Unmarshal([]byte(line), &tk); err != nil {
		return fmt.Errorf("parse task JSON: %w", err)
	}
	logger.Info("received task", "budget", tk.Budget)

	enc := ndjson.NewEncoder(os.Stdout, logger)
	for _, resp := range s.Responses {
		if !strings.Contains(tk.Instruction, resp.Match) {
			continue
		}
		if resp.DelayMs > 0 {
			time.Sleep(time.Duration(resp.DelayMs) * time.Millisecond)
		}
		if resp.Error != "" {
			return enc.Encode(event{Type: "error", Text: resp.Error})
		}
		for _, shot := range resp.Screenshots {
			if err := enc.Encode(event{Type: "screenshot", Path: shot}); err != nil {
				return err
			}
		}
		if err := enc.Encode(event{Type: "message", Text: resp.Text}); err != nil {
			return err
		}
		return enc.Encode(event{Type: "done"})
	}

	return enc.Encode(event{Type: "error", Text: "no scripted response matches the instruction"})
}
