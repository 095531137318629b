package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/agentinvoke/core"
	"github.com/hupe1980/agentinvoke/engine"
)

var stdout io.Writer = os.Stdout

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Fprintf(stdout, "agentinvoke version %s\n", version)
	return nil
}

// CallFlags are shared by every command that runs prompts.
type CallFlags struct {
	Timeout  time.Duration     `help:"Per-invocation timeout (default: engine.default_timeout)."`
	Metadata map[string]string `help:"Metadata passed to the backend (key=value)." mapsep:","`
}

func (f CallFlags) options() []engine.Option {
	var opts []engine.Option
	if f.Timeout != 0 {
		opts = append(opts, engine.WithTimeout(f.Timeout))
	}
	if len(f.Metadata) > 0 {
		md := make(map[string]any, len(f.Metadata))
		for k, v := range f.Metadata {
			md[k] = v
		}
		opts = append(opts, engine.WithMetadata(md))
	}
	return opts
}

// InvokeCmd runs one single-shot invocation.
type InvokeCmd struct {
	CallFlags `embed:""`

	JSON   bool   `help:"Print the full result as JSON."`
	Prompt string `arg:"" help:"Prompt to send."`
}

func (c *InvokeCmd) Run(ctx context.Context, cli *CLI) error {
	ai, cleanup, err := cli.setup()
	if err != nil {
		return err
	}
	defer cleanup()

	res, err := ai.Invoke(ctx, c.Prompt, c.options()...)
	if err != nil {
		return err
	}
	if c.JSON {
		return writeJSON(res)
	}
	fmt.Fprintln(stdout, res.Output)
	return nil
}

// StreamCmd runs one streaming invocation.
type StreamCmd struct {
	CallFlags `embed:""`

	MaxChunks int    `name:"max-chunks" help:"Close the stream after this many chunks (0 = all)."`
	Prompt    string `arg:"" help:"Prompt to send."`
}

func (c *StreamCmd) Run(ctx context.Context, cli *CLI) error {
	ai, cleanup, err := cli.setup()
	if err != nil {
		return err
	}
	defer cleanup()

	s, err := ai.InvokeStream(ctx, c.Prompt, c.options()...)
	if err != nil {
		return err
	}

	n := 0
	for chunk, err := range s.All() {
		if err != nil {
			fmt.Fprintln(stdout)
			return err
		}
		fmt.Fprint(stdout, chunk.Text)
		n++
		if c.MaxChunks > 0 && n >= c.MaxChunks {
			break
		}
	}
	fmt.Fprintln(stdout)
	return nil
}

// BatchCmd runs several prompts concurrently through one engine.
type BatchCmd struct {
	CallFlags `embed:""`

	Concurrency int      `help:"Maximum prompts in flight (0 = unlimited)." default:"4"`
	FailFast    bool     `name:"fail-fast" help:"Cancel the remaining prompts after the first failure."`
	Prompts     []string `arg:"" help:"Prompts to send."`
}

type batchResult struct {
	Index        int    `json:"index"`
	Prompt       string `json:"prompt"`
	InvocationID string `json:"invocation_id,omitempty"`
	Output       string `json:"output,omitempty"`
	Kind         string `json:"error_kind,omitempty"`
	Error        string `json:"error,omitempty"`
}

func (c *BatchCmd) Run(ctx context.Context, cli *CLI) error {
	ai, cleanup, err := cli.setup()
	if err != nil {
		return err
	}
	defer cleanup()

	results := make([]batchResult, len(c.Prompts))
	var (
		mu       sync.Mutex
		firstErr error
	)

	g, gctx := errgroup.WithContext(ctx)
	if c.Concurrency > 0 {
		g.SetLimit(c.Concurrency)
	}
	for i, prompt := range c.Prompts {
		g.Go(func() error {
			r := batchResult{Index: i, Prompt: prompt}
			res, err := ai.Invoke(gctx, prompt, c.options()...)
			if err != nil {
				r.Kind = string(core.KindOf(err))
				r.Error = err.Error()
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			} else {
				r.InvocationID = res.InvocationID
				r.Output = res.Output
			}
			results[i] = r

			if c.FailFast {
				return err
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		if err := writeJSON(r); err != nil {
			return err
		}
	}
	return firstErr
}

// CapabilitiesCmd prints the backend's capability descriptor.
type CapabilitiesCmd struct{}

func (c *CapabilitiesCmd) Run(cli *CLI) error {
	ai, cleanup, err := cli.setup()
	if err != nil {
		return err
	}
	defer cleanup()

	caps := ai.Capabilities()
	if len(caps.Models) == 0 {
		caps.Models = []string{}
	}
	return writeJSON(caps)
}

func writeJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	return nil
}
