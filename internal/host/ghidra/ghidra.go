// Package ghidra is a host backend that drives a headless Ghidra install.
// Addresses are resolved and decompiled in batches by an embedded post-script;
// memory reads are served from the image on disk.
package ghidra

import (
	"bytes"
	"context"
	"embed"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/nxadm/tail"
	"golang.org/x/sync/errgroup"

	"tablewalk/internal/binimg"
	"tablewalk/internal/host"
)

//go:embed scripts/tablewalk_decompile.py
var scripts embed.FS

const (
	scriptName = "tablewalk_decompile.py"
	logPrefix  = "tablewalk: "
)

// DefaultTimeout is the per-function budget passed to the decompiler when
// Options.Timeout is unset.
const DefaultTimeout = 1000 * time.Second

// Options configures the headless runs.
type Options struct {
	// Home is the Ghidra install; empty searches for one.
	Home string
	// ProjectDir holds the Ghidra project. Empty uses a temporary directory.
	ProjectDir  string
	KeepProject bool
	// MaxMemory is the JVM heap limit, e.g. "4G".
	MaxMemory string
	Timeout   time.Duration
	Logger    *log.Logger
}

// Host answers host.Host queries from Ghidra's analysis of the image.
type Host struct {
	im   *binimg.Image
	inst Install
	opts Options
	lg   *log.Logger

	mu      sync.Mutex
	results map[uint64]result
	batches int
}

var (
	_ host.Host     = (*Host)(nil)
	_ host.Preparer = (*Host)(nil)
	_ host.Closer   = (*Host)(nil)
)

// Open loads the binary at path and locates Ghidra.
func Open(path string, opts Options) (*Host, error) {
	im, err := binimg.Open(path)
	if err != nil {
		return nil, err
	}
	h, err := New(im, opts)
	if err != nil {
		im.Close()
		return nil, err
	}
	return h, nil
}

// New wraps an already loaded image. Close releases it.
func New(im *binimg.Image, opts Options) (*Host, error) {
	inst, err := Locate(opts.Home)
	if err != nil {
		return nil, err
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	lg := opts.Logger
	if lg == nil {
		lg = log.New(io.Discard)
	}
	lg.Debug("using ghidra", "home", inst.Home)
	return &Host{
		im:      im,
		inst:    inst,
		opts:    opts,
		lg:      lg,
		results: map[uint64]result{},
	}, nil
}

// Install is the Ghidra installation in use.
func (h *Host) Install() Install { return h.inst }

// Batches is the number of headless runs so far.
func (h *Host) Batches() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.batches
}

func (h *Host) Close() error { return h.im.Close() }

func (h *Host) ByteOrder() binary.ByteOrder { return h.im.ByteOrder }

func (h *Host) ReadMemory(addr uint64, size int) ([]byte, error) {
	b, ok := h.im.ReadBytesVA(addr, size)
	if !ok {
		return nil, fmt.Errorf("read %d bytes at %#x: %w", size, addr, host.ErrUnmapped)
	}
	return b, nil
}

// Prepare resolves and decompiles every address not seen before in one
// headless run.
func (h *Host) Prepare(ctx context.Context, addrs []uint64, mon host.Monitor) error {
	h.mu.Lock()
	var todo []uint64
	for _, a := range addrs {
		if _, ok := h.results[a]; !ok && a != 0 {
			todo = append(todo, a)
		}
	}
	h.mu.Unlock()
	if len(todo) == 0 {
		return nil
	}
	return h.batch(ctx, todo, h.opts.Timeout, mon)
}

func (h *Host) lookup(ctx context.Context, addr uint64, timeout time.Duration, mon host.Monitor) (result, error) {
	h.mu.Lock()
	r, ok := h.results[addr]
	h.mu.Unlock()
	if ok {
		return r, nil
	}
	if err := h.batch(ctx, []uint64{addr}, timeout, mon); err != nil {
		return result{}, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.results[addr], nil
}

func (h *Host) FunctionAt(ctx context.Context, addr uint64) (host.Function, bool, error) {
	if addr == 0 {
		return host.Function{}, false, nil
	}
	r, err := h.lookup(ctx, addr, h.opts.Timeout, host.Discard)
	if err != nil {
		return host.Function{}, false, err
	}
	if !r.Found {
		return host.Function{}, false, nil
	}
	return host.Function{Entry: addr, Name: r.Name}, true, nil
}

func (h *Host) Decompile(ctx context.Context, fn host.Function, timeout time.Duration, mon host.Monitor) (host.Decompiled, error) {
	r, err := h.lookup(ctx, fn.Entry, timeout, mon)
	if err != nil {
		return host.Decompiled{}, err
	}
	switch {
	case !r.Found:
		return host.Decompiled{}, fmt.Errorf("%w: no function at %#x", host.ErrDecompile, fn.Entry)
	case r.TimedOut:
		return host.Decompiled{}, fmt.Errorf("%w (%s)", host.ErrTimeout, r.Error)
	case r.Error != "":
		return host.Decompiled{}, fmt.Errorf("%w: %s", host.ErrDecompile, r.Error)
	}
	return host.Decompiled{Signature: r.Signature, Parameters: r.Parameters}, nil
}

type request struct {
	ImageBase string   `json:"image_base"`
	Timeout   int      `json:"timeout"`
	Addresses []string `json:"addresses"`
}

type response struct {
	ImageBase string   `json:"image_base"`
	Functions []result `json:"functions"`
}

type result struct {
	Address    string   `json:"address"`
	Found      bool     `json:"found"`
	Name       string   `json:"name,omitempty"`
	Entry      string   `json:"entry,omitempty"`
	Signature  string   `json:"signature,omitempty"`
	Parameters []string `json:"parameters,omitempty"`
	Error      string   `json:"error,omitempty"`
	TimedOut   bool     `json:"timed_out,omitempty"`
}

func parseResponse(data []byte) (map[uint64]result, error) {
	var resp response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	out := make(map[uint64]result, len(resp.Functions))
	for _, r := range resp.Functions {
		addr, err := strconv.ParseUint(strings.TrimPrefix(r.Address, "0x"), 16, 64)
		if err != nil {
			return nil, fmt.Errorf("parse response: address %q: %w", r.Address, err)
		}
		out[addr] = r
	}
	return out, nil
}

func (h *Host) projectName() string {
	base := filepath.Base(h.im.Path)
	return "tablewalk_" + strings.TrimSuffix(base, filepath.Ext(base))
}

func (h *Host) env() []string {
	env := os.Environ()
	if h.inst.JavaHome != "" {
		env = append(env, "JAVA_HOME="+h.inst.JavaHome)
	}
	if h.opts.MaxMemory != "" {
		env = append(env, "_JAVA_OPTIONS=-Xmx"+h.opts.MaxMemory)
	}
	return env
}

// batch runs analyzeHeadless once over addrs and merges the response.
func (h *Host) batch(ctx context.Context, addrs []uint64, timeout time.Duration, mon host.Monitor) error {
	work, err := os.MkdirTemp("", "tablewalk-ghidra-*")
	if err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(work)

	script, err := scripts.ReadFile("scripts/" + scriptName)
	if err != nil {
		return err
	}
	scriptDir := filepath.Join(work, "scripts")
	if err := os.MkdirAll(scriptDir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(scriptDir, scriptName), script, 0o644); err != nil {
		return fmt.Errorf("write script: %w", err)
	}

	secs := int(timeout / time.Second)
	if secs < 1 {
		secs = 1
	}
	req := request{
		ImageBase: fmt.Sprintf("%#x", h.im.ImageBase),
		Timeout:   secs,
		Addresses: make([]string, len(addrs)),
	}
	for i, a := range addrs {
		req.Addresses[i] = fmt.Sprintf("%#x", a)
	}
	reqData, err := json.Marshal(req)
	if err != nil {
		return err
	}
	reqPath := filepath.Join(work, "request.json")
	respPath := filepath.Join(work, "response.json")
	logPath := filepath.Join(work, "script.log")
	if err := os.WriteFile(reqPath, reqData, 0o644); err != nil {
		return fmt.Errorf("write request: %w", err)
	}
	if err := os.WriteFile(logPath, nil, 0o644); err != nil {
		return fmt.Errorf("create script log: %w", err)
	}

	projDir := h.opts.ProjectDir
	if projDir == "" {
		projDir = filepath.Join(work, "project")
	}
	if err := os.MkdirAll(projDir, 0o755); err != nil {
		return fmt.Errorf("create project dir: %w", err)
	}
	target, err := filepath.Abs(h.im.Path)
	if err != nil {
		return err
	}

	args := []string{
		projDir,
		h.projectName(),
		"-import", target,
		"-overwrite",
		"-scriptPath", scriptDir,
		"-postScript", scriptName, reqPath, respPath,
		"-scriptlog", logPath,
	}
	if !h.opts.KeepProject {
		args = append(args, "-deleteProject")
	}

	h.mu.Lock()
	h.batches++
	n := h.batches
	h.mu.Unlock()
	h.lg.Debug("running analyzeHeadless", "batch", n, "addresses", len(addrs))
	mon.SetMessage(fmt.Sprintf("Analyzing %d addresses", len(addrs)))

	t, err := tail.TailFile(logPath, tail.Config{
		Follow:    true,
		MustExist: true,
		Poll:      true,
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return fmt.Errorf("follow script log: %w", err)
	}
	defer t.Cleanup()

	var output bytes.Buffer
	g, gctx := errgroup.WithContext(ctx)
	finished := make(chan struct{})
	g.Go(func() error {
		defer close(finished)
		cmd := exec.CommandContext(gctx, h.inst.AnalyzeHeadless, args...)
		cmd.Env = h.env()
		cmd.Stdout = &output
		cmd.Stderr = &output
		cmd.WaitDelay = 5 * time.Second
		if err := cmd.Run(); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("analyzeHeadless failed: %w%s", err, lastLines(output.String(), 10))
		}
		return nil
	})
	g.Go(func() error {
		for {
			select {
			case line, ok := <-t.Lines:
				if !ok {
					return nil
				}
				if line.Err != nil {
					h.lg.Debug("script log", "err", line.Err)
					continue
				}
				h.follow(line.Text, mon)
			case <-finished:
				return t.Stop()
			}
		}
	})
	if err := g.Wait(); err != nil {
		return err
	}

	data, err := os.ReadFile(respPath)
	if err != nil {
		return fmt.Errorf("read response: %w%s", err, lastLines(output.String(), 10))
	}
	got, err := parseResponse(data)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, a := range addrs {
		r, ok := got[a]
		if !ok {
			r = result{Address: fmt.Sprintf("%#x", a)}
		}
		h.results[a] = r
	}
	return nil
}

func (h *Host) follow(line string, mon host.Monitor) {
	if _, msg, ok := strings.Cut(line, logPrefix); ok {
		mon.SetMessage(msg)
		h.lg.Debug(msg)
		return
	}
	if strings.TrimSpace(line) != "" {
		h.lg.Debug("ghidra", "line", line)
	}
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return ""
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return "\n" + strings.Join(lines, "\n")
}
