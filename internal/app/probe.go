package app

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"market-scanner/internal/procmem"
	"market-scanner/internal/scan"
	"market-scanner/internal/service"
)

const probeShowLimit = 20

// ProbeOptions configure the interactive narrowing diagnostic.
type ProbeOptions struct {
	Pid    int
	Kind   string
	Extend bool
	In     io.Reader
	Out    io.Writer
}

// Probe attaches to the client and narrows an address set from typed
// values read off In, one command per line.
func (a *App) Probe(ctx context.Context, opts ProbeOptions) error {
	kind, err := parseKind(opts.Kind)
	if err != nil {
		return err
	}

	procCfg := a.Config.Process
	if opts.Pid > 0 {
		procCfg.Pid = opts.Pid
	}
	target, err := service.OpenProcess(procCfg)
	if err != nil {
		return fmt.Errorf("open target process: %w", err)
	}
	defer target.Close()

	scanner := scan.New(target, scan.Options{
		ChunkSize:   a.Config.Scan.ChunkSize,
		MaxTextWalk: a.Config.Scan.MaxTextWalk,
	}, a.Logger)
	return newProbeSession(scanner, kind, opts.Extend).run(ctx, opts.In, opts.Out)
}

func parseKind(s string) (scan.Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "int64", "i64":
		return scan.KindInt64, nil
	case "int32", "i32":
		return scan.KindInt32, nil
	case "text", "string":
		return scan.KindText, nil
	default:
		return 0, fmt.Errorf("unknown probe kind %q (int32, int64, text)", s)
	}
}

type probeSession struct {
	scanner    *scan.Scanner
	kind       scan.Kind
	extend     bool
	candidates []procmem.Address
	last       scan.Probe
}

func newProbeSession(scanner *scan.Scanner, kind scan.Kind, extend bool) *probeSession {
	return &probeSession{scanner: scanner, kind: kind, extend: extend}
}

func (p *probeSession) probe(raw string) (scan.Probe, error) {
	if p.kind == scan.KindText {
		pr := scan.Text(raw)
		if p.extend {
			pr = pr.Extended()
		}
		return pr, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return scan.Probe{}, fmt.Errorf("parse %q: %w", raw, err)
	}
	return scan.ForKind(p.kind, v)
}

func (p *probeSession) run(ctx context.Context, in io.Reader, out io.Writer) error {
	fmt.Fprintf(out, "probe %s: <value> narrows, read, write <value>, reset, quit\n", p.kind)
	lines := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !lines.Scan() {
			fmt.Fprintln(out)
			return lines.Err()
		}
		line := strings.TrimSpace(lines.Text())
		if line == "" {
			continue
		}
		quit, err := p.exec(ctx, line, out)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintf(out, "error: %v\n", err)
		}
		if quit {
			return nil
		}
	}
}

func (p *probeSession) exec(ctx context.Context, line string, out io.Writer) (bool, error) {
	cmd, arg, _ := strings.Cut(line, " ")
	switch cmd {
	case "quit", "exit":
		return true, nil
	case "reset":
		p.candidates = nil
		fmt.Fprintln(out, "candidates cleared")
		return false, nil
	case "read":
		return false, p.show(ctx, out)
	case "write":
		if len(p.candidates) == 0 {
			return false, fmt.Errorf("no candidates to write")
		}
		pr, err := p.probe(strings.TrimSpace(arg))
		if err != nil {
			return false, err
		}
		if err := p.scanner.Write(ctx, p.candidates, pr); err != nil {
			return false, err
		}
		fmt.Fprintf(out, "wrote %s to %d addresses\n", pr, len(p.candidates))
		return false, nil
	default:
		pr, err := p.probe(line)
		if err != nil {
			return false, err
		}
		next, err := p.scanner.Narrow(ctx, pr, p.candidates)
		if err != nil {
			return false, err
		}
		p.candidates, p.last = next, pr
		fmt.Fprintf(out, "%d candidates\n", len(next))
		if len(next) <= probeShowLimit {
			return false, p.show(ctx, out)
		}
		return false, nil
	}
}

func (p *probeSession) show(ctx context.Context, out io.Writer) error {
	shown := p.candidates
	if len(shown) > probeShowLimit {
		shown = shown[:probeShowLimit]
	}
	pr := p.last
	if pr.Kind == 0 {
		pr = scan.Probe{Kind: p.kind}
	}
	values, err := p.scanner.Read(ctx, shown, pr)
	if err != nil {
		return err
	}
	for _, v := range values {
		if p.kind == scan.KindText {
			fmt.Fprintf(out, "  %s  %q\n", v.Address, v.Text)
		} else {
			fmt.Fprintf(out, "  %s  %d\n", v.Address, v.Int)
		}
	}
	if len(p.candidates) > len(shown) {
		fmt.Fprintf(out, "  ... %d more\n", len(p.candidates)-len(shown))
	}
	return nil
}
