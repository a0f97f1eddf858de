package scan

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"market-scanner/internal/procmem"
)

const (
	defaultChunkSize   = 4 << 20
	defaultMaxTextWalk = 64
	textWalkChunk      = 1024
	textForwardSpan    = 2048
	maxCoalescedSpan   = 64 << 10
	maxCoalescedGap    = 4 << 10
)

// Options tune scanning behaviour.
type Options struct {
	// ChunkSize bounds a single read during a full scan.
	ChunkSize int
	// MaxTextWalk bounds how many 1 KiB chunks an extended text read walks back.
	MaxTextWalk int
	// Filter selects the regions a full scan visits. Defaults to procmem.DataRegion.
	Filter func(procmem.Region) bool
}

// Value is one decoded read.
type Value struct {
	Address procmem.Address
	Int     int64
	Text    string
}

// Scanner narrows candidate address sets and decodes typed values. It reads
// through a shared process handle it does not own.
type Scanner struct {
	mem    procmem.Memory
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scanner over mem.
func New(mem procmem.Memory, opts Options, logger zerolog.Logger) *Scanner {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = defaultChunkSize
	}
	if opts.MaxTextWalk <= 0 {
		opts.MaxTextWalk = defaultMaxTextWalk
	}
	if opts.Filter == nil {
		opts.Filter = procmem.DataRegion
	}
	return &Scanner{mem: mem, opts: opts, logger: logger.With().Str("component", "scanner").Logger()}
}

// Narrow returns the subset of candidates that currently hold probe. With no
// candidates it scans every data region of the process instead. The result
// never contains an address that was not in a non-empty input.
func (s *Scanner) Narrow(ctx context.Context, probe Probe, candidates []procmem.Address) ([]procmem.Address, error) {
	if probe.Width() == 0 {
		return nil, fmt.Errorf("scan: empty probe")
	}
	if len(candidates) == 0 {
		return s.scanAll(ctx, probe)
	}
	return s.filter(ctx, probe, candidates)
}

func (s *Scanner) scanAll(ctx context.Context, probe Probe) ([]procmem.Address, error) {
	regions, err := s.mem.Regions()
	if err != nil {
		return nil, fmt.Errorf("scan: list regions: %w", err)
	}

	pattern := probe.Bytes()
	width := len(pattern)
	align := uint64(probe.align())
	buf := make([]byte, s.opts.ChunkSize+width-1)

	var matches []procmem.Address
	scanned := 0
	for _, region := range regions {
		if !s.opts.Filter(region) {
			continue
		}
		scanned++
		for base := region.Start; base < region.End; base += procmem.Address(s.opts.ChunkSize) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			chunkLen := s.opts.ChunkSize
			if remaining := int(region.End - base); remaining < chunkLen {
				chunkLen = remaining
			}
			readLen := chunkLen + width - 1
			if remaining := int(region.End - base); remaining < readLen {
				readLen = remaining
			}

			n, err := s.mem.ReadAt(buf[:readLen], base)
			if err != nil {
				if errors.Is(err, procmem.ErrProcessGone) {
					return nil, err
				}
				if n == 0 {
					continue
				}
			}
			window := buf[:n]

			for from := 0; from+width <= len(window); {
				idx := bytes.Index(window[from:], pattern)
				if idx < 0 {
					break
				}
				pos := from + idx
				if pos >= chunkLen {
					break
				}
				addr := base + procmem.Address(pos)
				if uint64(addr)%align == 0 {
					matches = append(matches, addr)
				}
				from = pos + 1
			}
		}
	}

	s.logger.Debug().Str("probe", probe.String()).Int("regions", scanned).Int("matches", len(matches)).Msg("full scan complete")
	return matches, nil
}

func (s *Scanner) filter(ctx context.Context, probe Probe, candidates []procmem.Address) ([]procmem.Address, error) {
	width := probe.Width()
	order := make([]int, len(candidates))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return candidates[order[a]] < candidates[order[b]] })

	keep := make([]bool, len(candidates))
	var buf []byte

	for i := 0; i < len(order); {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		start := candidates[order[i]]
		end := start + procmem.Address(width)
		j := i + 1
		for j < len(order) {
			next := candidates[order[j]]
			nextEnd := next + procmem.Address(width)
			if next > end+maxCoalescedGap || nextEnd-start > maxCoalescedSpan {
				break
			}
			if nextEnd > end {
				end = nextEnd
			}
			j++
		}

		spanLen := int(end - start)
		if cap(buf) < spanLen {
			buf = make([]byte, spanLen)
		}
		span := buf[:spanLen]
		n, err := s.mem.ReadAt(span, start)
		switch {
		case err == nil:
		case errors.Is(err, procmem.ErrProcessGone):
			return nil, err
		case errors.Is(err, procmem.ErrUnmapped):
			// The span straddles a mapping edge; fall back to single reads.
			if err := s.filterEach(probe, candidates, order[i:j], keep); err != nil {
				return nil, err
			}
			i = j
			continue
		default:
			return nil, fmt.Errorf("scan: read candidates at %s: %w", start, err)
		}

		for _, idx := range order[i:j] {
			off := int(candidates[idx] - start)
			if off+width <= n && probe.Match(span[off:]) {
				keep[idx] = true
			}
		}
		i = j
	}

	out := make([]procmem.Address, 0, len(candidates))
	for i, addr := range candidates {
		if keep[i] {
			out = append(out, addr)
		}
	}
	return out, nil
}

func (s *Scanner) filterEach(probe Probe, candidates []procmem.Address, idxs []int, keep []bool) error {
	buf := make([]byte, probe.Width())
	for _, idx := range idxs {
		_, err := s.mem.ReadAt(buf, candidates[idx])
		if err != nil {
			if errors.Is(err, procmem.ErrProcessGone) {
				return err
			}
			continue
		}
		keep[idx] = probe.Match(buf)
	}
	return nil
}

// Read decodes the value at each address according to probe's kind.
func (s *Scanner) Read(ctx context.Context, addrs []procmem.Address, probe Probe) ([]Value, error) {
	values := make([]Value, 0, len(addrs))
	for _, addr := range addrs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v := Value{Address: addr}
		var err error
		switch probe.Kind {
		case KindInt32:
			var n int32
			n, err = s.ReadInt32(addr)
			v.Int = int64(n)
		case KindInt64:
			v.Int, err = s.ReadInt64(addr)
		case KindText:
			v.Text, err = s.readText(addr, probe)
		default:
			err = fmt.Errorf("scan: unknown probe kind %s", probe.Kind)
		}
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}

// Write stores probe's encoded bytes at every address. Used by calibration
// tooling only.
func (s *Scanner) Write(ctx context.Context, addrs []procmem.Address, probe Probe) error {
	payload := probe.Bytes()
	for _, addr := range addrs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := s.mem.WriteAt(payload, addr); err != nil {
			return fmt.Errorf("scan: write %s at %s: %w", probe, addr, err)
		}
	}
	return nil
}

// ReadInt64 reads a little-endian int64 at addr.
func (s *Scanner) ReadInt64(addr procmem.Address) (int64, error) {
	v, err := s.ReadUint64(addr)
	return int64(v), err
}

// ReadUint64 reads a little-endian uint64 at addr.
func (s *Scanner) ReadUint64(addr procmem.Address) (uint64, error) {
	var b [8]byte
	if _, err := s.mem.ReadAt(b[:], addr); err != nil {
		return 0, fmt.Errorf("scan: read u64 at %s: %w", addr, err)
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

// ReadInt32 reads a little-endian int32 at addr.
func (s *Scanner) ReadInt32(addr procmem.Address) (int32, error) {
	var b [4]byte
	if _, err := s.mem.ReadAt(b[:], addr); err != nil {
		return 0, fmt.Errorf("scan: read i32 at %s: %w", addr, err)
	}
	return int32(binary.LittleEndian.Uint32(b[:])), nil
}

func (s *Scanner) readText(addr procmem.Address, probe Probe) (string, error) {
	start := addr
	length := probe.Width()

	if probe.Extend {
		chunk := make([]byte, textWalkChunk)
		for i := 0; i < s.opts.MaxTextWalk && start > 0; i++ {
			step := procmem.Address(textWalkChunk)
			if start < step {
				step = start
			}
			lo := start - step
			if _, err := s.mem.ReadAt(chunk[:step], lo); err != nil {
				if errors.Is(err, procmem.ErrProcessGone) {
					return "", err
				}
				// Unreadable memory below counts as the string boundary.
				break
			}
			if nul := bytes.LastIndexByte(chunk[:step], 0); nul >= 0 {
				start = lo + procmem.Address(nul) + 1
				break
			}
			start = lo
		}
		length = int(addr-start) + textForwardSpan
	}

	buf := make([]byte, length)
	n, err := s.mem.ReadAt(buf, start)
	if err != nil && (n == 0 || !errors.Is(err, procmem.ErrUnmapped)) {
		return "", fmt.Errorf("scan: read text at %s: %w", start, err)
	}
	buf = buf[:n]
	if nul := bytes.IndexByte(buf, 0); nul >= 0 {
		buf = buf[:nul]
	}
	return string(buf), nil
}
