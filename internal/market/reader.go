package market

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"market-scanner/internal/layout"
	"market-scanner/internal/procmem"
	"market-scanner/internal/scan"
)

// State is the reader's calibration state.
type State int

const (
	Calibrating State = iota
	Locked
)

func (s State) String() string {
	if s == Locked {
		return "locked"
	}
	return "calibrating"
}

const clockSkew = time.Minute

// Sample is one externally observed set of on-screen values used to narrow
// the anchor fields.
type Sample struct {
	BuyOffer  int64  `json:"buy_offer"`
	SellOffer int64  `json:"sell_offer"`
	MaxBuy    int64  `json:"max_buy"`
	MaxSell   int64  `json:"max_sell"`
	ItemID    uint32 `json:"item_id"`
}

// NameResolver maps item ids to display names.
type NameResolver interface {
	ResolveItemName(ctx context.Context, id uint32) (string, bool, error)
}

// Options configures validation and derivation.
type Options struct {
	// NoiseFloor skips calibration values below it; small values match too
	// much memory to narrow usefully.
	NoiseFloor int64
	// MaxOffer is the default upper bound of a plausible offer.
	MaxOffer int64
	// PriceCeilings override MaxOffer per lowercase item name.
	PriceCeilings map[string]int64
	// ActiveWindow bounds how old a slot timestamp may be to count as active.
	ActiveWindow time.Duration
	// IDReads is the number of identifier reads within one poll.
	IDReads int
	Offsets layout.Offsets
	// Now overrides the clock in tests.
	Now func() time.Time
}

func (o *Options) applyDefaults() {
	if o.NoiseFloor == 0 {
		o.NoiseFloor = 100
	}
	if o.MaxOffer == 0 {
		o.MaxOffer = 8_000_000_000
	}
	if o.ActiveWindow == 0 {
		o.ActiveWindow = 24 * time.Hour
	}
	if o.IDReads <= 0 {
		o.IDReads = 3
	}
	if o.Offsets.Slots == 0 {
		o.Offsets = layout.DefaultOffsets()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// PollResult is the outcome of a successful poll.
type PollResult struct {
	Snapshot     Snapshot
	ItemID       uint32
	WasDuplicate bool
}

// FieldStatus describes one anchor field for diagnostics.
type FieldStatus struct {
	Name       string
	State      scan.State
	Candidates int
}

type slotKey struct {
	timestamp uint32
	itemID    uint32
}

type rawSlot struct {
	offer     int64
	amount    int64
	timestamp uint64
}

type rawSide struct {
	slots []rawSlot
	stats SideStats
}

type rawRecord struct {
	buy  rawSide
	sell rawSide
	ids  []uint32
}

// Reader locks onto the market record and turns it into validated snapshots.
type Reader struct {
	scanner *scan.Scanner
	names   NameResolver
	opts    Options
	logger  zerolog.Logger

	firstBuy  *scan.Field
	firstSell *scan.Field
	maxBuy    *scan.Field
	maxSell   *scan.Field
	itemID    *scan.Field

	state  State
	layout layout.Layout

	lastFingerprint string
	lastID          uint32
	hasLast         bool
	buySeen         []slotKey
	sellSeen        []slotKey
}

// New creates a reader in the calibrating state. names may be nil.
func New(scanner *scan.Scanner, names NameResolver, opts Options, logger zerolog.Logger) *Reader {
	opts.applyDefaults()
	return &Reader{
		scanner:   scanner,
		names:     names,
		opts:      opts,
		logger:    logger.With().Str("component", "market_reader").Logger(),
		firstBuy:  scan.NewField("first_buy", scan.KindInt64),
		firstSell: scan.NewField("first_sell", scan.KindInt64),
		maxBuy:    scan.NewField("max_buy", scan.KindInt64),
		maxSell:   scan.NewField("max_sell", scan.KindInt64),
		itemID:    scan.NewField("item_id", scan.KindInt32),
	}
}

// State returns the calibration state.
func (r *Reader) State() State {
	return r.state
}

// Locked reports whether every anchor is known and the layout derived.
func (r *Reader) Locked() bool {
	return r.state == Locked
}

// Layout returns the derived layout while locked.
func (r *Reader) Layout() (layout.Layout, bool) {
	return r.layout, r.state == Locked
}

// Fields reports every anchor field's progress.
func (r *Reader) Fields() []FieldStatus {
	fields := r.fields()
	out := make([]FieldStatus, len(fields))
	for i, f := range fields {
		out[i] = FieldStatus{Name: f.Name, State: f.State(), Candidates: f.Len()}
	}
	return out
}

func (r *Reader) fields() []*scan.Field {
	return []*scan.Field{r.firstBuy, r.firstSell, r.maxBuy, r.maxSell, r.itemID}
}

// Reset discards every anchor, the layout and the per-poll memory.
func (r *Reader) Reset() {
	for _, f := range r.fields() {
		f.Reset()
	}
	r.state = Calibrating
	r.layout = layout.Layout{}
	r.lastFingerprint = ""
	r.lastID = 0
	r.hasLast = false
	r.buySeen = nil
	r.sellSeen = nil
}

// FeedCalibrationSample narrows every unlocked field with the sample and
// reports whether the layout is now locked.
func (r *Reader) FeedCalibrationSample(ctx context.Context, s Sample) (bool, error) {
	if r.state == Locked {
		return true, nil
	}

	inputs := []struct {
		field *scan.Field
		value int64
	}{
		{r.firstBuy, s.BuyOffer},
		{r.firstSell, s.SellOffer},
		{r.maxBuy, s.MaxBuy},
		{r.maxSell, s.MaxSell},
		{r.itemID, int64(s.ItemID)},
	}

	for _, in := range inputs {
		if in.field.State() == scan.Locked {
			continue
		}
		if in.value < r.opts.NoiseFloor {
			r.logger.Debug().Str("field", in.field.Name).Int64("value", in.value).Msg("Skipping value below noise floor")
			continue
		}
		state, err := in.field.Narrow(ctx, r.scanner, in.value)
		if err != nil {
			if errors.Is(err, procmem.ErrProcessGone) {
				return false, fatalError(err)
			}
			return false, fmt.Errorf("narrow %s: %w", in.field.Name, err)
		}
		r.logger.Debug().
			Str("field", in.field.Name).
			Str("state", state.String()).
			Int("candidates", in.field.Len()).
			Msg("Narrowed field")
	}

	anchors, ok := r.anchors()
	if !ok {
		return false, nil
	}
	l, err := layout.Resolve(anchors, r.opts.Offsets)
	if err != nil {
		r.Reset()
		return false, fmt.Errorf("resolve layout: %w", err)
	}
	r.layout = l
	r.state = Locked
	r.logger.Info().
		Str("first_buy", anchors.FirstBuy.String()).
		Str("first_sell", anchors.FirstSell.String()).
		Str("max_buy", anchors.MaxBuy.String()).
		Str("max_sell", anchors.MaxSell.String()).
		Str("item_id", anchors.ItemID.String()).
		Msg("Layout locked")
	return true, nil
}

func (r *Reader) anchors() (layout.Anchors, bool) {
	var a layout.Anchors
	targets := []*procmem.Address{&a.FirstBuy, &a.FirstSell, &a.MaxBuy, &a.MaxSell, &a.ItemID}
	for i, f := range r.fields() {
		addr, ok := f.Anchor()
		if !ok {
			return layout.Anchors{}, false
		}
		*targets[i] = addr
	}
	return a, true
}

// Poll reads and validates the record currently on screen. expectedName, if
// non-empty, labels the snapshot; otherwise the name resolver is asked.
func (r *Reader) Poll(ctx context.Context, expectedName string) (PollResult, error) {
	if r.state != Locked {
		return PollResult{}, ErrNotCalibrated
	}
	if err := ctx.Err(); err != nil {
		return PollResult{}, err
	}

	raw, err := r.readRecord()
	if err != nil {
		if errors.Is(err, procmem.ErrProcessGone) {
			return PollResult{}, fatalError(err)
		}
		return PollResult{}, r.drift("record unreadable", err)
	}

	fp := raw.fingerprint()
	dup := r.hasLast && fp == r.lastFingerprint

	id, distinct := dominantID(raw.ids)
	if distinct > 2 {
		return PollResult{}, r.drift("identifier reads disagree", nil)
	}

	name := r.name(ctx, id, expectedName)
	ceiling := r.ceiling(name)
	if v := raw.buy.slots[0].offer; v <= 0 || v > ceiling {
		return PollResult{}, r.drift("buy offer out of range: "+strconv.FormatInt(v, 10), nil)
	}
	if v := raw.sell.slots[0].offer; v <= 0 || v > ceiling {
		return PollResult{}, r.drift("sell offer out of range: "+strconv.FormatInt(v, 10), nil)
	}
	if r.hasLast && id == r.lastID && !dup {
		return PollResult{}, r.drift("identifier unchanged with new record", nil)
	}

	if reason, bad := impossibleStats(raw.buy.stats); bad {
		return PollResult{}, transientError("buy side " + reason)
	}
	if reason, bad := impossibleStats(raw.sell.stats); bad {
		return PollResult{}, transientError("sell side " + reason)
	}

	now := r.opts.Now()
	buyActive := r.countActive(&r.buySeen, raw.buy.slots, id, now)
	sellActive := r.countActive(&r.sellSeen, raw.sell.slots, id, now)
	active := buyActive
	if sellActive > active {
		active = sellActive
	}

	snap := buildSnapshot(id, name, raw.buy.slots[0].offer, raw.sell.slots[0].offer, raw.buy.stats, raw.sell.stats, active, now)

	r.lastFingerprint = fp
	r.lastID = id
	r.hasLast = true

	return PollResult{Snapshot: snap, ItemID: id, WasDuplicate: dup}, nil
}

func (r *Reader) drift(reason string, err error) error {
	r.logger.Warn().Err(err).Str("reason", reason).Msg("Drift detected, resetting calibration")
	r.Reset()
	return driftError(reason, err)
}

func (r *Reader) readRecord() (rawRecord, error) {
	var rec rawRecord
	var err error
	if rec.buy, err = r.readSide(r.layout.Buy); err != nil {
		return rawRecord{}, err
	}
	if rec.sell, err = r.readSide(r.layout.Sell); err != nil {
		return rawRecord{}, err
	}
	rec.ids = make([]uint32, r.opts.IDReads)
	for i := range rec.ids {
		v, err := r.scanner.ReadInt32(r.layout.ItemID)
		if err != nil {
			return rawRecord{}, err
		}
		rec.ids[i] = uint32(v)
	}
	return rec, nil
}

func (r *Reader) readSide(side layout.Side) (rawSide, error) {
	out := rawSide{slots: make([]rawSlot, len(side.Slots))}
	for i, slot := range side.Slots {
		offer, err := r.scanner.ReadInt64(slot.Offer)
		if err != nil {
			return rawSide{}, err
		}
		amount, err := r.scanner.ReadInt64(slot.Amount)
		if err != nil {
			return rawSide{}, err
		}
		ts, err := r.scanner.ReadUint64(slot.Timestamp)
		if err != nil {
			return rawSide{}, err
		}
		out.slots[i] = rawSlot{offer: offer, amount: amount, timestamp: ts}
	}

	words := []struct {
		addr procmem.Address
		dst  *int64
	}{
		{side.Max, &out.stats.Max},
		{side.Min, &out.stats.Min},
		{side.Total, &out.stats.Total},
		{side.Count, &out.stats.Count},
	}
	for _, w := range words {
		v, err := r.scanner.ReadInt64(w.addr)
		if err != nil {
			return rawSide{}, err
		}
		*w.dst = v
	}
	return out, nil
}

func (r *Reader) name(ctx context.Context, id uint32, expected string) string {
	if expected != "" {
		return expected
	}
	if r.names != nil {
		name, ok, err := r.names.ResolveItemName(ctx, id)
		if err != nil {
			r.logger.Warn().Err(err).Uint32("item_id", id).Msg("Failed to resolve item name")
		} else if ok && name != "" {
			return name
		}
	}
	return fmt.Sprintf("item-%d", id)
}

func (r *Reader) ceiling(name string) int64 {
	if c, ok := r.opts.PriceCeilings[strings.ToLower(strings.TrimSpace(name))]; ok && c > 0 {
		return c
	}
	return r.opts.MaxOffer
}

// countActive counts slots not seen before under this item whose timestamp
// falls within the active window, and remembers them.
func (r *Reader) countActive(seen *[]slotKey, slots []rawSlot, id uint32, now time.Time) int {
	if len(*seen) != len(slots) {
		*seen = make([]slotKey, len(slots))
	}
	count := 0
	for i, slot := range slots {
		key := slotKey{timestamp: DecodeTimestamp(slot.timestamp), itemID: id}
		if (*seen)[i] == key {
			continue
		}
		(*seen)[i] = key
		if key.timestamp == 0 {
			continue
		}
		age := now.Sub(time.Unix(int64(key.timestamp), 0))
		if age >= -clockSkew && age <= r.opts.ActiveWindow {
			count++
		}
	}
	return count
}

func impossibleStats(s SideStats) (string, bool) {
	switch {
	case s.Count < 0:
		return "negative transaction count", true
	case s.Total < 0:
		return "negative transaction total", true
	case s.Count > 0 && s.Min > s.Max:
		return "minimum above maximum", true
	}
	return "", false
}

// dominantID returns the most frequent identifier and the number of distinct
// values among the reads.
func dominantID(ids []uint32) (uint32, int) {
	counts := make(map[uint32]int, len(ids))
	var best uint32
	for _, id := range ids {
		counts[id]++
		if counts[id] > counts[best] || len(counts) == 1 {
			best = id
		}
	}
	return best, len(counts)
}

func (rec rawRecord) fingerprint() string {
	var b strings.Builder
	for _, side := range []rawSide{rec.buy, rec.sell} {
		for _, s := range side.slots {
			b.WriteString(strconv.FormatInt(s.offer, 10))
			b.WriteByte(',')
			b.WriteString(strconv.FormatInt(s.amount, 10))
			b.WriteByte(',')
			b.WriteString(strconv.FormatUint(s.timestamp, 10))
			b.WriteByte(';')
		}
		fmt.Fprintf(&b, "%d,%d,%d,%d|", side.stats.Max, side.stats.Min, side.stats.Total, side.stats.Count)
	}
	for _, id := range rec.ids {
		b.WriteString(strconv.FormatUint(uint64(id), 10))
		b.WriteByte(',')
	}
	return b.String()
}
