// Package layout derives the byte layout of the market record from its anchors.
package layout

import (
	"errors"
	"fmt"

	"market-scanner/internal/procmem"
)

// Offsets are the empirically known deltas of one target version. Slot
// deltas are relative to a slot's offer word; aggregate deltas are relative
// to the side's max word.
type Offsets struct {
	Slots          int   `mapstructure:"slots" validate:"gt=0,lte=1024"`
	SlotStride     int64 `mapstructure:"slot_stride" validate:"ne=0"`
	AmountDelta    int64 `mapstructure:"amount_delta"`
	TimestampDelta int64 `mapstructure:"timestamp_delta"`
	MinDelta       int64 `mapstructure:"min_delta"`
	TotalDelta     int64 `mapstructure:"total_delta"`
	CountDelta     int64 `mapstructure:"count_delta"`
}

// DefaultOffsets returns the deltas of the current client build.
func DefaultOffsets() Offsets {
	return Offsets{
		Slots:          32,
		SlotStride:     32,
		AmountDelta:    -8,
		TimestampDelta: -16,
		MinDelta:       -8,
		TotalDelta:     -16,
		CountDelta:     -24,
	}
}

// Anchors are the locked base addresses the layout is derived from.
type Anchors struct {
	FirstBuy  procmem.Address
	FirstSell procmem.Address
	MaxBuy    procmem.Address
	MaxSell   procmem.Address
	ItemID    procmem.Address
}

// Slot addresses one historical offer entry.
type Slot struct {
	Offer     procmem.Address
	Amount    procmem.Address
	Timestamp procmem.Address
}

// Side addresses the offers and monthly aggregates of one market side.
type Side struct {
	Slots []Slot
	Max   procmem.Address
	Min   procmem.Address
	Total procmem.Address
	Count procmem.Address
}

// Layout is the fully derived record.
type Layout struct {
	Buy    Side
	Sell   Side
	ItemID procmem.Address
}

// ErrUnderflow is returned when a delta would point below address zero.
var ErrUnderflow = errors.New("layout: derived address underflows")

// Validate checks offsets for values that cannot describe a record.
func (o Offsets) Validate() error {
	if o.Slots <= 0 {
		return fmt.Errorf("layout: slots must be positive, got %d", o.Slots)
	}
	if o.SlotStride == 0 {
		return fmt.Errorf("layout: slot stride must be non-zero")
	}
	return nil
}

// Resolve derives every field address. It performs no memory access and
// returns the same layout for the same inputs.
func Resolve(a Anchors, o Offsets) (Layout, error) {
	if err := o.Validate(); err != nil {
		return Layout{}, err
	}

	buy, err := side(a.FirstBuy, a.MaxBuy, o)
	if err != nil {
		return Layout{}, fmt.Errorf("buy side: %w", err)
	}
	sell, err := side(a.FirstSell, a.MaxSell, o)
	if err != nil {
		return Layout{}, fmt.Errorf("sell side: %w", err)
	}
	return Layout{Buy: buy, Sell: sell, ItemID: a.ItemID}, nil
}

func side(first, max procmem.Address, o Offsets) (Side, error) {
	s := Side{Slots: make([]Slot, o.Slots), Max: max}

	for i := range s.Slots {
		offer, err := offset(first, int64(i)*o.SlotStride)
		if err != nil {
			return Side{}, err
		}
		amount, err := offset(offer, o.AmountDelta)
		if err != nil {
			return Side{}, err
		}
		ts, err := offset(offer, o.TimestampDelta)
		if err != nil {
			return Side{}, err
		}
		s.Slots[i] = Slot{Offer: offer, Amount: amount, Timestamp: ts}
	}

	var err error
	if s.Min, err = offset(max, o.MinDelta); err != nil {
		return Side{}, err
	}
	if s.Total, err = offset(max, o.TotalDelta); err != nil {
		return Side{}, err
	}
	if s.Count, err = offset(max, o.CountDelta); err != nil {
		return Side{}, err
	}
	return s, nil
}

func offset(base procmem.Address, delta int64) (procmem.Address, error) {
	if delta < 0 && uint64(-delta) > uint64(base) {
		return 0, fmt.Errorf("%w: %s%+d", ErrUnderflow, base, delta)
	}
	return base.Add(delta), nil
}
