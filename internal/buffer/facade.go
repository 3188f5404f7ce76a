package buffer

import "time"

// Buffer is the per-pane facade combining the coalescing stage and the
// scrollback stage, plus a seed ring holding a recent-output tail for
// new subscribers. Panes own exactly one Buffer.
type Buffer struct {
	Coalescer  *Coalescer
	Scrollback *Scrollback
	seed       *SeedRing
}

// Config bundles the tunables for a Buffer; zero fields fall back to the
// package defaults.
type Config struct {
	MaxChunkSize    int
	FlushIntervalMS int
	MaxLines        int
	MaxTotalBytes   int
}

// New builds a Buffer from cfg.
func New(cfg Config) *Buffer {
	var interval = FlushInterval
	if cfg.FlushIntervalMS > 0 {
		interval = time.Duration(cfg.FlushIntervalMS) * time.Millisecond
	}
	return &Buffer{
		Coalescer:  NewCoalescer(cfg.MaxChunkSize, interval),
		Scrollback: NewScrollback(cfg.MaxLines, cfg.MaxTotalBytes),
		seed:       NewSeedRing(DefaultSeedRingSize),
	}
}

// Write feeds raw PTY output into both stages: the coalesced chunk (if
// any) is returned for the caller to publish to subscribers, while the
// scrollback and seed ring always observe the full input.
func (b *Buffer) Write(data []byte) []byte {
	b.Scrollback.AddOutput(data)
	b.seed.Write(data)
	return b.Coalescer.Push(data)
}

// SeedTail returns the bytes retained by the seed ring, the recent-output
// tail pane.Subscribe returns to a new subscriber.
func (b *Buffer) SeedTail() []byte {
	return b.seed.Bytes()
}
