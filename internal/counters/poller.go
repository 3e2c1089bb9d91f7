package counters

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/nlagent/nlagent/internal/registry"
)

// Rate is the byte throughput of one interface between two polls.
type Rate struct {
	Index         int
	Name          string
	RxBytesPerSec float64
	TxBytesPerSec float64
	// Valid is false on the first sample of an interface, after a
	// counter reset and around a failed read.
	Valid bool
}

type sample struct {
	name     string
	counters registry.Counters
	at       time.Time
}

// Poller copies counters from a Source into the registry.
type Poller struct {
	reg  *registry.Registry
	src  Source
	log  zerolog.Logger
	prev map[int]sample
}

// NewPoller returns a poller writing into reg.
func NewPoller(reg *registry.Registry, src Source, logger zerolog.Logger) *Poller {
	return &Poller{
		reg:  reg,
		src:  src,
		log:  logger,
		prev: make(map[int]sample),
	}
}

// Poll reads every known interface once, stores the counters in the
// registry and returns per-interface rates against the previous poll.
func (p *Poller) Poll(now time.Time) []Rate {
	snap := p.reg.Snapshot()
	rates := make([]Rate, 0, len(snap))
	seen := make(map[int]bool, len(snap))

	for _, iface := range snap {
		seen[iface.Index] = true

		c, err := p.src.Read(iface.Name)
		p.reg.SetCounters(iface.Index, c)

		rate := Rate{Index: iface.Index, Name: iface.Name}
		if err != nil {
			// Zeroed values must not become the next rate baseline.
			p.log.Debug().Err(err).Str("interface", iface.Name).Msg("incomplete counters, missing values read as 0")
			delete(p.prev, iface.Index)
			rates = append(rates, rate)
			continue
		}
		if prev, ok := p.prev[iface.Index]; ok && prev.name == iface.Name {
			elapsed := now.Sub(prev.at).Seconds()
			switch {
			case c.RxBytes < prev.counters.RxBytes || c.TxBytes < prev.counters.TxBytes:
				p.log.Debug().Str("interface", iface.Name).Msg("counters went backwards, treating as reset")
			case elapsed > 0:
				rate.RxBytesPerSec = float64(c.RxBytes-prev.counters.RxBytes) / elapsed
				rate.TxBytesPerSec = float64(c.TxBytes-prev.counters.TxBytes) / elapsed
				rate.Valid = true
			}
		}
		p.prev[iface.Index] = sample{name: iface.Name, counters: c, at: now}
		rates = append(rates, rate)
	}

	for index := range p.prev {
		if !seen[index] {
			delete(p.prev, index)
		}
	}
	return rates
}
