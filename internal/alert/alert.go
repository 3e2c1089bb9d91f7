// Package alert compares interface counters and rates against thresholds.
package alert

import (
	"github.com/rs/zerolog"

	"github.com/nlagent/nlagent/internal/counters"
	"github.com/nlagent/nlagent/internal/registry"
	"github.com/nlagent/nlagent/pkg/bytesize"
)

// Kind identifies the threshold an alert crossed.
type Kind int

const (
	KindRxErrors Kind = iota
	KindTxErrors
	KindRxRate
	KindTxRate
)

func (k Kind) String() string {
	switch k {
	case KindRxErrors:
		return "rx_errors"
	case KindTxErrors:
		return "tx_errors"
	case KindRxRate:
		return "rx_rate"
	case KindTxRate:
		return "tx_rate"
	default:
		return "unknown"
	}
}

// Config holds alert thresholds. A zero threshold disables its check;
// values must exceed a threshold to fire.
type Config struct {
	ErrorThreshold uint64
	RxRate         float64 // bytes per second
	TxRate         float64 // bytes per second
}

// DefaultConfig alerts above 10 errors in either direction and above
// 10 MiB/s received.
func DefaultConfig() Config {
	return Config{
		ErrorThreshold: 10,
		RxRate:         float64(10 * bytesize.MB),
	}
}

// Alert is one threshold currently exceeded.
type Alert struct {
	Kind      Kind
	Interface string
	Value     float64
	Threshold float64
}

type key struct {
	index int
	kind  Kind
}

// Evaluator tracks which alerts are firing so it logs transitions rather
// than every evaluation.
type Evaluator struct {
	cfg    Config
	log    zerolog.Logger
	active map[key]bool
	notify func(Alert)
}

// NewEvaluator returns an evaluator using cfg.
func NewEvaluator(cfg Config, logger zerolog.Logger) *Evaluator {
	return &Evaluator{
		cfg:    cfg,
		log:    logger,
		active: make(map[key]bool),
	}
}

// SetNotifier registers fn to be called when an alert starts firing.
func (e *Evaluator) SetNotifier(fn func(Alert)) {
	e.notify = fn
}

// Evaluate checks every interface and returns all alerts currently firing.
func (e *Evaluator) Evaluate(ifaces []registry.Interface, rates []counters.Rate) []Alert {
	rateByIndex := make(map[int]counters.Rate, len(rates))
	for _, r := range rates {
		rateByIndex[r.Index] = r
	}

	var firing []Alert
	now := make(map[key]bool)

	check := func(iface registry.Interface, kind Kind, value, threshold float64) {
		if threshold <= 0 || value <= threshold {
			return
		}
		a := Alert{Kind: kind, Interface: iface.Name, Value: value, Threshold: threshold}
		firing = append(firing, a)
		k := key{iface.Index, kind}
		now[k] = true
		if e.active[k] {
			return
		}
		e.log.Warn().
			Str("interface", iface.Name).
			Str("alert", kind.String()).
			Float64("value", value).
			Float64("threshold", threshold).
			Msg(describe(a))
		if e.notify != nil {
			e.notify(a)
		}
	}

	errThreshold := float64(e.cfg.ErrorThreshold)
	for _, iface := range ifaces {
		check(iface, KindRxErrors, float64(iface.Counters.RxErrors), errThreshold)
		check(iface, KindTxErrors, float64(iface.Counters.TxErrors), errThreshold)
		if r, ok := rateByIndex[iface.Index]; ok && r.Valid {
			check(iface, KindRxRate, r.RxBytesPerSec, e.cfg.RxRate)
			check(iface, KindTxRate, r.TxBytesPerSec, e.cfg.TxRate)
		}
	}

	for k := range e.active {
		if !now[k] {
			e.log.Info().Int("index", k.index).Str("alert", k.kind.String()).Msg("alert cleared")
		}
	}
	e.active = now
	return firing
}

func describe(a Alert) string {
	switch a.Kind {
	case KindRxRate, KindTxRate:
		return "high traffic rate on " + a.Interface + ": " + bytesize.FormatRate(a.Value)
	default:
		return "high error count on " + a.Interface
	}
}
