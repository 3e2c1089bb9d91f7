package alert

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nlagent/nlagent/internal/counters"
	"github.com/nlagent/nlagent/internal/registry"
	"github.com/nlagent/nlagent/pkg/bytesize"
)

func TestKindString(t *testing.T) {
	assert.Equal(t, "rx_errors", KindRxErrors.String())
	assert.Equal(t, "tx_errors", KindTxErrors.String())
	assert.Equal(t, "rx_rate", KindRxRate.String())
	assert.Equal(t, "tx_rate", KindTxRate.String())
	assert.Equal(t, "unknown", Kind(99).String())
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, uint64(10), cfg.ErrorThreshold)
	assert.Equal(t, float64(10*bytesize.MB), cfg.RxRate)
	assert.Zero(t, cfg.TxRate)
}

func TestErrorThresholdIsStrict(t *testing.T) {
	e := NewEvaluator(DefaultConfig(), zerolog.Nop())

	ifaces := []registry.Interface{
		{Index: 1, Name: "eth0", Counters: registry.Counters{RxErrors: 10, TxErrors: 11}},
	}
	alerts := e.Evaluate(ifaces, nil)

	require.Len(t, alerts, 1)
	assert.Equal(t, KindTxErrors, alerts[0].Kind)
	assert.Equal(t, "eth0", alerts[0].Interface)
	assert.Equal(t, 11.0, alerts[0].Value)
}

func TestRateAlertsNeedValidRates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TxRate = 1000
	e := NewEvaluator(cfg, zerolog.Nop())

	ifaces := []registry.Interface{{Index: 2, Name: "eth0"}}
	high := 20 * float64(bytesize.MB)

	alerts := e.Evaluate(ifaces, []counters.Rate{{Index: 2, RxBytesPerSec: high, TxBytesPerSec: 5000}})
	assert.Empty(t, alerts, "invalid rates never alert")

	alerts = e.Evaluate(ifaces, []counters.Rate{{Index: 2, RxBytesPerSec: high, TxBytesPerSec: 5000, Valid: true}})
	require.Len(t, alerts, 2)
	assert.Equal(t, KindRxRate, alerts[0].Kind)
	assert.Equal(t, KindTxRate, alerts[1].Kind)
}

func TestZeroThresholdDisables(t *testing.T) {
	e := NewEvaluator(Config{}, zerolog.Nop())
	alerts := e.Evaluate(
		[]registry.Interface{{Index: 1, Name: "eth0", Counters: registry.Counters{RxErrors: 1 << 20}}},
		[]counters.Rate{{Index: 1, RxBytesPerSec: 1e12, Valid: true}},
	)
	assert.Empty(t, alerts)
}

func TestNotifierFiresOnTransitionsOnly(t *testing.T) {
	e := NewEvaluator(DefaultConfig(), zerolog.Nop())
	var fired []Alert
	e.SetNotifier(func(a Alert) { fired = append(fired, a) })

	bad := []registry.Interface{{Index: 1, Name: "eth0", Counters: registry.Counters{RxErrors: 50}}}
	good := []registry.Interface{{Index: 1, Name: "eth0"}}

	assert.Len(t, e.Evaluate(bad, nil), 1)
	assert.Len(t, e.Evaluate(bad, nil), 1)
	assert.Len(t, fired, 1)

	assert.Empty(t, e.Evaluate(good, nil))
	assert.Len(t, e.Evaluate(bad, nil), 1)
	assert.Len(t, fired, 2)
}
