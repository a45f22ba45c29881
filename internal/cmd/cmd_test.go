package cmd

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exchangelink/exchangelink/internal/config"
	"github.com/exchangelink/exchangelink/internal/exchange"
	"github.com/exchangelink/exchangelink/internal/observability"
	"github.com/exchangelink/exchangelink/internal/output"
	"github.com/exchangelink/exchangelink/internal/resilience"
)

func testConfig(t *testing.T, values map[string]any) *config.Config {
	t.Helper()
	v := viper.New()
	config.SetDefaults(v)
	v.Set("store.path", filepath.Join(t.TempDir(), "exchangelink.db"))
	for k, val := range values {
		v.Set(k, val)
	}
	cfg, err := config.Load(v)
	require.NoError(t, err)
	return cfg
}

func TestBuildFleetDefaults(t *testing.T) {
	f, err := buildFleet(testConfig(t, nil), fleetOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{"binance", "latoken"}, f.registry.Names())
	assert.Contains(t, f.markets, "binance")
	assert.Contains(t, f.markets, "latoken")
}

func TestBuildFleetEnabledExchanges(t *testing.T) {
	f, err := buildFleet(testConfig(t, map[string]any{
		"enabled_exchanges": []string{"latoken"},
	}), fleetOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"latoken"}, f.registry.Names())

	_, err = f.client("binance")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not enabled")
}

func TestBuildFleetOnlyNarrows(t *testing.T) {
	f, err := buildFleet(testConfig(t, nil), fleetOptions{Only: []string{" Binance "}})
	require.NoError(t, err)
	assert.Equal(t, []string{"binance"}, f.registry.Names())

	_, err = buildFleet(testConfig(t, nil), fleetOptions{Only: []string{"kraken"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported exchange")
}

func TestBuildFleetAppliesOverrides(t *testing.T) {
	f, err := buildFleet(testConfig(t, map[string]any{
		"exchanges": map[string]any{
			"binance": map[string]any{
				"base_url": "http://127.0.0.1:1",
				"resources": map[string]any{
					"REQUEST_WEIGHT": map[string]any{"capacity": 600},
				},
			},
		},
	}), fleetOptions{})
	require.NoError(t, err)

	client, err := f.client("binance")
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:1", client.Settings().BaseURL)

	var weight *resilience.BudgetSnapshot
	for _, b := range client.Limits() {
		if b.Resource == "REQUEST_WEIGHT" {
			b := b
			weight = &b
		}
	}
	require.NotNil(t, weight)
	assert.Equal(t, 600, weight.Capacity)
	assert.Equal(t, time.Minute, weight.Window)
}

type recordedUnmapped []exchange.UnmappedError

func (r *recordedUnmapped) RecordUnmapped(_ context.Context, rec exchange.UnmappedError) error {
	*r = append(*r, rec)
	return nil
}

func TestUnmappedReporterWithoutLedger(t *testing.T) {
	original := observability.CLILogger
	t.Cleanup(func() { observability.CLILogger = original })
	observability.InitCLILogger("test", false)

	unmapped := &resilience.Error{Vendor: "binance", Code: "-9999", Kind: resilience.KindUnknown, Payload: []byte(`{"code":-9999}`)}

	reporter := unmappedReporter(fleetOptions{})
	require.NotNil(t, reporter.Logger)
	assert.Nil(t, reporter.Recorder)
	reporter.ReportUnmapped(unmapped)

	var ledger recordedUnmapped
	reporter = unmappedReporter(fleetOptions{Recorder: &ledger})
	reporter.ReportUnmapped(unmapped)
	require.Len(t, ledger, 1)
	assert.Equal(t, "-9999", ledger[0].Code)
}

func TestFleetClockProbe(t *testing.T) {
	remote := time.Now().Add(3 * time.Second)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/time", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"serverTime":` + strconv.FormatInt(remote.UnixMilli(), 10) + `}`))
	}))
	defer srv.Close()

	f, err := buildFleet(testConfig(t, map[string]any{
		"exchanges": map[string]any{"binance": map[string]any{"base_url": srv.URL}},
	}), fleetOptions{Only: []string{"binance"}})
	require.NoError(t, err)

	client, err := f.client("binance")
	require.NoError(t, err)
	delta, err := client.CurrentDelta(t.Context())
	require.NoError(t, err)
	assert.InDelta(t, float64(3*time.Second), float64(delta), float64(time.Second))

	state := client.ClockState()
	assert.True(t, state.Sampled)
	assert.Equal(t, "binance", state.Exchange)
}

func TestExitCodeFor(t *testing.T) {
	assert.Equal(t, foundry.ExitFailure, ExitCodeFor(assert.AnError))
	assert.Equal(t, foundry.ExitConfigInvalid, ExitCodeFor(&resilience.Error{Kind: resilience.KindAuthenticationFailed}))
	assert.Equal(t, foundry.ExitFailure, ExitCodeFor(&resilience.Error{Kind: resilience.KindOrderRejected}))
	assert.Equal(t, foundry.ExitExternalServiceUnavailable, ExitCodeFor(&resilience.Error{Kind: resilience.KindRateLimited}))
}

func TestOpenCommandSink(t *testing.T) {
	newCmd := func() *cobra.Command {
		c := &cobra.Command{Use: "test"}
		addOutputFlags(c)
		return c
	}

	c := newCmd()
	require.NoError(t, c.Flags().Set("out", "a.txt"))
	require.NoError(t, c.Flags().Set("out-dir", "dir"))
	_, err := openCommandSink(c, "limits", output.FormatTable)
	require.Error(t, err)

	c = newCmd()
	var buf bytes.Buffer
	c.SetOut(&buf)
	sink, err := openCommandSink(c, "limits", output.FormatTable)
	require.NoError(t, err)
	assert.Equal(t, "-", sink.path)
	assert.Same(t, &buf, sink.writer)

	c = newCmd()
	dir := t.TempDir()
	require.NoError(t, c.Flags().Set("out-dir", dir))
	sink, err = openCommandSink(c, "unmapped.list", output.FormatJSON)
	require.NoError(t, err)
	defer func() { _ = sink.close() }()
	assert.Equal(t, filepath.Join(dir, "unmapped.list.json"), sink.path)
}

func TestWriteUnmappedResetResult(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeUnmappedResetResult(output.FormatTable, &buf, 3, 0, true))
	assert.Equal(t, "Would delete 3 unmapped error entr(ies)\n", buf.String())

	buf.Reset()
	require.NoError(t, writeUnmappedResetResult(output.FormatJSON, &buf, 3, 2, false))
	assert.JSONEq(t, `{"matched":3,"deleted":2,"dry_run":false}`, buf.String())
}
