package cmd

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/exchangelink/exchangelink/internal/config"
	"github.com/exchangelink/exchangelink/internal/exchange"
	"github.com/exchangelink/exchangelink/internal/exchange/binance"
	"github.com/exchangelink/exchangelink/internal/exchange/latoken"
	"github.com/exchangelink/exchangelink/internal/exchange/market"
	"github.com/exchangelink/exchangelink/internal/metrics"
	"github.com/exchangelink/exchangelink/internal/observability"
)

// marketSource is a vendor client that can list its markets.
type marketSource interface {
	Markets(ctx context.Context) (market.Result, error)
}

type vendorClient interface {
	marketSource
	Base() *exchange.Client
}

type vendorFactory func(overrides map[string]any, opts exchange.Options) (vendorClient, error)

var vendors = map[string]vendorFactory{
	binance.Name: func(overrides map[string]any, opts exchange.Options) (vendorClient, error) {
		c, err := binance.New(overrides, opts)
		if err != nil {
			return nil, err
		}
		return binanceClient{c}, nil
	},
	latoken.Name: func(overrides map[string]any, opts exchange.Options) (vendorClient, error) {
		c, err := latoken.New(overrides, opts)
		if err != nil {
			return nil, err
		}
		return latokenClient{c}, nil
	},
}

type binanceClient struct{ *binance.Client }

func (c binanceClient) Base() *exchange.Client { return c.Client.Client }

type latokenClient struct{ *latoken.Client }

func (c latokenClient) Base() *exchange.Client { return c.Client.Client }

// fleet is every exchange client built for one process.
type fleet struct {
	registry *exchange.Registry
	markets  map[string]marketSource
}

// fleetOptions are the shared collaborators handed to every client.
type fleetOptions struct {
	Logger   *logging.Logger
	Recorder exchange.UnmappedRecorder
	Only     []string
}

// supportedExchanges lists the vendor names the binary can build.
func supportedExchanges() []string {
	names := make([]string, 0, len(vendors))
	for name := range vendors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// buildFleet constructs the enabled exchanges from cfg. Only narrows the set
// further; naming an unsupported exchange is an error.
func buildFleet(cfg *config.Config, opts fleetOptions) (*fleet, error) {
	wanted := make(map[string]bool, len(opts.Only))
	for _, name := range opts.Only {
		name = normalizeName(name)
		if name == "" {
			continue
		}
		if _, ok := vendors[name]; !ok {
			return nil, fmt.Errorf("unsupported exchange %q (supported: %s)", name, strings.Join(supportedExchanges(), ", "))
		}
		wanted[name] = true
	}

	f := &fleet{registry: exchange.NewRegistry(), markets: make(map[string]marketSource)}
	for _, name := range supportedExchanges() {
		if len(wanted) > 0 && !wanted[name] {
			continue
		}
		if len(wanted) == 0 && !cfg.ExchangeEnabled(name) {
			continue
		}

		clientOpts := exchange.Options{
			Logger:   opts.Logger,
			Observer: metrics.Observer{},
			Sink:     unmappedReporter(opts),
		}

		client, err := vendors[name](cfg.ExchangeOverrides(name), clientOpts)
		if err != nil {
			return nil, fmt.Errorf("build %s client: %w", name, err)
		}
		if err := f.registry.Register(client.Base()); err != nil {
			return nil, err
		}
		f.markets[name] = client
		if opts.Logger != nil {
			opts.Logger.Debug("Exchange client ready", zap.String("exchange", name))
		}
	}
	return f, nil
}

// unmappedReporter always logs unmapped vendor codes; the ledger is optional.
func unmappedReporter(opts fleetOptions) *exchange.UnmappedReporter {
	logger := opts.Logger
	if logger == nil {
		logger = observability.Logger()
	}
	return &exchange.UnmappedReporter{Logger: logger, Recorder: opts.Recorder}
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (f *fleet) client(name string) (*exchange.Client, error) {
	c, ok := f.registry.Get(name)
	if !ok {
		return nil, fmt.Errorf("exchange %q is not enabled (enabled: %s)", name, strings.Join(f.registry.Names(), ", "))
	}
	return c, nil
}
