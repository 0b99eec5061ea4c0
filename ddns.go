package ddns

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cloudflare/cloudflare-go"
	"go.uber.org/zap"
)

// Updater keeps the configured DNS records synchronized with the machine's
// detected public addresses.
type Updater struct {
	accounts     []Account
	ttl          int
	ipv4         bool
	ipv6         bool
	purgeUnknown bool

	resolver   Resolver
	provider   Provider
	httpClient *http.Client
	logger     *zap.Logger

	state detectionState
}

// detectionState carries the per-family warn-once flags between cycles.
// A detection failure is logged when the family first becomes undetectable
// and then suppressed until it is detected again, so prolonged outages
// don't flood the log with an identical warning every cycle.
type detectionState struct {
	warnedIPv4 bool
	warnedIPv6 bool
}

// New builds an Updater from an already-validated configuration.
func New(cfg *Config, options ...Option) (*Updater, error) {
	if cfg == nil || len(cfg.Accounts) == 0 {
		return nil, ErrNoAccounts
	}
	u := &Updater{
		accounts:     cfg.Accounts,
		ttl:          cfg.EffectiveTTL(),
		ipv4:         cfg.IPv4Enabled(),
		ipv6:         cfg.IPv6Enabled(),
		purgeUnknown: cfg.PurgeUnknownRecords,
		logger:       zap.NewNop(),
	}
	for i, opt := range options {
		if err := opt(u); err != nil {
			return nil, fmt.Errorf("ddns.New: option %d returned an error: %w", i, err)
		}
	}
	if u.resolver == nil {
		u.resolver = &WebResolver{HTTPClient: u.httpClient}
	}
	if u.provider == nil {
		var cfopts []cloudflare.Option
		if u.httpClient != nil {
			cfopts = append(cfopts, cloudflare.HTTPClient(u.httpClient))
		}
		u.provider = newCloudflareProvider(u.logger, cfopts...)
	}
	return u, nil
}

type Option func(*Updater) error

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(u *Updater) error {
		if logger == nil {
			logger = zap.NewNop()
		}
		u.logger = logger
		return nil
	}
}

// UsingResolver replaces the default web-service resolver.
func UsingResolver(resolver Resolver) Option {
	return func(u *Updater) error {
		u.resolver = resolver
		return nil
	}
}

// UsingProvider replaces the default Cloudflare provider.
func UsingProvider(provider Provider) Option {
	return func(u *Updater) error {
		u.provider = provider
		return nil
	}
}

// UsingHTTPClient sets the HTTP client used by the default resolver and the
// default Cloudflare provider. It has no effect on resolvers or providers
// supplied through other options.
func UsingHTTPClient(httpclient *http.Client) Option {
	return func(u *Updater) error {
		u.httpClient = httpclient
		return nil
	}
}

// Interval returns the poll interval, which is the effective TTL.
func (u *Updater) Interval() time.Duration {
	return time.Duration(u.ttl) * time.Second
}

// Run polls until ctx is cancelled: one cycle immediately, then one per
// TTL seconds. Cancellation is observed only between cycles, so an
// in-flight cycle always runs to completion; the provider and detection
// calls bound themselves with their own timeouts. Run returns nil on a
// graceful stop.
func (u *Updater) Run(ctx context.Context) error {
	ticker := time.NewTicker(u.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			u.logger.Info("stopping")
			return nil
		default:
		}

		u.RunOnce(context.Background())

		select {
		case <-ctx.Done():
			u.logger.Info("stopping")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce executes a single detect-and-reconcile cycle. Nothing in a cycle
// is fatal: every failure is logged at its origin and reduced to a skip.
func (u *Updater) RunOnce(ctx context.Context) {
	detected := u.detect(ctx)
	for _, family := range []Family{FamilyIPv4, FamilyIPv6} {
		addr, found := detected[family]
		if !found {
			continue
		}
		for _, account := range u.accounts {
			u.reconcile(ctx, account, addr)
		}
	}
}

// detect resolves the enabled address families. A family that fails to
// resolve is simply absent from the result; if purging is enabled its
// records are deleted in the same cycle.
func (u *Updater) detect(ctx context.Context) Detected {
	detected := Detected{}

	if u.ipv4 {
		addr, err := u.resolver.ResolveIPv4(ctx)
		if err != nil {
			if !u.state.warnedIPv4 {
				u.state.warnedIPv4 = true
				u.logger.Warn("IPv4 detection failed", zap.Error(err))
			}
			if u.purgeUnknown {
				u.purge(ctx, KindA)
			}
		} else {
			u.state.warnedIPv4 = false
			detected[FamilyIPv4] = Address{Kind: KindA, IP: addr.String()}
		}
	}

	if u.ipv6 {
		addr, err := u.resolver.ResolveIPv6(ctx)
		if err != nil {
			if !u.state.warnedIPv6 {
				u.state.warnedIPv6 = true
				u.logger.Warn("IPv6 detection failed", zap.Error(err))
			}
			if u.purgeUnknown {
				u.purge(ctx, KindAAAA)
			}
		} else {
			u.state.warnedIPv6 = false
			detected[FamilyIPv6] = Address{Kind: KindAAAA, IP: addr.String()}
		}
	}

	return detected
}
