package ddns

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// reconcile brings one account's records for the detected address's kind in
// line with the detected IP. Each subdomain target is handled
// independently: a failed call skips that target only, and the next cycle
// re-reads provider state anyway.
func (u *Updater) reconcile(ctx context.Context, account Account, addr Address) {
	base, ok := u.provider.ZoneName(ctx, account)
	if !ok {
		u.logger.Warn("skipping account: zone lookup failed", zap.String("zone", account.ZoneID))
		return
	}

	for _, sub := range account.Subdomains {
		name := fqdn(sub.Name, base)
		proxied := account.Proxied
		if sub.Proxied != nil {
			proxied = *sub.Proxied
		}
		desired := Record{
			Kind:    addr.Kind,
			Name:    name,
			Content: addr.IP,
			Proxied: proxied,
			TTL:     u.ttl,
		}
		u.reconcileTarget(ctx, account, desired)
	}
}

func (u *Updater) reconcileTarget(ctx context.Context, account Account, desired Record) {
	existing, ok := u.provider.DNSRecords(ctx, account, desired.Kind)
	if !ok {
		u.logger.Warn("skipping target: record list failed",
			zap.String("zone", account.ZoneID),
			zap.String("name", desired.Name),
		)
		return
	}

	// Duplicate names shouldn't exist, but if they do the last record in
	// provider-returned order is the one treated as managed.
	var found *Record
	for i := range existing {
		if existing[i].Name == desired.Name {
			found = &existing[i]
		}
	}

	fields := []zap.Field{
		zap.String("zone", account.ZoneID),
		zap.String("type", string(desired.Kind)),
		zap.String("name", desired.Name),
		zap.String("content", desired.Content),
		zap.Bool("proxied", desired.Proxied),
	}
	switch {
	case found == nil:
		if u.provider.CreateDNSRecord(ctx, account, desired) {
			u.logger.Info("created record", fields...)
		}
	case found.Content != desired.Content || found.Proxied != desired.Proxied:
		desired.ID = found.ID
		if u.provider.UpdateDNSRecord(ctx, account, desired) {
			u.logger.Info("updated record", fields...)
		}
	default:
		u.logger.Debug("record up to date", fields...)
	}
}

// fqdn joins a subdomain label with the zone's base domain. An empty label
// or the "@" sentinel means the apex and yields the base domain itself.
func fqdn(name, base string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || name == "@" {
		return base
	}
	return name + "." + base
}
