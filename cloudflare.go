package ddns

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudflare/cloudflare-go"
	"go.uber.org/zap"
)

// Record is a DNS address record. Provider-side records carry the
// provider-assigned ID; desired records built by the reconciler leave it
// empty until an existing record is matched.
type Record struct {
	ID      string
	Kind    RecordKind
	Name    string
	Content string
	Proxied bool
	TTL     int
}

// Provider is the thin authenticated surface over the DNS provider's API.
//
// Every method collapses transport, HTTP, and decoding failures to a false
// ok after logging the detail: callers treat a failed call as "nothing
// learned, try again next cycle" and must never escalate it.
type Provider interface {
	// ZoneName resolves an account's zone ID to its canonical base domain.
	ZoneName(ctx context.Context, account Account) (string, bool)

	// DNSRecords lists the zone's records of one kind. ok distinguishes a
	// failed call from a zone that genuinely has no records of that kind.
	DNSRecords(ctx context.Context, account Account, kind RecordKind) ([]Record, bool)

	CreateDNSRecord(ctx context.Context, account Account, record Record) bool
	UpdateDNSRecord(ctx context.Context, account Account, record Record) bool
	DeleteDNSRecord(ctx context.Context, account Account, id string) bool
}

const requestTimeout = 30 * time.Second

func newCloudflareProvider(logger *zap.Logger, options ...cloudflare.Option) *cloudflareProvider {
	return &cloudflareProvider{
		logger:  logger,
		options: options,
		apis:    map[string]*cloudflare.API{},
	}
}

// cloudflareProvider implements Provider on the Cloudflare v4 API.
type cloudflareProvider struct {
	logger  *zap.Logger
	options []cloudflare.Option

	// apis caches one API client per credential set; accounts sharing a
	// zone may still authenticate differently. Only the poll loop touches
	// this map.
	apis map[string]*cloudflare.API
}

// cacheKey identifies a credential set. A token takes precedence over an
// email+key pair, matching the auth scheme api selects.
func (a Authentication) cacheKey() string {
	if a.APIToken != "" {
		return "token\x00" + a.APIToken
	}
	return "key\x00" + a.APIKey.AccountEmail + "\x00" + a.APIKey.Key
}

// api returns the client for an account, building it from the account's
// credential variant. A token takes precedence over an email+key pair.
func (p *cloudflareProvider) api(account Account) (*cloudflare.API, error) {
	auth := account.Authentication
	if api, found := p.apis[auth.cacheKey()]; found {
		return api, nil
	}
	var api *cloudflare.API
	var err error
	if auth.APIToken != "" {
		api, err = cloudflare.NewWithAPIToken(auth.APIToken, p.options...)
	} else {
		api, err = cloudflare.New(auth.APIKey.Key, auth.APIKey.AccountEmail, p.options...)
	}
	if err != nil {
		return nil, fmt.Errorf("error creating cloudflare api client: %w", err)
	}
	p.apis[auth.cacheKey()] = api
	return api, nil
}

func (p *cloudflareProvider) ZoneName(ctx context.Context, account Account) (string, bool) {
	api, err := p.api(account)
	if err != nil {
		p.logger.Error("cloudflare client setup failed", zap.String("zone", account.ZoneID), zap.Error(err))
		return "", false
	}
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	zone, err := api.ZoneDetails(ctx, account.ZoneID)
	if err != nil {
		p.fail("GET", "zones/"+account.ZoneID, account.ZoneID, err)
		return "", false
	}
	return zone.Name, true
}

func (p *cloudflareProvider) DNSRecords(ctx context.Context, account Account, kind RecordKind) ([]Record, bool) {
	api, err := p.api(account)
	if err != nil {
		p.logger.Error("cloudflare client setup failed", zap.String("zone", account.ZoneID), zap.Error(err))
		return nil, false
	}
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	records, _, err := api.ListDNSRecords(ctx, cloudflare.ZoneIdentifier(account.ZoneID), cloudflare.ListDNSRecordsParams{
		Type:       string(kind),
		ResultInfo: cloudflare.ResultInfo{PerPage: 100},
	})
	if err != nil {
		p.fail("GET", "zones/"+account.ZoneID+"/dns_records", account.ZoneID, err)
		return nil, false
	}

	out := make([]Record, 0, len(records))
	for _, r := range records {
		out = append(out, Record{
			ID:      r.ID,
			Kind:    RecordKind(r.Type),
			Name:    r.Name,
			Content: r.Content,
			Proxied: r.Proxied != nil && *r.Proxied,
			TTL:     r.TTL,
		})
	}
	return out, true
}

func (p *cloudflareProvider) CreateDNSRecord(ctx context.Context, account Account, record Record) bool {
	api, err := p.api(account)
	if err != nil {
		p.logger.Error("cloudflare client setup failed", zap.String("zone", account.ZoneID), zap.Error(err))
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	_, err = api.CreateDNSRecord(ctx, cloudflare.ZoneIdentifier(account.ZoneID), cloudflare.CreateDNSRecordParams{
		Type:    string(record.Kind),
		Name:    record.Name,
		Content: record.Content,
		Proxied: cloudflare.BoolPtr(record.Proxied),
		TTL:     record.TTL,
	})
	if err != nil {
		p.fail("POST", "zones/"+account.ZoneID+"/dns_records", account.ZoneID, err)
		return false
	}
	return true
}

func (p *cloudflareProvider) UpdateDNSRecord(ctx context.Context, account Account, record Record) bool {
	api, err := p.api(account)
	if err != nil {
		p.logger.Error("cloudflare client setup failed", zap.String("zone", account.ZoneID), zap.Error(err))
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	_, err = api.UpdateDNSRecord(ctx, cloudflare.ZoneIdentifier(account.ZoneID), cloudflare.UpdateDNSRecordParams{
		ID:      record.ID,
		Type:    string(record.Kind),
		Name:    record.Name,
		Content: record.Content,
		Proxied: cloudflare.BoolPtr(record.Proxied),
		TTL:     record.TTL,
	})
	if err != nil {
		p.fail("PUT", "zones/"+account.ZoneID+"/dns_records/"+record.ID, account.ZoneID, err)
		return false
	}
	return true
}

func (p *cloudflareProvider) DeleteDNSRecord(ctx context.Context, account Account, id string) bool {
	api, err := p.api(account)
	if err != nil {
		p.logger.Error("cloudflare client setup failed", zap.String("zone", account.ZoneID), zap.Error(err))
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	if err := api.DeleteDNSRecord(ctx, cloudflare.ZoneIdentifier(account.ZoneID), id); err != nil {
		p.fail("DELETE", "zones/"+account.ZoneID+"/dns_records/"+id, account.ZoneID, err)
		return false
	}
	return true
}

func (p *cloudflareProvider) fail(method, endpoint, zone string, err error) {
	p.logger.Error("cloudflare request failed",
		zap.String("method", method),
		zap.String("endpoint", endpoint),
		zap.String("zone", zone),
		zap.Error(err),
	)
}
