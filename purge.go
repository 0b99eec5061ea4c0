package ddns

import (
	"context"

	"go.uber.org/zap"
)

// purge deletes every record of kind across all configured accounts. It
// runs only when purging is enabled and the owning address family went
// undetected this cycle: a record that can no longer be verified is assumed
// stale, and a wrong answer is worse than none.
//
// The listing is unfiltered by name, so records this tool never created are
// deleted too. That is why purging is opt-in.
func (u *Updater) purge(ctx context.Context, kind RecordKind) {
	for _, account := range u.accounts {
		records, ok := u.provider.DNSRecords(ctx, account, kind)
		if !ok {
			continue
		}
		for _, record := range records {
			if u.provider.DeleteDNSRecord(ctx, account, record.ID) {
				u.logger.Info("deleted stale record",
					zap.String("zone", account.ZoneID),
					zap.String("type", string(kind)),
					zap.String("name", record.Name),
					zap.String("id", record.ID),
				)
			}
		}
	}
}
