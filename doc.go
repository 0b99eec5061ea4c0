/*
Package ddns keeps Cloudflare DNS records synchronized with the machine's
current public IPv4/IPv6 addresses.

Usage starts with [LoadConfig] and [New],
which returns an [Updater].
[Updater.Run] polls at the configured TTL interval,
detecting the public addresses through external services and reconciling
each configured zone and subdomain against them.
Additional configuration options are listed in the docs for New.
*/
package ddns
