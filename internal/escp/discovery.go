package escp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

// RawService is the mDNS service type advertised for the raw print port.
const RawService = "_pdl-datastream._tcp"

// PrinterInfo describes a printer found by mDNS.
type PrinterInfo struct {
	Instance string
	HostName string
	Addrs    []string
	Port     int
	Vendor   string // "usb_MFG" TXT record, if present
	Model    string // "usb_MDL" or "ty" TXT record, if present
}

// Host returns the first address, or the host name when none was resolved.
func (p PrinterInfo) Host() string {
	if len(p.Addrs) > 0 {
		return p.Addrs[0]
	}
	return strings.TrimSuffix(p.HostName, ".")
}

// IsEpson reports whether the advertisement names Epson as the manufacturer.
func (p PrinterInfo) IsEpson() bool {
	return strings.Contains(strings.ToUpper(p.Vendor), "EPSON") ||
		strings.Contains(strings.ToUpper(p.Instance), "EPSON")
}

// DiscoveryOptions configures printer discovery.
type DiscoveryOptions struct {
	Timeout time.Duration // 0 = 5s
	Domain  string        // "" = "local."
}

// Discover browses mDNS for raw-port printers until the timeout elapses.
func Discover(ctx context.Context, opts DiscoveryOptions) ([]PrinterInfo, error) {
	if opts.Timeout == 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Domain == "" {
		opts.Domain = "local."
	}
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("mdns resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(ctx, RawService, opts.Domain, entries); err != nil {
		return nil, fmt.Errorf("mdns browse: %w", err)
	}
	slog.Debug("browsing for printers", "service", RawService, "domain", opts.Domain, "timeout", opts.Timeout)

	seen := make(map[string]bool)
	var found []PrinterInfo
	for entry := range entries {
		if seen[entry.Instance] {
			continue
		}
		seen[entry.Instance] = true
		info := printerInfoFromEntry(entry)
		slog.Info("found printer", "instance", info.Instance, "host", info.Host(), "port", info.Port, "vendor", info.Vendor)
		found = append(found, info)
	}
	return found, nil
}

func printerInfoFromEntry(e *zeroconf.ServiceEntry) PrinterInfo {
	info := PrinterInfo{
		Instance: e.Instance,
		HostName: e.HostName,
		Port:     e.Port,
	}
	for _, ip := range e.AddrIPv4 {
		info.Addrs = append(info.Addrs, ip.String())
	}
	for _, ip := range e.AddrIPv6 {
		info.Addrs = append(info.Addrs, ip.String())
	}
	txt := parseTXT(e.Text)
	info.Vendor = txt["usb_MFG"]
	info.Model = txt["usb_MDL"]
	if info.Model == "" {
		info.Model = txt["ty"]
	}
	return info
}

func parseTXT(records []string) map[string]string {
	m := make(map[string]string, len(records))
	for _, r := range records {
		k, v, _ := strings.Cut(r, "=")
		m[k] = v
	}
	return m
}
