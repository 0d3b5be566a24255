package escp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/gosnmp/gosnmp"
)

// DefaultQueryTimeout bounds the wait for an SNMP reply.
const DefaultQueryTimeout = 60 * time.Second

const maxDatagram = 4096

// SNMPClient sends the pre-encoded status and nozzle queries.
// Each Query uses its own socket; there are no retries.
type SNMPClient struct {
	Host    string
	Port    int           // 0 = SNMPPort
	Timeout time.Duration // 0 = DefaultQueryTimeout
}

// NewSNMPClient creates an SNMPClient for the given printer address.
func NewSNMPClient(host string) *SNMPClient {
	return &SNMPClient{Host: host, Port: SNMPPort, Timeout: DefaultQueryTimeout}
}

// Query sends request as one datagram and returns the first reply from the
// printer, unparsed. Cancelling ctx aborts the wait.
func (c *SNMPClient) Query(ctx context.Context, request []byte) ([]byte, error) {
	port := c.Port
	if port == 0 {
		port = SNMPPort
	}
	timeout := c.Timeout
	if timeout == 0 {
		timeout = DefaultQueryTimeout
	}
	addrStr := net.JoinHostPort(c.Host, strconv.Itoa(port))

	addr, err := net.ResolveUDPAddr("udp", addrStr)
	if err != nil {
		return nil, &TransportError{Op: "resolve", Addr: addrStr, Kind: ErrNetwork, Err: err}
	}
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, &TransportError{Op: "listen", Addr: addrStr, Kind: ErrNetwork, Err: err}
	}
	defer conn.Close()

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetReadDeadline(deadline)
	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Now())
	})
	defer stop()

	if _, err := conn.WriteToUDP(request, addr); err != nil {
		return nil, &TransportError{Op: "query", Addr: addrStr, Kind: ErrNetwork, Err: err}
	}
	slog.Debug("snmp query sent", "addr", addrStr, "bytes", len(request))

	buf := make([]byte, maxDatagram)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("query %s: %w", addrStr, ctx.Err())
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return nil, &TransportError{Op: "query", Addr: addrStr, Kind: ErrTimeout, Err: err}
			}
			return nil, &TransportError{Op: "query", Addr: addrStr, Kind: ErrNetwork, Err: err}
		}
		if !from.IP.Equal(addr.IP) {
			slog.Debug("ignoring datagram from unexpected peer", "from", from, "bytes", n)
			continue
		}
		slog.Debug("snmp reply received", "addr", addrStr, "bytes", n)
		return bytes.Clone(buf[:n]), nil
	}
}

// Payload extracts the vendor frame from an SNMP GetResponse. If raw does not
// decode as SNMP or carries no octet string with an "@BDC" frame, raw is
// returned unchanged; the frame decoders locate their marker themselves.
func Payload(raw []byte) []byte {
	pkt, err := gosnmp.Default.SnmpDecodePacket(raw)
	if err != nil {
		slog.Debug("reply is not an SNMP packet, using raw bytes", "err", err)
		return raw
	}
	for _, v := range pkt.Variables {
		if v.Type != gosnmp.OctetString {
			continue
		}
		b, ok := v.Value.([]byte)
		if ok && bytes.Contains(b, []byte("@BDC")) {
			slog.Debug("snmp variable", "oid", v.Name, "bytes", len(b))
			return b
		}
	}
	return raw
}
