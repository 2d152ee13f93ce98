package probe

import (
	"context"
	"fmt"
	"math"
	"net"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// ICMPProber sends echo requests from the process itself instead of running
// the ping binary. Its output mimics the ping summary so it can be parsed the
// same way.
type ICMPProber struct {
	Count      int
	Interval   time.Duration // pause between echo requests
	Timeout    time.Duration // wait for each reply
	Privileged bool          // raw socket; otherwise an unprivileged datagram socket
	Resolver   *net.Resolver
}

func NewICMPProber(privileged bool) *ICMPProber {
	return &ICMPProber{
		Count:      EchoCount,
		Interval:   time.Second,
		Timeout:    2 * time.Second,
		Privileged: privileged,
		Resolver:   net.DefaultResolver,
	}
}

// Probe resolves host and sends Count echo requests. Name resolution
// failures and lost replies are reported in the output like ping does;
// only failing to open the socket is an error.
func (p *ICMPProber) Probe(ctx context.Context, host string) (Result, error) {
	startTime := time.Now()

	ip, err := p.resolve(ctx, host)
	if err != nil {
		if ctx.Err() != nil {
			return Result{Host: host}, fmt.Errorf("probe %s: %w", host, ctx.Err())
		}
		return Result{
			Host:     host,
			Output:   fmt.Sprintf("ping: %s: %v\n", host, err),
			ExitCode: 2,
			Duration: time.Since(startTime),
		}, nil
	}

	conn, err := p.listen(ip)
	if err != nil {
		return Result{Host: host}, fmt.Errorf("%w: open icmp socket: %v", ErrLaunch, err)
	}
	defer conn.Close()

	count := p.Count
	if count <= 0 {
		count = EchoCount
	}

	id := os.Getpid() & 0xffff
	rtts := make([]time.Duration, 0, count)

	for seq := 1; seq <= count; seq++ {
		if seq > 1 && p.Interval > 0 {
			select {
			case <-ctx.Done():
				return Result{Host: host}, fmt.Errorf("probe %s: %w", host, ctx.Err())
			case <-time.After(p.Interval):
			}
		}

		rtt, err := p.echo(ctx, conn, ip, id, seq)
		if err != nil {
			if ctx.Err() != nil {
				return Result{Host: host}, fmt.Errorf("probe %s: %w", host, ctx.Err())
			}
			log.Debugf("Echo %d to %s failed: %v", seq, host, err)
			continue
		}
		rtts = append(rtts, rtt)
	}

	result := Result{
		Host:     host,
		Output:   FormatSummary(host, ip, count, rtts),
		Duration: time.Since(startTime),
	}
	if len(rtts) == 0 {
		result.ExitCode = 1
	}

	return result, nil
}

func (p *ICMPProber) resolve(ctx context.Context, host string) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return ip, nil
	}

	resolver := p.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}

	addrs, err := resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}

	// Prefer IPv4 like ping does
	for _, addr := range addrs {
		if addr.IP.To4() != nil {
			return addr.IP, nil
		}
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("no addresses for %s", host)
	}
	return addrs[0].IP, nil
}

func (p *ICMPProber) listen(ip net.IP) (*icmp.PacketConn, error) {
	isIPv6 := ip.To4() == nil
	switch {
	case isIPv6 && p.Privileged:
		return icmp.ListenPacket("ip6:ipv6-icmp", "::")
	case isIPv6:
		return icmp.ListenPacket("udp6", "::")
	case p.Privileged:
		return icmp.ListenPacket("ip4:icmp", "0.0.0.0")
	default:
		return icmp.ListenPacket("udp4", "0.0.0.0")
	}
}

// echo sends one echo request and waits for the matching reply
func (p *ICMPProber) echo(ctx context.Context, conn *icmp.PacketConn, ip net.IP, id, seq int) (time.Duration, error) {
	isIPv6 := ip.To4() == nil

	var requestType, replyType icmp.Type
	var protocol int
	if isIPv6 {
		requestType, replyType = ipv6.ICMPTypeEchoRequest, ipv6.ICMPTypeEchoReply
		protocol = ipv6.ICMPTypeEchoReply.Protocol()
	} else {
		requestType, replyType = ipv4.ICMPTypeEcho, ipv4.ICMPTypeEchoReply
		protocol = ipv4.ICMPTypeEchoReply.Protocol()
	}

	msg := &icmp.Message{
		Type: requestType,
		Code: 0,
		Body: &icmp.Echo{
			ID:   id,
			Seq:  seq,
			Data: []byte("WORLDPING-ECHO"),
		},
	}

	msgBytes, err := msg.Marshal(nil)
	if err != nil {
		return 0, fmt.Errorf("marshal icmp message: %w", err)
	}

	var dst net.Addr = &net.UDPAddr{IP: ip}
	if p.Privileged {
		dst = &net.IPAddr{IP: ip}
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return 0, fmt.Errorf("set read deadline: %w", err)
	}

	sent := time.Now()
	if _, err := conn.WriteTo(msgBytes, dst); err != nil {
		return 0, fmt.Errorf("send echo: %w", err)
	}

	reply := make([]byte, 1500)
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		n, _, err := conn.ReadFrom(reply)
		if err != nil {
			return 0, fmt.Errorf("read reply: %w", err)
		}

		rm, err := icmp.ParseMessage(protocol, reply[:n])
		if err != nil || rm.Type != replyType {
			continue
		}

		echo, ok := rm.Body.(*icmp.Echo)
		if !ok || echo.Seq != seq {
			continue
		}
		// The kernel rewrites the ID on unprivileged sockets
		if p.Privileged && echo.ID != id {
			continue
		}

		return time.Since(sent), nil
	}
}

// FormatSummary renders echo round-trip times the way ping reports them.
// The rtt line is omitted when nothing was received.
func FormatSummary(host string, ip net.IP, transmitted int, rtts []time.Duration) string {
	var b strings.Builder

	fmt.Fprintf(&b, "PING %s (%s)\n", host, ip)
	fmt.Fprintf(&b, "--- %s ping statistics ---\n", host)

	loss := 100.0
	if transmitted > 0 {
		loss = float64(transmitted-len(rtts)) / float64(transmitted) * 100.0
	}
	fmt.Fprintf(&b, "%d packets transmitted, %d received, %.0f%% packet loss\n", transmitted, len(rtts), loss)

	if len(rtts) == 0 {
		return b.String()
	}

	minMs, maxMs := math.Inf(1), math.Inf(-1)
	var sum, sumSquares float64
	for _, rtt := range rtts {
		ms := float64(rtt) / float64(time.Millisecond)
		minMs = math.Min(minMs, ms)
		maxMs = math.Max(maxMs, ms)
		sum += ms
		sumSquares += ms * ms
	}
	n := float64(len(rtts))
	avg := sum / n
	mdev := math.Sqrt(math.Max(0, sumSquares/n-avg*avg))

	fmt.Fprintf(&b, "rtt min/avg/max/mdev = %.3f/%.3f/%.3f/%.3f ms\n", minMs, avg, maxMs, mdev)
	return b.String()
}
