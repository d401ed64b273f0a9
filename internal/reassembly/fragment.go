package reassembly

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"firestige.xyz/pktstack/internal/chunk"
	"firestige.xyz/pktstack/internal/core"
	"firestige.xyz/pktstack/internal/metrics"
)

// IPv4 limits (RFC 791).
const (
	ipv4MaxSize       = 65535
	ipv4MaxFragOffset = 8183 * 8 // in bytes
)

// FragmentConfig configures IPv4 fragment reassembly.
type FragmentConfig struct {
	MaxFragments    int           // per datagram, default 100
	MaxSize         int           // reassembled payload bytes, default 65535
	Timeout         time.Duration // default 60s
	MaxFragsPerIP   int           // per source per window, 0 = unlimited
	RateLimitWindow time.Duration // default 10s
}

// fragmentKey identifies one fragmented datagram.
type fragmentKey struct {
	srcIP    [4]byte
	dstIP    [4]byte
	protocol uint8
	id       uint16
}

// fragmentFlow holds the pieces of one datagram.
type fragmentFlow struct {
	buf       *Buffer
	count     int
	final     bool
	firstSeen time.Time
	lastSeen  time.Time
}

// FragmentReassembler rebuilds IPv4 datagrams from fragments. Overlapping
// fragments are resolved in favour of the latest one. Expiry follows packet
// timestamps, see Expire.
type FragmentReassembler struct {
	mu      sync.Mutex
	flows   map[fragmentKey]*fragmentFlow
	config  FragmentConfig
	limiter *RateLimiter
	logger  *slog.Logger
}

// NewFragmentReassembler creates a reassembler, applying defaults to cfg.
func NewFragmentReassembler(cfg FragmentConfig) *FragmentReassembler {
	if cfg.MaxFragments <= 0 {
		cfg.MaxFragments = 100
	}
	if cfg.MaxSize <= 0 || cfg.MaxSize > ipv4MaxSize {
		cfg.MaxSize = ipv4MaxSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &FragmentReassembler{
		flows:  make(map[fragmentKey]*fragmentFlow),
		config: cfg,
		limiter: NewRateLimiter(RateLimiterConfig{
			MaxPerSource: cfg.MaxFragsPerIP,
			Window:       cfg.RateLimitWindow,
		}),
		logger: slog.Default().With("component", "fragment-reassembler"),
	}
}

// Add feeds the payload of one IPv4 packet.
// Returns:
//   - not a fragment: (payload, nil)
//   - fragment, datagram still incomplete: (nil, nil)
//   - last missing fragment: (reassembled payload, nil)
//   - rejected fragment: (nil, err wrapping core.ErrReassemblyLimit or
//     core.ErrReassemblyTimeout)
func (r *FragmentReassembler) Add(ip core.IPHeader, payload chunk.Chunk, ts time.Time) (chunk.Chunk, error) {
	if !ip.IsFragment() {
		return payload, nil
	}
	if !ip.SrcIP.Is4() || !ip.DstIP.Is4() {
		return nil, fmt.Errorf("%w: fragment of IPv%d datagram", core.ErrUnsupportedProto, ip.Version)
	}

	size := payload.Len().Bytes()
	if err := r.securityChecks(int(ip.FragmentOffset), size); err != nil {
		r.drop("invalid")
		return nil, err
	}
	if !r.limiter.Allow(ip.SrcIP, ts) {
		r.drop("rate_limited")
		return nil, fmt.Errorf("%w: fragment rate exceeded for %s", core.ErrReassemblyLimit, ip.SrcIP)
	}

	key := fragmentKey{srcIP: ip.SrcIP.As4(), dstIP: ip.DstIP.As4(), protocol: ip.Protocol, id: ip.ID}

	r.mu.Lock()
	defer r.mu.Unlock()

	fl, ok := r.flows[key]
	if ok && ts.Sub(fl.firstSeen) > r.config.Timeout {
		r.evict(key, fl, "timeout")
		return nil, fmt.Errorf("%w: datagram %d from %s", core.ErrReassemblyTimeout, ip.ID, ip.SrcIP)
	}
	if !ok {
		fl = &fragmentFlow{buf: NewBuffer(0), firstSeen: ts}
		r.flows[key] = fl
		metrics.ReassemblyActiveFlows.WithLabelValues(metrics.KindIP).Inc()
	}

	if fl.count >= r.config.MaxFragments {
		r.evict(key, fl, "too_many_fragments")
		return nil, fmt.Errorf("%w: more than %d fragments", core.ErrReassemblyLimit, r.config.MaxFragments)
	}
	fl.count++
	fl.lastSeen = ts

	offset := core.Bytes(int(ip.FragmentOffset))
	if !ip.MoreFragments {
		fl.final = true
		fl.buf.SetExpected(offset + payload.Len())
	}
	if err := fl.buf.SetData(offset, payload); err != nil {
		r.evict(key, fl, "invalid")
		return nil, err
	}

	if !fl.final || !fl.buf.IsComplete() {
		return nil, nil
	}

	data := fl.buf.Data()
	if n := data.Len().Bytes(); n > r.config.MaxSize {
		r.evict(key, fl, "too_large")
		return nil, fmt.Errorf("%w: reassembled size %d exceeds %d", core.ErrReassemblyLimit, n, r.config.MaxSize)
	}
	metrics.ReassemblyRegions.WithLabelValues(metrics.KindIP).Observe(float64(fl.count))
	metrics.ReassembledBytesTotal.WithLabelValues(metrics.KindIP).Add(float64(data.Len().Bytes()))
	delete(r.flows, key)
	metrics.ReassemblyActiveFlows.WithLabelValues(metrics.KindIP).Dec()
	return data, nil
}

// securityChecks rejects fragments that cannot belong to a valid datagram.
func (r *FragmentReassembler) securityChecks(offset, size int) error {
	if size < 1 {
		return fmt.Errorf("%w: empty fragment", core.ErrReassemblyLimit)
	}
	if offset > ipv4MaxFragOffset {
		return fmt.Errorf("%w: fragment offset too large: %d", core.ErrReassemblyLimit, offset)
	}
	if end := offset + size; end > ipv4MaxSize {
		return fmt.Errorf("%w: fragment would exceed max IP size: offset=%d size=%d end=%d",
			core.ErrReassemblyLimit, offset, size, end)
	}
	return nil
}

// Expire drops datagrams whose first fragment is older than the timeout
// relative to now. Returns the number of datagrams dropped.
func (r *FragmentReassembler) Expire(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for key, fl := range r.flows {
		if now.Sub(fl.firstSeen) > r.config.Timeout {
			r.evict(key, fl, "timeout")
			n++
		}
	}
	if n > 0 {
		r.logger.Debug("expired incomplete datagrams", "count", n)
	}
	return n
}

// Pending returns the number of datagrams awaiting fragments.
func (r *FragmentReassembler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.flows)
}

// Rejected returns the number of fragments refused by the rate limiter.
func (r *FragmentReassembler) Rejected() int64 { return r.limiter.Rejected() }

// evict removes a flow. Must be called with r.mu held.
func (r *FragmentReassembler) evict(key fragmentKey, fl *fragmentFlow, reason string) {
	delete(r.flows, key)
	metrics.ReassemblyActiveFlows.WithLabelValues(metrics.KindIP).Dec()
	metrics.ReassemblyRegions.WithLabelValues(metrics.KindIP).Observe(float64(len(fl.buf.Regions())))
	r.drop(reason)
}

func (r *FragmentReassembler) drop(reason string) {
	metrics.ReassemblyDropsTotal.WithLabelValues(metrics.KindIP, reason).Inc()
}
