package source

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"golang.org/x/net/bpf"

	"firestige.xyz/pktstack/internal/core"
)

// FilterConfig selects the frames a source hands to the decoder. Only
// IP-layer fields are matched so that every fragment of a datagram passes.
type FilterConfig struct {
	Protocols []string // "tcp", "udp", "icmp" or protocol numbers; empty = any
	Host      string   // IPv4 address matched as source or destination
	SnapLen   int      // accepted bytes per frame, default 65535
}

const (
	etherTypeOffset = 12
	etherTypeIPv4   = 0x0800
	etherTypeVLAN   = 0x8100
	ipProtoOffset   = 9
	ipSrcOffset     = 12
	ipDstOffset     = 16
)

var protocolNumbers = map[string]uint32{
	"icmp": 1,
	"tcp":  uint32(core.ProtocolTCP),
	"udp":  uint32(core.ProtocolUDP),
}

// CompileFilter builds a BPF program accepting untagged or single-tagged
// IPv4 frames that satisfy cfg.
func CompileFilter(cfg FilterConfig) ([]bpf.Instruction, error) {
	protos, err := parseProtocols(cfg.Protocols)
	if err != nil {
		return nil, err
	}
	var host uint32
	if cfg.Host != "" {
		addr, err := netip.ParseAddr(cfg.Host)
		if err != nil || !addr.Is4() {
			return nil, fmt.Errorf("%w: filter host %q is not an IPv4 address", core.ErrConfigInvalid, cfg.Host)
		}
		b := addr.As4()
		host = uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
	}
	snapLen := uint32(cfg.SnapLen)
	if snapLen == 0 {
		snapLen = 65535
	}

	a := newAssembler()
	a.emit(bpf.LoadAbsolute{Off: etherTypeOffset, Size: 2})
	a.jumpTrue(bpf.JumpIf{Cond: bpf.JumpEqual, Val: etherTypeVLAN}, "vlan")
	a.ipv4Body(14, protos, host, snapLen)

	a.label("vlan")
	a.emit(bpf.LoadAbsolute{Off: etherTypeOffset + 4, Size: 2})
	a.ipv4Body(18, protos, host, snapLen)

	a.label("drop")
	a.emit(bpf.RetConstant{Val: 0})
	return a.finish()
}

func parseProtocols(names []string) ([]uint32, error) {
	var protos []uint32
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if n, ok := protocolNumbers[name]; ok {
			protos = append(protos, n)
			continue
		}
		n, err := strconv.ParseUint(name, 10, 8)
		if err != nil {
			return nil, fmt.Errorf("%w: unknown protocol %q", core.ErrConfigInvalid, name)
		}
		protos = append(protos, uint32(n))
	}
	return protos, nil
}

// ipv4Body expects the EtherType in A and checks the IPv4 header at base.
func (a *assembler) ipv4Body(base uint32, protos []uint32, host, snapLen uint32) {
	a.jumpFalse(bpf.JumpIf{Cond: bpf.JumpEqual, Val: etherTypeIPv4}, "drop")

	if len(protos) > 0 {
		a.emit(bpf.LoadAbsolute{Off: base + ipProtoOffset, Size: 1})
		for i, p := range protos {
			jmp := bpf.JumpIf{Cond: bpf.JumpEqual, Val: p, SkipTrue: uint8(len(protos) - 1 - i)}
			if i == len(protos)-1 {
				a.jumpFalse(jmp, "drop")
			} else {
				a.emit(jmp)
			}
		}
	}

	if host != 0 {
		a.emit(bpf.LoadAbsolute{Off: base + ipSrcOffset, Size: 4})
		a.emit(bpf.JumpIf{Cond: bpf.JumpEqual, Val: host, SkipTrue: 2})
		a.emit(bpf.LoadAbsolute{Off: base + ipDstOffset, Size: 4})
		a.jumpFalse(bpf.JumpIf{Cond: bpf.JumpEqual, Val: host}, "drop")
	}

	a.emit(bpf.RetConstant{Val: snapLen})
}

// assembler resolves forward jumps to named labels.
type assembler struct {
	ins    []bpf.Instruction
	labels map[string]int
	fixups []fixup
}

type fixup struct {
	at     int
	label  string
	onTrue bool
}

func newAssembler() *assembler {
	return &assembler{labels: make(map[string]int)}
}

func (a *assembler) emit(ins bpf.Instruction) { a.ins = append(a.ins, ins) }

func (a *assembler) label(name string) { a.labels[name] = len(a.ins) }

func (a *assembler) jumpTrue(j bpf.JumpIf, label string) {
	a.fixups = append(a.fixups, fixup{at: len(a.ins), label: label, onTrue: true})
	a.emit(j)
}

func (a *assembler) jumpFalse(j bpf.JumpIf, label string) {
	a.fixups = append(a.fixups, fixup{at: len(a.ins), label: label})
	a.emit(j)
}

func (a *assembler) finish() ([]bpf.Instruction, error) {
	for _, f := range a.fixups {
		target, ok := a.labels[f.label]
		if !ok {
			return nil, fmt.Errorf("bpf: undefined label %q", f.label)
		}
		skip := target - f.at - 1
		if skip < 0 || skip > 255 {
			return nil, fmt.Errorf("bpf: jump to %q out of range", f.label)
		}
		j := a.ins[f.at].(bpf.JumpIf)
		if f.onTrue {
			j.SkipTrue = uint8(skip)
		} else {
			j.SkipFalse = uint8(skip)
		}
		a.ins[f.at] = j
	}
	if _, err := bpf.Assemble(a.ins); err != nil {
		return nil, fmt.Errorf("bpf: %w", err)
	}
	return a.ins, nil
}

// Filter runs a compiled program over frames in user space.
type Filter struct {
	vm *bpf.VM
}

// NewFilter compiles cfg.
func NewFilter(cfg FilterConfig) (*Filter, error) {
	prog, err := CompileFilter(cfg)
	if err != nil {
		return nil, err
	}
	vm, err := bpf.NewVM(prog)
	if err != nil {
		return nil, fmt.Errorf("bpf: %w", err)
	}
	return &Filter{vm: vm}, nil
}

// Match reports whether frame passes. A nil filter passes everything.
func (f *Filter) Match(frame []byte) bool {
	if f == nil {
		return true
	}
	n, err := f.vm.Run(frame)
	return err == nil && n > 0
}
