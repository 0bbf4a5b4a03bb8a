// Package probe loads the compiled eBPF stream-parser/stream-verdict
// pair and attaches it to a sockmap, giving the kernel the two maps it
// needs to redirect segments between enrolled sockets without userspace
// copies.
package probe

import (
	"fmt"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/rlimit"
)

// Probe owns the loaded stream parser, stream verdict and their maps
// for the lifetime of the process. It is process-scoped state with
// explicit Load/Close rather than a leaked loader handle.
type Probe struct {
	objs        probeObjects
	parserLink  link.Link
	verdictLink link.Link
}

// Load loads the compiled probe object, attaches the stream parser and
// stream verdict to the socket-map, and returns the live Probe. The
// caller must hold the privilege required to load eBPF programs;
// Load itself does not check that (see cmd/relay's startup check).
func Load() (*Probe, error) {
	if err := rlimit.RemoveMemlock(); err != nil {
		return nil, fmt.Errorf("probe: remove memlock rlimit: %w", err)
	}

	var objs probeObjects
	if err := loadProbeObjects(&objs, nil); err != nil {
		return nil, fmt.Errorf("probe: load objects: %w", err)
	}

	parserLink, err := link.RawAttachProgram(link.RawAttachProgramOptions{
		Target:  objs.Sockmap.FD(),
		Program: objs.ParseMessageBoundary,
		Attach:  ebpf.AttachSkSKBStreamParser,
	})
	if err != nil {
		objs.Close()
		return nil, fmt.Errorf("probe: attach stream parser: %w", err)
	}

	verdictLink, err := link.RawAttachProgram(link.RawAttachProgramOptions{
		Target:  objs.Sockmap.FD(),
		Program: objs.Verdict,
		Attach:  ebpf.AttachSkSKBStreamVerdict,
	})
	if err != nil {
		parserLink.Close()
		objs.Close()
		return nil, fmt.Errorf("probe: attach stream verdict: %w", err)
	}

	return &Probe{objs: objs, parserLink: parserLink, verdictLink: verdictLink}, nil
}

// SockMap returns the slot -> fd map for enrollment.
func (p *Probe) SockMap() *ebpf.Map { return p.objs.Sockmap }

// IdxMap returns the flow-key -> slot lookup map for enrollment.
func (p *Probe) IdxMap() *ebpf.Map { return p.objs.IdxMap }

// Close detaches both programs and releases the kernel maps.
func (p *Probe) Close() error {
	var firstErr error
	for _, c := range []interface{ Close() error }{p.verdictLink, p.parserLink, &p.objs} {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
