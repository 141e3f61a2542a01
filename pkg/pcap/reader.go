package pcap

import (
	"FlowSpectra/internal/engine/protocol"
	"FlowSpectra/internal/metrics"
	"FlowSpectra/internal/model"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"github.com/google/gopacket/pcapgo"
	log "github.com/sirupsen/logrus"
)

// Stats reports capture counters. Offline sources only count received packets.
type Stats struct {
	Received int
	Dropped  int
	IfDrops  int
}

// Reader reads packets from a pcap file or a live interface.
type Reader struct {
	source   *gopacket.PacketSource
	handle   *pcap.Handle
	file     *os.File
	linkType layers.LinkType
	read     int
	// recorder receives every raw frame when set.
	recorder *Writer
}

// NewReader opens a pcap or pcapng file for offline replay.
func NewReader(filePath string) (*Reader, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	if r, err := pcapgo.NewReader(f); err == nil {
		return &Reader{source: gopacket.NewPacketSource(r, r.LinkType()), file: f, linkType: r.LinkType()}, nil
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, err
	}
	ng, err := pcapgo.NewNgReader(f, pcapgo.DefaultNgReaderOptions)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to open %s as pcap or pcapng: %w", filePath, err)
	}
	return &Reader{source: gopacket.NewPacketSource(ng, ng.LinkType()), file: f, linkType: ng.LinkType()}, nil
}

// NewLiveReader opens a live capture on iface with an optional BPF filter.
func NewLiveReader(iface string, snaplen int, promiscuous bool, filter string) (*Reader, error) {
	handle, err := pcap.OpenLive(iface, int32(snaplen), promiscuous, time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to open interface %s: %w", iface, err)
	}
	if filter != "" {
		if err := handle.SetBPFFilter(filter); err != nil {
			handle.Close()
			return nil, fmt.Errorf("invalid bpf filter %q: %w", filter, err)
		}
	}
	return &Reader{source: gopacket.NewPacketSource(handle, handle.LinkType()), handle: handle, linkType: handle.LinkType()}, nil
}

// LinkType is the link layer of the source.
func (r *Reader) LinkType() layers.LinkType {
	return r.linkType
}

// Record copies every frame read from now on to w.
func (r *Reader) Record(w *Writer) {
	r.recorder = w
}

// Live reports whether packets come from an interface.
func (r *Reader) Live() bool {
	return r.handle != nil
}

// Close closes the pcap handle or file.
func (r *Reader) Close() {
	if r.handle != nil {
		r.handle.Close()
	}
	if r.file != nil {
		r.file.Close()
	}
}

// Stats returns the capture counters.
func (r *Reader) Stats() Stats {
	if r.handle == nil {
		return Stats{Received: r.read}
	}
	s, err := r.handle.Stats()
	if err != nil {
		return Stats{Received: r.read}
	}
	return Stats{Received: s.PacketsReceived, Dropped: s.PacketsDropped, IfDrops: s.PacketsIfDropped}
}

// ReadPackets parses packets and sends them to out until the source is
// exhausted or ctx is cancelled. It does not close out.
func (r *Reader) ReadPackets(ctx context.Context, out chan<- *model.PacketInfo) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		packet, err := r.source.NextPacket()
		switch {
		case err == io.EOF:
			return nil
		case errors.Is(err, pcap.NextErrorTimeoutExpired):
			continue
		case err != nil:
			if r.Live() {
				return fmt.Errorf("capture failed: %w", err)
			}
			// Truncated trailing record in a file.
			log.Warnf("Stopping replay after read error: %v", err)
			return nil
		}
		r.read++
		metrics.PacketsCaptured.Inc()
		if r.recorder != nil {
			if err := r.recorder.WritePacket(packet.Metadata().CaptureInfo, packet.Data()); err != nil {
				log.Warnf("Failed to record packet: %v", err)
			}
		}
		if r.Live() && r.read%1000 == 0 {
			metrics.CaptureDropped.Set(float64(r.Stats().Dropped))
		}

		info, err := protocol.ParsePacket(packet)
		if err != nil {
			metrics.ParseErrors.WithLabelValues(reason(err)).Inc()
			log.Debugf("Error parsing packet: %v", err)
			continue
		}
		select {
		case out <- info:
		case <-ctx.Done():
			return nil
		}
	}
}

func reason(err error) string {
	switch {
	case errors.Is(err, protocol.ErrNoIP):
		return "no_ip"
	case errors.Is(err, protocol.ErrNoTransport):
		return "no_transport"
	case errors.Is(err, protocol.ErrTruncated):
		return "truncated"
	default:
		return "other"
	}
}

// String renders the capture status line.
func (s Stats) String() string {
	return fmt.Sprintf("Packets Received: %10d, dropped: %6d, if dropped: %6d", s.Received, s.Dropped, s.IfDrops)
}
