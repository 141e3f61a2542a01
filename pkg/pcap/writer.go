package pcap

import (
	"fmt"
	"os"
	"sync"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// Writer records raw frames to a pcap file so a capture can be replayed.
type Writer struct {
	mu   sync.Mutex
	file *os.File
	w    *pcapgo.Writer
}

// NewWriter creates path and writes the file header.
func NewWriter(path string, snaplen int, linkType layers.LinkType) (*Writer, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create pcap file: %w", err)
	}
	w := pcapgo.NewWriter(file)
	if err := w.WriteFileHeader(uint32(snaplen), linkType); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to write pcap header: %w", err)
	}
	return &Writer{file: file, w: w}, nil
}

// WritePacket appends one frame.
func (w *Writer) WritePacket(ci gopacket.CaptureInfo, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.w.WritePacket(ci, data)
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}
