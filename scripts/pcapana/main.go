package main

import (
	"FlowSpectra/internal/model"
	"FlowSpectra/pkg/pcap"
	"context"
	"flag"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
)

func main() {
	limit := flag.Int("n", 5, "Number of packets to print, 0 for all")
	flag.Parse()
	if flag.NArg() < 1 {
		fmt.Println("Usage: go run ./scripts/pcapana [-n count] <path_to_pcap_file>")
		os.Exit(1)
	}

	reader, err := pcap.NewReader(flag.Arg(0))
	if err != nil {
		log.Fatal(err)
	}
	defer reader.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	packets := make(chan *model.PacketInfo, 64)
	go func() {
		if err := reader.ReadPackets(ctx, packets); err != nil && ctx.Err() == nil {
			log.Errorf("Read failed: %v", err)
		}
		close(packets)
	}()

	i := 0
	for info := range packets {
		i++
		flags := ""
		if info.TCP != nil {
			flags = " flags=" + info.TCP.String()
		}
		fmt.Printf("[%s] %s:%d -> %s:%d proto=%s len=%d payload=%d%s\n",
			info.Timestamp.Format("15:04:05.000"),
			info.FiveTuple.SrcIP, info.FiveTuple.SrcPort,
			info.FiveTuple.DstIP, info.FiveTuple.DstPort,
			info.FiveTuple.Transport, info.Length, len(info.Payload), flags,
		)
		if *limit > 0 && i >= *limit {
			cancel()
			break
		}
	}
	for range packets {
	}
	fmt.Println(reader.Stats())
}
