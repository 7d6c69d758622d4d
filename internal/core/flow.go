package core

import (
	"context"
	"time"
)

// Flow is one NetFlow-like traffic record.
type Flow struct {
	Timestamp time.Time `json:"timestamp"`
	SrcIP     string    `json:"src_ip"`
	DstIP     string    `json:"dst_ip"`
	SrcPort   int       `json:"src_port"`
	DstPort   int       `json:"dst_port"`
	Protocol  string    `json:"protocol"`
	Packets   int       `json:"packets"`
	Bytes     int       `json:"bytes"`
	Duration  int       `json:"duration"`
}

// TotalPackets sums the packet counts of a batch.
func TotalPackets(flows []Flow) int {
	total := 0
	for _, f := range flows {
		total += f.Packets
	}
	return total
}

// Detector turns a finite flow batch into alerts. The lifecycle only relies
// on the alerts' source_id and severity.
type Detector interface {
	Name() string
	Detect(ctx context.Context, flows []Flow) ([]Alert, error)
}
