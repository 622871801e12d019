package kernel

import (
	"fmt"
	"io"
	"time"
)

// Metrics summarises one machine's run.
type Metrics struct {
	RunID     string
	Machine   int
	Universes int
	Timelines int
	EndTime   VirtualTime

	EventsDispatched int64
	ChannelMessages  int64 // payload-bearing messages sent by local timelines
	NullMessages     int64
	LocalExchanged   int64 // synchronous events handed over at window boundaries
	GlobalSent       int64 // events and null messages sent to other machines
	GlobalReceived   int64
	BatchesSent      int64
	BatchesReceived  int64

	Windows        int
	Epochs         int
	TimelineRuns   int64
	BlockedWaits   int64
	TrainingRounds int
	Decade         VirtualTime
	Epoch          VirtualTime

	MeanWindowWall time.Duration
	WallTime       time.Duration
}

// Print writes a human-readable report.
func (m *Metrics) Print(w io.Writer) {
	fmt.Fprintln(w, "=== Simulation Metrics ===")
	fmt.Fprintf(w, "Run ID               : %s\n", m.RunID)
	fmt.Fprintf(w, "Machine              : %d (%d universes, %d timelines)\n", m.Machine, m.Universes, m.Timelines)
	fmt.Fprintf(w, "End Time             : %s\n", m.EndTime)
	fmt.Fprintf(w, "Events Dispatched    : %d\n", m.EventsDispatched)
	fmt.Fprintf(w, "Channel Messages     : %d\n", m.ChannelMessages)
	fmt.Fprintf(w, "Null Messages        : %d\n", m.NullMessages)
	fmt.Fprintf(w, "Local Exchanged      : %d\n", m.LocalExchanged)
	if m.GlobalSent > 0 || m.GlobalReceived > 0 {
		fmt.Fprintf(w, "Cross-Machine Sent   : %d events in %d batches\n", m.GlobalSent, m.BatchesSent)
		fmt.Fprintf(w, "Cross-Machine Recv   : %d events in %d batches\n", m.GlobalReceived, m.BatchesReceived)
	}
	fmt.Fprintf(w, "Windows              : %d (%d epochs)\n", m.Windows, m.Epochs)
	fmt.Fprintf(w, "Decade / Epoch       : %s / %s\n", m.Decade, m.Epoch)
	if m.TrainingRounds > 0 {
		fmt.Fprintf(w, "Training Rounds      : %d\n", m.TrainingRounds)
	}
	fmt.Fprintf(w, "Timeline Runs        : %d\n", m.TimelineRuns)
	fmt.Fprintf(w, "Blocked Waits        : %d\n", m.BlockedWaits)
	fmt.Fprintf(w, "Mean Window Wall     : %s\n", m.MeanWindowWall)
	fmt.Fprintf(w, "Wall Time            : %s\n", m.WallTime)
	if m.WallTime > 0 {
		fmt.Fprintf(w, "Event Rate           : %.0f events/s\n", float64(m.EventsDispatched)/m.WallTime.Seconds())
	}
}
