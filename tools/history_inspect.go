// Command history_inspect prints the relay history kept for one channel.
// Payloads are ciphertext, only their metadata is shown.
package main

import (
	"collab-lab/infrastructure/storage"
	"collab-lab/wire"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
	"github.com/olekukonko/tablewriter"
)

func main() {
	dbPath := flag.String("db", "./data/relay", "Path to the relay badger DB")
	channel := flag.String("channel", "", "Channel to inspect, e.g. session:study-42")
	limit := flag.Int("limit", storage.DefaultReplayLimit, "Maximum frames shown")
	flag.Parse()
	if *channel == "" {
		log.Fatal("-channel is required")
	}

	db, err := openDB(*dbPath)
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	frames, err := storage.NewHistoryRepository(db, logs.GetLoggerFromLevel(slog.LevelWarn), *limit).Replay(*channel)
	if err != nil {
		log.Fatal(err)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"At", "Event", "Session", "Id", "Size"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	for _, f := range frames {
		displayID := f.ID.String()
		if len(displayID) > 8 {
			displayID = displayID[:8]
		}
		table.Append([]string{
			f.At.Local().Format("15:04:05.000"),
			f.Event,
			wire.SessionOf(f.Payload),
			displayID,
			fmt.Sprintf("%dB", len(f.Payload)),
		})
	}
	table.Render()
	fmt.Printf("%d frame(s)\n", len(frames))
}

func openDB(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).
		WithReadOnly(true).
		WithLogger(nil).
		WithBypassLockGuard(true)

	db, err := badger.Open(opts)
	if err != nil && strings.Contains(err.Error(), "Log truncate required") {
		return nil, fmt.Errorf("database needs recovery, open it once with the relay stopped: %w", err)
	}
	return db, err
}
