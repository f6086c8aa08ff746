package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"dctledger/internal/dct"
	"dctledger/internal/sot"

	"github.com/spf13/cobra"
)

var errDrift = errors.New("projection drift: replay fingerprints differ")

func (c *cli) replayCheckCmd() *cobra.Command {
	var file string
	var fromDB bool
	var take int
	cmd := &cobra.Command{
		Use:   "replay-check",
		Short: "Fold a history twice and verify both projections fingerprint identically",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (file == "") == !fromDB {
				return fmt.Errorf("exactly one of --file or --db is required")
			}

			var events []dct.Event
			var err error
			if fromDB {
				events, err = c.loadDBEvents(cmd, take)
			} else {
				events, err = readEventsFile(file)
			}
			if err != nil {
				return err
			}

			report, err := dct.Replay(events)
			if err != nil {
				return err
			}
			if err := c.printJSON(report); err != nil {
				return err
			}
			if !report.Deterministic {
				return errDrift
			}
			c.logger.WithField("fingerprint", report.Fingerprint).Info("replay is deterministic")
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "JSON array or NDJSON of {eventId, ts, kind, payload}")
	cmd.Flags().BoolVar(&fromDB, "db", false, "replay the dct events stored in DATABASE_URL")
	cmd.Flags().IntVar(&take, "take", 0, "number of stored events to replay (default DCT_PROJECTION_MAX_TAKE)")
	return cmd
}

func (c *cli) loadDBEvents(cmd *cobra.Command, take int) ([]dct.Event, error) {
	if take <= 0 {
		take = c.cfg.MaxTake
	}
	db, st, err := c.openStore(cmd.Context())
	if err != nil {
		return nil, err
	}
	defer db.Close()

	head, err := st.Head(cmd.Context())
	if err != nil {
		return nil, err
	}
	rows, err := st.ListDCTEvents(cmd.Context(), take, head)
	if err != nil {
		return nil, err
	}
	events := make([]dct.Event, 0, len(rows))
	for _, row := range rows {
		events = append(events, dct.Event{EventID: row.EventID, TS: row.TS, Kind: row.Kind, Payload: row.Payload})
	}
	return events, nil
}

type fileEvent struct {
	EventID string          `json:"eventId"`
	TS      string          `json:"ts"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

func readEventsFile(path string) ([]dct.Event, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return parseEvents(body)
}

// parseEvents reads a JSON array or NDJSON of exported events.
func parseEvents(body []byte) ([]dct.Event, error) {
	trimmed := bytes.TrimSpace(body)
	var raws []fileEvent
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &raws); err != nil {
			return nil, fmt.Errorf("decode JSON array: %w", err)
		}
	} else {
		scanner := bufio.NewScanner(bytes.NewReader(trimmed))
		scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
		line := 0
		for scanner.Scan() {
			line++
			text := bytes.TrimSpace(scanner.Bytes())
			if len(text) == 0 {
				continue
			}
			var fe fileEvent
			if err := json.Unmarshal(text, &fe); err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			raws = append(raws, fe)
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read NDJSON: %w", err)
		}
	}

	events := make([]dct.Event, 0, len(raws))
	for i, raw := range raws {
		ts, err := sot.ParseTimestamp(raw.TS)
		if err != nil {
			return nil, fmt.Errorf("event %d (%s): %w", i, raw.EventID, err)
		}
		var payload json.RawMessage
		if p := bytes.TrimSpace(raw.Payload); len(p) > 0 && !bytes.Equal(p, []byte("null")) {
			payload = p
		}
		events = append(events, dct.Event{EventID: raw.EventID, TS: ts, Kind: raw.Kind, Payload: payload})
	}
	return events, nil
}
