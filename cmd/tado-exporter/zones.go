package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/joshp123/tado-exporter/internal/poller"
	"github.com/joshp123/tado-exporter/plugins/tado"
)

const zonesTimeout = time.Minute

type zoneReading struct {
	Zone   string            `json:"zone"`
	Metric string            `json:"metric"`
	Labels map[string]string `json:"labels"`
	Value  float64           `json:"value"`
}

// zones polls once and prints what the exporter would publish. It does
// not wait out rate limits.
func zones(args []string) int {
	flags := flag.NewFlagSet("zones", flag.ExitOnError)
	jsonOut := flags.Bool("json", false, "Output JSON to stdout")
	_ = flags.Parse(args)

	cfg, log, ok := setup()
	if !ok {
		return poller.ExitConfig
	}
	defer func() { _ = log.Sync() }()

	creds, err := newCredentials(cfg, log)
	if err != nil {
		log.Errorw("Cannot set up credentials", "error", err)
		return poller.ExitConfig
	}
	clientCfg, err := tado.ConfigFromAPI(cfg.API)
	if err != nil {
		log.Errorw("Invalid API configuration", "error", err)
		return poller.ExitConfig
	}
	client, err := tado.NewClient(clientCfg, creds, nil)
	if err != nil {
		log.Errorw("Cannot create Tado client", "error", err)
		return poller.ExitConfig
	}

	ctx, cancel := context.WithTimeout(context.Background(), zonesTimeout)
	defer cancel()
	if err := creds.Acquire(ctx); err != nil {
		log.Errorw("Authentication failed. Please check your credentials.", "error", err)
		return poller.ExitAuthentication
	}

	readings, err := readZones(ctx, client, cfg.TemperatureUnit)
	if err != nil {
		log.Errorw("Cannot read data from Tado API", "outcome", tado.Classify(err).String(), "error", err)
		return readExitCode(err)
	}

	out := outputMode{json: *jsonOut, w: os.Stdout}
	if out.json {
		err = out.printJSON(readings)
	} else {
		rows := [][]string{{"ZONE", "METRIC", "VALUE"}}
		for _, r := range readings {
			rows = append(rows, []string{r.Zone, r.Metric, strconv.FormatFloat(r.Value, 'f', -1, 64)})
		}
		err = out.table(rows)
	}
	if err != nil {
		log.Errorw("Cannot write output", "error", err)
		return poller.ExitFailure
	}
	return 0
}

// readExitCode maps a one-shot read failure onto the serve exit codes.
func readExitCode(err error) int {
	switch tado.Classify(err) {
	case tado.OutcomeAuthFailure:
		return poller.ExitAuthentication
	case tado.OutcomeRateLimited:
		return poller.ExitRetriesExhausted
	default:
		return poller.ExitFailure
	}
}

func readZones(ctx context.Context, fetcher poller.Fetcher, unit string) ([]zoneReading, error) {
	list, err := fetcher.Zones(ctx)
	if err != nil {
		return nil, fmt.Errorf("list zones: %w", err)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })

	var readings []zoneReading
	for _, zone := range list {
		state, err := fetcher.ZoneState(ctx, zone.ID)
		if err != nil {
			return nil, fmt.Errorf("zone %q: %w", zone.Name, err)
		}
		for _, obs := range tado.Project(zone, state, unit) {
			readings = append(readings, zoneReading{
				Zone:   zone.Name,
				Metric: obs.Name,
				Labels: obs.Labels,
				Value:  obs.Value,
			})
		}
	}
	return readings, nil
}
