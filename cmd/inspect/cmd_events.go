package main

import (
	"database/sql"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"sort"
	"strings"
	"syscall"

	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/telemetry"
)

// #region events
var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Query recorded telemetry events",
	Args:  cobra.NoArgs,
	RunE:  runEvents,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Tail live telemetry from the Redis channel",
	Args:  cobra.NoArgs,
	RunE:  runWatch,
}

type eventOptions struct {
	db      string
	session string
	types   []string
	last    int
	jsonOut bool
	redis   string
	channel string
}

var eventFlags eventOptions

func init() {
	f := eventsCmd.Flags()
	f.StringVar(&eventFlags.db, "db", "telemetry.db", "Path to the telemetry database")
	f.StringVar(&eventFlags.session, "session", "", "Only events of this session")
	f.StringSliceVar(&eventFlags.types, "type", nil, "Only events of these types (repeatable)")
	f.IntVar(&eventFlags.last, "last", 50, "Show the N most recent events")
	f.BoolVar(&eventFlags.jsonOut, "json", false, "Output as JSON instead of a table")

	w := watchCmd.Flags()
	w.StringVar(&eventFlags.redis, "redis", "localhost:6379", "Redis address")
	w.StringVar(&eventFlags.channel, "channel", telemetry.DefaultRedisChannel, "Telemetry channel")
	w.StringVar(&eventFlags.session, "session", "", "Only events of this session")
}

func runEvents(cmd *cobra.Command, _ []string) error {
	db, err := sql.Open("sqlite", eventFlags.db)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()
	sink, err := telemetry.NewProvenanceSink(db)
	if err != nil {
		return err
	}

	events, err := sink.Query(cmd.Context(), eventFlags.session, eventFlags.last)
	if err != nil {
		return err
	}
	if len(eventFlags.types) > 0 {
		events = slices.DeleteFunc(events, func(ev telemetry.Event) bool {
			return !slices.Contains(eventFlags.types, string(ev.Type))
		})
	}
	slices.Reverse(events)

	out := cmd.OutOrStdout()
	if len(events) == 0 {
		fmt.Fprintln(cmd.ErrOrStderr(), "no events found")
		return nil
	}
	if eventFlags.jsonOut {
		return printJSON(out, events)
	}
	fmt.Fprintf(out, "%-24s  %-20s  %-16s  %-22s  %s\n", "Time", "Type", "Session", "Policy", "Fields")
	fmt.Fprintf(out, "%-24s+-%-20s+-%-16s+-%-22s+-%s\n",
		"------------------------", "--------------------", "----------------", "----------------------", "------")
	for _, ev := range events {
		printEventLine(out, ev)
	}
	return nil
}

func printEventLine(w io.Writer, ev telemetry.Event) {
	fmt.Fprintf(w, "%-24s  %-20s  %-16s  %-22s  %s\n",
		ev.Time.Format("2006-01-02T15:04:05.000Z"), ev.Type, ev.SessionID, ev.Policy, formatFields(ev.Fields))
}

func formatFields(fields map[string]any) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, fields[k])
	}
	return strings.Join(parts, " ")
}

func runWatch(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb := goredis.NewClient(&goredis.Options{Addr: eventFlags.redis})
	defer rdb.Close()

	out := cmd.OutOrStdout()
	sink := telemetry.NewRedisSink(rdb, eventFlags.channel, nil)
	err := sink.Forward(ctx, func(ev telemetry.Event) {
		if eventFlags.session != "" && ev.SessionID != eventFlags.session {
			return
		}
		printEventLine(out, ev)
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "watching %s on %s\n", eventFlags.channel, eventFlags.redis)
	<-ctx.Done()
	return nil
}

// #endregion events
