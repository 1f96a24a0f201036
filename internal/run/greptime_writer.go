package run

import (
	"context"
	"log"
	"net"
	"strconv"
	"strings"
	"time"

	greptime "github.com/GreptimeTeam/greptimedb-ingester-go"
	ingesterContext "github.com/GreptimeTeam/greptimedb-ingester-go/context"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table/types"

	"enginesim-orchestrator/internal/event"
)

// GreptimeDBWriter writes run events to GreptimeDB via the ingester client.
type GreptimeDBWriter struct {
	client *greptime.Client
	db     string
	table  string
	host   string
}

// NewGreptimeDBWriter creates a new GreptimeDB writer. The event table is
// auto-created by GreptimeDB on first write, with ttl='30d' passed as a
// write hint (the ingester client exposes no SQL/DDL interface).
func NewGreptimeDBWriter(endpoint, database, tableName, host string) (*GreptimeDBWriter, error) {
	dbHost := endpoint
	port := 4001
	if h, p, err := net.SplitHostPort(endpoint); err == nil {
		dbHost = h
		if n, perr := strconv.Atoi(p); perr == nil {
			port = n
		}
	}
	client, err := greptime.NewClient(greptime.NewConfig(dbHost).WithPort(port).WithDatabase(database))
	if err != nil {
		return nil, err
	}
	if tableName == "" {
		tableName = "simulation_events"
	}

	return &GreptimeDBWriter{
		client: client,
		db:     database,
		table:  tableName,
		host:   host,
	}, nil
}

type eventPoint struct {
	runID       string
	eventType   string
	status      string
	percent     float64
	message     string
	errMessage  string
	executionMs float64
	ts          time.Time
}

// WriteProgress inserts a single progress row.
func (w *GreptimeDBWriter) WriteProgress(row event.ProgressRow) error {
	return w.writePoints([]eventPoint{{
		runID:     row.RunID,
		eventType: "progress",
		status:    string(row.Status),
		percent:   float64(row.Percent),
		message:   row.Message,
		ts:        row.Timestamp,
	}})
}

// WriteProgressBatch inserts multiple progress rows.
func (w *GreptimeDBWriter) WriteProgressBatch(rows []event.ProgressRow) error {
	pts := make([]eventPoint, 0, len(rows))
	for _, r := range rows {
		pts = append(pts, eventPoint{
			runID:     r.RunID,
			eventType: "progress",
			status:    string(r.Status),
			percent:   float64(r.Percent),
			message:   r.Message,
			ts:        r.Timestamp,
		})
	}
	return w.writePoints(pts)
}

// WriteResult inserts a terminal result row.
func (w *GreptimeDBWriter) WriteResult(row event.ResultRow) error {
	pct := 0.0
	if row.Status == event.StatusCompleted {
		pct = 100
	}
	return w.writePoints([]eventPoint{{
		runID:       row.RunID,
		eventType:   "result",
		status:      string(row.Status),
		percent:     pct,
		message:     strings.Join(row.OutputArtifacts, ","),
		errMessage:  row.ErrorMessage,
		executionMs: float64(row.ExecutionTimeMs),
		ts:          row.Timestamp,
	}})
}

// WriteAlert inserts a supervisor alert.
func (w *GreptimeDBWriter) WriteAlert(row event.AlertRow) error {
	return w.writePoints([]eventPoint{{
		eventType: "alert",
		status:    string(row.Severity),
		message:   row.Reason,
		ts:        row.Timestamp,
	}})
}

func (w *GreptimeDBWriter) writePoints(pts []eventPoint) error {
	if len(pts) == 0 {
		return nil
	}

	ctx := ingesterContext.New(context.Background(), ingesterContext.WithHints("ttl=30d"))

	tbl, err := table.New(w.table)
	if err != nil {
		return err
	}
	tbl.AddTagColumn("host", types.STRING)
	tbl.AddTagColumn("run_id", types.STRING)
	tbl.AddFieldColumn("event_type", types.STRING)
	tbl.AddFieldColumn("status", types.STRING)
	tbl.AddFieldColumn("percent", types.FLOAT64)
	tbl.AddFieldColumn("message", types.STRING)
	tbl.AddFieldColumn("error_message", types.STRING)
	tbl.AddFieldColumn("execution_ms", types.FLOAT64)
	tbl.AddTimestampColumn("ts", types.TIMESTAMP_MILLISECOND)

	for _, p := range pts {
		if err := tbl.AddRow(w.host, p.runID, p.eventType, p.status, p.percent, p.message, p.errMessage, p.executionMs, p.ts); err != nil {
			return err
		}
	}

	if _, err := w.client.Write(ctx, tbl); err != nil {
		log.Printf("[GreptimeDBWriter] Write failed: %v", err)
		return err
	}
	return nil
}
