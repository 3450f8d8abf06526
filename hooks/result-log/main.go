// Package main is a sample inspection hook. It appends one CSV row per
// inspection to the file named by RESULT_LOG (default results.csv in the
// working directory).
//
// Build it next to its manifest:
//
//	go build -o hooks/result-log/result-log ./hooks/result-log
package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"
)

// Request is the payload written by the hook executor.
type Request struct {
	Event     string          `json:"event"`
	RequestID string          `json:"request_id"`
	Template  string          `json:"template"`
	Attempts  int             `json:"attempts"`
	Data      json.RawMessage `json:"data"`
}

// Response is printed on stdout.
type Response struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// summary is the part of the inspection result the log keeps.
type summary struct {
	Holes *struct {
		DistanceMM  *float64 `json:"distancia_extremos_mm"`
		AccuracyPct *float64 `json:"precision_pct"`
	} `json:"holes"`
	EarlyExit string `json:"validacion_temprana"`
	Error     string `json:"error"`
}

var verdicts = map[string]string{
	"inspection.passed": "OK",
	"inspection.failed": "NOK",
}

func main() {
	path := os.Getenv("RESULT_LOG")
	if path == "" {
		path = "results.csv"
	}
	if err := run(os.Stdin, path, time.Now()); err != nil {
		writeResponse(Response{Error: err.Error()})
		return
	}
	writeResponse(Response{Success: true})
}

func run(in io.Reader, path string, now time.Time) error {
	var req Request
	if err := json.NewDecoder(in).Decode(&req); err != nil {
		return fmt.Errorf("failed to decode request: %w", err)
	}
	verdict, ok := verdicts[req.Event]
	if !ok {
		return fmt.Errorf("unknown event: %s", req.Event)
	}

	var s summary
	if len(req.Data) > 0 {
		if err := json.Unmarshal(req.Data, &s); err != nil {
			return fmt.Errorf("failed to decode result: %w", err)
		}
	}
	row := []string{
		now.UTC().Format(time.RFC3339),
		req.RequestID,
		req.Template,
		verdict,
		strconv.Itoa(req.Attempts),
		"", "",
		s.EarlyExit,
		s.Error,
	}
	if s.Holes != nil {
		row[5] = formatFloat(s.Holes.DistanceMM)
		row[6] = formatFloat(s.Holes.AccuracyPct)
	}

	_, statErr := os.Stat(path)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if os.IsNotExist(statErr) {
		w.Write([]string{"time", "request_id", "template", "verdict", "attempts", "distance_mm", "accuracy_pct", "early_exit", "error"})
	}
	w.Write(row)
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 2, 64)
}

func writeResponse(resp Response) {
	json.NewEncoder(os.Stdout).Encode(resp)
}
