// Copyright 2018-present Kuei-chun Chen. All rights reserved.
// main.go

// Command mftdc decodes FTDC diagnostic.data files and streams their
// samples to stdout in one of three formats. It is the thin CLI shell
// over ftdcfile.Reader and the output package; all format and
// filtering logic lives in those packages, not here.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/simagix/gox"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/simagix/ftdc-decoder/ftdcfile"
	"github.com/simagix/ftdc-decoder/output"
)

var repo = "simagix/ftdc-decoder"
var version = "self-built"

const timeLayout = "2006-01-02T15:04:05Z"

// sink is the common shape every output.*Writer satisfies.
type sink interface {
	WriteSample(*ftdcfile.Sample) error
}

func main() {
	ver := flag.Bool("version", false, "print version number")
	start := flag.String("start", "", "only decode samples at or after this UTC timestamp, "+timeLayout)
	end := flag.String("end", "", "only decode samples strictly before this UTC timestamp, "+timeLayout)
	filter := flag.String("filter", "", "comma-separated list of metric path prefixes to keep; empty keeps all")
	format := flag.String("format", "json", "output format: json, csv, or line")
	onSchemaChange := flag.String("on-schema-change", "new_chunk", "schema change policy: new_chunk or error")
	metadata := flag.Bool("metadata", false, "print decoded metadata documents to stderr as JSON")
	flag.Parse()

	if *ver {
		fmt.Println(repo, version)
		os.Exit(0)
	}

	files := discoverFiles(flag.Args())
	if len(files) == 0 {
		log.Fatal("no metrics.* files found among the given arguments")
	}

	startTime, endTime, err := parseTimeRange(*start, *end)
	if err != nil {
		log.Fatal(err)
	}
	policy, err := parseSchemaPolicy(*onSchemaChange)
	if err != nil {
		log.Fatal(err)
	}
	metricFilter := parseMetricFilter(*filter)

	w := bufio.NewWriter(os.Stdout)
	defer w.Flush()

	newSink, err := sinkFactory(*format, w)
	if err != nil {
		log.Fatal(err)
	}

	for _, filename := range files {
		if err := decodeFile(filename, startTime, endTime, metricFilter, policy, *metadata, newSink); err != nil {
			log.Fatalf("%s: %v", filename, err)
		}
	}
}

// sinkFactory returns a constructor taking the sample's ordered
// column list (needed only by CSV, for its header row) and producing
// the sink for one file.
func sinkFactory(format string, w *bufio.Writer) (func(columns []string) (sink, error), error) {
	switch format {
	case "json":
		return func([]string) (sink, error) { return output.NewJSONWriter(w), nil }, nil
	case "line":
		return func([]string) (sink, error) { return output.NewLineProtocolWriter(w, "ftdc"), nil }, nil
	case "csv":
		return func(columns []string) (sink, error) { return output.NewCSVWriter(w, columns) }, nil
	default:
		return nil, fmt.Errorf("unknown -format %q: want json, csv, or line", format)
	}
}

// decodeFile streams one file's samples to a sink built fresh for
// that file (a CSV sink writes its own header row per file; json and
// line sinks are stateless enough that this is invisible).
func decodeFile(filename string, start, end time.Time, metricFilter func(string) bool,
	policy ftdcfile.SchemaChangePolicy, showMetadata bool, newSink func([]string) (sink, error)) error {

	r, err := gox.NewFileReader(filename)
	if err != nil {
		return err
	}
	reader := ftdcfile.NewReader(r)
	reader.SetTimeRange(start, end)
	reader.SetSchemaChangePolicy(policy)
	if metricFilter != nil {
		reader.SetMetricFilter(metricFilter)
	}
	if showMetadata {
		enc := json.NewEncoder(os.Stderr)
		reader.SetMetadataCallback(func(kind ftdcfile.Kind, timestamp time.Time, payload bson.M) {
			enc.Encode(map[string]interface{}{
				"kind":      kind,
				"timestamp": timestamp,
				"doc":       payload,
			})
		})
	}

	var s sink
	err = reader.Each(func(sample *ftdcfile.Sample) error {
		if s == nil {
			columns := make([]string, len(sample.Metrics))
			for i, m := range sample.Metrics {
				columns[i] = m.Path
			}
			if s, err = newSink(columns); err != nil {
				return err
			}
		}
		return s.WriteSample(sample)
	})
	if f, ok := s.(interface{ Flush() error }); ok && err == nil {
		err = f.Flush()
	}
	return err
}

func parseTimeRange(start, end string) (time.Time, time.Time, error) {
	var s, e time.Time
	var err error
	if start != "" {
		if s, err = time.Parse(timeLayout, start); err != nil {
			return s, e, fmt.Errorf("-start: %w", err)
		}
	}
	if end != "" {
		if e, err = time.Parse(timeLayout, end); err != nil {
			return s, e, fmt.Errorf("-end: %w", err)
		}
	}
	return s, e, nil
}

func parseSchemaPolicy(s string) (ftdcfile.SchemaChangePolicy, error) {
	switch s {
	case "new_chunk", "":
		return ftdcfile.SchemaChangeNewChunk, nil
	case "error":
		return ftdcfile.SchemaChangeError, nil
	default:
		return 0, fmt.Errorf("unknown -on-schema-change %q: want new_chunk or error", s)
	}
}

func parseMetricFilter(filter string) func(string) bool {
	if filter == "" {
		return nil
	}
	prefixes := strings.Split(filter, ",")
	return func(path string) bool {
		for _, prefix := range prefixes {
			if strings.HasPrefix(path, prefix) {
				return true
			}
		}
		return false
	}
}
