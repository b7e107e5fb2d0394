// Command replay inspects the JSONL event logs written by agentd: it prints
// recorded bus traffic with optional type and agent filters, or summarizes a
// run with per-type counts.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"multiagent/pkg/proto"
)

type replayConfig struct {
	logFile   string
	msgType   string
	agentID   string
	stats     bool
	showBody  bool
	failFirst bool
}

func main() {
	var cfg replayConfig
	flag.StringVar(&cfg.logFile, "log", "", "Path to events.jsonl log file")
	flag.StringVar(&cfg.msgType, "type", "", "Only show messages of this type (e.g. EDIT_COMPLETED)")
	flag.StringVar(&cfg.agentID, "agent", "", "Only show messages sent or received by this agent")
	flag.BoolVar(&cfg.stats, "stats", false, "Print per-type counts instead of messages")
	flag.BoolVar(&cfg.showBody, "payload", false, "Include payload JSON in the output")
	flag.BoolVar(&cfg.failFirst, "strict", false, "Stop at the first malformed line")
	flag.Parse()

	if cfg.logFile == "" {
		fmt.Fprintln(os.Stderr, "replay: -log is required")
		flag.Usage()
		os.Exit(2)
	}

	if err := run(&cfg, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "replay: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *replayConfig, out *os.File) error {
	file, err := os.Open(cfg.logFile)
	if err != nil {
		return fmt.Errorf("failed to open log: %w", err)
	}
	defer file.Close()

	var typeFilter proto.MsgType
	if cfg.msgType != "" {
		parsed, err := proto.ParseMsgType(cfg.msgType)
		if err != nil {
			return err
		}
		typeFilter = parsed
	}

	counts := make(map[proto.MsgType]int)
	shown, malformed := 0, 0

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		msg, err := proto.FromJSON([]byte(line))
		if err != nil {
			if cfg.failFirst {
				return fmt.Errorf("line %d: %w", lineNo, err)
			}
			malformed++
			continue
		}

		if typeFilter != "" && msg.Type != typeFilter {
			continue
		}
		if cfg.agentID != "" && msg.SourceID != cfg.agentID && msg.TargetID != cfg.agentID {
			continue
		}

		counts[msg.Type]++
		shown++
		if cfg.stats {
			continue
		}
		printMessage(out, msg, cfg.showBody)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read log: %w", err)
	}

	if cfg.stats {
		printStats(out, counts, shown)
	}
	if malformed > 0 {
		fmt.Fprintf(os.Stderr, "replay: skipped %d malformed lines\n", malformed)
	}
	return nil
}

func printMessage(out *os.File, msg *proto.Message, showBody bool) {
	fmt.Fprintf(out, "%s  %-22s %s -> %s", msg.Timestamp.Format("15:04:05.000"), msg.Type, msg.SourceID, msg.TargetID)
	if msg.CorrelationID != "" {
		fmt.Fprintf(out, "  [%s]", msg.CorrelationID)
	}
	fmt.Fprintln(out)
	if showBody && msg.Payload != nil {
		fmt.Fprintf(out, "    %s %s\n", msg.Payload.Kind, string(msg.Payload.Data))
	}
}

func printStats(out *os.File, counts map[proto.MsgType]int, total int) {
	types := make([]proto.MsgType, 0, len(counts))
	for msgType := range counts {
		types = append(types, msgType)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	for _, msgType := range types {
		fmt.Fprintf(out, "%-24s %d\n", msgType, counts[msgType])
	}
	fmt.Fprintf(out, "%-24s %d\n", "total", total)
}
