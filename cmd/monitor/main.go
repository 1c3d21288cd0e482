package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// LogEntry matches the Zap JSON structure
type LogEntry struct {
	Level    string `json:"level"`
	Msg      string `json:"msg"`
	TaskID   string `json:"task_id"`
	TaskName string `json:"task_name"`
	NodeID   string `json:"node_id"`
	Priority string `json:"priority"`
}

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[37m"
)

// Prettifies the scheduler's JSON log stream for operators. Pipe the
// scheduler's stdout in:
//
//	./scheduler | ./monitor
func main() {
	fmt.Println(colorCyan + "Build Scheduler Activity Monitor" + colorReset)
	fmt.Println(colorGray + "Reading scheduler logs from stdin..." + colorReset)
	fmt.Println("--------------------------------------------------------------")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		var entry LogEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			// Not a JSON log line, ignore
			continue
		}

		prettify(entry)
	}
}

func prettify(entry LogEntry) {
	switch {
	case strings.Contains(entry.Msg, "task queued"):
		fmt.Printf("%sQUEUED%s    %s %s(%s)%s\n", colorYellow, colorReset, entry.TaskID, colorGray, entry.Priority, colorReset)
	case strings.Contains(entry.Msg, "task assigned"):
		fmt.Printf("%sASSIGNED%s  %s -> %s\n", colorBlue, colorReset, entry.TaskID, entry.NodeID)
	case strings.Contains(entry.Msg, "task completed"):
		fmt.Printf("%sDONE%s      %s on %s\n", colorGreen, colorReset, entry.TaskID, entry.NodeID)
	case strings.Contains(entry.Msg, "task requeued"):
		fmt.Printf("%sRETRY%s     %s\n", colorYellow, colorReset, entry.TaskID)
	case strings.Contains(entry.Msg, "retries exhausted"):
		fmt.Printf("%sDROPPED%s   %s\n", colorRed, colorReset, entry.TaskID)
	case strings.Contains(entry.Msg, "marking unhealthy"):
		fmt.Printf("%sUNHEALTHY%s %s\n", colorRed, colorReset, entry.NodeID)
	case entry.Level == "error":
		fmt.Printf("%sERROR%s     %s\n", colorRed, colorReset, entry.Msg)
	}
}
