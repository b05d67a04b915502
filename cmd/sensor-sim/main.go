// sensor-sim emulates the motion sensor node against a running camera node:
// it reads the node's corrected time, then posts a trigger with a claimed
// timestamp the same way the hardware sensor does.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

func main() {
	var (
		nodeURL  string
		kind     string
		skewMS   int64
		timeout  time.Duration
		syncTime bool
	)
	flag.StringVar(&nodeURL, "node", "http://localhost:8080", "Camera node base URL")
	flag.StringVar(&kind, "kind", "video", "Trigger kind: video or photo")
	flag.Int64Var(&skewMS, "skew", 0, "Milliseconds to add to the claimed timestamp (test stale triggers)")
	flag.DurationVar(&timeout, "timeout", 5*time.Second, "HTTP timeout")
	flag.BoolVar(&syncTime, "sync", false, "Push local wall clock to the node before triggering")
	flag.Parse()

	client := &http.Client{Timeout: timeout}

	if syncTime {
		body := fmt.Sprintf(`{"time_ms": %d}`, time.Now().UnixMilli())
		resp, err := client.Post(nodeURL+"/time", "application/json", strings.NewReader(body))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to set node time: %v\n", err)
			os.Exit(1)
		}
		resp.Body.Close()
		fmt.Println("Node time set from local clock")
	}

	deviceTime, err := fetchDeviceTime(client, nodeURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read node time: %v\n", err)
		os.Exit(1)
	}

	claimed := uint64(int64(deviceTime) + skewMS)
	fmt.Printf("Node time: %d ms, claimed: %d ms (skew %+d ms)\n", deviceTime, claimed, skewMS)

	var resp *http.Response
	switch kind {
	case "video":
		// The hardware sensor's wire format: plain text "record:<ms>"
		resp, err = client.Post(nodeURL+"/record", "text/plain",
			strings.NewReader(fmt.Sprintf("record:%d", claimed)))
	case "photo":
		resp, err = client.Post(nodeURL+"/photo", "application/json",
			strings.NewReader(fmt.Sprintf(`{"claimed_time_ms": %d}`, claimed)))
	default:
		fmt.Fprintf(os.Stderr, "Unknown kind %q\n", kind)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Trigger failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	fmt.Printf("%s -> %d: %s\n", kind, resp.StatusCode, strings.TrimSpace(string(body)))
	if resp.StatusCode >= 400 {
		os.Exit(1)
	}
}

func fetchDeviceTime(client *http.Client, nodeURL string) (uint64, error) {
	resp, err := client.Get(nodeURL + "/time")
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	var payload struct {
		DeviceTimeMS uint64 `json:"device_time_ms"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, fmt.Errorf("malformed time response: %w", err)
	}
	return payload.DeviceTimeMS, nil
}
