// Command healthcheck probes the local HTTP server for container health checks.
// It exits 0 when the probe answers 200. HEALTHCHECK_PATH selects the probe
// (default /healthz; use /readyz to require a welcomed EventSub session).
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"strings"
	"time"
)

// probeURL builds the probe URL from an HTTP_ADDR style listen address.
func probeURL(addr, path string) string {
	if addr == "" {
		addr = ":8080"
	}
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	if path == "" {
		path = "/healthz"
	}
	return "http://" + addr + path
}

func main() {
	client := &http.Client{Timeout: 3 * time.Second}
	ctx := context.Background()
	url := probeURL(os.Getenv("HTTP_ADDR"), os.Getenv("HEALTHCHECK_PATH"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		os.Exit(1)
	}
	resp, err := client.Do(req)
	if err != nil {
		os.Exit(1)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Printf("failed to close response body: %v", err)
		}
	}()
	if resp.StatusCode != http.StatusOK {
		os.Exit(1)
	}
}
