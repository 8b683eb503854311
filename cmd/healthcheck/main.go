// Package main is a minimal HTTP health check binary for use in distroless
// containers. It exits 0 when the /health endpoint returns HTTP 200, and 1
// otherwise. The port follows RATELIMITER_PORT. Compile with CGO_ENABLED=0
// for a fully static binary.
package main

import (
	"net/http"
	"os"
	"time"
)

func main() {
	os.Exit(probe(healthURL(os.Getenv("RATELIMITER_PORT"))))
}

func healthURL(port string) string {
	if port == "" {
		port = "8080"
	}
	return "http://localhost:" + port + "/health"
}

func probe(url string) int {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return 1
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 1
	}
	return 0
}
