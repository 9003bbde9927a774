// Command hrv-tail polls a running hrv server and prints one line of
// metrics per interval.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"
)

var (
	server   = flag.String("server", "http://localhost:8080", "Base URL of the hrv server")
	interval = flag.Duration("interval", time.Second, "Polling interval")
	timeout  = flag.Duration("timeout", 3*time.Second, "Request timeout")
	count    = flag.Int("n", 0, "Stop after this many lines (0 runs until interrupted)")
)

func main() {
	flag.Parse()
	if *interval <= 0 {
		log.Fatal("interval must be positive")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := tail(ctx, NewClient(*server, *timeout), os.Stdout, *interval, *count); err != nil && err != context.Canceled {
		log.Fatal(err)
	}
}

// tail prints the metrics every interval until ctx is done or n lines
// were printed. Failed polls are logged and polling continues.
func tail(ctx context.Context, c *Client, w io.Writer, interval time.Duration, n int) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for printed := 0; n <= 0 || printed < n; {
		m, err := c.Metrics(ctx)
		if err != nil {
			log.Printf("poll failed: %v", err)
		} else {
			fmt.Fprintln(w, FormatMetrics(m))
			printed++
			if n > 0 && printed >= n {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}
