package router

import (
	"context"
	"net"
	"runtime"
	"time"

	probing "github.com/prometheus-community/pro-bing"
)

// pingFunc reports whether host answered an ICMP echo and the round trip.
type pingFunc func(ctx context.Context, host string) (time.Duration, bool)

const pingTimeout = 2 * time.Second

// pingHost sends up to two echo requests to the router. It uses unprivileged
// UDP pings except on Windows, where raw sockets are the only option.
func pingHost(ctx context.Context, host string) (time.Duration, bool) {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	pinger, err := probing.NewPinger(host)
	if err != nil {
		return 0, false
	}
	pinger.Count = 2
	pinger.Timeout = pingTimeout
	pinger.SetPrivileged(runtime.GOOS == "windows")

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = pinger.Run()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		pinger.Stop()
		<-done
		return 0, false
	}

	stats := pinger.Statistics()
	if stats.PacketsRecv == 0 {
		return 0, false
	}
	return stats.AvgRtt, true
}
