package route

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"
)

const readHeaderTimeout = 10 * time.Second

// NewServer builds the HTTP server for handler. Request contexts carry base's
// values but not its cancellation, so a shutdown signal lets in-flight
// detections finish while Shutdown drains them. cancelStreams runs when
// Shutdown starts and ends long-lived streams that would otherwise hold it up.
func NewServer(port int, handler http.Handler, base context.Context, cancelStreams context.CancelFunc) *http.Server {
	requests := context.WithoutCancel(base)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return requests },
	}
	if cancelStreams != nil {
		server.RegisterOnShutdown(cancelStreams)
	}
	return server
}
