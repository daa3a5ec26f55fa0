package serviceutil

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// Returns a context that will live until Ctrl+C is pressed
func SignalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		cancel()
	}()

	return ctx
}

// Listen binds the port, so the caller can distinguish "port already taken"
// from serve-time failures before starting the server goroutine.
func Listen(port int) (net.Listener, error) {
	return net.Listen("tcp", fmt.Sprintf("0.0.0.0:%d", port))
}

// Serve runs an h2c-capable HTTP server on an existing listener.
func Serve(ln net.Listener, mux *http.ServeMux) error {
	slog.Info("listening for http...", "addr", ln.Addr().String())
	server := &http.Server{
		Handler: h2c.NewHandler(mux, &http2.Server{}),
	}
	return server.Serve(ln)
}

func Fatal(message string, err error) {
	slog.Error(message, "err", err.Error())
	os.Exit(1)
}
