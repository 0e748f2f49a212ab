// Target server for local load tests. Every route answers with minimal
// processing so the numbers reflect surge rather than the server.
package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/surge/internal/logging"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	flag.Parse()

	logger, err := logging.New(logging.Options{Level: "info", Output: os.Stderr})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	server := &http.Server{
		Addr:              *addr,
		Handler:           newMux(),
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      65 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		ReadHeaderTimeout: 2 * time.Second,
	}

	logger.Info("Starting target server", zap.String("addr", *addr), zap.Int("cpus", runtime.NumCPU()))
	if err := server.ListenAndServe(); err != nil {
		logger.Fatal("Server stopped", zap.Error(err))
	}
}

// maxDelay caps /delay so a typo cannot park connections for hours.
const maxDelay = time.Minute

func newMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "healthy")
	})

	// /status/{code} answers with the given status.
	mux.HandleFunc("/status/{code}", func(w http.ResponseWriter, r *http.Request) {
		code, err := strconv.Atoi(r.PathValue("code"))
		if err != nil || code < 100 || code > 599 {
			http.Error(w, "invalid status code", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(code)
		fmt.Fprint(w, http.StatusText(code))
	})

	// /delay/{ms} sleeps before answering 200.
	mux.HandleFunc("/delay/{ms}", func(w http.ResponseWriter, r *http.Request) {
		ms, err := strconv.Atoi(r.PathValue("ms"))
		if err != nil || ms < 0 {
			http.Error(w, "invalid delay", http.StatusBadRequest)
			return
		}
		delay := min(time.Duration(ms)*time.Millisecond, maxDelay)
		select {
		case <-time.After(delay):
			fmt.Fprint(w, "OK")
		case <-r.Context().Done():
		}
	})

	// /redirect/{n} answers after a chain of n redirects.
	mux.HandleFunc("/redirect/{n}", func(w http.ResponseWriter, r *http.Request) {
		n, err := strconv.Atoi(r.PathValue("n"))
		if err != nil || n < 0 {
			http.Error(w, "invalid hop count", http.StatusBadRequest)
			return
		}
		if n == 0 {
			fmt.Fprint(w, "OK")
			return
		}
		http.Redirect(w, r, fmt.Sprintf("/redirect/%d", n-1), http.StatusFound)
	})

	// /echo reflects the request body, for POST runs.
	mux.HandleFunc("/echo", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", r.Header.Get("Content-Type"))
		io.Copy(w, r.Body)
	})

	return mux
}
