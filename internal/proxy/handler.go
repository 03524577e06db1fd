package proxy

import (
	"bufio"
	"crypto/tls"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sliver-archive/sliver/internal/cdx"
	"github.com/sliver-archive/sliver/internal/metrics"
	"github.com/sliver-archive/sliver/internal/middleware"
	"github.com/sliver-archive/sliver/internal/stack"
)

// handler dispatches the three shapes of traffic the proxy port receives:
// CONNECT tunnels, absolute-URI proxy requests, and direct requests to
// the control endpoints.
type handler struct {
	stack     *stack.Stack
	defaultTS func() cdx.Timestamp
	certs     *certCache
	control   http.Handler
	logger    *zap.Logger
}

func newHandler(st *stack.Stack, defaultTS func() cdx.Timestamp, logger *zap.Logger) *handler {
	h := &handler{
		stack:     st,
		defaultTS: defaultTS,
		certs:     newCertCache(),
		logger:    logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.Metrics)
	r.Get("/healthz", h.healthz)
	r.Handle("/metrics", metrics.Handler())
	h.control = r
	return h
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodConnect:
		h.handleConnect(w, r)
	case r.URL.IsAbs():
		h.serveResolved(w, r, r.URL.String())
	default:
		h.control.ServeHTTP(w, r)
	}
}

func (h *handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "source": h.stack.Name()})
}

// serveResolved replays target through the stack and writes the capture
// as the response.
func (h *handler) serveResolved(w http.ResponseWriter, r *http.Request, target string) {
	start := time.Now()
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "only GET and HEAD pass through the archival proxy", http.StatusMethodNotAllowed)
		metrics.ObserveProxyRequest(r.Method, http.StatusMethodNotAllowed, time.Since(start))
		return
	}

	ts := h.defaultTS()
	if v := r.Header.Get("Accept-Datetime"); v != "" {
		if t, err := http.ParseTime(v); err == nil {
			ts = cdx.TimestampOf(t)
		}
	}

	res, err := h.stack.Resolve(r.Context(), target, ts)
	if err != nil {
		code := http.StatusBadGateway
		msg := "resolution failed"
		if errors.Is(err, stack.ErrNotFound) {
			code = http.StatusNotFound
			msg = "no capture available"
		}
		http.Error(w, msg, code)
		metrics.ObserveProxyRequest(r.Method, code, time.Since(start))
		h.logger.Debug("proxy miss",
			zap.String("url", target),
			zap.String("timestamp", string(ts)),
			zap.Int("code", code),
			zap.Error(err))
		return
	}
	defer res.Body.Close()

	if m := res.Record.MIMEType; m != "" && m != "-" {
		w.Header().Set("Content-Type", m)
	}
	if !res.Record.Timestamp.IsZero() {
		w.Header().Set("Memento-Datetime", res.Record.Timestamp.Time().Format(http.TimeFormat))
	}
	w.Header().Set("X-Sliver-Tier", res.Tier)
	if res.Record.Length > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(res.Record.Length, 10))
	}

	code := res.Record.StatusCode
	if code == 0 {
		code = http.StatusOK
	}
	w.WriteHeader(code)
	if r.Method != http.MethodHead {
		_, _ = io.Copy(w, res.Body)
	}

	metrics.ObserveProxyRequest(r.Method, code, time.Since(start))
	h.logger.Debug("proxied",
		zap.String("url", target),
		zap.String("tier", res.Tier),
		zap.String("timestamp", string(res.Record.Timestamp)),
		zap.Int("code", code),
		zap.Duration("duration", time.Since(start)))
}

// handleConnect accepts a CONNECT tunnel, terminates TLS with a minted
// certificate for the requested host, and serves the tunneled requests
// through the same resolution path. Capture clients must run with
// certificate verification relaxed, since nothing signs the minted
// certificates.
func (h *handler) handleConnect(w http.ResponseWriter, r *http.Request) {
	authority := r.Host
	certHost := authority
	urlHost := authority
	if hostOnly, port, err := net.SplitHostPort(authority); err == nil {
		certHost = hostOnly
		if port == "443" {
			urlHost = hostOnly
		}
	}

	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "proxy cannot hijack connection", http.StatusInternalServerError)
		return
	}
	conn, brw, err := hj.Hijack()
	if err != nil {
		http.Error(w, "proxy cannot hijack connection", http.StatusInternalServerError)
		return
	}
	if _, err := conn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		_ = conn.Close()
		return
	}

	// Bytes the server read ahead of the hijack already belong to the TLS
	// handshake.
	raw := conn
	if brw != nil && brw.Reader.Buffered() > 0 {
		raw = &bufferedConn{Conn: conn, r: brw.Reader}
	}

	tlsConn := tls.Server(raw, &tls.Config{
		MinVersion: tls.VersionTLS12,
		GetCertificate: func(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
			name := hello.ServerName
			if name == "" {
				name = certHost
			}
			return h.certs.leafFor(name)
		},
	})

	tunnel := &http.Server{
		Handler: http.HandlerFunc(func(tw http.ResponseWriter, tr *http.Request) {
			h.serveResolved(tw, tr, "https://"+urlHost+tr.URL.RequestURI())
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	// Serve returns as soon as the listener hands out its only
	// connection; requests keep flowing on that connection until the
	// client closes the tunnel.
	_ = tunnel.Serve(newOneConnListener(tlsConn))
}

// bufferedConn replays bytes that were buffered before a hijack.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *bufferedConn) Read(p []byte) (int, error) { return c.r.Read(p) }

// oneConnListener adapts one established connection to the listener
// interface so net/http can serve it.
type oneConnListener struct {
	addr net.Addr

	mu   sync.Mutex
	conn net.Conn
}

func newOneConnListener(c net.Conn) *oneConnListener {
	return &oneConnListener{addr: c.LocalAddr(), conn: c}
}

func (l *oneConnListener) Accept() (net.Conn, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil, io.EOF
	}
	c := l.conn
	l.conn = nil
	return c, nil
}

func (l *oneConnListener) Close() error   { return nil }
func (l *oneConnListener) Addr() net.Addr { return l.addr }

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
