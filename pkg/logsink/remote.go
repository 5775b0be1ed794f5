package logsink

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/net/proxy"
)

// RemoteConfig configures the remote record transport.
type RemoteConfig struct {
	// URL is the scheduler endpoint as host:port.
	URL string

	// JobID is the correlation ID stamped on every record.
	JobID string

	// MasterCert is the PEM certificate used to authenticate the
	// scheduler end of the connection.
	MasterCert string

	// SlaveCert is the PEM certificate and key presented by this
	// dispatcher for mutual authentication.
	SlaveCert string

	// SocksProxy is an optional SOCKS5 proxy address.
	SocksProxy string

	// IPv6 prefers the IPv6 address family when dialing.
	IPv6 bool

	// DialTimeout bounds connection establishment. Zero means a
	// 30 second default.
	DialTimeout time.Duration
}

// RemoteSink streams typed record envelopes to the scheduler over
// mutually authenticated TLS. Each record is one line of JSON.
//
// The transport is enabled only when both certificate files exist;
// anything else fails sink construction so the caller reports a
// logging setup failure instead of silently running unlogged.
type RemoteSink struct {
	conn  net.Conn
	jobID string

	mu     sync.Mutex
	closed bool
}

// NewRemote connects the remote record transport.
func NewRemote(cfg RemoteConfig) (*RemoteSink, error) {
	for _, cert := range []string{cfg.MasterCert, cfg.SlaveCert} {
		if cert == "" {
			return nil, fmt.Errorf("remote logging requires both certificates")
		}
		if _, err := os.Stat(cert); err != nil {
			return nil, fmt.Errorf("certificate not usable: %s: %w", cert, err)
		}
	}

	tlsCfg, err := buildTLSConfig(cfg)
	if err != nil {
		return nil, err
	}

	timeout := cfg.DialTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	network := "tcp"
	if cfg.IPv6 {
		network = "tcp6"
	}

	var dialer proxy.Dialer = &net.Dialer{Timeout: timeout}
	if cfg.SocksProxy != "" {
		dialer, err = proxy.SOCKS5("tcp", cfg.SocksProxy, nil, &net.Dialer{Timeout: timeout})
		if err != nil {
			return nil, fmt.Errorf("socks proxy %s: %w", cfg.SocksProxy, err)
		}
	}

	raw, err := dialer.Dial(network, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.URL, err)
	}

	conn := tls.Client(raw, tlsCfg)
	if err := conn.Handshake(); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("tls handshake with %s: %w", cfg.URL, err)
	}

	return &RemoteSink{conn: conn, jobID: cfg.JobID}, nil
}

func buildTLSConfig(cfg RemoteConfig) (*tls.Config, error) {
	masterPEM, err := os.ReadFile(cfg.MasterCert)
	if err != nil {
		return nil, fmt.Errorf("read master certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(masterPEM) {
		return nil, fmt.Errorf("master certificate %s contains no usable PEM data", cfg.MasterCert)
	}

	// The slave certificate file carries both the certificate and its key.
	keypair, err := tls.LoadX509KeyPair(cfg.SlaveCert, cfg.SlaveCert)
	if err != nil {
		return nil, fmt.Errorf("load slave certificate: %w", err)
	}

	host, _, err := net.SplitHostPort(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("logging url %q: %w", cfg.URL, err)
	}

	return &tls.Config{
		RootCAs:      pool,
		Certificates: []tls.Certificate{keypair},
		ServerName:   host,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

func (r *RemoteSink) Debug(msg string, fields ...zap.Field) { r.log("debug", msg, fields) }
func (r *RemoteSink) Info(msg string, fields ...zap.Field)  { r.log("info", msg, fields) }
func (r *RemoteSink) Warn(msg string, fields ...zap.Field)  { r.log("warning", msg, fields) }
func (r *RemoteSink) Error(msg string, fields ...zap.Field) { r.log("error", msg, fields) }

func (r *RemoteSink) log(level, msg string, fields []zap.Field) {
	rec := LogRecord{Level: level, Message: msg, Fields: fieldMap(fields)}
	// Progress logs are best effort; a broken transport surfaces on
	// Results or Close, which do report errors.
	_ = r.writeRecord(TypeLog, rec)
}

// Results emits the outcome record.
func (r *RemoteSink) Results(record map[string]any) error {
	return r.writeRecord(TypeResults, record)
}

// Close flushes and closes the connection.
func (r *RemoteSink) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.conn.Close()
}

// writeRecord marshals data and writes a complete record line.
//
// The mutex is held for the entire operation so lines are never
// interleaved on the stream.
func (r *RemoteSink) writeRecord(recordType string, data any) error {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return &EmitError{Op: "marshal_data", Err: err}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrSinkClosed
	}

	record := Record{
		Type:  recordType,
		TS:    time.Now().UTC(),
		JobID: r.jobID,
		Data:  dataBytes,
	}

	recordBytes, err := json.Marshal(record)
	if err != nil {
		return &EmitError{Op: "marshal_record", Err: err}
	}

	recordBytes = append(recordBytes, '\n')
	if err := writeAll(r.conn, recordBytes); err != nil {
		return &EmitError{Op: "write", Err: err}
	}
	return nil
}

// writeAll writes all bytes to w, handling short writes.
//
// io.Writer.Write may return n < len(p) with a nil error; looping
// until done keeps record lines complete on the wire.
func writeAll(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}

func fieldMap(fields []zap.Field) map[string]any {
	if len(fields) == 0 {
		return nil
	}
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range fields {
		f.AddTo(enc)
	}
	return enc.Fields
}

// Compile-time check that RemoteSink implements Sink.
var _ Sink = (*RemoteSink)(nil)
