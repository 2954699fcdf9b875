package decay

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"
)

// ErrNoCertificate is returned when the server presents no certificate.
var ErrNoCertificate = errors.New("no peer certificate")

// CertLookup reads the leaf certificate a host serves on port 443.
type CertLookup struct {
	timeout time.Duration
	port    string
	config  *tls.Config
}

// NewCertLookup creates a lookup whose handshakes time out after timeout.
func NewCertLookup(timeout time.Duration) *CertLookup {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &CertLookup{timeout: timeout, port: "443"}
}

// NotAfter returns the expiry of host's verified leaf certificate. Invalid or
// untrusted certificates are reported as errors.
func (c *CertLookup) NotAfter(ctx context.Context, host string) (time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cfg := &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}
	if c.config != nil {
		cfg = c.config.Clone()
		cfg.ServerName = host
	}
	dialer := &tls.Dialer{NetDialer: &net.Dialer{Timeout: c.timeout}, Config: cfg}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, c.port))
	if err != nil {
		return time.Time{}, fmt.Errorf("tls dial %s: %w", host, err)
	}
	defer func() { _ = conn.Close() }()

	tlsConn, ok := conn.(*tls.Conn)
	if !ok {
		return time.Time{}, fmt.Errorf("tls dial %s: unexpected connection type %T", host, conn)
	}
	certs := tlsConn.ConnectionState().PeerCertificates
	if len(certs) == 0 {
		return time.Time{}, ErrNoCertificate
	}
	return certs[0].NotAfter, nil
}
