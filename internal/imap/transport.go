package imap

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// DialConfig carries everything the transport needs to open one session
// socket.
type DialConfig struct {
	Host string
	Port int

	// TLS selects an implicit-TLS connection. STARTTLS upgrades happen
	// later through Conn.StartTLS.
	TLS     bool
	SNIHost string

	ConnectTimeout time.Duration
	CommandTimeout time.Duration
}

// Conn is a single line-oriented connection to a server. Implementations
// are not safe for concurrent use; each session owns its Conn exclusively.
type Conn interface {
	// SendLine writes one request line; the CRLF terminator is appended.
	SendLine(line string) error

	// ReadLine reads one response line, without its line terminator,
	// waiting at most the given duration.
	ReadLine(timeout time.Duration) (string, error)

	// StartTLS upgrades the connection in place.
	StartTLS(sniHost string) error

	Close() error
}

// Dialer opens transport connections. Tests substitute a scripted one.
type Dialer interface {
	Dial(cfg DialConfig) (Conn, error)
}

// NetDialer opens TCP or implicit-TLS connections.
type NetDialer struct{}

func (NetDialer) Dial(cfg DialConfig) (Conn, error) {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	var (
		conn net.Conn
		err  error
	)
	if cfg.TLS {
		dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
		conn, err = tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{
			ServerName: sniHostOr(cfg.SNIHost, cfg.Host),
			MinVersion: tls.VersionTLS12,
		})
	} else {
		conn, err = net.DialTimeout("tcp", addr, cfg.ConnectTimeout)
	}
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}

	return &netConn{
		conn:           conn,
		reader:         bufio.NewReader(conn),
		commandTimeout: cfg.CommandTimeout,
	}, nil
}

type netConn struct {
	conn           net.Conn
	reader         *bufio.Reader
	commandTimeout time.Duration
}

func (c *netConn) SendLine(line string) error {
	if c.commandTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.commandTimeout)); err != nil {
			return err
		}
	}
	_, err := c.conn.Write([]byte(line + "\r\n"))
	return err
}

func (c *netConn) ReadLine(timeout time.Duration) (string, error) {
	if timeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return "", err
		}
	}
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (c *netConn) StartTLS(sniHost string) error {
	tlsConn := tls.Client(c.conn, &tls.Config{
		ServerName: sniHost,
		MinVersion: tls.VersionTLS12,
	})
	if c.commandTimeout > 0 {
		if err := tlsConn.SetDeadline(time.Now().Add(c.commandTimeout)); err != nil {
			return err
		}
	}
	if err := tlsConn.Handshake(); err != nil {
		return err
	}
	if err := tlsConn.SetDeadline(time.Time{}); err != nil {
		return err
	}
	c.conn = tlsConn
	c.reader = bufio.NewReader(tlsConn)
	return nil
}

func (c *netConn) Close() error {
	return c.conn.Close()
}

func sniHostOr(sni, host string) string {
	if sni != "" {
		return sni
	}
	return host
}
