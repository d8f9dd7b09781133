// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"go.bug.st/serial"
	"golang.org/x/term"

	"github.com/gowgos5/wheelstat/internal/config"
)

// passwordEnv holds the WebSocket password
const passwordEnv = "WHEELSTAT_PASSWORD"

// Connection provides a common interface for reading/writing bytes from serial or WebSocket
type Connection interface {
	io.Reader
	io.Writer
	io.Closer
}

// ErrLinkIdle is returned by Read when the wheel sent nothing for longer
// than the idle timeout. A Bluetooth SPP link can stall without closing.
var ErrLinkIdle = errors.New("link idle")

// serialReadSlice bounds each blocking serial read so an idle link is noticed
const serialReadSlice = 100 * time.Millisecond

// SerialConnection wraps a serial port, usually an RFCOMM device bound to
// the wheel's SPP channel
type SerialConnection struct {
	port        serial.Port
	idleTimeout time.Duration
	lastData    time.Time
	now         func() time.Time
}

func (s *SerialConnection) Read(p []byte) (int, error) {
	for {
		n, err := s.port.Read(p)
		if err != nil || n > 0 {
			s.lastData = s.now()
			return n, err
		}
		// Read slice expired without data
		if s.idleTimeout > 0 && s.now().Sub(s.lastData) > s.idleTimeout {
			return 0, fmt.Errorf("%w: nothing received for %v", ErrLinkIdle, s.idleTimeout)
		}
	}
}

func (s *SerialConnection) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

func (s *SerialConnection) Close() error {
	return s.port.Close()
}

// ErrConnectionClosed is returned when reading from a closed WebSocket connection
var ErrConnectionClosed = fmt.Errorf("websocket connection closed")

// WebSocketConnection wraps a WebSocket connection for byte-level reading
type WebSocketConnection struct {
	conn        *websocket.Conn
	idleTimeout time.Duration
	buf         []byte
	bufOffset   int
	closed      bool // Track if connection has failed/closed
}

func (w *WebSocketConnection) Read(p []byte) (int, error) {
	// Return immediately if connection is known to be closed
	if w.closed {
		return 0, ErrConnectionClosed
	}

	// If we have buffered data, return it first
	if w.bufOffset < len(w.buf) {
		n := copy(p, w.buf[w.bufOffset:])
		w.bufOffset += n
		return n, nil
	}

	// Read next message from WebSocket (non-recursive loop to avoid stack overflow)
	for {
		if w.idleTimeout > 0 {
			w.conn.SetReadDeadline(time.Now().Add(w.idleTimeout))
		}
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			// Mark connection as closed to prevent further read attempts
			w.closed = true
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return 0, fmt.Errorf("%w: nothing received for %v", ErrLinkIdle, w.idleTimeout)
			}
			return 0, err
		}

		// The bridge forwards wheel traffic as binary messages only
		if messageType != websocket.BinaryMessage {
			// Skip non-binary messages and continue loop
			continue
		}

		// Buffer the message and return what fits
		w.buf = data
		w.bufOffset = 0
		n := copy(p, w.buf)
		w.bufOffset = n
		return n, nil
	}
}

func (w *WebSocketConnection) Write(p []byte) (int, error) {
	err := w.conn.WriteMessage(websocket.BinaryMessage, p)
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *WebSocketConnection) Close() error {
	return w.conn.Close()
}

// OpenSerialConnection opens a serial port connection. An RFCOMM device
// ignores the baud rate. A non-zero idleTimeout makes Read fail with
// ErrLinkIdle on a silent link.
func OpenSerialConnection(portName string, baudRate int, idleTimeout time.Duration) (Connection, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %v", portName, err)
	}

	// Bytes left over from an earlier session would start the new
	// unpacker mid-frame
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to flush serial port %s: %v", portName, err)
	}
	if idleTimeout > 0 {
		if err := port.SetReadTimeout(serialReadSlice); err != nil {
			port.Close()
			return nil, fmt.Errorf("failed to set read timeout on %s: %v", portName, err)
		}
	}

	return newSerialConnection(port, idleTimeout), nil
}

func newSerialConnection(port serial.Port, idleTimeout time.Duration) *SerialConnection {
	return &SerialConnection{port: port, idleTimeout: idleTimeout, lastData: time.Now(), now: time.Now}
}

// OpenWebSocketConnection opens a WebSocket connection with HTTP Basic auth.
// A non-zero idleTimeout makes Read fail with ErrLinkIdle on a silent link.
func OpenWebSocketConnection(wsURL, username, password string, skipSSLVerify bool, idleTimeout time.Duration) (Connection, error) {
	// Parse and validate URL
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %v", err)
	}

	// Validate scheme
	switch u.Scheme {
	case "ws", "wss":
		// OK
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	// Create dialer with timeout
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	// Configure TLS for wss://
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: skipSSLVerify,
		}
	}

	// Build HTTP headers with Basic auth
	headers := http.Header{}
	if username != "" && password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	// Connect
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %v", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %v", err)
	}

	return &WebSocketConnection{conn: conn, idleTimeout: idleTimeout}, nil
}

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	// First check environment variable
	if pw := os.Getenv(passwordEnv); pw != "" {
		return pw, nil
	}

	// Prompt user for password (hide input)
	fmt.Fprint(os.Stderr, "Password: ")

	// Read password without echo
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %v", err)
		}
		fmt.Fprintln(os.Stderr) // newline after password
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr) // newline after password
	return string(passwordBytes), nil
}

// Dialer opens connections to the wheel. The password is asked for once and
// reused on reconnect.
type Dialer struct {
	link     config.LinkConfig
	password string
	asked    bool
}

// NewDialer creates a dialer for the link configuration
func NewDialer(link config.LinkConfig) *Dialer {
	return &Dialer{link: link}
}

// Dial opens either a serial or WebSocket connection based on configuration
func (d *Dialer) Dial() (Connection, string, error) {
	lc := d.link
	if lc.URL != "" {
		// WebSocket mode
		if lc.Username != "" && !d.asked {
			password, err := GetPassword()
			if err != nil {
				return nil, "", err
			}
			d.password, d.asked = password, true
		}

		conn, err := OpenWebSocketConnection(lc.URL, lc.Username, d.password, lc.NoSSLVerify, lc.IdleTimeout)
		if err != nil {
			return nil, "", err
		}

		return conn, fmt.Sprintf("WebSocket: %s", lc.URL), nil
	}

	if lc.Port != "" {
		// Serial mode
		conn, err := OpenSerialConnection(lc.Port, lc.Baud, lc.IdleTimeout)
		if err != nil {
			return nil, "", err
		}

		return conn, fmt.Sprintf("Serial: %s @ %d baud", lc.Port, lc.Baud), nil
	}

	return nil, "", fmt.Errorf("either --port or --url must be specified")
}

// OpenConnection opens a single connection from the loaded configuration.
// One-shot commands may watch a wheel that only talks when polled, so the
// idle timeout is left to the reconnecting commands.
func OpenConnection() (Connection, string, error) {
	lc := cfg.Link
	lc.IdleTimeout = 0
	return NewDialer(lc).Dial()
}
