// Package engine is a thin façade over the analytic engine's native
// connection protocol: connect, prepare, execute-prepared, complete,
// cancel, disconnect. Nothing above this package ever inspects a raw
// engine error string — classification of connection-fatal versus
// query-local failures lives here, behind ClassifyError.
package engine

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"
)

// ErrAuthFailed is returned by Dial when the engine rejects the
// supplied credentials during the connect handshake.
var ErrAuthFailed = errors.New("engine rejected credentials")

// QueryID is the (coordinator, query) pair the engine returns from prepare.
// The zero value means "no query in flight".
type QueryID struct {
	Coordinator int64
	Query       int64
}

func (q QueryID) IsZero() bool { return q.Coordinator == 0 && q.Query == 0 }

// String renders the id the way cancel('<coord>.<qid>') expects it.
func (q QueryID) String() string {
	return fmt.Sprintf("%d.%d", q.Coordinator, q.Query)
}

// FailureKind classifies an engine failure for response-code mapping.
type FailureKind int

const (
	// FailureNone indicates success.
	FailureNone FailureKind = iota
	// FailureQueryLocal indicates the query failed but the session and
	// its connections remain usable.
	FailureQueryLocal
	// FailureConnectionFatal indicates the underlying engine connection
	// is no longer usable; the session must be torn down.
	FailureConnectionFatal
)

// connectionFatalMarkers mirrors the engine's own error vocabulary: any
// error text containing one of these substrings means the connection
// itself, not just the query, is dead.
var connectionFatalMarkers = []string{
	"SCIDB_LE_CANT_SEND_RECEIVE",
	"SCIDB_LE_CONNECTION_ERROR",
	"SCIDB_LE_NO_QUORUM",
}

// ClassifyError inspects an engine-reported failure and decides whether
// it is connection-fatal or confined to the query that produced it.
// A nil error classifies as FailureNone.
func ClassifyError(err error) FailureKind {
	if err == nil {
		return FailureNone
	}
	msg := err.Error()
	for _, marker := range connectionFatalMarkers {
		if strings.Contains(msg, marker) {
			return FailureConnectionFatal
		}
	}
	return FailureQueryLocal
}

// opcode identifies a wire message. The framing is a 1-byte opcode
// followed by a 4-byte big-endian payload length and the payload,
// modeled on the length-prefixed message style used to negotiate with
// relational backends: simple enough for the engine, whose actual wire
// protocol is outside this gateway's concern, to stand in for in tests.
type opcode byte

const (
	opConnect opcode = 'C'
	opPrepare opcode = 'P'
	opExecute opcode = 'E'
	opComplete opcode = 'X'
	opCancel  opcode = 'A'
	opOK      opcode = 'K'
	opError   opcode = 'R'
)

// Client is a single blocking connection to the engine.
type Client struct {
	conn net.Conn
	r    *bufio.Reader
}

// NewTestClient wraps an already-established connection as a Client,
// skipping the connect handshake. It exists for tests in other
// packages that need a stand-in engine connection without a real
// SCRAM exchange.
func NewTestClient(conn net.Conn) *Client {
	return &Client{conn: conn, r: bufio.NewReader(conn)}
}

// Dial opens a TCP connection to the engine and performs the connect
// handshake, authenticating the given credentials.
func Dial(ctx context.Context, addr, user, password string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dialing engine at %s: %w", addr, err)
	}
	c := &Client{conn: conn, r: bufio.NewReader(conn)}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	if err := c.handshake(user, password); err != nil {
		conn.Close()
		return nil, err
	}
	conn.SetDeadline(time.Time{})
	return c, nil
}

func (c *Client) handshake(user, password string) error {
	if err := authenticate(c.conn, c.r, user, password); err != nil {
		return fmt.Errorf("engine authentication failed: %w", err)
	}
	return nil
}

func writeMessage(w io.Writer, op opcode, payload []byte) error {
	buf := make([]byte, 5+len(payload))
	buf[0] = byte(op)
	binary.BigEndian.PutUint32(buf[1:5], uint32(len(payload)))
	copy(buf[5:], payload)
	_, err := w.Write(buf)
	return err
}

func readMessage(r *bufio.Reader) (opcode, []byte, error) {
	head := make([]byte, 5)
	if _, err := io.ReadFull(r, head); err != nil {
		return 0, nil, err
	}
	n := binary.BigEndian.Uint32(head[1:5])
	payload := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return 0, nil, err
		}
	}
	return opcode(head[0]), payload, nil
}

// Prepare submits a query for preparation and returns its query id.
func (c *Client) Prepare(ctx context.Context, query string) (QueryID, error) {
	var qid QueryID
	if err := c.roundTrip(ctx, opPrepare, []byte(query), func(payload []byte) error {
		if len(payload) != 16 {
			return fmt.Errorf("malformed prepare response")
		}
		qid.Coordinator = int64(binary.BigEndian.Uint64(payload[0:8]))
		qid.Query = int64(binary.BigEndian.Uint64(payload[8:16]))
		return nil
	}); err != nil {
		return QueryID{}, err
	}
	return qid, nil
}

// ExecutePrepared runs a previously prepared query.
func (c *Client) ExecutePrepared(ctx context.Context, qid QueryID) error {
	return c.roundTrip(ctx, opExecute, encodeQueryID(qid), nil)
}

// Complete waits for the engine to finish the in-flight query.
func (c *Client) Complete(ctx context.Context, qid QueryID) error {
	return c.roundTrip(ctx, opComplete, encodeQueryID(qid), nil)
}

// Cancel injects a cancel(...) against the given query id. Intended to
// be issued on a session's second connection while the first is
// blocked in Complete.
func (c *Client) Cancel(ctx context.Context, qid QueryID) error {
	return c.roundTrip(ctx, opCancel, encodeQueryID(qid), nil)
}

// Close tears down the connection. Disconnect is idempotent.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func encodeQueryID(qid QueryID) []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[0:8], uint64(qid.Coordinator))
	binary.BigEndian.PutUint64(buf[8:16], uint64(qid.Query))
	return buf
}

func (c *Client) roundTrip(ctx context.Context, op opcode, payload []byte, onOK func([]byte) error) error {
	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetDeadline(deadline)
		defer c.conn.SetDeadline(time.Time{})
	}
	if err := writeMessage(c.conn, op, payload); err != nil {
		return fmt.Errorf("SCIDB_LE_CANT_SEND_RECEIVE: writing to engine: %w", err)
	}
	rop, rpayload, err := readMessage(c.r)
	if err != nil {
		return fmt.Errorf("SCIDB_LE_CONNECTION_ERROR: reading from engine: %w", err)
	}
	if rop == opError {
		return fmt.Errorf("%s", string(rpayload))
	}
	if rop != opOK {
		return fmt.Errorf("unexpected engine response opcode %q", rune(rop))
	}
	if onOK != nil {
		return onOK(rpayload)
	}
	return nil
}

// Addr formats host:port the way config.EngineConfig stores it.
func Addr(host string, port int) string {
	return net.JoinHostPort(host, fmt.Sprintf("%d", port))
}
