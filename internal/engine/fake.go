package engine

import (
	"bufio"
	"net"
)

// FakeServerConfig scripts how a fake in-process engine responds to
// prepare/execute/complete/cancel. It exists so other packages' tests
// can exercise a *Client without a real engine process, speaking the
// same wire framing Dial uses.
type FakeServerConfig struct {
	QueryID     QueryID
	PrepareErr  string
	ExecuteErr  string
	CompleteErr string
}

// DialFake returns a Client wired to an in-process fake engine
// connection. The connect handshake is skipped — callers get a Client
// as if Dial had already authenticated successfully.
func DialFake(cfg FakeServerConfig) *Client {
	client, server := net.Pipe()
	go serveFake(server, cfg)
	return NewTestClient(client)
}

func serveFake(conn net.Conn, cfg FakeServerConfig) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		op, _, err := readMessage(r)
		if err != nil {
			return
		}
		switch op {
		case opPrepare:
			if cfg.PrepareErr != "" {
				writeMessage(conn, opError, []byte(cfg.PrepareErr))
				continue
			}
			writeMessage(conn, opOK, encodeQueryID(cfg.QueryID))
		case opExecute:
			if cfg.ExecuteErr != "" {
				writeMessage(conn, opError, []byte(cfg.ExecuteErr))
				continue
			}
			writeMessage(conn, opOK, nil)
		case opComplete:
			if cfg.CompleteErr != "" {
				writeMessage(conn, opError, []byte(cfg.CompleteErr))
				continue
			}
			writeMessage(conn, opOK, nil)
		default:
			writeMessage(conn, opOK, nil)
		}
	}
}
