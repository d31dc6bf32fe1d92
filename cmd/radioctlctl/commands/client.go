package commands

import (
	"fmt"
	"net"
	"time"

	"github.com/drexelwireless/dragonradio-sub000/internal/wire"
)

// dialTimeout bounds how long a subcommand waits to reach the
// remote-control socket before giving up.
const dialTimeout = 5 * time.Second

// sendRequest dials addr, writes one framed request, and decodes the
// single framed Response it gets back.
func sendRequest(target string, payload []byte) (wire.Response, error) {
	conn, err := net.DialTimeout("tcp", target, dialTimeout)
	if err != nil {
		return wire.Response{}, fmt.Errorf("dial %s: %w", target, err)
	}
	defer conn.Close()

	if err := wire.WriteFrame(conn, payload); err != nil {
		return wire.Response{}, fmt.Errorf("write request: %w", err)
	}

	frame, err := wire.ReadFrame(conn)
	if err != nil {
		return wire.Response{}, fmt.Errorf("read response: %w", err)
	}

	resp, err := wire.DecodeResponse(frame)
	if err != nil {
		return wire.Response{}, fmt.Errorf("decode response: %w", err)
	}
	return resp, nil
}

// printResponse reports r to stdout and returns a non-nil error when the
// daemon rejected the request, so cobra exits nonzero.
func printResponse(r wire.Response) error {
	fmt.Println(r.Message)
	if !r.OK {
		return fmt.Errorf("radioctl: %s", r.Message)
	}
	return nil
}
