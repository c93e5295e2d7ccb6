// Package network implements the wire protocol collaborator (spec.md §6):
// length-prefixed frames carrying a status byte followed by a
// JSON-encoded ExecResult or error message.
package network

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/leengari/mini-rdbms/internal/registry"
	"github.com/leengari/mini-rdbms/internal/session"
)

const (
	statusOK    byte = 0
	statusError byte = 1
)

// Start binds the given port and serves one session per connection
// until the listener is closed.
func Start(port int, reg *registry.Registry) error {
	addr := fmt.Sprintf(":%d", port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("binding port %d: %w", port, err)
	}
	defer listener.Close()

	slog.Info("listening", "addr", addr)

	for {
		conn, err := listener.Accept()
		if err != nil {
			slog.Error("accept failed", "error", err)
			continue
		}
		go handleConnection(conn, reg)
	}
}

func handleConnection(conn net.Conn, reg *registry.Registry) {
	defer conn.Close()
	sess := session.New(reg)
	defer sess.Close()

	slog.Info("connection opened", "session", sess.ID, "remote_addr", conn.RemoteAddr())
	defer slog.Info("connection closed", "session", sess.ID, "remote_addr", conn.RemoteAddr())

	r := bufio.NewReader(conn)
	for {
		line, err := readFrame(r)
		if err != nil {
			if err != io.EOF {
				slog.Error("read failed", "session", sess.ID, "error", err)
			}
			return
		}

		res, err := sess.Execute(line)
		if err != nil {
			slog.Warn("statement failed", "session", sess.ID, "error", err)
			if writeErr := writeFrame(conn, statusError, []byte(err.Error())); writeErr != nil {
				slog.Error("write failed", "session", sess.ID, "error", writeErr)
				return
			}
			continue
		}

		body, err := json.Marshal(res)
		if err != nil {
			slog.Error("marshal result failed", "session", sess.ID, "error", err)
			return
		}
		if err := writeFrame(conn, statusOK, body); err != nil {
			slog.Error("write failed", "session", sess.ID, "error", err)
			return
		}
	}
}

// readFrame reads one [length:u32][payload] frame and returns its
// payload as the statement text.
func readFrame(r *bufio.Reader) (string, error) {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return "", err
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// writeFrame writes [length:u32][status:u8][payload], length covering
// the status byte plus payload.
func writeFrame(w io.Writer, status byte, payload []byte) error {
	frame := make([]byte, 4+1+len(payload))
	binary.BigEndian.PutUint32(frame[:4], uint32(1+len(payload)))
	frame[4] = status
	copy(frame[5:], payload)
	_, err := w.Write(frame)
	return err
}
