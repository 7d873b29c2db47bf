// Package listener runs the two TCP accept loops a replica exposes: the
// public port (client Request/Response traffic) and the peer port
// (inbound Raft messages). Each accepted connection is fanned into the
// engine's input channel (spec.md §4.5).
package listener

import (
	"errors"
	"fmt"
	"io"
	"net"

	v1 "github.com/mrshabel/kvraft/api/v1"
	"github.com/mrshabel/kvraft/internal/codec"
	"github.com/mrshabel/kvraft/internal/engine"
	"go.uber.org/zap"
)

// Public runs the client-facing accept loop.
type Public struct {
	ln  net.Listener
	eng engineSubmitter
	log *zap.Logger
}

type engineSubmitter interface {
	Submit(cmd *engine.ClientCmd)
}

// NewPublic binds addr and returns a Public listener ready to Serve.
func NewPublic(addr string, eng engineSubmitter, log *zap.Logger) (*Public, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on public addr %s: %w", addr, err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Public{ln: ln, eng: eng, log: log.Named("listener.public")}, nil
}

// Addr returns the listener's bound address.
func (p *Public) Addr() net.Addr { return p.ln.Addr() }

// Close stops accepting new connections.
func (p *Public) Close() error { return p.ln.Close() }

// Serve accepts connections until the listener is closed.
func (p *Public) Serve() error {
	for {
		conn, err := p.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go p.handle(conn)
	}
}

// handle reads framed Requests off conn, submits each as a ClientCmd,
// and writes back whatever Response the engine produces, in request
// order, on the same connection (spec.md §4.5, §5 "responses are sent
// in the order their corresponding replies were produced").
func (p *Public) handle(conn net.Conn) {
	defer conn.Close()

	reader := codec.NewReader(conn)
	writer := codec.NewWriter(conn)

	for {
		payload, err := reader.ReadFrame()
		if err != nil {
			if err != io.EOF {
				p.log.Debug("connection read error", zap.Error(err))
			}
			return
		}

		req, err := v1.UnmarshalRequest(payload)
		if err != nil {
			p.log.Debug("bad request frame, dropping connection", zap.Error(err))
			return
		}

		reply := make(chan *v1.Response, 1)
		p.eng.Submit(&engine.ClientCmd{Request: req, Reply: reply})

		resp := <-reply
		respBytes, err := resp.Marshal()
		if err != nil {
			p.log.Error("failed to marshal response", zap.Error(err))
			return
		}
		if err := writer.WriteFrame(respBytes); err != nil {
			p.log.Debug("connection write error", zap.Error(err))
			return
		}
	}
}
