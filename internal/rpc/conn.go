package rpc

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

// readLimit matches the teacher's 64KB ceiling on a single frame; RPC
// payloads here are small control messages, not terminal output chunks,
// so the same limit comfortably covers them.
const readLimit = 64 * 1024

const pingInterval = 30 * time.Second

// Handler answers an incoming request's method+params, returning the
// JSON result to send back, or an error translated into an Error
// response.
type Handler func(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error)

// Conn is one JSON-RPC connection layered over a websocket, following
// the teacher's one-goroutine-per-direction shape: a read loop decoding
// envelopes and dispatching requests, a write loop draining an outbound
// channel, a ping loop keeping the socket alive.
type Conn struct {
	ws      *websocket.Conn
	handler Handler
	pending *pendingTable
	logger  *slog.Logger

	outbound chan Envelope
	done     chan struct{}
}

// Accept upgrades an HTTP request to a websocket and wraps it as a
// Conn. originPatterns mirrors the teacher's AcceptOptions allowlist.
func Accept(w http.ResponseWriter, r *http.Request, originPatterns []string, handler Handler, logger *slog.Logger) (*Conn, error) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: originPatterns})
	if err != nil {
		return nil, err
	}
	ws.SetReadLimit(readLimit)
	return newConn(ws, handler, logger), nil
}

func newConn(ws *websocket.Conn, handler Handler, logger *slog.Logger) *Conn {
	return &Conn{
		ws:       ws,
		handler:  handler,
		pending:  newPendingTable(DefaultTimeout),
		logger:   logger,
		outbound: make(chan Envelope, 64),
		done:     make(chan struct{}),
	}
}

// Serve blocks, running the read/write/ping loops until ctx is canceled
// or the connection errors. Always closes the underlying websocket
// before returning.
func (c *Conn) Serve(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer c.ws.CloseNow()
	defer close(c.done)
	defer c.pending.drainAll()

	go c.pingLoop(ctx, cancel)
	go c.writeLoop(ctx)
	c.readLoop(ctx, cancel)
}

// Notify pushes a one-way notification to the client — the event bus
// bridge's only write path (spec.md §4.11).
func (c *Conn) Notify(method string, params any) error {
	env, err := NewNotification(method, params)
	if err != nil {
		return err
	}
	select {
	case c.outbound <- env:
		return nil
	case <-c.done:
		return context.Canceled
	}
}

// Call issues a server-initiated request and blocks for the matching
// response, honoring DefaultTimeout. Kept for symmetry with the
// notification-only push side (spec.md §4.11); a plugin request
// forwarded to a client-side handler is the intended caller.
func (c *Conn) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := c.pending.NextID()
	env, err := NewRequest(id, method, params)
	if err != nil {
		return nil, err
	}
	pc := c.pending.register(id)

	select {
	case c.outbound <- env:
	case <-c.done:
		c.pending.forget(id)
		return nil, context.Canceled
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, c.pending.timeout)
	defer cancel()

	select {
	case result := <-pc.resultCh:
		return result, nil
	case rpcErr := <-pc.errCh:
		return nil, rpcErr
	case <-timeoutCtx.Done():
		c.pending.forget(id)
		return nil, &Error{Code: CodeTimeout, Message: "request timed out"}
	}
}

func (c *Conn) readLoop(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			return
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Debug("invalid rpc frame", "err", err)
			continue
		}
		c.route(ctx, env)
	}
}

func (c *Conn) route(ctx context.Context, env Envelope) {
	switch {
	case env.IsRequest():
		go c.handleRequest(ctx, env)
	case env.IsResponse():
		c.pending.resolve(*env.ID, env.Result, env.Error)
	case env.IsNotification():
		c.logger.Debug("received notification", "method", env.Method)
	default:
		c.logger.Debug("unrecognized rpc envelope")
	}
}

func (c *Conn) handleRequest(ctx context.Context, env Envelope) {
	result, err := c.handler(ctx, env.Method, env.Params)
	var resp Envelope
	if err != nil {
		code := CodeInternalError
		if rpcErr, ok := err.(*Error); ok {
			code = rpcErr.Code
		}
		resp = NewError(*env.ID, code, err.Error())
	} else {
		resp = NewResult(*env.ID, result)
	}
	select {
	case c.outbound <- resp:
	case <-c.done:
	}
}

func (c *Conn) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-c.outbound:
			data, err := json.Marshal(env)
			if err != nil {
				c.logger.Error("failed to marshal rpc envelope", "err", err)
				continue
			}
			if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
				return
			}
		}
	}
}

func (c *Conn) pingLoop(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, pingCancel := context.WithTimeout(ctx, 10*time.Second)
			err := c.ws.Ping(pingCtx)
			pingCancel()
			if err != nil {
				c.logger.Debug("rpc ping failed", "err", err)
				return
			}
		}
	}
}
