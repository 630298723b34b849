// Package fakeworker serves the worker side of the protocol in-process:
// address routing, the websocket channel and binary resource routes.
package fakeworker

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/danmuck/vizlink/internal/logging"
	"github.com/danmuck/vizlink/internal/observability"
	"github.com/danmuck/vizlink/internal/protocol"
)

type Options struct {
	// RenderConfig is returned on render_config. Empty fails the request.
	RenderConfig json.RawMessage
	// RejectReason, when set, rejects every handshake with this error.
	RejectReason string
	// ResolveError, when set, is returned by the address route.
	ResolveError string
	// TLS serves every route over https and wss.
	TLS    *tls.Config
	Logger *zerolog.Logger
}

type resource struct {
	data    []byte
	version int64
	width   int
	height  int
}

// Worker is a scripted worker. Client events and acks are queued on
// Events.
type Worker struct {
	opts   Options
	log    zerolog.Logger
	router *gin.Engine
	srv    *httptest.Server

	Events chan protocol.Envelope

	mu        sync.Mutex
	conn      *websocket.Conn
	writeMu   sync.Mutex
	nextID    uint64
	buffers   map[string]resource
	textures  map[string]resource
	fetches   map[string]int
	sessionID string
}

func New(opts Options) *Worker {
	gin.SetMode(gin.TestMode)
	w := &Worker{
		opts:     opts,
		log:      logging.OrDefault(opts.Logger).With().Str("component", "fakeworker").Logger(),
		router:   gin.New(),
		Events:   make(chan protocol.Envelope, 256),
		buffers:  make(map[string]resource),
		textures: make(map[string]resource),
		fetches:  make(map[string]int),
	}
	w.router.Use(gin.Recovery())
	w.router.Use(observability.RequestObserver("fakeworker", w.log, "/buffer", "/texture"))
	w.routes()
	w.srv = httptest.NewUnstartedServer(w.router)
	if opts.TLS != nil {
		w.srv.TLS = opts.TLS
		w.srv.StartTLS()
	} else {
		w.srv.Start()
	}
	return w
}

// URL is the worker base URL, also used as the resolver base.
func (w *Worker) URL() string { return w.srv.URL }

func (w *Worker) Close() {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	w.srv.Close()
}

func (w *Worker) SetBuffer(name string, data []byte, version int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buffers[name] = resource{data: data, version: version}
}

func (w *Worker) SetTexture(name string, data []byte, width, height int, version int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.textures[name] = resource{data: data, version: version, width: width, height: height}
}

// Fetches reports how often kind/name was served.
func (w *Worker) Fetches(kind protocol.ResourceKind, name string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fetches[string(kind)+"/"+name]
}

// SessionID is the id the client connected with.
func (w *Worker) SessionID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sessionID
}

// Update describes the current resources as a frame update.
func (w *Worker) Update(step int64, elements map[string]int) protocol.FrameUpdate {
	w.mu.Lock()
	defer w.mu.Unlock()
	msg := protocol.FrameUpdate{
		Step:              step,
		Elements:          elements,
		Versions:          protocol.Versions{Buffers: map[string]int64{}, Textures: map[string]int64{}},
		BufferByteLengths: map[string]int{},
		Textures:          map[string]protocol.TextureInfo{},
	}
	for name, r := range w.buffers {
		msg.Versions.Buffers[name] = r.version
		msg.BufferByteLengths[name] = len(r.data)
	}
	for name, r := range w.textures {
		msg.Versions.Textures[name] = r.version
		msg.Textures[name] = protocol.TextureInfo{Bytes: len(r.data), Width: r.width, Height: r.height}
	}
	return msg
}

// Push sends msg as an acked vbo_update and returns its id.
func (w *Worker) Push(msg protocol.FrameUpdate) (uint64, error) {
	w.mu.Lock()
	conn := w.conn
	w.nextID++
	id := w.nextID
	w.mu.Unlock()
	if conn == nil {
		return 0, fmt.Errorf("fakeworker: no client connected")
	}
	env, err := protocol.NewEvent(protocol.EventFrameUpdate, id, msg)
	if err != nil {
		return 0, err
	}
	return id, w.write(conn, env)
}

// Drop closes the client channel.
func (w *Worker) Drop() {
	w.mu.Lock()
	conn := w.conn
	w.conn = nil
	w.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// Await returns the next queued envelope matching match.
func (w *Worker) Await(ctx context.Context, match func(protocol.Envelope) bool) (protocol.Envelope, error) {
	for {
		select {
		case env := <-w.Events:
			if match(env) {
				return env, nil
			}
		case <-ctx.Done():
			return protocol.Envelope{}, ctx.Err()
		}
	}
}

// IsEvent matches client events named name.
func IsEvent(name string) func(protocol.Envelope) bool {
	return func(env protocol.Envelope) bool {
		return env.Type == protocol.EnvelopeEvent && env.Event == name
	}
}

// IsAck matches the client's ack of id.
func IsAck(id uint64) func(protocol.Envelope) bool {
	return func(env protocol.Envelope) bool {
		return env.Type == protocol.EnvelopeAck && env.ID == id
	}
}

func (w *Worker) routes() {
	w.router.GET("/vizaddr/graph", w.handleResolve)
	w.router.GET("/channel", w.handleChannel)
	w.router.GET("/buffer", w.handleResource(protocol.KindBuffer))
	w.router.GET("/texture", w.handleResource(protocol.KindTexture))
}

func (w *Worker) handleResolve(c *gin.Context) {
	if w.opts.ResolveError != "" {
		c.JSON(http.StatusOK, gin.H{"error": w.opts.ResolveError})
		return
	}
	host, portText, err := net.SplitHostPort(c.Request.Host)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"error": err.Error()})
		return
	}
	port, _ := strconv.Atoi(portText)
	c.JSON(http.StatusOK, gin.H{"hostname": host, "port": port, "timestamp": 0})
}

func (w *Worker) handleResource(kind protocol.ResourceKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Query(string(kind))
		w.mu.Lock()
		table := w.buffers
		if kind == protocol.KindTexture {
			table = w.textures
		}
		r, ok := table[name]
		if ok {
			w.fetches[string(kind)+"/"+name]++
		}
		w.mu.Unlock()
		if !ok || c.Query("id") != w.SessionID() {
			c.Status(http.StatusNotFound)
			return
		}
		c.Data(http.StatusOK, "application/octet-stream", r.data)
	}
}

func (w *Worker) handleChannel(c *gin.Context) {
	up := websocket.Upgrader{}
	conn, err := up.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		w.log.Warn().Err(err).Msg("upgrade failed")
		return
	}
	w.mu.Lock()
	w.conn = conn
	w.sessionID = c.Query("id")
	w.mu.Unlock()
	defer conn.Close()

	for {
		var env protocol.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			w.log.Debug().Err(err).Msg("channel closed")
			return
		}
		switch env.Event {
		case protocol.EventHandshake:
			reply := gin.H{"success": true}
			if w.opts.RejectReason != "" {
				reply = gin.H{"success": false, "error": w.opts.RejectReason}
			}
			w.reply(conn, env.ID, reply)
		case protocol.EventRenderConfig:
			if len(w.opts.RenderConfig) == 0 {
				w.reply(conn, env.ID, gin.H{"success": false})
				continue
			}
			w.reply(conn, env.ID, gin.H{"success": true, "renderConfig": w.opts.RenderConfig})
		default:
			select {
			case w.Events <- env:
			default:
				w.log.Warn().Str("event", env.Event).Msg("event queue full")
			}
		}
	}
}

func (w *Worker) reply(conn *websocket.Conn, id uint64, payload any) {
	env, err := protocol.NewAck(id, payload)
	if err != nil {
		w.log.Error().Err(err).Msg("encode ack")
		return
	}
	if err := w.write(conn, env); err != nil {
		w.log.Warn().Err(err).Msg("write ack")
	}
}

func (w *Worker) write(conn *websocket.Conn, env protocol.Envelope) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return conn.WriteJSON(env)
}
