// Package gateway is a WebSocket transport adapter for Media Events: it
// binds client sockets to the engine's control API and relays targeted
// and broadcast events back to each socket. The engine itself knows
// nothing about the transport.
package gateway

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/meshrtc/engine/pkg/engine"
	"github.com/meshrtc/engine/pkg/event"
	"github.com/meshrtc/engine/pkg/registry"
	"github.com/meshrtc/engine/pkg/worker"
	"github.com/sirupsen/logrus"
)

// Config of the WebSocket gateway.
type Config struct {
	// Address to listen on, e.g. ":8090".
	Address string `yaml:"address"`
	// AutoAccept admits every joining peer without asking an external
	// admission controller. Useful for development setups.
	AutoAccept bool `yaml:"autoAccept"`
	// PingInterval in seconds between keepalive pings.
	PingInterval int `yaml:"pingInterval"`
	// KeepAliveTimeout in seconds after which a silent peer is dropped.
	KeepAliveTimeout int `yaml:"keepAliveTimeout"`
}

const outgoingQueueSize = 64

type Gateway struct {
	config   Config
	sessions *Sessions
	upgrader websocket.Upgrader
	logger   *logrus.Entry
}

func New(config Config, sessions *Sessions, logger *logrus.Entry) *Gateway {
	return &Gateway{
		config:   config,
		sessions: sessions,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Serve blocks listening for peer connections on
// `/session/{session}?peer={peer}`.
func (g *Gateway) Serve() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/session/", g.handlePeer)

	g.logger.Infof("listening on %s", g.config.Address)
	return http.ListenAndServe(g.config.Address, mux)
}

func (g *Gateway) handlePeer(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Path[len("/session/"):]
	peerID := r.URL.Query().Get("peer")
	if sessionID == "" || peerID == "" {
		http.Error(w, "session and peer are required", http.StatusBadRequest)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.WithError(err).Error("failed to upgrade connection")
		return
	}

	logger := g.logger.WithFields(logrus.Fields{
		"session_id": sessionID,
		"peer_id":    peerID,
	})

	peer := &peerConnection{
		peerID:     peerID,
		engine:     g.sessions.GetOrCreate(sessionID),
		conn:       conn,
		autoAccept: g.config.AutoAccept,
		logger:     logger,
	}

	peer.run(g.config)
}

// peerConnection binds one socket to one peer of one session. It is the
// engine observer for that peer: it forwards targeted and broadcast
// Media Events to the socket and relays admission requests when
// auto-accept is on.
type peerConnection struct {
	peerID     string
	engine     *engine.Engine
	conn       *websocket.Conn
	outgoing   *worker.Worker[[]byte]
	autoAccept bool
	logger     *logrus.Entry
}

// OnEngineMessage implements registry.Observer. It runs on the
// registry's per-observer goroutine, in dispatch order.
func (p *peerConnection) OnEngineMessage(message registry.Message) {
	switch msg := message.(type) {
	case registry.MediaEvent:
		if msg.To == event.Broadcast || msg.To == p.peerID {
			if err := p.outgoing.Send(msg.Data); err != nil {
				p.logger.WithError(err).Warn("dropping media event for peer")
			}
		}
	case registry.NewPeer:
		if p.autoAccept && msg.PeerID == p.peerID {
			p.engine.AcceptPeer(msg.PeerID)
		}
	}
}

func (p *peerConnection) run(config Config) {
	pingInterval := time.Duration(config.PingInterval) * time.Second
	keepAlive := time.Duration(config.KeepAliveTimeout) * time.Second

	// The write side is a worker so that neither the registry nor the
	// ping loop ever block on a slow socket.
	p.outgoing = worker.StartWorker(worker.Config[[]byte]{
		ChannelSize: outgoingQueueSize,
		Timeout:     pingInterval,
		OnTimeout: func() {
			_ = p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second))
		},
		OnTask: func(payload []byte) {
			if err := p.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				p.logger.WithError(err).Warn("failed to write media event")
			}
		},
	})

	// Drop the connection once the peer goes silent.
	watchdog := worker.WatchdogConfig{
		Timeout: keepAlive,
		OnTimeout: func() {
			p.logger.Warn("peer went silent, closing connection")
			p.conn.Close()
		},
	}.Start()
	p.conn.SetPongHandler(func(string) error {
		watchdog.Notify()
		return nil
	})

	p.engine.Register(p)
	defer func() {
		p.engine.Unregister(p)
		p.engine.RemovePeer(p.peerID, "")
		p.outgoing.Stop()
		watchdog.Close()
		p.conn.Close()
	}()

	for {
		_, payload, err := p.conn.ReadMessage()
		if err != nil {
			p.logger.WithError(err).Info("peer disconnected")
			return
		}

		watchdog.Notify()
		p.engine.ReceiveMediaEvent(p.peerID, payload)
	}
}
