package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"devtoolkit/internal/metrics"

	"go.uber.org/zap"
)

var ErrTooManySubscriptions = errors.New("too many subscriptions on this connection")

type ClientMessage struct {
	Client  *Client
	Message []byte
}

type MessageHandler interface {
	HandleWebSocketMessage(client *Client, msg *Message) error
}

// Loader produces the current documents of a collection.
type Loader func() ([]DocumentPayload, error)

type Config struct {
	MaxConnPerUser   int
	MaxSubsPerClient int
	MaxMessageSize   int64
	WriteWait        time.Duration
	PongWait         time.Duration
	PingPeriod       time.Duration
}

// topic serializes snapshot production for one collection so that seq
// numbers reach every subscriber in order.
type topic struct {
	mu  sync.Mutex
	seq uint64
}

// Manager tracks live connections and which collections each one watches.
type Manager struct {
	clients      map[string]*Client
	userIndex    map[string]map[string]bool
	subscribers  map[string]map[string]*Client
	clientsMutex sync.RWMutex

	topicsMu sync.Mutex
	topics   map[string]*topic

	Register      chan *Client
	Unregister    chan *Client
	HandleMessage chan *ClientMessage
	done          chan struct{}

	config         Config
	messageHandler MessageHandler
	rec            metrics.Recorder
	logger         *zap.Logger
}

func NewManager(cfg Config, rec metrics.Recorder, logger *zap.Logger) *Manager {
	if cfg.MaxConnPerUser <= 0 {
		cfg.MaxConnPerUser = 5
	}
	if cfg.MaxSubsPerClient <= 0 {
		cfg.MaxSubsPerClient = 16
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 64 * 1024
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = 10 * time.Second
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = 60 * time.Second
	}
	if cfg.PingPeriod <= 0 || cfg.PingPeriod >= cfg.PongWait {
		cfg.PingPeriod = cfg.PongWait * 9 / 10
	}
	if rec == nil {
		rec = metrics.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Manager{
		clients:       make(map[string]*Client),
		userIndex:     make(map[string]map[string]bool),
		subscribers:   make(map[string]map[string]*Client),
		topics:        make(map[string]*topic),
		Register:      make(chan *Client),
		Unregister:    make(chan *Client),
		HandleMessage: make(chan *ClientMessage),
		done:          make(chan struct{}),
		config:        cfg,
		rec:           rec,
		logger:        logger,
	}
}

func (m *Manager) SetMessageHandler(handler MessageHandler) {
	m.messageHandler = handler
}

// Run processes registrations and inbound messages until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	defer close(m.done)
	for {
		select {
		case client := <-m.Register:
			m.registerClient(client)

		case client := <-m.Unregister:
			m.unregisterClient(client)

		case clientMsg := <-m.HandleMessage:
			m.processMessage(clientMsg)

		case <-ctx.Done():
			m.closeAll()
			return
		}
	}
}

// Done is closed once Run has returned.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

func (m *Manager) registerClient(client *Client) {
	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()

	if m.userIndex[client.UserID] == nil {
		m.userIndex[client.UserID] = make(map[string]bool)
	}

	if len(m.userIndex[client.UserID]) >= m.config.MaxConnPerUser {
		m.logger.Warn("max connections reached", zap.String("user_id", client.UserID))
		if len(m.userIndex[client.UserID]) == 0 {
			delete(m.userIndex, client.UserID)
		}
		close(client.Send)
		return
	}

	m.clients[client.ID] = client
	m.userIndex[client.UserID][client.ID] = true

	m.logger.Debug("client registered", zap.String("client_id", client.ID), zap.String("user_id", client.UserID))
}

func (m *Manager) unregisterClient(client *Client) {
	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()

	if _, ok := m.clients[client.ID]; !ok {
		return
	}

	delete(m.clients, client.ID)
	delete(m.userIndex[client.UserID], client.ID)
	if len(m.userIndex[client.UserID]) == 0 {
		delete(m.userIndex, client.UserID)
	}
	for collection := range client.subscriptions {
		m.removeSubscriberLocked(collection, client.ID)
	}
	client.subscriptions = nil

	close(client.Send)
	m.reportSubscriptionsLocked()
	m.logger.Debug("client unregistered", zap.String("client_id", client.ID))
}

func (m *Manager) closeAll() {
	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()

	for id, client := range m.clients {
		delete(m.clients, id)
		close(client.Send)
	}
	m.userIndex = make(map[string]map[string]bool)
	m.subscribers = make(map[string]map[string]*Client)
	m.reportSubscriptionsLocked()
}

func (m *Manager) processMessage(clientMsg *ClientMessage) {
	var msg Message
	if err := json.Unmarshal(clientMsg.Message, &msg); err != nil {
		m.logger.Debug("discarding malformed message", zap.String("client_id", clientMsg.Client.ID), zap.Error(err))
		return
	}

	if m.messageHandler != nil {
		if err := m.messageHandler.HandleWebSocketMessage(clientMsg.Client, &msg); err != nil {
			m.logger.Warn("error handling message", zap.String("type", string(msg.Type)), zap.Error(err))
		}
	}
}

// Subscribe records that client wants snapshots of collection.
func (m *Manager) Subscribe(client *Client, collection string) error {
	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()

	if _, ok := m.clients[client.ID]; !ok {
		return nil
	}
	if client.subscriptions[collection] {
		return nil
	}
	if len(client.subscriptions) >= m.config.MaxSubsPerClient {
		return ErrTooManySubscriptions
	}

	if client.subscriptions == nil {
		client.subscriptions = make(map[string]bool)
	}
	client.subscriptions[collection] = true
	if m.subscribers[collection] == nil {
		m.subscribers[collection] = make(map[string]*Client)
	}
	m.subscribers[collection][client.ID] = client
	m.reportSubscriptionsLocked()
	return nil
}

func (m *Manager) Unsubscribe(client *Client, collection string) {
	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()

	if !client.subscriptions[collection] {
		return
	}
	delete(client.subscriptions, collection)
	m.removeSubscriberLocked(collection, client.ID)
	m.reportSubscriptionsLocked()
}

func (m *Manager) removeSubscriberLocked(collection, clientID string) {
	subs := m.subscribers[collection]
	delete(subs, clientID)
	if len(subs) == 0 {
		delete(m.subscribers, collection)
	}
}

func (m *Manager) reportSubscriptionsLocked() {
	n := 0
	for _, subs := range m.subscribers {
		n += len(subs)
	}
	m.rec.SetLiveSubscriptions(n)
}

// Publish sends a fresh snapshot of collection to every subscriber. load is
// skipped when nobody is watching.
func (m *Manager) Publish(collection string, load Loader) error {
	return m.snapshot(collection, load, nil)
}

// SendSnapshot sends the current snapshot of collection to a single
// subscriber, typically right after it subscribes.
func (m *Manager) SendSnapshot(client *Client, collection string, load Loader) error {
	return m.snapshot(collection, load, client)
}

func (m *Manager) snapshot(collection string, load Loader, only *Client) error {
	t := m.topic(collection)
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(m.recipients(collection, only)) == 0 {
		return nil
	}

	docs, err := load()
	if err != nil {
		return err
	}
	if docs == nil {
		docs = []DocumentPayload{}
	}

	t.seq++
	msg, err := NewMessage(TypeSnapshot, SnapshotPayload{Collection: collection, Seq: t.seq, Docs: docs})
	if err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()
	for _, client := range m.recipientsLocked(collection, only) {
		m.sendLocked(client, data)
	}
	return nil
}

func (m *Manager) topic(collection string) *topic {
	m.topicsMu.Lock()
	defer m.topicsMu.Unlock()

	t, ok := m.topics[collection]
	if !ok {
		t = &topic{}
		m.topics[collection] = t
	}
	return t
}

func (m *Manager) recipients(collection string, only *Client) []*Client {
	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()
	return m.recipientsLocked(collection, only)
}

func (m *Manager) recipientsLocked(collection string, only *Client) []*Client {
	subs := m.subscribers[collection]
	if only != nil {
		if c, ok := subs[only.ID]; ok {
			return []*Client{c}
		}
		return nil
	}
	out := make([]*Client, 0, len(subs))
	for _, c := range subs {
		out = append(out, c)
	}
	return out
}

// SendToClient delivers message to a registered client. Unknown clients are
// ignored.
func (m *Manager) SendToClient(client *Client, message *Message) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}

	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()
	if _, ok := m.clients[client.ID]; ok {
		m.sendLocked(client, data)
	}
	return nil
}

// sendLocked must be called with clientsMutex held so Send cannot be closed
// underneath it. A full buffer drops the connection; ReadPump then
// unregisters the client.
func (m *Manager) sendLocked(client *Client, data []byte) {
	select {
	case client.Send <- data:
	default:
		m.logger.Warn("client send buffer full, closing connection", zap.String("client_id", client.ID))
		client.closeConn()
	}
}

func (m *Manager) GetUserConnections(userID string) int {
	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()
	return len(m.userIndex[userID])
}

func (m *Manager) Subscribers(collection string) int {
	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()
	return len(m.subscribers[collection])
}
