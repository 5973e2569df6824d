package connection

// Manager manages connections to relay servers.
type Manager struct {
	current *Connection
}

// Connection represents a connection to a relay server.
type Connection struct {
	Name   string
	Server string
	Token  string
	TLS    bool
}

// NewManager creates a new connection manager.
func NewManager() *Manager {
	return &Manager{}
}

// Connect sets conn as the current connection.
func (m *Manager) Connect(conn *Connection) error {
	m.current = conn
	return nil
}

// Disconnect closes the current connection.
func (m *Manager) Disconnect() {
	m.current = nil
}

// Current returns the current connection.
func (m *Manager) Current() *Connection {
	return m.current
}

// IsConnected returns true if connected to a server.
func (m *Manager) IsConnected() bool {
	return m.current != nil
}
