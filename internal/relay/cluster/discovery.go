// Package cluster provides relay peer discovery using the Gossip
// protocol. Discovery is the whole story: relays learn each other's
// client-facing URLs so a client can be redirected to the relay
// hosting its workspace. There is no replication, no leader, and no
// consensus — the CRDT layer makes per-workspace relays authoritative
// on their own.
package cluster

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/memberlist"
)

// Discovery handles relay discovery and membership using Gossip.
type Discovery struct {
	config     *memberlist.Config
	memberList *memberlist.Memberlist
	logger     *slog.Logger
	shutdown   atomic.Bool // Track if already shut down

	// Cluster identification
	clusterID string

	// peerURLs maps node id to its advertised client-facing URL.
	mu       sync.RWMutex
	peerURLs map[string]string

	// Callbacks
	onJoin  func(nodeID, advertiseURL string)
	onLeave func(nodeID string)
}

// DiscoveryConfig configures the discovery mechanism.
type DiscoveryConfig struct {
	// NodeID is the unique relay identifier.
	NodeID string

	// ClusterID prevents relays of unrelated deployments from merging
	// into one gossip pool.
	ClusterID string

	// BindAddr is the address to bind for gossip communication.
	BindAddr string

	// BindPort is the port to bind for gossip communication.
	BindPort int

	// AdvertiseURL is this relay's client-facing base URL, shared with
	// other relays via node metadata.
	AdvertiseURL string

	// SeedNodes are the initial relays to join.
	SeedNodes []string

	// Logger for logging.
	Logger *slog.Logger
}

// NewDiscovery creates a new discovery instance.
func NewDiscovery(cfg DiscoveryConfig) (*Discovery, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	mlConfig := memberlist.DefaultLANConfig()
	mlConfig.Name = cfg.NodeID
	mlConfig.BindAddr = cfg.BindAddr
	mlConfig.BindPort = cfg.BindPort

	// Share the advertise URL and cluster id with other relays.
	mlConfig.Delegate = &metadataDelegate{
		metadata: nodeMetadata{
			AdvertiseURL: cfg.AdvertiseURL,
			ClusterID:    cfg.ClusterID,
		},
	}

	// Route memberlist's own logging through ours via an hclog bridge
	// (memberlist wants a *log.Logger; hclog infers levels from the
	// message prefixes memberlist emits).
	hcl := hclog.New(&hclog.LoggerOptions{
		Name:   "memberlist",
		Output: &slogWriter{logger: cfg.Logger},
		Level:  hclog.Info,
	})
	mlConfig.Logger = hcl.StandardLogger(&hclog.StandardLoggerOptions{InferLevels: true})

	d := &Discovery{
		config:    mlConfig,
		logger:    cfg.Logger,
		clusterID: cfg.ClusterID,
		peerURLs:  make(map[string]string),
	}
	mlConfig.Events = &eventDelegate{discovery: d}

	ml, err := memberlist.Create(mlConfig)
	if err != nil {
		return nil, fmt.Errorf("create memberlist: %w", err)
	}
	d.memberList = ml

	if len(cfg.SeedNodes) > 0 {
		n, err := ml.Join(cfg.SeedNodes)
		if err != nil {
			ml.Shutdown()
			return nil, fmt.Errorf("join seed nodes: %w", err)
		}
		cfg.Logger.Info("joined relay cluster",
			"node_id", cfg.NodeID,
			"seed_nodes", cfg.SeedNodes,
			"joined_count", n)
	} else {
		cfg.Logger.Info("started discovery (bootstrap mode)",
			"node_id", cfg.NodeID)
	}

	return d, nil
}

// Members returns the current membership.
func (d *Discovery) Members() []*memberlist.Node {
	if d.memberList == nil {
		return nil
	}
	return d.memberList.Members()
}

// PeerURL returns the advertised client-facing URL for a relay, if
// known.
func (d *Discovery) PeerURL(nodeID string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	url, ok := d.peerURLs[nodeID]
	return url, ok
}

// PeerURLs returns a copy of the node-id → URL map.
func (d *Discovery) PeerURLs() map[string]string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]string, len(d.peerURLs))
	for k, v := range d.peerURLs {
		out[k] = v
	}
	return out
}

// Leave gracefully leaves the cluster.
func (d *Discovery) Leave() error {
	if d.memberList == nil {
		return nil
	}
	if err := d.memberList.Leave(0); err != nil {
		d.logger.Error("failed to leave cluster", "error", err)
		return err
	}
	d.logger.Info("left cluster")
	return nil
}

// Shutdown stops the discovery mechanism.
func (d *Discovery) Shutdown() error {
	if !d.shutdown.CompareAndSwap(false, true) {
		return nil
	}
	if d.memberList == nil {
		return nil
	}
	if err := d.memberList.Shutdown(); err != nil {
		return fmt.Errorf("shutdown memberlist: %w", err)
	}
	d.logger.Info("discovery shutdown complete")
	return nil
}

// OnJoin registers a callback for relay join events.
func (d *Discovery) OnJoin(fn func(nodeID, advertiseURL string)) {
	d.onJoin = fn
}

// OnLeave registers a callback for relay leave events.
func (d *Discovery) OnLeave(fn func(nodeID string)) {
	d.onLeave = fn
}

// LocalNode returns the local node information.
func (d *Discovery) LocalNode() *memberlist.Node {
	if d.memberList == nil {
		return nil
	}
	return d.memberList.LocalNode()
}

// eventDelegate implements memberlist.EventDelegate.
type eventDelegate struct {
	discovery *Discovery
}

// NotifyJoin is called when a relay joins.
func (e *eventDelegate) NotifyJoin(node *memberlist.Node) {
	gossipAddr := net.JoinHostPort(node.Addr.String(), fmt.Sprintf("%d", node.Port))

	var metadata nodeMetadata
	if len(node.Meta) > 0 {
		if err := json.Unmarshal(node.Meta, &metadata); err != nil {
			e.discovery.logger.Error("failed to parse node metadata",
				"node_id", node.Name,
				"error", err)
			return
		}
	}

	// Cluster id validation prevents unrelated deployments merging.
	if e.discovery.clusterID != "" && metadata.ClusterID != "" {
		if metadata.ClusterID != e.discovery.clusterID {
			e.discovery.logger.Error("cluster ID mismatch - rejecting node",
				"node_id", node.Name,
				"expected_cluster_id", e.discovery.clusterID,
				"actual_cluster_id", metadata.ClusterID,
				"action", "node_rejected")
			return
		}
	}

	advertiseURL := metadata.AdvertiseURL
	if advertiseURL == "" {
		e.discovery.logger.Warn("node joined without advertise URL, using gossip address",
			"node_id", node.Name,
			"gossip_addr", gossipAddr)
		advertiseURL = "http://" + gossipAddr
	}

	e.discovery.mu.Lock()
	e.discovery.peerURLs[node.Name] = advertiseURL
	e.discovery.mu.Unlock()

	e.discovery.logger.Info("relay joined",
		"node_id", node.Name,
		"cluster_id", metadata.ClusterID,
		"gossip_addr", gossipAddr,
		"advertise_url", advertiseURL)

	if e.discovery.onJoin != nil {
		e.discovery.onJoin(node.Name, advertiseURL)
	}
}

// NotifyLeave is called when a relay leaves.
func (e *eventDelegate) NotifyLeave(node *memberlist.Node) {
	e.discovery.mu.Lock()
	delete(e.discovery.peerURLs, node.Name)
	e.discovery.mu.Unlock()

	e.discovery.logger.Info("relay left",
		"node_id", node.Name,
		"addr", node.Addr.String())

	if e.discovery.onLeave != nil {
		e.discovery.onLeave(node.Name)
	}
}

// NotifyUpdate is called when a relay's metadata changes.
func (e *eventDelegate) NotifyUpdate(node *memberlist.Node) {
	e.discovery.logger.Debug("relay updated",
		"node_id", node.Name,
		"addr", node.Addr.String())
}

// slogWriter adapts slog.Logger to io.Writer for memberlist.
type slogWriter struct {
	logger *slog.Logger
}

// Write implements io.Writer.
func (w *slogWriter) Write(p []byte) (n int, err error) {
	w.logger.Debug(string(p))
	return len(p), nil
}

// nodeMetadata is the metadata gossiped for each relay.
type nodeMetadata struct {
	AdvertiseURL string `json:"advertise_url"`
	ClusterID    string `json:"cluster_id"`
}

// metadataDelegate provides node metadata to memberlist.
type metadataDelegate struct {
	metadata nodeMetadata
}

// NodeMeta returns metadata about this node (up to 512 bytes).
func (m *metadataDelegate) NodeMeta(limit int) []byte {
	data, err := json.Marshal(m.metadata)
	if err != nil {
		return nil
	}
	if len(data) > limit {
		return data[:limit]
	}
	return data
}

// NotifyMsg is called when a user message is received (not used).
func (m *metadataDelegate) NotifyMsg([]byte) {}

// GetBroadcasts is called to get broadcasts to send (not used).
func (m *metadataDelegate) GetBroadcasts(overhead, limit int) [][]byte {
	return nil
}

// LocalState and MergeRemoteState implement the full Delegate
// interface; relay discovery carries no extra state.
func (m *metadataDelegate) LocalState(join bool) []byte { return nil }

// MergeRemoteState is a no-op; see LocalState.
func (m *metadataDelegate) MergeRemoteState(buf []byte, join bool) {}
