package workspace

// Collect physically removes tombstoned records whose deletion is old
// enough and already known everywhere: the record's modified-at must
// predate the grace cutoff, and the tombstoning write must be covered
// by minPeer, the pointwise minimum state vector across known peers
// (supplied by the engine, which is the layer that sees peer vectors).
//
// Returns the removed paths. Records a peer might still need for
// idempotent-delete convergence are left alone.
func (c *CRDT) Collect(cutoffMillis int64, minPeer map[string]uint64) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var removed []string
	for _, path := range c.records.Keys() {
		r, ok := c.records.Get(path)
		if !ok {
			continue
		}
		if !r.tombstoned.Set || !r.tombstoned.Value {
			continue
		}
		if r.modifiedAt.Set && r.modifiedAt.Value >= cutoffMillis {
			continue
		}
		by := r.tombstoned.By
		if minPeer[by.ClientID] < by.Clock {
			continue
		}
		c.records.Delete(path)
		removed = append(removed, path)
	}
	return removed
}
