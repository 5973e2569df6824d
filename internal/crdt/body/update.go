package body

import "encoding/json"

// UpdateInfo peeks the (client-id, clock) tag out of an encoded update
// without fully decoding it, so the causal log layer can envelope the
// bytes while staying agnostic to the rest of the payload.
func UpdateInfo(update []byte) (clientID string, clock uint64, err error) {
	var peek struct {
		By writer `json:"by"`
	}
	if err := json.Unmarshal(update, &peek); err != nil {
		return "", 0, err
	}
	return peek.By.ClientID, peek.By.Clock, nil
}
