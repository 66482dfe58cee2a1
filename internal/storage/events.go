package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/annel0/mmo-claims/internal/claim"
	"github.com/annel0/mmo-claims/internal/eventbus"
	"github.com/annel0/mmo-claims/internal/logging"
)

// Типы событий жизненного цикла заявок, публикуемых на шину
const (
	EventClaimCreated     = "ClaimCreated"
	EventClaimDeleted     = "ClaimDeleted"
	EventClaimResized     = "ClaimResized"
	EventClaimTransferred = "ClaimTransferred"
)

// ClaimEventPayload — полезная нагрузка событий заявок (JSON)
type ClaimEventPayload struct {
	ClaimID     int64  `json:"claim_id"`
	WorldID     string `json:"world_id"`
	OwnerID     string `json:"owner_id,omitempty"`
	ParentID    int64  `json:"parent_id"`
	Area        int    `json:"area,omitempty"`
	NewOwnerID  string `json:"new_owner_id,omitempty"`
	Cascade     bool   `json:"cascade,omitempty"`
	ChildrenCut int    `json:"children_cut,omitempty"`
}

// publishClaimEvent отправляет событие на шину. Сбой публикации
// логируется и не откатывает уже применённую мутацию.
func (ds *DataStore) publishClaimEvent(ctx context.Context, eventType string, c *claim.Claim, mutate func(*ClaimEventPayload)) {
	if ds.opts.Bus == nil {
		return
	}

	payload := ClaimEventPayload{
		ClaimID:  c.ID,
		WorldID:  c.WorldID,
		OwnerID:  c.OwnerID(),
		ParentID: TopLevelParentID,
		Area:     c.Area(),
	}
	if p := c.Parent(); p != nil {
		payload.ParentID = p.ID
	}
	if mutate != nil {
		mutate(&payload)
	}

	data, err := json.Marshal(&payload)
	if err != nil {
		logging.Error("Сериализация события %s для заявки #%d: %v", eventType, c.ID, err)
		return
	}

	ev := &eventbus.Envelope{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Source:    "claims-datastore",
		EventType: eventType,
		Version:   1,
		Payload:   data,
	}
	if err := ds.opts.Bus.Publish(ctx, ev); err != nil {
		logging.Warn("⚠️  Публикация события %s не удалась: %v", eventType, err)
	}
}
