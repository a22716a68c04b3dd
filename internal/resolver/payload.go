package resolver

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/MKhiriev/go-offline-sync/models"
)

// conflictPayload is the body a remote sends with a 409. Every field is
// optional.
type conflictPayload struct {
	Type           string         `json:"type"`
	EntityID       string         `json:"entity_id"`
	ServerData     map[string]any `json:"server_data"`
	LocalData      map[string]any `json:"local_data"`
	BaseData       map[string]any `json:"base_data"`
	ConflictFields []string       `json:"conflict_fields"`
}

// ParseConflict builds ConflictData from a 409 body. Missing or malformed
// parts degrade: the local version falls back to the operation payload, the
// server version to an empty object.
func ParseConflict(op models.SyncOperation, body []byte, now time.Time) models.ConflictData {
	var p conflictPayload
	if len(body) > 0 {
		// a body that is not an object leaves p empty
		_ = json.Unmarshal(body, &p)
	}

	c := models.ConflictData{
		Type:           p.Type,
		EntityID:       p.EntityID,
		LocalVersion:   p.LocalData,
		ServerVersion:  p.ServerData,
		BaseVersion:    p.BaseData,
		Timestamp:      now,
		ConflictFields: p.ConflictFields,
	}

	if c.Type == "" {
		c.Type = op.Type
	}
	if c.LocalVersion == nil {
		var local map[string]any
		if len(op.Data) > 0 && json.Unmarshal(op.Data, &local) == nil {
			c.LocalVersion = local
		}
	}
	if c.LocalVersion == nil {
		c.LocalVersion = map[string]any{}
	}
	if c.ServerVersion == nil {
		c.ServerVersion = map[string]any{}
	}
	if c.EntityID == "" {
		c.EntityID = entityID(c.LocalVersion, op.Endpoint)
	}
	if len(c.ConflictFields) == 0 {
		for _, fc := range fieldConflicts(c.LocalVersion, c.ServerVersion, sideServer) {
			c.ConflictFields = append(c.ConflictFields, fc.Field)
		}
	}
	slices.Sort(c.ConflictFields)

	return c
}

func entityID(local map[string]any, fallback string) string {
	for _, k := range []string{"id", "entity_id", "record_id"} {
		if v, ok := local[k].(string); ok && v != "" {
			return v
		}
	}
	return fallback
}
