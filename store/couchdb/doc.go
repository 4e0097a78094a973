package couchdb

import (
	"time"

	"github.com/nx-intelligence/xronox/store"
)

// headDocument is the on-the-wire shape of a Head row in CouchDB.
type headDocument struct {
	ID          string                `json:"_id"`
	Rev         string                `json:"_rev"`
	Collection  string                `json:"collection"`
	ItemID      string                `json:"itemId"`
	Ov          int64                 `json:"ov"`
	Cv          int64                 `json:"cv"`
	JSONBucket  string                `json:"jsonBucket"`
	JSONKey     string                `json:"jsonKey"`
	MetaIndexed map[string]any        `json:"metaIndexed"`
	FullShadow  map[string]any        `json:"fullShadow,omitempty"`
	System      store.SystemEnvelope  `json:"_system"`
	CreatedAt   time.Time             `json:"createdAt"`
	UpdatedAt   time.Time             `json:"updatedAt"`
}

func headDoc(collection, id string, h store.HeadRow) map[string]any {
	return map[string]any{
		"_id":         id,
		"collection":  collection,
		"itemId":      h.ID,
		"ov":          h.Ov,
		"cv":          h.Cv,
		"jsonBucket":  h.JSONBucket,
		"jsonKey":     h.JSONKey,
		"metaIndexed": h.MetaIndexed,
		"fullShadow":  h.FullShadow,
		"_system":     h.System,
		"createdAt":   h.CreatedAt,
		"updatedAt":   h.UpdatedAt,
	}
}

func (d headDocument) toHeadRow() store.HeadRow {
	return store.HeadRow{
		Rev:         d.Rev,
		ID:          d.ItemID,
		Collection:  d.Collection,
		Ov:          d.Ov,
		Cv:          d.Cv,
		JSONBucket:  d.JSONBucket,
		JSONKey:     d.JSONKey,
		MetaIndexed: d.MetaIndexed,
		FullShadow:  d.FullShadow,
		System:      d.System,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

// versionDocument is the on-the-wire shape of a Version row in CouchDB.
type versionDocument struct {
	ID          string               `json:"_id"`
	Rev         string               `json:"_rev"`
	Collection  string               `json:"collection"`
	ItemID      string               `json:"itemId"`
	Ov          int64                `json:"ov"`
	Cv          int64                `json:"cv"`
	OpKind      string               `json:"opKind"`
	JSONBucket  string               `json:"jsonBucket"`
	JSONKey     string               `json:"jsonKey"`
	MetaIndexed map[string]any       `json:"metaIndexed"`
	System      store.SystemEnvelope `json:"_system"`
	At          time.Time            `json:"at"`
}

func versionDoc(collection, id string, v store.VersionRow) map[string]any {
	return map[string]any{
		"_id":         id,
		"collection":  collection,
		"itemId":      v.ItemID,
		"ov":          v.Ov,
		"cv":          v.Cv,
		"opKind":      v.OpKind,
		"jsonBucket":  v.JSONBucket,
		"jsonKey":     v.JSONKey,
		"metaIndexed": v.MetaIndexed,
		"_system":     v.System,
		"at":          v.At,
	}
}

func (d versionDocument) toVersionRow() store.VersionRow {
	return store.VersionRow{
		ID:          d.ID,
		ItemID:      d.ItemID,
		Collection:  d.Collection,
		Ov:          d.Ov,
		Cv:          d.Cv,
		OpKind:      d.OpKind,
		JSONBucket:  d.JSONBucket,
		JSONKey:     d.JSONKey,
		MetaIndexed: d.MetaIndexed,
		System:      d.System,
		At:          d.At,
	}
}
