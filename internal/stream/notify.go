package stream

import "fmt"

// ChangeKind tells what happened to an object.
type ChangeKind uint8

const (
	ChangeAdd ChangeKind = iota
	ChangeModify
	ChangeDelete
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeAdd:
		return "add"
	case ChangeModify:
		return "modify"
	case ChangeDelete:
		return "delete"
	}
	return fmt.Sprintf("change(%d)", uint8(k))
}

func (k ChangeKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Object names the registry a notification refers to.
type Object string

const (
	ObjectStream     Object = "stream"
	ObjectCollection Object = "collection"
)

// Notification reports a change to a stream or a collection. Count is the
// value of the object's change counter after the update; it restarts at zero
// on add and is meaningless on delete.
type Notification struct {
	Object Object     `json:"object"`
	ID     uint32     `json:"id"`
	Change ChangeKind `json:"change"`
	Count  uint32     `json:"count"`
}

// NotificationTables is a snapshot of the change counters.
type NotificationTables struct {
	Streams     map[ID]uint32           `json:"streams"`
	Collections map[CollectionID]uint32 `json:"collections"`
}

func (e *Engine) notifyStream(id ID, kind ChangeKind) {
	var cnt uint32
	switch kind {
	case ChangeAdd:
		e.streamNotif[id] = 0
	case ChangeModify:
		cnt = e.streamNotif[id] + 1
		e.streamNotif[id] = cnt
	default:
		delete(e.streamNotif, id)
	}
	e.logger.Info("stream notification", "stream_id", id, "change", kind, "count", cnt)
	e.pending = append(e.pending, Notification{Object: ObjectStream, ID: uint32(id), Change: kind, Count: cnt})
}

func (e *Engine) notifyCollection(cid CollectionID, kind ChangeKind) {
	var cnt uint32
	switch kind {
	case ChangeAdd:
		e.collectionNotif[cid] = 0
	case ChangeModify:
		cnt = e.collectionNotif[cid] + 1
		e.collectionNotif[cid] = cnt
	default:
		delete(e.collectionNotif, cid)
	}
	e.logger.Info("collection notification", "collection_id", cid, "change", kind, "count", cnt)
	e.pending = append(e.pending, Notification{Object: ObjectCollection, ID: uint32(cid), Change: kind, Count: cnt})
}

// Notifications returns a copy of the change counter tables.
func (e *Engine) Notifications() NotificationTables {
	unlock := e.lock()
	defer unlock()

	t := NotificationTables{
		Streams:     make(map[ID]uint32, len(e.streamNotif)),
		Collections: make(map[CollectionID]uint32, len(e.collectionNotif)),
	}
	for k, v := range e.streamNotif {
		t.Streams[k] = v
	}
	for k, v := range e.collectionNotif {
		t.Collections[k] = v
	}
	return t
}
