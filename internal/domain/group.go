package domain

import "fmt"

// Namespace separates broadcast-only groups from answer-arbitrated groups.
// Groups in different namespaces never share state, even for identical keys.
type Namespace string

const (
	NamespaceBroadcast  Namespace = "broadcast"
	NamespaceArbitrated Namespace = "arbitrated"
)

// Namespaces lists every namespace in tick order.
var Namespaces = []Namespace{NamespaceBroadcast, NamespaceArbitrated}

// GroupRef identifies a group.
type GroupRef struct {
	Namespace Namespace
	Key       string
}

func (r GroupRef) String() string {
	return fmt.Sprintf("%s:%s", r.Namespace, r.Key)
}

// GroupSnapshot is a point-in-time copy of a group's state.
type GroupSnapshot struct {
	Ref            GroupRef
	MasterID       string
	SlaveIDs       []string
	MasterQueueLen int
	SlaveQueueLen  int
	OutstandingIDs []string
}

// HasMaster reports whether the group currently has a master.
func (s GroupSnapshot) HasMaster() bool {
	return s.MasterID != ""
}
