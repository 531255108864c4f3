package conversation

import (
	"encoding/json"
	"os"
	"time"

	clone "github.com/huandu/go-clone"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// History is the branching conversation structure: a flat arena of message
// nodes keyed by id, plus the tip of the active path.
//
// Relationships are stored as ids in each node (ParentID / ChildrenIDs),
// never as owning pointers. Deleting a node is an O(1) arena remove plus a
// detach from the parent's child list; descendants stay addressable but
// unreachable. CurrentID is the tip of the active path: walking parent links
// from it reaches the root. Branch switching reassigns CurrentID only.
//
// All operations are synchronous and perform no I/O. Operations on an id
// that is not in the arena are no-ops: concurrent completion streams may
// emit late events for an already rolled-back message, and those must not
// resurrect it.
type History struct {
	Nodes     map[NodeID]*Message `json:"nodes"`
	RootID    NodeID              `json:"rootID"`
	CurrentID NodeID              `json:"currentID"`
}

func NewHistory() *History {
	return &History{
		Nodes: make(map[NodeID]*Message),
	}
}

// Conversation is a linear sequence of messages, root first.
type Conversation []*Message

// Clone deep-copies the sequence. Paths handed to collaborators outside the
// session lock must not alias live arena nodes.
func (c Conversation) Clone() Conversation {
	if c == nil {
		return nil
	}
	return clone.Clone(c).(Conversation)
}

// CreateMessage inserts msg under parentID and returns its id. If parentID
// is NullNode or unknown the message becomes a root. The parent's child list
// records insertion order.
func (h *History) CreateMessage(parentID NodeID, msg *Message) NodeID {
	msg.ParentID = NullNode
	if parent, ok := h.Nodes[parentID]; ok {
		msg.ParentID = parentID
		parent.ChildrenIDs = append(parent.ChildrenIDs, msg.ID)
	}
	h.Nodes[msg.ID] = msg
	if h.RootID == NullNode {
		h.RootID = msg.ID
	}

	log.Trace().
		Str("message_id", msg.ID.String()).
		Str("parent_id", msg.ParentID.String()).
		Str("role", string(msg.Role)).
		Int("node_count", len(h.Nodes)).
		Msg("message created")

	return msg.ID
}

// AppendContent grows the message buffer by delta.
func (h *History) AppendContent(id NodeID, delta string) {
	msg, ok := h.Nodes[id]
	if !ok {
		return
	}
	msg.Content += delta
	msg.LastUpdate = time.Now()
}

// ReplaceContent swaps the whole message buffer.
func (h *History) ReplaceContent(id NodeID, full string) {
	msg, ok := h.Nodes[id]
	if !ok {
		return
	}
	msg.Content = full
	msg.LastUpdate = time.Now()
}

// MarkDone transitions the message to its terminal state.
func (h *History) MarkDone(id NodeID) {
	msg, ok := h.Nodes[id]
	if !ok {
		return
	}
	msg.Done = true
	msg.LastUpdate = time.Now()
}

// DeleteMessage removes the node from the arena and detaches it from its
// parent's child list. Descendants are not deleted; they become unreachable
// orphans but stay addressable, so late events for them still no-op safely.
func (h *History) DeleteMessage(id NodeID) {
	msg, ok := h.Nodes[id]
	if !ok {
		return
	}
	if parent, ok := h.Nodes[msg.ParentID]; ok {
		children := make([]NodeID, 0, len(parent.ChildrenIDs))
		for _, childID := range parent.ChildrenIDs {
			if childID != id {
				children = append(children, childID)
			}
		}
		parent.ChildrenIDs = children
	}
	delete(h.Nodes, id)
	if h.RootID == id {
		h.RootID = NullNode
	}

	log.Trace().
		Str("message_id", id.String()).
		Int("node_count", len(h.Nodes)).
		Msg("message deleted")
}

// SetCurrentID reassigns the active path tip. Unknown ids are ignored;
// NullNode clears the tip.
func (h *History) SetCurrentID(id NodeID) {
	if id != NullNode {
		if _, ok := h.Nodes[id]; !ok {
			return
		}
	}
	h.CurrentID = id
}

// GetMessage looks up a node by id.
func (h *History) GetMessage(id NodeID) (*Message, bool) {
	msg, ok := h.Nodes[id]
	return msg, ok
}

// ActiveTip returns the message CurrentID points at, if any.
func (h *History) ActiveTip() (*Message, bool) {
	return h.GetMessage(h.CurrentID)
}

// MaterializePath returns the root→id linear sequence, used as backend
// context for completion requests.
func (h *History) MaterializePath(id NodeID) Conversation {
	var path Conversation
	for id != NullNode {
		node, ok := h.Nodes[id]
		if !ok {
			break
		}
		path = append(Conversation{node}, path...)
		id = node.ParentID
	}
	return path
}

// ActivePath is the root→CurrentID sequence.
func (h *History) ActivePath() Conversation {
	return h.MaterializePath(h.CurrentID)
}

// FindChildren returns the ids of all children of id, in insertion order.
func (h *History) FindChildren(id NodeID) []NodeID {
	node, ok := h.Nodes[id]
	if !ok {
		return nil
	}
	return append([]NodeID{}, node.ChildrenIDs...)
}

// FindSiblings returns the ids of all nodes sharing id's parent, excluding
// id itself.
func (h *History) FindSiblings(id NodeID) []NodeID {
	node, ok := h.Nodes[id]
	if !ok {
		return nil
	}
	parent, ok := h.Nodes[node.ParentID]
	if !ok {
		return nil
	}
	var siblings []NodeID
	for _, childID := range parent.ChildrenIDs {
		if childID != id {
			siblings = append(siblings, childID)
		}
	}
	return siblings
}

// AppendStatus appends to the message's status history. The history is
// append-only and monotonic.
func (h *History) AppendStatus(id NodeID, status StatusUpdate) {
	msg, ok := h.Nodes[id]
	if !ok {
		return
	}
	msg.StatusHistory = append(msg.StatusHistory, status)
	msg.LastUpdate = time.Now()
}

// AttachSources attaches citation sources on first arrival only, making
// duplicate delivery idempotent.
func (h *History) AttachSources(id NodeID, sources []Source) {
	msg, ok := h.Nodes[id]
	if !ok || len(sources) == 0 || len(msg.Sources) > 0 {
		return
	}
	msg.Sources = append(msg.Sources, sources...)
	msg.LastUpdate = time.Now()
}

// AppendSource appends a single citation source.
func (h *History) AppendSource(id NodeID, source Source) {
	msg, ok := h.Nodes[id]
	if !ok {
		return
	}
	msg.Sources = append(msg.Sources, source)
	msg.LastUpdate = time.Now()
}

// UpsertCodeExecution replaces the execution record with the same id, or
// appends it when unseen.
func (h *History) UpsertCodeExecution(id NodeID, exec CodeExecution) {
	msg, ok := h.Nodes[id]
	if !ok {
		return
	}
	for i, existing := range msg.CodeExecutions {
		if existing.ID == exec.ID {
			msg.CodeExecutions[i] = exec
			msg.LastUpdate = time.Now()
			return
		}
	}
	msg.CodeExecutions = append(msg.CodeExecutions, exec)
	msg.LastUpdate = time.Now()
}

// SetSelectedModelID marks the message as arena output, recording which
// candidate backend model actually produced it.
func (h *History) SetSelectedModelID(id NodeID, modelID string) {
	msg, ok := h.Nodes[id]
	if !ok {
		return
	}
	msg.SelectedModelID = modelID
}

// SetUsage stores the backend usage block verbatim. Opaque to this core.
func (h *History) SetUsage(id NodeID, usage map[string]interface{}) {
	msg, ok := h.Nodes[id]
	if !ok {
		return
	}
	msg.Usage = usage
}

// SetFollowUps replaces the follow-up suggestions wholesale.
func (h *History) SetFollowUps(id NodeID, followUps []string) {
	msg, ok := h.Nodes[id]
	if !ok {
		return
	}
	msg.FollowUps = followUps
}

// MergeRewrittenContent applies a backend-rewritten completion, keeping the
// pre-rewrite text in OriginalContent.
func (h *History) MergeRewrittenContent(id NodeID, content string) {
	msg, ok := h.Nodes[id]
	if !ok || msg.Content == content {
		return
	}
	msg.OriginalContent = msg.Content
	msg.Content = content
	msg.LastUpdate = time.Now()
}

// Clone returns a deep copy, used for snapshots handed to the persistence
// gateway so later in-memory mutation cannot race the write.
func (h *History) Clone() *History {
	return clone.Clone(h).(*History)
}

// Validate checks structural invariants: every non-root parent exists, each
// parent's child list exactly matches the set of nodes pointing at it, a
// non-done message has no children, and parent links are acyclic.
func (h *History) Validate() error {
	childrenByParent := map[NodeID]map[NodeID]bool{}
	for id, msg := range h.Nodes {
		if msg.ParentID == NullNode {
			continue
		}
		parent, ok := h.Nodes[msg.ParentID]
		if !ok {
			return errors.Errorf("message %s has unknown parent %s", id, msg.ParentID)
		}
		if !parent.Done && parent.Role == RoleAssistant {
			return errors.Errorf("message %s attached to non-done parent %s", id, msg.ParentID)
		}
		if childrenByParent[msg.ParentID] == nil {
			childrenByParent[msg.ParentID] = map[NodeID]bool{}
		}
		childrenByParent[msg.ParentID][id] = true
	}

	for id, msg := range h.Nodes {
		listed := map[NodeID]bool{}
		for _, childID := range msg.ChildrenIDs {
			if _, ok := h.Nodes[childID]; !ok {
				return errors.Errorf("message %s lists unknown child %s", id, childID)
			}
			listed[childID] = true
		}
		actual := childrenByParent[id]
		if len(listed) != len(actual) {
			return errors.Errorf("message %s child list does not match parent links", id)
		}
		for childID := range actual {
			if !listed[childID] {
				return errors.Errorf("message %s missing child %s in child list", id, childID)
			}
		}
	}

	for id := range h.Nodes {
		seen := map[NodeID]bool{}
		for cur := id; cur != NullNode; {
			if seen[cur] {
				return errors.Errorf("cycle through message %s", cur)
			}
			seen[cur] = true
			node, ok := h.Nodes[cur]
			if !ok {
				break
			}
			cur = node.ParentID
		}
	}

	return nil
}

func (h *History) SaveToFile(filename string) error {
	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0644)
}

func (h *History) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, h)
}
