package conversation

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// NodeID identifies a message node. IDs are client-generated so that a
// response message id is known before the backend ever sees the request.
type NodeID uuid.UUID

func (id NodeID) MarshalJSON() ([]byte, error) {
	return json.Marshal(uuid.UUID(id))
}

func (id *NodeID) UnmarshalJSON(data []byte) error {
	var u uuid.UUID
	if err := json.Unmarshal(data, &u); err != nil {
		return err
	}
	*id = NodeID(u)
	return nil
}

// MarshalText makes NodeID usable as a JSON map key in the serialized arena.
func (id NodeID) MarshalText() ([]byte, error) {
	return []byte(uuid.UUID(id).String()), nil
}

func (id *NodeID) UnmarshalText(data []byte) error {
	u, err := uuid.ParseBytes(data)
	if err != nil {
		return err
	}
	*id = NodeID(u)
	return nil
}

func (id NodeID) String() string {
	return uuid.UUID(id).String()
}

func NewNodeID() NodeID {
	return NodeID(uuid.New())
}

var NullNode = NodeID(uuid.Nil)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// FileStatus tracks an attachment through its upload.
type FileStatus string

const (
	FileStatusUploading FileStatus = "uploading"
	FileStatusUploaded  FileStatus = "uploaded"
)

type FileAttachment struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	URL       string     `json:"url,omitempty"`
	MediaType string     `json:"mediaType,omitempty"`
	Status    FileStatus `json:"status"`
}

func (f FileAttachment) IsImage() bool {
	return len(f.MediaType) > 6 && f.MediaType[:6] == "image/"
}

// Source is a citation attached to a streamed response.
type Source struct {
	ID      string `json:"id,omitempty"`
	Title   string `json:"title,omitempty"`
	URL     string `json:"url,omitempty"`
	Snippet string `json:"snippet,omitempty"`
}

// CodeExecution records a backend code run surfaced alongside a response.
// Later events for the same ID replace the earlier record wholesale.
type CodeExecution struct {
	ID     string `json:"id"`
	Code   string `json:"code,omitempty"`
	Output string `json:"output,omitempty"`
	Status string `json:"status,omitempty"`
}

// StatusUpdate is one entry in a message's append-only status history.
type StatusUpdate struct {
	Action      string `json:"action,omitempty"`
	Description string `json:"description,omitempty"`
	Done        bool   `json:"done"`
}

// Message is a single node in the conversation tree. Edges are ids, never
// pointers: ParentID points up, ChildrenIDs (insertion-ordered) point down.
// Content is a buffer that grows while the response streams.
type Message struct {
	ID          NodeID   `json:"id"`
	ParentID    NodeID   `json:"parentID"`
	ChildrenIDs []NodeID `json:"childrenIDs,omitempty"`

	Role    Role   `json:"role"`
	Content string `json:"content"`
	Done    bool   `json:"done"`

	// Assistant-only. ModelIdx disambiguates fan-out siblings and fixes
	// display order.
	Model     string `json:"model,omitempty"`
	ModelName string `json:"modelName,omitempty"`
	ModelIdx  int    `json:"modelIdx,omitempty"`

	Files           []FileAttachment       `json:"files,omitempty"`
	Sources         []Source               `json:"sources,omitempty"`
	CodeExecutions  []CodeExecution        `json:"codeExecutions,omitempty"`
	StatusHistory   []StatusUpdate         `json:"statusHistory,omitempty"`
	Usage           map[string]interface{} `json:"usage,omitempty"`
	FollowUps       []string               `json:"followUps,omitempty"`
	SelectedModelID string                 `json:"selectedModelID,omitempty"`

	// OriginalContent holds the pre-rewrite text when the post-processing
	// service returns a rewritten completion. Never silently discarded.
	OriginalContent string `json:"originalContent,omitempty"`

	Time       time.Time `json:"time"`
	LastUpdate time.Time `json:"lastUpdate"`
}

type MessageOption func(*Message)

func WithID(id NodeID) MessageOption {
	return func(m *Message) {
		m.ID = id
	}
}

func WithParentID(parentID NodeID) MessageOption {
	return func(m *Message) {
		m.ParentID = parentID
	}
}

func WithTime(t time.Time) MessageOption {
	return func(m *Message) {
		m.Time = t
		m.LastUpdate = t
	}
}

func WithFiles(files []FileAttachment) MessageOption {
	return func(m *Message) {
		m.Files = files
	}
}

func WithModel(model string, modelName string, modelIdx int) MessageOption {
	return func(m *Message) {
		m.Model = model
		m.ModelName = modelName
		m.ModelIdx = modelIdx
	}
}

func newMessage(role Role, content string, options ...MessageOption) *Message {
	ret := &Message{
		ID:         NewNodeID(),
		ParentID:   NullNode,
		Role:       role,
		Content:    content,
		Time:       time.Now(),
		LastUpdate: time.Now(),
	}

	for _, option := range options {
		option(ret)
	}

	return ret
}

// NewUserMessage creates a user turn node. User messages are done on arrival.
func NewUserMessage(content string, options ...MessageOption) *Message {
	msg := newMessage(RoleUser, content, options...)
	msg.Done = true
	return msg
}

// NewAssistantMessage creates a response placeholder. It starts empty and
// not done; content streams in afterwards.
func NewAssistantMessage(options ...MessageOption) *Message {
	return newMessage(RoleAssistant, "", options...)
}
