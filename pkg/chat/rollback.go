package chat

import (
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/marionette/pkg/conversation"
)

// rollbackLocked removes a failed response node and restores its parent to
// an actionable state. One code path, four trigger sites: transport error,
// in-band error field, server cancel event and local timeout — so the tree
// can never hold an unreachable "stuck generating" leaf.
//
// Caller holds s.mu. Lifecycle finalization stays with the trigger site,
// since each site reports a different terminal status and the tracker makes
// repeated finalization a no-op anyway.
func (s *SessionContext) rollbackLocked(id conversation.NodeID) {
	msg, ok := s.history.GetMessage(id)
	if !ok {
		return
	}
	parentID := msg.ParentID

	s.history.DeleteMessage(id)
	if s.history.CurrentID == id {
		s.history.SetCurrentID(parentID)
	}
	// The parent becomes the actionable tip again; marking it done
	// re-enables the compose box no matter how the response failed.
	s.history.MarkDone(parentID)

	log.Debug().
		Str("message_id", id.String()).
		Str("parent_id", parentID.String()).
		Msg("response rolled back")
}
