package service

import (
	"github.com/telio-letalle/Pronote-sub002/internal/models"
)

// Action is a conversation-scoped permission check.
type Action string

const (
	ActionSendMessage        Action = "send_message"
	ActionManageParticipants Action = "manage_participants"
	ActionPromoteModerator   Action = "promote_moderator"
	// ActionManageAdmins covers demoting an admin or removing another admin.
	ActionManageAdmins      Action = "manage_admins"
	ActionArchive           Action = "archive"
	ActionDelete            Action = "delete"
	ActionDeletePermanently Action = "delete_permanently"
)

// Authorizer decides conversation-scoped permissions from already-loaded
// facts. It never touches storage; callers load the conversation and the
// caller's participant row first.
type Authorizer struct{}

func NewAuthorizer() *Authorizer {
	return &Authorizer{}
}

// Can reports whether p may perform action. part must be p's own participant
// row in conv; a nil row means p is not a participant and denies everything.
func (a *Authorizer) Can(p models.Principal, action Action, conv *models.Conversation, part *models.Participant) bool {
	if conv == nil || part == nil {
		return false
	}
	if !part.Principal().Is(p) || part.ConversationID != conv.ID {
		return false
	}

	switch action {
	case ActionSendMessage:
		if part.Removed() {
			return false
		}
		// Announcements are read-only for recipients unless reply rights
		// were granted.
		if conv.Kind == models.KindAnnouncement {
			return conv.Creator().Is(p) || part.IsAdmin || part.CanReply
		}
		return true

	case ActionManageParticipants, ActionPromoteModerator:
		return !part.Removed() && (part.IsAdmin || part.IsModerator)

	case ActionManageAdmins:
		return conv.Creator().Is(p)

	case ActionArchive, ActionDelete:
		// Folder operations are local to the caller and require only
		// standing participation; the folder state machine constrains
		// which transitions are legal.
		return !part.Removed()

	case ActionDeletePermanently:
		// Only reachable from the trash.
		return part.Folder == models.FolderTrashed
	}

	return false
}
