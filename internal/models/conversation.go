package models

import (
	"time"
)

type ConversationKind string

const (
	KindIndividual   ConversationKind = "individual"
	KindGroup        ConversationKind = "group"
	KindAnnouncement ConversationKind = "announcement"
)

func (k ConversationKind) Valid() bool {
	switch k {
	case KindIndividual, KindGroup, KindAnnouncement:
		return true
	}
	return false
}

// AudienceKind records how a conversation's recipients were selected, so
// notification fan-out can re-derive the recipient set when expanding.
type AudienceKind string

const (
	AudienceDirect AudienceKind = "direct"
	AudienceClass  AudienceKind = "class"
	AudienceRole   AudienceKind = "role"
)

type Conversation struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"-"`

	Title       string           `gorm:"size:255;not null" json:"title"`
	Kind        ConversationKind `gorm:"type:varchar(20);not null;default:'individual'" json:"kind"`
	CreatorID   uint             `gorm:"not null;index" json:"creator_id"`
	CreatorRole Role             `gorm:"type:varchar(20);not null" json:"creator_role"`

	// Audience shape, preserved for broadcast fan-out.
	AudienceKind   AudienceKind `gorm:"type:varchar(20);not null;default:'direct'" json:"-"`
	AudienceClass  string       `gorm:"size:100" json:"-"`
	IncludeParents bool         `gorm:"default:false" json:"-"`
	AudienceRoles  string       `gorm:"size:255" json:"-"` // comma-separated Role values

	Participants []Participant `gorm:"foreignKey:ConversationID" json:"participants,omitempty"`
}

func (c *Conversation) Creator() Principal {
	return Principal{ID: c.CreatorID, Role: c.CreatorRole}
}

// Folder is the per-participant location of a conversation. Archiving and
// trashing are local to one participant, never global; permanent removal is
// the deletion of the participant row itself.
type Folder string

const (
	FolderInbox    Folder = "inbox"
	FolderArchived Folder = "archived"
	FolderTrashed  Folder = "trashed"
)

func (f Folder) Valid() bool {
	switch f {
	case FolderInbox, FolderArchived, FolderTrashed:
		return true
	}
	return false
}

// FolderAction is a transition request on a participant's folder state.
type FolderAction string

const (
	ActionArchive           FolderAction = "archive"
	ActionUnarchive         FolderAction = "unarchive"
	ActionDelete            FolderAction = "delete"
	ActionRestore           FolderAction = "restore"
	ActionDeletePermanently FolderAction = "delete_permanently"
	ActionMarkRead          FolderAction = "mark_read"
)

func (a FolderAction) Valid() bool {
	switch a {
	case ActionArchive, ActionUnarchive, ActionDelete, ActionRestore, ActionDeletePermanently, ActionMarkRead:
		return true
	}
	return false
}

// FolderTransition resolves the target folder for an action from the current
// folder. The second return is false when the transition is not legal from
// the current state. delete_permanently never yields a folder; it is only
// legal from trash and removes the row (handled by the caller).
func FolderTransition(current Folder, action FolderAction) (Folder, bool) {
	switch action {
	case ActionArchive:
		if current == FolderInbox {
			return FolderArchived, true
		}
	case ActionUnarchive:
		if current == FolderArchived {
			return FolderInbox, true
		}
	case ActionDelete:
		if current == FolderInbox || current == FolderArchived {
			return FolderTrashed, true
		}
	case ActionRestore:
		if current == FolderTrashed {
			return FolderInbox, true
		}
	}
	return current, false
}

// Participant is a principal's membership row in a conversation. At most one
// row exists per (conversation, user, role).
type Participant struct {
	ID        uint      `gorm:"primarykey" json:"-"`
	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`

	ConversationID uint   `gorm:"not null;uniqueIndex:idx_conv_principal" json:"conversation_id"`
	UserID         uint   `gorm:"not null;uniqueIndex:idx_conv_principal" json:"user_id"`
	UserRole       Role   `gorm:"type:varchar(20);not null;uniqueIndex:idx_conv_principal" json:"user_role"`
	DisplayName    string `gorm:"size:150" json:"display_name"`

	IsAdmin     bool `gorm:"default:false" json:"is_admin"`
	IsModerator bool `gorm:"default:false" json:"is_moderator"`
	// CanReply grants reply rights in announcement conversations.
	CanReply bool `gorm:"default:false" json:"can_reply"`

	Folder      Folder     `gorm:"type:varchar(20);not null;default:'inbox';index" json:"folder"`
	JoinedAt    time.Time  `gorm:"autoCreateTime" json:"joined_at"`
	LastReadAt  *time.Time `json:"last_read_at"`
	UnreadCount int        `gorm:"not null;default:0" json:"unread_count"`
}

func (p *Participant) Principal() Principal {
	return Principal{ID: p.UserID, Role: p.UserRole}
}

// Removed reports whether the participant has trashed the conversation.
// Trashed participants keep their row but lose standing for every
// conversation-scoped action.
func (p *Participant) Removed() bool {
	return p.Folder == FolderTrashed
}

// ConversationListRow is the denormalized folder listing row: conversation
// plus last message summary and the caller's unread counter, ordered by most
// recent activity.
type ConversationListRow struct {
	ConversationID uint             `gorm:"column:conversation_id" json:"conversation_id"`
	Title          string           `gorm:"column:title" json:"title"`
	Kind           ConversationKind `gorm:"column:kind" json:"kind"`
	UnreadCount    int              `gorm:"column:unread_count" json:"unread_count"`
	LastMessageID  uint             `gorm:"column:last_message_id" json:"last_message_id"`
	LastBody       string           `gorm:"column:last_body" json:"last_body"`
	LastSenderName string           `gorm:"column:last_sender_name" json:"last_sender_name"`
	LastActivity   time.Time        `gorm:"column:last_activity" json:"last_activity"`
}
