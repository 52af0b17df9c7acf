package service

import (
	"testing"

	"github.com/telio-letalle/Pronote-sub002/internal/models"
)

func TestAuthorizerCan(t *testing.T) {
	creator := models.Principal{ID: 1, Role: models.RoleProfesseur}
	member := models.Principal{ID: 2, Role: models.RoleEleve}

	conv := &models.Conversation{
		ID:          1,
		Kind:        models.KindGroup,
		CreatorID:   creator.ID,
		CreatorRole: creator.Role,
	}
	announcement := &models.Conversation{
		ID:          2,
		Kind:        models.KindAnnouncement,
		CreatorID:   creator.ID,
		CreatorRole: creator.Role,
	}

	part := func(conv *models.Conversation, p models.Principal, mutate func(*models.Participant)) *models.Participant {
		pt := &models.Participant{
			ConversationID: conv.ID,
			UserID:         p.ID,
			UserRole:       p.Role,
			Folder:         models.FolderInbox,
		}
		if mutate != nil {
			mutate(pt)
		}
		return pt
	}

	a := NewAuthorizer()

	tests := []struct {
		name     string
		p        models.Principal
		action   Action
		conv     *models.Conversation
		part     *models.Participant
		expected bool
	}{
		{"member sends in group", member, ActionSendMessage, conv, part(conv, member, nil), true},
		{"trashed member cannot send", member, ActionSendMessage, conv, part(conv, member, func(pt *models.Participant) {
			pt.Folder = models.FolderTrashed
		}), false},
		{"recipient cannot reply to announcement", member, ActionSendMessage, announcement, part(announcement, member, nil), false},
		{"granted recipient replies to announcement", member, ActionSendMessage, announcement, part(announcement, member, func(pt *models.Participant) {
			pt.CanReply = true
		}), true},
		{"creator replies to announcement", creator, ActionSendMessage, announcement, part(announcement, creator, nil), true},
		{"member cannot manage participants", member, ActionManageParticipants, conv, part(conv, member, nil), false},
		{"moderator manages participants", member, ActionManageParticipants, conv, part(conv, member, func(pt *models.Participant) {
			pt.IsModerator = true
		}), true},
		{"moderator cannot manage admins", member, ActionManageAdmins, conv, part(conv, member, func(pt *models.Participant) {
			pt.IsModerator = true
		}), false},
		{"creator manages admins", creator, ActionManageAdmins, conv, part(conv, creator, nil), true},
		{"member archives own view", member, ActionArchive, conv, part(conv, member, nil), true},
		{"delete permanently needs trash", member, ActionDeletePermanently, conv, part(conv, member, nil), false},
		{"delete permanently from trash", member, ActionDeletePermanently, conv, part(conv, member, func(pt *models.Participant) {
			pt.Folder = models.FolderTrashed
		}), true},
		{"nil participant denies", member, ActionSendMessage, conv, nil, false},
		{"foreign participant row denies", member, ActionSendMessage, conv, part(conv, creator, nil), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := a.Can(tt.p, tt.action, tt.conv, tt.part); got != tt.expected {
				t.Errorf("Can(%s, %s) = %v, want %v", tt.p, tt.action, got, tt.expected)
			}
		})
	}
}
