package delivery

import (
	"errors"
	"testing"

	"github.com/telio-letalle/Pronote-sub002/internal/models"
	"github.com/telio-letalle/Pronote-sub002/internal/repository"
	"github.com/telio-letalle/Pronote-sub002/internal/service"
	"gorm.io/gorm"
)

// Fakes embed the interface and override only what the gateway touches.

type fakeConvRepo struct {
	repository.ConversationRepositoryInterface
	participant *models.Participant
	version     int64
}

func (f *fakeConvRepo) FindParticipant(conversationID uint, p models.Principal) (*models.Participant, error) {
	if f.participant == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return f.participant, nil
}

func (f *fakeConvRepo) ParticipantsVersion(conversationID uint) (int64, error) {
	return f.version, nil
}

type fakeMessageRepo struct {
	repository.MessageRepositoryInterface
	messages []models.Message
}

func (f *fakeMessageRepo) ListSince(conversationID uint, sinceID uint, limit int) ([]models.Message, error) {
	var out []models.Message
	for _, m := range f.messages {
		if m.ID > sinceID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeMessageRepo) LatestMessageID(conversationID uint) (uint, error) {
	var maxID uint
	for _, m := range f.messages {
		if m.ID > maxID {
			maxID = m.ID
		}
	}
	return maxID, nil
}

type fakeNotifRepo struct {
	repository.NotificationRepositoryInterface
	notifications []models.Notification
}

func (f *fakeNotifRepo) ListUnread(p models.Principal, limit int) ([]models.Notification, error) {
	return f.notifications, nil
}

func (f *fakeNotifRepo) UnreadState(p models.Principal) (uint, int64, error) {
	var maxID uint
	var count int64
	for _, n := range f.notifications {
		if n.ID > maxID {
			maxID = n.ID
		}
		if !n.IsRead {
			count++
		}
	}
	return maxID, count, nil
}

func TestConversationChangesValidator(t *testing.T) {
	p := models.Principal{ID: 1, Role: models.RoleEleve}
	convRepo := &fakeConvRepo{
		participant: &models.Participant{ConversationID: 7, UserID: 1, UserRole: models.RoleEleve, Folder: models.FolderInbox, UnreadCount: 2},
		version:     42,
	}
	messageRepo := &fakeMessageRepo{messages: []models.Message{{ID: 1}, {ID: 2}, {ID: 3}}}
	g := NewGateway(convRepo, messageRepo, &fakeNotifRepo{})

	first, err := g.ConversationChanges(p, 7, 0)
	if err != nil {
		t.Fatalf("ConversationChanges: %v", err)
	}
	if len(first.Messages) != 3 || first.LatestMessageID != 3 {
		t.Fatalf("snapshot = %+v", first)
	}

	// Identical state yields the identical validator.
	again, _ := g.ConversationChanges(p, 7, 0)
	if again.Validator != first.Validator {
		t.Errorf("validator unstable for unchanged state")
	}

	// New message changes the validator.
	messageRepo.messages = append(messageRepo.messages, models.Message{ID: 4})
	changed, _ := g.ConversationChanges(p, 7, 0)
	if changed.Validator == first.Validator {
		t.Errorf("validator must change with the ledger")
	}

	// Participant set change alone also changes it.
	messageRepo.messages = messageRepo.messages[:3]
	convRepo.version = 43
	reshaped, _ := g.ConversationChanges(p, 7, 0)
	if reshaped.Validator == first.Validator {
		t.Errorf("validator must change with the participant set")
	}
}

func TestConversationChangesSinceCursor(t *testing.T) {
	p := models.Principal{ID: 1, Role: models.RoleEleve}
	g := NewGateway(
		&fakeConvRepo{participant: &models.Participant{ConversationID: 7, UserID: 1, UserRole: models.RoleEleve, Folder: models.FolderInbox}},
		&fakeMessageRepo{messages: []models.Message{{ID: 1}, {ID: 2}, {ID: 3}}},
		&fakeNotifRepo{},
	)

	snap, err := g.ConversationChanges(p, 7, 2)
	if err != nil {
		t.Fatalf("ConversationChanges: %v", err)
	}
	if len(snap.Messages) != 1 || snap.Messages[0].ID != 3 {
		t.Errorf("since 2: got %d messages, want only id 3", len(snap.Messages))
	}
	// The validator covers the full state, not the returned slice.
	full, _ := g.ConversationChanges(p, 7, 0)
	if full.Validator != snap.Validator {
		t.Errorf("validator must not depend on the cursor")
	}
}

func TestConversationChangesDeniesOutsiders(t *testing.T) {
	p := models.Principal{ID: 1, Role: models.RoleEleve}

	g := NewGateway(&fakeConvRepo{}, &fakeMessageRepo{}, &fakeNotifRepo{})
	if _, err := g.ConversationChanges(p, 7, 0); !errors.Is(err, service.ErrNotAuthorized) {
		t.Errorf("missing participant: got %v, want ErrNotAuthorized", err)
	}

	trashed := &fakeConvRepo{participant: &models.Participant{Folder: models.FolderTrashed}}
	g = NewGateway(trashed, &fakeMessageRepo{}, &fakeNotifRepo{})
	if _, err := g.ConversationChanges(p, 7, 0); !errors.Is(err, service.ErrNotAuthorized) {
		t.Errorf("trashed participant: got %v, want ErrNotAuthorized", err)
	}
}

func TestNotificationChangesValidator(t *testing.T) {
	p := models.Principal{ID: 1, Role: models.RoleParent}
	notifRepo := &fakeNotifRepo{notifications: []models.Notification{{ID: 5}, {ID: 6}}}
	g := NewGateway(&fakeConvRepo{}, &fakeMessageRepo{}, notifRepo)

	first, err := g.NotificationChanges(p, 0)
	if err != nil {
		t.Fatalf("NotificationChanges: %v", err)
	}
	if first.UnreadCount != 2 || first.LatestID != 6 {
		t.Fatalf("snapshot = %+v", first)
	}

	again, _ := g.NotificationChanges(p, 0)
	if again.Validator != first.Validator {
		t.Errorf("validator unstable for unchanged state")
	}

	notifRepo.notifications = append(notifRepo.notifications, models.Notification{ID: 7})
	changed, _ := g.NotificationChanges(p, 0)
	if changed.Validator == first.Validator {
		t.Errorf("validator must change with new notifications")
	}
}

func TestValidatorDistinguishesScopes(t *testing.T) {
	if Validator("conv", 1, 2, 3, 4) == Validator("notif", 1, 2, 3, 4) {
		t.Errorf("scope must be part of the validator")
	}
	if len(Validator("conv", 1, 0, 0, 0)) != 16 {
		t.Errorf("validator length changed")
	}
}
