package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hibiken/asynq"
	"github.com/telio-letalle/Pronote-sub002/internal/directory"
	"github.com/telio-letalle/Pronote-sub002/internal/models"
	"github.com/telio-letalle/Pronote-sub002/internal/repository"
)

// TaskTypeFanout is the queue task expanding a message into per-recipient
// notification rows. Retried by the queue until it succeeds, so recipient
// coverage is at-least-once; the unique (message, recipient) index absorbs
// duplicate expansions.
const TaskTypeFanout = "notify:fanout"

const notificationBodyPreview = 200

type fanoutPayload struct {
	MessageID uint `json:"message_id"`
}

// NewFanoutTask builds the queue task for a message id.
func NewFanoutTask(messageID uint) (*asynq.Task, error) {
	payload, err := json.Marshal(fanoutPayload{MessageID: messageID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeFanout, payload), nil
}

// TaskEnqueuer is the slice of asynq.Client used here.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Mailer delivers the email channel. Best-effort.
type Mailer interface {
	Send(to, subject, body string) error
}

// NotificationStreamNotifier wakes a principal's open notification streams.
type NotificationStreamNotifier interface {
	NotificationsChanged(p models.Principal)
}

type NotificationService struct {
	notifRepo   repository.NotificationRepositoryInterface
	convRepo    repository.ConversationRepositoryInterface
	messageRepo repository.MessageRepositoryInterface
	directory   directory.Establishment
	tasks       TaskEnqueuer
	mailer      Mailer
	streams     NotificationStreamNotifier
}

func NewNotificationService(
	notifRepo repository.NotificationRepositoryInterface,
	convRepo repository.ConversationRepositoryInterface,
	messageRepo repository.MessageRepositoryInterface,
	dir directory.Establishment,
	tasks TaskEnqueuer,
	mailer Mailer,
	streams NotificationStreamNotifier,
) *NotificationService {
	return &NotificationService{
		notifRepo:   notifRepo,
		convRepo:    convRepo,
		messageRepo: messageRepo,
		directory:   dir,
		tasks:       tasks,
		mailer:      mailer,
		streams:     streams,
	}
}

// EnqueueMessageFanout schedules recipient expansion for a message.
func (s *NotificationService) EnqueueMessageFanout(ctx context.Context, messageID uint) error {
	if s.tasks == nil {
		// No queue configured: expand inline so notifications still exist.
		return s.FanOutMessage(ctx, messageID)
	}
	task, err := NewFanoutTask(messageID)
	if err != nil {
		return err
	}
	_, err = s.tasks.EnqueueContext(ctx, task, asynq.Queue("notify"), asynq.MaxRetry(5))
	return err
}

// HandleFanoutTask is the asynq handler for TaskTypeFanout.
func (s *NotificationService) HandleFanoutTask(ctx context.Context, t *asynq.Task) error {
	var p fanoutPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		// Malformed payload will never succeed; drop it.
		return fmt.Errorf("fanout payload: %v: %w", err, asynq.SkipRetry)
	}
	return s.FanOutMessage(ctx, p.MessageID)
}

// FanOutMessage expands a message into notification rows for every
// recipient except the sender, honoring the conversation's audience shape.
// Rows are created regardless of preferences (in-app badges stay truthful);
// preferences only gate the email channel.
func (s *NotificationService) FanOutMessage(ctx context.Context, messageID uint) error {
	msg, err := s.messageRepo.FindByID(messageID)
	if err != nil {
		if notFound(err) {
			// Message reclaimed before expansion ran; nothing to notify.
			return nil
		}
		return err
	}
	conv, err := s.convRepo.FindByID(msg.ConversationID)
	if err != nil {
		if notFound(err) {
			return nil
		}
		return err
	}

	recipients, err := s.expandRecipients(ctx, conv, msg.Sender())
	if err != nil {
		return err
	}
	if len(recipients) == 0 {
		return nil
	}

	msgID := msg.ID
	convID := conv.ID
	urgent := msg.Importance == models.ImportanceUrgent
	title := notificationTitle(conv, msg)
	body := truncateRunes(msg.Body, notificationBodyPreview)

	rows := make([]models.Notification, 0, len(recipients))
	prefs := make(map[models.Principal]*models.NotificationPreference, len(recipients))
	for _, r := range recipients {
		pref, err := s.notifRepo.GetPreferences(r)
		if err != nil {
			return err
		}
		prefs[r] = pref
		rows = append(rows, models.Notification{
			RecipientID:    r.ID,
			RecipientRole:  r.Role,
			Title:          title,
			Body:           body,
			MessageID:      &msgID,
			ConversationID: &convID,
			Urgent:         urgent,
			Reminder:       msg.RequiresAck,
			Digest:         pref.DigestFrequency != models.DigestNever,
		})
	}

	if _, err := s.notifRepo.CreateBatch(rows); err != nil {
		return err
	}

	// Email and stream wake-ups are best-effort per recipient; a failure
	// for one never blocks the rest.
	for i := range rows {
		recipient := rows[i].Recipient()
		if s.streams != nil {
			s.streams.NotificationsChanged(recipient)
		}
		if s.mailer == nil {
			continue
		}
		if !prefs[recipient].EmailDeliverable(&rows[i]) {
			continue
		}
		addr, err := s.directory.EmailOf(ctx, recipient)
		if err != nil || addr == "" {
			continue
		}
		if err := s.mailer.Send(addr, title, body); err != nil {
			log.Printf("notification email to %s failed: %v", recipient, err)
		}
	}
	return nil
}

func (s *NotificationService) expandRecipients(ctx context.Context, conv *models.Conversation, sender models.Principal) ([]models.Principal, error) {
	var out []models.Principal
	seen := map[models.Principal]bool{sender: true}
	add := func(p models.Principal) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}

	switch conv.AudienceKind {
	case models.AudienceClass:
		students, err := s.directory.StudentsInClass(ctx, conv.AudienceClass)
		if err != nil {
			return nil, err
		}
		for _, id := range students {
			add(models.Principal{ID: id, Role: models.RoleEleve})
			if conv.IncludeParents {
				guardians, err := s.directory.GuardiansOf(ctx, id)
				if err != nil {
					return nil, err
				}
				for _, gid := range guardians {
					add(models.Principal{ID: gid, Role: models.RoleParent})
				}
			}
		}

	case models.AudienceRole:
		for _, raw := range strings.Split(conv.AudienceRoles, ",") {
			role := models.Role(strings.TrimSpace(raw))
			if !role.Valid() {
				continue
			}
			ids, err := s.directory.PrincipalsWithRole(ctx, role)
			if err != nil {
				return nil, err
			}
			for _, id := range ids {
				add(models.Principal{ID: id, Role: role})
			}
		}

	default:
		parts, err := s.convRepo.ListParticipants(conv.ID)
		if err != nil {
			return nil, err
		}
		for _, part := range parts {
			if part.Removed() {
				continue
			}
			add(part.Principal())
		}
	}

	return out, nil
}

func notificationTitle(conv *models.Conversation, msg *models.Message) string {
	sender := models.DisplayName(msg.SenderName, msg.SenderRole)
	if conv.Kind == models.KindAnnouncement {
		return fmt.Sprintf("Annonce : %s", conv.Title)
	}
	return fmt.Sprintf("%s — %s", sender, conv.Title)
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max]) + "…"
}

func (s *NotificationService) CountUnread(p models.Principal) (int64, error) {
	return s.notifRepo.CountUnread(p)
}

func (s *NotificationService) ListUnread(p models.Principal, limit int) ([]models.Notification, error) {
	return s.notifRepo.ListUnread(p, limit)
}

// MarkNotificationRead marks one of the caller's own notifications read.
// Notifications of other principals are invisible: NotFound either way.
func (s *NotificationService) MarkNotificationRead(p models.Principal, id uint) error {
	err := s.notifRepo.MarkRead(id, p, time.Now())
	if err != nil {
		if notFound(err) {
			return ErrNotFound
		}
		return err
	}
	if s.streams != nil {
		s.streams.NotificationsChanged(p)
	}
	return nil
}

func (s *NotificationService) MarkAllRead(p models.Principal) (int64, error) {
	n, err := s.notifRepo.MarkAllRead(p, time.Now())
	if err != nil {
		return 0, err
	}
	if n > 0 && s.streams != nil {
		s.streams.NotificationsChanged(p)
	}
	return n, nil
}

func (s *NotificationService) Preferences(p models.Principal) (*models.NotificationPreference, error) {
	return s.notifRepo.GetPreferences(p)
}

// UpdatePreferences applies a partial update. Unknown keys and invalid enum
// values are rejected before anything is persisted.
func (s *NotificationService) UpdatePreferences(p models.Principal, patch map[string]interface{}) (*models.NotificationPreference, error) {
	if len(patch) == 0 {
		return nil, ErrInvalidArgument
	}
	pref, err := s.notifRepo.GetPreferences(p)
	if err != nil {
		return nil, err
	}

	boolFields := map[string]*bool{
		"browser_enabled":    &pref.BrowserEnabled,
		"email_enabled":      &pref.EmailEnabled,
		"sound_enabled":      &pref.SoundEnabled,
		"mentions_enabled":   &pref.MentionsEnabled,
		"replies_enabled":    &pref.RepliesEnabled,
		"importance_enabled": &pref.ImportanceEnabled,
	}

	for key, value := range patch {
		if field, ok := boolFields[key]; ok {
			b, ok := value.(bool)
			if !ok {
				return nil, ErrInvalidArgument
			}
			*field = b
			continue
		}
		if key == "digest_frequency" {
			str, ok := value.(string)
			if !ok {
				return nil, ErrInvalidArgument
			}
			freq := models.DigestFrequency(str)
			if !freq.Valid() {
				return nil, ErrInvalidArgument
			}
			pref.DigestFrequency = freq
			continue
		}
		return nil, ErrInvalidArgument
	}

	if err := s.notifRepo.SavePreferences(pref); err != nil {
		return nil, err
	}
	return pref, nil
}
