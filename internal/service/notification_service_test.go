package service

import (
	"context"
	"errors"
	"testing"

	"github.com/telio-letalle/Pronote-sub002/internal/models"
)

func TestFanOutClassAudienceWithParents(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.directory.classes["6A"] = []uint{20, 21, 22}
	env.directory.guardians[20] = []uint{30}
	env.directory.guardians[21] = []uint{31}
	env.directory.guardians[22] = []uint{32}

	conv := mustCreate(t, env, teacher, CreateConversationInput{
		Title: "Sortie",
		Kind:  models.KindGroup,
		Audience: Audience{
			Kind:           models.AudienceClass,
			ClassName:      "6A",
			IncludeParents: true,
		},
	})

	if _, err := env.messages.Append(ctx, teacher, "Prof", AppendInput{ConversationID: conv.ID, Body: "départ 8h"}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	// 3 students + 3 parents, never the sender.
	if got := len(env.notifRepo.notifications); got != 6 {
		t.Fatalf("notification rows = %d, want 6", got)
	}
	for _, n := range env.notifRepo.notifications {
		if n.Recipient().Is(teacher) {
			t.Errorf("sender must not be notified")
		}
	}
}

func TestFanOutIdempotent(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	conv := mustCreate(t, env, teacher, CreateConversationInput{
		Title:    "Doublons",
		Audience: directAudience(student),
	})
	msg, err := env.messages.Append(ctx, teacher, "Prof", AppendInput{ConversationID: conv.ID, Body: "unique"})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	// A queue retry re-runs the expansion; the row count must not change.
	if err := env.notifications.FanOutMessage(ctx, msg.ID); err != nil {
		t.Fatalf("FanOutMessage retry: %v", err)
	}
	if got := len(env.notifRepo.notifications); got != 1 {
		t.Errorf("notification rows after retry = %d, want 1", got)
	}
}

func TestFanOutReclaimedMessage(t *testing.T) {
	env := newTestEnv()

	// The message disappeared before the task ran; the expansion is a no-op,
	// not a retryable failure.
	if err := env.notifications.FanOutMessage(context.Background(), 12345); err != nil {
		t.Errorf("fan-out of a missing message should be nil, got %v", err)
	}
}

func TestFanOutSkipsRemovedParticipants(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	conv := mustCreate(t, env, teacher, CreateConversationInput{
		Title:    "Départ",
		Kind:     models.KindGroup,
		Audience: directAudience(student, parent),
	})

	if err := env.conversations.SetFolder(ctx, conv.ID, parent, models.ActionDelete); err != nil {
		t.Fatalf("trash: %v", err)
	}
	if _, err := env.messages.Append(ctx, teacher, "Prof", AppendInput{ConversationID: conv.ID, Body: "info"}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	for _, n := range env.notifRepo.notifications {
		if n.Recipient().Is(parent) {
			t.Errorf("trashed participant must not be notified")
		}
	}
	count, _ := env.notifRepo.CountUnread(student)
	if count != 1 {
		t.Errorf("student unread notifications = %d, want 1", count)
	}
}

func TestEmailChannelPreferences(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.directory.emails[student] = "eleve@example.fr"
	env.directory.emails[parent] = "parent@example.fr"

	// The parent muted email entirely.
	pref, _ := env.notifRepo.GetPreferences(parent)
	pref.EmailEnabled = false
	if err := env.notifRepo.SavePreferences(pref); err != nil {
		t.Fatalf("SavePreferences: %v", err)
	}

	conv := mustCreate(t, env, teacher, CreateConversationInput{
		Title:    "Canal mail",
		Kind:     models.KindGroup,
		Audience: directAudience(student, parent),
	})
	if _, err := env.messages.Append(ctx, teacher, "Prof", AppendInput{ConversationID: conv.ID, Body: "courriel"}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	if len(env.mailer.sent) != 1 || env.mailer.sent[0] != "eleve@example.fr" {
		t.Errorf("emails sent = %v, want only the student's address", env.mailer.sent)
	}

	// Both still have an in-app row regardless of channel settings.
	for _, p := range []models.Principal{student, parent} {
		count, _ := env.notifRepo.CountUnread(p)
		if count != 1 {
			t.Errorf("unread rows for %s = %d, want 1", p, count)
		}
	}
}

func TestDigestRecipientsSkipImmediateEmail(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.directory.emails[student] = "eleve@example.fr"

	pref, _ := env.notifRepo.GetPreferences(student)
	pref.DigestFrequency = models.DigestDaily
	if err := env.notifRepo.SavePreferences(pref); err != nil {
		t.Fatalf("SavePreferences: %v", err)
	}

	conv := mustCreate(t, env, teacher, CreateConversationInput{
		Title:    "Résumé",
		Audience: directAudience(student),
	})
	if _, err := env.messages.Append(ctx, teacher, "Prof", AppendInput{ConversationID: conv.ID, Body: "plus tard"}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	if len(env.mailer.sent) != 0 {
		t.Errorf("digest recipient should not get immediate email, sent = %v", env.mailer.sent)
	}
	notifs, _ := env.notifRepo.ListUnread(student, 0)
	if len(notifs) != 1 || !notifs[0].Digest {
		t.Errorf("row should exist and be flagged for the digest")
	}
}

func TestMarkNotificationReadScoped(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	conv := mustCreate(t, env, teacher, CreateConversationInput{
		Title:    "Portée",
		Audience: directAudience(student),
	})
	if _, err := env.messages.Append(ctx, teacher, "Prof", AppendInput{ConversationID: conv.ID, Body: "privé"}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	notifs, _ := env.notifRepo.ListUnread(student, 0)
	if len(notifs) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(notifs))
	}

	// Another principal cannot mark it, and cannot learn it exists.
	if err := env.notifications.MarkNotificationRead(parent, notifs[0].ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("foreign mark: got %v, want ErrNotFound", err)
	}
	if err := env.notifications.MarkNotificationRead(student, notifs[0].ID); err != nil {
		t.Fatalf("own mark: %v", err)
	}
	count, _ := env.notifRepo.CountUnread(student)
	if count != 0 {
		t.Errorf("unread after mark = %d, want 0", count)
	}
}

func TestMarkAllRead(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	conv := mustCreate(t, env, teacher, CreateConversationInput{
		Title:    "Tout lu",
		Audience: directAudience(student),
	})
	for i := 0; i < 3; i++ {
		if _, err := env.messages.Append(ctx, teacher, "Prof", AppendInput{ConversationID: conv.ID, Body: "message"}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	marked, err := env.notifications.MarkAllRead(student)
	if err != nil {
		t.Fatalf("MarkAllRead: %v", err)
	}
	if marked != 3 {
		t.Errorf("marked = %d, want 3", marked)
	}
	count, _ := env.notifRepo.CountUnread(student)
	if count != 0 {
		t.Errorf("unread = %d, want 0", count)
	}
}

func TestUpdatePreferences(t *testing.T) {
	env := newTestEnv()

	pref, err := env.notifications.UpdatePreferences(student, map[string]interface{}{
		"email_enabled":    false,
		"digest_frequency": "weekly",
	})
	if err != nil {
		t.Fatalf("UpdatePreferences: %v", err)
	}
	if pref.EmailEnabled || pref.DigestFrequency != models.DigestWeekly {
		t.Errorf("patch not applied: %+v", pref)
	}

	if _, err := env.notifications.UpdatePreferences(student, map[string]interface{}{"volume": 11}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("unknown key: got %v, want ErrInvalidArgument", err)
	}
	if _, err := env.notifications.UpdatePreferences(student, map[string]interface{}{"digest_frequency": "hourly"}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("bad enum: got %v, want ErrInvalidArgument", err)
	}
	if _, err := env.notifications.UpdatePreferences(student, map[string]interface{}{}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("empty patch: got %v, want ErrInvalidArgument", err)
	}
}

func TestUrgentMessageFlagsNotification(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	conv := mustCreate(t, env, teacher, CreateConversationInput{
		Title:    "Alerte",
		Audience: directAudience(student),
	})
	if _, err := env.messages.Append(ctx, teacher, "Prof", AppendInput{
		ConversationID: conv.ID,
		Body:           "évacuation",
		Importance:     models.ImportanceUrgent,
	}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	notifs, _ := env.notifRepo.ListUnread(student, 0)
	if len(notifs) != 1 || !notifs[0].Urgent {
		t.Errorf("urgent flag should carry into the notification: %+v", notifs)
	}
}
