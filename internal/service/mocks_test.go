package service

import (
	"context"
	"sort"
	"time"

	"github.com/telio-letalle/Pronote-sub002/internal/models"
	"gorm.io/gorm"
)

// In-memory repository doubles mirroring the Postgres implementations
// closely enough for service-level behavior.

type MockConversationRepository struct {
	convs   map[uint]*models.Conversation
	parts   map[uint][]*models.Participant
	nextID  uint
	version map[uint]int64

	messages *MockMessageRepository
}

func NewMockConversationRepository() *MockConversationRepository {
	return &MockConversationRepository{
		convs:   make(map[uint]*models.Conversation),
		parts:   make(map[uint][]*models.Participant),
		nextID:  1,
		version: make(map[uint]int64),
	}
}

func (m *MockConversationRepository) bump(conversationID uint) {
	m.version[conversationID]++
}

func (m *MockConversationRepository) Create(conv *models.Conversation, participants []models.Participant) error {
	conv.ID = m.nextID
	m.nextID++
	conv.CreatedAt = time.Now()
	m.convs[conv.ID] = conv
	for i := range participants {
		p := participants[i]
		p.ConversationID = conv.ID
		p.ID = m.nextID
		m.nextID++
		m.parts[conv.ID] = append(m.parts[conv.ID], &p)
	}
	m.bump(conv.ID)
	return nil
}

func (m *MockConversationRepository) FindByID(id uint) (*models.Conversation, error) {
	if conv, ok := m.convs[id]; ok {
		return conv, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *MockConversationRepository) FindParticipant(conversationID uint, p models.Principal) (*models.Participant, error) {
	for _, part := range m.parts[conversationID] {
		if part.Principal().Is(p) {
			copied := *part
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *MockConversationRepository) ListParticipants(conversationID uint) ([]models.Participant, error) {
	out := make([]models.Participant, 0, len(m.parts[conversationID]))
	for _, part := range m.parts[conversationID] {
		out = append(out, *part)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MockConversationRepository) CountOtherParticipants(conversationID uint, sender models.Principal) (int64, error) {
	var count int64
	for _, part := range m.parts[conversationID] {
		if !part.Principal().Is(sender) {
			count++
		}
	}
	return count, nil
}

func (m *MockConversationRepository) AddParticipant(part *models.Participant) error {
	part.ID = m.nextID
	m.nextID++
	m.parts[part.ConversationID] = append(m.parts[part.ConversationID], part)
	m.bump(part.ConversationID)
	return nil
}

func (m *MockConversationRepository) UpdateParticipant(updated *models.Participant) error {
	for i, part := range m.parts[updated.ConversationID] {
		if part.Principal().Is(updated.Principal()) {
			copied := *updated
			m.parts[updated.ConversationID][i] = &copied
			m.bump(updated.ConversationID)
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (m *MockConversationRepository) SetFolder(conversationID uint, p models.Principal, folder models.Folder) error {
	for _, part := range m.parts[conversationID] {
		if part.Principal().Is(p) {
			part.Folder = folder
			m.bump(conversationID)
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (m *MockConversationRepository) RemoveParticipantAndMaybeReclaim(conversationID uint, p models.Principal) (bool, []string, error) {
	parts := m.parts[conversationID]
	found := -1
	for i, part := range parts {
		if part.Principal().Is(p) {
			found = i
			break
		}
	}
	if found < 0 {
		return false, nil, gorm.ErrRecordNotFound
	}
	m.parts[conversationID] = append(parts[:found], parts[found+1:]...)
	m.bump(conversationID)
	if len(m.parts[conversationID]) > 0 {
		return false, nil, nil
	}

	var keys []string
	if m.messages != nil {
		for _, msg := range m.messages.messages {
			if msg.ConversationID != conversationID {
				continue
			}
			for _, a := range msg.Attachments {
				keys = append(keys, a.StoragePath)
			}
		}
		for id, msg := range m.messages.messages {
			if msg.ConversationID == conversationID {
				delete(m.messages.messages, id)
			}
		}
	}
	delete(m.convs, conversationID)
	delete(m.parts, conversationID)
	return true, keys, nil
}

func (m *MockConversationRepository) ListByFolder(p models.Principal, folder models.Folder, limit int) ([]models.ConversationListRow, error) {
	var rows []models.ConversationListRow
	for convID, parts := range m.parts {
		for _, part := range parts {
			if !part.Principal().Is(p) || part.Folder != folder {
				continue
			}
			conv := m.convs[convID]
			row := models.ConversationListRow{
				ConversationID: convID,
				Title:          conv.Title,
				Kind:           conv.Kind,
				UnreadCount:    part.UnreadCount,
				LastActivity:   conv.CreatedAt,
			}
			if m.messages != nil {
				for _, msg := range m.messages.messages {
					if msg.ConversationID == convID && msg.ID > row.LastMessageID {
						row.LastMessageID = msg.ID
						row.LastBody = msg.Body
						row.LastSenderName = msg.SenderName
						row.LastActivity = msg.CreatedAt
					}
				}
			}
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].LastActivity.Equal(rows[j].LastActivity) {
			return rows[i].LastActivity.After(rows[j].LastActivity)
		}
		return rows[i].ConversationID > rows[j].ConversationID
	})
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (m *MockConversationRepository) ParticipantsVersion(conversationID uint) (int64, error) {
	return int64(len(m.parts[conversationID]))<<32 ^ m.version[conversationID], nil
}

type MockMessageRepository struct {
	messages map[uint]*models.Message
	nextID   uint

	convs *MockConversationRepository
}

func NewMockMessageRepository(convs *MockConversationRepository) *MockMessageRepository {
	m := &MockMessageRepository{
		messages: make(map[uint]*models.Message),
		nextID:   1,
		convs:    convs,
	}
	if convs != nil {
		convs.messages = m
	}
	return m
}

func (m *MockMessageRepository) CreateWithUnread(msg *models.Message) error {
	msg.ID = m.nextID
	m.nextID++
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	for i := range msg.Attachments {
		msg.Attachments[i].ID = m.nextID
		m.nextID++
		msg.Attachments[i].MessageID = msg.ID
	}
	m.messages[msg.ID] = msg

	if m.convs != nil {
		for _, part := range m.convs.parts[msg.ConversationID] {
			if part.Principal().Is(msg.Sender()) || part.Removed() {
				continue
			}
			part.UnreadCount++
		}
	}
	return nil
}

func (m *MockMessageRepository) FindByID(id uint) (*models.Message, error) {
	if msg, ok := m.messages[id]; ok {
		return msg, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *MockMessageRepository) ListSince(conversationID uint, sinceID uint, limit int) ([]models.Message, error) {
	var out []models.Message
	for _, msg := range m.messages {
		if msg.ConversationID == conversationID && msg.ID > sinceID {
			out = append(out, *msg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockMessageRepository) LatestMessageID(conversationID uint) (uint, error) {
	var maxID uint
	for _, msg := range m.messages {
		if msg.ConversationID == conversationID && msg.ID > maxID {
			maxID = msg.ID
		}
	}
	return maxID, nil
}

func (m *MockMessageRepository) LatestInboundMessageID(conversationID uint, p models.Principal) (uint, error) {
	var maxID uint
	for _, msg := range m.messages {
		if msg.ConversationID == conversationID && !msg.Sender().Is(p) && msg.ID > maxID {
			maxID = msg.ID
		}
	}
	return maxID, nil
}

type receiptKey struct {
	messageID uint
	principal models.Principal
}

type MockReceiptRepository struct {
	receipts map[receiptKey]*models.ReadReceipt

	messages *MockMessageRepository
	convs    *MockConversationRepository
}

func NewMockReceiptRepository(messages *MockMessageRepository, convs *MockConversationRepository) *MockReceiptRepository {
	return &MockReceiptRepository{
		receipts: make(map[receiptKey]*models.ReadReceipt),
		messages: messages,
		convs:    convs,
	}
}

func (m *MockReceiptRepository) Upsert(receipt *models.ReadReceipt) (bool, error) {
	key := receiptKey{receipt.MessageID, models.Principal{ID: receipt.UserID, Role: receipt.UserRole}}
	if _, ok := m.receipts[key]; ok {
		return false, nil
	}
	m.receipts[key] = receipt
	return true, nil
}

func (m *MockReceiptRepository) CountForMessage(messageID uint) (int64, error) {
	var count int64
	for key := range m.receipts {
		if key.messageID == messageID {
			count++
		}
	}
	return count, nil
}

func (m *MockReceiptRepository) unreadFor(conversationID uint, p models.Principal) int {
	count := 0
	for _, msg := range m.messages.messages {
		if msg.ConversationID != conversationID || msg.Sender().Is(p) {
			continue
		}
		if _, ok := m.receipts[receiptKey{msg.ID, p}]; !ok {
			count++
		}
	}
	return count
}

func (m *MockReceiptRepository) setUnread(conversationID uint, p models.Principal, count int) {
	for _, part := range m.convs.parts[conversationID] {
		if part.Principal().Is(p) {
			part.UnreadCount = count
		}
	}
}

func (m *MockReceiptRepository) RecomputeUnread(conversationID uint, p models.Principal) (int, error) {
	count := m.unreadFor(conversationID, p)
	m.setUnread(conversationID, p, count)
	return count, nil
}

func (m *MockReceiptRepository) MarkConversationRead(conversationID uint, p models.Principal, now time.Time) (int64, error) {
	var receipted int64
	for _, msg := range m.messages.messages {
		if msg.ConversationID != conversationID || msg.Sender().Is(p) {
			continue
		}
		key := receiptKey{msg.ID, p}
		if _, ok := m.receipts[key]; ok {
			continue
		}
		m.receipts[key] = &models.ReadReceipt{
			MessageID:      msg.ID,
			ConversationID: conversationID,
			UserID:         p.ID,
			UserRole:       p.Role,
			ReadAt:         now,
		}
		receipted++
	}
	for _, part := range m.convs.parts[conversationID] {
		if part.Principal().Is(p) {
			part.UnreadCount = 0
			readAt := now
			part.LastReadAt = &readAt
		}
	}
	return receipted, nil
}

func (m *MockReceiptRepository) ResetLatestReceipt(conversationID uint, p models.Principal) error {
	latest, _ := m.messages.LatestInboundMessageID(conversationID, p)
	if latest > 0 {
		delete(m.receipts, receiptKey{latest, p})
	}
	for _, part := range m.convs.parts[conversationID] {
		if part.Principal().Is(p) {
			part.LastReadAt = nil
			part.UnreadCount = m.unreadFor(conversationID, p)
		}
	}
	return nil
}

type notifKey struct {
	messageID uint
	recipient models.Principal
}

type MockNotificationRepository struct {
	notifications map[uint]*models.Notification
	byMessage     map[notifKey]uint
	prefs         map[models.Principal]*models.NotificationPreference
	nextID        uint
}

func NewMockNotificationRepository() *MockNotificationRepository {
	return &MockNotificationRepository{
		notifications: make(map[uint]*models.Notification),
		byMessage:     make(map[notifKey]uint),
		prefs:         make(map[models.Principal]*models.NotificationPreference),
		nextID:        1,
	}
}

func (m *MockNotificationRepository) CreateBatch(notifications []models.Notification) (int64, error) {
	var inserted int64
	for i := range notifications {
		n := notifications[i]
		if n.MessageID != nil {
			key := notifKey{*n.MessageID, n.Recipient()}
			if _, ok := m.byMessage[key]; ok {
				continue
			}
			m.byMessage[key] = m.nextID
		}
		n.ID = m.nextID
		n.CreatedAt = time.Now()
		m.nextID++
		m.notifications[n.ID] = &n
		inserted++
	}
	return inserted, nil
}

func (m *MockNotificationRepository) FindByID(id uint) (*models.Notification, error) {
	if n, ok := m.notifications[id]; ok {
		return n, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *MockNotificationRepository) CountUnread(p models.Principal) (int64, error) {
	var count int64
	for _, n := range m.notifications {
		if n.Recipient().Is(p) && !n.IsRead {
			count++
		}
	}
	return count, nil
}

func (m *MockNotificationRepository) ListUnread(p models.Principal, limit int) ([]models.Notification, error) {
	var out []models.Notification
	for _, n := range m.notifications {
		if n.Recipient().Is(p) && !n.IsRead {
			out = append(out, *n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockNotificationRepository) UnreadState(p models.Principal) (uint, int64, error) {
	var maxID uint
	var count int64
	for _, n := range m.notifications {
		if !n.Recipient().Is(p) {
			continue
		}
		if n.ID > maxID {
			maxID = n.ID
		}
		if !n.IsRead {
			count++
		}
	}
	return maxID, count, nil
}

func (m *MockNotificationRepository) MarkRead(id uint, p models.Principal, now time.Time) error {
	n, ok := m.notifications[id]
	if !ok || !n.Recipient().Is(p) {
		return gorm.ErrRecordNotFound
	}
	n.IsRead = true
	readAt := now
	n.ReadAt = &readAt
	return nil
}

func (m *MockNotificationRepository) MarkAllRead(p models.Principal, now time.Time) (int64, error) {
	var marked int64
	for _, n := range m.notifications {
		if n.Recipient().Is(p) && !n.IsRead {
			n.IsRead = true
			readAt := now
			n.ReadAt = &readAt
			marked++
		}
	}
	return marked, nil
}

func (m *MockNotificationRepository) MarkReadByMessage(messageID uint, p models.Principal, now time.Time) error {
	for _, n := range m.notifications {
		if n.MessageID != nil && *n.MessageID == messageID && n.Recipient().Is(p) && !n.IsRead {
			n.IsRead = true
			readAt := now
			n.ReadAt = &readAt
		}
	}
	return nil
}

func (m *MockNotificationRepository) MarkReadByConversation(conversationID uint, p models.Principal, now time.Time) error {
	for _, n := range m.notifications {
		if n.ConversationID != nil && *n.ConversationID == conversationID && n.Recipient().Is(p) && !n.IsRead {
			n.IsRead = true
			readAt := now
			n.ReadAt = &readAt
		}
	}
	return nil
}

func (m *MockNotificationRepository) GetPreferences(p models.Principal) (*models.NotificationPreference, error) {
	if pref, ok := m.prefs[p]; ok {
		return pref, nil
	}
	pref := models.DefaultPreferences(p)
	m.prefs[p] = pref
	return pref, nil
}

func (m *MockNotificationRepository) SavePreferences(pref *models.NotificationPreference) error {
	m.prefs[models.Principal{ID: pref.UserID, Role: pref.UserRole}] = pref
	return nil
}

// MockEstablishment is a canned directory.
type MockEstablishment struct {
	classes   map[string][]uint               // class -> student ids
	guardians map[uint][]uint                 // student -> parent ids
	roles     map[models.Role][]uint          // role -> ids
	names     map[models.Principal]string     // display names
	emails    map[models.Principal]string     // addresses
}

func NewMockEstablishment() *MockEstablishment {
	return &MockEstablishment{
		classes:   make(map[string][]uint),
		guardians: make(map[uint][]uint),
		roles:     make(map[models.Role][]uint),
		names:     make(map[models.Principal]string),
		emails:    make(map[models.Principal]string),
	}
}

func (m *MockEstablishment) Classes(ctx context.Context) ([]string, error) {
	var out []string
	for name := range m.classes {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MockEstablishment) StudentsInClass(ctx context.Context, className string) ([]uint, error) {
	return m.classes[className], nil
}

func (m *MockEstablishment) GuardiansOf(ctx context.Context, studentID uint) ([]uint, error) {
	return m.guardians[studentID], nil
}

func (m *MockEstablishment) PrincipalsWithRole(ctx context.Context, role models.Role) ([]uint, error) {
	return m.roles[role], nil
}

func (m *MockEstablishment) DisplayNameOf(ctx context.Context, p models.Principal) (string, error) {
	return m.names[p], nil
}

func (m *MockEstablishment) EmailOf(ctx context.Context, p models.Principal) (string, error) {
	return m.emails[p], nil
}

// recordingNotifier counts stream wake-ups.
type recordingNotifier struct {
	conversations []uint
	principals    []models.Principal
}

func (r *recordingNotifier) ConversationChanged(conversationID uint) {
	r.conversations = append(r.conversations, conversationID)
}

func (r *recordingNotifier) NotificationsChanged(p models.Principal) {
	r.principals = append(r.principals, p)
}

// recordingMailer captures sent emails.
type recordingMailer struct {
	sent []string // recipient addresses
}

func (r *recordingMailer) Send(to, subject, body string) error {
	r.sent = append(r.sent, to)
	return nil
}
