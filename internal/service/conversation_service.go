package service

import (
	"context"
	"log"
	"strings"

	"github.com/telio-letalle/Pronote-sub002/internal/directory"
	"github.com/telio-letalle/Pronote-sub002/internal/models"
	"github.com/telio-letalle/Pronote-sub002/internal/repository"
)

// staff roles may open broadcast (class/role/announcement) conversations.
var broadcastRoles = map[models.Role]bool{
	models.RoleProfesseur:     true,
	models.RoleVieScolaire:    true,
	models.RoleAdministration: true,
}

// BlobRemover deletes stored attachment blobs once their rows are reclaimed.
type BlobRemover interface {
	Delete(ctx context.Context, key string) error
}

type ConversationService struct {
	convRepo   repository.ConversationRepositoryInterface
	receipts   *ReceiptService
	authorizer *Authorizer
	directory  directory.Establishment
	blobs      BlobRemover
}

func NewConversationService(
	convRepo repository.ConversationRepositoryInterface,
	receipts *ReceiptService,
	authorizer *Authorizer,
	dir directory.Establishment,
	blobs BlobRemover,
) *ConversationService {
	return &ConversationService{
		convRepo:   convRepo,
		receipts:   receipts,
		authorizer: authorizer,
		directory:  dir,
		blobs:      blobs,
	}
}

type ParticipantInput struct {
	UserID      uint        `json:"user_id"`
	Role        models.Role `json:"role"`
	DisplayName string      `json:"display_name"`
	CanReply    bool        `json:"can_reply"`
}

// Audience selects the recipients of a new conversation: an explicit list, a
// class (optionally with the students' parents), or one or more roles.
type Audience struct {
	Kind           models.AudienceKind `json:"kind"`
	Participants   []ParticipantInput  `json:"participants"`
	ClassName      string              `json:"class_name"`
	IncludeParents bool                `json:"include_parents"`
	Roles          []models.Role       `json:"roles"`
	Everyone       bool                `json:"everyone"`
}

type CreateConversationInput struct {
	Title    string                  `json:"title"`
	Kind     models.ConversationKind `json:"kind"`
	Audience Audience                `json:"audience"`
}

func (s *ConversationService) Create(ctx context.Context, creator models.Principal, creatorName string, input CreateConversationInput) (*models.Conversation, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, ErrInvalidArgument
	}
	kind := input.Kind
	if kind == "" {
		kind = models.KindIndividual
	}
	if !kind.Valid() {
		return nil, ErrInvalidArgument
	}

	audienceKind := input.Audience.Kind
	if audienceKind == "" {
		audienceKind = models.AudienceDirect
	}
	if audienceKind != models.AudienceDirect && !broadcastRoles[creator.Role] {
		return nil, ErrNotAuthorized
	}
	if kind == models.KindAnnouncement && !broadcastRoles[creator.Role] {
		return nil, ErrNotAuthorized
	}

	recipients, err := s.expandAudience(ctx, creator, input.Audience, audienceKind)
	if err != nil {
		return nil, err
	}
	if len(recipients) == 0 {
		return nil, ErrInvalidArgument
	}
	if kind == models.KindIndividual && len(recipients) != 1 {
		return nil, ErrInvalidArgument
	}

	conv := &models.Conversation{
		Title:          title,
		Kind:           kind,
		CreatorID:      creator.ID,
		CreatorRole:    creator.Role,
		AudienceKind:   audienceKind,
		AudienceClass:  input.Audience.ClassName,
		IncludeParents: input.Audience.IncludeParents,
		AudienceRoles:  joinRoles(input.Audience.Roles, input.Audience.Everyone),
	}

	participants := make([]models.Participant, 0, len(recipients)+1)
	participants = append(participants, models.Participant{
		UserID:      creator.ID,
		UserRole:    creator.Role,
		DisplayName: creatorName,
		IsAdmin:     true,
		CanReply:    true,
		Folder:      models.FolderInbox,
	})
	for _, r := range recipients {
		participants = append(participants, models.Participant{
			UserID:      r.UserID,
			UserRole:    r.Role,
			DisplayName: r.DisplayName,
			CanReply:    r.CanReply,
			Folder:      models.FolderInbox,
		})
	}

	if err := s.convRepo.Create(conv, participants); err != nil {
		return nil, err
	}
	return conv, nil
}

func (s *ConversationService) expandAudience(ctx context.Context, creator models.Principal, audience Audience, kind models.AudienceKind) ([]ParticipantInput, error) {
	var out []ParticipantInput
	seen := map[models.Principal]bool{creator: true}

	add := func(p models.Principal, name string, canReply bool) {
		if seen[p] {
			return
		}
		seen[p] = true
		out = append(out, ParticipantInput{UserID: p.ID, Role: p.Role, DisplayName: name, CanReply: canReply})
	}

	switch kind {
	case models.AudienceDirect:
		for _, in := range audience.Participants {
			if in.UserID == 0 || !in.Role.Valid() {
				return nil, ErrInvalidArgument
			}
			add(models.Principal{ID: in.UserID, Role: in.Role}, in.DisplayName, in.CanReply)
		}

	case models.AudienceClass:
		if audience.ClassName == "" {
			return nil, ErrInvalidArgument
		}
		students, err := s.directory.StudentsInClass(ctx, audience.ClassName)
		if err != nil {
			return nil, err
		}
		for _, id := range students {
			p := models.Principal{ID: id, Role: models.RoleEleve}
			name, _ := s.directory.DisplayNameOf(ctx, p)
			add(p, name, false)
			if audience.IncludeParents {
				guardians, err := s.directory.GuardiansOf(ctx, id)
				if err != nil {
					return nil, err
				}
				for _, gid := range guardians {
					gp := models.Principal{ID: gid, Role: models.RoleParent}
					gname, _ := s.directory.DisplayNameOf(ctx, gp)
					add(gp, gname, false)
				}
			}
		}

	case models.AudienceRole:
		roles := audience.Roles
		if audience.Everyone {
			roles = models.AllRoles()
		}
		if len(roles) == 0 {
			return nil, ErrInvalidArgument
		}
		for _, role := range roles {
			if !role.Valid() {
				return nil, ErrInvalidArgument
			}
			ids, err := s.directory.PrincipalsWithRole(ctx, role)
			if err != nil {
				return nil, err
			}
			for _, id := range ids {
				p := models.Principal{ID: id, Role: role}
				name, _ := s.directory.DisplayNameOf(ctx, p)
				add(p, name, false)
			}
		}

	default:
		return nil, ErrInvalidArgument
	}

	return out, nil
}

func joinRoles(roles []models.Role, everyone bool) string {
	if everyone {
		roles = models.AllRoles()
	}
	parts := make([]string, 0, len(roles))
	for _, r := range roles {
		parts = append(parts, string(r))
	}
	return strings.Join(parts, ",")
}

// List returns the caller's conversations in one folder, most recent
// activity first.
func (s *ConversationService) List(p models.Principal, folder models.Folder, limit int) ([]models.ConversationListRow, error) {
	if folder == "" {
		folder = models.FolderInbox
	}
	if !folder.Valid() {
		return nil, ErrInvalidArgument
	}
	return s.convRepo.ListByFolder(p, folder, limit)
}

// SetFolder applies a folder action to the caller's own participant row.
// Archiving and trashing never affect other participants.
func (s *ConversationService) SetFolder(ctx context.Context, conversationID uint, p models.Principal, action models.FolderAction) error {
	if !action.Valid() {
		return ErrInvalidArgument
	}

	conv, err := s.convRepo.FindByID(conversationID)
	if err != nil {
		if notFound(err) {
			return ErrNotFound
		}
		return err
	}
	part, err := s.convRepo.FindParticipant(conversationID, p)
	if err != nil {
		if notFound(err) {
			// Do not reveal whether the conversation exists.
			return ErrNotAuthorized
		}
		return err
	}

	switch action {
	case models.ActionMarkRead:
		if part.Removed() {
			return ErrNotAuthorized
		}
		return s.receipts.MarkConversationRead(conversationID, p)

	case models.ActionDeletePermanently:
		if !s.authorizer.Can(p, ActionDeletePermanently, conv, part) {
			return ErrNotAuthorized
		}
		reclaimed, keys, err := s.convRepo.RemoveParticipantAndMaybeReclaim(conversationID, p)
		if err != nil {
			if notFound(err) {
				return ErrNotFound
			}
			return err
		}
		if reclaimed && s.blobs != nil {
			// Blob cleanup is best-effort; rows are already gone.
			for _, key := range keys {
				if err := s.blobs.Delete(ctx, key); err != nil {
					log.Printf("attachment blob cleanup failed for %s: %v", key, err)
				}
			}
		}
		return nil

	default:
		authzAction := ActionArchive
		if action == models.ActionDelete || action == models.ActionRestore {
			authzAction = ActionDelete
		}
		target, ok := models.FolderTransition(part.Folder, action)
		if !ok {
			return ErrInvalidArgument
		}
		// Restore acts from the trash, where the participant has no
		// standing; allow it as the explicit way back out.
		if action != models.ActionRestore && !s.authorizer.Can(p, authzAction, conv, part) {
			return ErrNotAuthorized
		}
		return s.convRepo.SetFolder(conversationID, p, target)
	}
}

// Bulk applies one action to many conversations. Each id is authorized and
// processed independently; failures are skipped, not rolled back together.
// The per-conversation mark-read path stays transactional internally.
func (s *ConversationService) Bulk(ctx context.Context, p models.Principal, ids []uint, action models.FolderAction) (int, error) {
	if !action.Valid() || len(ids) == 0 {
		return 0, ErrInvalidArgument
	}
	succeeded := 0
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if err := s.SetFolder(ctx, id, p, action); err != nil {
			log.Printf("bulk %s skipped conversation %d for %s: %v", action, id, p, err)
			continue
		}
		succeeded++
	}
	return succeeded, nil
}

// AddParticipant adds a principal to the conversation. Requires admin or
// moderator standing.
func (s *ConversationService) AddParticipant(actor models.Principal, conversationID uint, input ParticipantInput) error {
	conv, part, err := s.loadFacts(conversationID, actor)
	if err != nil {
		return err
	}
	if !s.authorizer.Can(actor, ActionManageParticipants, conv, part) {
		return ErrNotAuthorized
	}
	if input.UserID == 0 || !input.Role.Valid() {
		return ErrInvalidArgument
	}
	return s.convRepo.AddParticipant(&models.Participant{
		ConversationID: conversationID,
		UserID:         input.UserID,
		UserRole:       input.Role,
		DisplayName:    input.DisplayName,
		CanReply:       input.CanReply,
		Folder:         models.FolderInbox,
	})
}

// RemoveParticipant removes another principal from the conversation.
// Removing an admin is reserved to the conversation creator.
func (s *ConversationService) RemoveParticipant(actor models.Principal, conversationID uint, target models.Principal) error {
	conv, actorPart, err := s.loadFacts(conversationID, actor)
	if err != nil {
		return err
	}
	if !s.authorizer.Can(actor, ActionManageParticipants, conv, actorPart) {
		return ErrNotAuthorized
	}
	targetPart, err := s.convRepo.FindParticipant(conversationID, target)
	if err != nil {
		if notFound(err) {
			return ErrNotFound
		}
		return err
	}
	if targetPart.IsAdmin && !s.authorizer.Can(actor, ActionManageAdmins, conv, actorPart) {
		return ErrNotAuthorized
	}
	_, _, err = s.convRepo.RemoveParticipantAndMaybeReclaim(conversationID, target)
	if err != nil && notFound(err) {
		return ErrNotFound
	}
	return err
}

// SetModerator promotes or demotes a participant. Demoting an admin is
// reserved to the conversation creator.
func (s *ConversationService) SetModerator(actor models.Principal, conversationID uint, target models.Principal, moderator bool) error {
	conv, actorPart, err := s.loadFacts(conversationID, actor)
	if err != nil {
		return err
	}
	if !s.authorizer.Can(actor, ActionPromoteModerator, conv, actorPart) {
		return ErrNotAuthorized
	}
	targetPart, err := s.convRepo.FindParticipant(conversationID, target)
	if err != nil {
		if notFound(err) {
			return ErrNotFound
		}
		return err
	}
	if targetPart.IsAdmin && !moderator && !s.authorizer.Can(actor, ActionManageAdmins, conv, actorPart) {
		return ErrNotAuthorized
	}
	targetPart.IsModerator = moderator
	return s.convRepo.UpdateParticipant(targetPart)
}

// GrantReply toggles announcement reply rights for a participant.
func (s *ConversationService) GrantReply(actor models.Principal, conversationID uint, target models.Principal, canReply bool) error {
	conv, actorPart, err := s.loadFacts(conversationID, actor)
	if err != nil {
		return err
	}
	if !s.authorizer.Can(actor, ActionManageParticipants, conv, actorPart) {
		return ErrNotAuthorized
	}
	targetPart, err := s.convRepo.FindParticipant(conversationID, target)
	if err != nil {
		if notFound(err) {
			return ErrNotFound
		}
		return err
	}
	targetPart.CanReply = canReply
	return s.convRepo.UpdateParticipant(targetPart)
}

func (s *ConversationService) Participants(p models.Principal, conversationID uint) ([]models.Participant, error) {
	_, part, err := s.loadFacts(conversationID, p)
	if err != nil {
		return nil, err
	}
	if part.Removed() {
		return nil, ErrNotAuthorized
	}
	return s.convRepo.ListParticipants(conversationID)
}

func (s *ConversationService) loadFacts(conversationID uint, p models.Principal) (*models.Conversation, *models.Participant, error) {
	conv, err := s.convRepo.FindByID(conversationID)
	if err != nil {
		if notFound(err) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}
	part, err := s.convRepo.FindParticipant(conversationID, p)
	if err != nil {
		if notFound(err) {
			return nil, nil, ErrNotAuthorized
		}
		return nil, nil, err
	}
	return conv, part, nil
}
