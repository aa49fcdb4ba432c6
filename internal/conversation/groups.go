// ABOUTME: Group service: creation, metadata, membership, and role management
// ABOUTME: Admin-only mutations, last-admin protection, and SYSTEM audit messages

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/parley-chat/parley/internal/apperr"
	"github.com/parley-chat/parley/internal/store"
)

// Group metadata limits.
const (
	MaxGroupNameLength        = 100
	MaxGroupDescriptionLength = 500
)

// GroupPatch carries optional group metadata updates. Nil fields are left
// unchanged.
type GroupPatch struct {
	Name        *string
	Description *string
	IconURL     *string
}

// GroupService implements group conversation operations.
type GroupService struct {
	store  store.Store
	convs  *Service
	logger *slog.Logger
}

// NewGroupService creates a group service. Pass nil logger for default.
func NewGroupService(st store.Store, convs *Service, logger *slog.Logger) *GroupService {
	if logger == nil {
		logger = slog.Default()
	}
	return &GroupService{
		store:  st,
		convs:  convs,
		logger: logger.With("component", "groups"),
	}
}

// Create makes a new group conversation with the creator as ADMIN and the
// given members as MEMBERs, plus a SYSTEM message recording the creation.
func (g *GroupService) Create(ctx context.Context, creatorID, name, description string, memberIDs []string) (*ConversationView, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > MaxGroupNameLength {
		return nil, apperr.Validation(fmt.Sprintf("Group name must be between 1 and %d characters", MaxGroupNameLength))
	}
	if len(description) > MaxGroupDescriptionLength {
		return nil, apperr.Validation(fmt.Sprintf("Group description must be at most %d characters", MaxGroupDescriptionLength))
	}

	members := dedupe(memberIDs, creatorID)
	if len(members) > 0 {
		users, err := g.store.GetUsersByIDs(ctx, members)
		if err != nil {
			return nil, fmt.Errorf("loading members: %w", err)
		}
		if len(users) != len(members) {
			return nil, apperr.NotFound("One or more users do not exist")
		}
	}

	now := time.Now().UTC()
	conv := &store.Conversation{
		ID:        uuid.New().String(),
		Type:      store.ConversationGroup,
		CreatedAt: now,
		UpdatedAt: now,
	}
	group := &store.Group{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		Name:           name,
		Description:    description,
		CreatedBy:      creatorID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	participants := make([]*store.Participant, 0, len(members)+1)
	participants = append(participants, &store.Participant{
		ConversationID: conv.ID,
		UserID:         creatorID,
		Role:           store.RoleAdmin,
		JoinedAt:       now,
	})
	for _, id := range members {
		participants = append(participants, &store.Participant{
			ConversationID: conv.ID,
			UserID:         id,
			Role:           store.RoleMember,
			JoinedAt:       now,
		})
	}

	sysMsg := systemMessage(conv.ID, creatorID, fmt.Sprintf("created the group %q", name), now)
	if err := g.store.CreateGroup(ctx, conv, group, participants, sysMsg); err != nil {
		return nil, fmt.Errorf("creating group: %w", err)
	}

	g.logger.Info("group created", "group_id", group.ID, "conversation_id", conv.ID, "members", len(participants))
	return g.convs.View(ctx, conv, creatorID)
}

// Get returns the group's conversation view for a member.
func (g *GroupService) Get(ctx context.Context, callerID, groupID string) (*ConversationView, error) {
	group, err := g.groupByID(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if _, err := g.store.GetParticipant(ctx, group.ConversationID, callerID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.Forbidden("Not a member of this group")
		}
		return nil, fmt.Errorf("looking up participant: %w", err)
	}
	conv, err := g.store.GetConversation(ctx, group.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("looking up conversation: %w", err)
	}
	return g.convs.View(ctx, conv, callerID)
}

// Update patches group metadata. Admin-only. Renames leave a SYSTEM message.
func (g *GroupService) Update(ctx context.Context, callerID, groupID string, patch GroupPatch) (*GroupView, error) {
	group, err := g.groupByID(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if _, err := g.requireAdmin(ctx, group.ConversationID, callerID); err != nil {
		return nil, err
	}

	renamed := false
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" || len(name) > MaxGroupNameLength {
			return nil, apperr.Validation(fmt.Sprintf("Group name must be between 1 and %d characters", MaxGroupNameLength))
		}
		if name != group.Name {
			group.Name = name
			renamed = true
		}
	}
	if patch.Description != nil {
		if len(*patch.Description) > MaxGroupDescriptionLength {
			return nil, apperr.Validation(fmt.Sprintf("Group description must be at most %d characters", MaxGroupDescriptionLength))
		}
		group.Description = *patch.Description
	}
	if patch.IconURL != nil {
		group.IconURL = *patch.IconURL
	}

	now := time.Now().UTC()
	group.UpdatedAt = now
	if err := g.store.UpdateGroup(ctx, group); err != nil {
		return nil, fmt.Errorf("updating group: %w", err)
	}

	if renamed {
		sysMsg := systemMessage(group.ConversationID, callerID, fmt.Sprintf("renamed the group to %q", group.Name), now)
		if err := g.store.CreateMessage(ctx, sysMsg); err != nil {
			return nil, fmt.Errorf("recording rename: %w", err)
		}
	}

	return groupView(group), nil
}

// AddMembers adds users to a group as MEMBERs. Admin-only. Users already in
// the group are skipped; adding only existing members is an error.
func (g *GroupService) AddMembers(ctx context.Context, callerID, groupID string, memberIDs []string) (*ConversationView, error) {
	group, err := g.groupByID(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if _, err := g.requireAdmin(ctx, group.ConversationID, callerID); err != nil {
		return nil, err
	}

	existing, err := g.store.ListParticipants(ctx, group.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("listing participants: %w", err)
	}
	present := make(map[string]struct{}, len(existing))
	for _, p := range existing {
		present[p.UserID] = struct{}{}
	}

	var toAdd []string
	for _, id := range dedupe(memberIDs, "") {
		if _, ok := present[id]; !ok {
			toAdd = append(toAdd, id)
		}
	}
	if len(toAdd) == 0 {
		return nil, apperr.Validation("All users are already members")
	}

	users, err := g.store.GetUsersByIDs(ctx, toAdd)
	if err != nil {
		return nil, fmt.Errorf("loading members: %w", err)
	}
	if len(users) != len(toAdd) {
		return nil, apperr.NotFound("One or more users do not exist")
	}
	byID := make(map[string]*store.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}

	now := time.Now().UTC()
	members := make([]*store.Participant, 0, len(toAdd))
	sysMsgs := make([]*store.Message, 0, len(toAdd))
	for _, id := range toAdd {
		members = append(members, &store.Participant{
			ConversationID: group.ConversationID,
			UserID:         id,
			Role:           store.RoleMember,
			JoinedAt:       now,
		})
		sysMsgs = append(sysMsgs, systemMessage(group.ConversationID, callerID, fmt.Sprintf("added %s", byID[id].DisplayName), now))
	}

	if err := g.store.AddGroupMembers(ctx, group.ConversationID, members, sysMsgs, now); err != nil {
		return nil, fmt.Errorf("adding members: %w", err)
	}

	g.logger.Info("group members added", "group_id", group.ID, "added", len(members))
	conv, err := g.store.GetConversation(ctx, group.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("looking up conversation: %w", err)
	}
	return g.convs.View(ctx, conv, callerID)
}

// RemoveMember removes a user from a group. Admins may remove anyone; any
// member may remove themselves (leave). If the departing user was the only
// ADMIN, the longest-standing remaining member is promoted.
func (g *GroupService) RemoveMember(ctx context.Context, callerID, groupID, targetID string) error {
	group, err := g.groupByID(ctx, groupID)
	if err != nil {
		return err
	}

	caller, err := g.store.GetParticipant(ctx, group.ConversationID, callerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.Forbidden("Not a member of this group")
		}
		return fmt.Errorf("looking up participant: %w", err)
	}
	leaving := callerID == targetID
	if !leaving && caller.Role != store.RoleAdmin {
		return apperr.Forbidden("Admin privileges required")
	}

	target, err := g.store.GetUser(ctx, targetID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("User not found")
		}
		return fmt.Errorf("looking up user: %w", err)
	}

	now := time.Now().UTC()
	var content string
	if leaving {
		content = fmt.Sprintf("%s left the group", target.DisplayName)
	} else {
		content = fmt.Sprintf("removed %s", target.DisplayName)
	}
	sysMsg := systemMessage(group.ConversationID, callerID, content, now)

	promoted, err := g.store.RemoveGroupMember(ctx, group.ConversationID, targetID, sysMsg, now)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("User is not a member of this group")
		}
		return fmt.Errorf("removing member: %w", err)
	}
	if promoted != "" {
		g.logger.Info("group admin auto-promoted", "group_id", group.ID, "user_id", promoted)
	}
	return nil
}

// UpdateRole changes a member's role. Admin-only. The last ADMIN cannot be
// demoted.
func (g *GroupService) UpdateRole(ctx context.Context, callerID, groupID, targetID, role string) error {
	if role != store.RoleAdmin && role != store.RoleMember {
		return apperr.Validation("Role must be ADMIN or MEMBER")
	}

	group, err := g.groupByID(ctx, groupID)
	if err != nil {
		return err
	}
	if _, err := g.requireAdmin(ctx, group.ConversationID, callerID); err != nil {
		return err
	}

	target, err := g.store.GetParticipant(ctx, group.ConversationID, targetID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("User is not a member of this group")
		}
		return fmt.Errorf("looking up participant: %w", err)
	}
	if target.Role == role {
		return nil
	}

	if target.Role == store.RoleAdmin && role == store.RoleMember {
		admins, err := g.store.CountAdmins(ctx, group.ConversationID)
		if err != nil {
			return fmt.Errorf("counting admins: %w", err)
		}
		if admins <= 1 {
			return apperr.Validation("Cannot demote the last admin")
		}
	}

	if err := g.store.UpdateParticipantRole(ctx, group.ConversationID, targetID, role); err != nil {
		return fmt.Errorf("updating role: %w", err)
	}
	return nil
}

func (g *GroupService) groupByID(ctx context.Context, groupID string) (*store.Group, error) {
	group, err := g.store.GetGroup(ctx, groupID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("Group not found")
		}
		return nil, fmt.Errorf("looking up group: %w", err)
	}
	return group, nil
}

// requireAdmin distinguishes non-members from non-admin members.
func (g *GroupService) requireAdmin(ctx context.Context, conversationID, callerID string) (*store.Participant, error) {
	part, err := g.store.GetParticipant(ctx, conversationID, callerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.Forbidden("Not a member of this group")
		}
		return nil, fmt.Errorf("looking up participant: %w", err)
	}
	if part.Role != store.RoleAdmin {
		return nil, apperr.Forbidden("Admin privileges required")
	}
	return part, nil
}

func systemMessage(conversationID, senderID, content string, when time.Time) *store.Message {
	return &store.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		ContentType:    store.ContentTypeSystem,
		CreatedAt:      when,
	}
}

// dedupe removes duplicates and the excluded ID while preserving order.
func dedupe(ids []string, exclude string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || id == exclude {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
