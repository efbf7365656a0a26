package parcels

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

const (
	opCreateRecipient       = "parcels.create_recipient"
	opUpdateRecipient       = "parcels.update_recipient"
	opDeleteRecipient       = "parcels.delete_recipient"
	opGetRecipient          = "parcels.get_recipient"
	opListRecipients        = "parcels.list_recipients"
	reasonRecipientNotFound = "recipient_not_found"
	reasonRecipientInUse    = "recipient_in_use"
	maxPhoneLength          = 32
)

var errMissingRecipientID = errors.New("recipient identifier is required")

// CreateRecipient validates and stores a new recipient with a "recipient_added" audit entry.
func (s *Service) CreateRecipient(ctx context.Context, input RecipientInput) (Recipient, error) {
	if err := s.ready(opCreateRecipient); err != nil {
		return Recipient{}, err
	}
	recipient, err := buildRecipient(opCreateRecipient, input)
	if err != nil {
		return Recipient{}, err
	}

	recipientID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreateRecipient, reasonIDGeneration, err)
		return Recipient{}, newServiceError(opCreateRecipient, reasonIDGeneration, ErrPersistence, err)
	}
	entryID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreateRecipient, reasonIDGeneration, err)
		return Recipient{}, newServiceError(opCreateRecipient, reasonIDGeneration, ErrPersistence, err)
	}
	recipient.ID = recipientID
	now := s.clock().UTC()
	recipient.CreatedAt = now
	recipient.UpdatedAt = now

	entry := &ActivityLog{
		ID:          entryID,
		Action:      ActionRecipientAdded,
		Description: fmt.Sprintf("Recipient %s (%s, room %s) added", recipient.DisplayName, recipient.Role, recipient.RoomName),
		CreatedAt:   now,
	}

	storeCtx, cancel := s.withTimeout(ctx)
	err = s.store.CreateRecipient(storeCtx, &recipient, entry)
	cancel()
	if IsUniqueViolation(err) {
		return Recipient{}, newServiceError(opCreateRecipient, "duplicate_recipient", ErrConflict, err)
	}
	if err != nil {
		s.logError(opCreateRecipient, reasonInsertFailed, err, zap.String("recipient_id", recipientID))
		return Recipient{}, newServiceError(opCreateRecipient, reasonInsertFailed, ErrPersistence, err)
	}

	s.logger.Info("recipient created",
		zap.String("recipient_id", recipient.ID),
		zap.String("role", string(recipient.Role)),
		zap.String("gender", string(recipient.Gender)))
	return recipient, nil
}

// UpdateRecipient replaces the administrative fields of an existing recipient.
func (s *Service) UpdateRecipient(ctx context.Context, recipientID string, input RecipientInput) (Recipient, error) {
	if err := s.ready(opUpdateRecipient); err != nil {
		return Recipient{}, err
	}
	existing, err := s.loadRecipient(ctx, opUpdateRecipient, recipientID)
	if err != nil {
		return Recipient{}, err
	}
	recipient, err := buildRecipient(opUpdateRecipient, input)
	if err != nil {
		return Recipient{}, err
	}
	recipient.ID = existing.ID
	recipient.CreatedAt = existing.CreatedAt
	recipient.UpdatedAt = s.clock().UTC()

	entryID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opUpdateRecipient, reasonIDGeneration, err)
		return Recipient{}, newServiceError(opUpdateRecipient, reasonIDGeneration, ErrPersistence, err)
	}
	entry := &ActivityLog{
		ID:          entryID,
		Action:      ActionRecipientUpdated,
		Description: fmt.Sprintf("Recipient %s (%s, room %s) updated", recipient.DisplayName, recipient.Role, recipient.RoomName),
		CreatedAt:   recipient.UpdatedAt,
	}

	storeCtx, cancel := s.withTimeout(ctx)
	err = s.store.UpdateRecipient(storeCtx, &recipient, entry)
	cancel()
	if errors.Is(err, ErrRecordMissing) {
		return Recipient{}, newServiceError(opUpdateRecipient, reasonRecipientNotFound, ErrNotFound, fmt.Errorf("recipient %s not found", recipient.ID))
	}
	if err != nil {
		s.logError(opUpdateRecipient, reasonUpdateFailed, err, zap.String("recipient_id", recipient.ID))
		return Recipient{}, newServiceError(opUpdateRecipient, reasonUpdateFailed, ErrPersistence, err)
	}
	return recipient, nil
}

// DeleteRecipient removes a recipient. It fails with a conflict while any package still
// references the recipient and leaves every row unchanged.
func (s *Service) DeleteRecipient(ctx context.Context, recipientID string) error {
	if err := s.ready(opDeleteRecipient); err != nil {
		return err
	}
	existing, err := s.loadRecipient(ctx, opDeleteRecipient, recipientID)
	if err != nil {
		return err
	}

	entryID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opDeleteRecipient, reasonIDGeneration, err)
		return newServiceError(opDeleteRecipient, reasonIDGeneration, ErrPersistence, err)
	}
	entry := &ActivityLog{
		ID:          entryID,
		Action:      ActionRecipientDeleted,
		Description: fmt.Sprintf("Recipient %s (room %s) deleted", existing.DisplayName, existing.RoomName),
		CreatedAt:   s.clock().UTC(),
	}

	storeCtx, cancel := s.withTimeout(ctx)
	err = s.store.DeleteRecipient(storeCtx, existing.ID, entry)
	cancel()
	switch {
	case errors.Is(err, ErrRecipientInUse):
		return newServiceError(opDeleteRecipient, reasonRecipientInUse, ErrConflict, fmt.Errorf("recipient %s still has packages", existing.ID))
	case errors.Is(err, ErrRecordMissing):
		return newServiceError(opDeleteRecipient, reasonRecipientNotFound, ErrNotFound, fmt.Errorf("recipient %s not found", existing.ID))
	case err != nil:
		s.logError(opDeleteRecipient, reasonDeleteFailed, err, zap.String("recipient_id", existing.ID))
		return newServiceError(opDeleteRecipient, reasonDeleteFailed, ErrPersistence, err)
	}

	s.logger.Info("recipient deleted", zap.String("recipient_id", existing.ID))
	return nil
}

// GetRecipient returns one recipient by identifier.
func (s *Service) GetRecipient(ctx context.Context, recipientID string) (Recipient, error) {
	if err := s.ready(opGetRecipient); err != nil {
		return Recipient{}, err
	}
	recipient, err := s.loadRecipient(ctx, opGetRecipient, recipientID)
	if err != nil {
		return Recipient{}, err
	}
	return *recipient, nil
}

// ListRecipients returns recipients ordered by gender, role and display name.
func (s *Service) ListRecipients(ctx context.Context, filter RecipientFilter) ([]Recipient, error) {
	if err := s.ready(opListRecipients); err != nil {
		return nil, err
	}
	storeCtx, cancel := s.withTimeout(ctx)
	defer cancel()

	var (
		recipients []Recipient
		err        error
	)
	if filter.Gender != "" && filter.Role != "" && strings.TrimSpace(filter.Query) == "" {
		recipients, err = s.store.FetchRecipientsByGenderAndRole(storeCtx, filter.Gender, filter.Role)
	} else {
		recipients, err = s.store.ListRecipients(storeCtx, filter)
	}
	if err != nil {
		s.logError(opListRecipients, reasonQueryFailed, err)
		return nil, newServiceError(opListRecipients, reasonQueryFailed, ErrPersistence, err)
	}
	return recipients, nil
}

func (s *Service) loadRecipient(ctx context.Context, operation, recipientID string) (*Recipient, error) {
	recipientID = strings.TrimSpace(recipientID)
	if recipientID == "" {
		return nil, newServiceError(operation, "missing_recipient_id", ErrValidation, errMissingRecipientID)
	}
	recipient, err := s.fetchRecipient(ctx, recipientID)
	if err != nil {
		s.logError(operation, reasonLookupFailed, err, zap.String("recipient_id", recipientID))
		return nil, newServiceError(operation, reasonLookupFailed, ErrPersistence, err)
	}
	if recipient == nil {
		return nil, newServiceError(operation, reasonRecipientNotFound, ErrNotFound, fmt.Errorf("recipient %s not found", recipientID))
	}
	return recipient, nil
}

func buildRecipient(operation string, input RecipientInput) (Recipient, error) {
	room := strings.TrimSpace(input.RoomName)
	name := strings.TrimSpace(input.DisplayName)
	phone := strings.TrimSpace(input.Phone)

	if room == "" {
		return Recipient{}, validationError(operation, "missing_room", "room name is required")
	}
	if name == "" {
		return Recipient{}, validationError(operation, "missing_display_name", "display name is required")
	}
	if len(room) > maxTextLength || len(name) > maxTextLength {
		return Recipient{}, validationError(operation, "field_too_long", fmt.Sprintf("fields must not exceed %d characters", maxTextLength))
	}
	if phone == "" {
		return Recipient{}, validationError(operation, "missing_phone", "phone number is required")
	}
	if len(phone) > maxPhoneLength {
		return Recipient{}, validationError(operation, "invalid_phone", "phone number is too long")
	}

	if strings.TrimSpace(input.Gender) == "" {
		return Recipient{}, validationError(operation, "missing_gender", "gender is required")
	}
	gender, err := ParseGender(input.Gender)
	if err != nil {
		return Recipient{}, newServiceError(operation, "invalid_gender", ErrValidation, err)
	}
	role, err := ParseRole(input.Role)
	if err != nil {
		return Recipient{}, newServiceError(operation, "invalid_role", ErrValidation, err)
	}

	return Recipient{
		RoomName:    room,
		DisplayName: name,
		Phone:       phone,
		Gender:      gender,
		Role:        role,
	}, nil
}
