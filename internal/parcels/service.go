package parcels

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/parcel-desk/backend/internal/metrics"
	"go.uber.org/zap"
)

var (
	errMissingStore      = errors.New("store is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingPackageID  = errors.New("package identifier is required")
	noOpLogger           = zap.NewNop()
)

const (
	opServiceNew            = "parcels.service.new"
	opRecordArrival         = "parcels.record_arrival"
	opMarkCollected         = "parcels.mark_collected"
	opChangeStatus          = "parcels.change_status"
	opUpdatePackageDetails  = "parcels.update_package_details"
	opDeletePackage         = "parcels.delete_package"
	opGetPackage            = "parcels.get_package"
	opListPackages          = "parcels.list_packages"
	opSendReminder          = "parcels.send_reminder"
	opReport                = "parcels.report"
	opRecentActivity        = "parcels.recent_activity"
	opResolveRecipient      = "parcels.resolve_recipient"
	opPing                  = "parcels.ping"
	reasonMissingStore      = "missing_store"
	reasonMissingPackageID  = "missing_package_id"
	reasonPackageNotFound   = "package_not_found"
	reasonLookupFailed      = "lookup_failed"
	reasonInsertFailed      = "insert_failed"
	reasonUpdateFailed      = "update_failed"
	reasonDeleteFailed      = "delete_failed"
	reasonQueryFailed       = "query_failed"
	reasonIDGeneration      = "id_generation_failed"
	reasonInvalidTransition = "invalid_transition"
	defaultOperationTimeout = 5 * time.Second
	reminderDayLayout       = "2006-01-02"
)

// ServiceConfig describes the dependencies of the package lifecycle service.
type ServiceConfig struct {
	Store            Store
	Notifier         Notifier
	Clock            func() time.Time
	IDProvider       IDProvider
	Logger           *zap.Logger
	OperationTimeout time.Duration
	Location         *time.Location
}

// Service orchestrates package arrivals, status transitions, recipient administration and
// the notification attempt that follows each package event.
type Service struct {
	store      Store
	notifier   Notifier
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
	timeout    time.Duration
	location   *time.Location
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opServiceNew, reasonMissingStore, ErrValidation, errMissingStore)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", ErrValidation, errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	timeout := cfg.OperationTimeout
	if timeout <= 0 {
		timeout = defaultOperationTimeout
	}

	location := cfg.Location
	if location == nil {
		location = time.UTC
	}

	return &Service{
		store:      cfg.Store,
		notifier:   cfg.Notifier,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
		timeout:    timeout,
		location:   location,
	}, nil
}

// ArrivalResult is the outcome of RecordArrival.
type ArrivalResult struct {
	Package      Package
	Notification NotificationResult
}

// StatusResult is the outcome of a status change. Changed is false when the package
// was already in the requested status.
type StatusResult struct {
	Package      Package
	Changed      bool
	Notification NotificationResult
}

// RecordArrival validates and stores a newly arrived package with its "added" audit entry,
// then attempts to notify the resolved recipient. Notification problems never fail the call.
func (s *Service) RecordArrival(ctx context.Context, input ArrivalInput) (ArrivalResult, error) {
	if err := s.ready(opRecordArrival); err != nil {
		return ArrivalResult{}, err
	}

	sender := strings.TrimSpace(input.SenderName)
	recipientName := strings.TrimSpace(input.RecipientName)
	item := strings.TrimSpace(input.ItemDescription)
	recipientID := strings.TrimSpace(input.RecipientID)

	if sender == "" {
		return ArrivalResult{}, validationError(opRecordArrival, "missing_sender", "sender name is required")
	}
	if recipientID == "" && recipientName == "" {
		return ArrivalResult{}, validationError(opRecordArrival, "missing_recipient", "recipient link or recipient name is required")
	}
	if item == "" {
		return ArrivalResult{}, validationError(opRecordArrival, "missing_item", "item description is required")
	}
	if len(sender) > maxTextLength || len(recipientName) > maxTextLength || len(item) > maxTextLength {
		return ArrivalResult{}, validationError(opRecordArrival, "field_too_long", fmt.Sprintf("fields must not exceed %d characters", maxTextLength))
	}
	if len(recipientID) > maxIdentifierLength {
		return ArrivalResult{}, validationError(opRecordArrival, "invalid_recipient_id", "recipient identifier is too long")
	}

	condition, err := ParseCondition(input.Condition)
	if err != nil {
		return ArrivalResult{}, newServiceError(opRecordArrival, "invalid_condition", ErrValidation, err)
	}

	var linked *Recipient
	if recipientID != "" {
		linked, err = s.fetchRecipient(ctx, recipientID)
		if err != nil {
			s.logError(opRecordArrival, reasonLookupFailed, err, zap.String("recipient_id", recipientID))
			return ArrivalResult{}, newServiceError(opRecordArrival, reasonLookupFailed, ErrPersistence, err)
		}
		if linked == nil {
			return ArrivalResult{}, validationError(opRecordArrival, "unknown_recipient", fmt.Sprintf("recipient %s does not exist", recipientID))
		}
		if recipientName == "" {
			recipientName = linked.DisplayName
		}
	}

	gender, err := arrivalGender(input.Gender, linked)
	if err != nil {
		return ArrivalResult{}, newServiceError(opRecordArrival, "invalid_gender", ErrValidation, err)
	}

	packageID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opRecordArrival, reasonIDGeneration, err)
		return ArrivalResult{}, newServiceError(opRecordArrival, reasonIDGeneration, ErrPersistence, err)
	}
	entryID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opRecordArrival, reasonIDGeneration, err)
		return ArrivalResult{}, newServiceError(opRecordArrival, reasonIDGeneration, ErrPersistence, err)
	}

	arrivedAt := s.clock().UTC()
	pkg := Package{
		ID:              packageID,
		SenderName:      sender,
		RecipientName:   recipientName,
		ItemDescription: item,
		Condition:       condition,
		Note:            strings.TrimSpace(input.Note),
		Status:          StatusArrived,
		Gender:          gender,
		ArrivedAt:       arrivedAt,
	}
	if linked != nil {
		linkedID := linked.ID
		pkg.RecipientID = &linkedID
	}
	entry := &ActivityLog{
		ID:          entryID,
		PackageID:   &pkg.ID,
		Action:      ActionAdded,
		Description: fmt.Sprintf("Package %s from %s for %s arrived", item, sender, recipientName),
		CreatedAt:   arrivedAt,
	}

	storeCtx, cancel := s.withTimeout(ctx)
	err = s.store.InsertPackage(storeCtx, &pkg, entry)
	cancel()
	if errors.Is(err, ErrRecordMissing) {
		return ArrivalResult{}, validationError(opRecordArrival, "unknown_recipient", fmt.Sprintf("recipient %s does not exist", recipientID))
	}
	if err != nil {
		s.logError(opRecordArrival, reasonInsertFailed, err, zap.String("package_id", packageID))
		return ArrivalResult{}, newServiceError(opRecordArrival, reasonInsertFailed, ErrPersistence, err)
	}
	pkg.Recipient = linked
	metrics.IncPackageRecorded()

	s.logger.Info("package arrival recorded",
		zap.String("package_id", pkg.ID),
		zap.String("recipient_name", pkg.RecipientName),
		zap.String("condition", string(pkg.Condition)))

	result := ArrivalResult{Package: pkg}
	result.Notification = s.notify(ctx, EventArrived, EventKey(EventArrived, pkg.ID), pkg)
	return result, nil
}

// MarkCollected moves a package to collected and notifies the recipient. Repeating the call
// on a collected package does not write again but still consults the notifier, whose dedup
// guard keeps a delivered "collected" message from being sent twice.
func (s *Service) MarkCollected(ctx context.Context, packageID string) (StatusResult, error) {
	if err := s.ready(opMarkCollected); err != nil {
		return StatusResult{}, err
	}
	pkg, err := s.loadPackage(ctx, opMarkCollected, packageID)
	if err != nil {
		return StatusResult{}, err
	}

	transition, err := resolveStatusChange(pkg, StatusCollected, s.clock())
	if err != nil {
		return StatusResult{}, newServiceError(opMarkCollected, reasonInvalidTransition, ErrConflict, err)
	}

	changed := false
	if transition.Apply {
		entryID, err := s.idProvider.NewID()
		if err != nil {
			s.logError(opMarkCollected, reasonIDGeneration, err)
			return StatusResult{}, newServiceError(opMarkCollected, reasonIDGeneration, ErrPersistence, err)
		}
		transition.AuditRecord.ID = entryID

		storeCtx, cancel := s.withTimeout(ctx)
		affected, err := s.store.UpdatePackageStatus(storeCtx, pkg.ID, transition.Status, transition.CollectedAt, transition.AuditRecord)
		cancel()
		if err != nil {
			s.logError(opMarkCollected, reasonUpdateFailed, err, zap.String("package_id", pkg.ID))
			return StatusResult{}, newServiceError(opMarkCollected, reasonUpdateFailed, ErrPersistence, err)
		}
		if affected > 0 {
			changed = true
			pkg.Status = transition.Status
			pkg.CollectedAt = transition.CollectedAt
		} else {
			// Another request moved or removed the package between the read and the write.
			pkg, err = s.loadPackage(ctx, opMarkCollected, packageID)
			if err != nil {
				return StatusResult{}, err
			}
		}
	}

	if changed {
		metrics.IncPackageCollected()
		s.logger.Info("package collected", zap.String("package_id", pkg.ID))
	}

	result := StatusResult{Package: *pkg, Changed: changed}
	result.Notification = s.notify(ctx, EventCollected, EventKey(EventCollected, pkg.ID), *pkg)
	return result, nil
}

// ChangeStatus applies a raw status value. Only arrived -> collected writes; any attempt to
// move a collected package back is a conflict.
func (s *Service) ChangeStatus(ctx context.Context, packageID, rawStatus string) (StatusResult, error) {
	if err := s.ready(opChangeStatus); err != nil {
		return StatusResult{}, err
	}
	status, err := ParseStatus(rawStatus)
	if err != nil {
		return StatusResult{}, newServiceError(opChangeStatus, "invalid_status", ErrValidation, err)
	}
	if status == StatusCollected {
		return s.MarkCollected(ctx, packageID)
	}

	pkg, err := s.loadPackage(ctx, opChangeStatus, packageID)
	if err != nil {
		return StatusResult{}, err
	}
	transition, err := resolveStatusChange(pkg, status, s.clock())
	if err != nil {
		return StatusResult{}, newServiceError(opChangeStatus, reasonInvalidTransition, ErrConflict, err)
	}
	pkg.Status = transition.Status
	return StatusResult{
		Package:      *pkg,
		Changed:      false,
		Notification: NotificationResult{Outcome: OutcomeDisabled},
	}, nil
}

// PackageDetailsInput carries editable package fields. Nil fields keep their value.
type PackageDetailsInput struct {
	Condition *string
	Note      *string
}

// UpdatePackageDetails edits the condition tag and note of a package.
func (s *Service) UpdatePackageDetails(ctx context.Context, packageID string, input PackageDetailsInput) (Package, error) {
	if err := s.ready(opUpdatePackageDetails); err != nil {
		return Package{}, err
	}
	pkg, err := s.loadPackage(ctx, opUpdatePackageDetails, packageID)
	if err != nil {
		return Package{}, err
	}

	condition := pkg.Condition
	if input.Condition != nil {
		condition, err = ParseCondition(*input.Condition)
		if err != nil {
			return Package{}, newServiceError(opUpdatePackageDetails, "invalid_condition", ErrValidation, err)
		}
	}
	note := pkg.Note
	if input.Note != nil {
		note = strings.TrimSpace(*input.Note)
	}

	entryID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opUpdatePackageDetails, reasonIDGeneration, err)
		return Package{}, newServiceError(opUpdatePackageDetails, reasonIDGeneration, ErrPersistence, err)
	}
	entry := &ActivityLog{
		ID:          entryID,
		PackageID:   &pkg.ID,
		Action:      ActionUpdated,
		Description: fmt.Sprintf("Package %s for %s updated: condition %s", pkg.ItemDescription, pkg.RecipientName, condition),
		CreatedAt:   s.clock().UTC(),
	}

	storeCtx, cancel := s.withTimeout(ctx)
	affected, err := s.store.UpdatePackageDetails(storeCtx, pkg.ID, condition, note, entry)
	cancel()
	if err != nil {
		s.logError(opUpdatePackageDetails, reasonUpdateFailed, err, zap.String("package_id", pkg.ID))
		return Package{}, newServiceError(opUpdatePackageDetails, reasonUpdateFailed, ErrPersistence, err)
	}
	if affected == 0 {
		return Package{}, newServiceError(opUpdatePackageDetails, reasonPackageNotFound, ErrNotFound, fmt.Errorf("package %s not found", pkg.ID))
	}

	pkg.Condition = condition
	pkg.Note = note
	return *pkg, nil
}

// DeletePackage removes a package together with its audit entries in one transaction.
func (s *Service) DeletePackage(ctx context.Context, packageID string) error {
	if err := s.ready(opDeletePackage); err != nil {
		return err
	}
	packageID = strings.TrimSpace(packageID)
	if packageID == "" {
		return newServiceError(opDeletePackage, reasonMissingPackageID, ErrValidation, errMissingPackageID)
	}

	entryID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opDeletePackage, reasonIDGeneration, err)
		return newServiceError(opDeletePackage, reasonIDGeneration, ErrPersistence, err)
	}
	entry := &ActivityLog{
		ID:          entryID,
		Action:      ActionDeleted,
		Description: fmt.Sprintf("Package %s deleted", packageID),
		CreatedAt:   s.clock().UTC(),
	}

	storeCtx, cancel := s.withTimeout(ctx)
	affected, err := s.store.DeletePackageCascade(storeCtx, packageID, entry)
	cancel()
	if err != nil {
		s.logError(opDeletePackage, reasonDeleteFailed, err, zap.String("package_id", packageID))
		return newServiceError(opDeletePackage, reasonDeleteFailed, ErrPersistence, err)
	}
	if affected == 0 {
		return newServiceError(opDeletePackage, reasonPackageNotFound, ErrNotFound, fmt.Errorf("package %s not found", packageID))
	}

	s.logger.Info("package deleted", zap.String("package_id", packageID))
	return nil
}

// GetPackage returns a single package joined with its linked recipient.
func (s *Service) GetPackage(ctx context.Context, packageID string) (Package, error) {
	if err := s.ready(opGetPackage); err != nil {
		return Package{}, err
	}
	pkg, err := s.loadPackage(ctx, opGetPackage, packageID)
	if err != nil {
		return Package{}, err
	}
	return *pkg, nil
}

// ListPackages returns packages matching the filter, newest arrival first.
func (s *Service) ListPackages(ctx context.Context, filter PackageFilter) ([]Package, error) {
	if err := s.ready(opListPackages); err != nil {
		return nil, err
	}
	storeCtx, cancel := s.withTimeout(ctx)
	defer cancel()
	packages, err := s.store.ListPackages(storeCtx, filter)
	if err != nil {
		s.logError(opListPackages, reasonQueryFailed, err)
		return nil, newServiceError(opListPackages, reasonQueryFailed, ErrPersistence, err)
	}
	return packages, nil
}

// SendReminder notifies the recipient of an uncollected package. Reminders are keyed by
// package and local calendar day, so at most one goes out per package per day.
func (s *Service) SendReminder(ctx context.Context, packageID string) (NotificationResult, error) {
	if err := s.ready(opSendReminder); err != nil {
		return NotificationResult{}, err
	}
	pkg, err := s.loadPackage(ctx, opSendReminder, packageID)
	if err != nil {
		return NotificationResult{}, err
	}
	if pkg.Status == StatusCollected {
		return NotificationResult{}, newServiceError(opSendReminder, "already_collected", ErrConflict, fmt.Errorf("package %s was already collected", pkg.ID))
	}
	day := s.clock().In(s.location).Format(reminderDayLayout)
	key := EventKey(EventReminder, pkg.ID) + ":" + day
	return s.notify(ctx, EventReminder, key, *pkg), nil
}

// Report is a date-ranged package summary.
type Report struct {
	From       time.Time
	To         time.Time
	Packages   []Package
	Total      int
	Arrived    int
	Collected  int
	Perishable int
}

// Report lists packages that arrived between the from and to calendar days, inclusive,
// in the service location.
func (s *Service) Report(ctx context.Context, from, to time.Time) (Report, error) {
	if err := s.ready(opReport); err != nil {
		return Report{}, err
	}
	if from.IsZero() || to.IsZero() {
		return Report{}, validationError(opReport, "missing_range", "from and to dates are required")
	}
	start := startOfDay(from, s.location)
	end := startOfDay(to, s.location).AddDate(0, 0, 1)
	if !end.After(start) {
		return Report{}, validationError(opReport, "invalid_range", "to must not be before from")
	}

	storeCtx, cancel := s.withTimeout(ctx)
	defer cancel()
	packages, err := s.store.ListPackages(storeCtx, PackageFilter{ArrivedFrom: start, ArrivedBefore: end})
	if err != nil {
		s.logError(opReport, reasonQueryFailed, err)
		return Report{}, newServiceError(opReport, reasonQueryFailed, ErrPersistence, err)
	}

	report := Report{From: start, To: end.AddDate(0, 0, -1), Packages: packages, Total: len(packages)}
	for _, pkg := range packages {
		switch pkg.Status {
		case StatusCollected:
			report.Collected++
		default:
			report.Arrived++
		}
		if pkg.Condition == ConditionPerishable {
			report.Perishable++
		}
	}
	return report, nil
}

// RecentActivity returns the newest audit entries, capped at RecentActivityLimit.
func (s *Service) RecentActivity(ctx context.Context, limit int) ([]ActivityView, error) {
	if err := s.ready(opRecentActivity); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > RecentActivityLimit {
		limit = RecentActivityLimit
	}
	storeCtx, cancel := s.withTimeout(ctx)
	defer cancel()
	views, err := s.store.FetchRecentActivityLogs(storeCtx, limit)
	if err != nil {
		s.logError(opRecentActivity, reasonQueryFailed, err)
		return nil, newServiceError(opRecentActivity, reasonQueryFailed, ErrPersistence, err)
	}
	return views, nil
}

// ResolveRecipient picks who should hear about a package: the linked recipient when the
// package has one, otherwise the first recipient of the package's gender whose display
// name contains the package's recipient name. It returns nil when nobody matches.
func (s *Service) ResolveRecipient(ctx context.Context, pkg Package) (*Recipient, error) {
	if err := s.ready(opResolveRecipient); err != nil {
		return nil, err
	}
	if pkg.RecipientID != nil && strings.TrimSpace(*pkg.RecipientID) != "" {
		if pkg.Recipient != nil && pkg.Recipient.ID == *pkg.RecipientID {
			return pkg.Recipient, nil
		}
		linked, err := s.fetchRecipient(ctx, *pkg.RecipientID)
		if err != nil {
			return nil, newServiceError(opResolveRecipient, reasonLookupFailed, ErrPersistence, err)
		}
		if linked != nil {
			return linked, nil
		}
	}

	name := strings.TrimSpace(pkg.RecipientName)
	if name == "" {
		return nil, nil
	}
	storeCtx, cancel := s.withTimeout(ctx)
	defer cancel()
	matches, err := s.store.SearchRecipientsByNameAndGender(storeCtx, name, pkg.Gender)
	if err != nil {
		return nil, newServiceError(opResolveRecipient, reasonQueryFailed, ErrPersistence, err)
	}
	if len(matches) == 0 {
		return nil, nil
	}
	match := matches[0]
	return &match, nil
}

// Ping checks that the store answers within the operation timeout.
func (s *Service) Ping(ctx context.Context) error {
	if err := s.ready(opPing); err != nil {
		return err
	}
	storeCtx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.store.Ping(storeCtx); err != nil {
		return newServiceError(opPing, "ping_failed", ErrPersistence, err)
	}
	return nil
}

func (s *Service) notify(ctx context.Context, event Event, key string, pkg Package) NotificationResult {
	if s.notifier == nil {
		return NotificationResult{Outcome: OutcomeDisabled}
	}
	recipient, err := s.ResolveRecipient(ctx, pkg)
	if err != nil {
		s.logger.Warn("recipient resolution failed",
			zap.String("package_id", pkg.ID),
			zap.String("event", string(event)),
			zap.Error(err))
		return NotificationResult{Outcome: OutcomeUnresolved, Err: err}
	}
	if recipient != nil && pkg.Recipient == nil && pkg.RecipientID != nil && *pkg.RecipientID == recipient.ID {
		pkg.Recipient = recipient
	}
	return s.notifier.Dispatch(ctx, Notification{
		Event:     event,
		Key:       key,
		Package:   pkg,
		Recipient: recipient,
	})
}

func (s *Service) loadPackage(ctx context.Context, operation, packageID string) (*Package, error) {
	packageID = strings.TrimSpace(packageID)
	if packageID == "" {
		return nil, newServiceError(operation, reasonMissingPackageID, ErrValidation, errMissingPackageID)
	}
	storeCtx, cancel := s.withTimeout(ctx)
	defer cancel()
	pkg, err := s.store.FetchPackage(storeCtx, packageID)
	if err != nil {
		s.logError(operation, reasonLookupFailed, err, zap.String("package_id", packageID))
		return nil, newServiceError(operation, reasonLookupFailed, ErrPersistence, err)
	}
	if pkg == nil {
		return nil, newServiceError(operation, reasonPackageNotFound, ErrNotFound, fmt.Errorf("package %s not found", packageID))
	}
	return pkg, nil
}

func (s *Service) fetchRecipient(ctx context.Context, recipientID string) (*Recipient, error) {
	storeCtx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.store.FetchRecipient(storeCtx, recipientID)
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Service) ready(operation string) error {
	if s == nil {
		return newServiceError(operation, reasonMissingStore, ErrPersistence, errMissingStore)
	}
	if s.store == nil {
		s.logError(operation, reasonMissingStore, errMissingStore)
		return newServiceError(operation, reasonMissingStore, ErrPersistence, errMissingStore)
	}
	if s.idProvider == nil {
		s.logError(operation, "missing_id_provider", errMissingIDProvider)
		return newServiceError(operation, "missing_id_provider", ErrPersistence, errMissingIDProvider)
	}
	return nil
}

func arrivalGender(raw string, linked *Recipient) (Gender, error) {
	if strings.TrimSpace(raw) != "" {
		return ParseGender(raw)
	}
	if linked != nil && linked.Gender != "" {
		return linked.Gender, nil
	}
	return GenderMale, nil
}

func startOfDay(value time.Time, location *time.Location) time.Time {
	local := value.In(location)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, location)
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("parcels service error", attrs...)
}

// Location returns the time zone used for calendar-day boundaries.
func (s *Service) Location() *time.Location {
	return s.location
}
