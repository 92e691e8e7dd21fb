package wallet

import (
	"context"

	"github.com/shopspring/decimal"
)

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing wallet operation.
type OperationLog struct {
	Operation      string
	Actor          string
	BusinessUnitID BusinessUnitID
	WalletID       WalletID
	EntryID        EntryID
	EntryType      EntryType
	EntryStatus    EntryStatus
	Amount         decimal.Decimal
	Status         string
	Error          error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
// It may be passed more than once; every logger receives every entry.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		if logger != nil {
			service.loggers = append(service.loggers, logger)
		}
	}
}

// WithAccessChecker wires the permission check run at the start of each operation.
func WithAccessChecker(checker AccessChecker) ServiceOption {
	return func(service *Service) {
		service.access = checker
	}
}

// WithCustomerResolver wires customer resolution for the burn flow.
func WithCustomerResolver(resolver CustomerResolver) ServiceOption {
	return func(service *Service) {
		service.customers = resolver
	}
}

// WithRuleLookup wires burn rule lookup.
func WithRuleLookup(lookup RuleLookup) ServiceOption {
	return func(service *Service) {
		service.rules = lookup
	}
}

// WithNotificationDispatcher wires the outbound notification queue.
func WithNotificationDispatcher(dispatcher NotificationDispatcher) ServiceOption {
	return func(service *Service) {
		service.notifier = dispatcher
	}
}

// WithAuditSink wires the audit event sink.
func WithAuditSink(sink AuditSink) ServiceOption {
	return func(service *Service) {
		service.audit = sink
	}
}

// WithSweepBatchSize bounds how many entries a sweep loads per query.
func WithSweepBatchSize(size int) ServiceOption {
	return func(service *Service) {
		if size > 0 {
			service.sweepBatchSize = size
		}
	}
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if len(service.loggers) == 0 {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	for _, logger := range service.loggers {
		logger.LogOperation(ctx, entry)
	}
}

func (service *Service) recordAudit(ctx context.Context, event AuditEvent) {
	if service.audit == nil {
		return
	}
	if event.At.IsZero() {
		event.At = service.nowFn()
	}
	if err := service.audit.RecordAudit(ctx, event); err != nil {
		service.logOperation(ctx, OperationLog{
			Operation:      operationAudit,
			Actor:          event.Actor,
			BusinessUnitID: event.BusinessUnitID,
			WalletID:       event.WalletID,
			EntryID:        event.EntryID,
			Error:          err,
		})
	}
}
