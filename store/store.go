// Package store is the tenant-scoped persistence layer for receive
// requests and outbound payments. Every read and write is filtered by
// the store's tenant scope, except the explicitly tenant-agnostic
// operations the reconciler uses to iterate all tenants.
package store

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Marfusios/strike-lightning-bridge/db"
	"github.com/Marfusios/strike-lightning-bridge/logger"
)

type Store struct {
	db *gorm.DB
	// empty means tenant-agnostic; only the administrative operations
	// work in that mode
	tenantId string
}

// NewStore returns a store bound to the given tenant. Pass an empty
// tenant id for the reconciler's cross-tenant administrative access.
func NewStore(gormDB *gorm.DB, tenantId string) *Store {
	return &Store{
		db:       gormDB,
		tenantId: tenantId,
	}
}

func (s *Store) TenantId() string {
	return s.tenantId
}

// WithTenant returns a store bound to the given tenant sharing the
// same database handle.
func (s *Store) WithTenant(tenantId string) *Store {
	return &Store{db: s.db, tenantId: tenantId}
}

// GetOutstanding returns this tenant's requests that reconciliation
// has not finished handling yet.
func (s *Store) GetOutstanding(ctx context.Context) ([]db.ReceiveRequest, error) {
	if err := s.validateTenantSet(); err != nil {
		return nil, err
	}

	var requests []db.ReceiveRequest
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND observed = ?", s.tenantId, false).
		Find(&requests).Error
	if err != nil {
		return nil, err
	}
	return requests, nil
}

// GetOutstandingForAllTenants is tenant-agnostic: the reconciler uses
// it to discover which tenants have work in the current cycle.
func (s *Store) GetOutstandingForAllTenants(ctx context.Context) ([]db.ReceiveRequest, error) {
	var requests []db.ReceiveRequest
	err := s.db.WithContext(ctx).
		Where("observed = ?", false).
		Find(&requests).Error
	if err != nil {
		return nil, err
	}
	return requests, nil
}

func (s *Store) FindByRequestId(ctx context.Context, requestId string) (*db.ReceiveRequest, error) {
	var request db.ReceiveRequest
	tx := s.db.WithContext(ctx)
	if s.tenantId != "" {
		tx = tx.Where("tenant_id = ?", s.tenantId)
	}
	result := tx.Limit(1).Find(&request, &db.ReceiveRequest{RequestId: requestId})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &request, nil
}

func (s *Store) FindByPaymentHash(ctx context.Context, paymentHash string) (*db.ReceiveRequest, error) {
	var request db.ReceiveRequest
	tx := s.db.WithContext(ctx)
	if s.tenantId != "" {
		tx = tx.Where("tenant_id = ?", s.tenantId)
	}
	result := tx.Limit(1).Find(&request, &db.ReceiveRequest{PaymentHash: paymentHash})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &request, nil
}

// ListRequests returns this tenant's requests ordered by creation
// time, newest first. With pendingOnly only unpaid, unexpired
// requests are returned.
func (s *Store) ListRequests(ctx context.Context, pendingOnly bool, offset int) ([]db.ReceiveRequest, error) {
	if err := s.validateTenantSet(); err != nil {
		return nil, err
	}

	tx := s.db.WithContext(ctx).Where("tenant_id = ?", s.tenantId)
	if pendingOnly {
		tx = tx.Where("paid = ? AND expires_at > ?", false, time.Now())
	}

	var requests []db.ReceiveRequest
	err := tx.Order("created_at desc").Offset(offset).Find(&requests).Error
	if err != nil {
		return nil, err
	}
	return requests, nil
}

func (s *Store) FindPaymentByPaymentHash(ctx context.Context, paymentHash string) (*db.StrikePayment, error) {
	var payment db.StrikePayment
	tx := s.db.WithContext(ctx)
	if s.tenantId != "" {
		tx = tx.Where("tenant_id = ?", s.tenantId)
	}
	result := tx.Limit(1).Find(&payment, &db.StrikePayment{PaymentHash: paymentHash})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &payment, nil
}

func (s *Store) GetPayments(ctx context.Context, onlyCompleted bool, offset int) ([]db.StrikePayment, error) {
	tx := s.db.WithContext(ctx)
	if s.tenantId != "" {
		tx = tx.Where("tenant_id = ?", s.tenantId)
	}
	if onlyCompleted {
		tx = tx.Where("completed_at IS NOT NULL")
	}

	var payments []db.StrikePayment
	err := tx.Order("created_at desc").Offset(offset).Find(&payments).Error
	if err != nil {
		return nil, err
	}
	return payments, nil
}

// SaveRequest inserts a new request under this tenant's scope, or
// persists changes to an existing one after validating it belongs to
// this tenant.
func (s *Store) SaveRequest(ctx context.Context, request *db.ReceiveRequest) error {
	if request.ID == 0 {
		if err := s.validateTenantSet(); err != nil {
			return err
		}
		request.TenantId = s.tenantId
		err := s.db.WithContext(ctx).Create(request).Error
		if err != nil {
			logger.Logger.Error().Err(err).
				Str("request_id", request.RequestId).
				Msg("Failed to store receive request")
		}
		return err
	}

	if err := s.validateTenantOwnership(request.TenantId); err != nil {
		return err
	}
	err := s.db.WithContext(ctx).Save(request).Error
	if err != nil {
		logger.Logger.Error().Err(err).
			Str("request_id", request.RequestId).
			Msg("Failed to update receive request")
	}
	return err
}

// SavePayment mirrors SaveRequest for outbound payments.
func (s *Store) SavePayment(ctx context.Context, payment *db.StrikePayment) error {
	if payment.ID == 0 {
		if err := s.validateTenantSet(); err != nil {
			return err
		}
		payment.TenantId = s.tenantId
		return s.db.WithContext(ctx).Create(payment).Error
	}

	if err := s.validateTenantOwnership(payment.TenantId); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Save(payment).Error
}

// SettlementUpdate carries the settlement-time fields copied from the
// remote invoice record.
type SettlementUpdate struct {
	SettledAmountSat *uint64
	TargetAmount     *float64
	TargetCurrency   *string
	ConversionRate   *float64
	Preimage         *string
	CounterpartyId   *string
}

// MarkSettled flips paid and observed exactly once. Returns the
// refreshed request and whether this call performed the transition; a
// request already settled by a concurrent writer reports false.
func (s *Store) MarkSettled(ctx context.Context, requestId string, update SettlementUpdate) (*db.ReceiveRequest, bool, error) {
	var request db.ReceiveRequest
	settled := false

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if tx.Dialector.Name() == "postgres" {
			// serialize concurrent settlers of the same request
			// (sqlite transactions are serializable by default)
			tx.Where(&db.ReceiveRequest{RequestId: requestId}).
				Clauses(clause.Locking{Strength: "UPDATE"}).Find(&[]db.ReceiveRequest{})
		}

		query := tx
		if s.tenantId != "" {
			query = query.Where("tenant_id = ?", s.tenantId)
		}
		result := query.Limit(1).Find(&request, &db.ReceiveRequest{RequestId: requestId})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return NewNotFoundError()
		}

		if request.Paid {
			logger.Logger.Debug().
				Str("request_id", requestId).
				Msg("request already marked as paid")
			return nil
		}

		now := time.Now()
		updates := map[string]interface{}{
			"Paid":     true,
			"PaidAt":   &now,
			"Observed": true,
		}
		if update.SettledAmountSat != nil {
			updates["SettledAmountSat"] = update.SettledAmountSat
		}
		if update.TargetAmount != nil {
			updates["TargetAmount"] = *update.TargetAmount
		}
		if update.TargetCurrency != nil {
			updates["TargetCurrency"] = *update.TargetCurrency
		}
		if update.ConversionRate != nil {
			updates["ConversionRate"] = update.ConversionRate
		}
		if update.Preimage != nil {
			updates["Preimage"] = update.Preimage
		}
		if update.CounterpartyId != nil {
			updates["CounterpartyId"] = update.CounterpartyId
		}

		err := tx.Model(&request).Updates(updates).Error
		if err != nil {
			logger.Logger.Error().Err(err).
				Str("request_id", requestId).
				Msg("Failed to mark request as settled")
			return err
		}
		settled = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if settled {
		logger.Logger.Info().
			Str("request_id", requestId).
			Str("payment_hash", request.PaymentHash).
			Msg("Marked receive request as settled")
	}
	return &request, settled, nil
}

// MarkObserved stops further polling for the request. Monotonic; a
// request that is already observed is left untouched.
func (s *Store) MarkObserved(ctx context.Context, requestId string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var request db.ReceiveRequest
		query := tx
		if s.tenantId != "" {
			query = query.Where("tenant_id = ?", s.tenantId)
		}
		result := query.Limit(1).Find(&request, &db.ReceiveRequest{RequestId: requestId})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return NewNotFoundError()
		}
		if request.Observed {
			return nil
		}
		return tx.Model(&request).Update("observed", true).Error
	})
}

// MarkConverted records that the post-settlement currency conversion
// succeeded, so it is never executed again.
func (s *Store) MarkConverted(ctx context.Context, requestId string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var request db.ReceiveRequest
		query := tx
		if s.tenantId != "" {
			query = query.Where("tenant_id = ?", s.tenantId)
		}
		result := query.Limit(1).Find(&request, &db.ReceiveRequest{RequestId: requestId})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return NewNotFoundError()
		}
		if request.Converted {
			return nil
		}
		return tx.Model(&request).Update("converted", true).Error
	})
}

// CleanupExpired marks every outstanding request whose expiry passed
// without payment as observed, so abandoned requests do not keep the
// poller busy forever. Tenant-agnostic. Returns how many were closed.
func (s *Store) CleanupExpired(ctx context.Context, now time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Model(&db.ReceiveRequest{}).
		Where("observed = ? AND paid = ? AND expires_at < ?", false, false, now).
		Update("observed", true)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// GetPaidUnconverted is the safety net behind the conversion trigger:
// it returns settled requests that still owe a currency conversion.
// Tenant-agnostic.
func (s *Store) GetPaidUnconverted(ctx context.Context, limit int) ([]db.ReceiveRequest, error) {
	var requests []db.ReceiveRequest
	err := s.db.WithContext(ctx).
		Where("paid = ? AND converted = ? AND convert_to IS NOT NULL", true, false).
		Order("paid_at asc").
		Limit(limit).
		Find(&requests).Error
	if err != nil {
		return nil, err
	}
	return requests, nil
}

// FindPaidUndelivered returns the oldest settled request the listener
// fallback poll has not delivered yet.
func (s *Store) FindPaidUndelivered(ctx context.Context) (*db.ReceiveRequest, error) {
	if err := s.validateTenantSet(); err != nil {
		return nil, err
	}

	var request db.ReceiveRequest
	result := s.db.WithContext(ctx).
		Where("tenant_id = ? AND paid = ? AND delivered = ?", s.tenantId, true, false).
		Order("paid_at asc").
		Limit(1).
		Find(&request)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &request, nil
}

// MarkDelivered records that a listener handed the settled request to
// the host platform, so no other waiter delivers it again.
func (s *Store) MarkDelivered(ctx context.Context, requestId string) (bool, error) {
	if err := s.validateTenantSet(); err != nil {
		return false, err
	}

	result := s.db.WithContext(ctx).
		Model(&db.ReceiveRequest{}).
		Where("tenant_id = ? AND request_id = ? AND delivered = ?", s.tenantId, requestId, false).
		Update("delivered", true)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (s *Store) validateTenantSet() error {
	if s.tenantId == "" {
		return NewNotConfiguredError()
	}
	return nil
}

func (s *Store) validateTenantOwnership(entityTenantId string) error {
	if s.tenantId == "" {
		// tenant-agnostic administrative access
		return nil
	}
	if entityTenantId != s.tenantId {
		return NewTenantMismatchError(entityTenantId, s.tenantId)
	}
	return nil
}
