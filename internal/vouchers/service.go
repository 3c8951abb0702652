// Package vouchers implements voucher lifecycle operations above the
// store: batch generation with billing, single on-demand creation,
// expiry sweeps, and deletion with RADIUS propagation.
package vouchers

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/radmesh/radmesh/internal/models"
	"github.com/radmesh/radmesh/internal/radius"
)

// Username charset drops ambiguous glyphs so vouchers survive being read
// off a printed card.
const usernameCharset = "abcdefghjkmnpqrstuvwxyz23456789"

const (
	// DefaultCodeLength is the generated username and password length.
	DefaultCodeLength = 8
	// MaxBatchSize bounds one generation request.
	MaxBatchSize = 1000
	// DefaultExpirySweepLimit bounds one expiry sweep pass.
	DefaultExpirySweepLimit = 500
)

// Store is the persistence surface of the voucher service.
type Store interface {
	GetRouterWithParent(ctx context.Context, id uuid.UUID) (*models.Router, *models.Router, error)
	GetProfileByID(ctx context.Context, id uuid.UUID) (*models.Profile, error)
	GetRadiusServerByID(ctx context.Context, id uuid.UUID) (*models.RadiusServer, error)
	CreateVouchers(ctx context.Context, vouchers []*models.Voucher) error
	CreateVoucher(ctx context.Context, v *models.Voucher) error
	GetVoucherByID(ctx context.Context, id uuid.UUID) (*models.Voucher, error)
	UpdateVoucherSyncStatus(ctx context.Context, v *models.Voucher) error
	DeleteVoucher(ctx context.Context, id uuid.UUID) error
	ExpireVouchers(ctx context.Context, limit int) ([]*models.Voucher, error)
	CreateVoucherLog(ctx context.Context, entry *models.VoucherLog) error
}

// Ledger is the billing collaborator. Debits fail on insufficient funds.
type Ledger interface {
	DebitUser(ctx context.Context, userID uuid.UUID, amount float64, memo string) error
	CreditUser(ctx context.Context, userID uuid.UUID, amount float64, memo string) error
}

// SyncEnqueuer schedules a batch push toward the router's RADIUS node.
type SyncEnqueuer interface {
	EnqueueVoucherSync(ctx context.Context, routerID uuid.UUID, batch string) (*models.Job, error)
}

// Service implements voucher lifecycle operations.
type Service struct {
	store  Store
	ledger Ledger
	client radius.Client
	queue  SyncEnqueuer
	logger zerolog.Logger
}

// NewService creates the voucher service.
func NewService(store Store, ledger Ledger, client radius.Client, queue SyncEnqueuer, logger zerolog.Logger) *Service {
	return &Service{
		store:  store,
		ledger: ledger,
		client: client,
		queue:  queue,
		logger: logger.With().Str("component", "vouchers").Logger(),
	}
}

// GenerateRequest describes a batch generation.
type GenerateRequest struct {
	RouterID   uuid.UUID
	ProfileID  uuid.UUID
	Count      int
	CodeLength int
}

// GenerateResult reports what a batch generation produced.
type GenerateResult struct {
	Batch    string            `json:"batch"`
	Vouchers []*models.Voucher `json:"vouchers"`
	Queued   bool              `json:"queued"`
}

// GenerateBatch creates a batch of vouchers, debits the owner, and
// enqueues a sync push when the router is RADIUS-backed. The debit runs
// before the insert so an empty wallet never produces vouchers.
func (s *Service) GenerateBatch(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	if req.Count < 1 || req.Count > MaxBatchSize {
		return nil, fmt.Errorf("count must be between 1 and %d", MaxBatchSize)
	}
	length := req.CodeLength
	if length == 0 {
		length = DefaultCodeLength
	}
	if length < 6 || length > 16 {
		return nil, fmt.Errorf("code length must be between 6 and 16")
	}

	router, parent, err := s.store.GetRouterWithParent(ctx, req.RouterID)
	if err != nil {
		return nil, fmt.Errorf("load router: %w", err)
	}
	profile, err := s.store.GetProfileByID(ctx, req.ProfileID)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}

	batch := uuid.NewString()

	if total := profile.Price * float64(req.Count); total > 0 {
		memo := fmt.Sprintf("voucher batch %s (%d x %s)", batch, req.Count, profile.Name)
		if err := s.ledger.DebitUser(ctx, router.UserID, total, memo); err != nil {
			return nil, fmt.Errorf("debit owner: %w", err)
		}
	}

	batchVouchers := make([]*models.Voucher, 0, req.Count)
	for i := 0; i < req.Count; i++ {
		username, err := randomCode(length)
		if err != nil {
			return nil, err
		}
		password, err := randomCode(length)
		if err != nil {
			return nil, err
		}
		batchVouchers = append(batchVouchers, models.NewVoucher(router.ID, profile.ID, batch, username, password))
	}

	if err := s.store.CreateVouchers(ctx, batchVouchers); err != nil {
		return nil, fmt.Errorf("create vouchers: %w", err)
	}

	for _, v := range batchVouchers {
		s.writeLog(ctx, v, router, profile, models.VoucherEventGenerated, "generated in batch "+batch)
	}

	result := &GenerateResult{Batch: batch, Vouchers: batchVouchers}
	if router.EffectiveRadiusServerID(parent) != nil {
		if _, err := s.queue.EnqueueVoucherSync(ctx, router.ID, batch); err != nil {
			return nil, fmt.Errorf("enqueue sync: %w", err)
		}
		result.Queued = true
	}

	s.logger.Info().
		Str("router", router.Name).
		Str("batch", batch).
		Int("count", req.Count).
		Bool("queued", result.Queued).
		Msg("voucher batch generated")
	return result, nil
}

// CreateSingle creates one voucher and pushes it to the RADIUS node
// inline. The voucher is persisted even when the push fails; it stays
// sync-pending for the retry sweep.
func (s *Service) CreateSingle(ctx context.Context, routerID, profileID uuid.UUID) (*models.Voucher, error) {
	router, parent, err := s.store.GetRouterWithParent(ctx, routerID)
	if err != nil {
		return nil, fmt.Errorf("load router: %w", err)
	}
	profile, err := s.store.GetProfileByID(ctx, profileID)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}

	username, err := randomCode(DefaultCodeLength)
	if err != nil {
		return nil, err
	}
	password, err := randomCode(DefaultCodeLength)
	if err != nil {
		return nil, err
	}

	batch := uuid.NewString()
	if profile.Price > 0 {
		memo := fmt.Sprintf("voucher %s (%s)", username, profile.Name)
		if err := s.ledger.DebitUser(ctx, router.UserID, profile.Price, memo); err != nil {
			return nil, fmt.Errorf("debit owner: %w", err)
		}
	}

	voucher := models.NewVoucher(router.ID, profile.ID, batch, username, password)
	if err := s.store.CreateVoucher(ctx, voucher); err != nil {
		return nil, fmt.Errorf("create voucher: %w", err)
	}
	s.writeLog(ctx, voucher, router, profile, models.VoucherEventGenerated, "created on demand")

	if nodeID := router.EffectiveRadiusServerID(parent); nodeID != nil {
		node, err := s.store.GetRadiusServerByID(ctx, *nodeID)
		if err != nil {
			return nil, fmt.Errorf("load radius node: %w", err)
		}
		sv := radius.SyncVoucher{
			Username:      voucher.Username,
			Password:      voucher.Password,
			RateLimit:     profile.RateLimit,
			NASIdentifier: router.EffectiveNASIdentifier(parent),
		}
		if _, err := s.client.CreateVoucher(ctx, node, sv); err != nil {
			voucher.MarkSyncFailed(err.Error())
			s.logger.Warn().Err(err).Str("username", voucher.Username).Msg("inline push failed, left for retry sweep")
		} else {
			voucher.MarkSynced()
		}
		if err := s.store.UpdateVoucherSyncStatus(ctx, voucher); err != nil {
			return nil, fmt.Errorf("persist sync status: %w", err)
		}
	}

	return voucher, nil
}

// Delete removes a voucher, propagating the delete to the RADIUS node
// first when the router is RADIUS-backed. A node that refuses the delete
// keeps the row so the credential never outlives its record.
func (s *Service) Delete(ctx context.Context, voucherID uuid.UUID) error {
	voucher, err := s.store.GetVoucherByID(ctx, voucherID)
	if err != nil {
		return err
	}
	router, parent, err := s.store.GetRouterWithParent(ctx, voucher.RouterID)
	if err != nil {
		return fmt.Errorf("load router: %w", err)
	}

	if nodeID := router.EffectiveRadiusServerID(parent); nodeID != nil && voucher.RadiusSyncStatus == models.SyncStatusSynced {
		node, err := s.store.GetRadiusServerByID(ctx, *nodeID)
		if err != nil {
			return fmt.Errorf("load radius node: %w", err)
		}
		if err := s.client.DeleteVoucher(ctx, node, voucher.Username); err != nil {
			return fmt.Errorf("propagate delete: %w", err)
		}
	}

	if err := s.store.DeleteVoucher(ctx, voucherID); err != nil {
		return err
	}

	profile, err := s.store.GetProfileByID(ctx, voucher.ProfileID)
	if err != nil {
		profile = &models.Profile{}
	}
	s.writeLog(ctx, voucher, router, profile, models.VoucherEventDeleted, "deleted by operator")
	return nil
}

// ExpireSweep moves overdue active vouchers to expired and records each
// transition in the ledger. Returns how many were expired.
func (s *Service) ExpireSweep(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = DefaultExpirySweepLimit
	}
	expired, err := s.store.ExpireVouchers(ctx, limit)
	if err != nil {
		return 0, err
	}
	for _, v := range expired {
		entry := models.NewVoucherLog(models.VoucherEventExpired, v.Username, "validity window elapsed")
		entry.VoucherID = &v.ID
		entry.RouterID = &v.RouterID
		if err := s.store.CreateVoucherLog(ctx, entry); err != nil {
			s.logger.Error().Err(err).Str("username", v.Username).Msg("failed to write ledger entry")
		}
	}
	if len(expired) > 0 {
		s.logger.Info().Int("count", len(expired)).Msg("vouchers expired")
	}
	return len(expired), nil
}

func (s *Service) writeLog(ctx context.Context, v *models.Voucher, router *models.Router, profile *models.Profile, event models.VoucherEventType, reason string) {
	entry := models.NewVoucherLog(event, v.Username, reason)
	entry.VoucherID = &v.ID
	entry.RouterID = &router.ID
	entry.RouterName = router.Name
	entry.ProfileName = profile.Name
	entry.Meta = map[string]any{"batch": v.Batch}
	if err := s.store.CreateVoucherLog(ctx, entry); err != nil {
		s.logger.Error().Err(err).Str("username", v.Username).Msg("failed to write ledger entry")
	}
}

func randomCode(length int) (string, error) {
	code := make([]byte, length)
	max := big.NewInt(int64(len(usernameCharset)))
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}
		code[i] = usernameCharset[n.Int64()]
	}
	return string(code), nil
}
