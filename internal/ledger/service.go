package ledger

import (
	"context"
	"fmt"
	"strconv"

	"github.com/dchest/uniuri"
	"github.com/google/uuid"
	"github.com/sadlil/gologger"
)

// Service owns the transaction lifecycle. It is constructed with its
// dependencies explicitly; provider reconcilers are methods on it so
// every handler shares the same store scope and notification hook.
type Service struct {
	store    Store
	notifier DonationNotifier
	logger   gologger.GoLogger

	// vaultAddress receives chain settlements for recipients without an
	// on-file wallet.
	vaultAddress string
	// tokenAddresses maps each token currency to its contract address;
	// settle events for other tokens never match.
	tokenAddresses map[Currency]string
}

type ServiceOptions struct {
	Notifier       DonationNotifier
	Logger         gologger.GoLogger
	VaultAddress   string
	TokenAddresses map[Currency]string
}

func NewService(store Store, opts ServiceOptions) *Service {
	return &Service{
		store:          store,
		notifier:       opts.Notifier,
		logger:         opts.Logger,
		vaultAddress:   opts.VaultAddress,
		tokenAddresses: opts.TokenAddresses,
	}
}

// CreateTransaction validates purpose/provider coherence and inserts
// the row in the caller-specified state, no implicit inference. Rows
// with provider internal get an opaque generated provider tx id so the
// (provider, providerTxId) idempotency key always holds.
func (s *Service) CreateTransaction(ctx context.Context, txn *Transaction) (*Transaction, error) {
	if err := s.validateNew(txn); err != nil {
		return nil, err
	}
	if txn.UUID == "" {
		txn.UUID = newUUID()
	}
	if txn.Provider == ProviderInternal && txn.ProviderTxId == "" {
		txn.ProviderTxId = uniuri.NewLen(24)
	}
	// Chain rows derive their provider tx id inside RecordChainIntent.
	if txn.ProviderTxId == "" {
		return nil, fmt.Errorf("%w: provider %s requires a provider tx id", ErrInvariant, txn.Provider)
	}
	if err := s.store.CreateTransaction(ctx, txn); err != nil {
		return nil, err
	}
	return txn, nil
}

func (s *Service) validateNew(txn *Transaction) error {
	if !txn.State.Valid() {
		return invalidEnum("state", txn.State)
	}
	if !txn.Purpose.Valid() {
		return invalidEnum("purpose", txn.Purpose)
	}
	if !txn.Provider.Valid() {
		return invalidEnum("provider", txn.Provider)
	}
	if !txn.Currency.Valid() {
		return invalidEnum("currency", txn.Currency)
	}
	allowed := false
	for _, p := range providersFor(txn.Purpose) {
		if p == txn.Provider {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: purpose %s cannot settle via provider %s", ErrInvariant, txn.Purpose, txn.Provider)
	}
	if txn.Purpose.ChildPurpose() {
		if txn.TargetType != TargetTransaction || txn.TargetId == nil {
			return fmt.Errorf("%w: purpose %s requires a parent transaction target", ErrInvariant, txn.Purpose)
		}
	}
	if txn.TargetType != "" && !txn.TargetType.Valid() {
		return invalidEnum("target type", txn.TargetType)
	}
	return nil
}

// MarkTransactionStateAsParams addresses one row by id.
type MarkTransactionStateAsParams struct {
	Id     uint
	State  TransactionState
	Remark string
}

// MarkTransactionStateAs is the unconditional transition primitive used
// by both reconcilers. Callers are responsible for loading the row
// under lock first and skipping terminal rows.
func (s *Service) MarkTransactionStateAs(ctx context.Context, params MarkTransactionStateAsParams) (*Transaction, error) {
	if !params.State.Valid() {
		return nil, invalidEnum("state", params.State)
	}
	return s.markIn(ctx, s.store, params)
}

func (s *Service) markIn(ctx context.Context, store Store, params MarkTransactionStateAsParams) (*Transaction, error) {
	txn, err := store.TransactionById(ctx, params.Id, true)
	if err != nil {
		return nil, err
	}
	txn.State = params.State
	if params.Remark != "" {
		txn.Remark = params.Remark
	}
	if err := store.SaveTransaction(ctx, txn); err != nil {
		return nil, err
	}
	return txn, nil
}

func (s *Service) FindTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error) {
	return s.store.FindTransactions(ctx, filter)
}

func newUUID() string {
	return uuid.NewString()
}

// chainProviderTxId links a chain transaction row to its
// BlockchainTransaction side-table row.
func chainProviderTxId(btxId uint) string {
	return strconv.FormatUint(uint64(btxId), 10)
}

func parseChainProviderTxId(providerTxId string) (uint, error) {
	id, err := strconv.ParseUint(providerTxId, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: malformed chain provider tx id %q", ErrInvariant, providerTxId)
	}
	return uint(id), nil
}

// notifyDonation fires the hook without letting its failure surface into
// the reconciliation result.
func (s *Service) notifyDonation(n DonationNotice) {
	if s.notifier == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.warnf("donation notification panicked: %v", r)
		}
	}()
	s.notifier.NotifyDonation(n)
}

func (s *Service) warnf(format string, args ...any) {
	if s.logger == (gologger.GoLogger{}) {
		return
	}
	s.logger.Warn(fmt.Sprintf(format, args...))
}

func (s *Service) infof(format string, args ...any) {
	if s.logger == (gologger.GoLogger{}) {
		return
	}
	s.logger.Info(fmt.Sprintf(format, args...))
}
