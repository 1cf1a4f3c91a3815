package ledger

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TransactionFilter narrows FindTransactions. Zero fields are skipped.
type TransactionFilter struct {
	Provider     TransactionProvider
	ProviderTxId string
	Purpose      TransactionPurpose
	State        TransactionState
	TargetId     *uint
	TargetType   TargetType
	SenderId     *uint
	RecipientId  *uint
}

// Store is the persistence capability the service and reconcilers are
// constructed with. Every reconciliation of one transaction runs inside
// a single WithTx scope so two concurrent deliveries of the same event
// cannot both observe pending and both write a terminal state.
type Store interface {
	// WithTx runs fn inside one store transaction; the Store passed to
	// fn is scoped to that transaction.
	WithTx(ctx context.Context, fn func(Store) error) error

	CreateTransaction(ctx context.Context, txn *Transaction) error
	// CreateTransactionIfAbsent inserts txn unless a row with the same
	// (provider, providerTxId) exists, relying on the unique constraint
	// rather than check-then-insert. Returns the resulting row and
	// whether this call created it.
	CreateTransactionIfAbsent(ctx context.Context, txn *Transaction) (*Transaction, bool, error)
	TransactionById(ctx context.Context, id uint, lock bool) (*Transaction, error)
	TransactionByProviderTxId(ctx context.Context, provider TransactionProvider, providerTxId string, lock bool) (*Transaction, error)
	FindTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error)
	SaveTransaction(ctx context.Context, txn *Transaction) error

	// FindOrCreateBlockchainTransaction treats a unique-constraint
	// conflict on (chainId, txHash) as "re-read and return the existing
	// row", never as failure.
	FindOrCreateBlockchainTransaction(ctx context.Context, btx *BlockchainTransaction) (*BlockchainTransaction, error)
	BlockchainTransactionById(ctx context.Context, id uint, lock bool) (*BlockchainTransaction, error)
	SaveBlockchainTransaction(ctx context.Context, btx *BlockchainTransaction) error

	UserById(ctx context.Context, id uint) (*User, error)
	ArticleById(ctx context.Context, id uint) (*Article, error)
}

type gormStore struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) WithTx(ctx context.Context, fn func(Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormStore{db: tx})
	})
}

func (s *gormStore) CreateTransaction(ctx context.Context, txn *Transaction) error {
	res := s.db.WithContext(ctx).Create(txn)
	return res.Error
}

func (s *gormStore) CreateTransactionIfAbsent(ctx context.Context, txn *Transaction) (*Transaction, bool, error) {
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "provider_tx_id"}},
			DoNothing: true,
		}).
		Create(txn)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected > 0 {
		return txn, true, nil
	}
	existing, err := s.TransactionByProviderTxId(ctx, txn.Provider, txn.ProviderTxId, false)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (s *gormStore) TransactionById(ctx context.Context, id uint, lock bool) (*Transaction, error) {
	var txn Transaction
	q := s.db.WithContext(ctx)
	if lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	res := q.Where("id = ?", id).First(&txn)
	if errors.Is(res.Error, gorm.ErrRecordNotFound) {
		return nil, notFound(fmt.Sprintf("transaction %d", id))
	}
	if res.Error != nil {
		return nil, res.Error
	}
	return &txn, nil
}

func (s *gormStore) TransactionByProviderTxId(ctx context.Context, provider TransactionProvider, providerTxId string, lock bool) (*Transaction, error) {
	var txn Transaction
	q := s.db.WithContext(ctx)
	if lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	res := q.Where("provider = ? AND provider_tx_id = ?", provider, providerTxId).First(&txn)
	if errors.Is(res.Error, gorm.ErrRecordNotFound) {
		return nil, notFound(fmt.Sprintf("transaction %s/%s", provider, providerTxId))
	}
	if res.Error != nil {
		return nil, res.Error
	}
	return &txn, nil
}

func (s *gormStore) FindTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error) {
	q := s.db.WithContext(ctx)
	if filter.Provider != "" {
		q = q.Where("provider = ?", filter.Provider)
	}
	if filter.ProviderTxId != "" {
		q = q.Where("provider_tx_id = ?", filter.ProviderTxId)
	}
	if filter.Purpose != "" {
		q = q.Where("purpose = ?", filter.Purpose)
	}
	if filter.State != "" {
		q = q.Where("state = ?", filter.State)
	}
	if filter.TargetId != nil {
		q = q.Where("target_id = ?", *filter.TargetId)
	}
	if filter.TargetType != "" {
		q = q.Where("target_type = ?", filter.TargetType)
	}
	if filter.SenderId != nil {
		q = q.Where("sender_id = ?", *filter.SenderId)
	}
	if filter.RecipientId != nil {
		q = q.Where("recipient_id = ?", *filter.RecipientId)
	}
	var txns []Transaction
	res := q.Order("created_at DESC").Find(&txns)
	return txns, res.Error
}

func (s *gormStore) SaveTransaction(ctx context.Context, txn *Transaction) error {
	res := s.db.WithContext(ctx).Save(txn)
	return res.Error
}

func (s *gormStore) FindOrCreateBlockchainTransaction(ctx context.Context, btx *BlockchainTransaction) (*BlockchainTransaction, error) {
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "chain_id"}, {Name: "tx_hash"}},
			DoNothing: true,
		}).
		Create(btx)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected > 0 {
		return btx, nil
	}
	var existing BlockchainTransaction
	res = s.db.WithContext(ctx).
		Where("chain_id = ? AND tx_hash = ?", btx.ChainId, btx.TxHash).
		First(&existing)
	if res.Error != nil {
		return nil, res.Error
	}
	return &existing, nil
}

func (s *gormStore) BlockchainTransactionById(ctx context.Context, id uint, lock bool) (*BlockchainTransaction, error) {
	var btx BlockchainTransaction
	q := s.db.WithContext(ctx)
	if lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	res := q.Where("id = ?", id).First(&btx)
	if errors.Is(res.Error, gorm.ErrRecordNotFound) {
		return nil, notFound(fmt.Sprintf("blockchain transaction %d", id))
	}
	if res.Error != nil {
		return nil, res.Error
	}
	return &btx, nil
}

func (s *gormStore) SaveBlockchainTransaction(ctx context.Context, btx *BlockchainTransaction) error {
	res := s.db.WithContext(ctx).Save(btx)
	return res.Error
}

func (s *gormStore) UserById(ctx context.Context, id uint) (*User, error) {
	var user User
	res := s.db.WithContext(ctx).Where("id = ?", id).First(&user)
	if errors.Is(res.Error, gorm.ErrRecordNotFound) {
		return nil, notFound(fmt.Sprintf("user %d", id))
	}
	if res.Error != nil {
		return nil, res.Error
	}
	return &user, nil
}

func (s *gormStore) ArticleById(ctx context.Context, id uint) (*Article, error) {
	var article Article
	res := s.db.WithContext(ctx).Where("id = ?", id).First(&article)
	if errors.Is(res.Error, gorm.ErrRecordNotFound) {
		return nil, notFound(fmt.Sprintf("article %d", id))
	}
	if res.Error != nil {
		return nil, res.Error
	}
	return &article, nil
}
