package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// memStore is an in-memory Store for tests. WithTx holds the store
// mutex for the whole scope, which models the row-lock serialization
// the real store gets from SELECT ... FOR UPDATE closely enough for
// the reconcilers.
type memStore struct {
	mu       sync.Mutex
	txSeq    uint
	btxSeq   uint
	userSeq  uint
	artSeq   uint
	txs      map[uint]*Transaction
	btxs     map[uint]*BlockchainTransaction
	users    map[uint]*User
	articles map[uint]*Article
}

func newMemStore() *memStore {
	return &memStore{
		txs:      map[uint]*Transaction{},
		btxs:     map[uint]*BlockchainTransaction{},
		users:    map[uint]*User{},
		articles: map[uint]*Article{},
	}
}

func (m *memStore) addUser(u User) *User {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.userSeq++
	u.Id = m.userSeq
	m.users[u.Id] = &u
	cp := u
	return &cp
}

func (m *memStore) setUserAddress(id uint, address string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[id].Address = address
}

func (m *memStore) addArticle(a Article) *Article {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.artSeq++
	a.Id = m.artSeq
	m.articles[a.Id] = &a
	cp := a
	return &cp
}

func (m *memStore) countTransactions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.txs)
}

func (m *memStore) WithTx(ctx context.Context, fn func(Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(&memTx{m})
}

func (m *memStore) CreateTransaction(ctx context.Context, txn *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createTransaction(txn)
}

func (m *memStore) createTransaction(txn *Transaction) error {
	for _, existing := range m.txs {
		if existing.Provider == txn.Provider && existing.ProviderTxId == txn.ProviderTxId {
			return fmt.Errorf("duplicate key value violates unique constraint \"idx_provider_tx_id\"")
		}
	}
	m.txSeq++
	txn.Id = m.txSeq
	txn.CreatedAt = time.Now()
	cp := *txn
	m.txs[cp.Id] = &cp
	return nil
}

func (m *memStore) CreateTransactionIfAbsent(ctx context.Context, txn *Transaction) (*Transaction, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createTransactionIfAbsent(txn)
}

func (m *memStore) createTransactionIfAbsent(txn *Transaction) (*Transaction, bool, error) {
	for _, existing := range m.txs {
		if existing.Provider == txn.Provider && existing.ProviderTxId == txn.ProviderTxId {
			cp := *existing
			return &cp, false, nil
		}
	}
	if err := m.createTransaction(txn); err != nil {
		return nil, false, err
	}
	cp := *txn
	return &cp, true, nil
}

func (m *memStore) TransactionById(ctx context.Context, id uint, lock bool) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transactionById(id)
}

func (m *memStore) transactionById(id uint) (*Transaction, error) {
	txn, ok := m.txs[id]
	if !ok {
		return nil, notFound(fmt.Sprintf("transaction %d", id))
	}
	cp := *txn
	return &cp, nil
}

func (m *memStore) TransactionByProviderTxId(ctx context.Context, provider TransactionProvider, providerTxId string, lock bool) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transactionByProviderTxId(provider, providerTxId)
}

func (m *memStore) transactionByProviderTxId(provider TransactionProvider, providerTxId string) (*Transaction, error) {
	for _, txn := range m.txs {
		if txn.Provider == provider && txn.ProviderTxId == providerTxId {
			cp := *txn
			return &cp, nil
		}
	}
	return nil, notFound(fmt.Sprintf("transaction %s/%s", provider, providerTxId))
}

func (m *memStore) FindTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findTransactions(filter)
}

func (m *memStore) findTransactions(filter TransactionFilter) ([]Transaction, error) {
	var out []Transaction
	for id := uint(1); id <= m.txSeq; id++ {
		txn, ok := m.txs[id]
		if !ok {
			continue
		}
		if filter.Provider != "" && txn.Provider != filter.Provider {
			continue
		}
		if filter.ProviderTxId != "" && txn.ProviderTxId != filter.ProviderTxId {
			continue
		}
		if filter.Purpose != "" && txn.Purpose != filter.Purpose {
			continue
		}
		if filter.State != "" && txn.State != filter.State {
			continue
		}
		if filter.TargetId != nil && (txn.TargetId == nil || *txn.TargetId != *filter.TargetId) {
			continue
		}
		if filter.TargetType != "" && txn.TargetType != filter.TargetType {
			continue
		}
		if filter.SenderId != nil && (txn.SenderId == nil || *txn.SenderId != *filter.SenderId) {
			continue
		}
		if filter.RecipientId != nil && (txn.RecipientId == nil || *txn.RecipientId != *filter.RecipientId) {
			continue
		}
		out = append(out, *txn)
	}
	return out, nil
}

func (m *memStore) SaveTransaction(ctx context.Context, txn *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveTransaction(txn)
}

func (m *memStore) saveTransaction(txn *Transaction) error {
	if _, ok := m.txs[txn.Id]; !ok {
		return notFound(fmt.Sprintf("transaction %d", txn.Id))
	}
	cp := *txn
	cp.UpdatedAt = time.Now()
	m.txs[cp.Id] = &cp
	return nil
}

func (m *memStore) FindOrCreateBlockchainTransaction(ctx context.Context, btx *BlockchainTransaction) (*BlockchainTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findOrCreateBlockchainTransaction(btx)
}

func (m *memStore) findOrCreateBlockchainTransaction(btx *BlockchainTransaction) (*BlockchainTransaction, error) {
	for _, existing := range m.btxs {
		if existing.ChainId == btx.ChainId && existing.TxHash == btx.TxHash {
			cp := *existing
			return &cp, nil
		}
	}
	m.btxSeq++
	btx.Id = m.btxSeq
	btx.CreatedAt = time.Now()
	cp := *btx
	m.btxs[cp.Id] = &cp
	out := cp
	return &out, nil
}

func (m *memStore) BlockchainTransactionById(ctx context.Context, id uint, lock bool) (*BlockchainTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blockchainTransactionById(id)
}

func (m *memStore) blockchainTransactionById(id uint) (*BlockchainTransaction, error) {
	btx, ok := m.btxs[id]
	if !ok {
		return nil, notFound(fmt.Sprintf("blockchain transaction %d", id))
	}
	cp := *btx
	return &cp, nil
}

func (m *memStore) SaveBlockchainTransaction(ctx context.Context, btx *BlockchainTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveBlockchainTransaction(btx)
}

func (m *memStore) saveBlockchainTransaction(btx *BlockchainTransaction) error {
	if _, ok := m.btxs[btx.Id]; !ok {
		return notFound(fmt.Sprintf("blockchain transaction %d", btx.Id))
	}
	cp := *btx
	cp.UpdatedAt = time.Now()
	m.btxs[cp.Id] = &cp
	return nil
}

func (m *memStore) UserById(ctx context.Context, id uint) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userById(id)
}

func (m *memStore) userById(id uint) (*User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, notFound(fmt.Sprintf("user %d", id))
	}
	cp := *u
	return &cp, nil
}

func (m *memStore) ArticleById(ctx context.Context, id uint) (*Article, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.articleById(id)
}

func (m *memStore) articleById(id uint) (*Article, error) {
	a, ok := m.articles[id]
	if !ok {
		return nil, notFound(fmt.Sprintf("article %d", id))
	}
	cp := *a
	return &cp, nil
}

// memTx is the transaction-scoped view handed to WithTx callbacks. The
// parent mutex is already held, so its methods go straight to the maps.
type memTx struct {
	m *memStore
}

func (t *memTx) WithTx(ctx context.Context, fn func(Store) error) error {
	return fn(t)
}

func (t *memTx) CreateTransaction(ctx context.Context, txn *Transaction) error {
	return t.m.createTransaction(txn)
}

func (t *memTx) CreateTransactionIfAbsent(ctx context.Context, txn *Transaction) (*Transaction, bool, error) {
	return t.m.createTransactionIfAbsent(txn)
}

func (t *memTx) TransactionById(ctx context.Context, id uint, lock bool) (*Transaction, error) {
	return t.m.transactionById(id)
}

func (t *memTx) TransactionByProviderTxId(ctx context.Context, provider TransactionProvider, providerTxId string, lock bool) (*Transaction, error) {
	return t.m.transactionByProviderTxId(provider, providerTxId)
}

func (t *memTx) FindTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error) {
	return t.m.findTransactions(filter)
}

func (t *memTx) SaveTransaction(ctx context.Context, txn *Transaction) error {
	return t.m.saveTransaction(txn)
}

func (t *memTx) FindOrCreateBlockchainTransaction(ctx context.Context, btx *BlockchainTransaction) (*BlockchainTransaction, error) {
	return t.m.findOrCreateBlockchainTransaction(btx)
}

func (t *memTx) BlockchainTransactionById(ctx context.Context, id uint, lock bool) (*BlockchainTransaction, error) {
	return t.m.blockchainTransactionById(id)
}

func (t *memTx) SaveBlockchainTransaction(ctx context.Context, btx *BlockchainTransaction) error {
	return t.m.saveBlockchainTransaction(btx)
}

func (t *memTx) UserById(ctx context.Context, id uint) (*User, error) {
	return t.m.userById(id)
}

func (t *memTx) ArticleById(ctx context.Context, id uint) (*Article, error) {
	return t.m.articleById(id)
}
