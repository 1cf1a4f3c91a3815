package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is one row per monetary movement. Rows are append-biased:
// once a row reaches a terminal state it is never reopened or deleted,
// undo operations (refund, dispute, payoutReversal) are new rows linked
// to their parent through TargetId/TargetType.
type Transaction struct {
	Id           uint                `json:"id" gorm:"primarykey"`
	UUID         string              `json:"uuid" gorm:"uniqueIndex;size:36"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
	Amount       decimal.Decimal     `json:"amount" gorm:"type:decimal(36,18)"`
	Currency     Currency            `json:"currency" gorm:"size:16"`
	State        TransactionState    `json:"state" gorm:"size:16;index"`
	Purpose      TransactionPurpose  `json:"purpose" gorm:"size:32;index"`
	Provider     TransactionProvider `json:"provider" gorm:"size:32;uniqueIndex:idx_provider_tx_id"`
	ProviderTxId string              `json:"provider_tx_id" gorm:"size:128;uniqueIndex:idx_provider_tx_id"` // Idempotency key, unique within a provider
	SenderId     *uint               `json:"sender_id" gorm:"index"`                                        // nil = anonymized or system-originated
	RecipientId  *uint               `json:"recipient_id" gorm:"index"`
	TargetId     *uint               `json:"target_id" gorm:"index"`
	TargetType   TargetType          `json:"target_type" gorm:"size:16"` // article, or transaction for child rows
	Remark       string              `json:"remark" gorm:"size:512"`
}

// BlockchainTransaction is one row per distinct on-chain settlement
// attempt. Created lazily on first reference; (ChainId, TxHash) is the
// idempotency key for concurrent first-arrivals.
type BlockchainTransaction struct {
	Id          uint            `json:"id" gorm:"primarykey"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	ChainId     uint64          `json:"chain_id" gorm:"uniqueIndex:idx_chain_tx_hash"`
	TxHash      string          `json:"tx_hash" gorm:"size:66;uniqueIndex:idx_chain_tx_hash"`
	State       BlockchainState `json:"state" gorm:"size:16"`
	From        string          `json:"from" gorm:"column:from_address;size:42"`
	To          string          `json:"to" gorm:"column:to_address;size:42"`
	BlockNumber uint64          `json:"block_number"`
}

// User carries the ledger-relevant identity slice: the on-file wallet
// address is read at settlement time, never cached from tx creation.
type User struct {
	Id        uint      `json:"id" gorm:"primarykey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	UserName  string    `json:"user_name" gorm:"size:64;index"`
	Email     string    `json:"email" gorm:"size:128"`
	Address   string    `json:"address" gorm:"size:42;index"` // on-file wallet, may change over time
}

// Article is the donation target entity.
type Article struct {
	Id        uint      `json:"id" gorm:"primarykey"`
	CreatedAt time.Time `json:"created_at"`
	AuthorId  uint      `json:"author_id" gorm:"index"`
	Title     string    `json:"title" gorm:"size:256"`
	Slug      string    `json:"slug" gorm:"size:256;index"`
}

// Receipt is the injected chain receipt shape. A nil receipt from the
// fetcher means the transaction is not mined yet.
type Receipt struct {
	BlockNumber uint64
	From        string
	To          string
	Reverted    bool
	Events      []CurationEvent
}

// CurationEvent is one decoded settlement event from the curation
// contract. Addresses are hex strings as emitted on chain.
type CurationEvent struct {
	CreatorAddress string // recipient-side wallet
	CuratorAddress string // sender-side wallet
	TokenAddress   string
	Amount         decimal.Decimal
	Uri            string
}

// ReceiptFetcher looks up the receipt for a tx hash. (nil, nil) means
// not yet mined.
type ReceiptFetcher func(ctx context.Context, txHash string) (*Receipt, error)

// DonationNotice is handed to the notification hook on terminal success
// of a notifiable purpose. Sender is nil when the on-chain sender could
// not be verified against the ledger and the row was anonymized.
type DonationNotice struct {
	Tx        Transaction
	Sender    *User
	Recipient User
	Article   Article
}

// DonationNotifier is fire-and-forget: implementations must never block
// reconciliation and their failure never rolls back a committed write.
type DonationNotifier interface {
	NotifyDonation(n DonationNotice)
}
