package ledger

import "fmt"

// TransactionState is the ledger-side lifecycle of a transaction.
// pending is the only non-terminal state; terminal states never reopen.
type TransactionState string

const (
	StatePending   TransactionState = "pending"
	StateSucceeded TransactionState = "succeeded"
	StateFailed    TransactionState = "failed"
	StateCanceled  TransactionState = "canceled"
)

func (s TransactionState) Valid() bool {
	switch s {
	case StatePending, StateSucceeded, StateFailed, StateCanceled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed from s.
func (s TransactionState) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateCanceled:
		return true
	case StatePending:
		return false
	}
	return false
}

type TransactionPurpose string

const (
	PurposeDonation       TransactionPurpose = "donation"
	PurposeAddCredit      TransactionPurpose = "addCredit"
	PurposePayout         TransactionPurpose = "payout"
	PurposeRefund         TransactionPurpose = "refund"
	PurposeDispute        TransactionPurpose = "dispute"
	PurposePayoutReversal TransactionPurpose = "payoutReversal"
)

func (p TransactionPurpose) Valid() bool {
	switch p {
	case PurposeDonation, PurposeAddCredit, PurposePayout,
		PurposeRefund, PurposeDispute, PurposePayoutReversal:
		return true
	}
	return false
}

// ChildPurpose reports whether rows of this purpose must reference a
// parent transaction through TargetId/TargetType.
func (p TransactionPurpose) ChildPurpose() bool {
	switch p {
	case PurposeRefund, PurposeDispute, PurposePayoutReversal:
		return true
	case PurposeDonation, PurposeAddCredit, PurposePayout:
		return false
	}
	return false
}

// Notifiable reports whether a terminal success for this purpose fires
// the donation notification hook.
func (p TransactionPurpose) Notifiable() bool {
	return p == PurposeDonation
}

type TransactionProvider string

const (
	ProviderCardNetwork TransactionProvider = "cardNetwork"
	ProviderChain       TransactionProvider = "chain"
	ProviderAuxRewards  TransactionProvider = "auxiliaryCryptoRewards"
	ProviderInternal    TransactionProvider = "internal"
)

func (p TransactionProvider) Valid() bool {
	switch p {
	case ProviderCardNetwork, ProviderChain, ProviderAuxRewards, ProviderInternal:
		return true
	}
	return false
}

// providersFor lists the providers allowed to settle each purpose.
// Refunds, disputes and payout reversals always carry the provider that
// settled their parent, which is the card network for all of them.
func providersFor(p TransactionPurpose) []TransactionProvider {
	switch p {
	case PurposeDonation:
		return []TransactionProvider{ProviderChain, ProviderCardNetwork, ProviderAuxRewards, ProviderInternal}
	case PurposeAddCredit:
		return []TransactionProvider{ProviderCardNetwork}
	case PurposePayout:
		return []TransactionProvider{ProviderCardNetwork}
	case PurposeRefund, PurposeDispute, PurposePayoutReversal:
		return []TransactionProvider{ProviderCardNetwork}
	}
	return nil
}

type TargetType string

const (
	TargetArticle     TargetType = "article"
	TargetTransaction TargetType = "transaction"
)

func (t TargetType) Valid() bool {
	switch t {
	case TargetArticle, TargetTransaction:
		return true
	}
	return false
}

type Currency string

const (
	CurrencyUSD  Currency = "USD"
	CurrencyHKD  Currency = "HKD"
	CurrencyUSDT Currency = "USDT"
)

func (c Currency) Valid() bool {
	switch c {
	case CurrencyUSD, CurrencyHKD, CurrencyUSDT:
		return true
	}
	return false
}

// Token reports whether c settles on chain rather than on the card network.
func (c Currency) Token() bool {
	return c == CurrencyUSDT
}

type BlockchainState string

const (
	ChainStatePending   BlockchainState = "pending"
	ChainStateSucceeded BlockchainState = "succeeded"
	ChainStateReverted  BlockchainState = "reverted"
)

func (s BlockchainState) Valid() bool {
	switch s {
	case ChainStatePending, ChainStateSucceeded, ChainStateReverted:
		return true
	}
	return false
}

func invalidEnum(kind string, v any) error {
	return fmt.Errorf("%w: unknown %s %q", ErrInvariant, kind, v)
}
