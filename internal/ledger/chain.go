package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// RemarkInvalid is recorded when a mined, non-reverted settlement
// carries no event matching the expected recipient and amount. The
// blockchain transaction itself stays succeeded, the chain settled
// something, just not this payment.
const RemarkInvalid = "INVALID"

// RecordChainIntent registers a not-yet-confirmed on-chain settlement:
// the BlockchainTransaction side row (find-or-create on the
// (chainId, txHash) key) and the pending ledger row linked to it. Safe
// to call twice with the same hash; the second call returns the
// existing rows.
func (s *Service) RecordChainIntent(ctx context.Context, txn *Transaction, chainId uint64, txHash string) (*Transaction, *BlockchainTransaction, error) {
	if err := s.validateNew(txn); err != nil {
		return nil, nil, err
	}
	if txn.Provider != ProviderChain {
		return nil, nil, fmt.Errorf("%w: chain intent with provider %s", ErrInvariant, txn.Provider)
	}
	var out *Transaction
	var btx *BlockchainTransaction
	err := s.store.WithTx(ctx, func(st Store) error {
		var err error
		btx, err = st.FindOrCreateBlockchainTransaction(ctx, &BlockchainTransaction{
			ChainId: chainId,
			TxHash:  strings.ToLower(txHash),
			State:   ChainStatePending,
		})
		if err != nil {
			return err
		}
		txn.ProviderTxId = chainProviderTxId(btx.Id)
		if txn.UUID == "" {
			txn.UUID = newUUID()
		}
		out, _, err = st.CreateTransactionIfAbsent(ctx, txn)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return out, btx, nil
}

// PayToBlockchain reconciles one pending chain-settled transaction
// against its receipt. Repeated calls before mining are cheap no-ops;
// once the receipt is available the whole mutation runs in a single
// store transaction under a row lock, so duplicate deliveries cannot
// race each other past the terminal check.
func (s *Service) PayToBlockchain(ctx context.Context, txId uint, fetchReceipt ReceiptFetcher) error {
	txn, err := s.store.TransactionById(ctx, txId, false)
	if err != nil {
		return err
	}
	if txn.State.Terminal() {
		return nil
	}
	if txn.Provider != ProviderChain {
		return fmt.Errorf("%w: transaction %d is settled by %s, not on chain", ErrInvariant, txId, txn.Provider)
	}
	btxId, err := parseChainProviderTxId(txn.ProviderTxId)
	if err != nil {
		return err
	}
	btx, err := s.store.BlockchainTransactionById(ctx, btxId, false)
	if err != nil {
		return err
	}

	receipt, err := fetchReceipt(ctx, btx.TxHash)
	if err != nil {
		return err
	}
	if receipt == nil {
		return fmt.Errorf("%w: %s", ErrNotMined, btx.TxHash)
	}

	if txn.TargetId == nil || txn.TargetType != TargetArticle {
		return fmt.Errorf("%w: chain transaction %d has no article target", ErrInvariant, txId)
	}
	article, err := s.store.ArticleById(ctx, *txn.TargetId)
	if err != nil {
		return err
	}

	var notice *DonationNotice
	err = s.store.WithTx(ctx, func(st Store) error {
		txn, err = st.TransactionById(ctx, txId, true)
		if err != nil {
			return err
		}
		if txn.State.Terminal() {
			return nil
		}
		btx, err = st.BlockchainTransactionById(ctx, btxId, true)
		if err != nil {
			return err
		}

		if receipt.Reverted {
			btx.State = ChainStateReverted
			btx.BlockNumber = receipt.BlockNumber
			if err := st.SaveBlockchainTransaction(ctx, btx); err != nil {
				return err
			}
			_, err = s.transitionLocked(ctx, st, txn, StateFailed, "")
			return err
		}

		btx.State = ChainStateSucceeded
		btx.From = receipt.From
		btx.To = receipt.To
		btx.BlockNumber = receipt.BlockNumber
		if err := st.SaveBlockchainTransaction(ctx, btx); err != nil {
			return err
		}

		// Recipient identity always comes from the ledger, never from
		// receipt data, so chain payloads cannot redirect a payout.
		if txn.RecipientId == nil {
			return fmt.Errorf("%w: chain transaction %d has no recipient", ErrInvariant, txId)
		}
		recipient, err := st.UserById(ctx, *txn.RecipientId)
		if err != nil {
			return err
		}
		wallet := recipient.Address
		if wallet == "" {
			wallet = s.vaultAddress
		}

		event := s.matchCurationEvent(receipt.Events, wallet, txn)
		if event == nil {
			_, err = s.transitionLocked(ctx, st, txn, StateCanceled, RemarkInvalid)
			return err
		}

		if txn, err = s.transitionLocked(ctx, st, txn, StateSucceeded, ""); err != nil {
			return err
		}

		// The on-chain sender is checked against the sender's on-file
		// wallet as of now, not as of transaction creation. A mismatch
		// anonymizes the row and the notification.
		var sender *User
		if txn.SenderId != nil {
			u, err := st.UserById(ctx, *txn.SenderId)
			if err != nil && !errors.Is(err, ErrNotFound) {
				return err
			}
			if u != nil && strings.EqualFold(u.Address, event.CuratorAddress) {
				sender = u
			} else {
				txn.SenderId = nil
				if err := st.SaveTransaction(ctx, txn); err != nil {
					return err
				}
			}
		}

		notice = &DonationNotice{
			Tx:        *txn,
			Sender:    sender,
			Recipient: *recipient,
			Article:   *article,
		}
		return nil
	})
	if err != nil {
		return err
	}
	if notice != nil && txn.Purpose.Notifiable() {
		s.notifyDonation(*notice)
	}
	return nil
}

// matchCurationEvent finds the settle event paying the expected wallet
// the expected amount in the expected token.
func (s *Service) matchCurationEvent(events []CurationEvent, wallet string, txn *Transaction) *CurationEvent {
	tokenAddr := s.tokenAddresses[txn.Currency]
	for i := range events {
		ev := &events[i]
		if !strings.EqualFold(ev.CreatorAddress, wallet) {
			continue
		}
		if !ev.Amount.Equal(txn.Amount) {
			continue
		}
		if tokenAddr != "" && !strings.EqualFold(ev.TokenAddress, tokenAddr) {
			continue
		}
		return ev
	}
	return nil
}

// transitionLocked transitions an already-locked row inside the current store
// transaction.
func (s *Service) transitionLocked(ctx context.Context, st Store, txn *Transaction, state TransactionState, remark string) (*Transaction, error) {
	txn.State = state
	if remark != "" {
		txn.Remark = remark
	}
	if err := st.SaveTransaction(ctx, txn); err != nil {
		return nil, err
	}
	return txn, nil
}
