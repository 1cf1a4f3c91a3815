package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"payments/internal/card"
)

// minorUnits converts a provider minor-unit amount (cents) into the
// ledger decimal.
func minorUnits(amount int64) decimal.Decimal {
	return decimal.New(amount, -2)
}

// ApplyCardProviderEvent maps one payment-state event onto the ledger.
// Intents the ledger never tracked are a no-op, the provider also
// notifies about payments created outside this platform account.
func (s *Service) ApplyCardProviderEvent(ctx context.Context, intent card.PaymentIntent) error {
	var state TransactionState
	switch intent.Status {
	case card.PaymentStatusProcessing:
		state = StatePending
	case card.PaymentStatusSucceeded:
		state = StateSucceeded
	case card.PaymentStatusFailed:
		state = StateFailed
	case card.PaymentStatusCanceled:
		state = StateCanceled
	default:
		return fmt.Errorf("%w: unknown payment intent status %q", ErrInvariant, intent.Status)
	}

	var notice *DonationNotice
	err := s.store.WithTx(ctx, func(st Store) error {
		txn, err := st.TransactionByProviderTxId(ctx, ProviderCardNetwork, intent.Id, true)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if txn.State.Terminal() {
			return nil
		}
		if txn.State == state {
			return nil
		}
		if txn, err = s.transitionLocked(ctx, st, txn, state, ""); err != nil {
			return err
		}
		if state != StateSucceeded || !txn.Purpose.Notifiable() {
			return nil
		}
		notice, err = s.donationNoticeFor(ctx, st, txn)
		return err
	})
	if err != nil {
		return err
	}
	if notice != nil {
		s.notifyDonation(*notice)
	}
	return nil
}

// donationNoticeFor resolves the notification parties from the ledger.
// A sender the ledger no longer knows is reported as absent rather than
// failing the reconciliation.
func (s *Service) donationNoticeFor(ctx context.Context, st Store, txn *Transaction) (*DonationNotice, error) {
	if txn.RecipientId == nil || txn.TargetId == nil || txn.TargetType != TargetArticle {
		return nil, nil
	}
	recipient, err := st.UserById(ctx, *txn.RecipientId)
	if err != nil {
		return nil, err
	}
	article, err := st.ArticleById(ctx, *txn.TargetId)
	if err != nil {
		return nil, err
	}
	var sender *User
	if txn.SenderId != nil {
		sender, err = st.UserById(ctx, *txn.SenderId)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return &DonationNotice{Tx: *txn, Sender: sender, Recipient: *recipient, Article: *article}, nil
}

// ApplyRefund records the per-charge refund list. Already-recorded
// refund ids are skipped; a refund for a payment the ledger never saw
// is a hard failure since a refund cannot exist without a known
// payment.
func (s *Service) ApplyRefund(ctx context.Context, refunds []card.Refund) error {
	for _, refund := range refunds {
		if err := s.applyOneRefund(ctx, refund); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) applyOneRefund(ctx context.Context, refund card.Refund) error {
	var state TransactionState
	remark := ""
	switch refund.Status {
	case card.RefundStatusSucceeded:
		state = StateSucceeded
	case card.RefundStatusFailed:
		state = StateFailed
		remark = refund.FailureReason
	default:
		return fmt.Errorf("%w: unknown refund status %q", ErrInvariant, refund.Status)
	}

	return s.store.WithTx(ctx, func(st Store) error {
		if _, err := st.TransactionByProviderTxId(ctx, ProviderCardNetwork, refund.Id, false); err == nil {
			return nil
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		parent, err := st.TransactionByProviderTxId(ctx, ProviderCardNetwork, refund.PaymentIntent, true)
		if err != nil {
			return fmt.Errorf("refund %s: parent payment: %w", refund.Id, err)
		}
		txn := &Transaction{
			UUID:         newUUID(),
			Amount:       minorUnits(refund.Amount),
			Currency:     Currency(strings.ToUpper(refund.Currency)),
			State:        state,
			Purpose:      PurposeRefund,
			Provider:     ProviderCardNetwork,
			ProviderTxId: refund.Id,
			SenderId:     parent.RecipientId,
			RecipientId:  parent.SenderId,
			TargetId:     &parent.Id,
			TargetType:   TargetTransaction,
			Remark:       remark,
		}
		if err := s.validateNew(txn); err != nil {
			return err
		}
		_, _, err = st.CreateTransactionIfAbsent(ctx, txn)
		return err
	})
}

// ApplyDisputeCreated inserts the pending dispute row. The disputed
// payment must exist and be settled. An amount mismatch is logged and
// processing continues, the provider is authoritative for disputes.
func (s *Service) ApplyDisputeCreated(ctx context.Context, dispute card.Dispute) error {
	return s.store.WithTx(ctx, func(st Store) error {
		if _, err := st.TransactionByProviderTxId(ctx, ProviderCardNetwork, dispute.Id, false); err == nil {
			return nil
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		parent, err := st.TransactionByProviderTxId(ctx, ProviderCardNetwork, dispute.PaymentIntent, true)
		if err != nil {
			return fmt.Errorf("dispute %s: disputed payment: %w", dispute.Id, err)
		}
		if parent.State != StateSucceeded {
			return fmt.Errorf("%w: dispute %s targets %s payment %s", ErrInvariant, dispute.Id, parent.State, parent.ProviderTxId)
		}
		amount := minorUnits(dispute.Amount)
		if !amount.Equal(parent.Amount) {
			s.warnf("dispute %s amount %s differs from payment amount %s", dispute.Id, amount, parent.Amount)
		}
		txn := &Transaction{
			UUID:         newUUID(),
			Amount:       amount,
			Currency:     parent.Currency,
			State:        StatePending,
			Purpose:      PurposeDispute,
			Provider:     ProviderCardNetwork,
			ProviderTxId: dispute.Id,
			SenderId:     parent.RecipientId,
			RecipientId:  parent.SenderId,
			TargetId:     &parent.Id,
			TargetType:   TargetTransaction,
			Remark:       dispute.Reason,
		}
		if err := s.validateNew(txn); err != nil {
			return err
		}
		_, _, err = st.CreateTransactionIfAbsent(ctx, txn)
		return err
	})
}

// ApplyDisputeUpdated closes an existing dispute row. Outcomes map from
// the platform perspective: a dispute the disputant won means the
// payment is clawed back, so the dispute row succeeds on "lost" only
// from the provider's wording.
func (s *Service) ApplyDisputeUpdated(ctx context.Context, dispute card.Dispute) error {
	var state TransactionState
	switch dispute.Status {
	case card.DisputeStatusWon:
		state = StateFailed
	case card.DisputeStatusLost:
		state = StateSucceeded
	case card.DisputeStatusWarningClosed:
		state = StateCanceled
	default:
		return fmt.Errorf("%w: unknown dispute outcome %q", ErrInvariant, dispute.Status)
	}
	return s.store.WithTx(ctx, func(st Store) error {
		txn, err := st.TransactionByProviderTxId(ctx, ProviderCardNetwork, dispute.Id, true)
		if err != nil {
			return fmt.Errorf("dispute %s: %w", dispute.Id, err)
		}
		if txn.State.Terminal() {
			return nil
		}
		_, err = s.transitionLocked(ctx, st, txn, state, dispute.Reason)
		return err
	})
}

// ApplyPayoutReversal records a provider-initiated payout undo as a new
// linked row crediting the original sender. Partial reversals and
// anything but exactly one reversal record halt hard; under-crediting
// silently is worse than failing loudly.
func (s *Service) ApplyPayoutReversal(ctx context.Context, transfer card.Transfer) error {
	if len(transfer.Reversals) != 1 {
		return fmt.Errorf("%w: transfer %s carries %d reversal records", ErrInvariant, transfer.Id, len(transfer.Reversals))
	}
	if transfer.AmountReversed != transfer.Amount {
		return fmt.Errorf("%w: transfer %s partially reversed (%d of %d)", ErrInvariant, transfer.Id, transfer.AmountReversed, transfer.Amount)
	}
	reversalId := transfer.Reversals[0].Id
	return s.store.WithTx(ctx, func(st Store) error {
		payout, err := st.TransactionByProviderTxId(ctx, ProviderCardNetwork, transfer.Id, true)
		if err != nil {
			return fmt.Errorf("reversal %s: payout: %w", reversalId, err)
		}
		if payout.Purpose != PurposePayout {
			return fmt.Errorf("%w: reversal %s targets %s row %s", ErrInvariant, reversalId, payout.Purpose, payout.ProviderTxId)
		}
		amount := minorUnits(transfer.Amount)
		if !amount.Equal(payout.Amount) {
			return fmt.Errorf("%w: reversal %s amount %s differs from payout amount %s", ErrInvariant, reversalId, amount, payout.Amount)
		}
		txn := &Transaction{
			UUID:         newUUID(),
			Amount:       payout.Amount,
			Currency:     payout.Currency,
			State:        StateSucceeded,
			Purpose:      PurposePayoutReversal,
			Provider:     ProviderCardNetwork,
			ProviderTxId: reversalId,
			RecipientId:  payout.SenderId,
			TargetId:     &payout.Id,
			TargetType:   TargetTransaction,
		}
		if err := s.validateNew(txn); err != nil {
			return err
		}
		_, _, err = st.CreateTransactionIfAbsent(ctx, txn)
		return err
	})
}
