package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"payments/internal/card"
)

func seedCardDonation(t *testing.T, ms *memStore, svc *Service, intentId string) *Transaction {
	t.Helper()
	sender := ms.addUser(User{UserName: "alice"})
	author := ms.addUser(User{UserName: "bob"})
	article := ms.addArticle(Article{AuthorId: author.Id, Title: "On Ledgers", Slug: "on-ledgers"})
	txn, err := svc.CreateTransaction(context.Background(), &Transaction{
		Amount:       decimal.RequireFromString("12.50"),
		Currency:     CurrencyHKD,
		State:        StatePending,
		Purpose:      PurposeDonation,
		Provider:     ProviderCardNetwork,
		ProviderTxId: intentId,
		SenderId:     &sender.Id,
		RecipientId:  &author.Id,
		TargetId:     &article.Id,
		TargetType:   TargetArticle,
	})
	if err != nil {
		t.Fatal(err)
	}
	return txn
}

func TestCardDonationLifecycle(t *testing.T) {
	ms := newMemStore()
	notifier := &recordNotifier{}
	svc := newTestService(ms, notifier)
	txn := seedCardDonation(t, ms, svc, "pi_1")
	ctx := context.Background()

	if err := svc.ApplyCardProviderEvent(ctx, card.PaymentIntent{Id: "pi_1", Status: card.PaymentStatusProcessing}); err != nil {
		t.Fatal(err)
	}
	got, _ := ms.TransactionById(ctx, txn.Id, false)
	if got.State != StatePending {
		t.Fatalf("after processing: state %s", got.State)
	}

	if err := svc.ApplyCardProviderEvent(ctx, card.PaymentIntent{Id: "pi_1", Status: card.PaymentStatusSucceeded}); err != nil {
		t.Fatal(err)
	}
	got, _ = ms.TransactionById(ctx, txn.Id, false)
	if got.State != StateSucceeded {
		t.Fatalf("after succeeded: state %s", got.State)
	}
	if len(notifier.notices) != 1 {
		t.Fatalf("expected 1 donation notice, got %d", len(notifier.notices))
	}
	n := notifier.notices[0]
	if n.Sender == nil || n.Sender.UserName != "alice" {
		t.Fatal("notice is missing the sender")
	}
	if n.Recipient.UserName != "bob" || n.Article.Slug != "on-ledgers" {
		t.Fatal("notice resolved the wrong parties")
	}

	// Redelivery of the terminal event is a no-op, including the
	// notification.
	if err := svc.ApplyCardProviderEvent(ctx, card.PaymentIntent{Id: "pi_1", Status: card.PaymentStatusSucceeded}); err != nil {
		t.Fatal(err)
	}
	if len(notifier.notices) != 1 {
		t.Fatalf("replay sent another notice, got %d", len(notifier.notices))
	}

	// A late conflicting event cannot reopen the row.
	if err := svc.ApplyCardProviderEvent(ctx, card.PaymentIntent{Id: "pi_1", Status: card.PaymentStatusCanceled}); err != nil {
		t.Fatal(err)
	}
	got, _ = ms.TransactionById(ctx, txn.Id, false)
	if got.State != StateSucceeded {
		t.Fatalf("terminal state was overwritten to %s", got.State)
	}
}

func TestCardEventForUnknownIntentIsIgnored(t *testing.T) {
	ms := newMemStore()
	svc := newTestService(ms, nil)
	if err := svc.ApplyCardProviderEvent(context.Background(), card.PaymentIntent{Id: "pi_elsewhere", Status: card.PaymentStatusSucceeded}); err != nil {
		t.Fatal(err)
	}
	if ms.countTransactions() != 0 {
		t.Fatal("unknown intent created a row")
	}
}

func TestCardEventUnknownStatus(t *testing.T) {
	ms := newMemStore()
	svc := newTestService(ms, nil)
	err := svc.ApplyCardProviderEvent(context.Background(), card.PaymentIntent{Id: "pi_1", Status: "requires_action_v2"})
	if !errors.Is(err, ErrInvariant) {
		t.Fatalf("expected invariant error, got %v", err)
	}
}

func TestRefundRecordsLinkedRow(t *testing.T) {
	ms := newMemStore()
	svc := newTestService(ms, nil)
	parent := seedCardDonation(t, ms, svc, "pi_1")
	ctx := context.Background()
	if err := svc.ApplyCardProviderEvent(ctx, card.PaymentIntent{Id: "pi_1", Status: card.PaymentStatusSucceeded}); err != nil {
		t.Fatal(err)
	}

	refund := card.Refund{
		Id:            "re_1",
		Amount:        1250,
		Currency:      "hkd",
		PaymentIntent: "pi_1",
		Status:        card.RefundStatusSucceeded,
	}
	if err := svc.ApplyRefund(ctx, []card.Refund{refund}); err != nil {
		t.Fatal(err)
	}
	row, err := ms.TransactionByProviderTxId(ctx, ProviderCardNetwork, "re_1", false)
	if err != nil {
		t.Fatal(err)
	}
	if row.Purpose != PurposeRefund || row.State != StateSucceeded {
		t.Fatalf("refund row is %s/%s", row.Purpose, row.State)
	}
	if !row.Amount.Equal(decimal.RequireFromString("12.50")) {
		t.Fatalf("refund amount %s", row.Amount)
	}
	if row.Currency != CurrencyHKD {
		t.Fatalf("refund currency %s", row.Currency)
	}
	if row.SenderId == nil || *row.SenderId != *parent.RecipientId {
		t.Fatal("refund sender is not the payment recipient")
	}
	if row.RecipientId == nil || *row.RecipientId != *parent.SenderId {
		t.Fatal("refund recipient is not the payment sender")
	}
	if row.TargetId == nil || *row.TargetId != parent.Id || row.TargetType != TargetTransaction {
		t.Fatal("refund row does not reference its parent")
	}

	// The payment row itself is untouched; the undo is a new row.
	parentNow, _ := ms.TransactionById(ctx, parent.Id, false)
	if parentNow.State != StateSucceeded {
		t.Fatalf("parent state changed to %s", parentNow.State)
	}

	before := ms.countTransactions()
	if err := svc.ApplyRefund(ctx, []card.Refund{refund}); err != nil {
		t.Fatal(err)
	}
	if ms.countTransactions() != before {
		t.Fatal("replayed refund created another row")
	}
}

func TestFailedRefundKeepsFailureReason(t *testing.T) {
	ms := newMemStore()
	svc := newTestService(ms, nil)
	seedCardDonation(t, ms, svc, "pi_1")
	ctx := context.Background()
	refund := card.Refund{
		Id:            "re_1",
		Amount:        1250,
		Currency:      "hkd",
		PaymentIntent: "pi_1",
		FailureReason: "expired_or_canceled_card",
		Status:        card.RefundStatusFailed,
	}
	if err := svc.ApplyRefund(ctx, []card.Refund{refund}); err != nil {
		t.Fatal(err)
	}
	row, err := ms.TransactionByProviderTxId(ctx, ProviderCardNetwork, "re_1", false)
	if err != nil {
		t.Fatal(err)
	}
	if row.State != StateFailed || row.Remark != "expired_or_canceled_card" {
		t.Fatalf("failed refund recorded as %s/%q", row.State, row.Remark)
	}
}

func TestRefundWithoutKnownPaymentFails(t *testing.T) {
	ms := newMemStore()
	svc := newTestService(ms, nil)
	err := svc.ApplyRefund(context.Background(), []card.Refund{{
		Id:            "re_1",
		Amount:        100,
		Currency:      "usd",
		PaymentIntent: "pi_ghost",
		Status:        card.RefundStatusSucceeded,
	}})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestRefundConcurrentDelivery(t *testing.T) {
	ms := newMemStore()
	svc := newTestService(ms, nil)
	seedCardDonation(t, ms, svc, "pi_1")
	refund := card.Refund{
		Id:            "re_1",
		Amount:        1250,
		Currency:      "hkd",
		PaymentIntent: "pi_1",
		Status:        card.RefundStatusSucceeded,
	}
	before := ms.countTransactions()
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = svc.ApplyRefund(context.Background(), []card.Refund{refund})
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}
	if got := ms.countTransactions(); got != before+1 {
		t.Fatalf("concurrent delivery produced %d refund rows", got-before)
	}
}

func TestDisputeLifecycle(t *testing.T) {
	ms := newMemStore()
	svc := newTestService(ms, nil)
	parent := seedCardDonation(t, ms, svc, "pi_1")
	ctx := context.Background()
	if err := svc.ApplyCardProviderEvent(ctx, card.PaymentIntent{Id: "pi_1", Status: card.PaymentStatusSucceeded}); err != nil {
		t.Fatal(err)
	}

	created := card.Dispute{Id: "dp_1", Amount: 1250, PaymentIntent: "pi_1", Reason: "fraudulent", Status: "needs_response"}
	if err := svc.ApplyDisputeCreated(ctx, created); err != nil {
		t.Fatal(err)
	}
	row, err := ms.TransactionByProviderTxId(ctx, ProviderCardNetwork, "dp_1", false)
	if err != nil {
		t.Fatal(err)
	}
	if row.Purpose != PurposeDispute || row.State != StatePending || row.Remark != "fraudulent" {
		t.Fatalf("dispute row is %s/%s/%q", row.Purpose, row.State, row.Remark)
	}
	if row.TargetId == nil || *row.TargetId != parent.Id {
		t.Fatal("dispute row does not reference the payment")
	}

	before := ms.countTransactions()
	if err := svc.ApplyDisputeCreated(ctx, created); err != nil {
		t.Fatal(err)
	}
	if ms.countTransactions() != before {
		t.Fatal("replayed dispute created another row")
	}

	// Platform wins: the clawback never happens, the dispute row fails.
	if err := svc.ApplyDisputeUpdated(ctx, card.Dispute{Id: "dp_1", PaymentIntent: "pi_1", Status: card.DisputeStatusWon}); err != nil {
		t.Fatal(err)
	}
	row, _ = ms.TransactionByProviderTxId(ctx, ProviderCardNetwork, "dp_1", false)
	if row.State != StateFailed {
		t.Fatalf("won dispute closed as %s", row.State)
	}

	// A contradictory late outcome cannot flip the terminal row.
	if err := svc.ApplyDisputeUpdated(ctx, card.Dispute{Id: "dp_1", PaymentIntent: "pi_1", Status: card.DisputeStatusLost}); err != nil {
		t.Fatal(err)
	}
	row, _ = ms.TransactionByProviderTxId(ctx, ProviderCardNetwork, "dp_1", false)
	if row.State != StateFailed {
		t.Fatalf("terminal dispute flipped to %s", row.State)
	}
}

func TestDisputeOutcomeMapping(t *testing.T) {
	cases := []struct {
		status string
		want   TransactionState
	}{
		{card.DisputeStatusWon, StateFailed},
		{card.DisputeStatusLost, StateSucceeded},
		{card.DisputeStatusWarningClosed, StateCanceled},
	}
	for _, tc := range cases {
		t.Run(tc.status, func(t *testing.T) {
			ms := newMemStore()
			svc := newTestService(ms, nil)
			seedCardDonation(t, ms, svc, "pi_1")
			ctx := context.Background()
			if err := svc.ApplyCardProviderEvent(ctx, card.PaymentIntent{Id: "pi_1", Status: card.PaymentStatusSucceeded}); err != nil {
				t.Fatal(err)
			}
			if err := svc.ApplyDisputeCreated(ctx, card.Dispute{Id: "dp_1", Amount: 1250, PaymentIntent: "pi_1", Reason: "general"}); err != nil {
				t.Fatal(err)
			}
			if err := svc.ApplyDisputeUpdated(ctx, card.Dispute{Id: "dp_1", PaymentIntent: "pi_1", Status: tc.status}); err != nil {
				t.Fatal(err)
			}
			row, _ := ms.TransactionByProviderTxId(ctx, ProviderCardNetwork, "dp_1", false)
			if row.State != tc.want {
				t.Fatalf("outcome %s closed the row as %s, want %s", tc.status, row.State, tc.want)
			}
		})
	}
}

func TestDisputeOnUnsettledPaymentFails(t *testing.T) {
	ms := newMemStore()
	svc := newTestService(ms, nil)
	seedCardDonation(t, ms, svc, "pi_1") // still pending
	err := svc.ApplyDisputeCreated(context.Background(), card.Dispute{Id: "dp_1", Amount: 1250, PaymentIntent: "pi_1"})
	if !errors.Is(err, ErrInvariant) {
		t.Fatalf("expected invariant error, got %v", err)
	}
}

func TestDisputeAmountMismatchStillRecords(t *testing.T) {
	ms := newMemStore()
	svc := newTestService(ms, nil)
	seedCardDonation(t, ms, svc, "pi_1")
	ctx := context.Background()
	if err := svc.ApplyCardProviderEvent(ctx, card.PaymentIntent{Id: "pi_1", Status: card.PaymentStatusSucceeded}); err != nil {
		t.Fatal(err)
	}
	if err := svc.ApplyDisputeCreated(ctx, card.Dispute{Id: "dp_1", Amount: 999, PaymentIntent: "pi_1"}); err != nil {
		t.Fatal(err)
	}
	row, err := ms.TransactionByProviderTxId(ctx, ProviderCardNetwork, "dp_1", false)
	if err != nil {
		t.Fatal(err)
	}
	if !row.Amount.Equal(decimal.RequireFromString("9.99")) {
		t.Fatalf("dispute recorded amount %s", row.Amount)
	}
}

func TestDisputeUpdateForUnknownDisputeFails(t *testing.T) {
	ms := newMemStore()
	svc := newTestService(ms, nil)
	err := svc.ApplyDisputeUpdated(context.Background(), card.Dispute{Id: "dp_ghost", Status: card.DisputeStatusWon})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func seedPayout(t *testing.T, ms *memStore, svc *Service, transferId string) *Transaction {
	t.Helper()
	user := ms.addUser(User{UserName: "carol"})
	txn, err := svc.CreateTransaction(context.Background(), &Transaction{
		Amount:       decimal.RequireFromString("80.00"),
		Currency:     CurrencyUSD,
		State:        StateSucceeded,
		Purpose:      PurposePayout,
		Provider:     ProviderCardNetwork,
		ProviderTxId: transferId,
		SenderId:     &user.Id,
	})
	if err != nil {
		t.Fatal(err)
	}
	return txn
}

func TestPayoutReversal(t *testing.T) {
	ms := newMemStore()
	svc := newTestService(ms, nil)
	payout := seedPayout(t, ms, svc, "tr_1")
	ctx := context.Background()

	transfer := card.Transfer{
		Id:             "tr_1",
		Amount:         8000,
		AmountReversed: 8000,
		Reversals:      []card.Reversal{{Id: "trr_1"}},
	}
	if err := svc.ApplyPayoutReversal(ctx, transfer); err != nil {
		t.Fatal(err)
	}
	row, err := ms.TransactionByProviderTxId(ctx, ProviderCardNetwork, "trr_1", false)
	if err != nil {
		t.Fatal(err)
	}
	if row.Purpose != PurposePayoutReversal || row.State != StateSucceeded {
		t.Fatalf("reversal row is %s/%s", row.Purpose, row.State)
	}
	if row.RecipientId == nil || *row.RecipientId != *payout.SenderId {
		t.Fatal("reversal does not credit the payout sender")
	}
	if row.TargetId == nil || *row.TargetId != payout.Id {
		t.Fatal("reversal does not reference the payout")
	}

	before := ms.countTransactions()
	if err := svc.ApplyPayoutReversal(ctx, transfer); err != nil {
		t.Fatal(err)
	}
	if ms.countTransactions() != before {
		t.Fatal("replayed reversal created another row")
	}
}

func TestPartialPayoutReversalRejected(t *testing.T) {
	ms := newMemStore()
	svc := newTestService(ms, nil)
	seedPayout(t, ms, svc, "tr_1")
	err := svc.ApplyPayoutReversal(context.Background(), card.Transfer{
		Id:             "tr_1",
		Amount:         8000,
		AmountReversed: 4000,
		Reversals:      []card.Reversal{{Id: "trr_1"}},
	})
	if !errors.Is(err, ErrInvariant) {
		t.Fatalf("expected invariant error, got %v", err)
	}
	if _, err := ms.TransactionByProviderTxId(context.Background(), ProviderCardNetwork, "trr_1", false); !errors.Is(err, ErrNotFound) {
		t.Fatal("partial reversal still wrote a row")
	}
}

func TestPayoutReversalRequiresSingleRecord(t *testing.T) {
	ms := newMemStore()
	svc := newTestService(ms, nil)
	seedPayout(t, ms, svc, "tr_1")
	err := svc.ApplyPayoutReversal(context.Background(), card.Transfer{
		Id:             "tr_1",
		Amount:         8000,
		AmountReversed: 8000,
		Reversals:      []card.Reversal{{Id: "trr_1"}, {Id: "trr_2"}},
	})
	if !errors.Is(err, ErrInvariant) {
		t.Fatalf("expected invariant error, got %v", err)
	}
}

func TestPayoutReversalAmountMismatch(t *testing.T) {
	ms := newMemStore()
	svc := newTestService(ms, nil)
	seedPayout(t, ms, svc, "tr_1") // 80.00
	err := svc.ApplyPayoutReversal(context.Background(), card.Transfer{
		Id:             "tr_1",
		Amount:         9000,
		AmountReversed: 9000,
		Reversals:      []card.Reversal{{Id: "trr_1"}},
	})
	if !errors.Is(err, ErrInvariant) {
		t.Fatalf("expected invariant error, got %v", err)
	}
}

func TestPayoutReversalTargetsNonPayout(t *testing.T) {
	ms := newMemStore()
	svc := newTestService(ms, nil)
	seedCardDonation(t, ms, svc, "tr_1") // a donation wearing the transfer id
	err := svc.ApplyPayoutReversal(context.Background(), card.Transfer{
		Id:             "tr_1",
		Amount:         1250,
		AmountReversed: 1250,
		Reversals:      []card.Reversal{{Id: "trr_1"}},
	})
	if !errors.Is(err, ErrInvariant) {
		t.Fatalf("expected invariant error, got %v", err)
	}
}
