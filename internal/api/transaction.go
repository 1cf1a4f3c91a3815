package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"

	"payments/internal/app"
	"payments/internal/evm"
	"payments/internal/ledger"
	"payments/internal/worker"
)

type cardIntentParams struct {
	IntentId  string `json:"intent_id"` // card provider payment intent id
	Purpose   string `json:"purpose"`   // donation or addCredit
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	ArticleId uint   `json:"article_id"`
}

type chainDonateParams struct {
	Txid      string `json:"txid"` // hash of the user-submitted transaction
	ArticleId uint   `json:"article_id"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
}

// CreateCardIntent registers the pending ledger row for a card payment
// before the provider's webhooks start arriving. Replaying the same
// intent id returns the existing row.
func CreateCardIntent(c *gin.Context) {
	a := c.MustGet("app").(*app.App)
	userId := c.GetUint("user_id")
	var params cardIntentParams
	if err := c.ShouldBindJSON(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	amount, err := decimal.NewFromString(params.Amount)
	if err != nil || amount.Sign() <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}
	ctx := c.Request.Context()

	txn := &ledger.Transaction{
		Amount:       amount,
		Currency:     ledger.Currency(params.Currency),
		State:        ledger.StatePending,
		Purpose:      ledger.TransactionPurpose(params.Purpose),
		Provider:     ledger.ProviderCardNetwork,
		ProviderTxId: params.IntentId,
		SenderId:     &userId,
	}
	switch txn.Purpose {
	case ledger.PurposeDonation:
		article, err := a.Store.ArticleById(ctx, params.ArticleId)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "article not found"})
			return
		}
		txn.RecipientId = &article.AuthorId
		txn.TargetId = &article.Id
		txn.TargetType = ledger.TargetArticle
	case ledger.PurposeAddCredit:
		txn.RecipientId = &userId
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported purpose"})
		return
	}

	out, err := a.Ledger.CreateTransaction(ctx, txn)
	if err != nil {
		if errors.Is(err, ledger.ErrInvariant) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, out)
}

// ChainDonate records a donation the user already settled on chain
// themselves and schedules receipt confirmation. Idempotent on the tx
// hash.
func ChainDonate(c *gin.Context) {
	a := c.MustGet("app").(*app.App)
	userId := c.GetUint("user_id")
	var params chainDonateParams
	if err := c.ShouldBindJSON(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !evm.IsValidTxHash(params.Txid) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid txid"})
		return
	}
	amount, err := decimal.NewFromString(params.Amount)
	if err != nil || amount.Sign() <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}
	currency := ledger.Currency(params.Currency)
	if !currency.Token() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "chain donations settle in token currencies"})
		return
	}
	ctx := c.Request.Context()
	article, err := a.Store.ArticleById(ctx, params.ArticleId)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "article not found"})
		return
	}

	txn := &ledger.Transaction{
		Amount:      amount,
		Currency:    currency,
		State:       ledger.StatePending,
		Purpose:     ledger.PurposeDonation,
		Provider:    ledger.ProviderChain,
		SenderId:    &userId,
		RecipientId: &article.AuthorId,
		TargetId:    &article.Id,
		TargetType:  ledger.TargetArticle,
	}
	out, _, err := a.Ledger.RecordChainIntent(ctx, txn, a.Evm.ChainId(), params.Txid)
	if err != nil {
		if errors.Is(err, ledger.ErrInvariant) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := enqueueChainConfirm(a, out.Id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, out)
}

// GetTransactionsList returns the caller's ledger rows, sent and
// received, newest first.
func GetTransactionsList(c *gin.Context) {
	a := c.MustGet("app").(*app.App)
	userId := c.GetUint("user_id")
	ctx := c.Request.Context()

	sent, err := a.Ledger.FindTransactions(ctx, ledger.TransactionFilter{SenderId: &userId})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	received, err := a.Ledger.FindTransactions(ctx, ledger.TransactionFilter{RecipientId: &userId})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	mixed := sent
	for _, txn := range received {
		if txn.SenderId == nil || *txn.SenderId != userId {
			mixed = append(mixed, txn)
		}
	}
	c.JSON(http.StatusOK, gin.H{"count": len(mixed), "results": mixed})
}

func enqueueChainConfirm(a *app.App, txId uint) error {
	task, opts, err := worker.NewChainConfirmTask(txId)
	if err != nil {
		return err
	}
	_, err = a.Aqc.Enqueue(task, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		// Already scheduled for this transaction.
		return nil
	}
	return err
}
