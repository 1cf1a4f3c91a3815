package api

import (
	"errors"
	"net/http"
	"os"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"payments/internal/app"
	"payments/internal/ledger"
	"payments/internal/worker"
)

type custodialDonateParams struct {
	ArticleId uint   `json:"article_id"`
	SenderId  uint   `json:"sender_id"` // 0 = platform-originated
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
}

type payoutParams struct {
	TransferId string `json:"transfer_id"` // card provider transfer id
	UserId     uint   `json:"user_id"`
	Amount     string `json:"amount"`
	Currency   string `json:"currency"`
}

// CustodialDonate settles a donation on chain from the platform vault
// on a user's behalf, then records the pending ledger row and schedules
// confirmation against the receipt. The creator payout address is the
// recipient's on-file wallet, falling back to the vault.
func CustodialDonate(c *gin.Context) {
	a := c.MustGet("app").(*app.App)
	var params custodialDonateParams
	if err := c.ShouldBindJSON(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	amount, err := decimal.NewFromString(params.Amount)
	if err != nil || amount.Sign() <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}
	currency := ledger.Currency(params.Currency)
	if !currency.Token() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "custodial donations settle in token currencies"})
		return
	}
	ctx := c.Request.Context()
	article, err := a.Store.ArticleById(ctx, params.ArticleId)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "article not found"})
		return
	}
	recipient, err := a.Store.UserById(ctx, article.AuthorId)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "author not found"})
		return
	}
	creator := recipient.Address
	if creator == "" {
		creator = os.Getenv("VAULT_ADDRESS")
	}

	txHash, err := a.Curation.Curate(creator, os.Getenv("USDT_CONTRACT_ADDRESS"), amount, article.Slug)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	txn := &ledger.Transaction{
		Amount:      amount,
		Currency:    currency,
		State:       ledger.StatePending,
		Purpose:     ledger.PurposeDonation,
		Provider:    ledger.ProviderChain,
		RecipientId: &article.AuthorId,
		TargetId:    &article.Id,
		TargetType:  ledger.TargetArticle,
	}
	if params.SenderId != 0 {
		txn.SenderId = &params.SenderId
	}
	out, _, err := a.Ledger.RecordChainIntent(ctx, txn, a.Evm.ChainId(), txHash)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := enqueueChainConfirm(a, out.Id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"transaction": out, "tx_hash": txHash})
}

// CreatePayout registers a pending payout row for a transfer already
// initiated at the card provider. The transfer's own webhooks move the
// row out of pending.
func CreatePayout(c *gin.Context) {
	a := c.MustGet("app").(*app.App)
	var params payoutParams
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
	if _, err := a.Store.UserById(ctx, params.UserId); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	txn := &ledger.Transaction{
		Amount:       amount,
		Currency:     ledger.Currency(params.Currency),
		State:        ledger.StatePending,
		Purpose:      ledger.PurposePayout,
		Provider:     ledger.ProviderCardNetwork,
		ProviderTxId: params.TransferId,
		SenderId:     &params.UserId,
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

// ConfirmChainTx re-enqueues receipt confirmation for a chain
// transaction whose poller was exhausted or lost.
func ConfirmChainTx(c *gin.Context) {
	a := c.MustGet("app").(*app.App)
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	txn, err := a.Store.TransactionById(c.Request.Context(), uint(id), false)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "transaction not found"})
		return
	}
	if txn.Provider != ledger.ProviderChain {
		c.JSON(http.StatusBadRequest, gin.H{"error": "not a chain transaction"})
		return
	}
	if err := enqueueChainConfirm(a, txn.Id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"scheduled": txn.Id})
}

// GetChainQueue reports the confirmation queue depth so operators can
// spot a stuck worker before donations pile up in pending.
func GetChainQueue(c *gin.Context) {
	a := c.MustGet("app").(*app.App)
	info, err := a.Aqi.GetQueueInfo(worker.QueueChain)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"pending":   info.Pending,
		"active":    info.Active,
		"scheduled": info.Scheduled,
		"retry":     info.Retry,
		"archived":  info.Archived,
	})
}

// GetProduct proxies a product lookup to the card provider.
func GetProduct(c *gin.Context) {
	a := c.MustGet("app").(*app.App)
	product, err := a.Card.Product(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, product)
}

// GetPrice proxies a price lookup to the card provider.
func GetPrice(c *gin.Context) {
	a := c.MustGet("app").(*app.App)
	price, err := a.Card.Price(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, price)
}
