package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"payments/internal/app"
	"payments/internal/card"
	"payments/internal/ledger"
)

type webhookEnvelope struct {
	Id   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type chargeObject struct {
	Id            string `json:"id"`
	PaymentIntent string `json:"payment_intent"`
	Refunds       struct {
		Data []card.Refund `json:"data"`
	} `json:"refunds"`
}

// CardWebhook ingests card provider events. Delivery is at-least-once,
// every branch below tolerates replays; unknown event types are
// acknowledged and skipped so the provider does not redeliver them
// forever.
func CardWebhook(c *gin.Context) {
	a := c.MustGet("app").(*app.App)
	var envelope webhookEnvelope
	if err := c.ShouldBindJSON(&envelope); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()

	var err error
	switch envelope.Type {
	case "payment_intent.processing",
		"payment_intent.succeeded",
		"payment_intent.payment_failed",
		"payment_intent.canceled":
		var intent card.PaymentIntent
		if err = json.Unmarshal(envelope.Data.Object, &intent); err == nil {
			err = a.Ledger.ApplyCardProviderEvent(ctx, intent)
		}
	case "charge.refunded":
		var charge chargeObject
		if err = json.Unmarshal(envelope.Data.Object, &charge); err == nil {
			err = a.Ledger.ApplyRefund(ctx, charge.Refunds.Data)
		}
	case "charge.dispute.created":
		var dispute card.Dispute
		if err = json.Unmarshal(envelope.Data.Object, &dispute); err == nil {
			err = a.Ledger.ApplyDisputeCreated(ctx, dispute)
		}
	case "charge.dispute.closed":
		var dispute card.Dispute
		if err = json.Unmarshal(envelope.Data.Object, &dispute); err == nil {
			err = a.Ledger.ApplyDisputeUpdated(ctx, dispute)
		}
	case "transfer.reversed":
		var transfer card.Transfer
		if err = json.Unmarshal(envelope.Data.Object, &transfer); err == nil {
			err = a.Ledger.ApplyPayoutReversal(ctx, transfer)
		}
	default:
		c.JSON(http.StatusOK, gin.H{"received": true, "ignored": envelope.Type})
		return
	}

	if err != nil {
		a.Logger.Warn("webhook " + envelope.Type + " (" + envelope.Id + "): " + err.Error())
		if errors.Is(err, ledger.ErrInvariant) || errors.Is(err, ledger.ErrNotFound) {
			// Malformed or unmatchable payload, redelivery cannot fix it.
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}
