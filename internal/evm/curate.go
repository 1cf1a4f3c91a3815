package evm

import (
	"fmt"
	"math/big"

	"github.com/chenzhijie/go-web3"
	web3types "github.com/chenzhijie/go-web3/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// CurationSender submits curation contract calls for custodial users,
// users who donate through the platform wallet instead of their own.
// The returned tx hash seeds the pending blockchain transaction row;
// confirmation still goes through the receipt reconciler like any other
// chain settlement.
type CurationSender struct {
	rpcURL        string
	chainId       int64
	privateKey    string
	curationAddr  string
	tokenDecimals int32
}

func NewCurationSender(rpcURL string, chainId int64, privateKey, curationAddr string, tokenDecimals int32) *CurationSender {
	return &CurationSender{
		rpcURL:        rpcURL,
		chainId:       chainId,
		privateKey:    privateKey,
		curationAddr:  curationAddr,
		tokenDecimals: tokenDecimals,
	}
}

// Curate sends curate(creator, token, amount, uri) and waits for the
// node to accept the transaction. Amount is a ledger decimal; it is
// scaled to the token's native precision here.
func (s *CurationSender) Curate(creator, tokenAddr string, amount decimal.Decimal, uri string) (string, error) {
	web3Conn, err := web3.NewWeb3(s.rpcURL)
	if err != nil {
		return "", err
	}
	web3Conn.Eth.SetChainId(s.chainId)
	if err := web3Conn.Eth.SetAccount(s.privateKey); err != nil {
		return "", err
	}
	contract, err := web3Conn.Eth.NewContract(curationAbiString, s.curationAddr)
	if err != nil {
		return "", err
	}
	rawAmount := amount.Shift(s.tokenDecimals).BigInt()
	data, err := contract.EncodeABI("curate",
		common.HexToAddress(creator),
		common.HexToAddress(tokenAddr),
		rawAmount,
		uri,
	)
	if err != nil {
		return "", err
	}
	nonce, err := web3Conn.Eth.GetNonce(web3Conn.Eth.Address(), nil)
	if err != nil {
		return "", err
	}
	call := &web3types.CallMsg{
		From: web3Conn.Eth.Address(),
		To:   common.HexToAddress(s.curationAddr),
		Data: data,
		Gas:  web3types.NewCallMsgBigInt(big.NewInt(web3types.MAX_GAS_LIMIT)),
	}
	gasLimit, err := web3Conn.Eth.EstimateGas(call)
	if err != nil {
		return "", err
	}
	gasPrice, err := web3Conn.Eth.SuggestGasTipCap()
	if err != nil {
		return "", err
	}
	gasPriceBase, err := web3Conn.Eth.EstimateFee()
	if err != nil {
		return "", err
	}
	gasPrice.Add(gasPriceBase.MaxPriorityFeePerGas, gasPriceBase.BaseFee)
	txHash, err := web3Conn.Eth.SyncSendRawTransaction(
		common.HexToAddress(s.curationAddr),
		big.NewInt(0),
		nonce,
		gasLimit,
		gasPrice,
		data,
	)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%v", txHash), nil
}
