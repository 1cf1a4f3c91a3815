package evm

import (
	"context"
	"errors"
	"math/big"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"payments/internal/ledger"
)

const curationAbiString = `[{"anonymous":false,"inputs":[{"indexed":true,"internalType":"address","name":"curator","type":"address"},{"indexed":true,"internalType":"address","name":"creator","type":"address"},{"indexed":true,"internalType":"contract IERC20","name":"token","type":"address"},{"indexed":false,"internalType":"string","name":"uri","type":"string"},{"indexed":false,"internalType":"uint256","name":"amount","type":"uint256"}],"name":"Curation","type":"event"},{"inputs":[{"internalType":"address","name":"creator","type":"address"},{"internalType":"contract IERC20","name":"token","type":"address"},{"internalType":"uint256","name":"amount","type":"uint256"},{"internalType":"string","name":"uri","type":"string"}],"name":"curate","outputs":[],"stateMutability":"nonpayable","type":"function"}]`

var curationEventSig = crypto.Keccak256Hash([]byte("Curation(address,address,address,string,uint256)"))

// Client reads receipts from the rpc node and decodes curation contract
// events into the ledger's receipt shape.
type Client struct {
	eth           *ethclient.Client
	chainId       *big.Int
	curationAddr  common.Address
	curationAbi   abi.ABI
	tokenDecimals int32
}

func New(rawURL string, chainId uint64, curationAddr string, tokenDecimals int32) (*Client, error) {
	eth, err := ethclient.Dial(rawURL)
	if err != nil {
		return nil, err
	}
	parsed, err := abi.JSON(strings.NewReader(curationAbiString))
	if err != nil {
		return nil, err
	}
	return &Client{
		eth:           eth,
		chainId:       new(big.Int).SetUint64(chainId),
		curationAddr:  common.HexToAddress(curationAddr),
		curationAbi:   parsed,
		tokenDecimals: tokenDecimals,
	}, nil
}

func (c *Client) Close() {
	c.eth.Close()
}

func (c *Client) ChainId() uint64 {
	return c.chainId.Uint64()
}

func IsValidAddress(address string) bool {
	return common.IsHexAddress(address)
}

var txHashRe = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

func IsValidTxHash(hash string) bool {
	return txHashRe.MatchString(hash)
}

// FetchReceipt implements ledger.ReceiptFetcher. (nil, nil) means the
// transaction is not mined yet.
func (c *Client) FetchReceipt(ctx context.Context, txHash string) (*ledger.Receipt, error) {
	hash := common.HexToHash(txHash)
	r, err := c.eth.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	receipt := &ledger.Receipt{
		BlockNumber: r.BlockNumber.Uint64(),
		Reverted:    r.Status == types.ReceiptStatusFailed,
	}
	tx, pending, err := c.eth.TransactionByHash(ctx, hash)
	if err == nil && !pending {
		if sender, err := types.Sender(types.LatestSignerForChainID(c.chainId), tx); err == nil {
			receipt.From = sender.Hex()
		}
		if tx.To() != nil {
			receipt.To = tx.To().Hex()
		}
	}
	for _, vLog := range r.Logs {
		ev, ok := c.decodeCurationLog(vLog)
		if !ok {
			continue
		}
		receipt.Events = append(receipt.Events, ev)
	}
	return receipt, nil
}

func (c *Client) decodeCurationLog(vLog *types.Log) (ledger.CurationEvent, bool) {
	if vLog.Address != c.curationAddr {
		return ledger.CurationEvent{}, false
	}
	if len(vLog.Topics) != 4 || vLog.Topics[0] != curationEventSig {
		return ledger.CurationEvent{}, false
	}
	event := struct {
		Uri    string
		Amount *big.Int
	}{}
	if err := c.curationAbi.UnpackIntoInterface(&event, "Curation", vLog.Data); err != nil {
		return ledger.CurationEvent{}, false
	}
	return ledger.CurationEvent{
		CuratorAddress: common.HexToAddress(vLog.Topics[1].Hex()).Hex(),
		CreatorAddress: common.HexToAddress(vLog.Topics[2].Hex()).Hex(),
		TokenAddress:   common.HexToAddress(vLog.Topics[3].Hex()).Hex(),
		Amount:         decimal.NewFromBigInt(event.Amount, -c.tokenDecimals),
		Uri:            event.Uri,
	}, true
}
