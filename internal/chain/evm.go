package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

// transfer(address,uint256)
var transferSelector = []byte{0xa9, 0x05, 0x9c, 0xbb}

const ledgerDecimals = 6

// EVMConfig configures an ERC-20 sender.
type EVMConfig struct {
	RPCURL          string
	PrivateKey      string
	ContractAddress string
	// ChainID of zero is read from the node.
	ChainID       int64
	TokenDecimals int
	// ConfirmTimeout bounds the wait for a receipt. Zero returns as soon as
	// the transaction is accepted by the node.
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
}

// Configured reports whether enough settings are present to sign transfers.
func (c EVMConfig) Configured() bool {
	return strings.TrimSpace(c.RPCURL) != "" &&
		strings.TrimSpace(c.PrivateKey) != "" &&
		strings.TrimSpace(c.ContractAddress) != ""
}

// EVMTransferer signs and broadcasts ERC-20 transfer calls.
type EVMTransferer struct {
	client   *ethclient.Client
	key      *ecdsa.PrivateKey
	from     common.Address
	contract common.Address
	chainID  *big.Int
	decimals int
	confirm  time.Duration
	poll     time.Duration

	// nonces are assigned from the pending pool, so sends are serialized up
	// to broadcast.
	mu sync.Mutex
}

var _ Transferer = (*EVMTransferer)(nil)

func NewEVMTransferer(ctx context.Context, cfg EVMConfig) (*EVMTransferer, error) {
	if !cfg.Configured() {
		return nil, errors.New("evm transferer requires rpc url, private key and contract address")
	}
	if !IsAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("invalid token contract address %q", cfg.ContractAddress)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(cfg.PrivateKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse signer key: %w", err)
	}
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	chainID := big.NewInt(cfg.ChainID)
	if cfg.ChainID == 0 {
		chainID, err = client.ChainID(ctx)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("read chain id: %w", err)
		}
	}
	decimals := cfg.TokenDecimals
	if decimals <= 0 {
		decimals = ledgerDecimals
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 2 * time.Second
	}

	return &EVMTransferer{
		client:   client,
		key:      key,
		from:     crypto.PubkeyToAddress(key.PublicKey),
		contract: common.HexToAddress(cfg.ContractAddress),
		chainID:  chainID,
		decimals: decimals,
		confirm:  cfg.ConfirmTimeout,
		poll:     poll,
	}, nil
}

func (t *EVMTransferer) Close() {
	t.client.Close()
}

func (t *EVMTransferer) Send(ctx context.Context, address string, amountMicros int64) (string, error) {
	if !IsAddress(address) {
		return "", &TransferError{Op: "validate", Err: fmt.Errorf("invalid destination address %q", address)}
	}
	units, err := TokenUnits(amountMicros, t.decimals)
	if err != nil {
		return "", &TransferError{Op: "validate", Err: err}
	}
	data := TransferCalldata(common.HexToAddress(address), units)

	signed, err := t.broadcast(ctx, data)
	hash := ""
	if signed != nil {
		hash = signed.Hash().Hex()
	}
	if err != nil {
		return hash, err
	}

	zap.L().Info("erc20 transfer broadcast",
		zap.String("tx_hash", hash),
		zap.String("to", address),
		zap.Int64("amount_micros", amountMicros),
	)
	if t.confirm <= 0 {
		return hash, nil
	}
	return hash, t.waitReceipt(ctx, signed.Hash())
}

// broadcast returns the signed transaction whenever it got as far as signing,
// so an ambiguous send error still carries the hash.
func (t *EVMTransferer) broadcast(ctx context.Context, data []byte) (*types.Transaction, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	nonce, err := t.client.PendingNonceAt(ctx, t.from)
	if err != nil {
		return nil, &TransferError{Op: "nonce", Err: err}
	}
	tip, err := t.client.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, &TransferError{Op: "gas_tip", Err: err}
	}
	head, err := t.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, &TransferError{Op: "header", Err: err}
	}
	feeCap := new(big.Int).Add(tip, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))

	gas, err := t.client.EstimateGas(ctx, ethereum.CallMsg{
		From: t.from,
		To:   &t.contract,
		Data: data,
	})
	if err != nil {
		// Estimation executes the call, so a revert here means the transfer
		// could never succeed (e.g. insufficient token balance).
		return nil, &TransferError{Op: "estimate_gas", Err: err}
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   t.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &t.contract,
		Data:      data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(t.chainID), t.key)
	if err != nil {
		return nil, &TransferError{Op: "sign", Err: err}
	}

	if err := t.client.SendTransaction(ctx, signed); err != nil {
		if isAmbiguous(err) {
			return signed, fmt.Errorf("send transaction %s: %w: %v", signed.Hash().Hex(), ErrOutcomeUnknown, err)
		}
		return signed, &TransferError{Op: "send", Err: err}
	}
	return signed, nil
}

func (t *EVMTransferer) waitReceipt(ctx context.Context, hash common.Hash) error {
	waitCtx, cancel := context.WithTimeout(ctx, t.confirm)
	defer cancel()

	ticker := time.NewTicker(t.poll)
	defer ticker.Stop()
	for {
		receipt, err := t.client.TransactionReceipt(waitCtx, hash)
		switch {
		case err == nil:
			if receipt.Status != types.ReceiptStatusSuccessful {
				return &TransferError{Op: "receipt", Err: fmt.Errorf("transaction %s reverted", hash.Hex())}
			}
			return nil
		case errors.Is(err, ethereum.NotFound):
		default:
			zap.L().Warn("receipt lookup failed", zap.String("tx_hash", hash.Hex()), zap.Error(err))
		}

		select {
		case <-waitCtx.Done():
			return fmt.Errorf("wait for receipt %s: %w", hash.Hex(), ErrOutcomeUnknown)
		case <-ticker.C:
		}
	}
}

// TokenUnits rescales ledger micros to the token's base units.
func TokenUnits(amountMicros int64, decimals int) (*big.Int, error) {
	if amountMicros <= 0 {
		return nil, fmt.Errorf("amount must be positive, got %d", amountMicros)
	}
	units := big.NewInt(amountMicros)
	switch {
	case decimals > ledgerDecimals:
		factor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals-ledgerDecimals)), nil)
		units.Mul(units, factor)
	case decimals < ledgerDecimals:
		factor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(ledgerDecimals-decimals)), nil)
		q, r := new(big.Int).QuoRem(units, factor, new(big.Int))
		if r.Sign() != 0 {
			return nil, fmt.Errorf("amount %d micros is not representable with %d decimals", amountMicros, decimals)
		}
		units = q
	}
	return units, nil
}

// TransferCalldata encodes transfer(to, amount).
func TransferCalldata(to common.Address, amount *big.Int) []byte {
	data := make([]byte, 0, 4+32+32)
	data = append(data, transferSelector...)
	data = append(data, common.LeftPadBytes(to.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(amount.Bytes(), 32)...)
	return data
}

func isAmbiguous(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
