package anchor

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ErrInvalidNonce is returned when the contract rejects a status update
// whose nonce is not strictly greater than the stored one.
var ErrInvalidNonce = errors.New("anchor: invalid status nonce")

// registryABI is the complaint registry contract interface. The complaint
// hash doubles as the registry key: it covers only immutable fields, so it
// is stable across status updates. createComplaintAnchor is idempotent per
// complaint; updateStatusAnchor requires a strictly increasing nonce.
const registryABI = `[
	{"type":"function","name":"createComplaintAnchor","stateMutability":"nonpayable","inputs":[
		{"name":"complaintHash","type":"bytes32"},
		{"name":"slaHash","type":"bytes32"},
		{"name":"statusHash","type":"bytes32"},
		{"name":"createdAt","type":"uint256"},
		{"name":"nonce","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"updateStatusAnchor","stateMutability":"nonpayable","inputs":[
		{"name":"complaintHash","type":"bytes32"},
		{"name":"statusHash","type":"bytes32"},
		{"name":"updatedAt","type":"uint256"},
		{"name":"nonce","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"statusNonce","stateMutability":"view","inputs":[
		{"name":"complaintHash","type":"bytes32"}],"outputs":[{"name":"","type":"uint256"}]}
]`

const submitGasLimit = 200000

// Backend abstracts the chain so the worker is testable without an RPC node.
type Backend interface {
	SubmitAnchor(ctx context.Context, complaintHash, slaHash, statusHash [32]byte, createdAt, nonce *big.Int) (string, error)
	SubmitStatus(ctx context.Context, complaintHash, statusHash [32]byte, updatedAt, nonce *big.Int) (string, error)
	StatusNonce(ctx context.Context, complaintHash [32]byte) (*big.Int, error)
}

// EthBackend talks to the registry contract over JSON-RPC.
type EthBackend struct {
	client   *ethclient.Client
	contract common.Address
	abi      abi.ABI
	key      *ecdsa.PrivateKey
	from     common.Address
	chainID  *big.Int
}

// NewEthBackend dials the RPC endpoint and prepares the signing identity.
func NewEthBackend(rpcURL, contractAddr, privateKeyHex string, chainID int64) (*EthBackend, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial chain rpc: %w", err)
	}
	parsed, err := abi.JSON(strings.NewReader(registryABI))
	if err != nil {
		return nil, fmt.Errorf("parse registry abi: %w", err)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse anchor private key: %w", err)
	}
	return &EthBackend{
		client:   client,
		contract: common.HexToAddress(contractAddr),
		abi:      parsed,
		key:      key,
		from:     crypto.PubkeyToAddress(key.PublicKey),
		chainID:  big.NewInt(chainID),
	}, nil
}

func (b *EthBackend) SubmitAnchor(ctx context.Context, complaintHash, slaHash, statusHash [32]byte, createdAt, nonce *big.Int) (string, error) {
	data, err := b.abi.Pack("createComplaintAnchor", complaintHash, slaHash, statusHash, createdAt, nonce)
	if err != nil {
		return "", fmt.Errorf("pack createComplaintAnchor: %w", err)
	}
	return b.send(ctx, data)
}

func (b *EthBackend) SubmitStatus(ctx context.Context, complaintHash, statusHash [32]byte, updatedAt, nonce *big.Int) (string, error) {
	data, err := b.abi.Pack("updateStatusAnchor", complaintHash, statusHash, updatedAt, nonce)
	if err != nil {
		return "", fmt.Errorf("pack updateStatusAnchor: %w", err)
	}
	txHash, err := b.send(ctx, data)
	if err != nil && isInvalidNonceErr(err) {
		return "", ErrInvalidNonce
	}
	return txHash, err
}

func (b *EthBackend) StatusNonce(ctx context.Context, complaintHash [32]byte) (*big.Int, error) {
	data, err := b.abi.Pack("statusNonce", complaintHash)
	if err != nil {
		return nil, fmt.Errorf("pack statusNonce: %w", err)
	}
	out, err := b.client.CallContract(ctx, ethereum.CallMsg{To: &b.contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call statusNonce: %w", err)
	}
	vals, err := b.abi.Unpack("statusNonce", out)
	if err != nil {
		return nil, fmt.Errorf("unpack statusNonce: %w", err)
	}
	nonce, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("statusNonce returned %T", vals[0])
	}
	return nonce, nil
}

func (b *EthBackend) send(ctx context.Context, data []byte) (string, error) {
	accountNonce, err := b.client.PendingNonceAt(ctx, b.from)
	if err != nil {
		return "", fmt.Errorf("pending nonce: %w", err)
	}
	gasPrice, err := b.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("suggest gas price: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    accountNonce,
		To:       &b.contract,
		Gas:      submitGasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(b.chainID), b.key)
	if err != nil {
		return "", fmt.Errorf("sign tx: %w", err)
	}
	if err := b.client.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("send tx: %w", err)
	}
	return signed.Hash().Hex(), nil
}

// isInvalidNonceErr matches the contract's InvalidNonce revert as surfaced
// by the RPC node.
func isInvalidNonceErr(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "invalidnonce")
}
