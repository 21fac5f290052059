package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"rangepilot/internal/amm"
	"rangepilot/internal/model"
)

// transferTopic is keccak256("Transfer(address,address,uint256)").
var transferTopic = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")

// Client is the chain access surface the rebalancer core depends on.
type Client interface {
	OwnerAddress() string
	GasCoinType() string
	GetBalance(ctx context.Context, owner, coinType string) (*big.Int, error)
	GetPool(ctx context.Context, poolAddress string) (*model.PoolInfo, error)
	GetPositions(ctx context.Context, owner string) ([]model.PositionInfo, error)
	SignAndExecute(ctx context.Context, tx *amm.Transaction) (*model.ExecutionResult, error)
}

// EthClient implements Client against an EVM RPC endpoint and the deployed
// liquidity router.
type EthClient struct {
	rpcClient *rpc.Client
	ethClient *ethclient.Client

	key     *ecdsa.PrivateKey
	owner   common.Address
	chainID *big.Int

	router    common.Address
	gasBudget uint64
	logger    *zap.Logger
}

// NewEthClient dials the RPC endpoint and derives the wallet identity from
// the private key.
func NewEthClient(ctx context.Context, rpcURL, walletKey string, router common.Address, gasBudget uint64, logger *zap.Logger) (*EthClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(walletKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse wallet key: %w", err)
	}

	rpcClient, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}
	ethClient := ethclient.NewClient(rpcClient)

	chainID, err := ethClient.ChainID(ctx)
	if err != nil {
		rpcClient.Close()
		return nil, fmt.Errorf("get chain id: %w", err)
	}

	return &EthClient{
		rpcClient: rpcClient,
		ethClient: ethClient,
		key:       key,
		owner:     crypto.PubkeyToAddress(key.PublicKey),
		chainID:   chainID,
		router:    router,
		gasBudget: gasBudget,
		logger:    logger,
	}, nil
}

// Close closes the underlying RPC client.
func (c *EthClient) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

// OwnerAddress returns the wallet address derived from the signing key.
func (c *EthClient) OwnerAddress() string {
	return c.owner.Hex()
}

// GasCoinType returns the token type gas is paid in.
func (c *EthClient) GasCoinType() string {
	return NativeToken
}

// CallContract performs an eth_call; also satisfies amm.ContractCaller.
func (c *EthClient) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return c.ethClient.CallContract(ctx, msg, blockNumber)
}

// GetBalance returns the raw wallet balance for one token type.
func (c *EthClient) GetBalance(ctx context.Context, owner, coinType string) (*big.Int, error) {
	ownerAddr := common.HexToAddress(owner)
	if model.SameCoinType(coinType, NativeToken) {
		return c.ethClient.BalanceAt(ctx, ownerAddr, nil)
	}

	parsed, err := amm.ERC20ABI()
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}
	data, err := parsed.Pack("balanceOf", ownerAddr)
	if err != nil {
		return nil, fmt.Errorf("pack balanceOf: %w", err)
	}
	token := common.HexToAddress(coinType)
	resp, err := c.ethClient.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call balanceOf: %w", err)
	}
	values, err := parsed.Unpack("balanceOf", resp)
	if err != nil {
		return nil, fmt.Errorf("unpack balanceOf: %w", err)
	}
	balance, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balanceOf output type %T", values[0])
	}
	return balance, nil
}

// GetPool fetches the live pool state through the router.
func (c *EthClient) GetPool(ctx context.Context, poolAddress string) (*model.PoolInfo, error) {
	values, err := c.callRouter(ctx, "poolState", common.HexToAddress(poolAddress))
	if err != nil {
		return nil, err
	}
	if len(values) < 5 {
		return nil, fmt.Errorf("poolState: short response (%d values)", len(values))
	}

	tick, err := int24Value(values[0])
	if err != nil {
		return nil, fmt.Errorf("poolState tick: %w", err)
	}
	spacing, err := int24Value(values[1])
	if err != nil {
		return nil, fmt.Errorf("poolState tick spacing: %w", err)
	}
	sqrtPrice, err := bigValue(values[2])
	if err != nil {
		return nil, fmt.Errorf("poolState sqrt price: %w", err)
	}
	tokenA, err := addressValue(values[3])
	if err != nil {
		return nil, fmt.Errorf("poolState tokenA: %w", err)
	}
	tokenB, err := addressValue(values[4])
	if err != nil {
		return nil, fmt.Errorf("poolState tokenB: %w", err)
	}

	return &model.PoolInfo{
		Address:          common.HexToAddress(poolAddress).Hex(),
		CurrentTick:      tick,
		TickSpacing:      spacing,
		CurrentSqrtPrice: sqrtPrice.String(),
		CoinTypeA:        tokenA.Hex(),
		CoinTypeB:        tokenB.Hex(),
	}, nil
}

type routerPosition struct {
	Id        *big.Int
	Pool      common.Address
	TickLower *big.Int
	TickUpper *big.Int
	Liquidity *big.Int
}

// GetPositions lists the owner's positions, enriched with pool token types
// and the in-range flag from a per-pool state fetch.
func (c *EthClient) GetPositions(ctx context.Context, owner string) ([]model.PositionInfo, error) {
	parsed, err := amm.RouterABI()
	if err != nil {
		return nil, fmt.Errorf("parse router abi: %w", err)
	}
	data, err := parsed.Pack("positionsOf", common.HexToAddress(owner))
	if err != nil {
		return nil, fmt.Errorf("pack positionsOf: %w", err)
	}
	resp, err := c.ethClient.CallContract(ctx, ethereum.CallMsg{To: &c.router, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call positionsOf: %w", err)
	}
	values, err := parsed.Unpack("positionsOf", resp)
	if err != nil {
		return nil, fmt.Errorf("unpack positionsOf: %w", err)
	}
	raw := *abi.ConvertType(values[0], new([]routerPosition)).(*[]routerPosition)

	pools := make(map[common.Address]*model.PoolInfo)
	positions := make([]model.PositionInfo, 0, len(raw))
	for _, rp := range raw {
		lower, err := int24FromBig(rp.TickLower)
		if err != nil {
			return nil, fmt.Errorf("position %s tick lower: %w", rp.Id, err)
		}
		upper, err := int24FromBig(rp.TickUpper)
		if err != nil {
			return nil, fmt.Errorf("position %s tick upper: %w", rp.Id, err)
		}

		pool, ok := pools[rp.Pool]
		if !ok {
			pool, err = c.GetPool(ctx, rp.Pool.Hex())
			if err != nil {
				return nil, fmt.Errorf("pool %s for position %s: %w", rp.Pool.Hex(), rp.Id, err)
			}
			pools[rp.Pool] = pool
		}

		positions = append(positions, model.PositionInfo{
			ID:          rp.Id.String(),
			PoolAddress: rp.Pool.Hex(),
			TickLower:   lower,
			TickUpper:   upper,
			Liquidity:   rp.Liquidity.String(),
			CoinTypeA:   pool.CoinTypeA,
			CoinTypeB:   pool.CoinTypeB,
			InRange:     lower <= pool.CurrentTick && pool.CurrentTick < upper,
		})
	}
	return positions, nil
}

// SignAndExecute signs the payload, submits it, waits for inclusion, and
// reports the execution outcome with balance deltas and gas.
func (c *EthClient) SignAndExecute(ctx context.Context, tx *amm.Transaction) (*model.ExecutionResult, error) {
	if tx == nil {
		return nil, fmt.Errorf("nil transaction")
	}

	nonce, err := c.ethClient.PendingNonceAt(ctx, c.owner)
	if err != nil {
		return nil, fmt.Errorf("pending nonce: %w", err)
	}
	gasPrice, err := c.ethClient.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas price: %w", err)
	}

	value := tx.Value
	if value == nil {
		value = new(big.Int)
	}
	callMsg := ethereum.CallMsg{From: c.owner, To: &tx.To, Value: value, Data: tx.Data}

	gasLimit := tx.GasLimit
	if gasLimit == 0 {
		gasLimit, err = c.ethClient.EstimateGas(ctx, callMsg)
		if err != nil {
			c.logger.Warn("gas estimate failed, using budget",
				zap.String("label", tx.Label), zap.Error(err))
			gasLimit = c.gasBudget
		}
	}
	if c.gasBudget > 0 && gasLimit > c.gasBudget {
		gasLimit = c.gasBudget
	}

	signed, err := types.SignTx(
		types.NewTransaction(nonce, tx.To, value, gasLimit, gasPrice, tx.Data),
		types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}

	if err := c.ethClient.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("send transaction: %w", err)
	}

	c.logger.Info("transaction submitted",
		zap.String("label", tx.Label),
		zap.String("hash", signed.Hash().Hex()),
		zap.Uint64("nonce", nonce),
		zap.Uint64("gas_limit", gasLimit),
	)

	receipt, err := bind.WaitMined(ctx, c.ethClient, signed)
	if err != nil {
		return nil, fmt.Errorf("wait mined: %w", err)
	}

	gasCost := new(big.Int).SetUint64(receipt.GasUsed)
	if receipt.EffectiveGasPrice != nil {
		gasCost.Mul(gasCost, receipt.EffectiveGasPrice)
	} else {
		gasCost.Mul(gasCost, gasPrice)
	}

	result := &model.ExecutionResult{
		Digest: signed.Hash().Hex(),
		Gas: &model.GasSummary{
			Computation:   gasCost.String(),
			StorageCost:   "0",
			StorageRebate: "0",
		},
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		result.Status = model.ExecutionFailure
		result.ErrorDetail = c.revertReason(ctx, callMsg, receipt.BlockNumber)
		return result, nil
	}

	result.Status = model.ExecutionSuccess
	result.BalanceChanges = c.balanceChanges(receipt.Logs, value, gasCost)
	return result, nil
}

// revertReason replays the call at the failing block to recover the revert
// string; a bare "transaction reverted" is returned when the node yields
// nothing better.
func (c *EthClient) revertReason(ctx context.Context, msg ethereum.CallMsg, block *big.Int) string {
	_, err := c.ethClient.CallContract(ctx, msg, block)
	if err == nil {
		return "transaction reverted"
	}
	return err.Error()
}

// balanceChanges derives per-token signed deltas for the owner from the
// receipt's Transfer logs. Incoming native value paid out by the router is
// not log-visible, so the native entry only reflects spent value plus gas;
// the removal reconciler's fallback diff covers the rest.
func (c *EthClient) balanceChanges(logs []*types.Log, value, gasCost *big.Int) []model.BalanceChange {
	deltas := make(map[common.Address]*big.Int)
	order := make([]common.Address, 0)
	for _, log := range logs {
		if len(log.Topics) != 3 || log.Topics[0] != transferTopic || len(log.Data) != 32 {
			continue
		}
		from := common.BytesToAddress(log.Topics[1].Bytes())
		to := common.BytesToAddress(log.Topics[2].Bytes())
		amount := new(big.Int).SetBytes(log.Data)

		sign := 0
		if to == c.owner {
			sign++
		}
		if from == c.owner {
			sign--
		}
		if sign == 0 {
			continue
		}
		delta, ok := deltas[log.Address]
		if !ok {
			delta = new(big.Int)
			deltas[log.Address] = delta
			order = append(order, log.Address)
		}
		if sign > 0 {
			delta.Add(delta, amount)
		} else {
			delta.Sub(delta, amount)
		}
	}

	changes := make([]model.BalanceChange, 0, len(order)+1)
	for _, token := range order {
		changes = append(changes, model.BalanceChange{
			Owner:    c.owner.Hex(),
			CoinType: token.Hex(),
			Amount:   deltas[token].String(),
		})
	}

	nativeOut := new(big.Int).Add(value, gasCost)
	if nativeOut.Sign() > 0 {
		changes = append(changes, model.BalanceChange{
			Owner:    c.owner.Hex(),
			CoinType: NativeToken,
			Amount:   new(big.Int).Neg(nativeOut).String(),
		})
	}
	return changes
}

func int24Value(value interface{}) (int32, error) {
	b, err := bigValue(value)
	if err != nil {
		return 0, err
	}
	return int24FromBig(b)
}

func int24FromBig(value *big.Int) (int32, error) {
	min := big.NewInt(-1 << 23)
	max := big.NewInt((1 << 23) - 1)
	if value.Cmp(min) < 0 || value.Cmp(max) > 0 {
		return 0, fmt.Errorf("int24 overflow: %s", value.String())
	}
	return int32(value.Int64()), nil
}

func bigValue(value interface{}) (*big.Int, error) {
	switch v := value.(type) {
	case *big.Int:
		return new(big.Int).Set(v), nil
	case big.Int:
		return new(big.Int).Set(&v), nil
	case int64:
		return big.NewInt(v), nil
	case uint64:
		return new(big.Int).SetUint64(v), nil
	default:
		return nil, fmt.Errorf("unsupported int type %T", value)
	}
}

func addressValue(value interface{}) (common.Address, error) {
	switch v := value.(type) {
	case common.Address:
		return v, nil
	case *common.Address:
		return *v, nil
	default:
		return common.Address{}, fmt.Errorf("unsupported address type %T", value)
	}
}

func (c *EthClient) callRouter(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	parsed, err := amm.RouterABI()
	if err != nil {
		return nil, fmt.Errorf("parse router abi: %w", err)
	}
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	resp, err := c.ethClient.CallContract(ctx, ethereum.CallMsg{To: &c.router, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := parsed.Unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}
