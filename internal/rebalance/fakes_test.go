package rebalance

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"rangepilot/internal/amm"
	"rangepilot/internal/chain"
	"rangepilot/internal/model"
)

const (
	testOwner = "0x1111111111111111111111111111111111111111"
	testCoinA = "0x00000000000000000000000000000000000000aa"
	testCoinB = "0x00000000000000000000000000000000000000bb"
	testPool  = "0x00000000000000000000000000000000000000f0"
)

var sqrtPriceOne = new(big.Int).Lsh(big.NewInt(1), 96).String()

type fakeChain struct {
	owner     string
	balances  map[string]*big.Int
	pool      *model.PoolInfo
	poolPanic bool
	positions []model.PositionInfo
	onExecute func(tx *amm.Transaction) (*model.ExecutionResult, error)
	executed  []*amm.Transaction
}

func newFakeChain(tick int32) *fakeChain {
	return &fakeChain{
		owner:    testOwner,
		balances: make(map[string]*big.Int),
		pool: &model.PoolInfo{
			Address:          testPool,
			CurrentTick:      tick,
			TickSpacing:      60,
			CurrentSqrtPrice: sqrtPriceOne,
			CoinTypeA:        testCoinA,
			CoinTypeB:        testCoinB,
		},
	}
}

func (f *fakeChain) setBalance(coinType string, v int64) {
	f.balances[model.NormalizeCoinType(coinType)] = big.NewInt(v)
}

func (f *fakeChain) addPosition(id string, lower, upper int32, liquidity string) {
	f.positions = append(f.positions, model.PositionInfo{
		ID:          id,
		PoolAddress: testPool,
		TickLower:   lower,
		TickUpper:   upper,
		Liquidity:   liquidity,
		CoinTypeA:   testCoinA,
		CoinTypeB:   testCoinB,
	})
}

func (f *fakeChain) OwnerAddress() string { return f.owner }

func (f *fakeChain) GasCoinType() string { return chain.NativeToken }

func (f *fakeChain) GetBalance(_ context.Context, _, coinType string) (*big.Int, error) {
	if b, ok := f.balances[model.NormalizeCoinType(coinType)]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

func (f *fakeChain) GetPool(_ context.Context, _ string) (*model.PoolInfo, error) {
	if f.poolPanic {
		panic("pool state unavailable")
	}
	cp := *f.pool
	return &cp, nil
}

func (f *fakeChain) GetPositions(_ context.Context, _ string) ([]model.PositionInfo, error) {
	out := make([]model.PositionInfo, len(f.positions))
	copy(out, f.positions)
	return out, nil
}

func (f *fakeChain) SignAndExecute(_ context.Context, tx *amm.Transaction) (*model.ExecutionResult, error) {
	f.executed = append(f.executed, tx)
	if f.onExecute == nil {
		return &model.ExecutionResult{Status: model.ExecutionSuccess, Digest: "0xdefault"}, nil
	}
	return f.onExecute(tx)
}

type fakeSDK struct {
	adds    []amm.AddLiquidityParams
	removes []amm.RemoveLiquidityParams
	swaps   []amm.SwapParams
}

func (s *fakeSDK) BuildRemoveLiquidity(p amm.RemoveLiquidityParams) (*amm.Transaction, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	s.removes = append(s.removes, p)
	return &amm.Transaction{To: common.HexToAddress(testPool), Label: "remove_liquidity"}, nil
}

func (s *fakeSDK) BuildAddLiquidityFixedToken(p amm.AddLiquidityParams, _ amm.AddOptions) (*amm.Transaction, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	s.adds = append(s.adds, p)
	return &amm.Transaction{To: common.HexToAddress(testPool), Label: "add_liquidity"}, nil
}

func (s *fakeSDK) BuildSwap(p amm.SwapParams) (*amm.Transaction, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	s.swaps = append(s.swaps, p)
	return &amm.Transaction{To: common.HexToAddress(testPool), Label: "swap"}, nil
}

func (s *fakeSDK) EstimateSwapOutput(context.Context, common.Address, bool, *big.Int) (*big.Int, error) {
	return nil, fmt.Errorf("no quote configured")
}

func (s *fakeSDK) EstimateLiquidity(sqrtLow, sqrtHigh, amount *big.Int, fixA bool) *big.Int {
	return amm.EstimateLiquidityForSingleSidedAmount(sqrtLow, sqrtHigh, amount, fixA)
}
