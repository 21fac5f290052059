package rebalance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"rangepilot/internal/amm"
	"rangepilot/internal/executor"
	"rangepilot/internal/model"
	"rangepilot/internal/monitor"
)

func newTestOrchestrator(fc *fakeChain, sdk *fakeSDK, cfg Config) *Orchestrator {
	remover := executor.NewRemover(fc, sdk, 2, time.Millisecond, nil)
	deployer := executor.NewDeployer(fc, sdk, executor.DeployConfig{
		Slippage:   0.01,
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
	}, nil)
	return New(fc, remover, deployer, cfg, nil)
}

// Out-of-range position: close it, redeploy the freed token at the new
// range, and retarget tracking to the freshly opened position.
func TestCycleRebalancesOutOfRangePosition(t *testing.T) {
	fc := newFakeChain(2000)
	fc.addPosition("7", 960, 1020, "5000")
	sdk := &fakeSDK{}
	fc.onExecute = func(tx *amm.Transaction) (*model.ExecutionResult, error) {
		switch tx.Label {
		case "remove_liquidity":
			fc.setBalance(testCoinA, 1500)
			res := &model.ExecutionResult{Status: model.ExecutionSuccess, Digest: "0xremove"}
			res.BalanceChanges = []model.BalanceChange{
				{Owner: testOwner, CoinType: testCoinA, Amount: "1500"},
			}
			return res, nil
		case "add_liquidity":
			fc.addPosition("8", 1980, 2040, "7777")
			return &model.ExecutionResult{Status: model.ExecutionSuccess, Digest: "0xadd"}, nil
		}
		t.Fatalf("unexpected transaction %s", tx.Label)
		return nil, nil
	}

	orch := newTestOrchestrator(fc, sdk, Config{Policy: monitor.Policy{}})
	res := orch.CheckAndRebalance(context.Background(), testPool)

	require.NotNil(t, res)
	require.True(t, res.Success)
	require.Equal(t, "0xadd", res.Digest)
	require.Equal(t, model.TickRange{Lower: 960, Upper: 1020}, *res.OldRange)
	// The one-bin position is recreated as one bin at the current tick.
	require.Equal(t, model.TickRange{Lower: 1980, Upper: 2040}, *res.NewRange)

	require.Len(t, sdk.removes, 1)
	require.Len(t, sdk.adds, 1)
	require.True(t, sdk.adds[0].FixAmountA)
	require.Equal(t, "1500", sdk.adds[0].AmountA.String())

	require.Equal(t, "8", orch.TrackedPositionID())
}

// A one-bin position the price has drifted out of moves to the one bin
// containing the current tick: tick 1000 on spacing 60 with old [900, 960)
// yields [960, 1020), never a widened range.
func TestCycleMovesOneBinPositionToCurrentBin(t *testing.T) {
	fc := newFakeChain(1000)
	fc.addPosition("11", 900, 960, "5000000")
	sdk := &fakeSDK{}
	fc.onExecute = func(tx *amm.Transaction) (*model.ExecutionResult, error) {
		switch tx.Label {
		case "remove_liquidity":
			fc.setBalance(testCoinB, 123456)
			res := &model.ExecutionResult{Status: model.ExecutionSuccess, Digest: "0xremove"}
			res.BalanceChanges = []model.BalanceChange{
				{Owner: testOwner, CoinType: testCoinB, Amount: "123456"},
			}
			return res, nil
		case "add_liquidity":
			fc.addPosition("12", 960, 1020, "8888")
			return &model.ExecutionResult{Status: model.ExecutionSuccess, Digest: "0xadd"}, nil
		}
		t.Fatalf("unexpected transaction %s", tx.Label)
		return nil, nil
	}

	orch := newTestOrchestrator(fc, sdk, Config{})
	res := orch.CheckAndRebalance(context.Background(), testPool)

	require.NotNil(t, res)
	require.True(t, res.Success)
	require.Equal(t, model.TickRange{Lower: 900, Upper: 960}, *res.OldRange)
	require.Equal(t, model.TickRange{Lower: 960, Upper: 1020}, *res.NewRange)

	require.Len(t, sdk.removes, 1)
	require.Equal(t, "5000000", sdk.removes[0].Liquidity.String())
	require.Len(t, sdk.adds, 1)
	require.False(t, sdk.adds[0].FixAmountA)
	require.Equal(t, "123456", sdk.adds[0].AmountB.String())
	require.Equal(t, "12", orch.TrackedPositionID())
}

func TestCycleNoOpWhenInRange(t *testing.T) {
	fc := newFakeChain(1000)
	fc.addPosition("7", 960, 1020, "5000")
	sdk := &fakeSDK{}

	orch := newTestOrchestrator(fc, sdk, Config{})
	res := orch.CheckAndRebalance(context.Background(), testPool)

	require.Nil(t, res)
	require.Empty(t, fc.executed)
	// The in-range position still becomes the tracked one.
	require.Equal(t, "7", orch.TrackedPositionID())
}

func TestCycleAutoSelectsLargestPosition(t *testing.T) {
	fc := newFakeChain(1000)
	fc.addPosition("3", 960, 1020, "100")
	fc.addPosition("4", 900, 1080, "900000")
	sdk := &fakeSDK{}

	orch := newTestOrchestrator(fc, sdk, Config{})
	orch.CheckAndRebalance(context.Background(), testPool)

	require.Equal(t, "4", orch.TrackedPositionID())
}

// A configured position that is absent this cycle is a warning no-op, never
// a silent adoption of some other position.
func TestCycleHoldsWhenTrackedPositionMissing(t *testing.T) {
	fc := newFakeChain(2000)
	fc.addPosition("7", 960, 1020, "5000")
	sdk := &fakeSDK{}

	orch := newTestOrchestrator(fc, sdk, Config{PositionID: "99"})
	res := orch.CheckAndRebalance(context.Background(), testPool)

	require.Nil(t, res)
	require.Empty(t, fc.executed)
	require.Equal(t, "99", orch.TrackedPositionID())
}

func TestCycleSkipsSubSpacingMove(t *testing.T) {
	fc := newFakeChain(2000)
	fc.addPosition("7", 960, 1020, "5000")
	sdk := &fakeSDK{}

	orch := newTestOrchestrator(fc, sdk, Config{
		TickOverride: &model.TickRange{Lower: 960, Upper: 1020},
	})
	res := orch.CheckAndRebalance(context.Background(), testPool)

	require.NotNil(t, res)
	require.True(t, res.Success)
	require.Empty(t, fc.executed)
	require.Equal(t, *res.OldRange, *res.NewRange)
}

func TestCycleDryRunSubmitsNothing(t *testing.T) {
	fc := newFakeChain(2000)
	fc.addPosition("7", 960, 1020, "5000")
	sdk := &fakeSDK{}

	orch := newTestOrchestrator(fc, sdk, Config{DryRun: true})
	res := orch.CheckAndRebalance(context.Background(), testPool)

	require.NotNil(t, res)
	require.True(t, res.Success)
	require.Equal(t, "dry run", res.Message)
	require.Empty(t, fc.executed)
	require.Equal(t, model.TickRange{Lower: 1980, Upper: 2040}, *res.NewRange)
	require.Equal(t, "7", orch.TrackedPositionID())
}

// No positions at all: open a fresh one from wallet funds.
func TestCycleOpensPositionWhenNoneExist(t *testing.T) {
	fc := newFakeChain(2000)
	fc.setBalance(testCoinA, 500)
	sdk := &fakeSDK{}
	fc.onExecute = func(tx *amm.Transaction) (*model.ExecutionResult, error) {
		fc.addPosition("9", 1980, 2040, "4242")
		return &model.ExecutionResult{Status: model.ExecutionSuccess, Digest: "0xopen"}, nil
	}

	orch := newTestOrchestrator(fc, sdk, Config{})
	res := orch.CheckAndRebalance(context.Background(), testPool)

	require.NotNil(t, res)
	require.True(t, res.Success)
	require.Equal(t, "0xopen", res.Digest)
	require.Equal(t, model.TickRange{Lower: 1980, Upper: 2040}, *res.NewRange)
	require.Equal(t, "9", orch.TrackedPositionID())
	require.Len(t, sdk.adds, 1)
	require.Equal(t, "500", sdk.adds[0].AmountA.String())
}

// A failed recovery open is this cycle's no-op and is retried next cycle.
func TestCycleRecoveryOpenFailureIsNoOp(t *testing.T) {
	fc := newFakeChain(2000)
	sdk := &fakeSDK{}

	orch := newTestOrchestrator(fc, sdk, Config{})
	res := orch.CheckAndRebalance(context.Background(), testPool)

	require.Nil(t, res)
	require.Empty(t, orch.TrackedPositionID())
}

// When the deploy fails after the old position was drained, tracking must be
// cleared so the next cycle auto-selects instead of pointing at a shell.
func TestCycleClearsTrackingBeforeRiskyDeploy(t *testing.T) {
	fc := newFakeChain(2000)
	fc.addPosition("7", 960, 1020, "5000")
	sdk := &fakeSDK{}
	fc.onExecute = func(tx *amm.Transaction) (*model.ExecutionResult, error) {
		switch tx.Label {
		case "remove_liquidity":
			fc.setBalance(testCoinA, 1500)
			res := &model.ExecutionResult{Status: model.ExecutionSuccess, Digest: "0xremove"}
			res.BalanceChanges = []model.BalanceChange{
				{Owner: testOwner, CoinType: testCoinA, Amount: "1500"},
			}
			return res, nil
		default:
			return &model.ExecutionResult{
				Status:      model.ExecutionFailure,
				Digest:      "0xfail",
				ErrorDetail: "execution reverted: pool: locked",
			}, nil
		}
	}

	orch := newTestOrchestrator(fc, sdk, Config{PositionID: "7"})
	res := orch.CheckAndRebalance(context.Background(), testPool)

	require.NotNil(t, res)
	require.False(t, res.Success)
	require.Empty(t, orch.TrackedPositionID())
}

func TestCycleReusesPositionAtTargetRange(t *testing.T) {
	fc := newFakeChain(2000)
	fc.addPosition("7", 960, 1020, "5000")
	fc.addPosition("8", 1980, 2040, "10")
	sdk := &fakeSDK{}
	fc.onExecute = func(tx *amm.Transaction) (*model.ExecutionResult, error) {
		if tx.Label == "remove_liquidity" {
			fc.setBalance(testCoinA, 1500)
			res := &model.ExecutionResult{Status: model.ExecutionSuccess, Digest: "0xremove"}
			res.BalanceChanges = []model.BalanceChange{
				{Owner: testOwner, CoinType: testCoinA, Amount: "1500"},
			}
			return res, nil
		}
		return &model.ExecutionResult{Status: model.ExecutionSuccess, Digest: "0xtopup"}, nil
	}

	orch := newTestOrchestrator(fc, sdk, Config{PositionID: "7"})
	res := orch.CheckAndRebalance(context.Background(), testPool)

	require.NotNil(t, res)
	require.True(t, res.Success)
	require.Equal(t, "8", orch.TrackedPositionID())
	require.Len(t, sdk.adds, 1)
	require.NotNil(t, sdk.adds[0].PositionID)
	require.Equal(t, "8", sdk.adds[0].PositionID.String())
}

func TestTargetRangePriority(t *testing.T) {
	fc := newFakeChain(1000)
	sdk := &fakeSDK{}
	pos := &model.PositionInfo{TickLower: 400, TickUpper: 1600}

	override := &model.TickRange{Lower: -60, Upper: 60}
	orch := newTestOrchestrator(fc, sdk, Config{TickOverride: override, RangeWidth: 600})
	require.Equal(t, *override, orch.targetRange(fc.pool, pos))

	orch = newTestOrchestrator(fc, sdk, Config{RangeWidth: 600})
	require.Equal(t, model.TickRange{Lower: 660, Upper: 1320}, orch.targetRange(fc.pool, pos))

	orch = newTestOrchestrator(fc, sdk, Config{})
	require.Equal(t, model.TickRange{Lower: 360, Upper: 1620}, orch.targetRange(fc.pool, pos))
	require.Equal(t, model.TickRange{Lower: 960, Upper: 1020}, orch.targetRange(fc.pool, nil))
}
