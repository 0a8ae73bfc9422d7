package engine

import (
	"context"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"github.com/stablefoundry/dsce/internal/health"
	"github.com/stablefoundry/dsce/internal/ledger"
	"github.com/stablefoundry/dsce/internal/types"
	"github.com/stablefoundry/dsce/internal/valuation"
)

const (
	atomDenom   = "uatom"
	atomFeedID  = "feed-atom"
	nativeDenom = "untrn"
	nativeFeed  = "feed-ntrn"

	alice      = "acct-alice"
	bob        = "acct-bob"
	liquidator = "acct-liquidator"
)

// settableFeed serves one adjustable quote for every feed id.
type settableFeed struct {
	quote types.PriceQuote
}

func (f *settableFeed) FetchPrice(_ context.Context, _ string) (types.PriceQuote, error) {
	return f.quote, nil
}

func (f *settableFeed) setPrice(price int64) {
	f.quote = types.PriceQuote{Price: price, Expo: -5, PublishTime: 1}
}

// memoryReceipts captures receipts in order.
type memoryReceipts struct {
	saved []types.OperationReceipt
}

func (m *memoryReceipts) SaveOperationReceipt(r types.OperationReceipt) (int64, error) {
	m.saved = append(m.saved, r)
	return int64(len(m.saved)), nil
}

func (m *memoryReceipts) GetRecentReceipts(limit int) ([]types.OperationReceipt, error) {
	if limit > len(m.saved) {
		limit = len(m.saved)
	}
	out := make([]types.OperationReceipt, 0, limit)
	for i := len(m.saved) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.saved[i])
	}
	return out, nil
}

func testConfig() types.Config {
	return types.Config{
		Owner:         "acct-owner",
		EngineAddress: "acct-engine",
		Assets: []types.Asset{
			{Denom: atomDenom, Contract: "contract-atom"},
			{Denom: nativeDenom},
		},
		AssetsToFeeds: map[string]string{
			atomDenom:   atomFeedID,
			nativeDenom: nativeFeed,
		},
		OracleAddress:        "http://localhost:4200",
		PythContract:         "pyth-contract",
		DscAddress:           "contract-dsc",
		LiquidationThreshold: sdkmath.NewInt(50),
		LiquidationBonus:     sdkmath.NewInt(10),
		MinHealthFactor:      sdkmath.LegacyOneDec(),
	}
}

func newTestEngine(t *testing.T) (*Engine, *ledger.MemoryStore, *settableFeed, *memoryReceipts) {
	t.Helper()

	cfg := testConfig()
	feed := &settableFeed{}
	feed.setPrice(680000) // 6.80 USD
	store := ledger.NewMemoryStore()
	receipts := &memoryReceipts{}

	v := valuation.NewService(cfg, feed)
	h := health.NewEngine(cfg, v)
	eng, err := New(cfg, store, v, h, receipts)
	require.NoError(t, err)
	return eng, store, feed, receipts
}

func TestDepositAndMint(t *testing.T) {
	eng, store, _, receipts := newTestEngine(t)
	ctx := context.Background()

	receipt, err := eng.DepositAndMint(ctx, alice, atomDenom, sdkmath.NewInt(2_000_000), sdkmath.NewInt(1_000_000), nil)
	require.NoError(t, err)

	// Token collateral is pulled in, then DSC is minted
	require.Len(t, receipt.Instructions, 2)
	require.Equal(t, types.InstructionTransferFrom, receipt.Instructions[0].Kind)
	require.Equal(t, "contract-atom", receipt.Instructions[0].Target)
	require.Equal(t, alice, receipt.Instructions[0].From)
	require.Equal(t, "acct-engine", receipt.Instructions[0].To)
	require.Equal(t, types.InstructionMint, receipt.Instructions[1].Kind)
	require.Equal(t, "contract-dsc", receipt.Instructions[1].Target)
	require.Equal(t, alice, receipt.Instructions[1].To)
	require.Equal(t, sdkmath.NewInt(1_000_000), receipt.Instructions[1].Amount)

	collateral, err := store.CollateralBalance(alice, atomDenom)
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(2_000_000), collateral)

	debt, err := store.DebtBalance(alice)
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(1_000_000), debt)

	// 2.0 * 6.80 * 0.5 / 1.0 = 6.8
	hf, err := eng.HealthFactor(ctx, alice)
	require.NoError(t, err)
	require.True(t, hf.Equal(sdkmath.LegacyMustNewDecFromStr("6.8")), "got %s", hf)

	require.Len(t, receipts.saved, 1)
	require.Equal(t, "deposit_and_mint", receipts.saved[0].Action)
}

func TestDepositAndMintNativeFunds(t *testing.T) {
	eng, _, _, _ := newTestEngine(t)
	ctx := context.Background()
	amount := sdkmath.NewInt(2_000_000)

	// Matching funds are accepted and need no transfer instruction
	receipt, err := eng.DepositAndMint(ctx, alice, nativeDenom, amount, sdkmath.NewInt(1_000_000),
		[]types.Coin{{Denom: nativeDenom, Amount: amount}})
	require.NoError(t, err)
	require.Len(t, receipt.Instructions, 1)
	require.Equal(t, types.InstructionMint, receipt.Instructions[0].Kind)

	var missing *MissingFundsError

	// No funds attached
	_, err = eng.DepositAndMint(ctx, bob, nativeDenom, amount, sdkmath.NewInt(1), nil)
	require.ErrorAs(t, err, &missing)

	// Wrong denom
	_, err = eng.DepositAndMint(ctx, bob, nativeDenom, amount, sdkmath.NewInt(1),
		[]types.Coin{{Denom: atomDenom, Amount: amount}})
	require.ErrorAs(t, err, &missing)

	// Wrong amount
	_, err = eng.DepositAndMint(ctx, bob, nativeDenom, amount, sdkmath.NewInt(1),
		[]types.Coin{{Denom: nativeDenom, Amount: sdkmath.NewInt(1_999_999)}})
	require.ErrorAs(t, err, &missing)
}

func TestDepositAndMintRejectsInsolvency(t *testing.T) {
	eng, store, _, receipts := newTestEngine(t)
	ctx := context.Background()

	// 1.0 collateral at 6.80 backs at most 3.4 DSC; minting 4.0 must fail
	_, err := eng.DepositAndMint(ctx, alice, atomDenom, sdkmath.NewInt(1_000_000), sdkmath.NewInt(4_000_000), nil)
	var broken *health.BrokenError
	require.ErrorAs(t, err, &broken)
	require.True(t, broken.Value.LT(sdkmath.LegacyOneDec()))

	// The whole operation rolled back
	collateral, err := store.CollateralBalance(alice, atomDenom)
	require.NoError(t, err)
	require.True(t, collateral.IsZero())

	debt, err := store.DebtBalance(alice)
	require.NoError(t, err)
	require.True(t, debt.IsZero())

	require.Empty(t, receipts.saved)
}

func TestDepositAndMintValidation(t *testing.T) {
	eng, _, _, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.DepositAndMint(ctx, alice, "ufoo", sdkmath.NewInt(1), sdkmath.NewInt(1), nil)
	var notListed *valuation.AssetNotListedError
	require.ErrorAs(t, err, &notListed)

	_, err = eng.DepositAndMint(ctx, alice, atomDenom, sdkmath.ZeroInt(), sdkmath.NewInt(1), nil)
	require.ErrorIs(t, err, ErrInvalidAmount)

	_, err = eng.DepositAndMint(ctx, alice, atomDenom, sdkmath.NewInt(1), sdkmath.NewInt(-1), nil)
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestRedeemCollateralForDsc(t *testing.T) {
	eng, store, _, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.DepositAndMint(ctx, alice, atomDenom, sdkmath.NewInt(2_000_000), sdkmath.NewInt(1_000_000), nil)
	require.NoError(t, err)

	// Burning the full debt allows redeeming the full collateral: the debt is
	// retired before the collateral check runs
	receipt, err := eng.RedeemCollateralForDsc(ctx, alice, atomDenom, sdkmath.NewInt(2_000_000), sdkmath.NewInt(1_000_000))
	require.NoError(t, err)

	require.Len(t, receipt.Instructions, 2)
	require.Equal(t, types.InstructionBurnFrom, receipt.Instructions[0].Kind)
	require.Equal(t, types.InstructionTransfer, receipt.Instructions[1].Kind)
	require.Equal(t, alice, receipt.Instructions[1].To)

	collateral, err := store.CollateralBalance(alice, atomDenom)
	require.NoError(t, err)
	require.True(t, collateral.IsZero())

	debt, err := store.DebtBalance(alice)
	require.NoError(t, err)
	require.True(t, debt.IsZero())
}

func TestRedeemCollateralKeepsPositionSolvent(t *testing.T) {
	eng, store, _, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.DepositAndMint(ctx, alice, atomDenom, sdkmath.NewInt(2_000_000), sdkmath.NewInt(1_000_000), nil)
	require.NoError(t, err)

	// Withdrawing 1.75 leaves 0.25 * 6.80 * 0.5 = 0.85 backing 1.0 debt
	_, err = eng.RedeemCollateral(ctx, alice, atomDenom, sdkmath.NewInt(1_750_000))
	var broken *health.BrokenError
	require.ErrorAs(t, err, &broken)

	collateral, err := store.CollateralBalance(alice, atomDenom)
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(2_000_000), collateral)

	// A smaller withdrawal stays solvent
	receipt, err := eng.RedeemCollateral(ctx, alice, atomDenom, sdkmath.NewInt(1_000_000))
	require.NoError(t, err)
	require.Len(t, receipt.Instructions, 1)
	require.Equal(t, types.InstructionTransfer, receipt.Instructions[0].Kind)
}

func TestBurnDsc(t *testing.T) {
	eng, store, _, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.DepositAndMint(ctx, alice, atomDenom, sdkmath.NewInt(2_000_000), sdkmath.NewInt(1_000_000), nil)
	require.NoError(t, err)

	receipt, err := eng.BurnDsc(ctx, alice, sdkmath.NewInt(400_000))
	require.NoError(t, err)
	require.Len(t, receipt.Instructions, 1)
	require.Equal(t, types.InstructionBurnFrom, receipt.Instructions[0].Kind)
	require.Equal(t, alice, receipt.Instructions[0].From)

	debt, err := store.DebtBalance(alice)
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(600_000), debt)

	// Burning more than owed fails
	_, err = eng.BurnDsc(ctx, alice, sdkmath.NewInt(700_000))
	require.ErrorIs(t, err, ledger.ErrInsufficientDebt)
}

func TestLiquidate(t *testing.T) {
	eng, store, feed, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.DepositAndMint(ctx, alice, atomDenom, sdkmath.NewInt(2_000_000), sdkmath.NewInt(1_000_000), nil)
	require.NoError(t, err)

	// Price crashes to 0.97: hf = 2.0 * 0.97 * 0.5 / 1.0 = 0.97 < 1
	feed.setPrice(97000)

	startingHF, err := eng.HealthFactor(ctx, alice)
	require.NoError(t, err)
	require.True(t, startingHF.Equal(sdkmath.LegacyMustNewDecFromStr("0.97")), "got %s", startingHF)

	receipt, err := eng.Liquidate(ctx, liquidator, alice, atomDenom, sdkmath.LegacyMustNewDecFromStr("0.9"))
	require.NoError(t, err)

	// (0.9 / 0.97) * 1.1 = 1.020618556... floors to 1_020_618
	require.Equal(t, sdkmath.NewInt(1_020_618), receipt.Amount)
	require.Len(t, receipt.Instructions, 2)
	require.Equal(t, types.InstructionTransfer, receipt.Instructions[0].Kind)
	require.Equal(t, liquidator, receipt.Instructions[0].To)
	require.Equal(t, sdkmath.NewInt(1_020_618), receipt.Instructions[0].Amount)
	require.Equal(t, types.InstructionBurnFrom, receipt.Instructions[1].Kind)
	require.Equal(t, liquidator, receipt.Instructions[1].From)
	require.Equal(t, sdkmath.NewInt(900_000), receipt.Instructions[1].Amount)

	collateral, err := store.CollateralBalance(alice, atomDenom)
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(979_382), collateral)

	debt, err := store.DebtBalance(alice)
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(100_000), debt)

	endingHF, err := eng.HealthFactor(ctx, alice)
	require.NoError(t, err)
	require.True(t, endingHF.GT(startingHF))
}

func TestLiquidateSolventTarget(t *testing.T) {
	eng, _, _, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.DepositAndMint(ctx, alice, atomDenom, sdkmath.NewInt(2_000_000), sdkmath.NewInt(1_000_000), nil)
	require.NoError(t, err)

	_, err = eng.Liquidate(ctx, liquidator, alice, atomDenom, sdkmath.LegacyMustNewDecFromStr("0.9"))
	require.ErrorIs(t, err, ErrHealthFactorOk)
}

func TestLiquidateMustImproveHealthFactor(t *testing.T) {
	eng, store, feed, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.DepositAndMint(ctx, alice, atomDenom, sdkmath.NewInt(2_000_000), sdkmath.NewInt(1_000_000), nil)
	require.NoError(t, err)

	// At 0.50 the bonus makes every liquidation remove proportionally more
	// collateral than debt, so the health factor can only fall
	feed.setPrice(50000)

	_, err = eng.Liquidate(ctx, liquidator, alice, atomDenom, sdkmath.LegacyMustNewDecFromStr("0.5"))
	require.ErrorIs(t, err, ErrHealthFactorNotImproved)

	// Rolled back in full
	collateral, err := store.CollateralBalance(alice, atomDenom)
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(2_000_000), collateral)

	debt, err := store.DebtBalance(alice)
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(1_000_000), debt)
}

func TestLiquidatorMustStaySolvent(t *testing.T) {
	eng, _, feed, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.DepositAndMint(ctx, alice, atomDenom, sdkmath.NewInt(2_000_000), sdkmath.NewInt(1_000_000), nil)
	require.NoError(t, err)

	// The liquidator holds a thin position of their own
	_, err = eng.DepositAndMint(ctx, liquidator, atomDenom, sdkmath.NewInt(330_000), sdkmath.NewInt(1_000_000), nil)
	require.NoError(t, err)

	// At 0.97 both positions are under water; the liquidation would improve
	// alice's health factor but the liquidator's own stays broken
	feed.setPrice(97000)

	_, err = eng.Liquidate(ctx, liquidator, alice, atomDenom, sdkmath.LegacyMustNewDecFromStr("0.9"))
	var broken *health.BrokenError
	require.ErrorAs(t, err, &broken)
}

func TestDebtSnapshotsAcrossOperations(t *testing.T) {
	eng, store, _, _ := newTestEngine(t)
	ctx := context.Background()

	first, err := eng.DepositAndMint(ctx, alice, atomDenom, sdkmath.NewInt(2_000_000), sdkmath.NewInt(1_000_000), nil)
	require.NoError(t, err)

	second, err := eng.BurnDsc(ctx, alice, sdkmath.NewInt(400_000))
	require.NoError(t, err)
	require.Greater(t, second.Height, first.Height)

	atFirst, err := store.DebtBalanceAtHeight(alice, first.Height)
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(1_000_000), atFirst)

	atSecond, err := store.DebtBalanceAtHeight(alice, second.Height)
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(600_000), atSecond)

	before, err := store.DebtBalanceAtHeight(alice, first.Height-1)
	require.NoError(t, err)
	require.True(t, before.IsZero())
}

func TestRecentReceipts(t *testing.T) {
	eng, _, _, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.DepositAndMint(ctx, alice, atomDenom, sdkmath.NewInt(2_000_000), sdkmath.NewInt(1_000_000), nil)
	require.NoError(t, err)
	_, err = eng.BurnDsc(ctx, alice, sdkmath.NewInt(100_000))
	require.NoError(t, err)

	recent, err := eng.RecentReceipts(10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, "burn_dsc", recent[0].Action)
	require.Equal(t, "deposit_and_mint", recent[1].Action)
}
