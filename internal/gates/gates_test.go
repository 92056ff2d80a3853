package gates

import (
	"testing"
	"time"

	"github.com/quanthive/tradegate/internal/risk"
	"github.com/quanthive/tradegate/internal/tier"
	"github.com/quanthive/tradegate/pkg/types"
)

func investorRule() tier.Rule {
	return tier.Rule{
		Name:           "INVESTOR",
		MinBalance:     250,
		MaxBalance:     1000,
		MaxPositions:   3,
		MinPositionPct: 0.22,
		MaxPositionPct: 0.40,
	}
}

func normalPosture() risk.Limits {
	return risk.Limits{
		MaxPositionPct:    0.50,
		MaxUtilizationPct: 0.85,
		AllowNewPositions: true,
		RiskMultiplier:    1.0,
	}
}

func buyIntent(usd float64) types.OrderIntent {
	return types.OrderIntent{
		AccountID:    "alice",
		VenueID:      "kraken",
		Symbol:       "BTC-USD",
		Side:         types.SideBuy,
		RequestedUSD: usd,
	}
}

func baseInputs(usd float64) Inputs {
	return Inputs{
		Intent:      buyIntent(usd),
		Balance:     400,
		Rule:        investorRule(),
		Posture:     normalPosture(),
		ScaledUSD:   usd,
		VenueMinUSD: 10,
	}
}

func TestFloorInvariantRaisesScaledSize(t *testing.T) {
	// INVESTOR tier, $400 balance, 22% floor = $88. An upstream-scaled
	// $60 must be raised to the floor, not rejected.
	in := baseInputs(100)
	in.ScaledUSD = 60

	out := Validate(in)
	if !out.Approved {
		t.Fatalf("expected approval, got rejection: %s", out.Reason)
	}
	if out.AdjustedUSD != 88 {
		t.Fatalf("expected floor $88, got $%.2f", out.AdjustedUSD)
	}
}

func TestCeilingClampsOversizedOrder(t *testing.T) {
	in := baseInputs(500)
	in.ScaledUSD = 500 // 40% ceiling of $400 is $160

	out := Validate(in)
	if !out.Approved {
		t.Fatalf("expected approval, got rejection: %s", out.Reason)
	}
	if out.AdjustedUSD != 160 {
		t.Fatalf("expected ceiling $160, got $%.2f", out.AdjustedUSD)
	}
}

func TestPostureCeilingIntersectsTierCeiling(t *testing.T) {
	in := baseInputs(200)
	in.ScaledUSD = 200
	in.Posture.MaxPositionPct = 0.30 // $120 on a $400 balance

	out := Validate(in)
	if !out.Approved {
		t.Fatalf("expected approval, got rejection: %s", out.Reason)
	}
	if out.AdjustedUSD != 120 {
		t.Fatalf("expected posture ceiling $120, got $%.2f", out.AdjustedUSD)
	}
}

func TestPostureCeilingNeverUndercutsTierFloor(t *testing.T) {
	in := baseInputs(100)
	in.ScaledUSD = 100
	in.Posture.MaxPositionPct = 0.05 // $20, below the $88 floor

	out := Validate(in)
	if !out.Approved {
		t.Fatalf("expected approval, got rejection: %s", out.Reason)
	}
	if out.AdjustedUSD != 88 {
		t.Fatalf("expected floor $88 to win, got $%.2f", out.AdjustedUSD)
	}
}

func TestPostureBlocksNewPositions(t *testing.T) {
	in := baseInputs(100)
	in.Posture.AllowNewPositions = false

	out := Validate(in)
	if out.Approved {
		t.Fatal("expected rejection while posture blocks new positions")
	}
	if last := out.Gates[len(out.Gates)-1]; last.Gate != GateTierClamp {
		t.Fatalf("expected %s to fail, got %s", GateTierClamp, last.Gate)
	}
}

func TestPositionCountCap(t *testing.T) {
	in := baseInputs(100)
	in.Positions = []types.Position{
		{Symbol: "BTC-USD", USDValue: 100},
		{Symbol: "ETH-USD", USDValue: 100},
		{Symbol: "SOL-USD", USDValue: 100},
	}

	out := Validate(in)
	if out.Approved {
		t.Fatal("expected rejection at position count cap")
	}
	if out.Gates[0].Gate != GatePositionCount || out.Gates[0].Passed {
		t.Fatalf("expected first gate %s to fail, got %+v", GatePositionCount, out.Gates[0])
	}
	// Short circuit: no later gate may have run.
	if len(out.Gates) != 1 {
		t.Fatalf("expected short circuit after first gate, got %d results", len(out.Gates))
	}
}

func TestMinimumSizeAgainstRequested(t *testing.T) {
	// Requested below the $88 tier floor is rejected outright, even
	// though the clamp could have raised it.
	out := Validate(baseInputs(50))
	if out.Approved {
		t.Fatal("expected rejection below tier floor")
	}

	// Requested below the venue minimum.
	in := baseInputs(100)
	in.VenueMinUSD = 150
	out = Validate(in)
	if out.Approved {
		t.Fatal("expected rejection below venue minimum")
	}
}

func TestAveragePositionMonitor(t *testing.T) {
	in := baseInputs(100)
	in.Positions = []types.Position{
		{Symbol: "BTC-USD", USDValue: 50},
		{Symbol: "ETH-USD", USDValue: 50},
	}
	in.ScaledUSD = 1
	in.MinAvgPositionUSD = 7.50

	out := Validate(in)
	if out.Approved {
		t.Fatal("expected rejection of $1 add against $7.50 profitability threshold")
	}
	failed := ""
	for _, g := range out.Gates {
		if !g.Passed {
			failed = g.Gate
		}
	}
	if failed != GateAveragePos {
		t.Fatalf("expected %s to fail, got %s", GateAveragePos, failed)
	}
}

func TestDustPrevention(t *testing.T) {
	in := baseInputs(100)
	in.ScaledUSD = 0.50

	out := Validate(in)
	if out.Approved {
		t.Fatal("expected dust rejection")
	}
}

func TestUtilizationCapBlocksOverdeployment(t *testing.T) {
	// 85% of $1000 equity caps deployment at $850. With $800 already
	// open the $100 add must be refused.
	in := baseInputs(100)
	in.OpenUSD = 800
	in.Equity = 1000

	out := Validate(in)
	if out.Approved {
		t.Fatal("expected rejection over the utilization cap")
	}
	if last := out.Gates[len(out.Gates)-1]; last.Gate != GateUtilization || last.Passed {
		t.Fatalf("expected %s to fail, got %+v", GateUtilization, last)
	}
}

func TestUtilizationCapReadsClampedSize(t *testing.T) {
	// A $60 scaled order is raised to the $88 floor before the
	// utilization check, so $770 + $88 breaks the $850 cap even though
	// $770 + $60 would not.
	in := baseInputs(100)
	in.ScaledUSD = 60
	in.OpenUSD = 770
	in.Equity = 1000

	out := Validate(in)
	if out.Approved {
		t.Fatal("expected rejection of floor-raised size over the utilization cap")
	}

	in.OpenUSD = 700
	out = Validate(in)
	if !out.Approved {
		t.Fatalf("expected approval under the cap, got: %s", out.Reason)
	}
	if out.AdjustedUSD != 88 {
		t.Fatalf("expected floor $88, got $%.2f", out.AdjustedUSD)
	}
}

func TestUtilizationCapSkippedWithoutEquity(t *testing.T) {
	// Callers that cannot supply account-wide equity get the per-venue
	// gates only.
	in := baseInputs(100)
	in.OpenUSD = 10000

	out := Validate(in)
	if !out.Approved {
		t.Fatalf("expected approval with no equity reading, got: %s", out.Reason)
	}
}

func TestSellAndForceLiquidateBypass(t *testing.T) {
	intents := []types.OrderIntent{
		{Symbol: "BTC-USD", Side: types.SideSell, RequestedUSD: 0.01},
		{Symbol: "BTC-USD", Side: types.SideBuy, RequestedUSD: 0.01, ForceLiquidate: true},
	}
	for _, intent := range intents {
		in := Inputs{Intent: intent, Balance: 400, Rule: investorRule()}
		out := Validate(in)
		if !out.Approved {
			t.Fatalf("exit intent %+v must bypass gates, got: %s", intent, out.Reason)
		}
		if len(out.Gates) != 0 {
			t.Fatalf("exit intent must not run any gate, ran %d", len(out.Gates))
		}
	}
}

func TestValidateIsDeterministic(t *testing.T) {
	in := baseInputs(120)
	in.ScaledUSD = 95
	in.MinAvgPositionUSD = 7.50
	in.Positions = []types.Position{
		{Symbol: "ETH-USD", USDValue: 90, OpenedAt: time.Now()},
	}

	first := Validate(in)
	for i := 0; i < 50; i++ {
		again := Validate(in)
		if again.Approved != first.Approved ||
			again.AdjustedUSD != first.AdjustedUSD ||
			again.Reason != first.Reason ||
			len(again.Gates) != len(first.Gates) {
			t.Fatalf("run %d diverged: %+v vs %+v", i, again, first)
		}
	}
}
