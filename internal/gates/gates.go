// Package gates implements the execution hardening chain every buy
// order must clear before reaching a venue. Sells and forced
// liquidations bypass the chain entirely.
package gates

import (
	"fmt"

	"github.com/quanthive/tradegate/internal/risk"
	"github.com/quanthive/tradegate/internal/tier"
	"github.com/quanthive/tradegate/pkg/types"
)

// Gate names, in chain order.
const (
	GatePositionCount = "position_count_cap"
	GateMinimumSize   = "minimum_size"
	GateAveragePos    = "average_position_monitor"
	GateDust          = "dust_prevention"
	GateTierClamp     = "tier_floor_ceiling"
	GateUtilization   = "utilization_cap"
)

// DustFloorUSD is the absolute size below which an order is never
// worth placing, regardless of tier.
const DustFloorUSD = 1.0

// Inputs carries everything Validate needs. The chain reads only these
// values, so the same inputs always produce the same decision.
type Inputs struct {
	// Intent and Positions are scoped to the venue the order targets;
	// Balance is that venue's cash snapshot.
	Intent    types.OrderIntent
	Positions []types.Position
	Balance   float64
	Rule      tier.Rule
	Posture   risk.Limits

	// OpenUSD and Equity span the whole account, every venue. The
	// utilization cap reads these, not the per-venue view.
	OpenUSD float64
	Equity  float64

	// ScaledUSD is the size after upstream adjustments (risk
	// multiplier, signal-quality scaling). The tier clamp applies to
	// this value, last.
	ScaledUSD float64

	// VenueMinUSD is the venue's absolute minimum order size.
	VenueMinUSD float64

	// MinAvgPositionUSD is the profitability threshold for the
	// average-position monitor, typically 1.5x the venue's per-trade
	// fee.
	MinAvgPositionUSD float64
}

// Bypasses reports whether an intent skips the chain. Exits are the
// fastest path in the system and are never gated.
func Bypasses(intent types.OrderIntent) bool {
	return intent.Side == types.SideSell || intent.ForceLiquidate
}

// Validate runs the hardening chain over a buy intent. Gates run in
// order and the first failure short-circuits with approved=false and a
// human-readable reason. The returned order carries every gate result
// evaluated, and on approval the final clamped size.
func Validate(in Inputs) types.ValidatedOrder {
	out := types.ValidatedOrder{Intent: in.Intent}

	if Bypasses(in.Intent) {
		out.Approved = true
		out.AdjustedUSD = in.Intent.RequestedUSD
		out.Reason = "exit order, gates bypassed"
		return out
	}

	gates := []func(Inputs) types.GateResult{
		positionCountGate,
		minimumSizeGate,
		averagePositionGate,
		dustGate,
	}
	// The tier clamp runs after every reject-style gate so that no
	// other check observes a pre-clamp size it could veto.
	for _, gate := range gates {
		res := gate(in)
		out.Gates = append(out.Gates, res)
		if !res.Passed {
			out.Approved = false
			out.Reason = res.Message
			return out
		}
	}

	size, res := clampToTier(in)
	out.Gates = append(out.Gates, res)
	if !res.Passed {
		out.Approved = false
		out.Reason = res.Message
		return out
	}

	// The utilization cap reads the final clamped size: a clamp that
	// raises the order to the tier floor must not slip past it.
	res = utilizationGate(in, size)
	out.Gates = append(out.Gates, res)
	if !res.Passed {
		out.Approved = false
		out.Reason = res.Message
		return out
	}

	out.Approved = true
	out.AdjustedUSD = size
	out.Reason = "approved"
	return out
}

func positionCountGate(in Inputs) types.GateResult {
	if len(in.Positions) >= in.Rule.MaxPositions {
		return failed(GatePositionCount,
			fmt.Sprintf("%d open positions at %s tier cap of %d",
				len(in.Positions), in.Rule.Name, in.Rule.MaxPositions))
	}
	return passed(GatePositionCount)
}

func minimumSizeGate(in Inputs) types.GateResult {
	floor := in.Rule.FloorUSD(in.Balance)
	if in.Intent.RequestedUSD < floor {
		return failed(GateMinimumSize,
			fmt.Sprintf("requested $%.2f below %s tier floor $%.2f (%.0f%% of $%.2f)",
				in.Intent.RequestedUSD, in.Rule.Name, floor,
				in.Rule.MinPositionPct*100, in.Balance))
	}
	if in.Intent.RequestedUSD < in.VenueMinUSD {
		return failed(GateMinimumSize,
			fmt.Sprintf("requested $%.2f below %s venue minimum $%.2f",
				in.Intent.RequestedUSD, in.Intent.VenueID, in.VenueMinUSD))
	}
	return passed(GateMinimumSize)
}

// clampToTier applies the floor/ceiling clamp to the upstream-scaled
// size. The posture ceiling intersects the tier ceiling but never
// undercuts the tier floor: under a posture tighter than the floor the
// band collapses to the floor itself.
func clampToTier(in Inputs) (float64, types.GateResult) {
	if !in.Posture.AllowNewPositions {
		return 0, failed(GateTierClamp, "new positions blocked by current risk posture")
	}

	floor := in.Rule.FloorUSD(in.Balance)
	ceiling := in.Rule.CeilingUSD(in.Balance)
	if in.Posture.MaxPositionPct > 0 {
		if p := in.Posture.MaxPositionPct * in.Balance; p < ceiling {
			ceiling = p
		}
	}
	if ceiling < floor {
		ceiling = floor
	}

	size := in.ScaledUSD
	if size < floor {
		size = floor
	}
	if size > ceiling {
		size = ceiling
	}
	return size, passed(GateTierClamp)
}

// utilizationGate caps total deployed capital across the whole account
// at the posture's utilization ceiling of equity.
func utilizationGate(in Inputs, sizeUSD float64) types.GateResult {
	if in.Posture.MaxUtilizationPct <= 0 || in.Equity <= 0 {
		return passed(GateUtilization)
	}
	limit := in.Posture.MaxUtilizationPct * in.Equity
	if in.OpenUSD+sizeUSD > limit {
		return failed(GateUtilization,
			fmt.Sprintf("deployed $%.2f plus $%.2f would exceed %.0f%% utilization cap $%.2f of $%.2f equity",
				in.OpenUSD, sizeUSD, in.Posture.MaxUtilizationPct*100, limit, in.Equity))
	}
	return passed(GateUtilization)
}

func averagePositionGate(in Inputs) types.GateResult {
	if in.MinAvgPositionUSD <= 0 {
		return passed(GateAveragePos)
	}
	if in.ScaledUSD < in.MinAvgPositionUSD {
		return failed(GateAveragePos,
			fmt.Sprintf("position $%.2f below profitability threshold $%.2f",
				in.ScaledUSD, in.MinAvgPositionUSD))
	}
	total := in.ScaledUSD
	for _, p := range in.Positions {
		total += p.USDValue
	}
	avg := total / float64(len(in.Positions)+1)
	if avg < in.MinAvgPositionUSD {
		return failed(GateAveragePos,
			fmt.Sprintf("average position $%.2f across %d positions below profitability threshold $%.2f",
				avg, len(in.Positions)+1, in.MinAvgPositionUSD))
	}
	return passed(GateAveragePos)
}

func dustGate(in Inputs) types.GateResult {
	if in.ScaledUSD < DustFloorUSD {
		return failed(GateDust,
			fmt.Sprintf("size $%.2f below absolute dust floor $%.2f",
				in.ScaledUSD, DustFloorUSD))
	}
	return passed(GateDust)
}

func passed(name string) types.GateResult {
	return types.GateResult{Gate: name, Passed: true}
}

func failed(name, message string) types.GateResult {
	return types.GateResult{Gate: name, Passed: false, Message: message}
}
