package control

import (
	"math"

	"github.com/voltmesh/dlm-go/pkg/capability"
	"github.com/voltmesh/dlm-go/pkg/model"
)

const sqrt3 = 1.7320508075688772

// PowerToPhases converts a power request into per-phase currents for an
// AC station. Single phase uses I = P*1000/V, three phase spreads the
// load evenly with I = P*1000/(sqrt3*V_line) per phase.
func PowerToPhases(cap capability.Capability, kw float64) model.PhaseCurrents {
	if kw <= 0 || cap.NominalVoltage <= 0 {
		return model.PhaseCurrents{}
	}
	if cap.Phases >= 3 {
		i := kw * 1000 / (sqrt3 * cap.NominalVoltage)
		return model.PhaseCurrents{A: i, B: i, C: i}
	}
	return model.PhaseCurrents{A: kw * 1000 / cap.NominalVoltage}
}

// PhasesToPower converts per-phase currents back to power in kW.
// For three phase the line-to-line voltage is divided by sqrt3 to get
// the per-phase voltage before summing.
func PhasesToPower(cap capability.Capability, p model.PhaseCurrents) float64 {
	if cap.NominalVoltage <= 0 {
		return 0
	}
	if cap.Phases >= 3 {
		return cap.NominalVoltage / sqrt3 * p.Total() / 1000
	}
	return cap.NominalVoltage * p.Total() / 1000
}

// Imbalance computes max|Ii - avg| / avg over the non-zero phases.
// Fewer than two live phases are balanced by definition.
func Imbalance(p model.PhaseCurrents) float64 {
	var live []float64
	for _, v := range []float64{p.A, p.B, p.C} {
		if v > 0 {
			live = append(live, v)
		}
	}
	if len(live) < 2 {
		return 0
	}
	var sum float64
	for _, v := range live {
		sum += v
	}
	avg := sum / float64(len(live))
	if avg == 0 {
		return 0
	}
	var worst float64
	for _, v := range live {
		if d := math.Abs(v - avg); d > worst {
			worst = d
		}
	}
	return worst / avg
}

// Rebalance spreads the total current evenly, rounded to whole amperes.
func Rebalance(p model.PhaseCurrents) model.PhaseCurrents {
	i := math.Round(p.Total() / 3)
	return model.PhaseCurrents{A: i, B: i, C: i}
}

// SystemBalance aggregates per-phase load across three-phase stations.
type SystemBalance struct {
	PerPhase  model.PhaseCurrents `json:"per_phase"`
	Imbalance float64             `json:"imbalance"`
	Warning   bool                `json:"warning"`
}

// SystemPhaseBalance sums phase setpoints across all three-phase
// stations and flags a warning when the aggregate imbalance exceeds
// maxImbalance.
func SystemPhaseBalance(stations []model.Station, maxImbalance float64) SystemBalance {
	var agg model.PhaseCurrents
	for _, st := range stations {
		if st.Class != model.ClassACThreePhase {
			continue
		}
		agg.A += st.Phases.A
		agg.B += st.Phases.B
		agg.C += st.Phases.C
	}
	imb := Imbalance(agg)
	return SystemBalance{
		PerPhase:  agg,
		Imbalance: imb,
		Warning:   maxImbalance > 0 && imb > maxImbalance,
	}
}
