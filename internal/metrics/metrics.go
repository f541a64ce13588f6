package metrics

import "expvar"

var (
	SignalsConfirmed         = expvar.NewInt("signals_confirmed")
	SignalsPending           = expvar.NewInt("signals_pending")
	SignalsRejectedStale     = expvar.NewInt("signals_rejected_stale")
	SignalsRejectedDup       = expvar.NewInt("signals_rejected_duplicate")
	SignalsRejectedFake      = expvar.NewInt("signals_rejected_fake_breakout")
	SignalsRejectedRate      = expvar.NewInt("signals_rejected_rate_limited")
	SignalsRejectedInvalid   = expvar.NewInt("signals_rejected_invalid")
	DecisionsCoordinated     = expvar.NewInt("decisions_coordinated")
	DecisionsDroppedSafety   = expvar.NewInt("decisions_dropped_safety")
	AdvisorCycleErrors       = expvar.NewInt("advisor_cycle_errors")
	PositionsOpened          = expvar.NewInt("positions_opened")
	PositionsClosed          = expvar.NewInt("positions_closed")
	RiskControlTrips         = expvar.NewInt("risk_control_trips")
	StateInconsistencyFaults = expvar.NewInt("state_inconsistency_faults")
)
