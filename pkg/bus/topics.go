package bus

// Well-known topics published by the service.
const (
	TopicStationRegistered     = "station.registered"
	TopicStationUpdated        = "station.updated"
	TopicStationDeleted        = "station.deleted"
	TopicStationSessionStarted = "station.session.started"
	TopicStationSessionStopped = "station.session.stopped"
	TopicStationCommandAC      = "station.command.ac"
	TopicStationCommandDC      = "station.command.dc"
	TopicMeterUpdated          = "meter.updated"
	TopicLoadUpdated           = "load.updated"
	TopicPVProduction          = "pv.production"
	TopicSheddingTransition    = "shedding.transition"
	TopicViolation             = "violation"
	TopicFailSafeTransition    = "fail_safe.transition"
	TopicThermalDerating       = "thermal_derating_changed"
)

// TopicAll subscribes to every topic.
const TopicAll = "*"
