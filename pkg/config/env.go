package config

import (
	"os"
	"strconv"
)

// applyEnv overlays environment variables onto the configuration.
// Every operational key has an override; unparseable values are
// ignored so a stray variable never takes the service down.
func applyEnv(c *Config) {
	envString("DLM_LISTEN", &c.Listen)
	envString("DLM_LOG_LEVEL", &c.LogLevel)
	envString("DLM_LOG_FORMAT", &c.LogFormat)
	envString("DLM_STATE_FILE", &c.StateFile)
	envString("DLM_AUDIT_FILE", &c.AuditFile)

	envFloat("MAX_GRID_CAPACITY_KW", &c.Grid.MaxCapacityKW)
	envFloat("PEAK_DEMAND_THRESHOLD_KW", &c.Grid.PeakThresholdKW)
	envFloat("MIN_CHARGING_POWER_KW", &c.Grid.MinChargingPowerKW)
	envFloat("MAX_CHARGING_POWER_PER_STATION_KW", &c.Grid.MaxChargingPowerPerStationKW)
	envFloat("ENERGY_COST_PER_KWH", &c.Grid.EnergyCostPerKWh)
	envFloat("PEAK_COST_PER_KWH", &c.Grid.PeakCostPerKWh)
	envBool("PV_SYSTEM_ENABLED", &c.Grid.PVSystemEnabled)
	envBool("ENABLE_LOAD_BALANCING", &c.Grid.EnableLoadBalancing)
	envBool("ENABLE_PV_EXCESS_CHARGING", &c.Grid.EnablePVExcessCharging)

	envFloat("MAX_SERVICE_CURRENT", &c.Site.MaxServiceCurrentA)
	envFloat("SERVICE_VOLTAGE", &c.Site.ServiceVoltageV)
	envInt("SERVICE_PHASES", &c.Site.ServicePhases)
	envFloat("MAX_PHASE_IMBALANCE", &c.Site.MaxPhaseImbalance)
	envFloat("MIN_POWER_FACTOR", &c.Site.MinPowerFactor)
	envFloat("SERVICE_FREQUENCY", &c.Site.ServiceFrequencyHz)
	envFloat("NEC625_CONTINUOUS_FACTOR", &c.Site.ContinuousFactor)

	envBool("ENABLE_LOAD_SHEDDING", &c.Shedding.Enabled)
	envFloat("LOAD_SHEDDING_UPPER_THRESHOLD", &c.Shedding.UpperThreshold)
	envFloat("LOAD_SHEDDING_LOWER_THRESHOLD", &c.Shedding.LowerThreshold)

	envBool("ENABLE_FAIL_SAFE", &c.FailSafe.Enabled)

	envString("MQTT_BROKER_URL", &c.MQTT.BrokerURL)
	envString("MQTT_CLIENT_ID", &c.MQTT.ClientID)
	envString("MQTT_USERNAME", &c.MQTT.Username)
	envString("MQTT_PASSWORD", &c.MQTT.Password)

	envBool("ENABLE_DISCOVERY", &c.Discovery.Enabled)
}

func envString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func envFloat(key string, dst *float64) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		*dst = f
	}
}

func envInt(key string, dst *int) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}

func envBool(key string, dst *bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	if b, err := strconv.ParseBool(v); err == nil {
		*dst = b
	}
}
