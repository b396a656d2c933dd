// Package config defines the configuration surface for the MedGuard pipeline.
// Configuration is loaded once at process start and is immutable thereafter;
// each stage receives only the config subset it requires.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> Struct Defaults (Lowest)
//
// Every tunable the pipeline exposes — spatial/temporal bounds, factor
// weights, clustering radius and minimum size, AIS gap threshold, boundary
// proximity threshold, expansion budget set, growth-rate and carrying-capacity
// parameters — is overridable here without code changes.
package config

import "time"

// Config is the top-level configuration struct for the MedGuard pipeline.
type Config struct {
	Environment string `envconfig:"APP_ENV" default:"local" validate:"oneof=local dev staging prod"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Grid         GridConfig
	Risk         RiskConfig
	Connectivity ConnectivityConfig
	Anomaly      AnomalyConfig
	Optimizer    OptimizerConfig
	Recovery     RecoveryConfig
}

// GridConfig holds reference-grid geometry and adapter resampling parameters.
// The default bounds cover the Mediterranean basin.
type GridConfig struct {
	LatMin      float64 `envconfig:"GRID_LAT_MIN" default:"30.0" validate:"gte=-90,lte=90"`
	LatMax      float64 `envconfig:"GRID_LAT_MAX" default:"46.0" validate:"gte=-90,lte=90,gtfield=LatMin"`
	LonMin      float64 `envconfig:"GRID_LON_MIN" default:"-6.0" validate:"gte=-180,lte=180"`
	LonMax      float64 `envconfig:"GRID_LON_MAX" default:"36.5" validate:"gte=-180,lte=180,gtfield=LonMin"`
	CellSizeDeg float64 `envconfig:"GRID_CELL_SIZE_DEG" default:"0.25" validate:"gt=0"`

	// AcceptanceRadiusDeg bounds how far from a target cell centroid source
	// samples may lie and still contribute; cells with nothing in range get
	// the explicit missing marker.
	AcceptanceRadiusDeg float64 `envconfig:"GRID_ACCEPTANCE_RADIUS_DEG" default:"0.5" validate:"gt=0"`

	// MaxMissingFraction is the per-layer ceiling on missing cells before
	// the adapter rejects the layer outright.
	MaxMissingFraction float64 `envconfig:"GRID_MAX_MISSING_FRACTION" default:"0.5" validate:"gte=0,lte=1"`
}

// RiskConfig holds risk-index factor weights and anomaly-normalization
// parameters. Weights are re-normalized to sum to 1 over the factors present
// in a given run.
type RiskConfig struct {
	WeightEnvironmentalStress float64 `envconfig:"RISK_WEIGHT_ENV_STRESS" default:"0.3" validate:"gte=0"`
	WeightFishingPressure     float64 `envconfig:"RISK_WEIGHT_FISHING" default:"0.4" validate:"gte=0"`
	WeightFrontalZone         float64 `envconfig:"RISK_WEIGHT_FRONTAL" default:"0.3" validate:"gte=0"`

	// Extended-variant factors; zero weight disables a factor.
	WeightHabitatDegradation float64 `envconfig:"RISK_WEIGHT_HABITAT_DEGRADATION" default:"0" validate:"gte=0"`
	WeightProtectionGap      float64 `envconfig:"RISK_WEIGHT_PROTECTION_GAP" default:"0" validate:"gte=0"`

	// AnomalyWindow is the trailing window length (in time steps) for
	// rolling mean/stddev anomaly normalization; 0 means full history.
	AnomalyWindow int `envconfig:"RISK_ANOMALY_WINDOW" default:"0" validate:"gte=0"`

	// FrontQuantile is the gradient-magnitude quantile above which a cell
	// counts as a frontal zone.
	FrontQuantile float64 `envconfig:"RISK_FRONT_QUANTILE" default:"0.9" validate:"gt=0,lt=1"`
}

// ConnectivityConfig holds particle-advection and settlement parameters.
type ConnectivityConfig struct {
	HorizonDays  int           `envconfig:"CONN_HORIZON_DAYS" default:"30" validate:"gt=0"`
	StepDuration time.Duration `envconfig:"CONN_STEP" default:"6h" validate:"required"`

	// ParticlesPerSource is how many particles each spawning cell releases.
	ParticlesPerSource int `envconfig:"CONN_PARTICLES_PER_SOURCE" default:"16" validate:"gt=0"`

	// StagnationSpeedMS terminates a trajectory early once current speed
	// stays below it for StagnationPatience consecutive steps.
	StagnationSpeedMS  float64 `envconfig:"CONN_STAGNATION_SPEED" default:"0.01" validate:"gte=0"`
	StagnationPatience int     `envconfig:"CONN_STAGNATION_PATIENCE" default:"20" validate:"gt=0"`

	// DiffusionStdDegrees is the per-step stochastic diffusion magnitude;
	// zero disables diffusion. With a fixed Seed the simulation is
	// deterministic.
	DiffusionStdDegrees float64 `envconfig:"CONN_DIFFUSION_STD" default:"0" validate:"gte=0"`
	Seed                int64   `envconfig:"CONN_SEED" default:"42"`

	// Spawning/nursery habitat thresholds.
	SpawningTempMinC    float64 `envconfig:"CONN_SPAWNING_TEMP_MIN" default:"15" validate:"lt=40"`
	SpawningTempMaxC    float64 `envconfig:"CONN_SPAWNING_TEMP_MAX" default:"22" validate:"gtfield=SpawningTempMinC"`
	NurseryChlQuantile  float64 `envconfig:"CONN_NURSERY_CHL_QUANTILE" default:"0.6" validate:"gt=0,lt=1"`
	NurseryMaxCurrentMS float64 `envconfig:"CONN_NURSERY_MAX_CURRENT" default:"0.1" validate:"gt=0"`

	// Parallelism bounds concurrent trajectory integration; 0 means
	// runtime.NumCPU.
	Parallelism int `envconfig:"CONN_PARALLELISM" default:"0" validate:"gte=0"`
}

// AnomalyConfig holds AIS-gap detection and clustering parameters.
type AnomalyConfig struct {
	GapThreshold time.Duration `envconfig:"ANOMALY_GAP_THRESHOLD" default:"2h" validate:"required"`

	// EpsDegrees is the DBSCAN neighborhood radius in degrees of arc.
	EpsDegrees     float64 `envconfig:"ANOMALY_EPS_DEG" default:"0.1" validate:"gt=0"`
	MinClusterSize int     `envconfig:"ANOMALY_MIN_CLUSTER_SIZE" default:"5" validate:"gt=0"`

	// HoursPerEps scales the time dimension into the spatial metric: two
	// records this many hours apart are as distant as one eps of arc.
	HoursPerEps float64 `envconfig:"ANOMALY_HOURS_PER_EPS" default:"1" validate:"gt=0"`

	// BoundaryProximityKm is the hard threshold inside which proximity to a
	// protected boundary contributes to the cluster score.
	BoundaryProximityKm float64 `envconfig:"ANOMALY_BOUNDARY_PROXIMITY_KM" default:"5.5" validate:"gt=0"`
}

// OptimizerConfig holds budgeted-selection parameters.
type OptimizerConfig struct {
	// ExpansionPercents is the set of expansion-budget scenarios, each a
	// percentage of current protected area.
	ExpansionPercents []float64 `envconfig:"OPT_EXPANSION_PERCENTS" default:"10,20,30,50"`

	// CostPenalty scales the economic-cost term of the objective.
	CostPenalty float64 `envconfig:"OPT_COST_PENALTY" default:"0.1" validate:"gte=0"`

	// Power-iteration controls for eigenvector centrality.
	CentralityMaxIter   int     `envconfig:"OPT_CENTRALITY_MAX_ITER" default:"100" validate:"gt=0"`
	CentralityTolerance float64 `envconfig:"OPT_CENTRALITY_TOL" default:"1e-9" validate:"gt=0"`
}

// RecoveryConfig holds population-dynamics and livelihood-model parameters.
type RecoveryConfig struct {
	// GrowthRate is the intrinsic annual recovery rate r.
	GrowthRate float64 `envconfig:"RECOVERY_GROWTH_RATE" default:"0.07" validate:"gt=-1,lt=1"`

	// CapacityMultiple sets carrying capacity K as a multiple of current
	// biomass.
	CapacityMultiple float64 `envconfig:"RECOVERY_CAPACITY_MULTIPLE" default:"1.5" validate:"gt=0"`

	// ProtectionBoost scales r upward inside protected cells.
	ProtectionBoost float64 `envconfig:"RECOVERY_PROTECTION_BOOST" default:"0.5" validate:"gte=0"`

	HorizonYears     int     `envconfig:"RECOVERY_HORIZON_YEARS" default:"25" validate:"gt=0"`
	RecoveryFraction float64 `envconfig:"RECOVERY_BREAKEVEN_FRACTION" default:"0.9" validate:"gt=0,lte=1"`

	// Livelihood model parameters.
	HoursPerJob      float64 `envconfig:"RECOVERY_HOURS_PER_JOB" default:"2000" validate:"gt=0"`
	ClosureJobShare  float64 `envconfig:"RECOVERY_CLOSURE_JOB_SHARE" default:"0.6" validate:"gte=0,lte=1"`
	SpilloverFactor  float64 `envconfig:"RECOVERY_SPILLOVER_FACTOR" default:"1.3" validate:"gte=0"`
	IncomePerJobUSD  float64 `envconfig:"RECOVERY_INCOME_PER_JOB" default:"30000" validate:"gt=0"`
	YearsToSpillover int     `envconfig:"RECOVERY_YEARS_TO_SPILLOVER" default:"7" validate:"gt=0"`
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
