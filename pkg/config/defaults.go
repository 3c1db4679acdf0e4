package config

import "time"

// Profiles
const (
	ProfileProd    = "PROD"
	ProfileLocal   = "LOCAL"
	DefaultProfile = ProfileLocal
)

// EnvPrefix is the prefix of every environment override (DIDON_SOURCE_PASSWORD, ...)
const EnvPrefix = "DIDON"

// Measurement source defaults
const (
	DefaultSourceKind     = "xair"
	DefaultSourceEndpoint = "http://172.16.29.33"
	DefaultSourceUser     = "MC"
	DefaultSourceBase     = "N"
	DefaultSourceTimeout  = 60 * time.Second
	DefaultSourceDir      = "data/xr"
)

// Destination defaults
const (
	DefaultDriver       = "postgres"
	DefaultDatabase     = "didon"
	DefaultSchema       = "mesure"
	DefaultPostgresPort = 5432
	DefaultSSLMode      = "disable"
	ProdDestinationHost = "90.88.68.27"
	ProdDestinationUser = "bzh"
	LocalDestination    = "localhost"
	LocalUser           = "postgres"
	DefaultBadgerPath   = "data/didon"
)

// Processing defaults
const (
	DefaultLastYear  = 2017
	DefaultYearsBack = 5
	DefaultDaysBack  = 365
	DefaultWorkers   = 1
	DefaultTimezone  = "UTC"
	DefaultSentinel  = 100001.0
)

// Logging defaults
const (
	DefaultLogLevel   = "info"
	DefaultLogFormat  = "text"
	DefaultLogProgram = "DidonGetMesures"
	ProdLogDir        = "/home/bzh/didon_scripts/logs"
)

// Serve mode
const (
	DefaultListenAddr   = ":8080"
	DefaultRunInterval  = 24 * time.Hour
	RunTimeout          = 2 * time.Hour
	MonitorHistory      = 20
	DefaultExportFormat = "csv"
	MaxExportRecords    = 100000
)

// Store tuning
const (
	DeleteChunkSize  = 500
	BadgerGCInterval = 10 * time.Minute
)

// WebSocket configuration
const (
	WSReadBufferSize  = 1024
	WSWriteBufferSize = 1024
	WSBroadcastBuffer = 256
	WSChannelBuffer   = 10
	WSWriteDeadline   = 10 * time.Second
	WSReadDeadline    = 60 * time.Second
	WSPingInterval    = 30 * time.Second
)

// DefaultIdentifiers is the measurement list processed when none is configured
var DefaultIdentifiers = []string{
	"NO2BIS", "NO2BAL", "NO2CTM", "NO2CVL", "NO2DES", "NO2HAL", "NO2LAE", "NO2MAC", "NO2YVE", "NO2_ZOLA", "NO2UTA", "NO2_STG", "NO2_RBY",
	"NOX_STG",
	"O3_BAL", "O3_BIS", "O3_CVL", "O3_UTA", "O3_PAS", "O3_YVE", "O3_STG", "O3_ZOLA", "O3_RBY",
	"P10E_STG", "P10E_LAE", "P10E_BIS", "P10E_DES", "P10E_UTA", "P10E_BAL", "P10E_MAC", "P10E_POM", "P10E_PBA", "P10E_TRI",
	"P25E_STG", "P25E_BIS", "P25E_MAC", "P25E_LAE", "P25E_PBA", "P25E_UTA", "P10E_RBY",
	"CO_HAL",
}
