package storage

import (
	"strings"

	"github.com/spf13/viper"
)

// DynamoMode selects where the call journal lives
type DynamoMode string

const (
	DynamoModeLocal DynamoMode = "local"
	DynamoModeAWS   DynamoMode = "aws"
	DynamoModeNone  DynamoMode = "none"
)

// DynamoConfig holds the journal table settings
type DynamoConfig struct {
	Mode             DynamoMode
	Endpoint         string // DynamoDB Local only
	Region           string
	CallRecordsTable string
}

// LoadDynamoConfig reads the DYNAMO_* environment. Unknown modes disable
// the journal.
func LoadDynamoConfig() DynamoConfig {
	v := viper.New()
	v.SetEnvPrefix("DYNAMO")
	v.AutomaticEnv()

	v.SetDefault("MODE", string(DynamoModeNone))
	v.SetDefault("ENDPOINT", "http://localhost:8000")
	v.SetDefault("REGION", "eu-central-1")
	v.SetDefault("CALL_RECORDS_TABLE", "livesync-call-journal")

	return DynamoConfig{
		Mode:             parseMode(v.GetString("MODE")),
		Endpoint:         v.GetString("ENDPOINT"),
		Region:           v.GetString("REGION"),
		CallRecordsTable: v.GetString("CALL_RECORDS_TABLE"),
	}
}

func parseMode(raw string) DynamoMode {
	switch mode := DynamoMode(strings.ToLower(strings.TrimSpace(raw))); mode {
	case DynamoModeLocal, DynamoModeAWS:
		return mode
	default:
		return DynamoModeNone
	}
}
