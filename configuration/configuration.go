package configuration

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/bartossh/Settlementis/challenge"
	"github.com/bartossh/Settlementis/confirmation"
	"github.com/bartossh/Settlementis/emulator"
	"github.com/bartossh/Settlementis/feepayer"
	"github.com/bartossh/Settlementis/fileoperations"
	"github.com/bartossh/Settlementis/ledgerclient"
	"github.com/bartossh/Settlementis/multisig"
	"github.com/bartossh/Settlementis/natsclient"
	"github.com/bartossh/Settlementis/repomongo"
	"github.com/bartossh/Settlementis/repository"
	"github.com/bartossh/Settlementis/server"
	"github.com/bartossh/Settlementis/telemetry"
	"github.com/bartossh/Settlementis/validator"
	"github.com/bartossh/Settlementis/vendorlookup"
	"github.com/bartossh/Settlementis/webhooks"
	"github.com/bartossh/Settlementis/zincaddapter"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// Environment variables overriding secrets of the configuration file.
const (
	EnvWalletPasswd = "SETTLEMENT_WALLET_PASSWD"
	EnvDBConn       = "SETTLEMENT_DB_CONN"
	EnvNatsToken    = "SETTLEMENT_NATS_TOKEN"
	EnvZincToken    = "SETTLEMENT_ZINC_TOKEN"
)

// Storage backends of the audit records.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
)

var ErrUnknownBackend = errors.New("unknown storage backend")

// Storage selects and configures the audit record store.
type Storage struct {
	Backend  string              `yaml:"backend"`
	Postgres repository.DBConfig `yaml:"postgres"`
	Mongo    repomongo.DBConfig  `yaml:"mongo"`
}

// Configuration is the main configuration of the application that corresponds to the *.yaml file
// that holds the configuration.
type Configuration struct {
	Server       server.Config         `yaml:"server"`
	Ledger       ledgerclient.Config   `yaml:"ledger"`
	Emulator     emulator.Config       `yaml:"emulator"`
	Multisig     multisig.Config       `yaml:"multisig"`
	Validator    validator.Config      `yaml:"validator"`
	FeePayer     feepayer.Config       `yaml:"fee_payer"`
	Confirmation confirmation.Config   `yaml:"confirmation"`
	FileOperator fileoperations.Config `yaml:"file_operator"`
	Challenge    challenge.Config      `yaml:"challenge"`
	VendorLookup vendorlookup.Config   `yaml:"vendor_lookup"`
	Storage      Storage               `yaml:"storage"`
	Nats         natsclient.Config     `yaml:"nats"`
	Zinc         zincaddapter.Config   `yaml:"zinc"`
	Telemetry    telemetry.Config      `yaml:"telemetry"`
	Webhooks     []webhooks.Hook       `yaml:"webhooks"`
}

// Read reads the configuration from the file and returns the Configuration with set fields according to the yaml setup.
// Secrets found in the environment or in the .env file override the file values.
func Read(path string) (Configuration, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return Configuration{}, err
	}

	var main Configuration
	err = yaml.Unmarshal(buf, &main)
	if err != nil {
		return Configuration{}, fmt.Errorf("in file %q: %w", path, err)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Configuration{}, err
	}
	main.override()

	if main.Storage.Backend == "" {
		main.Storage.Backend = BackendMemory
	}
	switch main.Storage.Backend {
	case BackendMemory, BackendPostgres, BackendMongo:
	default:
		return Configuration{}, errors.Join(ErrUnknownBackend, fmt.Errorf("backend %q", main.Storage.Backend))
	}

	return main, nil
}

func (c *Configuration) override() {
	if v, ok := os.LookupEnv(EnvWalletPasswd); ok {
		c.FileOperator.WalletPasswd = v
	}
	if v, ok := os.LookupEnv(EnvDBConn); ok {
		c.Storage.Postgres.ConnStr = v
		c.Storage.Mongo.ConnStr = v
	}
	if v, ok := os.LookupEnv(EnvNatsToken); ok {
		c.Nats.Token = v
	}
	if v, ok := os.LookupEnv(EnvZincToken); ok {
		c.Zinc.Token = v
	}
}
