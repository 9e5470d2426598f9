//go:build integration

package zincaddapter

import (
	"log"
	"os"
	"testing"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
)

func TestZincsearchLoggingIntegration(t *testing.T) {
	_ = godotenv.Load("../.env")
	cfg := Config{Address: "http://localhost:4080", Index: "test_logging", Token: os.Getenv("SETTLEMENT_ZINC_TOKEN")}
	writer, err := New(cfg)
	assert.Nil(t, err)

	l := log.New(&writer, "TESTING: ", log.Ldate|log.Ltime|log.Lmicroseconds|log.Llongfile)

	l.Println("This should to show in the Zincsearch backend. Go and look there to finally verify the test.")
}
