package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/okian/safescore/internal/adapters/postgres"
	"github.com/okian/safescore/internal/adapters/source"
	service "github.com/okian/safescore/internal/app"
	"github.com/smartystreets/goconvey/convey"
)

const input = `tx_id,timestamp,from_address,to_address,amount,token,method,chain
0xa1,2024-03-01T14:00:00Z,0xAAAA000000000000000000000000000000000001,0xbbbb000000000000000000000000000000000002,12.5,ETH,TRANSFER,ETH
0xa2,2024-03-01T03:10:00Z,0xaaaa000000000000000000000000000000000001,0xbbbb000000000000000000000000000000000002,25000,USDT,APPROVE,ETH
`

type output struct {
	Summary summary `json:"summary"`
	Records []struct {
		TxID  string `json:"tx_id"`
		Score int    `json:"score"`
	} `json:"records"`
}

// isolate points every config source at t's temp dirs.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("SAFESCORE_ENV_FILE", filepath.Join(dir, "missing.env"))
	t.Setenv("SAFESCORE_CONFIG", "")
	t.Setenv("SAFESCORE_RPC_URLS", "")
	t.Setenv("SAFESCORE_DATABASE_URL", "")
	t.Setenv("SAFESCORE_KAFKA_BROKERS", "")
	t.Setenv("SAFESCORE_NATS_URL", "")
	t.Setenv("SAFESCORE_TELEGRAM_BOT_TOKEN", "")
	t.Setenv("SAFESCORE_DATA_DIR", filepath.Join(dir, "data"))
	return dir
}

func execute(args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	err := newApp(&stdout, &stderr).RunContext(context.Background(), append([]string{"safescore"}, args...))
	return stdout.String(), err
}

func TestScoreCommand(t *testing.T) {
	convey.Convey("Given a CSV of transactions", t, func() {
		dir := isolate(t)
		in := filepath.Join(dir, "input.csv")
		convey.So(os.WriteFile(in, []byte(input), 0o600), convey.ShouldBeNil)

		convey.Convey("When scoring it as JSON", func() {
			out, err := execute("score", "--in", in, "--json")
			convey.So(err, convey.ShouldBeNil)

			var got output
			convey.So(json.Unmarshal([]byte(out), &got), convey.ShouldBeNil)

			convey.Convey("Then every row should be scored", func() {
				convey.So(got.Summary.Source, convey.ShouldEqual, service.SourceInput)
				convey.So(got.Summary.Records, convey.ShouldEqual, 2)
				convey.So(got.Records[1].TxID, convey.ShouldEqual, "0xa2")
				convey.So(got.Records[1].Score, convey.ShouldBeLessThan, got.Records[0].Score)
			})

			convey.Convey("And the sender should be reported once, lowercased", func() {
				convey.So(got.Summary.NewAddresses, convey.ShouldResemble, []string{"0xaaaa000000000000000000000000000000000001"})
			})

			convey.Convey("And the records should land in the data directory", func() {
				matches, _ := filepath.Glob(filepath.Join(dir, "data", "transactions_eth_*.csv"))
				convey.So(matches, convey.ShouldHaveLength, 1)
				_, err := os.Stat(filepath.Join(dir, "data", "known_addresses.csv"))
				convey.So(err, convey.ShouldBeNil)
			})
		})

		convey.Convey("When scoring it as a dry run", func() {
			out, err := execute("score", "--in", in, "--dry-run")

			convey.Convey("Then a table should be printed and nothing written", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(out, convey.ShouldContainSubstring, "TX_ID")
				convey.So(out, convey.ShouldContainSubstring, "0xa2")
				_, statErr := os.Stat(filepath.Join(dir, "data"))
				convey.So(os.IsNotExist(statErr), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the input is missing", func() {
			_, err := execute("score", "--in", filepath.Join(dir, "nope.csv"))
			convey.So(err, convey.ShouldNotBeNil)
		})

		convey.Convey("When --in is omitted", func() {
			_, err := execute("score")
			convey.So(err, convey.ShouldNotBeNil)
		})
	})
}

func TestRunCommand(t *testing.T) {
	convey.Convey("Given no RPC endpoints", t, func() {
		dir := isolate(t)
		t.Setenv("SAFESCORE_MOCK_COUNT", "5")

		convey.Convey("When running with the fallback", func() {
			metricsFile := filepath.Join(dir, "safescore.prom")
			out, err := execute("run", "--json", "--metrics-file", metricsFile)
			convey.So(err, convey.ShouldBeNil)

			var got output
			convey.So(json.Unmarshal([]byte(out), &got), convey.ShouldBeNil)

			convey.Convey("Then synthetic transactions should be scored", func() {
				convey.So(got.Summary.Source, convey.ShouldEqual, service.SourceFallback)
				convey.So(got.Summary.Chain, convey.ShouldEqual, source.MockChain)
				convey.So(got.Summary.Records, convey.ShouldEqual, 5)
				convey.So(got.Summary.Error, convey.ShouldNotBeEmpty)
			})

			convey.Convey("And metrics should be exported", func() {
				b, err := os.ReadFile(metricsFile)
				convey.So(err, convey.ShouldBeNil)
				convey.So(string(b), convey.ShouldContainSubstring, "safescore_")
			})
		})

		convey.Convey("When running without the fallback", func() {
			out, err := execute("run", "--json", "--no-fallback")
			convey.So(err, convey.ShouldBeNil)

			var got output
			convey.So(json.Unmarshal([]byte(out), &got), convey.ShouldBeNil)

			convey.Convey("Then the run should be empty and carry the error", func() {
				convey.So(got.Summary.Source, convey.ShouldEqual, service.SourceRPC)
				convey.So(got.Summary.Records, convey.ShouldEqual, 0)
				convey.So(got.Summary.Error, convey.ShouldNotBeEmpty)
				convey.So(got.Summary.NewAddresses, convey.ShouldBeEmpty)
			})
		})
	})
}

func TestMigrateCommand(t *testing.T) {
	convey.Convey("Given no database URL", t, func() {
		isolate(t)

		convey.Convey("Then migrate should fail", func() {
			_, err := execute("migrate")
			convey.So(err, convey.ShouldWrap, postgres.ErrNoURL)
		})
	})
}
