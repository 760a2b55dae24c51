package model_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/okian/safescore/internal/domain/model"
	"github.com/shopspring/decimal"
	. "github.com/smartystreets/goconvey/convey"
)

func TestTransaction_TimestampString(t *testing.T) {
	Convey("Given a transaction stamped in a non-UTC zone", t, func() {
		loc := time.FixedZone("BRT", -3*60*60)
		tx := model.Transaction{Timestamp: time.Date(2024, 3, 1, 0, 17, 5, 0, loc)}

		Convey("Then it should render as UTC ISO-8601", func() {
			So(tx.TimestampString(), ShouldEqual, "2024-03-01T03:17:05+00:00")
		})
	})
}

func TestParseTimestamp(t *testing.T) {
	Convey("Given timestamps in the formats seen in stored records", t, func() {
		want := time.Date(2024, 3, 1, 3, 17, 0, 0, time.UTC)

		Convey("When parsing an explicit +00:00 offset", func() {
			ts, err := model.ParseTimestamp("2024-03-01T03:17:00+00:00")
			So(err, ShouldBeNil)
			So(ts.Equal(want), ShouldBeTrue)
		})

		Convey("When parsing a Z suffix", func() {
			ts, err := model.ParseTimestamp("2024-03-01T03:17:00Z")
			So(err, ShouldBeNil)
			So(ts.Equal(want), ShouldBeTrue)
		})

		Convey("When parsing a naive timestamp", func() {
			ts, err := model.ParseTimestamp(" 2024-03-01T03:17:00 ")
			So(err, ShouldBeNil)
			So(ts.Equal(want), ShouldBeTrue)
			So(ts.Location(), ShouldEqual, time.UTC)
		})

		Convey("When parsing garbage", func() {
			_, err := model.ParseTimestamp("yesterday")
			So(err, ShouldNotBeNil)
		})
	})
}

func TestScoredRecord_JSON(t *testing.T) {
	Convey("Given a scored record", t, func() {
		rec := model.ScoredRecord{
			Transaction: model.Transaction{
				TxID:   "0xabc",
				From:   "0xDEAD",
				Amount: decimal.RequireFromString("1.5"),
				Token:  "USDC",
				Method: model.MethodTransfer,
				Chain:  "ETH",
			},
			ScoreResult: model.ScoreResult{
				Score:   40,
				Hits:    map[string]int{"blacklist": 60},
				Reasons: []string{"Address in blacklist"},
			},
		}

		Convey("When marshalled", func() {
			data, err := json.Marshal(rec)
			So(err, ShouldBeNil)

			var flat map[string]interface{}
			So(json.Unmarshal(data, &flat), ShouldBeNil)

			Convey("Then transaction and score fields should be flattened", func() {
				So(flat["tx_id"], ShouldEqual, "0xabc")
				So(flat["from_address"], ShouldEqual, "0xDEAD")
				So(flat["amount"], ShouldEqual, "1.5")
				So(flat["score"], ShouldEqual, 40)
				So(flat["velocity_last_window"], ShouldEqual, 0)
			})
		})

		Convey("Then Triggered should reflect hits", func() {
			So(rec.Triggered("blacklist"), ShouldBeTrue)
			So(rec.Triggered("watchlist"), ShouldBeFalse)
		})
	})
}

func TestNormalize(t *testing.T) {
	Convey("Given mixed-case identifiers", t, func() {
		So(model.NormalizeAddress(" 0xDeAdBeEf "), ShouldEqual, "0xdeadbeef")
		So(model.NormalizeSymbol(" usdt "), ShouldEqual, "USDT")
	})
}

func TestRunMetadata_Failed(t *testing.T) {
	Convey("Given run metadata", t, func() {
		So(model.RunMetadata{}.Failed(), ShouldBeFalse)
		So(model.RunMetadata{Error: "rpc eth_chainId: all endpoints failed"}.Failed(), ShouldBeTrue)
	})
}
