package sink_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/okian/safescore/internal/adapters/sink"
	"github.com/okian/safescore/internal/domain/model"
	"github.com/okian/safescore/pkg/logger"
	"github.com/shopspring/decimal"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMain(m *testing.M) {
	if err := logger.Init(); err != nil {
		panic(err)
	}
	_ = logger.SetLevelString("error")
	os.Exit(m.Run())
}

var day = time.Date(2024, 3, 1, 14, 0, 0, 0, time.UTC)

func record(id string, score int) model.ScoredRecord {
	return model.ScoredRecord{
		Transaction: model.Transaction{
			TxID:      id,
			Timestamp: day.Add(-time.Minute),
			From:      "0xAbC0000000000000000000000000000000000001",
			To:        "0x0000000000000000000000000000000000000002",
			Amount:    decimal.RequireFromString("1234.5"),
			Token:     "USDT",
			Method:    model.MethodTransfer,
			Chain:     "ETH",
		},
		ScoreResult: model.ScoreResult{
			Score:         score,
			Hits:          map[string]int{"high_amount": 25, "new_address": 20},
			Reasons:       []string{"High amount (>= 10000)", "New sender address"},
			VelocityCount: 2,
		},
	}
}

type failing struct{ closed bool }

func (f *failing) Name() string { return "failing" }
func (f *failing) Write(context.Context, []model.ScoredRecord) error {
	return errors.New("disk full")
}
func (f *failing) Close() error { f.closed = true; return nil }

type capture struct{ got []model.ScoredRecord }

func (c *capture) Name() string { return "capture" }
func (c *capture) Write(_ context.Context, r []model.ScoredRecord) error {
	c.got = append(c.got, r...)
	return nil
}
func (c *capture) Close() error { return nil }

func TestMulti(t *testing.T) {
	Convey("Given a fan-out with a failing sink first", t, func() {
		bad, good := &failing{}, &capture{}
		m := sink.NewMulti(bad, nil, good)

		Convey("Then nil sinks should be dropped", func() {
			So(m.Len(), ShouldEqual, 2)
		})

		Convey("When writing", func() {
			err := m.Write(context.Background(), []model.ScoredRecord{record("0x1", 90)})

			Convey("Then later sinks should still receive the records", func() {
				So(good.got, ShouldHaveLength, 1)
			})

			Convey("And the failure should be reported by name", func() {
				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldContainSubstring, "failing: disk full")
			})
		})

		Convey("Close should reach every sink", func() {
			So(m.Close(), ShouldBeNil)
			So(bad.closed, ShouldBeTrue)
		})
	})
}

func TestCSV(t *testing.T) {
	Convey("Given a CSV sink in a temp dir", t, func() {
		dir := t.TempDir()
		s := sink.NewCSV(dir).WithClock(func() time.Time { return day })
		ctx := context.Background()

		Convey("The file name should use the lowercase chain and UTC day", func() {
			So(sink.FileName("ETH", day), ShouldEqual, "transactions_eth_20240301.csv")
			So(s.Path("MOCK"), ShouldEqual, filepath.Join(dir, "transactions_mock_20240301.csv"))
		})

		Convey("When writing records", func() {
			So(s.Write(ctx, []model.ScoredRecord{record("0x1", 55), record("0x2", 40)}), ShouldBeNil)

			Convey("Then the header and flattened columns should be written", func() {
				b, err := os.ReadFile(s.Path("ETH"))
				So(err, ShouldBeNil)
				lines := strings.Split(strings.TrimSpace(string(b)), "\n")
				So(lines, ShouldHaveLength, 3)
				So(lines[0], ShouldEqual, strings.Join(sink.Columns, ","))
				So(lines[1], ShouldContainSubstring, "2024-03-01T13:59:00+00:00")
				So(lines[1], ShouldContainSubstring, "High amount (>= 10000) | New sender address")
			})

			Convey("Then reading back should preserve the record", func() {
				got, err := sink.ReadCSV(s.Path("ETH"))
				So(err, ShouldBeNil)
				So(got, ShouldHaveLength, 2)
				So(got[0].TxID, ShouldEqual, "0x1")
				So(got[0].From, ShouldEqual, "0xAbC0000000000000000000000000000000000001")
				So(got[0].Amount.Equal(decimal.RequireFromString("1234.5")), ShouldBeTrue)
				So(got[0].Timestamp.Equal(day.Add(-time.Minute)), ShouldBeTrue)
				So(got[0].Hits, ShouldResemble, map[string]int{"high_amount": 25, "new_address": 20})
				So(got[0].Reasons, ShouldHaveLength, 2)
				So(got[1].Score, ShouldEqual, 40)
				So(got[1].VelocityCount, ShouldEqual, 2)
			})

			Convey("And a second run should replace same tx ids and keep the rest", func() {
				So(s.Write(ctx, []model.ScoredRecord{record("0x2", 10), record("0x3", 100)}), ShouldBeNil)
				got, err := sink.ReadCSV(s.Path("ETH"))
				So(err, ShouldBeNil)
				So(got, ShouldHaveLength, 3)
				So(got[0].TxID, ShouldEqual, "0x1")
				So(got[1].TxID, ShouldEqual, "0x2")
				So(got[1].Score, ShouldEqual, 10)
			})
		})

		Convey("Records of different chains should go to separate files", func() {
			mock := record("MOCK-1-0", 70)
			mock.Chain = "MOCK"
			So(s.Write(ctx, []model.ScoredRecord{record("0x1", 50), mock}), ShouldBeNil)
			_, err := os.Stat(s.Path("MOCK"))
			So(err, ShouldBeNil)
		})

		Convey("A sink without a directory should fail", func() {
			So(sink.NewCSV("").Write(ctx, []model.ScoredRecord{record("0x1", 1)}), ShouldWrap, sink.ErrNoDir)
		})
	})
}

func TestDecodeCSV(t *testing.T) {
	Convey("Given a CSV of bare canonical transactions", t, func() {
		in := "tx_id,timestamp,from_address,to_address,amount,token,method,chain\n" +
			"0xa,2024-03-01T03:17:00Z,0x1,0x2,5,usdt,transfer,ETH\n" +
			"0xb,not-a-time,0x1,0x2,5,usdt,transfer,ETH\n" +
			"0xc,2024-03-01T03:18:00,0x1,0x2,-1,usdt,transfer,ETH\n" +
			"0xd,2024-03-01T03:19:00,0x1,0x2,,DAI,approve,ETH\n"

		got, err := sink.DecodeCSV(strings.NewReader(in))

		Convey("Then invalid rows should be skipped and missing columns zeroed", func() {
			So(err, ShouldBeNil)
			So(got, ShouldHaveLength, 2)
			So(got[0].Method, ShouldEqual, model.MethodTransfer)
			So(got[0].Timestamp.Hour(), ShouldEqual, 3)
			So(got[1].Amount.IsZero(), ShouldBeTrue)
			So(got[1].Method, ShouldEqual, model.MethodApprove)
			So(got[1].Hits, ShouldBeEmpty)
		})
	})

	Convey("Given a CSV without a timestamp column", t, func() {
		_, err := sink.DecodeCSV(strings.NewReader("tx_id,amount\n0x1,2\n"))
		So(err, ShouldWrap, sink.ErrMissingColumn)
	})

	Convey("Given an empty input", t, func() {
		got, err := sink.DecodeCSV(strings.NewReader(""))
		So(err, ShouldBeNil)
		So(got, ShouldBeEmpty)
	})
}

func TestHistory(t *testing.T) {
	Convey("Given two output files sharing a transaction", t, func() {
		dir := t.TempDir()
		ctx := context.Background()
		old := sink.NewCSV(dir).WithClock(func() time.Time { return day.AddDate(0, 0, -1) })
		cur := sink.NewCSV(dir).WithClock(func() time.Time { return day })
		So(old.Write(ctx, []model.ScoredRecord{record("0x1", 90), record("0x2", 90)}), ShouldBeNil)
		So(cur.Write(ctx, []model.ScoredRecord{record("0x2", 90), record("0x3", 90)}), ShouldBeNil)
		past := day.Add(-48 * time.Hour)
		So(os.Chtimes(old.Path("ETH"), past, past), ShouldBeNil)
		So(os.WriteFile(filepath.Join(dir, "blacklist.csv"), []byte("address\n"), 0o644), ShouldBeNil)

		Convey("Then every transaction should appear once", func() {
			txs, err := sink.History(dir, 0)
			So(err, ShouldBeNil)
			So(txs, ShouldHaveLength, 3)
			So(txs[0].TxID, ShouldEqual, "0x2")
		})

		Convey("Then a file limit should keep only the newest file", func() {
			txs, err := sink.History(dir, 1)
			So(err, ShouldBeNil)
			So(txs, ShouldHaveLength, 2)
		})

		Convey("Then an empty directory should give no history", func() {
			txs, err := sink.History(t.TempDir(), 3)
			So(err, ShouldBeNil)
			So(txs, ShouldBeEmpty)
		})
	})
}

func TestKafka(t *testing.T) {
	Convey("Given a Kafka sink over a mock producer", t, func() {
		p := mocks.NewSyncProducer(t, nil)
		k := sink.NewKafkaWithProducer(p, "scored")
		k.SetRunID("run-1")

		Convey("When writing two records", func() {
			for _, id := range []string{"0x1", "0x2"} {
				p.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
					key, _ := msg.Key.Encode()
					if string(key) != id {
						return errors.New("unexpected key " + string(key))
					}
					if msg.Topic != "scored" {
						return errors.New("unexpected topic " + msg.Topic)
					}
					val, _ := msg.Value.Encode()
					var env sink.Envelope
					if err := json.Unmarshal(val, &env); err != nil {
						return err
					}
					if env.Type != sink.EnvelopeType || env.RunID != "run-1" || env.Data.TxID != id {
						return errors.New("unexpected envelope")
					}
					return nil
				})
			}
			err := k.Write(context.Background(), []model.ScoredRecord{record("0x1", 50), record("0x2", 60)})

			Convey("Then each record should be published keyed by tx id", func() {
				So(err, ShouldBeNil)
				So(k.Close(), ShouldBeNil)
			})
		})

		Convey("When the broker rejects a message", func() {
			p.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
			err := k.Write(context.Background(), []model.ScoredRecord{record("0x1", 50)})

			Convey("Then the error should be returned", func() {
				So(err, ShouldNotBeNil)
				So(k.Close(), ShouldBeNil)
			})
		})

		Convey("An empty batch should publish nothing", func() {
			So(k.Write(context.Background(), nil), ShouldBeNil)
			So(k.Close(), ShouldBeNil)
		})
	})
}
