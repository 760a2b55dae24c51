package decoder_test

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/okian/safescore/internal/domain/decoder"
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

const (
	usdc    = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
	alice   = "0x1111111111111111111111111111111111111111"
	bob     = "0x2222222222222222222222222222222222222222"
	blockTS = 1_709_263_020 // 2024-03-01T03:17:00Z
)

type fakeChain struct {
	mu        sync.Mutex
	chainErr  error
	latestErr error
	latest    uint64
	blocks    map[uint64]*model.RawBlock
	fetched   []uint64
}

func (f *fakeChain) ChainID(context.Context) (uint64, string, error) {
	if f.chainErr != nil {
		return 0, "", f.chainErr
	}
	return 1, "http://node-b", nil
}

func (f *fakeChain) BlockNumber(context.Context) (uint64, error) {
	return f.latest, f.latestErr
}

func (f *fakeChain) BlockByNumber(_ context.Context, n uint64) (*model.RawBlock, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, n)
	f.mu.Unlock()
	b, ok := f.blocks[n]
	if !ok {
		return nil, errors.New("header not found")
	}
	return b, nil
}

type fakeTokens map[string]model.TokenMetadata

func (f fakeTokens) Resolve(_ context.Context, address string) model.TokenMetadata {
	if m, ok := f[strings.ToLower(address)]; ok {
		return m
	}
	return model.TokenMetadata{Address: address, Symbol: "TOKEN", Decimals: 18}
}

func word(hex string) string {
	return strings.Repeat("0", 64-len(hex)) + hex
}

func ptr(s string) *string { return &s }

func tokenCall(selector, addr string, amount uint64) string {
	return selector + word(strings.TrimPrefix(strings.ToLower(addr), "0x")) + word(hexutil.EncodeUint64(amount)[2:])
}

func native(hash, from, to string, wei string) model.RawTransaction {
	return model.RawTransaction{Hash: hash, From: from, To: ptr(to), Value: wei, Input: "0x"}
}

func block(n uint64, txs ...model.RawTransaction) *model.RawBlock {
	return &model.RawBlock{Number: hexutil.Uint64(n), Timestamp: hexutil.Uint64(blockTS), Transactions: txs}
}

func newDecoder(chain *fakeChain, opts ...decoder.Option) *decoder.Decoder {
	tokens := fakeTokens{strings.ToLower(usdc): {Address: strings.ToLower(usdc), Symbol: "USDC", Decimals: 6}}
	return decoder.New(chain, tokens, opts...)
}

func TestDecodeTransaction(t *testing.T) {
	Convey("Given a decoder with USDC metadata", t, func() {
		d := newDecoder(&fakeChain{})
		ts := time.Unix(blockTS, 0).UTC()
		ctx := context.Background()

		Convey("When decoding transfer(address,uint256) of 1_000_000 raw units", func() {
			raw := model.RawTransaction{Hash: "0x01", From: alice, To: ptr(usdc), Value: "0x0",
				Input: tokenCall("0xa9059cbb", bob, 1_000_000)}
			tx, err := d.DecodeTransaction(ctx, raw, ts)

			Convey("Then the amount should be scaled by the token decimals", func() {
				So(err, ShouldBeNil)
				So(tx.Amount.Equal(decimal.NewFromInt(1)), ShouldBeTrue)
				So(tx.Token, ShouldEqual, "USDC")
				So(tx.Method, ShouldEqual, model.MethodTransfer)
				So(tx.To, ShouldEqual, bob)
				So(tx.From, ShouldEqual, alice)
				So(tx.TimestampString(), ShouldEqual, "2024-03-01T03:17:00+00:00")
				So(tx.Chain, ShouldEqual, decoder.DefaultChain)
			})
		})

		Convey("When decoding approve with a spender in the low 20 bytes", func() {
			spender := "0x000000000000000000000000ABCDEF0123456789ABCDEF0123456789ABCDEF01"
			input := "0x095ea7b3" + spender[2:] + word("0de0b6b3a7640000")
			raw := model.RawTransaction{Hash: "0x02", From: alice, To: ptr(usdc), Value: "0x0", Input: input}
			tx, err := d.DecodeTransaction(ctx, raw, ts)

			Convey("Then to_address should be the spender, lowercase and 0x-prefixed", func() {
				So(err, ShouldBeNil)
				So(tx.Method, ShouldEqual, model.MethodApprove)
				So(tx.To, ShouldEqual, "0xabcdef0123456789abcdef0123456789abcdef01")
				So(tx.Amount.Equal(decimal.NewFromInt(1_000_000_000_000)), ShouldBeTrue)
			})
		})

		Convey("When decoding a plain value transfer", func() {
			tx, err := d.DecodeTransaction(ctx, native("0x03", alice, bob, "0x14d1120d7b160000"), ts)

			Convey("Then it should be a native transfer in whole units", func() {
				So(err, ShouldBeNil)
				So(tx.Method, ShouldEqual, model.MethodTransfer)
				So(tx.Token, ShouldEqual, "ETH")
				So(tx.Amount.String(), ShouldEqual, "1.5")
			})
		})

		Convey("When decoding an unknown selector", func() {
			raw := model.RawTransaction{Hash: "0x04", From: alice, To: ptr(bob), Value: "0x0", Input: "0x38ed1739" + word("01")}
			tx, err := d.DecodeTransaction(ctx, raw, ts)

			Convey("Then it should be a CALL with native defaults", func() {
				So(err, ShouldBeNil)
				So(tx.Method, ShouldEqual, model.MethodCall)
				So(tx.Token, ShouldEqual, "ETH")
				So(tx.Amount.IsZero(), ShouldBeTrue)
				So(tx.To, ShouldEqual, bob)
			})
		})

		Convey("When the call data is malformed", func() {
			cases := []model.RawTransaction{
				{Hash: "0x05", From: alice, To: ptr(usdc), Value: "0x0", Input: "0xa9059cb"},
				{Hash: "0x06", From: alice, To: ptr(usdc), Value: "0x0", Input: "0xa9059cbb" + word("01")},
				{Hash: "0x07", From: alice, To: nil, Value: "0x0", Input: tokenCall("0xa9059cbb", bob, 1)},
				{Hash: "0x08", From: alice, To: ptr(bob), Value: "0xzz", Input: "0x"},
			}

			Convey("Then each should fail with a DecodeError", func() {
				for _, raw := range cases {
					_, err := d.DecodeTransaction(ctx, raw, ts)
					var decErr *decoder.DecodeError
					So(errors.As(err, &decErr), ShouldBeTrue)
					So(decErr.TxHash, ShouldEqual, raw.Hash)
				}
			})
		})
	})
}

func TestDecodeRange(t *testing.T) {
	Convey("Given three blocks with a failing middle block", t, func() {
		chain := &fakeChain{latest: 102, blocks: map[uint64]*model.RawBlock{
			102: block(102,
				native("0xa1", alice, bob, "0xde0b6b3a7640000"),
				model.RawTransaction{Hash: "0xa2", From: alice, To: ptr(usdc), Value: "0x0", Input: "0xa9059cbbzz"},
				model.RawTransaction{Hash: "0xa3", From: bob, To: ptr(usdc), Value: "0x0", Input: tokenCall("0xa9059cbb", alice, 5_000_000)},
			),
			100: block(100,
				native("0xc1", bob, alice, "0x1bc16d674ec80000"),
				native("0xc2", alice, bob, "0x0"),
			),
		}}
		ctx := context.Background()

		Convey("When decoding the full range", func() {
			txs, stats := newDecoder(chain).DecodeRange(ctx, 102, 3, 50, decoder.Filters{})

			Convey("Then output should be newest block first in node order", func() {
				ids := make([]string, len(txs))
				for i, tx := range txs {
					ids[i] = tx.TxID
				}
				So(ids, ShouldResemble, []string{"0xa1", "0xa3", "0xc1", "0xc2"})
			})

			Convey("And the failed block and malformed tx should be skipped", func() {
				So(stats.BlocksScanned, ShouldEqual, 2)
				So(stats.BlocksSkipped, ShouldEqual, 1)
				So(stats.TxSkipped, ShouldEqual, 1)
				So(stats.FromBlock, ShouldEqual, 100)
				So(stats.ToBlock, ShouldEqual, 102)
			})
		})

		Convey("When maxTx is reached mid-block", func() {
			txs, _ := newDecoder(chain).DecodeRange(ctx, 102, 3, 1, decoder.Filters{})

			Convey("Then the scan should stop without fetching older blocks", func() {
				So(txs, ShouldHaveLength, 1)
				So(txs[0].TxID, ShouldEqual, "0xa1")
				So(chain.fetched, ShouldResemble, []uint64{102})
			})
		})

		Convey("When only ERC-20 calls are wanted", func() {
			txs, stats := newDecoder(chain).DecodeRange(ctx, 102, 3, 50, decoder.Filters{OnlyERC20: true})

			Convey("Then native transfers should be dropped", func() {
				So(txs, ShouldHaveLength, 1)
				So(txs[0].TxID, ShouldEqual, "0xa3")
				So(txs[0].Amount.Equal(decimal.NewFromInt(5)), ShouldBeTrue)
				So(stats.TxSkipped, ShouldEqual, 4)
			})
		})

		Convey("When a minimum native amount is set", func() {
			txs, _ := newDecoder(chain).DecodeRange(ctx, 102, 3, 50, decoder.Filters{MinNativeAmount: decimal.NewFromInt(2)})

			Convey("Then small plain transfers should be dropped but token calls kept", func() {
				ids := []string{}
				for _, tx := range txs {
					ids = append(ids, tx.TxID)
				}
				So(ids, ShouldResemble, []string{"0xa3", "0xc1"})
			})
		})

		Convey("When address allow-lists are set", func() {
			txs, _ := newDecoder(chain).DecodeRange(ctx, 102, 3, 50, decoder.Filters{
				FromAllow: []string{strings.ToUpper(alice[2:])},
			})
			So(txs, ShouldBeEmpty)

			txs, _ = newDecoder(chain).DecodeRange(ctx, 102, 3, 50, decoder.Filters{
				FromAllow: []string{"0x" + strings.ToUpper(alice[2:])},
				ToAllow:   []string{bob},
			})

			Convey("Then only matching from/to pairs should pass", func() {
				So(txs, ShouldHaveLength, 2)
				So(txs[0].TxID, ShouldEqual, "0xa1")
				So(txs[1].TxID, ShouldEqual, "0xc2")
			})
		})

		Convey("When fetching ahead in parallel", func() {
			seq, _ := newDecoder(chain).DecodeRange(ctx, 102, 3, 50, decoder.Filters{})
			par, stats := newDecoder(chain, decoder.WithConcurrency(4)).DecodeRange(ctx, 102, 3, 50, decoder.Filters{})

			Convey("Then the output should match the sequential scan", func() {
				So(len(par), ShouldEqual, len(seq))
				for i := range seq {
					So(par[i].TxID, ShouldEqual, seq[i].TxID)
				}
				So(stats.BlocksSkipped, ShouldEqual, 1)
			})
		})

		Convey("When the range reaches below genesis", func() {
			low := &fakeChain{latest: 1, blocks: map[uint64]*model.RawBlock{
				1: block(1), 0: block(0),
			}}
			_, stats := newDecoder(low).DecodeRange(ctx, 1, 20, 50, decoder.Filters{})

			Convey("Then it should stop at block zero", func() {
				So(stats.FromBlock, ShouldEqual, 0)
				So(stats.BlocksScanned, ShouldEqual, 2)
				So(low.fetched, ShouldResemble, []uint64{1, 0})
			})
		})
	})
}

func TestRun(t *testing.T) {
	Convey("Given a reachable chain", t, func() {
		chain := &fakeChain{latest: 7, blocks: map[uint64]*model.RawBlock{
			7: block(7, native("0x71", alice, bob, "0xde0b6b3a7640000")),
		}}

		Convey("When running", func() {
			txs, meta := newDecoder(chain, decoder.WithChain("SEPOLIA"), decoder.WithNativeSymbol("SEP")).Run(
				context.Background(), decoder.Params{BlocksBack: 2, MaxTx: 10})

			Convey("Then metadata should describe the run", func() {
				So(txs, ShouldHaveLength, 1)
				So(txs[0].Chain, ShouldEqual, "SEPOLIA")
				So(txs[0].Token, ShouldEqual, "SEP")
				So(meta.Failed(), ShouldBeFalse)
				So(meta.RunID, ShouldNotBeEmpty)
				So(meta.Endpoint, ShouldEqual, "http://node-b")
				So(meta.ChainID, ShouldEqual, 1)
				So(meta.LatestBlock, ShouldEqual, 7)
				So(meta.FromBlock, ShouldEqual, 6)
				So(meta.BlocksSkipped, ShouldEqual, 1)
				So(meta.Collected, ShouldEqual, 1)
				So(meta.Filters.MaxTx, ShouldEqual, 10)
				So(meta.FinishedAt.Before(meta.StartedAt), ShouldBeFalse)
			})
		})
	})

	Convey("Given no endpoint answers the liveness probe", t, func() {
		chain := &fakeChain{chainErr: errors.New("rpc eth_chainId: all endpoints failed")}
		txs, meta := newDecoder(chain).Run(context.Background(), decoder.Params{BlocksBack: 2, MaxTx: 10})

		Convey("Then the result should be empty with the error recorded", func() {
			So(txs, ShouldNotBeNil)
			So(txs, ShouldBeEmpty)
			So(meta.Failed(), ShouldBeTrue)
			So(meta.Error, ShouldContainSubstring, "liveness probe")
			So(chain.fetched, ShouldBeEmpty)
		})
	})

	Convey("Given the latest block cannot be read", t, func() {
		chain := &fakeChain{latestErr: errors.New("timeout")}
		txs, meta := newDecoder(chain).Run(context.Background(), decoder.Params{BlocksBack: 2, MaxTx: 10})

		So(txs, ShouldBeEmpty)
		So(meta.Error, ShouldContainSubstring, "latest block")
	})
}
