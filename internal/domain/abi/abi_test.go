package abi_test

import (
	"math/big"
	"strings"
	"testing"

	"github.com/okian/safescore/internal/domain/abi"
	. "github.com/smartystreets/goconvey/convey"
)

func word(hex string) string {
	return strings.Repeat("0", 64-len(hex)) + hex
}

func TestSelectors(t *testing.T) {
	Convey("Given the well-known selectors", t, func() {
		So(abi.SelectorTransfer.Hex(), ShouldEqual, "0xa9059cbb")
		So(abi.SelectorApprove.Hex(), ShouldEqual, "0x095ea7b3")
		So(abi.SelectorSymbol.Hex(), ShouldEqual, "0x95d89b41")
		So(abi.SelectorDecimals.Hex(), ShouldEqual, "0x313ce567")
		So(abi.SelectorTransfer.IsERC20(), ShouldBeTrue)
		So(abi.SelectorSymbol.IsERC20(), ShouldBeFalse)
	})
}

func TestParseHex(t *testing.T) {
	Convey("Given hex strings from a node", t, func() {
		Convey("Empty markers should decode to no bytes", func() {
			b, err := abi.ParseHex("0x")
			So(err, ShouldBeNil)
			So(b, ShouldBeEmpty)

			b, err = abi.ParseHex("")
			So(err, ShouldBeNil)
			So(b, ShouldBeEmpty)
		})

		Convey("A missing prefix should be tolerated", func() {
			b, err := abi.ParseHex("a9059cbb")
			So(err, ShouldBeNil)
			So(b, ShouldResemble, abi.SelectorTransfer.Bytes())
		})

		Convey("Odd-length or non-hex input should fail", func() {
			_, err := abi.ParseHex("0xabc")
			So(err, ShouldWrap, abi.ErrBadHex)
			_, err = abi.ParseHex("0xzz")
			So(err, ShouldWrap, abi.ErrBadHex)
		})
	})
}

func TestDecodeAddressAmount(t *testing.T) {
	Convey("Given approve call data with a spender in the low 20 bytes", t, func() {
		spender := "000000000000000000000000abcdef0123456789abcdef0123456789abcdef01"
		data, err := abi.ParseHex("0x095ea7b3" + strings.ToUpper(spender) + word("f4240"))
		So(err, ShouldBeNil)

		Convey("When decoding", func() {
			call, err := abi.DecodeAddressAmount(data)

			Convey("Then the spender should be lowercase and 0x-prefixed", func() {
				So(err, ShouldBeNil)
				So(call.Selector, ShouldEqual, abi.SelectorApprove)
				So(call.Address, ShouldEqual, "0xabcdef0123456789abcdef0123456789abcdef01")
				So(call.Amount.Cmp(big.NewInt(1_000_000)), ShouldEqual, 0)
			})
		})
	})

	Convey("Given call data missing the amount parameter", t, func() {
		data, _ := abi.ParseHex("0xa9059cbb" + word("01"))

		Convey("Then decoding should fail", func() {
			_, err := abi.DecodeAddressAmount(data)
			So(err, ShouldWrap, abi.ErrShortCallData)
		})
	})

	Convey("Given call data shorter than a selector", t, func() {
		_, err := abi.DecodeAddressAmount([]byte{0xa9, 0x05})
		So(err, ShouldEqual, abi.ErrShortCallData)
	})
}

func TestDecodeUint(t *testing.T) {
	Convey("Given decimals() return data", t, func() {
		Convey("A single word should decode", func() {
			b, _ := abi.ParseHex("0x" + word("12"))
			v, err := abi.DecodeUint(b)
			So(err, ShouldBeNil)
			So(v.Int64(), ShouldEqual, 18)
		})

		Convey("Only the trailing word should be read", func() {
			b, _ := abi.ParseHex("0x" + word("ff") + word("06"))
			v, err := abi.DecodeUint(b)
			So(err, ShouldBeNil)
			So(v.Int64(), ShouldEqual, 6)
		})

		Convey("An empty payload should fail", func() {
			_, err := abi.DecodeUint(nil)
			So(err, ShouldEqual, abi.ErrEmptyPayload)
		})
	})
}

func TestDecodeString(t *testing.T) {
	Convey("Given symbol() return data", t, func() {
		Convey("When it is a dynamic string", func() {
			payload := "55534443" + strings.Repeat("0", 56) // "USDC"
			b, _ := abi.ParseHex("0x" + word("20") + word("04") + payload)
			s, err := abi.DecodeString(b)
			So(err, ShouldBeNil)
			So(s, ShouldEqual, "USDC")
		})

		Convey("When it is a fixed bytes32 string", func() {
			b, _ := abi.ParseHex("0x4d4b52" + strings.Repeat("0", 58)) // "MKR"
			s, err := abi.DecodeString(b)
			So(err, ShouldBeNil)
			So(s, ShouldEqual, "MKR")
		})

		Convey("When the dynamic length overruns the payload", func() {
			payload := "414243" + strings.Repeat("0", 58)
			b, _ := abi.ParseHex("0x" + word("20") + word("40") + payload)

			Convey("Then it should fail instead of reading the header words", func() {
				s, err := abi.DecodeString(b)
				So(err, ShouldEqual, abi.ErrBadString)
				So(s, ShouldBeEmpty)
			})
		})

		Convey("When the dynamic offset points past the payload", func() {
			b, _ := abi.ParseHex("0x" + word("ff") + word("03") + word("00"))
			_, err := abi.DecodeString(b)
			So(err, ShouldEqual, abi.ErrBadString)
		})

		Convey("When the bytes are not valid UTF-8", func() {
			s, err := abi.DecodeString([]byte{'D', 0xff, 'A', 'I', 0, 0})
			So(err, ShouldBeNil)
			So(s, ShouldEqual, "DAI")
		})

		Convey("When the bytes are only NUL and control characters", func() {
			s, err := abi.DecodeString([]byte{0, 1, 0x1f, '\n', 0})
			So(err, ShouldBeNil)
			So(s, ShouldBeEmpty)
		})

		Convey("When the payload is empty", func() {
			_, err := abi.DecodeString(nil)
			So(err, ShouldEqual, abi.ErrEmptyPayload)
		})
	})
}

func TestTruncate(t *testing.T) {
	Convey("Given long symbols", t, func() {
		So(abi.Truncate("ABCDEFGHIJKLMNOP", 12), ShouldEqual, "ABCDEFGHIJKL")
		So(abi.Truncate("ÉTHÉR", 3), ShouldEqual, "ÉTH")
		So(abi.Truncate("ETH", 12), ShouldEqual, "ETH")
	})
}
