package codec

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/smart-transaction/stxn-poc-solvers/internal/chain"
)

func TestAppSelectorIsStableAndDistinct(t *testing.T) {
	a := AppSelector("CLEANAPP.SCHEDULER")
	b := AppSelector("CLEANAPP.SCHEDULER")
	c := AppSelector("FLASHLIQUIDITY.LIMITORDER")

	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
	require.NotEqual(t, chain.Selector{}, a)
}

func TestMethodIDLength(t *testing.T) {
	id := MethodID("pull(uint256)")
	require.Len(t, id, 4)
	require.NotEqual(t, MethodID("approve(address,uint256)"), id)
}

func TestUintRoundTrip(t *testing.T) {
	v, ok := new(big.Int).SetString("123456789012345678901234567890", 10)
	require.True(t, ok)

	word := EncodeUint(v)
	require.Len(t, word, 32)

	got, err := DecodeUint(word)
	require.NoError(t, err)
	require.Zero(t, got.Cmp(v))
}

func TestEncodeUintNil(t *testing.T) {
	require.Equal(t, make([]byte, 32), EncodeUint(nil))
}

func TestAddressRoundTrip(t *testing.T) {
	addr, err := chain.ParseAddress("0x00112233445566778899aabbccddeeff00112233")
	require.NoError(t, err)

	word := EncodeAddress(addr)
	require.Len(t, word, 32)

	got, err := DecodeAddress(word)
	require.NoError(t, err)
	require.Equal(t, addr, got)
}

func TestEncodeBytesPadsToWordBoundary(t *testing.T) {
	out := EncodeBytes([]byte("hello"))
	require.Len(t, out, 64)

	n, err := DecodeUint(out[:32])
	require.NoError(t, err)
	require.EqualValues(t, 5, n.Int64())
	require.Equal(t, []byte("hello"), out[32:37])
}

func TestEventDataRoundTrip(t *testing.T) {
	target, err := chain.ParseAddress("0x1111111111111111111111111111111111111111")
	require.NoError(t, err)

	ev := chain.Event{
		Sequence: big.NewInt(42),
		Selector: AppSelector("CLEANAPP.SCHEDULER"),
		Params: []chain.Param{
			{Name: "CRON", Value: []byte("*/5 * * * *")},
			{Name: "PAYOUT", Value: []byte(target.Hex())},
		},
		Calls: []chain.CallObject{
			{
				Salt:      big.NewInt(7),
				Amount:    big.NewInt(0),
				Gas:       big.NewInt(100_000),
				Addr:      target,
				Callvalue: EncodeCall("pull(uint256)", EncodeUint(big.NewInt(42))),
			},
		},
	}

	got, err := DecodeEventData(EncodeEventData(ev))
	require.NoError(t, err)
	require.Zero(t, got.Sequence.Cmp(ev.Sequence))
	require.Equal(t, ev.Selector, got.Selector)
	require.Equal(t, ev.Params, got.Params)
	require.Len(t, got.Calls, 1)
	require.Equal(t, target, got.Calls[0].Addr)
	require.Equal(t, ev.Calls[0].Callvalue, got.Calls[0].Callvalue)
	require.Zero(t, got.Calls[0].Gas.Cmp(ev.Calls[0].Gas))
}

func TestDecodeEventDataTruncated(t *testing.T) {
	ev := chain.Event{
		Sequence: big.NewInt(1),
		Selector: AppSelector("CLEANAPP.SCHEDULER"),
		Params:   []chain.Param{{Name: "CRON", Value: []byte("* * * * *")}},
	}
	data := EncodeEventData(ev)

	_, err := DecodeEventData(data[:len(data)-8])
	require.Error(t, err)

	_, err = DecodeEventData(nil)
	require.Error(t, err)
}
