package adapter

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"optionguard/internal/auth"
	"optionguard/internal/models"
	"optionguard/internal/oracle"
	"optionguard/internal/valuation"
)

type stubConfigStore struct {
	items map[string]*models.OptionConfig
}

func (s *stubConfigStore) GetOptionConfig(_ context.Context, id string) (*models.OptionConfig, error) {
	item, ok := s.items[id]
	if !ok {
		return nil, nil
	}
	cp := *item
	return &cp, nil
}

func (s *stubConfigStore) SaveOptionConfig(_ context.Context, item *models.OptionConfig) error {
	cp := *item
	s.items[item.ID] = &cp
	return nil
}

type stubGate struct {
	ok  bool
	err error
}

func (g *stubGate) Predicate(context.Context, string) (bool, error) {
	return g.ok, g.err
}

var (
	adapterID = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	optionID  = common.HexToHash("0x01").Hex()
	stopID    = common.HexToHash("0x02").Hex()
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func newTestAdapter(t *testing.T) (*Adapter, *oracle.StaticFeed, *stubGate) {
	t.Helper()
	store := &stubConfigStore{items: map[string]*models.OptionConfig{}}
	feed := oracle.NewStaticFeed(dec("220000000000"), time.Now()) // $2200
	feeds := oracle.NewRegistry()
	feeds.Register("ETH/USD", feed)
	owner := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	acl := auth.NewAccessList(owner)
	if err := acl.SetAuthorizedCaller(owner, adapterID, true); err != nil {
		t.Fatalf("authorize adapter: %v", err)
	}
	eng := &valuation.Engine{Access: acl, Store: store, Feeds: feeds}
	if err := eng.SetConfig(context.Background(), adapterID, optionID, valuation.SetConfigParams{
		IsCall:      true,
		StrikePrice: dec("210000000000"), // $2100
		Premium:     dec("50000000000000000"),
		Expiration:  time.Now().Add(24 * time.Hour),
		FeedID:      "ETH/USD",
		Multiplier:  1,
	}); err != nil {
		t.Fatalf("set option config: %v", err)
	}
	gate := &stubGate{ok: true}
	return &Adapter{Valuation: eng, StopLoss: gate, Identity: adapterID}, feed, gate
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		name      string
		minPayoff string
		enforce   bool
	}{
		{"zero payoff no enforcement", "0", false},
		{"small payoff enforced", "1", true},
		{"large payoff enforced", "115792089237316195423570985008687907853269984665640564039457584007913129639935", true},
	}
	for _, c := range cases {
		payload, err := Encode(optionID, stopID, dec(c.minPayoff), c.enforce)
		if err != nil {
			t.Fatalf("%s: encode: %v", c.name, err)
		}
		if len(payload) != payloadLen {
			t.Fatalf("%s: payload length %d", c.name, len(payload))
		}
		data, err := Decode(payload)
		if err != nil {
			t.Fatalf("%s: decode: %v", c.name, err)
		}
		if data.OptionID != optionID || data.StopLossID != stopID {
			t.Fatalf("%s: ids %s/%s", c.name, data.OptionID, data.StopLossID)
		}
		if !data.MinPayoff.Equal(dec(c.minPayoff)) {
			t.Fatalf("%s: min payoff %s", c.name, data.MinPayoff)
		}
		if data.EnforceStopLoss != c.enforce {
			t.Fatalf("%s: enforce %v", c.name, data.EnforceStopLoss)
		}
	}
}

func TestDecodeRejectsMalformedPayloads(t *testing.T) {
	if _, err := Decode(nil); !errors.Is(err, ErrInvalidExtraData) {
		t.Fatalf("empty payload: got %v", err)
	}
	if _, err := Decode(bytes.Repeat([]byte{0}, payloadLen-1)); !errors.Is(err, ErrInvalidExtraData) {
		t.Fatalf("short payload: got %v", err)
	}
	if _, err := Decode(bytes.Repeat([]byte{0}, payloadLen+1)); !errors.Is(err, ErrInvalidExtraData) {
		t.Fatalf("long payload: got %v", err)
	}
	bad := bytes.Repeat([]byte{0}, payloadLen)
	bad[96] = 2
	if _, err := Decode(bad); !errors.Is(err, ErrInvalidExtraData) {
		t.Fatalf("bad flag byte: got %v", err)
	}
}

func mustEncode(t *testing.T, minPayoff decimal.Decimal, enforce bool) []byte {
	t.Helper()
	payload, err := Encode(optionID, stopID, minPayoff, enforce)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return payload
}

func TestMakingAmountFloorAndCap(t *testing.T) {
	a, _, _ := newTestAdapter(t)
	ctx := context.Background()

	// $100 in the money on a $2100 strike, multiplier 1: the conversion
	// works out to making = taking/2100.
	taking := dec("2100000000000000000000")
	making, err := a.MakingAmount(ctx, taking, dec("999000000000000000000"), mustEncode(t, decimal.Zero, false))
	if err != nil {
		t.Fatalf("making amount: %v", err)
	}
	if want := dec("1000000000000000000"); !making.Equal(want) {
		t.Fatalf("making = %s, want %s", making, want)
	}

	// Below the payload's floor.
	floor := dec("2000000000000000000")
	if _, err := a.MakingAmount(ctx, taking, dec("999000000000000000000"), mustEncode(t, floor, false)); !errors.Is(err, ErrInsufficientPayoff) {
		t.Fatalf("floor: got %v, want ErrInsufficientPayoff", err)
	}

	// Capped at the remaining fill.
	remaining := dec("400000000000000000")
	making, err = a.MakingAmount(ctx, taking, remaining, mustEncode(t, decimal.Zero, false))
	if err != nil {
		t.Fatalf("capped making amount: %v", err)
	}
	if !making.Equal(remaining) {
		t.Fatalf("making = %s, want cap %s", making, remaining)
	}
}

func TestMakingAmountStopLossEnforcement(t *testing.T) {
	a, _, gate := newTestAdapter(t)
	ctx := context.Background()
	taking := dec("2100000000000000000000")

	gate.ok = false
	if _, err := a.MakingAmount(ctx, taking, dec("1"), mustEncode(t, decimal.Zero, true)); !errors.Is(err, ErrStopLossTriggered) {
		t.Fatalf("enforced tripped stop: got %v, want ErrStopLossTriggered", err)
	}

	// Without the enforcement flag the tripped stop is ignored.
	if _, err := a.MakingAmount(ctx, taking, dec("999000000000000000000"), mustEncode(t, decimal.Zero, false)); err != nil {
		t.Fatalf("unenforced: %v", err)
	}

	gate.ok = true
	gate.err = errors.New("oracle down")
	if _, err := a.MakingAmount(ctx, taking, dec("1"), mustEncode(t, decimal.Zero, true)); !errors.Is(err, gate.err) {
		t.Fatalf("gate error must propagate from amount getters, got %v", err)
	}
}

func TestTakingAmountHasNoFloorOrCap(t *testing.T) {
	a, _, _ := newTestAdapter(t)
	ctx := context.Background()

	// taking = making * 2100; no remaining cap and no payoff floor apply
	// on this side.
	making := dec("1000000000000000000")
	taking, err := a.TakingAmount(ctx, making, mustEncode(t, dec("999999999999999999999999"), false))
	if err != nil {
		t.Fatalf("taking amount: %v", err)
	}
	if want := dec("2100000000000000000000"); !taking.Equal(want) {
		t.Fatalf("taking = %s, want %s", taking, want)
	}
}

func TestPredicateAbsorbsAllFailures(t *testing.T) {
	a, feed, gate := newTestAdapter(t)
	ctx := context.Background()

	if !a.Predicate(ctx, mustEncode(t, decimal.Zero, true)) {
		t.Fatal("healthy in-the-money position should pass")
	}

	// Malformed payload.
	if a.Predicate(ctx, nil) {
		t.Fatal("empty payload must map to false")
	}
	if a.Predicate(ctx, []byte{1, 2, 3}) {
		t.Fatal("short payload must map to false")
	}

	// Stale price: the strict engines would fail, the predicate degrades.
	feed.Set(dec("220000000000"), time.Now().Add(-2*time.Hour))
	if a.Predicate(ctx, mustEncode(t, decimal.Zero, true)) {
		t.Fatal("stale price must map to false, not an error")
	}
	feed.Set(dec("220000000000"), time.Now())

	// Out of the money.
	feed.Set(dec("200000000000"), time.Now())
	if a.Predicate(ctx, mustEncode(t, decimal.Zero, false)) {
		t.Fatal("out of the money must map to false")
	}
	feed.Set(dec("220000000000"), time.Now())

	// Stop-loss engine failure while enforced.
	gate.err = errors.New("oracle down")
	if a.Predicate(ctx, mustEncode(t, decimal.Zero, true)) {
		t.Fatal("gate failure must map to false")
	}
	// Same failure without enforcement is irrelevant.
	if !a.Predicate(ctx, mustEncode(t, decimal.Zero, false)) {
		t.Fatal("unenforced gate failure must not block")
	}
}

func TestTimeAndCombinedPredicates(t *testing.T) {
	a, feed, gate := newTestAdapter(t)
	ctx := context.Background()

	if a.TimePredicate(time.Now().Add(-time.Second)) {
		t.Fatal("past expiry must fail")
	}
	if !a.TimePredicate(time.Now().Add(time.Hour)) {
		t.Fatal("future expiry must pass")
	}

	future := time.Now().Add(time.Hour)
	if !a.CombinedPredicate(ctx, optionID, stopID, future) {
		t.Fatal("healthy combined predicate should pass")
	}
	if a.CombinedPredicate(ctx, optionID, stopID, time.Now().Add(-time.Second)) {
		t.Fatal("expired combined predicate must fail")
	}
	gate.ok = false
	if a.CombinedPredicate(ctx, optionID, stopID, future) {
		t.Fatal("tripped stop must fail the combined predicate")
	}
	gate.ok = true
	feed.Set(dec("200000000000"), time.Now())
	if a.CombinedPredicate(ctx, optionID, stopID, future) {
		t.Fatal("out of the money must fail the combined predicate")
	}
}

func TestCurrentStatusIgnoresExpiry(t *testing.T) {
	a, _, _ := newTestAdapter(t)
	ctx := context.Background()

	st, err := a.CurrentStatus(ctx, optionID, stopID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !st.CanExecute || !st.StopLossOk {
		t.Fatalf("status = %+v", st)
	}
	if !st.IntrinsicValue.Equal(dec("10000000000")) {
		t.Fatalf("intrinsic = %s", st.IntrinsicValue)
	}
}
