package valuation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"optionguard/internal/auth"
	"optionguard/internal/models"
	"optionguard/internal/oracle"
)

type stubConfigStore struct {
	items map[string]*models.OptionConfig
}

func newStubConfigStore() *stubConfigStore {
	return &stubConfigStore{items: map[string]*models.OptionConfig{}}
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

var (
	testOwner  = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	testCaller = common.HexToAddress("0x00000000000000000000000000000000000000bb")
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func newTestEngine(t *testing.T) (*Engine, *stubConfigStore, *oracle.StaticFeed) {
	t.Helper()
	store := newStubConfigStore()
	feed := oracle.NewStaticFeed(dec("350000000000"), time.Now()) // $3500
	feeds := oracle.NewRegistry()
	feeds.Register("ETH/USD", feed)
	acl := auth.NewAccessList(testOwner)
	if err := acl.SetAuthorizedCaller(testOwner, testCaller, true); err != nil {
		t.Fatalf("authorize caller: %v", err)
	}
	return &Engine{Access: acl, Store: store, Feeds: feeds}, store, feed
}

func callParams() SetConfigParams {
	return SetConfigParams{
		IsCall:      true,
		StrikePrice: dec("300000000000"), // $3000
		Premium:     dec("50000000000000000"),
		Expiration:  time.Now().Add(24 * time.Hour),
		FeedID:      "ETH/USD",
		Multiplier:  1,
	}
}

func TestSetConfigValidation(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	p := callParams()
	p.StrikePrice = decimal.Zero
	if err := e.SetConfig(ctx, testCaller, "opt-1", p); !errors.Is(err, ErrInvalidOptionConfig) {
		t.Fatalf("zero strike: got %v, want ErrInvalidOptionConfig", err)
	}

	p = callParams()
	p.Multiplier = 0
	if err := e.SetConfig(ctx, testCaller, "opt-1", p); !errors.Is(err, ErrInvalidOptionConfig) {
		t.Fatalf("multiplier 0: got %v, want ErrInvalidOptionConfig", err)
	}
	p.Multiplier = 101
	if err := e.SetConfig(ctx, testCaller, "opt-1", p); !errors.Is(err, ErrInvalidOptionConfig) {
		t.Fatalf("multiplier 101: got %v, want ErrInvalidOptionConfig", err)
	}

	p = callParams()
	p.Expiration = time.Now().Add(-time.Minute)
	if err := e.SetConfig(ctx, testCaller, "opt-1", p); !errors.Is(err, ErrInvalidOptionConfig) {
		t.Fatalf("past expiration: got %v, want ErrInvalidOptionConfig", err)
	}

	p = callParams()
	p.FeedID = "DOGE/USD"
	if err := e.SetConfig(ctx, testCaller, "opt-1", p); !errors.Is(err, ErrInvalidOptionConfig) {
		t.Fatalf("unknown feed: got %v, want ErrInvalidOptionConfig", err)
	}

	if err := e.SetConfig(ctx, testCaller, "opt-1", callParams()); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestSetConfigUnauthorized(t *testing.T) {
	e, _, _ := newTestEngine(t)
	stranger := common.HexToAddress("0x00000000000000000000000000000000000000cc")
	if err := e.SetConfig(context.Background(), stranger, "opt-1", callParams()); !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("got %v, want ErrUnauthorized", err)
	}
}

func TestIntrinsicValueCallAndPut(t *testing.T) {
	e, _, feed := newTestEngine(t)
	ctx := context.Background()

	if err := e.SetConfig(ctx, testCaller, "call-1", callParams()); err != nil {
		t.Fatalf("set call config: %v", err)
	}
	put := callParams()
	put.IsCall = false
	put.StrikePrice = dec("400000000000") // $4000
	if err := e.SetConfig(ctx, testCaller, "put-1", put); err != nil {
		t.Fatalf("set put config: %v", err)
	}

	// Price $3500: call strike $3000 pays $500, put strike $4000 pays $500.
	iv, price, err := e.CurrentIntrinsicValue(ctx, "call-1")
	if err != nil {
		t.Fatalf("call intrinsic: %v", err)
	}
	if want := dec("50000000000"); !iv.Equal(want) {
		t.Fatalf("call intrinsic = %s, want %s", iv, want)
	}
	if !price.Equal(dec("350000000000")) {
		t.Fatalf("reported price = %s", price)
	}

	iv, _, err = e.CurrentIntrinsicValue(ctx, "put-1")
	if err != nil {
		t.Fatalf("put intrinsic: %v", err)
	}
	if want := dec("50000000000"); !iv.Equal(want) {
		t.Fatalf("put intrinsic = %s, want %s", iv, want)
	}

	// Out of the money clamps to zero, never negative.
	feed.Set(dec("250000000000"), time.Now()) // $2500
	iv, _, err = e.CurrentIntrinsicValue(ctx, "call-1")
	if err != nil {
		t.Fatalf("otm call intrinsic: %v", err)
	}
	if !iv.IsZero() {
		t.Fatalf("otm call intrinsic = %s, want 0", iv)
	}
}

func TestIsInTheMoneyFloor(t *testing.T) {
	e, _, feed := newTestEngine(t)
	ctx := context.Background()
	if err := e.SetConfig(ctx, testCaller, "call-1", callParams()); err != nil {
		t.Fatalf("set config: %v", err)
	}

	// Intrinsic exactly at the $0.01 floor does not count.
	feed.Set(dec("300000000000").Add(MinValueThreshold), time.Now())
	itm, err := e.IsInTheMoney(ctx, "call-1")
	if err != nil {
		t.Fatalf("itm at floor: %v", err)
	}
	if itm {
		t.Fatal("intrinsic equal to the floor should not be in the money")
	}

	feed.Set(dec("300000000000").Add(MinValueThreshold).Add(decimal.NewFromInt(1)), time.Now())
	itm, err = e.IsInTheMoney(ctx, "call-1")
	if err != nil {
		t.Fatalf("itm above floor: %v", err)
	}
	if !itm {
		t.Fatal("intrinsic one unit above the floor should be in the money")
	}
}

func TestStaleAndInvalidPrice(t *testing.T) {
	e, _, feed := newTestEngine(t)
	ctx := context.Background()
	if err := e.SetConfig(ctx, testCaller, "call-1", callParams()); err != nil {
		t.Fatalf("set config: %v", err)
	}

	feed.Set(dec("350000000000"), time.Now().Add(-MaxPriceAge-time.Second))
	if _, _, err := e.CurrentIntrinsicValue(ctx, "call-1"); !errors.Is(err, ErrStalePrice) {
		t.Fatalf("stale price: got %v, want ErrStalePrice", err)
	}

	feed.Set(decimal.Zero, time.Now())
	if _, _, err := e.CurrentIntrinsicValue(ctx, "call-1"); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("zero price: got %v, want ErrInvalidPrice", err)
	}

	feedErr := errors.New("feed down")
	feed.Fail(feedErr)
	if _, _, err := e.CurrentIntrinsicValue(ctx, "call-1"); !errors.Is(err, feedErr) {
		t.Fatalf("feed failure: got %v, want wrapped feed error", err)
	}
}

func TestMakingAmountForInTheMoney(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	p := callParams()
	p.Multiplier = 2
	if err := e.SetConfig(ctx, testCaller, "call-1", p); err != nil {
		t.Fatalf("set config: %v", err)
	}

	// Price $3500, strike $3000, intrinsic 500e8, multiplier 2.
	// making = taking * 500e8 * 2 / (3000e8 * 100)
	taking := dec("1000000000000000000") // 1e18
	making, err := e.MakingAmountFor(ctx, testCaller, "call-1", taking)
	if err != nil {
		t.Fatalf("making amount: %v", err)
	}
	if want := dec("3333333333333333"); !making.Equal(want) {
		t.Fatalf("making = %s, want %s", making, want)
	}
}

func TestMakingAmountForTruncates(t *testing.T) {
	e, _, feed := newTestEngine(t)
	ctx := context.Background()
	if err := e.SetConfig(ctx, testCaller, "call-1", callParams()); err != nil {
		t.Fatalf("set config: %v", err)
	}

	// 7 * intrinsic / (strike*100) leaves a remainder; the quotient must be
	// truncated toward zero, never rounded.
	feed.Set(dec("300001000001"), time.Now()) // intrinsic 1000001 units
	making, err := e.MakingAmountFor(ctx, testCaller, "call-1", dec("7"))
	if err != nil {
		t.Fatalf("making amount: %v", err)
	}
	// 7 * 1000001 * 1 / 30000000000000 = 0 (truncated)
	if !making.IsZero() {
		t.Fatalf("making = %s, want 0 from truncation", making)
	}
}

func TestMakingAmountForPremiumFallback(t *testing.T) {
	e, _, feed := newTestEngine(t)
	ctx := context.Background()
	if err := e.SetConfig(ctx, testCaller, "call-1", callParams()); err != nil {
		t.Fatalf("set config: %v", err)
	}

	feed.Set(dec("250000000000"), time.Now()) // out of the money
	taking := dec("2000000000000000000")      // 2e18
	making, err := e.MakingAmountFor(ctx, testCaller, "call-1", taking)
	if err != nil {
		t.Fatalf("making amount: %v", err)
	}
	// 2e18 * 0.05e18 / 1e18 = 0.1e18
	if want := dec("100000000000000000"); !making.Equal(want) {
		t.Fatalf("making = %s, want %s", making, want)
	}
}

func TestTakingAmountForRoundTripLoss(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	if err := e.SetConfig(ctx, testCaller, "call-1", callParams()); err != nil {
		t.Fatalf("set config: %v", err)
	}

	// taking = making * strike * 100 / intrinsic; price $3500, strike $3000.
	making := dec("1000000000000000") // 0.001e18
	taking, err := e.TakingAmountFor(ctx, testCaller, "call-1", making)
	if err != nil {
		t.Fatalf("taking amount: %v", err)
	}
	if want := dec("600000000000000000"); !taking.Equal(want) {
		t.Fatalf("taking = %s, want %s", taking, want)
	}

	// Round-tripping through both getters only ever loses value.
	back, err := e.MakingAmountFor(ctx, testCaller, "call-1", taking)
	if err != nil {
		t.Fatalf("round trip: %v", err)
	}
	if back.GreaterThan(making) {
		t.Fatalf("round trip gained value: %s -> %s", making, back)
	}
}

func TestAmountGettersRejectExpiredAndInactive(t *testing.T) {
	e, store, _ := newTestEngine(t)
	ctx := context.Background()
	if err := e.SetConfig(ctx, testCaller, "call-1", callParams()); err != nil {
		t.Fatalf("set config: %v", err)
	}

	item := store.items["call-1"]
	item.Expiration = time.Now().Add(-time.Minute)
	if _, err := e.MakingAmountFor(ctx, testCaller, "call-1", dec("1")); !errors.Is(err, ErrOptionExpired) {
		t.Fatalf("expired: got %v, want ErrOptionExpired", err)
	}

	item.Expiration = time.Now().Add(time.Hour)
	item.IsActive = false
	if _, err := e.MakingAmountFor(ctx, testCaller, "call-1", dec("1")); !errors.Is(err, ErrConfigInactive) {
		t.Fatalf("inactive: got %v, want ErrConfigInactive", err)
	}
	if _, err := e.TakingAmountFor(ctx, testCaller, "call-1", dec("1")); !errors.Is(err, ErrConfigInactive) {
		t.Fatalf("inactive taking: got %v, want ErrConfigInactive", err)
	}
}

func TestDeactivateIdempotent(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	if err := e.SetConfig(ctx, testCaller, "call-1", callParams()); err != nil {
		t.Fatalf("set config: %v", err)
	}
	if err := e.Deactivate(ctx, testCaller, "call-1"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if err := e.Deactivate(ctx, testCaller, "call-1"); err != nil {
		t.Fatalf("second deactivate: %v", err)
	}
	if err := e.Deactivate(ctx, testCaller, "missing"); err != nil {
		t.Fatalf("deactivate missing: %v", err)
	}
	if _, _, err := e.CurrentIntrinsicValue(ctx, "call-1"); !errors.Is(err, ErrConfigInactive) {
		t.Fatalf("after deactivate: got %v, want ErrConfigInactive", err)
	}
}
