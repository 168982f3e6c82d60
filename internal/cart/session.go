package cart

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"Storefront/internal/diskcache"
	"Storefront/internal/wp"
)

// StoreAPI is the slice of the WooCommerce Store API the cart needs.
type StoreAPI interface {
	Cart(ctx context.Context, token string) (wp.CartResponse, string, error)
	AddItem(ctx context.Context, token string, productID, variationID, quantity int) (wp.CartResponse, string, error)
	UpdateItem(ctx context.Context, token, key string, quantity int) (wp.CartResponse, string, error)
	RemoveItem(ctx context.Context, token, key string) (wp.CartResponse, string, error)
	ApplyCoupon(ctx context.Context, token, code string) (wp.CartResponse, string, error)
	RemoveCoupon(ctx context.Context, token, code string) (wp.CartResponse, string, error)
}

const (
	// loadRetries is the number of backed-off retries after the initial
	// fetch, so a full load makes loadRetries+1 calls with sleeps of
	// 1s, 2s and 4s between them.
	loadRetries   = 3
	persistExpiry = 30 * 24 * time.Hour
)

func defaultBackoff(attempt int) time.Duration {
	return time.Duration(1<<attempt) * time.Second // 1s, 2s, 4s
}

// AddRequest describes a line to add. Name, Price and Image come from the
// catalog and seed the optimistic line before the origin answers.
type AddRequest struct {
	ProductID   int
	VariationID int
	Quantity    int
	Name        string
	Price       float64
	Image       string
}

// Session holds one identity's cart. All mutations run through a FIFO queue
// so the single remote cart token never sees racing writes. The token is
// scoped to this session's owner and is never handed to another identity.
type Session struct {
	owner   string
	api     StoreAPI
	store   *diskcache.Store
	log     *zap.Logger
	queue   *Queue
	backoff func(attempt int) time.Duration

	mu    sync.Mutex
	state State
}

func newSession(owner string, api StoreAPI, store *diskcache.Store, log *zap.Logger, backoff func(int) time.Duration) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	if backoff == nil {
		backoff = defaultBackoff
	}
	return &Session{
		owner:   owner,
		api:     api,
		store:   store,
		log:     log.With(zap.String("cart", owner)),
		queue:   NewQueue(),
		backoff: backoff,
	}
}

func (s *Session) Close() { s.queue.Close() }

// Snapshot returns a copy of the current state safe to hand out.
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyStateLocked()
}

func (s *Session) copyStateLocked() State {
	st := s.state
	st.Items = append([]Item(nil), s.state.Items...)
	st.AppliedCoupons = append([]Coupon(nil), s.state.AppliedCoupons...)
	st.Loading = make(map[string]bool, len(s.state.Loading))
	for k, v := range s.state.Loading {
		st.Loading[k] = v
	}
	return st
}

func (s *Session) setLoading(op string, v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Loading == nil {
		s.state.Loading = make(map[string]bool)
	}
	s.state.Loading[op] = v
}

func (s *Session) persistKey() string { return "cart-" + s.owner }

func (s *Session) persist() {
	if s.store == nil {
		return
	}
	s.mu.Lock()
	st := s.copyStateLocked()
	s.mu.Unlock()
	st.Loading = nil

	if err := s.store.SetWithExpiry(s.persistKey(), st, persistExpiry); err != nil {
		s.log.Warn("persist cart failed", zap.Error(err))
	}
}

// applyRemote rebuilds local state from an origin cart response. Local-only
// lines are not known to the origin and survive the rebuild.
func (s *Session) applyRemote(resp wp.CartResponse, token string) {
	items, coupons, totals := fromResponse(resp)

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, it := range s.state.Items {
		if it.LocalOnly {
			items = append(items, it)
			totals.Subtotal += it.LineTotal
			totals.Total += it.LineTotal
		}
	}
	s.state.Items = items
	s.state.AppliedCoupons = coupons
	s.state.Totals = totals
	if token != "" {
		s.state.CartToken = token
	}
}

func fromResponse(resp wp.CartResponse) ([]Item, []Coupon, Totals) {
	items := make([]Item, 0, len(resp.Items))
	for _, it := range resp.Items {
		image := ""
		if len(it.Images) > 0 {
			image = it.Images[0].Src
		}
		items = append(items, Item{
			Key:       it.Key,
			ProductID: it.ID,
			Name:      it.Name,
			Price:     minorToMajor(it.Prices.Price, it.Prices.CurrencyMinorUnit),
			Quantity:  it.Quantity,
			LineTotal: minorToMajor(it.Totals.LineTotal, it.Totals.CurrencyMinorUnit),
			Image:     image,
		})
	}

	coupons := make([]Coupon, 0, len(resp.Coupons))
	for _, c := range resp.Coupons {
		coupons = append(coupons, Coupon{
			Code:          c.Code,
			DiscountType:  c.DiscountType,
			DiscountTotal: minorToMajor(c.Totals.TotalDiscount, c.Totals.CurrencyMinorUnit),
			DiscountTax:   minorToMajor(c.Totals.TotalDiscountTax, c.Totals.CurrencyMinorUnit),
		})
	}

	unit := resp.Totals.CurrencyMinorUnit
	totals := Totals{
		Subtotal:      minorToMajor(resp.Totals.TotalItems, unit),
		DiscountTotal: discountTotal(resp),
		TaxTotal:      minorToMajor(resp.Totals.TotalTax, unit),
		ShippingTotal: minorToMajor(resp.Totals.TotalShipping, unit),
		Total:         minorToMajor(resp.Totals.TotalPrice, unit),
	}
	return items, coupons, totals
}

// recomputeLocalTotals rebuilds totals from local lines. Used when the origin
// is out of the loop, so discount, tax and shipping are carried as-is.
func (s *Session) recomputeLocalTotals() {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &s.state.Totals
	t.Subtotal = 0
	for i := range s.state.Items {
		it := &s.state.Items[i]
		it.LineTotal = it.Price * float64(it.Quantity)
		t.Subtotal += it.LineTotal
	}
	t.Total = t.Subtotal - t.DiscountTotal + t.TaxTotal + t.ShippingTotal
}

func (s *Session) token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.CartToken
}

// EnsureLoaded hydrates the session once; later calls are no-ops.
func (s *Session) EnsureLoaded(ctx context.Context) error {
	s.mu.Lock()
	hydrated := s.state.IsHydrated
	s.mu.Unlock()
	if hydrated {
		return nil
	}
	return s.Load(ctx)
}

// Load fetches the remote cart with capped backoff. After the attempts are
// exhausted it falls back to the persisted local copy, or an empty cart, and
// still reports hydrated so callers never wait on the origin forever. The
// connectivity error is returned alongside the fallback.
func (s *Session) Load(ctx context.Context) error {
	return s.queue.Do(ctx, s.load)
}

func (s *Session) load(ctx context.Context) error {
	s.setLoading("load", true)
	defer s.setLoading("load", false)

	// an evicted session or an earlier process may have left a token
	// behind; resuming it keeps the same remote cart instead of minting
	// a fresh one
	if s.token() == "" && s.store != nil {
		var saved State
		if s.store.Peek(s.persistKey(), &saved) && saved.CartToken != "" {
			s.mu.Lock()
			s.state.CartToken = saved.CartToken
			s.mu.Unlock()
		}
	}

	var lastErr error
	for attempt := 0; attempt <= loadRetries; attempt++ {
		resp, token, err := s.api.Cart(ctx, s.token())
		if err == nil {
			s.applyRemote(resp, token)
			s.mu.Lock()
			s.state.IsHydrated = true
			s.state.RetryCount = attempt
			s.mu.Unlock()
			s.persist()
			return nil
		}
		lastErr = err
		s.mu.Lock()
		s.state.RetryCount = attempt + 1
		s.mu.Unlock()

		if attempt < loadRetries {
			select {
			case <-time.After(s.backoff(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	s.log.Warn("cart load failed, falling back to local copy", zap.Error(lastErr))

	var saved State
	restored := s.store != nil && s.store.Peek(s.persistKey(), &saved)

	s.mu.Lock()
	if restored {
		s.state.Items = saved.Items
		s.state.AppliedCoupons = saved.AppliedCoupons
		s.state.Totals = saved.Totals
		s.state.CartToken = saved.CartToken
		s.state.NeedsSync = true
	}
	s.state.IsHydrated = true
	s.mu.Unlock()

	return fmt.Errorf("cart unreachable: %w", lastErr)
}

// AddItem appends or increments a line optimistically, then reconciles with
// the origin. A successful add is always followed by a full refetch because
// the add response alone does not carry recalculated totals and coupons.
// When the Store API is gone entirely the line stays as a local-only entry.
func (s *Session) AddItem(ctx context.Context, req AddRequest) error {
	if req.Quantity <= 0 {
		req.Quantity = 1
	}
	return s.queue.Do(ctx, func(ctx context.Context) error { return s.addItem(ctx, req) })
}

func (s *Session) addItem(ctx context.Context, req AddRequest) error {
	s.setLoading("add", true)
	defer s.setLoading("add", false)

	s.mu.Lock()
	prev := s.copyStateLocked()
	localKey := ""
	found := false
	for i := range s.state.Items {
		if s.state.Items[i].ProductID == req.ProductID && !s.state.Items[i].LocalOnly {
			s.state.Items[i].Quantity += req.Quantity
			found = true
			break
		}
	}
	if !found {
		localKey = "local_" + uuid.NewString()
		s.state.Items = append(s.state.Items, Item{
			Key:       localKey,
			ProductID: req.ProductID,
			Name:      req.Name,
			Price:     req.Price,
			Quantity:  req.Quantity,
			Image:     req.Image,
		})
	}
	s.mu.Unlock()
	s.recomputeLocalTotals()

	_, token, err := s.api.AddItem(ctx, s.token(), req.ProductID, req.VariationID, req.Quantity)
	if err == nil {
		full, token2, ferr := s.api.Cart(ctx, token)
		if ferr != nil {
			s.log.Warn("refetch after add failed", zap.Error(ferr))
			s.restore(prev)
			return ferr
		}
		s.applyRemote(full, token2)
		s.persist()
		return nil
	}

	if errors.Is(err, wp.ErrStoreUnavailable) {
		s.log.Warn("store api unavailable, keeping item local-only", zap.Int("product_id", req.ProductID))
		s.mu.Lock()
		for i := range s.state.Items {
			if s.state.Items[i].Key == localKey || (localKey == "" && s.state.Items[i].ProductID == req.ProductID) {
				s.state.Items[i].LocalOnly = true
			}
		}
		s.state.LocalOnly = true
		s.state.NeedsSync = true
		s.mu.Unlock()
		s.persist()
		return nil
	}

	s.restore(prev)
	return fmt.Errorf("add item %d: %w", req.ProductID, err)
}

func (s *Session) restore(prev State) {
	s.mu.Lock()
	s.state = prev
	s.mu.Unlock()
}

// UpdateItem sets a line's quantity. Zero or negative removes the line.
func (s *Session) UpdateItem(ctx context.Context, key string, quantity int) error {
	if quantity <= 0 {
		return s.RemoveItem(ctx, key)
	}
	return s.queue.Do(ctx, func(ctx context.Context) error { return s.updateItem(ctx, key, quantity) })
}

func (s *Session) updateItem(ctx context.Context, key string, quantity int) error {
	s.setLoading("update", true)
	defer s.setLoading("update", false)

	s.mu.Lock()
	prev := s.copyStateLocked()
	target, ok := s.state.item(key)
	if ok {
		for i := range s.state.Items {
			if s.state.Items[i].Key == key {
				s.state.Items[i].Quantity = quantity
			}
		}
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("no cart line %q", key)
	}
	s.recomputeLocalTotals()

	if target.LocalOnly {
		s.persist()
		return nil
	}

	resp, token, err := s.api.UpdateItem(ctx, s.token(), key, quantity)
	if err != nil {
		s.restore(prev)
		return fmt.Errorf("update item %q: %w", key, err)
	}
	s.applyRemote(resp, token)
	s.persist()
	return nil
}

// RemoveItem drops a line optimistically and reconciles with the origin,
// rolling back on failure.
func (s *Session) RemoveItem(ctx context.Context, key string) error {
	return s.queue.Do(ctx, func(ctx context.Context) error { return s.removeItem(ctx, key) })
}

func (s *Session) removeItem(ctx context.Context, key string) error {
	s.setLoading("remove", true)
	defer s.setLoading("remove", false)

	s.mu.Lock()
	prev := s.copyStateLocked()
	target, ok := s.state.item(key)
	if ok {
		kept := s.state.Items[:0]
		for _, it := range s.state.Items {
			if it.Key != key {
				kept = append(kept, it)
			}
		}
		s.state.Items = kept
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("no cart line %q", key)
	}
	s.recomputeLocalTotals()

	if target.LocalOnly {
		s.persist()
		return nil
	}

	resp, token, err := s.api.RemoveItem(ctx, s.token(), key)
	if err != nil {
		s.restore(prev)
		return fmt.Errorf("remove item %q: %w", key, err)
	}
	s.applyRemote(resp, token)
	s.persist()
	return nil
}

// Clear empties the cart. The Store API has no bulk clear so the remote side
// is drained line by line; local state is wiped and the token invalidated no
// matter how the remote calls went, with NeedsSync flagging the divergence.
func (s *Session) Clear(ctx context.Context) error {
	return s.queue.Do(ctx, s.clear)
}

func (s *Session) clear(ctx context.Context) error {
	s.setLoading("clear", true)
	defer s.setLoading("clear", false)

	token := s.token()
	if token != "" {
		remote, tok, err := s.api.Cart(ctx, token)
		if err != nil {
			s.log.Warn("clear: remote cart fetch failed", zap.Error(err))
		} else {
			for _, it := range remote.Items {
				if _, tok2, rerr := s.api.RemoveItem(ctx, tok, it.Key); rerr != nil {
					s.log.Warn("clear: remove failed", zap.String("key", it.Key), zap.Error(rerr))
				} else {
					tok = tok2
				}
			}
		}
	}

	s.mu.Lock()
	s.state.Items = nil
	s.state.AppliedCoupons = nil
	s.state.Totals = Totals{}
	s.state.CartToken = ""
	s.state.NeedsSync = true
	s.state.LocalOnly = false
	s.mu.Unlock()
	s.persist()
	return nil
}

// ApplyCoupon applies a code, rejecting duplicates before any remote call.
func (s *Session) ApplyCoupon(ctx context.Context, code string) error {
	return s.queue.Do(ctx, func(ctx context.Context) error { return s.applyCoupon(ctx, code) })
}

func (s *Session) applyCoupon(ctx context.Context, code string) error {
	s.setLoading("coupon", true)
	defer s.setLoading("coupon", false)

	s.mu.Lock()
	dup := false
	for _, c := range s.state.AppliedCoupons {
		if c.Code == code {
			dup = true
			break
		}
	}
	s.mu.Unlock()
	if dup {
		return &CouponError{
			Code:    "woocommerce_rest_cart_coupon_already_applied",
			Message: couponMessages["woocommerce_rest_cart_coupon_already_applied"],
		}
	}

	resp, token, err := s.api.ApplyCoupon(ctx, s.token(), code)
	if err != nil {
		return couponError(code, err)
	}
	s.applyRemote(resp, token)
	s.persist()
	return nil
}

// RemoveCoupon verifies against the live remote cart first. When the coupon
// is already gone server-side the remote remove is skipped and the server's
// state is adopted as-is, since removing a nonexistent coupon can itself fail.
func (s *Session) RemoveCoupon(ctx context.Context, code string) error {
	return s.queue.Do(ctx, func(ctx context.Context) error { return s.removeCoupon(ctx, code) })
}

func (s *Session) removeCoupon(ctx context.Context, code string) error {
	s.setLoading("coupon", true)
	defer s.setLoading("coupon", false)

	token := s.token()
	current, tok, err := s.api.Cart(ctx, token)
	if err == nil {
		present := false
		for _, c := range current.Coupons {
			if c.Code == code {
				present = true
				break
			}
		}
		if !present {
			s.applyRemote(current, tok)
			s.persist()
			return nil
		}
		token = tok
	}

	resp, tok, err := s.api.RemoveCoupon(ctx, token, code)
	if err != nil {
		return couponError(code, err)
	}
	s.applyRemote(resp, tok)
	s.persist()
	return nil
}

// Sync replays local lines against the origin and refetches. It repairs the
// divergence flagged by NeedsSync after clears or local-only operation.
func (s *Session) Sync(ctx context.Context) error {
	return s.queue.Do(ctx, s.sync)
}

func (s *Session) sync(ctx context.Context) error {
	s.mu.Lock()
	needed := s.state.NeedsSync
	items := append([]Item(nil), s.state.Items...)
	s.mu.Unlock()
	if !needed {
		return nil
	}

	s.setLoading("sync", true)
	defer s.setLoading("sync", false)

	// an initial fetch mints a token when none survives
	_, token, err := s.api.Cart(ctx, s.token())
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}

	for _, it := range items {
		if _, tok, aerr := s.api.AddItem(ctx, token, it.ProductID, 0, it.Quantity); aerr != nil {
			return fmt.Errorf("sync: re-add %d: %w", it.ProductID, aerr)
		} else if tok != "" {
			token = tok
		}
	}

	full, tok, err := s.api.Cart(ctx, token)
	if err != nil {
		return fmt.Errorf("sync: refetch: %w", err)
	}

	s.mu.Lock()
	for i := range s.state.Items {
		s.state.Items[i].LocalOnly = false
	}
	s.mu.Unlock()
	s.applyRemote(full, tok)
	s.mu.Lock()
	s.state.NeedsSync = false
	s.state.LocalOnly = false
	s.mu.Unlock()
	s.persist()
	return nil
}
